package service

import "estate-smart-go/internal/config"

// Surfaces 汇总三个问答入口。
type Surfaces struct {
	Listing Surface
	Generic Surface
	Agent   Surface
}

// NewSurfaces 根据配置组装三个入口：
// 房源入口逐条描述，通用入口合并回答，助手入口返回结构化动作。
// 三个入口都先校验积分；房源与通用入口还要经过领域判定。
func NewSurfaces(cfg config.Config, listing, digest, agent Composer) Surfaces {
	return Surfaces{
		Listing: Surface{
			Name:           "listing",
			TopK:           cfg.Retrieval.ListingTopK,
			RelevanceGate:  true,
			CreditGated:    true,
			Composer:       listing,
			HistorySummary: cfg.Messages.ResultsSent,
		},
		Generic: Surface{
			Name:          "generic",
			TopK:          cfg.Retrieval.GenericTopK,
			RelevanceGate: true,
			CreditGated:   true,
			Composer:      digest,
		},
		Agent: Surface{
			Name:        "agent",
			TopK:        cfg.Retrieval.AgentTopK,
			CreditGated: true,
			Composer:    agent,
		},
	}
}

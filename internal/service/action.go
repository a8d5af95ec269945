package service

import (
	"encoding/json"
	"strings"
	"unicode"
)

// 助手入口可能给出的后续动作。
const (
	ActionNone            = "none"
	ActionPrepareDocument = "prepare_document"
	ActionPropertySearch  = "property_search"
	ActionAddProperty     = "add_property"
	ActionAddClient       = "add_client"
)

var knownActions = map[string]bool{
	ActionNone:            true,
	ActionPrepareDocument: true,
	ActionPropertySearch:  true,
	ActionAddProperty:     true,
	ActionAddClient:       true,
}

type agentAnswer struct {
	Reply  string `json:"reply"`
	Action string `json:"action"`
}

// ParseAgentAction 解析模型返回的 {"reply","action"}。
// 不是合法 JSON 时把原文当作回复，并按关键短语推断动作。
func ParseAgentAction(raw string) (reply, action string) {
	trimmed := strings.TrimSpace(raw)
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(trimmed, "```")
	trimmed = strings.TrimSpace(trimmed)

	var ans agentAnswer
	if err := json.Unmarshal([]byte(trimmed), &ans); err == nil && strings.TrimSpace(ans.Reply) != "" {
		action = strings.ToLower(strings.TrimSpace(ans.Action))
		if !knownActions[action] {
			action = ActionNone
		}
		return strings.TrimSpace(ans.Reply), action
	}

	lower := strings.ToLower(raw)
	switch {
	case strings.Contains(lower, "prepare a document"):
		action = ActionPrepareDocument
	case strings.Contains(lower, "search for properties"):
		action = ActionPropertySearch
	default:
		action = ActionNone
	}
	return strings.TrimSpace(raw), action
}

// 关键词意图，按顺序匹配，先命中者优先。
var intentKeywords = []struct {
	intent string
	words  []string
}{
	{"prepare_document", []string{"document", "prepare", "contract"}},
	{"client_onboarding", []string{"onboard", "new", "client"}},
	{"property_search", []string{"search", "find", "property"}},
	{"market_analysis", []string{"market", "analysis", "trend"}},
	{"client_info", []string{"client", "info", "information"}},
}

// ClassifyIntent 用关键词给助手消息打标签，只用于日志与消息记录。
func ClassifyIntent(text string) string {
	tokens := make(map[string]bool)
	for _, t := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		tokens[t] = true
		// 简单的复数还原
		if len(t) > 3 && strings.HasSuffix(t, "ies") {
			tokens[strings.TrimSuffix(t, "ies")+"y"] = true
		} else if len(t) > 3 && strings.HasSuffix(t, "s") {
			tokens[strings.TrimSuffix(t, "s")] = true
		}
	}
	for _, k := range intentKeywords {
		for _, w := range k.words {
			if tokens[w] {
				return k.intent
			}
		}
	}
	return "general_query"
}

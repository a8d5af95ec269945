package handler

import (
	"strconv"

	"estate-smart-go/internal/config"
	"estate-smart-go/internal/service"
	"estate-smart-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// SearchHandler 直接暴露检索结果，供管理员排查索引质量，不经过领域判定与积分。
type SearchHandler struct {
	retriever service.Retriever
	msgs      config.MessagesConfig
}

// NewSearchHandler 创建一个新的 SearchHandler 实例。
func NewSearchHandler(retriever service.Retriever, msgs config.MessagesConfig) *SearchHandler {
	return &SearchHandler{retriever: retriever, msgs: msgs}
}

// SearchListings 处理 GET /admin/search?query=...&topK=...
func (h *SearchHandler) SearchListings(c *gin.Context) {
	query := c.Query("query")
	log.Infof("[SearchHandler] 收到检索请求, query: %s", query)

	if query == "" {
		log.Warnf("[SearchHandler] 检索请求失败: query 参数为空")
		respondBadRequest(c, "无效的查询参数")
		return
	}
	topK, err := strconv.Atoi(c.DefaultQuery("topK", "0"))
	if err != nil || topK < 0 {
		topK = 0
	}

	results, err := h.retriever.Retrieve(c.Request.Context(), query, topK)
	if err != nil {
		respondError(c, h.msgs, err)
		return
	}

	log.Infof("[SearchHandler] 检索成功, query: '%s', 返回 %d 条结果", query, len(results))
	respondOK(c, "success", results)
}

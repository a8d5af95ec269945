package handler

import (
	"context"
	"net/http"
	"strconv"

	"estate-smart-go/internal/config"
	"estate-smart-go/internal/service"
	"estate-smart-go/pkg/log"
	"estate-smart-go/pkg/tasks"

	"github.com/gin-gonic/gin"
)

// TaskPublisher 投递一个房源同步任务。启用 Kafka 时是生产者，否则直接同步处理。
type TaskPublisher func(ctx context.Context, task tasks.ListingSyncTask) error

// IndexBootstrapper 是 service.Bootstrapper 中管理接口用到的部分。
type IndexBootstrapper interface {
	Bootstrap(ctx context.Context) (*service.BootstrapReport, error)
}

// AdminHandler 负责所有与管理员相关的 API 请求。
type AdminHandler struct {
	publish        TaskPublisher
	bootstrapper   IndexBootstrapper
	accountService service.AccountService
	msgs           config.MessagesConfig
}

// NewAdminHandler 创建一个新的 AdminHandler 实例。
func NewAdminHandler(publish TaskPublisher, bootstrapper IndexBootstrapper, accountService service.AccountService, msgs config.MessagesConfig) *AdminHandler {
	return &AdminHandler{
		publish:        publish,
		bootstrapper:   bootstrapper,
		accountService: accountService,
		msgs:           msgs,
	}
}

// SyncRequest 指定 MinIO 中的快照对象。
type SyncRequest struct {
	ObjectName string `json:"object_name" binding:"required"`
	Source     string `json:"source"`
}

// SyncListings 投递一个房源同步任务。
func (h *AdminHandler) SyncListings(c *gin.Context) {
	var req SyncRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Warnf("SyncListings: Invalid request payload, error: %v", err)
		respondBadRequest(c, "无效的请求负载：object_name 不能为空")
		return
	}
	if req.Source == "" {
		req.Source = "admin"
	}

	task := tasks.NewListingSyncTask(req.ObjectName, req.Source)
	if err := h.publish(c.Request.Context(), task); err != nil {
		log.Errorf("SyncListings: 投递同步任务失败, object: %s, error: %v", req.ObjectName, err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"code": http.StatusServiceUnavailable, "message": "投递同步任务失败", "data": nil})
		return
	}
	log.Infof("SyncListings: 同步任务已投递, TaskID: %s, object: %s", task.TaskID, task.ObjectName)
	c.JSON(http.StatusAccepted, gin.H{"code": http.StatusAccepted, "message": "accepted", "data": task})
}

// BootstrapIndex 重新执行启动建索引。集合已存在时不做任何写入。
func (h *AdminHandler) BootstrapIndex(c *gin.Context) {
	report, err := h.bootstrapper.Bootstrap(c.Request.Context())
	if err != nil {
		respondError(c, h.msgs, err)
		return
	}
	respondOK(c, "success", gin.H{
		"skipped":  report.Skipped,
		"listings": report.Listings,
		"upserts":  report.Upserts,
		"elapsed":  report.Elapsed.String(),
	})
}

// GetUserProfile 查看任意用户的积分与推荐人。
func (h *AdminHandler) GetUserProfile(c *gin.Context) {
	userID, err := strconv.ParseInt(c.Param("userId"), 10, 64)
	if err != nil {
		respondBadRequest(c, "无效的用户 ID")
		return
	}
	account, err := h.accountService.Profile(c.Request.Context(), userID)
	if err != nil {
		respondError(c, h.msgs, err)
		return
	}
	respondOK(c, "success", account)
}

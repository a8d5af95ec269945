package repository

import (
	"context"

	"estate-smart-go/internal/model"

	"gorm.io/gorm"
)

// AgentRepository 是经纪人助手入口的 CRUD 数据访问。
type AgentRepository interface {
	CreateProperty(ctx context.Context, p *model.Property) error
	ListProperties(ctx context.Context, agentID int64) ([]model.Property, error)
	CreateClient(ctx context.Context, c *model.Client) error
	ListClients(ctx context.Context, agentID int64) ([]model.Client, error)
	AddMessage(ctx context.Context, m *model.AgentMessage) error
	// RecentMessages 返回最近 limit 条消息，按时间从旧到新。
	RecentMessages(ctx context.Context, agentID int64, limit int) ([]model.AgentMessage, error)
}

type agentRepository struct {
	db *gorm.DB
}

// NewAgentRepository 创建一个新的 AgentRepository 实例。
func NewAgentRepository(db *gorm.DB) AgentRepository {
	return &agentRepository{db: db}
}

func (r *agentRepository) CreateProperty(ctx context.Context, p *model.Property) error {
	return r.db.WithContext(ctx).Create(p).Error
}

func (r *agentRepository) ListProperties(ctx context.Context, agentID int64) ([]model.Property, error) {
	var props []model.Property
	err := r.db.WithContext(ctx).Where("agent_id = ?", agentID).Order("id ASC").Find(&props).Error
	return props, err
}

func (r *agentRepository) CreateClient(ctx context.Context, c *model.Client) error {
	return r.db.WithContext(ctx).Create(c).Error
}

func (r *agentRepository) ListClients(ctx context.Context, agentID int64) ([]model.Client, error) {
	var clients []model.Client
	err := r.db.WithContext(ctx).Where("agent_id = ?", agentID).Order("id ASC").Find(&clients).Error
	return clients, err
}

func (r *agentRepository) AddMessage(ctx context.Context, m *model.AgentMessage) error {
	return r.db.WithContext(ctx).Create(m).Error
}

func (r *agentRepository) RecentMessages(ctx context.Context, agentID int64, limit int) ([]model.AgentMessage, error) {
	var msgs []model.AgentMessage
	err := r.db.WithContext(ctx).
		Where("agent_id = ?", agentID).
		Order("id DESC").
		Limit(limit).
		Find(&msgs).Error
	if err != nil {
		return nil, err
	}
	// 倒序取出后翻转为从旧到新
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

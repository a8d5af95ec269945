package model

import "time"

// Property 是经纪人手动录入的房源。
type Property struct {
	ID          uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	Address     string    `gorm:"type:varchar(512);not null" json:"address"`
	Price       float64   `gorm:"not null" json:"price"`
	Bedrooms    int       `json:"bedrooms"`
	Bathrooms   int       `json:"bathrooms"`
	SquareFeet  float64   `json:"square_feet"`
	Description string    `gorm:"type:text" json:"description"`
	AgentID     int64     `gorm:"index;not null" json:"agent_id"`
	CreatedAt   time.Time `json:"created_at"`
}

func (Property) TableName() string {
	return "properties"
}

// Client 是经纪人的客户。
type Client struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	Name      string    `gorm:"type:varchar(255);not null" json:"name"`
	Email     string    `gorm:"type:varchar(255)" json:"email"`
	Phone     string    `gorm:"type:varchar(64)" json:"phone"`
	AgentID   int64     `gorm:"index;not null" json:"agent_id"`
	CreatedAt time.Time `json:"created_at"`
}

func (Client) TableName() string {
	return "clients"
}

// AgentMessage 记录经纪人与助手之间的每条消息。
type AgentMessage struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	AgentID   int64     `gorm:"index;not null" json:"agent_id"`
	Content   string    `gorm:"type:text;not null" json:"content"`
	Sender    string    `gorm:"type:varchar(16);not null" json:"sender"` // agent 或 assistant
	Intent    string    `gorm:"type:varchar(32)" json:"intent,omitempty"`
	Timestamp time.Time `gorm:"autoCreateTime" json:"timestamp"`
}

func (AgentMessage) TableName() string {
	return "agent_messages"
}

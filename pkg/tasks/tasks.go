// Package tasks 定义了投递到 Kafka 的任务结构。
package tasks

import (
	"time"

	"github.com/google/uuid"
)

// ListingSyncTask 让消费者导入一个房源快照对象。
// 快照是爬虫生成并存放在 MinIO 中的 JSON Lines 文件。
type ListingSyncTask struct {
	TaskID      string    `json:"task_id"`
	ObjectName  string    `json:"object_name"`
	Source      string    `json:"source"`
	RequestedAt time.Time `json:"requested_at"`
}

// NewListingSyncTask 生成一个带新 ID 的任务。
func NewListingSyncTask(objectName, source string) ListingSyncTask {
	return ListingSyncTask{
		TaskID:      uuid.NewString(),
		ObjectName:  objectName,
		Source:      source,
		RequestedAt: time.Now().UTC(),
	}
}

// Package kafka 提供了与 Kafka 消息队列交互的功能。
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"estate-smart-go/internal/config"
	"estate-smart-go/pkg/log"
	"estate-smart-go/pkg/tasks"

	"github.com/go-redis/redis/v8"
	"github.com/segmentio/kafka-go"
)

// maxAttempts 同一任务最多处理的次数，达到后提交 offset 放弃。
const maxAttempts = 3

// TaskProcessor defines the interface for any service that can process a task.
// This decouples the Kafka consumer from the concrete pipeline implementation.
type TaskProcessor interface {
	Process(ctx context.Context, task tasks.ListingSyncTask) error
}

var producer *kafka.Writer

func brokerList(cfg config.KafkaConfig) []string {
	var out []string
	for _, b := range strings.Split(cfg.Brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

// InitProducer 初始化 Kafka 生产者。
func InitProducer(cfg config.KafkaConfig) {
	producer = &kafka.Writer{
		Addr:                   kafka.TCP(brokerList(cfg)...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.LeastBytes{},
		AllowAutoTopicCreation: true,
	}
	log.Info("Kafka 生产者初始化成功")
}

// ProduceListingSyncTask 发送一个房源同步任务到 Kafka。
func ProduceListingSyncTask(ctx context.Context, task tasks.ListingSyncTask) error {
	if producer == nil {
		return errors.New("kafka producer is not initialised")
	}
	taskBytes, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return producer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(task.ObjectName),
		Value: taskBytes,
	})
}

// CloseProducer 关闭生产者。
func CloseProducer() error {
	if producer == nil {
		return nil
	}
	return producer.Close()
}

// attemptCounter 记录任务的失败次数。
type attemptCounter interface {
	incr(ctx context.Context, taskID string) (int64, error)
	reset(ctx context.Context, taskID string)
}

type redisCounter struct{ rdb *redis.Client }

func attemptsKey(taskID string) string { return fmt.Sprintf("kafka:attempts:%s", taskID) }

func (c redisCounter) incr(ctx context.Context, taskID string) (int64, error) {
	n, err := c.rdb.Incr(ctx, attemptsKey(taskID)).Result()
	if err == nil {
		_ = c.rdb.Expire(ctx, attemptsKey(taskID), 24*time.Hour).Err()
	}
	return n, err
}

func (c redisCounter) reset(ctx context.Context, taskID string) {
	_ = c.rdb.Del(ctx, attemptsKey(taskID)).Err()
}

// memoryCounter 在没有 Redis 时使用，只在单进程内有效。
type memoryCounter struct {
	mu sync.Mutex
	n  map[string]int64
}

func (c *memoryCounter) incr(ctx context.Context, taskID string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n[taskID]++
	return c.n[taskID], nil
}

func (c *memoryCounter) reset(ctx context.Context, taskID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.n, taskID)
}

func newCounter(rdb *redis.Client) attemptCounter {
	if rdb == nil {
		return &memoryCounter{n: make(map[string]int64)}
	}
	return redisCounter{rdb: rdb}
}

// StartConsumer 启动一个 Kafka 消费者来处理房源同步任务，直到 ctx 结束。
// rdb 为空时失败计数只保存在进程内。
func StartConsumer(ctx context.Context, cfg config.KafkaConfig, processor TaskProcessor, rdb *redis.Client) {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokerList(cfg),
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 10e6, // 10MB
	})
	counter := newCounter(rdb)

	log.Infof("Kafka 消费者已启动，正在监听主题 '%s'", cfg.Topic)

	for {
		m, err := r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() == nil {
				log.Error("从 Kafka 读取消息失败", err)
			}
			break
		}
		handleMessage(ctx, r, m, processor, counter)
	}

	if err := r.Close(); err != nil {
		log.Errorf("关闭 Kafka 消费者失败: %v", err)
	}
	log.Info("Kafka 消费者已停止")
}

// committer 是 kafka.Reader 中 handleMessage 用到的部分。
type committer interface {
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
}

// handleMessage 处理一条消息并决定是否提交 offset：
// 成功或格式错误时提交；失败时计数，达到 maxAttempts 后提交放弃。
func handleMessage(ctx context.Context, r committer, m kafka.Message, processor TaskProcessor, counter attemptCounter) (committed bool) {
	log.Infof("收到 Kafka 消息: offset %d", m.Offset)

	commit := func() bool {
		if err := r.CommitMessages(ctx, m); err != nil {
			log.Errorf("提交 Kafka 消息 offset 失败: %v", err)
			return false
		}
		return true
	}

	var task tasks.ListingSyncTask
	if err := json.Unmarshal(m.Value, &task); err != nil || task.ObjectName == "" {
		log.Errorf("无法解析 Kafka 消息: %v, value: %s", err, string(m.Value))
		// 消息格式错误，直接提交，避免阻塞队列
		return commit()
	}
	if task.TaskID == "" {
		task.TaskID = task.ObjectName
	}

	log.Infof("开始处理房源同步任务: TaskID=%s, Object=%s", task.TaskID, task.ObjectName)
	if err := processor.Process(ctx, task); err != nil {
		log.Errorf("处理房源同步任务失败: TaskID=%s, Error: %v", task.TaskID, err)
		attempts, incErr := counter.incr(ctx, task.TaskID)
		if incErr != nil {
			// 计数失败时保守处理：不提交 offset，让 Kafka 重试
			return false
		}
		if attempts >= maxAttempts {
			log.Errorf("房源同步任务多次失败(>=%d)，提交 offset 终止重试: TaskID=%s", maxAttempts, task.TaskID)
			return commit()
		}
		return false
	}

	log.Infof("房源同步任务处理成功: TaskID=%s", task.TaskID)
	counter.reset(ctx, task.TaskID)
	return commit()
}

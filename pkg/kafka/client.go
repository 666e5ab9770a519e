// Package kafka 提供了与 Kafka 消息队列交互的功能。
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/segmentio/kafka-go"

	"duplike-go/internal/config"
	"duplike-go/pkg/log"
	"duplike-go/pkg/tasks"
)

// 同一条消息两次重试之间的等待时间，按倍数增长到上限。
var (
	retryBackoff    = 500 * time.Millisecond
	maxRetryBackoff = 30 * time.Second
)

// TaskProcessor 处理一条异步追加任务。
// 返回 nil 表示任务已完成或已被判定为无法处理，二者都会提交 offset。
type TaskProcessor interface {
	Process(ctx context.Context, task tasks.IngestTask) error
}

// AttemptCounter 记录任务的失败次数，用于决定是否继续重试。
type AttemptCounter interface {
	Incr(ctx context.Context, taskID string) (int64, error)
	Reset(ctx context.Context, taskID string) error
}

// Producer 把追加任务写入 Kafka，以租户 ID 为 key 分区。
type Producer struct {
	writer *kafka.Writer
}

// NewProducer 初始化 Kafka 生产者。
func NewProducer(cfg config.KafkaConfig) *Producer {
	p := &Producer{writer: &kafka.Writer{
		Addr:         kafka.TCP(strings.Split(cfg.Brokers, ",")...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
	}}
	log.Info("Kafka 生产者初始化成功")
	return p
}

// Publish 发送一个追加任务到 Kafka。
func (p *Producer) Publish(ctx context.Context, task tasks.IngestTask) error {
	taskBytes, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(task.TenantID),
		Value: taskBytes,
	})
}

// Close 关闭生产者。
func (p *Producer) Close() error {
	return p.writer.Close()
}

// redisAttempts 是基于 Redis INCR 的 AttemptCounter。
type redisAttempts struct {
	client *redis.Client
}

// NewRedisAttemptCounter 创建基于 Redis 的失败计数器，计数保留 24 小时。
func NewRedisAttemptCounter(client *redis.Client) AttemptCounter {
	return &redisAttempts{client: client}
}

func attemptsKey(taskID string) string {
	return fmt.Sprintf("kafka:attempts:%s", taskID)
}

func (r *redisAttempts) Incr(ctx context.Context, taskID string) (int64, error) {
	attempts, err := r.client.Incr(ctx, attemptsKey(taskID)).Result()
	if err != nil {
		return 0, err
	}
	_ = r.client.Expire(ctx, attemptsKey(taskID), 24*time.Hour).Err()
	return attempts, nil
}

func (r *redisAttempts) Reset(ctx context.Context, taskID string) error {
	return r.client.Del(ctx, attemptsKey(taskID)).Err()
}

// StartConsumer 启动一个 Kafka 消费者来处理追加任务，直到 ctx 结束。
// 同一租户的消息落在同一分区内，因此同一租户的任务按写入顺序串行处理。
func StartConsumer(ctx context.Context, cfg config.KafkaConfig, processor TaskProcessor, counter AttemptCounter) {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  strings.Split(cfg.Brokers, ","),
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 10e6, // 10MB
	})
	log.Infof("Kafka 消费者已启动，正在监听主题 '%s'", cfg.Topic)

	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	for {
		m, err := r.FetchMessage(ctx)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				log.Error("从 Kafka 读取消息失败", err)
			}
			break
		}

		// FetchMessage 不会重投未提交的消息，失败的任务在这里原地重试，保证同一租户的顺序
		if !retryMessage(ctx, m.Value, processor, counter, maxAttempts) {
			break
		}
		if err := r.CommitMessages(context.Background(), m); err != nil {
			log.Errorf("提交 Kafka 消息 offset 失败: %v", err)
		}
	}

	if err := r.Close(); err != nil {
		log.Errorf("关闭 Kafka 消费者失败: %v", err)
	}
	log.Info("Kafka 消费者已停止")
}

// retryMessage 反复处理同一条消息直到可以提交，ctx 结束时返回 false。
func retryMessage(ctx context.Context, value []byte, processor TaskProcessor, counter AttemptCounter, maxAttempts int) bool {
	backoff := retryBackoff
	for !handleMessage(ctx, value, processor, counter, maxAttempts) {
		select {
		case <-ctx.Done():
			return false
		case <-time.After(backoff):
		}
		if backoff < maxRetryBackoff {
			backoff *= 2
		}
	}
	return true
}

// handleMessage 处理一条消息并返回是否应提交 offset。
// 失败时用计数器累计次数，达到 maxAttempts 后放弃；计数器不可用时不提交，交给 Kafka 重投。
func handleMessage(ctx context.Context, value []byte, processor TaskProcessor, counter AttemptCounter, maxAttempts int) bool {
	var task tasks.IngestTask
	if err := json.Unmarshal(value, &task); err != nil {
		log.Errorf("无法解析 Kafka 消息: %v, value: %s", err, string(value))
		// 消息格式错误，直接提交，避免阻塞队列
		return true
	}

	log.Infof("开始处理追加任务: task=%s, tenant=%s", task.TaskID, task.TenantID)
	if err := processor.Process(ctx, task); err != nil {
		log.Errorf("处理追加任务失败: task=%s, tenant=%s, error: %v", task.TaskID, task.TenantID, err)
		attempts, incErr := counter.Incr(ctx, task.TaskID)
		if incErr != nil {
			return false
		}
		if attempts >= int64(maxAttempts) {
			log.Errorf("追加任务多次失败(>=%d)，提交 offset 终止重试: task=%s", maxAttempts, task.TaskID)
			return true
		}
		return false
	}

	log.Infof("追加任务处理成功: task=%s, tenant=%s", task.TaskID, task.TenantID)
	_ = counter.Reset(ctx, task.TaskID)
	return true
}

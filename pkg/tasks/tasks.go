// Package tasks defines the structure for tasks that are sent to Kafka.
package tasks

import "time"

// IngestTask 是一次异步追加报告的请求，以租户 ID 作为消息 key，保证同一租户的任务按序消费。
type IngestTask struct {
	TaskID     string                 `json:"task_id"`
	TenantID   string                 `json:"tenant_id"`
	Row        map[string]interface{} `json:"row"`
	EnqueuedAt time.Time              `json:"enqueued_at"`
}

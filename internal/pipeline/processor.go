// Package pipeline 定义了异步追加任务的处理流程。
package pipeline

import (
	"context"
	"errors"
	"time"

	"duplike-go/internal/model"
	"duplike-go/internal/service"
	"duplike-go/pkg/errs"
	"duplike-go/pkg/log"
	"duplike-go/pkg/tasks"
)

// Processor 把队列中的追加任务交给 ReportService。
type Processor struct {
	reports service.ReportService
}

// NewProcessor 创建一个新的 Processor 实例。
func NewProcessor(reports service.ReportService) *Processor {
	return &Processor{reports: reports}
}

// Process 执行一次追加。
// 行内容非法或租户不存在时重试没有意义，记录日志后返回 nil 让消费者提交 offset；
// 其余错误（例如租户正在重建、产物写入失败）返回给消费者重试。
func (p *Processor) Process(ctx context.Context, task tasks.IngestTask) error {
	log.Infof("[Processor] 开始处理追加任务, task: %s, tenant: %s, 排队耗时: %s",
		task.TaskID, task.TenantID, time.Since(task.EnqueuedAt).Round(time.Millisecond))

	offset, err := p.reports.AddReport(ctx, task.TenantID, model.Row(task.Row))
	if err == nil {
		log.Infof("[Processor] 追加任务完成, task: %s, tenant: %s, offset: %d", task.TaskID, task.TenantID, offset)
		return nil
	}
	if isPermanent(err) {
		log.Errorf("[Processor] 追加任务无法完成, 丢弃, task: %s, tenant: %s, error: %v", task.TaskID, task.TenantID, err)
		return nil
	}
	return err
}

func isPermanent(err error) bool {
	return errors.Is(err, errs.ErrValidation) ||
		errors.Is(err, errs.ErrEncoding) ||
		errors.Is(err, errs.ErrTenantNotFound)
}

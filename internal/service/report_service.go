package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"duplike-go/internal/model"
	"duplike-go/internal/tenant"
	"duplike-go/pkg/errs"
	"duplike-go/pkg/log"
	"duplike-go/pkg/tasks"
)

// IngestPublisher 把追加任务交给异步队列。
type IngestPublisher interface {
	Publish(ctx context.Context, task tasks.IngestTask) error
}

// ReportService 接口定义了单条报告的追加操作。
type ReportService interface {
	AddReport(ctx context.Context, tenantID string, row model.Row) (int, error)
	AddReportAsync(ctx context.Context, tenantID string, row model.Row) (string, error)
}

type reportService struct {
	tenants   TenantRegistry
	publisher IngestPublisher
}

// NewReportService 创建一个新的 ReportService 实例。publisher 为 nil 时不支持异步追加。
func NewReportService(tenants TenantRegistry, publisher IngestPublisher) ReportService {
	return &reportService{tenants: tenants, publisher: publisher}
}

// AddReport 同步追加一条报告并返回它的 offset。
func (s *reportService) AddReport(ctx context.Context, tenantID string, row model.Row) (int, error) {
	var offset int
	err := s.tenants.Do(ctx, tenantID, func(st *tenant.Store) error {
		var err error
		offset, err = st.Add(ctx, row)
		return err
	})
	if err != nil {
		log.Warnf("[ReportService] 追加报告失败, tenant: %s, error: %v", tenantID, err)
		return 0, err
	}
	return offset, nil
}

// AddReportAsync 校验行后把追加任务写入队列，返回任务 ID。
func (s *reportService) AddReportAsync(ctx context.Context, tenantID string, row model.Row) (string, error) {
	if s.publisher == nil {
		return "", errs.ErrQueueDisabled
	}
	rec, err := model.NewRecord(row)
	if err != nil {
		return "", errs.WrapCause(errs.ErrValidation, err, "invalid row")
	}
	if len(rec.Fields) == 0 {
		return "", errs.Wrap(errs.ErrValidation, "row has no values")
	}

	payload := make(map[string]interface{}, len(rec.Fields))
	for k, v := range rec.Fields {
		payload[k] = v
	}
	task := tasks.IngestTask{
		TaskID:     uuid.NewString(),
		TenantID:   tenantID,
		Row:        payload,
		EnqueuedAt: time.Now(),
	}
	if err := s.publisher.Publish(ctx, task); err != nil {
		log.Errorf("[ReportService] 写入追加队列失败, tenant: %s, error: %v", tenantID, err)
		return "", err
	}
	log.Infof("[ReportService] 追加任务已入队, tenant: %s, task: %s", tenantID, task.TaskID)
	return task.TaskID, nil
}

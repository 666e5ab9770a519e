package repository

import (
	"context"
	"fmt"
	"sync"

	"duplike-go/internal/model"
	"duplike-go/internal/tenant"
	"duplike-go/pkg/errs"
)

// memoryReportRepository 是进程内的 tenant.Repository，未配置 MySQL 时使用，数据不跨进程保留。
type memoryReportRepository struct {
	mu       sync.Mutex
	datasets map[string]*tenant.Dataset
}

// NewMemoryReportRepository 创建一个内存中的 ReportRepository。
func NewMemoryReportRepository() tenant.Repository {
	return &memoryReportRepository{datasets: make(map[string]*tenant.Dataset)}
}

func copyDataset(ds *tenant.Dataset) *tenant.Dataset {
	cp := *ds
	cp.Columns = append([]string(nil), ds.Columns...)
	cp.SelectedColumns = append([]string(nil), ds.SelectedColumns...)
	cp.CategoricalColumns = append([]string(nil), ds.CategoricalColumns...)
	cp.Records = append([]model.Record(nil), ds.Records...)
	return &cp
}

func (m *memoryReportRepository) LoadDataset(ctx context.Context, tenantID string) (*tenant.Dataset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ds, ok := m.datasets[tenantID]
	if !ok {
		return nil, errs.Wrap(errs.ErrTenantNotFound, "tenant %s", tenantID)
	}
	return copyDataset(ds), nil
}

func (m *memoryReportRepository) Revision(ctx context.Context, tenantID string) (tenant.Revision, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ds, ok := m.datasets[tenantID]
	if !ok {
		return tenant.Revision{}, errs.Wrap(errs.ErrTenantNotFound, "tenant %s", tenantID)
	}
	return tenant.Revision{Generation: ds.Generation, Rows: len(ds.Records)}, nil
}

func (m *memoryReportRepository) ReplaceDataset(ctx context.Context, tenantID string, ds *tenant.Dataset) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := copyDataset(ds)
	cp.Generation = nextGeneration()
	m.datasets[tenantID] = cp
	return cp.Generation, nil
}

func (m *memoryReportRepository) UpdateSelectedColumns(ctx context.Context, tenantID string, selected []string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ds, ok := m.datasets[tenantID]
	if !ok {
		return 0, errs.Wrap(errs.ErrTenantNotFound, "tenant %s", tenantID)
	}
	ds.SelectedColumns = append([]string(nil), selected...)
	ds.Generation = nextGeneration()
	return ds.Generation, nil
}

func (m *memoryReportRepository) AppendReport(ctx context.Context, tenantID string, offset int, rec model.Record, columns []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ds, ok := m.datasets[tenantID]
	if !ok {
		return errs.Wrap(errs.ErrTenantNotFound, "tenant %s", tenantID)
	}
	if offset != len(ds.Records) {
		return fmt.Errorf("duplicate or out-of-order offset %d, tenant %s has %d rows", offset, tenantID, len(ds.Records))
	}
	ds.Records = append(ds.Records, rec)
	ds.Columns = append([]string(nil), columns...)
	return nil
}

func (m *memoryReportRepository) DeleteReport(ctx context.Context, tenantID string, offset int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ds, ok := m.datasets[tenantID]
	if !ok || offset < 0 || offset >= len(ds.Records) {
		return nil
	}
	if offset != len(ds.Records)-1 {
		return fmt.Errorf("only the last report can be removed (offset %d, rows %d)", offset, len(ds.Records))
	}
	ds.Records = ds.Records[:offset]
	return nil
}

func (m *memoryReportRepository) DeleteDataset(ctx context.Context, tenantID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.datasets, tenantID)
	return nil
}

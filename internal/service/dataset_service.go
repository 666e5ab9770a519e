// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"
	"sort"

	"duplike-go/internal/model"
	"duplike-go/internal/tenant"
	"duplike-go/pkg/errs"
	"duplike-go/pkg/log"
)

// TenantRegistry 是服务层对租户注册表的依赖，*tenant.Registry 实现了它。
type TenantRegistry interface {
	Do(ctx context.Context, tenantID string, fn func(s *tenant.Store) error) error
}

// DatasetService 接口定义了租户数据集相关的业务操作。
type DatasetService interface {
	Upload(ctx context.Context, tenantID string, req model.DatasetUpload) (*model.UploadResult, error)
	UpdateColumns(ctx context.Context, tenantID string, selected []string) (*model.UploadResult, error)
	Clear(ctx context.Context, tenantID string) error
	Status(ctx context.Context, tenantID string) (*model.TenantStatus, error)
	ColumnValues(ctx context.Context, tenantID, column string) ([]string, error)
}

type datasetService struct {
	tenants TenantRegistry
}

// NewDatasetService 创建一个新的 DatasetService 实例。
func NewDatasetService(tenants TenantRegistry) DatasetService {
	return &datasetService{tenants: tenants}
}

// Upload 用上传的行替换租户数据并全量重建索引。
func (s *datasetService) Upload(ctx context.Context, tenantID string, req model.DatasetUpload) (*model.UploadResult, error) {
	log.Infof("[DatasetService] 收到全量上传, tenant: %s, file: %s, rows: %d", tenantID, req.FileName, len(req.Rows))

	// 步骤1: 校验并字符串化每一行
	ds := &tenant.Dataset{
		FileName:           req.FileName,
		SelectedColumns:    req.SelectedColumns,
		CategoricalColumns: req.CategoricalColumns,
		Records:            make([]model.Record, 0, len(req.Rows)),
	}
	for i, row := range req.Rows {
		rec, err := model.NewRecord(row)
		if err != nil {
			return nil, errs.WrapCause(errs.ErrValidation, err, "row %d", i)
		}
		ds.Records = append(ds.Records, rec)
	}
	ds.Columns = req.Columns
	if len(ds.Columns) == 0 {
		ds.Columns = columnsOf(ds.Records)
	}
	// 没有行时，用户选择的列就是已知的全部列
	if len(ds.Columns) == 0 {
		ds.Columns = append(append([]string(nil), req.SelectedColumns...), req.CategoricalColumns...)
	}
	if len(ds.Columns) == 0 {
		return nil, errs.Wrap(errs.ErrValidation, "dataset has no columns")
	}

	// 步骤2: 交给租户 Store 重建
	result := &model.UploadResult{}
	err := s.tenants.Do(ctx, tenantID, func(st *tenant.Store) error {
		n, err := st.Upload(ctx, ds)
		if err != nil {
			return err
		}
		result.RowCount = n
		result.Ready = st.Status().State == string(tenant.StateReady)
		return nil
	})
	if err != nil {
		log.Errorf("[DatasetService] 全量上传失败, tenant: %s, error: %v", tenantID, err)
		return nil, err
	}
	log.Infof("[DatasetService] 全量上传完成, tenant: %s, rows: %d", tenantID, result.RowCount)
	return result, nil
}

// UpdateColumns 修改文本列并重建。
func (s *datasetService) UpdateColumns(ctx context.Context, tenantID string, selected []string) (*model.UploadResult, error) {
	result := &model.UploadResult{}
	err := s.tenants.Do(ctx, tenantID, func(st *tenant.Store) error {
		n, err := st.UpdateColumns(ctx, selected)
		if err != nil {
			return err
		}
		result.RowCount = n
		result.Ready = st.Status().State == string(tenant.StateReady)
		return nil
	})
	if err != nil {
		return nil, err
	}
	log.Infof("[DatasetService] 文本列已更新, tenant: %s, columns: %v", tenantID, selected)
	return result, nil
}

func (s *datasetService) Clear(ctx context.Context, tenantID string) error {
	return s.tenants.Do(ctx, tenantID, func(st *tenant.Store) error {
		return st.Clear(ctx)
	})
}

func (s *datasetService) Status(ctx context.Context, tenantID string) (*model.TenantStatus, error) {
	var status model.TenantStatus
	err := s.tenants.Do(ctx, tenantID, func(st *tenant.Store) error {
		status = st.Status()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &status, nil
}

func (s *datasetService) ColumnValues(ctx context.Context, tenantID, column string) ([]string, error) {
	var values []string
	err := s.tenants.Do(ctx, tenantID, func(st *tenant.Store) error {
		var err error
		values, err = st.ColumnValues(column)
		return err
	})
	return values, err
}

// columnsOf 返回所有行中出现过的列名，按名称排序。
func columnsOf(records []model.Record) []string {
	seen := make(map[string]struct{})
	for _, rec := range records {
		for c := range rec.Fields {
			seen[c] = struct{}{}
		}
	}
	cols := make([]string, 0, len(seen))
	for c := range seen {
		cols = append(cols, c)
	}
	sort.Strings(cols)
	return cols
}

// Package repository 定义了与数据库进行数据交换的接口和实现。
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"duplike-go/internal/model"
	"duplike-go/internal/tenant"
	"duplike-go/pkg/errs"
)

const insertBatchSize = 500

// reportRepository 是 tenant.Repository 的 GORM 实现。
// tenant_datasets 保存列配置，tenant_reports 按 row_offset 保存原始行。
type reportRepository struct {
	db *gorm.DB
}

// NewReportRepository 创建一个新的 ReportRepository 实例。
func NewReportRepository(db *gorm.DB) tenant.Repository {
	return &reportRepository{db: db}
}

// LoadDataset 读取租户的列配置与全部原始行。
func (r *reportRepository) LoadDataset(ctx context.Context, tenantID string) (*tenant.Dataset, error) {
	var ds model.TenantDataset
	err := r.db.WithContext(ctx).Where("tenant_id = ?", tenantID).First(&ds).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errs.Wrap(errs.ErrTenantNotFound, "tenant %s", tenantID)
	}
	if err != nil {
		return nil, fmt.Errorf("query dataset: %w", err)
	}

	var rows []model.TenantReport
	if err := r.db.WithContext(ctx).Where("tenant_id = ?", tenantID).Order("row_offset ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("query reports: %w", err)
	}
	return toDataset(ds, rows)
}

// Revision 返回数据集的 generation 与当前行数。
func (r *reportRepository) Revision(ctx context.Context, tenantID string) (tenant.Revision, error) {
	var ds model.TenantDataset
	err := r.db.WithContext(ctx).Select("tenant_id", "generation").Where("tenant_id = ?", tenantID).First(&ds).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return tenant.Revision{}, errs.Wrap(errs.ErrTenantNotFound, "tenant %s", tenantID)
	}
	if err != nil {
		return tenant.Revision{}, fmt.Errorf("query dataset: %w", err)
	}
	var rows int64
	if err := r.db.WithContext(ctx).Model(&model.TenantReport{}).Where("tenant_id = ?", tenantID).Count(&rows).Error; err != nil {
		return tenant.Revision{}, fmt.Errorf("count reports: %w", err)
	}
	return tenant.Revision{Generation: ds.Generation, Rows: int(rows)}, nil
}

// ReplaceDataset 在一个事务中删除旧行、写入新的列配置与全部新行。
func (r *reportRepository) ReplaceDataset(ctx context.Context, tenantID string, ds *tenant.Dataset) (int64, error) {
	row, err := fromDataset(tenantID, ds)
	if err != nil {
		return 0, err
	}
	row.Generation = nextGeneration()
	reports := make([]model.TenantReport, 0, len(ds.Records))
	for i, rec := range ds.Records {
		payload, err := encodeRecord(rec)
		if err != nil {
			return 0, err
		}
		reports = append(reports, model.TenantReport{TenantID: tenantID, RowOffset: i, Payload: payload})
	}

	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("tenant_id = ?", tenantID).Delete(&model.TenantReport{}).Error; err != nil {
			return err
		}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "tenant_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"file_name", "columns", "selected_columns", "categorical_columns", "generation", "updated_at"}),
		}).Create(row).Error; err != nil {
			return err
		}
		if len(reports) == 0 {
			return nil
		}
		return tx.CreateInBatches(reports, insertBatchSize).Error
	})
	if err != nil {
		return 0, err
	}
	return row.Generation, nil
}

// UpdateSelectedColumns 只更新文本列配置，同时换一个新的 generation。
func (r *reportRepository) UpdateSelectedColumns(ctx context.Context, tenantID string, selected []string) (int64, error) {
	encoded, err := encodeColumns(selected)
	if err != nil {
		return 0, err
	}
	gen := nextGeneration()
	res := r.db.WithContext(ctx).Model(&model.TenantDataset{}).Where("tenant_id = ?", tenantID).
		Updates(map[string]interface{}{"selected_columns": encoded, "generation": gen})
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected == 0 {
		return 0, errs.Wrap(errs.ErrTenantNotFound, "tenant %s", tenantID)
	}
	return gen, nil
}

// AppendReport 记录一次增量写入。(tenant_id, row_offset) 的唯一约束保证 offset 不会被复用。
func (r *reportRepository) AppendReport(ctx context.Context, tenantID string, offset int, rec model.Record, columns []string) error {
	payload, err := encodeRecord(rec)
	if err != nil {
		return err
	}
	encodedCols, err := encodeColumns(columns)
	if err != nil {
		return err
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&model.TenantReport{TenantID: tenantID, RowOffset: offset, Payload: payload}).Error; err != nil {
			return err
		}
		return tx.Model(&model.TenantDataset{}).Where("tenant_id = ?", tenantID).Update("columns", encodedCols).Error
	})
}

// DeleteReport 撤销一次增量写入。
func (r *reportRepository) DeleteReport(ctx context.Context, tenantID string, offset int) error {
	return r.db.WithContext(ctx).Where("tenant_id = ? AND row_offset = ?", tenantID, offset).Delete(&model.TenantReport{}).Error
}

// DeleteDataset 删除租户的全部数据。
func (r *reportRepository) DeleteDataset(ctx context.Context, tenantID string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("tenant_id = ?", tenantID).Delete(&model.TenantReport{}).Error; err != nil {
			return err
		}
		return tx.Where("tenant_id = ?", tenantID).Delete(&model.TenantDataset{}).Error
	})
}

func toDataset(ds model.TenantDataset, rows []model.TenantReport) (*tenant.Dataset, error) {
	out := &tenant.Dataset{FileName: ds.FileName, Generation: ds.Generation, Records: make([]model.Record, 0, len(rows))}
	var err error
	if out.Columns, err = decodeColumns(ds.Columns); err != nil {
		return nil, err
	}
	if out.SelectedColumns, err = decodeColumns(ds.SelectedColumns); err != nil {
		return nil, err
	}
	if out.CategoricalColumns, err = decodeColumns(ds.CategoricalColumns); err != nil {
		return nil, err
	}
	for i, row := range rows {
		if row.RowOffset != i {
			return nil, errs.Wrap(errs.ErrIndexCorruption, "tenant %s: stored rows have a gap at offset %d", ds.TenantID, i)
		}
		fields := map[string]string{}
		if err := json.Unmarshal([]byte(row.Payload), &fields); err != nil {
			return nil, fmt.Errorf("decode report %d: %w", row.RowOffset, err)
		}
		out.Records = append(out.Records, model.Record{Fields: fields})
	}
	return out, nil
}

func fromDataset(tenantID string, ds *tenant.Dataset) (*model.TenantDataset, error) {
	row := &model.TenantDataset{TenantID: tenantID, FileName: ds.FileName}
	var err error
	if row.Columns, err = encodeColumns(ds.Columns); err != nil {
		return nil, err
	}
	if row.SelectedColumns, err = encodeColumns(ds.SelectedColumns); err != nil {
		return nil, err
	}
	if row.CategoricalColumns, err = encodeColumns(ds.CategoricalColumns); err != nil {
		return nil, err
	}
	return row, nil
}

func encodeRecord(rec model.Record) (string, error) {
	fields := rec.Fields
	if fields == nil {
		fields = map[string]string{}
	}
	b, err := json.Marshal(fields)
	if err != nil {
		return "", fmt.Errorf("encode record: %w", err)
	}
	return string(b), nil
}

func encodeColumns(cols []string) (string, error) {
	if cols == nil {
		cols = []string{}
	}
	b, err := json.Marshal(cols)
	if err != nil {
		return "", fmt.Errorf("encode columns: %w", err)
	}
	return string(b), nil
}

func decodeColumns(s string) ([]string, error) {
	if s == "" {
		return nil, nil
	}
	var cols []string
	if err := json.Unmarshal([]byte(s), &cols); err != nil {
		return nil, fmt.Errorf("decode columns: %w", err)
	}
	return cols, nil
}

package model

import "time"

// TenantDataset 对应数据库中的 tenant_datasets 表，记录租户上传数据的列配置。
// 它是上传子系统交给检索引擎的 RowProvider 的配置部分。
type TenantDataset struct {
	TenantID           string    `gorm:"type:varchar(128);primaryKey" json:"tenantId"`
	FileName           string    `gorm:"type:varchar(255)" json:"fileName"`
	Columns            string    `gorm:"type:text" json:"columns"`            // JSON 数组
	SelectedColumns    string    `gorm:"type:text" json:"selectedColumns"`    // JSON 数组
	CategoricalColumns string    `gorm:"type:text" json:"categoricalColumns"` // JSON 数组
	Generation         int64     `gorm:"not null;default:0" json:"generation"`  // 全量替换或修改文本列时更新
	CreatedAt          time.Time `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt          time.Time `gorm:"autoUpdateTime" json:"updatedAt"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (TenantDataset) TableName() string {
	return "tenant_datasets"
}

// TenantReport 对应数据库中的 tenant_reports 表，按 offset 保存租户的原始行。
// (tenant_id, row_offset) 唯一，重建索引时按 row_offset 升序读取。
type TenantReport struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	TenantID  string    `gorm:"type:varchar(128);not null;uniqueIndex:uk_tenant_offset" json:"tenantId"`
	RowOffset int       `gorm:"not null;uniqueIndex:uk_tenant_offset" json:"rowOffset"`
	Payload   string    `gorm:"type:mediumtext;not null" json:"payload"` // Record.Fields 的 JSON
	CreatedAt time.Time `gorm:"autoCreateTime" json:"createdAt"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (TenantReport) TableName() string {
	return "tenant_reports"
}

// DatasetUpload 是一次全量上传的内容。Columns 为空时按行中出现的列名排序得到。
type DatasetUpload struct {
	FileName           string   `json:"file_name"`
	Columns            []string `json:"columns"`
	Rows               []Row    `json:"rows"`
	SelectedColumns    []string `json:"selected_columns"`
	CategoricalColumns []string `json:"categorical_columns"`
}

// Package model 包含了应用的数据模型定义。
package model

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cast"
)

// Row 是上传或新增时收到的原始行，值的类型不受信任。
type Row map[string]interface{}

// Record 是经过校验与字符串化之后的行，空值字段不会出现在 Fields 中。
type Record struct {
	Fields map[string]string `msgpack:"f" json:"fields"`
}

// NewRecord 把原始行转换为 Record。列名必须非空，值必须能转换为字符串。
// nil 与空白值被视为缺失。
func NewRecord(row Row) (Record, error) {
	fields := make(map[string]string, len(row))
	for key, value := range row {
		name := strings.TrimSpace(key)
		if name == "" {
			return Record{}, fmt.Errorf("column name must not be empty")
		}
		if value == nil {
			continue
		}
		s, err := cast.ToStringE(value)
		if err != nil {
			return Record{}, fmt.Errorf("column %q: value of type %T cannot be used as text", name, value)
		}
		s = strings.TrimSpace(s)
		if s == "" || strings.EqualFold(s, "nan") {
			continue
		}
		fields[name] = s
	}
	return Record{Fields: fields}, nil
}

// Get 返回列的值，缺失时返回空字符串。
func (r Record) Get(column string) string {
	if column == "" {
		return ""
	}
	return r.Fields[column]
}

// Columns 返回记录中出现的列名。
func (r Record) Columns() []string {
	cols := make([]string, 0, len(r.Fields))
	for k := range r.Fields {
		cols = append(cols, k)
	}
	return cols
}

// ColumnRoles 记录哪些列承担平台、版本、语言、应用的语义。
type ColumnRoles struct {
	Platform    string `msgpack:"platform" json:"platform,omitempty"`
	Version     string `msgpack:"version" json:"version,omitempty"`
	Language    string `msgpack:"language" json:"language,omitempty"`
	Application string `msgpack:"application" json:"application,omitempty"`
}

// Schema 描述租户数据的列结构与用户选择的文本列。
type Schema struct {
	Columns            []string    `msgpack:"columns" json:"columns"`
	TextColumns        []string    `msgpack:"text_columns" json:"text_columns"`
	CategoricalColumns []string    `msgpack:"categorical_columns" json:"categorical_columns"`
	Roles              ColumnRoles `msgpack:"roles" json:"roles"`
	// SelectedColumns 是用户选择的文本列，可能包含还没出现的列，新列出现时据此重新确定 TextColumns。
	SelectedColumns []string `msgpack:"selected_columns" json:"selected_columns,omitempty"`
}

// HasColumn 判断列是否属于 schema。
func (s Schema) HasColumn(column string) bool {
	for _, c := range s.Columns {
		if c == column {
			return true
		}
	}
	return false
}

// Extend 把记录中新出现的列追加到 schema 的末尾，返回是否发生了变化。
// 新列按名称排序后追加，保证同一批输入总是得到相同的列顺序。
func (s *Schema) Extend(rec Record) bool {
	var added []string
	for _, c := range rec.Columns() {
		if !s.HasColumn(c) {
			added = append(added, c)
		}
	}
	if len(added) == 0 {
		return false
	}
	sort.Strings(added)
	s.Columns = append(s.Columns, added...)
	return true
}

// Report 是一条已入库的缺陷报告。Offset 是它在嵌入矩阵与原始表中的位置。
type Report struct {
	Offset      int    `json:"offset"`
	TenantID    string `json:"tenant_id"`
	Platform    string `json:"platform"`
	Application string `json:"application"`
	Version     string `json:"version"`
	Language    string `json:"language"`
	Text        string `json:"text"`
	Record      Record `json:"record"`
}

package textnorm

import (
	"strconv"
	"strings"

	"duplike-go/internal/config"
	"duplike-go/internal/model"
	"duplike-go/pkg/errs"
)

const (
	joinSeparator    = ". "
	emptyPlaceholder = "empty"
)

// Normalizer 根据列配置生成规范文本与报告属性。它只读，可被多个租户并发共享。
type Normalizer struct {
	cfg        config.ColumnsConfig
	partitions []string
	platforms  []string
}

// New 创建 Normalizer，platforms 是配置的平台分区（不含 unknown）。
func New(cfg config.ColumnsConfig, platforms []string) *Normalizer {
	if cfg.MaxSelected <= 0 {
		cfg.MaxSelected = 5
	}
	parts := Partitions(platforms)
	return &Normalizer{cfg: cfg, partitions: parts, platforms: parts[:len(parts)-1]}
}

// Partitions 返回该 Normalizer 会产生的全部分区名。
func (n *Normalizer) Partitions() []string {
	return append([]string(nil), n.partitions...)
}

// ResolveSchema 为一批记录确定列结构、文本列与列角色。
// 文本列按以下顺序回退：用户选择且存在的列 → 名称匹配文本关键词的列 → 前两个字符串类型的列。
func (n *Normalizer) ResolveSchema(columns []string, records []model.Record, selected, categorical []string) (model.Schema, error) {
	if len(selected) > n.cfg.MaxSelected {
		return model.Schema{}, errs.Wrap(errs.ErrValidation, "at most %d text columns can be selected (got %d)", n.cfg.MaxSelected, len(selected))
	}
	schema := model.Schema{Columns: dedupe(columns)}
	for _, rec := range records {
		schema.Extend(rec)
	}

	for _, c := range dedupe(categorical) {
		if schema.HasColumn(c) {
			schema.CategoricalColumns = append(schema.CategoricalColumns, c)
		}
	}
	schema.SelectedColumns = dedupe(selected)
	schema.TextColumns = n.textColumns(schema.Columns, records, schema.SelectedColumns)
	schema.Roles = n.DetectRoles(schema.Columns, schema.TextColumns)
	return schema, nil
}

func (n *Normalizer) textColumns(columns []string, records []model.Record, selected []string) []string {
	var picked []string
	for _, c := range selected {
		if contains(columns, c) {
			picked = append(picked, c)
		}
	}
	if len(picked) > 0 {
		return picked
	}

	for _, locale := range n.cfg.Locales {
		for _, kw := range n.cfg.TextKeywords[locale] {
			for _, c := range columns {
				if len(picked) < n.cfg.MaxSelected && matchColumn(c, kw) && !contains(picked, c) {
					picked = append(picked, c)
				}
			}
		}
	}
	if len(picked) > 0 {
		return picked
	}

	for _, c := range columns {
		if isStringColumn(c, records) {
			picked = append(picked, c)
			if len(picked) == 2 {
				break
			}
		}
	}
	if len(picked) == 0 && len(columns) > 0 {
		picked = []string{columns[0]}
	}
	return picked
}

// isStringColumn 判断列中是否至少有一个非数值的值。
func isStringColumn(column string, records []model.Record) bool {
	for _, rec := range records {
		v := rec.Get(column)
		if v == "" {
			continue
		}
		if _, err := strconv.ParseFloat(v, 64); err != nil {
			return true
		}
	}
	return false
}

// DetectRoles 按 版本 → 平台 → 语言 → 应用 的顺序识别角色列，
// 已被文本列或前面角色占用的列不会再被选中，例如 "App Version" 不会被当作应用列。
func (n *Normalizer) DetectRoles(columns, textColumns []string) model.ColumnRoles {
	claimed := make(map[string]bool, len(textColumns))
	for _, c := range textColumns {
		claimed[c] = true
	}
	pick := func(keywords []string) string {
		for _, kw := range keywords {
			for _, c := range columns {
				if !claimed[c] && matchColumn(c, kw) {
					claimed[c] = true
					return c
				}
			}
		}
		return ""
	}

	var roles model.ColumnRoles
	roles.Version = pick(n.cfg.VersionKeywords)
	roles.Platform = pick(n.cfg.PlatformKeywords)
	roles.Language = pick(n.cfg.LanguageKeywords)
	roles.Application = pick(n.cfg.ApplicationKeywords)
	return roles
}

// Canonical 把文本列的清洗结果用 ". " 连接，全部为空时返回占位符 "empty"。
func (n *Normalizer) Canonical(rec model.Record, schema model.Schema) string {
	parts := make([]string, 0, len(schema.TextColumns))
	for _, c := range schema.TextColumns {
		if cleaned := Clean(rec.Get(c)); cleaned != "" {
			parts = append(parts, cleaned)
		}
	}
	if len(parts) == 0 {
		return emptyPlaceholder
	}
	return strings.Join(parts, joinSeparator)
}

// CleanQuery 对查询文本执行与索引文本相同的清洗。
func (n *Normalizer) CleanQuery(text string) string {
	return Clean(text)
}

// Describe 生成报告的规范文本与平台、版本、语言、应用属性。
func (n *Normalizer) Describe(tenantID string, offset int, rec model.Record, schema model.Schema) model.Report {
	r := model.Report{
		Offset:   offset,
		TenantID: tenantID,
		Text:     n.Canonical(rec, schema),
		Record:   rec,
		Platform: unknownPlatform,
	}
	if c := schema.Roles.Platform; c != "" {
		r.Platform = Platform(rec.Get(c), n.platforms)
	}
	if c := schema.Roles.Version; c != "" {
		r.Version = ExtractVersion(rec.Get(c))
	}
	if c := schema.Roles.Language; c != "" {
		r.Language = LanguageCode(rec.Get(c))
	}
	if c := schema.Roles.Application; c != "" {
		r.Application = strings.TrimSpace(rec.Get(c))
	}
	if r.Application == "" {
		var raw []string
		for _, c := range schema.TextColumns {
			raw = append(raw, rec.Get(c))
		}
		r.Application = DetectApplication(strings.Join(raw, " "), n.cfg.KnownApplications)
	}
	return r
}

func dedupe(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s != "" && !contains(out, s) {
			out = append(out, s)
		}
	}
	return out
}

package model

// SearchFilters 是查询可选的过滤条件。
// Platform 决定检索哪个分区，Application 是硬过滤，Version 与 Language 只参与打分。
type SearchFilters struct {
	Platform    string `json:"platform,omitempty"`
	Application string `json:"application,omitempty"`
	Version     string `json:"version,omitempty"`
	Language    string `json:"language,omitempty"`
}

// SearchQuery 是一次"最相似的已有报告"查询。
type SearchQuery struct {
	Text    string        `json:"query"`
	Filters SearchFilters `json:"filters"`
	TopK    int           `json:"top_k"`
}

// SearchResult 是单条排序结果及其各项得分。
type SearchResult struct {
	Offset            int               `json:"offset"`
	CoarseScore       float64           `json:"coarse_score"`
	CrossEncoderScore float64           `json:"cross_encoder_score"`
	VersionSimilarity float64           `json:"version_similarity"`
	PlatformMatch     float64           `json:"platform_match"`
	LanguageMatch     float64           `json:"language_match"`
	FinalScore        float64           `json:"final_score"`
	Platform          string            `json:"platform"`
	Application       string            `json:"application"`
	Version           string            `json:"version"`
	Language          string            `json:"language"`
	Fields            map[string]string `json:"fields"`
}

// SearchResponse 是一次查询的完整返回。
// Degraded 表示由于时间预算不足，跳过了精排或缩小了候选集。
type SearchResponse struct {
	Results      []SearchResult `json:"results"`
	SearchTimeMs int64          `json:"search_time_ms"`
	CoarseK      int            `json:"coarse_k"`
	Reranked     bool           `json:"reranked"`
	Degraded     bool           `json:"degraded"`
}

// UploadResult 是全量上传（触发重建）的返回。
type UploadResult struct {
	RowCount int  `json:"row_count"`
	Ready    bool `json:"ready"`
}

// TenantStatus 描述租户索引的当前状态。
type TenantStatus struct {
	Exists        bool           `json:"exists"`
	State         string         `json:"state"`
	RowCount      int            `json:"row_count"`
	ColumnConfig  Schema         `json:"column_config"`
	ModelName     string         `json:"model_name"`
	SchemaVersion int            `json:"schema_version"`
	Partitions    map[string]int `json:"partitions"`
}

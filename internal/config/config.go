// Package config 负责加载和管理应用程序的配置。
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// 全局配置变量，存储从配置文件加载的所有设置。
var Conf Config

// Config 是整个应用程序的配置结构体，与 config.yaml 文件结构对应。
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	JWT       JWTConfig       `mapstructure:"jwt"`
	Log       LogConfig       `mapstructure:"log"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	MinIO     MinIOConfig     `mapstructure:"minio"`
	Embedding EmbeddingConfig `mapstructure:"embedding"`
	Reranker  RerankerConfig  `mapstructure:"reranker"`
	Search    SearchConfig    `mapstructure:"search"`
	Index     IndexConfig     `mapstructure:"index"`
	Columns   ColumnsConfig   `mapstructure:"columns"`
}

// ServerConfig 存储服务器相关的配置。
type ServerConfig struct {
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

// DatabaseConfig 存储所有数据库连接的配置。
type DatabaseConfig struct {
	MySQL MySQLConfig `mapstructure:"mysql"`
	Redis RedisConfig `mapstructure:"redis"`
}

// MySQLConfig 存储 MySQL 数据库的配置。
type MySQLConfig struct {
	DSN string `mapstructure:"dsn"`
}

// RedisConfig 存储 Redis 的配置。
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// JWTConfig 存储 JWT 相关的配置。租户 ID 从 token 的 tenant_id 声明中读取。
type JWTConfig struct {
	Secret                 string `mapstructure:"secret"`
	Issuer                 string `mapstructure:"issuer"`
	AccessTokenExpireHours int    `mapstructure:"access_token_expire_hours"`
}

// LogConfig 存储日志相关的配置。
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// KafkaConfig 存储 Kafka 相关的配置。
type KafkaConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Brokers     string `mapstructure:"brokers"`
	Topic       string `mapstructure:"topic"`
	GroupID     string `mapstructure:"group_id"`
	MaxAttempts int    `mapstructure:"max_attempts"`
}

// MinIOConfig 存储 MinIO 对象存储的配置，用作远程持久化的索引产物缓存。
type MinIOConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UseSSL          bool   `mapstructure:"use_ssl"`
	BucketName      string `mapstructure:"bucket_name"`
	Prefix          string `mapstructure:"prefix"`
}

// EmbeddingConfig 存储向量模型相关的配置。
// Provider 为 "http" 时调用 OpenAI 兼容接口，为 "local" 时使用进程内的特征哈希模型。
type EmbeddingConfig struct {
	Provider   string        `mapstructure:"provider"`
	APIKey     string        `mapstructure:"api_key"`
	BaseURL    string        `mapstructure:"base_url"`
	Model      string        `mapstructure:"model"`
	Dimensions int           `mapstructure:"dimensions"`
	BatchSize  int           `mapstructure:"batch_size"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// RerankerConfig 存储交叉编码器（cross-encoder）的配置。
type RerankerConfig struct {
	Provider    string        `mapstructure:"provider"`
	APIKey      string        `mapstructure:"api_key"`
	BaseURL     string        `mapstructure:"base_url"`
	Model       string        `mapstructure:"model"`
	BatchSize   int           `mapstructure:"batch_size"`
	MaxDocChars int           `mapstructure:"max_doc_chars"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// SearchConfig 存储检索与打分融合的参数。
type SearchConfig struct {
	CoarseK         int           `mapstructure:"coarse_k"`
	DefaultTopK     int           `mapstructure:"default_top_k"`
	MaxTopK         int           `mapstructure:"max_top_k"`
	Weights         FusionWeights `mapstructure:"weights"`
	NeutralScore    float64       `mapstructure:"neutral_score"`
	Timeout         time.Duration `mapstructure:"timeout"`
	RerankBudget    time.Duration `mapstructure:"rerank_budget"`
	DegradedCoarseK int           `mapstructure:"degraded_coarse_k"`
}

// FusionWeights 是版本、平台、语言三个信号的权重。
type FusionWeights struct {
	Version  float64 `mapstructure:"version"`
	Platform float64 `mapstructure:"platform"`
	Language float64 `mapstructure:"language"`
}

// IndexConfig 存储本地索引产物与租户注册表的配置。
type IndexConfig struct {
	DataDir            string        `mapstructure:"data_dir"`
	SeedDir            string        `mapstructure:"seed_dir"`
	SchemaVersion      int           `mapstructure:"schema_version"`
	Platforms          []string      `mapstructure:"platforms"`
	MaxResidentTenants int           `mapstructure:"max_resident_tenants"`
	WriteQueueSize     int           `mapstructure:"write_queue_size"`
	ActivateTimeout    time.Duration `mapstructure:"activate_timeout"`
}

// ColumnsConfig 存储列角色识别用的关键词。
// 文本列关键词按语言区域分组，查找时按 Locales 的顺序依次尝试。
type ColumnsConfig struct {
	Locales             []string            `mapstructure:"locales"`
	TextKeywords        map[string][]string `mapstructure:"text_keywords"`
	PlatformKeywords    []string            `mapstructure:"platform_keywords"`
	VersionKeywords     []string            `mapstructure:"version_keywords"`
	LanguageKeywords    []string            `mapstructure:"language_keywords"`
	ApplicationKeywords []string            `mapstructure:"application_keywords"`
	KnownApplications   []string            `mapstructure:"known_applications"`
	MaxSelected         int                 `mapstructure:"max_selected"`
}

// Default 返回内置的默认配置，Init 会在其基础上叠加配置文件与环境变量。
func Default() Config {
	return Config{
		Server: ServerConfig{Port: "8081", Mode: "release"},
		Log:    LogConfig{Level: "info", Format: "json"},
		JWT:    JWTConfig{Issuer: "duplike", AccessTokenExpireHours: 24 * 30},
		Kafka: KafkaConfig{
			Topic:       "duplike-ingest",
			GroupID:     "duplike-go-consumer",
			MaxAttempts: 3,
		},
		MinIO: MinIOConfig{BucketName: "duplike-artifacts", Prefix: "tenants"},
		Embedding: EmbeddingConfig{
			Provider:   "local",
			Model:      "hashing-multilingual-v1",
			Dimensions: 384,
			BatchSize:  32,
			Timeout:    30 * time.Second,
		},
		Reranker: RerankerConfig{
			Provider:    "local",
			Model:       "lexical-overlap-v1",
			BatchSize:   16,
			MaxDocChars: 512,
			Timeout:     15 * time.Second,
		},
		Search: SearchConfig{
			CoarseK:         50,
			DefaultTopK:     10,
			MaxTopK:         100,
			Weights:         FusionWeights{Version: 0.15, Platform: 0.10, Language: 0.05},
			NeutralScore:    0,
			Timeout:         10 * time.Second,
			RerankBudget:    300 * time.Millisecond,
			DegradedCoarseK: 20,
		},
		Index: IndexConfig{
			DataDir:            "data/tenants",
			SchemaVersion:      1,
			Platforms:          []string{"android", "ios"},
			MaxResidentTenants: 64,
			WriteQueueSize:     64,
			ActivateTimeout:    2 * time.Minute,
		},
		Columns: ColumnsConfig{
			Locales: []string{"en", "tr"},
			TextKeywords: map[string][]string{
				"en": {"summary", "description", "title", "content"},
				"tr": {"özet", "açıklama", "başlık", "içerik"},
			},
			PlatformKeywords:    []string{"platform", "component", "os"},
			VersionKeywords:     []string{"app version enhanced", "app version", "affects version", "version", "sürüm"},
			LanguageKeywords:    []string{"language", "lang", "dil"},
			ApplicationKeywords: []string{"application", "uygulama", "app"},
			KnownApplications:   []string{"BiP", "TV+", "Fizy", "Paycell", "LifeBox", "Hesabım", "Dergilik"},
			MaxSelected:         5,
		},
	}
}

// Init 初始化配置加载，从指定的路径读取 YAML 文件并解析到 Conf 变量中。
func Init(configPath string) {
	cfg, err := Load(configPath)
	if err != nil {
		panic(err)
	}
	Conf = cfg
}

// Load 读取配置文件，未出现在文件中的键使用 Default 中的值。
// 环境变量 DUPLIKE_<SECTION>_<KEY> 可覆盖文件中的值。
func Load(configPath string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("duplike")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v, Default())

	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("无法将配置解析到结构体中: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("配置校验失败: %w", err)
	}
	return cfg, nil
}

// setDefaults 把默认配置注册到 viper，使 AutomaticEnv 能覆盖到每一个键。
func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.mode", d.Server.Mode)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("jwt.issuer", d.JWT.Issuer)
	v.SetDefault("jwt.access_token_expire_hours", d.JWT.AccessTokenExpireHours)
	v.SetDefault("kafka.topic", d.Kafka.Topic)
	v.SetDefault("kafka.group_id", d.Kafka.GroupID)
	v.SetDefault("kafka.max_attempts", d.Kafka.MaxAttempts)
	v.SetDefault("minio.bucket_name", d.MinIO.BucketName)
	v.SetDefault("minio.prefix", d.MinIO.Prefix)
	v.SetDefault("embedding.provider", d.Embedding.Provider)
	v.SetDefault("embedding.model", d.Embedding.Model)
	v.SetDefault("embedding.dimensions", d.Embedding.Dimensions)
	v.SetDefault("embedding.batch_size", d.Embedding.BatchSize)
	v.SetDefault("embedding.timeout", d.Embedding.Timeout)
	v.SetDefault("reranker.provider", d.Reranker.Provider)
	v.SetDefault("reranker.model", d.Reranker.Model)
	v.SetDefault("reranker.batch_size", d.Reranker.BatchSize)
	v.SetDefault("reranker.max_doc_chars", d.Reranker.MaxDocChars)
	v.SetDefault("reranker.timeout", d.Reranker.Timeout)
	v.SetDefault("search.coarse_k", d.Search.CoarseK)
	v.SetDefault("search.default_top_k", d.Search.DefaultTopK)
	v.SetDefault("search.max_top_k", d.Search.MaxTopK)
	v.SetDefault("search.weights.version", d.Search.Weights.Version)
	v.SetDefault("search.weights.platform", d.Search.Weights.Platform)
	v.SetDefault("search.weights.language", d.Search.Weights.Language)
	v.SetDefault("search.neutral_score", d.Search.NeutralScore)
	v.SetDefault("search.timeout", d.Search.Timeout)
	v.SetDefault("search.rerank_budget", d.Search.RerankBudget)
	v.SetDefault("search.degraded_coarse_k", d.Search.DegradedCoarseK)
	v.SetDefault("index.data_dir", d.Index.DataDir)
	v.SetDefault("index.schema_version", d.Index.SchemaVersion)
	v.SetDefault("index.platforms", d.Index.Platforms)
	v.SetDefault("index.max_resident_tenants", d.Index.MaxResidentTenants)
	v.SetDefault("index.write_queue_size", d.Index.WriteQueueSize)
	v.SetDefault("index.activate_timeout", d.Index.ActivateTimeout)
	v.SetDefault("columns.locales", d.Columns.Locales)
	v.SetDefault("columns.text_keywords", d.Columns.TextKeywords)
	v.SetDefault("columns.platform_keywords", d.Columns.PlatformKeywords)
	v.SetDefault("columns.version_keywords", d.Columns.VersionKeywords)
	v.SetDefault("columns.language_keywords", d.Columns.LanguageKeywords)
	v.SetDefault("columns.application_keywords", d.Columns.ApplicationKeywords)
	v.SetDefault("columns.known_applications", d.Columns.KnownApplications)
	v.SetDefault("columns.max_selected", d.Columns.MaxSelected)
}

// Validate 检查配置值是否合法。
func (c Config) Validate() error {
	if c.Embedding.Dimensions <= 0 {
		return fmt.Errorf("embedding.dimensions must be positive (got %d)", c.Embedding.Dimensions)
	}
	if c.Embedding.Provider != "http" && c.Embedding.Provider != "local" {
		return fmt.Errorf("embedding.provider must be http or local (got %q)", c.Embedding.Provider)
	}
	if c.Reranker.Provider != "http" && c.Reranker.Provider != "local" {
		return fmt.Errorf("reranker.provider must be http or local (got %q)", c.Reranker.Provider)
	}
	if c.Search.CoarseK <= 0 {
		return fmt.Errorf("search.coarse_k must be positive (got %d)", c.Search.CoarseK)
	}
	if c.Search.MaxTopK <= 0 || c.Search.DefaultTopK <= 0 || c.Search.DefaultTopK > c.Search.MaxTopK {
		return fmt.Errorf("search.default_top_k must be in [1, max_top_k] (got %d, max %d)", c.Search.DefaultTopK, c.Search.MaxTopK)
	}
	if c.Index.SchemaVersion <= 0 {
		return fmt.Errorf("index.schema_version must be positive (got %d)", c.Index.SchemaVersion)
	}
	if c.Columns.MaxSelected <= 0 {
		return fmt.Errorf("columns.max_selected must be positive (got %d)", c.Columns.MaxSelected)
	}
	return nil
}

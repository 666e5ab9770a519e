// Package main 是应用程序的入口点。
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"duplike-go/internal/artifact"
	"duplike-go/internal/cachesync"
	"duplike-go/internal/config"
	"duplike-go/internal/handler"
	"duplike-go/internal/model"
	"duplike-go/internal/pipeline"
	"duplike-go/internal/repository"
	"duplike-go/internal/search"
	"duplike-go/internal/service"
	"duplike-go/internal/tenant"
	"duplike-go/internal/textnorm"
	"duplike-go/pkg/database"
	"duplike-go/pkg/embedding"
	"duplike-go/pkg/kafka"
	"duplike-go/pkg/log"
	"duplike-go/pkg/rerank"
	"duplike-go/pkg/storage"
	"duplike-go/pkg/token"
)

func main() {
	configPath := "./configs/config.yaml"
	if p := os.Getenv("DUPLIKE_CONFIG"); p != "" {
		configPath = p
	}

	// 1. 初始化配置
	config.Init(configPath)
	cfg := config.Conf

	// 2. 初始化日志记录器
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync()
	log.Info("日志记录器初始化成功")

	// 3. 初始化数据库、Redis 与对象存储
	var repo tenant.Repository
	if cfg.Database.MySQL.DSN != "" {
		database.InitMySQL(cfg.Database.MySQL.DSN)
		defer database.CloseMySQL()
		repo = repository.NewReportRepository(database.DB)
	} else {
		log.Warnf("未配置 MySQL，原始行只保存在内存中，进程重启后需要重新上传")
		repo = repository.NewMemoryReportRepository()
	}

	var markers cachesync.MarkerStore
	var attempts kafka.AttemptCounter
	if cfg.Database.Redis.Addr != "" {
		database.InitRedis(cfg.Database.Redis)
		defer database.CloseRedis()
		markers = repository.NewSyncMarkerRepository(database.RDB)
		attempts = kafka.NewRedisAttemptCounter(database.RDB)
	} else {
		log.Warnf("未配置 Redis，远程产物的补传与补删标记只保存在内存中")
		markers = cachesync.NewMemoryMarkerStore()
	}

	var remote storage.ArtifactStore
	if cfg.MinIO.Enabled {
		storage.InitMinIO(cfg.MinIO)
		remote = storage.NewMinioArtifactStore(storage.MinioClient, cfg.MinIO.BucketName, cfg.MinIO.Prefix)
	} else {
		log.Warnf("未启用 MinIO，索引产物只保存在本地磁盘")
	}

	disk, err := artifact.NewDiskStore(cfg.Index.DataDir)
	if err != nil {
		log.Fatal("初始化本地产物目录失败", err)
	}

	// 4. 初始化模型
	encoder, err := embedding.NewClient(cfg.Embedding)
	if err != nil {
		log.Fatal("初始化向量模型失败", err)
	}
	reranker, err := rerank.NewClient(cfg.Reranker)
	if err != nil {
		log.Fatal("初始化精排模型失败", err)
	}
	log.Infof("模型加载完成, embedding: %s (dim=%d), reranker: %s", encoder.ModelName(), encoder.Dimension(), reranker.ModelName())

	// 5. 初始化租户注册表与 Service (依赖注入)
	normalizer := textnorm.New(cfg.Columns, cfg.Index.Platforms)
	registry, err := tenant.NewRegistry(tenant.Deps{
		Encoder:         encoder,
		Normalizer:      normalizer,
		Repo:            repo,
		Cache:           cachesync.New(disk, remote, markers),
		SchemaVersion:   cfg.Index.SchemaVersion,
		QueueSize:       cfg.Index.WriteQueueSize,
		ActivateTimeout: cfg.Index.ActivateTimeout,
	}, cfg.Index.MaxResidentTenants)
	if err != nil {
		log.Fatal("初始化租户注册表失败", err)
	}
	defer registry.Close()

	engine := search.NewEngine(encoder, reranker, normalizer, cfg.Search, cfg.Index.Platforms)
	datasetService := service.NewDatasetService(registry)
	searchService := service.NewSearchService(registry, engine)

	// 6. 异步追加队列
	consumerCtx, stopConsumer := context.WithCancel(context.Background())
	defer stopConsumer()
	var publisher service.IngestPublisher
	if cfg.Kafka.Enabled && attempts != nil {
		producer := kafka.NewProducer(cfg.Kafka)
		defer producer.Close()
		publisher = producer
	} else if cfg.Kafka.Enabled {
		log.Warnf("Kafka 已启用但未配置 Redis，异步追加不可用")
	}
	reportService := service.NewReportService(registry, publisher)
	if publisher != nil {
		processor := pipeline.NewProcessor(reportService)
		go kafka.StartConsumer(consumerCtx, cfg.Kafka, processor, attempts)
	}

	// 6.1 导入 seed 目录下尚未存在的租户数据集
	go initSeedDatasets(consumerCtx, cfg.Index.SeedDir, datasetService)

	// 7. 设置 Gin 模式并注册路由
	gin.SetMode(cfg.Server.Mode)
	router := handler.Router{
		JWT:      token.NewJWTManager(cfg.JWT.Secret, cfg.JWT.Issuer, cfg.JWT.AccessTokenExpireHours),
		Datasets: handler.NewDatasetHandler(datasetService),
		Reports:  handler.NewReportHandler(reportService),
		Search:   handler.NewSearchHandler(searchService, cfg.Search.DefaultTopK),
		Health:   handler.NewHealthHandler(encoder.ModelName(), reranker.ModelName(), registry.Resident),
	}

	// 启动 HTTP 服务器并实现优雅停机
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router.Engine(),
	}
	go func() {
		log.Infof("服务启动于 %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("HTTP 服务监听失败: %s\n", err)
		}
	}()

	// 等待中断信号以实现优雅停机
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("接收到停机信号，正在关闭服务...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Errorf("HTTP 服务器关闭失败: %v", err)
	}
	stopConsumer()
	log.Info("服务已优雅关闭")
}

// initSeedDatasets 扫描目录下的 <tenant>.json 文件，为还没有数据的租户执行一次全量上传（幂等）。
func initSeedDatasets(ctx context.Context, dir string, datasets service.DatasetService) {
	if dir == "" {
		return
	}
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		log.Infof("initSeedDatasets: 目录 '%s' 不存在或不可用，跳过初始化导入", dir)
		return
	}

	files, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		log.Warnf("initSeedDatasets: 遍历目录发生错误: %v", err)
		return
	}
	for _, path := range files {
		if ctx.Err() != nil {
			return
		}
		tenantID := strings.TrimSuffix(filepath.Base(path), ".json")

		// 幂等检查：已有数据则跳过
		if status, err := datasets.Status(ctx, tenantID); err != nil || status.Exists {
			if err != nil {
				log.Warnf("initSeedDatasets: 查询租户状态失败: %s, err=%v", tenantID, err)
			} else {
				log.Infof("initSeedDatasets: 已存在，跳过: %s", tenantID)
			}
			continue
		}

		raw, err := os.ReadFile(path)
		if err != nil {
			log.Warnf("initSeedDatasets: 读取文件失败: %s, err=%v", path, err)
			continue
		}
		var upload model.DatasetUpload
		if err := json.Unmarshal(raw, &upload); err != nil {
			log.Warnf("initSeedDatasets: 解析文件失败: %s, err=%v", path, err)
			continue
		}
		if upload.FileName == "" {
			upload.FileName = filepath.Base(path)
		}
		result, err := datasets.Upload(ctx, tenantID, upload)
		if err != nil {
			log.Warnf("initSeedDatasets: 导入失败: %s, err=%v", path, err)
			continue
		}
		log.Infof("initSeedDatasets: 导入完成: %s, rows=%d", tenantID, result.RowCount)
	}
}

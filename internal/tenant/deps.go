// Package tenant 管理每个租户的索引状态：原始行表、嵌入矩阵、分区索引与元数据，
// 并保证同一租户的写入串行执行、读者永远看不到半提交的状态。
package tenant

import (
	"context"
	"time"

	"duplike-go/internal/artifact"
	"duplike-go/internal/model"
	"duplike-go/internal/textnorm"
	"duplike-go/pkg/embedding"
)

// State 是租户索引的生命周期状态。
type State string

const (
	StateAbsent   State = "ABSENT"
	StateBuilding State = "BUILDING"
	StateReady    State = "READY"
	StateCorrupt  State = "CORRUPT"
)

// Dataset 是上传子系统持有的租户数据，Records 按 offset 排列。
// Generation 在每次全量替换或修改文本列时变化，追加记录不改变它。
type Dataset struct {
	FileName           string
	Columns            []string
	SelectedColumns    []string
	CategoricalColumns []string
	Generation         int64
	Records            []model.Record
}

// Revision 是 Repository 中数据集的当前版本，用来判断已有产物是否还对应这份数据。
type Revision struct {
	Generation int64
	Rows       int
}

// Repository 是租户原始行的权威来源，同时记录每一次增量写入。
// 没有数据的租户，LoadDataset 与 Revision 返回 errs.ErrTenantNotFound。
// ReplaceDataset 与 UpdateSelectedColumns 返回写入后的 Generation。
type Repository interface {
	LoadDataset(ctx context.Context, tenantID string) (*Dataset, error)
	Revision(ctx context.Context, tenantID string) (Revision, error)
	ReplaceDataset(ctx context.Context, tenantID string, ds *Dataset) (int64, error)
	UpdateSelectedColumns(ctx context.Context, tenantID string, selected []string) (int64, error)
	AppendReport(ctx context.Context, tenantID string, offset int, rec model.Record, columns []string) error
	DeleteReport(ctx context.Context, tenantID string, offset int) error
	DeleteDataset(ctx context.Context, tenantID string) error
}

// Cache 负责产物在本地与远程之间的同步。
//   - Load 命中时返回校验通过的产物；未命中时返回 (nil, nil)；
//     损坏或模型版本不一致时返回对应错误，调用方一律重建。
//     远程删除尚未完成的租户不会从远程恢复。
//   - Persist 同步写入本地，失败时本次变更不提交。
//   - Publish 上传到远程，失败只记录待重试标记。
//   - Remove 删除本地与远程产物，远程删除失败时记录待删除标记并返回错误。
type Cache interface {
	Load(ctx context.Context, tenantID string, id artifact.Identity) (*artifact.Set, error)
	Persist(ctx context.Context, tenantID string, files artifact.Files) error
	Publish(ctx context.Context, tenantID string, files artifact.Files)
	Remove(ctx context.Context, tenantID string) error
}

// Deps 是所有租户共享的只读依赖。
type Deps struct {
	Encoder         embedding.Client
	Normalizer      *textnorm.Normalizer
	Repo            Repository
	Cache           Cache
	SchemaVersion   int
	QueueSize       int
	ActivateTimeout time.Duration
}

// Identity 返回当前模型身份，决定已有产物能否复用。
func (d Deps) Identity() artifact.Identity {
	return artifact.Identity{
		ModelName:     d.Encoder.ModelName(),
		Dimension:     d.Encoder.Dimension(),
		SchemaVersion: d.SchemaVersion,
		Partitions:    d.Normalizer.Partitions(),
	}
}

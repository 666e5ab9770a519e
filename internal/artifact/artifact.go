// Package artifact 定义租户索引的四个持久化产物及其编解码和本地原子落盘。
//
// 四个产物是一个整体：原始行表、嵌入矩阵、分区索引与元数据。元数据记录行数和其余
// 三个产物的 xxhash 校验值，加载时任何不一致都视为损坏。
package artifact

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"sort"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/vmihailenco/msgpack/v5"

	"duplike-go/internal/model"
	"duplike-go/internal/vectorindex"
	"duplike-go/pkg/errs"
)

// 产物文件名。
const (
	RowsFile       = "rows.msgpack"
	EmbeddingsFile = "embeddings.f32"
	IndexFile      = "index.msgpack"
	MetadataFile   = "metadata.json"
)

// Names 是全部产物名。远程上传时元数据放在最后，下载时最先读取。
var Names = []string{RowsFile, EmbeddingsFile, IndexFile, MetadataFile}

// Files 是产物名到内容的映射。
type Files map[string][]byte

// Complete 判断四个产物是否齐全。
func (f Files) Complete() bool {
	for _, n := range Names {
		if _, ok := f[n]; !ok {
			return false
		}
	}
	return true
}

// Table 是原始行表，Reports[i].Offset == i。
type Table struct {
	Schema  model.Schema   `msgpack:"schema"`
	Reports []model.Report `msgpack:"reports"`
}

// Metadata 是 metadata.json 的内容。
type Metadata struct {
	TenantID      string            `json:"tenant_id"`
	ModelName     string            `json:"model_name"`
	Dimension     int               `json:"embedding_dim"`
	SchemaVersion int               `json:"schema_version"`
	FormatVersion string            `json:"format_version"`
	RowCount      int               `json:"num_records"`
	Generation    int64             `json:"generation"`
	ColumnConfig  model.Schema      `json:"column_config"`
	Partitions    map[string]int    `json:"partitions"`
	Layout        []string          `json:"partition_layout"`
	Checksums     map[string]string `json:"checksums"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

// Identity 是决定产物能否被复用的模型身份。
type Identity struct {
	ModelName     string
	Dimension     int
	SchemaVersion int
	// Partitions 是当前配置的分区名，顺序无关。
	Partitions []string
}

// CheckCompatible 在元数据与当前模型身份不一致时返回 ErrModelVersionMismatch。
func (m Metadata) CheckCompatible(id Identity) error {
	if m.ModelName != id.ModelName || m.Dimension != id.Dimension || m.SchemaVersion != id.SchemaVersion || m.FormatVersion != vectorindex.FormatVersion {
		return errs.Wrap(errs.ErrModelVersionMismatch,
			"artifacts built with %s/%d/v%d (format %s), current %s/%d/v%d",
			m.ModelName, m.Dimension, m.SchemaVersion, m.FormatVersion, id.ModelName, id.Dimension, id.SchemaVersion)
	}
	if want := sortedCopy(id.Partitions); !slices.Equal(m.Layout, want) {
		return errs.Wrap(errs.ErrModelVersionMismatch, "artifacts partitioned as %v, current %v", m.Layout, want)
	}
	return nil
}

func sortedCopy(names []string) []string {
	out := append([]string{}, names...)
	sort.Strings(out)
	return out
}

// Set 是一个租户完整的内存态产物。
type Set struct {
	Metadata   Metadata
	Table      Table
	Embeddings *Matrix
	Index      *vectorindex.Partitioned
}

// Encode 编码四个产物，并把行数、分区大小与校验值写入元数据。
func Encode(set *Set) (Files, error) {
	rows, err := msgpack.Marshal(&set.Table)
	if err != nil {
		return nil, fmt.Errorf("encode rows: %w", err)
	}
	emb := EncodeMatrix(set.Embeddings)
	var idx bytes.Buffer
	if err := set.Index.Save(&idx); err != nil {
		return nil, fmt.Errorf("encode index: %w", err)
	}

	meta := set.Metadata
	meta.FormatVersion = vectorindex.FormatVersion
	meta.RowCount = len(set.Table.Reports)
	meta.ColumnConfig = set.Table.Schema
	meta.Partitions = set.Index.Sizes()
	meta.Layout = sortedCopy(set.Index.Partitions())
	meta.Checksums = map[string]string{
		RowsFile:       checksum(rows),
		EmbeddingsFile: checksum(emb),
		IndexFile:      checksum(idx.Bytes()),
	}
	metaBytes, err := json.MarshalIndent(&meta, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}
	set.Metadata = meta

	return Files{
		RowsFile:       rows,
		EmbeddingsFile: emb,
		IndexFile:      idx.Bytes(),
		MetadataFile:   metaBytes,
	}, nil
}

// DecodeMetadata 只解析元数据，用于在下载其余产物之前判断版本。
func DecodeMetadata(data []byte) (Metadata, error) {
	var meta Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return Metadata{}, errs.WrapCause(errs.ErrIndexCorruption, err, "parse %s", MetadataFile)
	}
	return meta, nil
}

// Decode 解码并校验四个产物。缺失、校验值不符或行数不一致都返回 ErrIndexCorruption。
func Decode(files Files) (*Set, error) {
	if !files.Complete() {
		return nil, errs.Wrap(errs.ErrIndexCorruption, "artifact set is incomplete")
	}
	meta, err := DecodeMetadata(files[MetadataFile])
	if err != nil {
		return nil, err
	}
	for _, name := range []string{RowsFile, EmbeddingsFile, IndexFile} {
		if got := checksum(files[name]); got != meta.Checksums[name] {
			return nil, errs.Wrap(errs.ErrIndexCorruption, "%s checksum %s does not match metadata %s", name, got, meta.Checksums[name])
		}
	}

	var table Table
	if err := msgpack.Unmarshal(files[RowsFile], &table); err != nil {
		return nil, errs.WrapCause(errs.ErrIndexCorruption, err, "decode %s", RowsFile)
	}
	emb, err := DecodeMatrix(files[EmbeddingsFile], meta.Dimension)
	if err != nil {
		return nil, errs.WrapCause(errs.ErrIndexCorruption, err, "decode %s", EmbeddingsFile)
	}
	idx, err := vectorindex.LoadPartitioned(bytes.NewReader(files[IndexFile]))
	if err != nil {
		return nil, errs.WrapCause(errs.ErrIndexCorruption, err, "decode %s", IndexFile)
	}

	set := &Set{Metadata: meta, Table: table, Embeddings: emb, Index: idx}
	if err := set.Validate(); err != nil {
		return nil, err
	}
	return set, nil
}

// Validate 检查计数不变式：len(matrix) == Σ 分区大小 == 原始行数 == 元数据行数，且 offset 连续。
func (s *Set) Validate() error {
	n := len(s.Table.Reports)
	if s.Metadata.RowCount != n || s.Embeddings.Rows() != n || s.Index.Len() != n {
		return errs.Wrap(errs.ErrIndexCorruption, "row counts disagree: metadata=%d rows=%d matrix=%d index=%d",
			s.Metadata.RowCount, n, s.Embeddings.Rows(), s.Index.Len())
	}
	if s.Index.Dim() != s.Embeddings.Dim {
		return errs.Wrap(errs.ErrIndexCorruption, "index dim %d differs from matrix dim %d", s.Index.Dim(), s.Embeddings.Dim)
	}
	for i, r := range s.Table.Reports {
		if r.Offset != i {
			return errs.Wrap(errs.ErrIndexCorruption, "row %d carries offset %d", i, r.Offset)
		}
	}
	return nil
}

func checksum(data []byte) string {
	return strconv.FormatUint(xxhash.Sum64(data), 16)
}

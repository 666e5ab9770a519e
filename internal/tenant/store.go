package tenant

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"duplike-go/internal/artifact"
	"duplike-go/internal/model"
	"duplike-go/internal/vectorindex"
	"duplike-go/pkg/errs"
	"duplike-go/pkg/log"
)

type request struct {
	ctx  context.Context
	fn   func(ctx context.Context) error
	done chan error
}

// Store 持有一个租户的索引。写操作进入队列，由单个 goroutine 依次执行；
// 读操作在读锁下取得当前已提交的产物集合，之后无需持锁即可使用。
type Store struct {
	tenantID string
	deps     Deps

	mu    sync.RWMutex
	state State
	set   *artifact.Set

	writes    chan *request
	quit      chan struct{}
	stopped   chan struct{}
	activated chan struct{}
	closeOnce sync.Once
}

// NewStore 创建租户 Store 并在后台激活：先尝试复用已有产物，否则从 Repository 重建。
func NewStore(tenantID string, deps Deps) *Store {
	return newStore(tenantID, deps, nil)
}

// newStore 在 after 关闭之后才开始激活，用于等待同一租户上一个 Store 完成最后的写入。
func newStore(tenantID string, deps Deps, after <-chan struct{}) *Store {
	if deps.QueueSize <= 0 {
		deps.QueueSize = 64
	}
	if deps.ActivateTimeout <= 0 {
		deps.ActivateTimeout = 2 * time.Minute
	}
	s := &Store{
		tenantID:  tenantID,
		deps:      deps,
		state:     StateBuilding,
		writes:    make(chan *request, deps.QueueSize),
		quit:      make(chan struct{}),
		stopped:   make(chan struct{}),
		activated: make(chan struct{}),
	}
	go s.run(after)
	return s
}

// TenantID 返回租户 ID。
func (s *Store) TenantID() string { return s.tenantID }

// WaitActivated 等待激活完成。
func (s *Store) WaitActivated(ctx context.Context) error {
	select {
	case <-s.activated:
		return nil
	case <-s.stopped:
		return errs.ErrStoreClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close 停止写入 goroutine。正在执行的写操作会完成，排队中的写操作返回 ErrStoreClosed。
func (s *Store) Close() {
	s.closeOnce.Do(func() { close(s.quit) })
	<-s.stopped
}

func (s *Store) run(after <-chan struct{}) {
	defer close(s.stopped)
	if after != nil {
		<-after
	}

	actx, cancel := context.WithTimeout(context.Background(), s.deps.ActivateTimeout)
	s.activate(actx)
	cancel()
	close(s.activated)

	for {
		select {
		case <-s.quit:
			return
		case req := <-s.writes:
			if err := req.ctx.Err(); err != nil {
				req.done <- err
				continue
			}
			req.done <- req.fn(req.ctx)
		}
	}
}

// submit 把写操作交给写入 goroutine 并等待结果。
func (s *Store) submit(ctx context.Context, fn func(ctx context.Context) error) error {
	req := &request{ctx: ctx, fn: fn, done: make(chan error, 1)}
	select {
	case s.writes <- req:
	case <-s.stopped:
		return errs.ErrStoreClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-req.done:
		return err
	case <-s.stopped:
		select {
		case err := <-req.done:
			return err
		default:
			return errs.ErrStoreClosed
		}
	}
}

func (s *Store) snapshot() (State, *artifact.Set) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state, s.set
}

func (s *Store) setState(state State, set *artifact.Set) {
	s.mu.Lock()
	s.state, s.set = state, set
	s.mu.Unlock()
}

// View 返回当前已提交的产物集合，供检索使用。返回的集合不会再被修改。
// 正在重建时返回 ErrNotReady；损坏时同时触发一次后台重建。
func (s *Store) View() (*artifact.Set, error) {
	state, set := s.snapshot()
	switch state {
	case StateReady:
		return set, nil
	case StateAbsent:
		return nil, errs.Wrap(errs.ErrTenantNotFound, "tenant %s", s.tenantID)
	case StateCorrupt:
		s.triggerRebuild()
		return nil, errs.Wrap(errs.ErrNotReady, "tenant %s index is being rebuilt", s.tenantID)
	default:
		return nil, errs.Wrap(errs.ErrNotReady, "tenant %s index is being rebuilt", s.tenantID)
	}
}

// Status 返回租户索引的状态。
func (s *Store) Status() model.TenantStatus {
	state, set := s.snapshot()
	st := model.TenantStatus{
		Exists:        state != StateAbsent,
		State:         string(state),
		ModelName:     s.deps.Encoder.ModelName(),
		SchemaVersion: s.deps.SchemaVersion,
	}
	if set != nil {
		st.RowCount = len(set.Table.Reports)
		st.ColumnConfig = set.Table.Schema
		st.ModelName = set.Metadata.ModelName
		st.SchemaVersion = set.Metadata.SchemaVersion
		st.Partitions = set.Index.Sizes()
	}
	return st
}

// ColumnValues 返回某一列去重排序后的取值。
func (s *Store) ColumnValues(column string) ([]string, error) {
	set, err := s.View()
	if err != nil {
		return nil, err
	}
	if !set.Table.Schema.HasColumn(column) {
		return nil, errs.Wrap(errs.ErrValidation, "unknown column %q", column)
	}
	seen := make(map[string]struct{})
	values := make([]string, 0)
	for _, r := range set.Table.Reports {
		v := r.Record.Get(column)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; !ok {
			seen[v] = struct{}{}
			values = append(values, v)
		}
	}
	sort.Strings(values)
	return values, nil
}

// Upload 用一份完整数据替换租户数据并全量重建索引。
func (s *Store) Upload(ctx context.Context, ds *Dataset) (int, error) {
	var rows int
	err := s.submit(ctx, func(ctx context.Context) error {
		schema, err := s.deps.Normalizer.ResolveSchema(ds.Columns, ds.Records, ds.SelectedColumns, ds.CategoricalColumns)
		if err != nil {
			return err
		}
		stored := *ds
		stored.Columns = schema.Columns
		stored.CategoricalColumns = schema.CategoricalColumns
		gen, err := s.deps.Repo.ReplaceDataset(ctx, s.tenantID, &stored)
		if err != nil {
			return fmt.Errorf("save dataset: %w", err)
		}
		stored.Generation = gen
		if err := s.build(ctx, &stored); err != nil {
			return err
		}
		rows = len(ds.Records)
		return nil
	})
	return rows, err
}

// UpdateColumns 修改文本列。规范文本随之变化，因此会全量重建。
func (s *Store) UpdateColumns(ctx context.Context, selected []string) (int, error) {
	var rows int
	err := s.submit(ctx, func(ctx context.Context) error {
		if len(selected) == 0 {
			return errs.Wrap(errs.ErrValidation, "at least one text column must be selected")
		}
		ds, err := s.deps.Repo.LoadDataset(ctx, s.tenantID)
		if err != nil {
			return err
		}
		known := model.Schema{Columns: ds.Columns}
		for _, c := range selected {
			if !known.HasColumn(c) {
				return errs.Wrap(errs.ErrValidation, "unknown column %q", c)
			}
		}
		if _, err := s.deps.Normalizer.ResolveSchema(ds.Columns, nil, selected, nil); err != nil {
			return err
		}
		gen, err := s.deps.Repo.UpdateSelectedColumns(ctx, s.tenantID, selected)
		if err != nil {
			return fmt.Errorf("save selected columns: %w", err)
		}
		ds.SelectedColumns = selected
		ds.Generation = gen
		if err := s.build(ctx, ds); err != nil {
			return err
		}
		rows = len(ds.Records)
		return nil
	})
	return rows, err
}

// Clear 删除租户的全部数据与产物，状态回到 ABSENT。
func (s *Store) Clear(ctx context.Context) error {
	return s.submit(ctx, func(ctx context.Context) error {
		if err := s.deps.Repo.DeleteDataset(ctx, s.tenantID); err != nil {
			return fmt.Errorf("delete dataset: %w", err)
		}
		if err := s.deps.Cache.Remove(ctx, s.tenantID); err != nil {
			log.Warnf("[TenantStore] 删除产物失败, tenant: %s, error: %v", s.tenantID, err)
		}
		s.setState(StateAbsent, nil)
		log.Infof("[TenantStore] 租户数据已清空, tenant: %s", s.tenantID)
		return nil
	})
}

// Add 追加一条报告并返回它的 offset。
// 编码、产物落盘、记录写入任一步失败都不会提交，已有状态保持不变。
func (s *Store) Add(ctx context.Context, row model.Row) (int, error) {
	rec, err := model.NewRecord(row)
	if err != nil {
		return 0, errs.WrapCause(errs.ErrValidation, err, "invalid row")
	}
	if len(rec.Fields) == 0 {
		return 0, errs.Wrap(errs.ErrValidation, "row has no values")
	}

	var offset int
	err = s.submit(ctx, func(ctx context.Context) error {
		var err error
		offset, err = s.add(ctx, rec)
		return err
	})
	return offset, err
}

func (s *Store) add(ctx context.Context, rec model.Record) (int, error) {
	state, cur := s.snapshot()
	if state == StateCorrupt {
		if err := s.rebuildFromRepo(ctx); err != nil {
			return 0, err
		}
		state, cur = s.snapshot()
	}
	switch state {
	case StateReady:
	case StateAbsent:
		return 0, errs.Wrap(errs.ErrTenantNotFound, "tenant %s has no dataset, upload first", s.tenantID)
	default:
		return 0, errs.Wrap(errs.ErrNotReady, "tenant %s is %s", s.tenantID, state)
	}

	// 步骤1: 分配 offset 并确定追加后的列结构
	offset := len(cur.Table.Reports)
	schema, reshaped, err := s.nextSchema(cur, rec)
	if err != nil {
		return 0, err
	}

	// 步骤2~3: 在不影响当前集合的前提下暂存新集合并编码产物。
	// 新列改变了文本列或列角色时，已有报告的规范文本也要重新生成
	var staged *artifact.Set
	var files artifact.Files
	if reshaped {
		log.Infow("[TenantStore] 新列改变了列结构, 重新生成全部报告", "tenant", s.tenantID,
			"text_columns", schema.TextColumns, "rows", offset+1)
		staged, files, err = s.buildSet(ctx, datasetWith(cur, rec, schema))
	} else {
		staged, files, err = s.stage(ctx, cur, rec, schema)
	}
	if err != nil {
		return 0, err
	}
	report := staged.Table.Reports[offset]

	// 步骤4: 写入记录，再原子替换本地产物；替换失败时撤销记录
	if err := s.deps.Repo.AppendReport(ctx, s.tenantID, offset, rec, schema.Columns); err != nil {
		return 0, fmt.Errorf("journal report: %w", err)
	}
	if err := s.deps.Cache.Persist(ctx, s.tenantID, files); err != nil {
		if derr := s.deps.Repo.DeleteReport(context.Background(), s.tenantID, offset); derr != nil {
			log.Errorf("[TenantStore] 撤销记录失败, tenant: %s, offset: %d, error: %v", s.tenantID, offset, derr)
			s.setState(StateCorrupt, nil)
		}
		return 0, fmt.Errorf("persist artifacts: %w", err)
	}

	// 步骤5: 提交并上传
	s.setState(StateReady, staged)
	log.Infow("[TenantStore] 报告已追加", "tenant", s.tenantID, "offset", offset, "platform", report.Platform, "rows", offset+1)
	s.deps.Cache.Publish(ctx, s.tenantID, files)
	return offset, nil
}

// stage 在当前集合的基础上追加一条报告，不修改 cur。
func (s *Store) stage(ctx context.Context, cur *artifact.Set, rec model.Record, schema model.Schema) (*artifact.Set, artifact.Files, error) {
	offset := len(cur.Table.Reports)
	report := s.deps.Normalizer.Describe(s.tenantID, offset, rec, schema)

	vec, err := s.deps.Encoder.Encode(ctx, report.Text)
	if err != nil {
		return nil, nil, err
	}
	emb, err := cur.Embeddings.With(vec)
	if err != nil {
		return nil, nil, errs.WrapCause(errs.ErrEncoding, err, "encoder returned a vector of the wrong size")
	}
	idx, err := cur.Index.With(report.Platform, offset, vec)
	if err != nil {
		return nil, nil, err
	}
	staged := &artifact.Set{
		Metadata:   cur.Metadata,
		Table:      artifact.Table{Schema: schema, Reports: append(cur.Table.Reports, report)},
		Embeddings: emb,
		Index:      idx,
	}
	staged.Metadata.UpdatedAt = time.Now()
	files, err := artifact.Encode(staged)
	if err != nil {
		return nil, nil, err
	}
	return staged, files, nil
}

// nextSchema 返回追加 rec 之后的列结构。出现新列时按全部记录重新解析，
// 与从 Repository 重建得到的结果一致；reshaped 表示已有报告的文本列或列角色因此改变。
func (s *Store) nextSchema(cur *artifact.Set, rec model.Record) (schema model.Schema, reshaped bool, err error) {
	schema = cloneSchema(cur.Table.Schema)
	if !schema.Extend(rec) {
		return schema, false, nil
	}
	records := make([]model.Record, 0, len(cur.Table.Reports)+1)
	for _, r := range cur.Table.Reports {
		records = append(records, r.Record)
	}
	records = append(records, rec)
	resolved, err := s.deps.Normalizer.ResolveSchema(schema.Columns, records, schema.SelectedColumns, schema.CategoricalColumns)
	if err != nil {
		return model.Schema{}, false, err
	}
	changed := !slices.Equal(resolved.TextColumns, cur.Table.Schema.TextColumns) || resolved.Roles != cur.Table.Schema.Roles
	return resolved, changed && len(cur.Table.Reports) > 0, nil
}

func datasetWith(cur *artifact.Set, rec model.Record, schema model.Schema) *Dataset {
	ds := &Dataset{
		Columns:            schema.Columns,
		SelectedColumns:    schema.SelectedColumns,
		CategoricalColumns: schema.CategoricalColumns,
		Generation:         cur.Metadata.Generation,
		Records:            make([]model.Record, 0, len(cur.Table.Reports)+1),
	}
	for _, r := range cur.Table.Reports {
		ds.Records = append(ds.Records, r.Record)
	}
	ds.Records = append(ds.Records, rec)
	return ds
}

// activate 在写入 goroutine 启动时执行一次。已有产物只有在与 Repository 的
// generation 和行数都一致时才会被采用。
func (s *Store) activate(ctx context.Context) {
	id := s.deps.Identity()
	set, err := s.deps.Cache.Load(ctx, s.tenantID, id)
	switch {
	case err == nil && set != nil:
		verr := s.checkRevision(ctx, set)
		if verr == nil {
			s.setState(StateReady, set)
			log.Infof("[TenantStore] 复用已有产物, tenant: %s, rows: %d", s.tenantID, len(set.Table.Reports))
			return
		}
		if errors.Is(verr, errs.ErrTenantNotFound) {
			log.Warnf("[TenantStore] 租户已无数据, 丢弃残留产物, tenant: %s", s.tenantID)
			if rerr := s.deps.Cache.Remove(ctx, s.tenantID); rerr != nil {
				log.Warnf("[TenantStore] 删除残留产物失败, tenant: %s, error: %v", s.tenantID, rerr)
			}
			s.setState(StateAbsent, nil)
			return
		}
		log.Warnf("[TenantStore] 产物与记录不一致, 自动重建, tenant: %s, detail: %v", s.tenantID, verr)
	case errors.Is(err, errs.ErrModelVersionMismatch):
		log.Infof("[TenantStore] 模型版本变化, 需要重建, tenant: %s, detail: %v", s.tenantID, err)
	case errors.Is(err, errs.ErrIndexCorruption):
		log.Warnf("[TenantStore] 产物不一致, 自动重建, tenant: %s, detail: %v", s.tenantID, err)
		s.setState(StateCorrupt, nil)
	case err != nil:
		log.Warnf("[TenantStore] 读取产物失败, 尝试重建, tenant: %s, error: %v", s.tenantID, err)
	}
	if err := s.rebuildFromRepo(ctx); err != nil {
		log.Errorf("[TenantStore] 重建失败, tenant: %s, error: %v", s.tenantID, err)
	}
}

// checkRevision 确认产物对应 Repository 中当前的数据。
func (s *Store) checkRevision(ctx context.Context, set *artifact.Set) error {
	rev, err := s.deps.Repo.Revision(ctx, s.tenantID)
	if err != nil {
		return err
	}
	if rev.Generation != set.Metadata.Generation || rev.Rows != set.Metadata.RowCount {
		return errs.Wrap(errs.ErrIndexCorruption, "artifacts hold generation %d with %d rows, repository has generation %d with %d rows",
			set.Metadata.Generation, set.Metadata.RowCount, rev.Generation, rev.Rows)
	}
	return nil
}

func (s *Store) triggerRebuild() {
	req := &request{
		ctx:  context.Background(),
		fn:   s.rebuildIfCorrupt,
		done: make(chan error, 1),
	}
	select {
	case s.writes <- req:
	default:
	}
}

func (s *Store) rebuildIfCorrupt(ctx context.Context) error {
	if state, _ := s.snapshot(); state != StateCorrupt {
		return nil
	}
	return s.rebuildFromRepo(ctx)
}

func (s *Store) rebuildFromRepo(ctx context.Context) error {
	ds, err := s.deps.Repo.LoadDataset(ctx, s.tenantID)
	if errors.Is(err, errs.ErrTenantNotFound) {
		s.setState(StateAbsent, nil)
		return nil
	}
	if err != nil {
		s.setState(StateCorrupt, nil)
		return fmt.Errorf("load dataset: %w", err)
	}
	return s.build(ctx, ds)
}

// build 从完整数据集重建全部分区。调用时 Repository 已经是新数据，
// 因此构建失败会把状态置为 CORRUPT 并删除旧产物，下次访问时重试。
func (s *Store) build(ctx context.Context, ds *Dataset) error {
	_, prevSet := s.snapshot()
	s.setState(StateBuilding, prevSet)
	started := time.Now()

	set, files, err := s.buildSet(ctx, ds)
	if err == nil {
		err = s.deps.Cache.Persist(ctx, s.tenantID, files)
	}
	if err != nil {
		s.setState(StateCorrupt, nil)
		log.Errorf("[TenantStore] 索引构建失败, tenant: %s, error: %v", s.tenantID, err)
		if rerr := s.deps.Cache.Remove(context.WithoutCancel(ctx), s.tenantID); rerr != nil {
			log.Warnf("[TenantStore] 删除旧产物失败, tenant: %s, error: %v", s.tenantID, rerr)
		}
		return err
	}

	s.setState(StateReady, set)
	log.Infow("[TenantStore] 索引构建完成", "tenant", s.tenantID, "rows", len(ds.Records),
		"partitions", set.Index.Sizes(), "elapsed", time.Since(started).String())
	s.deps.Cache.Publish(ctx, s.tenantID, files)
	return nil
}

func (s *Store) buildSet(ctx context.Context, ds *Dataset) (*artifact.Set, artifact.Files, error) {
	schema, err := s.deps.Normalizer.ResolveSchema(ds.Columns, ds.Records, ds.SelectedColumns, ds.CategoricalColumns)
	if err != nil {
		return nil, nil, err
	}

	// 步骤1: 生成规范文本
	reports := make([]model.Report, len(ds.Records))
	texts := make([]string, len(ds.Records))
	for i, rec := range ds.Records {
		reports[i] = s.deps.Normalizer.Describe(s.tenantID, i, rec, schema)
		texts[i] = reports[i].Text
	}

	// 步骤2: 批量编码
	var vecs [][]float32
	if len(texts) > 0 {
		vecs, err = s.deps.Encoder.EncodeBatch(ctx, texts)
		if err != nil {
			return nil, nil, err
		}
	}

	// 步骤3: 重建矩阵与全部分区
	dim := s.deps.Encoder.Dimension()
	emb := artifact.NewMatrix(dim, len(vecs))
	idx := vectorindex.NewPartitioned(dim, s.deps.Normalizer.Partitions())
	for i, v := range vecs {
		if err := emb.Append(v); err != nil {
			return nil, nil, errs.WrapCause(errs.ErrEncoding, err, "row %d", i)
		}
		if err := idx.Add(reports[i].Platform, i, v); err != nil {
			return nil, nil, err
		}
	}

	id := s.deps.Identity()
	set := &artifact.Set{
		Metadata: artifact.Metadata{
			TenantID:      s.tenantID,
			ModelName:     id.ModelName,
			Dimension:     id.Dimension,
			SchemaVersion: id.SchemaVersion,
			Generation:    ds.Generation,
			UpdatedAt:     time.Now(),
		},
		Table:      artifact.Table{Schema: schema, Reports: reports},
		Embeddings: emb,
		Index:      idx,
	}
	files, err := artifact.Encode(set)
	if err != nil {
		return nil, nil, err
	}
	return set, files, nil
}

func cloneSchema(s model.Schema) model.Schema {
	return model.Schema{
		Columns:            append([]string(nil), s.Columns...),
		TextColumns:        append([]string(nil), s.TextColumns...),
		CategoricalColumns: append([]string(nil), s.CategoricalColumns...),
		SelectedColumns:    append([]string(nil), s.SelectedColumns...),
		Roles:              s.Roles,
	}
}

package tenant

import (
	"context"
	"errors"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"duplike-go/internal/model"
	"duplike-go/pkg/errs"
	"duplike-go/pkg/log"
)

// Registry 按租户 ID 持有常驻内存的 Store，超过容量时淘汰最久未使用的租户。
// 被淘汰的 Store 会被关闭，持有它的调用方会收到 ErrStoreClosed，重新 Acquire 即可。
type Registry struct {
	mu      sync.Mutex
	deps    Deps
	stores  *lru.Cache[string, *Store]
	closing map[string]*Store
}

// NewRegistry 创建租户注册表。
func NewRegistry(deps Deps, maxResident int) (*Registry, error) {
	if maxResident <= 0 {
		maxResident = 64
	}
	r := &Registry{deps: deps, closing: make(map[string]*Store)}
	// 回调在 Add/Remove 内同步执行，调用方都持有 r.mu
	cache, err := lru.NewWithEvict[string, *Store](maxResident, func(tenantID string, s *Store) {
		log.Infof("[TenantRegistry] 租户移出内存, tenant: %s", tenantID)
		r.closing[tenantID] = s
		go r.finishClose(tenantID, s)
	})
	if err != nil {
		return nil, fmt.Errorf("create tenant cache: %w", err)
	}
	r.stores = cache
	return r, nil
}

func (r *Registry) finishClose(tenantID string, s *Store) {
	s.Close()
	r.mu.Lock()
	if r.closing[tenantID] == s {
		delete(r.closing, tenantID)
	}
	r.mu.Unlock()
}

// Acquire 返回租户的 Store，必要时创建并等待激活完成。
// 同一租户刚被淘汰的 Store 完全停止之后，新 Store 才开始读取产物。
func (r *Registry) Acquire(ctx context.Context, tenantID string) (*Store, error) {
	if !model.ValidTenantID(tenantID) {
		return nil, errs.Wrap(errs.ErrValidation, "invalid tenant id %q", tenantID)
	}

	r.mu.Lock()
	s, ok := r.stores.Get(tenantID)
	if !ok {
		var after <-chan struct{}
		if prev, closing := r.closing[tenantID]; closing {
			after = prev.stopped
		}
		s = newStore(tenantID, r.deps, after)
		r.stores.Add(tenantID, s)
	}
	r.mu.Unlock()

	if err := s.WaitActivated(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Do 取得租户的 Store 并执行 fn。如果 Store 在执行期间被淘汰，重新取得后再执行一次。
func (r *Registry) Do(ctx context.Context, tenantID string, fn func(s *Store) error) error {
	for attempt := 0; ; attempt++ {
		s, err := r.Acquire(ctx, tenantID)
		if err == nil {
			err = fn(s)
		}
		if attempt == 0 && errors.Is(err, errs.ErrStoreClosed) {
			continue
		}
		return err
	}
}

// Resident 返回当前常驻内存的租户数。
func (r *Registry) Resident() int {
	return r.stores.Len()
}

// Close 关闭全部 Store 并等待它们停止。
func (r *Registry) Close() {
	r.mu.Lock()
	var all []*Store
	for _, id := range r.stores.Keys() {
		if s, ok := r.stores.Peek(id); ok {
			all = append(all, s)
		}
	}
	r.stores.Purge()
	r.mu.Unlock()

	for _, s := range all {
		s.Close()
	}
}

package artifact

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"duplike-go/internal/model"
	"duplike-go/pkg/log"
)

// ErrNotFound 表示本地没有该租户的产物。
var ErrNotFound = errors.New("artifacts not found")

// DiskStore 把租户产物保存在 <root>/<tenant>/ 下。
// 写入先落到临时目录，再通过两次 rename 替换当前目录，读取方看到的总是完整的一组产物。
type DiskStore struct {
	root string
}

// NewDiskStore 创建本地产物目录。
func NewDiskStore(root string) (*DiskStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create artifact dir %s: %w", root, err)
	}
	return &DiskStore{root: root}, nil
}

func (d *DiskStore) dir(tenantID string) (string, error) {
	if !model.ValidTenantID(tenantID) {
		return "", fmt.Errorf("invalid tenant id %q", tenantID)
	}
	return filepath.Join(d.root, tenantID), nil
}

// Write 原子地替换租户的全部产物。
func (d *DiskStore) Write(tenantID string, files Files) error {
	dir, err := d.dir(tenantID)
	if err != nil {
		return err
	}
	tmp := dir + ".tmp-" + uuid.NewString()
	if err := os.MkdirAll(tmp, 0o755); err != nil {
		return fmt.Errorf("create staging dir: %w", err)
	}
	defer os.RemoveAll(tmp)

	for name, data := range files {
		if err := writeFileSync(filepath.Join(tmp, name), data); err != nil {
			return err
		}
	}

	old := dir + ".old"
	_ = os.RemoveAll(old)
	if err := os.Rename(dir, old); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("move current artifacts aside: %w", err)
	}
	if err := os.Rename(tmp, dir); err != nil {
		// 尽量恢复旧目录
		_ = os.Rename(old, dir)
		return fmt.Errorf("install new artifacts: %w", err)
	}
	if err := os.RemoveAll(old); err != nil {
		log.Warnf("[DiskStore] 清理旧产物目录失败, tenant: %s, error: %v", tenantID, err)
	}
	return nil
}

// Read 读取租户的全部产物。如果上次替换在两次 rename 之间中断，会先恢复 .old 目录。
func (d *DiskStore) Read(tenantID string) (Files, error) {
	dir, err := d.dir(tenantID)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(dir); errors.Is(err, os.ErrNotExist) {
		old := dir + ".old"
		if _, oerr := os.Stat(old); oerr != nil {
			return nil, ErrNotFound
		}
		log.Warnf("[DiskStore] 发现未完成的替换, 恢复旧产物, tenant: %s", tenantID)
		if err := os.Rename(old, dir); err != nil {
			return nil, fmt.Errorf("recover artifacts: %w", err)
		}
	}

	files := make(Files, len(Names))
	for _, name := range Names {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		files[name] = data
	}
	return files, nil
}

// Remove 删除租户的本地产物。
func (d *DiskStore) Remove(tenantID string) error {
	dir, err := d.dir(tenantID)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(dir + ".old"); err != nil {
		return err
	}
	return os.RemoveAll(dir)
}

func writeFileSync(path string, data []byte) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", filepath.Base(path), err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("sync %s: %w", filepath.Base(path), err)
	}
	return f.Close()
}

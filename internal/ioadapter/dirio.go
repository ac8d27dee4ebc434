package ioadapter

import (
	"io"
	"os"
	"path/filepath"
	"sync"

	jsoniter "github.com/json-iterator/go"
	"github.com/google/uuid"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// DirAdapter is a directory-backed medium: one regular file per extent, plus
// a JSON sidecar file carrying the extent attribute channel, since plain
// files have no portable extended-attribute API in the standard library
// (spec §2, §6 "on-medium format... addresses are opaque strings chosen by
// the adapter").
type DirAdapter struct {
	root      string
	blockSize int
}

// NewDirAdapter opens a directory-backed medium rooted at root.
func NewDirAdapter(root string, blockSize int) (*DirAdapter, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &DirAdapter{root: root, blockSize: blockSize}, nil
}

func (d *DirAdapter) Family() string { return "dir" }

func (d *DirAdapter) PreferredBlockSize() int { return d.blockSize }

func (d *DirAdapter) dataPath(addr string) string { return filepath.Join(d.root, addr) }
func (d *DirAdapter) attrPath(addr string) string { return filepath.Join(d.root, addr+".attrs.json") }

func (d *DirAdapter) Open(addr string, create bool) (io.ReadWriteCloser, string, error) {
	if create {
		if addr == "" {
			addr = uuid.NewString()
		}
		f, err := os.OpenFile(d.dataPath(addr), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
		if err != nil {
			return nil, "", err
		}
		return f, addr, nil
	}
	f, err := os.Open(d.dataPath(addr))
	if err != nil {
		return nil, "", err
	}
	return f, addr, nil
}

func (d *DirAdapter) Flush() error { return nil }

func (d *DirAdapter) Delete(addr string) error {
	err1 := os.Remove(d.dataPath(addr))
	err2 := os.Remove(d.attrPath(addr))
	if err1 != nil && !os.IsNotExist(err1) {
		return err1
	}
	if err2 != nil && !os.IsNotExist(err2) {
		return err2
	}
	return nil
}

func (d *DirAdapter) MetaOpen(addr string) (Attrs, error) {
	return &dirAttrs{path: d.attrPath(addr)}, nil
}

// dirAttrs implements Attrs over a JSON sidecar file, serialized on every
// mutation (extent attribute writes are rare — one stamp per split, not a
// hot path).
type dirAttrs struct {
	mu   sync.Mutex
	path string
}

func (a *dirAttrs) load() (map[string]string, error) {
	b, err := os.ReadFile(a.path)
	if os.IsNotExist(err) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, err
	}
	m := map[string]string{}
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func (a *dirAttrs) save(m map[string]string) error {
	b, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return os.WriteFile(a.path, b, 0o644)
}

func (a *dirAttrs) Set(key, value string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	m, err := a.load()
	if err != nil {
		return err
	}
	m[key] = value
	return a.save(m)
}

func (a *dirAttrs) Get(key string) (string, bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	m, err := a.load()
	if err != nil {
		return "", false, err
	}
	v, ok := m[key]
	return v, ok, nil
}

func (a *dirAttrs) All() (map[string]string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.load()
}

var _ Adapter = (*DirAdapter)(nil)

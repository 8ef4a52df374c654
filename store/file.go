package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/lestrrat-go/strftime"
)

// FileKeyStore persists trusted keys as one PEM file per callsign under
// dir.
type FileKeyStore struct {
	mu  sync.Mutex
	dir string
}

func NewFileKeyStore(dir string) (*FileKeyStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("store: creating key directory: %w", err)
	}
	return &FileKeyStore{dir: dir}, nil
}

func (f *FileKeyStore) keyPath(callsign string) string {
	return filepath.Join(f.dir, callsign+".pem")
}

func (f *FileKeyStore) Put(callsign string, pem []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := os.WriteFile(f.keyPath(callsign), pem, 0644); err != nil {
		return fmt.Errorf("store: writing key for %s: %w", callsign, err)
	}
	return nil
}

func (f *FileKeyStore) Get(callsign string) ([]byte, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	pem, err := os.ReadFile(f.keyPath(callsign))
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("store: reading key for %s: %w", callsign, err)
	}
	return pem, true, nil
}

func (f *FileKeyStore) List() (map[string][]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return nil, fmt.Errorf("store: listing key directory: %w", err)
	}
	out := make(map[string][]byte)
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".pem" {
			continue
		}
		callsign := e.Name()[:len(e.Name())-len(".pem")]
		pem, err := os.ReadFile(filepath.Join(f.dir, e.Name()))
		if err != nil {
			continue
		}
		out[callsign] = pem
	}
	return out, nil
}

// snapshotPattern names one page-cache index file per UTC day, the
// same daily-rollover idiom log.go's log_write uses for log files,
// adapted here with lestrrat-go/strftime rather than time.Format so
// the naming pattern is written as a strftime pattern.
const snapshotPattern = "pages-%Y-%m-%d.idx"

type pageRecord struct {
	Path        string    `json:"path"`
	File        string    `json:"file"`
	ContentType string    `json:"content_type"`
	ETag        string    `json:"etag"`
	StoredAt    time.Time `json:"stored_at"`
}

// FilePageCache persists page blobs as individual files under dir,
// plus a daily JSON index snapshot (named via snapshotPattern) that
// lists every page known as of that day — a cheap audit trail,
// independent of the per-page files themselves.
type FilePageCache struct {
	mu          sync.Mutex
	dir         string
	openDay     string
	indexPath   string
	records     map[string]pageRecord
}

func NewFilePageCache(dir string) (*FilePageCache, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("store: creating page cache directory: %w", err)
	}
	return &FilePageCache{dir: dir, records: make(map[string]pageRecord)}, nil
}

func blobFileName(path string) string {
	sum := 2166136261
	for i := 0; i < len(path); i++ {
		sum ^= int(path[i])
		sum *= 16777619
	}
	return fmt.Sprintf("blob-%08x.bin", uint32(sum))
}

func (f *FilePageCache) Put(path string, blob []byte, meta PageMeta) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	fname := blobFileName(path)
	if err := os.WriteFile(filepath.Join(f.dir, fname), blob, 0644); err != nil {
		return fmt.Errorf("store: writing page blob for %s: %w", path, err)
	}
	f.records[path] = pageRecord{
		Path:        path,
		File:        fname,
		ContentType: meta.ContentType,
		ETag:        meta.ETag,
		StoredAt:    meta.StoredAt,
	}
	return f.rolloverAndWriteIndexLocked(meta.StoredAt)
}

func (f *FilePageCache) rolloverAndWriteIndexLocked(now time.Time) error {
	name, err := strftime.Format(snapshotPattern, now.UTC())
	if err != nil {
		return fmt.Errorf("store: formatting snapshot name: %w", err)
	}
	f.openDay = name
	f.indexPath = filepath.Join(f.dir, name)

	enc, err := json.Marshal(f.records)
	if err != nil {
		return fmt.Errorf("store: marshaling page index: %w", err)
	}
	if err := os.WriteFile(f.indexPath, enc, 0644); err != nil {
		return fmt.Errorf("store: writing page index: %w", err)
	}
	return nil
}

func (f *FilePageCache) Get(path string) ([]byte, PageMeta, bool, error) {
	f.mu.Lock()
	rec, ok := f.records[path]
	f.mu.Unlock()
	if !ok {
		return nil, PageMeta{}, false, nil
	}
	blob, err := os.ReadFile(filepath.Join(f.dir, rec.File))
	if err != nil {
		return nil, PageMeta{}, false, fmt.Errorf("store: reading page blob for %s: %w", path, err)
	}
	return blob, PageMeta{ContentType: rec.ContentType, ETag: rec.ETag, StoredAt: rec.StoredAt}, true, nil
}

func (f *FilePageCache) List() ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.records))
	for p := range f.records {
		out = append(out, p)
	}
	return out, nil
}

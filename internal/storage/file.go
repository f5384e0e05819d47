package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/maltedev/mercari-scraper/internal/models"
)

// FileStore keeps records in memory and, when filename is set, mirrors them
// to a JSON file after every write.
type FileStore struct {
	mu       sync.RWMutex
	records  map[string]*models.ProductRecord
	filename string
}

func NewFileStore(filename string) (*FileStore, error) {
	fs := &FileStore{
		records:  make(map[string]*models.ProductRecord),
		filename: filename,
	}

	if filename != "" {
		if err := fs.load(); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to load %s: %w", filename, err)
		}
	}

	return fs, nil
}

// NewMemoryStore returns a FileStore that never touches disk.
func NewMemoryStore() *FileStore {
	fs, _ := NewFileStore("")
	return fs
}

func (fs *FileStore) FindByKey(ctx context.Context, key string) (*models.ProductRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	rec, ok := fs.records[key]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

func (fs *FileStore) Insert(ctx context.Context, rec *models.ProductRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if rec.URL == "" {
		return fmt.Errorf("url is required")
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	if _, exists := fs.records[rec.URL]; exists {
		return ErrDuplicateKey
	}
	cp := *rec
	fs.records[rec.URL] = &cp
	if err := fs.save(); err != nil {
		delete(fs.records, rec.URL)
		return err
	}
	return nil
}

func (fs *FileStore) Update(ctx context.Context, key string, fields models.ProductFields, updatedAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	rec, exists := fs.records[key]
	if !exists {
		return fmt.Errorf("record not found: %s", key)
	}
	prevFields, prevUpdated := rec.ProductFields, rec.UpdatedAt
	rec.ProductFields = fields
	rec.UpdatedAt = updatedAt
	if err := fs.save(); err != nil {
		rec.ProductFields, rec.UpdatedAt = prevFields, prevUpdated
		return err
	}
	return nil
}

// All returns a copy of every record ordered by URL.
func (fs *FileStore) All() []*models.ProductRecord {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	out := make([]*models.ProductRecord, 0, len(fs.records))
	for _, rec := range fs.records {
		cp := *rec
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].URL < out[j].URL })
	return out
}

func (fs *FileStore) Len() int {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	return len(fs.records)
}

func (fs *FileStore) save() error {
	if fs.filename == "" {
		return nil
	}

	data, err := json.MarshalIndent(fs.records, "", "  ")
	if err != nil {
		return err
	}

	// Write to temp file first for atomicity
	tmpFile := fs.filename + ".tmp"
	if err := os.WriteFile(tmpFile, data, 0644); err != nil {
		return err
	}

	return os.Rename(tmpFile, fs.filename)
}

func (fs *FileStore) load() error {
	data, err := os.ReadFile(fs.filename)
	if err != nil {
		return err
	}

	return json.Unmarshal(data, &fs.records)
}

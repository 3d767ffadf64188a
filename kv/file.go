package kv

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// FileStore implements Store on a local directory. Each key is stored as
// one file containing a JSON envelope, so the store survives restarts and
// a new instance over the same directory sees previous writes.
type FileStore struct {
	basePath string
	logger   *zap.Logger

	mu    sync.RWMutex
	index map[string]string // key -> file path
}

type fileEnvelope struct {
	Key   string `json:"key"`
	Value []byte `json:"value"`
}

// NewFileStore creates a file-backed store rooted at basePath, creating the
// directory if needed and indexing any entries written by prior instances.
func NewFileStore(basePath string, logger *zap.Logger) (*FileStore, error) {
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("create base path: %w", err)
	}

	s := &FileStore{
		basePath: basePath,
		logger:   logger.With(zap.String("component", "kv_file")),
		index:    make(map[string]string),
	}

	if err := s.loadIndex(); err != nil {
		return nil, err
	}

	return s, nil
}

func (s *FileStore) loadIndex() error {
	entries, err := os.ReadDir(s.basePath)
	if err != nil {
		return fmt.Errorf("read base path: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".kv") {
			continue
		}
		path := filepath.Join(s.basePath, entry.Name())
		env, err := readEnvelope(path)
		if err != nil {
			// Unreadable entries are dropped rather than failing startup.
			s.logger.Warn("dropping unreadable entry",
				zap.String("path", path),
				zap.Error(err),
			)
			_ = os.Remove(path)
			continue
		}
		s.index[env.Key] = path
	}

	s.logger.Debug("index loaded", zap.Int("entries", len(s.index)))
	return nil
}

func readEnvelope(path string) (*fileEnvelope, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var env fileEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, err
	}
	return &env, nil
}

func (s *FileStore) pathFor(key string) string {
	sum := sha256.Sum256([]byte(key))
	return filepath.Join(s.basePath, hex.EncodeToString(sum[:16])+".kv")
}

// Put implements Store.
func (s *FileStore) Put(ctx context.Context, key string, value []byte) error {
	data, err := json.Marshal(&fileEnvelope{Key: key, Value: value})
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	path := s.pathFor(key)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write entry: %w", err)
	}
	s.index[key] = path
	return nil
}

// Get implements Store.
func (s *FileStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	s.mu.RLock()
	path, ok := s.index[key]
	s.mu.RUnlock()

	if !ok {
		return nil, false, nil
	}

	env, err := readEnvelope(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("read entry: %w", err)
	}
	return env.Value, true, nil
}

// Remove implements Store.
func (s *FileStore) Remove(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path, ok := s.index[key]
	if !ok {
		return nil
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove entry: %w", err)
	}
	delete(s.index, key)
	return nil
}

// Keys implements Store.
func (s *FileStore) Keys(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.index))
	for key := range s.index {
		keys = append(keys, key)
	}
	return keys, nil
}

// Clear implements Store.
func (s *FileStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, path := range s.index {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove entry: %w", err)
		}
		delete(s.index, key)
	}
	return nil
}

// Close implements Store. The file store holds no open handles.
func (s *FileStore) Close() error {
	return nil
}

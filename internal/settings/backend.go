// Package settings stores the user-facing configuration surface: webhook
// endpoint, enable flag and display customizations.
package settings

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Backend is a key/value store for raw setting values.
type Backend interface {
	// Get returns the stored value and whether the key exists.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
}

// MemoryBackend keeps settings in process memory.
type MemoryBackend struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemoryBackend returns an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{data: make(map[string][]byte)}
}

func (m *MemoryBackend) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

func (m *MemoryBackend) Set(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = append([]byte(nil), value...)
	return nil
}

// FileBackend persists settings as a flat YAML document of key: value
// strings. The file is re-read on every Get so edits made by hand are seen.
type FileBackend struct {
	path string
	mu   sync.Mutex
}

// NewFileBackend returns a backend stored at path. The file is created on
// the first Set.
func NewFileBackend(path string) *FileBackend {
	return &FileBackend{path: path}
}

func (f *FileBackend) load() (map[string]string, error) {
	data, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "settings: read %s", f.path)
	}
	doc := map[string]string{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, eris.Wrapf(err, "settings: parse %s", f.path)
	}
	return doc, nil
}

func (f *FileBackend) Get(_ context.Context, key string) ([]byte, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	doc, err := f.load()
	if err != nil {
		return nil, false, err
	}
	v, ok := doc[key]
	if !ok {
		return nil, false, nil
	}
	return []byte(v), true, nil
}

func (f *FileBackend) Set(_ context.Context, key string, value []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	doc, err := f.load()
	if err != nil {
		return err
	}
	doc[key] = string(value)

	out, err := yaml.Marshal(doc)
	if err != nil {
		return eris.Wrap(err, "settings: encode yaml")
	}
	if dir := filepath.Dir(f.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return eris.Wrapf(err, "settings: create dir %s", dir)
		}
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, out, 0o600); err != nil {
		return eris.Wrapf(err, "settings: write %s", tmp)
	}
	return eris.Wrapf(os.Rename(tmp, f.path), "settings: replace %s", f.path)
}

// RedisBackend stores settings as plain redis string keys.
type RedisBackend struct {
	client redis.UniversalClient
}

// NewRedisBackend wraps an existing redis client.
func NewRedisBackend(client redis.UniversalClient) *RedisBackend {
	return &RedisBackend{client: client}
}

// DialRedis parses a redis:// URL and returns a backend for it.
func DialRedis(ctx context.Context, url string) (*RedisBackend, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, eris.Wrap(err, "settings: parse redis url")
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close() //nolint:errcheck
		return nil, eris.Wrap(err, "settings: ping redis")
	}
	return &RedisBackend{client: client}, nil
}

func (r *RedisBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	v, err := r.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, eris.Wrapf(err, "settings: redis get %s", key)
	}
	return v, true, nil
}

func (r *RedisBackend) Set(ctx context.Context, key string, value []byte) error {
	return eris.Wrapf(r.client.Set(ctx, key, value, 0).Err(), "settings: redis set %s", key)
}

// Close releases the redis connection.
func (r *RedisBackend) Close() error {
	return r.client.Close()
}

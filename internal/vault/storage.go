package vault

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-redis/redis/v8"
)

type fileStorage struct {
	path string
}

// FileStorage persists a vault as a JSON file at path.
func FileStorage(path string) Storage {
	return &fileStorage{path: path}
}

func (s *fileStorage) Read(_ context.Context) ([]byte, bool, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return data, true, nil
}

// Write replaces the file through a temporary sibling so readers never see
// a partially written vault.
func (s *fileStorage) Write(_ context.Context, data []byte) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create vault directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write vault: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close vault: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace vault: %w", err)
	}
	return nil
}

func (s *fileStorage) Location() string { return s.path }

type redisStorage struct {
	client redis.Cmdable
	key    string
}

// RedisStorage persists a vault as a single JSON string under key.
func RedisStorage(client redis.Cmdable, key string) Storage {
	return &redisStorage{client: client, key: key}
}

func (s *redisStorage) Read(ctx context.Context) ([]byte, bool, error) {
	data, err := s.client.Get(ctx, s.key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	} else if err != nil {
		return nil, false, fmt.Errorf("failed to get %s: %w", s.key, err)
	}
	return data, true, nil
}

func (s *redisStorage) Write(ctx context.Context, data []byte) error {
	if err := s.client.Set(ctx, s.key, data, 0).Err(); err != nil {
		return fmt.Errorf("failed to set %s: %w", s.key, err)
	}
	return nil
}

func (s *redisStorage) Location() string { return "redis:" + s.key }

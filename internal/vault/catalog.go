package vault

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/raaihank/moltkeeper/internal/apperr"
)

// FileSuffix is appended to the session id to name a vault file.
const FileSuffix = ".vault.json"

var sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]{0,127}$`)

// ValidateSessionID rejects ids that could escape the vault directory or
// key space.
func ValidateSessionID(id string) error {
	if id == "" {
		return apperr.Missing("session_id")
	}
	if !sessionIDPattern.MatchString(id) || strings.Contains(id, "..") {
		return apperr.Invalid("session_id", "must be 1-128 letters, digits, '.', '_' or '-'")
	}
	return nil
}

// FileCatalog stores one vault file per session under a directory.
type FileCatalog struct {
	dir string
}

// NewFileCatalog returns a catalog rooted at dir.
func NewFileCatalog(dir string) *FileCatalog {
	return &FileCatalog{dir: dir}
}

// Path returns the vault file for sessionID.
func (c *FileCatalog) Path(sessionID string) string {
	return filepath.Join(c.dir, sessionID+FileSuffix)
}

// Open returns the storage for sessionID.
func (c *FileCatalog) Open(sessionID string) (Storage, error) {
	if err := ValidateSessionID(sessionID); err != nil {
		return nil, err
	}
	return FileStorage(c.Path(sessionID)), nil
}

// Stat summarizes one session vault.
func (c *FileCatalog) Stat(_ context.Context, sessionID string) (*Summary, error) {
	if err := ValidateSessionID(sessionID); err != nil {
		return nil, err
	}
	return c.stat(sessionID, c.Path(sessionID))
}

// List summarizes every session vault in the directory, sorted by session.
// Vaults that cannot be decoded are listed with Error set.
func (c *FileCatalog) List(_ context.Context) ([]Summary, error) {
	matches, err := filepath.Glob(filepath.Join(c.dir, "*"+FileSuffix))
	if err != nil {
		return nil, fmt.Errorf("failed to list vaults: %w", err)
	}
	sort.Strings(matches)

	out := make([]Summary, 0, len(matches))
	for _, path := range matches {
		sessionID := strings.TrimSuffix(filepath.Base(path), FileSuffix)
		s, err := c.stat(sessionID, path)
		if err != nil {
			out = append(out, Summary{SessionID: sessionID, Location: path, Error: err.Error()})
			continue
		}
		out = append(out, *s)
	}
	return out, nil
}

func (c *FileCatalog) stat(sessionID, path string) (*Summary, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, apperr.NotFound("vault", path)
		}
		return nil, fmt.Errorf("failed to stat vault: %w", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read vault: %w", err)
	}
	entries, err := Unmarshal(data)
	if err != nil {
		return nil, &apperr.CorruptVaultError{Location: path, Cause: err}
	}
	mod := info.ModTime().UTC()
	return &Summary{
		SessionID:  sessionID,
		Location:   path,
		EntryCount: len(entries),
		SizeBytes:  info.Size(),
		ModifiedAt: &mod,
	}, nil
}

// RedisCatalog stores one vault per session under prefix+sessionID.
type RedisCatalog struct {
	client redis.Cmdable
	prefix string
}

// NewRedisCatalog returns a catalog over client using prefix for keys.
func NewRedisCatalog(client redis.Cmdable, prefix string) *RedisCatalog {
	return &RedisCatalog{client: client, prefix: prefix}
}

// Key returns the redis key for sessionID.
func (c *RedisCatalog) Key(sessionID string) string {
	return c.prefix + sessionID
}

// Open returns the storage for sessionID.
func (c *RedisCatalog) Open(sessionID string) (Storage, error) {
	if err := ValidateSessionID(sessionID); err != nil {
		return nil, err
	}
	return RedisStorage(c.client, c.Key(sessionID)), nil
}

// Stat summarizes one session vault.
func (c *RedisCatalog) Stat(ctx context.Context, sessionID string) (*Summary, error) {
	if err := ValidateSessionID(sessionID); err != nil {
		return nil, err
	}
	return c.stat(ctx, sessionID)
}

// List scans the key space under the prefix.
func (c *RedisCatalog) List(ctx context.Context) ([]Summary, error) {
	iter := c.client.Scan(ctx, 0, c.prefix+"*", 0).Iterator()
	var sessions []string
	for iter.Next(ctx) {
		sessions = append(sessions, strings.TrimPrefix(iter.Val(), c.prefix))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan vault keys: %w", err)
	}
	sort.Strings(sessions)

	out := make([]Summary, 0, len(sessions))
	for _, sessionID := range sessions {
		s, err := c.stat(ctx, sessionID)
		if err != nil {
			out = append(out, Summary{SessionID: sessionID, Location: "redis:" + c.Key(sessionID), Error: err.Error()})
			continue
		}
		out = append(out, *s)
	}
	return out, nil
}

func (c *RedisCatalog) stat(ctx context.Context, sessionID string) (*Summary, error) {
	key := c.Key(sessionID)
	data, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, apperr.NotFound("vault", "redis:"+key)
	} else if err != nil {
		return nil, fmt.Errorf("failed to get %s: %w", key, err)
	}
	entries, err := Unmarshal(data)
	if err != nil {
		return nil, &apperr.CorruptVaultError{Location: "redis:" + key, Cause: err}
	}
	return &Summary{
		SessionID:  sessionID,
		Location:   "redis:" + key,
		EntryCount: len(entries),
		SizeBytes:  int64(len(data)),
	}, nil
}

// NewRedisClient connects to redis and verifies the connection.
func NewRedisClient(ctx context.Context, opts RedisOptions, logger *zap.Logger) (*redis.Client, error) {
	ro, err := redis.ParseURL(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	if opts.PoolSize > 0 {
		ro.PoolSize = opts.PoolSize
	}
	ro.MinIdleConns = opts.MinIdleConns

	client := redis.NewClient(ro)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info("Vault redis backend connected",
		zap.String("redis_url", maskRedisURL(opts.URL)),
		zap.Int("pool_size", ro.PoolSize),
		zap.String("key_prefix", opts.KeyPrefix))

	return client, nil
}

// maskRedisURL hides the password of a redis URL for logging.
func maskRedisURL(url string) string {
	at := strings.LastIndex(url, "@")
	if at < 0 {
		return url
	}
	userPart := url[:at]
	colon := strings.LastIndex(userPart, ":")
	scheme := strings.Index(userPart, "://")
	if colon < 0 || colon <= scheme+2 {
		return url
	}
	return userPart[:colon+1] + "***" + url[at:]
}

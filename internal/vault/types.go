package vault

import (
	"context"
	"time"
)

// Entry is one placeholder mapping.
type Entry struct {
	Placeholder   string    `json:"masked_value"`
	OriginalValue string    `json:"original_value"`
	CreatedAt     time.Time `json:"created_at"`
}

// Storage is where a vault is persisted. Read reports ok=false when
// nothing has been stored yet.
type Storage interface {
	Read(ctx context.Context) (data []byte, ok bool, err error)
	Write(ctx context.Context, data []byte) error
	Location() string
}

// Summary describes a stored session vault without revealing its values.
type Summary struct {
	SessionID  string     `json:"session_id"`
	Location   string     `json:"vault_path"`
	EntryCount int        `json:"entry_count"`
	SizeBytes  int64      `json:"size_bytes"`
	ModifiedAt *time.Time `json:"modified_at,omitempty"`
	Error      string     `json:"error,omitempty"`
}

// Catalog addresses the vaults of many sessions.
type Catalog interface {
	Open(sessionID string) (Storage, error)
	Stat(ctx context.Context, sessionID string) (*Summary, error)
	List(ctx context.Context) ([]Summary, error)
}

// RedisOptions configures the redis client behind RedisStorage and
// RedisCatalog.
type RedisOptions struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	KeyPrefix    string
}

package ledger

import "time"

// Run kinds.
const (
	KindSanitize  = "sanitize"
	KindSubmit    = "submit"
	KindRehydrate = "rehydrate"
)

// Run is one audited operation. It carries counts and paths, never values.
type Run struct {
	ID              string    `json:"id"`
	SessionID       string    `json:"session_id"`
	Kind            string    `json:"kind"`
	Source          string    `json:"source"`
	Policy          string    `json:"policy"`
	Masked          int       `json:"masked"`
	ShuffledParents int       `json:"shuffled_parents"`
	Shadowed        int       `json:"shadowed"`
	VaultEntries    int       `json:"vault_entries"`
	OutputPath      string    `json:"output_path"`
	CreatedAt       time.Time `json:"created_at"`
}

// Stats aggregates the ledger.
type Stats struct {
	TotalRuns   int64 `db:"total_runs" json:"total_runs"`
	Sessions    int64 `db:"sessions" json:"sessions"`
	TotalMasked int64 `db:"total_masked" json:"total_masked"`
}

// Config contains database configuration
type Config struct {
	Driver          string        `yaml:"driver" mapstructure:"driver"` // postgres or sqlite
	DSN             string        `yaml:"dsn" mapstructure:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns" mapstructure:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns" mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" mapstructure:"conn_max_lifetime"`
}

// runRow is the database shape of Run. Timestamps are stored as fixed
// width UTC text so both drivers sort them the same way.
type runRow struct {
	ID              string `db:"id"`
	SessionID       string `db:"session_id"`
	Kind            string `db:"kind"`
	Source          string `db:"source"`
	Policy          string `db:"policy"`
	Masked          int    `db:"masked"`
	ShuffledParents int    `db:"shuffled_parents"`
	Shadowed        int    `db:"shadowed"`
	VaultEntries    int    `db:"vault_entries"`
	OutputPath      string `db:"output_path"`
	CreatedAt       string `db:"created_at"`
}

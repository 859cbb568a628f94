package session

import (
	"context"

	"github.com/raaihank/moltkeeper/internal/gatekeeper"
	"github.com/raaihank/moltkeeper/internal/ledger"
	"github.com/raaihank/moltkeeper/internal/vault"
	"github.com/raaihank/moltkeeper/internal/websocket"
)

// Recorder receives one ledger run per completed operation.
type Recorder interface {
	Record(ctx context.Context, run *ledger.Run) error
}

// Publisher receives operation events.
type Publisher interface {
	Publish(t websocket.EventType, data interface{})
}

// ReadRequest asks for a sanitized view of one input file
type ReadRequest struct {
	FilePath  string `json:"filepath"`
	Policy    string `json:"policy,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

// ReadResult is the outcome of ReadSafeStructure
type ReadResult struct {
	SessionID  string             `json:"session_id"`
	Content    string             `json:"content"`
	InputPath  string             `json:"input_path"`
	OutputPath string             `json:"output_path"`
	PolicyPath string             `json:"policy_path"`
	VaultPath  string             `json:"vault_path"`
	Report     *gatekeeper.Report `json:"report"`
}

// SubmitResult acknowledges a queued optimization
type SubmitResult struct {
	Status       string `json:"status"`
	SessionID    string `json:"session_id"`
	ChangesCount int    `json:"changes_count"`
	OutputPath   string `json:"output_path"`
	Message      string `json:"message"`
}

// optimizationFile is what SubmitOptimization writes to disk
type optimizationFile struct {
	SessionID       string                 `json:"session_id"`
	ProposedChanges map[string]interface{} `json:"proposed_changes"`
}

// PolicyInfo describes one policy file. Error is set instead of the
// metadata when the file cannot be loaded.
type PolicyInfo struct {
	Name       string `json:"name"`
	Path       string `json:"path"`
	Version    string `json:"version,omitempty"`
	RulesCount int    `json:"rules_count"`
	Active     bool   `json:"active"`
	Error      string `json:"error,omitempty"`
}

// VaultReport lists session vaults without their values
type VaultReport struct {
	Backend      string          `json:"backend"`
	Location     string          `json:"location"`
	SessionCount int             `json:"session_count"`
	Sessions     []vault.Summary `json:"sessions"`
}

// Rehydration modes
const (
	ModeStructured = "structured"
	ModeText       = "text"
)

// RehydrateRequest restores a file from a vault file
type RehydrateRequest struct {
	Input     string
	VaultPath string // empty selects the configured default vault
	Output    string // empty leaves the result in RehydrateResult.Content
	InPlace   bool   // overwrite Input after moving it to Input.bak
}

// RehydrateResult is the outcome of Rehydrate
type RehydrateResult struct {
	Mode       string `json:"mode"`
	Content    string `json:"content"`
	VaultPath  string `json:"vault_path"`
	Entries    int    `json:"entries"`
	OutputPath string `json:"output_path,omitempty"`
	BackupPath string `json:"backup_path,omitempty"`
}

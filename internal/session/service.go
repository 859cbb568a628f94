// Package session runs the user-facing operations: scanning a document
// for a policy, producing a sanitized view bound to a session vault,
// accepting optimizations that reference placeholders and restoring
// original values.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/raaihank/moltkeeper/internal/apperr"
	"github.com/raaihank/moltkeeper/internal/config"
	"github.com/raaihank/moltkeeper/internal/document"
	"github.com/raaihank/moltkeeper/internal/gatekeeper"
	"github.com/raaihank/moltkeeper/internal/ledger"
	"github.com/raaihank/moltkeeper/internal/logger"
	"github.com/raaihank/moltkeeper/internal/policy"
	"github.com/raaihank/moltkeeper/internal/vault"
	"github.com/raaihank/moltkeeper/internal/websocket"
)

// Service runs session operations. Calls for the same session id are
// serialized; different sessions run in parallel.
type Service struct {
	mu     sync.RWMutex
	config *config.Config

	logger     *logger.Logger
	gatekeeper *gatekeeper.Gatekeeper
	detector   *policy.Detector
	catalog    vault.Catalog
	recorder   Recorder
	publisher  Publisher
	locks      *keyedMutex
	newID      func() string
}

// Option configures a Service.
type Option func(*Service)

// WithRecorder sends a ledger run for every completed operation to r.
func WithRecorder(r Recorder) Option {
	return func(s *Service) { s.recorder = r }
}

// WithPublisher sends operation events to p.
func WithPublisher(p Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

// WithSessionIDGenerator replaces the uuid session id source.
func WithSessionIDGenerator(fn func() string) Option {
	return func(s *Service) { s.newID = fn }
}

// New creates a session service. A nil catalog keeps vault files under
// cfg.Vault.Dir.
func New(cfg *config.Config, catalog vault.Catalog, log *logger.Logger, opts ...Option) *Service {
	if log == nil {
		log = logger.NewNop()
	}
	if catalog == nil {
		catalog = vault.NewFileCatalog(cfg.Vault.Dir)
	}
	s := &Service{
		config:     cfg,
		logger:     log.WithComponent("session"),
		gatekeeper: gatekeeper.New(log),
		detector:   policy.NewDetector(log.Logger),
		catalog:    catalog,
		locks:      newKeyedMutex(),
		newID:      uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// UpdateConfig swaps the configuration used by subsequent calls. Calls in
// flight keep the configuration they started with.
func (s *Service) UpdateConfig(cfg *config.Config) {
	s.mu.Lock()
	s.config = cfg
	s.mu.Unlock()
	s.logger.Info("Session configuration updated")
}

func (s *Service) currentConfig() *config.Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.config
}

// Scan detects a policy for the document at xmlPath and saves it to
// outPath, or to the default policy in the policy directory when outPath
// is empty. It returns the policy and where it was written.
func (s *Service) Scan(ctx context.Context, xmlPath, outPath string) (*policy.Policy, string, error) {
	cfg := s.currentConfig()

	doc, err := document.ParseFile(xmlPath)
	if err != nil {
		return nil, "", err
	}

	p := s.detector.Detect(doc)

	if outPath == "" {
		outPath = filepath.Join(cfg.Paths.PolicyDir, cfg.Paths.DefaultPolicy)
	}
	if err := policy.Save(p, outPath); err != nil {
		return nil, "", err
	}

	s.logger.Info("Policy saved",
		zap.String("source", xmlPath),
		zap.String("policy_path", outPath),
		zap.Int("rules", len(p.Rules)))

	s.publish(websocket.EventTypePolicyGenerated, websocket.PolicyGeneratedEvent{
		PolicyPath:   outPath,
		Source:       xmlPath,
		TotalRules:   len(p.Rules),
		MaskRules:    len(p.RulesFor(policy.ActionMaskValue)),
		ShuffleRules: len(p.RulesFor(policy.ActionShuffleSiblings)),
	})

	return p, outPath, nil
}

// ReadSafeStructure sanitizes one file from the input directory under the
// named policy. Placeholders are added to the session's vault, which is
// saved before the sanitized document is written or returned.
func (s *Service) ReadSafeStructure(ctx context.Context, req ReadRequest) (*ReadResult, error) {
	cfg := s.currentConfig()

	if req.FilePath == "" {
		return nil, apperr.Missing("filepath")
	}
	inputPath, err := resolveWithin(cfg.Paths.InputDir, req.FilePath, "filepath")
	if err != nil {
		return nil, err
	}

	policyName := req.Policy
	if policyName == "" {
		policyName = cfg.Paths.DefaultPolicy
	}
	policyPath, err := resolveWithin(cfg.Paths.PolicyDir, policyName, "policy")
	if err != nil {
		return nil, err
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = s.newID()
	}
	if err := vault.ValidateSessionID(sessionID); err != nil {
		return nil, err
	}

	p, err := policy.Load(policyPath)
	if err != nil {
		return nil, err
	}
	doc, err := document.ParseFile(inputPath)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(sessionID)
	defer unlock()

	log := s.logger.WithSession(sessionID)

	storage, err := s.catalog.Open(sessionID)
	if err != nil {
		return nil, err
	}
	v := vault.New(storage, vault.WithTemplate(cfg.Masking.UUIDFormat))
	if err := v.Load(ctx); err != nil {
		return nil, err
	}

	out, report, err := s.gatekeeper.Apply(doc, p, cfg.Gatekeeper(), v)
	if err != nil {
		return nil, fmt.Errorf("failed to sanitize %s: %w", filepath.Base(inputPath), err)
	}

	// The vault must be durable before any placeholder leaves the process.
	vaultPath, err := v.Save(ctx)
	if err != nil {
		return nil, err
	}

	var buf strings.Builder
	if err := document.Serialize(&buf, out, document.SerializeOptions{Declaration: true}); err != nil {
		return nil, fmt.Errorf("failed to serialize sanitized document: %w", err)
	}
	content := buf.String()

	stem := strings.TrimSuffix(filepath.Base(inputPath), filepath.Ext(inputPath))
	outputPath := filepath.Join(cfg.Paths.OutputDir, stem+"_sanitized.xml")
	if err := writeFile(outputPath, []byte(content)); err != nil {
		return nil, err
	}

	log.Info("Document sanitized",
		zap.String("input", filepath.Base(inputPath)),
		zap.String("output", outputPath),
		zap.String("vault", vaultPath),
		zap.Int("masked", report.Masked),
		zap.Int("shuffled_parents", report.ShuffledParents),
		zap.Int("shadowed", report.Shadowed),
		zap.Int("vault_entries", v.Len()))

	s.record(ctx, &ledger.Run{
		SessionID:       sessionID,
		Kind:            ledger.KindSanitize,
		Source:          inputPath,
		Policy:          policyPath,
		Masked:          report.Masked,
		ShuffledParents: report.ShuffledParents,
		Shadowed:        report.Shadowed,
		VaultEntries:    v.Len(),
		OutputPath:      outputPath,
	})
	s.publish(websocket.EventTypeSessionSanitized, websocket.SessionSanitizedEvent{
		SessionID:       sessionID,
		Source:          filepath.Base(inputPath),
		Policy:          filepath.Base(policyPath),
		Masked:          report.Masked,
		ShuffledParents: report.ShuffledParents,
		Shadowed:        report.Shadowed,
		VaultEntries:    v.Len(),
		OutputPath:      outputPath,
	})

	return &ReadResult{
		SessionID:  sessionID,
		Content:    content,
		InputPath:  inputPath,
		OutputPath: outputPath,
		PolicyPath: policyPath,
		VaultPath:  vaultPath,
		Report:     report,
	}, nil
}

// SubmitOptimization stores proposed changes, still in masked form, for
// later review and rehydration.
func (s *Service) SubmitOptimization(ctx context.Context, sessionID string, changes map[string]interface{}) (*SubmitResult, error) {
	cfg := s.currentConfig()

	if sessionID == "" {
		return nil, apperr.Missing("session_id")
	}
	if err := vault.ValidateSessionID(sessionID); err != nil {
		return nil, err
	}
	if len(changes) == 0 {
		return nil, apperr.Missing("proposed_changes")
	}

	unlock := s.locks.Lock(sessionID)
	defer unlock()

	data, err := json.MarshalIndent(optimizationFile{
		SessionID:       sessionID,
		ProposedChanges: changes,
	}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode optimization: %w", err)
	}

	outputPath := filepath.Join(cfg.Paths.OutputDir, sessionID+"_optimization.json")
	if err := writeFile(outputPath, data); err != nil {
		return nil, err
	}

	s.logger.WithSession(sessionID).Info("Optimization submitted",
		zap.Int("changes", len(changes)),
		zap.String("output", outputPath))

	s.record(ctx, &ledger.Run{
		SessionID:  sessionID,
		Kind:       ledger.KindSubmit,
		OutputPath: outputPath,
	})
	s.publish(websocket.EventTypeOptimizationSubmitted, websocket.OptimizationSubmittedEvent{
		SessionID:    sessionID,
		ChangesCount: len(changes),
		OutputPath:   outputPath,
	})

	return &SubmitResult{
		Status:       "pending",
		SessionID:    sessionID,
		ChangesCount: len(changes),
		OutputPath:   outputPath,
		Message:      "Optimization submitted for review. Use the CLI to rehydrate.",
	}, nil
}

// ListPolicies describes every *.json file in the policy directory. A
// missing directory yields an empty list.
func (s *Service) ListPolicies() ([]PolicyInfo, error) {
	cfg := s.currentConfig()

	matches, err := filepath.Glob(filepath.Join(cfg.Paths.PolicyDir, "*.json"))
	if err != nil {
		return nil, fmt.Errorf("failed to list policies: %w", err)
	}
	sort.Strings(matches)

	out := make([]PolicyInfo, 0, len(matches))
	for _, path := range matches {
		info := PolicyInfo{
			Name:   filepath.Base(path),
			Path:   path,
			Active: filepath.Base(path) == cfg.Paths.DefaultPolicy,
		}
		p, err := policy.Load(path)
		if err != nil {
			info.Error = err.Error()
		} else {
			info.Version = p.Version
			info.RulesCount = len(p.Rules)
		}
		out = append(out, info)
	}
	return out, nil
}

// VaultInfo summarizes one session vault, or all of them when sessionID is
// empty. Original values are never included.
func (s *Service) VaultInfo(ctx context.Context, sessionID string) (*VaultReport, error) {
	cfg := s.currentConfig()

	report := &VaultReport{
		Backend:  cfg.Vault.Backend,
		Location: cfg.Vault.Dir,
	}
	if cfg.Vault.Backend == "redis" {
		report.Location = "redis:" + cfg.Vault.KeyPrefix
	}

	if sessionID != "" {
		summary, err := s.catalog.Stat(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		report.Sessions = []vault.Summary{*summary}
	} else {
		sessions, err := s.catalog.List(ctx)
		if err != nil {
			return nil, err
		}
		report.Sessions = sessions
	}
	report.SessionCount = len(report.Sessions)
	return report, nil
}

// RehydrateSession restores placeholders inside payload from the vault of
// sessionID. Unknown placeholders pass through unchanged.
func (s *Service) RehydrateSession(ctx context.Context, sessionID string, payload interface{}) (interface{}, error) {
	if sessionID == "" {
		return nil, apperr.Missing("session_id")
	}
	if err := vault.ValidateSessionID(sessionID); err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(sessionID)
	defer unlock()

	// Stat reports a missing or corrupt vault before anything is restored
	if _, err := s.catalog.Stat(ctx, sessionID); err != nil {
		return nil, err
	}
	storage, err := s.catalog.Open(sessionID)
	if err != nil {
		return nil, err
	}
	v := vault.New(storage)
	if err := v.Load(ctx); err != nil {
		return nil, err
	}

	restored := v.RehydrateStructured(payload)

	s.logger.WithSession(sessionID).Info("Payload rehydrated",
		zap.Int("vault_entries", v.Len()))

	s.record(ctx, &ledger.Run{
		SessionID:    sessionID,
		Kind:         ledger.KindRehydrate,
		VaultEntries: v.Len(),
	})
	s.publish(websocket.EventTypeSessionRehydrated, websocket.SessionRehydratedEvent{
		SessionID: sessionID,
		VaultPath: v.Location(),
		Mode:      ModeStructured,
	})

	return restored, nil
}

func (s *Service) record(ctx context.Context, run *ledger.Run) {
	if s.recorder == nil {
		return
	}
	if err := s.recorder.Record(ctx, run); err != nil {
		s.logger.Warn("Failed to record run",
			zap.String("session_id", run.SessionID),
			zap.String("kind", run.Kind),
			zap.Error(err))
	}
}

func (s *Service) publish(t websocket.EventType, data interface{}) {
	if s.publisher != nil {
		s.publisher.Publish(t, data)
	}
}

// resolveWithin joins a relative p onto base and rejects results, symlinks
// included, that leave base.
func resolveWithin(base, p, field string) (string, error) {
	baseAbs, err := filepath.Abs(base)
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s: %w", base, err)
	}

	target := p
	if !filepath.IsAbs(target) {
		target = filepath.Join(baseAbs, target)
	}
	target = filepath.Clean(target)
	if !within(baseAbs, target) {
		return "", apperr.Invalid(field, fmt.Sprintf("%q is outside %s", p, base))
	}

	realBase, err := filepath.EvalSymlinks(baseAbs)
	if err != nil {
		return target, nil
	}
	realTarget, err := filepath.EvalSymlinks(target)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return target, nil
		}
		return "", fmt.Errorf("failed to resolve %s: %w", p, err)
	}
	if !within(realBase, realTarget) {
		return "", apperr.Invalid(field, fmt.Sprintf("%q is outside %s", p, base))
	}
	return realTarget, nil
}

func within(base, p string) bool {
	rel, err := filepath.Rel(base, p)
	if err != nil || rel == "." {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

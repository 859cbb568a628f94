package policy

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/raaihank/moltkeeper/internal/apperr"
)

// createdAtLayouts are accepted for created_at. Files written by older tools
// carry a naive ISO timestamp with no zone; those are read as UTC.
var createdAtLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
}

type fileRule struct {
	TagPattern string         `json:"tag_pattern"`
	Action     Action         `json:"action"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

type filePolicy struct {
	Version       string     `json:"version"`
	GlobalMasking bool       `json:"global_masking"`
	Rules         []fileRule `json:"rules"`
	CreatedAt     *string    `json:"created_at"`
}

// Save writes p as indented JSON, creating parent directories.
func Save(p *Policy, path string) error {
	if p == nil {
		return errors.New("nil policy")
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create policy directory: %w", err)
		}
	}

	data, err := Marshal(p)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write policy %s: %w", path, err)
	}
	return nil
}

// Marshal encodes p in the on-disk policy format.
func Marshal(p *Policy) ([]byte, error) {
	fp := filePolicy{
		Version:       p.Version,
		GlobalMasking: p.GlobalMasking,
		Rules:         make([]fileRule, 0, len(p.Rules)),
	}
	if fp.Version == "" {
		fp.Version = DefaultVersion
	}
	for _, r := range p.Rules {
		fr := fileRule{TagPattern: r.TagPattern, Action: r.Action}
		if len(r.Parameters) > 0 {
			fr.Parameters = r.Parameters
		}
		fp.Rules = append(fp.Rules, fr)
	}
	if p.CreatedAt != nil {
		s := p.CreatedAt.Format(time.RFC3339Nano)
		fp.CreatedAt = &s
	}

	data, err := json.MarshalIndent(fp, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal policy: %w", err)
	}
	return data, nil
}

// Load reads a policy file. A missing file is an apperr.NotFoundError;
// malformed JSON or an unknown action is an apperr.ParseError.
func Load(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, apperr.NotFound("policy", path)
		}
		return nil, fmt.Errorf("failed to read policy %s: %w", path, err)
	}
	return unmarshal(data, path)
}

// Unmarshal decodes a policy from its on-disk format.
func Unmarshal(data []byte) (*Policy, error) {
	return unmarshal(data, "policy")
}

func unmarshal(data []byte, source string) (*Policy, error) {
	var fp filePolicy
	if err := json.Unmarshal(data, &fp); err != nil {
		return nil, apperr.Parse(source, err)
	}

	p := &Policy{
		Version:       fp.Version,
		GlobalMasking: fp.GlobalMasking,
		Rules:         make([]Rule, 0, len(fp.Rules)),
	}
	if p.Version == "" {
		p.Version = DefaultVersion
	}

	for i, fr := range fp.Rules {
		if !fr.Action.Valid() {
			return nil, apperr.Parse(source, fmt.Errorf("rule %d: unknown action %q", i, fr.Action))
		}
		if fr.TagPattern == "" {
			return nil, apperr.Parse(source, fmt.Errorf("rule %d: empty tag_pattern", i))
		}
		p.Rules = append(p.Rules, Rule(fr))
	}

	if fp.CreatedAt != nil && *fp.CreatedAt != "" {
		ts, err := parseCreatedAt(*fp.CreatedAt)
		if err != nil {
			return nil, apperr.Parse(source, err)
		}
		p.CreatedAt = &ts
	}

	return p, nil
}

func parseCreatedAt(s string) (time.Time, error) {
	for _, layout := range createdAtLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid created_at %q", s)
}

// Package vault keeps the reversible mapping from placeholders to the
// original values they replaced, and restores those values into arbitrary
// structured or textual payloads.
package vault

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/raaihank/moltkeeper/internal/apperr"
)

// DefaultTemplate renders placeholders as VAL_ followed by the id.
const DefaultTemplate = "VAL_{id}"

// Template tokens replaced by the generated id.
const (
	TokenID   = "{id}"
	TokenUUID = "{uuid}"
)

// Vault maps placeholders to original values. It is not safe for
// concurrent use; callers serialize access per session.
type Vault struct {
	storage  Storage
	entries  map[string]Entry
	template string
	newID    func() string
	now      func() time.Time
}

// Option configures a Vault.
type Option func(*Vault)

// WithTemplate sets the placeholder template. A template with neither
// {id} nor {uuid} gets the id appended.
func WithTemplate(tpl string) Option {
	return func(v *Vault) {
		if tpl != "" {
			v.template = tpl
		}
	}
}

// WithIDGenerator replaces the random id source.
func WithIDGenerator(fn func() string) Option {
	return func(v *Vault) {
		if fn != nil {
			v.newID = fn
		}
	}
}

// WithClock replaces the clock used for CreatedAt.
func WithClock(fn func() time.Time) Option {
	return func(v *Vault) {
		if fn != nil {
			v.now = fn
		}
	}
}

// New creates an empty vault bound to storage. storage may be nil for a
// purely in-memory vault.
func New(storage Storage, opts ...Option) *Vault {
	v := &Vault{
		storage:  storage,
		entries:  make(map[string]Entry),
		template: DefaultTemplate,
		newID:    RandomID,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// RandomID returns 32 lowercase hex characters drawn from a random UUID.
func RandomID() string {
	id := uuid.New()
	return strings.ReplaceAll(id.String(), "-", "")
}

// Store records original under a fresh placeholder and returns it. The
// placeholder never collides with one already in the vault.
func (v *Vault) Store(original string) string {
	for {
		placeholder := v.render(v.newID())
		if _, taken := v.entries[placeholder]; taken {
			continue
		}
		v.entries[placeholder] = Entry{
			Placeholder:   placeholder,
			OriginalValue: original,
			CreatedAt:     v.now(),
		}
		return placeholder
	}
}

// Restore returns the original value for placeholder.
func (v *Vault) Restore(placeholder string) (string, bool) {
	e, ok := v.entries[placeholder]
	if !ok {
		return "", false
	}
	return e.OriginalValue, true
}

// Len returns the number of entries.
func (v *Vault) Len() int { return len(v.entries) }

// Contains reports whether placeholder is known.
func (v *Vault) Contains(placeholder string) bool {
	_, ok := v.entries[placeholder]
	return ok
}

// Entries returns a copy of all entries sorted by placeholder.
func (v *Vault) Entries() []Entry {
	out := make([]Entry, 0, len(v.entries))
	for _, e := range v.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Placeholder < out[j].Placeholder })
	return out
}

// Location returns where the vault is persisted, or "" for an in-memory vault.
func (v *Vault) Location() string {
	if v.storage == nil {
		return ""
	}
	return v.storage.Location()
}

// Save writes the whole map to storage and returns its location.
func (v *Vault) Save(ctx context.Context) (string, error) {
	if v.storage == nil {
		return "", errors.New("vault has no storage")
	}
	data, err := Marshal(v.entries)
	if err != nil {
		return "", err
	}
	if err := v.storage.Write(ctx, data); err != nil {
		return "", fmt.Errorf("failed to save vault: %w", err)
	}
	return v.storage.Location(), nil
}

// Load replaces the in-memory map with the stored one. Absent storage is a
// no-op; undecodable storage is an apperr.CorruptVaultError.
func (v *Vault) Load(ctx context.Context) error {
	if v.storage == nil {
		return nil
	}
	data, ok, err := v.storage.Read(ctx)
	if err != nil {
		return fmt.Errorf("failed to read vault: %w", err)
	}
	if !ok {
		return nil
	}
	entries, err := Unmarshal(data)
	if err != nil {
		return &apperr.CorruptVaultError{Location: v.storage.Location(), Cause: err}
	}
	v.entries = entries
	return nil
}

func (v *Vault) render(id string) string {
	if strings.Contains(v.template, TokenID) || strings.Contains(v.template, TokenUUID) {
		return strings.NewReplacer(TokenID, id, TokenUUID, id).Replace(v.template)
	}
	return v.template + id
}

type fileEntry struct {
	MaskedValue   string `json:"masked_value"`
	OriginalValue string `json:"original_value"`
	CreatedAt     string `json:"created_at"`
}

var createdAtLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
}

// Marshal encodes entries in the vault file format, keyed by placeholder.
func Marshal(entries map[string]Entry) ([]byte, error) {
	out := make(map[string]fileEntry, len(entries))
	for k, e := range entries {
		fe := fileEntry{MaskedValue: e.Placeholder, OriginalValue: e.OriginalValue}
		if !e.CreatedAt.IsZero() {
			fe.CreatedAt = e.CreatedAt.Format(time.RFC3339Nano)
		}
		out[k] = fe
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal vault: %w", err)
	}
	return data, nil
}

// Unmarshal decodes the vault file format. Unreadable timestamps are kept
// as the zero time.
func Unmarshal(data []byte) (map[string]Entry, error) {
	var raw map[string]fileEntry
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	entries := make(map[string]Entry, len(raw))
	for k, fe := range raw {
		e := Entry{Placeholder: k, OriginalValue: fe.OriginalValue}
		for _, layout := range createdAtLayouts {
			if ts, err := time.Parse(layout, fe.CreatedAt); err == nil {
				e.CreatedAt = ts
				break
			}
		}
		entries[k] = e
	}
	return entries, nil
}

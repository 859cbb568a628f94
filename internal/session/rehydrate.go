package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/raaihank/moltkeeper/internal/apperr"
	"github.com/raaihank/moltkeeper/internal/ledger"
	"github.com/raaihank/moltkeeper/internal/vault"
	"github.com/raaihank/moltkeeper/internal/websocket"
)

// Rehydrate restores original values in a file using a vault file. JSON
// input is restored value by value and re-encoded indented; any other
// input is treated as text.
func (s *Service) Rehydrate(ctx context.Context, req RehydrateRequest) (*RehydrateResult, error) {
	cfg := s.currentConfig()

	if req.Input == "" {
		return nil, apperr.Missing("input")
	}
	vaultPath := req.VaultPath
	if vaultPath == "" {
		vaultPath = cfg.Vault.Path
	}

	raw, err := os.ReadFile(req.Input)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, apperr.NotFound("input", req.Input)
		}
		return nil, fmt.Errorf("failed to read %s: %w", req.Input, err)
	}
	if _, err := os.Stat(vaultPath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, apperr.NotFound("vault", vaultPath)
		}
		return nil, fmt.Errorf("failed to stat vault: %w", err)
	}

	v := vault.New(vault.FileStorage(vaultPath))
	if err := v.Load(ctx); err != nil {
		return nil, err
	}

	result := &RehydrateResult{
		VaultPath: vaultPath,
		Entries:   v.Len(),
	}

	if strings.EqualFold(filepath.Ext(req.Input), ".json") {
		data, err := decodeJSON(raw)
		if err != nil {
			return nil, apperr.Parse(req.Input, err)
		}
		out, err := json.MarshalIndent(v.RehydrateStructured(data), "", "  ")
		if err != nil {
			return nil, fmt.Errorf("failed to encode rehydrated JSON: %w", err)
		}
		result.Mode = ModeStructured
		result.Content = string(out)
	} else {
		result.Mode = ModeText
		result.Content = v.RehydrateText(string(raw))
	}

	switch {
	case req.InPlace:
		backup := req.Input + ".bak"
		if err := os.WriteFile(backup, raw, 0o644); err != nil {
			return nil, fmt.Errorf("failed to create backup: %w", err)
		}
		if err := replaceFile(req.Input, []byte(result.Content)); err != nil {
			return nil, err
		}
		result.BackupPath = backup
		result.OutputPath = req.Input
	case req.Output != "":
		if err := writeFile(req.Output, []byte(result.Content)); err != nil {
			return nil, err
		}
		result.OutputPath = req.Output
	}

	sessionID := strings.TrimSuffix(filepath.Base(vaultPath), vault.FileSuffix)

	s.logger.Info("File rehydrated",
		zap.String("input", req.Input),
		zap.String("vault", vaultPath),
		zap.String("mode", result.Mode),
		zap.Int("vault_entries", result.Entries),
		zap.String("output", result.OutputPath))

	s.record(ctx, &ledger.Run{
		SessionID:    sessionID,
		Kind:         ledger.KindRehydrate,
		Source:       req.Input,
		VaultEntries: result.Entries,
		OutputPath:   result.OutputPath,
	})
	s.publish(websocket.EventTypeSessionRehydrated, websocket.SessionRehydratedEvent{
		SessionID:  sessionID,
		VaultPath:  vaultPath,
		Mode:       result.Mode,
		OutputPath: result.OutputPath,
	})

	return result, nil
}

// decodeJSON decodes a single JSON value. Numbers are kept as json.Number
// so values that are not placeholders are re-encoded exactly as read.
func decodeJSON(raw []byte) (interface{}, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var data interface{}
	if err := dec.Decode(&data); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, errors.New("unexpected data after top-level value")
	}
	return data, nil
}

// replaceFile swaps data in at path through a temporary sibling, leaving
// path untouched when any step fails.
func replaceFile(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close %s: %w", tmpName, err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to set mode on %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	return nil
}

package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestErrorKinds(t *testing.T) {
	cases := []struct {
		name     string
		err      error
		sentinel error
		message  string
	}{
		{"parse", Parse("input.xml", errors.New("unexpected EOF")), ErrParse, "parse input.xml: unexpected EOF"},
		{"not found", NotFound("policy", "config/policy_locked.json"), ErrNotFound, "policy not found: config/policy_locked.json"},
		{"corrupt vault", &CorruptVaultError{Location: "vault/a.vault.json", Cause: errors.New("bad json")}, ErrCorruptVault, "corrupt vault at vault/a.vault.json: bad json"},
		{"missing", Missing("session_id"), ErrInvalidRequest, "missing required argument: session_id"},
		{"invalid", Invalid("filepath", "outside the input directory"), ErrInvalidRequest, "invalid argument filepath: outside the input directory"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.ErrorIs(t, tc.err, tc.sentinel)
			require.Equal(t, tc.message, tc.err.Error())

			wrapped := fmt.Errorf("outer: %w", tc.err)
			require.ErrorIs(t, wrapped, tc.sentinel)
		})
	}
}

func TestErrorsAs(t *testing.T) {
	err := fmt.Errorf("load: %w", NotFound("vault", "/tmp/x.vault.json"))

	var nf *NotFoundError
	require.True(t, errors.As(err, &nf))
	require.Equal(t, "vault", nf.Kind)
	require.Equal(t, "/tmp/x.vault.json", nf.Path)

	require.False(t, errors.Is(err, ErrParse))
}

package ledger

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func openSQLite(t *testing.T) *Store {
	t.Helper()
	cfg := &Config{Driver: "sqlite", DSN: filepath.Join(t.TempDir(), "ledger.db"), MaxOpenConns: 1}
	s, err := Open(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func exerciseStore(t *testing.T, s *Store) {
	ctx := context.Background()
	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	runs := []*Run{
		{SessionID: "s1", Kind: KindSanitize, Source: "model.xml", Policy: "policy_locked.json", Masked: 9, ShuffledParents: 1, Shadowed: 7, VaultEntries: 9, CreatedAt: base},
		{SessionID: "s1", Kind: KindSubmit, OutputPath: "out/s1_optimization.json", CreatedAt: base.Add(time.Minute)},
		{SessionID: "s2", Kind: KindSanitize, Source: "other.xml", Masked: 3, CreatedAt: base.Add(2 * time.Minute)},
	}
	for _, r := range runs {
		require.NoError(t, s.Record(ctx, r))
		require.NotEmpty(t, r.ID)
	}

	recent, err := s.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	require.Equal(t, "s2", recent[0].SessionID)
	require.Equal(t, KindSubmit, recent[1].Kind)
	require.True(t, base.Add(2*time.Minute).Equal(recent[0].CreatedAt))

	session, err := s.BySession(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, session, 2)
	require.Equal(t, *runs[0], session[0])
	require.Equal(t, "out/s1_optimization.json", session[1].OutputPath)

	stats, err := s.GetStats(ctx)
	require.NoError(t, err)
	require.Equal(t, &Stats{TotalRuns: 3, Sessions: 2, TotalMasked: 12}, stats)
}

func TestSQLiteStore(t *testing.T) {
	exerciseStore(t, openSQLite(t))
}

func TestRecordDefaults(t *testing.T) {
	s := openSQLite(t)
	fixed := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return fixed }

	r := &Run{SessionID: "s", Kind: KindRehydrate}
	require.NoError(t, s.Record(context.Background(), r))
	require.Len(t, r.ID, 36)
	require.Equal(t, fixed, r.CreatedAt)

	got, err := s.Recent(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, r.ID, got[0].ID)
}

func TestReopenKeepsRuns(t *testing.T) {
	ctx := context.Background()
	cfg := &Config{Driver: "sqlite", DSN: filepath.Join(t.TempDir(), "ledger.db")}

	s, err := Open(ctx, cfg, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, s.Record(ctx, &Run{SessionID: "s", Kind: KindSanitize}))
	require.NoError(t, s.Close())

	s, err = Open(ctx, cfg, zap.NewNop())
	require.NoError(t, err)
	defer s.Close()
	runs, err := s.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
}

func TestUnsupportedDriver(t *testing.T) {
	_, err := Open(context.Background(), &Config{Driver: "mysql"}, zap.NewNop())
	require.Error(t, err)
}

func TestMaskDatabaseURL(t *testing.T) {
	require.Equal(t, "postgres://u:***@db:5432/x", maskDatabaseURL("postgres://u:pw@db:5432/x"))
	require.Equal(t, "/tmp/ledger.db", maskDatabaseURL("/tmp/ledger.db"))
}

func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("MOLTKEEPER_TEST_POSTGRES")
	if dsn == "" {
		t.Skip("MOLTKEEPER_TEST_POSTGRES not set")
	}
	ctx := context.Background()
	s, err := Open(ctx, &Config{Driver: "postgres", DSN: dsn, MaxOpenConns: 2}, zap.NewNop())
	require.NoError(t, err)
	defer s.Close()

	_, err = s.db.ExecContext(ctx, "DELETE FROM runs")
	require.NoError(t, err)
	exerciseStore(t, s)
}

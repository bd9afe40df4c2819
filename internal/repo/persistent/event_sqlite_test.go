package persistent

import (
	"path/filepath"
	"testing"

	"github.com/andreyxaxa/Event-Queue/internal/repo"
	"github.com/andreyxaxa/Event-Queue/pkg/migrator"
	"github.com/andreyxaxa/Event-Queue/pkg/sqlite"
	"github.com/stretchr/testify/require"
)

func newSQLiteTestRepo(t *testing.T, clock *testClock) repo.EventRepo {
	t.Helper()

	s, err := sqlite.New(filepath.Join(t.TempDir(), "events.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	require.NoError(t, migrator.UpSQLite(s.DB))

	return NewEventSQLiteRepo(s, WithClock(clock.Now))
}

func TestEventSQLiteRepo(t *testing.T) {
	runClockedSuite(t, newSQLiteTestRepo)
}

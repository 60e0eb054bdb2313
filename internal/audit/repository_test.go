package audit

import (
	"path/filepath"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"

	"github.com/strefethen/tunegate/internal/db"
)

func setupTestDB(t *testing.T) *db.DBPair {
	t.Helper()
	dbPair, err := db.Init(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { dbPair.Close() })
	return dbPair
}

func setupTestRepo(t *testing.T) *Repository {
	t.Helper()
	return NewRepository(setupTestDB(t))
}

func TestRepository_InsertLog(t *testing.T) {
	repo := setupTestRepo(t)

	stored, err := repo.InsertLog(LogEntry{
		Origin:    "192.0.2.1:5000",
		Message:   "Downloaded 'abc123'",
		RequestID: "req-1",
		Subject:   "device-1",
	})
	require.NoError(t, err)
	require.NotEmpty(t, stored.LogID)
	require.False(t, stored.Timestamp.IsZero())

	fetched, err := repo.GetLog(stored.LogID)
	require.NoError(t, err)
	require.NotNil(t, fetched)
	require.Equal(t, "192.0.2.1:5000", fetched.Origin)
	require.Equal(t, "Downloaded 'abc123'", fetched.Message)
	require.Equal(t, "req-1", *fetched.RequestID)
	require.Equal(t, "device-1", *fetched.Subject)
	require.True(t, stored.Timestamp.Equal(fetched.Timestamp))
}

func TestRepository_InsertLog_OptionalFields(t *testing.T) {
	repo := setupTestRepo(t)

	stored, err := repo.InsertLog(LogEntry{Origin: "o", Message: "m"})
	require.NoError(t, err)

	fetched, err := repo.GetLog(stored.LogID)
	require.NoError(t, err)
	require.Nil(t, fetched.RequestID)
	require.Nil(t, fetched.Subject)
}

func TestRepository_GetLog_NotFound(t *testing.T) {
	repo := setupTestRepo(t)

	stored, err := repo.GetLog("nonexistent-id")
	require.NoError(t, err)
	require.Nil(t, stored)
}

func TestRepository_QueryLogs_NewestFirst(t *testing.T) {
	repo := setupTestRepo(t)
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	for i := 0; i < 5; i++ {
		_, err := repo.InsertLog(LogEntry{
			Origin:    "o",
			Message:   "Get info of 'id'",
			Timestamp: base.Add(time.Duration(i) * time.Second),
		})
		require.NoError(t, err)
	}

	logs, total, err := repo.QueryLogs(LogQueryFilters{Limit: 2})
	require.NoError(t, err)
	require.Equal(t, 5, total)
	require.Len(t, logs, 2)
	require.True(t, logs[0].Timestamp.After(logs[1].Timestamp))
	require.True(t, logs[0].Timestamp.Equal(base.Add(4*time.Second)))

	page, _, err := repo.QueryLogs(LogQueryFilters{Limit: 2, Offset: 4})
	require.NoError(t, err)
	require.Len(t, page, 1)
	require.True(t, page[0].Timestamp.Equal(base))
}

func TestRepository_QueryLogs_Filters(t *testing.T) {
	repo := setupTestRepo(t)
	base := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)

	_, err := repo.InsertLog(LogEntry{Origin: "a:1", Message: "Downloaded 'x'", Timestamp: base})
	require.NoError(t, err)
	_, err = repo.InsertLog(LogEntry{Origin: "b:2", Message: "Search for 'lofi' with 10 results", Subject: "dev", Timestamp: base.Add(time.Hour)})
	require.NoError(t, err)

	origin := "a:1"
	logs, total, err := repo.QueryLogs(LogQueryFilters{Origin: &origin})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	require.Equal(t, "Downloaded 'x'", logs[0].Message)

	contains := "lofi"
	logs, _, err = repo.QueryLogs(LogQueryFilters{Contains: &contains})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	require.Equal(t, "b:2", logs[0].Origin)

	subject := "dev"
	logs, _, err = repo.QueryLogs(LogQueryFilters{Subject: &subject})
	require.NoError(t, err)
	require.Len(t, logs, 1)

	// The start bound is inclusive even though stored timestamps carry fractions.
	from := base.Format(time.RFC3339)
	to := base.Add(30 * time.Minute).Format(time.RFC3339)
	logs, _, err = repo.QueryLogs(LogQueryFilters{StartDate: &from, EndDate: &to})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	require.Equal(t, "a:1", logs[0].Origin)
}

func TestRepository_PruneBefore(t *testing.T) {
	repo := setupTestRepo(t)
	now := time.Now().UTC()

	_, err := repo.InsertLog(LogEntry{Origin: "o", Message: "old", Timestamp: now.AddDate(0, 0, -100)})
	require.NoError(t, err)
	_, err = repo.InsertLog(LogEntry{Origin: "o", Message: "new", Timestamp: now})
	require.NoError(t, err)

	deleted, err := repo.PruneBefore(now.AddDate(0, 0, -90))
	require.NoError(t, err)
	require.Equal(t, int64(1), deleted)

	logs, total, err := repo.QueryLogs(LogQueryFilters{})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	require.Equal(t, "new", logs[0].Message)
}

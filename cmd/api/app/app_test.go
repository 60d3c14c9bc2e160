package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, lines string) string {
	t.Helper()
	dir := t.TempDir()
	content := "HTTP_PORT=0\nLOG_OUTPUT_PATH=" + filepath.Join(dir, "app.log") + "\nDB_PATH=" + filepath.Join(dir, "users.db") + "\n" + lines
	require.NoError(t, os.WriteFile(filepath.Join(dir, "app.env"), []byte(content), 0o600))
	return dir
}

func TestApp_RunAndShutdown(t *testing.T) {
	a, err := New(writeConfig(t, "SHUTDOWN_TIMEOUT_SECONDS=2\n"))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("application did not stop")
	}

	sqlDB, err := a.Container.DB.DB()
	require.NoError(t, err)
	assert.Error(t, sqlDB.Ping(), "database is closed after shutdown")
}

func TestApp_New_InvalidConfig(t *testing.T) {
	_, err := New(writeConfig(t, "LIST_MAX_LIMIT=0\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "LIST_MAX_LIMIT")
}

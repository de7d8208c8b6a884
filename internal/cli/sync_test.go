package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gofrs/flock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/pimsync/internal/engine"
	"github.com/roach88/pimsync/internal/link"
	"github.com/roach88/pimsync/internal/model"
	"github.com/roach88/pimsync/internal/store"
)

type syncFixture struct {
	dir       string
	config    string
	primary   string
	secondary string
	lockFile  string
	metrics   string
	logFile   string
}

// setupSyncFixture writes a config whose stores, lock, metrics and log
// files all live in a temp dir. extra is appended to the YAML.
func setupSyncFixture(t *testing.T, extra string) *syncFixture {
	t.Helper()
	dir := t.TempDir()
	f := &syncFixture{
		dir:       dir,
		primary:   filepath.Join(dir, "primary.db"),
		secondary: filepath.Join(dir, "secondary.db"),
		lockFile:  filepath.Join(dir, "pimsync.lock"),
		metrics:   filepath.Join(dir, "pimsync.prom"),
		logFile:   filepath.Join(dir, "pimsync.log"),
	}
	body := fmt.Sprintf(`
primary:
  path: %s
secondary:
  path: %s
lock_file: %s
metrics_file: %s
log:
  file: %s
%s`, f.primary, f.secondary, f.lockFile, f.metrics, f.logFile, extra)
	f.config = writeConfigFile(t, dir, body)
	return f
}

func seedStore(t *testing.T, path string, items ...model.Item) {
	t.Helper()
	s, err := store.Open(path)
	require.NoError(t, err)
	defer s.Close()
	for _, it := range items {
		_, err := s.Create(context.Background(), it)
		require.NoError(t, err)
	}
}

func listStore(t *testing.T, path string) []model.Item {
	t.Helper()
	s, err := store.Open(path)
	require.NoError(t, err)
	defer s.Close()
	items, err := store.ListAll(context.Background(), s, store.Filter{})
	require.NoError(t, err)
	return items
}

func executeSync(t *testing.T, f *syncFixture, format string, verbose bool) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	opts := &SyncOptions{
		RootOptions: &RootOptions{Format: format, Config: f.config, Verbose: verbose},
		PassIDs:     engine.NewFixedGenerator("pass-1"),
	}
	cmd := newSyncCommand(opts)
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{})
	err := cmd.Execute()
	return buf.String(), err
}

func contact(name, email string) model.Item {
	return model.Item{Kind: model.KindContact, Name: name, Email: email}
}

func TestSyncCopiesPrimaryToSecondary(t *testing.T) {
	f := setupSyncFixture(t, "")
	seedStore(t, f.primary, contact("Ada Lovelace", "ada@example.com"), contact("Alan Turing", "alan@example.com"))

	output, err := executeSync(t, f, "text", false)
	require.NoError(t, err)

	assert.Contains(t, output, "Pass pass-1 (primary-authoritative): 2 match(es)")
	assert.Contains(t, output, "created 2")
	assert.Contains(t, output, "✓ Pass complete")

	copies := listStore(t, f.secondary)
	require.Len(t, copies, 2)
	for _, it := range copies {
		primaryID, ok := link.Resolve(model.Secondary, &it)
		assert.True(t, ok, "secondary %s has no link", it.ID)
		assert.NotEmpty(t, primaryID)
	}
	for _, it := range listStore(t, f.primary) {
		_, ok := link.Resolve(model.Primary, &it)
		assert.True(t, ok, "primary %s has no link", it.ID)
	}
}

func TestSyncSecondPassIsUnchanged(t *testing.T) {
	f := setupSyncFixture(t, "")
	seedStore(t, f.primary, contact("Ada Lovelace", "ada@example.com"))

	_, err := executeSync(t, f, "text", false)
	require.NoError(t, err)

	output, err := executeSync(t, f, "json", false)
	require.NoError(t, err)

	var resp struct {
		Status string         `json:"status"`
		PassID string         `json:"pass_id"`
		Data   engine.Summary `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(output), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "pass-1", resp.PassID)
	assert.Equal(t, 1, resp.Data.Matches)
	assert.Equal(t, 1, resp.Data.Unchanged)
	assert.Equal(t, 0, resp.Data.Created)
	assert.Len(t, listStore(t, f.secondary), 1)
}

func TestSyncReportsSkippedMatches(t *testing.T) {
	f := setupSyncFixture(t, "")
	t.Setenv("PIMSYNC_SECONDARY_MAX_PAYLOAD_BYTES", "1024")

	big := contact("Ada Lovelace", "ada@example.com")
	big.Body = strings.Repeat("x", 4096)
	seedStore(t, f.primary, big, contact("Alan Turing", "alan@example.com"))

	output, err := executeSync(t, f, "json", false)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp struct {
		Status string         `json:"status"`
		Data   engine.Summary `json:"data"`
		Error  *CLIError      `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(output), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodePassFailed, resp.Error.Code)
	assert.Equal(t, 1, resp.Data.Created)
	assert.Equal(t, 1, resp.Data.Skipped)
	require.Len(t, resp.Data.Diagnostics, 1)
	assert.Equal(t, engine.ErrCodePayloadTooLarge, resp.Data.Diagnostics[0].Code)

	assert.Len(t, listStore(t, f.secondary), 1)
}

func TestSyncWritesMetricsAndLog(t *testing.T) {
	f := setupSyncFixture(t, "")
	seedStore(t, f.primary, contact("Ada Lovelace", "ada@example.com"))

	_, err := executeSync(t, f, "text", true)
	require.NoError(t, err)

	prom, err := os.ReadFile(f.metrics)
	require.NoError(t, err)
	assert.Contains(t, string(prom), `pimsync_passes_total{status="ok"} 1`)
	assert.Contains(t, string(prom), `pimsync_match_results_total{action="CreateOnSecondary",outcome="created"} 1`)

	logData, err := os.ReadFile(f.logFile)
	require.NoError(t, err)
	assert.NotEmpty(t, logData)
}

func TestSyncReleasesLock(t *testing.T) {
	f := setupSyncFixture(t, "")

	_, err := executeSync(t, f, "text", false)
	require.NoError(t, err)

	lock := flock.New(f.lockFile)
	locked, err := lock.TryLock()
	require.NoError(t, err)
	assert.True(t, locked)
	require.NoError(t, lock.Unlock())
}

func TestSyncLockHeld(t *testing.T) {
	f := setupSyncFixture(t, "")

	lock := flock.New(f.lockFile)
	locked, err := lock.TryLock()
	require.NoError(t, err)
	require.True(t, locked)
	defer lock.Unlock()

	output, err := executeSync(t, f, "text", false)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, output, "Error [E_LOCKED]")
}

func TestSyncInvalidConfig(t *testing.T) {
	f := setupSyncFixture(t, "sync:\n  policy: coin-flip\n")

	output, err := executeSync(t, f, "text", false)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, output, "Error [E_CONFIG]")
}

func TestSyncStoreOpenFailure(t *testing.T) {
	f := setupSyncFixture(t, "")
	// A directory cannot be opened as a database file.
	require.NoError(t, os.MkdirAll(f.primary, 0o755))

	output, err := executeSync(t, f, "text", false)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, output, "Error [E_STORE]")
}

func TestSyncRejectsArgs(t *testing.T) {
	cmd := NewSyncCommand(&RootOptions{Format: "text"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"extra"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown command")
}

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/glindsay/resume-assistant/internal/domain"
	"github.com/glindsay/resume-assistant/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestKeygenPrintsHexKey(t *testing.T) {
	out, err := execute(t, "keygen")
	require.NoError(t, err)
	assert.Regexp(t, regexp.MustCompile(`^[0-9a-f]{64}\n$`), out)

	second, err := execute(t, "keygen")
	require.NoError(t, err)
	assert.NotEqual(t, out, second)
}

func TestAuditPrintsRecentEvents(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "audit.db")
	repo, err := store.NewSQLite(dbPath)
	require.NoError(t, err)

	base := time.Now().Add(-time.Minute)
	for i, what := range []string{"first", "second", "third"} {
		require.NoError(t, repo.InsertLogEvent(context.Background(), &domain.LogEvent{
			ID:       what,
			Who:      "203.0.113.7",
			When:     base.Add(time.Duration(i) * time.Second),
			What:     what,
			ThreadID: "thread_abc",
			LogType:  domain.LogTypeRequest,
		}))
	}
	require.NoError(t, repo.Close())

	out, err := execute(t, "audit", "--db", dbPath, "--limit", "2")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)

	var newest domain.LogEvent
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &newest))
	assert.Equal(t, "third", newest.What)
	assert.Equal(t, "thread_abc", newest.ThreadID)
	assert.Equal(t, domain.LogTypeRequest, newest.LogType)
}

func TestAuditReadsDBPathFromEnvironment(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "env.db")
	repo, err := store.NewSQLite(dbPath)
	require.NoError(t, err)
	require.NoError(t, repo.InsertLogEvent(context.Background(), &domain.LogEvent{
		ID:      "only",
		Who:     "203.0.113.7",
		When:    time.Now(),
		What:    "from env",
		LogType: domain.LogTypeResponse,
	}))
	require.NoError(t, repo.Close())

	t.Setenv("DB_PATH", dbPath)
	out, err := execute(t, "audit")
	require.NoError(t, err)
	assert.Contains(t, out, `"what":"from env"`)

	// An explicit flag wins over the environment.
	out, err = execute(t, "audit", "--db", filepath.Join(t.TempDir(), "empty.db"))
	require.NoError(t, err)
	assert.Empty(t, strings.TrimSpace(out))
}

func TestAuditRejectsNonPositiveLimit(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "audit.db")
	_, err := execute(t, "audit", "--db", dbPath, "--limit", "0")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--limit")
}

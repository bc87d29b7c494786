package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pageweight.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(append(args, "--env-file", filepath.Join(t.TempDir(), "missing.env")))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func newSite(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/":
			_, _ = io.WriteString(w, `<link href="/site.css" rel="stylesheet">`)
		case "/site.css":
			_, _ = io.WriteString(w, "body{margin:0}")
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

// sqliteConfig writes a config with a SQLite store. An empty redisAddr keeps
// the in-process cache.
func sqliteConfig(t *testing.T, siteURL, mode, redisAddr string) string {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "pageweight.db")
	cache := "cache:\n  driver: memory\n"
	if redisAddr != "" {
		cache = fmt.Sprintf("cache:\n  driver: redis\n  redis:\n    addr: %s\n", redisAddr)
	}
	return writeConfig(t, cache+fmt.Sprintf(`
sites:
  dev: %s
scheduler:
  mode: %s
storage:
  driver: sqlite
  dsn: %q
  auto_migrate: true
logging:
  development: false
  level: error
`, siteURL, mode, dsn))
}

func TestRunThenHistory(t *testing.T) {
	site := newSite(t)
	cfgPath := sqliteConfig(t, site.URL, "interval", "")

	out, err := execute(t, "--config", cfgPath, "run")
	require.NoError(t, err)
	require.Contains(t, out, "Status Code: 200")
	require.Contains(t, out, site.URL+"/site.css")
	require.Contains(t, out, "Assets Size: 14")

	out, err = execute(t, "--config", cfgPath, "history", "dev")
	require.NoError(t, err)
	var rows []struct {
		SiteURL  string `json:"site_url"`
		CSSBytes *int64 `json:"css_bytes"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &rows))
	require.Len(t, rows, 1)
	require.Equal(t, site.URL, rows[0].SiteURL)
	require.NotNil(t, rows[0].CSSBytes)
	require.Equal(t, int64(14), *rows[0].CSSBytes)
}

func TestRunRejectedWithoutPing(t *testing.T) {
	cfgPath := sqliteConfig(t, "http://127.0.0.1:1", "ping", "")

	out, err := execute(t, "--config", cfgPath, "run")
	require.NoError(t, err)
	require.Equal(t, "No ping to process.\n", out)
}

func TestPingThenRunAcrossInvocations(t *testing.T) {
	mr := miniredis.RunT(t)
	site := newSite(t)
	cfgPath := sqliteConfig(t, site.URL, "ping", mr.Addr())

	out, err := execute(t, "--config", cfgPath, "ping")
	require.NoError(t, err)
	require.Regexp(t, `^Ping saved: \d{4}-\d{2}-\d{2}T`, out)
	require.True(t, mr.Exists("pageweight:last_ping"))

	out, err = execute(t, "--config", cfgPath, "run")
	require.NoError(t, err)
	require.Contains(t, out, "Assets Size: 14")
}

func TestPingUnsupportedInIntervalMode(t *testing.T) {
	mr := miniredis.RunT(t)
	cfgPath := sqliteConfig(t, "http://127.0.0.1:1", "interval", mr.Addr())

	_, err := execute(t, "--config", cfgPath, "ping")
	require.Error(t, err)
	require.NotContains(t, err.Error(), "cache.driver")
}

func TestPingRefusesMemoryCache(t *testing.T) {
	cfgPath := sqliteConfig(t, "http://127.0.0.1:1", "ping", "")

	out, err := execute(t, "--config", cfgPath, "ping")
	require.ErrorContains(t, err, "cache.driver memory")
	require.Empty(t, out)
}

func TestStoreCommandsRefuseMemoryStore(t *testing.T) {
	cfgPath := writeConfig(t, "sites:\n  dev: http://127.0.0.1:1\nstorage:\n  driver: memory\n")

	for _, args := range [][]string{{"run"}, {"history", "dev"}} {
		out, err := execute(t, append([]string{"--config", cfgPath}, args...)...)
		require.ErrorContains(t, err, "storage.driver memory", args[0])
		require.Empty(t, out, args[0])
	}
}

func TestHistoryUnknownSite(t *testing.T) {
	cfgPath := sqliteConfig(t, "http://127.0.0.1:1", "interval", "")

	_, err := execute(t, "--config", cfgPath, "history", "staging")
	require.ErrorContains(t, err, "staging")
}

func TestMigrate(t *testing.T) {
	dsn := "file:" + filepath.Join(t.TempDir(), "pageweight.db")
	cfgPath := writeConfig(t, fmt.Sprintf("storage:\n  driver: sqlite\n  dsn: %q\n", dsn))

	out, err := execute(t, "--config", cfgPath, "migrate")
	require.NoError(t, err)
	require.Equal(t, "Applied migration 00001\n", out)

	out, err = execute(t, "--config", cfgPath, "migrate")
	require.NoError(t, err)
	require.Equal(t, "Schema is up to date.\n", out)
}

func TestMigrateMemoryStore(t *testing.T) {
	cfgPath := writeConfig(t, "storage:\n  driver: memory\n")

	_, err := execute(t, "--config", cfgPath, "migrate")
	require.ErrorContains(t, err, "no schema")
}

func TestInvalidConfig(t *testing.T) {
	cfgPath := writeConfig(t, "scheduler:\n  mode: hourly\n")

	_, err := execute(t, "--config", cfgPath, "run")
	require.ErrorContains(t, err, "scheduler.mode")
}

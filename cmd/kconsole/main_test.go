package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	lg "github.com/charmbracelet/lipgloss/v2"
	"github.com/go-logr/logr"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/sttts/kconsole/internal/metrics"
	"github.com/sttts/kconsole/internal/session"
	"github.com/sttts/kconsole/pkg/resources"
	"github.com/sttts/kconsole/pkg/resources/fake"
)

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]zapcore.Level{
		"":      zapcore.InfoLevel,
		"debug": zapcore.DebugLevel,
		"error": zapcore.ErrorLevel,
		"0":     zapcore.InfoLevel,
		"3":     zapcore.Level(-3),
	} {
		got, err := parseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	for _, in := range []string{"-1", "loud"} {
		_, err := parseLevel(in)
		assert.Error(t, err, in)
	}
}

func TestOptionsLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("kubernetes:\n  namespace: from-file\n  context: file-ctx\n"), 0o644))

	o := &options{}
	cmd := &cobra.Command{Use: "test"}
	o.addFlags(cmd.Flags())
	require.NoError(t, cmd.Flags().Parse([]string{"--config", path, "-n", "from-flag", "--log-level", "debug"}))

	cfg, err := o.load(cmd)
	require.NoError(t, err)
	assert.Equal(t, "from-flag", cfg.Kubernetes.Namespace)
	assert.Equal(t, "file-ctx", cfg.Kubernetes.Context)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.False(t, cfg.Log.Development)
}

// syncBuffer is a bytes.Buffer safe for one writer and concurrent readers.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestVersionCommand(t *testing.T) {
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "kconsole version dev")
}

func TestWatchRejectsUnknownTarget(t *testing.T) {
	cmd := newRootCommand()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"watch", "jobs"})
	assert.Error(t, cmd.Execute())
}

func TestRenderTableTruncatesLongCells(t *testing.T) {
	long := "https://" + strings.Repeat("x", 100) + ".example.com"

	var out bytes.Buffer
	require.NoError(t, renderTable(&out, []string{"NAME", "URL"}, [][]string{{"web", long}}))

	lines := strings.Split(strings.TrimRight(out.String(), "\n"), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, []string{"NAME", "URL"}, strings.Fields(lines[0]))
	assert.Contains(t, lines[1], "…")
	assert.NotContains(t, lines[1], ".example.com")
	for i, ln := range lines {
		assert.LessOrEqual(t, lg.Width(ln), len("NAME")+2+maxCellWidth+2, "line %d: %q", i, ln)
	}
}

func TestPrinter(t *testing.T) {
	_, err := newPrinter("json", &bytes.Buffer{})
	require.Error(t, err)

	rows := []row{{Name: "web", Kind: "Deployment", Status: "1/2", Services: []string{"web", "api"}, URL: "https://web.example.com"}}

	var table bytes.Buffer
	p, err := newPrinter("table", &table)
	require.NoError(t, err)
	require.NoError(t, p.print(rows))
	lines := strings.Split(strings.TrimSpace(table.String()), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, []string{"NAME", "KIND", "STATUS", "SERVICES", "URL"}, strings.Fields(lines[0]))
	assert.Equal(t, []string{"web", "Deployment", "1/2", "web,api", "https://web.example.com"}, strings.Fields(lines[1]))

	var y bytes.Buffer
	p, err = newPrinter("yaml", &y)
	require.NoError(t, err)
	require.NoError(t, p.print(rows))
	assert.Equal(t, `---
- kind: Deployment
  name: web
  services:
  - web
  - api
  status: 1/2
  url: https://web.example.com
`, y.String())
}

func TestRunWatch(t *testing.T) {
	pods := fake.NewService(fake.Object("ns", "p1", map[string]interface{}{"status": map[string]interface{}{"phase": "Running"}}))
	services := map[resources.Kind]resources.Service{resources.KindPod: pods}
	m, err := metrics.New(nil)
	require.NoError(t, err)
	sess, err := session.New(services, session.WithLogger(logr.Discard()), session.WithMetrics(m))
	require.NoError(t, err)
	defer sess.Close()

	var out syncBuffer
	p, err := newPrinter("table", &out)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- runWatch(ctx, sess, "ns", "pods", p) }()

	require.Eventually(t, func() bool { return strings.Contains(out.String(), "Running") }, 5*time.Second, 10*time.Millisecond)
	pods.LastWatcher().Emit(resources.Added, fake.Named("p2"))
	require.Eventually(t, func() bool { return strings.Contains(out.String(), "p2") }, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("runWatch did not return after cancel")
	}

	// services are not configured
	assert.ErrorIs(t, runWatch(t.Context(), sess, "ns", "services", p), resources.ErrUnknownKind)
}

func TestMetricsHandler(t *testing.T) {
	reg := newRegistry()
	m, err := metrics.New(reg)
	require.NoError(t, err)
	m.WatchOpened("Pod")

	srv := httptest.NewServer(metricsHandler(reg))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	var body bytes.Buffer
	_, err = body.ReadFrom(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, body.String(), `kconsole_watches_open{kind="Pod"} 1`)
}

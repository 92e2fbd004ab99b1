package themerig

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/themerig/internal/rounds"
	"github.com/loykin/themerig/internal/supervisor"
	"github.com/loykin/themerig/internal/workflow"
)

func testConfig(t *testing.T, backendURL, frontendURL string) *Config {
	t.Helper()
	root := t.TempDir()
	themes := filepath.Join(root, "client", "src", "themes")
	require.NoError(t, os.MkdirAll(themes, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(themes, "default.json"), []byte(`{"palette":{"primary":"#005aa0"}}`), 0o644))

	t.Setenv("THEMERIG_PROJECT_ROOT", root)
	t.Setenv("THEMERIG_BACKEND_URL", backendURL)
	t.Setenv("THEMERIG_FRONTEND_URL", frontendURL)
	t.Setenv("THEMERIG_BACKEND_COMMAND", "sleep 30")
	t.Setenv("THEMERIG_FRONTEND_COMMAND", "sleep 30")
	t.Setenv("THEMERIG_BACKEND_WORKDIR", root)
	t.Setenv("THEMERIG_FRONTEND_WORKDIR", root)
	t.Setenv("THEMERIG_HEALTH_INTERVAL", "50ms")
	t.Setenv("THEMERIG_HEALTH_TIMEOUT", "500ms")
	t.Setenv("THEMERIG_LOG_FILE", filepath.Join(root, "themerig.log"))

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	return cfg
}

func fileRunner(artifacts string) workflow.Runner {
	return workflow.RunnerFunc(func(_ context.Context, target string, round int) (workflow.Result, error) {
		var out []string
		for step := 1; step <= workflow.Steps; step++ {
			p := rounds.ArtifactPath(filepath.Join(artifacts, target), round, step, "png")
			if err := os.WriteFile(p, []byte{0x89, 'P', 'N', 'G'}, 0o644); err != nil {
				return workflow.Result{}, err
			}
			out = append(out, p)
		}
		return workflow.Result{Success: true, Artifacts: out}, nil
	})
}

func TestAppCreateAndCaptureAgainstRunningServices(t *testing.T) {
	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer up.Close()

	cfg := testConfig(t, up.URL, up.URL)
	app, err := New(cfg, Options{Runner: fileRunner(cfg.Paths.Artifacts), Registerer: prometheus.NewRegistry()})
	require.NoError(t, err)
	defer func() { require.NoError(t, app.Close()) }()
	require.NotNil(t, app.History(), "sqlite history is on by default")

	ctx := context.Background()
	created := app.CreateEnvironment(ctx, "acme")
	require.True(t, created.Success, created.Message)
	assert.Equal(t, "running", created.Status)
	assert.FileExists(t, filepath.Join(cfg.Paths.Configs, "acme.json"))

	first := app.GetScreenshots(ctx, "acme")
	require.True(t, first.Success, first.Message)
	second := app.GetScreenshots(ctx, "acme")
	require.True(t, second.Success, second.Message)
	assert.Equal(t, 1, first.RoundNumber)
	assert.Equal(t, 2, second.RoundNumber)

	runs, err := app.History().RecentCaptures(ctx, "acme", 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, 2, runs[0].Round, "newest first")
	assert.Equal(t, second.RunID, runs[0].ID)

	assert.Zero(t, app.Supervisor().State(supervisor.Backend).PID, "nothing launched when already running")
}

func TestAppStartsServicesInBackgroundAndCloseReaps(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses sleep")
	}
	// nothing listens here, so both services stay in starting
	cfg := testConfig(t, "http://127.0.0.1:1", "http://127.0.0.1:1")
	cfg.Store.DSN = ""
	app, err := New(cfg, Options{Runner: fileRunner(cfg.Paths.Artifacts), Registerer: prometheus.NewRegistry()})
	require.NoError(t, err)
	assert.Nil(t, app.History())

	res := app.CreateEnvironment(context.Background(), "acme")
	require.True(t, res.Success, res.Message)
	assert.Equal(t, "starting", res.Status)

	sup := app.Supervisor()
	require.Eventually(t, func() bool {
		return sup.State(supervisor.Backend).PID > 0 && sup.State(supervisor.Frontend).PID > 0
	}, 5*time.Second, 20*time.Millisecond)
	backendPID := sup.State(supervisor.Backend).PID

	capture := app.GetScreenshots(context.Background(), "acme")
	assert.False(t, capture.Success)
	assert.Contains(t, capture.Message, "create_environment")

	done := make(chan struct{})
	go func() {
		_ = app.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(15 * time.Second):
		t.Fatal("Close did not return")
	}
	assert.Equal(t, supervisor.StateAbsent, sup.State(supervisor.Backend).State)
	assert.Error(t, syscallKill0(backendPID), "backend process should be gone")

	after := app.CreateEnvironment(context.Background(), "acme")
	assert.False(t, after.Success)
	require.NoError(t, app.Close())
}

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/loykin/themerig/internal/supervisor"
)

// clearEnv blanks every override so the host environment cannot leak in.
// Empty values are ignored by the loader.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, legacy := range legacyEnv {
		t.Setenv(legacy, "")
	}
	for _, kv := range os.Environ() {
		if k, _, _ := strings.Cut(kv, "="); strings.HasPrefix(k, EnvPrefix+"_") {
			t.Setenv(k, "")
		}
	}
}

func writeConfig(t *testing.T, data string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "themerig.toml")
	if err := os.WriteFile(p, []byte(data), 0o644); err != nil {
		t.Fatalf("write toml: %v", err)
	}
	return p
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	root := t.TempDir()
	t.Setenv("THEMERIG_PROJECT_ROOT", root)

	c, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.ProjectRoot != root {
		t.Fatalf("project root = %q, want %q", c.ProjectRoot, root)
	}
	if c.Backend.URL != "http://localhost:8082" || c.Frontend.URL != "http://localhost:8081" {
		t.Fatalf("unexpected urls: %q %q", c.Backend.URL, c.Frontend.URL)
	}
	if c.Backend.Command != "gradle noClientComposeUp" || c.Frontend.Command != "npm start" {
		t.Fatalf("unexpected commands: %q %q", c.Backend.Command, c.Frontend.Command)
	}
	if c.Backend.WorkDir != root || c.Frontend.WorkDir != filepath.Join(root, "client") {
		t.Fatalf("unexpected workdirs: %q %q", c.Backend.WorkDir, c.Frontend.WorkDir)
	}
	if c.Backend.StartupTimeout != 180*time.Second || c.Frontend.StartupTimeout != 120*time.Second {
		t.Fatalf("unexpected startup timeouts: %v %v", c.Backend.StartupTimeout, c.Frontend.StartupTimeout)
	}
	if c.Backend.StopGrace != 10*time.Second || c.Frontend.StopGrace != 5*time.Second {
		t.Fatalf("unexpected grace: %v %v", c.Backend.StopGrace, c.Frontend.StopGrace)
	}
	if c.Health.Interval != 5*time.Second || c.Health.Timeout != 5*time.Second {
		t.Fatalf("unexpected health: %+v", c.Health)
	}
	if c.Credentials.Username != "admin" || c.Credentials.Password != "A12PT-admintest" {
		t.Fatalf("unexpected credentials: %+v", c.Credentials)
	}
	if c.Browser.Headless || c.Browser.SlowMo != 50*time.Millisecond || c.Browser.PageTimeout != 10*time.Second {
		t.Fatalf("unexpected browser: %+v", c.Browser)
	}
	configs := filepath.Join(root, "client", "src", "themes")
	if c.Paths.Configs != configs || c.Paths.BaseTemplate != filepath.Join(configs, "default.json") {
		t.Fatalf("unexpected theme paths: %+v", c.Paths)
	}
	if c.Paths.Artifacts != filepath.Join(root, "screenshots") {
		t.Fatalf("unexpected artifacts: %q", c.Paths.Artifacts)
	}
	if c.Store.DSN != filepath.Join(root, ".themerig", "history.db") {
		t.Fatalf("unexpected dsn: %q", c.Store.DSN)
	}
	if c.Server.Addr != "127.0.0.1:3000" || c.Server.BasePath != "/api" || !c.Server.Metrics {
		t.Fatalf("unexpected server: %+v", c.Server)
	}
	if c.Log.Level != "info" || c.Log.File.AppPath != filepath.Join(os.TempDir(), "themerig.log") {
		t.Fatalf("unexpected log: %+v", c.Log)
	}
}

func TestLoadFileOverrides(t *testing.T) {
	clearEnv(t)
	root := t.TempDir()
	p := writeConfig(t, `
project_root = "`+root+`"
env = ["GLOBAL=1"]

[backend]
url = "http://127.0.0.1:9082"
command = "./gradlew bootRun"
startup_timeout = "30s"
env = ["SPRING_PROFILES_ACTIVE=dev"]

[frontend]
workdir = "web"
stop_grace = "1s"

[browser]
headless = true
slow_mo = 0

[paths]
artifacts = "out/shots"

[log]
level = "debug"
dir = "logs"

[store]
dsn = ""

[server]
base_path = "v1/"
`)
	c, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.Backend.URL != "http://127.0.0.1:9082" || c.Backend.Command != "./gradlew bootRun" {
		t.Fatalf("backend not overridden: %+v", c.Backend)
	}
	if c.Backend.StartupTimeout != 30*time.Second {
		t.Fatalf("startup_timeout = %v", c.Backend.StartupTimeout)
	}
	if c.Frontend.WorkDir != filepath.Join(root, "web") || c.Frontend.StopGrace != time.Second {
		t.Fatalf("frontend not overridden: %+v", c.Frontend)
	}
	if c.Frontend.Command != "npm start" {
		t.Fatalf("unset keys must keep defaults, got %q", c.Frontend.Command)
	}
	if !c.Browser.Headless || c.Browser.SlowMo != 0 {
		t.Fatalf("browser not overridden: %+v", c.Browser)
	}
	if c.Paths.Artifacts != filepath.Join(root, "out", "shots") {
		t.Fatalf("artifacts = %q", c.Paths.Artifacts)
	}
	if c.Log.Level != "debug" || c.Log.File.Dir != filepath.Join(root, "logs") {
		t.Fatalf("log not overridden: %+v", c.Log)
	}
	if c.Store.DSN != "" {
		t.Fatalf("empty dsn must disable history, got %q", c.Store.DSN)
	}
	if c.Server.BasePath != "/v1" {
		t.Fatalf("base path = %q", c.Server.BasePath)
	}

	svc := c.Service(supervisor.Backend)
	if svc.Spec.Name != supervisor.Backend || svc.Spec.Command != "./gradlew bootRun" || svc.URL != c.Backend.URL {
		t.Fatalf("unexpected service config: %+v", svc)
	}
	if len(svc.Spec.Env) != 1 || svc.Spec.Log.File.Dir != c.Log.File.Dir {
		t.Fatalf("service spec missing env or log: %+v", svc.Spec)
	}
	if err := svc.Spec.Validate(); err != nil {
		t.Fatalf("service spec invalid: %v", err)
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	clearEnv(t)
	p := writeConfig(t, `
[frontend]
url = "http://from-file:1"
`)
	t.Setenv("THEMERIG_FRONTEND_URL", "http://from-env:2")
	t.Setenv("THEMERIG_BACKEND_STARTUP_TIMEOUT", "45s")
	t.Setenv("THEMERIG_LOG_LEVEL", "warn")
	c, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.Frontend.URL != "http://from-env:2" {
		t.Fatalf("frontend url = %q", c.Frontend.URL)
	}
	if c.Backend.StartupTimeout != 45*time.Second {
		t.Fatalf("startup timeout = %v", c.Backend.StartupTimeout)
	}
	if c.Log.Level != "warn" {
		t.Fatalf("level = %q", c.Log.Level)
	}
}

func TestLoadLegacyEnvNames(t *testing.T) {
	clearEnv(t)
	t.Setenv("FRONTEND_URL", "http://legacy:8081")
	t.Setenv("BACKEND_URL", "http://legacy:8082")
	t.Setenv("DEFAULT_USERNAME", "qa")
	t.Setenv("DEFAULT_PASSWORD", "secret")
	t.Setenv("HEADLESS", "true")
	t.Setenv("SLOW_MO", "250")
	c, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.Frontend.URL != "http://legacy:8081" || c.Backend.URL != "http://legacy:8082" {
		t.Fatalf("legacy urls ignored: %q %q", c.Frontend.URL, c.Backend.URL)
	}
	if c.Credentials.Username != "qa" || c.Credentials.Password != "secret" {
		t.Fatalf("legacy credentials ignored: %+v", c.Credentials)
	}
	if !c.Browser.Headless || c.Browser.SlowMo != 250*time.Millisecond {
		t.Fatalf("legacy browser ignored: %+v", c.Browser)
	}

	wf := c.Workflow()
	if wf.FrontendURL != "http://legacy:8081" || wf.Username != "qa" || !wf.Browser.Headless {
		t.Fatalf("unexpected workflow config: %+v", wf)
	}

	// prefixed names take precedence
	t.Setenv("THEMERIG_FRONTEND_URL", "http://prefixed:1")
	c, err = Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.Frontend.URL != "http://prefixed:1" {
		t.Fatalf("prefixed name should win, got %q", c.Frontend.URL)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	clearEnv(t)
	cases := map[string]string{
		"relative url":   "[backend]\nurl = \"localhost:8082\"\n",
		"empty command":  "[frontend]\ncommand = \" \"\n",
		"zero timeout":   "[backend]\nstartup_timeout = \"0s\"\n",
		"zero interval":  "[health]\ninterval = \"0s\"\n",
		"page timeout":   "[browser]\npage_timeout = \"0s\"\n",
		"bad duration":   "[health]\ntimeout = \"soon\"\n",
		"malformed toml": "[backend\n",
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, data)); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	clearEnv(t)
	if _, err := Load(filepath.Join(t.TempDir(), "absent.toml")); err == nil {
		t.Fatalf("expected error for missing config file")
	}
}

func TestLoadEnvFile(t *testing.T) {
	p := filepath.Join(t.TempDir(), ".env")
	data := "A=1\n# comment\n\nexport B=\"two words\"\nC='3'\nnoequals\n=empty\n"
	if err := os.WriteFile(p, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	got, err := LoadEnvFile(p)
	if err != nil {
		t.Fatalf("load env file: %v", err)
	}
	want := []string{"A=1", "B=two words", "C=3"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("got %q, want %q", got, want)
	}
	if _, err := LoadEnvFile(filepath.Join(t.TempDir(), "missing.env")); err == nil {
		t.Fatalf("expected error for missing env file")
	}
}

func TestGlobalEnvOrder(t *testing.T) {
	clearEnv(t)
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "dev.env"), []byte("FILE_ONLY=fv\nTOP=from-file\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("OS_ONLY", "osv")
	c := &Config{
		ProjectRoot: root,
		UseOSEnv:    true,
		EnvFiles:    []string{"dev.env"},
		Env:         []string{"TOP=tv"},
	}
	pairs, err := c.GlobalEnv()
	if err != nil {
		t.Fatalf("GlobalEnv: %v", err)
	}
	// later entries win when composed
	m := map[string]string{}
	for _, kv := range pairs {
		k, v, _ := strings.Cut(kv, "=")
		m[k] = v
	}
	if m["OS_ONLY"] != "osv" || m["FILE_ONLY"] != "fv" || m["TOP"] != "tv" {
		t.Fatalf("unexpected merge: OS_ONLY=%q FILE_ONLY=%q TOP=%q", m["OS_ONLY"], m["FILE_ONLY"], m["TOP"])
	}

	c.UseOSEnv = false
	pairs, _ = c.GlobalEnv()
	for _, kv := range pairs {
		if strings.HasPrefix(kv, "OS_ONLY=") {
			t.Fatalf("OS env leaked with use_os_env=false")
		}
	}
}

func TestLoadExampleConfig(t *testing.T) {
	clearEnv(t)
	c, err := Load(filepath.Join("..", "..", "examples", "config", "themerig.toml"))
	if err != nil {
		t.Fatalf("example config must load: %v", err)
	}
	if c.Store.Retention != 720*time.Hour || !c.Browser.Headless {
		t.Fatalf("unexpected example values: %+v %+v", c.Store, c.Browser)
	}
	if _, err := c.GlobalEnv(); err != nil {
		t.Fatalf("GlobalEnv: %v", err)
	}
}

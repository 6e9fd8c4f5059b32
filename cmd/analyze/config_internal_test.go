package analyze

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestMain(m *testing.M) {
	dir, err := os.MkdirTemp("", "rtpscope-config")
	if err != nil {
		panic(err)
	}
	os.Setenv("XDG_CONFIG_HOME", dir)
	code := m.Run()
	os.RemoveAll(dir)
	os.Exit(code)
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestGetConfigPathUsesXDG(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/xdg")
	if got := getConfigPath(); got != filepath.Join("/xdg", "rtpscope", "config.yaml") {
		t.Fatalf("config path = %q", got)
	}
}

func TestLoadConfigFileMissing(t *testing.T) {
	cfg, err := loadConfigFile(filepath.Join(t.TempDir(), "none.yaml"))
	if err != nil || cfg != nil {
		t.Fatalf("missing config = %+v, %v", cfg, err)
	}
}

func TestLoadConfigFileInvalid(t *testing.T) {
	for name, body := range map[string]string{
		"syntax":          "servers: [",
		"bad url":         "servers:\n  lab: {url: \"ftp://lab\"}\n",
		"unknown default": "default_server: lab\n",
		"bad window":      "window: 3m\n",
		"bad timeout":     "timeout: 1ms\n",
		"json and plain":  "json: true\nplain: true\n",
	} {
		if _, err := loadConfigFile(writeConfig(t, body)); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestConfigFileDefaultsAndFlagsWin(t *testing.T) {
	path := writeConfig(t, `default_server: lab
servers:
  lab: {url: "http://lab.example:8080", api_key: "k1"}
  edge: {url: "https://edge.example"}
window: 200ms
json: true
`)
	opts, code, ok := parseFlags([]string{"--config", path, "--server", "", "--list"}, os.Stdout, os.Stderr)
	if !ok {
		t.Fatalf("parseFlags failed: %d", code)
	}
	if opts.serverURL != "http://lab.example:8080" || opts.apiKey != "k1" {
		t.Fatalf("server = %q key = %q", opts.serverURL, opts.apiKey)
	}
	if opts.window != 200*time.Millisecond || !opts.jsonOut {
		t.Fatalf("window = %v json = %v", opts.window, opts.jsonOut)
	}

	opts, _, ok = parseFlags([]string{"--config", path, "--server", "edge", "--window", "1s", "--plain", "call"}, os.Stdout, os.Stderr)
	if !ok {
		t.Fatal("parseFlags failed")
	}
	if opts.serverURL != "https://edge.example" || opts.apiKey != "" || opts.window != time.Second || opts.jsonOut || !opts.plain {
		t.Fatalf("opts = %+v", opts)
	}
}

func TestConfigFileServerErrors(t *testing.T) {
	path := writeConfig(t, "servers:\n  lab: {url: \"http://lab\"}\n")
	var stderr strings.Builder
	if _, code, ok := parseFlags([]string{"--config", path, "--server", "nope", "call"}, os.Stdout, &stderr); ok || code != exitUsage {
		t.Fatalf("unknown alias: ok=%v code=%d", ok, code)
	}
	if !strings.Contains(stderr.String(), `unknown server "nope"`) {
		t.Fatalf("stderr = %q", stderr.String())
	}
	missing := filepath.Join(t.TempDir(), "none.yaml")
	if _, code, ok := parseFlags([]string{"--config", missing, "--server", "lab", "call"}, os.Stdout, &stderr); ok || code != exitUsage {
		t.Fatalf("no config: ok=%v code=%d", ok, code)
	}
}

func TestConfigFileLocalDefaults(t *testing.T) {
	path := writeConfig(t, "window: 500ms\nno_color: true\n")
	opts, _, ok := parseFlags([]string{"--config", path, "call.jsonl"}, os.Stdout, os.Stderr)
	if !ok {
		t.Fatal("parseFlags failed")
	}
	if opts.serverURL != "" || opts.window != 500*time.Millisecond || !opts.noColor {
		t.Fatalf("opts = %+v", opts)
	}
}

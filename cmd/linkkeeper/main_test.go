package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stellarlinkco/linkkeeper/internal/config"
	"github.com/stellarlinkco/linkkeeper/internal/gateway"
	"github.com/stellarlinkco/linkkeeper/internal/store"
	"github.com/stellarlinkco/linkkeeper/internal/task"
)

var testNow = time.Date(2024, 1, 14, 10, 0, 0, 0, time.UTC)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

type recordingNotifier struct {
	mu   sync.Mutex
	sent []string
}

func (n *recordingNotifier) Send(_ context.Context, ownerID, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, ownerID+": "+text)
	return nil
}

func setupHome(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("USERPROFILE", home)
	for _, k := range []string{
		"LINKKEEPER_API_KEY", "ANTHROPIC_API_KEY", "OPENAI_API_KEY", "LINKKEEPER_BASE_URL",
		"LINKKEEPER_TELEGRAM_TOKEN", "TELEGRAM_BOT_TOKEN", "LINKKEEPER_CLASSIFIER",
		"LINKKEEPER_TICK_INTERVAL", "LINKKEEPER_SUMMARY_HOUR", "LINKKEEPER_MAX_ATTEMPTS",
		"LINKKEEPER_DB_PATH",
	} {
		t.Setenv(k, "")
	}
	t.Setenv("LINKKEEPER_TIMEZONE", "UTC")
	return home
}

func newCmd() (*cobra.Command, *bytes.Buffer) {
	var buf bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&buf)
	return cmd, &buf
}

func seedTask(t *testing.T, owner, url string, deadline time.Time) *task.Task {
	t.Helper()
	engine, err := store.NewEngine(filepath.Join(config.ConfigDir(), "data", "linkkeeper.db"))
	if err != nil {
		t.Fatalf("NewEngine error: %v", err)
	}
	defer engine.Close()

	tk := task.New(owner, url, "Seeded task", task.CategoryJob, testNow.Add(-time.Hour))
	tk.Deadline = &deadline
	if err := engine.Put(tk); err != nil {
		t.Fatalf("Put error: %v", err)
	}
	return tk
}

func TestInit(t *testing.T) {
	want := map[string]bool{"gateway": false, "onboard": false, "status": false, "tick": false, "list": false}
	for _, c := range rootCmd.Commands() {
		if _, ok := want[c.Name()]; ok {
			want[c.Name()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("command %q not registered", name)
		}
	}
	if listCmd.Flags().Lookup("owner") == nil {
		t.Error("list is missing the --owner flag")
	}
}

func TestRunOnboard(t *testing.T) {
	home := setupHome(t)
	cmd, out := newCmd()

	if err := runOnboard(cmd, nil); err != nil {
		t.Fatalf("runOnboard error: %v", err)
	}
	if _, err := os.Stat(filepath.Join(home, ".linkkeeper", "config.json")); err != nil {
		t.Errorf("config file was not created: %v", err)
	}
	if _, err := os.Stat(filepath.Join(home, ".linkkeeper", "data")); err != nil {
		t.Errorf("data dir was not created: %v", err)
	}
	if !strings.Contains(out.String(), "Created config") {
		t.Errorf("unexpected output: %s", out.String())
	}
}

func TestRunOnboard_AlreadyExists(t *testing.T) {
	home := setupHome(t)
	cfgDir := filepath.Join(home, ".linkkeeper")
	os.MkdirAll(cfgDir, 0755)
	os.WriteFile(filepath.Join(cfgDir, "config.json"), []byte("{}"), 0644)

	cmd, out := newCmd()
	if err := runOnboard(cmd, nil); err != nil {
		t.Fatalf("runOnboard error: %v", err)
	}
	if !strings.Contains(out.String(), "Config already exists") {
		t.Errorf("expected 'Config already exists', got: %s", out.String())
	}
}

func TestRunStatus_NoDatabase(t *testing.T) {
	setupHome(t)
	cmd, out := newCmd()

	if err := runStatus(cmd, nil); err != nil {
		t.Fatalf("runStatus error: %v", err)
	}
	got := out.String()
	for _, want := range []string{"Classifier: keyword", "Telegram: enabled=false", "summaries at 09:00 UTC", "no database yet"} {
		if !strings.Contains(got, want) {
			t.Errorf("status output missing %q:\n%s", want, got)
		}
	}
	if strings.Contains(got, "API Key") {
		t.Errorf("keyword mode should not print the api key:\n%s", got)
	}
}

func TestRunStatus_LLMWithAPIKey(t *testing.T) {
	setupHome(t)
	t.Setenv("LINKKEEPER_CLASSIFIER", "llm")
	t.Setenv("LINKKEEPER_API_KEY", "sk-1234567890abcdef")
	cmd, out := newCmd()

	if err := runStatus(cmd, nil); err != nil {
		t.Fatalf("runStatus error: %v", err)
	}
	if !strings.Contains(out.String(), "API Key: sk-1...cdef") {
		t.Errorf("expected masked key, got:\n%s", out.String())
	}
	if !strings.Contains(out.String(), "anthropic (default)") {
		t.Errorf("expected default provider, got:\n%s", out.String())
	}
}

func TestRunStatus_WithTasks(t *testing.T) {
	setupHome(t)
	seedTask(t, "42", "https://example.com/a", testNow.Add(48*time.Hour))
	cmd, out := newCmd()

	if err := runStatus(cmd, nil); err != nil {
		t.Fatalf("runStatus error: %v", err)
	}
	if !strings.Contains(out.String(), "Tasks: 1") || !strings.Contains(out.String(), "Last tick: never") {
		t.Errorf("unexpected output:\n%s", out.String())
	}
}

func TestRunStatus_BadConfig(t *testing.T) {
	home := setupHome(t)
	cfgDir := filepath.Join(home, ".linkkeeper")
	os.MkdirAll(cfgDir, 0755)
	os.WriteFile(filepath.Join(cfgDir, "config.json"), []byte("{nope"), 0644)

	cmd, out := newCmd()
	if err := runStatus(cmd, nil); err != nil {
		t.Fatalf("runStatus error: %v", err)
	}
	if !strings.Contains(out.String(), "Config: error") {
		t.Errorf("unexpected output: %s", out.String())
	}
}

func TestMaskKey(t *testing.T) {
	tests := []struct{ key, want string }{
		{"", "not set"},
		{"short", "set"},
		{"sk-1234567890abcdef", "sk-1...cdef"},
	}
	for _, tt := range tests {
		if got := maskKey(tt.key); got != tt.want {
			t.Errorf("maskKey(%q) = %q, want %q", tt.key, got, tt.want)
		}
	}
}

func TestRunGateway_NoTelegram(t *testing.T) {
	setupHome(t)
	cmd, _ := newCmd()

	err := runGateway(cmd, nil)
	if err == nil || !strings.Contains(err.Error(), "telegram is not enabled") {
		t.Fatalf("runGateway error = %v", err)
	}
}

func TestRunTick(t *testing.T) {
	setupHome(t)
	seedTask(t, "42", "https://example.com/job", testNow.Add(30*time.Hour))

	n := &recordingNotifier{}
	gatewayOptions = gateway.Options{Notifier: n, Clock: fixedClock{testNow}}
	defer func() { gatewayOptions = gateway.Options{} }()

	cmd, out := newCmd()
	if err := runTick(cmd, nil); err != nil {
		t.Fatalf("runTick error: %v", err)
	}
	if !strings.Contains(out.String(), "sent: 1") {
		t.Errorf("unexpected output:\n%s", out.String())
	}
	if len(n.sent) != 1 || !strings.HasPrefix(n.sent[0], "42: ") {
		t.Fatalf("sent = %v", n.sent)
	}
}

func TestRunTick_NoNotifier(t *testing.T) {
	setupHome(t)
	cmd, _ := newCmd()

	if err := runTick(cmd, nil); err == nil {
		t.Fatal("expected error without an enabled channel")
	}
}

func TestRunList(t *testing.T) {
	setupHome(t)
	a := seedTask(t, "42", "https://example.com/a", testNow.Add(48*time.Hour))
	b := seedTask(t, "7", "https://example.com/b", testNow.Add(72*time.Hour))

	cmd, out := newCmd()
	if err := runList(cmd, nil); err != nil {
		t.Fatalf("runList error: %v", err)
	}
	if !strings.Contains(out.String(), task.ShortID(a.ID)) || !strings.Contains(out.String(), task.ShortID(b.ID)) {
		t.Errorf("list all output:\n%s", out.String())
	}

	ownerFlag = "7"
	defer func() { ownerFlag = "" }()
	cmd, out = newCmd()
	if err := runList(cmd, nil); err != nil {
		t.Fatalf("runList error: %v", err)
	}
	if strings.Contains(out.String(), task.ShortID(a.ID)) || !strings.Contains(out.String(), "2024-01-17") {
		t.Errorf("list --owner output:\n%s", out.String())
	}
}

func TestPrintTasks_Empty(t *testing.T) {
	var buf bytes.Buffer
	printTasks(&buf, nil, time.UTC)
	if buf.String() != "No tasks.\n" {
		t.Errorf("output = %q", buf.String())
	}
}

func TestProviderDisplay(t *testing.T) {
	if got := providerDisplay(""); got != "anthropic (default)" {
		t.Errorf("providerDisplay(\"\") = %q", got)
	}
	if got := providerDisplay("openai"); got != "openai" {
		t.Errorf("providerDisplay(openai) = %q", got)
	}
}

package routecfg

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/blockrun/proxy/internal/classifier"
	"github.com/blockrun/proxy/internal/models"
	"github.com/blockrun/proxy/internal/routing"
)

const overrideYAML = `profiles:
  eco:
    simple:
      primary: deepseek/deepseek-chat
      fallback: [openai/gpt-4o-mini]
    medium:
      primary: deepseek/deepseek-chat
    complex:
      primary: google/gemini-2.5-flash
    reasoning:
      primary: deepseek/deepseek-r1
classifier_weights:
  reasoning_markers: 0.25
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "routing.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaultsWithoutPath(t *testing.T) {
	l, err := NewLoader(slog.Default(), "", models.Default())
	if err != nil {
		t.Fatal(err)
	}
	cfg := l.Current()
	def := routing.DefaultTables()
	if cfg.Tables.Auto[classifier.Simple].Primary != def.Auto[classifier.Simple].Primary {
		t.Fatal("empty path should serve built-in defaults")
	}
}

func TestLoadOverrides(t *testing.T) {
	path := writeConfig(t, overrideYAML)
	l, err := NewLoader(slog.Default(), path, models.Default())
	if err != nil {
		t.Fatal(err)
	}
	cfg := l.Current()
	if got := cfg.Tables.Eco[classifier.Simple].Primary; got != "deepseek/deepseek-chat" {
		t.Fatalf("eco SIMPLE primary = %s", got)
	}
	if got := cfg.Tables.Eco[classifier.Simple].Fallback; len(got) != 1 || got[0] != "openai/gpt-4o-mini" {
		t.Fatalf("eco SIMPLE fallback = %v", got)
	}
	if cfg.Weights.ReasoningMarkers != 0.25 {
		t.Fatalf("overridden weight = %f", cfg.Weights.ReasoningMarkers)
	}
	// Untouched profiles keep defaults.
	def := routing.DefaultTables()
	if cfg.Tables.Premium[classifier.Complex].Primary != def.Premium[classifier.Complex].Primary {
		t.Fatal("premium table should stay default")
	}
}

func TestLoadRejectsUnknownModel(t *testing.T) {
	path := writeConfig(t, "profiles:\n  eco:\n    simple:\n      primary: nosuch/model\n")
	if _, err := NewLoader(slog.Default(), path, models.Default()); err == nil {
		t.Fatal("unknown model should fail validation")
	}
}

func TestLoadRejectsUnknownProfileAndTier(t *testing.T) {
	path := writeConfig(t, "profiles:\n  turbo:\n    simple:\n      primary: openai/gpt-4o\n")
	if _, err := NewLoader(slog.Default(), path, models.Default()); err == nil {
		t.Fatal("unknown profile should fail validation")
	}

	path = writeConfig(t, "profiles:\n  eco:\n    ultra:\n      primary: openai/gpt-4o\n")
	if _, err := NewLoader(slog.Default(), path, models.Default()); err == nil {
		t.Fatal("unknown tier should fail validation")
	}
}

func TestWatchReload(t *testing.T) {
	path := writeConfig(t, overrideYAML)
	l, err := NewLoader(slog.Default(), path, models.Default())
	if err != nil {
		t.Fatal(err)
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = l.Watch(stop)
	}()

	updated := `profiles:
  eco:
    simple:
      primary: openai/gpt-4o-mini
`
	// Give the watcher a moment to register before rewriting.
	time.Sleep(50 * time.Millisecond)
	if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
		t.Fatal(err)
	}

	deadline := time.After(2 * time.Second)
	for {
		if l.Current().Tables.Eco[classifier.Simple].Primary == "openai/gpt-4o-mini" {
			break
		}
		select {
		case <-deadline:
			t.Fatal("watcher never applied the rewrite")
		case <-time.After(20 * time.Millisecond):
		}
	}

	close(stop)
	<-done
}

func TestReloadKeepsLastGoodOnError(t *testing.T) {
	path := writeConfig(t, overrideYAML)
	l, err := NewLoader(slog.Default(), path, models.Default())
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(":::bad yaml"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := l.reload(); err == nil {
		t.Fatal("bad yaml should error")
	}
	if l.Current().Tables.Eco[classifier.Simple].Primary != "deepseek/deepseek-chat" {
		t.Fatal("failed reload must keep the last good config")
	}
}

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Gateway.Port != 8090 {
		t.Errorf("expected default port 8090, got %d", cfg.Gateway.Port)
	}
	if cfg.Poller.IntervalDuration() != 60*time.Second {
		t.Errorf("expected 60s default poll interval, got %v", cfg.Poller.IntervalDuration())
	}
	if cfg.Engine.CooldownDuration() != 24*time.Hour {
		t.Errorf("expected 24h default cooldown, got %v", cfg.Engine.CooldownDuration())
	}
	if cfg.Engine.WorkerCount() != 2 {
		t.Errorf("expected 2 default workers, got %d", cfg.Engine.WorkerCount())
	}
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Gateway.Port != 8090 {
		t.Errorf("expected defaults on missing file, got port %d", cfg.Gateway.Port)
	}
}

func TestLoadExpandsEnvAndDefaults(t *testing.T) {
	t.Setenv("TEST_GH_TOKEN", "tok-from-env")

	raw := `
github:
  token: ${TEST_GH_TOKEN}
repos:
  - repo: octocat/hello
  - repo: octocat/world
    mode: APPROVAL_GATED
    max_iterations: 3
    ci_enabled: false
    review_enabled: true
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(raw), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.GitHub.Token != "tok-from-env" {
		t.Errorf("env expansion failed: got token %q", cfg.GitHub.Token)
	}
	if len(cfg.Repos) != 2 {
		t.Fatalf("expected 2 repos, got %d", len(cfg.Repos))
	}

	first := cfg.Repos[0]
	if first.Owner() != "octocat" || first.Name() != "hello" {
		t.Errorf("owner/name split failed: %q/%q", first.Owner(), first.Name())
	}
	if first.Mode != ModeAutonomous {
		t.Errorf("expected default mode AUTONOMOUS, got %q", first.Mode)
	}
	if first.MaxIterations != 5 || first.MaxReviewIterations != 2 {
		t.Errorf("budget defaults wrong: %d/%d", first.MaxIterations, first.MaxReviewIterations)
	}
	if !first.CI() {
		t.Error("expected CI enabled by default")
	}
	if first.CITimeoutMinutes != 15 {
		t.Errorf("expected 15m CI timeout default, got %d", first.CITimeoutMinutes)
	}
	if first.AutoMerge {
		t.Error("expected autoMerge false by default")
	}

	second := cfg.Repos[1]
	if second.Mode != ModeApprovalGated {
		t.Errorf("expected APPROVAL_GATED, got %q", second.Mode)
	}
	if second.MaxIterations != 3 {
		t.Errorf("expected overridden max_iterations=3, got %d", second.MaxIterations)
	}
	if second.CI() {
		t.Error("expected CI disabled when ci_enabled: false")
	}
	if !second.ReviewEnabled {
		t.Error("expected review enabled")
	}
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg := DefaultConfig()
		cfg.GitHub.Token = "tok"
		cfg.Repos = []*RepoConfig{{Repo: "octocat/hello"}}
		for _, r := range cfg.Repos {
			r.applyDefaults()
		}
		return cfg
	}

	t.Run("valid", func(t *testing.T) {
		if err := base().Validate(); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})

	t.Run("bad port", func(t *testing.T) {
		cfg := base()
		cfg.Gateway.Port = 0
		if err := cfg.Validate(); err == nil {
			t.Error("expected error for port 0")
		}
	})

	t.Run("missing token", func(t *testing.T) {
		cfg := base()
		cfg.GitHub.Token = ""
		if err := cfg.Validate(); err == nil {
			t.Error("expected error for missing token")
		}
	})

	t.Run("bad repo", func(t *testing.T) {
		cfg := base()
		cfg.Repos = append(cfg.Repos, &RepoConfig{Repo: "no-slash", Mode: ModeAutonomous})
		if err := cfg.Validate(); err == nil {
			t.Error("expected error for repo without owner/name")
		}
	})

	t.Run("bad mode", func(t *testing.T) {
		cfg := base()
		cfg.Repos[0].Mode = "YOLO"
		if err := cfg.Validate(); err == nil {
			t.Error("expected error for unknown mode")
		}
	})

	t.Run("duplicate repo", func(t *testing.T) {
		cfg := base()
		dup := &RepoConfig{Repo: "octocat/hello"}
		dup.applyDefaults()
		cfg.Repos = append(cfg.Repos, dup)
		if err := cfg.Validate(); err == nil {
			t.Error("expected error for duplicate repo")
		}
	})
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	cfg := DefaultConfig()
	cfg.GitHub.Token = "tok"
	cfg.Repos = []*RepoConfig{{Repo: "octocat/hello", Mode: ModeAutonomous}}

	if err := Save(cfg, path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "octocat/hello") {
		t.Error("saved config missing repo entry")
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(loaded.Repos) != 1 || loaded.Repos[0].Repo != "octocat/hello" {
		t.Errorf("round trip lost repos: %+v", loaded.Repos)
	}
}

func TestToolTimeout(t *testing.T) {
	var nilTool *ToolConfig
	if nilTool.Timeout() != 30*time.Minute {
		t.Errorf("nil tool config should default to 30m, got %v", nilTool.Timeout())
	}
	tool := &ToolConfig{TimeoutMinutes: 5}
	if tool.Timeout() != 5*time.Minute {
		t.Errorf("expected 5m, got %v", tool.Timeout())
	}
}

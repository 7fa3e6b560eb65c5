package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	if cfg.DialogTimeout != 60000 {
		t.Errorf("Expected DialogTimeout 60000, got %d", cfg.DialogTimeout)
	}
	if !cfg.UseFixedURL {
		t.Error("Expected UseFixedURL to default to true")
	}
	if cfg.ForcePort {
		t.Error("Expected ForcePort to default to false")
	}
	if cfg.KillOnConflict {
		t.Error("Expected KillOnConflict to default to false")
	}
	if !cfg.CleanupPortOnStart {
		t.Error("Expected CleanupPortOnStart to default to true")
	}
	if cfg.WebPort != 5000 {
		t.Errorf("Expected WebPort 5000, got %d", cfg.WebPort)
	}
	if cfg.WebHost != "127.0.0.1" {
		t.Errorf("Expected WebHost 127.0.0.1, got %s", cfg.WebHost)
	}
	if cfg.PortRangeSize != 20 {
		t.Errorf("Expected PortRangeSize 20, got %d", cfg.PortRangeSize)
	}
	if cfg.SweepInterval != DefaultSweepInterval {
		t.Errorf("Expected SweepInterval %v, got %v", DefaultSweepInterval, cfg.SweepInterval)
	}
	if cfg.MaxAttachmentBytes != 10*1024*1024 {
		t.Errorf("Expected MaxAttachmentBytes 10485760, got %d", cfg.MaxAttachmentBytes)
	}
	if cfg.Timeout() != 60000*time.Second {
		t.Errorf("Expected Timeout 60000s, got %v", cfg.Timeout())
	}
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("MCP_DIALOG_TIMEOUT", "30")
	t.Setenv("MCP_USE_FIXED_URL", "false")
	t.Setenv("MCP_FORCE_PORT", "true")
	t.Setenv("MCP_KILL_PROCESS_ON_PORT_CONFLICT", "true")
	t.Setenv("MCP_WEB_PORT", "8123")
	t.Setenv("MCP_SWEEP_INTERVAL", "5s")
	t.Setenv("MCP_PROCESS_POLICY_FILE", "/etc/feedback/policy.yaml")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if cfg.DialogTimeout != 30 {
		t.Errorf("Expected DialogTimeout 30, got %d", cfg.DialogTimeout)
	}
	if cfg.UseFixedURL {
		t.Error("Expected UseFixedURL false")
	}
	if !cfg.ForcePort || !cfg.KillOnConflict {
		t.Error("Expected ForcePort and KillOnConflict true")
	}
	if cfg.WebPort != 8123 {
		t.Errorf("Expected WebPort 8123, got %d", cfg.WebPort)
	}
	if cfg.SweepInterval != 5*time.Second {
		t.Errorf("Expected SweepInterval 5s, got %v", cfg.SweepInterval)
	}
	if cfg.ProcessPolicyFile != "/etc/feedback/policy.yaml" {
		t.Errorf("Expected policy file, got %q", cfg.ProcessPolicyFile)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		value   string
		wantErr string
	}{
		{"timeout below range", "MCP_DIALOG_TIMEOUT", "9", "MCP_DIALOG_TIMEOUT"},
		{"timeout above range", "MCP_DIALOG_TIMEOUT", "60001", "MCP_DIALOG_TIMEOUT"},
		{"port zero", "MCP_WEB_PORT", "0", "MCP_WEB_PORT"},
		{"port too high", "MCP_WEB_PORT", "65536", "MCP_WEB_PORT"},
		{"range size zero", "MCP_PORT_RANGE_SIZE", "0", "MCP_PORT_RANGE_SIZE"},
		{"negative sweep", "MCP_SWEEP_INTERVAL", "-1s", "MCP_SWEEP_INTERVAL"},
		{"not a number", "MCP_WEB_PORT", "abc", "failed to read configuration"},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			t.Setenv(test.key, test.value)
			_, err := Load()
			if err == nil {
				t.Fatal("Expected error, got nil")
			}
			if !strings.Contains(err.Error(), test.wantErr) {
				t.Errorf("Expected error containing %q, got %v", test.wantErr, err)
			}
		})
	}
}

func TestValidate_Boundaries(t *testing.T) {
	for _, timeout := range []int{MinDialogTimeoutSeconds, MaxDialogTimeoutSeconds} {
		cfg, err := Load()
		if err != nil {
			t.Fatalf("Expected no error, got %v", err)
		}
		cfg.DialogTimeout = timeout
		if err := cfg.Validate(); err != nil {
			t.Errorf("Expected timeout %d to be valid, got %v", timeout, err)
		}
	}
}

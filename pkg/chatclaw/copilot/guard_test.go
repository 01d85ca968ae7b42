package copilot

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestGuardCheck(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	tests := []struct {
		name     string
		cfg      GuardConfig
		tool     string
		required Permission
		caller   Permission
		wantErr  bool
	}{
		{
			name:     "user tool at user level",
			cfg:      GuardConfig{Enabled: true},
			tool:     "current_time",
			required: PermUser,
			caller:   PermUser,
			wantErr:  false,
		},
		{
			name:     "admin tool at user level denied",
			cfg:      GuardConfig{Enabled: true},
			tool:     "dangerous",
			required: PermAdmin,
			caller:   PermUser,
			wantErr:  true,
		},
		{
			name:     "admin tool at admin level",
			cfg:      GuardConfig{Enabled: true},
			tool:     "dangerous",
			required: PermAdmin,
			caller:   PermAdmin,
			wantErr:  false,
		},
		{
			name:     "disabled guard passes everything",
			cfg:      GuardConfig{Enabled: false},
			tool:     "dangerous",
			required: PermAdmin,
			caller:   PermUser,
			wantErr:  false,
		},
		{
			name: "config override raises requirement",
			cfg: GuardConfig{
				Enabled:         true,
				ToolPermissions: map[string]string{"current_time": "admin"},
			},
			tool:     "current_time",
			required: PermUser,
			caller:   PermUser,
			wantErr:  true,
		},
		{
			name: "auto-approve bypasses override",
			cfg: GuardConfig{
				Enabled:         true,
				ToolPermissions: map[string]string{"current_time": "admin"},
				AutoApprove:     []string{"current_time"},
			},
			tool:     "current_time",
			required: PermUser,
			caller:   PermUser,
			wantErr:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewGuard(tt.cfg, logger)
			defer g.Close()

			err := g.Check(tt.tool, tt.required, tt.caller)
			if (err != nil) != tt.wantErr {
				t.Errorf("Check() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestGuardAuditLog(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	auditPath := filepath.Join(t.TempDir(), "audit", "tools.log")

	g := NewGuard(GuardConfig{Enabled: true, AuditLogPath: auditPath}, logger)
	g.Audit("research", "current_time", PermUser, true, "10:00")
	g.Audit("research", "dangerous", PermUser, false, "denied")
	g.Close()

	data, err := os.ReadFile(auditPath)
	if err != nil {
		t.Fatalf("reading audit log: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 audit lines, got %d", len(lines))
	}
	if !strings.Contains(lines[0], "tool=current_time") || !strings.Contains(lines[0], "allowed=true") {
		t.Errorf("unexpected first audit line: %s", lines[0])
	}
	if !strings.Contains(lines[1], "allowed=false") {
		t.Errorf("unexpected second audit line: %s", lines[1])
	}
}

func TestParsePermission(t *testing.T) {
	if ParsePermission("admin") != PermAdmin {
		t.Error("expected admin")
	}
	if ParsePermission("user") != PermUser {
		t.Error("expected user")
	}
	if ParsePermission("bogus") != PermUser {
		t.Error("expected unknown to default to user")
	}
}

// Package copilot – guard.go controls which tools a worker may execute at a
// given permission level and records every tool call in an audit log.
package copilot

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Permission is the access level a worker execution runs with.
type Permission string

const (
	PermUser  Permission = "user"
	PermAdmin Permission = "admin"
)

// ParsePermission maps a string to a Permission, defaulting to user.
func ParsePermission(s string) Permission {
	if s == string(PermAdmin) {
		return PermAdmin
	}
	return PermUser
}

// allows reports whether a caller at level may use a tool requiring required.
func (p Permission) allows(required Permission) bool {
	if required == PermAdmin {
		return p == PermAdmin
	}
	return true
}

// GuardConfig configures the tool guard.
type GuardConfig struct {
	// Enabled turns permission checking on. When false every call passes.
	Enabled bool `yaml:"enabled"`

	// AuditLogPath records every tool execution when set.
	AuditLogPath string `yaml:"audit_log"`

	// ToolPermissions overrides per-tool required levels.
	// key = tool name, value = "user" or "admin".
	ToolPermissions map[string]string `yaml:"tool_permissions"`

	// AutoApprove lists tools that bypass the permission check entirely.
	AutoApprove []string `yaml:"auto_approve"`
}

// DefaultGuardConfig returns the default guard settings.
func DefaultGuardConfig() GuardConfig {
	return GuardConfig{
		Enabled:      true,
		AuditLogPath: "",
		ToolPermissions: map[string]string{
			"reminder_create": "user",
			"reminder_list":   "user",
			"reminder_cancel": "user",
			"current_time":    "user",
			"worker_memory":   "user",
		},
	}
}

// Guard enforces tool permissions and keeps the audit trail.
type Guard struct {
	cfg       GuardConfig
	logger    *slog.Logger
	auditFile *os.File
	mu        sync.Mutex
}

// NewGuard creates a guard and opens the audit log when configured.
func NewGuard(cfg GuardConfig, logger *slog.Logger) *Guard {
	g := &Guard{
		cfg:    cfg,
		logger: logger.With("component", "guard"),
	}
	if cfg.AuditLogPath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.AuditLogPath), 0o755); err == nil {
			f, err := os.OpenFile(cfg.AuditLogPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
			if err != nil {
				g.logger.Warn("cannot open audit log", "path", cfg.AuditLogPath, "error", err)
			} else {
				g.auditFile = f
			}
		}
	}
	return g
}

// Check evaluates whether toolName may run at callerLevel. The tool's own
// declared requirement is the baseline; config overrides win.
func (g *Guard) Check(toolName string, required Permission, callerLevel Permission) error {
	if !g.cfg.Enabled {
		return nil
	}
	for _, name := range g.cfg.AutoApprove {
		if name == toolName {
			return nil
		}
	}
	if override, ok := g.cfg.ToolPermissions[toolName]; ok {
		required = ParsePermission(override)
	}
	if !callerLevel.allows(required) {
		return fmt.Errorf("tool %q requires %s access (caller has %s)", toolName, required, callerLevel)
	}
	return nil
}

// Audit records one tool execution. Long results are truncated.
func (g *Guard) Audit(workerName, toolName string, callerLevel Permission, allowed bool, result string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	entry := fmt.Sprintf("[%s] worker=%s tool=%s level=%s allowed=%v result=%s",
		time.Now().Format("2006-01-02 15:04:05"),
		workerName, toolName, callerLevel, allowed, truncate(result, 120))

	g.logger.Debug("tool execution", "worker", workerName, "tool", toolName, "allowed", allowed)

	if g.auditFile != nil {
		_, _ = g.auditFile.WriteString(entry + "\n")
	}
}

// Close closes the audit log file.
func (g *Guard) Close() {
	if g.auditFile != nil {
		g.auditFile.Close()
	}
}

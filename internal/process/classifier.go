package process

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// defaultDeny lists OS, service-manager and session-host processes that
// must never be terminated to free a port.
var defaultDeny = []string{
	"kernel", "kernel_task", "kthreadd", "init", "systemd", "systemd-resolved",
	"systemd-networkd", "launchd", "loginwindow", "windowserver", "sshd",
	"dbus-daemon", "cron", "crond", "rsyslogd", "containerd", "dockerd",
	"bash", "sh", "zsh", "fish", "login", "tmux", "screen",
	"system", "smss", "csrss", "wininit", "winlogon", "services", "lsass",
	"svchost", "explorer", "dwm", "conhost", "spoolsv",
}

// defaultAllow lists this tool's own runtime and package managers.
var defaultAllow = []string{
	"node", "nodejs", "npm", "npx", "pnpm", "yarn", "bun", "deno",
	"feedback-mcp", "go",
}

// Policy is the on-disk form of classifier extensions.
type Policy struct {
	Allow []string `yaml:"allow"`
	Deny  []string `yaml:"deny"`
}

// LoadPolicy reads a YAML policy file. An empty path yields an empty policy.
func LoadPolicy(path string) (Policy, error) {
	var p Policy
	if path == "" {
		return p, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return p, fmt.Errorf("read process policy %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &p); err != nil {
		return p, fmt.Errorf("parse process policy %s: %w", path, err)
	}
	return p, nil
}

// Classifier decides whether a port occupant may be terminated.
// Deny matches win over allow matches; anything unmatched is denied.
type Classifier struct {
	allow   map[string]struct{}
	deny    map[string]struct{}
	selfPID int
}

// NewClassifier builds a classifier from the built-in lists extended by
// each given policy.
func NewClassifier(policies ...Policy) *Classifier {
	c := &Classifier{
		allow:   make(map[string]struct{}),
		deny:    make(map[string]struct{}),
		selfPID: os.Getpid(),
	}
	for _, n := range defaultAllow {
		c.allow[normalizeName(n)] = struct{}{}
	}
	for _, n := range defaultDeny {
		c.deny[normalizeName(n)] = struct{}{}
	}
	for _, p := range policies {
		for _, n := range p.Allow {
			c.allow[normalizeName(n)] = struct{}{}
		}
		for _, n := range p.Deny {
			c.deny[normalizeName(n)] = struct{}{}
		}
	}
	return c
}

// IsSafeToTerminate reports whether occ is on the allow list and not on
// the deny list.
func (c *Classifier) IsSafeToTerminate(occ Occupant) bool {
	if occ.PID <= 1 || occ.PID == c.selfPID {
		return false
	}
	name := normalizeName(occ.Name)
	if name == "" {
		return false
	}
	if _, denied := c.deny[name]; denied {
		return false
	}
	_, allowed := c.allow[name]
	return allowed
}

// normalizeName lower-cases the basename and drops a trailing ".exe".
func normalizeName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	name = strings.ReplaceAll(name, `\`, "/")
	name = strings.ToLower(filepath.Base(name))
	return strings.TrimSuffix(name, ".exe")
}

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// FuzzLoadApp feeds random-ish fields into a tiny TOML and ensures
// the loader does not panic.
func FuzzLoadApp(f *testing.F) {
	f.Add("demo", "sleep 0.01", "1s", 3, true)
	f.Add("", "true", "2000", -1, false)
	f.Add("x..y", "", "soon", 0, true)

	f.Fuzz(func(t *testing.T, name, cmd, uptime string, maxRestarts int, autorestart bool) {
		clean := func(s string) string {
			return strings.NewReplacer("\"", "", "\\", "", "\n", "", "\r", "").Replace(s)
		}
		var b strings.Builder
		b.WriteString("[[apps]]\n")
		b.WriteString("name = \"" + clean(name) + "\"\n")
		b.WriteString("script = \"" + clean(cmd) + "\"\n")
		b.WriteString("min_uptime = \"" + clean(uptime) + "\"\n")
		b.WriteString("max_restarts = ")
		if maxRestarts < 0 {
			b.WriteString("-")
		}
		b.WriteString("1\n")
		if !autorestart {
			b.WriteString("autorestart = false\n")
		}
		p := filepath.Join(t.TempDir(), "fuzz.toml")
		if err := os.WriteFile(p, []byte(b.String()), 0o600); err != nil {
			t.Skip()
		}
		cfg, err := Load(p)
		if err == nil && len(cfg.Apps) != 1 {
			t.Fatalf("expected one app, got %d", len(cfg.Apps))
		}
	})
}

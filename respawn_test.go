package respawn

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/loykin/respawn/pkg/client"
)

func requireUnix(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires Unix-like environment")
	}
}

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestManagerFacadeStartStatusStop(t *testing.T) {
	requireUnix(t)
	m := New()
	defer func() { _ = m.Shutdown(time.Second) }()
	s := Spec{
		Name:        "pf1",
		Command:     "/bin/sh",
		Args:        []string{"-c", "sleep 5"},
		MinUptime:   time.Second,
		KillTimeout: time.Second,
	}
	if err := m.Register(s); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := m.Start("pf1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	st, err := m.Status("pf1")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !st.Running || st.PID == 0 {
		t.Fatalf("unexpected status: %+v", st)
	}
	if err := m.Stop("pf1", 500*time.Millisecond); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if st, _ := m.Status("pf1"); st.Running {
		t.Fatalf("still running after stop: %+v", st)
	}
	if got := m.Names(); len(got) != 1 || got[0] != "pf1" {
		t.Fatalf("names: %v", got)
	}
}

func TestLoadConfigFacade(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "respawn.toml")
	data := "[[apps]]\nname = \"a\"\nscript = \"/bin/true\"\n"
	if err := os.WriteFile(p, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}
	c, err := LoadConfig(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(c.Apps) != 1 || c.Apps[0].Name != "a" {
		t.Fatalf("unexpected apps: %+v", c.Apps)
	}
}

func TestMetricsHelpers(t *testing.T) {
	reg := prometheus.NewRegistry()
	if err := RegisterMetrics(reg); err != nil {
		t.Fatalf("register: %v", err)
	}
	// second call is a no-op
	if err := RegisterMetrics(reg); err != nil {
		t.Fatalf("register twice: %v", err)
	}
	rec := httptest.NewRecorder()
	MetricsHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics status %d", rec.Code)
	}
}

func TestDaemonServesControlSocket(t *testing.T) {
	requireUnix(t)
	dir, err := os.MkdirTemp("", "rspd")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	sock := filepath.Join(dir, "d.sock")
	cfgPath := filepath.Join(dir, "respawn.toml")
	data := strings.Join([]string{
		`socket = "d.sock"`,
		`[env]`,
		`GREETING = "hi"`,
		`[[apps]]`,
		`name = "echoer"`,
		`script = "/bin/sh"`,
		`args = ["-c", "echo $GREETING; sleep 30"]`,
		`kill_timeout = "500ms"`,
		`[[apps]]`,
		`name = "broken"`,
		`script = "missing-binary-xyz"`,
	}, "\n")
	if err := os.WriteFile(cfgPath, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}
	c, err := LoadConfig(cfgPath)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.Socket != sock {
		t.Fatalf("socket resolved to %q", c.Socket)
	}
	reg := prometheus.NewRegistry()
	d, err := NewDaemon(c, WithDaemonLogger(quiet()), WithRegistry(reg, reg))
	if err != nil {
		t.Fatalf("new daemon: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	cl := client.New(client.Config{SocketPath: sock, Timeout: 5 * time.Second, Logger: quiet()})
	deadline := time.Now().Add(5 * time.Second)
	for !cl.IsReachable(context.Background()) {
		if time.Now().After(deadline) {
			t.Fatal("daemon never became reachable")
		}
		time.Sleep(20 * time.Millisecond)
	}

	sts, err := cl.Status(context.Background(), client.StatusQuery{})
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	states := map[string]string{}
	for _, st := range sts {
		states[st.Name] = st.State
	}
	if states["echoer"] != "running" || states["broken"] != "errored" {
		t.Fatalf("unexpected states: %v", states)
	}

	deadline = time.Now().Add(5 * time.Second)
	for {
		logs, err := cl.Logs(context.Background(), client.LogsQuery{Name: "echoer"})
		if err == nil && len(logs.Lines) == 1 && logs.Lines[0] == "hi" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("log line not written: %+v %v", logs, err)
		}
		time.Sleep(20 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("daemon did not stop")
	}
	if _, err := os.Stat(sock); !os.IsNotExist(err) {
		t.Fatalf("socket left behind: %v", err)
	}
}

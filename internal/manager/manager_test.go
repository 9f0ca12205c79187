package manager

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/loykin/respawn/internal/env"
	"github.com/loykin/respawn/internal/logger"
	"github.com/loykin/respawn/internal/process"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterValidation(t *testing.T) {
	m := newTestManager(t)

	require.NoError(t, m.Register(shSpec("web", "sleep 1")))
	err := m.Register(shSpec("web", "sleep 1"))
	require.ErrorIs(t, err, ErrDuplicateProcess)

	err = m.Register(process.Spec{Name: "../etc", Command: "true"})
	require.Error(t, err)

	err = m.Register(process.Spec{Name: "nocmd"})
	require.Error(t, err)

	assert.Equal(t, []string{"web"}, m.Names())
}

func TestUnknownProcess(t *testing.T) {
	m := newTestManager(t)

	assert.ErrorIs(t, m.Start("ghost"), ErrUnknownProcess)
	assert.ErrorIs(t, m.Stop("ghost", 0), ErrUnknownProcess)
	assert.ErrorIs(t, m.Restart("ghost"), ErrUnknownProcess)
	assert.ErrorIs(t, m.Remove("ghost", 0), ErrUnknownProcess)
	_, err := m.Status("ghost")
	assert.ErrorIs(t, err, ErrUnknownProcess)
	_, err = m.Spec("ghost")
	assert.ErrorIs(t, err, ErrUnknownProcess)
}

func TestShutdownRejectsLaterCalls(t *testing.T) {
	requireUnix(t)
	m := NewManager(WithLogger(quietLogger()))
	require.NoError(t, m.Register(shSpec("a", "sleep 30")))
	require.NoError(t, m.Register(shSpec("b", "sleep 30")))
	require.NoError(t, m.StartAll())

	start := time.Now()
	require.NoError(t, m.Shutdown(time.Second))
	// both units stop in parallel
	assert.Less(t, time.Since(start), 1500*time.Millisecond)

	assert.ErrorIs(t, m.Start("a"), ErrShuttingDown)
	assert.ErrorIs(t, m.Register(shSpec("c", "true")), ErrShuttingDown)
	assert.NoError(t, m.Shutdown(time.Second))
}

func TestWildcardOperations(t *testing.T) {
	requireUnix(t)
	m := newTestManager(t)
	for i := 0; i < 3; i++ {
		require.NoError(t, m.Register(shSpec(fmt.Sprintf("worker-%d", i), "sleep 30")))
	}
	require.NoError(t, m.Register(shSpec("api", "sleep 30")))
	require.NoError(t, m.StartAll())

	for _, n := range m.Names() {
		waitState(t, m, n, process.StateRunning)
	}

	workers := m.StatusMatch("worker-*")
	require.Len(t, workers, 3)
	assert.Equal(t, "worker-0", workers[0].Name)
	assert.Equal(t, "worker-2", workers[2].Name)

	require.NoError(t, m.StopMatch("worker-*", 0))
	for _, st := range m.StatusMatch("worker-*") {
		assert.Equal(t, process.StateStopped, st.State, st.Name)
	}
	api, err := m.Status("api")
	require.NoError(t, err)
	assert.Equal(t, process.StateRunning, api.State)

	all := m.StatusAll()
	require.Len(t, all, 4)
	assert.Equal(t, "api", all[0].Name)
}

func TestStartAllReportsLaunchFailures(t *testing.T) {
	requireUnix(t)
	m := newTestManager(t)
	require.NoError(t, m.Register(shSpec("ok", "sleep 30")))
	require.NoError(t, m.Register(process.Spec{Name: "bad", Command: "/definitely/missing", Args: []string{"x"}}))

	err := m.StartAll()
	require.Error(t, err)
	_, ok := process.AsLaunchError(err)
	assert.True(t, ok)

	waitState(t, m, "ok", process.StateRunning)
	st, err := m.Status("bad")
	require.NoError(t, err)
	assert.Equal(t, process.StateErrored, st.State)
}

func TestRemoveStopsProcess(t *testing.T) {
	requireUnix(t)
	m := newTestManager(t)
	require.NoError(t, m.Register(shSpec("tmp", "sleep 30")))
	require.NoError(t, m.Start("tmp"))
	waitState(t, m, "tmp", process.StateRunning)

	require.NoError(t, m.Remove("tmp", time.Second))
	assert.Empty(t, m.Names())
	_, err := m.Status("tmp")
	assert.ErrorIs(t, err, ErrUnknownProcess)
}

func TestSubscribeReceivesTransitions(t *testing.T) {
	requireUnix(t)
	m := newTestManager(t)

	var mu sync.Mutex
	var got []TransitionEvent
	cancel := m.Subscribe(func(e TransitionEvent) {
		mu.Lock()
		got = append(got, e)
		mu.Unlock()
	})
	defer cancel()

	require.NoError(t, m.Register(shSpec("observed", "sleep 30")))
	require.NoError(t, m.Start("observed"))
	st := waitState(t, m, "observed", process.StateRunning)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		for _, e := range got {
			if e.Name == "observed" && e.To == process.StateRunning {
				return e.PID == st.PID && e.RunID == st.RunID && e.From == process.StateStarting
			}
		}
		return false
	}, 5*time.Second, 10*time.Millisecond)
}

func TestGlobalEnvIsMergedIntoChild(t *testing.T) {
	requireUnix(t)
	dir := t.TempDir()
	out := filepath.Join(dir, "env.log")

	e := env.New().WithBase(env.Var{"BASE_USER": "bob"})
	e.Set("GREETING", "hello ${BASE_USER}")
	m := newTestManager(t, WithEnv(e))

	spec := shSpec("envy", `echo "$GREETING/$LOCAL"`)
	spec.AutoRestart = false
	spec.Env = map[string]string{"LOCAL": "${GREETING}!"}
	spec.Log = logger.FileConfig{StdoutPath: out, Merge: true}
	require.NoError(t, m.Register(spec))
	require.NoError(t, m.Start("envy"))
	waitState(t, m, "envy", process.StateCrashed)

	b, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "hello bob/hello bob!\n", string(b))
}

func TestConcurrentOperationsDoNotBlockEachOther(t *testing.T) {
	requireUnix(t)
	m := newTestManager(t)
	stubborn := shSpec("slow-stop", "trap '' TERM; while :; do sleep 0.05; done")
	stubborn.KillTimeout = time.Second
	require.NoError(t, m.Register(stubborn))
	require.NoError(t, m.Register(shSpec("fast", "sleep 30")))
	require.NoError(t, m.Start("slow-stop"))
	waitState(t, m, "slow-stop", process.StateRunning)
	time.Sleep(100 * time.Millisecond)

	stopped := make(chan error, 1)
	go func() { stopped <- m.Stop("slow-stop", 0) }()
	waitState(t, m, "slow-stop", process.StateStopping)

	// another unit starts while the first is still in its grace period
	require.NoError(t, m.Start("fast"))
	st, err := m.Status("fast")
	require.NoError(t, err)
	assert.Equal(t, process.StateRunning, st.State)
	slow, err := m.Status("slow-stop")
	require.NoError(t, err)
	assert.Equal(t, process.StateStopping, slow.State)

	require.NoError(t, <-stopped)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = m.StatusAll()
			_, _ = m.Status("fast")
		}()
	}
	wg.Wait()
}

func TestErrorsWrapSentinels(t *testing.T) {
	m := newTestManager(t)
	err := m.Start("nope")
	assert.True(t, errors.Is(err, ErrUnknownProcess))
	assert.Contains(t, err.Error(), "nope")
}

func TestWildcardMatch(t *testing.T) {
	tests := []struct {
		name, pattern string
		want          bool
	}{
		{"web-1", "*", true},
		{"web-1", "web-1", true},
		{"web-1", "web-2", false},
		{"web-1", "web-*", true},
		{"api-1", "web-*", false},
		{"web-1", "*-1", true},
		{"web-api-1", "web*1", true},
		{"web-api-1", "*api*", true},
		{"web", "", false},
		{"ab", "a*b*", true},
		{"aXb", "a*b*c", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, wildcardMatch(tt.name, tt.pattern), "%s ~ %s", tt.name, tt.pattern)
	}
}

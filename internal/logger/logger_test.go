package logger

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPaths(t *testing.T) {
	cfg := FileConfig{StdoutPath: "/l/out.log", StderrPath: "/l/err.log"}
	out, errp := cfg.Paths()
	if out != "/l/out.log" || errp != "/l/err.log" {
		t.Fatalf("unexpected paths: %q %q", out, errp)
	}
	cfg.Merge = true
	out, errp = cfg.Paths()
	if out != "/l/out.log" || errp != "/l/out.log" {
		t.Fatalf("merge should use stdout path for both: %q %q", out, errp)
	}
	cfg.StdoutPath = ""
	if got := cfg.PathFor(Stdout); got != "/l/err.log" {
		t.Fatalf("merge without stdout path should fall back to stderr path, got %q", got)
	}
}

func TestRotatingDefaults(t *testing.T) {
	l := FileConfig{}.rotating("/tmp/x.log")
	if l.MaxSize != DefaultMaxSizeMB || l.MaxBackups != DefaultMaxBackups || l.MaxAge != DefaultMaxAgeDays {
		t.Fatalf("defaults not applied: %+v", l)
	}
	l = FileConfig{MaxSizeMB: 1, MaxBackups: 9, MaxAgeDays: 2, Compress: true}.rotating("/tmp/x.log")
	if l.MaxSize != 1 || l.MaxBackups != 9 || l.MaxAge != 2 || !l.Compress {
		t.Fatalf("explicit values not applied: %+v", l)
	}
}

func TestSinkSeparateStreams(t *testing.T) {
	dir := t.TempDir()
	cfg := FileConfig{
		StdoutPath: filepath.Join(dir, "a", "svc.out.log"),
		StderrPath: filepath.Join(dir, "b", "svc.err.log"),
	}
	s := NewSink("svc", cfg, nil)
	require.NoError(t, s.Write(Stdout, []byte("hello-out\n")))
	require.NoError(t, s.Write(Stderr, []byte("hello-err\n")))
	require.NoError(t, s.Close())

	b, err := os.ReadFile(cfg.StdoutPath)
	require.NoError(t, err)
	assert.Equal(t, "hello-out\n", string(b))
	b, err = os.ReadFile(cfg.StderrPath)
	require.NoError(t, err)
	assert.Equal(t, "hello-err\n", string(b))
}

func TestSinkDiscardsUnmappedStream(t *testing.T) {
	dir := t.TempDir()
	s := NewSink("svc", FileConfig{StdoutPath: filepath.Join(dir, "out.log")}, nil)
	require.NoError(t, s.Write(Stderr, []byte("dropped\n")))
	require.NoError(t, s.Close())
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestSinkTimestampPrefix(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ts.log")
	s := NewSink("ts", FileConfig{StdoutPath: path, Timestamp: true, TimeFormat: "2006-01-02 15:04"}, nil)
	s.now = func() time.Time { return time.Date(2024, 5, 6, 7, 8, 0, 0, time.UTC) }
	require.NoError(t, s.Write(Stdout, []byte("line\n")))
	require.NoError(t, s.Close())

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "2024-05-06 07:08: line\n", string(b))
}

// Concurrent 1KB chunks from both streams land whole in the merged file.
func TestSinkMergedConcurrentWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "merged.log")
	s := NewSink("merged", FileConfig{StdoutPath: path, StderrPath: path + ".unused", Merge: true}, nil)

	const chunks = 200
	const size = 1024
	outChunk := append(bytes.Repeat([]byte{'o'}, size-1), '\n')
	errChunk := append(bytes.Repeat([]byte{'e'}, size-1), '\n')

	var wg sync.WaitGroup
	for _, w := range []struct {
		stream Stream
		data   []byte
	}{{Stdout, outChunk}, {Stderr, errChunk}} {
		wg.Add(1)
		go func(stream Stream, data []byte) {
			defer wg.Done()
			for i := 0; i < chunks; i++ {
				if err := s.Write(stream, data); err != nil {
					t.Errorf("write: %v", err)
					return
				}
			}
		}(w.stream, w.data)
	}
	wg.Wait()
	require.NoError(t, s.Close())

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Len(t, b, 2*chunks*size)

	lines := strings.Split(strings.TrimSuffix(string(b), "\n"), "\n")
	require.Len(t, lines, 2*chunks)
	var outs, errs int
	for i, l := range lines {
		switch l {
		case string(outChunk[:size-1]):
			outs++
		case string(errChunk[:size-1]):
			errs++
		default:
			t.Fatalf("line %d is interleaved", i)
		}
	}
	assert.Equal(t, chunks, outs)
	assert.Equal(t, chunks, errs)

	_, err = os.Stat(path + ".unused")
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestSinkWriteErrorIsContained(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "blocker")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o600))

	var diag bytes.Buffer
	fallback := slog.New(slog.NewTextHandler(&diag, nil))
	var hooked []*WriteError
	s := NewSink("broken", FileConfig{StdoutPath: filepath.Join(blocker, "out.log")}, fallback,
		WithErrorHook(func(e *WriteError) { hooked = append(hooked, e) }))

	err := s.Write(Stdout, []byte("lost\n"))
	require.Error(t, err)
	var werr *WriteError
	require.ErrorAs(t, err, &werr)
	assert.Equal(t, Stdout, werr.Stream)
	assert.Equal(t, ReasonIO, werr.Reason)
	require.Len(t, hooked, 1)
	assert.Contains(t, diag.String(), "log write failed")
	assert.Contains(t, diag.String(), "process=broken")
	_ = s.Close()
}

func TestClassifyWriteError(t *testing.T) {
	assert.Equal(t, ReasonDiskFull, classifyWriteError(fmt.Errorf("write: %w", syscall.ENOSPC)))
	assert.Equal(t, ReasonPermissionDenied, classifyWriteError(&os.PathError{Op: "open", Path: "/x", Err: os.ErrPermission}))
	assert.Equal(t, ReasonIO, classifyWriteError(os.ErrClosed))
}

func TestEnsureDirConcurrent(t *testing.T) {
	base := filepath.Join(t.TempDir(), "deep", "tree")
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := EnsureDir(filepath.Join(base, fmt.Sprintf("f%d.log", i))); err != nil {
				t.Errorf("EnsureDir: %v", err)
			}
		}(i)
	}
	wg.Wait()
	fi, err := os.Stat(base)
	require.NoError(t, err)
	assert.True(t, fi.IsDir())
}

func TestTail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "t.log")
	var sb strings.Builder
	for i := 0; i < 1000; i++ {
		fmt.Fprintf(&sb, "line-%04d\n", i)
	}
	require.NoError(t, os.WriteFile(path, []byte(sb.String()), 0o600))

	lines, err := Tail(path, 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"line-0997", "line-0998", "line-0999"}, lines)

	lines, err = Tail(path, 5000)
	require.NoError(t, err)
	assert.Len(t, lines, 1000)
	assert.Equal(t, "line-0000", lines[0])

	lines, err = Tail(path, 0)
	require.NoError(t, err)
	assert.Nil(t, lines)
}

func TestTailNoTrailingNewlineAndEmpty(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "partial.log")
	require.NoError(t, os.WriteFile(path, []byte("a\nb\nc"), 0o600))
	lines, err := Tail(path, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c"}, lines)

	empty := filepath.Join(dir, "empty.log")
	require.NoError(t, os.WriteFile(empty, nil, 0o600))
	lines, err = Tail(empty, 2)
	require.NoError(t, err)
	assert.Empty(t, lines)

	_, err = Tail(filepath.Join(dir, "missing.log"), 2)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestNewSupervisorLogger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sup", "respawn.log")
	lg, closer := New(Config{Level: "debug", Format: "json", File: path})
	lg.Debug("hello", "k", "v")
	require.NoError(t, closer.Close())
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"msg":"hello"`)
	assert.Contains(t, string(b), `"k":"v"`)
}

func TestColorTextHandlerKeepsColorWithAttrs(t *testing.T) {
	var buf bytes.Buffer
	lg := slog.New(NewColorTextHandler(&buf, nil)).With("process", "gate")
	lg.Warn("crashed")
	out := buf.String()
	assert.Contains(t, out, "\033[33mWARN")
	assert.Contains(t, out, "msg=crashed")
	assert.Contains(t, out, "process=gate")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel(""))
}

package logger

import (
	"os"
	"path/filepath"
	"sync"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

// Default rotation settings.
const (
	DefaultMaxSizeMB  = 10 // MB
	DefaultMaxBackups = 3  // number of backup files
	DefaultMaxAgeDays = 7  // days
)

// DefaultTimeFormat prefixes chunks when Timestamp is on and TimeFormat is empty.
const DefaultTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// Stream identifies a child output stream.
type Stream string

const (
	Stdout Stream = "stdout"
	Stderr Stream = "stderr"
)

// FileConfig maps a process's streams to files. Rotation follows lumberjack
// semantics. With Merge set both streams go to one file: StdoutPath, or
// StderrPath when StdoutPath is empty.
type FileConfig struct {
	StdoutPath string `json:"stdout_path,omitempty"`
	StderrPath string `json:"stderr_path,omitempty"`
	Merge      bool   `json:"merge,omitempty"`
	Timestamp  bool   `json:"timestamp,omitempty"`
	TimeFormat string `json:"time_format,omitempty"`
	MaxSizeMB  int    `json:"max_size_mb,omitempty"`
	MaxBackups int    `json:"max_backups,omitempty"`
	MaxAgeDays int    `json:"max_age_days,omitempty"`
	Compress   bool   `json:"compress,omitempty"`
}

// Paths returns the resolved file for each stream. Empty means discarded.
func (c FileConfig) Paths() (stdout, stderr string) {
	if !c.Merge {
		return c.StdoutPath, c.StderrPath
	}
	p := c.StdoutPath
	if p == "" {
		p = c.StderrPath
	}
	return p, p
}

// PathFor returns the resolved file for one stream.
func (c FileConfig) PathFor(s Stream) string {
	out, errp := c.Paths()
	if s == Stderr {
		return errp
	}
	return out
}

func (c FileConfig) rotating(path string) *lj.Logger {
	return &lj.Logger{
		Filename:   path,
		MaxSize:    valOr(c.MaxSizeMB, DefaultMaxSizeMB),
		MaxBackups: valOr(c.MaxBackups, DefaultMaxBackups),
		MaxAge:     valOr(c.MaxAgeDays, DefaultMaxAgeDays),
		Compress:   c.Compress,
	}
}

func valOr(v int, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

var dirMu sync.Mutex

// EnsureDir creates the parent directory of path. It is serialized process
// wide so concurrent units never race on the same directory tree.
func EnsureDir(path string) error {
	dirMu.Lock()
	defer dirMu.Unlock()
	return os.MkdirAll(filepath.Dir(path), 0o750)
}

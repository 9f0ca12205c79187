package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/loykin/respawn/internal/logger"
	"github.com/loykin/respawn/internal/process"
)

// App defaults applied when a field is absent.
const (
	DefaultMaxRestarts = 16
	DefaultMinUptime   = time.Second
	DefaultLogDir      = "logs"
	socketName         = "respawn.sock"
)

// DefaultSocketPath is used when neither the config nor a flag names one.
func DefaultSocketPath() string {
	return filepath.Join(os.TempDir(), socketName)
}

// EnvVars is an environment block. It decodes from a list of "KEY=VALUE"
// strings or from a map. Map keys are upper-cased because viper folds key
// case; use the list form for mixed-case names.
type EnvVars map[string]string

// HistoryConfig selects lifecycle history sinks.
type HistoryConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	DSN     []string `mapstructure:"dsn"`
}

// FileConfig is the top-level structure of a configuration file.
type FileConfig struct {
	Env           EnvVars       `mapstructure:"env"`
	EnvFiles      []string      `mapstructure:"env_files"`
	Log           logger.Config `mapstructure:"log"`
	LogDir        string        `mapstructure:"log_dir"`
	Socket        string        `mapstructure:"socket"`
	MetricsListen string        `mapstructure:"metrics_listen"`
	History       HistoryConfig `mapstructure:"history"`
}

// AppConfig is one entry of the apps list, using pm2 field names.
type AppConfig struct {
	Name                   string        `mapstructure:"name"`
	Script                 string        `mapstructure:"script"`
	Command                string        `mapstructure:"command"`
	Args                   []string      `mapstructure:"args"`
	Interpreter            string        `mapstructure:"interpreter"`
	InterpreterArgs        []string      `mapstructure:"interpreter_args"`
	Cwd                    string        `mapstructure:"cwd"`
	AutoRestart            bool          `mapstructure:"autorestart"`
	MaxRestarts            int           `mapstructure:"max_restarts"`
	MinUptime              time.Duration `mapstructure:"min_uptime"`
	RestartDelay           time.Duration `mapstructure:"restart_delay"`
	ExpBackoffRestartDelay time.Duration `mapstructure:"exp_backoff_restart_delay"`
	KillTimeout            time.Duration `mapstructure:"kill_timeout"`
	OutFile                string        `mapstructure:"out_file"`
	ErrorFile              string        `mapstructure:"error_file"`
	MergeLogs              bool          `mapstructure:"merge_logs"`
	Time                   bool          `mapstructure:"time"`
	LogDateFormat          string        `mapstructure:"log_date_format"`
	MaxSizeMB              int           `mapstructure:"max_size_mb"`
	MaxBackups             int           `mapstructure:"max_backups"`
	MaxAgeDays             int           `mapstructure:"max_age_days"`
	Compress               bool          `mapstructure:"compress"`
	PIDFile                string        `mapstructure:"pid_file"`
	Env                    EnvVars       `mapstructure:"env"`
}

// Config is a loaded, resolved configuration.
type Config struct {
	Path          string
	Env           map[string]string
	Log           logger.Config
	LogDir        string
	Socket        string
	MetricsListen string
	History       HistoryConfig
	Apps          []process.Spec
	// Warnings lists unrecognized keys; they are ignored.
	Warnings []string
}

func appDefaults() map[string]any {
	return map[string]any{
		"autorestart":  true,
		"max_restarts": DefaultMaxRestarts,
		"min_uptime":   DefaultMinUptime,
		"kill_timeout": process.DefaultKillTimeout,
	}
}

// Load reads a TOML, YAML or JSON file (by extension), applies defaults,
// resolves relative paths and validates every app.
func Load(path string) (*Config, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	v := viper.New()
	v.SetConfigFile(abs)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log_dir", DefaultLogDir)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	var fc FileConfig
	if err := v.Unmarshal(&fc, viper.DecodeHook(decodeHook())); err != nil {
		return nil, fmt.Errorf("decode config %s: %w", path, err)
	}
	base := filepath.Dir(abs)
	cfg := &Config{
		Path:          abs,
		Log:           fc.Log,
		LogDir:        resolve(base, fc.LogDir),
		Socket:        fc.Socket,
		MetricsListen: fc.MetricsListen,
		History:       fc.History,
		Env:           map[string]string{},
	}
	if cfg.Socket == "" {
		cfg.Socket = DefaultSocketPath()
	} else {
		cfg.Socket = resolve(base, cfg.Socket)
	}
	if cfg.Log.File != "" {
		cfg.Log.File = resolve(base, cfg.Log.File)
	}
	for i, dsn := range cfg.History.DSN {
		cfg.History.DSN[i] = resolveDSN(base, dsn)
	}

	// env_files first, then env overrides
	for _, f := range fc.EnvFiles {
		m, err := loadEnvFile(resolve(base, f))
		if err != nil {
			return nil, fmt.Errorf("env file %s: %w", f, err)
		}
		for k, val := range m {
			cfg.Env[k] = val
		}
	}
	for k, val := range fc.Env {
		cfg.Env[k] = val
	}

	rawApps, err := appList(v.Get("apps"))
	if err != nil {
		return nil, err
	}
	var errs []error
	seen := map[string]bool{}
	for i, raw := range rawApps {
		ac, unused, err := decodeApp(raw)
		if err != nil {
			errs = append(errs, fmt.Errorf("apps[%d]: %w", i, err))
			continue
		}
		for _, k := range unused {
			cfg.Warnings = append(cfg.Warnings, fmt.Sprintf("apps[%d] (%s): unknown field %q ignored", i, ac.Name, k))
		}
		spec, err := ac.toSpec(base, cfg.LogDir)
		if err != nil {
			errs = append(errs, fmt.Errorf("apps[%d]: %w", i, err))
			continue
		}
		if err := spec.Validate(); err != nil {
			errs = append(errs, err)
			continue
		}
		if seen[spec.Name] {
			errs = append(errs, fmt.Errorf("duplicate app name %q", spec.Name))
			continue
		}
		seen[spec.Name] = true
		cfg.Apps = append(cfg.Apps, spec)
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

func appList(raw any) ([]map[string]any, error) {
	if raw == nil {
		return nil, nil
	}
	switch list := raw.(type) {
	case []map[string]any:
		return list, nil
	case []any:
		out := make([]map[string]any, 0, len(list))
		for i, item := range list {
			m, ok := item.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("apps[%d]: expected a table, got %T", i, item)
			}
			out = append(out, m)
		}
		return out, nil
	}
	return nil, fmt.Errorf("apps: expected a list, got %T", raw)
}

// decodeApp decodes one app over the defaults and reports unknown keys.
func decodeApp(raw map[string]any) (AppConfig, []string, error) {
	in := appDefaults()
	for k, val := range raw {
		in[strings.ToLower(k)] = val
	}
	var ac AppConfig
	var md mapstructure.Metadata
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       decodeHook(),
		Result:           &ac,
		Metadata:         &md,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return ac, nil, err
	}
	if err := dec.Decode(in); err != nil {
		return ac, nil, err
	}
	sort.Strings(md.Unused)
	return ac, md.Unused, nil
}

func (ac AppConfig) toSpec(base, logDir string) (process.Spec, error) {
	command := ac.Command
	switch {
	case ac.Script != "" && ac.Command != "":
		return process.Spec{}, fmt.Errorf("app %q: script and command are mutually exclusive", ac.Name)
	case command == "":
		command = ac.Script
	}
	cwd := ac.Cwd
	if cwd != "" {
		cwd = resolve(base, cwd)
	}
	rel := cwd
	if rel == "" {
		rel = base
	}

	out, errf := ac.OutFile, ac.ErrorFile
	if out == "" {
		out = filepath.Join(logDir, ac.Name+".stdout.log")
	} else {
		out = resolve(rel, out)
	}
	if errf == "" {
		errf = filepath.Join(logDir, ac.Name+".stderr.log")
	} else {
		errf = resolve(rel, errf)
	}
	pid := ac.PIDFile
	if pid != "" {
		pid = resolve(rel, pid)
	}

	return process.Spec{
		Name:                   ac.Name,
		Command:                command,
		Args:                   ac.Args,
		Interpreter:            ac.Interpreter,
		InterpreterArgs:        ac.InterpreterArgs,
		WorkDir:                cwd,
		Env:                    ac.Env,
		AutoRestart:            ac.AutoRestart,
		MaxRestarts:            ac.MaxRestarts,
		MinUptime:              ac.MinUptime,
		RestartDelay:           ac.RestartDelay,
		ExpBackoffRestartDelay: ac.ExpBackoffRestartDelay,
		KillTimeout:            ac.KillTimeout,
		PIDFile:                pid,
		Log: logger.FileConfig{
			StdoutPath: out,
			StderrPath: errf,
			Merge:      ac.MergeLogs,
			Timestamp:  ac.Time || ac.LogDateFormat != "",
			TimeFormat: ac.LogDateFormat,
			MaxSizeMB:  ac.MaxSizeMB,
			MaxBackups: ac.MaxBackups,
			MaxAgeDays: ac.MaxAgeDays,
			Compress:   ac.Compress,
		},
	}, nil
}

func resolve(base, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(base, p)
}

// resolveDSN anchors relative SQLite paths at the config directory.
func resolveDSN(base, dsn string) string {
	if strings.Contains(dsn, "://") {
		if rest, ok := strings.CutPrefix(dsn, "sqlite://"); ok && rest != "" && !strings.HasPrefix(rest, ":") && !filepath.IsAbs(rest) {
			return "sqlite://" + filepath.Join(base, rest)
		}
		return dsn
	}
	return resolve(base, dsn)
}

func decodeHook() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(durationHook, envHook)
}

var (
	durationType = reflect.TypeOf(time.Duration(0))
	envVarsType  = reflect.TypeOf(EnvVars{})
)

// durationHook accepts Go duration strings ("5s") and integers as milliseconds.
func durationHook(_ reflect.Type, t reflect.Type, data any) (any, error) {
	if t != durationType {
		return data, nil
	}
	switch d := data.(type) {
	case time.Duration:
		return d, nil
	case string:
		s := strings.TrimSpace(d)
		if s == "" {
			return time.Duration(0), nil
		}
		if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
			return time.Duration(ms) * time.Millisecond, nil
		}
		return time.ParseDuration(s)
	case int:
		return time.Duration(d) * time.Millisecond, nil
	case int64:
		return time.Duration(d) * time.Millisecond, nil
	case uint64:
		return time.Duration(d) * time.Millisecond, nil // #nosec G115
	case float64:
		return time.Duration(d * float64(time.Millisecond)), nil
	}
	return data, nil
}

func envHook(_ reflect.Type, t reflect.Type, data any) (any, error) {
	if t != envVarsType {
		return data, nil
	}
	out := EnvVars{}
	switch d := data.(type) {
	case []any:
		for _, item := range d {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("env entry must be KEY=VALUE, got %v", item)
			}
			k, val, ok := strings.Cut(s, "=")
			if !ok || k == "" {
				return nil, fmt.Errorf("env entry must be KEY=VALUE, got %q", s)
			}
			out[k] = val
		}
	case []string:
		for _, s := range d {
			k, val, ok := strings.Cut(s, "=")
			if !ok || k == "" {
				return nil, fmt.Errorf("env entry must be KEY=VALUE, got %q", s)
			}
			out[k] = val
		}
	case map[string]any:
		for k, val := range d {
			out[strings.ToUpper(k)] = fmt.Sprint(val)
		}
	case map[string]string:
		for k, val := range d {
			out[strings.ToUpper(k)] = val
		}
	case nil:
	default:
		return data, nil
	}
	return out, nil
}

// LoadEnvFile parses a simple .env file and returns a slice of "KEY=VALUE" entries.
func LoadEnvFile(path string) ([]string, error) {
	m, err := loadEnvFile(path)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out, nil
}

// loadEnvFile parses a simple .env file with KEY=VALUE lines (no export, no quotes). Lines starting with # are ignored.
func loadEnvFile(path string) (map[string]string, error) {
	clean := filepath.Clean(path)
	b, err := os.ReadFile(clean)
	if err != nil {
		return nil, err
	}
	m := make(map[string]string)
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if i := strings.IndexByte(line, '='); i >= 0 {
			k := strings.TrimSpace(line[:i])
			v := strings.TrimSpace(line[i+1:])
			m[k] = v
		}
	}
	return m, nil
}

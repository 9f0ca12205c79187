package env

import (
	"os"
	"sort"
	"strings"
)

type Var map[string]string

// Env composes child environments: supervisor environment, then global
// variables, then per-process variables, later layers winning.
type Env struct {
	Var  Var // global variables (K->V)
	base Var // cached base from OS environment
}

func New() *Env {
	return &Env{Var: make(Var)}
}

// FromOS caches the current process environment as the base.
func (e *Env) FromOS() {
	e.base = Parse(os.Environ())
}

// WithBase replaces the base environment, mostly for tests.
func (e *Env) WithBase(base Var) *Env {
	e.base = make(Var, len(base))
	for k, v := range base {
		e.base[k] = v
	}
	return e
}

// Set sets a global variable K=V.
func (e *Env) Set(k, v string) {
	if e.Var == nil {
		e.Var = make(Var)
	}
	e.Var[k] = v
}

// Unset removes a global variable.
func (e *Env) Unset(k string) {
	if e.Var != nil {
		delete(e.Var, k)
	}
}

// Parse converts "K=V" pairs into a map, skipping malformed entries.
func Parse(pairs []string) Var {
	m := make(Var, len(pairs))
	for _, kv := range pairs {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			continue
		}
		m[k] = v
	}
	return m
}

// Merge composes the final environment in sorted "K=V" form. ${VAR}
// references in global and per-process values are expanded against the
// layers below them; unknown references expand to the empty string.
func (e *Env) Merge(perProc map[string]string) []string {
	base := e.base
	if base == nil {
		base = Parse(os.Environ())
	}
	m := make(Var, len(base)+len(e.Var)+len(perProc))
	for k, v := range base {
		m[k] = v
	}
	apply(m, e.Var)
	apply(m, perProc)

	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+m[k])
	}
	return out
}

// apply layers vars over m in key order so the result is deterministic.
func apply(m Var, vars map[string]string) {
	keys := make([]string, 0, len(vars))
	for k := range vars {
		if k != "" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	expanded := make(Var, len(keys))
	for _, k := range keys {
		expanded[k] = expand(vars[k], m)
	}
	for k, v := range expanded {
		m[k] = v
	}
}

// expand replaces ${VAR} references only; a bare $ is kept literally.
func expand(s string, m Var) string {
	if !strings.Contains(s, "${") {
		return s
	}
	var b strings.Builder
	for {
		i := strings.Index(s, "${")
		if i < 0 {
			b.WriteString(s)
			break
		}
		j := strings.IndexByte(s[i+2:], '}')
		if j < 0 {
			b.WriteString(s)
			break
		}
		b.WriteString(s[:i])
		b.WriteString(m[s[i+2:i+2+j]])
		s = s[i+3+j:]
	}
	return b.String()
}

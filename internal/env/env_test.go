package env

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMergeLayering(t *testing.T) {
	e := New().WithBase(Var{"PATH": "/usr/bin", "HOME": "/root", "MODE": "os"})
	e.Set("MODE", "global")
	e.Set("APP_HOME", "${HOME}/app")

	out := e.Merge(map[string]string{"MODE": "proc", "LOG": "${APP_HOME}/log"})
	assert.Equal(t, []string{
		"APP_HOME=/root/app",
		"HOME=/root",
		"LOG=/root/app/log",
		"MODE=proc",
		"PATH=/usr/bin",
	}, out)
}

func TestMergeSelfReferenceUsesLowerLayer(t *testing.T) {
	e := New().WithBase(Var{"PATH": "/usr/bin"})
	out := e.Merge(map[string]string{"PATH": "/opt/bin:${PATH}"})
	assert.Equal(t, []string{"PATH=/opt/bin:/usr/bin"}, out)
}

func TestExpand(t *testing.T) {
	m := Var{"A": "1", "B": "two"}
	assert.Equal(t, "1-two", expand("${A}-${B}", m))
	assert.Equal(t, "-x", expand("${MISSING}-x", m))
	assert.Equal(t, "$A stays", expand("$A stays", m))
	assert.Equal(t, "broken ${A", expand("broken ${A", m))
}

func TestParseAndUnset(t *testing.T) {
	m := Parse([]string{"A=1", "=bad", "noequals", "B=x=y"})
	assert.Equal(t, Var{"A": "1", "B": "x=y"}, m)

	e := New().WithBase(Var{})
	e.Set("K", "v")
	e.Unset("K")
	assert.Empty(t, e.Merge(nil))
}

func TestMergeFromOS(t *testing.T) {
	t.Setenv("RESPAWN_ENV_TEST", "from-os")
	out := New().Merge(nil)
	found := false
	for _, kv := range out {
		if strings.HasPrefix(kv, "RESPAWN_ENV_TEST=") {
			found = kv == "RESPAWN_ENV_TEST=from-os"
		}
	}
	assert.True(t, found)
}

package env

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMergeOrderAndExpansion(t *testing.T) {
	e := New().WithBase(Var{"HOME": "/home/u", "A": "base"}).
		WithSet("A", "global").
		WithVars(map[string]string{"LOG": "${HOME}/log"})

	out := e.Merge([]string{"B=${A}-x", "=skip", "noequals"})
	assert.Equal(t, []string{"A=global", "B=global-x", "HOME=/home/u", "LOG=/home/u/log"}, out)
}

func TestMergeLeavesUnknownReferences(t *testing.T) {
	e := New().WithBase(Var{})
	out := e.Merge([]string{"X=${MISSING}/a", "Y=${broken"})
	assert.Equal(t, []string{"X=${MISSING}/a", "Y=${broken"}, out)
}

func TestWithSetDoesNotMutateOriginal(t *testing.T) {
	a := New().WithBase(Var{})
	b := a.WithSet("K", "v")
	assert.Empty(t, a.Merge(nil))
	assert.Equal(t, []string{"K=v"}, b.Merge(nil))
}

func TestFromOS(t *testing.T) {
	t.Setenv("STREAMGATE_ENV_TEST", "1")
	out := Parse(New().FromOS().Merge(nil))
	assert.Equal(t, "1", out["STREAMGATE_ENV_TEST"])
}

func TestPairs(t *testing.T) {
	assert.Equal(t, []string{"A=1", "B=2"}, Pairs(map[string]string{"B": "2", "A": "1", "": "x"}))
}

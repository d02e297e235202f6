// Package env composes the environment handed to worker processes.
package env

import (
	"os"
	"sort"
	"strings"
)

type Var map[string]string

// Env layers control-plane wide variables over a base environment. Values are
// immutable once shared; With* return modified copies.
type Env struct {
	base Var // OS environment snapshot, nil until first use
	vars Var // global overrides
}

func New() *Env {
	return &Env{vars: make(Var)}
}

// FromOS snapshots the current process environment as the base.
func (e *Env) FromOS() *Env {
	c := e.clone()
	c.base = Parse(os.Environ())
	return c
}

// WithBase replaces the base environment, mainly for tests.
func (e *Env) WithBase(base Var) *Env {
	c := e.clone()
	c.base = make(Var, len(base))
	for k, v := range base {
		c.base[k] = v
	}
	return c
}

// WithSet returns a copy with k=v set globally.
func (e *Env) WithSet(k, v string) *Env {
	c := e.clone()
	if k != "" {
		c.vars[k] = v
	}
	return c
}

// WithVars returns a copy with every entry of m set globally.
func (e *Env) WithVars(m map[string]string) *Env {
	c := e.clone()
	for k, v := range m {
		if k != "" {
			c.vars[k] = v
		}
	}
	return c
}

func (e *Env) clone() *Env {
	c := &Env{vars: make(Var, len(e.vars))}
	for k, v := range e.vars {
		c.vars[k] = v
	}
	if e.base != nil {
		c.base = e.base
	}
	return c
}

// Merge composes the final environment: base, then global variables, then
// perProc ("K=V") overrides. ${VAR} references are expanded against the
// composed map, one level deep. The result is sorted by key.
func (e *Env) Merge(perProc []string) []string {
	base := e.base
	if base == nil {
		base = Parse(os.Environ())
	}
	m := make(Var, len(base)+len(e.vars)+len(perProc))
	for k, v := range base {
		m[k] = v
	}
	for k, v := range e.vars {
		m[k] = v
	}
	for k, v := range Parse(perProc) {
		m[k] = v
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+expand(m[k], m))
	}
	return out
}

// Parse converts "K=V" pairs into a map, skipping entries without a key.
func Parse(kvs []string) Var {
	m := make(Var, len(kvs))
	for _, kv := range kvs {
		i := strings.IndexByte(kv, '=')
		if i <= 0 {
			continue
		}
		m[kv[:i]] = kv[i+1:]
	}
	return m
}

// Pairs converts a map into sorted "K=V" pairs.
func Pairs(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k, v := range m {
		if k != "" {
			out = append(out, k+"="+v)
		}
	}
	sort.Strings(out)
	return out
}

// expand replaces ${NAME} occurrences whose NAME is defined in m. Unknown
// references are left untouched.
func expand(s string, m Var) string {
	if !strings.Contains(s, "${") {
		return s
	}
	var b strings.Builder
	for {
		i := strings.Index(s, "${")
		if i < 0 {
			b.WriteString(s)
			return b.String()
		}
		j := strings.IndexByte(s[i+2:], '}')
		if j < 0 {
			b.WriteString(s)
			return b.String()
		}
		name := s[i+2 : i+2+j]
		b.WriteString(s[:i])
		if v, ok := m[name]; ok {
			b.WriteString(v)
		} else {
			b.WriteString(s[i : i+3+j])
		}
		s = s[i+3+j:]
	}
}

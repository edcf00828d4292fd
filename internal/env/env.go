// Package env composes the environment handed to player processes.
package env

import (
	"os"
	"sort"
	"strings"
)

type Var map[string]string

// Env holds global variables layered on top of an optional OS base.
type Env struct {
	Var    Var  // global variables (K->V)
	UseOS  bool // start from the supervisor's own environment
	base   Var
	cached bool
}

func New() *Env {
	return &Env{Var: make(Var)}
}

// FromPairs builds an Env from "K=V" entries. Malformed entries are skipped.
func FromPairs(useOS bool, pairs []string) *Env {
	e := New()
	e.UseOS = useOS
	for _, kv := range pairs {
		if k, v, ok := split(kv); ok {
			e.Var[k] = v
		}
	}
	return e
}

// WithSet returns a copy of e with K=V set.
func (e *Env) WithSet(k, v string) *Env {
	c := &Env{Var: make(Var, len(e.Var)+1), UseOS: e.UseOS, base: e.base, cached: e.cached}
	for kk, vv := range e.Var {
		c.Var[kk] = vv
	}
	if k != "" {
		c.Var[k] = v
	}
	return c
}

func (e *Env) osBase() Var {
	if !e.UseOS {
		return nil
	}
	if !e.cached {
		e.base = make(Var)
		for _, kv := range os.Environ() {
			if k, v, ok := split(kv); ok {
				e.base[k] = v
			}
		}
		e.cached = true
	}
	return e.base
}

// Merge composes the final environment list applying order:
// OS base (when UseOS), then global Var, then perTile "K=V" overrides.
// ${VAR} references are expanded once against the composed map.
// The result is sorted by key so launches are reproducible.
func (e *Env) Merge(perTile []string) []string {
	m := make(Var)
	for k, v := range e.osBase() {
		m[k] = v
	}
	for k, v := range e.Var {
		if k != "" {
			m[k] = v
		}
	}
	for _, kv := range perTile {
		if k, v, ok := split(kv); ok {
			m[k] = v
		}
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

// expand replaces ${VAR} with its value from m; unknown names are left as is.
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
		j := strings.IndexByte(s[i:], '}')
		if j < 0 {
			b.WriteString(s)
			return b.String()
		}
		name := s[i+2 : i+j]
		b.WriteString(s[:i])
		if v, ok := m[name]; ok {
			b.WriteString(v)
		} else {
			b.WriteString(s[i : i+j+1])
		}
		s = s[i+j+1:]
	}
}

func split(kv string) (string, string, bool) {
	i := strings.IndexByte(kv, '=')
	if i <= 0 {
		return "", "", false
	}
	return kv[:i], kv[i+1:], true
}

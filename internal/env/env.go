// Package env composes the environment handed to supervised services.
package env

import (
	"os"
	"regexp"
	"sort"
	"strings"
)

var refPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Env layers KEY=VALUE overrides on top of a base environment.
// The zero value is not usable; construct with New or FromList.
type Env struct {
	vars map[string]string
}

// New snapshots the current OS environment.
func New() *Env { return FromList(os.Environ()) }

// FromList builds an Env from "KEY=VALUE" entries. Entries without '=' or
// with an empty key are skipped.
func FromList(kvs []string) *Env {
	e := &Env{vars: make(map[string]string, len(kvs))}
	e.apply(kvs)
	return e
}

func (e *Env) apply(kvs []string) {
	for _, kv := range kvs {
		i := strings.IndexByte(kv, '=')
		if i <= 0 {
			continue
		}
		e.vars[kv[:i]] = kv[i+1:]
	}
}

// With returns a copy with kvs applied on top. The receiver is unchanged.
func (e *Env) With(kvs []string) *Env {
	cp := &Env{vars: make(map[string]string, len(e.vars)+len(kvs))}
	for k, v := range e.vars {
		cp.vars[k] = v
	}
	cp.apply(kvs)
	return cp
}

// Get returns the raw (unexpanded) value of k.
func (e *Env) Get(k string) (string, bool) {
	v, ok := e.vars[k]
	return v, ok
}

// List returns the composed environment sorted by key, with ${VAR}
// references expanded one level against the composed values. Unknown
// references are left as-is.
func (e *Env) List() []string {
	keys := make([]string, 0, len(e.vars))
	for k := range e.vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+e.expand(e.vars[k]))
	}
	return out
}

func (e *Env) expand(s string) string {
	return refPattern.ReplaceAllStringFunc(s, func(ref string) string {
		name := ref[2 : len(ref)-1]
		if v, ok := e.vars[name]; ok {
			return v
		}
		return ref
	})
}

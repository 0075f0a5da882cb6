// Package env composes the environment handed to the server child process.
package env

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

type Var map[string]string

// Env layers variables: an optional OS base, then env files in order, then
// explicit KEY=VALUE overrides. Later layers win.
type Env struct {
	UseOS     bool
	Files     []string
	Overrides []string
}

// Compose returns the merged environment as sorted "K=V" pairs with ${VAR}
// expanded against the merged map (single pass, no recursion).
func (e Env) Compose() ([]string, error) {
	m := make(Var)
	if e.UseOS {
		for _, kv := range os.Environ() {
			put(m, kv)
		}
	}
	for _, p := range e.Files {
		pairs, err := LoadFile(p)
		if err != nil {
			return nil, fmt.Errorf("env file %s: %w", p, err)
		}
		for k, v := range pairs {
			m[k] = v
		}
	}
	for _, kv := range e.Overrides {
		put(m, kv)
	}

	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+expand(v, m))
	}
	sort.Strings(out)
	return out, nil
}

// LoadFile parses a simple .env file with KEY=VALUE lines. Blank lines and
// lines starting with # are ignored.
func LoadFile(path string) (Var, error) {
	b, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	m := make(Var)
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if i := strings.IndexByte(line, '='); i > 0 {
			m[strings.TrimSpace(line[:i])] = strings.TrimSpace(line[i+1:])
		}
	}
	return m, nil
}

func put(m Var, kv string) {
	if i := strings.IndexByte(kv, '='); i > 0 {
		m[kv[:i]] = kv[i+1:]
	}
}

func expand(s string, m Var) string {
	if !strings.Contains(s, "${") {
		return s
	}
	res := s
	for k, v := range m {
		res = strings.ReplaceAll(res, "${"+k+"}", v)
	}
	return res
}

// Package env composes the environment handed to the server process.
package env

import (
	"os"
	"sort"
	"strings"
)

// Compose overlays overrides ("KEY=VALUE") on base and expands ${VAR}
// references in override values against the composed set. Entries with an
// empty key are skipped. The result is sorted by key.
func Compose(base, overrides []string) []string {
	m := toMap(base)
	over := toMap(overrides)
	for k, v := range over {
		m[k] = v
	}
	for k, v := range over {
		m[k] = expand(v, m)
	}
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

// ForProcess composes overrides on top of the current process environment.
func ForProcess(overrides []string) []string {
	return Compose(os.Environ(), overrides)
}

func toMap(kvs []string) map[string]string {
	m := make(map[string]string, len(kvs))
	for _, kv := range kvs {
		if i := strings.IndexByte(kv, '='); i > 0 {
			m[kv[:i]] = kv[i+1:]
		}
	}
	return m
}

// expand replaces ${VAR} only; bare $VAR is kept. Unknown names expand to "".
func expand(s string, m map[string]string) string {
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
		b.WriteString(s[:i])
		b.WriteString(m[s[i+2:i+j]])
		s = s[i+j+1:]
	}
}

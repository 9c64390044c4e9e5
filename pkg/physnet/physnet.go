// Package physnet resolves physical network names to the vswitch that
// carries them.
//
// Mappings are configured as "<physical_network>:<vswitch>" entries where the
// physical network may contain '*' wildcards, e.g. "*:external". Entries are
// evaluated in configuration order and the first match wins. A physical
// network that matches no entry is carried by a vswitch of the same name.
package physnet

import (
	"regexp"
	"strings"

	"github.com/rs/zerolog"
)

// Rule is a single compiled mapping entry.
type Rule struct {
	Pattern string
	Switch  string

	re *regexp.Regexp
}

// Matches reports whether the rule's pattern matches the whole name.
func (r Rule) Matches(physicalNetwork string) bool {
	return r.re.MatchString(physicalNetwork)
}

// Map is immutable once built and safe for concurrent use.
type Map struct {
	rules []Rule
}

// New compiles the mapping entries. Malformed entries are logged and skipped.
func New(entries []string, log zerolog.Logger) *Map {
	m := &Map{}
	for _, entry := range entries {
		parts := strings.Split(entry, ":")
		if len(parts) != 2 {
			log.Warn().Str("mapping", entry).Msg("invalid physical network mapping, skipping")
			continue
		}
		pattern := strings.TrimSpace(parts[0])
		m.rules = append(m.rules, Rule{
			Pattern: pattern,
			Switch:  strings.TrimSpace(parts[1]),
			re:      compileWildcard(pattern),
		})
	}
	return m
}

func compileWildcard(pattern string) *regexp.Regexp {
	quoted := strings.ReplaceAll(regexp.QuoteMeta(pattern), `\*`, ".*")
	return regexp.MustCompile("(?s)^" + quoted + "$")
}

// Rules returns a copy of the compiled rules in evaluation order.
func (m *Map) Rules() []Rule {
	out := make([]Rule, len(m.rules))
	copy(out, m.rules)
	return out
}

// Resolve returns the vswitch for physicalNetwork. An empty name is matched
// like any other; without a match the name itself is returned.
func (m *Map) Resolve(physicalNetwork string) string {
	for _, rule := range m.rules {
		if rule.Matches(physicalNetwork) {
			return rule.Switch
		}
	}
	return physicalNetwork
}

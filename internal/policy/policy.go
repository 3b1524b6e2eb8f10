// Package policy decides which processes a sweep must never touch.
package policy

import (
	"sort"
	"strings"

	"github.com/eliteGoblin/focusd/killswitch/internal/domain"
)

// Reason names the rule that protected a process.
type Reason string

const (
	ReasonNone       Reason = ""
	ReasonSelf       Reason = "self"
	ReasonInvalidPID Reason = "invalid-pid"
	ReasonName       Reason = "name"
	ReasonIdentifier Reason = "identifier"
	ReasonPath       Reason = "system-path"
)

// ProtectionSet is the immutable allow-list consulted by the policy.
// Build it once with NewProtectionSet and share it; it is never mutated.
type ProtectionSet struct {
	names        map[string]struct{}
	identifiers  map[string]struct{}
	pathPrefixes []string
}

// NewProtectionSet copies its inputs; later changes to the slices have no effect.
func NewProtectionSet(names, identifiers, pathPrefixes []string) ProtectionSet {
	s := ProtectionSet{
		names:        make(map[string]struct{}, len(names)),
		identifiers:  make(map[string]struct{}, len(identifiers)),
		pathPrefixes: make([]string, 0, len(pathPrefixes)),
	}
	for _, n := range names {
		if n != "" {
			s.names[n] = struct{}{}
		}
	}
	for _, id := range identifiers {
		if id != "" {
			s.identifiers[id] = struct{}{}
		}
	}
	for _, p := range pathPrefixes {
		if p != "" {
			s.pathPrefixes = append(s.pathPrefixes, p)
		}
	}
	return s
}

// Names returns the protected names, sorted.
func (s ProtectionSet) Names() []string { return sortedKeys(s.names) }

// Identifiers returns the protected identifiers, sorted.
func (s ProtectionSet) Identifiers() []string { return sortedKeys(s.identifiers) }

// PathPrefixes returns a copy of the protected path prefixes.
func (s ProtectionSet) PathPrefixes() []string {
	return append([]string(nil), s.pathPrefixes...)
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Policy implements domain.ProtectionPolicy over a ProtectionSet.
type Policy struct {
	set ProtectionSet
}

// New creates a policy for the given set.
func New(set ProtectionSet) *Policy {
	return &Policy{set: set}
}

// Set returns the policy's protection set.
func (p *Policy) Set() ProtectionSet {
	return p.set
}

// IsProtected reports whether record must never be signaled.
func (p *Policy) IsProtected(record domain.ProcessRecord, selfPID int) bool {
	return p.Classify(record, selfPID) != ReasonNone
}

// Classify returns the first matching protection rule, or ReasonNone.
// Rules in order: own pid / invalid pid, name, identifier, system path.
func (p *Policy) Classify(record domain.ProcessRecord, selfPID int) Reason {
	if record.PID == selfPID {
		return ReasonSelf
	}
	if record.PID <= 0 {
		return ReasonInvalidPID
	}
	if _, ok := p.set.names[record.Name]; ok {
		return ReasonName
	}
	if record.Identifier != "" {
		if _, ok := p.set.identifiers[record.Identifier]; ok {
			return ReasonIdentifier
		}
	}
	if record.Path != "" {
		for _, prefix := range p.set.pathPrefixes {
			if strings.HasPrefix(record.Path, prefix) {
				return ReasonPath
			}
		}
	}
	return ReasonNone
}

// Ensure Policy implements domain.ProtectionPolicy.
var _ domain.ProtectionPolicy = (*Policy)(nil)

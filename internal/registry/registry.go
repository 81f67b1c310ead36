// Package registry holds the immutable script registry the Validator
// and Executor consult: the mapping from scriptId to its executable
// path, default mode, timeout, and argument policy, plus the compiled
// form of each script's itemPattern.
package registry

import (
	"fmt"
	"regexp"

	"github.com/queuectl/jobrunner/internal/job"
)

// entry pairs a registry record with its precompiled pattern so the
// Validator never compiles a regular expression on the request path.
type entry struct {
	script  job.Script
	pattern *regexp.Regexp
}

// Registry is immutable after New returns.
type Registry struct {
	entries map[string]entry
}

// New compiles every script's itemPattern once. A pattern that fails
// to compile rejects the whole registry, matching SPEC_FULL §4.7: the
// operator may still write a pathological (slow) pattern, but not a
// malformed one.
func New(scripts []job.Script) (*Registry, error) {
	entries := make(map[string]entry, len(scripts))
	for _, s := range scripts {
		var pat *regexp.Regexp
		if s.Args.ItemPattern != "" {
			p, err := regexp.Compile(s.Args.ItemPattern)
			if err != nil {
				return nil, fmt.Errorf("registry: script %q: compile itemPattern: %w", s.ID, err)
			}
			pat = p
		}
		entries[s.ID] = entry{script: s, pattern: pat}
	}
	return &Registry{entries: entries}, nil
}

// Lookup returns the script entry for id and whether it exists.
func (r *Registry) Lookup(id string) (job.Script, bool) {
	e, ok := r.entries[id]
	return e.script, ok
}

// Pattern returns the compiled itemPattern for id, or nil if the
// script has none or doesn't exist.
func (r *Registry) Pattern(id string) *regexp.Regexp {
	return r.entries[id].pattern
}

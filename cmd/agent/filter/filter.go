package filter

import (
	"path"
	"strings"
	"sync"

	"github.com/lyzr/gpu-agent/common/logger"
)

// Workflow is the admission policy for this worker: a set of allowed
// workflow names, exact or shell-style globs. The single pattern "*"
// disables filtering entirely.
type Workflow struct {
	mu       sync.RWMutex
	patterns []string
	allowAll bool
	log      *logger.Logger
}

// New creates a filter from the configured allow-list
func New(patterns []string, log *logger.Logger) *Workflow {
	f := &Workflow{log: log}
	f.Reload(patterns)
	return f
}

// Reload replaces the allow-list
func (f *Workflow) Reload(patterns []string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.patterns = f.patterns[:0]
	f.allowAll = false
	for _, p := range patterns {
		if p = strings.TrimSpace(p); p == "" {
			continue
		}
		if p == "*" {
			f.allowAll = true
		}
		f.patterns = append(f.patterns, p)
	}

	f.log.Info("workflow filter loaded", "patterns", f.patterns, "allow_all", f.allowAll)
}

// AllowAll reports whether filtering is disabled
func (f *Workflow) AllowAll() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.allowAll
}

// Patterns returns a copy of the current allow-list
func (f *Workflow) Patterns() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]string, len(f.patterns))
	copy(out, f.patterns)
	return out
}

// Allows reports whether this worker may process the named workflow.
// An empty name is treated as the literal "default". Patterns containing
// wildcard characters match as globs; everything else compares exactly,
// case-sensitively.
func (f *Workflow) Allows(name string) bool {
	if name == "" {
		name = "default"
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.allowAll {
		return true
	}

	for _, p := range f.patterns {
		if isGlob(p) {
			if ok, err := path.Match(p, name); err == nil && ok {
				return true
			}
			continue
		}
		if p == name {
			return true
		}
	}

	f.log.Debug("workflow not in allow-list", "workflow_name", name)
	return false
}

func isGlob(p string) bool {
	return strings.ContainsAny(p, "*?[")
}

// Package filter decides delivery eligibility for events from declarative
// include/exclude rules. Filtering is fail-open: a payload that cannot be
// parsed is allowed through with a warning, and an invalid pattern is
// skipped at compile time rather than rejected. Filtering never causes
// silent event loss.
package filter

import (
	"regexp"
	"strings"
	"sync"

	"github.com/forgesight/eventship/internal/domain"
	"github.com/forgesight/eventship/internal/ports"
)

// Rules is the declarative rule set consumed from configuration.
// Type lists match exactly (case-insensitive); job and branch lists are
// regular expressions.
type Rules struct {
	AllowedTypes   []string
	BlockedTypes   []string
	JobIncludes    []string
	JobExcludes    []string
	BranchIncludes []string
	BranchExcludes []string
}

// Empty reports whether no rule is configured at all.
func (r Rules) Empty() bool {
	return len(r.AllowedTypes) == 0 && len(r.BlockedTypes) == 0 &&
		len(r.JobIncludes) == 0 && len(r.JobExcludes) == 0 &&
		len(r.BranchIncludes) == 0 && len(r.BranchExcludes) == 0
}

// Filter evaluates events against a compiled rule set.
// The rule set is swappable at runtime via Update; evaluation takes a
// read lock only.
type Filter struct {
	logger ports.Logger

	mu       sync.RWMutex
	compiled *compiledRules
}

type compiledRules struct {
	disabled bool

	allowedTypes map[string]struct{}
	blockedTypes map[string]struct{}

	jobIncludes    []*regexp.Regexp
	jobExcludes    []*regexp.Regexp
	branchIncludes []*regexp.Regexp
	branchExcludes []*regexp.Regexp
}

// New compiles the given rules into a filter.
func New(rules Rules, logger ports.Logger) *Filter {
	f := &Filter{logger: logger}
	f.Update(rules)
	return f
}

// Update replaces the active rule set. Invalid patterns are skipped with a
// diagnostic; the remaining rules still apply.
func (f *Filter) Update(rules Rules) {
	compiled := &compiledRules{
		disabled:     rules.Empty(),
		allowedTypes: lowerSet(rules.AllowedTypes),
		blockedTypes: lowerSet(rules.BlockedTypes),
	}
	compiled.jobIncludes = f.compile("job-include", rules.JobIncludes)
	compiled.jobExcludes = f.compile("job-exclude", rules.JobExcludes)
	compiled.branchIncludes = f.compile("branch-include", rules.BranchIncludes)
	compiled.branchExcludes = f.compile("branch-exclude", rules.BranchExcludes)

	f.mu.Lock()
	f.compiled = compiled
	f.mu.Unlock()
}

// ShouldSend reports whether the event is eligible for delivery.
// Stages run in order: type block list, type allow list, job excludes, job
// includes, branch excludes, branch includes. An event missing a metadata
// field passes the stages that read it.
func (f *Filter) ShouldSend(payload string) bool {
	f.mu.RLock()
	rules := f.compiled
	f.mu.RUnlock()

	if rules.disabled {
		return true
	}

	meta, err := domain.ParseEventMeta(payload)
	if err != nil {
		// Fail open: a malformed payload is the producer's problem, not
		// a reason to drop its event.
		f.logger.Warn("unparseable event payload, allowing through", ports.Err(err))
		return true
	}

	if meta.Type != "" {
		typ := strings.ToLower(meta.Type)
		if _, blocked := rules.blockedTypes[typ]; blocked {
			return false
		}
		if len(rules.allowedTypes) > 0 {
			if _, allowed := rules.allowedTypes[typ]; !allowed {
				return false
			}
		}
	}

	if meta.JobName != "" {
		if matchAny(rules.jobExcludes, meta.JobName) {
			return false
		}
		if len(rules.jobIncludes) > 0 && !matchAny(rules.jobIncludes, meta.JobName) {
			return false
		}
	}

	if meta.Branch != "" {
		if matchAny(rules.branchExcludes, meta.Branch) {
			return false
		}
		if len(rules.branchIncludes) > 0 && !matchAny(rules.branchIncludes, meta.Branch) {
			return false
		}
	}

	return true
}

func (f *Filter) compile(kind string, patterns []string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			f.logger.Warn("skipping invalid filter pattern",
				ports.String("kind", kind),
				ports.String("pattern", p),
				ports.Err(err))
			continue
		}
		out = append(out, re)
	}
	return out
}

func lowerSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		set[strings.ToLower(v)] = struct{}{}
	}
	return set
}

func matchAny(patterns []*regexp.Regexp, value string) bool {
	for _, re := range patterns {
		if re.MatchString(value) {
			return true
		}
	}
	return false
}

// Package classifier implements the stateless suspicion-level rule engine.
// Rules are modeled as an ordered slice of functions applied in sequence,
// per the recommended redesign over a long if/else chain: each rule may
// append reason codes and raise the level, and the final reasons list is
// ordered by rule-insertion order so classification stays deterministic
// and testable rule-by-rule.
package classifier

import (
	"regexp"
	"strings"

	"github.com/procscope/procscope/internal/procmodel"
)

// Input is everything classify needs about one process and its joined
// collector data. HostUser and HomeDir are the ambient process-owner /
// host facts the caller injects, so tests can simulate any user without
// touching real system calls.
type Input struct {
	PID        int
	Name       string
	Cmd        string
	ExecPath   string
	User       string
	Outbound   int
	Listen     int
	Remotes    []string
	Launchd    string
	Signature  *procmodel.Signature
	ParentName string

	HostUser string
	HomeDir  string
}

// Result is the classifier's output: the final level and its ordered,
// deduplicated reasons.
type Result struct {
	Level   procmodel.SuspicionLevel
	Reasons []string
}

// state accumulates level and reasons across rule application.
type state struct {
	level     procmodel.SuspicionLevel
	reasons   []string
	reasonSet map[string]bool
}

func (s *state) add(reason string) {
	if s.reasonSet[reason] {
		return
	}
	s.reasonSet[reason] = true
	s.reasons = append(s.reasons, reason)
}

func (s *state) raise(l procmodel.SuspicionLevel) {
	if l > s.level {
		s.level = l
	}
}

func (s *state) addAndRaise(reason string, l procmodel.SuspicionLevel) {
	s.add(reason)
	s.raise(l)
}

// rule is one step of the classifier pipeline, free to mutate s based on
// in. Rules run strictly in slice order; that order is the source of
// truth for the final reasons ordering.
type rule func(in Input, s *state)

var rules = []rule{
	ruleKeyloggerAndInputMonitoring,
	ruleSuspiciousDataUpload,
	ruleDescriptiveTagging,
	ruleNetworkVolume,
	ruleKeywordFamilies,
	ruleLocation,
	ruleSignatureTrust,
	ruleInjectionHeuristics,
	ruleProcessNameAnomalies,
	ruleCombinatorialTightening,
}

// Classify runs the full rule pipeline against one enriched process and
// returns its suspicion level and ordered reason codes. It is pure: equal
// inputs always produce an equal Result.
func Classify(in Input) Result {
	s := &state{reasonSet: make(map[string]bool)}
	for _, r := range rules {
		r(in, s)
	}
	return Result{Level: s.level, Reasons: s.reasons}
}

func lc(s string) string { return strings.ToLower(s) }

func containsAny(haystack string, needles []string) bool {
	h := lc(haystack)
	for _, n := range needles {
		if strings.Contains(h, n) {
			return true
		}
	}
	return false
}

var ipv4Re = regexp.MustCompile(`^\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}$`)

func hostOf(remote string) string {
	host := remote
	if idx := strings.LastIndex(remote, ":"); idx >= 0 {
		host = remote[:idx]
	}
	return strings.Trim(host, "[]")
}

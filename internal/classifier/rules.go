package classifier

import (
	"strings"

	"github.com/procscope/procscope/internal/procmodel"
)

// ruleKeyloggerAndInputMonitoring is phase 1: keylogger and
// input-monitoring detection, the highest-signal family, applied first so
// its CRITICAL findings are never shadowed by a later rule's reasoning.
func ruleKeyloggerAndInputMonitoring(in Input, s *state) {
	haystack := in.Name + " " + in.Cmd + " " + in.ExecPath

	if containsAny(haystack, keyloggerKeywords) {
		if in.Outbound > 0 {
			s.addAndRaise("keylogger-with-network-activity", procmodel.LevelCRITICAL)
		} else {
			s.addAndRaise("keylogger-pattern", procmodel.LevelHIGH)
		}
	}

	hasInputMonitoring := containsAny(in.Cmd+" "+in.ExecPath, inputMonitoringTokens)

	if hasInputMonitoring && in.Outbound > 2 {
		s.addAndRaise("input-monitoring-with-network", procmodel.LevelCRITICAL)
	}

	if hasInputMonitoring && in.Signature != nil && !in.Signature.Signed {
		s.addAndRaise("unsigned-input-monitor", procmodel.LevelCRITICAL)
	}

	if hasInputMonitoring && browserDocMediaArchiveParents[lc(in.ParentName)] {
		s.addAndRaise("browser-spawned-input-monitor", procmodel.LevelHIGH)
	}

	hasAccessibility := containsAny(in.Cmd+" "+in.ExecPath, accessibilityTokens)
	if hasAccessibility && in.Outbound > 1 {
		s.addAndRaise("accessibility-with-network", procmodel.LevelCRITICAL)
	}
}

// ruleSuspiciousDataUpload is phase 2.
func ruleSuspiciousDataUpload(in Input, s *state) {
	if in.Outbound <= 10 || len(in.Remotes) <= 5 {
		return
	}
	for _, remote := range in.Remotes {
		if isSuspiciousRemote(remote) {
			s.addAndRaise("suspicious-data-upload-pattern", procmodel.LevelHIGH)
			return
		}
	}
}

func isSuspiciousRemote(remote string) bool {
	host := lc(hostOf(remote))
	if host == "" {
		return false
	}
	if strings.Contains(host, "apple.com") || strings.Contains(host, "icloud.com") ||
		host == "localhost" || host == "127.0.0.1" {
		return false
	}
	if ipv4Re.MatchString(host) {
		return true
	}
	for _, suffix := range []string{".ru", ".cn", ".tk", ".onion"} {
		if strings.HasSuffix(host, suffix) {
			return true
		}
	}
	return false
}

// ruleDescriptiveTagging is phase 3: these tags describe the process
// without necessarily being suspicious on their own, but they feed phase
// 10's combinatorial tightening.
func ruleDescriptiveTagging(in Input, s *state) {
	if in.User != "" && in.User != in.HostUser && in.User != "root" && in.User != "_www" {
		s.addAndRaise("different-user", procmodel.LevelMED)
	}

	if strings.Contains(lc(in.Cmd), "launchd") || strings.Contains(lc(in.Cmd), "agent") || strings.Contains(lc(in.Cmd), "daemon") {
		s.addAndRaise("agent-ish", procmodel.LevelMED)
	}

	if in.Launchd != "" {
		s.addAndRaise("launchd-managed", procmodel.LevelMED)
	}

	if mgmtSuiteRe.MatchString(in.Cmd) {
		s.addAndRaise("mgmt-suite", procmodel.LevelMED)
	}
}

// ruleNetworkVolume is phase 4.
func ruleNetworkVolume(in Input, s *state) {
	if in.Outbound+in.Listen > 20 {
		s.add("many-connections")
	}
	if in.Outbound > 50 {
		s.addAndRaise("excessive-outbound", procmodel.LevelMED)
	}
}

// ruleKeywordFamilies is phase 5: first-match-wins across the ordered
// families below, so a name matching both "xmrig" and "malware" is
// classified by whichever family is listed first.
func ruleKeywordFamilies(in Input, s *state) {
	haystack := in.Name + " " + in.Cmd

	switch {
	case containsAny(haystack, screenRecorderKeywords):
		s.addAndRaise("screen-recorder", procmodel.LevelMED)
	case containsAny(haystack, remoteAccessKeywords):
		s.addAndRaise("remote-access", procmodel.LevelMED)
	case containsAny(haystack, cryptominerKeywords):
		s.addAndRaise("cryptominer", procmodel.LevelHIGH)
	case containsAny(haystack, dataExfilKeywords):
		if in.Signature == nil || !trustedTeams[in.Signature.TeamIdentifier] {
			s.addAndRaise("data-exfiltration", procmodel.LevelMED)
		}
	case containsAny(haystack, explicitlySuspiciousKeywords):
		s.addAndRaise("suspicious-name", procmodel.LevelCRITICAL)
	}
}

// ruleLocation is phase 6.
func ruleLocation(in Input, s *state) {
	execPath := in.ExecPath
	if strings.HasPrefix(execPath, "~") && in.HomeDir != "" {
		execPath = in.HomeDir + execPath[1:]
	}

	for _, prefix := range suspiciousLocationPrefixes {
		expanded := prefix
		if strings.HasPrefix(expanded, "~") && in.HomeDir != "" {
			expanded = in.HomeDir + expanded[1:]
		}
		if execPath != "" && strings.HasPrefix(execPath, expanded) {
			s.addAndRaise("suspicious-location:"+prefix, procmodel.LevelMED)
			break
		}
	}

	if hiddenDirSegmentRe.MatchString(in.ExecPath) {
		s.addAndRaise("hidden-directory-path", procmodel.LevelMED)
	}
}

// ruleSignatureTrust is phase 7. It is the only rule permitted to lower a
// level: the trusted-binary downgrade collapses a MED accumulated from
// three or fewer reasons down to LOW.
func ruleSignatureTrust(in Input, s *state) {
	trust := trustLevelOf(in.Signature)

	switch trust {
	case "malicious":
		s.addAndRaise("malicious-signature", procmodel.LevelCRITICAL)
	case "suspicious":
		s.addAndRaise("unsigned", procmodel.LevelHIGH)
	case "unknown":
		if !strings.HasPrefix(in.ExecPath, "/usr/local/") {
			s.addAndRaise("unknown-signature", procmodel.LevelMED)
		}
	case "verified":
		if in.Signature.Notarized {
			s.add("notarized")
		}
	case "trusted":
		s.add("trusted-binary")
		if s.level == procmodel.LevelMED && len(s.reasons) <= 3 {
			s.level = procmodel.LevelLOW
		}
	}
}

func trustLevelOf(sig *procmodel.Signature) string {
	if sig == nil {
		return "none"
	}
	if !sig.Valid {
		return "malicious"
	}
	if !sig.Signed {
		return "suspicious"
	}
	if sig.IsAppStore || trustedTeams[sig.TeamIdentifier] {
		return "trusted"
	}
	if sig.Notarized || sig.TeamIdentifier != "" {
		return "verified"
	}
	return "unknown"
}

type injectionCategory struct {
	reason  string
	parents map[string]bool
	level   procmodel.SuspicionLevel
}

var injectionCategories = []injectionCategory{
	{"email-client-injection", map[string]bool{"mail": true, "outlook": true, "thunderbird": true}, procmodel.LevelCRITICAL},
	{"pdf-reader-injection", map[string]bool{"preview": true, "adobereader": true, "acrobat": true}, procmodel.LevelCRITICAL},
	{"office-app-injection", map[string]bool{"word": true, "excel": true, "powerpoint": true, "keynote": true, "pages": true, "numbers": true}, procmodel.LevelCRITICAL},
	{"browser-injection", map[string]bool{"safari": true, "chrome": true, "firefox": true, "msedge": true}, procmodel.LevelHIGH},
	{"media-player-injection", map[string]bool{"quicktimeplayer": true, "vlc": true, "ituneshelper": true}, procmodel.LevelHIGH},
	{"archive-util-injection", map[string]bool{"archiveutility": true, "unarchiver": true, "keka": true}, procmodel.LevelHIGH},
}

// ruleInjectionHeuristics is phase 8: a fixed parent-name set paired with
// a fixed child-command regex, first category wins.
func ruleInjectionHeuristics(in Input, s *state) {
	if !childProcessRegex.MatchString(in.Cmd) {
		return
	}
	parent := lc(in.ParentName)
	for _, cat := range injectionCategories {
		if cat.parents[parent] {
			s.addAndRaise(cat.reason, cat.level)
			return
		}
	}
}

// ruleProcessNameAnomalies is phase 9.
func ruleProcessNameAnomalies(in Input, s *state) {
	if strings.HasPrefix(in.Name, ".") {
		s.addAndRaise("hidden-process", procmodel.LevelMED)
	}

	if in.Name == "" && in.Cmd != "" {
		s.add("unnamed-process")
	}

	if containsZeroWidth(in.Name) {
		s.addAndRaise("zero-width-chars", procmodel.LevelHIGH)
	}

	if sys, ok := mimicsSystemProcess(in.Name); ok {
		s.addAndRaise("mimicking-system-process:"+sys, procmodel.LevelHIGH)
	}
}

func containsZeroWidth(name string) bool {
	for _, r := range name {
		if zeroWidthRunes[r] {
			return true
		}
	}
	return false
}

func mimicsSystemProcess(name string) (string, bool) {
	if name == "" {
		return "", false
	}
	for _, sys := range wellKnownSystemProcesses {
		if name == sys {
			continue // exact match is the real thing, not mimicry
		}
		if normalizeHomoglyphs(name) == normalizeHomoglyphs(sys) {
			return sys, true
		}
		if stripSeparators(name) == stripSeparators(sys) {
			return sys, true
		}
		if len(name) >= 5 && levenshteinDistance(name, sys) <= 2 {
			return sys, true
		}
	}
	return "", false
}

func normalizeHomoglyphs(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if mapped, ok := homoglyphTable[r]; ok {
			b.WriteRune(mapped)
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func stripSeparators(s string) string {
	s = strings.ToLower(s)
	replacer := strings.NewReplacer("-", "", "_", "", ".", "", " ", "")
	return replacer.Replace(s)
}

// ruleCombinatorialTightening is phase 10, the final pass that nudges a
// LOW/MED level up once enough weaker signals have accumulated.
func ruleCombinatorialTightening(in Input, s *state) {
	hasMgmtOrLaunchd := false
	for _, r := range s.reasons {
		if r == "mgmt-suite" || r == "launchd-managed" {
			hasMgmtOrLaunchd = true
			break
		}
	}
	if hasMgmtOrLaunchd && s.level == procmodel.LevelLOW {
		s.raise(procmodel.LevelMED)
	}
	if len(s.reasons) >= 3 && s.level == procmodel.LevelLOW {
		s.raise(procmodel.LevelMED)
	}
	if len(s.reasons) >= 5 && s.level == procmodel.LevelMED {
		s.raise(procmodel.LevelHIGH)
	}
}

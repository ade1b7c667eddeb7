package classifier

import "regexp"

// Fixed vocabularies driving the keyword-based rules. These are
// intentionally small, representative sets rather than exhaustive
// dictionaries — the rule engine is stateless and data-driven, so growing
// a vocabulary never touches the rule logic itself.

var keyloggerKeywords = []string{
	"keylog", "keystroke", "keywatcher", "keycapture", "logkeys",
}

var inputMonitoringTokens = []string{
	"cgeventtap", "cgevent", "iohidmanager", "inputmonitoring", "hidmanager",
}

var accessibilityTokens = []string{
	"axisprocesstrusted", "accessibility-api", "ax-api",
}

// browserDocMediaArchiveParents covers the "browser/document/media/archive
// process" parent list referenced by the input-monitoring rule.
var browserDocMediaArchiveParents = map[string]bool{
	"safari": true, "chrome": true, "firefox": true, "msedge": true,
	"preview": true, "quicklook": true, "word": true, "excel": true,
	"powerpoint": true, "keynote": true, "pages": true, "numbers": true,
	"archiveutility": true, "unarchiver": true, "quicktimeplayer": true,
	"vlc": true,
}

var mgmtSuiteRe = regexp.MustCompile(`(?i)jamf|munki|chef-client|puppet|ansible|bigfix|addigy|kandji`)

var screenRecorderKeywords = []string{"screencapturekit", "camtasia", "obs-studio", "screenflow"}
var remoteAccessKeywords = []string{"teamviewer", "anydesk", "vnc", "remotedesktop", "ammyy", "splashtop"}
var cryptominerKeywords = []string{"xmrig", "cgminer", "ethminer", "nicehash", "minerd"}
var dataExfilKeywords = []string{"exfiltrate", "dataexfil", "backupagent", "stealer"}
var explicitlySuspiciousKeywords = []string{"malware", "trojan", "backdoor", "rootkit", "ransomware"}

var suspiciousLocationPrefixes = []string{
	"/tmp/", "/private/tmp/", "/var/tmp/", "/dev/shm/",
	"~/Downloads/", "~/.Trash/",
}

var hiddenDirSegmentRe = regexp.MustCompile(`/\.[^/]+/`)

var trustedTeams = map[string]bool{
	"Apple Inc.":            true,
	"Microsoft Corporation": true,
	"Google LLC":            true,
	"Adobe Inc.":            true,
	"Mozilla Corporation":   true,
}

var childProcessRegex = regexp.MustCompile(`(?i)(curl|wget|osascript|bash -c|sh -c|python -c|nc -e|/bin/nc)`)

var wellKnownSystemProcesses = []string{
	"kernel_task", "launchd", "WindowServer", "coreaudiod",
	"mds_stores", "syslogd", "sshd", "cron", "systemd", "init",
}

// homoglyphTable maps visually-similar characters to a single canonical
// form so that e.g. Cyrillic "а" normalizes to Latin "a" before
// comparison.
var homoglyphTable = map[rune]rune{
	'0': 'o', '1': 'l', '3': 'e', '4': 'a', '5': 's', '@': 'a', '$': 's',
	'а': 'a', 'е': 'e', 'о': 'o', 'р': 'p', 'с': 'c', 'х': 'x', 'у': 'y',
	'і': 'i', 'ѕ': 's',
}

var zeroWidthRunes = map[rune]bool{
	'\u200b': true, // zero width space
	'\u200c': true, // zero width non-joiner
	'\u200d': true, // zero width joiner
	'\ufeff': true, // byte order mark / zero width no-break space
}

// Package procmodel holds the data types shared by every stage of the
// scan pipeline: the raw collector outputs, the enriched process record,
// and the wire format pushed to subscribers.
package procmodel

// SuspicionLevel is a total order LOW < MED < HIGH < CRITICAL.
type SuspicionLevel int

const (
	LevelLOW SuspicionLevel = iota
	LevelMED
	LevelHIGH
	LevelCRITICAL
)

func (l SuspicionLevel) String() string {
	switch l {
	case LevelLOW:
		return "LOW"
	case LevelMED:
		return "MED"
	case LevelHIGH:
		return "HIGH"
	case LevelCRITICAL:
		return "CRITICAL"
	default:
		return "LOW"
	}
}

// MarshalJSON emits the level as its string form so the wire format matches
// the protocol's `level` field exactly.
func (l SuspicionLevel) MarshalJSON() ([]byte, error) {
	return []byte(`"` + l.String() + `"`), nil
}

// ConnectionSummary is the per-pid aggregate built from the socket listing.
type ConnectionSummary struct {
	Outbound int      `json:"outbound"`
	Listen   int      `json:"listen"`
	Remotes  []string `json:"remotes,omitempty"`
}

// AddRemote records a remote endpoint, deduplicated and bounded to 10.
func (c *ConnectionSummary) AddRemote(hostport string) {
	if len(c.Remotes) >= 10 {
		return
	}
	for _, r := range c.Remotes {
		if r == hostport {
			return
		}
	}
	c.Remotes = append(c.Remotes, hostport)
}

// Signature is the code-signing state of an executable. A nil *Signature
// means the path was unknown or unreadable — not "unsigned".
type Signature struct {
	Signed         bool     `json:"signed"`
	Valid          bool     `json:"valid"`
	TeamIdentifier string   `json:"teamIdentifier,omitempty"`
	Authorities    []string `json:"authorities,omitempty"`
	Notarized      bool     `json:"notarized,omitempty"`
	Identifier     string   `json:"identifier,omitempty"`
	IsAppStore     bool     `json:"isAppStore,omitempty"`
}

// RawProcess is the listProcesses() collector's per-row output, before
// enrichment with connections, launchd, signature, or classification.
type RawProcess struct {
	PID      int
	PPID     int
	Name     string
	Cmd      string
	User     string
	CPU      float64
	Mem      float64
	ExecPath string
}

// Process is one running process observed at a scan, fully enriched and
// classified. It is the unit stored by the process store and, via
// ProcessWireFormat, pushed to subscribers.
type Process struct {
	PID         int
	PPID        int
	Name        string
	Cmd         string
	User        string
	ExecPath    string
	CPU         float64
	Mem         float64
	ParentName  string
	Launchd     string
	Connections ConnectionSummary
	Codesign    *Signature
	Level       SuspicionLevel
	Reasons     []string
}

// ProcessWireFormat is the JSON shape pushed over /ws and returned by the
// read API. Field order matches §6 of the push protocol so that clients
// digesting raw bytes see a stable, fixed key order.
type ProcessWireFormat struct {
	PID         int                `json:"pid"`
	PPID        int                `json:"ppid,omitempty"`
	Name        string             `json:"name"`
	Cmd         string             `json:"cmd"`
	User        string             `json:"user"`
	CPU         float64            `json:"cpu"`
	Mem         float64            `json:"mem"`
	ExecPath    string             `json:"execPath,omitempty"`
	Connections ConnectionSummary  `json:"connections"`
	Level       SuspicionLevel     `json:"level"`
	Reasons     []string           `json:"reasons"`
	Launchd     string             `json:"launchd,omitempty"`
	Codesign    *CodesignWireEntry `json:"codesign,omitempty"`
	Parent      string             `json:"parent,omitempty"`
}

// CodesignWireEntry is the trimmed signature view sent to clients — it
// omits the raw authorities list, which is internal-only.
type CodesignWireEntry struct {
	Signed     bool   `json:"signed"`
	Valid      bool   `json:"valid"`
	TeamID     string `json:"teamId,omitempty"`
	Notarized  bool   `json:"notarized,omitempty"`
	AppStore   bool   `json:"appStore,omitempty"`
}

// ToWire converts an enriched Process into its wire representation.
func (p *Process) ToWire() ProcessWireFormat {
	w := ProcessWireFormat{
		PID:         p.PID,
		PPID:        p.PPID,
		Name:        p.Name,
		Cmd:         p.Cmd,
		User:        p.User,
		CPU:         p.CPU,
		Mem:         p.Mem,
		ExecPath:    p.ExecPath,
		Connections: p.Connections,
		Level:       p.Level,
		Reasons:     p.Reasons,
		Launchd:     p.Launchd,
		Parent:      p.ParentName,
	}
	if p.Codesign != nil {
		w.Codesign = &CodesignWireEntry{
			Signed:    p.Codesign.Signed,
			Valid:     p.Codesign.Valid,
			TeamID:    p.Codesign.TeamIdentifier,
			Notarized: p.Codesign.Notarized,
			AppStore:  p.Codesign.IsAppStore,
		}
	}
	return w
}

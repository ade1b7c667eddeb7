// Package hostfacts reports the ambient host facts required by
// GET /api/stats (§6): platform, arch, hostname, uptime, memory, CPU
// count, and whether the process is running as root. All of it is
// reported by the Go runtime and a couple of stdlib syscalls — there is
// no third-party "host facts" library anywhere in the retrieval pack, so
// this stays stdlib by necessity rather than by default.
package hostfacts

import (
	"os"
	"runtime"
	"time"
)

// Facts is the host snapshot embedded in GET /api/stats.
type Facts struct {
	Platform string  `json:"platform"`
	Arch     string  `json:"arch"`
	Hostname string  `json:"hostname"`
	Uptime   float64 `json:"uptime"`
	TotalMem uint64  `json:"totalMem"`
	FreeMem  uint64  `json:"freeMem"`
	CPUCount int     `json:"cpuCount"`
	IsRoot   bool    `json:"isRoot"`
}

// processStart is recorded at package init so Uptime reflects how long
// this procscope process has been running, mirroring the reference
// deployment's Node.js `process.uptime()` semantics.
var processStart = time.Now()

// Collect gathers the current host facts. It never errors: any syscall
// that fails just leaves its field zero.
func Collect() Facts {
	hostname, _ := os.Hostname()

	total, free := memStats()

	return Facts{
		Platform: runtime.GOOS,
		Arch:     runtime.GOARCH,
		Hostname: hostname,
		Uptime:   time.Since(processStart).Seconds(),
		TotalMem: total,
		FreeMem:  free,
		CPUCount: runtime.NumCPU(),
		IsRoot:   os.Geteuid() == 0,
	}
}

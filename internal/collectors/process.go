// Package collectors wraps the OS-facing commands (ps, lsof, launchctl,
// codesign) behind four pure, timeout-bounded operations. Every invocation
// shells out and parses text; none of them ever raise past the caller —
// timeouts and subprocess failures both collapse to an empty result so the
// orchestrator can proceed with partial data.
package collectors

import (
	"bufio"
	"bytes"
	"context"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/procscope/procscope/internal/procmodel"
)

// ListProcesses enumerates all running processes via `ps`. It never
// returns an error to the caller by design — a timeout or parse failure
// yields an empty slice, logged.
func ListProcesses(ctx context.Context) []procmodel.RawProcess {
	out, err := runCommand(ctx, 10*time.Second, "ps", "-axo", "pid=,ppid=,user=,pcpu=,pmem=,command=")
	if err != nil {
		slog.Warn("listProcesses collector failed", "err", err)
		return nil
	}

	var rows []procmodel.RawProcess
	scanner := bufio.NewScanner(bytes.NewReader(out))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 6 {
			continue
		}
		pid, err := strconv.Atoi(fields[0])
		if err != nil {
			continue
		}
		ppid, _ := strconv.Atoi(fields[1])
		user := fields[2]
		cpu, _ := strconv.ParseFloat(fields[3], 64)
		mem, _ := strconv.ParseFloat(fields[4], 64)

		// command= is whatever remains of the line after the first
		// five fixed columns; reconstruct it from the original text
		// rather than the already-split fields so embedded spaces in
		// arguments survive.
		cmd := remainderAfterNFields(line, 5)
		execPath := deriveExecPath(cmd)
		name := execPath
		if name == "" {
			if fs := strings.Fields(cmd); len(fs) > 0 {
				name = fs[0]
			}
		}
		if idx := strings.LastIndex(name, "/"); idx >= 0 {
			name = name[idx+1:]
		}

		rows = append(rows, procmodel.RawProcess{
			PID:      pid,
			PPID:     ppid,
			Name:     name,
			Cmd:      cmd,
			User:     user,
			CPU:      cpu,
			Mem:      mem,
			ExecPath: execPath,
		})
	}
	return rows
}

// remainderAfterNFields returns the trimmed substring of line following
// the n-th whitespace-delimited field, preserving internal whitespace.
func remainderAfterNFields(line string, n int) string {
	idx := 0
	for i := 0; i < n; i++ {
		for idx < len(line) && line[idx] == ' ' {
			idx++
		}
		start := idx
		for idx < len(line) && line[idx] != ' ' {
			idx++
		}
		if start == idx {
			return ""
		}
	}
	return strings.TrimSpace(line[idx:])
}

// deriveExecPath tokenizes cmd, strips surrounding quotes, and keeps the
// first token only if it is an absolute path or ends in ".app".
func deriveExecPath(cmd string) string {
	cmd = strings.TrimSpace(cmd)
	if cmd == "" {
		return ""
	}

	var first string
	if strings.HasPrefix(cmd, `"`) {
		if end := strings.Index(cmd[1:], `"`); end >= 0 {
			first = cmd[1 : end+1]
		}
	} else {
		fields := strings.Fields(cmd)
		if len(fields) > 0 {
			first = strings.Trim(fields[0], `"'`)
		}
	}

	if first == "" {
		return ""
	}
	if strings.HasPrefix(first, "/") || strings.HasSuffix(first, ".app") {
		return first
	}
	return ""
}

func runCommand(ctx context.Context, timeout time.Duration, name string, args ...string) ([]byte, error) {
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(cctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if cctx.Err() == context.DeadlineExceeded {
		return nil, context.DeadlineExceeded
	}
	if err != nil {
		return nil, err
	}
	return stdout.Bytes(), nil
}

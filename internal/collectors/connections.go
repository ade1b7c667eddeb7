package collectors

import (
	"bufio"
	"bytes"
	"context"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/procscope/procscope/internal/procmodel"
)

// ConnectionSummaries lists sockets via `lsof` and aggregates them per pid.
// Timeout: 8s.
func ConnectionSummaries(ctx context.Context) map[int]*procmodel.ConnectionSummary {
	out, err := runCommand(ctx, 8*time.Second, "lsof", "-i", "-P", "-n")
	if err != nil {
		slog.Warn("getConnectionSummary collector failed", "err", err)
		return nil
	}

	result := make(map[int]*procmodel.ConnectionSummary)
	scanner := bufio.NewScanner(bytes.NewReader(out))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	first := true
	for scanner.Scan() {
		line := scanner.Text()
		if first {
			first = false
			continue // header row
		}
		fields := strings.Fields(line)
		if len(fields) < 9 {
			continue
		}
		pid, err := strconv.Atoi(fields[1])
		if err != nil {
			continue
		}
		nameField := fields[len(fields)-1]

		summary := result[pid]
		if summary == nil {
			summary = &procmodel.ConnectionSummary{}
			result[pid] = summary
		}

		switch {
		case strings.Contains(nameField, "->"):
			parts := strings.SplitN(nameField, "->", 2)
			summary.Outbound++
			summary.AddRemote(strings.TrimSpace(parts[1]))
		case strings.Contains(nameField, "(LISTEN)"):
			summary.Listen++
		default:
			summary.Outbound++
		}
	}
	return result
}

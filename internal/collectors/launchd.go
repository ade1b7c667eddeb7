package collectors

import (
	"bufio"
	"bytes"
	"context"
	"log/slog"
	"strconv"
	"strings"
	"time"
)

// LaunchDaemons lists launchd-managed services and maps pid to service
// label. Rows whose pid column is "-" or non-numeric are skipped —
// launchctl reports loaded-but-not-running services that way. Timeout: 5s.
func LaunchDaemons(ctx context.Context) map[int]string {
	out, err := runCommand(ctx, 5*time.Second, "launchctl", "list")
	if err != nil {
		slog.Warn("collectLaunchDaemons collector failed", "err", err)
		return nil
	}

	result := make(map[int]string)
	scanner := bufio.NewScanner(bytes.NewReader(out))
	first := true
	for scanner.Scan() {
		line := scanner.Text()
		if first {
			first = false
			continue // header: PID Status Label
		}
		fields := strings.Fields(line)
		if len(fields) < 3 {
			continue
		}
		pid, err := strconv.Atoi(fields[0])
		if err != nil {
			continue
		}
		label := strings.Join(fields[2:], " ")
		result[pid] = label
	}
	return result
}

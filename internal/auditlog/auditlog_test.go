package auditlog

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/procscope/procscope/internal/procmodel"
)

func waitForLines(t *testing.T, path string, n int) []string {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		lines := readLines(t, path)
		if len(lines) >= n {
			return lines
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d lines in %s", n, path)
	return nil
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil
	}
	require.NoError(t, err)
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	return lines
}

func TestWriter_AppendsEntry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "suspicious-processes.log")
	w, err := New(path)
	require.NoError(t, err)

	w.Append(procmodel.Process{PID: 100, Name: "xmrig", Level: procmodel.LevelHIGH, Reasons: []string{"cryptominer"}})

	lines := waitForLines(t, path, 1)
	var entry Entry
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	require.Equal(t, 100, entry.PID)
	require.Equal(t, "HIGH", entry.Level)
	require.Equal(t, []string{"cryptominer"}, entry.Reasons)
}

func TestWriter_DedupesWithinLifetime(t *testing.T) {
	path := filepath.Join(t.TempDir(), "suspicious-processes.log")
	w, err := New(path)
	require.NoError(t, err)

	var outcomes []string
	done := make(chan struct{}, 2)
	w.OnOutcome(func(outcome string) {
		outcomes = append(outcomes, outcome)
		done <- struct{}{}
	})

	proc := procmodel.Process{PID: 7, Name: "keywatcher", Level: procmodel.LevelCRITICAL}
	w.Append(proc)
	<-done
	w.Append(proc)
	<-done

	lines := readLines(t, path)
	require.Len(t, lines, 1)
	require.Contains(t, outcomes, "written")
	require.Contains(t, outcomes, "dedup_skipped")
}

func TestWriter_ForgetPIDAllowsRelog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "suspicious-processes.log")
	w, err := New(path)
	require.NoError(t, err)

	proc := procmodel.Process{PID: 9, Name: "badproc", Level: procmodel.LevelHIGH}
	w.Append(proc)
	waitForLines(t, path, 1)

	w.ForgetPID(9)
	w.Append(proc)
	waitForLines(t, path, 2)
}

package collectors

import (
	"bytes"
	"context"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/procscope/procscope/internal/procmodel"
)

// Signature performs the two codesign invocations described in the spec: a
// validity check, then a detail extraction. Returns nil if execPath is
// empty or the file is unreadable — never an error, since the classifier
// treats "no signature" as a distinct, silent outcome from "unsigned".
// Each invocation is bounded to 3s.
func Signature(ctx context.Context, execPath string) *procmodel.Signature {
	if execPath == "" {
		return nil
	}

	validOut, validErr := codesignInvoke(ctx, "--verify", "--deep", "--strict", execPath)
	combined := string(validOut)
	if validErr != nil && strings.Contains(strings.ToLower(combined), "not signed") {
		return &procmodel.Signature{Signed: false, Valid: false}
	}

	detailOut, detailErr := codesignInvoke(ctx, "-dvvv", execPath)
	if detailErr != nil && strings.Contains(strings.ToLower(string(detailOut)), "not signed") {
		return &procmodel.Signature{Signed: false, Valid: false}
	}
	if detailErr != nil && len(detailOut) == 0 {
		// Genuine failure (unreadable binary, missing file, timeout) — no
		// signal either way.
		return nil
	}

	sig := &procmodel.Signature{
		Signed: true,
		Valid:  validErr == nil,
	}
	for _, line := range strings.Split(string(detailOut), "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "TeamIdentifier="):
			v := strings.TrimPrefix(line, "TeamIdentifier=")
			if v != "not set" {
				sig.TeamIdentifier = v
			}
		case strings.HasPrefix(line, "Identifier="):
			sig.Identifier = strings.TrimPrefix(line, "Identifier=")
		case strings.HasPrefix(line, "Authority="):
			sig.Authorities = append(sig.Authorities, strings.TrimPrefix(line, "Authority="))
		case strings.Contains(line, "flags=") && strings.Contains(line, "notarized"):
			sig.Notarized = true
		case strings.HasPrefix(line, "Source="):
			if strings.Contains(line, "Notarized") {
				sig.Notarized = true
			}
		}
	}
	if strings.Contains(sig.Identifier, "com.apple.appstore") || strings.Contains(strings.Join(sig.Authorities, " "), "Apple Mac OS Application Signing") {
		sig.IsAppStore = true
	}
	return sig
}

func codesignInvoke(ctx context.Context, args ...string) ([]byte, error) {
	cctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	cmd := exec.CommandContext(cctx, "codesign", args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	out := stdout.Bytes()
	out = append(out, stderr.Bytes()...)
	if cctx.Err() == context.DeadlineExceeded {
		slog.Warn("codesign invocation timed out", "args", args)
		return out, context.DeadlineExceeded
	}
	return out, err
}

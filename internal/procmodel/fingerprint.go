package procmodel

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/crypto/blake2b"
)

// Fingerprint is a scan-time digest over {pid, execPath, cmd, outbound+listen}
// used by the orchestrator to short-circuit re-classification of a process
// that hasn't materially changed since the previous scan.
type Fingerprint [32]byte

// ComputeFingerprint hashes the fields that drive classification. Two
// scans of the same process produce the same fingerprint iff none of
// these fields changed.
func ComputeFingerprint(pid int, execPath, cmd string, outboundPlusListen int) Fingerprint {
	h, _ := blake2b.New256(nil)
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(pid))
	h.Write(buf[:])
	h.Write([]byte{0})
	h.Write([]byte(execPath))
	h.Write([]byte{0})
	h.Write([]byte(cmd))
	h.Write([]byte{0})
	binary.LittleEndian.PutUint64(buf[:], uint64(outboundPlusListen))
	h.Write(buf[:])

	var fp Fingerprint
	copy(fp[:], h.Sum(nil))
	return fp
}

// String renders the fingerprint as a short hex digest for logging.
func (f Fingerprint) String() string {
	return fmt.Sprintf("%x", f[:8])
}

package pipeline

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrSourceMissing means neither the original nor its artifact exists.
	ErrSourceMissing = errors.New("source file missing and no artifact present")
	// ErrLeaseLost means the job stopped being authoritative before finalize.
	ErrLeaseLost = errors.New("lease lost before finalize")
	// ErrArtifactMissing means the compressor exited cleanly without producing output.
	ErrArtifactMissing = errors.New("compressor produced no artifact")
)

// CommandError records a subprocess that failed to start or exited non-zero.
type CommandError struct {
	Args []string
	Code int // -1 when the process never ran
	Err  error
}

func (e *CommandError) Error() string {
	if e.Code < 0 {
		return fmt.Sprintf("%s failed to start: %v", strings.Join(e.Args, " "), e.Err)
	}
	return fmt.Sprintf("%s returned code %d", strings.Join(e.Args, " "), e.Code)
}

func (e *CommandError) Unwrap() error { return e.Err }

// VerifyError wraps failures reading or decoding during verification.
type VerifyError struct {
	Path string
	Err  error
}

func (e *VerifyError) Error() string { return fmt.Sprintf("verify %s: %v", e.Path, e.Err) }

func (e *VerifyError) Unwrap() error { return e.Err }

// HashMismatchError is the integrity failure: the artifact does not decode
// to the original bytes. The original is left in place.
type HashMismatchError struct {
	Path     string
	Original string
	Artifact string
}

func (e *HashMismatchError) Error() string {
	return fmt.Sprintf("hash mismatch for %s: original %s != artifact %s", e.Path, e.Original, e.Artifact)
}

// IsIntegrity reports whether err is a hash mismatch.
func IsIntegrity(err error) bool {
	var hm *HashMismatchError
	return errors.As(err, &hm)
}

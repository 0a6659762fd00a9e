// Package pipeline compresses one file, verifies the artifact against the
// original and removes the original only on a digest match.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
)

// Reporter receives job diagnostics.
type Reporter interface {
	Log(ctx context.Context, msg string)
	Progress(ctx context.Context, update string)
}

// Compressor turns path into path+suffix.
type Compressor interface {
	Compress(ctx context.Context, path string, rep Reporter) error
}

// Verifier digests the decompressed artifact and the original.
type Verifier interface {
	Verify(ctx context.Context, original, artifact string, rep Reporter) (Digests, error)
}

// Digests holds the two hex digests compared before finalize.
type Digests struct {
	Original string
	Artifact string
}

// Outcome is the non-error result of a run.
type Outcome int

const (
	// Completed means the artifact was verified and the original removed.
	Completed Outcome = iota
	// AlreadyDone means the original was gone and the artifact present.
	AlreadyDone
)

func (o Outcome) String() string {
	switch o {
	case Completed:
		return "completed"
	case AlreadyDone:
		return "already_done"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Pipeline wires a compressor and verifier together.
type Pipeline struct {
	Compressor Compressor
	Verifier   Verifier
	Suffix     string
}

// ArtifactPath is the derived output path for original.
func (p *Pipeline) ArtifactPath(original string) string { return original + p.Suffix }

// Done reports whether path is already compressed and removed.
func (p *Pipeline) Done(path string) (bool, error) {
	origExists, err := exists(path)
	if err != nil {
		return false, err
	}
	if origExists {
		return false, nil
	}
	artExists, err := exists(p.ArtifactPath(path))
	if err != nil {
		return false, err
	}
	if !artExists {
		return false, ErrSourceMissing
	}
	return true, nil
}

// Run executes precondition, compress, verify and finalize in order.
// owned is consulted before finalize; when it reports false the original is
// kept and ErrLeaseLost is returned.
func (p *Pipeline) Run(ctx context.Context, path string, rep Reporter, owned func() bool) (Outcome, error) {
	done, err := p.Done(path)
	if err != nil {
		return 0, err
	}
	if done {
		rep.Log(ctx, "Already processed and removed")
		return AlreadyDone, nil
	}

	artifact := p.ArtifactPath(path)
	if err := p.Compressor.Compress(ctx, path, rep); err != nil {
		return 0, err
	}
	if ok, err := exists(artifact); err != nil {
		return 0, err
	} else if !ok {
		return 0, fmt.Errorf("%s: %w", artifact, ErrArtifactMissing)
	}
	if owned != nil && !owned() {
		return 0, ErrLeaseLost
	}

	rep.Log(ctx, "Decompressing")
	d, err := p.Verifier.Verify(ctx, path, artifact, rep)
	if err != nil {
		return 0, err
	}
	if d.Original != d.Artifact {
		rep.Log(ctx, fmt.Sprintf("Hashes do not match: %s != %s", d.Original, d.Artifact))
		return 0, &HashMismatchError{Path: path, Original: d.Original, Artifact: d.Artifact}
	}

	if owned != nil && !owned() {
		return 0, ErrLeaseLost
	}
	rep.Log(ctx, "Hashes match, deleting")
	if err := os.Remove(path); err != nil {
		return 0, fmt.Errorf("remove original: %w", err)
	}
	return Completed, nil
}

func exists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("stat %s: %w", path, err)
}

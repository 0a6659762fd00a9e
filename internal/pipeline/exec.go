package pipeline

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
)

// ExecCompressor runs an external compressor as `Bin Args... <path>`.
// The process is never killed once started; ctx only gates the launch.
type ExecCompressor struct {
	Bin  string
	Args []string
}

// Compress streams the compressor's stderr while it runs. The first
// non-empty line is logged as a summary and the rest become progress.
func (c *ExecCompressor) Compress(ctx context.Context, path string, rep Reporter) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	args := append(append([]string{c.Bin}, c.Args...), path)
	cmd := exec.Command(args[0], args[1:]...)
	cmd.Stdout = io.Discard
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return &CommandError{Args: args, Code: -1, Err: err}
	}
	if err := cmd.Start(); err != nil {
		return &CommandError{Args: args, Code: -1, Err: err}
	}

	scanner := bufio.NewScanner(stderr)
	scanner.Split(scanTerminalLines)
	first := true
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if first {
			rep.Log(ctx, line)
			first = false
			continue
		}
		rep.Progress(ctx, line)
	}
	// Drain whatever the scanner refused (overlong line) so the child never blocks on a full pipe.
	_, _ = io.Copy(io.Discard, stderr)

	return waitChecked(ctx, cmd, args, rep)
}

// ExecVerifier decompresses through a pipe into an external digest tool and
// digests the original with the same tool.
type ExecVerifier struct {
	DecompressBin  string
	DecompressArgs []string
	HashBin        string
}

func (v *ExecVerifier) Verify(ctx context.Context, original, artifact string, rep Reporter) (Digests, error) {
	if err := ctx.Err(); err != nil {
		return Digests{}, err
	}
	decArgs := append(append([]string{v.DecompressBin}, v.DecompressArgs...), artifact)
	pipeHashArgs := []string{v.HashBin}
	origHashArgs := []string{v.HashBin, original}

	r, w, err := os.Pipe()
	if err != nil {
		return Digests{}, fmt.Errorf("create pipe: %w", err)
	}
	dec := exec.Command(decArgs[0], decArgs[1:]...)
	dec.Stdout = w
	dec.Stderr = io.Discard

	var pipedOut, origOut bytes.Buffer
	pipedHash := exec.Command(pipeHashArgs[0])
	pipedHash.Stdin = r
	pipedHash.Stdout = &pipedOut

	origHash := exec.Command(origHashArgs[0], origHashArgs[1:]...)
	origHash.Stdout = &origOut

	if err := dec.Start(); err != nil {
		_ = r.Close()
		_ = w.Close()
		return Digests{}, &CommandError{Args: decArgs, Code: -1, Err: err}
	}
	_ = w.Close()
	if err := pipedHash.Start(); err != nil {
		_ = r.Close()
		_ = dec.Wait()
		return Digests{}, &CommandError{Args: pipeHashArgs, Code: -1, Err: err}
	}
	_ = r.Close()
	origErr := origHash.Start()

	// Every started process is waited for; the first failure wins.
	errs := []error{
		waitChecked(ctx, dec, decArgs, rep),
		waitChecked(ctx, pipedHash, pipeHashArgs, rep),
	}
	if origErr != nil {
		errs = append(errs, &CommandError{Args: origHashArgs, Code: -1, Err: origErr})
	} else {
		errs = append(errs, waitChecked(ctx, origHash, origHashArgs, rep))
	}
	for _, err := range errs {
		if err != nil {
			return Digests{}, err
		}
	}

	d := Digests{Original: firstField(origOut.String()), Artifact: firstField(pipedOut.String())}
	if d.Original == "" || d.Artifact == "" {
		return Digests{}, &VerifyError{Path: original, Err: errors.New("digest tool printed no digest")}
	}
	return d, nil
}

// waitChecked waits for cmd and turns a non-zero exit into a CommandError.
func waitChecked(ctx context.Context, cmd *exec.Cmd, args []string, rep Reporter) error {
	err := cmd.Wait()
	code := 0
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return &CommandError{Args: args, Code: -1, Err: err}
		}
		code = exitErr.ExitCode()
	}
	rep.Log(ctx, fmt.Sprintf("%s returned code %d", strings.Join(args, " "), code))
	if code != 0 {
		return &CommandError{Args: args, Code: code, Err: err}
	}
	return nil
}

func firstField(s string) string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

// scanTerminalLines splits on \n or \r so in-place progress redraws
// become separate lines.
func scanTerminalLines(data []byte, atEOF bool) (int, []byte, error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

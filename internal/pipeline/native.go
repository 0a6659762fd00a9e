package pipeline

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"

	"github.com/klauspost/compress/zstd"
	"github.com/zeebo/blake3"
	"golang.org/x/sync/errgroup"
)

// NativeVerifier decodes zstd artifacts in-process, streaming the
// decompressed bytes straight into the digest.
type NativeVerifier struct {
	// Algo is "sha1" (matches sha1sum output) or "blake3".
	Algo string
}

func (v *NativeVerifier) newHash() (hash.Hash, error) {
	switch v.Algo {
	case "", "sha1":
		return sha1.New(), nil
	case "blake3":
		return blake3.New(), nil
	default:
		return nil, fmt.Errorf("unknown digest %q", v.Algo)
	}
}

func (v *NativeVerifier) Verify(ctx context.Context, original, artifact string, rep Reporter) (Digests, error) {
	var d Digests
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		sum, err := v.digestFile(gctx, artifact, true)
		d.Artifact = sum
		return err
	})
	g.Go(func() error {
		sum, err := v.digestFile(gctx, original, false)
		d.Original = sum
		return err
	})
	if err := g.Wait(); err != nil {
		return Digests{}, err
	}
	rep.Log(ctx, fmt.Sprintf("%s digests computed in-process", v.algoName()))
	return d, nil
}

func (v *NativeVerifier) algoName() string {
	if v.Algo == "" {
		return "sha1"
	}
	return v.Algo
}

func (v *NativeVerifier) digestFile(ctx context.Context, path string, decompress bool) (string, error) {
	h, err := v.newHash()
	if err != nil {
		return "", err
	}
	f, err := os.Open(path)
	if err != nil {
		return "", &VerifyError{Path: path, Err: err}
	}
	defer func() { _ = f.Close() }()

	var src io.Reader = f
	if decompress {
		dec, err := zstd.NewReader(f)
		if err != nil {
			return "", &VerifyError{Path: path, Err: err}
		}
		defer dec.Close()
		src = dec
	}
	if _, err := io.Copy(h, ctxReader{ctx: ctx, r: src}); err != nil {
		return "", &VerifyError{Path: path, Err: err}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// ctxReader stops a long copy once the sibling digest has failed.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

package pipeline

import "distributed-compressor/internal/config"

// New builds the pipeline described by cfg.
func New(cfg config.Config) *Pipeline {
	p := &Pipeline{
		Compressor: &ExecCompressor{Bin: cfg.CompressorBin, Args: cfg.CompressorArgs},
		Suffix:     cfg.ArtifactSuffix,
	}
	if cfg.VerifyMode == "native" {
		p.Verifier = &NativeVerifier{Algo: cfg.HashAlgo}
	} else {
		p.Verifier = &ExecVerifier{
			DecompressBin:  cfg.CompressorBin,
			DecompressArgs: cfg.DecompressorArgs,
			HashBin:        cfg.HashBin,
		}
	}
	return p
}

package stages

import (
	"github.com/surfacectl/scanhub/internal/config"
	"github.com/surfacectl/scanhub/internal/runner"
	"github.com/surfacectl/scanhub/internal/sink"
	"github.com/surfacectl/scanhub/internal/stage"
)

// BuildAll constructs every stage with its shared dependencies, registers
// each in the package registry, and returns them in spec.md §4.I's
// canonical order. Called by lifecycle.NewLocalInvoker.
func BuildAll(sk *sink.Sink, rnr runner.Runner, cfg *config.ScanConfig, gate stage.Gate, wordlistDir string, manifest config.WordlistManifest) []stage.Stage {
	d := deps{Gate: gate, Runner: rnr, Config: cfg}

	all := []stage.Stage{
		NewSubdomainDiscoveryStage(sk, d, wordlistDir, manifest),
		NewPortScanStage(sk, d),
		NewSiteScanStage(sk, d),
		NewURLFetchStage(sk, d),
		NewDirectoryScanStage(sk, d, wordlistDir, manifest),
		NewFingerprintDetectStage(sk, d),
		NewScreenshotStage(d),
		NewVulnScanStage(sk, d),
	}
	for _, st := range all {
		Register(st)
	}
	return all
}

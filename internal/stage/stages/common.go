package stages

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/surfacectl/scanhub/internal/config"
	"github.com/surfacectl/scanhub/internal/export"
	"github.com/surfacectl/scanhub/internal/parser"
	"github.com/surfacectl/scanhub/internal/runner"
	"github.com/surfacectl/scanhub/internal/stage"
	"github.com/surfacectl/scanhub/internal/writer"
)

// deps carries everything a concrete stage needs that isn't already on
// stage.Run — the pieces wired once by the orchestrator and shared across
// every stage in a scan.
type deps struct {
	Gate   stage.Gate
	Runner runner.Runner
	Config *config.ScanConfig
}

func (d deps) gate() stage.Gate {
	if d.Gate == nil {
		return stage.NoOpGate{}
	}
	return d.Gate
}

func (d deps) runner() runner.Runner {
	if d.Runner == nil {
		return runner.Tool{}
	}
	return d.Runner
}

// exportInput runs the Export Task for one stage and reports whether the
// stage should be skipped for lack of input, per spec.md §4.H steps 4-5.
func exportInput(ctx context.Context, run *stage.Run, name string, sources []export.Source) (path string, skip bool, err error) {
	dir := run.StageDir(name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", false, fmt.Errorf("stages: %s: creating stage dir: %w", name, err)
	}
	outPath := filepath.Join(dir, "input.txt")

	res, err := export.Export(ctx, run.Provider, sources, outPath)
	if err != nil {
		if err == export.ErrNoSourceProduced {
			return "", true, nil
		}
		return "", false, err
	}
	run.SetOutput(name+"_input_count", res.Count)

	// Best-effort: operator context only, never fails the stage (reconpipe's
	// own report writers only warn on failure too).
	summaryPath := filepath.Join(dir, "input_summary.md")
	_ = export.WriteSummary(summaryPath, name, res, run.TargetName)

	return outPath, false, nil
}

// writeLinesToFile writes values one per line, for stages (port_scan,
// directory_scan) that build their own tool input file instead of using
// the Export Task.
func writeLinesToFile(path string, values []string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	w := bufio.NewWriter(f)
	for _, v := range values {
		if _, err := w.WriteString(v); err != nil {
			return err
		}
		if err := w.WriteByte('\n'); err != nil {
			return err
		}
	}
	return w.Flush()
}

// readLines reads every non-empty line back out of an export file.
func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []string
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		if line := sc.Text(); line != "" {
			out = append(out, line)
		}
	}
	return out, sc.Err()
}

// toolRun is the per-tool result a stage aggregates into its final Result.
type toolRun struct {
	Tool     string
	Produced int
	Err      error
}

// runToolAndWrite spawns one tool invocation, parses each line with parse,
// and submits parsed records to w — the "invoke, stream-parse, batched
// write" core of spec.md §4.H steps 6-7, shared by every stage.
func runToolAndWrite[T any](ctx context.Context, rnr runner.Runner, command string, args []string, opts runner.Options, parse func(string) (T, bool), w *writer.Writer[T]) toolRun {
	lines, errs := rnr.Run(ctx, command, args, opts)

	produced := 0
	for line := range lines {
		rec, ok := parse(line)
		if !ok {
			continue
		}
		if err := w.Submit(ctx, rec); err != nil {
			return toolRun{Tool: command, Produced: produced, Err: err}
		}
		produced++
	}
	if err := <-errs; err != nil {
		return toolRun{Tool: command, Produced: produced, Err: err}
	}
	return toolRun{Tool: command, Produced: produced}
}

// parserContextFrom builds the per-line parser.Context every parser needs
// from the run's identifiers.
func parserContextFrom(run *stage.Run) parser.Context {
	return parser.Context{
		TargetID:   run.TargetID,
		ScanID:     run.ScanID,
		TargetName: run.TargetName,
	}
}

// aggregateStatus folds per-tool results into the stage status: completed
// if at least one tool produced rows and none errored, partial if some
// produced rows and some errored, failed if every tool errored with nothing
// produced, otherwise partial. An empty run list counts as completed.
func aggregateStatus(runs []toolRun) (stage.Status, string) {
	var produced, failed int
	for _, r := range runs {
		if r.Produced > 0 {
			produced++
		}
		if r.Err != nil {
			failed++
		}
	}
	switch {
	case produced > 0 && failed == 0:
		return stage.StatusCompleted, "all tools produced output"
	case produced > 0 && failed > 0:
		return stage.StatusPartial, "some tools failed"
	case len(runs) > 0 && failed == len(runs):
		return stage.StatusFailed, "every tool failed"
	case len(runs) == 0:
		return stage.StatusCompleted, "no tools configured"
	default:
		return stage.StatusPartial, "no tool produced output"
	}
}

// statsFrom builds the Result.Stats map the orchestrator persists into the
// scan's stage_progress JSON column.
func statsFrom(runs []toolRun, outcome writer.Outcome) map[string]interface{} {
	perTool := make(map[string]interface{}, len(runs))
	for _, r := range runs {
		entry := map[string]interface{}{"produced": r.Produced}
		if r.Err != nil {
			entry["error"] = r.Err.Error()
		}
		perTool[r.Tool] = entry
	}
	return map[string]interface{}{
		"tools":          perTool,
		"accepted":       outcome.Accepted,
		"data_errors":    outcome.DataErrors,
		"failed_batches": outcome.FailedBatches,
	}
}

// enabledTools returns the ordered tool-name -> options map for a stage,
// or nil if the stage is disabled in the merged configuration.
func enabledTools(cfg *config.ScanConfig, stageName string) map[string]config.ToolOptions {
	if cfg == nil {
		return nil
	}
	sc := cfg.Enabled(stageName)
	if !sc.Enabled {
		return nil
	}
	return sc.Tools
}

// renderArgs renders opts.ArgsTemplate if set, otherwise defaultTemplate,
// against data — spec.md §4.H step 6's "build a command string from a
// per-tool template".
func renderArgs(defaultTemplate string, opts config.ToolOptions, data interface{}) ([]string, error) {
	tmpl := opts.ArgsTemplate
	if tmpl == "" {
		tmpl = defaultTemplate
	}
	return runner.Template(tmpl, data)
}

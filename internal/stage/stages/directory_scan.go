package stages

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/surfacectl/scanhub/internal/config"
	"github.com/surfacectl/scanhub/internal/export"
	"github.com/surfacectl/scanhub/internal/parser"
	"github.com/surfacectl/scanhub/internal/runner"
	"github.com/surfacectl/scanhub/internal/sink"
	"github.com/surfacectl/scanhub/internal/stage"
	"github.com/surfacectl/scanhub/internal/writer"
)

const stageDirectoryScan = "directory_scan"

const defaultMaxWorkers = 5

const ffufArgsTemplate = "-u {{.URL}}/FUZZ -w {{.Wordlist}} -json-stream -of json"

// DirectoryScanStage is an N-way concurrent fan-out over site URLs: a
// worker pool of size max_workers runs the bruteforce tool per URL, each
// URL's output streamed into the Directory writer. Progress milestones are
// emitted every 20%, per spec.md §4.H. Grounded on optimized_executor.go's
// worker-pool shape, narrowed to a bounded errgroup.Group.
type DirectoryScanStage struct {
	sink        *sink.Sink
	deps        deps
	wordlistDir string
	manifest    config.WordlistManifest
}

func NewDirectoryScanStage(sk *sink.Sink, d deps, wordlistDir string, manifest config.WordlistManifest) *DirectoryScanStage {
	return &DirectoryScanStage{sink: sk, deps: d, wordlistDir: wordlistDir, manifest: manifest}
}

func (s *DirectoryScanStage) Name() string { return stageDirectoryScan }

func (s *DirectoryScanStage) Execute(ctx context.Context, run *stage.Run) (*stage.Result, error) {
	if err := s.deps.gate().Wait(ctx); err != nil {
		return nil, err
	}
	if _, ok := run.Provider.TargetName(ctx); !ok {
		return nil, fmt.Errorf("%s: target name unavailable", stageDirectoryScan)
	}

	inputPath, skip, err := exportInput(ctx, run, stageDirectoryScan, []export.Source{export.SourceWebsites})
	if err != nil {
		return nil, err
	}
	if skip {
		return &stage.Result{Status: stage.StatusSkipped, Message: "no input"}, nil
	}

	tools := enabledTools(s.deps.Config, stageDirectoryScan)
	if len(tools) == 0 {
		return &stage.Result{Status: stage.StatusSkipped, Message: "stage disabled"}, nil
	}

	urls, err := readLines(inputPath)
	if err != nil {
		return nil, fmt.Errorf("%s: reading input: %w", stageDirectoryScan, err)
	}
	if len(urls) == 0 {
		return &stage.Result{Status: stage.StatusSkipped, Message: "no input"}, nil
	}

	dir := run.StageDir(stageDirectoryScan)
	w := writer.New(s.sink.Directories(), writer.DefaultBatchSize, writer.DefaultMaxAttempts)
	pctx := parserContextFrom(run)

	var runs []toolRun
	var mu sync.Mutex
	for name, opts := range tools {
		wordlistPath, err := config.ResolveWordlist(s.wordlistDir, opts.WordlistName, s.manifest)
		if err != nil {
			mu.Lock()
			runs = append(runs, toolRun{Tool: name, Err: err})
			mu.Unlock()
			continue
		}
		wordlistLines, err := countLines(wordlistPath)
		if err != nil {
			mu.Lock()
			runs = append(runs, toolRun{Tool: name, Err: err})
			mu.Unlock()
			continue
		}
		if !runner.CheckAvailable(name) {
			mu.Lock()
			runs = append(runs, toolRun{Tool: name, Err: fmt.Errorf("%s: not found on PATH", name)})
			mu.Unlock()
			continue
		}

		maxWorkers := opts.MaxWorkers
		if maxWorkers <= 0 {
			maxWorkers = defaultMaxWorkers
		}
		timeout := opts.FixedTimeout()
		if timeout == 0 {
			timeout = autoLineScaledTimeout(wordlistLines, time.Second, 60*time.Second)
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(maxWorkers)

		var completed int64
		total := int64(len(urls))

		var toolErrs []error
		var toolProduced int64
		var milestone int64
		var runMu sync.Mutex

		for _, url := range urls {
			url := url
			g.Go(func() error {
				tr := s.runOne(gctx, name, opts, url, timeout, wordlistPath, dir, pctx, w)
				done := atomic.AddInt64(&completed, 1)
				pct := done * 100 / total

				runMu.Lock()
				if tr.Err != nil {
					toolErrs = append(toolErrs, tr.Err)
				}
				toolProduced += int64(tr.Produced)
				crossedMilestone := pct/20 > milestone/20
				if crossedMilestone {
					milestone = pct
				}
				runMu.Unlock()

				if crossedMilestone {
					run.Observer.OnComplete(stageDirectoryScan, map[string]interface{}{"percent": pct})
				}
				return nil
			})
		}
		_ = g.Wait()

		var combinedErr error
		if len(toolErrs) > 0 && toolProduced == 0 {
			combinedErr = fmt.Errorf("%s: all %d URLs failed: %w", name, len(toolErrs), toolErrs[0])
		}
		mu.Lock()
		runs = append(runs, toolRun{Tool: name, Produced: int(toolProduced), Err: combinedErr})
		mu.Unlock()
	}

	if err := w.Close(ctx); err != nil {
		return nil, fmt.Errorf("%s: closing writer: %w", stageDirectoryScan, err)
	}

	status, msg := aggregateStatus(runs)
	return &stage.Result{Status: status, Message: msg, Stats: statsFrom(runs, w.Outcome())}, nil
}

func (s *DirectoryScanStage) runOne(ctx context.Context, name string, opts config.ToolOptions, url string, timeout time.Duration, wordlistPath, dir string, pctx parser.Context, w *writer.Writer[sink.DirectoryRecord]) toolRun {
	args, err := renderArgs(ffufArgsTemplate, opts, struct {
		URL      string
		Wordlist string
	}{url, wordlistPath})
	if err != nil {
		return toolRun{Tool: name, Err: err}
	}
	logName := sanitizeFilename(url) + ".log"
	return runToolAndWrite(ctx, s.deps.runner(), name, args, runner.Options{
		Timeout: timeout,
		LogPath: filepath.Join(dir, logName),
	}, func(line string) (sink.DirectoryRecord, bool) {
		return parser.ParseFFUFLine(pctx, line)
	}, w)
}

func sanitizeFilename(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '/' || c == ':' || c == '?' || c == '&' {
			out = append(out, '_')
			continue
		}
		out = append(out, c)
	}
	if len(out) > 100 {
		out = out[:100]
	}
	return string(out)
}

func countLines(path string) (int, error) {
	lines, err := readLines(path)
	if err != nil {
		return 0, err
	}
	return len(lines), nil
}

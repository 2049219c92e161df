package stages

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/surfacectl/scanhub/internal/config"
	"github.com/surfacectl/scanhub/internal/export"
	"github.com/surfacectl/scanhub/internal/parser"
	"github.com/surfacectl/scanhub/internal/runner"
	"github.com/surfacectl/scanhub/internal/sink"
	"github.com/surfacectl/scanhub/internal/stage"
	"github.com/surfacectl/scanhub/internal/store"
	"github.com/surfacectl/scanhub/internal/writer"
)

const stageURLFetch = "url_fetch"

const (
	passiveURLArgsTemplate = "-d {{.Domain}}"
	crawlerArgsTemplate    = "-list {{.InputFile}} -jc -silent"
)

// sensitivePatterns tags URLs whose path looks operator-interesting, per
// the Endpoint type's "matched sensitive-URL-pattern tags" (spec.md §3).
var sensitivePatterns = map[string]*regexp.Regexp{
	"admin":      regexp.MustCompile(`(?i)/admin`),
	"api":        regexp.MustCompile(`(?i)/api/`),
	"backup":     regexp.MustCompile(`(?i)\.(bak|backup|old|sql|zip|tar|gz)$`),
	"config":     regexp.MustCompile(`(?i)/(config|\.env|\.git)`),
	"credential": regexp.MustCompile(`(?i)(token|apikey|api_key|secret|password)=`),
}

// passiveToolNames identifies domain-level passive collectors (sub-flow a);
// every other configured tool is treated as a crawler over the sites file
// (sub-flow b), per spec.md §4.H.
var passiveToolNames = map[string]bool{"gau": true, "waybackurls": true}

// URLFetchStage has two sub-flows: domain-level passive collectors invoked
// once per root domain, and crawlers invoked over the website-URL export.
// Passive is skipped for IP/CIDR targets.
type URLFetchStage struct {
	sink *sink.Sink
	deps deps
}

func NewURLFetchStage(sk *sink.Sink, d deps) *URLFetchStage {
	return &URLFetchStage{sink: sk, deps: d}
}

func (s *URLFetchStage) Name() string { return stageURLFetch }

func (s *URLFetchStage) Execute(ctx context.Context, run *stage.Run) (*stage.Result, error) {
	if err := s.deps.gate().Wait(ctx); err != nil {
		return nil, err
	}
	domain, ok := run.Provider.TargetName(ctx)
	if !ok {
		return nil, fmt.Errorf("%s: target name unavailable", stageURLFetch)
	}

	tools := enabledTools(s.deps.Config, stageURLFetch)
	if len(tools) == 0 {
		return &stage.Result{Status: stage.StatusSkipped, Message: "stage disabled"}, nil
	}

	dir := run.StageDir(stageURLFetch)
	w := writer.New(s.sink.Endpoints(), writer.DefaultBatchSize, writer.DefaultMaxAttempts)
	pctx := parserContextFrom(run)
	parse := endpointParser(pctx)

	isDomain := store.TargetType(run.TargetKind) == store.TargetDomain
	sitesPath, skipCrawl, err := exportInput(ctx, run, stageURLFetch, []export.Source{export.SourceWebsites})
	if err != nil {
		return nil, err
	}

	var runs []toolRun
	for name, opts := range tools {
		if passiveToolNames[name] {
			if !isDomain {
				continue // sub-flow (a) is skipped for IP/CIDR targets
			}
			runs = append(runs, s.runPassive(ctx, name, opts, domain, dir, parse, w))
			continue
		}
		if skipCrawl {
			continue
		}
		runs = append(runs, s.runCrawler(ctx, name, opts, sitesPath, dir, parse, w))
	}

	if err := w.Close(ctx); err != nil {
		return nil, fmt.Errorf("%s: closing writer: %w", stageURLFetch, err)
	}
	if len(runs) == 0 {
		return &stage.Result{Status: stage.StatusSkipped, Message: "no input"}, nil
	}

	status, msg := aggregateStatus(runs)
	return &stage.Result{Status: status, Message: msg, Stats: statsFrom(runs, w.Outcome())}, nil
}

func (s *URLFetchStage) runPassive(ctx context.Context, name string, opts config.ToolOptions, domain, dir string, parse func(string) (sink.EndpointRecord, bool), w *writer.Writer[sink.EndpointRecord]) toolRun {
	if !runner.CheckAvailable(name) {
		return toolRun{Tool: name, Err: fmt.Errorf("%s: not found on PATH", name)}
	}
	args, err := renderArgs(passiveURLArgsTemplate, opts, struct{ Domain string }{domain})
	if err != nil {
		return toolRun{Tool: name, Err: err}
	}
	timeout := opts.FixedTimeout()
	if timeout == 0 {
		timeout = 5 * time.Minute
	}
	return runToolAndWrite(ctx, s.deps.runner(), name, args, runner.Options{
		Timeout: timeout,
		LogPath: filepath.Join(dir, name+".log"),
	}, parse, w)
}

func (s *URLFetchStage) runCrawler(ctx context.Context, name string, opts config.ToolOptions, sitesPath, dir string, parse func(string) (sink.EndpointRecord, bool), w *writer.Writer[sink.EndpointRecord]) toolRun {
	if !runner.CheckAvailable(name) {
		return toolRun{Tool: name, Err: fmt.Errorf("%s: not found on PATH", name)}
	}
	args, err := renderArgs(crawlerArgsTemplate, opts, struct{ InputFile string }{sitesPath})
	if err != nil {
		return toolRun{Tool: name, Err: err}
	}
	timeout := opts.FixedTimeout()
	if timeout == 0 {
		timeout = 5 * time.Minute
	}
	return runToolAndWrite(ctx, s.deps.runner(), name, args, runner.Options{
		Timeout: timeout,
		LogPath: filepath.Join(dir, name+".log"),
	}, parse, w)
}

// endpointParser builds a parser that accepts a bare URL per line, tagging
// it with every sensitive pattern its path matches.
func endpointParser(pctx parser.Context) func(string) (sink.EndpointRecord, bool) {
	return func(line string) (sink.EndpointRecord, bool) {
		url := strings.TrimSpace(parser.Sanitize(line))
		if url == "" || strings.ContainsAny(url, " \t") {
			return sink.EndpointRecord{}, false
		}
		var matched []string
		for tag, re := range sensitivePatterns {
			if re.MatchString(url) {
				matched = append(matched, tag)
			}
		}
		return sink.EndpointRecord{
			SiteRecord: sink.SiteRecord{
				TargetID: pctx.TargetID,
				ScanID:   pctx.ScanID,
				URL:      url,
			},
			MatchedPatterns: matched,
		}, true
	}
}

package runner

import (
	"context"
	"errors"
)

// FakeRunner is a scripted Runner for stage tests, grounded on
// pkg/common/runner/command.go's FakeCommandRunner.
type FakeRunner struct {
	Lines   []string
	ErrStr  string
	Timeout bool
}

var _ Runner = (*FakeRunner)(nil)

func (f *FakeRunner) Run(ctx context.Context, command string, args []string, opts Options) (<-chan string, <-chan error) {
	lines := make(chan string, len(f.Lines))
	errs := make(chan error, 1)
	for _, l := range f.Lines {
		lines <- l
	}
	close(lines)
	switch {
	case f.Timeout:
		errs <- ErrTimeout
	case f.ErrStr != "":
		errs <- errors.New(f.ErrStr)
	default:
		errs <- nil
	}
	close(errs)
	return lines, errs
}

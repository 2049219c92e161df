package runner

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func drain(t *testing.T, lines <-chan string, errs <-chan error) ([]string, error) {
	t.Helper()
	var got []string
	for l := range lines {
		got = append(got, l)
	}
	return got, <-errs
}

func TestRunStreamsLines(t *testing.T) {
	r := Tool{}
	lines, errs := r.Run(context.Background(), "printf", []string{"a\\nb\\nc\\n"}, Options{})
	got, err := drain(t, lines, errs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("line %d: got %q want %q", i, got[i], want[i])
		}
	}
}

func TestRunCommandFailed(t *testing.T) {
	r := Tool{}
	lines, errs := r.Run(context.Background(), "sh", []string{"-c", "echo oops 1>&2; exit 3"}, Options{})
	_, err := drain(t, lines, errs)
	if err == nil {
		t.Fatal("expected a command-failed error")
	}
	var cfe *CommandFailedError
	if !errors.As(err, &cfe) {
		t.Fatalf("expected *CommandFailedError, got %T: %v", err, err)
	}
	if cfe.StderrTail == "" {
		t.Fatal("expected non-empty stderr tail")
	}
}

func TestRunTimeoutKeepsPartialLines(t *testing.T) {
	r := Tool{}
	lines, errs := r.Run(context.Background(), "sh", []string{"-c", "echo first; sleep 5; echo second"}, Options{
		Timeout: 200 * time.Millisecond,
	})
	got, err := drain(t, lines, errs)
	if err != ErrTimeout {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if len(got) != 1 || got[0] != "first" {
		t.Fatalf("expected partial results [first], got %v", got)
	}
}

func TestRunTeesToLogFile(t *testing.T) {
	r := Tool{}
	logPath := filepath.Join(t.TempDir(), "tool.log")
	lines, errs := r.Run(context.Background(), "printf", []string{"hello\\n"}, Options{LogPath: logPath})
	if _, err := drain(t, lines, errs); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("log file not written: %v", err)
	}
	if string(content) != "hello\n" {
		t.Fatalf("log file content = %q, want %q", content, "hello\n")
	}
}

func TestSanitizeLineStripsControlBytes(t *testing.T) {
	in := "foo\x00bar\x01baz"
	got := sanitizeLine(in)
	if got != "foobarbaz" {
		t.Fatalf("sanitizeLine(%q) = %q", in, got)
	}
}

func TestFakeRunner(t *testing.T) {
	f := &FakeRunner{Lines: []string{"x", "y"}}
	lines, errs := f.Run(context.Background(), "ignored", nil, Options{})
	got, err := drain(t, lines, errs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 || got[0] != "x" || got[1] != "y" {
		t.Fatalf("got %v", got)
	}
}

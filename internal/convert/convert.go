package convert

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"tilepipe/internal/logging"
	"tilepipe/internal/services"
	"tilepipe/internal/textutil"
)

// stderrTailLines caps the stderr kept for error reports.
const stderrTailLines = 40

// Converter turns one input dataset into one output artifact.
type Converter interface {
	Convert(ctx context.Context, inputPath, outputPath, layerName string) error
	// Binary names the external tool, for dependency checks and logs.
	Binary() string
}

// ConversionError reports a converter that exited unsuccessfully.
type ConversionError struct {
	Tool     string
	ExitCode int
	Stderr   string
}

func (e *ConversionError) Error() string {
	msg := fmt.Sprintf("%s exited with code %d", e.Tool, e.ExitCode)
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	return msg
}

func (e *ConversionError) Unwrap() error { return services.ErrConversion }

// Option configures a converter.
type Option func(*tool)

// WithExecutor injects a custom executor (primarily for tests).
func WithExecutor(exec Executor) Option {
	return func(t *tool) {
		if exec != nil {
			t.exec = exec
		}
	}
}

// WithLogger receives the tool's stdout at debug level.
func WithLogger(logger *slog.Logger) Option {
	return func(t *tool) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// WithTimeout bounds each invocation. Zero disables the bound.
func WithTimeout(d time.Duration) Option {
	return func(t *tool) { t.timeout = d }
}

// tool holds what every external converter shares.
type tool struct {
	binary  string
	timeout time.Duration
	exec    Executor
	logger  *slog.Logger
}

func newTool(binary string, opts []Option) (tool, error) {
	binary = strings.TrimSpace(binary)
	if binary == "" {
		return tool{}, services.Wrap(services.ErrConfiguration, "", "converter", "binary required", nil)
	}
	t := tool{binary: binary, exec: commandExecutor{}, logger: logging.NewNop()}
	for _, opt := range opts {
		opt(&t)
	}
	return t, nil
}

func (t tool) Binary() string { return t.binary }

// run invokes the tool and verifies it produced outputPath.
func (t tool) run(ctx context.Context, args []string, outputPath string) error {
	runCtx := ctx
	if t.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	name := filepath.Base(t.binary)
	tail := newLineTail(stderrTailLines)
	err := t.exec.Run(runCtx, t.binary, args, Output{
		Stdout: func(line string) {
			t.logger.Debug("converter output", logging.String("tool", name), logging.String("line", line))
		},
		Stderr: tail.add,
	})
	if err != nil {
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return services.Wrap(services.ErrTimeout, "", "run "+name, fmt.Sprintf("killed after %s", t.timeout), err)
		}
		var coded interface{ ExitCode() int }
		if errors.As(err, &coded) && coded.ExitCode() > 0 {
			return &ConversionError{Tool: name, ExitCode: coded.ExitCode(), Stderr: tail.String()}
		}
		return services.Wrap(services.ErrConversion, "", "run "+name, tail.String(), err)
	}

	info, err := os.Stat(outputPath)
	if err != nil {
		return services.Wrap(services.ErrConversion, "", "verify output", fmt.Sprintf("%s produced no output", filepath.Base(t.binary)), err)
	}
	if !info.IsDir() && info.Size() == 0 {
		return services.Wrap(services.ErrConversion, "", "verify output", fmt.Sprintf("%s produced an empty file", filepath.Base(t.binary)), nil)
	}
	return nil
}

// layerToken normalizes a display name for tool arguments, falling back to
// the output file's base name.
func layerToken(layerName, outputPath string) string {
	fallback := strings.TrimSuffix(filepath.Base(outputPath), filepath.Ext(outputPath))
	return textutil.LayerName(layerName, fallback)
}

// lineTail keeps the last n lines written to it.
type lineTail struct {
	mu    sync.Mutex
	n     int
	lines []string
}

func newLineTail(n int) *lineTail {
	return &lineTail{n: n}
}

func (l *lineTail) add(line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = append(l.lines, line)
	if len(l.lines) > l.n {
		l.lines = l.lines[len(l.lines)-l.n:]
	}
}

func (l *lineTail) String() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return strings.Join(l.lines, "\n")
}

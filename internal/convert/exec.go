package convert

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// waitDelay bounds how long Wait blocks on inherited pipes after the
// process group has been killed.
const waitDelay = 5 * time.Second

// Output receives the lines a command writes. Either callback may be nil.
type Output struct {
	Stdout func(string)
	Stderr func(string)
}

// Executor abstracts command execution for testability.
type Executor interface {
	// Run executes binary, forwarding stdout and stderr lines to out. A
	// non-zero exit returns an error implementing ExitCode() int.
	Run(ctx context.Context, binary string, args []string, out Output) error
}

type commandExecutor struct{}

// Run starts the command in its own process group so cancellation kills the
// converter and any helpers it forked.
func (commandExecutor) Run(ctx context.Context, binary string, args []string, out Output) error {
	cmd := exec.CommandContext(ctx, binary, args...) //nolint:gosec
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return unix.Kill(-cmd.Process.Pid, unix.SIGKILL)
	}
	cmd.WaitDelay = waitDelay

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start command: %w", err)
	}

	var wg sync.WaitGroup
	scan := func(r io.Reader, forward func(string)) {
		defer wg.Done()
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			if forward != nil {
				forward(scanner.Text())
			}
		}
		_, _ = io.Copy(io.Discard, r)
	}
	wg.Add(2)
	go scan(stdout, out.Stdout)
	go scan(stderr, out.Stderr)
	wg.Wait()

	return cmd.Wait()
}

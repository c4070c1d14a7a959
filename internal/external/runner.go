package external

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/NamanBalaji/hlsdl/internal/logger"
)

// Runner starts an external program and waits for it.
type Runner interface {
	Run(ctx context.Context, name string, args []string) error
}

// ExecRunner runs programs with os/exec. On cancellation the child gets an
// interrupt so ffmpeg can finish the file it is writing.
type ExecRunner struct {
	// WaitDelay bounds how long an interrupted child may take to exit.
	WaitDelay time.Duration
}

func (r ExecRunner) Run(ctx context.Context, name string, args []string) error {
	cmd := exec.CommandContext(ctx, name, args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	cmd.Cancel = func() error {
		return cmd.Process.Signal(os.Interrupt)
	}
	cmd.WaitDelay = r.WaitDelay
	if cmd.WaitDelay == 0 {
		cmd.WaitDelay = 10 * time.Second
	}

	logger.Debugf("Running %s %s", name, strings.Join(args, " "))

	err := cmd.Run()
	if err == nil {
		return nil
	}

	if ctx.Err() != nil {
		return ctx.Err()
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return &ExitError{
			Tool:   filepath.Base(name),
			Code:   exitErr.ExitCode(),
			Stderr: strings.TrimSpace(stderr.String()),
		}
	}

	return err
}

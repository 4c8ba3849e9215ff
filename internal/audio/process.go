package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"
)

type processSpec struct {
	command string
	args    []string
	stdin   bool
	stdout  bool
	// settle is how long the process must stay up before Start succeeds.
	settle time.Duration
	// grace is how long Stop waits after an interrupt before killing.
	grace time.Duration
}

// process supervises one ffmpeg-family subprocess.
type process struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	stderr *bytes.Buffer
	grace  time.Duration

	exited  chan struct{}
	exitErr error

	stopOnce sync.Once
	stopErr  error
}

func startProcess(ctx context.Context, spec processSpec) (*process, error) {
	cmd := exec.CommandContext(ctx, spec.command, spec.args...)
	p := &process{
		cmd:    cmd,
		stderr: &bytes.Buffer{},
		grace:  spec.grace,
		exited: make(chan struct{}),
	}
	if p.grace <= 0 {
		p.grace = 1200 * time.Millisecond
	}
	cmd.Stderr = p.stderr

	var err error
	if spec.stdin {
		if p.stdin, err = cmd.StdinPipe(); err != nil {
			return nil, fmt.Errorf("failed to create %s stdin pipe: %w", spec.command, err)
		}
	}
	if spec.stdout {
		if p.stdout, err = cmd.StdoutPipe(); err != nil {
			return nil, fmt.Errorf("failed to create %s stdout pipe: %w", spec.command, err)
		}
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", spec.command, err)
	}

	go func() {
		p.exitErr = cmd.Wait()
		close(p.exited)
	}()

	if spec.settle <= 0 {
		return p, nil
	}
	select {
	case <-p.exited:
		if p.exitErr != nil {
			return nil, fmt.Errorf("%s exited before it started: %w: %s", spec.command, p.exitErr, stringsTrimSpaceSafe(p.stderr.String()))
		}
		return nil, fmt.Errorf("%s exited before it started", spec.command)
	case <-time.After(spec.settle):
	}
	return p, nil
}

// Done is closed when the process exits.
func (p *process) Done() <-chan struct{} {
	return p.exited
}

// Stop interrupts the process and kills it if it outlives the grace period.
func (p *process) Stop() error {
	p.stopOnce.Do(func() {
		if p.stdin != nil {
			_ = p.stdin.Close()
		}

		select {
		case <-p.exited:
		default:
			_ = p.cmd.Process.Signal(os.Interrupt)
			select {
			case <-p.exited:
			case <-time.After(p.grace):
				_ = p.cmd.Process.Kill()
				<-p.exited
			}
		}
		p.stopErr = normalizeStopErr(p.exitErr)

		if p.stdout != nil {
			if closeErr := p.stdout.Close(); closeErr != nil && !errors.Is(closeErr, os.ErrClosed) {
				if p.stopErr == nil {
					p.stopErr = closeErr
				}
			}
		}

		if p.stopErr != nil && p.stderr.Len() > 0 {
			p.stopErr = fmt.Errorf("%w: %s", p.stopErr, stringsTrimSpaceSafe(p.stderr.String()))
		}
	})

	return p.stopErr
}

func normalizeStopErr(err error) error {
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil
	}
	return err
}

func stringsTrimSpaceSafe(input string) string {
	if input == "" {
		return input
	}
	return string(bytes.TrimSpace([]byte(input)))
}

package organic

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/psantana5/fold-orchestrator/pkg/ipc"
	"github.com/psantana5/fold-orchestrator/pkg/logging"
	"github.com/psantana5/fold-orchestrator/pkg/retry"
)

// ChannelFD is the descriptor number the intake process writes batches to
const ChannelFD = 3

// SupervisorConfig describes how to launch the intake process
type SupervisorConfig struct {
	Executable  string   // defaults to the running binary
	Args        []string // defaults to ["organic"]
	Env         []string
	GracePeriod time.Duration // wait after SIGTERM before SIGKILL
	Buffer      int           // receiver buffer in batches
	Retry       retry.Config
}

// Supervisor owns the intake child process and the read side of its channel
type Supervisor struct {
	config   SupervisorConfig
	logger   *logging.Logger
	cmd      *exec.Cmd
	receiver *ipc.Receiver
	reader   *os.File
	exited   chan struct{}
	mu       sync.Mutex
}

// NewSupervisor creates a supervisor. Start must be called before Receiver.
func NewSupervisor(config SupervisorConfig, logger *logging.Logger) *Supervisor {
	if config.GracePeriod <= 0 {
		config.GracePeriod = 5 * time.Second
	}
	if len(config.Args) == 0 {
		config.Args = []string{"organic"}
	}
	if config.Buffer <= 0 {
		config.Buffer = 64
	}
	if config.Retry.MaxAttempts == 0 {
		config.Retry = retry.DefaultConfig()
	}
	return &Supervisor{config: config, logger: logger}
}

// Start launches the intake process, retrying transient failures
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cmd != nil {
		return errors.New("intake process already started")
	}

	attempt := 0
	err := retry.Do(ctx, s.config.Retry, func() error {
		attempt++
		if err := s.spawn(); err != nil {
			s.logger.Warn("Failed to start intake process", map[string]interface{}{
				"attempt": attempt,
				"error":   err.Error(),
			})
			return err
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("start intake process: %w", err)
	}

	s.logger.Info("Intake process started", map[string]interface{}{"pid": s.cmd.Process.Pid})
	return nil
}

func (s *Supervisor) spawn() error {
	executable := s.config.Executable
	if executable == "" {
		self, err := os.Executable()
		if err != nil {
			return retry.Permanent(err)
		}
		executable = self
	}

	r, w, err := os.Pipe()
	if err != nil {
		return err
	}

	cmd := exec.Command(executable, s.config.Args...)
	cmd.Env = append(os.Environ(), s.config.Env...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	// ExtraFiles[i] becomes fd 3+i in the child
	cmd.ExtraFiles = []*os.File{w}
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		r.Close()
		w.Close()
		return err
	}
	// The child holds its own copy; closing ours lets the reader see EOF on exit
	w.Close()

	s.cmd = cmd
	s.reader = r
	s.receiver = ipc.NewReceiver(r, s.config.Buffer)
	s.exited = make(chan struct{})

	go func(cmd *exec.Cmd, exited chan struct{}) {
		err := cmd.Wait()
		fields := map[string]interface{}{"pid": cmd.Process.Pid}
		if err != nil {
			fields["error"] = err.Error()
		}
		s.logger.Info("Intake process exited", fields)
		close(exited)
	}(cmd, s.exited)

	return nil
}

// Receiver returns the read side of the channel, nil before Start
func (s *Supervisor) Receiver() *ipc.Receiver {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.receiver
}

// Exited is closed when the intake process terminates
func (s *Supervisor) Exited() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exited
}

// Stop sends SIGTERM and escalates to SIGKILL after the grace period
func (s *Supervisor) Stop() error {
	s.mu.Lock()
	cmd, exited, reader := s.cmd, s.exited, s.reader
	s.mu.Unlock()

	if cmd == nil || cmd.Process == nil {
		return nil
	}

	select {
	case <-exited:
		return closeReader(reader)
	default:
	}

	if err := cmd.Process.Signal(syscall.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
		s.logger.Warn("Failed to signal intake process", map[string]interface{}{"error": err.Error()})
	}

	select {
	case <-exited:
	case <-time.After(s.config.GracePeriod):
		s.logger.Warn("Intake process ignored SIGTERM, killing", map[string]interface{}{
			"pid":   cmd.Process.Pid,
			"grace": s.config.GracePeriod.String(),
		})
		if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			return fmt.Errorf("kill intake process: %w", err)
		}
		<-exited
	}

	return closeReader(reader)
}

func closeReader(f *os.File) error {
	if err := f.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
		return err
	}
	return nil
}

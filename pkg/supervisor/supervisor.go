package supervisor

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime"
	"syscall"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/haolipeng/audisp_filter/pkg/types"
)

// Supervisor owns the consumer process lifecycle: it spawns the consumer with
// its standard input replaced by the pipe read end, relays signals to it, and
// reports its exit. All signal relay and reaping funnel through it.
type Supervisor struct {
	cmd       *exec.Cmd
	stdin     io.WriteCloser
	parentPID int
	exited    chan struct{}
	exitErr   error
}

// New prepares the consumer command. The consumer starts with an empty
// environment and inherits the filter's stdout/stderr.
func New(binary string, args []string) *Supervisor {
	cmd := exec.Command(binary, args...)
	cmd.Env = []string{}
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	return &Supervisor{
		cmd:       cmd,
		parentPID: os.Getppid(),
		exited:    make(chan struct{}),
	}
}

// Start creates the pipe and spawns the consumer with the pipe's read end as
// its stdin. On failure nothing is left running.
func (s *Supervisor) Start() error {
	stdin, err := s.cmd.StdinPipe()
	if err != nil {
		return types.NewFilterError("pipe", err)
	}
	s.stdin = stdin

	if err := s.spawn(); err != nil {
		s.stdin.Close()
		return types.NewFilterError("spawn", err)
	}

	logrus.Infof("Spawned consumer %s (pid %d)", s.cmd.Path, s.cmd.Process.Pid)
	go s.reap()
	return nil
}

// spawn starts the consumer with the relay signals unblocked. The blocked
// mask installed at load time survives fork and execve, so a plain Start
// would hand the consumer a mask under which the relayed SIGTERM/SIGHUP
// never arrive. The mask is per thread: pinning the goroutine and unblocking
// only here leaves every other thread blocked, and the child inherits the
// spawning thread's mask.
func (s *Supervisor) spawn() error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	var set unix.Sigset_t
	sigsetAdd(&set, syscall.SIGHUP)
	sigsetAdd(&set, syscall.SIGTERM)

	var old unix.Sigset_t
	if err := unix.PthreadSigmask(unix.SIG_UNBLOCK, &set, &old); err != nil {
		return fmt.Errorf("unblock relay signals: %w", err)
	}

	startErr := s.cmd.Start()

	if err := unix.PthreadSigmask(unix.SIG_SETMASK, &old, nil); err != nil {
		logrus.Errorf("Failed to restore the signal mask after spawn: %v", err)
	}
	return startErr
}

// reap blocks until the consumer exits and collects its status. The closed
// channel is the loop's unconditional stop condition.
func (s *Supervisor) reap() {
	s.exitErr = s.cmd.Wait()
	close(s.exited)
}

// Pipe is the write end feeding the consumer's stdin.
func (s *Supervisor) Pipe() io.Writer {
	return s.stdin
}

// ClosePipe closes the write end so the consumer sees EOF on shutdown.
func (s *Supervisor) ClosePipe() error {
	if s.stdin == nil {
		return nil
	}
	return s.stdin.Close()
}

// Exited is closed once the consumer has exited and been reaped.
func (s *Supervisor) Exited() <-chan struct{} {
	return s.exited
}

// ExitError reports the consumer's exit status after Exited is closed.
func (s *Supervisor) ExitError() error {
	select {
	case <-s.exited:
		return s.exitErr
	default:
		return nil
	}
}

// Relay sends sig to the consumer process.
func (s *Supervisor) Relay(sig os.Signal) error {
	if s.cmd.Process == nil {
		return fmt.Errorf("consumer not started")
	}
	return s.cmd.Process.Signal(sig)
}

// Terminate relays SIGTERM to the consumer. Used when initialization fails
// after the consumer was already spawned.
func (s *Supervisor) Terminate() {
	if err := s.Relay(syscall.SIGTERM); err != nil {
		logrus.Errorf("Failed to terminate consumer: %v", err)
	}
}

// ShouldHonorTermination decides whether a termination request is obeyed.
// Only the parent dispatcher may stop the filter; requests attributed to any
// other process are ignored so unrelated tooling can't silently disable
// filtering. A negative sender marks a request generated inside the process,
// which is trusted.
func (s *Supervisor) ShouldHonorTermination(senderPID int) bool {
	if senderPID < 0 {
		return true
	}
	return senderPID == s.parentPID
}

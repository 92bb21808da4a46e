package supervisor

import (
	"fmt"
	"syscall"
	"unsafe"

	"golang.org/x/sys/unix"
)

// SenderUnknown marks a request generated inside the process (the admin API)
// rather than delivered as a signal.
const SenderUnknown = -1

// sizeof(struct signalfd_siginfo)
const sizeofSignalfdSiginfo = 128

// Notification is one signal delivery plus the sender PID from its siginfo.
type Notification struct {
	Signal syscall.Signal
	Sender int
}

// SignalWatcher turns signal delivery into channel receives so all state
// transitions happen inside the service loop. The relay signals are blocked
// process-wide before the runtime spawns its first thread (see
// sigmask_linux.go), so the only path a delivery can take is the signalfd
// read here, and every delivery carries the sender PID.
type SignalWatcher struct {
	fd   int
	ch   chan Notification
	done chan struct{}
}

func NewSignalWatcher(sigs ...syscall.Signal) (*SignalWatcher, error) {
	var set unix.Sigset_t
	for _, s := range sigs {
		sigsetAdd(&set, s)
	}

	// The load-time constructor already blocked the relay signals; this
	// covers any extra signals the watcher is asked to observe.
	if err := unix.PthreadSigmask(unix.SIG_BLOCK, &set, nil); err != nil {
		return nil, fmt.Errorf("block signals: %w", err)
	}

	fd, err := unix.Signalfd(-1, &set, unix.SFD_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("create signalfd: %w", err)
	}

	w := &SignalWatcher{
		fd:   fd,
		ch:   make(chan Notification, 8),
		done: make(chan struct{}),
	}

	go w.readSignalfd()
	return w, nil
}

func sigsetAdd(set *unix.Sigset_t, sig syscall.Signal) {
	set.Val[(uint(sig)-1)/64] |= 1 << ((uint(sig) - 1) % 64)
}

// Signals is the delivery channel consumed by the service loop.
func (w *SignalWatcher) Signals() <-chan Notification {
	return w.ch
}

func (w *SignalWatcher) readSignalfd() {
	buf := make([]byte, sizeofSignalfdSiginfo)
	for {
		n, err := unix.Read(w.fd, buf)
		if err == unix.EINTR {
			continue
		}
		if err != nil || n < sizeofSignalfdSiginfo {
			return
		}
		info := (*unix.SignalfdSiginfo)(unsafe.Pointer(&buf[0]))
		select {
		case w.ch <- Notification{Signal: syscall.Signal(info.Signo), Sender: int(info.Pid)}:
		case <-w.done:
			return
		}
	}
}

func (w *SignalWatcher) Close() {
	close(w.done)
	unix.Close(w.fd)
}

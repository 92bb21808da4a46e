package supervisor

// The relay signals have to be blocked before the Go runtime creates its
// first thread. A mask installed any later leaves threads that can still
// take a process-directed SIGTERM through the runtime's own handler, and
// that delivery carries no sender attribution. Threads inherit the mask of
// the thread that created them, so blocking in a load-time constructor
// covers every thread the runtime will ever spawn and leaves the signalfd
// as the only delivery path.

/*
#include <signal.h>

__attribute__((constructor)) static void block_relay_signals(void) {
	sigset_t set;
	sigemptyset(&set);
	sigaddset(&set, SIGHUP);
	sigaddset(&set, SIGTERM);
	sigprocmask(SIG_BLOCK, &set, NULL);
}
*/
import "C"

package service

import (
	"context"
	"sync/atomic"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/haolipeng/audisp_filter/pkg/classifier"
	"github.com/haolipeng/audisp_filter/pkg/config"
	"github.com/haolipeng/audisp_filter/pkg/forwarder"
	"github.com/haolipeng/audisp_filter/pkg/metrics"
	"github.com/haolipeng/audisp_filter/pkg/rules"
	"github.com/haolipeng/audisp_filter/pkg/source"
	"github.com/haolipeng/audisp_filter/pkg/supervisor"
	"github.com/haolipeng/audisp_filter/pkg/types"
)

// Options wires the service loop's collaborators.
type Options struct {
	Config     *config.FilterConfig
	Loader     *rules.Loader
	Classifier *classifier.Classifier
	Forwarder  *forwarder.PipeForwarder
	Supervisor *supervisor.Supervisor
	Source     *source.StdinSource
	Watcher    *supervisor.SignalWatcher
	Metrics    *metrics.FilterMetrics
}

// Service is the single-threaded loop driving the filter: it pulls events
// from the dispatcher feed, applies pending reloads, classifies, and
// forwards. Signal deliveries only set flags or relay; every state
// transition happens inside the loop.
type Service struct {
	cfg        *config.FilterConfig
	loader     *rules.Loader
	classifier *classifier.Classifier
	fwd        *forwarder.PipeForwarder
	sup        *supervisor.Supervisor
	src        *source.StdinSource
	watcher    *supervisor.SignalWatcher
	metrics    *metrics.FilterMetrics

	// active is replaced as a whole value on successful reload, never
	// mutated in place; readers can never observe a partial rule set.
	active        atomic.Pointer[rules.RuleSet]
	reloadPending atomic.Bool
	stopRequested atomic.Bool
}

func New(opts Options) *Service {
	m := opts.Metrics
	if m == nil {
		m = &metrics.FilterMetrics{}
	}
	return &Service{
		cfg:        opts.Config,
		loader:     opts.Loader,
		classifier: opts.Classifier,
		fwd:        opts.Forwarder,
		sup:        opts.Supervisor,
		src:        opts.Source,
		watcher:    opts.Watcher,
		metrics:    m,
	}
}

// InstallRules makes rs the active rule set and registers it with the
// matching engine, clearing any state left from the previous set.
func (s *Service) InstallRules(rs *rules.RuleSet) {
	s.active.Store(rs)
	s.classifier.SetRules(rs)
}

// ActiveRules returns the currently active rule set.
func (s *Service) ActiveRules() *rules.RuleSet {
	return s.active.Load()
}

func (s *Service) Metrics() *metrics.FilterMetrics {
	return s.metrics
}

func (s *Service) Mode() classifier.Mode {
	return s.classifier.Mode()
}

func (s *Service) ConfigFile() string {
	return s.cfg.ConfigFile
}

// TriggerReload mirrors SIGHUP handling for the admin API: the signal is
// relayed to the consumer and the reload is left pending for the loop.
func (s *Service) TriggerReload() {
	s.handleSignal(supervisor.Notification{
		Signal: syscall.SIGHUP,
		Sender: supervisor.SenderUnknown,
	})
}

// Run drives the loop until a stop condition: an honored termination
// request, consumer exit, feed end, or context cancellation.
func (s *Service) Run(ctx context.Context) error {
	logrus.Infof("Filter running in %s mode with %d rules",
		s.classifier.Mode(), s.ActiveRules().Len())

	for {
		if s.stopRequested.Load() {
			logrus.Info("Stop requested, leaving service loop")
			return nil
		}

		select {
		case n := <-s.watcher.Signals():
			s.handleSignal(n)

		case <-s.sup.Exited():
			// The filter has no purpose without a live consumer.
			logrus.Infof("Consumer exited (%v), stopping", s.sup.ExitError())
			return nil

		case ev, ok := <-s.src.Output():
			if !ok {
				logrus.Info("Event feed closed, stopping")
				return nil
			}
			s.handleEvent(ev)

		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *Service) handleSignal(n supervisor.Notification) {
	switch n.Signal {
	case syscall.SIGHUP:
		// Relay first so a cooperating consumer can reload its own state.
		if err := s.sup.Relay(n.Signal); err != nil {
			logrus.Errorf("Failed to relay SIGHUP to consumer: %v", err)
		}
		s.reloadPending.Store(true)

	case syscall.SIGTERM:
		if !s.sup.ShouldHonorTermination(n.Sender) {
			logrus.Debugf("Ignoring termination request from pid %d", n.Sender)
			return
		}
		if err := s.sup.Relay(n.Signal); err != nil {
			logrus.Errorf("Failed to relay SIGTERM to consumer: %v", err)
		}
		s.stopRequested.Store(true)
	}
}

func (s *Service) handleEvent(ev *types.Event) {
	s.metrics.IncrementReceived()

	if s.reloadPending.CompareAndSwap(true, false) {
		s.applyReload()
	}

	decision, matched, err := s.classifier.Classify(ev)
	if err != nil {
		// Neither forwarded nor dropped: the event is skipped.
		logrus.Errorf("Evaluation of event %d failed: %v", ev.Serial, err)
		s.metrics.IncrementEvalErrors()
		return
	}
	if matched {
		s.metrics.IncrementMatched()
	}

	if decision == classifier.DecisionDrop {
		s.metrics.IncrementDropped()
		return
	}

	if err := s.fwd.Forward(ev); err != nil {
		logrus.Errorf("Failed to write event %d to pipe: %v", ev.Serial, err)
		s.metrics.IncrementWriteErrors()
		return
	}
	s.metrics.IncrementForwarded()
}

// applyReload loads the rule file again and swaps the active set only on
// full success; any failure keeps the previous set untouched.
func (s *Service) applyReload() {
	newSet, err := s.loader.Load(s.cfg.ConfigFile)
	if err != nil {
		logrus.Errorf("The rules were not reloaded: %v", err)
		s.metrics.IncrementReloadFailures()
		return
	}

	s.InstallRules(newSet)
	s.metrics.IncrementReloads()
	logrus.Infof("Successfully reloaded %d rules", newSet.Len())
}

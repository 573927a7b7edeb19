package communication

import (
	"time"

	"github.com/rumkit/go-rumkit/caching"
	"github.com/rumkit/go-rumkit/logging"
)

const shutdownJoinTimeout = 10 * time.Second

// BeaconSender owns the worker goroutine that drives the sending
// state machine and, once per tick, the cache evictor.
type BeaconSender struct {
	logger  logging.Logger
	context *SendingContext
	evictor *caching.Evictor
	done    chan struct{}
}

// NewBeaconSender creates a sender over ctx. evictor may be nil when
// the host runs eviction itself.
func NewBeaconSender(logger logging.Logger, ctx *SendingContext, evictor *caching.Evictor) *BeaconSender {
	return &BeaconSender{
		logger:  logger,
		context: ctx,
		evictor: evictor,
		done:    make(chan struct{}),
	}
}

// Context returns the sending context shared with the state machine.
func (s *BeaconSender) Context() *SendingContext {
	return s.context
}

// Initialize starts the worker goroutine. The loop runs the current
// state once per iteration until a terminal state is reached.
func (s *BeaconSender) Initialize() {
	go func() {
		defer close(s.done)
		s.logger.Debug("BeaconSender worker started")
		for !s.context.CurrentState().Terminal() {
			if s.evictor != nil {
				s.evictor.Execute()
			}
			s.context.ExecuteCurrentState()
		}
		s.logger.Debug("BeaconSender worker stopped")
	}()
}

// WaitForInit blocks until the initial handshake finished and reports
// whether it succeeded.
func (s *BeaconSender) WaitForInit() bool {
	return s.context.WaitForInit()
}

// WaitForInitTimeout is WaitForInit bounded by d.
func (s *BeaconSender) WaitForInitTimeout(d time.Duration) bool {
	return s.context.WaitForInitTimeout(d)
}

// Shutdown requests shutdown and waits for the worker to run its
// final flush and exit, bounded by a join timeout.
func (s *BeaconSender) Shutdown() {
	s.context.RequestShutdown()
	select {
	case <-s.done:
	case <-time.After(shutdownJoinTimeout):
		s.logger.Warning("BeaconSender worker did not stop within %s", shutdownJoinTimeout)
	}
}

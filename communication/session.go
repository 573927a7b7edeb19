package communication

import (
	"sync/atomic"

	"github.com/rumkit/go-rumkit/protocol"
)

// Session is the sender-side view of one session: a beacon plus the
// bookkeeping the state machine needs to decide when the session's
// data goes out and when the session can be dropped.
type Session struct {
	beacon   *protocol.Beacon
	finished atomic.Bool
}

// NewSession wraps beacon into a session registered with the sender.
func NewSession(beacon *protocol.Beacon) *Session {
	s := &Session{beacon: beacon}
	beacon.StartSession()
	return s
}

// Beacon exposes the session's beacon for reporting operations.
func (s *Session) Beacon() *protocol.Beacon {
	return s.beacon
}

// End marks the session finished and records the session end event.
// Subsequent calls are no-ops.
func (s *Session) End() {
	if !s.finished.CompareAndSwap(false, true) {
		return
	}
	s.beacon.EndSession()
}

// IsFinished reports whether End has been called.
func (s *Session) IsFinished() bool {
	return s.finished.Load()
}

// IsConfigured reports whether the session's beacon has received a
// server configuration.
func (s *Session) IsConfigured() bool {
	return s.beacon.ServerConfigSet()
}

// IsDataSendingAllowed reports whether this session's data may be
// transmitted.
func (s *Session) IsDataSendingAllowed() bool {
	return s.IsConfigured() && s.beacon.DataCapturingEnabled()
}

// UpdateServerConfig forwards a new server configuration to the
// beacon. A multiplicity of zero disables the session entirely and
// discards its data.
func (s *Session) UpdateServerConfig(sc *protocol.ServerConfig) {
	if sc == nil {
		return
	}
	if sc.Multiplicity <= 0 {
		s.beacon.DisableCapture()
		s.beacon.ClearData()
		return
	}
	s.beacon.UpdateServerConfig(sc)
}

// EnableCapture forces capturing on, used during the final flush for
// sessions that never received a configuration.
func (s *Session) EnableCapture() {
	s.beacon.EnableCapture()
}

// DisableCaptureAndClear turns capturing off and discards buffered
// data.
func (s *Session) DisableCaptureAndClear() {
	s.beacon.DisableCapture()
	s.beacon.ClearData()
}

// Send transmits the session's buffered data.
func (s *Session) Send(provider protocol.HTTPClientProvider, params protocol.AdditionalParams) *protocol.StatusResponse {
	return s.beacon.Send(provider, params)
}

// ClearCapturedData discards the session's buffered data.
func (s *Session) ClearCapturedData() {
	s.beacon.ClearData()
}

// IsEmpty reports whether the session has no buffered data.
func (s *Session) IsEmpty() bool {
	return s.beacon.IsEmpty()
}

package communication

import (
	"time"

	"github.com/rumkit/go-rumkit/protocol"
)

// State identifies one of the sending state machine's states.
// Transitions are produced exclusively by execute; the shutdown state
// of each tag is a pure function of the tag.
type State int

const (
	StateInit State = iota
	StateCaptureOn
	StateCaptureOff
	StateFlushSessions
	StateTerminal
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "Init"
	case StateCaptureOn:
		return "CaptureOn"
	case StateCaptureOff:
		return "CaptureOff"
	case StateFlushSessions:
		return "FlushSessions"
	case StateTerminal:
		return "Terminal"
	}
	return "Unknown"
}

// Terminal reports whether the state ends the sender's worker loop.
func (s State) Terminal() bool {
	return s == StateTerminal
}

// shutdownState returns the state to enter when shutdown is requested
// while s is current. CaptureOn flushes before terminating; the other
// states terminate directly.
func (s State) shutdownState() State {
	switch s {
	case StateCaptureOn:
		return StateFlushSessions
	default:
		return StateTerminal
	}
}

// execute runs one tick of s against ctx and returns the next state.
func (s State) execute(ctx *SendingContext) State {
	switch s {
	case StateInit:
		return executeInit(ctx)
	case StateCaptureOn:
		return executeCaptureOn(ctx)
	case StateCaptureOff:
		return executeCaptureOff(ctx)
	case StateFlushSessions:
		return executeFlushSessions(ctx)
	default:
		return executeTerminal(ctx)
	}
}

// reinitDelays paces the full handshake attempts of the Init state:
// every time one bounded retry cycle fails outright, the next cycle
// starts after the next longer delay, capped at the last entry.
var reinitDelays = []time.Duration{
	1 * time.Minute,
	5 * time.Minute,
	15 * time.Minute,
	1 * time.Hour,
	2 * time.Hour,
}

// executeInit performs the initial handshake: it polls the collector
// status until a usable response arrives, pacing full retry cycles
// with the growing delays of reinitDelays. The machine then enters
// CaptureOn or CaptureOff depending on the discovered capture flag.
func executeInit(ctx *SendingContext) State {
	delayIndex := 0
	for {
		response := sendStatusRequest(ctx)
		if ctx.IsShutdownRequested() {
			ctx.initCompleted(false)
			return StateTerminal
		}
		if !response.Erroneous() {
			ctx.HandleStatusResponse(response)
			now := ctx.CurrentTimestamp()
			ctx.SetLastOpenSessionSend(now)
			ctx.SetLastStatusCheck(now)
			ctx.initCompleted(true)
			if ctx.Capture() {
				return StateCaptureOn
			}
			return StateCaptureOff
		}

		ctx.logger.Warning("Init status handshake failed, next cycle in %s", reinitDelays[delayIndex])
		ctx.Sleep(reinitDelays[delayIndex])
		if delayIndex < len(reinitDelays)-1 {
			delayIndex++
		}
		if ctx.IsShutdownRequested() {
			ctx.initCompleted(false)
			return StateTerminal
		}
	}
}

// sendStatusRequest performs one bounded status request cycle:
// attempts are paced by a linearly growing sleep and abandoned on
// shutdown. Returns the last response, possibly nil.
func sendStatusRequest(ctx *SendingContext) *protocol.StatusResponse {
	client := ctx.GetHTTPClient()
	sleep := ctx.statusRetryInitialDelay

	var response *protocol.StatusResponse
	for attempt := 0; ; attempt++ {
		response = client.SendStatusRequest(nil)
		if !response.Erroneous() {
			return response
		}
		if attempt+1 >= ctx.statusRequestRetries || ctx.IsShutdownRequested() {
			return response
		}
		ctx.Sleep(sleep)
		sleep += ctx.statusRetryInitialDelay
	}
}

// executeCaptureOn is the steady state: finished sessions flush every
// tick, open sessions flush once per send interval, and a capture
// flag flipped off by the collector moves the machine to CaptureOff.
func executeCaptureOn(ctx *SendingContext) State {
	ctx.Sleep(ctx.captureOnTick)
	if ctx.IsShutdownRequested() {
		return StateCaptureOn
	}

	assignServerConfigToNewSessions(ctx)

	lastResponse := sendFinishedSessions(ctx)
	if response := sendOpenSessions(ctx); response != nil {
		lastResponse = response
	}

	if lastResponse != nil && !lastResponse.Erroneous() {
		ctx.HandleStatusResponse(lastResponse)
		if !ctx.Capture() {
			return StateCaptureOff
		}
	}
	return StateCaptureOn
}

// assignServerConfigToNewSessions hands the context's current server
// configuration to sessions created since the last tick. Sessions
// receiving a zero multiplicity are muted and their data dropped.
func assignServerConfigToNewSessions(ctx *SendingContext) {
	current := ctx.ServerConfig()
	for _, session := range ctx.NotConfiguredSessions() {
		session.UpdateServerConfig(current)
	}
}

func sendFinishedSessions(ctx *SendingContext) *protocol.StatusResponse {
	var lastResponse *protocol.StatusResponse
	for _, session := range ctx.FinishedConfiguredSessions() {
		if !session.IsDataSendingAllowed() {
			session.ClearCapturedData()
			ctx.RemoveSession(session)
			continue
		}
		response := session.Send(ctx.HTTPClientProvider(), nil)
		if response.Erroneous() {
			// keep the session; the rolled-back data is retried next tick
			break
		}
		lastResponse = response
		session.ClearCapturedData()
		ctx.RemoveSession(session)
	}
	return lastResponse
}

func sendOpenSessions(ctx *SendingContext) *protocol.StatusResponse {
	now := ctx.CurrentTimestamp()
	if now < ctx.LastOpenSessionSend()+ctx.SendInterval().Milliseconds() {
		return nil
	}
	var lastResponse *protocol.StatusResponse
	for _, session := range ctx.OpenConfiguredSessions() {
		if !session.IsDataSendingAllowed() {
			session.ClearCapturedData()
			continue
		}
		response := session.Send(ctx.HTTPClientProvider(), nil)
		if !response.Erroneous() {
			lastResponse = response
		}
	}
	ctx.SetLastOpenSessionSend(now)
	return lastResponse
}

// executeCaptureOff waits out the status check interval, then polls
// the collector; a capture flag flipped on moves the machine back to
// CaptureOn.
func executeCaptureOff(ctx *SendingContext) State {
	ctx.DisableCaptureAndClear()

	now := ctx.CurrentTimestamp()
	delay := ctx.statusCheckInterval - time.Duration(now-ctx.LastStatusCheck())*time.Millisecond
	if delay > 0 {
		ctx.Sleep(delay)
	}
	if ctx.IsShutdownRequested() {
		return StateCaptureOff
	}

	response := sendStatusRequest(ctx)
	ctx.SetLastStatusCheck(ctx.CurrentTimestamp())
	if !response.Erroneous() {
		ctx.HandleStatusResponse(response)
		if ctx.Capture() {
			return StateCaptureOn
		}
	}
	return StateCaptureOff
}

// executeFlushSessions gives all buffered data one final transmission
// attempt: unconfigured sessions get capture forced on, open sessions
// are ended, and everything is sent once.
func executeFlushSessions(ctx *SendingContext) State {
	for _, session := range ctx.NotConfiguredSessions() {
		session.EnableCapture()
	}
	for _, session := range ctx.OpenConfiguredSessions() {
		session.End()
	}
	for _, session := range ctx.FinishedConfiguredSessions() {
		if session.IsDataSendingAllowed() {
			session.Send(ctx.HTTPClientProvider(), nil)
		}
		session.ClearCapturedData()
		ctx.RemoveSession(session)
	}
	return StateTerminal
}

// executeTerminal pins the shutdown flag so that every collaborator
// observes it.
func executeTerminal(ctx *SendingContext) State {
	ctx.RequestShutdown()
	return StateTerminal
}

// Copyright 2026 The Palaver Authors
// SPDX-License-Identifier: Apache-2.0

package call

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/palaver-chat/palaver/ledger"
	"github.com/palaver-chat/palaver/lib/clock"
	"github.com/palaver-chat/palaver/lib/identity"
	"github.com/palaver-chat/palaver/signaling"
)

// State is the engine's position in the call lifecycle.
type State string

const (
	// StateIdle: no call in progress.
	StateIdle State = "idle"

	// StateOutgoingRinging: we created the record and are waiting for
	// the callee.
	StateOutgoingRinging State = "outgoing-ringing"

	// StateIncomingRinging: a ringing record names us as callee and
	// the user has not decided yet.
	StateIncomingRinging State = "incoming-ringing"

	// StateConnecting: both sides committed, media setup under way.
	StateConnecting State = "connecting"

	// StateConnected: the call is live.
	StateConnected State = "connected"
)

// LedgerService is the slice of the ledger client the engine drives.
// *ledger.Client satisfies it.
type LedgerService interface {
	Initiate(ctx context.Context, conversationID string, caller, callee identity.Identity) (*ledger.CallRecord, error)
	Accept(ctx context.Context, callID string) error
	Reject(ctx context.Context, callID, reason string) error
	End(ctx context.Context, callID, reason string) error
}

// EngineConfig holds the dependencies and callbacks for an Engine.
type EngineConfig struct {
	// Self is the local participant.
	Self identity.Identity
	// Channel is the conversation-scoped signal adapter.
	Channel *signaling.Channel
	// Ledger drives call record transitions.
	Ledger LedgerService
	// Media supplies local capture for sessions.
	Media MediaSource
	// ICEServers overrides the session default.
	ICEServers []webrtc.ICEServer
	// RingTimeout abandons an unanswered outgoing call after this
	// long. Zero rings until the callee or the user decides.
	RingTimeout time.Duration
	// Clock schedules the ring timeout. Nil means the real clock.
	Clock clock.Clock
	// Logger is used for structured logging. If nil, slog.Default().
	Logger *slog.Logger

	// OnIncomingCall fires when a ringing record names us as callee.
	OnIncomingCall func(record *ledger.CallRecord)
	// OnStateChange fires on every lifecycle transition.
	OnStateChange func(state State)
	// OnRemoteTrack fires for each inbound media track.
	OnRemoteTrack func(track *webrtc.TrackRemote)
	// OnError fires for asynchronous failures (transport death, ring
	// timeout cleanup failures). Synchronous failures return from the
	// operation instead.
	OnError func(err *CallError)
}

// Engine is the call state machine. Signals, record changes, and user
// operations all serialize on one mutex, so every handler observes a
// consistent call state; callbacks are dispatched from a separate
// goroutine and may call back into the engine freely.
type Engine struct {
	self    identity.Identity
	channel *signaling.Channel
	ledger  LedgerService
	media   MediaSource

	iceServers  []webrtc.ICEServer
	ringTimeout time.Duration
	clock       clock.Clock
	logger      *slog.Logger

	onIncomingCall func(*ledger.CallRecord)
	onStateChange  func(State)
	onRemoteTrack  func(*webrtc.TrackRemote)
	onError        func(*CallError)

	mu           sync.Mutex
	state        State
	record       *ledger.CallRecord
	peer         identity.Identity
	session      *Session
	pendingOffer *webrtc.SessionDescription
	accepted     bool
	ringTimer    *clock.Timer

	events    chan func()
	closeOnce sync.Once
	done      chan struct{}
}

// NewEngine wires the engine to the channel's inbound signals and
// starts the callback dispatcher.
func NewEngine(config EngineConfig) (*Engine, error) {
	if config.Self.IsZero() {
		return nil, fmt.Errorf("call: EngineConfig.Self is required")
	}
	if config.Channel == nil || config.Ledger == nil || config.Media == nil {
		return nil, fmt.Errorf("call: EngineConfig needs Channel, Ledger, and Media")
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	engine := &Engine{
		self:           config.Self,
		channel:        config.Channel,
		ledger:         config.Ledger,
		media:          config.Media,
		iceServers:     config.ICEServers,
		ringTimeout:    config.RingTimeout,
		clock:          config.Clock,
		logger:         config.Logger,
		onIncomingCall: config.OnIncomingCall,
		onStateChange:  config.OnStateChange,
		onRemoteTrack:  config.OnRemoteTrack,
		onError:        config.OnError,
		state:          StateIdle,
		events:         make(chan func(), 32),
		done:           make(chan struct{}),
	}
	go engine.dispatchLoop()
	config.Channel.OnSignal(engine.handleSignal)
	return engine, nil
}

// State returns the current lifecycle state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// CurrentCall returns the active record, or nil when idle.
func (e *Engine) CurrentCall() *ledger.CallRecord {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.record
}

// StartCall places an outgoing call to callee within a conversation.
// The record is created before capture so the callee's ledger shows
// the attempt even when the caller's camera fails; a failed capture
// ends the record immediately with reason "media-failure".
func (e *Engine) StartCall(ctx context.Context, conversationID string, callee identity.Identity) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != StateIdle {
		return newError(ErrUnknown, fmt.Errorf("call: already in a call (%s)", e.state))
	}
	if err := e.channel.Connect(ctx, conversationID); err != nil {
		return newError(ErrSignalingUnavailable, err)
	}

	record, err := e.ledger.Initiate(ctx, conversationID, e.self, callee)
	if err != nil {
		e.channel.Close()
		return Classify(err)
	}

	session, err := e.newSession(ctx, record.ID, callee)
	if err != nil {
		if endErr := e.ledger.End(ctx, record.ID, "media-failure"); endErr != nil {
			e.logger.Warn("abandoning failed call attempt", "call_id", record.ID, "error", endErr)
		}
		e.channel.Close()
		return Classify(err)
	}

	request := signaling.NewControl(signaling.KindCallRequest, e.self, callee, record.ID, "")
	if err := e.channel.Send(ctx, request); err != nil {
		e.logger.Warn("call request publish failed, ledger will carry the ring",
			"call_id", record.ID, "error", err)
	}
	if err := session.SendOffer(ctx); err != nil {
		session.Close()
		if endErr := e.ledger.End(ctx, record.ID, "signaling-failure"); endErr != nil {
			e.logger.Warn("abandoning failed call attempt", "call_id", record.ID, "error", endErr)
		}
		e.channel.Close()
		return Classify(err)
	}

	e.record = record
	e.peer = callee
	e.session = session
	e.setStateLocked(StateOutgoingRinging)
	e.armRingTimerLocked(record.ID)

	e.logger.Info("call placed",
		"call_id", record.ID,
		"conversation_id", conversationID,
		"callee", callee.UserID)
	return nil
}

// AcceptCall answers the ringing incoming call. The ledger transition
// happens first; capture failure afterwards ends the record so the
// caller is not left ringing into a dead session.
func (e *Engine) AcceptCall(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != StateIncomingRinging || e.record == nil {
		return newError(ErrUnknown, fmt.Errorf("call: no incoming call to accept"))
	}
	record := e.record

	if err := e.ledger.Accept(ctx, record.ID); err != nil {
		return Classify(err)
	}

	session, err := e.newSession(ctx, record.ID, e.peer)
	if err != nil {
		if endErr := e.ledger.End(ctx, record.ID, "media-failure"); endErr != nil {
			e.logger.Warn("ending call after capture failure", "call_id", record.ID, "error", endErr)
		}
		e.teardownLocked("media-failure")
		return Classify(err)
	}
	e.session = session
	e.accepted = true
	e.setStateLocked(StateConnecting)

	if e.pendingOffer != nil {
		offer := *e.pendingOffer
		e.pendingOffer = nil
		if err := e.answerLocked(ctx, offer); err != nil {
			return err
		}
	}
	e.logger.Info("call accepted", "call_id", record.ID)
	return nil
}

// RejectCall declines the ringing incoming call. The direct signal
// stops the caller's ring tone fast; the record carries the durable
// rejection.
func (e *Engine) RejectCall(ctx context.Context, reason string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != StateIncomingRinging || e.record == nil {
		return newError(ErrUnknown, fmt.Errorf("call: no incoming call to reject"))
	}
	if reason == "" {
		reason = "declined"
	}
	record := e.record
	if err := e.ledger.Reject(ctx, record.ID, reason); err != nil {
		return Classify(err)
	}
	reject := signaling.NewControl(signaling.KindCallReject, e.self, e.peer, record.ID, reason)
	if err := e.channel.Send(ctx, reject); err != nil {
		e.logger.Warn("reject signal publish failed", "call_id", record.ID, "error", err)
	}
	e.teardownLocked(reason)
	e.logger.Info("call rejected", "call_id", record.ID, "reason", reason)
	return nil
}

// EndCall hangs up the current call from any non-idle state. Ending an
// already-settled record is a no-op server side, so both peers may
// race to hang up.
func (e *Engine) EndCall(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == StateIdle || e.record == nil {
		return nil
	}
	record := e.record
	if err := e.ledger.End(ctx, record.ID, "hangup"); err != nil {
		e.logger.Warn("ledger end failed, tearing down anyway", "call_id", record.ID, "error", err)
	}
	end := signaling.NewControl(signaling.KindCallEnd, e.self, e.peer, record.ID, "hangup")
	if err := e.channel.Send(ctx, end); err != nil {
		e.logger.Warn("end signal publish failed", "call_id", record.ID, "error", err)
	}
	e.teardownLocked("hangup")
	e.logger.Info("call ended", "call_id", record.ID)
	return nil
}

// ToggleVideo flips the outbound camera on the active session.
func (e *Engine) ToggleVideo() (bool, error) {
	e.mu.Lock()
	session := e.session
	e.mu.Unlock()
	if session == nil {
		return false, newError(ErrUnknown, fmt.Errorf("call: no active session"))
	}
	return session.ToggleVideo()
}

// ToggleAudio flips the outbound microphone on the active session.
func (e *Engine) ToggleAudio() (bool, error) {
	e.mu.Lock()
	session := e.session
	e.mu.Unlock()
	if session == nil {
		return false, newError(ErrUnknown, fmt.Errorf("call: no active session"))
	}
	return session.ToggleAudio()
}

// Close tears down any active call state and stops the callback
// dispatcher. Idempotent.
func (e *Engine) Close() error {
	e.closeOnce.Do(func() {
		e.mu.Lock()
		if e.state != StateIdle {
			e.teardownLocked("shutdown")
		}
		e.mu.Unlock()
		close(e.done)
	})
	return nil
}

// HandleRecordInsert reacts to a new call record from the ledger
// watcher. A ringing record naming us as callee rings locally; when a
// call is already in progress the engine declines with "busy" so the
// caller is not left ringing.
func (e *Engine) HandleRecordInsert(record *ledger.CallRecord) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.record != nil && e.record.ID == record.ID {
		return
	}
	if !record.IsCallee(e.self.UserID) || record.Status != ledger.StatusRinging {
		return
	}
	if e.state != StateIdle {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := e.ledger.Reject(ctx, record.ID, "busy"); err != nil {
			e.logger.Warn("busy rejection failed", "call_id", record.ID, "error", err)
		}
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.channel.Connect(ctx, record.ConversationID); err != nil {
		e.logger.Warn("cannot join signaling for incoming call",
			"call_id", record.ID, "error", err)
		e.emit(func() {
			if e.onError != nil {
				e.onError(newError(ErrSignalingUnavailable, err))
			}
		})
		return
	}

	e.record = record
	e.peer = record.PeerOf(e.self.UserID)
	e.setStateLocked(StateIncomingRinging)
	e.emit(func() {
		if e.onIncomingCall != nil {
			e.onIncomingCall(record)
		}
	})
	e.logger.Info("incoming call ringing",
		"call_id", record.ID, "caller", record.CallerUserID)
}

// HandleRecordUpdate reacts to a status change on the current call.
// Terminal statuses tear down unconditionally: the record outranks any
// signal. An accepted status stops the caller's ring even when the
// call-accept signal was lost, and triggers the offer re-publish for
// the now-subscribed callee.
func (e *Engine) HandleRecordUpdate(record *ledger.CallRecord) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.record == nil || e.record.ID != record.ID {
		return
	}
	e.record = record

	if record.Status.Terminal() {
		e.logger.Info("call settled by ledger",
			"call_id", record.ID, "status", record.Status, "reason", record.EndReason)
		e.teardownLocked(string(record.Status))
		return
	}
	if record.Status == ledger.StatusAccepted && e.state == StateOutgoingRinging {
		e.stopRingTimerLocked()
		e.setStateLocked(StateConnecting)
		// The callee joins the signaling topic only after observing the
		// record, so the original offer may have been broadcast before
		// anyone was listening. Re-publish it now that the accept proves
		// the callee is subscribed; the callee ignores a duplicate.
		if e.session != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := e.session.ResendOffer(ctx); err != nil {
				e.logger.Warn("offer re-publish failed", "call_id", record.ID, "error", err)
			}
		}
	}
}

// HandleRecordDelete reacts to the current call's row disappearing
// (retention or moderation). Treated as an end.
func (e *Engine) HandleRecordDelete(callID string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.record == nil || e.record.ID != callID {
		return
	}
	e.teardownLocked("record-deleted")
}

// handleSignal runs on the channel's receive goroutine. The channel
// already enforces addressing; the engine additionally requires the
// sender to be the call's peer and the call ID to match.
func (e *Engine) handleSignal(signal *signaling.Signal) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.record == nil {
		return
	}
	if !signal.Sender.SameUser(e.peer) {
		e.logger.Warn("signal from unexpected sender dropped",
			"kind", signal.Kind, "sender", signal.Sender.UserID)
		return
	}
	if signal.Control != nil && signal.Control.CallID != e.record.ID {
		return
	}

	switch signal.Kind {
	case signaling.KindCallRequest:
		// Ring is driven by the record; the signal adds nothing once
		// the record is known.

	case signaling.KindOffer:
		e.handleOfferLocked(signal.Description)

	case signaling.KindAnswer:
		if e.session == nil || e.state == StateIncomingRinging {
			return
		}
		if err := e.session.HandleAnswer(*signal.Description); err != nil {
			e.failLocked(Classify(err))
		}

	case signaling.KindIceCandidate:
		if e.session == nil {
			return
		}
		e.session.HandleRemoteCandidate(*signal.Candidate)

	case signaling.KindCallAccept:
		if e.state == StateConnected {
			return
		}
		e.stopRingTimerLocked()
		e.setStateLocked(StateConnected)

	case signaling.KindCallReject:
		e.logger.Info("call rejected by peer", "call_id", e.record.ID, "reason", signal.Control.Reason)
		e.teardownLocked("rejected")

	case signaling.KindCallEnd:
		e.logger.Info("call ended by peer", "call_id", e.record.ID, "reason", signal.Control.Reason)
		e.teardownLocked("ended")
	}
}

// handleOfferLocked holds the offer while the user decides and answers
// immediately once they have.
func (e *Engine) handleOfferLocked(offer *webrtc.SessionDescription) {
	switch {
	case e.state == StateIncomingRinging && !e.accepted:
		e.pendingOffer = offer
	case e.accepted && e.session != nil:
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := e.answerLocked(ctx, *offer); err != nil {
			e.failLocked(err.(*CallError))
		}
	}
}

// answerLocked applies the offer, publishes the answer, and confirms
// readiness with call-accept.
func (e *Engine) answerLocked(ctx context.Context, offer webrtc.SessionDescription) error {
	if err := e.session.AnswerOffer(ctx, offer); err != nil {
		return Classify(err)
	}
	accept := signaling.NewControl(signaling.KindCallAccept, e.self, e.peer, e.record.ID, "")
	if err := e.channel.Send(ctx, accept); err != nil {
		e.logger.Warn("call-accept publish failed, record carries the accept",
			"call_id", e.record.ID, "error", err)
	}
	return nil
}

// newSession builds the peer session with the engine's hooks attached.
func (e *Engine) newSession(ctx context.Context, callID string, peer identity.Identity) (*Session, error) {
	return NewSession(ctx, SessionConfig{
		CallID:     callID,
		Self:       e.self,
		Peer:       peer,
		Channel:    e.channel,
		Media:      e.media,
		ICEServers: e.iceServers,
		Logger:     e.logger,
		OnRemoteTrack: func(track *webrtc.TrackRemote) {
			e.remoteTrackArrived(track)
		},
		OnTransportState: func(state webrtc.PeerConnectionState) {
			go e.transportStateChanged(callID, state)
		},
	})
}

// remoteTrackArrived promotes the callee to connected: first remote
// media is proof the path works end to end.
func (e *Engine) remoteTrackArrived(track *webrtc.TrackRemote) {
	e.mu.Lock()
	if e.state == StateConnecting {
		e.setStateLocked(StateConnected)
	}
	e.mu.Unlock()
	e.emit(func() {
		if e.onRemoteTrack != nil {
			e.onRemoteTrack(track)
		}
	})
}

// transportStateChanged runs off pion's goroutines. Failed is fatal;
// disconnected is left to the ICE timeouts, which recover from brief
// outages without dropping the call.
func (e *Engine) transportStateChanged(callID string, state webrtc.PeerConnectionState) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.record == nil || e.record.ID != callID {
		return
	}
	switch state {
	case webrtc.PeerConnectionStateFailed:
		e.logger.Warn("peer connection failed", "call_id", callID)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := e.ledger.End(ctx, callID, "connection-failed"); err != nil {
			e.logger.Warn("ending failed call", "call_id", callID, "error", err)
		}
		e.failLocked(newError(ErrConnectionFailed, fmt.Errorf("call: peer connection failed")))
	case webrtc.PeerConnectionStateDisconnected:
		e.logger.Warn("peer connection disconnected, waiting for ICE recovery", "call_id", callID)
	}
}

// armRingTimerLocked schedules abandonment of an unanswered outgoing
// call. Zero timeout means ring until somebody decides.
func (e *Engine) armRingTimerLocked(callID string) {
	if e.ringTimeout <= 0 {
		return
	}
	e.ringTimer = e.clock.AfterFunc(e.ringTimeout, func() {
		e.ringTimedOut(callID)
	})
}

func (e *Engine) ringTimedOut(callID string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.record == nil || e.record.ID != callID || e.state != StateOutgoingRinging {
		return
	}
	e.logger.Info("outgoing call unanswered, giving up", "call_id", callID)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.ledger.End(ctx, callID, "ring-timeout"); err != nil {
		e.logger.Warn("ending unanswered call", "call_id", callID, "error", err)
	}
	end := signaling.NewControl(signaling.KindCallEnd, e.self, e.peer, callID, "ring-timeout")
	if err := e.channel.Send(ctx, end); err != nil {
		e.logger.Warn("end signal publish failed", "call_id", callID, "error", err)
	}
	e.teardownLocked("ring-timeout")
}

func (e *Engine) stopRingTimerLocked() {
	if e.ringTimer != nil {
		e.ringTimer.Stop()
		e.ringTimer = nil
	}
}

// failLocked surfaces an asynchronous failure and tears down.
func (e *Engine) failLocked(callErr *CallError) {
	e.emit(func() {
		if e.onError != nil {
			e.onError(callErr)
		}
	})
	e.teardownLocked(string(callErr.Code))
}

// teardownLocked returns the engine to idle: session closed, devices
// released, subscription left so repeated call dialogs never leak
// relay listeners.
func (e *Engine) teardownLocked(reason string) {
	e.stopRingTimerLocked()
	if e.session != nil {
		if err := e.session.Close(); err != nil {
			e.logger.Warn("session close failed", "error", err)
		}
		e.session = nil
	}
	e.channel.Close()
	e.record = nil
	e.peer = identity.Identity{}
	e.pendingOffer = nil
	e.accepted = false
	e.setStateLocked(StateIdle)
	e.logger.Debug("call state reset", "reason", reason)
}

// setStateLocked transitions the lifecycle state and queues the
// notification.
func (e *Engine) setStateLocked(state State) {
	if e.state == state {
		return
	}
	e.state = state
	if e.onStateChange == nil {
		return
	}
	notify := e.onStateChange
	e.emit(func() { notify(state) })
}

// emit queues one callback for the dispatcher, preserving order.
func (e *Engine) emit(fn func()) {
	select {
	case e.events <- fn:
	case <-e.done:
	}
}

// dispatchLoop runs callbacks off the engine mutex so they may call
// back into the engine.
func (e *Engine) dispatchLoop() {
	for {
		select {
		case fn := <-e.events:
			fn()
		case <-e.done:
			// Drain what was queued before shutdown.
			for {
				select {
				case fn := <-e.events:
					fn()
				default:
					return
				}
			}
		}
	}
}

// Copyright 2020 thinkgos (thinkgo@aliyun.com).  All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

// Package exchange implements the single in-flight CoAP request/response
// state machine: retransmission with exponential back-off, block-wise
// transfer (RFC 7959), separate responses, and interruption by an
// unrelated server request answered inline with 5.03. The engine is
// single-threaded and cooperative (§5): every entry point returns
// promptly, and the caller drives progress by calling Process in a loop
// with the event that just happened.
package exchange

import (
	"math/rand"

	"github.com/go-lwm2m/anj/clog"
	"github.com/go-lwm2m/anj/coap"
	"github.com/go-lwm2m/anj/core"
)

// State is one of the five states of §4.10.
type State int

const (
	StateIdle State = iota
	StateMsgToSend
	StateWaitSendConfirmation
	StateWaitMsg
	StateFinished
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateMsgToSend:
		return "MsgToSend"
	case StateWaitSendConfirmation:
		return "WaitSendConfirmation"
	case StateWaitMsg:
		return "WaitMsg"
	case StateFinished:
		return "Finished"
	default:
		return "unknown"
	}
}

// Event is one of the four events §4.10's process() accepts.
type Event int

const (
	EventNone Event = iota
	EventSendConfirmation
	EventNewMsg
	EventTimeout
)

// ReadPayloadFunc fills buf with up to len(buf) bytes of outbound payload
// for the current block. more reports whether further blocks remain
// (block-transfer-needed); format is only consulted on the first call of
// an exchange, to set the request's Content-Format option.
type ReadPayloadFunc func(buf []byte) (n int, more bool, format core.ContentFormat, err error)

// WritePayloadFunc delivers one inbound payload chunk (isLastBlock true on
// the final block of a block-2 response). A non-zero responseCode aborts
// the exchange with that code.
type WritePayloadFunc func(buf []byte, isLastBlock bool) (responseCode coap.Code, err error)

// CompletionFunc is invoked exactly once per exchange, after the engine
// reaches Finished. resp is nil when result is not ResultSuccess and the
// server never answered (timeout, terminated, terminated-by-server); it
// is also nil, with result carrying the CoAP error code, when the server
// answered with a 4.xx/5.xx.
type CompletionFunc func(resp *coap.Message, result core.ExchangeResult)

// NowMsFunc is the caller-injected monotonic millisecond clock; the engine
// never reads the clock on its own (§5).
type NowMsFunc func() int64

// Collaborators bundles the handler-table trio plus the clock §9 describes
// ("function-pointer handler tables... map directly to a capability
// interface").
type Collaborators struct {
	ReadPayload  ReadPayloadFunc
	WritePayload WritePayloadFunc
	Completion   CompletionFunc
	NowMs        NowMsFunc

	// Rand supplies the uniform-random jitter factor's source; nil uses
	// a math/rand source seeded with 1. Inject a seeded one for reproducible
	// tests (§9: "requires a seedable or injectable RNG").
	Rand *rand.Rand

	// Metrics is optional; nil disables instrumentation entirely.
	Metrics *Metrics
}

// Request describes one outbound exchange: method, URI path (segments,
// already split), Uri-Query strings verbatim ("ep=name", "Q", …), and
// whether it is sent confirmable.
type Request struct {
	Method        coap.Code
	Path          []string
	Queries       []string
	Confirmable   bool
	Accept        core.ContentFormat // Accept option; sent only when HasAccept is set
	HasAccept     bool
}

// Engine drives exactly one exchange at a time (§5: "a single exchange_ctx
// admits exactly one exchange at a time").
type Engine struct {
	cfg  Config
	coll Collaborators
	log  clog.Clog

	state State
	req   Request

	token [4]byte
	msgID uint16

	blockSZX    uint8
	blockNum    uint32
	haveMore    bool
	format      core.ContentFormat
	formatKnown bool

	pending *coap.Message // built, not yet confirmed sent

	attempt    int   // retransmits sent so far for the current confirmable message
	deadlineMs int64 // next WaitMsg timeout, or the WaitSendConfirmation deadline
	backoffMs  int64 // current retransmission interval; doubles on each attempt

	sawSeparateAck bool

	// interrupting holds an unrelated server request's reply while it is
	// being sent; once SendConfirmation fires for it, WaitMsg resumes
	// for the original exchange. savedDeadlineMs/savedAttempt preserve
	// the interrupted exchange's own retransmission state across it.
	interrupting    bool
	savedDeadlineMs int64
	savedAttempt    int

	// retransmitting marks a WaitSendConfirmation cycle started by
	// onTimeout's resend of e.pending, so onSent resumes WaitMsg without
	// re-initialising attempt/backoffMs (onTimeout already advanced them).
	retransmitting bool

	tokenCounter uint32
	msgIDCounter uint16

	done bool
}

// NewEngine builds an idle engine. cfg is validated (and defaulted) via
// Config.Valid before use; coll's four fields must all be non-nil.
func NewEngine(cfg Config, coll Collaborators, logger clog.Clog) (*Engine, error) {
	if err := cfg.Valid(); err != nil {
		return nil, err
	}
	if coll.ReadPayload == nil || coll.WritePayload == nil || coll.Completion == nil || coll.NowMs == nil {
		return nil, core.NewError(core.KindInputArg, "exchange: all collaborators are required")
	}
	if coll.Rand == nil {
		coll.Rand = rand.New(rand.NewSource(1))
	}
	return &Engine{cfg: cfg, coll: coll, log: logger, state: StateIdle}, nil
}

// State reports the engine's current state.
func (e *Engine) State() State { return e.state }

// OngoingExchange reports whether an exchange is in flight, per §5's
// invariant: true from NewClientRequest returning until completion fires.
func (e *Engine) OngoingExchange() bool { return e.state != StateIdle }

// NewClientRequest starts a new exchange. It fails with core.KindLogic if
// one is already ongoing.
func (e *Engine) NewClientRequest(req Request) error {
	if e.state != StateIdle {
		return core.NewError(core.KindLogic, "exchange: an exchange is already ongoing")
	}
	e.req = req
	e.tokenCounter++
	e.token = [4]byte{byte(e.tokenCounter >> 24), byte(e.tokenCounter >> 16), byte(e.tokenCounter >> 8), byte(e.tokenCounter)}
	e.msgIDCounter++
	e.msgID = e.msgIDCounter
	e.blockNum = 0
	e.haveMore = false
	e.formatKnown = false
	e.attempt = 0
	e.sawSeparateAck = false
	e.interrupting = false
	e.retransmitting = false
	e.done = false
	e.state = StateMsgToSend
	return nil
}

// Terminate forces Finished synchronously, invoking completion exactly
// once with ResultTerminated. It is idempotent: calling it again (or after
// the exchange already finished on its own) has no effect.
func (e *Engine) Terminate() {
	if e.state == StateIdle {
		return
	}
	e.finish(nil, core.ResultTerminated)
}

func (e *Engine) finish(resp *coap.Message, result core.ExchangeResult) {
	if e.done {
		return
	}
	e.done = true
	e.state = StateIdle
	e.log.Debug("exchange: finished token=%x result=%d", e.token, result)
	e.coll.Completion(resp, result)
}

// Process is the engine's single entry point, matching §4.10's
// process(event, msg). It returns the next message the caller must
// transmit (non-nil exactly when one is ready), or an error for a
// misuse of the API (e.g. Process called from Idle).
func (e *Engine) Process(event Event, msg *coap.Message) (*coap.Message, error) {
	now := e.coll.NowMs()

	switch e.state {
	case StateIdle:
		return nil, core.NewError(core.KindLogic, "exchange: process called with no ongoing exchange")

	case StateMsgToSend:
		if event != EventNone {
			return nil, core.NewError(core.KindLogic, "exchange: MsgToSend only accepts None")
		}
		out, err := e.buildNextOutbound()
		if err != nil {
			e.finish(nil, core.ResultInternalError)
			return nil, err
		}
		e.pending = out
		e.state = StateWaitSendConfirmation
		e.deadlineMs = now + e.cfg.SendAckTimeout.Milliseconds()
		return out, nil

	case StateWaitSendConfirmation:
		switch event {
		case EventSendConfirmation:
			return e.onSent(now)
		case EventTimeout, EventNone:
			if now >= e.deadlineMs {
				e.finish(nil, core.ResultSendACKTimeout)
				return nil, nil
			}
			return nil, nil
		default:
			return nil, nil
		}

	case StateWaitMsg:
		switch event {
		case EventNewMsg:
			return e.onMsg(msg, now)
		case EventTimeout:
			return e.onTimeout(now)
		default:
			return nil, nil
		}

	case StateFinished:
		return nil, nil
	}
	return nil, nil
}

// onSent handles the SendConfirmation event: the transport has put the
// pending message on the wire.
func (e *Engine) onSent(now int64) (*coap.Message, error) {
	confirmable := e.pending.Type == coap.Confirmable
	if e.interrupting {
		e.interrupting = false
		e.pending = nil
		e.attempt = e.savedAttempt
		e.deadlineMs = e.savedDeadlineMs
		e.state = StateWaitMsg
		return nil, nil
	}

	if e.retransmitting {
		e.retransmitting = false
		e.state = StateWaitMsg
		return nil, nil
	}

	if confirmable {
		e.attempt = 0
		e.backoffMs = e.initialDeadlineMs()
		e.deadlineMs = now + e.backoffMs
		e.state = StateWaitMsg
		return nil, nil
	}
	if e.haveMore {
		e.state = StateMsgToSend
		return e.Process(EventNone, nil)
	}
	e.finish(nil, core.ResultSuccess)
	return nil, nil
}

// initialDeadlineMs computes ack_timeout_ms * U(1, random_factor).
func (e *Engine) initialDeadlineMs() int64 {
	u := 1.0
	if e.cfg.RandomFactor > 1.0 {
		u = 1.0 + e.coll.Rand.Float64()*(e.cfg.RandomFactor-1.0)
	}
	return int64(float64(e.cfg.AckTimeout.Milliseconds()) * u)
}

// onTimeout handles the WaitMsg+Timeout transition: retransmit up to
// MaxRetransmit times with exponential back-off, or fail once that many
// retransmits have already gone out (MaxRetransmit retransmits plus the
// original send, the RFC 7252 ACK_TIMEOUT/MAX_RETRANSMIT exchange
// lifetime). e.attempt counts retransmits sent so far, not total sends.
func (e *Engine) onTimeout(now int64) (*coap.Message, error) {
	if now < e.deadlineMs {
		return nil, nil
	}
	if e.attempt >= e.cfg.MaxRetransmit {
		e.coll.Metrics.incTimeout()
		e.finish(nil, core.ResultTimeout)
		return nil, nil
	}
	e.attempt++
	e.backoffMs *= 2
	e.deadlineMs = now + e.backoffMs
	e.retransmitting = true
	e.state = StateWaitSendConfirmation
	e.coll.Metrics.incRetransmit()
	e.log.Warn("exchange: retransmit token=%x attempt=%d", e.token, e.attempt)
	return e.pending, nil
}

// onMsg handles the WaitMsg+NewMsg transition.
func (e *Engine) onMsg(msg *coap.Message, now int64) (*coap.Message, error) {
	if msg == nil {
		return nil, nil
	}

	if msg.Type == coap.Reset && tokenEqual(msg.Token, e.token[:]) {
		e.finish(nil, core.ResultTerminatedByPeer)
		return nil, nil
	}

	if msg.Type == coap.Acknowledgement && msg.Code == coap.CodeEmpty && tokenEqual(msg.Token, e.token[:]) {
		e.sawSeparateAck = true
		e.deadlineMs = now + e.cfg.SeparateResponseTimeout.Milliseconds()
		return nil, nil
	}

	if isRequestCode(msg.Code) && !tokenEqual(msg.Token, e.token[:]) {
		reply := &coap.Message{
			Type:  coap.Acknowledgement,
			Code:  coap.ServiceUnavailable,
			MsgID: msg.MsgID,
			Token: append([]byte(nil), msg.Token...),
		}
		e.interrupting = true
		e.savedDeadlineMs = e.deadlineMs
		e.savedAttempt = e.attempt
		e.coll.Metrics.incInterruption()
		e.log.Debug("exchange: interrupted by unrelated request msgid=%d, replying 5.03", msg.MsgID)
		e.pending = reply
		e.deadlineMs = now + e.cfg.SendAckTimeout.Milliseconds()
		e.state = StateWaitSendConfirmation
		return reply, nil
	}

	if !tokenEqual(msg.Token, e.token[:]) {
		return nil, nil
	}

	return e.handleMatchingResponse(msg, now)
}

// handleMatchingResponse processes a response that matches our token:
// it may carry the block we need to continue a block-1 upload (2.31
// Continue, or the final 2.xx), or it may be the server's own block-2
// transfer of a large response.
func (e *Engine) handleMatchingResponse(msg *coap.Message, now int64) (*coap.Message, error) {
	if msg.Code.IsError() {
		e.finish(nil, core.ExchangeResult(msg.Code))
		return nil, nil
	}

	if block2, ok := msg.GetOption(coap.OptionBlock2); ok {
		b := decodeBlockOption(block2)
		if b.Num != e.blockNum {
			// a duplicate or out-of-order block, most likely a
			// retransmitted response crossing our own retransmit on the
			// wire; keep waiting for the block we actually asked for.
			e.log.Debug("exchange: ignoring out-of-order block2 num=%d want=%d", b.Num, e.blockNum)
			return nil, nil
		}
		code, err := e.coll.WritePayload(msg.Payload, !b.More)
		if err != nil {
			e.finish(nil, core.ResultInternalError)
			return nil, err
		}
		if code != 0 {
			e.finish(nil, core.ExchangeResult(code))
			return nil, nil
		}
		if !b.More {
			e.finish(msg, core.ResultSuccess)
			return nil, nil
		}
		e.blockNum = b.Num + 1
		e.state = StateMsgToSend
		return e.Process(EventNone, nil)
	}

	if e.haveMore {
		// our block-1 upload continues: the server's 2.31 Continue
		// just tells us to send the next block.
		e.blockNum++
		e.state = StateMsgToSend
		return e.Process(EventNone, nil)
	}

	if len(msg.Payload) > 0 {
		if _, err := e.coll.WritePayload(msg.Payload, true); err != nil {
			e.finish(nil, core.ResultInternalError)
			return nil, err
		}
	}
	e.finish(msg, core.ResultSuccess)
	return nil, nil
}

// buildNextOutbound constructs the message for the current block: the
// first call of an exchange (blockNum==0, format unknown) as well as every
// subsequent block.
func (e *Engine) buildNextOutbound() (*coap.Message, error) {
	buf := make([]byte, szxBlockSize(blockSizeToSZX(e.cfg.BlockSize)))
	n, more, format, err := e.coll.ReadPayload(buf)
	if err != nil {
		return nil, err
	}
	if !e.formatKnown {
		e.format = format
		e.formatKnown = true
	}
	e.haveMore = more

	msgType := coap.NonConfirmable
	if e.req.Confirmable {
		msgType = coap.Confirmable
	}

	m := &coap.Message{
		Type:  msgType,
		Code:  e.req.Method,
		MsgID: e.msgID,
		Token: e.token[:],
	}
	m.SetUriPath(e.req.Path...)
	for _, q := range e.req.Queries {
		m.AddUriQuery(q)
	}
	if e.req.HasAccept {
		m.AddUintOption(coap.OptionAccept, uint32(e.req.Accept))
	}
	if n > 0 {
		m.AddUintOption(coap.OptionContentFormat, uint32(e.format))
	}

	usingBlock1 := more || e.blockNum > 0
	if usingBlock1 {
		szx := blockSizeToSZX(e.cfg.BlockSize)
		m.AddOption(coap.OptionBlock1, encodeBlockOption(blockOption{Num: e.blockNum, More: more, SZX: szx}))
	}
	m.Payload = append([]byte(nil), buf[:n]...)
	return m, nil
}

func tokenEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func isRequestCode(c coap.Code) bool {
	switch c {
	case coap.GET, coap.POST, coap.PUT, coap.DELETE:
		return true
	default:
		return false
	}
}

// Copyright 2020 thinkgos (thinkgo@aliyun.com).  All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package exchange

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/go-lwm2m/anj/clog"
	"github.com/go-lwm2m/anj/coap"
	"github.com/go-lwm2m/anj/core"
)

// fakeClock lets tests advance the engine's notion of now deterministically.
type fakeClock struct{ ms int64 }

func (c *fakeClock) now() int64    { return c.ms }
func (c *fakeClock) advance(d int64) { c.ms += d }

// harness bundles an Engine with a byte-producing payload and the
// completion result it observed, for the common single-block scenarios.
type harness struct {
	engine     *Engine
	clock      *fakeClock
	payload    []byte
	offset     int
	written    []byte
	result     *core.ExchangeResult
	resultResp *coap.Message
}

func newHarness(t *testing.T, cfg Config, payload []byte) *harness {
	t.Helper()
	h := &harness{clock: &fakeClock{ms: 1000}, payload: payload}
	coll := Collaborators{
		ReadPayload: func(buf []byte) (int, bool, core.ContentFormat, error) {
			n := copy(buf, h.payload[h.offset:])
			h.offset += n
			return n, h.offset < len(h.payload), core.FormatOpaque, nil
		},
		WritePayload: func(buf []byte, last bool) (coap.Code, error) {
			h.written = append(h.written, buf...)
			return 0, nil
		},
		Completion: func(resp *coap.Message, result core.ExchangeResult) {
			r := result
			h.result = &r
			h.resultResp = resp
		},
		NowMs: h.clock.now,
		Rand:  rand.New(rand.NewSource(42)),
	}
	eng, err := NewEngine(cfg, coll, clog.NewLogger("[test] "))
	require.NoError(t, err)
	h.engine = eng
	return h
}

func tinyConfig() Config {
	return Config{
		AckTimeout:              200 * time.Millisecond,
		RandomFactor:            1.0,
		MaxRetransmit:           4,
		SendAckTimeout:          1 * time.Second,
		SeparateResponseTimeout: 5 * time.Second,
		BlockSize:               16,
	}
}

// S1: non-confirmable send completes as soon as the transport confirms
// the send, with no retransmission machinery engaged at all.
func TestNonConfirmableSendCompletesOnSendConfirmation(t *testing.T) {
	h := newHarness(t, tinyConfig(), []byte("hi"))
	require.NoError(t, h.engine.NewClientRequest(Request{Method: coap.POST, Path: []string{"dp"}}))

	out, err := h.engine.Process(EventNone, nil)
	require.NoError(t, err)
	require.NotNil(t, out)
	require.Equal(t, coap.NonConfirmable, out.Type)

	_, err = h.engine.Process(EventSendConfirmation, nil)
	require.NoError(t, err)

	require.False(t, h.engine.OngoingExchange())
	require.NotNil(t, h.result)
	require.Equal(t, core.ResultSuccess, *h.result)
}

// S2: a confirmable Register whose payload exceeds one block drives a
// block-1 upload, continuing on each 2.31 Continue until the final 2.xx.
func TestConfirmableRegisterBlockwiseUpload(t *testing.T) {
	payload := make([]byte, 40) // 3 blocks of 16
	for i := range payload {
		payload[i] = byte(i)
	}
	h := newHarness(t, tinyConfig(), payload)
	require.NoError(t, h.engine.NewClientRequest(Request{Method: coap.POST, Path: []string{"rd"}, Confirmable: true}))

	out, err := h.engine.Process(EventNone, nil)
	require.NoError(t, err)
	require.NotNil(t, out)
	b1, ok := out.GetOption(coap.OptionBlock1)
	require.True(t, ok)
	block := decodeBlockOption(b1)
	require.Equal(t, uint32(0), block.Num)
	require.True(t, block.More)

	out, err = h.engine.Process(EventSendConfirmation, nil)
	require.NoError(t, err)
	require.Nil(t, out)
	require.Equal(t, StateWaitMsg, h.engine.State())

	ack1 := &coap.Message{Type: coap.Acknowledgement, Code: coap.Continue, MsgID: 1, Token: h.engine.token[:]}
	out, err = h.engine.Process(EventNewMsg, ack1)
	require.NoError(t, err)
	require.NotNil(t, out)
	b1, _ = out.GetOption(coap.OptionBlock1)
	block = decodeBlockOption(b1)
	require.Equal(t, uint32(1), block.Num)

	out, err = h.engine.Process(EventSendConfirmation, nil)
	require.NoError(t, err)
	require.Nil(t, out)

	ack2 := &coap.Message{Type: coap.Acknowledgement, Code: coap.Continue, MsgID: 2, Token: h.engine.token[:]}
	out, err = h.engine.Process(EventNewMsg, ack2)
	require.NoError(t, err)
	require.NotNil(t, out)
	b1, _ = out.GetOption(coap.OptionBlock1)
	block = decodeBlockOption(b1)
	require.Equal(t, uint32(2), block.Num)
	require.False(t, block.More)

	_, err = h.engine.Process(EventSendConfirmation, nil)
	require.NoError(t, err)

	final := &coap.Message{Type: coap.Acknowledgement, Code: coap.Changed, MsgID: 3, Token: h.engine.token[:]}
	_, err = h.engine.Process(EventNewMsg, final)
	require.NoError(t, err)

	require.False(t, h.engine.OngoingExchange())
	require.Equal(t, core.ResultSuccess, *h.result)
}

// S3: a request arriving with a different token while WaitMsg is pending
// is answered inline with 5.03 and does not disturb the exchange's own
// retransmission deadline.
func TestInterruptionByUnrelatedRequestRepliesServiceUnavailable(t *testing.T) {
	h := newHarness(t, tinyConfig(), []byte("x"))
	require.NoError(t, h.engine.NewClientRequest(Request{Method: coap.GET, Path: []string{"3", "0", "1"}, Confirmable: true}))

	out, err := h.engine.Process(EventNone, nil)
	require.NoError(t, err)
	_, err = h.engine.Process(EventSendConfirmation, nil)
	require.NoError(t, err)
	require.Equal(t, StateWaitMsg, h.engine.State())
	savedDeadline := h.engine.deadlineMs
	savedAttempt := h.engine.attempt
	_ = out

	unrelated := &coap.Message{Type: coap.Confirmable, Code: coap.PUT, MsgID: 99, Token: []byte{9, 9, 9, 9}}
	reply, err := h.engine.Process(EventNewMsg, unrelated)
	require.NoError(t, err)
	require.NotNil(t, reply)
	require.Equal(t, coap.ServiceUnavailable, reply.Code)
	require.Equal(t, coap.Acknowledgement, reply.Type)
	require.Equal(t, unrelated.Token, reply.Token)
	require.Equal(t, StateWaitSendConfirmation, h.engine.State())

	_, err = h.engine.Process(EventSendConfirmation, nil)
	require.NoError(t, err)
	require.Equal(t, StateWaitMsg, h.engine.State())
	require.Equal(t, savedDeadline, h.engine.deadlineMs)
	require.Equal(t, savedAttempt, h.engine.attempt)

	resp := &coap.Message{Type: coap.Acknowledgement, Code: coap.Content, MsgID: 1, Token: h.engine.token[:]}
	_, err = h.engine.Process(EventNewMsg, resp)
	require.NoError(t, err)
	require.False(t, h.engine.OngoingExchange())
	require.Equal(t, core.ResultSuccess, *h.result)
}

// S6: MaxRetransmit retransmits are sent (doubling back-off each time)
// before the exchange completes with result timeout, after exactly
// MaxRetransmit+1 deadline expiries.
func TestExchangeTimeoutAfterMaxRetransmit(t *testing.T) {
	cfg := tinyConfig()
	cfg.MaxRetransmit = 4
	h := newHarness(t, cfg, []byte("x"))
	require.NoError(t, h.engine.NewClientRequest(Request{Method: coap.GET, Path: []string{"3", "0", "1"}, Confirmable: true}))

	_, err := h.engine.Process(EventNone, nil)
	require.NoError(t, err)
	_, err = h.engine.Process(EventSendConfirmation, nil)
	require.NoError(t, err)
	require.Equal(t, StateWaitMsg, h.engine.State())

	initialBackoff := h.engine.backoffMs
	sends := 1
	for i := 0; i < cfg.MaxRetransmit; i++ {
		h.clock.advance(h.engine.backoffMs + 1)
		out, err := h.engine.Process(EventTimeout, nil)
		require.NoError(t, err)
		require.NotNil(t, out, "retransmit %d must resend the pending message", i+1)
		sends++
		require.Equal(t, initialBackoff<<uint(i+1), h.engine.backoffMs)

		_, err = h.engine.Process(EventSendConfirmation, nil)
		require.NoError(t, err)
		require.Equal(t, StateWaitMsg, h.engine.State())
	}
	require.Equal(t, cfg.MaxRetransmit+1, sends)

	h.clock.advance(h.engine.backoffMs + 1)
	out, err := h.engine.Process(EventTimeout, nil)
	require.NoError(t, err)
	require.Nil(t, out)
	require.False(t, h.engine.OngoingExchange())
	require.Equal(t, core.ResultTimeout, *h.result)
}

func TestOngoingExchangeInvariantAcrossLifecycle(t *testing.T) {
	h := newHarness(t, tinyConfig(), []byte("x"))
	require.False(t, h.engine.OngoingExchange())
	require.NoError(t, h.engine.NewClientRequest(Request{Method: coap.POST, Path: []string{"dp"}}))
	require.True(t, h.engine.OngoingExchange())

	_, err := h.engine.Process(EventNone, nil)
	require.NoError(t, err)
	require.True(t, h.engine.OngoingExchange())
	_, err = h.engine.Process(EventSendConfirmation, nil)
	require.NoError(t, err)
	require.False(t, h.engine.OngoingExchange())
}

func TestCompletionFiresExactlyOnceOnTerminate(t *testing.T) {
	h := newHarness(t, tinyConfig(), []byte("x"))
	require.NoError(t, h.engine.NewClientRequest(Request{Method: coap.GET, Path: []string{"3"}, Confirmable: true}))
	_, _ = h.engine.Process(EventNone, nil)

	h.engine.Terminate()
	require.Equal(t, core.ResultTerminated, *h.result)

	h.engine.Terminate() // idempotent: no panic, no second completion call
	require.Equal(t, core.ResultTerminated, *h.result)
}

func TestResetFromPeerTerminatesByPeer(t *testing.T) {
	h := newHarness(t, tinyConfig(), []byte("x"))
	require.NoError(t, h.engine.NewClientRequest(Request{Method: coap.GET, Path: []string{"3"}, Confirmable: true}))
	_, _ = h.engine.Process(EventNone, nil)
	_, _ = h.engine.Process(EventSendConfirmation, nil)

	rst := &coap.Message{Type: coap.Reset, MsgID: 1, Token: h.engine.token[:]}
	_, err := h.engine.Process(EventNewMsg, rst)
	require.NoError(t, err)
	require.Equal(t, core.ResultTerminatedByPeer, *h.result)
}

func TestBlock2DownloadSequentialBlocks(t *testing.T) {
	h := newHarness(t, tinyConfig(), []byte("x"))
	require.NoError(t, h.engine.NewClientRequest(Request{Method: coap.GET, Path: []string{"3", "0"}, Confirmable: true}))
	_, _ = h.engine.Process(EventNone, nil)
	_, _ = h.engine.Process(EventSendConfirmation, nil)

	block0 := &coap.Message{
		Type: coap.Acknowledgement, Code: coap.Content, MsgID: 1, Token: h.engine.token[:],
		Payload: []byte("AAAA"),
	}
	block0.AddOption(coap.OptionBlock2, encodeBlockOption(blockOption{Num: 0, More: true, SZX: 0}))
	out, err := h.engine.Process(EventNewMsg, block0)
	require.NoError(t, err)
	require.NotNil(t, out)
	require.Equal(t, "AAAA", string(h.written))

	_, err = h.engine.Process(EventSendConfirmation, nil)
	require.NoError(t, err)

	block1 := &coap.Message{
		Type: coap.Acknowledgement, Code: coap.Content, MsgID: 2, Token: h.engine.token[:],
		Payload: []byte("BBBB"),
	}
	block1.AddOption(coap.OptionBlock2, encodeBlockOption(blockOption{Num: 1, More: false, SZX: 0}))
	_, err = h.engine.Process(EventNewMsg, block1)
	require.NoError(t, err)

	require.Equal(t, "AAAABBBB", string(h.written))
	require.False(t, h.engine.OngoingExchange())
	require.Equal(t, core.ResultSuccess, *h.result)
}

func TestBlock2DownloadDuplicateBlockIgnored(t *testing.T) {
	h := newHarness(t, tinyConfig(), []byte("x"))
	require.NoError(t, h.engine.NewClientRequest(Request{Method: coap.GET, Path: []string{"3", "0"}, Confirmable: true}))
	_, _ = h.engine.Process(EventNone, nil)
	_, _ = h.engine.Process(EventSendConfirmation, nil)

	block0 := &coap.Message{
		Type: coap.Acknowledgement, Code: coap.Content, MsgID: 1, Token: h.engine.token[:],
		Payload: []byte("AAAA"),
	}
	block0.AddOption(coap.OptionBlock2, encodeBlockOption(blockOption{Num: 0, More: true, SZX: 0}))
	_, err := h.engine.Process(EventNewMsg, block0)
	require.NoError(t, err)
	_, err = h.engine.Process(EventSendConfirmation, nil)
	require.NoError(t, err)
	require.Equal(t, StateWaitMsg, h.engine.State())

	// A stray retransmit of block 0 arrives again; it must be ignored,
	// not re-written or mistaken for the still-outstanding block 1.
	dup := &coap.Message{
		Type: coap.Acknowledgement, Code: coap.Content, MsgID: 1, Token: h.engine.token[:],
		Payload: []byte("AAAA"),
	}
	dup.AddOption(coap.OptionBlock2, encodeBlockOption(blockOption{Num: 0, More: true, SZX: 0}))
	out, err := h.engine.Process(EventNewMsg, dup)
	require.NoError(t, err)
	require.Nil(t, out)
	require.Equal(t, "AAAA", string(h.written))
	require.Equal(t, StateWaitMsg, h.engine.State())
	require.True(t, h.engine.OngoingExchange())
}

// Terminate mid-download must stop the exchange cleanly after only the
// first block has been written, with no further Process calls expected.
func TestTerminateMidBlockTransferStopsCleanly(t *testing.T) {
	h := newHarness(t, tinyConfig(), []byte("x"))
	require.NoError(t, h.engine.NewClientRequest(Request{Method: coap.GET, Path: []string{"3", "0"}, Confirmable: true}))
	_, _ = h.engine.Process(EventNone, nil)
	_, _ = h.engine.Process(EventSendConfirmation, nil)

	block0 := &coap.Message{
		Type: coap.Acknowledgement, Code: coap.Content, MsgID: 1, Token: h.engine.token[:],
		Payload: []byte("AAAA"),
	}
	block0.AddOption(coap.OptionBlock2, encodeBlockOption(blockOption{Num: 0, More: true, SZX: 0}))
	_, err := h.engine.Process(EventNewMsg, block0)
	require.NoError(t, err)
	_, err = h.engine.Process(EventSendConfirmation, nil)
	require.NoError(t, err)
	require.Equal(t, StateWaitMsg, h.engine.State())
	require.Equal(t, "AAAA", string(h.written))

	h.engine.Terminate()
	require.False(t, h.engine.OngoingExchange())
	require.Equal(t, core.ResultTerminated, *h.result)

	h.engine.Terminate() // idempotent even mid-transfer
	require.Equal(t, core.ResultTerminated, *h.result)
}

func TestErrorResponseEndsExchangeWithCoAPCode(t *testing.T) {
	h := newHarness(t, tinyConfig(), []byte("x"))
	require.NoError(t, h.engine.NewClientRequest(Request{Method: coap.GET, Path: []string{"99"}, Confirmable: true}))
	_, _ = h.engine.Process(EventNone, nil)
	_, _ = h.engine.Process(EventSendConfirmation, nil)

	notFound := &coap.Message{Type: coap.Acknowledgement, Code: coap.NotFound, MsgID: 1, Token: h.engine.token[:]}
	_, err := h.engine.Process(EventNewMsg, notFound)
	require.NoError(t, err)
	require.Equal(t, core.ExchangeResult(coap.NotFound), *h.result)
	require.Nil(t, h.resultResp)
}

func TestNewClientRequestRejectedWhileOngoing(t *testing.T) {
	h := newHarness(t, tinyConfig(), []byte("x"))
	require.NoError(t, h.engine.NewClientRequest(Request{Method: coap.GET, Path: []string{"3"}, Confirmable: true}))
	err := h.engine.NewClientRequest(Request{Method: coap.GET, Path: []string{"4"}, Confirmable: true})
	require.Error(t, err)
}

func TestRetransmissionResendsByteIdenticalMessage(t *testing.T) {
	cfg := tinyConfig()
	h := newHarness(t, cfg, []byte("x"))
	require.NoError(t, h.engine.NewClientRequest(Request{Method: coap.GET, Path: []string{"3", "0", "1"}, Confirmable: true}))
	first, err := h.engine.Process(EventNone, nil)
	require.NoError(t, err)
	_, err = h.engine.Process(EventSendConfirmation, nil)
	require.NoError(t, err)

	h.clock.advance(h.engine.backoffMs + 1)
	resend, err := h.engine.Process(EventTimeout, nil)
	require.NoError(t, err)
	require.Equal(t, first.Token, resend.Token)
	require.Equal(t, first.MsgID, resend.MsgID)
	require.Equal(t, first.Payload, resend.Payload)
	require.Equal(t, first.Code, resend.Code)
}

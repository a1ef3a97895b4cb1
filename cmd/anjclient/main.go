// Copyright 2020 thinkgos (thinkgo@aliyun.com).  All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

// Command anjclient is a small demonstration client driving exchange.Engine
// over a real UDP socket: the socket/transport binding is an external
// collaborator of the core engine, not part of it, but this shows how one
// is wired up.
package main

import (
	"fmt"
	"math/rand"
	"net"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/go-lwm2m/anj/clog"
	"github.com/go-lwm2m/anj/coap"
	"github.com/go-lwm2m/anj/codec"
	"github.com/go-lwm2m/anj/core"
	"github.com/go-lwm2m/anj/exchange"
)

var (
	flagServer    string
	flagEndpoint  string
	flagLifetime  int
	flagVerbose   bool
)

func main() {
	root := &cobra.Command{
		Use:   "anjclient",
		Short: "Demonstration CoAP/LwM2M client built on the anj exchange engine",
	}
	root.PersistentFlags().StringVar(&flagServer, "server", "127.0.0.1:5683", "management server UDP address")
	root.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")

	registerCmd := &cobra.Command{
		Use:   "register",
		Short: "Register this endpoint with the management server",
		RunE:  runRegister,
	}
	registerCmd.Flags().StringVar(&flagEndpoint, "endpoint", "anj-demo", "endpoint name (ep= query)")
	registerCmd.Flags().IntVar(&flagLifetime, "lifetime", 3600, "registration lifetime in seconds (lt= query)")

	sendCmd := &cobra.Command{
		Use:   "send [object] [instance] [resource] [int-value]",
		Short: "Send a single integer resource to /dp (non-confirmable)",
		Args:  cobra.ExactArgs(4),
		RunE:  runSend,
	}

	root.AddCommand(registerCmd, sendCmd)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// udpTransport is the minimal real transport glue the exchange engine needs:
// a way to put a built message on the wire and a way to read the next
// incoming one. It is intentionally not part of the exchange package, which
// only knows about *coap.Message (§1: "the socket/transport binding" is an
// external collaborator).
type udpTransport struct {
	conn *net.UDPConn
}

func dial(addr string) (*udpTransport, error) {
	raddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, err
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return nil, err
	}
	return &udpTransport{conn: conn}, nil
}

func (t *udpTransport) send(m *coap.Message) error {
	_, err := t.conn.Write(coap.Encode(nil, m))
	return err
}

func (t *udpTransport) recv(timeout time.Duration) (*coap.Message, error) {
	buf := make([]byte, 2048)
	if err := t.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, err
	}
	n, err := t.conn.Read(buf)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return nil, nil
		}
		return nil, err
	}
	return coap.Decode(buf[:n])
}

// runExchange drives a single engine instance to completion against the
// transport, polling for the event the caller would otherwise get from a
// proper select loop over timers and a socket read.
func runExchange(eng *exchange.Engine, t *udpTransport, out *coap.Message, done chan struct{}) {
	poll := 50 * time.Millisecond
	for eng.OngoingExchange() {
		if out != nil {
			if err := t.send(out); err != nil {
				fmt.Fprintln(os.Stderr, "send:", err)
				eng.Terminate()
				break
			}
			out, _ = eng.Process(exchange.EventSendConfirmation, nil)
			continue
		}
		msg, err := t.recv(poll)
		if err != nil {
			fmt.Fprintln(os.Stderr, "recv:", err)
			eng.Terminate()
			break
		}
		if msg != nil {
			out, _ = eng.Process(exchange.EventNewMsg, msg)
			continue
		}
		out, _ = eng.Process(exchange.EventTimeout, nil)
	}
	close(done)
}

func runRegister(cmd *cobra.Command, args []string) error {
	t, err := dial(flagServer)
	if err != nil {
		return err
	}
	defer t.conn.Close()

	payload := buildLinkPayload()
	offset := 0

	logger := clog.NewLogger("[anjclient] ")
	logger.LogMode(flagVerbose)

	metrics := exchange.NewMetrics(flagEndpoint)
	registerer := prometheus.NewRegistry()
	_ = registerer.Register(metrics.Retransmits)
	_ = registerer.Register(metrics.Timeouts)
	_ = registerer.Register(metrics.Interruptions)

	cfg := exchange.DefaultConfig()
	coll := exchange.Collaborators{
		ReadPayload: func(buf []byte) (int, bool, core.ContentFormat, error) {
			n := copy(buf, payload[offset:])
			offset += n
			return n, offset < len(payload), core.FormatLinkFormat, nil
		},
		WritePayload: func(buf []byte, isLastBlock bool) (coap.Code, error) { return 0, nil },
		Completion: func(resp *coap.Message, result core.ExchangeResult) {
			fmt.Printf("register result=%s\n", result)
		},
		NowMs:   func() int64 { return time.Now().UnixMilli() },
		Rand:    rand.New(rand.NewSource(time.Now().UnixNano())),
		Metrics: metrics,
	}
	eng, err := exchange.NewEngine(cfg, coll, logger)
	if err != nil {
		return err
	}
	if err := eng.NewClientRequest(exchange.Request{
		Method:      coap.POST,
		Path:        []string{"rd"},
		Queries:     []string{"ep=" + flagEndpoint, fmt.Sprintf("lt=%d", flagLifetime)},
		Confirmable: true,
	}); err != nil {
		return err
	}

	first, err := eng.Process(exchange.EventNone, nil)
	if err != nil {
		return err
	}
	done := make(chan struct{})
	runExchange(eng, t, first, done)
	<-done
	return nil
}

func runSend(cmd *cobra.Command, args []string) error {
	return fmt.Errorf("send: no data-model registry wired for this demo")
}

func buildLinkPayload() []byte {
	enc := &codec.LinkEncoder{}
	if err := enc.InitLink(core.OpRegister, 0, ""); err != nil {
		return nil
	}
	buf := make([]byte, 512)
	n, _ := enc.Finish(buf)
	return buf[:n]
}

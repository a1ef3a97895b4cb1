// Copyright 2020 thinkgos (thinkgo@aliyun.com).  All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package exchange

import "github.com/prometheus/client_golang/prometheus"

// Metrics is an optional set of counters an Engine increments as it runs.
// Unlike a package-level promauto registration, the caller constructs and
// registers these themselves (§5 forbids global state in the core); a nil
// *Metrics, or a nil field within one, simply skips that increment.
type Metrics struct {
	Retransmits   prometheus.Counter
	Timeouts      prometheus.Counter
	Interruptions prometheus.Counter
}

// NewMetrics builds a Metrics with one counter per field, labelled with the
// given endpoint name, ready for the caller to register against their own
// prometheus.Registerer.
func NewMetrics(endpoint string) *Metrics {
	labels := prometheus.Labels{"endpoint": endpoint}
	return &Metrics{
		Retransmits: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "anj_exchange_retransmits_total",
			Help:        "confirmable messages retransmitted after an ACK timeout",
			ConstLabels: labels,
		}),
		Timeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "anj_exchange_timeouts_total",
			Help:        "exchanges that failed after exhausting max_retransmit",
			ConstLabels: labels,
		}),
		Interruptions: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "anj_exchange_interruptions_total",
			Help:        "unrelated server requests answered with 5.03 while an exchange was in flight",
			ConstLabels: labels,
		}),
	}
}

func (m *Metrics) incRetransmit() {
	if m != nil && m.Retransmits != nil {
		m.Retransmits.Inc()
	}
}

func (m *Metrics) incTimeout() {
	if m != nil && m.Timeouts != nil {
		m.Timeouts.Inc()
	}
}

func (m *Metrics) incInterruption() {
	if m != nil && m.Interruptions != nil {
		m.Interruptions.Inc()
	}
}

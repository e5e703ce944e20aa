// Package checker defines the contract between the scheduling pipeline and
// the protocol check implementations, plus the built-in checkers for the
// common network types. Types without a built-in implementation are served
// by remote probes; the pipeline only ever sees typed outcomes.
package checker

import (
	"context"

	"github.com/pulsegrid/pulsegrid/internal/db"
)

// Outcome is the raw result of one check attempt, before classification.
type Outcome struct {
	// Completed is false when the attempt could not produce a verdict at
	// all: pre-flight DNS failure, TLS handshake failure, malformed
	// response.
	Completed bool `json:"completed"`
	// TimedOut is set when execution exceeded the monitor's timeout.
	TimedOut bool `json:"timed_out"`
	// Matched reports whether the check's success criteria held (status
	// code, assertion, connectivity).
	Matched bool `json:"matched"`

	ResponseTimeMs int `json:"response_time_ms"`
	StatusCode     int `json:"status_code,omitempty"`

	// Timing breakdown, zero where a phase does not apply.
	DNSMs      int `json:"dns_ms,omitempty"`
	TCPMs      int `json:"tcp_ms,omitempty"`
	TLSMs      int `json:"tls_ms,omitempty"`
	TTFBMs     int `json:"ttfb_ms,omitempty"`
	TransferMs int `json:"transfer_ms,omitempty"`

	// Measurement is an optional numeric SLI (pagespeed score, sample
	// value) evaluated against the monitor's thresholds. nil means the
	// value could not be read.
	Measurement *float64 `json:"measurement,omitempty"`

	ErrorCode    string `json:"error_code,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`

	// Payload carries protocol-specific detail (headers, certificate
	// info, email auth, web vitals) straight into CheckResult.Payload.
	Payload db.JSONB `json:"payload,omitempty"`
}

// Checker performs one check attempt. Implementations must honor ctx
// cancellation; the caller cancels at the monitor's timeout boundary and
// classifies the attempt as a timeout.
type Checker interface {
	Check(ctx context.Context, monitor *db.Monitor, region string) *Outcome
}

// Registry maps monitor types to their checker implementations.
type Registry map[db.MonitorType]Checker

func (r Registry) For(t db.MonitorType) (Checker, bool) {
	c, ok := r[t]
	return c, ok
}

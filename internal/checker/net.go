package checker

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/pulsegrid/pulsegrid/internal/db"
)

// TCPChecker verifies that a TCP endpoint accepts connections. It backs
// the tcp monitor type and the port-level database and broker types,
// where reachability is the success criterion.
type TCPChecker struct {
	dialer *net.Dialer
}

func NewTCPChecker() *TCPChecker {
	return &TCPChecker{dialer: &net.Dialer{}}
}

func (t *TCPChecker) Check(ctx context.Context, monitor *db.Monitor, region string) *Outcome {
	o := &Outcome{}
	addr := net.JoinHostPort(monitor.Target, fmt.Sprintf("%d", monitor.Config.Port))

	start := time.Now()
	conn, err := t.dialer.DialContext(ctx, "tcp", addr)
	o.ResponseTimeMs = int(time.Since(start).Milliseconds())
	o.TCPMs = o.ResponseTimeMs
	if err != nil {
		if ctx.Err() != nil {
			o.TimedOut = true
			return o
		}
		o.Completed = true
		o.ErrorCode = "connection_refused"
		o.ErrorMessage = err.Error()
		return o
	}
	conn.Close()

	o.Completed = true
	o.Matched = true
	return o
}

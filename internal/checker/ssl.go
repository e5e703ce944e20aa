package checker

import (
	"context"
	"crypto/tls"
	"net"
	"net/url"
	"time"

	"github.com/pulsegrid/pulsegrid/internal/db"
)

// SSLChecker validates the certificate chain presented by a TLS endpoint
// and measures the days left before expiry.
type SSLChecker struct{}

func NewSSLChecker() *SSLChecker {
	return &SSLChecker{}
}

func (s *SSLChecker) Check(ctx context.Context, monitor *db.Monitor, region string) *Outcome {
	o := &Outcome{Payload: db.JSONB{}}

	hostname := monitor.Target
	port := "443"
	if u, err := url.Parse(monitor.Target); err == nil && u.Hostname() != "" {
		hostname = u.Hostname()
		if u.Port() != "" {
			port = u.Port()
		}
	}

	dialer := &tls.Dialer{Config: &tls.Config{ServerName: hostname}}
	start := time.Now()
	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(hostname, port))
	o.ResponseTimeMs = int(time.Since(start).Milliseconds())
	o.TLSMs = o.ResponseTimeMs
	if err != nil {
		if ctx.Err() != nil {
			o.TimedOut = true
			return o
		}
		o.Completed = true
		o.ErrorCode = "tls_handshake_failed"
		o.ErrorMessage = err.Error()
		return o
	}
	defer conn.Close()

	certs := conn.(*tls.Conn).ConnectionState().PeerCertificates
	if len(certs) == 0 {
		o.ErrorCode = "no_certificate"
		o.ErrorMessage = "peer presented no certificates"
		return o
	}
	cert := certs[0]
	o.Completed = true

	now := time.Now()
	daysLeft := int(cert.NotAfter.Sub(now).Hours() / 24)
	o.Payload["issuer"] = cert.Issuer.CommonName
	o.Payload["not_after"] = cert.NotAfter
	o.Payload["days_until_expiry"] = daysLeft

	if now.Before(cert.NotBefore) {
		o.ErrorCode = "certificate_not_yet_valid"
		o.ErrorMessage = "certificate not yet valid"
		return o
	}
	if now.After(cert.NotAfter) {
		o.ErrorCode = "certificate_expired"
		o.ErrorMessage = "certificate expired"
		return o
	}

	minDays := monitor.Config.MinDaysBeforeExpiry
	if minDays > 0 && daysLeft < minDays {
		o.ErrorCode = "certificate_expiring"
		o.ErrorMessage = "certificate expires soon"
		return o
	}

	o.Matched = true
	return o
}

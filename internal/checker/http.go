package checker

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptrace"
	"strings"
	"time"

	"github.com/pulsegrid/pulsegrid/internal/db"
)

// HTTPChecker serves the http and https monitor types. The transport is
// shared across attempts; per-attempt deadlines come from the caller's
// context.
type HTTPChecker struct {
	transport http.RoundTripper
}

func NewHTTPChecker() *HTTPChecker {
	return &HTTPChecker{
		transport: &http.Transport{
			TLSClientConfig:   &tls.Config{InsecureSkipVerify: false},
			DisableKeepAlives: true,
		},
	}
}

func (h *HTTPChecker) Check(ctx context.Context, monitor *db.Monitor, region string) *Outcome {
	o := &Outcome{Payload: db.JSONB{}}

	method := monitor.Config.Method
	if method == "" {
		method = http.MethodGet
	}
	var body io.Reader
	if monitor.Config.Body != "" {
		body = strings.NewReader(monitor.Config.Body)
	}

	req, err := http.NewRequestWithContext(ctx, method, monitor.Target, body)
	if err != nil {
		o.ErrorCode = "invalid_request"
		o.ErrorMessage = err.Error()
		return o
	}
	for k, v := range monitor.Config.Headers {
		req.Header.Set(k, v)
	}
	if monitor.Config.BasicAuth != nil {
		req.SetBasicAuth(monitor.Config.BasicAuth.Username, monitor.Config.BasicAuth.Password)
	}

	var dnsStart, connStart, tlsStart, wroteRequest time.Time
	trace := &httptrace.ClientTrace{
		DNSStart:          func(httptrace.DNSStartInfo) { dnsStart = time.Now() },
		DNSDone:           func(httptrace.DNSDoneInfo) { o.DNSMs = msSince(dnsStart) },
		ConnectStart:      func(string, string) { connStart = time.Now() },
		ConnectDone:       func(string, string, error) { o.TCPMs = msSince(connStart) },
		TLSHandshakeStart: func() { tlsStart = time.Now() },
		TLSHandshakeDone: func(tls.ConnectionState, error) {
			o.TLSMs = msSince(tlsStart)
		},
		WroteRequest: func(httptrace.WroteRequestInfo) { wroteRequest = time.Now() },
		GotFirstResponseByte: func() {
			o.TTFBMs = msSince(wroteRequest)
		},
	}
	req = req.WithContext(httptrace.WithClientTrace(req.Context(), trace))

	client := &http.Client{Transport: h.transport}
	if !monitor.Config.FollowRedirects {
		client.CheckRedirect = func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		}
	}

	start := time.Now()
	resp, err := client.Do(req)
	o.ResponseTimeMs = int(time.Since(start).Milliseconds())
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
			o.TimedOut = true
			return o
		}
		o.ErrorCode = "connection_failed"
		o.ErrorMessage = err.Error()
		return o
	}
	defer resp.Body.Close()

	o.Completed = true
	o.StatusCode = resp.StatusCode
	o.Payload["final_url"] = resp.Request.URL.String()

	expected := monitor.Config.ExpectedStatusCodes
	if len(expected) == 0 {
		if resp.StatusCode < 200 || resp.StatusCode >= 400 {
			o.ErrorCode = "unexpected_status"
			o.ErrorMessage = fmt.Sprintf("unexpected status code %d", resp.StatusCode)
			return o
		}
	} else {
		matched := false
		for _, code := range expected {
			if resp.StatusCode == code {
				matched = true
				break
			}
		}
		if !matched {
			o.ErrorCode = "unexpected_status"
			o.ErrorMessage = fmt.Sprintf("unexpected status code %d", resp.StatusCode)
			return o
		}
	}

	transferStart := time.Now()
	if monitor.Config.SearchString != "" {
		raw, err := io.ReadAll(io.LimitReader(resp.Body, 2<<20))
		if err != nil {
			if ctx.Err() != nil {
				o.TimedOut = true
				return o
			}
			o.ErrorCode = "body_read_failed"
			o.ErrorMessage = err.Error()
			return o
		}
		if !strings.Contains(string(raw), monitor.Config.SearchString) {
			o.ErrorCode = "content_mismatch"
			o.ErrorMessage = "search string not found in response"
			return o
		}
	} else {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 2<<20))
	}
	o.TransferMs = msSince(transferStart)

	o.Matched = true
	return o
}

func msSince(t time.Time) int {
	if t.IsZero() {
		return 0
	}
	return int(time.Since(t).Milliseconds())
}

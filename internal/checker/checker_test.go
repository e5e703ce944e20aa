package checker

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulsegrid/pulsegrid/internal/db"
)

func httpMonitor(target string) *db.Monitor {
	return &db.Monitor{
		ID:        "m-1",
		OrgID:     "org-1",
		Type:      db.MonitorTypeHTTP,
		Target:    target,
		TimeoutMs: 5000,
	}
}

func TestHTTPCheckerMatchesExpectedStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	m := httpMonitor(srv.URL)
	m.Config.ExpectedStatusCodes = []int{204}

	o := NewHTTPChecker().Check(context.Background(), m, "default")
	assert.True(t, o.Completed)
	assert.True(t, o.Matched)
	assert.Equal(t, 204, o.StatusCode)
}

func TestHTTPCheckerRejectsUnexpectedStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	o := NewHTTPChecker().Check(context.Background(), httpMonitor(srv.URL), "default")
	assert.True(t, o.Completed)
	assert.False(t, o.Matched)
	assert.Equal(t, "unexpected_status", o.ErrorCode)
}

func TestHTTPCheckerSearchString(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"healthy"}`))
	}))
	defer srv.Close()

	m := httpMonitor(srv.URL)
	m.Config.SearchString = "healthy"
	o := NewHTTPChecker().Check(context.Background(), m, "default")
	assert.True(t, o.Matched)

	m.Config.SearchString = "degraded"
	o = NewHTTPChecker().Check(context.Background(), m, "default")
	assert.False(t, o.Matched)
	assert.Equal(t, "content_mismatch", o.ErrorCode)
}

func TestHTTPCheckerSendsConfiguredRequest(t *testing.T) {
	var gotMethod, gotAuth, gotHeader string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotAuth = r.Header.Get("Authorization")
		gotHeader = r.Header.Get("X-Check")
	}))
	defer srv.Close()

	m := httpMonitor(srv.URL)
	m.Config.Method = http.MethodPost
	m.Config.Body = `{"ping":true}`
	m.Config.Headers = map[string]string{"X-Check": "pulsegrid"}
	m.Config.BasicAuth = &db.BasicAuth{Username: "probe", Password: "secret"}

	o := NewHTTPChecker().Check(context.Background(), m, "default")
	require.True(t, o.Matched)
	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, "pulsegrid", gotHeader)
	assert.NotEmpty(t, gotAuth)
}

func TestHTTPCheckerTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	o := NewHTTPChecker().Check(ctx, httpMonitor(srv.URL), "default")
	assert.True(t, o.TimedOut)
	assert.False(t, o.Completed)
}

func TestTCPCheckerConnects(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()

	addr := ln.Addr().(*net.TCPAddr)
	m := &db.Monitor{
		ID:     "m-1",
		OrgID:  "org-1",
		Type:   db.MonitorTypeTCP,
		Target: "127.0.0.1",
		Config: db.MonitorConfig{Port: addr.Port},
	}

	o := NewTCPChecker().Check(context.Background(), m, "default")
	assert.True(t, o.Matched)

	ln.Close()
	o = NewTCPChecker().Check(context.Background(), m, "default")
	assert.True(t, o.Completed)
	assert.False(t, o.Matched)
	assert.Equal(t, "connection_refused", o.ErrorCode)
}

func TestAnswersMatch(t *testing.T) {
	answers := []string{"93.184.216.34", "93.184.216.35"}

	assert.True(t, answersMatch(answers, nil))
	assert.True(t, answersMatch(answers, []string{"93.184.216.34"}))
	assert.True(t, answersMatch(answers, []string{"10.0.0.1", "93.184"}))
	assert.False(t, answersMatch(answers, []string{"10.0.0.1"}))
}

func TestExtractExpiryDate(t *testing.T) {
	tests := []struct {
		name  string
		whois string
		want  string
	}{
		{
			"icann style",
			"Domain Name: EXAMPLE.COM\nRegistry Expiry Date: 2027-08-13T04:00:00Z\n",
			"2027-08-13",
		},
		{
			"registrar style",
			"Registrar Registration Expiration Date: 2026-11-02T00:00:00Z\n",
			"2026-11-02",
		},
		{
			"date only",
			"expires: 2026-01-31\n",
			"2026-01-31",
		},
		{
			"no expiry line",
			"Domain Name: EXAMPLE.COM\nStatus: ok\n",
			"",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := extractExpiryDate(tt.whois)
			if tt.want == "" {
				assert.True(t, got.IsZero())
				return
			}
			assert.Equal(t, tt.want, got.Format("2006-01-02"))
		})
	}
}

func TestUnreadableWhoisRecordIsAnError(t *testing.T) {
	d := NewDomainChecker()
	o := &Outcome{Payload: db.JSONB{}}

	d.evaluateRecord(o, "Domain Name: EXAMPLE.COM\nStatus: ok\n", 0)

	assert.Equal(t, "expiry_unreadable", o.ErrorCode)
	assert.False(t, o.Completed, "an uninterpretable record must classify as error, not failure")
	assert.False(t, o.Matched)
}

func TestReadableWhoisRecordMatches(t *testing.T) {
	d := NewDomainChecker()
	o := &Outcome{Payload: db.JSONB{}}

	d.evaluateRecord(o, "Registry Expiry Date: 2031-08-13T04:00:00Z\n", 30)

	assert.True(t, o.Completed)
	assert.True(t, o.Matched)
	assert.Empty(t, o.ErrorCode)
}

func TestDefaultRegistryCoversActiveNetworkTypes(t *testing.T) {
	r := DefaultRegistry("")

	for _, typ := range []db.MonitorType{
		db.MonitorTypeHTTP, db.MonitorTypeHTTPS, db.MonitorTypeTCP,
		db.MonitorTypeDNS, db.MonitorTypeSSL, db.MonitorTypeDomain,
		db.MonitorTypePostgres, db.MonitorTypeKafka,
	} {
		_, ok := r.For(typ)
		assert.True(t, ok, "expected a checker for %s", typ)
	}

	// Passive types are fed by pushes and must never be mapped.
	_, ok := r.For(db.MonitorTypeHeartbeat)
	assert.False(t, ok)
	_, ok = r.For(db.MonitorTypePromRemoteWrite)
	assert.False(t, ok)
}

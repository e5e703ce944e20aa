package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/golang/snappy"
	"github.com/google/uuid"
	"github.com/prometheus/prometheus/prompb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pulsegrid/pulsegrid/internal/db"
	"github.com/pulsegrid/pulsegrid/internal/incidents"
	"github.com/pulsegrid/pulsegrid/internal/metrics"
	"github.com/pulsegrid/pulsegrid/internal/probes"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// One collector per test binary, promauto registers globally.
var testCollector = metrics.NewCollector()

// fakeStore backs the handler tests in memory.
type fakeStore struct {
	monitors     map[string]*db.Monitor
	policies     map[string]*db.AlertPolicy
	channels     map[string]*db.NotificationChannel
	incidents    map[string]*db.Incident
	probes       map[string]*db.Probe
	history      []*db.AlertHistory
	statusWrites []db.MonitorStatus
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		monitors:  map[string]*db.Monitor{},
		policies:  map[string]*db.AlertPolicy{},
		channels:  map[string]*db.NotificationChannel{},
		incidents: map[string]*db.Incident{},
		probes:    map[string]*db.Probe{},
	}
}

func (s *fakeStore) CreateMonitor(m *db.Monitor) error { s.monitors[m.ID] = m; return nil }

func (s *fakeStore) GetMonitor(id, orgID string) (*db.Monitor, error) {
	m, ok := s.monitors[id]
	if !ok || m.OrgID != orgID {
		return nil, db.ErrNotFound
	}
	return m, nil
}

func (s *fakeStore) GetMonitorsByOrg(orgID string) ([]*db.Monitor, error) {
	var out []*db.Monitor
	for _, m := range s.monitors {
		if m.OrgID == orgID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *fakeStore) GetMonitorByPushToken(token string) (*db.Monitor, error) {
	for _, m := range s.monitors {
		if m.Config.PushToken == token && token != "" {
			return m, nil
		}
	}
	return nil, db.ErrNotFound
}

func (s *fakeStore) UpdateMonitor(m *db.Monitor) error { s.monitors[m.ID] = m; return nil }

func (s *fakeStore) SetMonitorStatus(id string, status db.MonitorStatus) error {
	m, ok := s.monitors[id]
	if !ok {
		return db.ErrNotFound
	}
	m.Status = status
	s.statusWrites = append(s.statusWrites, status)
	return nil
}

func (s *fakeStore) DeleteMonitor(id, orgID string) error {
	if _, err := s.GetMonitor(id, orgID); err != nil {
		return err
	}
	delete(s.monitors, id)
	return nil
}

func (s *fakeStore) GetCheckHistory(string, string, int) ([]*db.CheckResult, error) {
	return nil, nil
}

func (s *fakeStore) GetProbe(id, orgID string) (*db.Probe, error) {
	p, ok := s.probes[id]
	if !ok || p.OrgID != orgID {
		return nil, db.ErrNotFound
	}
	return p, nil
}

func (s *fakeStore) GetProbesByOrg(orgID string) ([]*db.Probe, error) {
	var out []*db.Probe
	for _, p := range s.probes {
		if p.OrgID == orgID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *fakeStore) UpdateProbe(p *db.Probe) error { s.probes[p.ID] = p; return nil }

func (s *fakeStore) DeleteProbe(id, orgID string) error {
	if _, err := s.GetProbe(id, orgID); err != nil {
		return err
	}
	delete(s.probes, id)
	return nil
}

func (s *fakeStore) CreateAlertPolicy(p *db.AlertPolicy) error { s.policies[p.ID] = p; return nil }

func (s *fakeStore) GetAlertPolicy(id, orgID string) (*db.AlertPolicy, error) {
	p, ok := s.policies[id]
	if !ok || p.OrgID != orgID {
		return nil, db.ErrNotFound
	}
	return p, nil
}

func (s *fakeStore) GetAlertPoliciesByOrg(orgID string) ([]*db.AlertPolicy, error) {
	var out []*db.AlertPolicy
	for _, p := range s.policies {
		if p.OrgID == orgID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *fakeStore) UpdateAlertPolicy(p *db.AlertPolicy) error { s.policies[p.ID] = p; return nil }

func (s *fakeStore) DeleteAlertPolicy(id, orgID string) error {
	if _, err := s.GetAlertPolicy(id, orgID); err != nil {
		return err
	}
	delete(s.policies, id)
	return nil
}

func (s *fakeStore) CreateChannel(c *db.NotificationChannel) error { s.channels[c.ID] = c; return nil }

func (s *fakeStore) GetChannelsByOrg(orgID string) ([]*db.NotificationChannel, error) {
	var out []*db.NotificationChannel
	for _, c := range s.channels {
		if c.OrgID == orgID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *fakeStore) DeleteChannel(id, orgID string) error {
	c, ok := s.channels[id]
	if !ok || c.OrgID != orgID {
		return db.ErrNotFound
	}
	delete(s.channels, id)
	return nil
}

func (s *fakeStore) GetAlertHistory(orgID string, limit, offset int) ([]*db.AlertHistory, error) {
	return s.history, nil
}

func (s *fakeStore) GetIncidents(orgID string, limit int) ([]*db.Incident, error) {
	var out []*db.Incident
	for _, i := range s.incidents {
		if i.OrgID == orgID {
			out = append(out, i)
		}
	}
	return out, nil
}

func (s *fakeStore) GetIncident(id, orgID string) (*db.Incident, error) {
	i, ok := s.incidents[id]
	if !ok || i.OrgID != orgID {
		return nil, db.ErrNotFound
	}
	return i, nil
}

func (s *fakeStore) GetIncidentEvents(string) ([]*db.IncidentEvent, error) { return nil, nil }

// incidentStore adapts fakeStore for the incidents service.
type incidentStore struct{ *fakeStore }

func (s incidentStore) GetActiveIncident(string) (*db.Incident, error) { return nil, nil }
func (s incidentStore) CreateIncident(i *db.Incident) error            { s.incidents[i.ID] = i; return nil }
func (s incidentStore) UpdateIncident(i *db.Incident) error            { s.incidents[i.ID] = i; return nil }
func (s incidentStore) CreateIncidentEvent(*db.IncidentEvent) error    { return nil }
func (s incidentStore) LinkResultToIncident(string, string) error      { return nil }

type fakeRunner struct {
	ran []string
}

func (r *fakeRunner) CheckNow(_ context.Context, monitorID string) error {
	r.ran = append(r.ran, monitorID)
	return nil
}

type fakeIngestor struct {
	results []*db.CheckResult
}

func (i *fakeIngestor) Ingest(_ context.Context, _ *db.Monitor, result *db.CheckResult) error {
	i.results = append(i.results, result)
	return nil
}

type fakeAnnouncer struct {
	maintenance []bool
}

func (a *fakeAnnouncer) PublishMaintenance(_ context.Context, _ *db.Monitor, started bool) {
	a.maintenance = append(a.maintenance, started)
}

func newTestHandler(store *fakeStore) (*Handler, *fakeRunner, *fakeIngestor) {
	runner := &fakeRunner{}
	ingestor := &fakeIngestor{}
	incidentSvc := incidents.NewService(incidentStore{store}, nil, testCollector, zap.NewNop())
	h := NewHandler(store, (*probes.Service)(nil), incidentSvc, runner, ingestor, &fakeAnnouncer{}, zap.NewNop())
	return h, runner, ingestor
}

func doRequest(h gin.HandlerFunc, method, path, body string, params ...gin.Param) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	var reader *bytes.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	} else {
		reader = bytes.NewReader(nil)
	}
	c.Request = httptest.NewRequest(method, path, reader)
	c.Request.Header.Set("Content-Type", "application/json")
	c.Params = params
	c.Set("org_id", "org-1")
	c.Set("user_email", "dev@example.com")
	h(c)
	// Outside a real engine run nothing flushes the deferred header
	// write, so bare c.Status codes would read back as 200.
	c.Writer.WriteHeaderNow()
	return w
}

func TestCreateMonitorValidation(t *testing.T) {
	store := newFakeStore()
	h, _, _ := newTestHandler(store)

	tests := []struct {
		name string
		body string
		want int
	}{
		{
			"valid https monitor",
			`{"name":"api","type":"https","target":"https://example.com","interval_seconds":60,"timeout_ms":5000}`,
			http.StatusCreated,
		},
		{
			"unknown type",
			`{"name":"api","type":"gopher","target":"example.com","interval_seconds":60,"timeout_ms":5000}`,
			http.StatusBadRequest,
		},
		{
			"tcp without port",
			`{"name":"db","type":"tcp","target":"db.internal","interval_seconds":60,"timeout_ms":5000}`,
			http.StatusBadRequest,
		},
		{
			"dns without record type",
			`{"name":"ns","type":"dns","target":"example.com","interval_seconds":60,"timeout_ms":5000}`,
			http.StatusBadRequest,
		},
		{
			"interval below floor",
			`{"name":"api","type":"http","target":"http://x","interval_seconds":1,"timeout_ms":5000}`,
			http.StatusBadRequest,
		},
		{
			"bad sli comparison",
			`{"name":"slo","type":"prometheus_remote_write","interval_seconds":60,"timeout_ms":5000,"config":{"sli":{"degraded":99,"comparison":"eq"}}}`,
			http.StatusBadRequest,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doRequest(h.CreateMonitor, http.MethodPost, "/api/v1/monitors", tt.body)
			assert.Equal(t, tt.want, w.Code, w.Body.String())
		})
	}
}

func TestCreateHeartbeatMonitorMintsPushToken(t *testing.T) {
	store := newFakeStore()
	h, _, _ := newTestHandler(store)

	body := `{"name":"cron","type":"heartbeat","interval_seconds":60,"timeout_ms":1000,"config":{"expected_period_seconds":300}}`
	w := doRequest(h.CreateMonitor, http.MethodPost, "/api/v1/monitors", body)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var created db.Monitor
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.NotEmpty(t, created.Config.PushToken)
	assert.Equal(t, db.MonitorPending, created.Status)
}

func TestTriggerCheck(t *testing.T) {
	store := newFakeStore()
	h, runner, _ := newTestHandler(store)

	active := &db.Monitor{ID: uuid.New().String(), OrgID: "org-1", Type: db.MonitorTypeHTTP}
	passive := &db.Monitor{ID: uuid.New().String(), OrgID: "org-1", Type: db.MonitorTypeHeartbeat}
	store.monitors[active.ID] = active
	store.monitors[passive.ID] = passive

	w := doRequest(h.TriggerCheck, http.MethodPost, "/x", "", gin.Param{Key: "id", Value: active.ID})
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, []string{active.ID}, runner.ran)

	w = doRequest(h.TriggerCheck, http.MethodPost, "/x", "", gin.Param{Key: "id", Value: passive.ID})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doRequest(h.TriggerCheck, http.MethodPost, "/x", "", gin.Param{Key: "id", Value: "missing"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestUpdateMonitorKeepsPushToken(t *testing.T) {
	store := newFakeStore()
	h, _, _ := newTestHandler(store)

	m := &db.Monitor{
		ID:    uuid.New().String(),
		OrgID: "org-1",
		Type:  db.MonitorTypeHeartbeat,
		Config: db.MonitorConfig{
			ExpectedPeriodSeconds: 300,
			PushToken:             "push_abc",
		},
	}
	store.monitors[m.ID] = m

	body := `{"config":{"expected_period_seconds":600}}`
	w := doRequest(h.UpdateMonitor, http.MethodPatch, "/x", body, gin.Param{Key: "id", Value: m.ID})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "push_abc", m.Config.PushToken)
	assert.Equal(t, 600, m.Config.ExpectedPeriodSeconds)
}

func TestPauseToggleAnnouncesMaintenance(t *testing.T) {
	store := newFakeStore()
	announcer := &fakeAnnouncer{}
	incidentSvc := incidents.NewService(incidentStore{store}, nil, testCollector, zap.NewNop())
	h := NewHandler(store, (*probes.Service)(nil), incidentSvc, &fakeRunner{}, &fakeIngestor{}, announcer, zap.NewNop())

	m := &db.Monitor{
		ID:     uuid.New().String(),
		OrgID:  "org-1",
		Type:   db.MonitorTypeHTTPS,
		Target: "https://example.com",
		Status: db.MonitorActive,
	}
	store.monitors[m.ID] = m

	w := doRequest(h.UpdateMonitor, http.MethodPatch, "/x", `{"paused":true}`, gin.Param{Key: "id", Value: m.ID})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, db.MonitorPaused, m.Status)
	require.Equal(t, []bool{true}, announcer.maintenance)

	// Updating an already paused monitor without touching paused stays quiet
	// and leaves the status column alone.
	w = doRequest(h.UpdateMonitor, http.MethodPatch, "/x", `{"name":"renamed"}`, gin.Param{Key: "id", Value: m.ID})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Len(t, announcer.maintenance, 1)
	assert.Equal(t, []db.MonitorStatus{db.MonitorPaused}, store.statusWrites)

	w = doRequest(h.UpdateMonitor, http.MethodPatch, "/x", `{"paused":false}`, gin.Param{Key: "id", Value: m.ID})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, db.MonitorPending, m.Status)
	assert.Equal(t, []bool{true, false}, announcer.maintenance)

	// Both lifecycle transitions were written through to storage.
	assert.Equal(t, []db.MonitorStatus{db.MonitorPaused, db.MonitorPending}, store.statusWrites)
}

func TestHeartbeatPing(t *testing.T) {
	store := newFakeStore()
	h, _, ingestor := newTestHandler(store)

	m := &db.Monitor{
		ID:    uuid.New().String(),
		OrgID: "org-1",
		Type:  db.MonitorTypeHeartbeat,
		Config: db.MonitorConfig{
			ExpectedPeriodSeconds: 300,
			PushToken:             "push_" + uuid.New().String(),
		},
	}
	store.monitors[m.ID] = m

	w := doRequest(h.HeartbeatPing, http.MethodGet, "/ping", "", gin.Param{Key: "token", Value: m.Config.PushToken})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.Len(t, ingestor.results, 1)
	assert.Equal(t, db.StatusSuccess, ingestor.results[0].Status)
	assert.Equal(t, "push", ingestor.results[0].Region)

	w = doRequest(h.HeartbeatPing, http.MethodGet, "/ping?status=fail&exit_code=2", "", gin.Param{Key: "token", Value: m.Config.PushToken})
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, ingestor.results, 2)
	assert.Equal(t, db.StatusFailure, ingestor.results[1].Status)

	w = doRequest(h.HeartbeatPing, http.MethodGet, "/ping", "", gin.Param{Key: "token", Value: "push_unknown"})
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Len(t, ingestor.results, 2)
}

func TestRemoteWriteClassifiesSamples(t *testing.T) {
	store := newFakeStore()
	h, _, ingestor := newTestHandler(store)

	degraded := 80.0
	target := 95.0
	m := &db.Monitor{
		ID:    uuid.New().String(),
		OrgID: "org-1",
		Type:  db.MonitorTypePromRemoteWrite,
		Config: db.MonitorConfig{
			PushToken: "push_" + uuid.New().String(),
			SLI: &db.SLIConfig{
				Degraded:   &degraded,
				Comparison: "gte",
				SLOTarget:  &target,
			},
		},
	}
	store.monitors[m.ID] = m

	req := prompb.WriteRequest{
		Timeseries: []prompb.TimeSeries{{
			Samples: []prompb.Sample{
				{Value: 99.0, Timestamp: 1000},
				{Value: 75.0, Timestamp: 2000},
			},
		}},
	}
	raw, err := req.Marshal()
	require.NoError(t, err)
	body := snappy.Encode(nil, raw)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/rw", bytes.NewReader(body))
	c.Params = gin.Params{{Key: "token", Value: m.Config.PushToken}}
	h.RemoteWrite(c)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.Len(t, ingestor.results, 1)
	// Newest sample is 75, below the down threshold derived from the SLO.
	assert.Equal(t, db.StatusFailure, ingestor.results[0].Status)
}

func TestRemoteWriteRejectsGarbageBody(t *testing.T) {
	store := newFakeStore()
	h, _, _ := newTestHandler(store)

	m := &db.Monitor{
		ID:    uuid.New().String(),
		OrgID: "org-1",
		Type:  db.MonitorTypePromRemoteWrite,
		Config: db.MonitorConfig{
			PushToken: "push_" + uuid.New().String(),
			SLI:       &db.SLIConfig{},
		},
	}
	store.monitors[m.ID] = m

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/rw", bytes.NewReader([]byte("not snappy")))
	c.Params = gin.Params{{Key: "token", Value: m.Config.PushToken}}
	h.RemoteWrite(c)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHeartbeatRateLimit(t *testing.T) {
	store := newFakeStore()
	h, _, _ := newTestHandler(store)

	m := &db.Monitor{
		ID:    uuid.New().String(),
		OrgID: "org-1",
		Type:  db.MonitorTypeHeartbeat,
		Config: db.MonitorConfig{
			ExpectedPeriodSeconds: 300,
			PushToken:             "push_" + uuid.New().String(),
		},
	}
	store.monitors[m.ID] = m

	limited := false
	for i := 0; i < 30; i++ {
		w := doRequest(h.HeartbeatPing, http.MethodGet, "/ping", "", gin.Param{Key: "token", Value: m.Config.PushToken})
		if w.Code == http.StatusTooManyRequests {
			limited = true
			break
		}
	}
	assert.True(t, limited, "burst beyond the limiter must be rejected")
}

func TestAlertPolicyCRUD(t *testing.T) {
	store := newFakeStore()
	h, _, _ := newTestHandler(store)

	body := `{"name":"critical","channels":["ch-1"],"monitors":["m-1"],"cooldown_minutes":5,"conditions":{"consecutive_failures":3}}`
	w := doRequest(h.CreateAlertPolicy, http.MethodPost, "/x", body)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var created db.AlertPolicy
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.Equal(t, 3, created.Conditions.ConsecutiveFailures)

	w = doRequest(h.ListAlertPolicies, http.MethodGet, "/x", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = doRequest(h.DeleteAlertPolicy, http.MethodDelete, "/x", "", gin.Param{Key: "id", Value: created.ID})
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = doRequest(h.DeleteAlertPolicy, http.MethodDelete, "/x", "", gin.Param{Key: "id", Value: created.ID})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPolicyNeedsChannelsOrRotation(t *testing.T) {
	store := newFakeStore()
	h, _, _ := newTestHandler(store)

	// A rotation is a valid sole destination.
	body := `{"name":"oncall-only","monitors":["m-1"],"channels":[],"oncall_rotation_id":"rot-1","conditions":{"consecutive_failures":3}}`
	w := doRequest(h.CreateAlertPolicy, http.MethodPost, "/x", body)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var created db.AlertPolicy
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	require.NotNil(t, created.OncallRotationID)
	assert.Equal(t, "rot-1", *created.OncallRotationID)

	// No channels and no rotation has nowhere to deliver.
	body = `{"name":"nowhere","monitors":["m-1"],"channels":[],"conditions":{"consecutive_failures":3}}`
	w = doRequest(h.CreateAlertPolicy, http.MethodPost, "/x", body)
	assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())

	// Updates apply the same rule.
	body = `{"name":"oncall-only","monitors":["m-1"],"channels":[]}`
	w = doRequest(h.UpdateAlertPolicy, http.MethodPatch, "/x", body, gin.Param{Key: "id", Value: created.ID})
	assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
}

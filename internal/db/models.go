package db

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

type MonitorType string

const (
	MonitorTypeHTTP            MonitorType = "http"
	MonitorTypeHTTPS           MonitorType = "https"
	MonitorTypeTCP             MonitorType = "tcp"
	MonitorTypeUDP             MonitorType = "udp"
	MonitorTypePing            MonitorType = "ping"
	MonitorTypeDNS             MonitorType = "dns"
	MonitorTypeSSL             MonitorType = "ssl"
	MonitorTypeDomain          MonitorType = "domain"
	MonitorTypeSMTP            MonitorType = "smtp"
	MonitorTypeIMAP            MonitorType = "imap"
	MonitorTypePOP3            MonitorType = "pop3"
	MonitorTypeGRPC            MonitorType = "grpc"
	MonitorTypeWebsocket       MonitorType = "websocket"
	MonitorTypeSSH             MonitorType = "ssh"
	MonitorTypeFTP             MonitorType = "ftp"
	MonitorTypeLDAP            MonitorType = "ldap"
	MonitorTypeNTP             MonitorType = "ntp"
	MonitorTypeSNMP            MonitorType = "snmp"
	MonitorTypePagespeed       MonitorType = "pagespeed"
	MonitorTypePostgres        MonitorType = "database_postgres"
	MonitorTypeMySQL           MonitorType = "database_mysql"
	MonitorTypeMongoDB         MonitorType = "database_mongodb"
	MonitorTypeRedis           MonitorType = "database_redis"
	MonitorTypeRabbitMQ        MonitorType = "message_rabbitmq"
	MonitorTypeKafka           MonitorType = "message_kafka"
	MonitorTypeMQTT            MonitorType = "message_mqtt"
	MonitorTypeHeartbeat       MonitorType = "heartbeat"
	MonitorTypePromRemoteWrite MonitorType = "prometheus_remote_write"
)

// AllMonitorTypes is the closed set of monitor types. Queue routing and
// config validation switch over this list; adding a type means extending
// both.
var AllMonitorTypes = []MonitorType{
	MonitorTypeHTTP, MonitorTypeHTTPS, MonitorTypeTCP, MonitorTypeUDP,
	MonitorTypePing, MonitorTypeDNS, MonitorTypeSSL, MonitorTypeDomain,
	MonitorTypeSMTP, MonitorTypeIMAP, MonitorTypePOP3, MonitorTypeGRPC,
	MonitorTypeWebsocket, MonitorTypeSSH, MonitorTypeFTP, MonitorTypeLDAP,
	MonitorTypeNTP, MonitorTypeSNMP, MonitorTypePagespeed,
	MonitorTypePostgres, MonitorTypeMySQL, MonitorTypeMongoDB,
	MonitorTypeRedis, MonitorTypeRabbitMQ, MonitorTypeKafka,
	MonitorTypeMQTT, MonitorTypeHeartbeat, MonitorTypePromRemoteWrite,
}

// MonitorStatus is the monitor lifecycle state. It is written only by the
// status engine; everything else reads it.
type MonitorStatus string

const (
	MonitorPending  MonitorStatus = "pending"
	MonitorActive   MonitorStatus = "active"
	MonitorDegraded MonitorStatus = "degraded"
	MonitorDown     MonitorStatus = "down"
	MonitorPaused   MonitorStatus = "paused"
)

// CheckStatus is the canonical classification of a single check attempt.
// The set is closed; every downstream switch must handle all five.
type CheckStatus string

const (
	StatusSuccess  CheckStatus = "success"
	StatusDegraded CheckStatus = "degraded"
	StatusFailure  CheckStatus = "failure"
	StatusTimeout  CheckStatus = "timeout"
	StatusError    CheckStatus = "error"
)

// RegionStrategy controls how per-region statuses aggregate into one
// monitor status.
type RegionStrategy string

const (
	StrategyAny    RegionStrategy = "any"
	StrategyQuorum RegionStrategy = "quorum"
	StrategyAll    RegionStrategy = "all"
)

type Monitor struct {
	ID                  string         `json:"id" db:"id"`
	OrgID               string         `json:"-" db:"org_id"`
	Name                string         `json:"name" db:"name"`
	Type                MonitorType    `json:"type" db:"type"`
	Target              string         `json:"target" db:"target"`
	IntervalSeconds     int            `json:"interval_seconds" db:"interval_seconds"`
	TimeoutMs           int            `json:"timeout_ms" db:"timeout_ms"`
	Regions             StringSlice    `json:"regions" db:"regions"`
	Config              MonitorConfig  `json:"config" db:"config"`
	DegradedThresholdMs int            `json:"degraded_threshold_ms" db:"degraded_threshold_ms"`
	DegradedAfterCount  int            `json:"degraded_after_count" db:"degraded_after_count"`
	DownAfterCount      int            `json:"down_after_count" db:"down_after_count"`
	CountDegradedAsDown bool           `json:"count_degraded_as_down" db:"count_degraded_as_down"`
	RegionStrategy      RegionStrategy `json:"region_strategy" db:"region_strategy"`
	DependsOn           StringSlice    `json:"depends_on" db:"depends_on"`
	Status              MonitorStatus  `json:"status" db:"status"`
	Paused              bool           `json:"paused" db:"paused"`
	NextCheckAt         time.Time      `json:"next_check_at" db:"next_check_at"`
	InFlight            bool           `json:"-" db:"in_flight"`
	CreatedAt           time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt           time.Time      `json:"updated_at" db:"updated_at"`
	CreatedBy           string         `json:"created_by" db:"created_by"`
}

// Passive reports whether the monitor is fed by inbound pushes instead of
// scheduled executions. Passive monitors never appear in a scheduler tick.
func (m *Monitor) Passive() bool {
	return m.Type == MonitorTypeHeartbeat || m.Type == MonitorTypePromRemoteWrite
}

// MonitorConfig is the per-protocol config union. Only the fields for the
// monitor's type are set; validation at the ingestion boundary rejects
// anything else, so the pipeline never re-checks shapes.
type MonitorConfig struct {
	// HTTP / HTTPS
	Method              string            `json:"method,omitempty"`
	Headers             map[string]string `json:"headers,omitempty"`
	Body                string            `json:"body,omitempty"`
	ExpectedStatusCodes []int             `json:"expected_status_codes,omitempty"`
	SearchString        string            `json:"search_string,omitempty"`
	BasicAuth           *BasicAuth        `json:"basic_auth,omitempty"`
	FollowRedirects     bool              `json:"follow_redirects,omitempty"`

	// TCP / UDP / databases / message brokers
	Port int `json:"port,omitempty"`

	// DNS
	RecordType     string   `json:"record_type,omitempty"`
	ExpectedValues []string `json:"expected_values,omitempty"`

	// SSL / domain expiry
	MinDaysBeforeExpiry int `json:"min_days_before_expiry,omitempty"`

	// Databases
	Database string `json:"database,omitempty"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`

	// Message brokers
	Topic string `json:"topic,omitempty"`

	// Numeric SLI thresholds (pagespeed scores, remote-write samples)
	SLI *SLIConfig `json:"sli,omitempty"`

	// Heartbeat (passive): expected ping period before the monitor is
	// considered missing, plus the unauthenticated push token.
	ExpectedPeriodSeconds int    `json:"expected_period_seconds,omitempty"`
	PushToken             string `json:"push_token,omitempty"`

	// Public status page this monitor appears on, if any.
	StatusPageSlug string `json:"status_page_slug,omitempty"`
}

type SLIConfig struct {
	Degraded         *float64 `json:"degraded,omitempty"`
	Down             *float64 `json:"down,omitempty"`
	Comparison       string   `json:"comparison,omitempty"` // gte or lte
	NormalizePercent bool     `json:"normalize_percent,omitempty"`
	SLOTarget        *float64 `json:"slo_target,omitempty"`
}

type BasicAuth struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// CheckResult is one classified check attempt. Rows are append-only; a
// result is never updated after insert.
type CheckResult struct {
	ID             string      `json:"id" db:"id"`
	MonitorID      string      `json:"monitor_id" db:"monitor_id"`
	OrgID          string      `json:"-" db:"org_id"`
	JobID          *string     `json:"job_id,omitempty" db:"job_id"`
	Region         string      `json:"region" db:"region"`
	Status         CheckStatus `json:"status" db:"status"`
	ResponseTimeMs int         `json:"response_time_ms" db:"response_time_ms"`
	StatusCode     int         `json:"status_code,omitempty" db:"status_code"`
	DNSMs          int         `json:"dns_ms" db:"dns_ms"`
	TCPMs          int         `json:"tcp_ms" db:"tcp_ms"`
	TLSMs          int         `json:"tls_ms" db:"tls_ms"`
	TTFBMs         int         `json:"ttfb_ms" db:"ttfb_ms"`
	TransferMs     int         `json:"transfer_ms" db:"transfer_ms"`
	ErrorCode      string      `json:"error_code,omitempty" db:"error_code"`
	ErrorMessage   string      `json:"error_message,omitempty" db:"error_message"`
	Payload        JSONB       `json:"payload,omitempty" db:"payload"`
	IncidentID     *string     `json:"incident_id,omitempty" db:"incident_id"`
	CreatedAt      time.Time   `json:"created_at" db:"created_at"`
}

// MonitorRuntime carries the status engine's rolling counters and the last
// classified status per region. One row per monitor, owned exclusively by
// the status engine.
type MonitorRuntime struct {
	MonitorID            string    `json:"monitor_id" db:"monitor_id"`
	ConsecutiveFailures  int       `json:"consecutive_failures" db:"consecutive_failures"`
	ConsecutiveSuccesses int       `json:"consecutive_successes" db:"consecutive_successes"`
	ConsecutiveDegraded  int       `json:"consecutive_degraded" db:"consecutive_degraded"`
	RegionStatus         RegionMap `json:"region_status" db:"region_status"`
	LastResultAt         time.Time `json:"last_result_at" db:"last_result_at"`
	UpdatedAt            time.Time `json:"updated_at" db:"updated_at"`
}

// Custom types for PostgreSQL JSONB columns

type StringSlice []string

func (s StringSlice) Value() (driver.Value, error) {
	return json.Marshal(s)
}

func (s *StringSlice) Scan(value interface{}) error {
	if value == nil {
		*s = []string{}
		return nil
	}
	return json.Unmarshal(value.([]byte), s)
}

type JSONB map[string]interface{}

func (j JSONB) Value() (driver.Value, error) {
	return json.Marshal(j)
}

func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = make(map[string]interface{})
		return nil
	}
	return json.Unmarshal(value.([]byte), j)
}

type RegionMap map[string]CheckStatus

func (r RegionMap) Value() (driver.Value, error) {
	return json.Marshal(r)
}

func (r *RegionMap) Scan(value interface{}) error {
	if value == nil {
		*r = make(map[string]CheckStatus)
		return nil
	}
	return json.Unmarshal(value.([]byte), r)
}

func (mc MonitorConfig) Value() (driver.Value, error) {
	return json.Marshal(mc)
}

func (mc *MonitorConfig) Scan(value interface{}) error {
	if value == nil {
		return nil
	}
	return json.Unmarshal(value.([]byte), mc)
}

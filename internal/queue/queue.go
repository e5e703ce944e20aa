package queue

import (
	"context"
	"errors"
	"time"

	"github.com/pulsegrid/pulsegrid/internal/db"
)

var ErrTimeout = errors.New("queue timeout")

// Job is one check execution request on a protocol queue.
type Job struct {
	ID        string    `json:"id"`
	MonitorID string    `json:"monitor_id"`
	OrgID     string    `json:"org_id"`
	Region    string    `json:"region"`
	CreatedAt time.Time `json:"created_at"`
}

// Queue is the minimal broker contract. Lease hands a job to exactly one
// worker with a visibility window; Ack removes it for good. A leased job
// that is never acked becomes leasable again after the window.
type Queue interface {
	Enqueue(ctx context.Context, job *Job) error
	Lease(ctx context.Context, timeout time.Duration) (*Job, error)
	Ack(ctx context.Context, jobID string) error
	Length(ctx context.Context) (int64, error)
}

// queueNames maps every schedulable monitor type to its execution queue.
// The monitor_<type> naming is a contract surface; external tooling reads
// these queues by name. Passive types are deliberately absent.
var queueNames = map[db.MonitorType]string{
	db.MonitorTypeHTTP:      "monitor_http",
	db.MonitorTypeHTTPS:     "monitor_http",
	db.MonitorTypeTCP:       "monitor_tcp",
	db.MonitorTypeUDP:       "monitor_udp",
	db.MonitorTypePing:      "monitor_ping",
	db.MonitorTypeDNS:       "monitor_dns",
	db.MonitorTypeSSL:       "monitor_ssl",
	db.MonitorTypeDomain:    "monitor_domain",
	db.MonitorTypeSMTP:      "monitor_smtp",
	db.MonitorTypeIMAP:      "monitor_imap",
	db.MonitorTypePOP3:      "monitor_pop3",
	db.MonitorTypeGRPC:      "monitor_grpc",
	db.MonitorTypeWebsocket: "monitor_websocket",
	db.MonitorTypeSSH:       "monitor_ssh",
	db.MonitorTypeFTP:       "monitor_ftp",
	db.MonitorTypeLDAP:      "monitor_ldap",
	db.MonitorTypeNTP:       "monitor_ntp",
	db.MonitorTypeSNMP:      "monitor_snmp",
	db.MonitorTypePagespeed: "monitor_pagespeed",
	db.MonitorTypePostgres:  "monitor_database_postgres",
	db.MonitorTypeMySQL:     "monitor_database_mysql",
	db.MonitorTypeMongoDB:   "monitor_database_mongodb",
	db.MonitorTypeRedis:     "monitor_database_redis",
	db.MonitorTypeRabbitMQ:  "monitor_message_rabbitmq",
	db.MonitorTypeKafka:     "monitor_message_kafka",
	db.MonitorTypeMQTT:      "monitor_message_mqtt",
}

// QueueForType resolves a monitor type to its queue name. ok is false for
// passive types, which are fed by inbound pushes and never enqueued.
func QueueForType(t db.MonitorType) (string, bool) {
	name, ok := queueNames[t]
	return name, ok
}

// QueueNames returns the distinct queue names, one worker pool each.
func QueueNames() []string {
	seen := make(map[string]bool, len(queueNames))
	names := make([]string, 0, len(queueNames))
	for _, name := range queueNames {
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	return names
}

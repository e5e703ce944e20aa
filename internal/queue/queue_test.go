package queue

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulsegrid/pulsegrid/internal/db"
)

func TestQueueForTypeCoversEveryActiveType(t *testing.T) {
	for _, mt := range db.AllMonitorTypes {
		name, ok := QueueForType(mt)

		m := db.Monitor{Type: mt}
		if m.Passive() {
			assert.False(t, ok, "passive type %s must not route to a queue", mt)
			continue
		}

		require.True(t, ok, "active type %s has no queue", mt)
		assert.True(t, strings.HasPrefix(name, "monitor_"), "queue %s violates naming contract", name)
	}
}

func TestQueueForTypeContract(t *testing.T) {
	tests := []struct {
		typ  db.MonitorType
		want string
	}{
		{db.MonitorTypeHTTP, "monitor_http"},
		{db.MonitorTypeHTTPS, "monitor_http"},
		{db.MonitorTypeDNS, "monitor_dns"},
		{db.MonitorTypePostgres, "monitor_database_postgres"},
		{db.MonitorTypeKafka, "monitor_message_kafka"},
	}

	for _, tt := range tests {
		name, ok := QueueForType(tt.typ)
		require.True(t, ok)
		assert.Equal(t, tt.want, name)
	}
}

func TestQueueForTypePassive(t *testing.T) {
	_, ok := QueueForType(db.MonitorTypePromRemoteWrite)
	assert.False(t, ok)

	_, ok = QueueForType(db.MonitorTypeHeartbeat)
	assert.False(t, ok)
}

func TestQueueNamesDistinct(t *testing.T) {
	names := QueueNames()
	seen := map[string]bool{}
	for _, n := range names {
		assert.False(t, seen[n], "duplicate queue name %s", n)
		seen[n] = true
	}
	// http and https share one queue
	assert.Len(t, names, 25)
}

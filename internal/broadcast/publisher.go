// Package broadcast pushes live platform events out over pub/sub so
// dashboards and status pages update without polling.
package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/pulsegrid/pulsegrid/internal/db"
	"github.com/pulsegrid/pulsegrid/internal/status"
)

// Event is the wire shape for every broadcast message.
type Event struct {
	Type      string           `json:"type"` // status_change, incident, maintenance
	MonitorID string           `json:"monitor_id"`
	OrgID     string           `json:"org_id"`
	From      db.MonitorStatus `json:"from,omitempty"`
	To        db.MonitorStatus `json:"to,omitempty"`
	At        time.Time        `json:"at"`
	Detail    map[string]any   `json:"detail,omitempty"`
}

// Publisher fans an event out to every channel interested in it.
type Publisher interface {
	Publish(ctx context.Context, event *Event, channels ...string) error
}

// RedisPublisher publishes events as JSON on Redis pub/sub channels.
type RedisPublisher struct {
	client *redis.Client
	logger *zap.Logger
}

func NewRedisPublisher(client *redis.Client, logger *zap.Logger) *RedisPublisher {
	return &RedisPublisher{client: client, logger: logger}
}

func (p *RedisPublisher) Publish(ctx context.Context, event *Event, channels ...string) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	for _, channel := range channels {
		if err := p.client.Publish(ctx, channel, payload).Err(); err != nil {
			return fmt.Errorf("failed to publish to %s: %w", channel, err)
		}
	}
	return nil
}

// Broadcaster adapts a Publisher into a status.Sink and exposes helpers
// for the non-transition event kinds.
type Broadcaster struct {
	publisher Publisher
	logger    *zap.Logger
}

func NewBroadcaster(publisher Publisher, logger *zap.Logger) *Broadcaster {
	return &Broadcaster{publisher: publisher, logger: logger}
}

// ChannelsFor computes the pub/sub channels a monitor's events land on:
// its own channel, its org's channel, and the status page channel when
// the monitor is pinned to one.
func ChannelsFor(m *db.Monitor) []string {
	channels := []string{
		"monitor:" + m.ID,
		"org:" + m.OrgID,
	}
	if m.Config.StatusPageSlug != "" {
		channels = append(channels, "status:"+m.Config.StatusPageSlug)
	}
	return channels
}

// OnStateChange implements status.Sink.
func (b *Broadcaster) OnStateChange(ctx context.Context, change *status.StateChange) {
	event := &Event{
		Type:      "status_change",
		MonitorID: change.Monitor.ID,
		OrgID:     change.Monitor.OrgID,
		From:      change.From,
		To:        change.To,
		At:        change.At,
	}
	if change.Result != nil {
		event.Detail = map[string]any{
			"region":           change.Result.Region,
			"response_time_ms": change.Result.ResponseTimeMs,
		}
	}
	if err := b.publisher.Publish(ctx, event, ChannelsFor(change.Monitor)...); err != nil {
		b.logger.Warn("Broadcast publish failed",
			zap.Error(err),
			zap.String("monitor_id", change.Monitor.ID),
		)
	}
}

// PublishIncident announces an incident open, update or resolve.
func (b *Broadcaster) PublishIncident(ctx context.Context, monitor *db.Monitor, incident *db.Incident) {
	event := &Event{
		Type:      "incident",
		MonitorID: monitor.ID,
		OrgID:     monitor.OrgID,
		At:        time.Now(),
		Detail: map[string]any{
			"incident_id":      incident.ID,
			"severity":         incident.Severity,
			"resolved":         incident.ResolvedAt != nil,
			"downtime_minutes": incident.DowntimeMinutes,
		},
	}
	if err := b.publisher.Publish(ctx, event, ChannelsFor(monitor)...); err != nil {
		b.logger.Warn("Broadcast publish failed", zap.Error(err), zap.String("monitor_id", monitor.ID))
	}
}

// PublishMaintenance announces a maintenance window start or end.
func (b *Broadcaster) PublishMaintenance(ctx context.Context, monitor *db.Monitor, started bool) {
	event := &Event{
		Type:      "maintenance",
		MonitorID: monitor.ID,
		OrgID:     monitor.OrgID,
		At:        time.Now(),
		Detail:    map[string]any{"started": started},
	}
	if err := b.publisher.Publish(ctx, event, ChannelsFor(monitor)...); err != nil {
		b.logger.Warn("Broadcast publish failed", zap.Error(err), zap.String("monitor_id", monitor.ID))
	}
}

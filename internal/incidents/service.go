// Package incidents tracks outage episodes: a transition into down or
// degraded opens an incident, further failing results accrue onto it, and
// recovery resolves it with downtime accounting.
package incidents

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pulsegrid/pulsegrid/internal/db"
	"github.com/pulsegrid/pulsegrid/internal/metrics"
	"github.com/pulsegrid/pulsegrid/internal/status"
)

// Store is the slice of the repository the incident service needs.
type Store interface {
	GetActiveIncident(monitorID string) (*db.Incident, error)
	CreateIncident(i *db.Incident) error
	UpdateIncident(i *db.Incident) error
	GetIncident(id, orgID string) (*db.Incident, error)
	CreateIncidentEvent(e *db.IncidentEvent) error
	LinkResultToIncident(resultID, incidentID string) error
}

// Announcer pushes incident lifecycle events out to live subscribers.
// *broadcast.Broadcaster satisfies it.
type Announcer interface {
	PublishIncident(ctx context.Context, monitor *db.Monitor, incident *db.Incident)
}

type Service struct {
	store     Store
	announcer Announcer
	metrics   *metrics.Collector
	logger    *zap.Logger
	now       func() time.Time
}

// NewService wires the incident tracker. announcer may be nil when no
// live feed is attached.
func NewService(store Store, announcer Announcer, collector *metrics.Collector, logger *zap.Logger) *Service {
	return &Service{
		store:     store,
		announcer: announcer,
		metrics:   collector,
		logger:    logger,
		now:       time.Now,
	}
}

// OnStateChange implements status.Sink.
func (s *Service) OnStateChange(ctx context.Context, change *status.StateChange) {
	if err := s.track(ctx, change); err != nil {
		s.logger.Error("Incident tracking failed",
			zap.Error(err),
			zap.String("monitor_id", change.Monitor.ID),
		)
	}
}

func (s *Service) track(ctx context.Context, change *status.StateChange) error {
	active, err := s.store.GetActiveIncident(change.Monitor.ID)
	if err != nil {
		return fmt.Errorf("failed to get active incident: %w", err)
	}

	switch change.To {
	case db.MonitorDown, db.MonitorDegraded:
		if active == nil {
			return s.open(ctx, change)
		}
		return s.accrue(ctx, active, change)
	case db.MonitorActive:
		if active != nil {
			return s.resolve(ctx, active, change)
		}
	}
	return nil
}

func (s *Service) open(ctx context.Context, change *status.StateChange) error {
	incident := &db.Incident{
		ID:             uuid.New().String(),
		MonitorID:      change.Monitor.ID,
		OrgID:          change.Monitor.OrgID,
		StartedAt:      change.At,
		Severity:       severityFor(change.To),
		AffectedChecks: 1,
	}
	if err := s.store.CreateIncident(incident); err != nil {
		return fmt.Errorf("failed to create incident: %w", err)
	}
	s.metrics.RecordIncidentOpened(incident)

	event := &db.IncidentEvent{
		ID:          uuid.New().String(),
		IncidentID:  incident.ID,
		EventType:   db.IncidentEventDetected,
		EventTime:   change.At,
		Description: fmt.Sprintf("Monitor entered %s", change.To),
	}
	if change.Result != nil {
		event.Description = fmt.Sprintf("Monitor entered %s: %s", change.To, change.Result.ErrorMessage)
		event.Metadata = db.JSONB{
			"status_code":      change.Result.StatusCode,
			"response_time_ms": change.Result.ResponseTimeMs,
			"error_code":       change.Result.ErrorCode,
			"region":           change.Result.Region,
		}
	}
	if err := s.store.CreateIncidentEvent(event); err != nil {
		s.logger.Error("Failed to create incident event", zap.Error(err))
	}

	s.link(change.Result, incident.ID)
	s.announce(ctx, change.Monitor, incident)

	s.logger.Info("Opened incident",
		zap.String("incident_id", incident.ID),
		zap.String("monitor_id", change.Monitor.ID),
		zap.String("severity", incident.Severity),
	)
	return nil
}

func (s *Service) accrue(ctx context.Context, incident *db.Incident, change *status.StateChange) error {
	incident.AffectedChecks++
	incident.DowntimeMinutes = int(change.At.Sub(incident.StartedAt).Minutes())
	// Degraded incidents harden to critical when the monitor falls over.
	if change.To == db.MonitorDown && incident.Severity != "critical" {
		incident.Severity = "critical"
	}
	if err := s.store.UpdateIncident(incident); err != nil {
		return fmt.Errorf("failed to update incident: %w", err)
	}
	s.link(change.Result, incident.ID)
	s.announce(ctx, change.Monitor, incident)
	return nil
}

func (s *Service) resolve(ctx context.Context, incident *db.Incident, change *status.StateChange) error {
	resolvedAt := change.At
	incident.ResolvedAt = &resolvedAt
	incident.DowntimeMinutes = int(resolvedAt.Sub(incident.StartedAt).Minutes())

	if err := s.store.UpdateIncident(incident); err != nil {
		return fmt.Errorf("failed to resolve incident: %w", err)
	}
	s.metrics.RecordIncidentResolved(incident)

	event := &db.IncidentEvent{
		ID:          uuid.New().String(),
		IncidentID:  incident.ID,
		EventType:   db.IncidentEventResolved,
		EventTime:   resolvedAt,
		Description: "Monitor recovered and is now operational",
		Metadata: db.JSONB{
			"downtime_minutes": incident.DowntimeMinutes,
			"affected_checks":  incident.AffectedChecks,
		},
	}
	if err := s.store.CreateIncidentEvent(event); err != nil {
		s.logger.Error("Failed to create resolution event", zap.Error(err))
	}
	s.announce(ctx, change.Monitor, incident)

	s.logger.Info("Resolved incident",
		zap.String("incident_id", incident.ID),
		zap.String("monitor_id", change.Monitor.ID),
		zap.Int("downtime_minutes", incident.DowntimeMinutes),
	)
	return nil
}

func (s *Service) announce(ctx context.Context, monitor *db.Monitor, incident *db.Incident) {
	if s.announcer != nil {
		s.announcer.PublishIncident(ctx, monitor, incident)
	}
}

func (s *Service) link(result *db.CheckResult, incidentID string) {
	if result == nil {
		return
	}
	if err := s.store.LinkResultToIncident(result.ID, incidentID); err != nil {
		s.logger.Error("Failed to link result to incident", zap.Error(err))
	}
}

// Acknowledge marks an open incident acknowledged by a user.
func (s *Service) Acknowledge(incidentID, orgID, userEmail string) error {
	incident, err := s.store.GetIncident(incidentID, orgID)
	if err != nil {
		return fmt.Errorf("failed to get incident: %w", err)
	}
	if incident.AcknowledgedAt != nil {
		return fmt.Errorf("incident already acknowledged")
	}

	now := s.now()
	incident.AcknowledgedAt = &now
	incident.AcknowledgedBy = &userEmail
	if err := s.store.UpdateIncident(incident); err != nil {
		return fmt.Errorf("failed to acknowledge incident: %w", err)
	}

	return s.store.CreateIncidentEvent(&db.IncidentEvent{
		ID:          uuid.New().String(),
		IncidentID:  incident.ID,
		EventType:   db.IncidentEventAcknowledged,
		EventTime:   now,
		Description: fmt.Sprintf("Incident acknowledged by %s", userEmail),
		CreatedBy:   &userEmail,
	})
}

// AddComment appends a free-text event to an incident's timeline.
func (s *Service) AddComment(incidentID, orgID, userEmail, comment string) error {
	incident, err := s.store.GetIncident(incidentID, orgID)
	if err != nil {
		return fmt.Errorf("failed to get incident: %w", err)
	}

	return s.store.CreateIncidentEvent(&db.IncidentEvent{
		ID:          uuid.New().String(),
		IncidentID:  incident.ID,
		EventType:   db.IncidentEventComment,
		EventTime:   s.now(),
		Description: comment,
		CreatedBy:   &userEmail,
	})
}

func severityFor(s db.MonitorStatus) string {
	switch s {
	case db.MonitorDown:
		return "critical"
	case db.MonitorDegraded:
		return "warning"
	default:
		return "info"
	}
}

// Package alerts evaluates alert policies against monitor state
// transitions and fans notifications out to channels, with cooldown,
// escalation stepping and on-call routing.
package alerts

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pulsegrid/pulsegrid/internal/db"
	"github.com/pulsegrid/pulsegrid/internal/metrics"
	"github.com/pulsegrid/pulsegrid/internal/status"
)

// Store is the slice of the repository the alert engine needs.
type Store interface {
	GetPoliciesForMonitor(monitorID string) ([]*db.AlertPolicy, error)
	GetAlertPolicyByID(id string) (*db.AlertPolicy, error)
	GetRuntime(monitorID string) (*db.MonitorRuntime, error)
	CountFailuresSince(monitorID string, since time.Time) (int, error)
	GetAlertState(policyID, monitorID string) (*db.AlertState, error)
	SaveAlertState(s *db.AlertState) error
	CreateAlertHistory(h *db.AlertHistory) error
	CreateNotificationLog(l *db.NotificationLog) error
	GetChannel(id string) (*db.NotificationChannel, error)
	GetEscalationPolicy(id string) (*db.EscalationPolicy, error)
	GetOncallRotation(id string) (*db.OncallRotation, error)
	GetOncallOverrides(rotationID string, at time.Time) ([]*db.OncallOverride, error)
	ListHandoffRotations() ([]*db.OncallRotation, error)
	GetPendingEscalations() ([]*db.AlertState, error)
	GetMonitorByID(id string) (*db.Monitor, error)
}

type Engine struct {
	store    Store
	notifier Notifier
	metrics  *metrics.Collector
	logger   *zap.Logger
	now      func() time.Time

	// locks serializes evaluation per (monitor, policy). Evaluation for
	// different pairs runs fully parallel.
	locks sync.Map

	// handoffs remembers the last shift boundary notified per rotation so
	// a reminder fires once per handoff, not once per sweep.
	handoffs sync.Map
}

func NewEngine(store Store, notifier Notifier, collector *metrics.Collector, logger *zap.Logger) *Engine {
	return &Engine{
		store:    store,
		notifier: notifier,
		metrics:  collector,
		logger:   logger,
		now:      time.Now,
	}
}

// OnStateChange implements status.Sink: every monitor status transition is
// evaluated against every policy scoped to the monitor.
func (e *Engine) OnStateChange(ctx context.Context, change *status.StateChange) {
	policies, err := e.store.GetPoliciesForMonitor(change.Monitor.ID)
	if err != nil {
		e.logger.Error("Failed to load policies for monitor",
			zap.Error(err),
			zap.String("monitor_id", change.Monitor.ID),
		)
		return
	}

	for _, policy := range policies {
		if err := e.evaluate(ctx, policy, change); err != nil {
			e.logger.Error("Policy evaluation failed",
				zap.Error(err),
				zap.String("policy_id", policy.ID),
				zap.String("monitor_id", change.Monitor.ID),
			)
		}
	}
}

func (e *Engine) lockFor(policyID, monitorID string) *sync.Mutex {
	v, _ := e.locks.LoadOrStore(policyID+"/"+monitorID, &sync.Mutex{})
	return v.(*sync.Mutex)
}

func (e *Engine) evaluate(ctx context.Context, policy *db.AlertPolicy, change *status.StateChange) error {
	mu := e.lockFor(policy.ID, change.Monitor.ID)
	mu.Lock()
	defer mu.Unlock()

	now := e.now()
	recovery := change.To == db.MonitorActive

	matched, err := e.conditionsMatch(policy, change, recovery, now)
	if err != nil {
		return err
	}
	if !matched {
		return nil
	}

	state, err := e.store.GetAlertState(policy.ID, change.Monitor.ID)
	if err != nil {
		return fmt.Errorf("failed to load alert state: %w", err)
	}

	if recovery {
		// Recovery dispatches bypass the cooldown window: the cooldown
		// exists to suppress repeat "down" pages, and a recovery is the
		// end of that episode, not a repeat of it.
		StopEscalation(state)
		state.UpdatedAt = now
		if err := e.store.SaveAlertState(state); err != nil {
			return fmt.Errorf("failed to save alert state: %w", err)
		}
		return e.dispatch(ctx, policy, change, "recovered", now)
	}

	if policy.CooldownMinutes > 0 && state.LastTriggeredAt != nil {
		cooldown := time.Duration(policy.CooldownMinutes) * time.Minute
		if now.Sub(*state.LastTriggeredAt) < cooldown {
			e.logger.Debug("Alert suppressed by cooldown",
				zap.String("policy_id", policy.ID),
				zap.String("monitor_id", change.Monitor.ID),
			)
			return nil
		}
	}

	triggeredAt := now
	state.LastTriggeredAt = &triggeredAt
	if policy.EscalationPolicyID != nil {
		esc, err := e.store.GetEscalationPolicy(*policy.EscalationPolicyID)
		if err != nil {
			return fmt.Errorf("failed to load escalation policy: %w", err)
		}
		StartEscalation(state, esc, severityFor(change.To), now)
	}
	state.UpdatedAt = now
	if err := e.store.SaveAlertState(state); err != nil {
		return fmt.Errorf("failed to save alert state: %w", err)
	}

	if err := e.dispatch(ctx, policy, change, "triggered", now); err != nil {
		return err
	}

	// Fire any zero-delay escalation steps immediately.
	if policy.EscalationPolicyID != nil {
		return e.advanceOne(ctx, policy, change.Monitor, state, now)
	}
	return nil
}

// conditionsMatch applies the policy's any-of condition set.
func (e *Engine) conditionsMatch(policy *db.AlertPolicy, change *status.StateChange, recovery bool, now time.Time) (bool, error) {
	c := policy.Conditions

	if recovery {
		if c.ConsecutiveSuccesses <= 0 {
			return false, nil
		}
		rt, err := e.store.GetRuntime(change.Monitor.ID)
		if err != nil {
			return false, fmt.Errorf("failed to load runtime: %w", err)
		}
		return rt.ConsecutiveSuccesses >= c.ConsecutiveSuccesses, nil
	}

	if c.ConsecutiveFailures > 0 {
		rt, err := e.store.GetRuntime(change.Monitor.ID)
		if err != nil {
			return false, fmt.Errorf("failed to load runtime: %w", err)
		}
		if rt.ConsecutiveFailures >= c.ConsecutiveFailures {
			return true, nil
		}
	}

	if c.FailuresInWindow != nil {
		since := now.Add(-time.Duration(c.FailuresInWindow.WindowMinutes) * time.Minute)
		count, err := e.store.CountFailuresSince(change.Monitor.ID, since)
		if err != nil {
			return false, fmt.Errorf("failed to count windowed failures: %w", err)
		}
		if count >= c.FailuresInWindow.Count {
			return true, nil
		}
	}

	if c.DegradedDurationMins > 0 && change.To == db.MonitorDegraded {
		rt, err := e.store.GetRuntime(change.Monitor.ID)
		if err != nil {
			return false, fmt.Errorf("failed to load runtime: %w", err)
		}
		// Degraded duration is derived from the consecutive degraded
		// count and the check interval.
		degradedFor := time.Duration(rt.ConsecutiveDegraded*change.Monitor.IntervalSeconds) * time.Second
		if degradedFor >= time.Duration(c.DegradedDurationMins)*time.Minute {
			return true, nil
		}
	}

	// A transition into down with no explicit condition configured still
	// alerts; the status engine's thresholds already gated it.
	if c.ConsecutiveFailures == 0 && c.FailuresInWindow == nil && c.DegradedDurationMins == 0 {
		return change.To == db.MonitorDown || change.To == db.MonitorDegraded, nil
	}
	return false, nil
}

// dispatch creates the AlertHistory row and one NotificationLog row per
// channel, delivering independently: one channel failing is recorded and
// the rest still go out.
func (e *Engine) dispatch(ctx context.Context, policy *db.AlertPolicy, change *status.StateChange, kind string, now time.Time) error {
	history := &db.AlertHistory{
		ID:        uuid.New().String(),
		OrgID:     policy.OrgID,
		PolicyID:  policy.ID,
		MonitorID: change.Monitor.ID,
		Status:    change.To,
		Kind:      kind,
		CreatedAt: now,
	}
	if err := e.store.CreateAlertHistory(history); err != nil {
		return fmt.Errorf("failed to create alert history: %w", err)
	}

	recipient := ""
	if policy.OncallRotationID != nil {
		recipient = e.resolveOncall(*policy.OncallRotationID, now)
	}

	msg := &Message{
		MonitorID:   change.Monitor.ID,
		MonitorName: change.Monitor.Name,
		Status:      change.To,
		Kind:        kind,
		At:          now,
		Body: fmt.Sprintf("[%s] monitor %q is %s (was %s)",
			kind, change.Monitor.Name, change.To, change.From),
	}

	e.fanOut(ctx, history.ID, policy.Channels, msg, now)

	if recipient != "" {
		sent := now
		e.logNotification(&db.NotificationLog{
			ID:        uuid.New().String(),
			AlertID:   history.ID,
			ChannelID: "oncall",
			Recipient: recipient,
			SentAt:    &sent,
			CreatedAt: now,
		})
	}
	return nil
}

// fanOut delivers to each channel id independently.
func (e *Engine) fanOut(ctx context.Context, alertID string, channelIDs []string, msg *Message, now time.Time) {
	for _, channelID := range channelIDs {
		logRow := &db.NotificationLog{
			ID:        uuid.New().String(),
			AlertID:   alertID,
			ChannelID: channelID,
			CreatedAt: now,
		}

		channel, err := e.store.GetChannel(channelID)
		switch {
		case err != nil:
			logRow.Error = fmt.Sprintf("channel lookup failed: %v", err)
		case !channel.Enabled:
			logRow.Error = "channel disabled"
		default:
			start := time.Now()
			sendErr := e.notifier.Send(ctx, channel, msg)
			e.metrics.RecordNotification(channel.OrgID, channel.Type, sendErr, time.Since(start))
			if sendErr != nil {
				logRow.Error = sendErr.Error()
				e.logger.Warn("Notification delivery failed",
					zap.Error(sendErr),
					zap.String("channel_id", channelID),
				)
			} else {
				sent := e.now()
				logRow.SentAt = &sent
			}
		}
		e.logNotification(logRow)
	}
}

func (e *Engine) logNotification(l *db.NotificationLog) {
	if err := e.store.CreateNotificationLog(l); err != nil {
		e.logger.Error("Failed to write notification log", zap.Error(err))
	}
}

func (e *Engine) resolveOncall(rotationID string, now time.Time) string {
	rotation, err := e.store.GetOncallRotation(rotationID)
	if err != nil {
		e.logger.Error("Failed to load oncall rotation", zap.Error(err), zap.String("rotation_id", rotationID))
		return ""
	}
	overrides, err := e.store.GetOncallOverrides(rotationID, now)
	if err != nil {
		e.logger.Error("Failed to load oncall overrides", zap.Error(err), zap.String("rotation_id", rotationID))
		overrides = nil
	}
	return CurrentParticipant(rotation, overrides, now)
}

// Acknowledge marks the (policy, monitor) escalation acknowledged; steps
// flagged skip-if-acknowledged will no longer fire.
func (e *Engine) Acknowledge(policyID, monitorID string) error {
	mu := e.lockFor(policyID, monitorID)
	mu.Lock()
	defer mu.Unlock()

	state, err := e.store.GetAlertState(policyID, monitorID)
	if err != nil {
		return fmt.Errorf("failed to load alert state: %w", err)
	}
	state.Acknowledged = true
	state.UpdatedAt = e.now()
	return e.store.SaveAlertState(state)
}

// RunEscalations drives pending escalations forward on a fixed interval
// until the context is cancelled.
func (e *Engine) RunEscalations(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.AdvancePending(ctx)
			e.SweepHandoffs(ctx)
		}
	}
}

// SweepHandoffs sends on-call handoff reminders for rotations whose next
// shift boundary is inside the notification window. Reminders are not
// alerts, so they bypass alert history and go straight to the channels.
func (e *Engine) SweepHandoffs(ctx context.Context) {
	rotations, err := e.store.ListHandoffRotations()
	if err != nil {
		e.logger.Error("Failed to list handoff rotations", zap.Error(err))
		return
	}

	now := e.now()
	for _, rotation := range rotations {
		due, next := HandoffDue(rotation, now)
		if !due {
			continue
		}
		boundary, _ := NextHandoff(rotation, now)
		if last, ok := e.handoffs.Load(rotation.ID); ok && last.(time.Time).Equal(boundary) {
			continue
		}

		msg := &Message{
			Kind:      "handoff",
			Recipient: next,
			At:        now,
			Body: fmt.Sprintf("on-call handoff for rotation %q: %s takes over at %s",
				rotation.Name, next, boundary.Format(time.RFC3339)),
		}
		for _, channelID := range rotation.HandoffChannels {
			channel, err := e.store.GetChannel(channelID)
			if err != nil {
				e.logger.Warn("Handoff channel lookup failed",
					zap.Error(err),
					zap.String("channel_id", channelID),
				)
				continue
			}
			start := time.Now()
			sendErr := e.notifier.Send(ctx, channel, msg)
			e.metrics.RecordNotification(channel.OrgID, channel.Type, sendErr, time.Since(start))
			if sendErr != nil {
				e.logger.Warn("Handoff reminder delivery failed",
					zap.Error(sendErr),
					zap.String("channel_id", channelID),
					zap.String("rotation_id", rotation.ID),
				)
			}
		}
		e.handoffs.Store(rotation.ID, boundary)
	}
}

// AdvancePending advances every in-progress escalation by the current
// clock, firing due steps.
func (e *Engine) AdvancePending(ctx context.Context) {
	states, err := e.store.GetPendingEscalations()
	if err != nil {
		e.logger.Error("Failed to load pending escalations", zap.Error(err))
		return
	}

	for _, state := range states {
		policy, err := e.store.GetAlertPolicyByID(state.PolicyID)
		if err != nil {
			e.logger.Error("Failed to load policy for escalation", zap.Error(err), zap.String("policy_id", state.PolicyID))
			continue
		}
		monitor, err := e.store.GetMonitorByID(state.MonitorID)
		if err != nil {
			e.logger.Error("Failed to load monitor for escalation", zap.Error(err), zap.String("monitor_id", state.MonitorID))
			continue
		}

		mu := e.lockFor(state.PolicyID, state.MonitorID)
		mu.Lock()
		if err := e.advanceOne(ctx, policy, monitor, state, e.now()); err != nil {
			e.logger.Error("Escalation advance failed", zap.Error(err), zap.String("policy_id", state.PolicyID))
		}
		mu.Unlock()
	}
}

func (e *Engine) advanceOne(ctx context.Context, policy *db.AlertPolicy, monitor *db.Monitor, state *db.AlertState, now time.Time) error {
	if policy.EscalationPolicyID == nil {
		return nil
	}
	esc, err := e.store.GetEscalationPolicy(*policy.EscalationPolicyID)
	if err != nil {
		return fmt.Errorf("failed to load escalation policy: %w", err)
	}

	fires := AdvanceEscalation(state, esc, now)
	for _, fire := range fires {
		e.metrics.RecordEscalationStep(policy.OrgID)
		msg := &Message{
			MonitorID:   monitor.ID,
			MonitorName: monitor.Name,
			Status:      monitor.Status,
			Kind:        "escalation",
			At:          now,
			Body: fmt.Sprintf("[escalation step %d] monitor %q is %s",
				fire.Index+1, monitor.Name, monitor.Status),
		}

		history := &db.AlertHistory{
			ID:        uuid.New().String(),
			OrgID:     policy.OrgID,
			PolicyID:  policy.ID,
			MonitorID: monitor.ID,
			Status:    monitor.Status,
			Kind:      "escalation",
			CreatedAt: now,
		}
		if err := e.store.CreateAlertHistory(history); err != nil {
			return fmt.Errorf("failed to create escalation history: %w", err)
		}

		e.fanOut(ctx, history.ID, fire.Step.Channels, msg, now)

		if fire.Step.OncallRotationID != nil {
			if recipient := e.resolveOncall(*fire.Step.OncallRotationID, now); recipient != "" {
				sent := now
				e.logNotification(&db.NotificationLog{
					ID:        uuid.New().String(),
					AlertID:   history.ID,
					ChannelID: "oncall",
					Recipient: recipient,
					SentAt:    &sent,
					CreatedAt: now,
				})
			}
		}
	}

	state.UpdatedAt = now
	return e.store.SaveAlertState(state)
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

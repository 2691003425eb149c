// Package audit persists security-relevant events. Logging is best-effort:
// a failed write never fails the request that produced the event.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"identity-platform/trustcore/internal/audit/domain"
	auditrepo "identity-platform/trustcore/internal/audit/repository"
)

// SentinelOrgID is the org_id used for events that have no org, such as a
// failed login before an org is resolved.
const SentinelOrgID = "_system"

// IPExtractor returns the client IP from the request context.
type IPExtractor func(context.Context) string

// Emitter forwards an event to an external telemetry sink. Emit is
// best-effort and must not block the caller for long.
type Emitter interface {
	Emit(ctx context.Context, event *domain.SecurityEvent)
}

// Logger records events through the repository, falling back to structured
// logging when persistence fails so the event is never silently dropped.
type Logger struct {
	repo        auditrepo.Repository
	log         *zap.Logger
	ipExtractor IPExtractor
	emitter     Emitter
}

// NewLogger returns a Logger persisting to repo. ipExtractor may be nil;
// then IP is recorded as "unknown".
func NewLogger(repo auditrepo.Repository, log *zap.Logger, ipExtractor IPExtractor) *Logger {
	return &Logger{repo: repo, log: log, ipExtractor: ipExtractor}
}

// WithEmitter adds a secondary telemetry sink that receives every event in
// addition to the repository write.
func (l *Logger) WithEmitter(e Emitter) *Logger {
	l.emitter = e
	return l
}

// LogEvent writes one security event. Best-effort: errors are logged, not returned.
func (l *Logger) LogEvent(ctx context.Context, orgID, userID, action, resource, metadata string) {
	ip := "unknown"
	if l.ipExtractor != nil {
		ip = l.ipExtractor(ctx)
	}
	if orgID == "" {
		orgID = SentinelOrgID
	}
	event := &domain.SecurityEvent{
		ID:        uuid.New().String(),
		OrgID:     orgID,
		UserID:    userID,
		Action:    action,
		Resource:  resource,
		IP:        ip,
		Metadata:  metadata,
		CreatedAt: time.Now().UTC(),
	}
	if l.emitter != nil {
		l.emitter.Emit(ctx, event)
	}
	if l.repo == nil {
		l.logFallback(event, nil)
		return
	}
	if err := l.repo.Create(ctx, event); err != nil {
		l.logFallback(event, err)
	}
}

func (l *Logger) logFallback(e *domain.SecurityEvent, cause error) {
	if l.log == nil {
		return
	}
	l.log.Warn("security event not persisted",
		zap.String("org_id", e.OrgID),
		zap.String("user_id", e.UserID),
		zap.String("action", e.Action),
		zap.String("resource", e.Resource),
		zap.String("ip", e.IP),
		zap.Error(cause),
	)
}

package logger

import (
	"context"
	"log/slog"
	"time"
)

// LoginAuditEvent describes one authentication attempt
type LoginAuditEvent struct {
	Email     string
	UserID    string
	IPAddress string
	UserAgent string
	Outcome   string
	Success   bool
}

// AuditLogger writes security audit records through slog
type AuditLogger struct {
	logger *slog.Logger
	now    func() time.Time
}

// NewAuditLogger creates a new audit logger
func NewAuditLogger(logger *slog.Logger) *AuditLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuditLogger{logger: logger, now: time.Now}
}

func (al *AuditLogger) base(auditType, eventType string) []slog.Attr {
	return []slog.Attr{
		slog.String("audit_type", auditType),
		slog.String("event_type", eventType),
		slog.String("timestamp", al.now().UTC().Format(time.RFC3339)),
	}
}

// LogLoginAttempt records a login attempt. Failures log at warn.
func (al *AuditLogger) LogLoginAttempt(ctx context.Context, event LoginAuditEvent) {
	attrs := al.base("auth", "login")
	attrs = append(attrs,
		slog.String("email", SanitizedEmail(event.Email)),
		slog.String("outcome", event.Outcome),
		slog.Bool("success", event.Success),
	)

	if event.UserID != "" {
		attrs = append(attrs, slog.String("user_id", event.UserID))
	}
	if event.IPAddress != "" {
		attrs = append(attrs, slog.String("ip_address", event.IPAddress))
	}
	if event.UserAgent != "" {
		attrs = append(attrs, slog.String("user_agent", event.UserAgent))
	}

	level := slog.LevelInfo
	if !event.Success {
		level = slog.LevelWarn
	}
	al.logger.LogAttrs(ctx, level, "audit", attrs...)
}

// LogLockout records an account crossing the failure threshold
func (al *AuditLogger) LogLockout(ctx context.Context, userID, email, ipAddress string, until time.Time) {
	attrs := al.base("account", "account_locked")
	attrs = append(attrs,
		slog.String("user_id", userID),
		slog.String("email", SanitizedEmail(email)),
		slog.String("locked_until", until.UTC().Format(time.RFC3339)),
	)
	if ipAddress != "" {
		attrs = append(attrs, slog.String("ip_address", ipAddress))
	}

	al.logger.LogAttrs(ctx, slog.LevelWarn, "audit", attrs...)
}

// LogAccountAction logs general account actions such as an admin unlock
func (al *AuditLogger) LogAccountAction(ctx context.Context, eventType, actorID, targetID, ipAddress string) {
	attrs := al.base("account", eventType)
	attrs = append(attrs,
		slog.String("actor_id", actorID),
		slog.String("user_id", targetID),
	)
	if ipAddress != "" {
		attrs = append(attrs, slog.String("ip_address", ipAddress))
	}

	al.logger.LogAttrs(ctx, slog.LevelInfo, "audit", attrs...)
}

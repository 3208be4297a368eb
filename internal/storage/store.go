package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"replyguard/internal/config"
	"replyguard/internal/model"
)

// Failure kinds every backend maps its driver errors onto.
var (
	ErrUnavailable      = errors.New("store unavailable")
	ErrTimeout          = errors.New("store timeout")
	ErrPermissionDenied = errors.New("store permission denied")
)

const statusID = "replyguard"

// StatusSink receives service lifecycle records. Zero-valued fields are left untouched.
type StatusSink interface {
	SaveStatus(ctx context.Context, status model.ServiceStatus) error
}

type Store interface {
	StatusSink
	Init(ctx context.Context) error
	Close() error
	// GetCooldown returns nil, nil when no record exists for the user.
	GetCooldown(ctx context.Context, userID string) (*model.CooldownRecord, error)
	SetCooldown(ctx context.Context, rec model.CooldownRecord) error
	GetStatus(ctx context.Context) (*model.ServiceStatus, error)
}

func NewStore(cfg config.StorageConfig) (Store, error) {
	switch strings.ToLower(cfg.Driver) {
	case "memory":
		return NewMemory(), nil
	case "sqlite":
		return NewSQLite(cfg.DSN)
	case "postgres", "postgresql":
		return NewPostgres(cfg.DSN)
	case "redis":
		return NewRedis(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.Driver)
	}
}

// UserKey is the document key a user's cooldown record lives under.
func UserKey(userID string) string {
	return "users/" + userID
}

// Classify wraps err with the matching failure kind. Errors that already carry
// a kind are returned unchanged.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrUnavailable) || errors.Is(err, ErrTimeout) || errors.Is(err, ErrPermissionDenied) {
		return err
	}
	kind := ErrUnavailable
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		kind = ErrTimeout
	case errors.As(err, &netErr) && netErr.Timeout():
		kind = ErrTimeout
	case postgresPermissionDenied(err), sqlitePermissionDenied(err), redisPermissionDenied(err):
		kind = ErrPermissionDenied
	}
	return fmt.Errorf("%w: %w", kind, err)
}

// KindOf names the failure kind of err for logs and metric labels.
func KindOf(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrPermissionDenied):
		return "permission_denied"
	default:
		return "unavailable"
	}
}

type baseStore struct {
	db     *sql.DB
	rebind func(string) string
}

func (b *baseStore) Close() error {
	if b.db != nil {
		return b.db.Close()
	}
	return nil
}

func (b *baseStore) exec(ctx context.Context, stmts []string) error {
	for _, stmt := range stmts {
		if _, err := b.db.ExecContext(ctx, stmt); err != nil {
			return Classify(err)
		}
	}
	return nil
}

func (b *baseStore) query(q string) string {
	if b.rebind == nil {
		return q
	}
	return b.rebind(q)
}

func (b *baseStore) GetCooldown(ctx context.Context, userID string) (*model.CooldownRecord, error) {
	if b.db == nil {
		return nil, ErrUnavailable
	}
	var (
		lastMS      int64
		lastUpdated sql.NullString
		resets      int64
		total       int64
	)
	row := b.db.QueryRowContext(ctx, b.query(`
		SELECT last_fallback_ms, last_updated, cooldown_reset_count, total_fallbacks
		FROM users
		WHERE user_id = ?`), userID)
	if err := row.Scan(&lastMS, &lastUpdated, &resets, &total); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, Classify(fmt.Errorf("get %s: %w", UserKey(userID), err))
	}
	return &model.CooldownRecord{
		UserID:             userID,
		LastFallbackTime:   fromMillis(lastMS),
		LastUpdated:        lastUpdated.String,
		CooldownResetCount: resets,
		TotalFallbacks:     total,
	}, nil
}

func (b *baseStore) SetCooldown(ctx context.Context, rec model.CooldownRecord) error {
	if b.db == nil {
		return ErrUnavailable
	}
	_, err := b.db.ExecContext(ctx, b.query(`
		INSERT INTO users (user_id, last_fallback_ms, last_updated, cooldown_reset_count, total_fallbacks)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET
			last_fallback_ms = excluded.last_fallback_ms,
			last_updated = excluded.last_updated,
			cooldown_reset_count = excluded.cooldown_reset_count,
			total_fallbacks = excluded.total_fallbacks`),
		rec.UserID,
		rec.LastFallbackTime.UnixMilli(),
		rec.LastUpdated,
		rec.CooldownResetCount,
		rec.TotalFallbacks,
	)
	if err != nil {
		return Classify(fmt.Errorf("set %s: %w", UserKey(rec.UserID), err))
	}
	return nil
}

func (b *baseStore) SaveStatus(ctx context.Context, status model.ServiceStatus) error {
	if b.db == nil {
		return ErrUnavailable
	}
	_, err := b.db.ExecContext(ctx, b.query(`
		INSERT INTO service_status (id, status, last_connection_ms, last_shutdown_ms, error_record)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			status = COALESCE(excluded.status, service_status.status),
			last_connection_ms = COALESCE(excluded.last_connection_ms, service_status.last_connection_ms),
			last_shutdown_ms = COALESCE(excluded.last_shutdown_ms, service_status.last_shutdown_ms),
			error_record = COALESCE(excluded.error_record, service_status.error_record)`),
		statusID,
		nullString(status.Status),
		nullMillis(status.LastConnection),
		nullMillis(status.LastShutdown),
		nullString(status.ErrorRecord),
	)
	if err != nil {
		return Classify(fmt.Errorf("save status: %w", err))
	}
	return nil
}

func (b *baseStore) GetStatus(ctx context.Context) (*model.ServiceStatus, error) {
	if b.db == nil {
		return nil, ErrUnavailable
	}
	var (
		status   sql.NullString
		conn     sql.NullInt64
		shutdown sql.NullInt64
		errRec   sql.NullString
	)
	row := b.db.QueryRowContext(ctx, b.query(`
		SELECT status, last_connection_ms, last_shutdown_ms, error_record
		FROM service_status
		WHERE id = ?`), statusID)
	if err := row.Scan(&status, &conn, &shutdown, &errRec); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, Classify(fmt.Errorf("get status: %w", err))
	}
	out := &model.ServiceStatus{Status: status.String, ErrorRecord: errRec.String}
	if conn.Valid {
		out.LastConnection = fromMillis(conn.Int64)
	}
	if shutdown.Valid {
		out.LastShutdown = fromMillis(shutdown.Int64)
	}
	return out, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullMillis(t time.Time) sql.NullInt64 {
	if t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

// dollarRebind rewrites ? placeholders into $1, $2, ... for postgres.
func dollarRebind(q string) string {
	var sb strings.Builder
	sb.Grow(len(q) + 8)
	n := 0
	for _, ch := range q {
		if ch == '?' {
			n++
			sb.WriteByte('$')
			sb.WriteString(strconv.Itoa(n))
			continue
		}
		sb.WriteRune(ch)
	}
	return sb.String()
}

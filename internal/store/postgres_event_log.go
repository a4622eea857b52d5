package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	cerrors "github.com/devrev/causality/internal/errors"
	"github.com/devrev/causality/internal/model"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

const eventColumns = `event_id, node_id, lamport_time, vector_clock, version_vector, event_type, payload, created_at`

// schema mirrors the indexes the log is queried by: per-node Lamport order and creation time
const eventLogSchema = `
CREATE TABLE IF NOT EXISTS causality_events (
	seq             BIGSERIAL PRIMARY KEY,
	event_id        TEXT NOT NULL UNIQUE,
	node_id         VARCHAR(64) NOT NULL,
	lamport_time    BIGINT NOT NULL,
	vector_clock    JSONB,
	version_vector JSONB,
	event_type      VARCHAR(32),
	payload         JSONB,
	created_at      TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_causality_events_node_lamport ON causality_events (node_id, lamport_time);
CREATE INDEX IF NOT EXISTS idx_causality_events_created_at ON causality_events (created_at);
`

// PostgresConfig holds the connection settings for PostgresEventLog
type PostgresConfig struct {
	Host           string
	Port           int
	Database       string
	User           string
	Password       string
	MaxConnections int
	MinConnections int
}

// PostgresEventLog implements EventLog using PostgreSQL
type PostgresEventLog struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresEventLog connects to PostgreSQL and ensures the schema exists
func NewPostgresEventLog(ctx context.Context, cfg PostgresConfig, logger *zap.Logger) (*PostgresEventLog, error) {
	connString := fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s pool_max_conns=%d pool_min_conns=%d",
		cfg.Host, cfg.Port, cfg.Database, cfg.User, cfg.Password, cfg.MaxConnections, cfg.MinConnections,
	)

	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log := NewPostgresEventLogFromPool(pool, logger)
	if err := log.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return log, nil
}

// NewPostgresEventLogFromPool wraps an existing pool
func NewPostgresEventLogFromPool(pool *pgxpool.Pool, logger *zap.Logger) *PostgresEventLog {
	return &PostgresEventLog{
		pool:   pool,
		logger: logger,
	}
}

// EnsureSchema creates the events table and its indexes
func (l *PostgresEventLog) EnsureSchema(ctx context.Context) error {
	if _, err := l.pool.Exec(ctx, eventLogSchema); err != nil {
		return fmt.Errorf("failed to create event log schema: %w", err)
	}
	return nil
}

// Append inserts an event
func (l *PostgresEventLog) Append(ctx context.Context, event *model.CausalityEvent) error {
	if event == nil || event.ID == "" {
		return cerrors.InvalidArgument("event must have an id", nil)
	}

	var vectorClock, versionVector []byte
	var err error
	if event.VectorClock != nil {
		if vectorClock, err = event.VectorClock.MarshalJSON(); err != nil {
			return cerrors.Serialization("vector clock", err)
		}
	}
	if event.VersionVector != nil {
		if versionVector, err = event.VersionVector.MarshalJSON(); err != nil {
			return cerrors.Serialization("version vector", err)
		}
	}
	var payload []byte
	if len(event.Payload) > 0 {
		payload = []byte(event.Payload)
	}

	query := `INSERT INTO causality_events (` + eventColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err = l.pool.Exec(ctx, query,
		event.ID,
		event.NodeID,
		event.LamportTime,
		vectorClock,
		versionVector,
		event.EventType,
		payload,
		event.CreatedAt,
	)
	if err != nil {
		return cerrors.EventLogFailed("failed to append event", err).WithDetail("event_id", event.ID)
	}
	return nil
}

// Get retrieves one event
func (l *PostgresEventLog) Get(ctx context.Context, id string) (*model.CausalityEvent, error) {
	query := `SELECT ` + eventColumns + ` FROM causality_events WHERE event_id = $1`
	event, err := l.scanEvent(l.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, cerrors.NotFound("event", id, ErrNotFound)
	}
	if err != nil {
		return nil, cerrors.EventLogFailed("failed to get event", err).WithDetail("event_id", id)
	}
	return event, nil
}

// Recent returns up to limit events, most recent first
func (l *PostgresEventLog) Recent(ctx context.Context, limit int) ([]*model.CausalityEvent, error) {
	query := `SELECT ` + eventColumns + ` FROM causality_events ORDER BY created_at DESC, seq DESC LIMIT $1`
	return l.queryEvents(ctx, query, limitOrAll(limit))
}

// ListByNode returns up to limit events of one node, most recent first
func (l *PostgresEventLog) ListByNode(ctx context.Context, nodeID string, limit int) ([]*model.CausalityEvent, error) {
	query := `SELECT ` + eventColumns + ` FROM causality_events WHERE node_id = $1 ORDER BY created_at DESC, seq DESC LIMIT $2`
	return l.queryEvents(ctx, query, nodeID, limitOrAll(limit))
}

// ListByTimeRange returns events created in [start, end] ordered by Lamport time
func (l *PostgresEventLog) ListByTimeRange(ctx context.Context, start, end time.Time) ([]*model.CausalityEvent, error) {
	query := `SELECT ` + eventColumns + ` FROM causality_events WHERE created_at BETWEEN $1 AND $2 ORDER BY lamport_time, seq`
	return l.queryEvents(ctx, query, start, end)
}

// DeleteBefore removes events created before cutoff
func (l *PostgresEventLog) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := l.pool.Exec(ctx, `DELETE FROM causality_events WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, cerrors.EventLogFailed("failed to delete old events", err)
	}
	return result.RowsAffected(), nil
}

// Ping checks the database connection
func (l *PostgresEventLog) Ping(ctx context.Context) error {
	return l.pool.Ping(ctx)
}

// Close closes the connection pool
func (l *PostgresEventLog) Close() {
	l.pool.Close()
}

func (l *PostgresEventLog) queryEvents(ctx context.Context, query string, args ...interface{}) ([]*model.CausalityEvent, error) {
	rows, err := l.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, cerrors.EventLogFailed("failed to query events", err)
	}
	defer rows.Close()

	events := make([]*model.CausalityEvent, 0)
	for rows.Next() {
		event, err := l.scanEvent(rows)
		if err != nil {
			return nil, cerrors.EventLogFailed("failed to scan event", err)
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, cerrors.EventLogFailed("failed to read events", err)
	}
	return events, nil
}

// scanEvent decodes one row. A malformed vector column leaves the field nil
// so that readers can skip the event instead of failing the whole query.
func (l *PostgresEventLog) scanEvent(row pgx.Row) (*model.CausalityEvent, error) {
	var (
		event         model.CausalityEvent
		vectorClock   []byte
		versionVector []byte
		eventType     *string
		payload       []byte
	)
	if err := row.Scan(
		&event.ID,
		&event.NodeID,
		&event.LamportTime,
		&vectorClock,
		&versionVector,
		&eventType,
		&payload,
		&event.CreatedAt,
	); err != nil {
		return nil, err
	}

	if eventType != nil {
		event.EventType = *eventType
	}
	if len(payload) > 0 {
		event.Payload = json.RawMessage(payload)
	}
	if vectorClock != nil {
		var vc model.VectorClock
		if err := json.Unmarshal(vectorClock, &vc); err != nil {
			l.logger.Warn("Malformed vector clock in event log",
				zap.String("event_id", event.ID),
				zap.Error(err))
		} else {
			event.VectorClock = &vc
		}
	}
	if versionVector != nil {
		var vv model.VersionVector
		if err := json.Unmarshal(versionVector, &vv); err != nil {
			l.logger.Warn("Malformed version vector in event log",
				zap.String("event_id", event.ID),
				zap.Error(err))
		} else {
			event.VersionVector = &vv
		}
	}
	return &event, nil
}

func limitOrAll(limit int) interface{} {
	if limit <= 0 {
		return nil
	}
	return limit
}

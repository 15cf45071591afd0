// Package store archives every applied graph snapshot to PostgreSQL so an
// investigation can be replayed after the workspace session is gone.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/htrap1211/GraphX-OSINT/api/schemas"
	"github.com/htrap1211/GraphX-OSINT/internal/identity"
	"github.com/htrap1211/GraphX-OSINT/internal/risk"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Archiver persists snapshots. *Store implements it.
type Archiver interface {
	SaveSnapshot(ctx context.Context, jobID string, revision uint64, snap schemas.Snapshot) error
}

// DBPool is an interface that abstracts the pgxpool.Pool to allow for mocking in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// SnapshotInfo describes one archived snapshot.
type SnapshotInfo struct {
	ID         string
	JobID      string
	Revision   uint64
	NodeCount  int
	EdgeCount  int
	CapturedAt time.Time
}

var (
	nodeColumns = []string{"snapshot_id", "node_id", "kind", "canonical_key", "risk_score", "risk_level", "properties"}
	edgeColumns = []string{"snapshot_id", "source", "target", "type", "properties"}
)

const schemaDDL = `
CREATE TABLE IF NOT EXISTS graph_snapshots (
    id          UUID PRIMARY KEY,
    job_id      TEXT NOT NULL,
    revision    BIGINT NOT NULL,
    node_count  INTEGER NOT NULL,
    edge_count  INTEGER NOT NULL,
    captured_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS graph_snapshots_job_idx ON graph_snapshots (job_id, captured_at);
CREATE TABLE IF NOT EXISTS snapshot_nodes (
    snapshot_id   UUID NOT NULL REFERENCES graph_snapshots (id) ON DELETE CASCADE,
    node_id       TEXT NOT NULL,
    kind          TEXT NOT NULL,
    canonical_key TEXT NOT NULL,
    risk_score    INTEGER NOT NULL,
    risk_level    TEXT NOT NULL,
    properties    JSONB NOT NULL
);
CREATE TABLE IF NOT EXISTS snapshot_edges (
    snapshot_id UUID NOT NULL REFERENCES graph_snapshots (id) ON DELETE CASCADE,
    source      TEXT NOT NULL,
    target      TEXT NOT NULL,
    type        TEXT NOT NULL,
    properties  JSONB NOT NULL
);`

const sqlInsertSnapshot = `
        INSERT INTO graph_snapshots (id, job_id, revision, node_count, edge_count, captured_at)
        VALUES ($1, $2, $3, $4, $5, $6);
    `

const sqlListSnapshots = `
        SELECT id, job_id, revision, node_count, edge_count, captured_at
        FROM graph_snapshots
        WHERE job_id = $1
        ORDER BY captured_at DESC
        LIMIT $2;
    `

// Store is the PostgreSQL snapshot archive.
type Store struct {
	pool DBPool
	log  *zap.Logger
	now  func() time.Time
}

var _ Archiver = (*Store)(nil)

// New creates a new store instance and verifies the connection.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &Store{
		pool: pool,
		log:  logger.Named("store"),
		now:  time.Now,
	}, nil
}

// EnsureSchema creates the archive tables when they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaDDL); err != nil {
		return fmt.Errorf("failed to create archive schema: %w", err)
	}
	return nil
}

// SaveSnapshot writes the snapshot header, its nodes and its edges in one transaction.
func (s *Store) SaveSnapshot(ctx context.Context, jobID string, revision uint64, snap schemas.Snapshot) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	snapshotID := uuid.NewString()
	if _, err := tx.Exec(ctx, sqlInsertSnapshot,
		snapshotID, jobID, int64(revision), len(snap.Nodes), len(snap.Edges), s.now().UTC(),
	); err != nil {
		return fmt.Errorf("failed to insert snapshot header: %w", err)
	}

	if len(snap.Nodes) > 0 {
		if err := s.copyNodes(ctx, tx, snapshotID, snap.Nodes); err != nil {
			return err
		}
	}
	if len(snap.Edges) > 0 {
		if err := s.copyEdges(ctx, tx, snapshotID, snap.Edges); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	s.log.Debug("Snapshot archived",
		zap.String("job_id", jobID),
		zap.String("snapshot_id", snapshotID),
		zap.Int("nodes", len(snap.Nodes)),
		zap.Int("edges", len(snap.Edges)))
	return nil
}

func (s *Store) copyNodes(ctx context.Context, tx pgx.Tx, snapshotID string, nodes []schemas.Entity) error {
	rows := make([][]interface{}, len(nodes))
	for i, n := range nodes {
		props, err := encodeProperties(n.Properties)
		if err != nil {
			return fmt.Errorf("failed to encode properties of node %s: %w", n.ID, err)
		}
		a := risk.Classify(n)
		rows[i] = []interface{}{snapshotID, n.ID, string(n.Kind), identity.Resolve(n), a.Score, string(a.Level), props}
	}

	copyCount, err := tx.CopyFrom(ctx, pgx.Identifier{"snapshot_nodes"}, nodeColumns, pgx.CopyFromRows(rows))
	if err != nil {
		return fmt.Errorf("failed to copy nodes: %w", err)
	}
	if int(copyCount) != len(nodes) {
		return fmt.Errorf("mismatch in copied nodes count: expected %d, got %d", len(nodes), copyCount)
	}
	return nil
}

func (s *Store) copyEdges(ctx context.Context, tx pgx.Tx, snapshotID string, edges []schemas.Relationship) error {
	rows := make([][]interface{}, len(edges))
	for i, e := range edges {
		props, err := encodeProperties(e.Properties)
		if err != nil {
			return fmt.Errorf("failed to encode properties of edge %s: %w", e.Key(), err)
		}
		rows[i] = []interface{}{snapshotID, e.Source, e.Target, e.Type, props}
	}

	copyCount, err := tx.CopyFrom(ctx, pgx.Identifier{"snapshot_edges"}, edgeColumns, pgx.CopyFromRows(rows))
	if err != nil {
		return fmt.Errorf("failed to copy edges: %w", err)
	}
	if int(copyCount) != len(edges) {
		return fmt.Errorf("mismatch in copied edges count: expected %d, got %d", len(edges), copyCount)
	}
	return nil
}

// ListSnapshots returns the most recent archived snapshots of a job, newest first.
func (s *Store) ListSnapshots(ctx context.Context, jobID string, limit int) ([]SnapshotInfo, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx, sqlListSnapshots, jobID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots: %w", err)
	}
	defer rows.Close()

	var out []SnapshotInfo
	for rows.Next() {
		var (
			info     SnapshotInfo
			revision int64
		)
		if err := rows.Scan(&info.ID, &info.JobID, &revision, &info.NodeCount, &info.EdgeCount, &info.CapturedAt); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot row: %w", err)
		}
		info.Revision = uint64(revision)
		out = append(out, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return out, nil
}

// encodeProperties never returns a JSON null so the NOT NULL jsonb columns hold "{}".
func encodeProperties(p schemas.Properties) ([]byte, error) {
	if len(p) == 0 {
		return []byte("{}"), nil
	}
	return json.Marshal(p)
}

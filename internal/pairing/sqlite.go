// ABOUTME: SQLite implementation of the paired-node Store using modernc.org/sqlite
// ABOUTME: Provides paired-node persistence with automatic schema creation

package pairing

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "pairing-store")

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("pairing store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist.
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS paired_nodes (
			node_id TEXT PRIMARY KEY,
			token TEXT NOT NULL,
			display_name TEXT,
			platform TEXT,
			created_at DATETIME NOT NULL,
			approved_at DATETIME NOT NULL
		);
	`
	_, err := s.db.Exec(schema)
	return err
}

// SaveNode inserts or replaces a paired node record.
func (s *SQLiteStore) SaveNode(ctx context.Context, node *Node) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO paired_nodes (node_id, token, display_name, platform, created_at, approved_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(node_id) DO UPDATE SET
			token = excluded.token,
			display_name = excluded.display_name,
			platform = excluded.platform,
			approved_at = excluded.approved_at
	`, node.NodeID, node.Token, node.DisplayName, node.Platform,
		node.CreatedAt.UTC(), node.ApprovedAt.UTC())
	if err != nil {
		return fmt.Errorf("saving paired node: %w", err)
	}
	return nil
}

// GetNode returns a paired node by ID, or ErrNodeNotFound.
func (s *SQLiteStore) GetNode(ctx context.Context, nodeID string) (*Node, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT node_id, token, display_name, platform, created_at, approved_at
		FROM paired_nodes WHERE node_id = ?
	`, nodeID)

	node, err := scanNode(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNodeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading paired node: %w", err)
	}
	return node, nil
}

// DeleteNode removes a paired node. Deleting an unknown node returns
// ErrNodeNotFound.
func (s *SQLiteStore) DeleteNode(ctx context.Context, nodeID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM paired_nodes WHERE node_id = ?`, nodeID)
	if err != nil {
		return fmt.Errorf("deleting paired node: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("deleting paired node: %w", err)
	}
	if affected == 0 {
		return ErrNodeNotFound
	}
	return nil
}

// ListNodes returns all paired nodes ordered by approval time.
func (s *SQLiteStore) ListNodes(ctx context.Context) ([]*Node, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT node_id, token, display_name, platform, created_at, approved_at
		FROM paired_nodes ORDER BY approved_at
	`)
	if err != nil {
		return nil, fmt.Errorf("listing paired nodes: %w", err)
	}
	defer rows.Close()

	var nodes []*Node
	for rows.Next() {
		node, err := scanNode(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning paired node: %w", err)
		}
		nodes = append(nodes, node)
	}
	return nodes, rows.Err()
}

// Ping verifies the underlying database is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// scanner abstracts *sql.Row and *sql.Rows for scanNode.
type scanner interface {
	Scan(dest ...any) error
}

func scanNode(sc scanner) (*Node, error) {
	var node Node
	var displayName, platform sql.NullString
	var createdAt, approvedAt time.Time
	if err := sc.Scan(&node.NodeID, &node.Token, &displayName, &platform, &createdAt, &approvedAt); err != nil {
		return nil, err
	}
	node.DisplayName = displayName.String
	node.Platform = platform.String
	node.CreatedAt = createdAt
	node.ApprovedAt = approvedAt
	return &node, nil
}

package logstore

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/saveenergy/rtpscope/internal/logging"
	rerrors "github.com/saveenergy/rtpscope/pkg/errors"
	"github.com/saveenergy/rtpscope/pkg/types"
)

const (
	SourceName      = "store"
	retentionDays   = 90
	cleanupInterval = 1 * time.Hour
	maxNameLength   = 200
	defaultName     = "upload.jsonl"
)

// Store keeps uploaded raw JSONL logs in SQLite. Logs are stored exactly as
// received; reports are always recomputed from the raw bytes.
type Store struct {
	db        *sql.DB
	maxLogs   int
	stopCh    chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

func New(dbPath string, maxLogs int) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	db.SetMaxOpenConns(3)
	db.SetMaxIdleConns(2)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	// modernc.org/sqlite requires explicit PRAGMAs (not query-string params)
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy_timeout: %w", err)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	s := &Store{
		db:      db,
		maxLogs: maxLogs,
		stopCh:  make(chan struct{}),
	}

	s.cleanup()

	s.wg.Add(1)
	go s.cleanupLoop()

	return s, nil
}

func (s *Store) Close() {
	s.closeOnce.Do(func() {
		close(s.stopCh)
		s.wg.Wait()
		if err := s.db.Close(); err != nil {
			logging.Warn("log store: close failed", logging.Err(err))
		}
	})
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS logs (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		size_bytes INTEGER NOT NULL,
		body BLOB NOT NULL,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`)
	if err != nil {
		return err
	}
	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_logs_created_at ON logs(created_at)`)
	return err
}

// Save stores raw under a fresh identifier. The caller is expected to have
// validated that raw decodes.
func (s *Store) Save(ctx context.Context, name string, raw []byte) (types.LogInfo, error) {
	info := types.LogInfo{
		ID:        uuid.NewString(),
		Name:      cleanName(name),
		Source:    SourceName,
		SizeBytes: int64(len(raw)),
		CreatedAt: time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO logs (id, name, size_bytes, body, created_at) VALUES (?, ?, ?, ?, ?)`,
		info.ID, info.Name, info.SizeBytes, raw, info.CreatedAt,
	)
	if err != nil {
		return types.LogInfo{}, fmt.Errorf("insert log: %w", err)
	}
	return info, nil
}

func cleanName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return defaultName
	}
	if len(name) > maxNameLength {
		name = name[:maxNameLength]
	}
	return name
}

// Get returns metadata for id, or nil when the store does not hold it.
func (s *Store) Get(ctx context.Context, id string) (*types.LogInfo, error) {
	if !isStoreID(id) {
		return nil, nil
	}
	info := types.LogInfo{Source: SourceName}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, size_bytes, created_at FROM logs WHERE id = ?`, id,
	).Scan(&info.ID, &info.Name, &info.SizeBytes, &info.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query log: %w", err)
	}
	return &info, nil
}

func (s *Store) Name() string {
	return SourceName
}

// List returns stored logs, newest first.
func (s *Store) List(ctx context.Context) ([]types.LogInfo, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, size_bytes, created_at FROM logs ORDER BY created_at DESC, rowid DESC`)
	if err != nil {
		return nil, fmt.Errorf("list logs: %w", err)
	}
	defer rows.Close()

	infos := make([]types.LogInfo, 0)
	for rows.Next() {
		info := types.LogInfo{Source: SourceName}
		if err := rows.Scan(&info.ID, &info.Name, &info.SizeBytes, &info.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan log: %w", err)
		}
		infos = append(infos, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list logs: %w", err)
	}
	return infos, nil
}

// Open returns the raw bytes of id. Identifiers that are not store ids report
// LOG_NOT_FOUND so callers can fall through to other sources.
func (s *Store) Open(ctx context.Context, id string) (io.ReadCloser, error) {
	if !isStoreID(id) {
		return nil, rerrors.ErrLogNotFound(id)
	}
	var body []byte
	err := s.db.QueryRowContext(ctx, `SELECT body FROM logs WHERE id = ?`, id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, rerrors.ErrLogNotFound(id)
	}
	if err != nil {
		if rerrors.IsContextError(err) {
			return nil, err
		}
		return nil, rerrors.ErrReadFailed(id, err)
	}
	return io.NopCloser(bytes.NewReader(body)), nil
}

func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	if !isStoreID(id) {
		return false, nil
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM logs WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete log: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func isStoreID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil && len(id) == 36
}

func (s *Store) cleanup() {
	cutoff := time.Now().UTC().Add(-retentionDays * 24 * time.Hour)
	res, err := s.db.Exec(`DELETE FROM logs WHERE created_at < ?`, cutoff)
	if err != nil {
		logging.Warn("log store cleanup (age) failed", logging.Err(err))
	} else if n, _ := res.RowsAffected(); n > 0 {
		logging.Info("log store cleanup: removed expired",
			logging.Field{Key: "count", Value: n})
	}

	// Trim to max count, keeping newest
	if s.maxLogs > 0 {
		res, err = s.db.Exec(
			`DELETE FROM logs WHERE id NOT IN (
				SELECT id FROM logs ORDER BY created_at DESC, rowid DESC LIMIT ?
			)`, s.maxLogs)
		if err != nil {
			logging.Warn("log store cleanup (count) failed", logging.Err(err))
		} else if n, _ := res.RowsAffected(); n > 0 {
			logging.Info("log store cleanup: trimmed to max",
				logging.Field{Key: "removed", Value: n},
				logging.Field{Key: "max", Value: s.maxLogs})
		}
	}
}

func (s *Store) cleanupLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.cleanup()
		}
	}
}

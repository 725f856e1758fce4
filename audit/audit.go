package audit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Entry records one committed secure deletion.
type Entry struct {
	ID        string    `json:"id"`
	ImageID   string    `json:"image_id"`
	ImageName string    `json:"image_name"`
	Reason    string    `json:"reason"`
	Email     string    `json:"email"`
	DeletedAt time.Time `json:"deleted_at"`
}

type Log interface {
	Record(ctx context.Context, entry Entry) error
	// List returns at most limit entries, newest first.
	List(ctx context.Context, limit int) ([]Entry, error)
}

// NewEntry fills in the id and timestamp.
func NewEntry(imageID, imageName, reason, email string) Entry {
	return Entry{
		ID:        uuid.NewString(),
		ImageID:   imageID,
		ImageName: imageName,
		Reason:    reason,
		Email:     email,
		DeletedAt: time.Now().UTC(),
	}
}

type MemoryLog struct {
	mutex   sync.Mutex
	entries []Entry
}

func NewMemoryLog() *MemoryLog {
	return &MemoryLog{}
}

func (l *MemoryLog) Record(_ context.Context, entry Entry) error {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	l.entries = append(l.entries, entry)
	return nil
}

func (l *MemoryLog) List(_ context.Context, limit int) ([]Entry, error) {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	out := make([]Entry, 0, len(l.entries))
	for i := len(l.entries) - 1; i >= 0; i-- {
		if limit > 0 && len(out) == limit {
			break
		}
		out = append(out, l.entries[i])
	}
	return out, nil
}

// ------------------------------------------------------------------------------

const schema = `
CREATE TABLE IF NOT EXISTS deletion_audit (
	id         TEXT PRIMARY KEY,
	image_id   TEXT NOT NULL,
	image_name TEXT NOT NULL,
	reason     TEXT NOT NULL,
	email      TEXT NOT NULL,
	deleted_at TIMESTAMPTZ NOT NULL
)`

type PostgresLog struct {
	db *pgxpool.Pool
}

// NewPostgresLog connects to the database and makes sure the audit table exists.
func NewPostgresLog(ctx context.Context, dsn string) (*PostgresLog, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect audit db: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping audit db: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create audit table: %w", err)
	}
	return &PostgresLog{db: pool}, nil
}

func (l *PostgresLog) Record(ctx context.Context, e Entry) error {
	_, err := l.db.Exec(ctx, `
		INSERT INTO deletion_audit (id, image_id, image_name, reason, email, deleted_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, e.ID, e.ImageID, e.ImageName, e.Reason, e.Email, e.DeletedAt)
	return err
}

func (l *PostgresLog) List(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := l.db.Query(ctx, `
		SELECT id, image_id, image_name, reason, email, deleted_at
		FROM deletion_audit
		ORDER BY deleted_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.ImageID, &e.ImageName, &e.Reason, &e.Email, &e.DeletedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (l *PostgresLog) Close() {
	l.db.Close()
}

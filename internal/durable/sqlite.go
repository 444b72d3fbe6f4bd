package durable

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS acknowledgments (
	client_id       TEXT NOT NULL,
	subscription    TEXT NOT NULL,
	message_id      TEXT NOT NULL,
	acknowledged_at TEXT NOT NULL,
	PRIMARY KEY (client_id, subscription, message_id)
);

CREATE TABLE IF NOT EXISTS subscriptions (
	client_id    TEXT NOT NULL,
	subscription TEXT NOT NULL,
	topic        TEXT NOT NULL,
	updated_at   TEXT NOT NULL,
	PRIMARY KEY (client_id, subscription)
);
`

// SQLiteStore persists acknowledgments in a SQLite database
type SQLiteStore struct {
	db     *sqlx.DB
	mu     sync.Mutex
	closed bool
}

var _ Store = (*SQLiteStore)(nil)

type ackRow struct {
	ClientID       string `db:"client_id"`
	Subscription   string `db:"subscription"`
	MessageID      string `db:"message_id"`
	AcknowledgedAt string `db:"acknowledged_at"`
}

type subscriptionRow struct {
	ClientID     string `db:"client_id"`
	Subscription string `db:"subscription"`
	Topic        string `db:"topic"`
	UpdatedAt    string `db:"updated_at"`
}

// NewSQLiteStore opens or creates the database at dbPath
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) checkOpen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

func (s *SQLiteStore) SaveTopic(ctx context.Context, sub Subscription, topic string) error {
	if err := sub.Validate(); err != nil {
		return err
	}
	if err := s.checkOpen(); err != nil {
		return err
	}
	row := subscriptionRow{
		ClientID:     sub.ClientID,
		Subscription: sub.Name,
		Topic:        topic,
		UpdatedAt:    time.Now().UTC().Format(time.RFC3339Nano),
	}
	_, err := s.db.NamedExecContext(ctx,
		`INSERT INTO subscriptions (client_id, subscription, topic, updated_at)
		 VALUES (:client_id, :subscription, :topic, :updated_at)
		 ON CONFLICT (client_id, subscription) DO UPDATE SET topic = excluded.topic, updated_at = excluded.updated_at`, row)
	if err != nil {
		return fmt.Errorf("save subscription %s: %w", sub, err)
	}
	return nil
}

func (s *SQLiteStore) Topic(ctx context.Context, sub Subscription) (string, error) {
	if err := s.checkOpen(); err != nil {
		return "", err
	}
	var topic string
	err := s.db.GetContext(ctx, &topic,
		`SELECT topic FROM subscriptions WHERE client_id = ? AND subscription = ?`,
		sub.ClientID, sub.Name)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return "", nil
	case err != nil:
		return "", fmt.Errorf("query subscription %s: %w", sub, err)
	}
	return topic, nil
}

func (s *SQLiteStore) IsAcknowledged(ctx context.Context, sub Subscription, messageID string) (bool, error) {
	if err := s.checkOpen(); err != nil {
		return false, err
	}
	var row ackRow
	err := s.db.GetContext(ctx, &row,
		`SELECT client_id, subscription, message_id, acknowledged_at FROM acknowledgments
		 WHERE client_id = ? AND subscription = ? AND message_id = ?`,
		sub.ClientID, sub.Name, messageID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("query acknowledgment %s on %s: %w", messageID, sub, err)
	}
	return true, nil
}

func (s *SQLiteStore) MarkAcknowledged(ctx context.Context, sub Subscription, messageID string) error {
	if err := sub.Validate(); err != nil {
		return err
	}
	if err := s.checkOpen(); err != nil {
		return err
	}
	row := ackRow{
		ClientID:       sub.ClientID,
		Subscription:   sub.Name,
		MessageID:      messageID,
		AcknowledgedAt: time.Now().UTC().Format(time.RFC3339Nano),
	}
	_, err := s.db.NamedExecContext(ctx,
		`INSERT OR IGNORE INTO acknowledgments (client_id, subscription, message_id, acknowledged_at)
		 VALUES (:client_id, :subscription, :message_id, :acknowledged_at)`, row)
	if err != nil {
		return fmt.Errorf("insert acknowledgment %s on %s: %w", messageID, sub, err)
	}
	return nil
}

func (s *SQLiteStore) ResetAcknowledgments(ctx context.Context, sub Subscription) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM acknowledgments WHERE client_id = ? AND subscription = ?`,
		sub.ClientID, sub.Name)
	if err != nil {
		return fmt.Errorf("delete acknowledgments of %s: %w", sub, err)
	}
	return nil
}

func (s *SQLiteStore) Forget(ctx context.Context, sub Subscription) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin forget %s: %w", sub, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM acknowledgments WHERE client_id = ? AND subscription = ?`,
		sub.ClientID, sub.Name); err != nil {
		return fmt.Errorf("delete acknowledgments of %s: %w", sub, err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM subscriptions WHERE client_id = ? AND subscription = ?`,
		sub.ClientID, sub.Name); err != nil {
		return fmt.Errorf("delete subscription %s: %w", sub, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit forget %s: %w", sub, err)
	}
	return nil
}

// Count returns the number of acknowledgments recorded for sub
func (s *SQLiteStore) Count(ctx context.Context, sub Subscription) (int, error) {
	if err := s.checkOpen(); err != nil {
		return 0, err
	}
	var n int
	err := s.db.GetContext(ctx, &n,
		`SELECT COUNT(*) FROM acknowledgments WHERE client_id = ? AND subscription = ?`,
		sub.ClientID, sub.Name)
	if err != nil {
		return 0, fmt.Errorf("count acknowledgments of %s: %w", sub, err)
	}
	return n, nil
}

func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chatsync-protocol/chatsync/internal/models"
)

// PostgresStore is the production room registry.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a PostgreSQL store with a connection pool.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

// Close closes the connection pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// Ping checks the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// RunMigrations creates the schema.
func RunMigrations(ctx context.Context, databaseURL string) error {
	conn, err := pgx.Connect(ctx, databaseURL)
	if err != nil {
		return err
	}
	defer conn.Close(ctx)

	_, err = conn.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS rooms (
			id           UUID PRIMARY KEY,
			participant_a TEXT NOT NULL,
			participant_b TEXT NOT NULL,
			created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
			UNIQUE (participant_a, participant_b)
		)
	`)
	return err
}

// CreateOrGetRoom returns the pair's room, creating it on first contact.
// The unique participant-pair constraint makes concurrent first contacts
// converge on one room.
func (s *PostgresStore) CreateOrGetRoom(ctx context.Context, userA, userB string) (*models.Room, error) {
	pair := sortedPair(userA, userB)
	room := &models.Room{Participants: pair}

	err := s.pool.QueryRow(ctx, `
		INSERT INTO rooms (id, participant_a, participant_b)
		VALUES ($1, $2, $3)
		ON CONFLICT (participant_a, participant_b)
		DO UPDATE SET participant_a = EXCLUDED.participant_a
		RETURNING id, created_at
	`, uuid.Must(uuid.NewV7()), pair[0], pair[1]).Scan(
		&room.ID,
		&room.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return room, nil
}

// GetRoom retrieves a room by ID, nil when absent.
func (s *PostgresStore) GetRoom(ctx context.Context, id uuid.UUID) (*models.Room, error) {
	room := &models.Room{}
	var a, b string
	err := s.pool.QueryRow(ctx, `
		SELECT id, participant_a, participant_b, created_at
		FROM rooms WHERE id = $1
	`, id).Scan(
		&room.ID,
		&a,
		&b,
		&room.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	room.Participants = []string{a, b}
	return room, nil
}

package checkpoint

import (
	"context"
	"errors"
	"fmt"

	"backend-bravely/internal/db"
	"backend-bravely/internal/tracking"

	"github.com/jackc/pgx/v5"
)

const defaultSlot = "active"

// PostgresStore keeps the checkpoint as one row of session_checkpoints.
type PostgresStore struct {
	db    db.Querier
	slot  string
	codec Codec
}

func NewPostgresStore(q db.Querier, slot string, codec Codec) *PostgresStore {
	if slot == "" {
		slot = defaultSlot
	}
	if codec == nil {
		codec = JSONCodec{}
	}
	return &PostgresStore{db: q, slot: slot, codec: codec}
}

func (s *PostgresStore) Save(ctx context.Context, snap tracking.SessionSnapshot) error {
	data, err := s.codec.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO session_checkpoints (slot, payload, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (slot) DO UPDATE SET payload = EXCLUDED.payload, updated_at = now()
	`, s.slot, data)
	if err != nil {
		return fmt.Errorf("upsert checkpoint: %w", err)
	}
	return nil
}

func (s *PostgresStore) Load(ctx context.Context) (*tracking.SessionSnapshot, error) {
	var data []byte
	err := s.db.QueryRow(ctx, `SELECT payload FROM session_checkpoints WHERE slot=$1`, s.slot).Scan(&data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("select checkpoint: %w", err)
	}
	return decode(s.codec, data)
}

func (s *PostgresStore) Clear(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM session_checkpoints WHERE slot=$1`, s.slot); err != nil {
		return fmt.Errorf("delete checkpoint: %w", err)
	}
	return nil
}

package heartbeat

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// RecordID is the singleton key in system_data every consumer reads.
const RecordID = "coopTime"

// PGStore keeps the shared heartbeat record in Postgres. The upsert is
// conditional on epoch_ms moving forward, so a retried or queued tick that
// arrives after a newer one cannot roll the clock back.
type PGStore struct{ DB *pgxpool.Pool }

func (s *PGStore) Upsert(ctx context.Context, t Tick) (bool, error) {
	ct, err := s.DB.Exec(ctx, `
		INSERT INTO system_data (id, epoch_ms, iso, weekday, source, server_ts, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE
		SET epoch_ms = EXCLUDED.epoch_ms, iso = EXCLUDED.iso, weekday = EXCLUDED.weekday,
		    source = EXCLUDED.source, server_ts = EXCLUDED.server_ts, updated_at = EXCLUDED.updated_at
		WHERE system_data.epoch_ms < EXCLUDED.epoch_ms`,
		RecordID, t.EpochMS, t.ISO, t.Weekday, t.Source, t.EpochMS, t.EpochMS)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() == 0, nil
}

func (s *PGStore) Latest(ctx context.Context) (Tick, bool, error) {
	var t Tick
	err := s.DB.QueryRow(ctx, `
		SELECT epoch_ms, iso, weekday, source FROM system_data WHERE id = $1`, RecordID).
		Scan(&t.EpochMS, &t.ISO, &t.Weekday, &t.Source)
	if errors.Is(err, pgx.ErrNoRows) {
		return Tick{}, false, nil
	}
	if err != nil {
		return Tick{}, false, err
	}
	return t, true, nil
}

package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Journal is the audit trail of moves and fault transitions. It is write-only
// from the controller's point of view; calibration is never restored from it.
type Journal interface {
	RecordMove(ctx context.Context, rec *MoveRecord) error
	RecordFault(ctx context.Context, rec *FaultRecord) error
}

// NopJournal is used when no database is configured.
type NopJournal struct{}

func (NopJournal) RecordMove(context.Context, *MoveRecord) error   { return nil }
func (NopJournal) RecordFault(context.Context, *FaultRecord) error { return nil }

func (p *PostgresClient) RecordMove(ctx context.Context, rec *MoveRecord) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	detail, err := json.Marshal(rec.Steps)
	if err != nil {
		return fmt.Errorf("failed to marshal steps: %w", err)
	}

	_, err = p.pool.Exec(ctx, `
		INSERT INTO move_journal (id, command_id, source, from_square, to_square, piece, outcome, detail, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, rec.ID, rec.CommandID, rec.Source, rec.From, rec.To, rec.Piece, rec.Outcome, detail, rec.StartedAt, rec.FinishedAt)
	if err != nil {
		return fmt.Errorf("failed to insert move record: %w", err)
	}
	return nil
}

func (p *PostgresClient) RecordFault(ctx context.Context, rec *FaultRecord) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	positions, err := json.Marshal(rec.Positions)
	if err != nil {
		return fmt.Errorf("failed to marshal positions: %w", err)
	}

	_, err = p.pool.Exec(ctx, `
		INSERT INTO fault_journal (id, event, reason, verified, positions, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, rec.ID, rec.Event, rec.Reason, rec.Verified, positions, rec.RecordedAt)
	if err != nil {
		return fmt.Errorf("failed to insert fault record: %w", err)
	}
	return nil
}

// RecentMoves returns the newest move records, newest first.
func (p *PostgresClient) RecentMoves(ctx context.Context, limit int) ([]MoveRecord, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, command_id, source, from_square, to_square, piece, outcome, detail, started_at, finished_at
		FROM move_journal
		ORDER BY finished_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query moves: %w", err)
	}
	defer rows.Close()

	var moves []MoveRecord
	for rows.Next() {
		var m MoveRecord
		var detail []byte
		if err := rows.Scan(&m.ID, &m.CommandID, &m.Source, &m.From, &m.To, &m.Piece, &m.Outcome, &detail, &m.StartedAt, &m.FinishedAt); err != nil {
			return nil, fmt.Errorf("failed to scan move: %w", err)
		}
		if len(detail) > 0 {
			if err := json.Unmarshal(detail, &m.Steps); err != nil {
				return nil, fmt.Errorf("failed to decode steps: %w", err)
			}
		}
		moves = append(moves, m)
	}
	return moves, rows.Err()
}

var (
	_ Journal = NopJournal{}
	_ Journal = (*PostgresClient)(nil)
)

package db

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/unklstewy/tracon-scope/pkg/airspace"
)

// FlightRulesRepository archives flight rules messages.
type FlightRulesRepository struct {
	db *DB
}

// NewFlightRulesRepository creates a new flight rules repository.
func NewFlightRulesRepository(db *DB) *FlightRulesRepository {
	return &FlightRulesRepository{db: db}
}

// Insert stores one message per row with its resolved label.
func (r *FlightRulesRepository) Insert(ctx context.Context, msgs []airspace.FlightRulesMessage) error {
	if len(msgs) == 0 {
		return nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, m := range msgs {
		payload, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("failed to encode flight rules message: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO flight_rules_messages (callsign, rules, payload) VALUES ($1, $2, $3)`,
			nullString(m.Key()), string(m.Label()), payload,
		); err != nil {
			return fmt.Errorf("failed to insert flight rules message: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit flight rules: %w", err)
	}
	return nil
}

// Recent returns up to limit of the newest messages, oldest first.
func (r *FlightRulesRepository) Recent(ctx context.Context, limit int) ([]airspace.FlightRulesMessage, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT payload FROM (
			SELECT id, payload FROM flight_rules_messages ORDER BY id DESC LIMIT $1
		) recent ORDER BY id ASC`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query flight rules: %w", err)
	}
	defer rows.Close()

	var msgs []airspace.FlightRulesMessage
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan flight rules: %w", err)
		}
		var m airspace.FlightRulesMessage
		if err := json.Unmarshal(payload, &m); err != nil {
			return nil, fmt.Errorf("failed to decode flight rules: %w", err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating flight rules: %w", err)
	}
	return msgs, nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

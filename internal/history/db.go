// Package history keeps an optional PostgreSQL record of finished rounds and
// the shots fired in them. Game state itself is never restored from it.
package history

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"log"
	"time"

	"github.com/lib/pq"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Round is one game from start to reset.
type Round struct {
	ID        string     `json:"id"`
	StartedAt time.Time  `json:"startedAt"`
	EndedAt   *time.Time `json:"endedAt,omitempty"`
	Winner    string     `json:"winner,omitempty"`
	Shots     int        `json:"shots"`
}

// ShotRecord is one persisted shot.
type ShotRecord struct {
	RoundID  string
	Username string
	Color    string
	X        float64
	Y        float64
	FiredAt  time.Time
}

type DB struct {
	conn *sql.DB
}

func Connect(dsn string) (*DB, error) {
	conn, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	log.Println("🗄️ Connected to PostgreSQL")
	return &DB{conn: conn}, nil
}

func (d *DB) Close() error {
	return d.conn.Close()
}

// Ping reports whether the database is reachable.
func (d *DB) Ping(ctx context.Context) error {
	return d.conn.PingContext(ctx)
}

func (d *DB) Migrate() error {
	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations dir: %w", err)
	}

	for _, entry := range entries {
		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}
		if _, err := d.conn.Exec(string(content)); err != nil {
			return fmt.Errorf("executing migration %s: %w", entry.Name(), err)
		}
		log.Printf("🗄️ Applied migration: %s", entry.Name())
	}
	return nil
}

func (d *DB) StartRound(ctx context.Context, id string, at time.Time) error {
	_, err := d.conn.ExecContext(ctx, `
		INSERT INTO rounds (id, started_at) VALUES ($1, $2)
		ON CONFLICT (id) DO NOTHING
	`, id, at)
	if err != nil {
		return fmt.Errorf("starting round: %w", err)
	}
	return nil
}

// FinishRound stamps the end time and winner. An empty winner means the round
// was reset without a hit.
func (d *DB) FinishRound(ctx context.Context, id, winner string, at time.Time) error {
	_, err := d.conn.ExecContext(ctx, `
		UPDATE rounds SET ended_at = $2, winner = NULLIF($3, '')
		WHERE id = $1 AND ended_at IS NULL
	`, id, at, winner)
	if err != nil {
		return fmt.Errorf("finishing round: %w", err)
	}
	return nil
}

// BatchRecordShots streams shots into the table with COPY inside one
// transaction.
func (d *DB) BatchRecordShots(ctx context.Context, shots []ShotRecord) error {
	if len(shots) == 0 {
		return nil
	}

	tx, err := d.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, pq.CopyIn("shots", "round_id", "username", "color", "x", "y", "fired_at"))
	if err != nil {
		return fmt.Errorf("preparing copy: %w", err)
	}

	for _, s := range shots {
		if _, err := stmt.ExecContext(ctx, s.RoundID, s.Username, s.Color, s.X, s.Y, s.FiredAt); err != nil {
			stmt.Close()
			return fmt.Errorf("copying shot: %w", err)
		}
	}
	if _, err := stmt.ExecContext(ctx); err != nil {
		stmt.Close()
		return fmt.Errorf("flushing copy: %w", err)
	}
	if err := stmt.Close(); err != nil {
		return fmt.Errorf("closing copy: %w", err)
	}

	return tx.Commit()
}

// RecentRounds returns the newest rounds first with their shot counts.
func (d *DB) RecentRounds(ctx context.Context, limit int) ([]Round, error) {
	rows, err := d.conn.QueryContext(ctx, `
		SELECT r.id, r.started_at, r.ended_at, COALESCE(r.winner, ''), COUNT(s.id)
		FROM rounds r
		LEFT JOIN shots s ON s.round_id = r.id
		GROUP BY r.id
		ORDER BY r.started_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying rounds: %w", err)
	}
	defer rows.Close()

	rounds := make([]Round, 0, limit)
	for rows.Next() {
		var r Round
		var ended sql.NullTime
		if err := rows.Scan(&r.ID, &r.StartedAt, &ended, &r.Winner, &r.Shots); err != nil {
			return nil, fmt.Errorf("scanning round: %w", err)
		}
		if ended.Valid {
			t := ended.Time
			r.EndedAt = &t
		}
		rounds = append(rounds, r)
	}
	return rounds, rows.Err()
}

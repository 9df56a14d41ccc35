// Package sqlite persists resolved track snapshots to a SQLite database
// using modernc.org/sqlite (a pure-Go driver, no cgo toolchain needed at
// build time). The schema and upsert-by-primary-key shape are grounded on
// the reference codebase's own lidar_tracks table and InsertTrack's
// ON CONFLICT DO UPDATE pattern (internal/lidar/track_store.go).
package sqlite

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/banshee-data/tracking-engine/internal/model"
	"github.com/banshee-data/tracking-engine/internal/pipeline"
)

const schema = `
CREATE TABLE IF NOT EXISTS tracks (
	track_id INTEGER PRIMARY KEY,
	state INTEGER NOT NULL,
	pos_x REAL, pos_y REAL, pos_z REAL,
	vel_x REAL, vel_y REAL, vel_z REAL,
	confidence REAL,
	quality_score REAL,
	last_update_nanos INTEGER,
	hit_count INTEGER,
	consecutive_misses INTEGER
);

CREATE TABLE IF NOT EXISTS frames (
	timestamp_nanos INTEGER PRIMARY KEY,
	track_count INTEGER NOT NULL
);
`

// Store is a pipeline.Sink that upserts each frame's track snapshots into
// SQLite (spec §10, DOMAIN STACK: modernc.org/sqlite persistence sink).
type Store struct {
	db *sql.DB
}

// Open creates (or opens) the SQLite database at path and ensures the
// schema exists.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

var _ pipeline.Sink = (*Store)(nil)

// Publish upserts every track in frame, replacing its previous row, then
// records the frame marker. Matches the reference codebase's ON CONFLICT
// DO UPDATE upsert discipline so re-publishing an unchanged track does not
// grow the table (internal/lidar/track_store.go, InsertTrack).
func (s *Store) Publish(frame pipeline.FrameOutput) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	const upsert = `
		INSERT INTO tracks (
			track_id, state, pos_x, pos_y, pos_z, vel_x, vel_y, vel_z,
			confidence, quality_score, last_update_nanos, hit_count, consecutive_misses
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(track_id) DO UPDATE SET
			state = excluded.state,
			pos_x = excluded.pos_x, pos_y = excluded.pos_y, pos_z = excluded.pos_z,
			vel_x = excluded.vel_x, vel_y = excluded.vel_y, vel_z = excluded.vel_z,
			confidence = excluded.confidence,
			quality_score = excluded.quality_score,
			last_update_nanos = excluded.last_update_nanos,
			hit_count = excluded.hit_count,
			consecutive_misses = excluded.consecutive_misses
	`
	for _, t := range frame.Tracks {
		if _, err := tx.Exec(upsert,
			t.TrackID, int(t.State),
			t.Position[0], t.Position[1], t.Position[2],
			t.Velocity[0], t.Velocity[1], t.Velocity[2],
			t.Confidence, t.QualityScore, t.LastUpdateNanos,
			t.HitCount, t.ConsecutiveMisses,
		); err != nil {
			return fmt.Errorf("upsert track %d: %w", t.TrackID, err)
		}
	}

	if _, err := tx.Exec(
		`INSERT INTO frames (timestamp_nanos, track_count) VALUES (?, ?)
		 ON CONFLICT(timestamp_nanos) DO UPDATE SET track_count = excluded.track_count`,
		frame.TimestampNanos, len(frame.Tracks),
	); err != nil {
		return fmt.Errorf("insert frame marker: %w", err)
	}

	return tx.Commit()
}

// Tracks returns every currently-stored track row, primarily for tests and
// operator inspection.
func (s *Store) Tracks() ([]model.TrackRecord, error) {
	rows, err := s.db.Query(`SELECT track_id, state, pos_x, pos_y, pos_z, vel_x, vel_y, vel_z,
		confidence, quality_score, last_update_nanos, hit_count, consecutive_misses FROM tracks`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.TrackRecord
	for rows.Next() {
		var r model.TrackRecord
		var state int
		if err := rows.Scan(&r.TrackID, &state, &r.Position[0], &r.Position[1], &r.Position[2],
			&r.Velocity[0], &r.Velocity[1], &r.Velocity[2],
			&r.Confidence, &r.QualityScore, &r.LastUpdateNanos, &r.HitCount, &r.ConsecutiveMisses); err != nil {
			return nil, err
		}
		r.State = model.TrackState(state)
		out = append(out, r)
	}
	return out, rows.Err()
}

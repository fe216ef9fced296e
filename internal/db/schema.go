package db

import (
	"context"
	"database/sql"
	"fmt"
)

// Schema defines the SQLite database schema for storing decoded replay
// data. Uses modernc.org/sqlite which is a pure Go SQLite driver with
// no CGO dependencies.
const schema = `
CREATE TABLE IF NOT EXISTS meta (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS matches (
	id TEXT PRIMARY KEY,
	map TEXT NOT NULL,
	frame_interval REAL NOT NULL,
	duration REAL NOT NULL,
	truncated INTEGER NOT NULL DEFAULT 0,
	decoded_at TEXT
);

CREATE TABLE IF NOT EXISTS players (
	match_id TEXT NOT NULL,
	client INTEGER NOT NULL,
	name TEXT NOT NULL,
	team INTEGER NOT NULL DEFAULT 0,
	ghost INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY(match_id, client),
	FOREIGN KEY(match_id) REFERENCES matches(id)
);

CREATE TABLE IF NOT EXISTS rounds (
	match_id TEXT NOT NULL,
	round_index INTEGER NOT NULL,
	start_frame INTEGER NOT NULL,
	end_frame INTEGER NOT NULL,
	winner INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY(match_id, round_index),
	FOREIGN KEY(match_id) REFERENCES matches(id)
);

CREATE TABLE IF NOT EXISTS kills (
	match_id TEXT NOT NULL,
	frame INTEGER NOT NULL,
	killer TEXT NOT NULL,
	victim TEXT NOT NULL,
	killer_client INTEGER,
	victim_client INTEGER,
	weapon TEXT NOT NULL,
	location TEXT NOT NULL,
	headshot INTEGER NOT NULL DEFAULT 0,
	killer_x REAL,
	killer_y REAL,
	victim_x REAL,
	victim_y REAL,
	FOREIGN KEY(match_id) REFERENCES matches(id)
);

CREATE TABLE IF NOT EXISTS frames (
	match_id TEXT NOT NULL,
	frame INTEGER NOT NULL,
	client INTEGER NOT NULL,
	x REAL NOT NULL,
	y REAL NOT NULL,
	z REAL NOT NULL,
	yaw REAL NOT NULL,
	PRIMARY KEY(match_id, frame, client),
	FOREIGN KEY(match_id) REFERENCES matches(id)
);

CREATE TABLE IF NOT EXISTS shots (
	match_id TEXT NOT NULL,
	frame INTEGER NOT NULL,
	client INTEGER NOT NULL,
	weapon_code INTEGER NOT NULL,
	FOREIGN KEY(match_id) REFERENCES matches(id)
);

CREATE TABLE IF NOT EXISTS awards (
	match_id TEXT NOT NULL,
	frame INTEGER NOT NULL,
	player TEXT NOT NULL,
	award TEXT NOT NULL,
	count INTEGER NOT NULL DEFAULT 1,
	FOREIGN KEY(match_id) REFERENCES matches(id)
);

CREATE TABLE IF NOT EXISTS player_stats (
	match_id TEXT NOT NULL,
	name TEXT NOT NULL,
	team INTEGER NOT NULL DEFAULT 0,
	kills INTEGER NOT NULL DEFAULT 0,
	deaths INTEGER NOT NULL DEFAULT 0,
	team_kills INTEGER NOT NULL DEFAULT 0,
	headshots INTEGER NOT NULL DEFAULT 0,
	shots INTEGER NOT NULL DEFAULT 0,
	hits INTEGER NOT NULL DEFAULT 0,
	accuracy REAL NOT NULL DEFAULT 0,
	accuracy_valid INTEGER NOT NULL DEFAULT 0,
	est_damage REAL NOT NULL DEFAULT 0,
	best_streak INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY(match_id, name),
	FOREIGN KEY(match_id) REFERENCES matches(id)
);

CREATE TABLE IF NOT EXISTS team_stats (
	match_id TEXT NOT NULL,
	team INTEGER NOT NULL,
	score INTEGER NOT NULL DEFAULT 0,
	kills INTEGER NOT NULL DEFAULT 0,
	deaths INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY(match_id, team),
	FOREIGN KEY(match_id) REFERENCES matches(id)
);

CREATE TABLE IF NOT EXISTS geometry (
	map TEXT PRIMARY KEY,
	min_x REAL NOT NULL,
	max_x REAL NOT NULL,
	min_y REAL NOT NULL,
	max_y REAL NOT NULL,
	min_z REAL NOT NULL,
	max_z REAL NOT NULL,
	edges_json TEXT NOT NULL,
	spawns_json TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS topviews (
	cache_key TEXT PRIMARY KEY,
	map TEXT NOT NULL,
	img_size INTEGER NOT NULL,
	scale REAL NOT NULL,
	off_x REAL NOT NULL,
	off_y REAL NOT NULL,
	min_x REAL NOT NULL,
	max_x REAL NOT NULL,
	min_y REAL NOT NULL,
	max_y REAL NOT NULL,
	png BLOB NOT NULL,
	created_at TEXT
);

-- Indexes for common query patterns
CREATE INDEX IF NOT EXISTS idx_rounds_match_round ON rounds(match_id, round_index);
CREATE INDEX IF NOT EXISTS idx_kills_match_frame ON kills(match_id, frame);
CREATE INDEX IF NOT EXISTS idx_kills_killer ON kills(match_id, killer);
CREATE INDEX IF NOT EXISTS idx_frames_match_frame ON frames(match_id, frame);
CREATE INDEX IF NOT EXISTS idx_shots_match_frame ON shots(match_id, frame);
CREATE INDEX IF NOT EXISTS idx_awards_match ON awards(match_id);
CREATE INDEX IF NOT EXISTS idx_player_stats_match ON player_stats(match_id);
CREATE INDEX IF NOT EXISTS idx_topviews_map ON topviews(map);
`

// InitSchema initializes the database schema.
// It creates all tables and indexes if they don't already exist.
func InitSchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

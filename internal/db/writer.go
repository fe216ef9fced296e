package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"aq2-replay-viewer/internal/bsp"
	"aq2-replay-viewer/internal/demo"
	"aq2-replay-viewer/internal/stats"
	"aq2-replay-viewer/internal/topview"
)

// Writer provides methods to write decoded replay data to the database.
type Writer struct {
	db *sql.DB
}

// NewWriter creates a new database writer.
func NewWriter(db *sql.DB) *Writer {
	return &Writer{db: db}
}

// Match represents one decoded demo.
type Match struct {
	ID            string
	Map           string
	FrameInterval float64
	Duration      float64
	Truncated     bool
	DecodedAt     *time.Time
}

// Player represents a client slot in a match. Ghost marks the
// recorder pseudo-client and other non-player entities.
type Player struct {
	MatchID string
	Client  int
	Name    string
	Team    int
	Ghost   bool
}

// InsertMatch inserts or replaces a match record.
func (w *Writer) InsertMatch(ctx context.Context, m Match) error {
	query := `
		INSERT OR REPLACE INTO matches (id, map, frame_interval, duration, truncated, decoded_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	var decodedAt *string
	if m.DecodedAt != nil {
		s := m.DecodedAt.Format(time.RFC3339)
		decodedAt = &s
	}
	_, err := w.db.ExecContext(ctx, query, m.ID, m.Map, m.FrameInterval, m.Duration, boolInt(m.Truncated), decodedAt)
	if err != nil {
		return fmt.Errorf("failed to insert match: %w", err)
	}
	return nil
}

// InsertPlayer inserts or replaces a player record.
func (w *Writer) InsertPlayer(ctx context.Context, p Player) error {
	query := `
		INSERT OR REPLACE INTO players (match_id, client, name, team, ghost)
		VALUES (?, ?, ?, ?, ?)
	`
	_, err := w.db.ExecContext(ctx, query, p.MatchID, p.Client, p.Name, p.Team, boolInt(p.Ghost))
	if err != nil {
		return fmt.Errorf("failed to insert player: %w", err)
	}
	return nil
}

// InsertRound inserts or replaces a round record.
func (w *Writer) InsertRound(ctx context.Context, matchID string, index int, r demo.Round) error {
	query := `
		INSERT OR REPLACE INTO rounds (match_id, round_index, start_frame, end_frame, winner)
		VALUES (?, ?, ?, ?, ?)
	`
	_, err := w.db.ExecContext(ctx, query, matchID, index, r.Start, r.End, r.Winner)
	if err != nil {
		return fmt.Errorf("failed to insert round: %w", err)
	}
	return nil
}

// BatchInsertKills inserts all kill events in a single transaction.
func (w *Writer) BatchInsertKills(ctx context.Context, matchID string, kills []demo.KillEvent) error {
	if len(kills) == 0 {
		return nil
	}

	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO kills (
			match_id, frame, killer, victim, killer_client, victim_client,
			weapon, location, headshot, killer_x, killer_y, victim_x, victim_y
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, k := range kills {
		var kx, ky, vx, vy *float64
		if k.KillerPos != nil {
			kx, ky = &k.KillerPos.X, &k.KillerPos.Y
		}
		if k.VictimPos != nil {
			vx, vy = &k.VictimPos.X, &k.VictimPos.Y
		}
		_, err := stmt.ExecContext(ctx,
			matchID, k.Frame, k.Killer, k.Victim, k.KillerNum, k.VictimNum,
			k.Weapon, k.Location, boolInt(k.Headshot), kx, ky, vx, vy,
		)
		if err != nil {
			return fmt.Errorf("failed to insert kill: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// BatchInsertFrames inserts every per-client position snapshot in a
// single transaction. Frames dominate the row count, so this is the
// hot path of a database import.
func (w *Writer) BatchInsertFrames(ctx context.Context, matchID string, frames []demo.Frame) error {
	if len(frames) == 0 {
		return nil
	}

	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT OR REPLACE INTO frames (match_id, frame, client, x, y, z, yaw)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, f := range frames {
		for client, pos := range f.Players {
			_, err := stmt.ExecContext(ctx, matchID, f.Index, client, pos.X, pos.Y, pos.Z, pos.Angle)
			if err != nil {
				return fmt.Errorf("failed to insert frame %d: %w", f.Index, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// BatchInsertShots inserts weapon discharges in a single transaction.
func (w *Writer) BatchInsertShots(ctx context.Context, matchID string, shots []demo.ShotEvent) error {
	if len(shots) == 0 {
		return nil
	}

	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `INSERT INTO shots (match_id, frame, client, weapon_code) VALUES (?, ?, ?, ?)`
	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, s := range shots {
		if _, err := stmt.ExecContext(ctx, matchID, s.Frame, s.Client, int(s.Weapon)); err != nil {
			return fmt.Errorf("failed to insert shot: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// BatchInsertAwards inserts award announcements in a single transaction.
func (w *Writer) BatchInsertAwards(ctx context.Context, matchID string, awards []demo.AwardEvent) error {
	if len(awards) == 0 {
		return nil
	}

	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `INSERT INTO awards (match_id, frame, player, award, count) VALUES (?, ?, ?, ?, ?)`
	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, a := range awards {
		count := a.Count
		if count == 0 {
			count = 1
		}
		if _, err := stmt.ExecContext(ctx, matchID, a.Frame, a.Player, a.Award, count); err != nil {
			return fmt.Errorf("failed to insert award: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// InsertMatchStats stores the per-player and per-team aggregates.
func (w *Writer) InsertMatchStats(ctx context.Context, matchID string, m *stats.Match) error {
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	playerQuery := `
		INSERT OR REPLACE INTO player_stats (
			match_id, name, team, kills, deaths, team_kills, headshots,
			shots, hits, accuracy, accuracy_valid, est_damage, best_streak
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	stmt, err := tx.PrepareContext(ctx, playerQuery)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, p := range m.Players {
		_, err := stmt.ExecContext(ctx,
			matchID, p.Name, p.Team, p.Kills, p.Deaths, p.TeamKills, p.Headshots,
			p.Shots, p.Hits, p.Accuracy, boolInt(p.AccuracyValid), p.EstDamage, p.BestStreak,
		)
		if err != nil {
			return fmt.Errorf("failed to insert player stats: %w", err)
		}
	}

	teamQuery := `
		INSERT OR REPLACE INTO team_stats (match_id, team, score, kills, deaths)
		VALUES (?, ?, ?, ?, ?)
	`
	for _, t := range m.Teams {
		if _, err := tx.ExecContext(ctx, teamQuery, matchID, t.Team, t.Score, t.Kills, t.Deaths); err != nil {
			return fmt.Errorf("failed to insert team stats: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// InsertGeometry stores a level's 2D wireframe, keyed by map name.
// Edge and spawn lists are stored as JSON blobs; they are always read
// whole.
func (w *Writer) InsertGeometry(ctx context.Context, mapName string, g *bsp.Geometry) error {
	edges, err := json.Marshal(g.Segments)
	if err != nil {
		return fmt.Errorf("failed to marshal edges: %w", err)
	}
	spawns, err := json.Marshal(g.Spawns)
	if err != nil {
		return fmt.Errorf("failed to marshal spawns: %w", err)
	}

	query := `
		INSERT OR REPLACE INTO geometry (
			map, min_x, max_x, min_y, max_y, min_z, max_z, edges_json, spawns_json
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = w.db.ExecContext(ctx, query,
		mapName, g.Bounds.MinX, g.Bounds.MaxX, g.Bounds.MinY, g.Bounds.MaxY,
		g.Bounds.MinZ, g.Bounds.MaxZ, string(edges), string(spawns),
	)
	if err != nil {
		return fmt.Errorf("failed to insert geometry: %w", err)
	}
	return nil
}

// InsertTopview stores a rendered topview image under its cache key.
func (w *Writer) InsertTopview(ctx context.Context, cacheKey, mapName string, tv *topview.Topview) error {
	query := `
		INSERT OR REPLACE INTO topviews (
			cache_key, map, img_size, scale, off_x, off_y,
			min_x, max_x, min_y, max_y, png, created_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	a := tv.Alignment
	_, err := w.db.ExecContext(ctx, query,
		cacheKey, mapName, a.ImgSize, a.Scale, a.OffX, a.OffY,
		a.MinX, a.MaxX, a.MinY, a.MaxY, tv.PNG, time.Now().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to insert topview: %w", err)
	}
	return nil
}

// SetMeta sets a metadata key-value pair.
func (w *Writer) SetMeta(ctx context.Context, key, value string) error {
	query := `INSERT OR REPLACE INTO meta (key, value) VALUES (?, ?)`
	_, err := w.db.ExecContext(ctx, query, key, value)
	if err != nil {
		return fmt.Errorf("failed to set meta: %w", err)
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

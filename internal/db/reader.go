package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"aq2-replay-viewer/internal/bsp"
	"aq2-replay-viewer/internal/demo"
)

// Reader provides methods to read decoded replay data from the database.
type Reader struct {
	db *sql.DB
}

// NewReader creates a new database reader.
func NewReader(db *sql.DB) *Reader {
	return &Reader{db: db}
}

// PlayerRow is a scoreboard line read back from player_stats.
type PlayerRow struct {
	MatchID       string
	Name          string
	Team          int
	Kills         int
	Deaths        int
	TeamKills     int
	Headshots     int
	Shots         int
	Hits          int
	Accuracy      float64
	AccuracyValid bool
	EstDamage     float64
	BestStreak    int
}

// GetMatchExists checks if a match exists.
func (r *Reader) GetMatchExists(ctx context.Context, matchID string) (bool, error) {
	query := `SELECT 1 FROM matches WHERE id = ? LIMIT 1`
	var exists int
	err := r.db.QueryRowContext(ctx, query, matchID).Scan(&exists)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check match existence: %w", err)
	}
	return true, nil
}

// GetMatch retrieves a match record.
func (r *Reader) GetMatch(ctx context.Context, matchID string) (*Match, error) {
	query := `SELECT id, map, frame_interval, duration, truncated FROM matches WHERE id = ?`
	var m Match
	var truncated int
	err := r.db.QueryRowContext(ctx, query, matchID).Scan(&m.ID, &m.Map, &m.FrameInterval, &m.Duration, &truncated)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get match: %w", err)
	}
	m.Truncated = truncated == 1
	return &m, nil
}

// GetPlayers retrieves the client table for a match.
func (r *Reader) GetPlayers(ctx context.Context, matchID string) ([]Player, error) {
	query := `
		SELECT match_id, client, name, team, ghost
		FROM players
		WHERE match_id = ?
		ORDER BY client ASC
	`
	rows, err := r.db.QueryContext(ctx, query, matchID)
	if err != nil {
		return nil, fmt.Errorf("failed to query players: %w", err)
	}
	defer rows.Close()

	players := make([]Player, 0)
	for rows.Next() {
		var p Player
		var ghost int
		if err := rows.Scan(&p.MatchID, &p.Client, &p.Name, &p.Team, &ghost); err != nil {
			return nil, fmt.Errorf("failed to scan player: %w", err)
		}
		p.Ghost = ghost == 1
		players = append(players, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating players: %w", err)
	}
	return players, nil
}

// GetRounds retrieves all rounds for a match in order.
func (r *Reader) GetRounds(ctx context.Context, matchID string) ([]demo.Round, error) {
	query := `
		SELECT start_frame, end_frame, winner
		FROM rounds
		WHERE match_id = ?
		ORDER BY round_index ASC
	`
	rows, err := r.db.QueryContext(ctx, query, matchID)
	if err != nil {
		return nil, fmt.Errorf("failed to query rounds: %w", err)
	}
	defer rows.Close()

	rounds := make([]demo.Round, 0)
	for rows.Next() {
		var rd demo.Round
		if err := rows.Scan(&rd.Start, &rd.End, &rd.Winner); err != nil {
			return nil, fmt.Errorf("failed to scan round: %w", err)
		}
		rounds = append(rounds, rd)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rounds: %w", err)
	}
	return rounds, nil
}

// GetKills retrieves kill events for a match, optionally restricted to
// a frame window.
func (r *Reader) GetKills(ctx context.Context, matchID string, fromFrame, toFrame *int) ([]demo.KillEvent, error) {
	query := `
		SELECT frame, killer, victim, killer_client, victim_client,
		       weapon, location, headshot, killer_x, killer_y, victim_x, victim_y
		FROM kills
		WHERE match_id = ?
	`
	args := []interface{}{matchID}
	if fromFrame != nil {
		query += " AND frame >= ?"
		args = append(args, *fromFrame)
	}
	if toFrame != nil {
		query += " AND frame < ?"
		args = append(args, *toFrame)
	}
	query += " ORDER BY frame ASC"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query kills: %w", err)
	}
	defer rows.Close()

	kills := make([]demo.KillEvent, 0)
	for rows.Next() {
		var k demo.KillEvent
		var headshot int
		var killerClient, victimClient sql.NullInt64
		var kx, ky, vx, vy sql.NullFloat64
		err := rows.Scan(
			&k.Frame, &k.Killer, &k.Victim, &killerClient, &victimClient,
			&k.Weapon, &k.Location, &headshot, &kx, &ky, &vx, &vy,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan kill: %w", err)
		}
		k.Headshot = headshot == 1
		if killerClient.Valid {
			n := int(killerClient.Int64)
			k.KillerNum = &n
		}
		if victimClient.Valid {
			n := int(victimClient.Int64)
			k.VictimNum = &n
		}
		if kx.Valid && ky.Valid {
			k.KillerPos = &demo.PlayerPos{X: kx.Float64, Y: ky.Float64}
		}
		if vx.Valid && vy.Valid {
			k.VictimPos = &demo.PlayerPos{X: vx.Float64, Y: vy.Float64}
		}
		kills = append(kills, k)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating kills: %w", err)
	}
	return kills, nil
}

// GetFrames retrieves position snapshots for a frame window, grouped
// back into per-frame maps.
func (r *Reader) GetFrames(ctx context.Context, matchID string, fromFrame, toFrame int) ([]demo.Frame, error) {
	query := `
		SELECT frame, client, x, y, z, yaw
		FROM frames
		WHERE match_id = ? AND frame >= ? AND frame < ?
		ORDER BY frame ASC, client ASC
	`
	rows, err := r.db.QueryContext(ctx, query, matchID, fromFrame, toFrame)
	if err != nil {
		return nil, fmt.Errorf("failed to query frames: %w", err)
	}
	defer rows.Close()

	frames := make([]demo.Frame, 0)
	for rows.Next() {
		var frame, client int
		var pos demo.PlayerPos
		if err := rows.Scan(&frame, &client, &pos.X, &pos.Y, &pos.Z, &pos.Angle); err != nil {
			return nil, fmt.Errorf("failed to scan frame row: %w", err)
		}
		if len(frames) == 0 || frames[len(frames)-1].Index != frame {
			frames = append(frames, demo.Frame{Index: frame, Players: make(map[int]demo.PlayerPos)})
		}
		frames[len(frames)-1].Players[client] = pos
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating frames: %w", err)
	}
	return frames, nil
}

// GetScoreboard retrieves player stats for a match ordered by kills.
func (r *Reader) GetScoreboard(ctx context.Context, matchID string) ([]PlayerRow, error) {
	query := `
		SELECT match_id, name, team, kills, deaths, team_kills, headshots,
		       shots, hits, accuracy, accuracy_valid, est_damage, best_streak
		FROM player_stats
		WHERE match_id = ?
		ORDER BY kills DESC, name ASC
	`
	rows, err := r.db.QueryContext(ctx, query, matchID)
	if err != nil {
		return nil, fmt.Errorf("failed to query player stats: %w", err)
	}
	defer rows.Close()

	board := make([]PlayerRow, 0)
	for rows.Next() {
		var p PlayerRow
		var valid int
		err := rows.Scan(
			&p.MatchID, &p.Name, &p.Team, &p.Kills, &p.Deaths, &p.TeamKills, &p.Headshots,
			&p.Shots, &p.Hits, &p.Accuracy, &valid, &p.EstDamage, &p.BestStreak,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan player stats: %w", err)
		}
		p.AccuracyValid = valid == 1
		board = append(board, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating player stats: %w", err)
	}
	return board, nil
}

// GetGeometry retrieves a stored level wireframe, or nil when the map
// has not been decoded yet.
func (r *Reader) GetGeometry(ctx context.Context, mapName string) (*bsp.Geometry, error) {
	query := `
		SELECT min_x, max_x, min_y, max_y, min_z, max_z, edges_json, spawns_json
		FROM geometry
		WHERE map = ?
	`
	var g bsp.Geometry
	var edges, spawns string
	err := r.db.QueryRowContext(ctx, query, mapName).Scan(
		&g.Bounds.MinX, &g.Bounds.MaxX, &g.Bounds.MinY, &g.Bounds.MaxY,
		&g.Bounds.MinZ, &g.Bounds.MaxZ, &edges, &spawns,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get geometry: %w", err)
	}
	if err := json.Unmarshal([]byte(edges), &g.Segments); err != nil {
		return nil, fmt.Errorf("failed to unmarshal edges: %w", err)
	}
	if err := json.Unmarshal([]byte(spawns), &g.Spawns); err != nil {
		return nil, fmt.Errorf("failed to unmarshal spawns: %w", err)
	}
	return &g, nil
}

// TopviewRow is a stored raster with its alignment metadata.
type TopviewRow struct {
	CacheKey string
	Map      string
	ImgSize  int
	Scale    float64
	OffX     float64
	OffY     float64
	MinX     float64
	MaxX     float64
	MinY     float64
	MaxY     float64
	PNG      []byte
}

// GetTopview retrieves a cached topview image, or nil on a cache miss.
func (r *Reader) GetTopview(ctx context.Context, cacheKey string) (*TopviewRow, error) {
	query := `
		SELECT cache_key, map, img_size, scale, off_x, off_y,
		       min_x, max_x, min_y, max_y, png
		FROM topviews
		WHERE cache_key = ?
	`
	var t TopviewRow
	err := r.db.QueryRowContext(ctx, query, cacheKey).Scan(
		&t.CacheKey, &t.Map, &t.ImgSize, &t.Scale, &t.OffX, &t.OffY,
		&t.MinX, &t.MaxX, &t.MinY, &t.MaxY, &t.PNG,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get topview: %w", err)
	}
	return &t, nil
}

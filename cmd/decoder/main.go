package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"aq2-replay-viewer/internal/bsp"
	"aq2-replay-viewer/internal/db"
	"aq2-replay-viewer/internal/demo"
	"aq2-replay-viewer/internal/ipc"
	"aq2-replay-viewer/internal/stats"
	"aq2-replay-viewer/internal/topview"
)

const (
	exitSuccess = 0
	exitFailure = 1
)

// config carries the parsed command line through the pipeline stages.
type config struct {
	demoPath    string
	bspPath     string
	matchID     string
	maxFrames   int
	texturesDir string
	palettePath string
	topview     bool
	topviewSize int
}

func main() {
	var (
		demoPath    = flag.String("demo", "", "Path to MVD2 demo file (optionally gzip-compressed)")
		bspPath     = flag.String("bsp", "", "Path to the IBSP level file for the demo's map (optional)")
		mode        = flag.String("mode", "database", "Output mode: 'json' or 'database'")
		outPath     = flag.String("out", "", "Path to output SQLite database (required for database mode)")
		outputPath  = flag.String("output", "", "Path to output JSON file (required for json mode)")
		texturesDir = flag.String("textures", "", "Directory containing .wal textures for topview rendering (optional)")
		palettePath = flag.String("palette", "", "Path to a PCX file carrying the 256-color palette (optional)")
		topviewFlag = flag.Bool("topview", false, "Render a top-down view of the level (requires --bsp)")
		topviewSize = flag.Int("topview-size", 0, "Topview image size in pixels (0 = default)")
		matchID     = flag.String("match-id", "", "Optional match ID (defaults to demo filename)")
		maxFrames   = flag.Int("max-frames", 0, "Stop decoding after this many frames (0 = no limit)")
	)
	flag.Parse()

	// Stdout is reserved for NDJSON; all structured logging goes to stderr.
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	// Validate required arguments
	if *demoPath == "" {
		fmt.Fprintf(os.Stderr, "error: --demo is required\n")
		os.Exit(exitFailure)
	}

	// Validate mode
	if *mode != "json" && *mode != "database" {
		fmt.Fprintf(os.Stderr, "error: --mode must be 'json' or 'database'\n")
		os.Exit(exitFailure)
	}

	// Validate output path based on mode
	if *mode == "json" {
		if *outputPath == "" {
			fmt.Fprintf(os.Stderr, "error: --output is required when --mode=json\n")
			os.Exit(exitFailure)
		}
	} else {
		if *outPath == "" {
			fmt.Fprintf(os.Stderr, "error: --out is required when --mode=database\n")
			os.Exit(exitFailure)
		}
	}

	if *topviewFlag && *bspPath == "" {
		fmt.Fprintf(os.Stderr, "error: --topview requires --bsp\n")
		os.Exit(exitFailure)
	}

	// Generate match ID if not provided
	if *matchID == "" {
		base := filepath.Base(*demoPath)
		*matchID = strings.TrimSuffix(base, filepath.Ext(base))
		*matchID = strings.TrimSuffix(*matchID, ".mvd2") // handles .mvd2.gz
	}

	// Setup context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle interrupt signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		cancel()
	}()

	cfg := config{
		demoPath:    *demoPath,
		bspPath:     *bspPath,
		matchID:     *matchID,
		maxFrames:   *maxFrames,
		texturesDir: *texturesDir,
		palettePath: *palettePath,
		topview:     *topviewFlag,
		topviewSize: *topviewSize,
	}

	// Initialize output handler
	output := ipc.NewOutput()

	var err error
	if *mode == "json" {
		err = runJSON(ctx, cfg, *outputPath, output)
	} else {
		err = run(ctx, cfg, *outPath, output)
	}

	if err != nil {
		output.Error(err.Error())
		os.Exit(exitFailure)
	}

	os.Exit(exitSuccess)
}

// artifacts is everything the decode pipeline produces before the output
// stage. Geometry and topview are nil when no level file was given.
type artifacts struct {
	replay   *demo.Replay
	match    *stats.Match
	geometry *bsp.Geometry
	topview  *topview.Topview
	cacheKey string
	mapName  string
}

// decode runs the shared pipeline stages: demo decode, stat aggregation,
// and optional level decode + topview render. Cancellation is honored
// between stages; an individual decode always runs to completion.
func decode(ctx context.Context, cfg config, output *ipc.Output) (*artifacts, error) {
	output.Log("info", fmt.Sprintf("Starting decoder for demo: %s", cfg.demoPath))
	output.Log("info", fmt.Sprintf("Match ID: %s", cfg.matchID))

	raw, err := os.ReadFile(cfg.demoPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read demo: %w", err)
	}
	output.Log("info", fmt.Sprintf("Read %s of demo data", humanize.Bytes(uint64(len(raw)))))
	output.Progress("read", 0, 0, 0.1)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	replay, err := demo.Decode(raw, cfg.maxFrames)
	if err != nil {
		return nil, fmt.Errorf("failed to decode demo: %w", err)
	}
	if replay.Truncated {
		output.Log("warn", "Demo stream was truncated; decoded prefix is kept")
	}
	output.Log("info", fmt.Sprintf("Decoded %d frames, %d players, %d kills, %d rounds",
		replay.FrameCount(), len(replay.PlayerNames), len(replay.Kills), len(replay.Rounds)))
	output.Progress("decode", replay.FrameCount(), len(replay.Rounds), 0.5)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	match := stats.Aggregate(replay, stats.DefaultPolicy())
	output.Progress("stats", replay.FrameCount(), len(replay.Rounds), 0.6)

	art := &artifacts{
		replay:  replay,
		match:   match,
		mapName: replay.MapName,
	}

	if cfg.bspPath == "" {
		return art, nil
	}

	bspRaw, err := os.ReadFile(cfg.bspPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read level: %w", err)
	}
	output.Log("info", fmt.Sprintf("Read %s of level data", humanize.Bytes(uint64(len(bspRaw)))))

	level, err := bsp.Load(bspRaw)
	if err != nil {
		return nil, fmt.Errorf("failed to decode level: %w", err)
	}
	art.geometry = level.Geometry()
	if art.mapName == "" {
		base := filepath.Base(cfg.bspPath)
		art.mapName = strings.TrimSuffix(base, filepath.Ext(base))
	}
	output.Log("info", fmt.Sprintf("Extracted %d wall segments, %d spawns",
		len(art.geometry.Segments), len(art.geometry.Spawns)))
	output.Progress("geometry", replay.FrameCount(), len(replay.Rounds), 0.7)

	if !cfg.topview {
		return art, nil
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	opts := topview.DefaultOptions()
	if cfg.topviewSize > 0 {
		opts.Size = cfg.topviewSize
	}
	var assets topview.AssetStore
	if cfg.texturesDir != "" || cfg.palettePath != "" {
		assets = topview.DirStore{TexturesDir: cfg.texturesDir, PalettePath: cfg.palettePath}
	}
	tv, err := topview.Render(level, assets, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to render topview: %w", err)
	}
	art.topview = tv
	art.cacheKey = topview.CacheKey(art.mapName, opts)
	output.Log("info", fmt.Sprintf("Rendered %dx%d topview (%s PNG)",
		tv.Alignment.ImgSize, tv.Alignment.ImgSize, humanize.Bytes(uint64(len(tv.PNG)))))
	output.Progress("topview", replay.FrameCount(), len(replay.Rounds), 0.8)

	return art, nil
}

// document is the single-file JSON output shape.
type document struct {
	MatchID  string        `json:"match_id"`
	Map      string        `json:"map"`
	Replay   *demo.Replay  `json:"replay"`
	Stats    *stats.Match  `json:"stats"`
	Geometry *bsp.Geometry `json:"geometry,omitempty"`
	Topview  *topviewDoc   `json:"topview,omitempty"`
}

type topviewDoc struct {
	CacheKey  string            `json:"cache_key"`
	PNGPath   string            `json:"png_path"`
	Alignment topview.Alignment `json:"alignment"`
}

// runJSON runs the decoder in JSON output mode. The topview PNG, when
// rendered, is written next to the JSON document.
func runJSON(ctx context.Context, cfg config, outputPath string, output *ipc.Output) error {
	output.Log("info", fmt.Sprintf("Output JSON: %s", outputPath))

	art, err := decode(ctx, cfg, output)
	if err != nil {
		return err
	}

	doc := document{
		MatchID:  cfg.matchID,
		Map:      art.mapName,
		Replay:   art.replay,
		Stats:    art.match,
		Geometry: art.geometry,
	}

	if art.topview != nil {
		pngPath := outputPath + ".png"
		if err := os.WriteFile(pngPath, art.topview.PNG, 0644); err != nil {
			return fmt.Errorf("failed to write topview PNG: %w", err)
		}
		output.Log("info", fmt.Sprintf("Wrote topview PNG: %s", pngPath))
		doc.Topview = &topviewDoc{
			CacheKey:  art.cacheKey,
			PNGPath:   pngPath,
			Alignment: art.topview.Alignment,
		}
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal document: %w", err)
	}
	if err := os.WriteFile(outputPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write JSON: %w", err)
	}
	output.Log("info", fmt.Sprintf("Wrote %s of JSON", humanize.Bytes(uint64(len(data)))))

	output.Log("info", "Decoding complete!")
	output.Progress("complete", art.replay.FrameCount(), len(art.replay.Rounds), 1.0)
	return nil
}

func run(ctx context.Context, cfg config, outPath string, output *ipc.Output) error {
	output.Log("info", fmt.Sprintf("Output database: %s", outPath))

	// Open database
	output.Log("info", "Opening database...")
	dbConn, err := db.Open(ctx, outPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer dbConn.Close()

	writer := db.NewWriter(dbConn)

	art, err := decode(ctx, cfg, output)
	if err != nil {
		return err
	}
	replay := art.replay

	now := time.Now()
	match := db.Match{
		ID:            cfg.matchID,
		Map:           art.mapName,
		FrameInterval: replay.FrameInterval,
		Duration:      replay.Duration,
		Truncated:     replay.Truncated,
		DecodedAt:     &now,
	}
	if err := writer.InsertMatch(ctx, match); err != nil {
		return fmt.Errorf("failed to insert match: %w", err)
	}

	// Store players. Named clients first in client order, then ghosts.
	clients := make([]int, 0, len(replay.PlayerNames))
	for c := range replay.PlayerNames {
		clients = append(clients, c)
	}
	sort.Ints(clients)
	output.Log("info", fmt.Sprintf("Storing %d players...", len(clients)))
	for _, c := range clients {
		name := replay.PlayerNames[c]
		player := db.Player{
			MatchID: cfg.matchID,
			Client:  c,
			Name:    name,
			Team:    replay.PlayerTeams[name],
		}
		if err := writer.InsertPlayer(ctx, player); err != nil {
			output.Log("warn", fmt.Sprintf("Failed to insert player %s: %v", name, err))
		}
	}
	for _, c := range replay.GhostClients {
		player := db.Player{MatchID: cfg.matchID, Client: c, Ghost: true}
		if err := writer.InsertPlayer(ctx, player); err != nil {
			output.Log("warn", fmt.Sprintf("Failed to insert ghost client %d: %v", c, err))
		}
	}

	// Store rounds
	output.Log("info", fmt.Sprintf("Storing %d rounds...", len(replay.Rounds)))
	for i, round := range replay.Rounds {
		if err := writer.InsertRound(ctx, cfg.matchID, i, round); err != nil {
			output.Log("warn", fmt.Sprintf("Failed to insert round %d: %v", i, err))
		}
	}

	// Store events
	output.Log("info", fmt.Sprintf("Storing %d kills...", len(replay.Kills)))
	if err := writer.BatchInsertKills(ctx, cfg.matchID, replay.Kills); err != nil {
		return fmt.Errorf("failed to insert kills: %w", err)
	}
	output.Log("info", fmt.Sprintf("Storing %d shots...", len(replay.Shots)))
	if err := writer.BatchInsertShots(ctx, cfg.matchID, replay.Shots); err != nil {
		return fmt.Errorf("failed to insert shots: %w", err)
	}
	output.Log("info", fmt.Sprintf("Storing %d awards...", len(replay.Awards)))
	if err := writer.BatchInsertAwards(ctx, cfg.matchID, replay.Awards); err != nil {
		return fmt.Errorf("failed to insert awards: %w", err)
	}

	// Store frames. This is by far the largest table.
	output.Log("info", fmt.Sprintf("Storing %s frames...", humanize.Comma(int64(replay.FrameCount()))))
	if err := writer.BatchInsertFrames(ctx, cfg.matchID, replay.Frames); err != nil {
		return fmt.Errorf("failed to insert frames: %w", err)
	}
	output.Progress("write", replay.FrameCount(), len(replay.Rounds), 0.9)

	// Store aggregated stats
	output.Log("info", "Storing match stats...")
	if err := writer.InsertMatchStats(ctx, cfg.matchID, art.match); err != nil {
		return fmt.Errorf("failed to insert stats: %w", err)
	}

	if art.geometry != nil {
		output.Log("info", fmt.Sprintf("Storing geometry for map %s...", art.mapName))
		if err := writer.InsertGeometry(ctx, art.mapName, art.geometry); err != nil {
			return fmt.Errorf("failed to insert geometry: %w", err)
		}
	}
	if art.topview != nil {
		output.Log("info", fmt.Sprintf("Storing topview %s...", art.cacheKey))
		if err := writer.InsertTopview(ctx, art.cacheKey, art.mapName, art.topview); err != nil {
			return fmt.Errorf("failed to insert topview: %w", err)
		}
	}

	// Store metadata
	if err := writer.SetMeta(ctx, "demo_path", cfg.demoPath); err != nil {
		output.Log("warn", fmt.Sprintf("Failed to store demo_path meta: %v", err))
	}
	decodedAtIso := now.Format(time.RFC3339)
	if err := writer.SetMeta(ctx, "decoded_at_iso", decodedAtIso); err != nil {
		output.Log("warn", fmt.Sprintf("Failed to store decoded_at_iso meta: %v", err))
	}

	// Read back the scoreboard so a half-committed database fails the
	// run instead of surfacing later in the viewer.
	reader := db.NewReader(dbConn)
	board, err := reader.GetScoreboard(ctx, cfg.matchID)
	if err != nil {
		return fmt.Errorf("failed to verify stored match: %w", err)
	}
	if len(board) != len(art.match.Players) {
		return fmt.Errorf("stored scoreboard has %d players, decoded %d", len(board), len(art.match.Players))
	}
	output.Log("info", fmt.Sprintf("Verified scoreboard: %d players", len(board)))

	output.Log("info", "Decoding complete!")
	output.Progress("complete", replay.FrameCount(), len(replay.Rounds), 1.0)
	return nil
}

package demo

import (
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
)

// FrameInterval is the nominal time between MVD frames in seconds.
const FrameInterval = 0.1

// GhostName is the demo-recorder pseudo-client's player name. It is
// never a real player and is stripped from the name table.
const GhostName = "[MVDSPEC]"

// PlayerPos is one client's position at a frame boundary, in world
// units with yaw in degrees [0,360).
type PlayerPos struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Z     float64 `json:"z"`
	Angle float64 `json:"a"`
}

// Frame is an immutable snapshot of every known client at one frame
// boundary. Snapshots are deep copies; later deltas never alias into
// an already-emitted Frame.
type Frame struct {
	Index   int               `json:"t"`
	Players map[int]PlayerPos `json:"players"`
}

// KillEvent is one parsed death notice. KillerNum/VictimNum are nil
// when the name could not be resolved to a client; positions are nil
// when the client's state was unknown at that frame — never fabricated.
type KillEvent struct {
	Frame     int        `json:"frame"`
	Killer    string     `json:"killer"`
	Victim    string     `json:"victim"`
	KillerNum *int       `json:"killer_num"`
	VictimNum *int       `json:"victim_num"`
	Weapon    string     `json:"weapon"`
	Location  string     `json:"location"`
	Headshot  bool       `json:"headshot"`
	KillerPos *PlayerPos `json:"killer_pos,omitempty"`
	VictimPos *PlayerPos `json:"victim_pos,omitempty"`
}

// HitEvent is one "You hit X in the Y" damage notice sent to the
// attacker. Attacker is the unicast target client number.
type HitEvent struct {
	Frame    int    `json:"frame"`
	Attacker int    `json:"attacker"`
	Victim   string `json:"victim"`
	Location string `json:"location"`
}

// AwardEvent is one consecutive-kill/headshot award announcement.
type AwardEvent struct {
	Frame  int    `json:"frame"`
	Player string `json:"player"`
	Award  string `json:"award"`
	Count  int    `json:"count,omitempty"`
}

// ShotEvent is one muzzle flash: a true shot fired, with the wire MZ
// weapon code.
type ShotEvent struct {
	Frame  int   `json:"frame"`
	Client int   `json:"client"`
	Weapon uint8 `json:"mz"`
}

// RoundNotice types.
const (
	NoticeWin   = "win"
	NoticeTie   = "tie"
	NoticeScore = "score"
)

// RoundNotice is an authoritative broadcast about round outcome or the
// running score.
type RoundNotice struct {
	Frame          int    `json:"frame"`
	Type           string `json:"type"`
	Team           int    `json:"team,omitempty"` // win only
	Team1, Team2   int    `json:"-"`
	Score1, Score2 int    `json:"-"`
}

// Round is one detected round with its winning team (1, 2, or 0 for
// tie/unknown). Boundaries are frame indices, strictly increasing and
// non-overlapping.
type Round struct {
	Start  int `json:"start"`
	End    int `json:"end"`
	Winner int `json:"winner"`
}

// Replay is the decoded replay document. Read-only once returned.
type Replay struct {
	MapName       string            `json:"map"`
	FrameInterval float64           `json:"frame_interval"`
	Duration      float64           `json:"duration"`
	PlayerNames   map[int]string    `json:"player_names"`
	PlayerTeams   map[string]int    `json:"player_teams"`
	GhostClients  []int             `json:"ghost_clients"`
	Frames        []Frame           `json:"frames"`
	Kills         []KillEvent       `json:"kills"`
	Hits          []HitEvent        `json:"hit_events"`
	Awards        []AwardEvent      `json:"award_events"`
	Shots         []ShotEvent       `json:"shots"`
	Notices       []RoundNotice     `json:"round_notices"`
	Rounds        []Round           `json:"rounds"`
	RoundStarts   []int             `json:"round_start_frames"`
	Truncated     bool              `json:"truncated"`
}

// FrameCount returns the number of emitted frames.
func (r *Replay) FrameCount() int { return len(r.Frames) }

// clientState is the last known delta-merged state for one client.
// Absent delta fields retain their previous value; a fresh client
// starts from the zero baseline.
type clientState struct {
	ox, oy, oz int16
	yaw        int16
	weapon     uint8
}

// builder folds the typed message sequence into the replay document.
type builder struct {
	mapName     string
	names       map[int]string
	teams       map[int]int // client → 1 or 2
	state       map[int]*clientState
	frameIdx    int
	frames      []Frame
	kills       []KillEvent
	hits        []HitEvent
	awards      []AwardEvent
	shots       []ShotEvent
	notices     []RoundNotice
	respawns    []int
	maxFrames   int
	frameNums   map[int]struct{} // every client num seen in any frame
}

// Decode parses a raw or gzip-wrapped MVD2 byte stream into a replay
// document. maxFrames of 0 decodes everything. Only a bad top-level
// magic fails; every other defect yields a partial document with
// Truncated set.
func Decode(raw []byte, maxFrames int) (*Replay, error) {
	src, err := NewByteSource(raw)
	if err != nil {
		return nil, err
	}
	dec, err := NewDecoder(src.Data)
	if err != nil {
		return nil, err
	}

	b := &builder{
		names:     make(map[int]string),
		teams:     make(map[int]int),
		state:     make(map[int]*clientState),
		frameNums: make(map[int]struct{}),
		maxFrames: maxFrames,
	}

	for {
		m, ok := dec.Next()
		if !ok {
			break
		}
		if !b.apply(m) {
			break // frame cap reached
		}
	}

	return b.build(src.Truncated || dec.Truncated()), nil
}

func (b *builder) apply(m Message) bool {
	switch msg := m.(type) {
	case ServerData:
		// Nothing to fold; the configstrings and base frame follow as
		// their own messages.

	case ConfigString:
		b.configString(msg.Index, msg.Value)

	case FrameDelta:
		b.frame(msg)
		if b.maxFrames > 0 && b.frameIdx >= b.maxFrames {
			return false
		}

	case Unicast:
		b.unicast(msg)

	case Multicast:
		b.multicast(msg.Events)

	case Print:
		b.roundPrint(msg.Text)

	case EndOfDemo:
	}
	return true
}

func (b *builder) configString(idx int, val string) {
	if idx >= csModelsLo && idx <= csModelsHi &&
		strings.HasPrefix(val, "maps/") && strings.HasSuffix(val, ".bsp") {
		base := val[strings.LastIndexByte(val, '/')+1:]
		b.mapName = strings.TrimSuffix(base, ".bsp")
		return
	}
	if idx >= csPlayerSkins && idx < csPlayerSkins+maxClients {
		b.playerSkin(idx-csPlayerSkins, val)
	}
}

// playerSkin extracts name and team from a CS_PLAYERSKINS value of the
// form name\model/skin, where skin suffix ctf_r→team1, ctf_b→team2.
func (b *builder) playerSkin(client int, val string) {
	if val == "" {
		return
	}
	parts := strings.Split(val, `\`)
	b.names[client] = parts[0]
	if len(parts) < 2 {
		return
	}
	skin := parts[1]
	if i := strings.LastIndexByte(skin, '/'); i >= 0 {
		skin = skin[i+1:]
	}
	skin = strings.ToLower(skin)
	switch {
	case strings.Contains(skin, "ctf_r") || strings.HasSuffix(skin, "_r"):
		b.teams[client] = 1
	case strings.Contains(skin, "ctf_b") || strings.HasSuffix(skin, "_b"):
		b.teams[client] = 2
	}
}

func (b *builder) frame(fd FrameDelta) {
	respawned := false
	for _, p := range fd.Players {
		if p.Remove {
			delete(b.state, p.Client)
			continue
		}
		s, ok := b.state[p.Client]
		if !ok {
			// No prior baseline: seed a zero/default record.
			s = &clientState{}
			b.state[p.Client] = s
			if _, named := b.names[p.Client]; named && b.frameIdx > 0 {
				respawned = true
			}
		}
		if p.HasOrigin {
			s.ox, s.oy = p.OX, p.OY
		}
		if p.HasOriginZ {
			s.oz = p.OZ
		}
		if p.HasYaw {
			s.yaw = p.Yaw
		}
		if p.HasWeapon {
			s.weapon = p.Weapon
		}
	}
	if respawned {
		b.respawns = append(b.respawns, b.frameIdx)
	}

	snap := make(map[int]PlayerPos, len(b.state))
	for n, s := range b.state {
		snap[n] = s.pos()
		b.frameNums[n] = struct{}{}
	}
	b.frames = append(b.frames, Frame{Index: b.frameIdx, Players: snap})
	b.frameIdx++
}

func (s *clientState) pos() PlayerPos {
	return PlayerPos{
		X:     round1(float64(s.ox) * CoordScale),
		Y:     round1(float64(s.oy) * CoordScale),
		Z:     round1(float64(s.oz) * CoordScale),
		Angle: round1(mod360(float64(s.yaw) * AngleScale)),
	}
}

func (b *builder) unicast(u Unicast) {
	for _, p := range u.Events.Prints {
		switch p.Level {
		case PrintMedium:
			if k, ok := parseKillMessage(p.Text, b.sortedNames()); ok {
				b.addKill(k)
			}
		case PrintHigh:
			if m := youHitRE.FindStringSubmatch(p.Text); m != nil {
				b.hits = append(b.hits, HitEvent{
					Frame:    b.frameIdx,
					Attacker: u.Client,
					Victim:   m[1],
					Location: parseHitLocation(m[2]),
				})
			}
		}
	}
	for _, cp := range u.Events.CenterPrints {
		b.centerPrint(cp)
	}
}

func (b *builder) multicast(ev SVCEvents) {
	for _, cp := range ev.CenterPrints {
		b.centerPrint(cp)
	}
	for _, p := range ev.Prints {
		b.roundPrint(p.Text)
	}
	for _, mf := range ev.MuzzleFlashes {
		b.shots = append(b.shots, ShotEvent{Frame: b.frameIdx, Client: mf.Client, Weapon: mf.Weapon})
	}
}

func (b *builder) centerPrint(text string) {
	if player, award, count, ok := parseAward(text); ok {
		b.awards = append(b.awards, AwardEvent{Frame: b.frameIdx, Player: player, Award: award, Count: count})
	}
}

func (b *builder) roundPrint(text string) {
	t := strings.TrimSpace(text)
	if m := roundWinRE.FindStringSubmatch(t); m != nil {
		b.notices = append(b.notices, RoundNotice{Frame: b.frameIdx, Type: NoticeWin, Team: teamNumber(m[1])})
		return
	}
	if tieRE.MatchString(t) {
		b.notices = append(b.notices, RoundNotice{Frame: b.frameIdx, Type: NoticeTie})
		return
	}
	if m := currScoreRE.FindStringSubmatch(t); m != nil {
		b.notices = append(b.notices, RoundNotice{
			Frame:  b.frameIdx,
			Type:   NoticeScore,
			Team1:  teamNumber(m[1]),
			Score1: mustInt(m[2]),
			Team2:  teamNumber(m[3]),
			Score2: mustInt(m[4]),
		})
	}
}

func (b *builder) addKill(k killNotice) {
	ev := KillEvent{
		Frame:    b.frameIdx,
		Killer:   k.Killer,
		Victim:   k.Victim,
		Weapon:   k.Weapon,
		Location: k.Location,
		Headshot: k.Location == LocHead,
	}
	if n, ok := b.clientByName(k.Killer); ok {
		ev.KillerNum = intp(n)
		if s, known := b.state[n]; known {
			p := s.pos()
			ev.KillerPos = &p
		}
	}
	if n, ok := b.clientByName(k.Victim); ok {
		ev.VictimNum = intp(n)
		if s, known := b.state[n]; known {
			p := s.pos()
			ev.VictimPos = &p
		}
	}
	b.kills = append(b.kills, ev)
}

// sortedNames returns the known player names ordered by client number,
// keeping kill-message matching deterministic.
func (b *builder) sortedNames() []string {
	nums := make([]int, 0, len(b.names))
	for n := range b.names {
		nums = append(nums, n)
	}
	sort.Ints(nums)
	names := make([]string, len(nums))
	for i, n := range nums {
		names[i] = b.names[n]
	}
	return names
}

// clientByName resolves a name to a client number. Names can collide
// (reconnect ghosts, copycat nicks); the lowest client number wins so
// the mapping is stable.
func (b *builder) clientByName(name string) (int, bool) {
	best, ok := 0, false
	for n, v := range b.names {
		if v != name {
			continue
		}
		if !ok || n < best {
			best, ok = n, true
		}
	}
	return best, ok
}

// build finalizes the document: dedup, ghost detection, round
// boundaries.
func (b *builder) build(truncated bool) *Replay {
	// The same kill is unicast to every connected client in the same
	// frame; awards fan out the same way via CenterPrintAll.
	kills := dedupKills(b.kills)
	awards := dedupAwards(b.awards)

	// Strip the recorder pseudo-client from the name table.
	names := make(map[int]string, len(b.names))
	for n, v := range b.names {
		if v != GhostName {
			names[n] = v
		}
	}

	// Ghost clients: nums present in frames but without a skin
	// configstring.
	var ghosts []int
	for n := range b.frameNums {
		if _, ok := names[n]; !ok {
			ghosts = append(ghosts, n)
		}
	}
	sort.Ints(ghosts)

	teamsByName := make(map[string]int)
	for n, t := range b.teams {
		if name, ok := names[n]; ok {
			teamsByName[name] = t
		}
	}

	starts, rounds := b.buildRounds(kills, teamsByName)

	return &Replay{
		MapName:       b.mapName,
		FrameInterval: FrameInterval,
		Duration:      round1(float64(len(b.frames)) * FrameInterval),
		PlayerNames:   names,
		PlayerTeams:   teamsByName,
		GhostClients:  ghosts,
		Frames:        b.frames,
		Kills:         kills,
		Hits:          b.hits,
		Awards:        awards,
		Shots:         b.shots,
		Notices:       b.notices,
		Rounds:        rounds,
		RoundStarts:   starts,
		Truncated:     truncated,
	}
}

// buildRounds prefers authoritative win/tie broadcast frames as round
// boundaries; pickup games without them fall back to mass-respawn
// clustering. Out-of-order boundaries are dropped, not fatal.
func (b *builder) buildRounds(kills []KillEvent, teams map[string]int) ([]int, []Round) {
	var boundaries []int
	var winners []int
	last := -1
	for _, n := range b.notices {
		if n.Type != NoticeWin && n.Type != NoticeTie {
			continue
		}
		if n.Frame <= last {
			log.Warn().Int("frame", n.Frame).Int("prev", last).Msg("dropping out-of-order round boundary")
			continue
		}
		last = n.Frame
		boundaries = append(boundaries, n.Frame)
		if n.Type == NoticeWin {
			winners = append(winners, n.Team)
		} else {
			winners = append(winners, 0)
		}
	}

	if len(boundaries) > 0 {
		rounds := make([]Round, len(boundaries))
		prev := 0
		for i, f := range boundaries {
			rounds[i] = Round{Start: prev, End: f, Winner: winners[i]}
			prev = f
		}
		return boundaries, rounds
	}

	starts := clusterRounds(b.respawns, 150, 2)
	if len(starts) == 0 {
		return nil, nil
	}
	bounds := append(append([]int(nil), starts...), len(b.frames))
	rounds := make([]Round, 0, len(starts))
	for i := 0; i+1 < len(bounds); i++ {
		r := Round{Start: bounds[i], End: bounds[i+1]}
		r.Winner = lastKillTeam(kills, teams, r.Start, r.End)
		rounds = append(rounds, r)
	}
	return starts, rounds
}

// clusterRounds collapses individual respawn frames into true round
// boundaries: a real boundary is a mass respawn, several players
// reappearing within gap frames. Single respawns are ignored.
func clusterRounds(respawns []int, gap, minCluster int) []int {
	if len(respawns) == 0 {
		return nil
	}
	var out []int
	start := respawns[0]
	count := 1
	prev := respawns[0]
	for _, f := range respawns[1:] {
		if f-prev <= gap {
			count++
		} else {
			if count >= minCluster {
				out = append(out, start)
			}
			start = f
			count = 1
		}
		prev = f
	}
	if count >= minCluster {
		out = append(out, start)
	}
	return out
}

// lastKillTeam returns the team of the last kill in [start, end), or 0.
func lastKillTeam(kills []KillEvent, teams map[string]int, start, end int) int {
	winner := 0
	best := -1
	for _, k := range kills {
		if k.Frame < start || k.Frame >= end {
			continue
		}
		if k.Frame >= best {
			best = k.Frame
			winner = teams[k.Killer]
		}
	}
	return winner
}

func dedupKills(kills []KillEvent) []KillEvent {
	type key struct {
		killer, victim string
		frame          int
	}
	seen := make(map[key]struct{}, len(kills))
	out := make([]KillEvent, 0, len(kills))
	for _, k := range kills {
		kk := key{k.Killer, k.Victim, k.Frame}
		if _, dup := seen[kk]; dup {
			continue
		}
		seen[kk] = struct{}{}
		out = append(out, k)
	}
	return out
}

func dedupAwards(awards []AwardEvent) []AwardEvent {
	type key struct {
		award, player string
		frame         int
	}
	seen := make(map[key]struct{}, len(awards))
	out := make([]AwardEvent, 0, len(awards))
	for _, a := range awards {
		kk := key{a.Award, a.Player, a.Frame}
		if _, dup := seen[kk]; dup {
			continue
		}
		seen[kk] = struct{}{}
		out = append(out, a)
	}
	return out
}

func round1(v float64) float64 { return math.Round(v*10) / 10 }

func mod360(v float64) float64 {
	v = math.Mod(v, 360)
	if v < 0 {
		v += 360
	}
	return v
}

func intp(v int) *int { return &v }

func mustInt(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

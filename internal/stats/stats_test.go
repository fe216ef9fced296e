package stats

import (
	"math"
	"testing"

	"aq2-replay-viewer/internal/demo"
)

func sampleReplay() *demo.Replay {
	return &demo.Replay{
		MapName:  "urban2",
		Duration: 120,
		PlayerNames: map[int]string{
			0: "wizard",
			1: "slayer",
			2: "Bones",
		},
		PlayerTeams: map[string]int{
			"wizard": 1,
			"slayer": 2,
			"Bones":  1,
		},
		Kills: []demo.KillEvent{
			{Frame: 10, Killer: "wizard", Victim: "slayer", Weapon: "MK23", Location: demo.LocChest},
			{Frame: 20, Killer: "wizard", Victim: "slayer", Weapon: "SR", Location: demo.LocHead, Headshot: true},
			{Frame: 30, Killer: "wizard", Victim: "Bones", Weapon: "M4", Location: demo.LocStomach}, // team kill
			{Frame: 40, Killer: "slayer", Victim: "wizard", Weapon: "M3", Location: demo.LocChest},
			{Frame: 50, Killer: "wizard", Victim: "slayer", Weapon: "MK23", Location: demo.LocLegs},
		},
		Shots: []demo.ShotEvent{
			{Frame: 9, Client: 0, Weapon: 19},
			{Frame: 19, Client: 0, Weapon: 19},
			{Frame: 29, Client: 0, Weapon: 19},
			{Frame: 39, Client: 0, Weapon: 19},
			{Frame: 49, Client: 0, Weapon: 19},
			{Frame: 38, Client: 1, Weapon: 2},
			{Frame: 39, Client: 1, Weapon: 2},
		},
		Hits: []demo.HitEvent{
			{Frame: 10, Attacker: 0, Victim: "slayer", Location: demo.LocChest},
			{Frame: 20, Attacker: 0, Victim: "slayer", Location: demo.LocHead},
			{Frame: 50, Attacker: 0, Victim: "slayer", Location: demo.LocLegs},
		},
		Awards: []demo.AwardEvent{
			{Frame: 20, Player: "wizard", Award: "Impressive"},
			{Frame: 50, Player: "wizard", Award: "Excellent", Count: 3},
		},
		Rounds: []demo.Round{
			{Start: 0, End: 600, Winner: 1},
			{Start: 600, End: 1200, Winner: 2},
			{Start: 1200, End: 1800, Winner: 1},
		},
	}
}

func player(t *testing.T, m *Match, name string) *PlayerStats {
	t.Helper()
	for _, p := range m.Players {
		if p.Name == name {
			return p
		}
	}
	t.Fatalf("player %q missing", name)
	return nil
}

func TestAggregateKillsAndDeaths(t *testing.T) {
	r := sampleReplay()
	m := Aggregate(r, DefaultPolicy())

	w := player(t, m, "wizard")
	if w.Kills != 4 || w.Deaths != 1 || w.TeamKills != 1 || w.Headshots != 1 {
		t.Errorf("wizard = K%d D%d TK%d HS%d", w.Kills, w.Deaths, w.TeamKills, w.Headshots)
	}
	s := player(t, m, "slayer")
	if s.Kills != 1 || s.Deaths != 3 {
		t.Errorf("slayer = K%d D%d", s.Kills, s.Deaths)
	}
	b := player(t, m, "Bones")
	if b.Kills != 0 || b.Deaths != 1 {
		t.Errorf("Bones = K%d D%d", b.Kills, b.Deaths)
	}

	// Every parsed kill lands in exactly one kill column.
	total := 0
	for _, p := range m.Players {
		total += p.Kills
	}
	if total != len(r.Kills) {
		t.Errorf("kill total = %d, want %d", total, len(r.Kills))
	}

	// Scoreboard order: kills descending.
	if m.Players[0].Name != "wizard" || m.Players[1].Name != "slayer" {
		t.Errorf("order = %s, %s, %s", m.Players[0].Name, m.Players[1].Name, m.Players[2].Name)
	}
}

func TestAggregateTeamKillPolicy(t *testing.T) {
	pol := DefaultPolicy()
	pol.CountTeamKills = false
	m := Aggregate(sampleReplay(), pol)

	w := player(t, m, "wizard")
	if w.Kills != 3 || w.TeamKills != 1 {
		t.Errorf("wizard = K%d TK%d, want K3 TK1", w.Kills, w.TeamKills)
	}
	// The victim's death stands either way.
	if b := player(t, m, "Bones"); b.Deaths != 1 {
		t.Errorf("Bones deaths = %d", b.Deaths)
	}
}

func TestAggregateAccuracy(t *testing.T) {
	m := Aggregate(sampleReplay(), DefaultPolicy())

	w := player(t, m, "wizard")
	if w.Shots != 5 || w.Hits != 3 {
		t.Fatalf("wizard = %d/%d", w.Hits, w.Shots)
	}
	if math.Abs(w.Accuracy-60) > 1e-9 {
		t.Errorf("accuracy = %v, want 60", w.Accuracy)
	}
	if w.HitLocations[demo.LocHead] != 1 || w.HitLocations[demo.LocChest] != 1 || w.HitLocations[demo.LocLegs] != 1 {
		t.Errorf("hit locations = %v", w.HitLocations)
	}
	if !w.AccuracyValid {
		t.Error("five rifle shots should be a reliable sample")
	}

	// Two shotgun blasts: below the sample floor and pellet-dominated.
	s := player(t, m, "slayer")
	if s.AccuracyValid {
		t.Error("shotgun-primary accuracy flagged reliable")
	}
}

func TestAggregateAccuracyCap(t *testing.T) {
	r := &demo.Replay{
		PlayerNames: map[int]string{0: "wizard"},
		PlayerTeams: map[string]int{"wizard": 1},
		Shots:       []demo.ShotEvent{{Client: 0, Weapon: 19}},
		Hits: []demo.HitEvent{
			{Attacker: 0, Victim: "x"},
			{Attacker: 0, Victim: "x"}, // burst weapons can register twice
		},
	}
	m := Aggregate(r, DefaultPolicy())
	if got := player(t, m, "wizard").Accuracy; got != 100 {
		t.Errorf("accuracy = %v, want capped at 100", got)
	}
}

func TestAggregateAwards(t *testing.T) {
	m := Aggregate(sampleReplay(), DefaultPolicy())
	w := player(t, m, "wizard")
	if w.Awards["Impressive"] != 1 || w.Awards["Excellent"] != 3 {
		t.Errorf("awards = %v", w.Awards)
	}
}

func TestAggregateTeamScores(t *testing.T) {
	r := sampleReplay()
	m := Aggregate(r, DefaultPolicy())
	if m.Teams[0].Score != 2 || m.Teams[1].Score != 1 {
		t.Errorf("scores from round wins = %d:%d, want 2:1", m.Teams[0].Score, m.Teams[1].Score)
	}

	// An authoritative score broadcast wins over inferred rounds.
	r.Notices = []demo.RoundNotice{
		{Frame: 500, Type: demo.NoticeScore, Team1: 1, Score1: 1, Team2: 2, Score2: 1},
		{Frame: 1700, Type: demo.NoticeScore, Team1: 1, Score1: 5, Team2: 2, Score2: 3},
	}
	m = Aggregate(r, DefaultPolicy())
	if m.Teams[0].Score != 5 || m.Teams[1].Score != 3 {
		t.Errorf("scores = %d:%d, want the last broadcast 5:3", m.Teams[0].Score, m.Teams[1].Score)
	}
}

func TestAggregateTies(t *testing.T) {
	r := sampleReplay()
	r.Rounds = append(r.Rounds, demo.Round{Start: 1800, End: 2400, Winner: 0})
	m := Aggregate(r, DefaultPolicy())
	if m.Rounds != 4 || m.Ties != 1 {
		t.Errorf("rounds = %d ties = %d, want 4 and 1", m.Rounds, m.Ties)
	}
}

func TestAggregateStreaksAndHighlights(t *testing.T) {
	m := Aggregate(sampleReplay(), DefaultPolicy())

	// wizard: 3 kills, dies at frame 40, kills again — best streak 3.
	if w := player(t, m, "wizard"); w.BestStreak != 3 {
		t.Errorf("wizard streak = %d, want 3", w.BestStreak)
	}
	h := m.Highlights
	if h.BestKillstreak == nil || h.BestKillstreak.Player != "wizard" || h.BestKillstreak.Value != 3 {
		t.Errorf("best killstreak = %+v", h.BestKillstreak)
	}
	if h.MostHeadshots == nil || h.MostHeadshots.Player != "wizard" || h.MostHeadshots.Value != 1 {
		t.Errorf("most headshots = %+v", h.MostHeadshots)
	}
}

func TestAvgBaseDamage(t *testing.T) {
	tests := []struct {
		name    string
		mz      map[uint8]int
		kills   map[string]int
		want    float64
		shotgun bool
	}{
		{"sniper-dominant shots", map[uint8]int{mzSniper: 4, 1: 1}, nil, 250, false},
		{"m3-dominant shots", map[uint8]int{mzM3: 6, 1: 1}, nil, 17, true},
		{"hc-dominant shots", map[uint8]int{mzHC: 5, 1: 1}, nil, 18, true},
		{"too few shots, no kills", map[uint8]int{mzSniper: 3}, nil, 75, false},
		{"m3-dominant kills", nil, map[string]int{"M3": 3, "MK23": 1}, 17, true},
		{"hc-dominant kills", nil, map[string]int{"HC": 2, "MP5": 1}, 18, true},
		{"weighted bullet mix", nil, map[string]int{"MK23": 1, "SR": 1}, 170, false},
		{"grenade weighs zero", nil, map[string]int{"Grenade": 1, "MK23": 1}, 45, false},
		{"unknown weapon weighs fallback", nil, map[string]int{"???": 2}, 75, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, shotgun := avgBaseDamage(tt.mz, tt.kills)
			if math.Abs(got-tt.want) > 1e-9 || shotgun != tt.shotgun {
				t.Errorf("avgBaseDamage = (%v, %v), want (%v, %v)", got, shotgun, tt.want, tt.shotgun)
			}
		})
	}
}

func TestAggregateDamageFromHits(t *testing.T) {
	// Damage accrues per landed hit, kills or not.
	r := &demo.Replay{
		PlayerNames: map[int]string{0: "wizard"},
		PlayerTeams: map[string]int{"wizard": 1},
	}
	for i := 0; i < 40; i++ {
		r.Shots = append(r.Shots, demo.ShotEvent{Frame: i, Client: 0, Weapon: 1})
		r.Hits = append(r.Hits, demo.HitEvent{Frame: i, Attacker: 0, Victim: "slayer", Location: demo.LocChest})
	}
	m := Aggregate(r, DefaultPolicy())
	w := player(t, m, "wizard")
	if w.Kills != 0 {
		t.Fatalf("kills = %d, want 0", w.Kills)
	}
	// No dominant shot code and no kills: fallback base 75 × chest 0.65 × 40.
	if w.EstDamage != 1950 {
		t.Errorf("est damage = %v, want 1950", w.EstDamage)
	}
}

func TestAggregateShotgunDamageFlat(t *testing.T) {
	r := &demo.Replay{
		PlayerNames: map[int]string{0: "slayer"},
		PlayerTeams: map[string]int{"slayer": 2},
		Shots: []demo.ShotEvent{
			{Frame: 1, Client: 0, Weapon: mzM3},
			{Frame: 2, Client: 0, Weapon: mzM3},
			{Frame: 3, Client: 0, Weapon: mzM3},
			{Frame: 4, Client: 0, Weapon: mzM3},
			{Frame: 5, Client: 0, Weapon: mzM3},
			{Frame: 6, Client: 0, Weapon: mzM3},
		},
		Hits: []demo.HitEvent{
			{Frame: 2, Attacker: 0, Victim: "wizard", Location: demo.LocHead},
			{Frame: 4, Attacker: 0, Victim: "wizard", Location: demo.LocLegs},
		},
	}
	m := Aggregate(r, DefaultPolicy())
	s := player(t, m, "slayer")
	// Per-pellet flat 17, no location scaling.
	if s.EstDamage != 34 {
		t.Errorf("est damage = %v, want 34", s.EstDamage)
	}
	if s.AccuracyValid {
		t.Error("shotgun-primary accuracy flagged reliable")
	}
}

func TestAggregateSniperAccuracyValid(t *testing.T) {
	// Sniper shots carry real hit notices; only shotguns poison the
	// hits/shots ratio.
	r := &demo.Replay{
		PlayerNames: map[int]string{0: "Bones"},
		PlayerTeams: map[string]int{"Bones": 1},
		Shots: []demo.ShotEvent{
			{Frame: 1, Client: 0, Weapon: mzSniper},
			{Frame: 2, Client: 0, Weapon: mzSniper},
			{Frame: 3, Client: 0, Weapon: mzSniper},
			{Frame: 4, Client: 0, Weapon: mzSniper},
			{Frame: 5, Client: 0, Weapon: mzSniper},
		},
		Hits: []demo.HitEvent{
			{Frame: 2, Attacker: 0, Victim: "wizard", Location: demo.LocHead},
			{Frame: 5, Attacker: 0, Victim: "wizard", Location: demo.LocHead},
		},
	}
	m := Aggregate(r, DefaultPolicy())
	b := player(t, m, "Bones")
	if !b.AccuracyValid {
		t.Error("sniper-primary accuracy flagged unreliable")
	}
	if math.Abs(b.Accuracy-40) > 1e-9 {
		t.Errorf("accuracy = %v, want 40", b.Accuracy)
	}
	// Sniper-dominant shot mix: base 250 × head 1.8 × 2 hits.
	if b.EstDamage != 900 {
		t.Errorf("est damage = %v, want 900", b.EstDamage)
	}
}

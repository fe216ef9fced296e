package stats

import (
	"math"
	"sort"

	"aq2-replay-viewer/internal/demo"
)

// Wire MZ weapon codes carried by muzzle-flash shot events.
const (
	mzM3     = 2
	mzHC     = 13
	mzSniper = 14
)

// Per-bullet (or per-pellet for M3/HC) base damage by weapon label.
// HC is the average of its single and dual barrel loads. Impact-less
// kills carry zero so weighted mixes stay honest.
var weaponBaseDamage = map[string]float64{
	"MK23":         90,
	"Dual MK23":    90,
	"M4":           90,
	"MP5":          55,
	"SR":           250,
	"M3":           17,
	"HC":           18,
	"Knife":        50,
	"Knife Thrown": 50,
	"Grenade":      0,
	"Kick":         0,
	"Punch":        0,
	"Grapple":      0,
}

// Hit-location damage multipliers (vest-free).
var locationMultiplier = map[string]float64{
	demo.LocHead:    1.8,
	demo.LocChest:   0.65,
	demo.LocStomach: 0.40,
	demo.LocLegs:    0.25,
	demo.LocUnknown: 0.55,
}

const fallbackBaseDamage = 75

// Sample size below which the shot mix says nothing about the weapon.
const weaponInferenceMinShots = 5

// Policy controls the edges of aggregation. The zero value is NOT the
// default; use DefaultPolicy.
type Policy struct {
	// CountTeamKills keeps kills against teammates in the killer's
	// kill column. When false they still count as the victim's death.
	CountTeamKills bool

	// MinShotsForAccuracy is the sample size below which accuracy is
	// reported but not flagged reliable.
	MinShotsForAccuracy int
}

// DefaultPolicy mirrors the in-game scoreboard: team kills count,
// accuracy needs five shots.
func DefaultPolicy() Policy {
	return Policy{CountTeamKills: true, MinShotsForAccuracy: 5}
}

// PlayerStats is the per-player aggregate over one replay.
type PlayerStats struct {
	Name      string `json:"name"`
	Client    int    `json:"client"`
	Team      int    `json:"team"`
	Kills     int    `json:"kills"`
	Deaths    int    `json:"deaths"`
	TeamKills int    `json:"team_kills"`
	Headshots int    `json:"headshots"`

	Shots         int     `json:"shots"`
	Hits          int     `json:"hits"`
	Accuracy      float64 `json:"accuracy"`
	AccuracyValid bool    `json:"accuracy_valid"`

	EstDamage  float64        `json:"est_damage"`
	BestStreak int            `json:"best_streak"`
	Awards     map[string]int `json:"awards,omitempty"`

	WeaponKills   map[string]int `json:"weapon_kills,omitempty"`
	LocationKills map[string]int `json:"location_kills,omitempty"`
	HitLocations  map[string]int `json:"hit_locations,omitempty"`
}

// TeamStats is one team's aggregate. Score comes from round wins and
// is overridden by the last authoritative score broadcast when present.
type TeamStats struct {
	Team   int `json:"team"`
	Score  int `json:"score"`
	Kills  int `json:"kills"`
	Deaths int `json:"deaths"`
}

// Highlight names a player and the value that earned the mention.
type Highlight struct {
	Player string `json:"player"`
	Value  int    `json:"value"`
}

// Highlights are the match callouts the viewer surfaces.
type Highlights struct {
	BestKillstreak *Highlight `json:"best_killstreak,omitempty"`
	MostHeadshots  *Highlight `json:"most_headshots,omitempty"`
	MostDamage     *Highlight `json:"most_damage,omitempty"`
}

// Match is the full aggregate for one replay.
type Match struct {
	Map      string         `json:"map"`
	Duration float64        `json:"duration"`
	Rounds   int            `json:"rounds"`
	Ties     int            `json:"ties"`
	Players  []*PlayerStats `json:"players"`
	Teams    []*TeamStats   `json:"teams"`

	Highlights Highlights `json:"highlights"`
}

// Aggregate folds a decoded replay into match statistics. The replay is
// not modified. Players are ordered by kills descending, then name.
func Aggregate(r *demo.Replay, pol Policy) *Match {
	byName := make(map[string]*PlayerStats)
	nameOf := make(map[int]string, len(r.PlayerNames))
	for client, name := range r.PlayerNames {
		nameOf[client] = name
		byName[name] = &PlayerStats{
			Name:          name,
			Client:        client,
			Team:          r.PlayerTeams[name],
			Awards:        make(map[string]int),
			WeaponKills:   make(map[string]int),
			LocationKills: make(map[string]int),
			HitLocations:  make(map[string]int),
		}
	}
	teams := map[int]*TeamStats{1: {Team: 1}, 2: {Team: 2}}

	streaks := make(map[string]int)
	for _, k := range r.Kills {
		killer, victim := byName[k.Killer], byName[k.Victim]
		if victim != nil {
			victim.Deaths++
			if t := teams[victim.Team]; t != nil {
				t.Deaths++
			}
			streaks[k.Victim] = 0
		}
		if killer == nil {
			continue
		}

		teamKill := victim != nil && killer.Team != 0 && killer.Team == victim.Team
		if teamKill {
			killer.TeamKills++
		}
		if !teamKill || pol.CountTeamKills {
			killer.Kills++
			if t := teams[killer.Team]; t != nil {
				t.Kills++
			}
		}
		if k.Headshot {
			killer.Headshots++
		}
		killer.WeaponKills[k.Weapon]++
		killer.LocationKills[k.Location]++

		streaks[k.Killer]++
		if streaks[k.Killer] > killer.BestStreak {
			killer.BestStreak = streaks[k.Killer]
		}
	}

	// Shots by client, keeping the per-weapon-code mix for the accuracy
	// gate and the damage-model weapon inference.
	mzByName := make(map[string]map[uint8]int)
	for _, s := range r.Shots {
		name, ok := nameOf[s.Client]
		if !ok {
			continue
		}
		byName[name].Shots++
		mz := mzByName[name]
		if mz == nil {
			mz = make(map[uint8]int)
			mzByName[name] = mz
		}
		mz[s.Weapon]++
	}
	for _, h := range r.Hits {
		if name, ok := nameOf[h.Attacker]; ok {
			p := byName[name]
			p.Hits++
			p.HitLocations[h.Location]++
		}
	}
	for _, a := range r.Awards {
		if p, ok := byName[a.Player]; ok {
			n := a.Count
			if n == 0 {
				n = 1
			}
			p.Awards[a.Award] += n
		}
	}

	for name, p := range byName {
		mz := mzByName[name]
		if p.Shots > 0 {
			p.Accuracy = math.Round(float64(p.Hits)/float64(p.Shots)*1000) / 10
			if p.Accuracy > 100 {
				p.Accuracy = 100
			}
		}
		// Shotguns emit no hit notices, so a shotgun-heavy shot mix
		// makes the hits/shots ratio meaningless. Sniper shots carry
		// real notices and stay in.
		shotgunShots := mz[mzM3] + mz[mzHC]
		p.AccuracyValid = p.Shots >= pol.MinShotsForAccuracy &&
			float64(shotgunShots) <= float64(p.Shots)/2

		// Damage accrues per landed hit: the player's inferred average
		// base damage through the location multiplier, flat for
		// shotguns (per-pellet, no location scaling).
		base, shotgun := avgBaseDamage(mz, p.WeaponKills)
		var dmg float64
		for loc, cnt := range p.HitLocations {
			if shotgun {
				dmg += base * float64(cnt)
				continue
			}
			mult, ok := locationMultiplier[loc]
			if !ok {
				mult = locationMultiplier[demo.LocUnknown]
			}
			dmg += base * mult * float64(cnt)
		}
		p.EstDamage = math.Round(dmg)
	}

	scoreTeams(teams, r)

	players := make([]*PlayerStats, 0, len(byName))
	for _, p := range byName {
		players = append(players, p)
	}
	sort.Slice(players, func(i, j int) bool {
		if players[i].Kills != players[j].Kills {
			return players[i].Kills > players[j].Kills
		}
		return players[i].Name < players[j].Name
	})

	ties := 0
	for _, round := range r.Rounds {
		if round.Winner == 0 {
			ties++
		}
	}

	return &Match{
		Map:        r.MapName,
		Duration:   r.Duration,
		Rounds:     len(r.Rounds),
		Ties:       ties,
		Players:    players,
		Teams:      []*TeamStats{teams[1], teams[2]},
		Highlights: highlights(players),
	}
}

// avgBaseDamage infers a player's typical per-shot base damage. A
// dominant (>50%) special shot code settles it outright; otherwise the
// kill-weapon mix decides, weighted-averaged for bullet weapons. The
// bool flags a shotgun primary, whose damage is flat per pellet.
func avgBaseDamage(mz map[uint8]int, weaponKills map[string]int) (float64, bool) {
	totalShots := 0
	for _, n := range mz {
		totalShots += n
	}
	if totalShots >= weaponInferenceMinShots {
		half := float64(totalShots) / 2
		switch {
		case float64(mz[mzM3]) > half:
			return weaponBaseDamage["M3"], true
		case float64(mz[mzHC]) > half:
			return weaponBaseDamage["HC"], true
		case float64(mz[mzSniper]) > half:
			return weaponBaseDamage["SR"], false
		}
	}

	totalKills := 0
	for _, n := range weaponKills {
		totalKills += n
	}
	if totalKills == 0 {
		return fallbackBaseDamage, false
	}
	half := float64(totalKills) / 2
	if float64(weaponKills["M3"]) > half {
		return weaponBaseDamage["M3"], true
	}
	if float64(weaponKills["HC"]) > half {
		return weaponBaseDamage["HC"], true
	}
	var weighted float64
	for w, n := range weaponKills {
		base, ok := weaponBaseDamage[w]
		if !ok {
			base = fallbackBaseDamage
		}
		weighted += base * float64(n)
	}
	return weighted / float64(totalKills), false
}

// scoreTeams derives team scores from round winners, then applies the
// last authoritative score broadcast on top.
func scoreTeams(teams map[int]*TeamStats, r *demo.Replay) {
	for _, round := range r.Rounds {
		if t := teams[round.Winner]; t != nil {
			t.Score++
		}
	}
	for i := len(r.Notices) - 1; i >= 0; i-- {
		n := r.Notices[i]
		if n.Type != demo.NoticeScore {
			continue
		}
		if t := teams[n.Team1]; t != nil {
			t.Score = n.Score1
		}
		if t := teams[n.Team2]; t != nil {
			t.Score = n.Score2
		}
		break
	}
}

func highlights(players []*PlayerStats) Highlights {
	var h Highlights
	for _, p := range players {
		if p.BestStreak > 0 && (h.BestKillstreak == nil || p.BestStreak > h.BestKillstreak.Value) {
			h.BestKillstreak = &Highlight{Player: p.Name, Value: p.BestStreak}
		}
		if p.Headshots > 0 && (h.MostHeadshots == nil || p.Headshots > h.MostHeadshots.Value) {
			h.MostHeadshots = &Highlight{Player: p.Name, Value: p.Headshots}
		}
		if dmg := int(p.EstDamage); dmg > 0 && (h.MostDamage == nil || dmg > h.MostDamage.Value) {
			h.MostDamage = &Highlight{Player: p.Name, Value: dmg}
		}
	}
	return h
}

package demo

import "testing"

func TestParseKillMessage(t *testing.T) {
	names := []string{"wizard", "slayer", "Bones"}

	tests := []struct {
		name string
		text string
		want killNotice
	}{
		{
			"mk23 chest",
			"slayer has a hole in his chest organ donor card from wizard's Mark 23",
			killNotice{Killer: "wizard", Victim: "slayer", Location: LocChest, Weapon: "MK23"},
		},
		{
			"sniper eyes",
			"Bones caught a sniper bullet between the eyes from slayer",
			killNotice{Killer: "slayer", Victim: "Bones", Location: LocHead, Weapon: "SR"},
		},
		{
			"m3 buckshot",
			"wizard is full of buckshot from slayer's M3 Super 90",
			killNotice{Killer: "slayer", Victim: "wizard", Location: LocChest, Weapon: "M3"},
		},
		{
			"handcannon before buckshot",
			"slayer ate wizard's sawed off buckshot special",
			killNotice{Killer: "wizard", Victim: "slayer", Location: LocUnknown, Weapon: "HC"},
		},
		{
			"akimbo trepanned",
			"Bones was trepanned by wizard's akimbo Mark 23 pistols",
			killNotice{Killer: "wizard", Victim: "Bones", Location: LocHead, Weapon: "Dual MK23"},
		},
		{
			"knife stomach",
			"wizard was gutted by slayer's Combat Knife",
			killNotice{Killer: "slayer", Victim: "wizard", Location: LocStomach, Weapon: "Knife"},
		},
		{
			"thrown knife",
			"slayer caught wizard's flying knife with his throat",
			killNotice{Killer: "wizard", Victim: "slayer", Location: LocHead, Weapon: "Knife Thrown"},
		},
		{
			"kick",
			"Bones got his ass kicked by wizard",
			killNotice{Killer: "wizard", Victim: "Bones", Location: LocUnknown, Weapon: "Kick"},
		},
		{
			"legs sniped",
			"wizard was shot in the legs by slayer",
			killNotice{Killer: "slayer", Victim: "wizard", Location: LocLegs, Weapon: "SR"},
		},
		{
			"grenade",
			"slayer caught wizard's grenade with his teeth",
			killNotice{Killer: "wizard", Victim: "slayer", Location: LocUnknown, Weapon: "Grenade"},
		},
		{
			"mp5",
			"Bones was cut in half by slayer's MP5 burst",
			killNotice{Killer: "slayer", Victim: "Bones", Location: LocUnknown, Weapon: "MP5"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := parseKillMessage(tt.text, names)
			if !ok {
				t.Fatalf("no match for %q", tt.text)
			}
			if got != tt.want {
				t.Errorf("parseKillMessage(%q)\n got %+v\nwant %+v", tt.text, got, tt.want)
			}
		})
	}
}

func TestParseKillMessageRejects(t *testing.T) {
	names := []string{"wizard", "slayer"}
	for _, text := range []string{
		"wizard joined Team 1",               // no killer name after the victim
		"somebody was gutted by a stranger",  // neither name known
		"You hit slayer in the chest",        // hit notice, not a kill
		"",
	} {
		if _, ok := parseKillMessage(text, names); ok {
			t.Errorf("parseKillMessage(%q) matched, want reject", text)
		}
	}
	// Need at least two known players for a kill to make sense.
	if _, ok := parseKillMessage("wizard was gutted by slayer", []string{"wizard"}); ok {
		t.Error("matched with a single known player")
	}
}

func TestParseAward(t *testing.T) {
	tests := []struct {
		text   string
		player string
		award  string
		count  int
		ok     bool
	}{
		{"IMPRESSIVE wizard!", "wizard", "Impressive", 1, true},
		{"ACCURACY slayer!", "slayer", "Accuracy", 1, true},
		{"EXCELLENT wizard (4x)!", "wizard", "Excellent", 4, true},
		{"wizard is on fire!", "", "", 0, false},
		{"IMPRESSIVE", "", "", 0, false},
	}
	for _, tt := range tests {
		player, award, count, ok := parseAward(tt.text)
		if ok != tt.ok || player != tt.player || award != tt.award || count != tt.count {
			t.Errorf("parseAward(%q) = %q %q %d %v, want %q %q %d %v",
				tt.text, player, award, count, ok, tt.player, tt.award, tt.count, tt.ok)
		}
	}
}

func TestParseHitLocation(t *testing.T) {
	tests := map[string]string{
		"head":    LocHead,
		"chest":   LocChest,
		"body":    LocChest,
		"stomach": LocStomach,
		"legs":    LocLegs,
		"leg":     LocLegs,
		"spleen":  LocUnknown,
	}
	for part, want := range tests {
		if got := parseHitLocation(part); got != want {
			t.Errorf("parseHitLocation(%q) = %q, want %q", part, got, want)
		}
	}
}

func TestTeamNumber(t *testing.T) {
	if got := teamNumber("Team 2"); got != 2 {
		t.Errorf("teamNumber(Team 2) = %d", got)
	}
	if got := teamNumber("spectators"); got != 0 {
		t.Errorf("teamNumber(spectators) = %d", got)
	}
}

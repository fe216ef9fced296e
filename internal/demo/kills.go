package demo

import (
	"regexp"
	"strconv"
	"strings"
)

// Hit locations as canonical labels.
const (
	LocHead    = "head"
	LocChest   = "chest"
	LocStomach = "stomach"
	LocLegs    = "legs"
	LocUnknown = "unknown"
)

// Hit-location tokens found in death messages.
var (
	locHeadKeys = []string{
		"eyes", "makeover", "brains", "trepanned", "throat",
		"hole in his head", "hole in her head", "hole in its head",
		"scope", "forehead", "caught a sniper bullet",
	}
	locStomachKeys = []string{
		"stomach", "upset stomach", "lunch", "pepto",
		"gutted", "contents of", "kidneys", "sniped in the stomach",
	}
	locLegsKeys = []string{
		"legs", "legless", "shorter",
		"legs blown off", "legs cut off", "shot in the legs",
	}
	locChestKeys = []string{
		"heart burn", "heart surgery", "chest pain",
		"ribs", "open heart", "picked off",
		"chest organ", "vital organ",
		"full of buckshot", "hole-y matrimony", "john woo",
	}
)

var (
	youHitRE     = regexp.MustCompile(`(?i)^You hit (.+?) in the (\w+)`)
	impressiveRE = regexp.MustCompile(`^IMPRESSIVE (.+?)!$`)
	accuracyRE   = regexp.MustCompile(`^ACCURACY (.+?)!$`)
	excellentRE  = regexp.MustCompile(`^EXCELLENT (.+?) \((\d+)x\)!$`)
	roundWinRE   = regexp.MustCompile(`(?i)^(Team \d+) won!`)
	tieRE        = regexp.MustCompile(`(?i)it was a tie`)
	currScoreRE  = regexp.MustCompile(`(?i)Current score is (Team \d+): (\d+) to (Team \d+): (\d+)`)
	teamNumRE    = regexp.MustCompile(`(\d+)`)
)

func inferLocation(text string) string {
	t := strings.ToLower(text)
	if containsAny(t, locHeadKeys) {
		return LocHead
	}
	if containsAny(t, locStomachKeys) {
		return LocStomach
	}
	if containsAny(t, locLegsKeys) {
		return LocLegs
	}
	if containsAny(t, locChestKeys) {
		return LocChest
	}
	return LocUnknown
}

// inferWeapon maps a death message to a weapon label. Order matters:
// HC must precede the generic 'buckshot' check, akimbo/Dual must
// precede 'Mark 23' and the sniper heuristics.
func inferWeapon(text string) string {
	if strings.Contains(text, "M4 Assault Rifle") {
		return "M4"
	}
	if strings.Contains(text, "M3 Super 90") {
		return "M3"
	}
	t := strings.ToLower(text)
	if strings.Contains(t, "hole-y matrimony") {
		return "M3" // M3 random message 1
	}
	if strings.Contains(t, "handcannon") || strings.Contains(t, "sawed") ||
		strings.Contains(t, "minch") || strings.Contains(t, "metal detector") {
		return "HC"
	}
	if strings.Contains(t, "buckshot") {
		return "M3" // M3 random message 2 (HC caught above)
	}
	if strings.Contains(text, "sniper bullet") {
		return "SR"
	}
	if strings.Contains(text, "MP5") {
		return "MP5"
	}
	if strings.Contains(text, "akimbo") || strings.Contains(t, "trepanned") ||
		strings.Contains(t, "john woo") || strings.Contains(t, "pair of mark 23") {
		return "Dual MK23"
	}
	if strings.Contains(text, "Mark 23") || strings.Contains(text, "pistol round") {
		return "MK23"
	}
	if strings.Contains(text, "flying knife") {
		return "Knife Thrown"
	}
	if strings.Contains(text, "Combat Knife") || strings.Contains(t, "throat slit") ||
		strings.Contains(t, "gutted") || strings.Contains(t, "open heart surgery") ||
		strings.Contains(t, "stabbed") || strings.Contains(t, "slashed") {
		return "Knife"
	}
	if strings.Contains(t, "grenade") {
		return "Grenade"
	}
	// Sniper heuristics — only when no explicit weapon suffix matched.
	if strings.Contains(t, "sniped") || strings.Contains(t, "picked off") ||
		strings.Contains(t, "shot in the legs") {
		return "SR"
	}
	if strings.Contains(t, "boot") || strings.Contains(t, "ass kicked") ||
		strings.Contains(t, "bruce lee") || strings.Contains(t, "taught how to fly") {
		return "Kick"
	}
	if strings.Contains(t, "facelift") || strings.Contains(t, "knocked out") ||
		strings.Contains(text, "iron fist") {
		return "Punch"
	}
	if strings.Contains(t, "grapple") {
		return "Grapple"
	}
	return "unknown"
}

// killNotice is a parsed PRINT_MEDIUM death message.
type killNotice struct {
	Killer   string
	Victim   string
	Location string
	Weapon   string
}

// parseKillMessage matches a death message against the known player
// names. The wire format is "<victim><middle> <killer><suffix>", so the
// victim name must prefix the text and the killer appear later.
func parseKillMessage(text string, names []string) (killNotice, bool) {
	if len(names) < 2 {
		return killNotice{}, false
	}
	text = strings.TrimSpace(text)
	for _, victim := range names {
		if !strings.HasPrefix(text, victim+" ") && !strings.HasPrefix(text, victim+"'") {
			continue
		}
		rest := text[len(victim):]
		for _, killer := range names {
			if killer == victim {
				continue
			}
			if strings.Contains(rest, " "+killer) ||
				strings.Contains(rest, " "+killer+".") ||
				strings.HasSuffix(rest, " "+killer) {
				return killNotice{
					Killer:   killer,
					Victim:   victim,
					Location: inferLocation(rest),
					Weapon:   inferWeapon(text),
				}, true
			}
		}
	}
	return killNotice{}, false
}

// parseHitLocation maps the body-part token of a "You hit X in the Y"
// message to a canonical location.
func parseHitLocation(part string) string {
	p := strings.ToLower(part)
	switch {
	case strings.Contains(p, "leg"):
		return LocLegs
	case strings.Contains(p, "stomach"):
		return LocStomach
	case strings.Contains(p, "body"):
		return LocChest // LOC_CDAM fallback
	case strings.Contains(p, "head"):
		return LocHead
	case strings.Contains(p, "chest"):
		return LocChest
	default:
		return LocUnknown
	}
}

// parseAward matches a centerprint against the award announcement
// patterns. Count is 1 except for EXCELLENT which carries a multiplier.
func parseAward(text string) (player, award string, count int, ok bool) {
	t := strings.TrimSpace(text)
	if m := impressiveRE.FindStringSubmatch(t); m != nil {
		return m[1], "Impressive", 1, true
	}
	if m := accuracyRE.FindStringSubmatch(t); m != nil {
		return m[1], "Accuracy", 1, true
	}
	if m := excellentRE.FindStringSubmatch(t); m != nil {
		n, _ := strconv.Atoi(m[2])
		return m[1], "Excellent", n, true
	}
	return "", "", 0, false
}

// teamNumber extracts the numeric team id from a "Team N" label.
func teamNumber(name string) int {
	m := teamNumRE.FindString(name)
	if m == "" {
		return 0
	}
	n, _ := strconv.Atoi(m)
	return n
}

func containsAny(haystack string, keys []string) bool {
	for _, k := range keys {
		if strings.Contains(haystack, k) {
			return true
		}
	}
	return false
}

package forum

import (
	"strings"
	"time"
)

// expansion is one dated slice of the game's release history.
type expansion struct {
	name    string
	start   time.Time
	end     time.Time // zero means still current
	patches []patch
}

type patch struct {
	version  string
	released time.Time
}

func day(value string) time.Time {
	t, err := time.Parse("2006-01-02", value)
	if err != nil {
		panic("bad patch date: " + value)
	}
	return t
}

// Ordered oldest to newest so the first containing range wins.
var retailExpansions = []expansion{
	{
		name:  "Battle for Azeroth",
		start: day("2018-08-14"),
		end:   day("2020-11-23"),
		patches: []patch{
			{"8.0.1", day("2018-07-17")},
			{"8.1.0", day("2018-12-11")},
			{"8.1.5", day("2019-03-12")},
			{"8.2.0", day("2019-06-25")},
			{"8.2.5", day("2019-09-24")},
			{"8.3.0", day("2020-01-14")},
			{"8.3.7", day("2020-07-21")},
		},
	},
	{
		name:  "Shadowlands",
		start: day("2020-11-23"),
		end:   day("2022-10-25"),
		patches: []patch{
			{"9.0.1", day("2020-10-13")},
			{"9.0.2", day("2020-11-17")},
			{"9.1.0", day("2021-06-29")},
			{"9.1.5", day("2021-11-02")},
			{"9.2.0", day("2022-02-22")},
			{"9.2.5", day("2022-05-31")},
			{"9.2.7", day("2022-08-16")},
		},
	},
	{
		name:  "Dragonflight",
		start: day("2022-10-25"),
		end:   day("2024-07-30"),
		patches: []patch{
			{"10.0.0", day("2022-10-25")},
			{"10.0.2", day("2022-11-15")},
			{"10.0.5", day("2023-01-24")},
			{"10.0.7", day("2023-03-21")},
			{"10.1.0", day("2023-05-02")},
			{"10.1.5", day("2023-07-11")},
			{"10.1.7", day("2023-09-05")},
			{"10.2.0", day("2023-11-07")},
			{"10.2.5", day("2024-01-16")},
			{"10.2.6", day("2024-03-19")},
			{"10.2.7", day("2024-05-02")},
		},
	},
	{
		name:  "The War Within",
		start: day("2024-07-30"),
		patches: []patch{
			{"11.0.0", day("2024-07-30")},
			{"11.0.2", day("2024-08-26")},
			{"11.0.5", day("2024-10-22")},
			{"11.0.7", day("2024-12-17")},
			{"11.1.0", day("2025-02-25")},
			{"11.1.5", day("2025-04-22")},
		},
	},
}

var classicExpansions = map[string]expansion{
	"Classic Era": {
		name:    "Classic Era",
		start:   day("2017-11-03"),
		patches: []patch{{"1.13.2", day("2019-08-27")}},
	},
	"Hardcore": {
		name:    "Hardcore",
		start:   day("2023-08-24"),
		patches: []patch{{"1.14.5", day("2023-08-24")}},
	},
	"Season of Discovery": {
		name:    "Season of Discovery",
		start:   day("2023-11-30"),
		patches: []patch{{"1.15.0", day("2023-11-30")}},
	},
	"The Burning Crusade Classic": {
		name:    "The Burning Crusade Classic",
		start:   day("2021-06-01"),
		end:     day("2022-09-25"),
		patches: []patch{{"2.5.1", day("2021-06-01")}},
	},
	"Wrath of the Lich King Classic": {
		name:    "Wrath of the Lich King Classic",
		start:   day("2022-09-26"),
		end:     day("2024-05-19"),
		patches: []patch{{"3.4.0", day("2022-09-26")}},
	},
	"Cataclysm Classic": {
		name:    "Cataclysm Classic",
		start:   day("2024-05-20"),
		patches: []patch{{"4.3.4", day("2024-05-20")}},
	},
}

// forumExpansionMap narrows which classic expansions a forum can belong to,
// keyed by a lowercase substring of the forum name.
var forumExpansionMap = map[string][]string{
	"cataclysm classic discussion": {
		"The Burning Crusade Classic",
		"Wrath of the Lich King Classic",
		"Cataclysm Classic",
	},
	"wow classic general discussion": {"Classic Era"},
	"season of discovery":            {"Season of Discovery"},
	"hardcore":                       {"Hardcore"},
}

// GameVersion classifies a forum as classic or retail by its name.
func GameVersion(forumName string) string {
	fn := strings.ToLower(forumName)
	if strings.Contains(fn, "classic") || strings.Contains(fn, "season of discovery") {
		return "classic"
	}
	return "retail"
}

// ClassifyPost determines the game version, expansion, and patch a post
// belongs to based on its forum and creation date. Unmatchable posts come
// back as "Unknown".
func ClassifyPost(forumName string, createdAt time.Time) (gameVersion, expansionName, patchVersion string) {
	gameVersion = GameVersion(forumName)
	if gameVersion == "classic" {
		expansionName, patchVersion = classifyClassic(forumName, createdAt)
		return
	}
	expansionName, patchVersion = classifyRetail(createdAt)
	return
}

func classifyRetail(createdAt time.Time) (string, string) {
	for _, exp := range retailExpansions {
		if inRange(createdAt, exp.start, exp.end) {
			return exp.name, exp.patches[0].version
		}
	}
	return "Unknown", "Unknown"
}

func classifyClassic(forumName string, createdAt time.Time) (string, string) {
	fn := strings.ToLower(forumName)
	for pattern, names := range forumExpansionMap {
		if !strings.Contains(fn, pattern) {
			continue
		}
		for _, name := range names {
			exp, ok := classicExpansions[name]
			if !ok {
				continue
			}
			if inRange(createdAt, exp.start, exp.end) {
				return exp.name, exp.patches[0].version
			}
		}
	}
	return "Unknown", "Unknown"
}

func inRange(t, start, end time.Time) bool {
	if t.Before(start) {
		return false
	}
	return end.IsZero() || !t.After(end)
}

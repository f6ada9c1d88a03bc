package engine

import (
	"strconv"
	"strings"

	"github.com/minnowchess/minnow/internal"
)

// Info is one "info" line reported by the engine during search.
type Info struct {
	Depth   int
	MultiPV int
	Score   internal.Score
	Nodes   uint64
	NPS     uint32
	TimeMS  uint64
	PV      []string
}

// parseInfo parses an engine "info" line. Lines that are not info lines, or
// that carry no search payload (e.g. "info string ..."), return false.
func parseInfo(line string) (Info, bool) {
	fields := strings.Fields(line)
	if len(fields) < 2 || fields[0] != "info" {
		return Info{}, false
	}

	var info Info
	var payload bool

	for i := 1; i < len(fields); i++ {
		switch fields[i] {
		case "string":
			// Free-form engine chatter, not a search report.
			return Info{}, false
		case "depth":
			if i+1 < len(fields) {
				info.Depth, _ = strconv.Atoi(fields[i+1])
				payload = true
				i++
			}
		case "multipv":
			if i+1 < len(fields) {
				info.MultiPV, _ = strconv.Atoi(fields[i+1])
				i++
			}
		case "score":
			if i+2 < len(fields) {
				value, err := strconv.Atoi(fields[i+2])
				if err == nil {
					switch fields[i+1] {
					case "cp":
						info.Score.Cp = &value
						payload = true
					case "mate":
						info.Score.Mate = &value
						payload = true
					}
				}
				i += 2
			}
		case "nodes":
			if i+1 < len(fields) {
				info.Nodes, _ = strconv.ParseUint(fields[i+1], 10, 64)
				i++
			}
		case "nps":
			if i+1 < len(fields) {
				nps, _ := strconv.ParseUint(fields[i+1], 10, 32)
				info.NPS = uint32(nps)
				i++
			}
		case "time":
			if i+1 < len(fields) {
				info.TimeMS, _ = strconv.ParseUint(fields[i+1], 10, 64)
				i++
			}
		case "pv":
			info.PV = append([]string(nil), fields[i+1:]...)
			payload = true
			i = len(fields)
		}
	}

	return info, payload
}

// parseBestMove parses a "bestmove" line. The engine reports "(none)" when
// the position is already decided.
func parseBestMove(line string) (string, bool) {
	fields := strings.Fields(line)
	if len(fields) < 2 || fields[0] != "bestmove" {
		return "", false
	}
	if fields[1] == "(none)" {
		return "", true
	}
	return fields[1], true
}

// Strength maps a play level (1-8) onto engine settings. The tables trade
// skill, depth, and time the way the upstream server expects for each level.
type Strength struct {
	Skill      int
	Depth      int
	MoveTimeMS int
}

var strengthByLevel = [8]Strength{
	{Skill: -9, Depth: 5, MoveTimeMS: 50},
	{Skill: -5, Depth: 5, MoveTimeMS: 100},
	{Skill: -1, Depth: 5, MoveTimeMS: 150},
	{Skill: 3, Depth: 5, MoveTimeMS: 200},
	{Skill: 7, Depth: 5, MoveTimeMS: 300},
	{Skill: 11, Depth: 8, MoveTimeMS: 400},
	{Skill: 16, Depth: 13, MoveTimeMS: 500},
	{Skill: 20, Depth: 22, MoveTimeMS: 1000},
}

// StrengthForLevel clamps level into 1-8 and returns the play settings.
func StrengthForLevel(level int) Strength {
	if level < 1 {
		level = 1
	}
	if level > 8 {
		level = 8
	}
	return strengthByLevel[level-1]
}

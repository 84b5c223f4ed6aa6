// Package command turns advisory text into structured flight commands and
// executes them against the actuator. Parsing is a pure ordered-rule match;
// execution is a small Idle/Executing state machine that issues at most one
// actuator motion per command.
package command

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/signalsfoundry/skytrack/model"
)

// The rule set mirrors the phrasing the advisory prompt asks for. Each rule
// accepts both the Chinese form and an English equivalent; rules are tried
// in order and the first match wins, so a text naming a target id never
// falls through to the hover rule even when it also says 悬停.
var (
	reTargetZH = regexp.MustCompile(`飞向ID\s*(\d+)`)
	reTargetEN = regexp.MustCompile(`(?i)fly to(?:wards?)? ID\s*(\d+)`)

	reAwayZH = regexp.MustCompile(`远离([\p{Han}\w]+)`)
	reAwayEN = regexp.MustCompile(`(?i)move away from\s+(\w+)`)

	reHoldAltZH = regexp.MustCompile(`保持(\d+(?:\.\d+)?)米高度`)
	reHoldAltEN = regexp.MustCompile(`(?i)hold altitude at\s+(\d+(?:\.\d+)?)\s*met(?:er|re)s?`)

	reAdjustZH = regexp.MustCompile(`(上升|下降)\s*(\d+(?:\.\d+)?)\s*米`)
	reAdjustEN = regexp.MustCompile(`(?i)\b(ascend|descend)\s+(\d+(?:\.\d+)?)\s*met(?:er|re)s?`)

	reHoverZH = regexp.MustCompile(`悬停`)
	reHoverEN = regexp.MustCompile(`(?i)\bhover\b`)
)

// Parse extracts the first flight command the advisory text contains, or nil
// when it contains none. A rule whose numeric capture does not parse as a
// non-negative decimal is treated as not matching; the text falls through to
// the later rules rather than producing an error.
func Parse(text string) model.Command {
	if m := firstMatch(text, reTargetZH, reTargetEN); m != nil {
		if id, err := strconv.Atoi(m[1]); err == nil {
			return model.MoveToTarget{TargetID: id}
		}
	}

	if m := firstMatch(text, reAwayZH, reAwayEN); m != nil {
		return model.MoveAway{TargetLabel: m[1]}
	}

	if m := firstMatch(text, reHoldAltZH, reHoldAltEN); m != nil {
		if alt, ok := parseMeters(m[1]); ok {
			return model.SetAltitude{AltitudeM: alt}
		}
	}

	if m := firstMatch(text, reAdjustZH, reAdjustEN); m != nil {
		if delta, ok := parseMeters(m[2]); ok {
			return model.AdjustAltitude{Direction: verticalDirection(m[1]), DeltaM: delta}
		}
	}

	if reHoverZH.MatchString(text) || reHoverEN.MatchString(text) {
		return model.Hover{}
	}

	return nil
}

func firstMatch(text string, res ...*regexp.Regexp) []string {
	for _, re := range res {
		if m := re.FindStringSubmatch(text); m != nil {
			return m
		}
	}
	return nil
}

func parseMeters(capture string) (float64, bool) {
	v, err := strconv.ParseFloat(capture, 64)
	if err != nil || v < 0 {
		return 0, false
	}
	return v, true
}

func verticalDirection(word string) model.VerticalDirection {
	if word == "上升" || strings.EqualFold(word, "ascend") {
		return model.Ascend
	}
	return model.Descend
}

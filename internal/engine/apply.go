// SPDX-License-Identifier: MIT

package engine

import (
	"github.com/google/uuid"

	"github.com/cruxlive/cruxd/internal/command"
)

// Outcome is the result of applying one command to a box state.
type Outcome struct {
	// Echo is the payload broadcast to subscribers, nil when nothing
	// changed and nothing needs echoing.
	Echo map[string]any
	// SnapshotRequired signals that an authoritative STATE_SNAPSHOT must
	// follow the echo.
	SnapshotRequired bool
	// Mutated reports whether the state actually changed.
	Mutated bool
	// Reason is set when an accepted command had no effect.
	Reason string
}

// versionExempt lists command types that never bump boxVersion.
var versionExempt = map[string]struct{}{
	command.TypeInitRoute:    {},
	command.TypeTimerSync:    {},
	command.TypeRequestState: {},
}

// Apply runs the state machine for one validated command. The caller must
// hold the box lock. nowMs is the authoritative wall clock in epoch
// milliseconds; serverTimer selects the server-side countdown (when false,
// clients keep their own clocks and TIMER_SYNC is honored while running).
func Apply(s *State, cmd *command.Command, nowMs int64, serverTimer bool) Outcome {
	out := apply(s, cmd, nowMs, serverTimer)
	if out.Mutated {
		if _, exempt := versionExempt[cmd.Type]; !exempt {
			s.BoxVersion++
		}
	}
	return out
}

func apply(s *State, cmd *command.Command, nowMs int64, serverTimer bool) Outcome {
	switch cmd.Type {
	case command.TypeInitRoute:
		return applyInitRoute(s, cmd)

	case command.TypeStartTimer, command.TypeResumeTimer:
		if s.TimerState == TimerRunning {
			return Outcome{Reason: "timer_already_running"}
		}
		s.startCountdown(nowMs, serverTimer)
		return Outcome{
			Mutated: true,
			Echo: echo(cmd, map[string]any{
				"timerState":    s.TimerState,
				"timerEndsAtMs": s.TimerEndsAtMs,
				"started":       s.Started,
			}),
		}

	case command.TypeStopTimer:
		if s.TimerState != TimerRunning {
			return Outcome{Reason: "timer_not_running"}
		}
		s.pauseCountdown(nowMs)
		return Outcome{
			Mutated: true,
			Echo: echo(cmd, map[string]any{
				"timerState":        s.TimerState,
				"timerRemainingSec": s.TimerRemainingSec,
				"started":           s.Started,
			}),
		}

	case command.TypeSetTimerPreset:
		if s.TimerState != TimerIdle {
			return Outcome{Reason: "timer_active"}
		}
		sec, _ := command.PresetSeconds(cmd.TimerPreset)
		s.setPreset(cmd.TimerPreset, sec)
		return Outcome{
			Mutated: true,
			Echo: echo(cmd, map[string]any{
				"timerPreset":       s.TimerPreset,
				"timerPresetSec":    s.TimerPresetSec,
				"timerRemainingSec": s.TimerRemainingSec,
			}),
		}

	case command.TypeTimerSync:
		if s.TimerState == TimerRunning && serverTimer {
			// never let a client extend a running countdown
			return Outcome{Reason: "timer_running"}
		}
		r := *cmd.Remaining
		s.TimerRemainingSec = &r
		s.LegacyRemaining = nil
		return Outcome{
			Mutated: true,
			Echo: echo(cmd, map[string]any{
				"timerRemainingSec": s.TimerRemainingSec,
			}),
		}

	case command.TypeResetPartial:
		return applyResetPartial(s, cmd)

	case command.TypeRegisterTime:
		if cmd.RegisteredTime == nil {
			// null must not overwrite the stored value
			return Outcome{Reason: "null_registered_time"}
		}
		v := *cmd.RegisteredTime
		s.LastRegisteredTime = &v
		return Outcome{
			Mutated: true,
			Echo: echo(cmd, map[string]any{
				"registeredTime":     v,
				"lastRegisteredTime": v,
			}),
		}

	case command.TypeProgressUpdate:
		next := s.HoldCount + *cmd.Delta
		if next < 0 {
			next = 0
		}
		if limit := float64(s.HoldsCount); next > limit {
			next = limit
		}
		s.HoldCount = next
		return Outcome{
			Mutated: true,
			Echo: echo(cmd, map[string]any{
				"holdCount": s.HoldCount,
			}),
		}

	case command.TypeSubmitScore:
		return applySubmitScore(s, cmd)

	case command.TypeSetTimeCriterion:
		s.TimeCriterionEnabled = *cmd.TimeCriterionEnabled
		return Outcome{
			Mutated: true,
			Echo: echo(cmd, map[string]any{
				"timeCriterionEnabled": s.TimeCriterionEnabled,
			}),
		}

	case command.TypeResetBox:
		applyResetBox(s)
		return Outcome{
			Mutated:          true,
			SnapshotRequired: true,
			Echo:             echo(cmd, nil),
		}

	case command.TypeRequestState:
		return Outcome{SnapshotRequired: true}
	}

	return Outcome{Reason: "unknown_type"}
}

func applyInitRoute(s *State, cmd *command.Command) Outcome {
	routeIndex := *cmd.RouteIndex
	sameRoute := s.Initiated && s.RouteIndex == routeIndex

	s.RouteIndex = routeIndex
	s.HoldsCount = *cmd.HoldsCount
	if cmd.HoldsCounts != nil {
		s.HoldsCounts = append([]int(nil), cmd.HoldsCounts...)
	}
	switch {
	case cmd.RoutesCount != nil:
		s.RoutesCount = *cmd.RoutesCount
	case len(s.HoldsCounts) > 0:
		s.RoutesCount = len(s.HoldsCounts)
	}
	// routeIndex must stay within routesCount even when a short holdsCounts
	// list drives the count
	if s.RoutesCount < routeIndex {
		s.RoutesCount = routeIndex
	}
	if cmd.Categorie != "" {
		s.Categorie = cmd.Categorie
	}

	s.Competitors = make([]Competitor, 0, len(cmd.Competitors))
	for _, c := range cmd.Competitors {
		s.Competitors = append(s.Competitors, Competitor{
			Name:     c.Name,
			Club:     c.Club,
			Bib:      c.Bib,
			Category: c.Category,
		})
	}
	if len(s.Competitors) > 0 {
		s.CurrentClimber = s.Competitors[0].Name
	} else {
		s.CurrentClimber = ""
	}

	s.Initiated = true
	s.HoldCount = 0
	if !sameRoute {
		s.Scores = map[string][]*float64{}
		s.Times = map[string][]*float64{}
	}
	if s.SessionID == "" {
		s.SessionID = uuid.NewString()
	}

	if cmd.TimerPreset != "" {
		sec, _ := command.PresetSeconds(cmd.TimerPreset)
		s.TimerPreset = cmd.TimerPreset
		s.TimerPresetSec = &sec
	}
	s.resetCountdown()

	return Outcome{
		Mutated:          true,
		SnapshotRequired: true,
		Echo: echo(cmd, map[string]any{
			"routeIndex":     s.RouteIndex,
			"holdsCount":     s.HoldsCount,
			"categorie":      s.Categorie,
			"currentClimber": s.CurrentClimber,
		}),
	}
}

func applyResetPartial(s *State, cmd *command.Command) Outcome {
	resetTimer := cmd.ResetTimer != nil && *cmd.ResetTimer
	clearProgress := cmd.ClearProgress != nil && *cmd.ClearProgress
	unmarkAll := cmd.UnmarkAll != nil && *cmd.UnmarkAll

	if !resetTimer && !clearProgress && !unmarkAll {
		return Outcome{Reason: "no_reset_flags"}
	}

	if unmarkAll {
		for i := range s.Competitors {
			s.Competitors[i].Marked = false
		}
		if len(s.Competitors) > 0 {
			s.CurrentClimber = s.Competitors[0].Name
		} else {
			s.CurrentClimber = ""
		}
	}
	if clearProgress {
		s.HoldCount = 0
	}
	if resetTimer || unmarkAll {
		s.resetCountdown()
	}

	return Outcome{
		Mutated:          true,
		SnapshotRequired: true,
		Echo: echo(cmd, map[string]any{
			"resetTimer":    resetTimer,
			"clearProgress": clearProgress,
			"unmarkAll":     unmarkAll,
		}),
	}
}

func applySubmitScore(s *State, cmd *command.Command) Outcome {
	idx := -1
	if cmd.Competitor != "" {
		idx = s.competitorIndex(cmd.Competitor)
	} else if cmd.CompetitorIdx != nil && *cmd.CompetitorIdx < len(s.Competitors) {
		idx = *cmd.CompetitorIdx
	}
	if idx < 0 {
		return Outcome{Reason: "competitor_not_found"}
	}

	name := s.Competitors[idx].Name
	route := s.RouteIndex - 1

	score := *cmd.Score
	s.Scores[name] = padSeries(s.Scores[name], route+1)
	s.Scores[name][route] = &score

	regTime := cmd.RegisteredTime
	if regTime == nil {
		regTime = s.LastRegisteredTime
	}
	s.Times[name] = padSeries(s.Times[name], route+1)
	if regTime != nil {
		v := *regTime
		s.Times[name][route] = &v
	} else {
		s.Times[name][route] = nil
	}

	s.Competitors[idx].Marked = true
	s.CurrentClimber = s.nextUnmarked(idx)
	s.HoldCount = 0
	s.resetCountdown()

	return Outcome{
		Mutated:          true,
		SnapshotRequired: true,
		Echo: echo(cmd, map[string]any{
			"competitor":     name,
			"score":          score,
			"currentClimber": s.CurrentClimber,
			"holdCount":      s.HoldCount,
			"timerState":     s.TimerState,
		}),
	}
}

func applyResetBox(s *State) {
	route := s.RouteIndex - 1
	for name, row := range s.Scores {
		if route < len(row) {
			row[route] = nil
			s.Scores[name] = row
		}
	}
	for name, row := range s.Times {
		if route < len(row) {
			row[route] = nil
			s.Times[name] = row
		}
	}
	for i := range s.Competitors {
		s.Competitors[i].Marked = false
	}
	if len(s.Competitors) > 0 {
		s.CurrentClimber = s.Competitors[0].Name
	} else {
		s.CurrentClimber = ""
	}
	s.HoldCount = 0
	s.resetCountdown()
}

func padSeries(row []*float64, n int) []*float64 {
	for len(row) < n {
		row = append(row, nil)
	}
	return row
}

func echo(cmd *command.Command, fields map[string]any) map[string]any {
	out := map[string]any{"type": cmd.Type, "boxId": cmd.BoxID}
	for k, v := range fields {
		out[k] = v
	}
	return out
}

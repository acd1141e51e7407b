// SPDX-License-Identifier: MIT

package engine

// PreparingClimber returns the first unmarked competitor after the current
// climber, the value shown on spectator views.
func PreparingClimber(s *State) string {
	if s.CurrentClimber == "" {
		return ""
	}
	i := s.competitorIndex(s.CurrentClimber)
	if i < 0 {
		return ""
	}
	return s.nextUnmarkedAfter(i)
}

// PublicView reduces a box state to its spectator projection. The raw
// competitor list is deliberately absent.
func PublicView(boxID int, s *State, nowMs int64) map[string]any {
	return map[string]any{
		"boxId":                boxID,
		"initiated":            s.Initiated,
		"categorie":            s.Categorie,
		"routeIndex":           s.RouteIndex,
		"routesCount":          s.RoutesCount,
		"holdsCount":           s.HoldsCount,
		"holdsCounts":          s.HoldsCounts,
		"currentClimber":       s.CurrentClimber,
		"preparingClimber":     PreparingClimber(s),
		"started":              s.Started,
		"timerState":           s.TimerState,
		"holdCount":            s.HoldCount,
		"remaining":            Remaining(s, nowMs),
		"scoresByName":         s.Scores,
		"timesByName":          s.Times,
		"timeCriterionEnabled": s.TimeCriterionEnabled,
	}
}

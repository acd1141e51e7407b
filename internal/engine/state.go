// SPDX-License-Identifier: MIT

// Package engine holds the per-box state and the deterministic state
// machine applied to validated commands.
package engine

import (
	"github.com/google/uuid"
)

// Timer states.
const (
	TimerIdle    = "idle"
	TimerRunning = "running"
	TimerPaused  = "paused"
)

// Competitor is one entry of a box start list.
type Competitor struct {
	Name     string `json:"name"`
	Marked   bool   `json:"marked"`
	Club     string `json:"club,omitempty"`
	Bib      string `json:"bib,omitempty"`
	Category string `json:"category,omitempty"`
}

// State is the authoritative per-box state. The JSON tags define the
// persisted file layout, so renames here are wire-format changes.
type State struct {
	SessionID  string `json:"sessionId"`
	BoxVersion int    `json:"boxVersion"`

	Initiated   bool   `json:"initiated"`
	Categorie   string `json:"categorie"`
	RouteIndex  int    `json:"routeIndex"`
	RoutesCount int    `json:"routesCount"`
	HoldsCount  int    `json:"holdsCount"`
	HoldsCounts []int  `json:"holdsCounts"`

	Competitors    []Competitor `json:"competitors"`
	CurrentClimber string       `json:"currentClimber"`
	Started        bool         `json:"started"`

	TimerState        string   `json:"timerState"`
	TimerPreset       string   `json:"timerPreset"`
	TimerPresetSec    *int     `json:"timerPresetSec,omitempty"`
	TimerEndsAtMs     *int64   `json:"timerEndsAtMs,omitempty"`
	TimerRemainingSec *float64 `json:"timerRemainingSec,omitempty"`
	// LegacyRemaining is only ever read, as a fallback for states written
	// by clients that predate the server-side timer.
	LegacyRemaining *float64 `json:"remaining,omitempty"`

	HoldCount float64 `json:"holdCount"`

	Scores map[string][]*float64 `json:"scores"`
	Times  map[string][]*float64 `json:"times"`

	LastRegisteredTime   *float64 `json:"lastRegisteredTime,omitempty"`
	TimeCriterionEnabled bool     `json:"timeCriterionEnabled"`
}

// NewState returns a fresh, uninitiated box state with a new session id.
func NewState() *State {
	return &State{
		SessionID:   uuid.NewString(),
		RouteIndex:  1,
		RoutesCount: 1,
		HoldsCounts: []int{},
		Competitors: []Competitor{},
		TimerState:  TimerIdle,
		Scores:      map[string][]*float64{},
		Times:       map[string][]*float64{},
	}
}

// ApplyDefaults fills in fields that older persisted files may lack.
func (s *State) ApplyDefaults() {
	if s.SessionID == "" {
		s.SessionID = uuid.NewString()
	}
	if s.RouteIndex < 1 {
		s.RouteIndex = 1
	}
	if s.RoutesCount < 1 {
		s.RoutesCount = s.RouteIndex
	}
	if s.HoldsCounts == nil {
		s.HoldsCounts = []int{}
	}
	if s.Competitors == nil {
		s.Competitors = []Competitor{}
	}
	if s.TimerState == "" {
		s.TimerState = TimerIdle
	}
	if s.Scores == nil {
		s.Scores = map[string][]*float64{}
	}
	if s.Times == nil {
		s.Times = map[string][]*float64{}
	}
}

// Clone returns a deep copy.
func (s *State) Clone() *State {
	cp := *s
	cp.HoldsCounts = append([]int(nil), s.HoldsCounts...)
	cp.Competitors = append([]Competitor(nil), s.Competitors...)
	cp.TimerPresetSec = clonePtr(s.TimerPresetSec)
	cp.TimerEndsAtMs = clonePtr(s.TimerEndsAtMs)
	cp.TimerRemainingSec = clonePtr(s.TimerRemainingSec)
	cp.LegacyRemaining = clonePtr(s.LegacyRemaining)
	cp.LastRegisteredTime = clonePtr(s.LastRegisteredTime)
	cp.Scores = cloneSeries(s.Scores)
	cp.Times = cloneSeries(s.Times)
	return &cp
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneSeries(m map[string][]*float64) map[string][]*float64 {
	out := make(map[string][]*float64, len(m))
	for k, vs := range m {
		row := make([]*float64, len(vs))
		for i, v := range vs {
			row[i] = clonePtr(v)
		}
		out[k] = row
	}
	return out
}

// competitorIndex resolves a competitor by exact name, -1 if absent.
func (s *State) competitorIndex(name string) int {
	for i := range s.Competitors {
		if s.Competitors[i].Name == name {
			return i
		}
	}
	return -1
}

// nextUnmarked returns the name of the first competitor after position i
// with marked=false, wrapping to the front, or "" when all are marked.
// Score submission advances currentClimber with it.
func (s *State) nextUnmarked(i int) string {
	n := len(s.Competitors)
	if n == 0 {
		return ""
	}
	for off := 1; off <= n; off++ {
		c := s.Competitors[(i+off)%n]
		if !c.Marked {
			return c.Name
		}
	}
	return ""
}

// nextUnmarkedAfter scans positions i+1..n-1 only, without wrapping, so a
// climber is never reported as their own on-deck climber.
func (s *State) nextUnmarkedAfter(i int) string {
	for j := i + 1; j < len(s.Competitors); j++ {
		if !s.Competitors[j].Marked {
			return s.Competitors[j].Name
		}
	}
	return ""
}

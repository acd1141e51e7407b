// SPDX-License-Identifier: MIT

// Package command defines the inbound command schema, normalization of
// legacy aliases, and payload validation.
package command

import (
	"encoding/json"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Command types accepted on the command endpoint and per-box sockets.
const (
	TypeInitRoute        = "INIT_ROUTE"
	TypeStartTimer       = "START_TIMER"
	TypeStopTimer        = "STOP_TIMER"
	TypeResumeTimer      = "RESUME_TIMER"
	TypeSetTimerPreset   = "SET_TIMER_PRESET"
	TypeTimerSync        = "TIMER_SYNC"
	TypeResetPartial     = "RESET_PARTIAL"
	TypeRegisterTime     = "REGISTER_TIME"
	TypeProgressUpdate   = "PROGRESS_UPDATE"
	TypeSubmitScore      = "SUBMIT_SCORE"
	TypeSetTimeCriterion = "SET_TIME_CRITERION"
	TypeResetBox         = "RESET_BOX"
	TypeRequestState     = "REQUEST_STATE"
)

// MaxBoxID bounds accepted box identifiers.
const MaxBoxID = 10000

var knownTypes = map[string]struct{}{
	TypeInitRoute:        {},
	TypeStartTimer:       {},
	TypeStopTimer:        {},
	TypeResumeTimer:      {},
	TypeSetTimerPreset:   {},
	TypeTimerSync:        {},
	TypeResetPartial:     {},
	TypeRegisterTime:     {},
	TypeProgressUpdate:   {},
	TypeSubmitScore:      {},
	TypeSetTimeCriterion: {},
	TypeResetBox:         {},
	TypeRequestState:     {},
}

// Competitor is the inbound competitor shape on INIT_ROUTE.
type Competitor struct {
	Name     string `json:"name"`
	Club     string `json:"club,omitempty"`
	Bib      string `json:"bib,omitempty"`
	Category string `json:"category,omitempty"`
}

// Command is the free-form command object after JSON decoding. Optional
// numeric fields are pointers so absence can be told from zero.
type Command struct {
	Type       string `json:"type"`
	BoxID      int    `json:"boxId"`
	SessionID  string `json:"sessionId,omitempty"`
	BoxVersion *int   `json:"boxVersion,omitempty"`
	ActionID   string `json:"actionId,omitempty"`

	RouteIndex  *int         `json:"routeIndex,omitempty"`
	RoutesCount *int         `json:"routesCount,omitempty"`
	HoldsCount  *int         `json:"holdsCount,omitempty"`
	HoldsCounts []int        `json:"holdsCounts,omitempty"`
	Categorie   string       `json:"categorie,omitempty"`
	Competitors []Competitor `json:"competitors,omitempty"`
	TimerPreset string       `json:"timerPreset,omitempty"`

	Delta          *float64 `json:"delta,omitempty"`
	RegisteredTime *float64 `json:"registeredTime,omitempty"`
	LegacyTime     *float64 `json:"time,omitempty"`
	Remaining      *float64 `json:"remaining,omitempty"`

	Competitor    string   `json:"competitor,omitempty"`
	CompetitorIdx *int     `json:"competitorIdx,omitempty"`
	LegacyIdx     *int     `json:"idx,omitempty"`
	Score         *float64 `json:"score,omitempty"`

	ResetTimer    *bool `json:"resetTimer,omitempty"`
	ClearProgress *bool `json:"clearProgress,omitempty"`
	UnmarkAll     *bool `json:"unmarkAll,omitempty"`

	TimeCriterionEnabled *bool `json:"timeCriterionEnabled,omitempty"`
}

// ValidationError carries a short machine-readable reason. Callers map it
// to HTTP 400.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return "invalid_command: " + e.Reason }

func invalid(reason string) *ValidationError { return &ValidationError{Reason: reason} }

// Normalize folds legacy aliases into their canonical fields and cleans
// up string inputs (trim + NFC). Must run before Validate.
func (c *Command) Normalize() {
	c.Type = strings.TrimSpace(c.Type)
	c.SessionID = strings.TrimSpace(c.SessionID)
	c.ActionID = strings.TrimSpace(c.ActionID)
	c.Categorie = cleanString(c.Categorie)
	c.Competitor = cleanString(c.Competitor)
	c.TimerPreset = strings.TrimSpace(c.TimerPreset)

	if c.RegisteredTime == nil && c.LegacyTime != nil {
		c.RegisteredTime = c.LegacyTime
	}
	if c.CompetitorIdx == nil && c.LegacyIdx != nil {
		c.CompetitorIdx = c.LegacyIdx
	}

	for i := range c.Competitors {
		c.Competitors[i].Name = cleanString(c.Competitors[i].Name)
		c.Competitors[i].Club = cleanString(c.Competitors[i].Club)
		c.Competitors[i].Bib = strings.TrimSpace(c.Competitors[i].Bib)
		c.Competitors[i].Category = cleanString(c.Competitors[i].Category)
	}
}

func cleanString(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}

// Validate checks the command against the per-type schema. Returns a
// *ValidationError on failure, nil otherwise.
func (c *Command) Validate() error {
	if _, ok := knownTypes[c.Type]; !ok {
		return invalid("unknown_type")
	}
	if c.BoxID < 0 || c.BoxID > MaxBoxID {
		return invalid("box_id_out_of_range")
	}

	switch c.Type {
	case TypeInitRoute:
		if c.RouteIndex == nil || *c.RouteIndex < 1 {
			return invalid("route_index_required")
		}
		if c.HoldsCount == nil || *c.HoldsCount < 0 {
			return invalid("holds_count_required")
		}
		if c.Competitors == nil {
			return invalid("competitors_required")
		}
		if c.RoutesCount != nil && *c.RoutesCount < 1 {
			return invalid("routes_count_out_of_range")
		}
		if c.RoutesCount != nil && *c.RouteIndex > *c.RoutesCount {
			return invalid("route_index_out_of_range")
		}
		for _, hc := range c.HoldsCounts {
			if hc < 0 {
				return invalid("holds_counts_out_of_range")
			}
		}
		if c.TimerPreset != "" {
			if _, ok := PresetSeconds(c.TimerPreset); !ok {
				return invalid("bad_timer_preset")
			}
		}
		for _, comp := range c.Competitors {
			if comp.Name == "" {
				return invalid("competitor_name_required")
			}
			if !safeString(comp.Name) || !safeString(comp.Club) || !safeString(comp.Category) {
				return invalid("unsafe_string")
			}
		}
		if !safeString(c.Categorie) {
			return invalid("unsafe_string")
		}

	case TypeStartTimer, TypeStopTimer, TypeResumeTimer, TypeResetBox:
		if c.SessionID == "" {
			return invalid("session_required")
		}

	case TypeSetTimerPreset:
		if c.SessionID == "" {
			return invalid("session_required")
		}
		if _, ok := PresetSeconds(c.TimerPreset); !ok {
			return invalid("bad_timer_preset")
		}

	case TypeTimerSync:
		if c.SessionID == "" {
			return invalid("session_required")
		}
		if c.Remaining == nil || *c.Remaining < 0 {
			return invalid("remaining_required")
		}

	case TypeResetPartial:
		if c.SessionID == "" {
			return invalid("session_required")
		}

	case TypeRegisterTime:
		if c.SessionID == "" {
			return invalid("session_required")
		}
		if c.RegisteredTime != nil && *c.RegisteredTime < 0 {
			return invalid("registered_time_out_of_range")
		}

	case TypeProgressUpdate:
		if c.SessionID == "" {
			return invalid("session_required")
		}
		if c.Delta == nil {
			return invalid("delta_required")
		}
		switch *c.Delta {
		case 1, -1, 0.5, -0.5:
		default:
			return invalid("bad_delta")
		}

	case TypeSubmitScore:
		if c.SessionID == "" {
			return invalid("session_required")
		}
		if c.Competitor == "" && c.CompetitorIdx == nil {
			return invalid("competitor_required")
		}
		if c.Competitor != "" && !safeString(c.Competitor) {
			return invalid("unsafe_string")
		}
		if c.CompetitorIdx != nil && *c.CompetitorIdx < 0 {
			return invalid("competitor_idx_out_of_range")
		}
		if c.Score == nil {
			return invalid("score_required")
		}
		if c.RegisteredTime != nil && *c.RegisteredTime < 0 {
			return invalid("registered_time_out_of_range")
		}

	case TypeSetTimeCriterion:
		if c.TimeCriterionEnabled == nil {
			return invalid("time_criterion_required")
		}

	case TypeRequestState:
		// transport-only
	}

	return nil
}

// Payload returns the canonicalized command as a generic map, suitable for
// audit events and echo broadcasts.
func (c *Command) Payload() map[string]any {
	raw, err := json.Marshal(c)
	if err != nil {
		return map[string]any{"type": c.Type, "boxId": c.BoxID}
	}
	out := map[string]any{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return map[string]any{"type": c.Type, "boxId": c.BoxID}
	}
	return out
}

// PresetSeconds parses a "mm:ss" preset into whole seconds.
// mm may be 0-99, ss must be 0-59.
func PresetSeconds(preset string) (int, bool) {
	parts := strings.Split(preset, ":")
	if len(parts) != 2 {
		return 0, false
	}
	if len(parts[0]) < 1 || len(parts[0]) > 2 || len(parts[1]) != 2 {
		return 0, false
	}
	mm, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, false
	}
	ss, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, false
	}
	if mm < 0 || mm > 99 || ss < 0 || ss > 59 {
		return 0, false
	}
	return mm*60 + ss, true
}

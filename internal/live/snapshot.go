// SPDX-License-Identifier: MIT

package live

import (
	"fmt"
	"sort"

	"github.com/cruxlive/cruxd/internal/command"
	"github.com/cruxlive/cruxd/internal/engine"
)

// Snapshot returns the authoritative STATE_SNAPSHOT payload for one box.
func (s *Service) Snapshot(boxID int) (map[string]any, error) {
	st, ok := s.reg.Get(boxID)
	if !ok {
		return nil, ErrBoxNotFound
	}
	return s.snapshotPayload(boxID, st, s.nowMs()), nil
}

// EnsureSnapshot returns the snapshot payload for a box, creating the box
// lazily. Used on socket connect, where judges subscribe before the first
// INIT_ROUTE. The payload is built from a clone: callers marshal it after
// the box lock is released.
func (s *Service) EnsureSnapshot(boxID int) map[string]any {
	var payload map[string]any
	_ = s.reg.WithBox(boxID, func(st *engine.State) error {
		payload = s.snapshotPayload(boxID, st.Clone(), s.nowMs())
		return nil
	})
	return payload
}

// snapshotPayload builds the full authenticated snapshot shape.
func (s *Service) snapshotPayload(boxID int, st *engine.State, nowMs int64) map[string]any {
	off := s.Officials()
	return map[string]any{
		"type":                 "STATE_SNAPSHOT",
		"boxId":                boxID,
		"initiated":            st.Initiated,
		"holdsCount":           st.HoldsCount,
		"routeIndex":           st.RouteIndex,
		"routesCount":          st.RoutesCount,
		"holdsCounts":          st.HoldsCounts,
		"currentClimber":       st.CurrentClimber,
		"preparingClimber":     engine.PreparingClimber(st),
		"started":              st.Started,
		"timerState":           st.TimerState,
		"holdCount":            st.HoldCount,
		"competitors":          st.Competitors,
		"categorie":            st.Categorie,
		"registeredTime":       st.LastRegisteredTime,
		"remaining":            engine.Remaining(st, nowMs),
		"timeCriterionEnabled": st.TimeCriterionEnabled,
		"timerPreset":          st.TimerPreset,
		"timerPresetSec":       st.TimerPresetSec,
		"judgeChief":           off.JudgeChief,
		"competitionDirector":  off.CompetitionDirector,
		"chiefRoutesetter":     off.ChiefRoutesetter,
		"sessionId":            st.SessionID,
		"boxVersion":           st.BoxVersion,
	}
}

// PublicSnapshot builds the aggregate spectator payload.
func (s *Service) PublicSnapshot() map[string]any {
	now := s.nowMs()
	states := s.reg.SnapshotAll()
	ids := make([]int, 0, len(states))
	for id := range states {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	boxes := make([]map[string]any, 0, len(ids))
	for _, id := range ids {
		boxes = append(boxes, engine.PublicView(id, states[id], now))
	}
	return map[string]any{
		"type":  "PUBLIC_STATE_SNAPSHOT",
		"boxes": boxes,
	}
}

// PublicBox returns the spectator projection of one box.
func (s *Service) PublicBox(boxID int) (map[string]any, error) {
	st, ok := s.reg.Get(boxID)
	if !ok {
		return nil, ErrBoxNotFound
	}
	return engine.PublicView(boxID, st, s.nowMs()), nil
}

// PublicBoxList lists initiated boxes for the spectator index page.
func (s *Service) PublicBoxList() []map[string]any {
	states := s.reg.SnapshotAll()
	ids := make([]int, 0, len(states))
	for id := range states {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	out := make([]map[string]any, 0, len(ids))
	for _, id := range ids {
		st := states[id]
		if !st.Initiated {
			continue
		}
		label := st.Categorie
		if label == "" {
			label = fmt.Sprintf("Box %d", id)
		}
		out = append(out, map[string]any{
			"boxId":          id,
			"label":          label,
			"timerState":     st.TimerState,
			"currentClimber": st.CurrentClimber,
			"categorie":      st.Categorie,
		})
	}
	return out
}

// publicUpdateTypes maps command types to their box-scoped public update
// event; types absent from the table produce no public update.
var publicUpdateTypes = map[string]string{
	command.TypeInitRoute:        "BOX_STATUS_UPDATE",
	command.TypeResetBox:         "BOX_STATUS_UPDATE",
	command.TypeResetPartial:     "BOX_STATUS_UPDATE",
	command.TypeStartTimer:       "BOX_FLOW_UPDATE",
	command.TypeStopTimer:        "BOX_FLOW_UPDATE",
	command.TypeResumeTimer:      "BOX_FLOW_UPDATE",
	command.TypeSetTimerPreset:   "BOX_FLOW_UPDATE",
	command.TypeTimerSync:        "BOX_FLOW_UPDATE",
	command.TypeRegisterTime:     "BOX_FLOW_UPDATE",
	command.TypeSubmitScore:      "BOX_RANKING_UPDATE",
	command.TypeSetTimeCriterion: "BOX_RANKING_UPDATE",
}

// publicUpdate builds the box-scoped public payload for a command, nil
// when the command type carries no public update.
func (s *Service) publicUpdate(cmdType string, boxID int, st *engine.State, nowMs int64) map[string]any {
	updateType, ok := publicUpdateTypes[cmdType]
	if !ok {
		return nil
	}
	return map[string]any{
		"type":  updateType,
		"boxId": boxID,
		"box":   engine.PublicView(boxID, st, nowMs),
	}
}

// SPDX-License-Identifier: MIT

package live

import (
	"sort"

	"github.com/cruxlive/cruxd/internal/engine"
)

// BoxSnapshot is the external snapshot shape used by backup bundles and
// the restore endpoint. Note registeredTime here maps to the internal
// lastRegisteredTime field.
type BoxSnapshot struct {
	BoxID                int                   `json:"boxId"`
	SessionID            string                `json:"sessionId"`
	BoxVersion           int                   `json:"boxVersion"`
	Initiated            bool                  `json:"initiated"`
	Categorie            string                `json:"categorie"`
	RouteIndex           int                   `json:"routeIndex"`
	RoutesCount          int                   `json:"routesCount"`
	HoldsCount           int                   `json:"holdsCount"`
	HoldsCounts          []int                 `json:"holdsCounts"`
	Competitors          []engine.Competitor   `json:"competitors"`
	CurrentClimber       string                `json:"currentClimber"`
	Started              bool                  `json:"started"`
	TimerState           string                `json:"timerState"`
	TimerPreset          string                `json:"timerPreset"`
	TimerPresetSec       *int                  `json:"timerPresetSec,omitempty"`
	Remaining            *float64              `json:"remaining,omitempty"`
	HoldCount            float64               `json:"holdCount"`
	Scores               map[string][]*float64 `json:"scores"`
	Times                map[string][]*float64 `json:"times"`
	RegisteredTime       *float64              `json:"registeredTime,omitempty"`
	TimeCriterionEnabled bool                  `json:"timeCriterionEnabled"`
	// Ranking is computed by the external ranking engine; the live core
	// always emits it empty.
	Ranking []any `json:"ranking"`
}

// RestoreConflict describes one snapshot the restore policy refused.
type RestoreConflict struct {
	BoxID          int    `json:"boxId"`
	Reason         string `json:"reason"`
	CurrentVersion int    `json:"currentVersion"`
	DesiredVersion int    `json:"desiredVersion"`
}

// CollectBackup snapshots every box into the external bundle shape.
func (s *Service) CollectBackup() []BoxSnapshot {
	now := s.nowMs()
	states := s.reg.SnapshotAll()
	ids := make([]int, 0, len(states))
	for id := range states {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	out := make([]BoxSnapshot, 0, len(ids))
	for _, id := range ids {
		out = append(out, toSnapshot(id, states[id], now))
	}
	return out
}

// BoxBackup snapshots a single box.
func (s *Service) BoxBackup(boxID int) (BoxSnapshot, error) {
	st, ok := s.reg.Get(boxID)
	if !ok {
		return BoxSnapshot{}, ErrBoxNotFound
	}
	return toSnapshot(boxID, st, s.nowMs()), nil
}

func toSnapshot(boxID int, st *engine.State, nowMs int64) BoxSnapshot {
	return BoxSnapshot{
		BoxID:                boxID,
		SessionID:            st.SessionID,
		BoxVersion:           st.BoxVersion,
		Initiated:            st.Initiated,
		Categorie:            st.Categorie,
		RouteIndex:           st.RouteIndex,
		RoutesCount:          st.RoutesCount,
		HoldsCounts:          st.HoldsCounts,
		HoldsCount:           st.HoldsCount,
		Competitors:          st.Competitors,
		CurrentClimber:       st.CurrentClimber,
		Started:              st.Started,
		TimerState:           st.TimerState,
		TimerPreset:          st.TimerPreset,
		TimerPresetSec:       st.TimerPresetSec,
		Remaining:            engine.Remaining(st, nowMs),
		HoldCount:            st.HoldCount,
		Scores:               st.Scores,
		Times:                st.Times,
		RegisteredTime:       st.LastRegisteredTime,
		TimeCriterionEnabled: st.TimeCriterionEnabled,
		Ranking:              []any{},
	}
}

// fromSnapshot translates the external shape back into internal state.
// A running timer cannot be reconstructed without its deadline, so it
// comes back paused at the captured remainder.
func fromSnapshot(snap BoxSnapshot) *engine.State {
	st := &engine.State{
		SessionID:            snap.SessionID,
		BoxVersion:           snap.BoxVersion,
		Initiated:            snap.Initiated,
		Categorie:            snap.Categorie,
		RouteIndex:           snap.RouteIndex,
		RoutesCount:          snap.RoutesCount,
		HoldsCount:           snap.HoldsCount,
		HoldsCounts:          snap.HoldsCounts,
		Competitors:          snap.Competitors,
		CurrentClimber:       snap.CurrentClimber,
		Started:              snap.Started,
		TimerState:           snap.TimerState,
		TimerPreset:          snap.TimerPreset,
		TimerPresetSec:       snap.TimerPresetSec,
		TimerRemainingSec:    snap.Remaining,
		HoldCount:            snap.HoldCount,
		Scores:               snap.Scores,
		Times:                snap.Times,
		LastRegisteredTime:   snap.RegisteredTime,
		TimeCriterionEnabled: snap.TimeCriterionEnabled,
	}
	if st.TimerState == engine.TimerRunning {
		st.TimerState = engine.TimerPaused
		st.Started = false
	}
	st.ApplyDefaults()
	return st
}

// Restore applies snapshots to the live registry under the optimistic
// version policy. boxIDs, when non-empty, filters which snapshots apply;
// force bypasses the conflict checks. Conflicting snapshots are skipped
// and reported; the caller decides whether any conflict aborts the
// request.
func (s *Service) Restore(snaps []BoxSnapshot, boxIDs []int, force bool) (restored []int, conflicts []RestoreConflict) {
	filter := map[int]struct{}{}
	for _, id := range boxIDs {
		filter[id] = struct{}{}
	}

	restored = []int{}
	conflicts = []RestoreConflict{}
	for _, snap := range snaps {
		if len(filter) > 0 {
			if _, ok := filter[snap.BoxID]; !ok {
				continue
			}
		}

		desired := fromSnapshot(snap)
		var conflict *RestoreConflict
		err := s.reg.WithBox(snap.BoxID, func(st *engine.State) error {
			if !force && (st.Initiated || st.BoxVersion > 0) {
				if desired.BoxVersion < st.BoxVersion {
					conflict = &RestoreConflict{
						BoxID:          snap.BoxID,
						Reason:         "lower_version",
						CurrentVersion: st.BoxVersion,
						DesiredVersion: desired.BoxVersion,
					}
					return nil
				}
				if desired.BoxVersion == st.BoxVersion &&
					desired.SessionID != "" && st.SessionID != "" &&
					desired.SessionID != st.SessionID {
					conflict = &RestoreConflict{
						BoxID:          snap.BoxID,
						Reason:         "session_conflict",
						CurrentVersion: st.BoxVersion,
						DesiredVersion: desired.BoxVersion,
					}
					return nil
				}
			}
			*st = *desired
			if err := s.store.SaveBox(snap.BoxID, st); err != nil {
				s.logger.Error().Err(err).Int("box_id", snap.BoxID).Msg("persist restored state failed")
			}
			snapPayload := s.snapshotPayload(snap.BoxID, st, s.nowMs())
			s.hub.BroadcastBox(snap.BoxID, snapPayload)
			s.hub.BroadcastPublicBox(snap.BoxID, snapPayload)
			return nil
		})
		if err != nil {
			s.logger.Error().Err(err).Int("box_id", snap.BoxID).Msg("restore failed")
			continue
		}
		if conflict != nil {
			conflicts = append(conflicts, *conflict)
			continue
		}
		restored = append(restored, snap.BoxID)
	}

	if len(restored) > 0 {
		s.hub.BroadcastPublic(s.PublicSnapshot())
	}
	return restored, conflicts
}

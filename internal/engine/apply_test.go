// SPDX-License-Identifier: MIT

package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cruxlive/cruxd/internal/command"
)

const nowMs = int64(1_700_000_000_000)

func fptr(v float64) *float64 { return &v }
func iptr(v int) *int         { return &v }
func bptr(v bool) *bool       { return &v }

func initBox(t *testing.T) *State {
	t.Helper()
	st := NewState()
	out := Apply(st, &command.Command{
		Type:        command.TypeInitRoute,
		BoxID:       1,
		RouteIndex:  iptr(1),
		HoldsCount:  iptr(10),
		TimerPreset: "05:00",
		Competitors: []command.Competitor{{Name: "A"}, {Name: "B"}},
	}, nowMs, true)
	require.True(t, out.Mutated)
	require.True(t, out.SnapshotRequired)
	return st
}

func TestInitRoute(t *testing.T) {
	st := initBox(t)

	assert.True(t, st.Initiated)
	assert.Equal(t, "A", st.CurrentClimber)
	assert.Equal(t, TimerIdle, st.TimerState)
	require.NotNil(t, st.TimerRemainingSec)
	assert.Equal(t, 300.0, *st.TimerRemainingSec)
	assert.Nil(t, st.TimerEndsAtMs)
	assert.Equal(t, 0, st.BoxVersion, "INIT_ROUTE must not bump the version")
	assert.False(t, st.Started)
}

func TestStartProgressResetPartial(t *testing.T) {
	st := initBox(t)
	sid := st.SessionID

	out := Apply(st, &command.Command{Type: command.TypeStartTimer, BoxID: 1, SessionID: sid}, nowMs, true)
	require.True(t, out.Mutated)
	assert.Equal(t, TimerRunning, st.TimerState)
	require.NotNil(t, st.TimerEndsAtMs)
	assert.Equal(t, nowMs+300_000, *st.TimerEndsAtMs)
	assert.Nil(t, st.TimerRemainingSec)
	assert.True(t, st.Started)
	assert.Equal(t, 1, st.BoxVersion)

	out = Apply(st, &command.Command{Type: command.TypeProgressUpdate, BoxID: 1, SessionID: sid, Delta: fptr(1)}, nowMs, true)
	require.True(t, out.Mutated)
	assert.Equal(t, 1.0, st.HoldCount)
	assert.Equal(t, 2, st.BoxVersion)

	out = Apply(st, &command.Command{Type: command.TypeResetPartial, BoxID: 1, SessionID: sid, ResetTimer: bptr(true)}, nowMs, true)
	require.True(t, out.Mutated)
	require.True(t, out.SnapshotRequired)
	assert.Equal(t, TimerIdle, st.TimerState)
	require.NotNil(t, st.TimerRemainingSec)
	assert.Equal(t, 300.0, *st.TimerRemainingSec)
	assert.Nil(t, st.TimerEndsAtMs, "reset while running must not leave an active deadline")
	assert.Equal(t, 1.0, st.HoldCount, "clearProgress not set, holdCount preserved")
	assert.Equal(t, 3, st.BoxVersion)
}

func TestSubmitScoreAdvancesClimber(t *testing.T) {
	st := initBox(t)
	sid := st.SessionID

	out := Apply(st, &command.Command{Type: command.TypeRegisterTime, BoxID: 1, SessionID: sid, RegisteredTime: fptr(12)}, nowMs, true)
	require.True(t, out.Mutated)

	out = Apply(st, &command.Command{
		Type:       command.TypeSubmitScore,
		BoxID:      1,
		SessionID:  sid,
		Competitor: "A",
		Score:      fptr(8.5),
	}, nowMs, true)
	require.True(t, out.Mutated)
	require.True(t, out.SnapshotRequired)

	assert.True(t, st.Competitors[0].Marked)
	assert.Equal(t, "B", st.CurrentClimber)
	require.Len(t, st.Scores["A"], 1)
	assert.Equal(t, 8.5, *st.Scores["A"][0])
	require.Len(t, st.Times["A"], 1)
	assert.Equal(t, 12.0, *st.Times["A"][0], "null registeredTime must fall back to lastRegisteredTime")
	assert.Equal(t, 0.0, st.HoldCount)
	assert.Equal(t, TimerIdle, st.TimerState)
}

func TestSubmitScoreByIndexAndUnknown(t *testing.T) {
	st := initBox(t)
	sid := st.SessionID

	out := Apply(st, &command.Command{
		Type:          command.TypeSubmitScore,
		BoxID:         1,
		SessionID:     sid,
		CompetitorIdx: iptr(1),
		Score:         fptr(3),
	}, nowMs, true)
	require.True(t, out.Mutated)
	assert.True(t, st.Competitors[1].Marked)
	assert.Equal(t, "A", st.CurrentClimber, "wraps to the first unmarked competitor")

	before := st.Clone()
	out = Apply(st, &command.Command{
		Type:       command.TypeSubmitScore,
		BoxID:      1,
		SessionID:  sid,
		Competitor: "Nobody",
		Score:      fptr(1),
	}, nowMs, true)
	assert.False(t, out.Mutated)
	assert.Equal(t, "competitor_not_found", out.Reason)
	assert.Equal(t, before.BoxVersion, st.BoxVersion)
	assert.Equal(t, before.Scores, st.Scores)
}

func TestProgressClamping(t *testing.T) {
	st := initBox(t)
	sid := st.SessionID

	down := &command.Command{Type: command.TypeProgressUpdate, BoxID: 1, SessionID: sid, Delta: fptr(-1)}
	Apply(st, down, nowMs, true)
	assert.Equal(t, 0.0, st.HoldCount, "clamped at zero")

	up := &command.Command{Type: command.TypeProgressUpdate, BoxID: 1, SessionID: sid, Delta: fptr(1)}
	for i := 0; i < 15; i++ {
		Apply(st, up, nowMs, true)
	}
	assert.Equal(t, 10.0, st.HoldCount, "clamped at holdsCount")

	half := &command.Command{Type: command.TypeProgressUpdate, BoxID: 1, SessionID: sid, Delta: fptr(-0.5)}
	Apply(st, half, nowMs, true)
	assert.Equal(t, 9.5, st.HoldCount)
}

func TestRegisterTimeNullIgnored(t *testing.T) {
	st := initBox(t)
	sid := st.SessionID

	Apply(st, &command.Command{Type: command.TypeRegisterTime, BoxID: 1, SessionID: sid, RegisteredTime: fptr(9.4)}, nowMs, true)
	require.NotNil(t, st.LastRegisteredTime)
	v := st.BoxVersion

	out := Apply(st, &command.Command{Type: command.TypeRegisterTime, BoxID: 1, SessionID: sid}, nowMs, true)
	assert.False(t, out.Mutated)
	assert.Equal(t, 9.4, *st.LastRegisteredTime, "null must not overwrite")
	assert.Equal(t, v, st.BoxVersion)
}

func TestTimerSyncWhileRunningIgnored(t *testing.T) {
	st := initBox(t)
	sid := st.SessionID

	Apply(st, &command.Command{Type: command.TypeStartTimer, BoxID: 1, SessionID: sid}, nowMs, true)
	endsAt := *st.TimerEndsAtMs

	out := Apply(st, &command.Command{Type: command.TypeTimerSync, BoxID: 1, SessionID: sid, Remaining: fptr(999)}, nowMs, true)
	assert.False(t, out.Mutated)
	assert.Nil(t, out.Echo)
	assert.Equal(t, endsAt, *st.TimerEndsAtMs)
}

func TestTimerSyncWhilePaused(t *testing.T) {
	st := initBox(t)
	sid := st.SessionID

	Apply(st, &command.Command{Type: command.TypeStartTimer, BoxID: 1, SessionID: sid}, nowMs, true)
	Apply(st, &command.Command{Type: command.TypeStopTimer, BoxID: 1, SessionID: sid}, nowMs+10_000, true)
	v := st.BoxVersion

	out := Apply(st, &command.Command{Type: command.TypeTimerSync, BoxID: 1, SessionID: sid, Remaining: fptr(123)}, nowMs, true)
	require.True(t, out.Mutated)
	assert.Equal(t, 123.0, *st.TimerRemainingSec)
	assert.Equal(t, v, st.BoxVersion, "TIMER_SYNC never bumps the version")
}

func TestStopFreezesRemaining(t *testing.T) {
	st := initBox(t)
	sid := st.SessionID

	Apply(st, &command.Command{Type: command.TypeStartTimer, BoxID: 1, SessionID: sid}, nowMs, true)
	out := Apply(st, &command.Command{Type: command.TypeStopTimer, BoxID: 1, SessionID: sid}, nowMs+60_000, true)
	require.True(t, out.Mutated)

	assert.Equal(t, TimerPaused, st.TimerState)
	assert.Nil(t, st.TimerEndsAtMs)
	require.NotNil(t, st.TimerRemainingSec)
	assert.Equal(t, 240.0, *st.TimerRemainingSec)
}

func TestSetPresetIgnoredWhileActive(t *testing.T) {
	st := initBox(t)
	sid := st.SessionID

	Apply(st, &command.Command{Type: command.TypeStartTimer, BoxID: 1, SessionID: sid}, nowMs, true)
	out := Apply(st, &command.Command{Type: command.TypeSetTimerPreset, BoxID: 1, SessionID: sid, TimerPreset: "01:00"}, nowMs, true)
	assert.False(t, out.Mutated)
	assert.Equal(t, "05:00", st.TimerPreset)

	Apply(st, &command.Command{Type: command.TypeStopTimer, BoxID: 1, SessionID: sid}, nowMs, true)
	out = Apply(st, &command.Command{Type: command.TypeSetTimerPreset, BoxID: 1, SessionID: sid, TimerPreset: "01:00"}, nowMs, true)
	assert.False(t, out.Mutated, "paused still rejects preset changes")

	Apply(st, &command.Command{Type: command.TypeResetPartial, BoxID: 1, SessionID: sid, ResetTimer: bptr(true)}, nowMs, true)
	out = Apply(st, &command.Command{Type: command.TypeSetTimerPreset, BoxID: 1, SessionID: sid, TimerPreset: "01:00"}, nowMs, true)
	require.True(t, out.Mutated)
	assert.Equal(t, "01:00", st.TimerPreset)
	assert.Equal(t, 60, *st.TimerPresetSec)
	assert.Equal(t, 60.0, *st.TimerRemainingSec)
}

func TestInitRouteScoresPreservedOnSameRoute(t *testing.T) {
	st := initBox(t)
	sid := st.SessionID

	Apply(st, &command.Command{
		Type: command.TypeSubmitScore, BoxID: 1, SessionID: sid,
		Competitor: "A", Score: fptr(5),
	}, nowMs, true)
	require.NotEmpty(t, st.Scores)

	// re-init same routeIndex keeps the sheets
	Apply(st, &command.Command{
		Type: command.TypeInitRoute, BoxID: 1,
		RouteIndex: iptr(1), HoldsCount: iptr(12),
		Competitors: []command.Competitor{{Name: "A"}, {Name: "B"}},
	}, nowMs, true)
	assert.NotEmpty(t, st.Scores)
	assert.Equal(t, 12, st.HoldsCount)

	// switching routes clears them
	Apply(st, &command.Command{
		Type: command.TypeInitRoute, BoxID: 1,
		RouteIndex: iptr(2), HoldsCount: iptr(8), RoutesCount: iptr(2),
		Competitors: []command.Competitor{{Name: "A"}, {Name: "B"}},
	}, nowMs, true)
	assert.Empty(t, st.Scores)
	assert.Empty(t, st.Times)
}

func TestInitRoutePreservesSession(t *testing.T) {
	st := initBox(t)
	sid := st.SessionID

	Apply(st, &command.Command{
		Type: command.TypeInitRoute, BoxID: 1,
		RouteIndex: iptr(1), HoldsCount: iptr(10),
		Competitors: []command.Competitor{{Name: "C"}},
	}, nowMs, true)
	assert.Equal(t, sid, st.SessionID)
}

func TestResetBoxClearsCurrentRoute(t *testing.T) {
	st := initBox(t)
	sid := st.SessionID

	Apply(st, &command.Command{
		Type: command.TypeSubmitScore, BoxID: 1, SessionID: sid,
		Competitor: "A", Score: fptr(7), RegisteredTime: fptr(20),
	}, nowMs, true)

	out := Apply(st, &command.Command{Type: command.TypeResetBox, BoxID: 1, SessionID: sid}, nowMs, true)
	require.True(t, out.Mutated)
	require.True(t, out.SnapshotRequired)

	assert.Nil(t, st.Scores["A"][0])
	assert.Nil(t, st.Times["A"][0])
	assert.False(t, st.Competitors[0].Marked)
	assert.Equal(t, "A", st.CurrentClimber)
	assert.Equal(t, 0.0, st.HoldCount)
	assert.Equal(t, TimerIdle, st.TimerState)
	assert.Len(t, st.Competitors, 2, "competitors preserved")
}

func TestResetPartialUnmarkAll(t *testing.T) {
	st := initBox(t)
	sid := st.SessionID

	Apply(st, &command.Command{
		Type: command.TypeSubmitScore, BoxID: 1, SessionID: sid,
		Competitor: "A", Score: fptr(7),
	}, nowMs, true)
	require.True(t, st.Competitors[0].Marked)

	Apply(st, &command.Command{Type: command.TypeResetPartial, BoxID: 1, SessionID: sid, UnmarkAll: bptr(true)}, nowMs, true)
	assert.False(t, st.Competitors[0].Marked)
	assert.Equal(t, "A", st.CurrentClimber)
	assert.Equal(t, TimerIdle, st.TimerState)
	// score sheet untouched by unmarkAll
	assert.NotNil(t, st.Scores["A"][0])
}

func TestSetTimeCriterion(t *testing.T) {
	st := initBox(t)
	out := Apply(st, &command.Command{Type: command.TypeSetTimeCriterion, BoxID: 1, TimeCriterionEnabled: bptr(true)}, nowMs, true)
	require.True(t, out.Mutated)
	assert.True(t, st.TimeCriterionEnabled)
	assert.Equal(t, 1, st.BoxVersion)
}

func TestVersionBumpExactlyOne(t *testing.T) {
	st := initBox(t)
	sid := st.SessionID

	cmds := []*command.Command{
		{Type: command.TypeStartTimer, BoxID: 1, SessionID: sid},
		{Type: command.TypeProgressUpdate, BoxID: 1, SessionID: sid, Delta: fptr(1)},
		{Type: command.TypeStopTimer, BoxID: 1, SessionID: sid},
		{Type: command.TypeRegisterTime, BoxID: 1, SessionID: sid, RegisteredTime: fptr(5)},
		{Type: command.TypeSubmitScore, BoxID: 1, SessionID: sid, Competitor: "A", Score: fptr(2)},
		{Type: command.TypeResetBox, BoxID: 1, SessionID: sid},
	}
	for _, cmd := range cmds {
		before := st.BoxVersion
		out := Apply(st, cmd, nowMs, true)
		require.True(t, out.Mutated, cmd.Type)
		assert.Equal(t, before+1, st.BoxVersion, cmd.Type)
	}
}

func TestHoldCountInvariantAfterAnyCommand(t *testing.T) {
	st := initBox(t)
	sid := st.SessionID

	cmds := []*command.Command{
		{Type: command.TypeProgressUpdate, BoxID: 1, SessionID: sid, Delta: fptr(1)},
		{Type: command.TypeStartTimer, BoxID: 1, SessionID: sid},
		{Type: command.TypeProgressUpdate, BoxID: 1, SessionID: sid, Delta: fptr(-0.5)},
		{Type: command.TypeSubmitScore, BoxID: 1, SessionID: sid, Competitor: "B", Score: fptr(4)},
		{Type: command.TypeResetBox, BoxID: 1, SessionID: sid},
	}
	for _, cmd := range cmds {
		Apply(st, cmd, nowMs, true)
		assert.GreaterOrEqual(t, st.HoldCount, 0.0)
		assert.LessOrEqual(t, st.HoldCount, float64(st.HoldsCount))
	}
}

func TestTimerStateInvariant(t *testing.T) {
	st := initBox(t)
	sid := st.SessionID

	check := func() {
		t.Helper()
		if st.TimerState == TimerRunning {
			assert.NotNil(t, st.TimerEndsAtMs)
			assert.Nil(t, st.TimerRemainingSec)
		} else {
			assert.Nil(t, st.TimerEndsAtMs)
			assert.NotNil(t, st.TimerRemainingSec)
		}
	}
	check()
	Apply(st, &command.Command{Type: command.TypeStartTimer, BoxID: 1, SessionID: sid}, nowMs, true)
	check()
	Apply(st, &command.Command{Type: command.TypeStopTimer, BoxID: 1, SessionID: sid}, nowMs+1000, true)
	check()
	Apply(st, &command.Command{Type: command.TypeResumeTimer, BoxID: 1, SessionID: sid}, nowMs+2000, true)
	check()
	Apply(st, &command.Command{Type: command.TypeResetBox, BoxID: 1, SessionID: sid}, nowMs+3000, true)
	check()
}

func TestInitRouteRoutesCountCoversRouteIndex(t *testing.T) {
	st := NewState()
	out := Apply(st, &command.Command{
		Type:        command.TypeInitRoute,
		BoxID:       1,
		RouteIndex:  iptr(3),
		HoldsCount:  iptr(30),
		HoldsCounts: []int{20, 25},
		Competitors: []command.Competitor{{Name: "A"}},
	}, nowMs, true)
	require.True(t, out.Mutated)

	assert.Equal(t, 3, st.RouteIndex)
	assert.Equal(t, 3, st.RoutesCount, "a short holdsCounts list must not leave routeIndex out of range")

	// explicit routesCount still wins when it covers the route
	out = Apply(st, &command.Command{
		Type:        command.TypeInitRoute,
		BoxID:       1,
		RouteIndex:  iptr(2),
		HoldsCount:  iptr(25),
		RoutesCount: iptr(4),
		Competitors: []command.Competitor{{Name: "A"}},
	}, nowMs, true)
	require.True(t, out.Mutated)
	assert.Equal(t, 4, st.RoutesCount)
}

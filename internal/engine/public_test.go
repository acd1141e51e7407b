// SPDX-License-Identifier: MIT

package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cruxlive/cruxd/internal/command"
)

func TestPreparingClimber(t *testing.T) {
	st := initBox(t)
	sid := st.SessionID

	assert.Equal(t, "B", PreparingClimber(st))

	Apply(st, &command.Command{
		Type: command.TypeSubmitScore, BoxID: 1, SessionID: sid,
		Competitor: "A", Score: fptr(5),
	}, nowMs, true)
	// B is current, A is marked, nobody is preparing
	assert.Equal(t, "B", st.CurrentClimber)
	assert.Equal(t, "", PreparingClimber(st))
}

func TestPreparingClimberDoesNotWrap(t *testing.T) {
	st := initBox(t)
	sid := st.SessionID

	// B scores out of order; current wraps back to A, but A has nobody
	// after them on the list
	Apply(st, &command.Command{
		Type: command.TypeSubmitScore, BoxID: 1, SessionID: sid,
		Competitor: "B", Score: fptr(4),
	}, nowMs, true)
	require.Equal(t, "A", st.CurrentClimber)
	assert.Equal(t, "", PreparingClimber(st))
}

func TestPreparingClimberEmptyBox(t *testing.T) {
	st := NewState()
	assert.Equal(t, "", PreparingClimber(st))
}

func TestPublicViewShape(t *testing.T) {
	st := initBox(t)
	view := PublicView(1, st, nowMs)

	_, hasCompetitors := view["competitors"]
	assert.False(t, hasCompetitors, "spectator view must not expose the raw roster")

	assert.Contains(t, view, "scoresByName")
	assert.Contains(t, view, "timesByName")
	assert.NotContains(t, view, "scores")
	assert.NotContains(t, view, "times")

	assert.Equal(t, 1, view["boxId"])
	assert.Equal(t, true, view["initiated"])
	assert.Equal(t, "A", view["currentClimber"])
	assert.Equal(t, "B", view["preparingClimber"])
	assert.Equal(t, TimerIdle, view["timerState"])

	r, ok := view["remaining"].(*float64)
	require.True(t, ok)
	require.NotNil(t, r)
	assert.Equal(t, 300.0, *r)
}

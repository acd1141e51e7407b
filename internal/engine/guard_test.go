// SPDX-License-Identifier: MIT

package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cruxlive/cruxd/internal/command"
)

func TestGuardSessionRequired(t *testing.T) {
	st := NewState()
	st.SessionID = "live"

	err := CheckSessionVersion(st, &command.Command{Type: command.TypeStartTimer, BoxID: 1})
	require.NotNil(t, err)
	assert.Equal(t, ReasonSessionRequired, err.Reason)
}

func TestGuardSessionMismatch(t *testing.T) {
	st := NewState()
	st.SessionID = "live"

	err := CheckSessionVersion(st, &command.Command{
		Type: command.TypeStartTimer, BoxID: 1, SessionID: "stale",
	})
	require.NotNil(t, err)
	assert.Equal(t, ReasonSessionMismatch, err.Reason)
}

func TestGuardExemptTypes(t *testing.T) {
	st := NewState()
	st.SessionID = "live"

	for _, typ := range []string{
		command.TypeInitRoute,
		command.TypeSetTimeCriterion,
		command.TypeRequestState,
	} {
		err := CheckSessionVersion(st, &command.Command{Type: typ, BoxID: 1})
		assert.Nil(t, err, typ)
	}
}

func TestGuardStaleVersion(t *testing.T) {
	st := NewState()
	st.SessionID = "live"
	st.BoxVersion = 5

	old := 3
	err := CheckSessionVersion(st, &command.Command{
		Type: command.TypeProgressUpdate, BoxID: 1, SessionID: "live", BoxVersion: &old,
	})
	require.NotNil(t, err)
	assert.Equal(t, ReasonStaleVersion, err.Reason)

	// equal and newer pass
	for _, v := range []int{5, 6} {
		v := v
		err := CheckSessionVersion(st, &command.Command{
			Type: command.TypeProgressUpdate, BoxID: 1, SessionID: "live", BoxVersion: &v,
		})
		assert.Nil(t, err)
	}

	// absent version passes
	err = CheckSessionVersion(st, &command.Command{
		Type: command.TypeProgressUpdate, BoxID: 1, SessionID: "live",
	})
	assert.Nil(t, err)
}

func TestGuardTimerSyncSkipsVersionCheck(t *testing.T) {
	st := NewState()
	st.SessionID = "live"
	st.BoxVersion = 9

	old := 1
	err := CheckSessionVersion(st, &command.Command{
		Type: command.TypeTimerSync, BoxID: 1, SessionID: "live", BoxVersion: &old,
	})
	assert.Nil(t, err)
}

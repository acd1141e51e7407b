// SPDX-License-Identifier: MIT

package engine

import "github.com/cruxlive/cruxd/internal/command"

// Guard rejection reasons.
const (
	ReasonSessionRequired = "session_required"
	ReasonSessionMismatch = "session_mismatch"
	ReasonStaleVersion    = "stale_version"
)

// GuardError reports a session or version rejection. session_required maps
// to HTTP 400; the other kinds are replied as {status: ignored}.
type GuardError struct {
	Reason string
}

func (e *GuardError) Error() string { return e.Reason }

// sessionExempt lists types whose schema carries no sessionId of its own.
// INIT_ROUTE establishes sessions, the other two are box-level toggles and
// pure reads.
var sessionExempt = map[string]struct{}{
	command.TypeInitRoute:        {},
	command.TypeSetTimeCriterion: {},
	command.TypeRequestState:     {},
}

// CheckSessionVersion enforces the session and optimistic-version guard
// before a command is applied. Returns nil when the command may proceed.
func CheckSessionVersion(s *State, cmd *command.Command) *GuardError {
	if cmd.Type == command.TypeInitRoute {
		return nil
	}

	if _, exempt := sessionExempt[cmd.Type]; !exempt {
		if cmd.SessionID == "" {
			return &GuardError{Reason: ReasonSessionRequired}
		}
	}
	if cmd.SessionID != "" && cmd.SessionID != s.SessionID {
		return &GuardError{Reason: ReasonSessionMismatch}
	}

	if cmd.BoxVersion != nil && cmd.Type != command.TypeTimerSync && *cmd.BoxVersion < s.BoxVersion {
		return &GuardError{Reason: ReasonStaleVersion}
	}

	return nil
}

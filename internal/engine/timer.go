// SPDX-License-Identifier: MIT

package engine

// Remaining derives the authoritative countdown value in seconds at the
// given instant. Priority: running deadline, paused/idle remainder, legacy
// client remainder, preset, nil.
func Remaining(s *State, nowMs int64) *float64 {
	if s.TimerEndsAtMs != nil {
		r := float64(*s.TimerEndsAtMs-nowMs) / 1000
		if r < 0 {
			r = 0
		}
		return &r
	}
	if s.TimerRemainingSec != nil {
		r := *s.TimerRemainingSec
		return &r
	}
	if s.LegacyRemaining != nil {
		r := *s.LegacyRemaining
		return &r
	}
	if s.TimerPresetSec != nil {
		r := float64(*s.TimerPresetSec)
		return &r
	}
	return nil
}

// startCountdown moves the timer into the running state. With the
// server-side timer enabled the remainder is frozen into an absolute
// deadline; without it the client keeps counting and the stored remainder
// stays as-is.
func (s *State) startCountdown(nowMs int64, serverTimer bool) {
	if serverTimer {
		if r := Remaining(s, nowMs); r != nil {
			endsAt := nowMs + int64(*r*1000)
			s.TimerEndsAtMs = &endsAt
			s.TimerRemainingSec = nil
			s.LegacyRemaining = nil
		}
	}
	s.TimerState = TimerRunning
	s.Started = true
}

// pauseCountdown freezes the current remainder and leaves running state.
func (s *State) pauseCountdown(nowMs int64) {
	if r := Remaining(s, nowMs); r != nil {
		s.TimerRemainingSec = r
	}
	s.TimerEndsAtMs = nil
	s.LegacyRemaining = nil
	s.TimerState = TimerPaused
	s.Started = false
}

// resetCountdown returns the timer to idle at the preset value.
func (s *State) resetCountdown() {
	s.TimerEndsAtMs = nil
	s.LegacyRemaining = nil
	if s.TimerPresetSec != nil {
		r := float64(*s.TimerPresetSec)
		s.TimerRemainingSec = &r
	} else {
		s.TimerRemainingSec = nil
	}
	s.TimerState = TimerIdle
	s.Started = false
}

// setPreset stores a new preset and, while idle, resets the remainder to it.
func (s *State) setPreset(preset string, presetSec int) {
	s.TimerPreset = preset
	sec := presetSec
	s.TimerPresetSec = &sec
	if s.TimerState == TimerIdle {
		r := float64(sec)
		s.TimerRemainingSec = &r
		s.TimerEndsAtMs = nil
		s.LegacyRemaining = nil
	}
}

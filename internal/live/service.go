// SPDX-License-Identifier: MIT

// Package live wires validator, rate limiter, registry, state machine,
// persistence, and fan-out into the command pipeline.
package live

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cruxlive/cruxd/internal/auth"
	"github.com/cruxlive/cruxd/internal/command"
	"github.com/cruxlive/cruxd/internal/engine"
	"github.com/cruxlive/cruxd/internal/hub"
	"github.com/cruxlive/cruxd/internal/log"
	"github.com/cruxlive/cruxd/internal/ratelimit"
	"github.com/cruxlive/cruxd/internal/registry"
	"github.com/cruxlive/cruxd/internal/store"
)

// ErrBoxNotFound is returned on reads of boxes that were never touched.
var ErrBoxNotFound = errors.New("box_not_found")

// CommandError is a command rejection with a strict HTTP status.
type CommandError struct {
	Status int
	Kind   string
}

func (e *CommandError) Error() string { return e.Kind }

// CommandResult is the success-path reply of the command endpoint.
type CommandResult struct {
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

// Service orchestrates the live contest engine.
type Service struct {
	reg         *registry.Registry
	store       *store.Store
	hub         *hub.Hub
	limiter     *ratelimit.Limiter
	serverTimer bool
	nowMs       func() int64
	logger      zerolog.Logger

	officialsMu sync.RWMutex
	officials   store.Officials
}

// New builds the service and loads the persisted officials record.
func New(reg *registry.Registry, st *store.Store, h *hub.Hub, lim *ratelimit.Limiter, serverTimer bool) (*Service, error) {
	officials, err := st.LoadOfficials()
	if err != nil {
		return nil, err
	}
	return &Service{
		reg:         reg,
		store:       st,
		hub:         h,
		limiter:     lim,
		serverTimer: serverTimer,
		nowMs:       func() int64 { return time.Now().UnixMilli() },
		logger:      log.WithComponent("live"),
		officials:   officials,
	}, nil
}

// Preload wipes or reloads persisted box states depending on the
// RESET_BOXES_ON_START policy.
func (s *Service) Preload(resetOnStart bool) error {
	if resetOnStart {
		if err := s.store.WipeBoxes(); err != nil {
			return err
		}
		s.logger.Info().Msg("persisted box states wiped on start")
		return nil
	}
	states, err := s.store.LoadBoxes()
	if err != nil {
		return err
	}
	for id, st := range states {
		s.reg.Put(id, st)
	}
	s.logger.Info().Int("boxes", len(states)).Msg("persisted box states loaded")
	return nil
}

// HandleCommand runs the full pipeline for one inbound command:
// normalize, validate, rate limit, lock, session/version guard, apply,
// persist, audit, broadcast. The returned *CommandError carries the HTTP
// status for rejections; guard rejections are an "ignored" result, not an
// error.
func (s *Service) HandleCommand(ctx context.Context, cmd *command.Command) (CommandResult, error) {
	cmd.Normalize()
	if err := cmd.Validate(); err != nil {
		var ve *command.ValidationError
		if errors.As(err, &ve) {
			return CommandResult{}, &CommandError{Status: http.StatusBadRequest, Kind: ve.Reason}
		}
		return CommandResult{}, &CommandError{Status: http.StatusBadRequest, Kind: "invalid_command"}
	}

	if ok, reason := s.limiter.Allow(cmd.BoxID, cmd.Type); !ok {
		return CommandResult{}, &CommandError{Status: http.StatusTooManyRequests, Kind: reason}
	}

	var result CommandResult
	err := s.reg.WithBox(cmd.BoxID, func(st *engine.State) error {
		if g := engine.CheckSessionVersion(st, cmd); g != nil {
			if g.Reason == engine.ReasonSessionRequired {
				return &CommandError{Status: http.StatusBadRequest, Kind: g.Reason}
			}
			result = CommandResult{Status: "ignored", Reason: g.Reason}
			return nil
		}

		now := s.nowMs()
		out := engine.Apply(st, cmd, now, s.serverTimer)

		if out.Mutated {
			// persistence failures stay off the command path: the
			// in-memory state remains authoritative for the session
			if err := s.store.SaveBox(cmd.BoxID, st); err != nil {
				s.logger.Error().Err(err).Int("box_id", cmd.BoxID).Msg("persist box state failed")
			}
			if err := s.store.AppendAudit(s.auditEvent(ctx, cmd, st)); err != nil {
				s.logger.Error().Err(err).Int("box_id", cmd.BoxID).Msg("append audit event failed")
			}
		}

		// broadcasts are enqueued under the box lock so every subscriber
		// observes transitions in apply order; payloads are built from a
		// clone because peers marshal them after the lock is released
		if out.Echo != nil {
			out.Echo["boxVersion"] = st.BoxVersion
			s.hub.BroadcastBox(cmd.BoxID, out.Echo)
			s.hub.BroadcastPublicBox(cmd.BoxID, out.Echo)
		}
		if out.SnapshotRequired || out.Mutated {
			cp := st.Clone()
			if out.SnapshotRequired {
				snap := s.snapshotPayload(cmd.BoxID, cp, now)
				s.hub.BroadcastBox(cmd.BoxID, snap)
				s.hub.BroadcastPublicBox(cmd.BoxID, snap)
			}
			if out.Mutated {
				if update := s.publicUpdate(cmd.Type, cmd.BoxID, cp, now); update != nil {
					s.hub.BroadcastPublic(update)
				}
			}
		}

		if !out.Mutated && !out.SnapshotRequired && out.Reason != "" {
			result = CommandResult{Status: "ignored", Reason: out.Reason}
		} else {
			result = CommandResult{Status: "ok"}
		}
		return nil
	})
	if err != nil {
		var ce *CommandError
		if errors.As(err, &ce) {
			return CommandResult{}, ce
		}
		return CommandResult{}, err
	}
	return result, nil
}

func (s *Service) auditEvent(ctx context.Context, cmd *command.Command, st *engine.State) store.AuditEvent {
	return store.AuditEvent{
		ID:         uuid.NewString(),
		CreatedAt:  time.Now().UTC().Format(time.RFC3339),
		BoxID:      cmd.BoxID,
		Action:     cmd.Type,
		ActionID:   cmd.ActionID,
		BoxVersion: st.BoxVersion,
		SessionID:  st.SessionID,
		Actor:      auth.ActorFromContext(ctx),
		Payload:    cmd.Payload(),
	}
}

// Officials returns the current competition officials record.
func (s *Service) Officials() store.Officials {
	s.officialsMu.RLock()
	defer s.officialsMu.RUnlock()
	return s.officials
}

// SetOfficials stores and persists a new officials record.
func (s *Service) SetOfficials(o store.Officials) error {
	s.officialsMu.Lock()
	s.officials = o
	s.officialsMu.Unlock()
	return s.store.SaveOfficials(o)
}

// Stats summarizes the registry for the ops endpoint.
func (s *Service) Stats() (boxes, initiated int) {
	for _, st := range s.reg.SnapshotAll() {
		boxes++
		if st.Initiated {
			initiated++
		}
	}
	return boxes, initiated
}

package server

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/cryguy/swkit/internal/core"
	"github.com/cryguy/swkit/internal/lifecycle"
	"github.com/cryguy/swkit/internal/logger"
	"github.com/cryguy/swkit/internal/transport"
)

// handleControl upgrades to a WebSocket that acts as a remote window
// client. Commands from the peer go to the lifecycle manager; worker
// messages and lifecycle events go back to the peer.
func (s *Server) handleControl(w http.ResponseWriter, r *http.Request) {
	port, err := transport.Accept(w, r, nil)
	if err != nil {
		logger.Debug("Control upgrade failed", logger.KeyError, err)
		return
	}
	defer func() { _ = port.Close() }()

	ctx := r.Context()
	removeClient := s.container.AddClient(port)
	defer removeClient()

	for sig := lifecycle.SignalInstalled; sig <= lifecycle.SignalUpdated; sig++ {
		off := s.manager.On(sig, func(ev core.Event) {
			payload, err := json.Marshal(ev)
			if err != nil {
				return
			}
			_ = port.PostMessage(ctx, core.Message{Type: core.MessageEvent, Payload: payload})
		})
		defer off()
	}

	if err := port.Listen(ctx, func(msg core.Message) { s.command(ctx, msg) }); err != nil {
		logger.Debug("Control connection closed", logger.KeyError, err)
	}
}

// command applies one host command received on the control endpoint.
func (s *Server) command(ctx context.Context, msg core.Message) {
	w := s.cfg.Worker
	switch msg.Type {
	case core.MessageSetCachePolicies:
		for _, e := range msg.Policies {
			st, ok := core.ParseStrategy(e.Strategy)
			if !ok {
				logger.Warn("Ignoring unknown strategy", logger.KeyPattern, e.Pattern, logger.KeyStrategy, e.Strategy)
				continue
			}
			p, _ := s.policies.Get(e.Pattern)
			p.Strategy = st
			s.policies.Set(e.Pattern, p)
		}
		s.manager.PushCachePolicies(ctx)
	case core.MessageSetOfflineFallbackPath:
		s.manager.SetOfflineFallbackPath(ctx, msg.Path)
	case core.MessageSkipWaiting:
		s.manager.SkipWaiting(ctx)
	case core.MessageUpdate:
		s.manager.Update(ctx, w.ScriptURL, w.Scope)
	default:
		logger.Debug("Ignoring control message", logger.KeyEvent, msg.Type)
	}
}

package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/JonMunkholm/moneyfest/internal/core"
	"github.com/JonMunkholm/moneyfest/internal/logging"
	"github.com/JonMunkholm/moneyfest/internal/synchub"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"
)

// wsTransport writes hub messages as websocket text frames. Only the
// observer's Run loop writes data frames, so no lock is needed; pings go
// through WriteControl, which gorilla allows concurrently.
type wsTransport struct {
	ws      *websocket.Conn
	timeout time.Duration
}

func (t wsTransport) Send(_ context.Context, m synchub.Message) error {
	if err := t.ws.SetWriteDeadline(time.Now().Add(t.timeout)); err != nil {
		return err
	}
	return t.ws.WriteJSON(m)
}

// handleSync upgrades to a websocket and attaches the connection to the hub
// as an observer. The session lasts until either side goes away.
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		logging.FromContext(r.Context()).Warn("websocket upgrade failed", "error", err)
		return
	}

	cfg := s.cfg.Sync
	hub := s.service.Hub()
	actor := core.ActorFromContext(r.Context())
	logger := logging.FromContext(r.Context()).With("actor", actor)

	obs := synchub.NewConn(actor, wsTransport{ws: ws, timeout: cfg.WriteTimeout}, cfg.QueueSize, logger)
	logger = logger.With("observer", obs.ID())
	logger.Info("sync session started")

	// The request context is detached from the hijacked connection.
	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()

	defer func() {
		groups := hub.Disconnect(obs)
		obs.Close()
		_ = ws.Close()
		logger.Info("sync session ended", "groups", groups)
	}()

	ws.SetReadLimit(cfg.ReadLimit)
	readWait := cfg.PingInterval * 2
	_ = ws.SetReadDeadline(time.Now().Add(readWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(readWait))
	})

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return obs.Run(gctx)
	})

	g.Go(func() error {
		// ReadMessage does not watch gctx; closing the socket unblocks it.
		go func() {
			select {
			case <-gctx.Done():
			case <-obs.Done():
			}
			_ = ws.Close()
		}()
		return s.readLoop(ws, hub, obs, readWait)
	})

	g.Go(func() error {
		ticker := time.NewTicker(cfg.PingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-obs.Done():
				return nil
			case <-ticker.C:
				deadline := time.Now().Add(cfg.WriteTimeout)
				if err := ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
					return err
				}
			}
		}
	})

	if err := g.Wait(); err != nil && !isExpectedClose(err) {
		logger.Debug("sync session error", "error", err)
	}
}

// readLoop handles inbound observer messages until the socket fails. Every
// message gets exactly one reply through the observer's queue.
func (s *Server) readLoop(ws *websocket.Conn, hub *synchub.Hub, obs *synchub.Conn, readWait time.Duration) error {
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return err
		}
		_ = ws.SetReadDeadline(time.Now().Add(readWait))

		var m synchub.Message
		reply := synchub.ErrorMessage("malformed message")
		if err := json.Unmarshal(data, &m); err == nil {
			reply = hub.Handle(obs, m)
		}
		if err := obs.Deliver(reply); err != nil {
			return err
		}
	}
}

func isExpectedClose(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, synchub.ErrObserverClosed) {
		return true
	}
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway)
}

package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/CodedInternet/gogarden/onboard/queue"
)

const (
	// state snapshots per second on /ws/state
	FRAMERATE  = 4
	WRITE_WAIT = time.Second
)

const (
	FEED_STATE = "state"
	FEED_ERROR = "error"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Cmd is a control message sent by a websocket client.
type Cmd struct {
	Cmd  string `json:"cmd"`
	ID   uint64 `json:"id,omitempty"`
	Keep bool   `json:"keep,omitempty"`
}

type FeedMessage struct {
	Type  string        `json:"type"`
	State *StatePayload `json:"state,omitempty"`
	Cmd   string        `json:"cmd,omitempty"`
	Error string        `json:"error,omitempty"`
}

func (s *Server) ProcessCommand(ctx context.Context, cmd Cmd) error {
	switch cmd.Cmd {
	case "pause":
		s.queue.Pause()
	case "unpause":
		s.queue.Unpause()
	case "clear":
		s.queue.Clear()
	case "emergency":
		return s.queue.Emergency()
	case "kill":
		return s.queue.KillRunningAction(queue.ActionID(cmd.ID), cmd.Keep)
	case "toggle_led":
		_, err := s.device.ToggleLed(ctx)
		return err
	default:
		return fmt.Errorf("unknown command %q", cmd.Cmd)
	}
	return nil
}

// StateFeed pushes a state snapshot FRAMERATE times a second and runs the
// commands the client sends back.
func (s *Server) StateFeed(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	replies := make(chan FeedMessage, 8)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var cmd Cmd
			if err := conn.ReadJSON(&cmd); err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					s.log.Debug("websocket read ended", zap.Error(err))
				}
				return
			}

			if err := s.ProcessCommand(ctx, cmd); err != nil {
				select {
				case replies <- FeedMessage{Type: FEED_ERROR, Cmd: cmd.Cmd, Error: err.Error()}:
				default:
				}
			}
		}
	}()

	send := func(msg FeedMessage) error {
		conn.SetWriteDeadline(time.Now().Add(WRITE_WAIT))
		return conn.WriteJSON(msg)
	}
	sendState := func() error {
		state := s.statePayload()
		return send(FeedMessage{Type: FEED_STATE, State: &state})
	}

	ticker := time.NewTicker(time.Second / FRAMERATE)
	defer ticker.Stop()

	if err := sendState(); err != nil {
		return
	}
	for {
		select {
		case <-done:
			return
		case msg := <-replies:
			err = send(msg)
		case <-ticker.C:
			err = sendState()
		}
		if err != nil {
			s.log.Debug("websocket write failed", zap.Error(err))
			return
		}
	}
}

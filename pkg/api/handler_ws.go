package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"

	"github.com/parleyhq/parley/pkg/speech"
)

// StreamTranscription upgrades to a WebSocket and runs a live
// transcription session: inbound binary frames are audio, outbound text
// frames are JSON events.
func (s *Server) StreamTranscription(c *gin.Context) {
	conn, err := websocket.Accept(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Error("WebSocket upgrade failed", "error", err)
		return
	}

	sessionID := c.Query("session_id")
	client := &wsClientConn{conn: conn}

	runErr := s.coordinator.Run(c.Request.Context(), client, sessionID)
	if runErr != nil {
		conn.Close(websocket.StatusInternalError, "stream failed")
		return
	}
	conn.Close(websocket.StatusNormalClosure, "")
}

// wsClientConn adapts a WebSocket to the coordinator's client interface.
type wsClientConn struct {
	conn *websocket.Conn
}

// ReadAudio returns the next binary frame. A normal client close maps to
// io.EOF so the coordinator flushes final transcripts instead of erroring.
func (w *wsClientConn) ReadAudio(ctx context.Context) ([]byte, error) {
	for {
		msgType, data, err := w.conn.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
				return nil, io.EOF
			}
			if errors.Is(err, io.EOF) {
				return nil, io.EOF
			}
			return nil, err
		}
		if msgType != websocket.MessageBinary {
			// Text frames are control chatter from the client; ignore them.
			continue
		}
		return data, nil
	}
}

// SendEvent writes one event as a JSON text frame.
func (w *wsClientConn) SendEvent(ctx context.Context, e speech.Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return w.conn.Write(ctx, websocket.MessageText, payload)
}

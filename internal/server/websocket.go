package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/woozymasta/seeker/internal/ingest"
)

const (
	wsPingInterval = 30 * time.Second
	wsReadTimeout  = 60 * time.Second
	wsWriteTimeout = 10 * time.Second
)

// handleObservationStream upgrades to a websocket over which a scanner streams
// observations as JSON text messages. Every message is acknowledged in order
// with the same body the HTTP endpoint returns.
func (s *Server) handleObservationStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Debug().Err(err).Msg("Websocket upgrade failed")
		return
	}
	defer func() { _ = conn.Close() }()

	ip := GetRealIP(r, s.trustProxy)
	log.Info().Str("ip", ip).Msg("Observation stream connected")

	conn.SetReadLimit(s.maxBody)
	_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	})

	pingDone := make(chan struct{})
	defer close(pingDone)
	go func() {
		ticker := time.NewTicker(wsPingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout)); err != nil {
					return
				}
			case <-pingDone:
				return
			case <-s.done:
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
					time.Now().Add(wsWriteTimeout))
				return
			}
		}
	}()

	var accepted int
	for {
		messageType, message, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug().Err(err).Str("ip", ip).Msg("Observation stream read failed")
			}
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))

		if messageType != websocket.TextMessage {
			continue
		}

		var ack statusResponse
		var obs ingest.Observation
		if err := json.Unmarshal(message, &obs); err != nil {
			ack = statusResponse{Status: "rejected", Error: "invalid JSON message"}
		} else {
			ack, _ = s.submit(obs)
		}
		if ack.Status == "queued" {
			accepted++
		}

		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := conn.WriteJSON(ack); err != nil {
			log.Debug().Err(err).Str("ip", ip).Msg("Observation stream write failed")
			break
		}
	}

	log.Info().Str("ip", ip).Int("accepted", accepted).Msg("Observation stream closed")
}

// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/gorilla/websocket"

	"github.com/relabs-tech/swerve_localizer/internal/config"
	"github.com/relabs-tech/swerve_localizer/internal/telemetry"
)

// wsSendBuffer is how many pose updates may queue for a slow websocket
// client before updates to it are dropped.
const wsSendBuffer = 16

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for local development
	},
}

// poseServer keeps the latest pose and telemetry seen on MQTT and serves
// them over HTTP and a websocket stream.
type poseServer struct {
	staticDir string

	mu        sync.RWMutex
	pose      telemetry.PoseMessage
	havePose  bool
	telemetry json.RawMessage
	clients   map[chan []byte]struct{}
}

func newPoseServer(staticDir string) *poseServer {
	return &poseServer{
		staticDir: staticDir,
		clients:   make(map[chan []byte]struct{}),
	}
}

func (s *poseServer) handlePose(payload []byte) {
	var p telemetry.PoseMessage
	if err := json.Unmarshal(payload, &p); err != nil {
		log.Printf("web: pose unmarshal error: %v", err)
		return
	}
	msg, err := json.Marshal(p)
	if err != nil {
		log.Printf("web: pose marshal error: %v", err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.pose = p
	s.havePose = true
	for ch := range s.clients {
		select {
		case ch <- msg:
		default:
		}
	}
}

func (s *poseServer) handleTelemetry(payload []byte) {
	if !json.Valid(payload) {
		log.Printf("web: telemetry payload is not JSON")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.telemetry = append(json.RawMessage(nil), payload...)
}

func (s *poseServer) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/pose", s.servePose)
	mux.HandleFunc("/api/telemetry", s.serveTelemetry)
	mux.HandleFunc("/ws/pose", s.serveWS)
	if s.staticDir != "" {
		mux.Handle("/", http.FileServer(http.Dir(s.staticDir)))
	}
	return mux
}

func (s *poseServer) servePose(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.havePose {
		http.Error(w, "no data yet", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.pose); err != nil {
		log.Printf("web: json encode error: %v", err)
	}
}

func (s *poseServer) serveTelemetry(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.telemetry == nil {
		http.Error(w, "no data yet", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Write(s.telemetry)
}

// serveWS streams every pose update to the client, starting with the
// latest one. Messages from the client are ignored.
func (s *poseServer) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("web: websocket upgrade error: %v", err)
		return
	}
	defer conn.Close()

	send := make(chan []byte, wsSendBuffer)
	s.mu.Lock()
	s.clients[send] = struct{}{}
	if s.havePose {
		if msg, err := json.Marshal(s.pose); err == nil {
			send <- msg
		}
	}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.clients, send)
		s.mu.Unlock()
	}()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Printf("web: websocket read error: %v", err)
				}
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case msg := <-send:
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				log.Printf("web: websocket write error: %v", err)
				return
			}
		}
	}
}

func (s *poseServer) subscribe(client mqtt.Client, topic string, handle func([]byte)) error {
	token := client.Subscribe(topic, 0, func(_ mqtt.Client, msg mqtt.Message) {
		handle(msg.Payload())
	})
	token.Wait()
	if token.Error() != nil {
		return token.Error()
	}
	log.Printf("web: subscribed to MQTT topic %s", topic)
	return nil
}

// RunWeb serves the latest fused pose at /api/pose, the latest telemetry
// snapshot at /api/telemetry, a live pose stream at /ws/pose and the
// static files under ./web.
func RunWeb(cfg *config.Config) error {
	client, err := connectMQTT(cfg.MQTTBroker, cfg.MQTTClientIDWeb)
	if err != nil {
		return err
	}
	defer client.Disconnect(250)
	log.Printf("web: connected to MQTT broker at %s", cfg.MQTTBroker)

	s := newPoseServer("web")
	if err := s.subscribe(client, cfg.TopicPose, s.handlePose); err != nil {
		return err
	}
	if cfg.TopicTelemetry != "" {
		if err := s.subscribe(client, cfg.TopicTelemetry, s.handleTelemetry); err != nil {
			return err
		}
	}

	addr := fmt.Sprintf(":%d", cfg.WebServerPort)
	log.Printf("web server listening on %s", addr)
	return http.ListenAndServe(addr, s.routes())
}

// Package wire implements the WebSocket surface of the Parley server: the
// solo endpoint /ws/audio, the room endpoint /ws/session, and the small REST
// surface used for debugging and the lobby.
//
// Frame dispatch is uniform: BINARY frames from clients are encoded audio
// unless they are exactly one of the 4-byte control markers; TEXT frames
// from clients are ignored for forward compatibility.
package wire

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/internal/protocol"
	"github.com/MrWong99/parley/internal/recording"
	"github.com/MrWong99/parley/internal/room"
	"github.com/MrWong99/parley/internal/session"
)

// validLanguages is the language set query parameters may select.
var validLanguages = []string{"en", "es", "pt"}

// Endpoint owns the HTTP handlers and dispatches connections to solo or
// room sessions.
type Endpoint struct {
	pipeline *session.Pipeline
	rooms    *room.Registry
	recs     *recording.Store
	metrics  *observe.Metrics
	log      *slog.Logger

	// seq disambiguates session ids created within the same second.
	seq atomic.Uint64
}

// New creates the endpoint. recs may be nil (recording disabled).
func New(pl *session.Pipeline, rooms *room.Registry, recs *recording.Store, metrics *observe.Metrics, log *slog.Logger) *Endpoint {
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	if log == nil {
		log = slog.Default()
	}
	return &Endpoint{
		pipeline: pl,
		rooms:    rooms,
		recs:     recs,
		metrics:  metrics,
		log:      log,
	}
}

// Register adds all routes to mux.
func (e *Endpoint) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /ws/audio", e.handleSolo)
	mux.HandleFunc("GET /ws/session", e.handleRoom)
	mux.HandleFunc("GET /rooms", e.handleListRooms)
	mux.HandleFunc("GET /recordings", e.handleListRecordings)
	mux.HandleFunc("GET /{$}", e.handleIndex)
}

// sessionID allocates a timestamped identifier for one connection, used in
// payloads, logs, and recording file names.
func (e *Endpoint) sessionID() string {
	return fmt.Sprintf("%s_%06d",
		time.Now().Format("20060102_150405"), e.seq.Add(1))
}

// accept upgrades the request. Origin checking is left to the deployment's
// proxy, as the clients are served from varying local hosts.
func (e *Endpoint) accept(w http.ResponseWriter, r *http.Request) (*Peer, error) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		return nil, fmt.Errorf("wire: accept: %w", err)
	}
	// Inbound client frames are accepted up to 1 MiB.
	conn.SetReadLimit(1 << 20)
	return newPeer(conn, e.log), nil
}

// ── Solo endpoint ────────────────────────────────────────────────────────────

// handleSolo serves /ws/audio: a single-participant transcribe-and-
// optionally-translate session.
//
// Query parameters:
//
//	lang        ∈ {en, es, pt, auto}   source language, default auto
//	target_lang ∈ {en, es, pt, none}   translation target, default none
//	tts         ∈ {true, false}        synthesise translations, default false
func (e *Endpoint) handleSolo(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	peer, err := e.accept(w, r)
	if err != nil {
		e.log.Debug("upgrade failed", "err", err)
		return
	}

	lang, ok := parseLanguage(q.Get("lang"), "auto")
	if !ok {
		peer.CloseError(protocol.KindBadRequest, "unknown lang "+q.Get("lang"))
		return
	}
	target, ok := parseLanguage(q.Get("target_lang"), "none")
	if !ok {
		peer.CloseError(protocol.KindBadRequest, "unknown target_lang "+q.Get("target_lang"))
		return
	}
	tts := strings.EqualFold(q.Get("tts"), "true")

	id := e.sessionID()
	log := e.log.With("session", id)

	solo, err := session.NewSolo(e.pipeline, peer, e.recs.Session(id), session.SoloOptions{
		SessionID:      id,
		Language:       lang,
		TargetLanguage: target,
		TTS:            tts,
	})
	if err != nil {
		log.Error("create solo session", "err", err)
		peer.CloseError(protocol.KindCapabilityUnavailable, "pipeline unavailable")
		return
	}

	e.metrics.ActiveConnections.Add(r.Context(), 1)
	defer e.metrics.ActiveConnections.Add(r.Context(), -1)
	log.Info("solo client connected",
		"language", orAuto(lang), "target", orNone(target), "tts", tts)

	e.readLoop(peer, func(data []byte) {
		solo.HandleAudio(data)
	})

	solo.Close()
	peer.Close()
	log.Info("solo client disconnected")
}

// ── Room endpoint ────────────────────────────────────────────────────────────

// handleRoom serves /ws/session: create a room (my_lang, partner_lang, name)
// or join one (room_id, name).
func (e *Endpoint) handleRoom(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	name := q.Get("name")
	roomID := strings.TrimSpace(q.Get("room_id"))

	peer, err := e.accept(w, r)
	if err != nil {
		e.log.Debug("upgrade failed", "err", err)
		return
	}

	id := e.sessionID()
	rec := e.recs.Session(id)

	var (
		rm *room.Room
		p  *session.Participant
	)
	if roomID != "" {
		rm, p, err = e.rooms.Join(roomID, name, peer, rec)
	} else {
		rm, p, err = e.rooms.Create(q.Get("my_lang"), q.Get("partner_lang"), name, peer, rec)
	}
	if err != nil {
		peer.CloseError(joinErrorKind(err), err.Error())
		return
	}

	e.metrics.ActiveConnections.Add(r.Context(), 1)
	defer e.metrics.ActiveConnections.Add(r.Context(), -1)
	log := e.log.With("room", rm.Code(), "participant", p.ID)
	log.Info("participant connected", "name", p.Name, "role", string(p.Role), "language", p.Language)

	e.readLoop(peer, func(data []byte) {
		if marker, ok := protocol.ParseMarker(data); ok {
			rm.HandleMarker(p, marker)
			return
		}
		rm.HandleAudio(e.pipeline, p, data)
	})

	e.rooms.Leave(rm, p)
	p.Close()
	peer.Close()
	log.Info("participant disconnected")
}

// readLoop reads frames until the connection drops. Binary frames go to
// onBinary; text frames are ignored (clients send no JSON control).
func (e *Endpoint) readLoop(peer *Peer, onBinary func([]byte)) {
	for {
		typ, data, err := peer.conn.Read(peer.Context())
		if err != nil {
			return
		}
		if typ != websocket.MessageBinary {
			continue
		}
		onBinary(data)
	}
}

// ── REST surface ─────────────────────────────────────────────────────────────

// handleIndex is a trivial liveness/landing response.
func (e *Endpoint) handleIndex(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"message": "Parley speech translation server",
	})
}

// handleListRooms lists live rooms for the lobby and debugging.
func (e *Endpoint) handleListRooms(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"rooms": e.rooms.Snapshot()})
}

// handleListRecordings lists saved diagnostic recordings.
func (e *Endpoint) handleListRecordings(w http.ResponseWriter, _ *http.Request) {
	entries, err := e.recs.List()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"recordings": entries})
}

// ── Helpers ──────────────────────────────────────────────────────────────────

// parseLanguage validates a language query value. sentinel ("auto" / "none")
// and the empty string map to "", meaning unset. ok is false for anything
// else outside the supported set.
func parseLanguage(value, sentinel string) (lang string, ok bool) {
	value = strings.ToLower(strings.TrimSpace(value))
	if value == "" || value == sentinel {
		return "", true
	}
	if slices.Contains(validLanguages, value) {
		return value, true
	}
	return "", false
}

// joinErrorKind maps registry errors onto protocol error kinds.
func joinErrorKind(err error) protocol.ErrorKind {
	switch {
	case errors.Is(err, room.ErrRoomNotFound):
		return protocol.KindRoomNotFound
	case errors.Is(err, room.ErrRoomFull):
		return protocol.KindRoomFull
	case errors.Is(err, room.ErrBadLanguages):
		return protocol.KindBadRequest
	default:
		return protocol.KindCapabilityUnavailable
	}
}

// orAuto renders an unset source language for logs.
func orAuto(lang string) string {
	if lang == "" {
		return "auto"
	}
	return lang
}

// orNone renders an unset target language for logs.
func orNone(lang string) string {
	if lang == "" {
		return "none"
	}
	return lang
}

// writeJSON writes v with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error":"encoding failure"}`, http.StatusInternalServerError)
	}
}

package wire_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/parley/internal/protocol"
	"github.com/MrWong99/parley/internal/room"
	"github.com/MrWong99/parley/internal/session"
	"github.com/MrWong99/parley/internal/wire"
	"github.com/MrWong99/parley/internal/work"
	"github.com/MrWong99/parley/pkg/provider/asr"
	asrmock "github.com/MrWong99/parley/pkg/provider/asr/mock"
	mtmock "github.com/MrWong99/parley/pkg/provider/mt/mock"
	ttsmock "github.com/MrWong99/parley/pkg/provider/tts/mock"
	vadmock "github.com/MrWong99/parley/pkg/provider/vad/mock"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	caps := session.Capabilities{
		VAD: &vadmock.Engine{Script: []float64{0.9}},
		ASR: &asrmock.Provider{Script: []asr.Result{{Text: "hello", Language: "en"}}},
		MT:  &mtmock.Translator{},
		TTS: &ttsmock.Synthesizer{},
	}
	pl, err := session.NewPipeline(caps, session.Config{}, work.New(2), nil, nil)
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}
	registry := room.NewRegistry(pl, room.RegistryConfig{}, nil)
	endpoint := wire.New(pl, registry, nil, nil, nil)

	mux := http.NewServeMux()
	endpoint.Register(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

// dial opens a WebSocket against the test server.
func dial(t *testing.T, srv *httptest.Server, pathAndQuery string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + pathAndQuery
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", pathAndQuery, err)
	}
	conn.SetReadLimit(1 << 20)
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

// readJSON reads the next text frame as a protocol message.
func readJSON(t *testing.T, conn *websocket.Conn) protocol.Message {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	typ, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if typ != websocket.MessageText {
		t.Fatalf("frame type = %v, want text", typ)
	}
	var msg protocol.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("unmarshal %q: %v", data, err)
	}
	return msg
}

// expect reads one message and asserts its type.
func expect(t *testing.T, conn *websocket.Conn, msgType string) protocol.Message {
	t.Helper()
	msg := readJSON(t, conn)
	if msg.Type != msgType {
		t.Fatalf("message type = %q (%+v), want %q", msg.Type, msg, msgType)
	}
	return msg
}

func writeBinary(t *testing.T, conn *websocket.Conn, data []byte) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageBinary, data); err != nil {
		t.Fatalf("write binary: %v", err)
	}
}

// ── Scenarios ────────────────────────────────────────────────────────────────

func TestRoomLifecycle_CreateJoinStartEnd(t *testing.T) {
	srv := newTestServer(t)

	host := dial(t, srv, "/ws/session?my_lang=en&partner_lang=es&name=Alice")
	created := expect(t, host, protocol.TypeRoomCreated)
	if created.Language != "en" || len(created.RoomID) != 6 {
		t.Fatalf("room_created = %+v", created)
	}
	if st := expect(t, host, protocol.TypeSessionStatus); st.Status != "waiting" {
		t.Fatalf("status = %q, want waiting", st.Status)
	}

	guest := dial(t, srv, "/ws/session?room_id="+created.RoomID+"&name=Bob")
	joined := expect(t, guest, protocol.TypeRoomJoined)
	if joined.Language != "es" || joined.PartnerName != "Alice" || joined.PartnerLanguage != "en" {
		t.Fatalf("room_joined = %+v", joined)
	}
	if st := expect(t, guest, protocol.TypeSessionStatus); st.Status != "ready" {
		t.Fatalf("guest status = %q, want ready", st.Status)
	}

	pj := expect(t, host, protocol.TypePartnerJoined)
	if pj.Name != "Bob" || pj.Language != "es" {
		t.Fatalf("partner_joined = %+v", pj)
	}
	if st := expect(t, host, protocol.TypeSessionStatus); st.Status != "ready" {
		t.Fatalf("host status = %q, want ready", st.Status)
	}

	writeBinary(t, host, []byte("STRT"))
	if st := expect(t, host, protocol.TypeSessionStatus); st.Status != "active" {
		t.Fatalf("host status = %q, want active", st.Status)
	}
	if st := expect(t, guest, protocol.TypeSessionStatus); st.Status != "active" {
		t.Fatalf("guest status = %q, want active", st.Status)
	}

	writeBinary(t, host, []byte("ENDS"))
	if st := expect(t, host, protocol.TypeSessionStatus); st.Status != "ready" {
		t.Fatalf("host status = %q, want ready after ENDS", st.Status)
	}
	if st := expect(t, guest, protocol.TypeSessionStatus); st.Status != "ready" {
		t.Fatalf("guest status = %q, want ready after ENDS", st.Status)
	}
}

func TestRoom_GuestStartIgnored(t *testing.T) {
	srv := newTestServer(t)

	host := dial(t, srv, "/ws/session?my_lang=en&partner_lang=es&name=Alice")
	created := expect(t, host, protocol.TypeRoomCreated)
	expect(t, host, protocol.TypeSessionStatus) // waiting

	guest := dial(t, srv, "/ws/session?room_id="+created.RoomID+"&name=Bob")
	expect(t, guest, protocol.TypeRoomJoined)
	expect(t, guest, protocol.TypeSessionStatus) // ready
	expect(t, host, protocol.TypePartnerJoined)
	expect(t, host, protocol.TypeSessionStatus) // ready

	// Guest STRT changes nothing; the next status both sides see is the
	// active transition driven by the host afterwards.
	writeBinary(t, guest, []byte("STRT"))
	writeBinary(t, host, []byte("STRT"))

	if st := expect(t, guest, protocol.TypeSessionStatus); st.Status != "active" {
		t.Fatalf("guest observed status %q before active — non-host STRT must emit nothing", st.Status)
	}
	if st := expect(t, host, protocol.TypeSessionStatus); st.Status != "active" {
		t.Fatalf("host observed status %q, want active", st.Status)
	}
}

func TestRoom_MuteMarkers(t *testing.T) {
	srv := newTestServer(t)

	host := dial(t, srv, "/ws/session?my_lang=en&partner_lang=es&name=Alice")
	created := expect(t, host, protocol.TypeRoomCreated)
	expect(t, host, protocol.TypeSessionStatus)

	guest := dial(t, srv, "/ws/session?room_id="+created.RoomID+"&name=Bob")
	expect(t, guest, protocol.TypeRoomJoined)
	expect(t, guest, protocol.TypeSessionStatus)
	expect(t, host, protocol.TypePartnerJoined)
	expect(t, host, protocol.TypeSessionStatus)

	writeBinary(t, host, []byte("STRT"))
	expect(t, host, protocol.TypeSessionStatus)
	expect(t, guest, protocol.TypeSessionStatus)

	writeBinary(t, host, []byte("MUTE"))
	expect(t, guest, protocol.TypePartnerMuted)

	writeBinary(t, host, []byte("UNMT"))
	expect(t, guest, protocol.TypePartnerUnmuted)
}

func TestRoom_JoinMissingRoom(t *testing.T) {
	srv := newTestServer(t)

	conn := dial(t, srv, "/ws/session?room_id=ZZZZZZ&name=Bob")
	msg := expect(t, conn, protocol.TypeError)
	if msg.Kind != string(protocol.KindRoomNotFound) {
		t.Fatalf("error kind = %q, want room_not_found", msg.Kind)
	}

	// The server closes after the error payload.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, _, err := conn.Read(ctx); err == nil {
		t.Fatal("connection should be closed after room_not_found")
	}
}

func TestRoom_PartnerDisconnect(t *testing.T) {
	srv := newTestServer(t)

	host := dial(t, srv, "/ws/session?my_lang=en&partner_lang=es&name=Alice")
	created := expect(t, host, protocol.TypeRoomCreated)
	expect(t, host, protocol.TypeSessionStatus)

	guest := dial(t, srv, "/ws/session?room_id="+created.RoomID+"&name=Bob")
	expect(t, guest, protocol.TypeRoomJoined)
	expect(t, guest, protocol.TypeSessionStatus)
	expect(t, host, protocol.TypePartnerJoined)
	expect(t, host, protocol.TypeSessionStatus)

	writeBinary(t, host, []byte("STRT"))
	expect(t, host, protocol.TypeSessionStatus)
	expect(t, guest, protocol.TypeSessionStatus)

	_ = guest.Close(websocket.StatusNormalClosure, "bye")

	expect(t, host, protocol.TypePartnerLeft)
	if st := expect(t, host, protocol.TypeSessionStatus); st.Status != "ended" {
		t.Fatalf("status = %q, want ended after guest drops mid-session", st.Status)
	}
}

func TestSolo_BadLanguageRejected(t *testing.T) {
	srv := newTestServer(t)

	conn := dial(t, srv, "/ws/audio?lang=xx")
	msg := expect(t, conn, protocol.TypeError)
	if msg.Kind != string(protocol.KindBadRequest) {
		t.Fatalf("error kind = %q, want bad_request", msg.Kind)
	}
}

func TestRoom_EqualLanguagesRejected(t *testing.T) {
	srv := newTestServer(t)

	conn := dial(t, srv, "/ws/session?my_lang=en&partner_lang=en&name=Alice")
	msg := expect(t, conn, protocol.TypeError)
	if msg.Kind != string(protocol.KindBadRequest) {
		t.Fatalf("error kind = %q, want bad_request", msg.Kind)
	}
}

func TestRoom_UnknownMarkerTreatedAsAudio(t *testing.T) {
	srv := newTestServer(t)

	host := dial(t, srv, "/ws/session?my_lang=en&partner_lang=es&name=Alice")
	expect(t, host, protocol.TypeRoomCreated)
	expect(t, host, protocol.TypeSessionStatus)

	// A 4-byte frame outside the marker set is audio; outside the active
	// phase it is silently dropped, never an error.
	writeBinary(t, host, []byte("ABCD"))

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	if _, _, err := host.Read(ctx); err == nil {
		t.Fatal("no response expected for dropped audio")
	}
}

func TestRESTSurface(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/rooms")
	if err != nil {
		t.Fatalf("GET /rooms: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /rooms status = %d", resp.StatusCode)
	}

	var body struct {
		Rooms []room.Info `json:"rooms"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode /rooms: %v", err)
	}

	resp2, err := http.Get(srv.URL + "/")
	if err != nil {
		t.Fatalf("GET /: %v", err)
	}
	defer resp2.Body.Close()
	if resp2.StatusCode != http.StatusOK {
		t.Fatalf("GET / status = %d", resp2.StatusCode)
	}
}

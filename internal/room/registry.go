package room

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/internal/recording"
	"github.com/MrWong99/parley/internal/session"
)

// codeAlphabet is the room-code character set with the ambiguous glyphs
// (O/0, I/1/L) removed, so codes survive being read out loud.
const codeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

// maxNameLen bounds participant display names.
const maxNameLen = 20

// Registry errors, matched with errors.Is by the wire endpoint to pick the
// protocol error kind.
var (
	ErrRoomNotFound = errors.New("room: not found")
	ErrRoomFull     = errors.New("room: full")
	ErrBadLanguages = errors.New("room: invalid language pair")
)

// RegistryConfig tunes the registry.
type RegistryConfig struct {
	// CodeLength is the room code length. Default: 6.
	CodeLength int

	// IdleTTL is how long an inactive room survives. Default: 10m.
	IdleTTL time.Duration

	// SweepInterval is how often idle rooms are collected. Default: 60s.
	SweepInterval time.Duration

	// Languages is the set a room may be created with.
	Languages []string
}

func (c RegistryConfig) withDefaults() RegistryConfig {
	if c.CodeLength <= 0 {
		c.CodeLength = 6
	}
	if c.IdleTTL <= 0 {
		c.IdleTTL = 10 * time.Minute
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = 60 * time.Second
	}
	if len(c.Languages) == 0 {
		c.Languages = []string{"en", "es", "pt"}
	}
	return c
}

// Registry is the process-wide directory of rooms by code. Safe for
// concurrent use.
type Registry struct {
	cfg      RegistryConfig
	pipeline *session.Pipeline
	log      *slog.Logger

	mu    sync.Mutex
	rooms map[string]*Room
	seq   int
}

// NewRegistry creates a registry over the given pipeline.
func NewRegistry(pl *session.Pipeline, cfg RegistryConfig, log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		cfg:      cfg.withDefaults(),
		pipeline: pl,
		log:      log,
		rooms:    make(map[string]*Room),
	}
}

// Create allocates a room for the language pair and attaches the host. The
// host connection immediately receives room_created and the waiting status.
func (reg *Registry) Create(hostLang, guestLang, hostName string, conn session.Conn, rec *recording.Session) (*Room, *session.Participant, error) {
	hostLang = strings.ToLower(strings.TrimSpace(hostLang))
	guestLang = strings.ToLower(strings.TrimSpace(guestLang))

	if !slices.Contains(reg.cfg.Languages, hostLang) || !slices.Contains(reg.cfg.Languages, guestLang) {
		return nil, nil, fmt.Errorf("%w: unknown language in %q/%q", ErrBadLanguages, hostLang, guestLang)
	}
	if hostLang == guestLang {
		return nil, nil, fmt.Errorf("%w: languages must differ", ErrBadLanguages)
	}

	reg.mu.Lock()
	code := reg.allocCodeLocked()
	r := newRoom(code, hostLang, guestLang, reg.log)
	reg.rooms[code] = r
	id := reg.nextIDLocked(code)
	reg.mu.Unlock()
	observe.DefaultMetrics().ActiveRooms.Add(context.Background(), 1)

	p, err := reg.pipeline.NewParticipant(id, cleanName(hostName), hostLang, session.RoleHost, conn, rec, r)
	if err != nil {
		reg.remove(code)
		return nil, nil, err
	}
	r.attachHost(p)
	return r, p, nil
}

// Join attaches a guest to the room named by code (case-insensitive). The
// guest's language is auto-assigned from the pair.
func (reg *Registry) Join(code, guestName string, conn session.Conn, rec *recording.Session) (*Room, *session.Participant, error) {
	code = strings.ToUpper(strings.TrimSpace(code))

	reg.mu.Lock()
	r, ok := reg.rooms[code]
	var id string
	if ok {
		id = reg.nextIDLocked(code)
	}
	reg.mu.Unlock()

	if !ok || r.Phase() == PhaseEnded {
		return nil, nil, fmt.Errorf("%w: %s", ErrRoomNotFound, code)
	}

	p, err := reg.pipeline.NewParticipant(id, cleanName(guestName), r.GuestLanguage(), session.RoleGuest, conn, rec, r)
	if err != nil {
		return nil, nil, err
	}
	if !r.attachGuest(p) {
		p.Close()
		return nil, nil, fmt.Errorf("%w: %s", ErrRoomFull, code)
	}
	return r, p, nil
}

// Leave detaches a participant whose connection ended and removes the room
// once both slots are vacant.
func (reg *Registry) Leave(r *Room, p *session.Participant) {
	phase := r.Leave(p)
	if phase == PhaseEnded && r.Empty() {
		reg.remove(r.Code())
	}
}

// Get returns the room with the given code, or false.
func (reg *Registry) Get(code string) (*Room, bool) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	r, ok := reg.rooms[strings.ToUpper(strings.TrimSpace(code))]
	return r, ok
}

// Snapshot lists all live rooms for the debug endpoint.
func (reg *Registry) Snapshot() []Info {
	reg.mu.Lock()
	rooms := make([]*Room, 0, len(reg.rooms))
	for _, r := range reg.rooms {
		rooms = append(rooms, r)
	}
	reg.mu.Unlock()

	infos := make([]Info, 0, len(rooms))
	for _, r := range rooms {
		host, guest := r.Languages()
		infos = append(infos, Info{
			Code:          r.Code(),
			HostLanguage:  host,
			GuestLanguage: guest,
			Phase:         string(r.Phase()),
			CreatedAt:     r.createdAt,
		})
	}
	return infos
}

// Info is one room's public summary.
type Info struct {
	Code          string    `json:"room_id"`
	HostLanguage  string    `json:"host_language"`
	GuestLanguage string    `json:"guest_language"`
	Phase         string    `json:"phase"`
	CreatedAt     time.Time `json:"created_at"`
}

// Sweep runs the idle collector until ctx is cancelled. Rooms idle past the
// TTL transition to ended — their participants see the terminal status and
// are closed gracefully — and ended rooms are removed.
func (reg *Registry) Sweep(ctx context.Context) {
	ticker := time.NewTicker(reg.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			reg.sweepOnce()
		}
	}
}

// sweepOnce ends and removes rooms idle past the TTL, and collects ended
// rooms whose participants are gone.
func (reg *Registry) sweepOnce() {
	cutoff := time.Now().Add(-reg.cfg.IdleTTL)

	reg.mu.Lock()
	candidates := make([]*Room, 0, len(reg.rooms))
	for _, r := range reg.rooms {
		candidates = append(candidates, r)
	}
	reg.mu.Unlock()

	for _, r := range candidates {
		switch {
		case r.Phase() == PhaseEnded && r.Empty():
			reg.remove(r.Code())
		case r.IdleSince().Before(cutoff):
			reg.log.Info("sweeping idle room", "room", r.Code())
			r.end()
			reg.remove(r.Code())
		}
	}
}

// remove deletes the code from the directory.
func (reg *Registry) remove(code string) {
	reg.mu.Lock()
	_, existed := reg.rooms[code]
	delete(reg.rooms, code)
	reg.mu.Unlock()
	if existed {
		observe.DefaultMetrics().ActiveRooms.Add(context.Background(), -1)
	}
}

// allocCodeLocked draws codes by rejection sampling against the live set.
// Must be called with reg.mu held.
func (reg *Registry) allocCodeLocked() string {
	buf := make([]byte, reg.cfg.CodeLength)
	for {
		for i := range buf {
			buf[i] = codeAlphabet[rand.IntN(len(codeAlphabet))]
		}
		code := string(buf)
		if _, taken := reg.rooms[code]; !taken {
			return code
		}
	}
}

// nextIDLocked produces a participant id unique within the process.
// Must be called with reg.mu held.
func (reg *Registry) nextIDLocked(code string) string {
	reg.seq++
	return fmt.Sprintf("%s-%d", code, reg.seq)
}

// cleanName trims and bounds a display name, defaulting to "User".
func cleanName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return "User"
	}
	if len(name) > maxNameLen {
		name = name[:maxNameLen]
	}
	return name
}

// CloseAll force-ends every room; used at shutdown so clients see a terminal
// status before their connections drop.
func (reg *Registry) CloseAll() {
	reg.mu.Lock()
	rooms := make([]*Room, 0, len(reg.rooms))
	for _, r := range reg.rooms {
		rooms = append(rooms, r)
	}
	reg.rooms = make(map[string]*Room)
	reg.mu.Unlock()

	for _, r := range rooms {
		r.end()
		observe.DefaultMetrics().ActiveRooms.Add(context.Background(), -1)
	}
}

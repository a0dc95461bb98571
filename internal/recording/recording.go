// Package recording implements the diagnostic on-disk dump of session audio.
//
// Each connection accumulates its raw encoded chunks in memory (they are
// Opus-compressed, so a long session stays small) and writes them out as a
// single container file on close, named by session id. Synthesised TTS audio
// can additionally be concatenated into one WAV per session. Failures here
// are logged and never affect the session.
package recording

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/MrWong99/parley/pkg/audio"
)

// Store hands out per-session recorders rooted at a directory. A nil *Store
// is valid and disables recording entirely, which keeps call sites free of
// enabled-checks.
type Store struct {
	dir string
	log *slog.Logger
}

// NewStore creates a store writing under dir, creating it if needed.
// An empty dir returns nil, disabling recording.
func NewStore(dir string, log *slog.Logger) (*Store, error) {
	if dir == "" {
		return nil, nil
	}
	if log == nil {
		log = slog.Default()
	}
	if err := os.MkdirAll(filepath.Join(dir, "tts"), 0o755); err != nil {
		return nil, fmt.Errorf("recording: create dir %q: %w", dir, err)
	}
	return &Store{dir: dir, log: log}, nil
}

// Session creates a recorder for one connection. Returns nil when the store
// is disabled.
func (s *Store) Session(id string) *Session {
	if s == nil {
		return nil
	}
	return &Session{store: s, id: id}
}

// Session buffers one connection's audio until Save. Safe for concurrent use:
// encoded chunks arrive from the read goroutine while TTS PCM arrives from
// pipeline workers.
type Session struct {
	store *Store
	id    string

	mu     sync.Mutex
	chunks [][]byte
	tts    []float32
	ttsSR  int
}

// AddChunk appends one raw encoded chunk. No-op on a nil session.
func (r *Session) AddChunk(data []byte) {
	if r == nil || len(data) == 0 {
		return
	}
	chunk := make([]byte, len(data))
	copy(chunk, data)

	r.mu.Lock()
	r.chunks = append(r.chunks, chunk)
	r.mu.Unlock()
}

// AddTTS appends a synthesised WAV blob to the session-level TTS track.
// Blobs with a different sample rate than the first are skipped.
func (r *Session) AddTTS(wavBlob []byte) {
	if r == nil || len(wavBlob) == 0 {
		return
	}
	samples, rate, err := audio.DecodeWAV(wavBlob)
	if err != nil {
		r.store.log.Warn("recording: decode tts wav", "session", r.id, "err", err)
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ttsSR == 0 {
		r.ttsSR = rate
	}
	if rate != r.ttsSR {
		return
	}
	r.tts = append(r.tts, samples...)
}

// Save writes the buffered audio to disk: the encoded stream as
// <id>.webm and, when any TTS audio was produced, a concatenated
// tts/<id>.wav. Errors are logged, not returned.
func (r *Session) Save() {
	if r == nil {
		return
	}
	r.mu.Lock()
	chunks := r.chunks
	tts := r.tts
	ttsSR := r.ttsSR
	r.chunks = nil
	r.tts = nil
	r.mu.Unlock()

	if len(chunks) > 0 {
		path := filepath.Join(r.store.dir, r.id+".webm")
		f, err := os.Create(path)
		if err != nil {
			r.store.log.Warn("recording: create file", "session", r.id, "err", err)
		} else {
			var failed bool
			for _, c := range chunks {
				if _, err := f.Write(c); err != nil {
					r.store.log.Warn("recording: write", "session", r.id, "err", err)
					failed = true
					break
				}
			}
			if err := f.Close(); err != nil {
				r.store.log.Warn("recording: close", "session", r.id, "err", err)
			} else if !failed {
				r.store.log.Info("recording: saved", "session", r.id, "path", path)
			}
		}
	}

	if len(tts) > 0 && ttsSR > 0 {
		blob, err := audio.EncodeWAV(tts, ttsSR)
		if err != nil {
			r.store.log.Warn("recording: encode tts wav", "session", r.id, "err", err)
			return
		}
		path := filepath.Join(r.store.dir, "tts", r.id+".wav")
		if err := os.WriteFile(path, blob, 0o644); err != nil {
			r.store.log.Warn("recording: write tts wav", "session", r.id, "err", err)
			return
		}
		r.store.log.Info("recording: saved tts", "session", r.id, "path", path)
	}
}

// List returns the recording file names and sizes under the store root,
// newest first. Used by the GET /recordings debug endpoint.
func (s *Store) List() ([]Entry, error) {
	if s == nil {
		return nil, nil
	}
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("recording: list %q: %w", s.dir, err)
	}

	var out []Entry
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, Entry{Name: e.Name(), Size: info.Size()})
	}
	// Names embed timestamps, so reverse-lexicographic is newest first.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// Entry describes one saved recording.
type Entry struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
}

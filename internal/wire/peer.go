package wire

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/coder/websocket"

	"github.com/MrWong99/parley/internal/protocol"
	"github.com/MrWong99/parley/internal/session"
)

// outboundDepth bounds the per-connection write queue. A client that cannot
// drain 64 frames is too slow to be useful and is disconnected rather than
// allowed to grow the queue without bound.
const outboundDepth = 64

// Compile-time assertion that Peer satisfies the pipeline's transport
// contract.
var _ session.Conn = (*Peer)(nil)

// outbound is one queued frame: a JSON message, a binary blob, or the
// closing sentinel that flushes the queue ahead of a graceful shutdown.
type outbound struct {
	msg     protocol.Message
	data    []byte
	binary  bool
	closing bool
}

// Peer wraps one WebSocket connection with a serialized writer: every frame
// is enqueued and written by a single goroutine in FIFO order, which is what
// gives "transcript JSON strictly before its WAV frame" and "both clients
// see status changes in the same order" their teeth.
//
// Send, SendAudio, CloseError, and Close are safe to call from any
// goroutine, including after the connection died — late frames are dropped.
type Peer struct {
	conn *websocket.Conn
	log  *slog.Logger

	out    chan outbound
	ctx    context.Context
	cancel context.CancelFunc

	closeOnce sync.Once
	done      chan struct{}
}

// newPeer starts the write pump over an accepted connection.
func newPeer(conn *websocket.Conn, log *slog.Logger) *Peer {
	ctx, cancel := context.WithCancel(context.Background())
	p := &Peer{
		conn:   conn,
		log:    log,
		out:    make(chan outbound, outboundDepth),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go p.writePump()
	return p
}

// writePump drains the queue onto the socket. It exits when the peer context
// is cancelled; remaining queued frames are discarded.
func (p *Peer) writePump() {
	defer close(p.done)
	for {
		select {
		case <-p.ctx.Done():
			return
		case frame := <-p.out:
			if frame.closing {
				_ = p.conn.Close(websocket.StatusNormalClosure, "")
				p.cancel()
				return
			}
			if err := p.writeFrame(frame); err != nil {
				p.log.Debug("write failed, dropping connection", "err", err)
				p.cancel()
				return
			}
		}
	}
}

// writeFrame marshals and writes one frame.
func (p *Peer) writeFrame(frame outbound) error {
	if frame.binary {
		return p.conn.Write(p.ctx, websocket.MessageBinary, frame.data)
	}
	payload, err := json.Marshal(frame.msg)
	if err != nil {
		p.log.Error("marshal outbound message", "err", err)
		return nil
	}
	return p.conn.Write(p.ctx, websocket.MessageText, payload)
}

// enqueue adds a frame, closing the connection on overflow.
func (p *Peer) enqueue(frame outbound) {
	select {
	case <-p.ctx.Done():
	case p.out <- frame:
	default:
		p.log.Warn("outbound queue overflow, closing slow connection")
		p.cancel()
		_ = p.conn.Close(websocket.StatusPolicyViolation, string(protocol.KindBackpressure))
	}
}

// Send enqueues a JSON text frame.
func (p *Peer) Send(msg protocol.Message) {
	p.enqueue(outbound{msg: msg})
}

// SendAudio enqueues a binary frame.
func (p *Peer) SendAudio(data []byte) {
	p.enqueue(outbound{data: data, binary: true})
}

// CloseError sends an error payload and then closes the connection. The
// payload is written directly (not queued) so it survives even when the
// write pump is already saturated.
func (p *Peer) CloseError(kind protocol.ErrorKind, message string) {
	p.closeOnce.Do(func() {
		payload, err := json.Marshal(protocol.Error(kind, message))
		if err == nil {
			_ = p.conn.Write(p.ctx, websocket.MessageText, payload)
		}
		p.cancel()
		_ = p.conn.Close(websocket.StatusPolicyViolation, string(kind))
	})
}

// Close closes with a normal status after the already-queued frames flush:
// the closing sentinel travels through the same FIFO queue as the payloads
// before it.
func (p *Peer) Close() {
	p.closeOnce.Do(func() {
		select {
		case p.out <- outbound{closing: true}:
		default:
			p.cancel()
			_ = p.conn.Close(websocket.StatusNormalClosure, "")
		}
	})
}

// Context is cancelled once the connection is torn down; the read loop uses
// it to stop.
func (p *Peer) Context() context.Context {
	return p.ctx
}

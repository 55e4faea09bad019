// Package inspect implements the remote GC inspector of SPEC_FULL
// §4.11: an opt-in QUIC listener that streams newline-delimited JSON
// GC phase-transition events to connected debuggers, grounded on the
// teacher's netstack.HTTP3Server lifecycle (internal/runtime/netstack/
// http3.go) but speaking raw QUIC streams instead of HTTP/3.
//
// It never touches a Runtime's mutator state directly: Publish is the
// only entry point, wired as the Runtime's heap.EventFunc via
// SetEventSink, and it only ever fans an already-formed Event out to
// subscriber streams. It must not block the mutator, so every
// subscriber write is buffered and best-effort — a slow or absent
// reader only drops events, per §4.11.
package inspect

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"log"
	"net"
	"sync"
	"time"

	quic "github.com/quic-go/quic-go"

	"github.com/orizon-lang/mheap/internal/heap"
)

// GCEvent is the wire record streamed to subscribers: one JSON object
// per line, matching SPEC_FULL §4.11's `GCEvent{Phase, Kind, At, Detail}`.
type GCEvent struct {
	Phase  string    `json:"phase"`
	Kind   string    `json:"kind"`
	At     time.Time `json:"at"`
	Detail string    `json:"detail,omitempty"`
}

// subscriberBuffer bounds how many unread events a slow subscriber can
// accumulate before new events are dropped for it.
const subscriberBuffer = 256

// Server accepts QUIC connections and streams GC events to each one
// over a dedicated unidirectional stream. The zero value is not usable;
// construct with New.
type Server struct {
	pc       net.PacketConn
	listener *quic.Listener
	addr     string

	mu          sync.Mutex
	subscribers []chan GCEvent
	closed      bool

	wg sync.WaitGroup
}

// New binds a QUIC listener on addr (use ":0" for an ephemeral port) and
// begins accepting connections in the background. tlsConf must present
// at least one certificate; the caller is responsible for generating
// one (e.g. via a self-signed cert for local debugging, mirroring the
// teacher's netstack.GenerateSelfSignedTLS).
func New(addr string, tlsConf *tls.Config) (*Server, error) {
	if tlsConf.MinVersion == 0 || tlsConf.MinVersion < tls.VersionTLS13 {
		c := tlsConf.Clone()
		c.MinVersion = tls.VersionTLS13

		if len(c.NextProtos) == 0 {
			c.NextProtos = []string{"mheap-inspect"}
		}

		tlsConf = c
	}

	pc, err := net.ListenPacket("udp", addr)
	if err != nil {
		return nil, err
	}

	ln, err := quic.Listen(pc, tlsConf, &quic.Config{MaxIdleTimeout: 30 * time.Second})
	if err != nil {
		pc.Close()
		return nil, err
	}

	s := &Server{pc: pc, listener: ln, addr: pc.LocalAddr().String()}

	s.wg.Add(1)

	go s.acceptLoop()

	return s, nil
}

// Addr reports the UDP address the server is bound to.
func (s *Server) Addr() string { return s.addr }

func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept(context.Background())
		if err != nil {
			return // listener closed
		}

		s.wg.Add(1)

		go s.serveConn(conn)
	}
}

func (s *Server) serveConn(conn *quic.Conn) {
	defer s.wg.Done()

	stream, err := conn.OpenUniStreamSync(context.Background())
	if err != nil {
		log.Printf("inspect: open stream to %s failed: %v", conn.RemoteAddr(), err)
		return
	}
	defer stream.Close()

	ch := make(chan GCEvent, subscriberBuffer)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}

	s.subscribers = append(s.subscribers, ch)
	s.mu.Unlock()

	defer s.removeSubscriber(ch)

	enc := json.NewEncoder(stream)

	for ev := range ch {
		if err := enc.Encode(ev); err != nil {
			return
		}
	}
}

func (s *Server) removeSubscriber(ch chan GCEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, c := range s.subscribers {
		if c == ch {
			s.subscribers = append(s.subscribers[:i], s.subscribers[i+1:]...)
			break
		}
	}
}

// Publish fans ev out to every connected subscriber. It is designed to
// be installed directly as a Runtime's heap.EventFunc via SetEventSink;
// it never blocks — a subscriber whose buffer is full silently drops
// the event rather than stalling run_gc (§4.11).
func (s *Server) Publish(ev heap.Event) {
	wire := GCEvent{Phase: "", Kind: ev.Kind.String(), At: time.Now(), Detail: ev.Detail}

	s.mu.Lock()
	subs := make([]chan GCEvent, len(s.subscribers))
	copy(subs, s.subscribers)
	s.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- wire:
		default:
			log.Printf("inspect: subscriber buffer full, dropping %s event", ev.Kind)
		}
	}
}

// Close stops accepting new connections, closes every subscriber
// stream, and releases the underlying UDP socket.
func (s *Server) Close() error {
	s.mu.Lock()
	s.closed = true

	for _, ch := range s.subscribers {
		close(ch)
	}

	s.subscribers = nil
	s.mu.Unlock()

	err := s.listener.Close()
	s.wg.Wait()
	_ = s.pc.Close()

	return err
}

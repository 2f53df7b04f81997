/*
 * backend/ingest/session.go
 *
 * Per-producer connection lifecycle: optional auth handshake, room binding
 * and the packet read loop.
 */

package ingest

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/spyglass-view/spyglass/backend/config"
)

// Producer is the session state of one connected producer.
type Producer struct {
	ID          string
	RemoteAddr  string
	RemotePort  int
	ConnectedAt time.Time

	mu      sync.Mutex
	appName string
	roomID  string
}

// AppName returns the producer's announced application name.
func (p *Producer) AppName() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.appName
}

// SetAppName caches the application name from a log header.
func (p *Producer) SetAppName(name string) {
	p.mu.Lock()
	p.appName = name
	p.mu.Unlock()
}

// RoomID returns the producer's currently bound room.
func (p *Producer) RoomID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.roomID
}

// SetRoomID rebinds the producer.
func (p *Producer) SetRoomID(roomID string) {
	p.mu.Lock()
	p.roomID = roomID
	p.mu.Unlock()
}

// Sink receives session events and decoded packets. The dispatcher
// implements it.
type Sink interface {
	ProducerConnected(p *Producer)
	ProducerPacket(p *Producer, pkt Packet)
	ProducerDisconnected(p *Producer)
}

// session drives one producer connection.
type session struct {
	conn     net.Conn
	sink     Sink
	logger   Logger
	authFn   func() (token string, required bool)
	producer *Producer
}

func newSession(conn net.Conn, sink Sink, logger Logger, authFn func() (string, bool)) *session {
	host, portStr, _ := net.SplitHostPort(conn.RemoteAddr().String())
	port, _ := strconv.Atoi(portStr)
	return &session{
		conn:   conn,
		sink:   sink,
		logger: logger,
		authFn: authFn,
		producer: &Producer{
			ID:          uuid.NewString(),
			RemoteAddr:  host,
			RemotePort:  port,
			ConnectedAt: time.Now(),
			roomID:      config.DefaultRoom,
		},
	}
}

// run reads packets until the connection drops or a protocol error closes
// it. Parsed packets are applied even when the producer disconnects right
// after sending them.
func (s *session) run() {
	defer func() { _ = s.conn.Close() }()

	decoder := NewDecoder(s.conn, config.IngestMaxPayload)

	if err := s.handshake(decoder); err != nil {
		s.logger.Warn(fmt.Sprintf("producer %s rejected: %v", s.producer.RemoteAddr, err), "Ingest")
		return
	}

	s.sink.ProducerConnected(s.producer)
	defer s.sink.ProducerDisconnected(s.producer)

	for {
		pkt, err := decoder.Next()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.logger.Warn(fmt.Sprintf("producer %s read error: %v", s.producer.RemoteAddr, err), "Ingest")
			}
			return
		}
		if _, ok := pkt.(AuthPacket); ok {
			// Auth is only meaningful as the first record.
			continue
		}
		s.sink.ProducerPacket(s.producer, pkt)
	}
}

// handshake enforces the auth token when one is configured. The token must
// arrive in the session's first record.
func (s *session) handshake(decoder *Decoder) error {
	token, required := s.authFn()
	if !required {
		return nil
	}

	pkt, err := decoder.Next()
	if err != nil {
		return fmt.Errorf("handshake read: %w", err)
	}
	auth, ok := pkt.(AuthPacket)
	if !ok {
		return errors.New("first record is not an auth token")
	}
	if len(auth.Token) < config.AuthTokenMinLen || len(auth.Token) > config.AuthTokenMaxLen {
		return errors.New("auth token length out of bounds")
	}
	if subtle.ConstantTimeCompare(auth.Token, []byte(token)) != 1 {
		return errors.New("auth token mismatch")
	}
	return nil
}

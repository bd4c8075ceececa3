// Package session owns the client's one logical connection to the dispatch
// relay: connect, authenticate, queue outbound frames while offline, and
// reconnect with capped exponential backoff.
package session

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/weheal/lifeline/internal/bus"
	"github.com/weheal/lifeline/internal/models"
	"github.com/weheal/lifeline/internal/protocol"
)

// State is the connection state of a session.
type State string

const (
	StateDisconnected  State = "disconnected"
	StateConnecting    State = "connecting"
	StateConnected     State = "connected"
	StateAuthenticated State = "authenticated"
)

const (
	defaultMaxAttempts = 5
	defaultBackoffBase = 2 * time.Second
	defaultBackoffMax  = 30 * time.Second
	defaultDialTimeout = 10 * time.Second
)

// Options tune a session. Zero values fall back to defaults.
type Options struct {
	URL         string
	Token       string
	Dialer      Dialer // overrides URL/Token when set; used by tests
	MaxAttempts int
	BackoffBase time.Duration
	BackoffMax  time.Duration
	DialTimeout time.Duration
}

// Session multiplexes all realtime traffic for one user. It is constructed
// explicitly and handed to consumers; there is no package-level instance.
type Session struct {
	identity models.Identity
	bus      *bus.Bus
	dial     Dialer
	timeout  time.Duration

	mu         sync.Mutex
	state      State
	conn       Conn
	queue      []protocol.Frame
	recon      *reconnector
	retryTimer *time.Timer
	closing    bool
	gen        uint64
}

// New builds a session for identity. Frames read off the wire are dispatched
// on b in arrival order.
func New(opts Options, identity models.Identity, b *bus.Bus) *Session {
	if opts.MaxAttempts == 0 {
		opts.MaxAttempts = defaultMaxAttempts
	}
	if opts.BackoffBase == 0 {
		opts.BackoffBase = defaultBackoffBase
	}
	if opts.BackoffMax == 0 {
		opts.BackoffMax = defaultBackoffMax
	}
	if opts.DialTimeout == 0 {
		opts.DialTimeout = defaultDialTimeout
	}
	dial := opts.Dialer
	if dial == nil {
		dial = WebSocketDialer(opts.URL, opts.Token)
	}
	return &Session{
		identity: identity,
		bus:      b,
		dial:     dial,
		timeout:  opts.DialTimeout,
		state:    StateDisconnected,
		recon:    newReconnector(opts.BackoffBase, opts.BackoffMax, opts.MaxAttempts),
	}
}

// State returns the current connection state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// QueueLen reports how many frames wait for the next successful connect.
func (s *Session) QueueLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Connect opens the transport. It is a no-op while connecting or connected.
// An explicit call re-arms the retry budget after the cap was hit.
func (s *Session) Connect() {
	s.connect(true)
}

func (s *Session) connect(explicit bool) {
	s.mu.Lock()
	if s.state != StateDisconnected {
		s.mu.Unlock()
		return
	}
	if explicit {
		s.recon.reset()
	}
	if s.retryTimer != nil {
		s.retryTimer.Stop()
		s.retryTimer = nil
	}
	s.state = StateConnecting
	s.closing = false
	s.gen++
	gen := s.gen
	s.mu.Unlock()

	go s.dialAndRun(gen)
}

func (s *Session) dialAndRun(gen uint64) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	conn, err := s.dial(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("relay dial failed")
		s.transportLost(gen, nil)
		return
	}

	s.mu.Lock()
	if gen != s.gen || s.closing {
		s.mu.Unlock()
		conn.Close()
		return
	}
	s.conn = conn
	s.state = StateConnected
	s.recon.reset()

	auth, err := protocol.NewFrame(protocol.TypeAuthenticate, protocol.AuthPayload{
		UserID:   s.identity.UserID,
		UserType: strings.ToLower(s.identity.Role),
	})
	if err == nil {
		err = conn.WriteJSON(auth)
	}
	if err != nil {
		s.mu.Unlock()
		s.transportLost(gen, conn)
		return
	}
	s.state = StateAuthenticated

	// Flush frames queued while offline, strictly FIFO. Frames that made it
	// onto the wire are removed so a mid-flush failure never resends them.
	for len(s.queue) > 0 {
		next := s.queue[0]
		if err := conn.WriteJSON(next); err != nil {
			s.mu.Unlock()
			s.transportLost(gen, conn)
			return
		}
		s.queue = s.queue[1:]
	}
	s.mu.Unlock()

	log.Info().Str("user", s.identity.UserID).Msg("session authenticated")
	go s.readLoop(conn, gen)
}

func (s *Session) readLoop(conn Conn, gen uint64) {
	for {
		var frame protocol.Frame
		if err := conn.ReadJSON(&frame); err != nil {
			s.transportLost(gen, conn)
			return
		}
		s.bus.Dispatch(frame)
	}
}

// transportLost funnels every transport failure into Disconnected and, while
// the retry budget lasts, schedules the next attempt. Stale generations are
// ignored so an old read loop cannot disturb a newer connection.
func (s *Session) transportLost(gen uint64, conn Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen {
		return
	}
	if conn != nil {
		conn.Close()
	}
	if s.state == StateDisconnected && s.retryTimer != nil {
		// The write path already reported this loss; one retry is pending.
		return
	}
	s.conn = nil
	s.state = StateDisconnected
	if s.closing {
		return
	}
	if !s.recon.shouldRetry() {
		log.Warn().Msg("reconnect attempts exhausted; waiting for explicit connect")
		return
	}
	delay := s.recon.next()
	log.Info().Dur("delay", delay).Msg("scheduling reconnect")
	s.retryTimer = time.AfterFunc(delay, func() { s.connect(false) })
}

// Send transmits a frame of type t immediately when connected; otherwise the
// frame joins the outbound queue and a connect is triggered. Transport
// failures never reach the caller.
func (s *Session) Send(t protocol.FrameType, payload any) {
	frame, err := protocol.NewFrame(t, payload)
	if err != nil {
		log.Error().Err(err).Str("type", string(t)).Msg("dropping unencodable frame")
		return
	}

	s.mu.Lock()
	switch s.state {
	case StateConnected, StateAuthenticated:
		conn := s.conn
		if err := conn.WriteJSON(frame); err != nil {
			// The write never left; keep the frame for the next flush.
			s.queue = append(s.queue, frame)
			gen := s.gen
			s.mu.Unlock()
			s.transportLost(gen, conn)
			return
		}
		s.mu.Unlock()
	case StateConnecting:
		s.queue = append(s.queue, frame)
		s.mu.Unlock()
	default:
		s.queue = append(s.queue, frame)
		s.mu.Unlock()
		s.connect(false)
	}
}

// Disconnect tears down the transport and resets queue and attempt state.
// No automatic reconnect follows.
func (s *Session) Disconnect() {
	s.mu.Lock()
	s.closing = true
	s.gen++
	if s.retryTimer != nil {
		s.retryTimer.Stop()
		s.retryTimer = nil
	}
	conn := s.conn
	s.conn = nil
	s.state = StateDisconnected
	s.queue = nil
	s.recon.reset()
	s.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
}

// Package chat coordinates the support-chat queue and agent assignment on
// the client side: idempotent queueing, first-broadcast-wins claims, message
// relay, and two-phase termination.
package chat

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/weheal/lifeline/internal/bus"
	"github.com/weheal/lifeline/internal/models"
	"github.com/weheal/lifeline/internal/protocol"
)

// Status of one chat session.
type Status string

const (
	StatusQueued   Status = "queued"
	StatusAssigned Status = "assigned"
	StatusEnded    Status = "ended"
)

const defaultAckTimeout = 10 * time.Second

// Sender is the slice of the session the coordinator needs.
type Sender interface {
	Send(t protocol.FrameType, payload any)
}

// QueueEntry is one pending chat request, as every agent sees it.
type QueueEntry struct {
	PatientID string
	Name      string
	At        time.Time
}

// Message is one transcript entry. Exactly one of Body or Image is set.
type Message struct {
	ID    string
	From  string
	Body  string
	Image string
	At    time.Time
}

// Session is the live view of one chat. The transcript exists only while the
// chat does; Ended sessions are discarded.
type Session struct {
	PatientID  string
	Agent      *protocol.AgentInfo
	Status     Status
	EndPending bool
	Messages   []Message
}

// Coordinator tracks the shared pending queue and the local user's open
// chats. Agents may hold several sessions; a patient holds at most their own.
type Coordinator struct {
	identity   models.Identity
	send       Sender
	bus        *bus.Bus
	ackTimeout time.Duration
	now        func() time.Time

	mu        sync.Mutex
	order     []string
	queued    map[string]QueueEntry
	sessions  map[string]*Session
	endTimers map[string]*time.Timer

	handles []bus.Handle
}

// Option tweaks a coordinator.
type Option func(*Coordinator)

// WithAckTimeout sets how long an end waits for confirmation before rolling
// back to Assigned.
func WithAckTimeout(d time.Duration) Option {
	return func(c *Coordinator) { c.ackTimeout = d }
}

// WithClock injects the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// New builds a coordinator for identity and subscribes it on b. Call Close
// to detach.
func New(identity models.Identity, send Sender, b *bus.Bus, opts ...Option) *Coordinator {
	c := &Coordinator{
		identity:   identity,
		send:       send,
		bus:        b,
		ackTimeout: defaultAckTimeout,
		now:        time.Now,
		queued:     make(map[string]QueueEntry),
		sessions:   make(map[string]*Session),
		endTimers:  make(map[string]*time.Timer),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.handles = append(c.handles,
		b.Subscribe(protocol.TypeChatNew, c.handleNew),
		b.Subscribe(protocol.TypeChatAssigned, c.handleAssigned),
		b.Subscribe(protocol.TypeChatMessage, c.handleMessage),
		b.Subscribe(protocol.TypeChatEnd, c.handleEnded),
		b.Subscribe(protocol.TypeChatEnded, c.handleEnded),
	)
	return c
}

// Close detaches the coordinator from the bus.
func (c *Coordinator) Close() {
	for _, h := range c.handles {
		c.bus.Unsubscribe(h)
	}
}

// RequestChat enqueues the local patient for support. Duplicate calls while
// already queued or in a chat are no-ops.
func (c *Coordinator) RequestChat(name string) {
	me := c.identity.UserID
	c.mu.Lock()
	if _, ok := c.queued[me]; ok || c.sessions[me] != nil {
		c.mu.Unlock()
		return
	}
	at := c.now()
	c.insertLocked(QueueEntry{PatientID: me, Name: name, At: at})
	c.sessions[me] = &Session{PatientID: me, Status: StatusQueued}
	c.mu.Unlock()

	c.send.Send(protocol.TypeChatNew, protocol.ChatNewPayload{
		PatientID: me,
		Name:      name,
		At:        at,
	})
}

// Claim attempts to bind the local agent to a queued chat. Whether it stuck
// is decided by the first chat:assigned broadcast, not by this call.
func (c *Coordinator) Claim(patientID string) {
	c.send.Send(protocol.TypeChatAssign, protocol.ChatAssignPayload{
		PatientID: patientID,
		Agent:     &protocol.AgentInfo{ID: c.identity.UserID},
	})
}

// SendMessage relays a text message on an assigned chat.
func (c *Coordinator) SendMessage(patientID, body string) {
	c.relay(patientID, body, "")
}

// SendImage relays an inline-encoded image on an assigned chat. The
// coordinator does not police payload size; the UI does.
func (c *Coordinator) SendImage(patientID, image string) {
	c.relay(patientID, "", image)
}

func (c *Coordinator) relay(patientID, body, image string) {
	c.mu.Lock()
	sess := c.sessions[patientID]
	if sess == nil || sess.Status != StatusAssigned {
		c.mu.Unlock()
		return
	}
	msg := Message{
		ID:    uuid.NewString(),
		From:  c.identity.UserID,
		Body:  body,
		Image: image,
		At:    c.now(),
	}
	sess.Messages = append(sess.Messages, msg)
	c.mu.Unlock()

	c.send.Send(protocol.TypeChatMessage, protocol.ChatMessagePayload{
		MessageID: msg.ID,
		PatientID: patientID,
		From:      msg.From,
		Body:      body,
		Image:     image,
		At:        msg.At,
	})
}

// End hangs up an assigned chat. The session holds in an end-pending state
// until chat:ended confirms; an unanswered end rolls back to Assigned.
func (c *Coordinator) End(patientID string) {
	c.mu.Lock()
	sess := c.sessions[patientID]
	if sess == nil || sess.Status != StatusAssigned || sess.EndPending {
		c.mu.Unlock()
		return
	}
	sess.EndPending = true
	c.endTimers[patientID] = time.AfterFunc(c.ackTimeout, func() { c.rollbackEnd(patientID) })
	c.mu.Unlock()

	c.send.Send(protocol.TypeChatEnd, protocol.ChatEndPayload{
		PatientID: patientID,
		By:        c.identity.UserID,
	})
}

func (c *Coordinator) rollbackEnd(patientID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	sess := c.sessions[patientID]
	if sess == nil || !sess.EndPending {
		return
	}
	sess.EndPending = false
	delete(c.endTimers, patientID)
	log.Warn().Str("patient", patientID).Msg("chat end unconfirmed; keeping session open")
}

// Queue returns the pending entries in arrival order.
func (c *Coordinator) Queue() []QueueEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]QueueEntry, 0, len(c.order))
	for _, id := range c.order {
		if entry, ok := c.queued[id]; ok {
			out = append(out, entry)
		}
	}
	return out
}

// Session returns a copy of the chat for patientID, or ok=false when none is
// open.
func (c *Coordinator) Session(patientID string) (Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	sess := c.sessions[patientID]
	if sess == nil {
		return Session{}, false
	}
	out := *sess
	out.Messages = append([]Message(nil), sess.Messages...)
	if sess.Agent != nil {
		a := *sess.Agent
		out.Agent = &a
	}
	return out, true
}

func (c *Coordinator) insertLocked(entry QueueEntry) {
	if _, ok := c.queued[entry.PatientID]; ok {
		return
	}
	c.queued[entry.PatientID] = entry
	c.order = append(c.order, entry.PatientID)
}

func (c *Coordinator) removeLocked(patientID string) bool {
	if _, ok := c.queued[patientID]; !ok {
		return false
	}
	delete(c.queued, patientID)
	for i, id := range c.order {
		if id == patientID {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	return true
}

// handleNew is an idempotent insert into the shared queue view.
func (c *Coordinator) handleNew(frame protocol.Frame) {
	var p protocol.ChatNewPayload
	if err := frame.Decode(&p); err != nil {
		log.Debug().Err(err).Msg("dropping malformed chat:new")
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.insertLocked(QueueEntry{PatientID: p.PatientID, Name: p.Name, At: p.At})
}

// handleAssigned applies the authoritative claim broadcast. The queue entry
// is removed on every client; a session opens only for the winning agent and
// the patient in question. A second broadcast for the same patient finds the
// entry gone and an open session, so it is a no-op.
func (c *Coordinator) handleAssigned(frame protocol.Frame) {
	var p protocol.ChatAssignedPayload
	if err := frame.Decode(&p); err != nil {
		log.Debug().Err(err).Msg("dropping malformed chat:assigned")
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	removed := c.removeLocked(p.PatientID)

	if sess := c.sessions[p.PatientID]; sess != nil {
		// Patient side: bind the agent once; stale claims change nothing.
		if sess.Status == StatusQueued {
			sess.Status = StatusAssigned
			agent := p.Agent
			sess.Agent = &agent
		}
		return
	}

	// A broadcast that found no queue entry is stale: an earlier one already
	// settled this chat.
	if removed && p.Agent.ID == c.identity.UserID {
		agent := p.Agent
		c.sessions[p.PatientID] = &Session{
			PatientID: p.PatientID,
			Agent:     &agent,
			Status:    StatusAssigned,
		}
	}
}

// handleMessage appends to the matched chat only, in arrival order.
func (c *Coordinator) handleMessage(frame protocol.Frame) {
	var p protocol.ChatMessagePayload
	if err := frame.Decode(&p); err != nil {
		log.Debug().Err(err).Msg("dropping malformed chat:message")
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	sess := c.sessions[p.PatientID]
	if sess == nil || sess.Status != StatusAssigned {
		return
	}
	sess.Messages = append(sess.Messages, Message{
		ID:    p.MessageID,
		From:  p.From,
		Body:  p.Body,
		Image: p.Image,
		At:    p.At,
	})
}

// handleEnded closes the chat and discards its transcript from the live
// view. It serves both the confirmation of our own end and the peer hanging
// up first.
func (c *Coordinator) handleEnded(frame protocol.Frame) {
	var p protocol.ChatEndPayload
	if err := frame.Decode(&p); err != nil {
		log.Debug().Err(err).Msg("dropping malformed chat end")
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if timer := c.endTimers[p.PatientID]; timer != nil {
		timer.Stop()
		delete(c.endTimers, p.PatientID)
	}
	c.removeLocked(p.PatientID)
	delete(c.sessions, p.PatientID)
}

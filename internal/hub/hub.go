// Package hub is the relay's routing core. A single Run goroutine owns every
// connection, the active-request registry, and the chat queue, so routing
// decisions (including first-wins chat claims) never race.
package hub

import (
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/weheal/lifeline/internal/protocol"
)

const (
	RolePatient = "patient"
	RoleDriver  = "driver"
	RoleAgent   = "agent"
)

type requestEntry struct {
	patientID string
	driverID  string
}

type chatEntry struct {
	agentID string
}

type inbound struct {
	client *Client
	frame  protocol.Frame
}

// Hub routes frames between authenticated clients.
type Hub struct {
	register   chan *Client
	unregister chan *Client
	inbound    chan inbound

	clients   map[*Client]bool
	byUser    map[string]*Client
	requests  map[string]*requestEntry
	chats     map[string]*chatEntry
	queue     map[string]protocol.ChatNewPayload
	queueOrder []string
}

func New() *Hub {
	return &Hub{
		register:   make(chan *Client),
		unregister: make(chan *Client),
		inbound:    make(chan inbound, 64),
		clients:    make(map[*Client]bool),
		byUser:     make(map[string]*Client),
		requests:   make(map[string]*requestEntry),
		chats:      make(map[string]*chatEntry),
		queue:      make(map[string]protocol.ChatNewPayload),
	}
}

// Run owns all hub state. Start exactly once.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.clients[client] = true
			connectedClients.Set(float64(len(h.clients)))
		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				if client.authed && h.byUser[client.userID] == client {
					delete(h.byUser, client.userID)
				}
				close(client.send)
			}
			connectedClients.Set(float64(len(h.clients)))
		case in := <-h.inbound:
			h.route(in.client, in.frame)
		}
	}
}

func (h *Hub) route(c *Client, frame protocol.Frame) {
	if frame.Type == protocol.TypeAuthenticate {
		h.handleAuthenticate(c, frame)
		return
	}
	if !c.authed {
		framesDropped.WithLabelValues("unauthenticated").Inc()
		return
	}

	switch frame.Type {
	case protocol.TypeNewRequest:
		h.handleNewRequest(c, frame)
	case protocol.TypeAcceptRequest:
		h.handleAcceptRequest(c, frame)
	case protocol.TypeDriverStatusUpdate:
		h.handleDriverStatus(c, frame)
	case protocol.TypeCancelRequest:
		h.handleCancelRequest(c, frame)
	case protocol.TypeChatNew:
		h.handleChatNew(c, frame)
	case protocol.TypeChatAssign:
		h.handleChatAssign(c, frame)
	case protocol.TypeChatMessage:
		h.handleChatMessage(c, frame)
	case protocol.TypeChatEnd:
		h.handleChatEnd(c, frame)
	default:
		framesDropped.WithLabelValues("unroutable").Inc()
	}
}

// handleAuthenticate binds the frame identity to the connection. The claimed
// identity must match what the JWT carried at upgrade time.
func (h *Hub) handleAuthenticate(c *Client, frame protocol.Frame) {
	var p protocol.AuthPayload
	if err := frame.Decode(&p); err != nil {
		framesDropped.WithLabelValues("malformed").Inc()
		return
	}
	role := strings.ToLower(p.UserType)
	if p.UserID != c.claimUserID || role != strings.ToLower(c.claimRole) {
		log.Warn().Str("user", p.UserID).Msg("authenticate does not match token claims; closing")
		h.drop(c)
		return
	}
	c.userID = p.UserID
	c.role = role
	c.authed = true
	h.byUser[p.UserID] = c
	framesRouted.WithLabelValues(string(frame.Type)).Inc()
	log.Info().Str("user", c.userID).Str("role", c.role).Msg("client authenticated")

	// Late-joining agents still need the backlog of waiting patients.
	if c.role == RoleAgent {
		for _, id := range h.queueOrder {
			entry, ok := h.queue[id]
			if !ok {
				continue
			}
			if f, err := protocol.NewFrame(protocol.TypeChatNew, entry); err == nil {
				h.sendTo(c, f)
			}
		}
	}
}

func (h *Hub) handleNewRequest(c *Client, frame protocol.Frame) {
	var p protocol.NewRequestPayload
	if err := frame.Decode(&p); err != nil {
		framesDropped.WithLabelValues("malformed").Inc()
		return
	}
	if c.role != RolePatient || p.PatientID != c.userID {
		framesDropped.WithLabelValues("forbidden").Inc()
		return
	}
	if _, ok := h.requests[p.RequestID]; ok {
		framesDropped.WithLabelValues("duplicate").Inc()
		return
	}
	h.requests[p.RequestID] = &requestEntry{patientID: c.userID}
	h.fanOut(RoleDriver, frame)
	framesRouted.WithLabelValues(string(frame.Type)).Inc()
}

// handleAcceptRequest binds the first driver to claim a request and tells
// the patient. Later claims are dropped.
func (h *Hub) handleAcceptRequest(c *Client, frame protocol.Frame) {
	var p protocol.AcceptRequestPayload
	if err := frame.Decode(&p); err != nil {
		framesDropped.WithLabelValues("malformed").Inc()
		return
	}
	entry := h.requests[p.RequestID]
	if c.role != RoleDriver || entry == nil || entry.driverID != "" {
		framesDropped.WithLabelValues("stale_claim").Inc()
		return
	}
	entry.driverID = c.userID

	driver := p.Driver
	if driver == nil {
		driver = &protocol.DriverInfo{}
	}
	if driver.ID == "" {
		driver.ID = c.userID
	}
	update, err := protocol.NewFrame(protocol.TypeRequestStatusUpdate, protocol.StatusUpdatePayload{
		RequestID: p.RequestID,
		Status:    "accepted",
		Driver:    driver,
		Timestamp: frame.Timestamp,
	})
	if err != nil {
		return
	}
	h.sendToUser(entry.patientID, update)
	framesRouted.WithLabelValues(string(frame.Type)).Inc()
}

func (h *Hub) handleDriverStatus(c *Client, frame protocol.Frame) {
	var p protocol.StatusUpdatePayload
	if err := frame.Decode(&p); err != nil {
		framesDropped.WithLabelValues("malformed").Inc()
		return
	}
	entry := h.requests[p.RequestID]
	if entry == nil || entry.driverID != c.userID {
		framesDropped.WithLabelValues("unknown_request").Inc()
		return
	}
	h.sendToUser(entry.patientID, frame)
	framesRouted.WithLabelValues(string(frame.Type)).Inc()
	if p.Status == "completed" || p.Status == "cancelled" {
		delete(h.requests, p.RequestID)
	}
}

// handleCancelRequest confirms the cancellation back to the patient (that
// echo is the client's two-phase ack) and informs the bound driver.
func (h *Hub) handleCancelRequest(c *Client, frame protocol.Frame) {
	var p protocol.CancelRequestPayload
	if err := frame.Decode(&p); err != nil {
		framesDropped.WithLabelValues("malformed").Inc()
		return
	}
	entry := h.requests[p.RequestID]
	if entry == nil || entry.patientID != c.userID {
		framesDropped.WithLabelValues("unknown_request").Inc()
		return
	}
	update, err := protocol.NewFrame(protocol.TypeRequestStatusUpdate, protocol.StatusUpdatePayload{
		RequestID: p.RequestID,
		Status:    "cancelled",
		Timestamp: frame.Timestamp,
	})
	if err != nil {
		return
	}
	h.sendToUser(entry.patientID, update)
	if entry.driverID != "" {
		h.sendToUser(entry.driverID, update)
	}
	delete(h.requests, p.RequestID)
	framesRouted.WithLabelValues(string(frame.Type)).Inc()
}

func (h *Hub) handleChatNew(c *Client, frame protocol.Frame) {
	var p protocol.ChatNewPayload
	if err := frame.Decode(&p); err != nil {
		framesDropped.WithLabelValues("malformed").Inc()
		return
	}
	if p.PatientID != c.userID {
		framesDropped.WithLabelValues("forbidden").Inc()
		return
	}
	if _, ok := h.queue[p.PatientID]; ok {
		framesDropped.WithLabelValues("duplicate").Inc()
		return
	}
	if _, ok := h.chats[p.PatientID]; ok {
		framesDropped.WithLabelValues("duplicate").Inc()
		return
	}
	h.queue[p.PatientID] = p
	h.queueOrder = append(h.queueOrder, p.PatientID)
	h.fanOut(RoleAgent, frame)
	framesRouted.WithLabelValues(string(frame.Type)).Inc()
}

// handleChatAssign resolves the claim race: the first agent wins, the
// broadcast tells everyone, and later claims die here.
func (h *Hub) handleChatAssign(c *Client, frame protocol.Frame) {
	var p protocol.ChatAssignPayload
	if err := frame.Decode(&p); err != nil {
		framesDropped.WithLabelValues("malformed").Inc()
		return
	}
	if c.role != RoleAgent {
		framesDropped.WithLabelValues("forbidden").Inc()
		return
	}
	if _, ok := h.chats[p.PatientID]; ok {
		framesDropped.WithLabelValues("stale_claim").Inc()
		return
	}
	if _, ok := h.queue[p.PatientID]; !ok {
		framesDropped.WithLabelValues("unknown_chat").Inc()
		return
	}
	h.chats[p.PatientID] = &chatEntry{agentID: c.userID}
	h.removeQueued(p.PatientID)

	assigned, err := protocol.NewFrame(protocol.TypeChatAssigned, protocol.ChatAssignedPayload{
		PatientID: p.PatientID,
		Agent:     protocol.AgentInfo{ID: c.userID},
	})
	if err != nil {
		return
	}
	h.fanOut(RoleAgent, assigned)
	h.sendToUser(p.PatientID, assigned)
	framesRouted.WithLabelValues(string(frame.Type)).Inc()
}

// handleChatMessage forwards to the counterpart of the sender.
func (h *Hub) handleChatMessage(c *Client, frame protocol.Frame) {
	var p protocol.ChatMessagePayload
	if err := frame.Decode(&p); err != nil {
		framesDropped.WithLabelValues("malformed").Inc()
		return
	}
	entry := h.chats[p.PatientID]
	if entry == nil {
		framesDropped.WithLabelValues("unknown_chat").Inc()
		return
	}
	switch c.userID {
	case entry.agentID:
		h.sendToUser(p.PatientID, frame)
	case p.PatientID:
		h.sendToUser(entry.agentID, frame)
	default:
		framesDropped.WithLabelValues("forbidden").Inc()
		return
	}
	framesRouted.WithLabelValues(string(frame.Type)).Inc()
}

// handleChatEnd confirms termination to both parties and forgets the chat.
func (h *Hub) handleChatEnd(c *Client, frame protocol.Frame) {
	var p protocol.ChatEndPayload
	if err := frame.Decode(&p); err != nil {
		framesDropped.WithLabelValues("malformed").Inc()
		return
	}
	entry := h.chats[p.PatientID]
	if entry == nil || (c.userID != entry.agentID && c.userID != p.PatientID) {
		framesDropped.WithLabelValues("unknown_chat").Inc()
		return
	}
	ended, err := protocol.NewFrame(protocol.TypeChatEnded, protocol.ChatEndPayload{
		PatientID: p.PatientID,
		By:        c.userID,
	})
	if err != nil {
		return
	}
	h.sendToUser(p.PatientID, ended)
	h.sendToUser(entry.agentID, ended)
	delete(h.chats, p.PatientID)
	framesRouted.WithLabelValues(string(frame.Type)).Inc()
}

func (h *Hub) removeQueued(patientID string) {
	if _, ok := h.queue[patientID]; !ok {
		return
	}
	delete(h.queue, patientID)
	for i, id := range h.queueOrder {
		if id == patientID {
			h.queueOrder = append(h.queueOrder[:i], h.queueOrder[i+1:]...)
			break
		}
	}
}

func (h *Hub) fanOut(role string, frame protocol.Frame) {
	for client := range h.clients {
		if client.authed && client.role == role {
			h.sendTo(client, frame)
		}
	}
}

func (h *Hub) sendToUser(userID string, frame protocol.Frame) {
	if client, ok := h.byUser[userID]; ok {
		h.sendTo(client, frame)
	}
}

// sendTo never blocks the routing loop: a client that cannot keep up is
// dropped, and its session will reconnect.
func (h *Hub) sendTo(c *Client, frame protocol.Frame) {
	select {
	case c.send <- frame:
	default:
		h.drop(c)
	}
}

func (h *Hub) drop(c *Client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	if c.authed && h.byUser[c.userID] == c {
		delete(h.byUser, c.userID)
	}
	close(c.send)
	connectedClients.Set(float64(len(h.clients)))
}

// Package lifecycle tracks the patient's active emergency request: status
// transitions driven by inbound frames, the derived ETA deadline, and
// two-phase cancellation.
package lifecycle

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/weheal/lifeline/internal/bus"
	"github.com/weheal/lifeline/internal/protocol"
)

// ErrRequestActive is returned by Submit while a request is already tracked;
// a patient session owns at most one active request.
var ErrRequestActive = errors.New("lifecycle: a request is already active")

const defaultAckTimeout = 10 * time.Second

// Sender is the slice of the session the controller needs.
type Sender interface {
	Send(t protocol.FrameType, payload any)
}

// Request is the tracked emergency request.
type Request struct {
	ID           string
	PatientID    string
	Status       Status
	Driver       *protocol.DriverInfo
	CreatedAt    time.Time
	LastUpdateAt time.Time
	ETADeadline  *time.Time
}

// Snapshot is what the UI reads.
type Snapshot struct {
	Active        bool
	Request       Request
	Progress      float64
	CancelPending bool
}

// Controller is the per-patient request state machine.
type Controller struct {
	patientID  string
	send       Sender
	bus        *bus.Bus
	ackTimeout time.Duration
	now        func() time.Time

	mu          sync.Mutex
	active      *Request
	cancelTimer *time.Timer
	cancelID    string

	handles []bus.Handle
}

// Option tweaks a controller.
type Option func(*Controller)

// WithAckTimeout sets how long a cancel waits for confirmation before the
// overlay rolls back.
func WithAckTimeout(d time.Duration) Option {
	return func(c *Controller) { c.ackTimeout = d }
}

// WithClock injects the time source. Tests use it to pin ETA math.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// New builds a controller for patientID and subscribes it to status frames
// on b. Call Close to detach.
func New(patientID string, send Sender, b *bus.Bus, opts ...Option) *Controller {
	c := &Controller{
		patientID:  patientID,
		send:       send,
		bus:        b,
		ackTimeout: defaultAckTimeout,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.handles = append(c.handles,
		b.Subscribe(protocol.TypeRequestStatusUpdate, c.handleStatus),
		b.Subscribe(protocol.TypeDriverStatusUpdate, c.handleStatus),
	)
	return c
}

// Close detaches the controller from the bus.
func (c *Controller) Close() {
	for _, h := range c.handles {
		c.bus.Unsubscribe(h)
	}
}

// Submit creates a Pending request, announces it to the relay, and returns
// the assigned id. Fails while another request is active.
func (c *Controller) Submit(location, note string) (string, error) {
	c.mu.Lock()
	if c.active != nil {
		c.mu.Unlock()
		return "", ErrRequestActive
	}
	now := c.now()
	req := &Request{
		ID:           uuid.NewString(),
		PatientID:    c.patientID,
		Status:       StatusPending,
		CreatedAt:    now,
		LastUpdateAt: now,
	}
	c.active = req
	id := req.ID
	c.mu.Unlock()

	c.send.Send(protocol.TypeNewRequest, protocol.NewRequestPayload{
		RequestID: id,
		PatientID: c.patientID,
		Location:  location,
		Note:      note,
	})
	return id, nil
}

// Cancel asks the relay to abandon the active request. The request stays
// tracked with a cancel-pending overlay until the cancelled broadcast
// confirms it; if no confirmation arrives within the ack timeout the overlay
// rolls back and the request keeps its last known status.
func (c *Controller) Cancel() {
	c.mu.Lock()
	if c.active == nil || c.cancelTimer != nil {
		c.mu.Unlock()
		return
	}
	id := c.active.ID
	c.cancelID = id
	c.cancelTimer = time.AfterFunc(c.ackTimeout, func() { c.rollbackCancel(id) })
	c.mu.Unlock()

	c.send.Send(protocol.TypeCancelRequest, protocol.CancelRequestPayload{
		RequestID: id,
		PatientID: c.patientID,
	})
}

func (c *Controller) rollbackCancel(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancelID != id || c.cancelTimer == nil {
		return
	}
	c.clearCancelLocked()
	log.Warn().Str("request", id).Msg("cancel unconfirmed; keeping request active")
}

func (c *Controller) clearCancelLocked() {
	if c.cancelTimer != nil {
		c.cancelTimer.Stop()
		c.cancelTimer = nil
	}
	c.cancelID = ""
}

// Snapshot returns the UI view of the active request. Active is false when
// nothing is tracked.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil {
		return Snapshot{}
	}
	req := *c.active
	if c.active.Driver != nil {
		d := *c.active.Driver
		req.Driver = &d
	}
	if c.active.ETADeadline != nil {
		t := *c.active.ETADeadline
		req.ETADeadline = &t
	}
	return Snapshot{
		Active:        true,
		Request:       req,
		Progress:      Progress(req.Status),
		CancelPending: c.cancelTimer != nil,
	}
}

// handleStatus applies an inbound status frame. Frames for ids other than
// the tracked request are ignored, which also makes late frames for a
// cleared terminal request harmless.
func (c *Controller) handleStatus(frame protocol.Frame) {
	var p protocol.StatusUpdatePayload
	if err := frame.Decode(&p); err != nil {
		log.Debug().Err(err).Msg("dropping malformed status update")
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil || c.active.ID != p.RequestID {
		return
	}

	status := Status(p.Status)
	c.active.Status = status
	c.active.LastUpdateAt = c.now()
	if p.Driver != nil {
		c.active.Driver = mergeDriver(c.active.Driver, p.Driver)
	}
	if window, ok := etaWindow[status]; ok {
		deadline := c.now().Add(window)
		c.active.ETADeadline = &deadline
	} else {
		c.active.ETADeadline = nil
	}

	if Terminal(status) {
		c.clearCancelLocked()
		c.active = nil
	}
}

// mergeDriver overlays the non-empty fields of update onto base.
func mergeDriver(base, update *protocol.DriverInfo) *protocol.DriverInfo {
	if base == nil {
		d := *update
		return &d
	}
	merged := *base
	if update.ID != "" {
		merged.ID = update.ID
	}
	if update.Name != "" {
		merged.Name = update.Name
	}
	if update.Phone != "" {
		merged.Phone = update.Phone
	}
	if update.Vehicle != "" {
		merged.Vehicle = update.Vehicle
	}
	return &merged
}

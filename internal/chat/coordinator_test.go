package chat

import (
	"sync"
	"testing"
	"time"

	"github.com/weheal/lifeline/internal/bus"
	"github.com/weheal/lifeline/internal/models"
	"github.com/weheal/lifeline/internal/protocol"
)

type recordingSender struct {
	mu     sync.Mutex
	frames []protocol.Frame
}

func (r *recordingSender) Send(t protocol.FrameType, payload any) {
	f, _ := protocol.NewFrame(t, payload)
	r.mu.Lock()
	r.frames = append(r.frames, f)
	r.mu.Unlock()
}

func (r *recordingSender) types() []protocol.FrameType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]protocol.FrameType, len(r.frames))
	for i, f := range r.frames {
		out[i] = f.Type
	}
	return out
}

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newAgent(t *testing.T, id string, opts ...Option) (*Coordinator, *recordingSender, *bus.Bus) {
	t.Helper()
	return newCoordinator(t, models.Identity{UserID: id, Role: "agent"}, opts...)
}

func newPatient(t *testing.T, id string, opts ...Option) (*Coordinator, *recordingSender, *bus.Bus) {
	t.Helper()
	return newCoordinator(t, models.Identity{UserID: id, Role: "patient"}, opts...)
}

func newCoordinator(t *testing.T, identity models.Identity, opts ...Option) (*Coordinator, *recordingSender, *bus.Bus) {
	t.Helper()
	sender := &recordingSender{}
	b := bus.New()
	opts = append([]Option{WithClock(func() time.Time { return fixedNow })}, opts...)
	c := New(identity, sender, b, opts...)
	t.Cleanup(c.Close)
	return c, sender, b
}

func mustFrame(t *testing.T, ft protocol.FrameType, payload any) protocol.Frame {
	t.Helper()
	f, err := protocol.NewFrame(ft, payload)
	if err != nil {
		t.Fatalf("build %s frame: %v", ft, err)
	}
	return f
}

func chatNew(t *testing.T, patientID string) protocol.Frame {
	return mustFrame(t, protocol.TypeChatNew, protocol.ChatNewPayload{PatientID: patientID, At: fixedNow})
}

func assigned(t *testing.T, patientID, agentID string) protocol.Frame {
	return mustFrame(t, protocol.TypeChatAssigned, protocol.ChatAssignedPayload{
		PatientID: patientID,
		Agent:     protocol.AgentInfo{ID: agentID},
	})
}

func TestQueueInsertIsIdempotent(t *testing.T) {
	c, _, b := newAgent(t, "a1")

	b.Dispatch(chatNew(t, "p1"))
	b.Dispatch(chatNew(t, "p1"))
	b.Dispatch(chatNew(t, "p2"))

	queue := c.Queue()
	if len(queue) != 2 {
		t.Fatalf("queue length = %d, want 2", len(queue))
	}
	if queue[0].PatientID != "p1" || queue[1].PatientID != "p2" {
		t.Fatalf("queue order = %+v", queue)
	}
}

func TestAssignmentRace(t *testing.T) {
	// Agents a1 and a2 both claimed p1; the relay settled on a1 and everyone
	// receives that one broadcast.
	winner, _, winnerBus := newAgent(t, "a1")
	loser, _, loserBus := newAgent(t, "a2")

	winnerBus.Dispatch(chatNew(t, "p1"))
	loserBus.Dispatch(chatNew(t, "p1"))

	winnerBus.Dispatch(assigned(t, "p1", "a1"))
	loserBus.Dispatch(assigned(t, "p1", "a1"))

	if sess, ok := winner.Session("p1"); !ok || sess.Status != StatusAssigned {
		t.Fatalf("winner session = %+v, ok=%v, want assigned", sess, ok)
	}
	if _, ok := loser.Session("p1"); ok {
		t.Fatal("losing agent opened a session")
	}
	if len(winner.Queue()) != 0 || len(loser.Queue()) != 0 {
		t.Fatal("queue entry survived the assignment broadcast")
	}
}

func TestDuplicateAssignedBroadcastIsNoOp(t *testing.T) {
	c, _, b := newAgent(t, "a1")
	b.Dispatch(chatNew(t, "p1"))
	b.Dispatch(assigned(t, "p1", "a1"))

	// A stale second broadcast, even one naming another agent, changes
	// nothing anywhere.
	b.Dispatch(assigned(t, "p1", "a1"))
	b.Dispatch(assigned(t, "p1", "a2"))

	sess, ok := c.Session("p1")
	if !ok || sess.Agent == nil || sess.Agent.ID != "a1" {
		t.Fatalf("session = %+v, ok=%v, want bound to a1", sess, ok)
	}
}

func TestStaleAssignedForOtherAgentOpensNothing(t *testing.T) {
	c, _, b := newAgent(t, "a2")
	b.Dispatch(chatNew(t, "p1"))
	b.Dispatch(assigned(t, "p1", "a1"))

	// A stale broadcast naming us after the chat settled elsewhere.
	b.Dispatch(assigned(t, "p1", "a2"))

	if _, ok := c.Session("p1"); ok {
		t.Fatal("stale broadcast opened a session")
	}
}

func TestPatientSideAssignment(t *testing.T) {
	c, sender, b := newPatient(t, "p1")

	c.RequestChat("Pat")
	if got := sender.types(); len(got) != 1 || got[0] != protocol.TypeChatNew {
		t.Fatalf("sent = %v, want one chat:new", got)
	}

	// Duplicate requests do not queue twice.
	c.RequestChat("Pat")
	if got := sender.types(); len(got) != 1 {
		t.Fatalf("duplicate request sent %d frames, want 1", len(got))
	}

	sess, ok := c.Session("p1")
	if !ok || sess.Status != StatusQueued {
		t.Fatalf("session = %+v, ok=%v, want queued", sess, ok)
	}

	b.Dispatch(assigned(t, "p1", "a1"))
	sess, _ = c.Session("p1")
	if sess.Status != StatusAssigned || sess.Agent == nil || sess.Agent.ID != "a1" {
		t.Fatalf("session = %+v, want assigned to a1", sess)
	}
}

func TestMessagesAppendToMatchedChatOnly(t *testing.T) {
	c, _, b := newAgent(t, "a1")
	b.Dispatch(chatNew(t, "p1"))
	b.Dispatch(assigned(t, "p1", "a1"))

	b.Dispatch(mustFrame(t, protocol.TypeChatMessage, protocol.ChatMessagePayload{
		PatientID: "p1", From: "p1", Body: "hello", At: fixedNow,
	}))
	b.Dispatch(mustFrame(t, protocol.TypeChatMessage, protocol.ChatMessagePayload{
		PatientID: "p9", From: "p9", Body: "wrong chat", At: fixedNow,
	}))

	c.SendMessage("p1", "hi, how can I help")
	c.SendImage("p1", "data:image/png;base64,AAAA")

	sess, _ := c.Session("p1")
	if len(sess.Messages) != 3 {
		t.Fatalf("transcript length = %d, want 3", len(sess.Messages))
	}
	if sess.Messages[0].From != "p1" || sess.Messages[1].Body != "hi, how can I help" {
		t.Fatalf("transcript order = %+v", sess.Messages)
	}
	if sess.Messages[2].Image == "" {
		t.Fatal("image message lost its payload")
	}
}

func TestSendOnUnassignedChatIsDropped(t *testing.T) {
	c, sender, _ := newAgent(t, "a1")
	c.SendMessage("p1", "nobody home")
	if got := sender.types(); len(got) != 0 {
		t.Fatalf("sent = %v, want nothing", got)
	}
}

func TestEndConfirmsAndDiscardsTranscript(t *testing.T) {
	c, sender, b := newAgent(t, "a1", WithAckTimeout(time.Minute))
	b.Dispatch(chatNew(t, "p1"))
	b.Dispatch(assigned(t, "p1", "a1"))
	c.SendMessage("p1", "hello")

	c.End("p1")
	sess, ok := c.Session("p1")
	if !ok || !sess.EndPending || sess.Status != StatusAssigned {
		t.Fatalf("session = %+v, ok=%v, want assigned end-pending", sess, ok)
	}
	if got := sender.types(); got[len(got)-1] != protocol.TypeChatEnd {
		t.Fatalf("sent = %v, want chat:end last", got)
	}

	b.Dispatch(mustFrame(t, protocol.TypeChatEnded, protocol.ChatEndPayload{PatientID: "p1", By: "a1"}))
	if _, ok := c.Session("p1"); ok {
		t.Fatal("session survived chat:ended")
	}
}

func TestEndRollsBackWithoutAck(t *testing.T) {
	c, _, b := newAgent(t, "a1", WithAckTimeout(5*time.Millisecond))
	b.Dispatch(chatNew(t, "p1"))
	b.Dispatch(assigned(t, "p1", "a1"))

	c.End("p1")

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if sess, ok := c.Session("p1"); ok && !sess.EndPending {
			if sess.Status != StatusAssigned {
				t.Fatalf("rolled-back session = %+v, want assigned", sess)
			}
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("end overlay never rolled back")
}

func TestPeerEndClosesSession(t *testing.T) {
	c, _, b := newAgent(t, "a1")
	b.Dispatch(chatNew(t, "p1"))
	b.Dispatch(assigned(t, "p1", "a1"))

	b.Dispatch(mustFrame(t, protocol.TypeChatEnd, protocol.ChatEndPayload{PatientID: "p1", By: "p1"}))

	if _, ok := c.Session("p1"); ok {
		t.Fatal("session survived the peer hanging up")
	}
}

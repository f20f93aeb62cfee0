// Package swap runs the four-message handshake that exchanges two members'
// characters without a cross-row transaction. Each participant owns one
// Negotiator, driven single-threaded by its session actor; all storage
// mutation goes through the guarded character write, so a stale step fails
// the guard instead of corrupting ownership.
package swap

import (
	"context"
	"errors"
	"time"
)

// Wire events carried on the room broadcast channel.
const (
	EventRequest  = "swap_request"
	EventDecline  = "swap_decline"
	EventVacated  = "swap_vacated"
	EventTakeDone = "swap_take_done"
)

// Request opens a negotiation: the initiator proposes exchanging characters
// with the acceptor. Character fields carry the values the initiator saw so
// the acceptor can reject a stale proposal outright.
type Request struct {
	RoomID   string `json:"room_id"`
	FromUID  string `json:"from_uid"`
	ToUID    string `json:"to_uid"`
	FromChar string `json:"from_char"`
	ToChar   string `json:"to_char"`
}

// Decline terminates a negotiation. FromUID/ToUID keep the initiator and
// acceptor roles regardless of which side declined.
type Decline struct {
	RoomID  string `json:"room_id"`
	FromUID string `json:"from_uid"`
	ToUID   string `json:"to_uid"`
	Reason  string `json:"reason,omitempty"`
}

// Vacated tells the initiator the acceptor released its character.
type Vacated struct {
	RoomID      string `json:"room_id"`
	VacatedUID  string `json:"vacated_uid"`
	ToUID       string `json:"to_uid"`
	VacatedChar string `json:"vacated_char"`
	OtherChar   string `json:"other_char"`
}

// TakeDone tells the acceptor the initiator took the vacated character, and
// which character the initiator gave up.
type TakeDone struct {
	RoomID           string `json:"room_id"`
	FromUID          string `json:"from_uid"`
	ToUID            string `json:"to_uid"`
	InitiatorOldChar string `json:"initiator_old_char"`
}

// State is the local negotiation state of one participant.
type State int

const (
	// StateIdle means no negotiation is in flight.
	StateIdle State = iota
	// StateRequestSent means we initiated and await vacate or decline.
	StateRequestSent
	// StateRequestReceived means we hold an unanswered incoming request.
	StateRequestReceived
	// StateVacateSent means we vacated our character and await take-done.
	StateVacateSent
)

var (
	// ErrBusy is returned when a member already has an outstanding
	// negotiation; at most one at a time, as initiator or acceptor.
	ErrBusy = errors.New("negotiation already in progress")
	// ErrNoCharacter is returned when either party holds no character at
	// request time.
	ErrNoCharacter = errors.New("both members need a character to swap")
	// ErrBadState is returned when a step arrives in a state that cannot
	// consume it.
	ErrBadState = errors.New("unexpected negotiation state")
	// ErrStale is returned when a step's staleness guard failed against the
	// local replica before any write was attempted.
	ErrStale = errors.New("negotiation state is stale")
	// ErrSeatless is returned when the acceptor's final take fails, leaving
	// it with no character. Surfaced, never swallowed.
	ErrSeatless = errors.New("swap completed for initiator but acceptor take failed")
)

// View exposes the session's locally-known room state. Staleness guards
// consult it at every step instead of trusting values carried forward.
type View interface {
	CharacterOf(uid string) *string
}

// CharacterWriter is the guarded compare-and-swap write into the membership
// store. Implemented by core.Rooms.
type CharacterWriter interface {
	SelectCharacter(ctx context.Context, roomID, uid string, next, expected *string) error
}

// Negotiator is one participant's swap state machine. Not safe for
// concurrent use: the owning session serializes all calls.
type Negotiator struct {
	roomID  string
	selfUID string
	view    View
	writer  CharacterWriter
	timeout time.Duration

	state    State
	peerUID  string
	incoming *Request
	deadline time.Time
}

// NewNegotiator constructs an idle negotiator for one room member.
func NewNegotiator(roomID, selfUID string, view View, writer CharacterWriter, timeout time.Duration) *Negotiator {
	return &Negotiator{
		roomID:  roomID,
		selfUID: selfUID,
		view:    view,
		writer:  writer,
		timeout: timeout,
	}
}

// State returns the current negotiation state.
func (n *Negotiator) State() State { return n.state }

// PeerUID returns the counterpart of the in-flight negotiation, if any.
func (n *Negotiator) PeerUID() string { return n.peerUID }

// Incoming returns the pending request when in StateRequestReceived.
func (n *Negotiator) Incoming() *Request { return n.incoming }

// Begin initiates a swap with the given member. Both sides must currently
// hold a character; the returned request carries the values we saw.
func (n *Negotiator) Begin(now time.Time, toUID string) (*Request, error) {
	if n.state != StateIdle {
		return nil, ErrBusy
	}
	if toUID == n.selfUID || toUID == "" {
		return nil, ErrStale
	}

	selfChar := n.view.CharacterOf(n.selfUID)
	peerChar := n.view.CharacterOf(toUID)
	if selfChar == nil || peerChar == nil {
		return nil, ErrNoCharacter
	}

	n.state = StateRequestSent
	n.peerUID = toUID
	n.deadline = now.Add(n.timeout)

	return &Request{
		RoomID:   n.roomID,
		FromUID:  n.selfUID,
		ToUID:    toUID,
		FromChar: *selfChar,
		ToChar:   *peerChar,
	}, nil
}

// HandleRequest consumes an incoming request. It is accepted into
// StateRequestReceived only when we are idle and the request's character
// values still match what we currently know; everything else is dropped
// (the initiator's timeout cleans up).
func (n *Negotiator) HandleRequest(now time.Time, req *Request) bool {
	if req == nil || req.RoomID != n.roomID || req.ToUID != n.selfUID {
		return false
	}
	if n.state != StateIdle {
		return false
	}
	if req.FromChar == "" || req.ToChar == "" {
		return false
	}

	selfChar := n.view.CharacterOf(n.selfUID)
	peerChar := n.view.CharacterOf(req.FromUID)
	if selfChar == nil || *selfChar != req.ToChar {
		return false
	}
	if peerChar == nil || *peerChar != req.FromChar {
		return false
	}

	n.state = StateRequestReceived
	n.peerUID = req.FromUID
	n.incoming = req
	n.deadline = now.Add(n.timeout)
	return true
}

// Decline rejects the pending incoming request and returns the message to
// send back to the initiator. No storage is touched.
func (n *Negotiator) Decline(reason string) (*Decline, error) {
	if n.state != StateRequestReceived || n.incoming == nil {
		return nil, ErrBadState
	}
	msg := &Decline{
		RoomID:  n.roomID,
		FromUID: n.incoming.FromUID,
		ToUID:   n.selfUID,
		Reason:  reason,
	}
	n.reset()
	return msg, nil
}

// HandleDecline terminates the in-flight negotiation if the decline belongs
// to it. Returns true when a negotiation was actually torn down.
func (n *Negotiator) HandleDecline(d *Decline) bool {
	if d == nil || d.RoomID != n.roomID || n.state == StateIdle {
		return false
	}
	// The role fields name initiator and acceptor; we are one of them and
	// the peer must be the other.
	involved := (d.FromUID == n.selfUID && d.ToUID == n.peerUID) ||
		(d.ToUID == n.selfUID && d.FromUID == n.peerUID)
	if !involved {
		return false
	}
	n.reset()
	return true
}

// Accept vacates our character (acceptor side, step 3). On success the
// returned Vacated message must be sent to the initiator. A guard conflict
// means our character changed underneath the negotiation; it aborts locally.
func (n *Negotiator) Accept(ctx context.Context, now time.Time) (*Vacated, error) {
	if n.state != StateRequestReceived || n.incoming == nil {
		return nil, ErrBadState
	}

	// Re-validate against the request's values, not just non-nil: either side
	// may have re-picked since the request arrived, and accepting then would
	// vacate (and later hand the initiator) a character nobody agreed on.
	selfChar := n.view.CharacterOf(n.selfUID)
	peerChar := n.view.CharacterOf(n.peerUID)
	if selfChar == nil || *selfChar != n.incoming.ToChar {
		n.reset()
		return nil, ErrStale
	}
	if peerChar == nil || *peerChar != n.incoming.FromChar {
		n.reset()
		return nil, ErrStale
	}

	// Guard on the request's value so a replica that lags a self re-pick is
	// still caught by the store.
	expected := n.incoming.ToChar
	if err := n.writer.SelectCharacter(ctx, n.roomID, n.selfUID, nil, &expected); err != nil {
		n.reset()
		return nil, err
	}

	msg := &Vacated{
		RoomID:      n.roomID,
		VacatedUID:  n.selfUID,
		ToUID:       n.peerUID,
		VacatedChar: n.incoming.ToChar,
		OtherChar:   n.incoming.FromChar,
	}
	n.state = StateVacateSent
	n.incoming = nil
	n.deadline = now.Add(n.timeout)
	return msg, nil
}

// HandleVacated performs the initiator's take (step 4). On success the
// TakeDone message must be relayed to the acceptor; on a guard conflict the
// negotiation aborts and the returned Decline must be sent instead so the
// acceptor is not left waiting.
func (n *Negotiator) HandleVacated(ctx context.Context, msg *Vacated) (*TakeDone, *Decline, error) {
	if msg == nil || msg.RoomID != n.roomID || msg.ToUID != n.selfUID {
		return nil, nil, ErrBadState
	}
	if n.state != StateRequestSent || msg.VacatedUID != n.peerUID {
		return nil, nil, ErrBadState
	}

	selfChar := n.view.CharacterOf(n.selfUID)
	if selfChar == nil || *selfChar != msg.OtherChar {
		decline := n.abortDecline("initiator character changed")
		return nil, decline, ErrStale
	}

	if err := n.writer.SelectCharacter(ctx, n.roomID, n.selfUID, &msg.VacatedChar, selfChar); err != nil {
		decline := n.abortDecline(err.Error())
		return nil, decline, err
	}

	done := &TakeDone{
		RoomID:           n.roomID,
		FromUID:          n.selfUID,
		ToUID:            n.peerUID,
		InitiatorOldChar: msg.OtherChar,
	}
	n.reset()
	return done, nil, nil
}

// HandleTakeDone performs the acceptor's final take (step 5). A failure here
// leaves the acceptor without a character; that structural edge case is
// surfaced as ErrSeatless and never silently dropped.
func (n *Negotiator) HandleTakeDone(ctx context.Context, msg *TakeDone) error {
	if msg == nil || msg.RoomID != n.roomID || msg.ToUID != n.selfUID {
		return ErrBadState
	}
	if n.state != StateVacateSent || msg.FromUID != n.peerUID {
		return ErrBadState
	}

	defer n.reset()

	if msg.InitiatorOldChar == "" {
		return ErrSeatless
	}
	if err := n.writer.SelectCharacter(ctx, n.roomID, n.selfUID, &msg.InitiatorOldChar, nil); err != nil {
		return errors.Join(ErrSeatless, err)
	}
	return nil
}

// Tick expires an overdue negotiation. Returns true with the abandoned peer
// uid when a timeout fired; the session uses it to release any waiting UI.
func (n *Negotiator) Tick(now time.Time) (bool, string) {
	if n.state == StateIdle || now.Before(n.deadline) {
		return false, ""
	}
	peer := n.peerUID
	n.reset()
	return true, peer
}

// abortDecline builds the decline for an initiator-side abort and resets.
func (n *Negotiator) abortDecline(reason string) *Decline {
	d := &Decline{
		RoomID:  n.roomID,
		FromUID: n.selfUID,
		ToUID:   n.peerUID,
		Reason:  reason,
	}
	n.reset()
	return d
}

func (n *Negotiator) reset() {
	n.state = StateIdle
	n.peerUID = ""
	n.incoming = nil
	n.deadline = time.Time{}
}

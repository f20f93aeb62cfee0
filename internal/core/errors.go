package core

import "errors"

// Error codes for domain errors.
const (
	ErrCodeRoomNotFound         = "room_not_found"
	ErrCodeNotJoinable          = "not_joinable"
	ErrCodeNotMember            = "not_member"
	ErrCodeNotHost              = "not_host"
	ErrCodeNotAllReady          = "not_all_ready"
	ErrCodeConflict             = "conflict"
	ErrCodeAllocationExhausted  = "allocation_exhausted"
	ErrCodeSeatAllocExhausted   = "seat_allocation_exhausted"
	ErrCodeConsistencyViolation = "consistency_violation"
	ErrCodePartialCreate        = "room_created_membership_failed"
	ErrCodeCharacterUnavailable = "character_unavailable"
	ErrCodeBadRequest           = "bad_request"
)

var (
	// ErrRoomNotFound is returned when no room matches the given code or id.
	ErrRoomNotFound = errors.New("room not found")
	// ErrNotJoinable is returned when the room has left the lobby state.
	ErrNotJoinable = errors.New("room is not joinable")
	// ErrNotMember is returned when the caller is not a member of the room.
	ErrNotMember = errors.New("not a member of the room")
	// ErrNotHost is returned when a host-only operation is attempted by a
	// non-host member.
	ErrNotHost = errors.New("caller is not the host")
	// ErrNotAllReady is returned when the match is started before every
	// member is ready.
	ErrNotAllReady = errors.New("not all members are ready")
	// ErrConflict is returned when a guarded write lost a race. Bounded
	// retries happen below this error; callers see it only after they are
	// exhausted or, for swap steps, immediately.
	ErrConflict = errors.New("conflict")
	// ErrAllocationExhausted is returned when room code generation keeps
	// colliding past the retry bound.
	ErrAllocationExhausted = errors.New("room code allocation exhausted")
	// ErrSeatAllocationExhausted is returned when seat allocation keeps
	// losing races past the retry bound.
	ErrSeatAllocationExhausted = errors.New("seat allocation exhausted")
	// ErrConsistency signals an invariant breach (e.g. a leave deleted an
	// unexpected number of rows). Never retried; dependent steps abort.
	ErrConsistency = errors.New("consistency violation")
	// ErrPartialCreate is returned when the room row was created but the
	// host's member row was not. The room exists; recover via join.
	ErrPartialCreate = errors.New("room created but membership insert failed")
	// ErrCharacterUnavailable is returned when selecting a character that is
	// unknown or disabled.
	ErrCharacterUnavailable = errors.New("character unavailable")
)

// CodeOf maps a domain error to its wire code.
func CodeOf(err error) string {
	switch {
	case errors.Is(err, ErrRoomNotFound):
		return ErrCodeRoomNotFound
	case errors.Is(err, ErrNotJoinable):
		return ErrCodeNotJoinable
	case errors.Is(err, ErrNotMember):
		return ErrCodeNotMember
	case errors.Is(err, ErrNotHost):
		return ErrCodeNotHost
	case errors.Is(err, ErrNotAllReady):
		return ErrCodeNotAllReady
	case errors.Is(err, ErrAllocationExhausted):
		return ErrCodeAllocationExhausted
	case errors.Is(err, ErrSeatAllocationExhausted):
		return ErrCodeSeatAllocExhausted
	case errors.Is(err, ErrConsistency):
		return ErrCodeConsistencyViolation
	case errors.Is(err, ErrPartialCreate):
		return ErrCodePartialCreate
	case errors.Is(err, ErrCharacterUnavailable):
		return ErrCodeCharacterUnavailable
	case errors.Is(err, ErrConflict):
		return ErrCodeConflict
	default:
		return "internal"
	}
}

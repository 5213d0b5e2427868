package chat

import "errors"

// Error taxonomy for the messaging core. Frame-level errors
// (ErrInvalidFrame and friends) are answered to the sender only and never
// terminate the session; ErrUnauthenticated and ErrForbidden refuse the
// connection or action outright.
var (
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrForbidden       = errors.New("not a participant of this conversation")

	ErrInvalidFrame       = errors.New("invalid frame")
	ErrEmptyContent       = errors.New("message content is empty")
	ErrAttachmentRequired = errors.New("attachment is required for this message type")
	ErrInvalidReply       = errors.New("reply target does not belong to this conversation")
	ErrUnknownReaction    = errors.New("unknown reaction type")

	ErrNotFound    = errors.New("not found")
	ErrPersistence = errors.New("persistence failure")

	ErrDirectParticipants = errors.New("direct conversation requires exactly two participants")
	ErrNoParticipants     = errors.New("conversation requires at least one participant")
)

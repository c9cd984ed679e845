package domain

import (
	"errors"
	"fmt"
)

// Error taxonomy. Specific errors wrap one of these so callers can classify
// with errors.Is; anything that matches none of them is an internal error.
var (
	ErrValidation     = errors.New("validation error")
	ErrForbidden      = errors.New("forbidden")
	ErrNotFound       = errors.New("not found")
	ErrUnsupported    = errors.New("unsupported")
	ErrAuthentication = errors.New("authentication error")
)

var (
	ErrUserNotFound         = fmt.Errorf("%w: user not found", ErrNotFound)
	ErrMessageNotFound      = fmt.Errorf("%w: message not found", ErrNotFound)
	ErrConversationNotFound = fmt.Errorf("%w: conversation not found", ErrNotFound)

	ErrNotFriends      = fmt.Errorf("%w: you can only message your friends", ErrForbidden)
	ErrNotMessageOwner = fmt.Errorf("%w: only the message sender can perform this action", ErrForbidden)
	ErrNotParticipant  = fmt.Errorf("%w: not a participant of this conversation", ErrForbidden)

	ErrGroupConversation = fmt.Errorf("%w: group conversations are not implemented", ErrUnsupported)

	ErrCannotMessageSelf = fmt.Errorf("%w: cannot start a conversation with yourself", ErrValidation)
	ErrMessageDeleted    = fmt.Errorf("%w: message has been deleted", ErrValidation)

	ErrMissingCredential = fmt.Errorf("%w: missing credential", ErrAuthentication)
	ErrInvalidCredential = fmt.Errorf("%w: invalid or expired credential", ErrAuthentication)
)

// Kind names the taxonomy member of err.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return "VALIDATION_ERROR"
	case errors.Is(err, ErrForbidden):
		return "FORBIDDEN"
	case errors.Is(err, ErrNotFound):
		return "NOT_FOUND"
	case errors.Is(err, ErrUnsupported):
		return "UNSUPPORTED"
	case errors.Is(err, ErrAuthentication):
		return "UNAUTHORIZED"
	default:
		return "INTERNAL"
	}
}

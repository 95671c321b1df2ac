package lifecycle

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidTransition indicates a status change that the deal or request lifecycle forbids.
	ErrInvalidTransition = errors.New("status transition not allowed")
	// ErrReleaseBlocked indicates an attempt to release escrow before the project is completed.
	ErrReleaseBlocked = fmt.Errorf("%w: payment release requires a completed project held in escrow", ErrInvalidTransition)
	// ErrUnknownStatus indicates a status value outside the known steps.
	ErrUnknownStatus = fmt.Errorf("%w: unknown status", ErrInvalidTransition)
	// ErrRequestResolved indicates the collab request already left the Pending state.
	ErrRequestResolved = errors.New("collab request already resolved")
	// ErrForbidden indicates the acting party may not perform the operation.
	ErrForbidden = errors.New("party not permitted to perform this action")
	// ErrSelfRequest indicates a party tried to propose a collaboration to itself.
	ErrSelfRequest = errors.New("cannot send a collab request to yourself")
	// ErrBlocked indicates a blocked party attempted a lifecycle operation.
	ErrBlocked = errors.New("party is blocked")
)

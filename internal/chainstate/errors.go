package chainstate

import "errors"

var (
	// ErrNoHead is returned when storage holds no chain yet.
	ErrNoHead = errors.New("storage has no head")
	// ErrDivergedChain is returned when the cached block is not an ancestor of the stored head.
	ErrDivergedChain = errors.New("stored chain diverged from cached state")
	// ErrChainVerification is returned when a new block fails ledger verification.
	ErrChainVerification = errors.New("chain verification failed")
	// ErrStorage wraps storage read failures.
	ErrStorage = errors.New("storage error")
	// ErrCoordinatorClosed is returned by Notify once the coordinator stopped.
	ErrCoordinatorClosed = errors.New("coordinator closed")
)

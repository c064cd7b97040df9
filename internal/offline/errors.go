package offline

import (
	"errors"
	"fmt"

	"go.uber.org/zap"
)

var (
	// ErrUnknownOperationType indicates an operation type the manager cannot replay.
	ErrUnknownOperationType = errors.New("offline: unknown operation type")

	errMissingStore  = errors.New("key-value store is required")
	errMissingRemote = errors.New("remote is required")
	errInvalidReplay = errors.New("replay order must be fifo or lifo")
	noOpLogger       = zap.NewNop()
)

// ServiceError carries a stable code of the form <operation>.<reason>.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opManagerNew = "offline.manager.new"
	opQueue      = "offline.queue_for_sync"
	opDrain      = "offline.sync"
	opPersist    = "offline.persist"
	opCache      = "offline.store_data"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

package types

import "errors"

var (
	// ErrCapacityExceeded means a file would grow past the 2^31-1 byte mapping limit.
	ErrCapacityExceeded = errors.New("mapped capacity exceeded")
	// ErrInvalidArgument is returned before any mutation happens.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrIntegrity marks on-disk state that cannot be right: bad magic, links out of bounds, rehash overflow.
	ErrIntegrity = errors.New("integrity violation")
	// ErrUnsupported is returned by block update/delete, which do not reclaim space.
	ErrUnsupported = errors.New("operation not supported")
	ErrClosed      = errors.New("storage closed")
)

package download

import (
	"errors"
	"fmt"
)

// ErrDisposed is returned by operations on a disposed manager.
var ErrDisposed = errors.New("download manager disposed")

// TransferError reports a network or storage failure while fetching a bundle.
type TransferError struct {
	Filename string
	Op       string // request, status, write, verify, rename, cancelled
	Err      error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("transfer %s: %s: %v", e.Filename, e.Op, e.Err)
}

func (e *TransferError) Unwrap() error { return e.Err }

// IsTransferError reports whether err is or wraps a TransferError.
func IsTransferError(err error) bool {
	var te *TransferError
	return errors.As(err, &te)
}

package buffer

import (
	"errors"
	"fmt"

	"github.com/intersystems-community/iris-pgwire/codes"
	psqlerr "github.com/intersystems-community/iris-pgwire/errors"
)

// ErrMissingNulTerminator is thrown when no NUL terminator is found when
// interpreting a message property as a string.
var ErrMissingNulTerminator = errors.New("NUL terminator not found")

// NewMissingNulTerminator constructs a new error wrapping ErrMissingNulTerminator
// with Postgres wire error metadata attached.
func NewMissingNulTerminator() error {
	return psqlerr.WithSeverity(psqlerr.WithCode(ErrMissingNulTerminator, codes.DataCorrupted), psqlerr.LevelFatal)
}

// ErrInsufficientData is thrown when there is insufficient data available inside
// the given message to unmarshal into a given type.
var ErrInsufficientData = errors.New("insufficient data")

// NewInsufficientData constructs a new error wrapping ErrInsufficientData with
// Postgres wire error metadata attached.
func NewInsufficientData(length int) error {
	err := fmt.Errorf("length: %d %w", length, ErrInsufficientData)
	return psqlerr.WithSeverity(psqlerr.WithCode(err, codes.DataCorrupted), psqlerr.LevelFatal)
}

// ErrMessageSizeExceeded is thrown when a client message is larger than the
// configured maximum message size.
var ErrMessageSizeExceeded = errors.New("maximum message size exceeded")

// messageSizeExceeded carries the observed and maximum message sizes for a
// ErrMessageSizeExceeded error so callers can slurp and discard the remainder.
type messageSizeExceeded struct {
	Max  int
	Size int
}

func (e *messageSizeExceeded) Error() string {
	return fmt.Sprintf("message size %d bigger than maximum allowed message size %d", e.Size, e.Max)
}

func (e *messageSizeExceeded) Unwrap() error {
	return ErrMessageSizeExceeded
}

// NewMessageSizeExceeded constructs a new error wrapping ErrMessageSizeExceeded
// with Postgres wire error metadata attached.
func NewMessageSizeExceeded(max, size int) error {
	err := &messageSizeExceeded{Max: max, Size: size}
	return psqlerr.WithSeverity(psqlerr.WithCode(err, codes.ProgramLimitExceeded), psqlerr.LevelFatal)
}

// UnwrapMessageSizeExceeded attempts to unwrap the given error as a message
// size exceeded error, returning the observed and maximum sizes.
func UnwrapMessageSizeExceeded(err error) (*messageSizeExceeded, bool) {
	var exceeded *messageSizeExceeded
	if errors.As(err, &exceeded) {
		return exceeded, true
	}

	return nil, false
}

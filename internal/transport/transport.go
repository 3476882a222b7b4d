package transport

import (
	"context"
	"errors"
	"fmt"

	"github.com/owulveryck/a2ahub/internal/a2a"
)

// ErrClosed is returned once a connection can no longer carry frames.
var ErrClosed = errors.New("transport closed")

// Conn is a persistent bidirectional channel of A2A frames.
//
// Send may be called from several goroutines; Receive must only be called
// from one. Any Receive error other than *DecodeError is terminal and wraps
// ErrClosed.
type Conn interface {
	Send(ctx context.Context, msg *a2a.Message) error
	Receive(ctx context.Context) (*a2a.Message, error)
	Close() error
}

// DecodeError reports a frame that arrived intact but could not be parsed.
// The connection remains usable.
type DecodeError struct {
	Frame []byte
	Err   error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("invalid frame (%d bytes): %v", len(e.Frame), e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Dialer opens a new connection to the broker.
type Dialer func(ctx context.Context) (Conn, error)

func closedError(err error) error {
	if err == nil || errors.Is(err, ErrClosed) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrClosed, err)
}

func decodeFrame(frame []byte) (*a2a.Message, error) {
	msg, err := a2a.Decode(frame)
	if err != nil {
		return nil, &DecodeError{Frame: frame, Err: err}
	}
	return msg, nil
}

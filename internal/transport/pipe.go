package transport

import (
	"context"
	"sync"

	"github.com/owulveryck/a2ahub/internal/a2a"
)

const pipeBuffer = 64

type pipeConn struct {
	in   <-chan []byte
	out  chan<- []byte
	done chan struct{}
	once *sync.Once
}

// Pipe returns two connected in-process connections. Frames are encoded on
// Send and decoded on Receive so both ends see exactly what a network peer
// would. Closing either end closes both.
func Pipe() (Conn, Conn) {
	ab := make(chan []byte, pipeBuffer)
	ba := make(chan []byte, pipeBuffer)
	done := make(chan struct{})
	once := &sync.Once{}

	return &pipeConn{in: ba, out: ab, done: done, once: once},
		&pipeConn{in: ab, out: ba, done: done, once: once}
}

func (p *pipeConn) Send(ctx context.Context, msg *a2a.Message) error {
	frame, err := a2a.Encode(msg)
	if err != nil {
		return err
	}
	return p.SendFrame(ctx, frame)
}

// SendFrame writes a raw frame without encoding it.
func (p *pipeConn) SendFrame(ctx context.Context, frame []byte) error {
	select {
	case <-p.done:
		return ErrClosed
	default:
	}
	select {
	case p.out <- frame:
		return nil
	case <-p.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *pipeConn) Receive(ctx context.Context) (*a2a.Message, error) {
	select {
	case frame := <-p.in:
		return decodeFrame(frame)
	case <-p.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, closedError(ctx.Err())
	}
}

func (p *pipeConn) Close() error {
	p.once.Do(func() { close(p.done) })
	return nil
}

// FrameSender is implemented by connections that can write undecoded frames.
type FrameSender interface {
	SendFrame(ctx context.Context, frame []byte) error
}

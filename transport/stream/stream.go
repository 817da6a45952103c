// Package stream carries frames as newline-delimited JSON over any byte
// stream: a pipe, a socket, or a process's stdin/stdout. One JSON value per
// line, no embedded newlines.
package stream

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
)

// ErrClosed is returned by Send and Recv after Close.
var ErrClosed = errors.New("stream transport closed")

// Stream is a Transport over an io.Reader / io.Writer pair. Send is safe for
// concurrent use; Recv must be called from a single goroutine.
type Stream struct {
	r       *bufio.Reader
	w       io.Writer
	maxLine int

	wmu sync.Mutex

	closeOnce sync.Once
	closed    chan struct{}
	closers   []io.Closer
}

// New wraps r and w. When either also implements io.Closer it is closed by
// Close. maxLine caps the length of one inbound line; zero means a 10 MiB
// default.
func New(r io.Reader, w io.Writer, maxLine int) *Stream {
	if maxLine <= 0 {
		maxLine = 10 << 20
	}
	s := &Stream{
		r:      bufio.NewReaderSize(r, 64<<10),
		w:      w,
		closed: make(chan struct{}),
	}
	if c, ok := r.(io.Closer); ok {
		s.closers = append(s.closers, c)
	}
	if c, ok := w.(io.Closer); ok {
		s.closers = append(s.closers, c)
	}
	s.maxLine = maxLine
	return s
}

// Send writes one frame followed by a newline.
func (s *Stream) Send(ctx context.Context, frame []byte) error {
	select {
	case <-s.closed:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	s.wmu.Lock()
	defer s.wmu.Unlock()
	buf := make([]byte, 0, len(frame)+1)
	buf = append(buf, frame...)
	buf = append(buf, '\n')
	_, err := s.w.Write(buf)
	return err
}

// Recv reads the next non-empty line. io.EOF reports an orderly end of the
// stream.
func (s *Stream) Recv(ctx context.Context) ([]byte, error) {
	for {
		select {
		case <-s.closed:
			return nil, ErrClosed
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		line, err := s.readLine()
		if err != nil {
			return nil, err
		}
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		return line, nil
	}
}

func (s *Stream) readLine() ([]byte, error) {
	var line []byte
	for {
		chunk, isPrefix, err := s.r.ReadLine()
		if err != nil {
			return nil, err
		}
		line = append(line, chunk...)
		if len(line) > s.maxLine {
			return nil, errors.New("line exceeds maximum length")
		}
		if !isPrefix {
			return line, nil
		}
	}
}

// Close closes the stream and any underlying closers.
func (s *Stream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closed)
		for _, c := range s.closers {
			if cerr := c.Close(); cerr != nil && err == nil {
				err = cerr
			}
		}
	})
	return err
}

package protocol

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"syscall"
)

// a frame on the wire:
//
//	[frameStart] [seq0 seq1 seq2 seq3] [body ...] [frameTerminator]
//
// there is no length prefix, the terminator alone ends a frame.
const (
	frameStart      byte = 1
	frameTerminator byte = 0

	frameHeaderSize = 1 + SequenceSize

	MaxFrameSize = 4 << 10 // 4096 bytes, bodies are tiny text

	readChunkSize = 1 << 10
)

var (
	// ErrDisconnection is terminal, the peer is gone.
	ErrDisconnection = errors.New("disconnection")
	// ErrWrongSequence means a frame was cut short or never terminated. the
	// partial frame is dropped.
	ErrWrongSequence = errors.New("wrong sequence")
	// ErrOutdatedPackage means the frame's sequence is older than the last
	// accepted one. the frame is dropped.
	ErrOutdatedPackage = errors.New("outdated package")
	// ErrIllFormattedSequenceNumber is reported for read failures that are
	// neither end of stream nor a poll timeout.
	ErrIllFormattedSequenceNumber = errors.New("ill-formatted sequence number")
	// ErrNoFrame means the poll deadline passed before a complete frame
	// arrived. bytes read so far are kept for the next Receive.
	ErrNoFrame = errors.New("no frame")
)

// Protocol is the framing state of one end of one connection. it must not be
// used from more than one goroutine at a time.
type Protocol struct {
	codec Codec

	lastReception Sequence
	lastSend      Sequence

	pending []byte
	readBuf []byte
	sendBuf []byte
}

// New returns a fresh Protocol. nil codec means TextCodec.
func New(codec Codec) *Protocol {
	if codec == nil {
		codec = TextCodec{}
	}
	return &Protocol{
		codec:   codec,
		readBuf: make([]byte, readChunkSize),
	}
}

func (p *Protocol) LastReception() Sequence { return p.lastReception }
func (p *Protocol) LastSend() Sequence      { return p.lastSend }

// AppendFrame appends a complete frame carrying cmd under seq to dst.
func AppendFrame(dst []byte, codec Codec, seq Sequence, cmd Command) ([]byte, error) {
	start := len(dst)

	dst = append(dst, frameStart)
	dst = append(dst, seq[:]...)
	dst, err := codec.AppendEncode(dst, cmd)
	if err != nil {
		return dst[:start], err
	}
	dst = append(dst, frameTerminator)

	return dst, nil
}

// Send writes cmd as a single frame. the send counter advances even if the
// write fails; nothing is retried.
func (p *Protocol) Send(w io.Writer, cmd Command) error {
	frame, err := AppendFrame(p.sendBuf[:0], p.codec, p.lastSend, cmd)
	if err != nil {
		return fmt.Errorf("could not encode %s: %w", cmd, err)
	}
	p.sendBuf = frame
	p.lastSend = p.lastSend.Next()

	if _, err := w.Write(frame); err != nil {
		return fmt.Errorf("could not write frame: %w", err)
	}
	return nil
}

// Receive returns the next command from r. it reads until a complete frame is
// buffered or r fails; with a read deadline set on a net.Conn this is a
// bounded poll (see ErrNoFrame).
func (p *Protocol) Receive(r io.Reader) (Command, error) {
	var readErr error
	for {
		f, ok, err := p.extract()
		if err != nil {
			return Command{}, err
		}
		if ok {
			return p.accept(f)
		}
		if readErr != nil {
			return Command{}, mapReadError(readErr)
		}

		n, err := r.Read(p.readBuf)
		p.pending = append(p.pending, p.readBuf[:n]...)
		readErr = err
		if n == 0 && err == nil {
			readErr = io.ErrNoProgress
		}
	}
}

type frame struct {
	seq  Sequence
	body []byte
}

func (p *Protocol) accept(f frame) (Command, error) {
	if !p.lastReception.Accepts(f.seq) {
		return Command{}, fmt.Errorf(
			"%w (got %s; last %s)",
			ErrOutdatedPackage,
			f.seq,
			p.lastReception,
		)
	}
	p.lastReception = f.seq

	// NOTE(blukai): a frame with nothing between the sequence and the
	// terminator is how a peer says goodbye.
	if len(f.body) == 0 {
		return Command{}, ErrDisconnection
	}

	return p.codec.Decode(f.body), nil
}

// extract pops the first complete frame off the pending buffer. anything
// before a frame start is noise and is thrown away.
func (p *Protocol) extract() (frame, bool, error) {
	start := bytes.IndexByte(p.pending, frameStart)
	if start < 0 {
		p.pending = p.pending[:0]
		return frame{}, false, nil
	}
	p.discard(start)

	if len(p.pending) < frameHeaderSize {
		return frame{}, false, nil
	}

	body := p.pending[frameHeaderSize:]
	end := bytes.IndexByte(body, frameTerminator)

	scan := body
	if end >= 0 {
		scan = body[:end]
	}
	// bodies never contain a frame start. seeing one means the frame we were
	// assembling lost its tail.
	if restart := bytes.IndexByte(scan, frameStart); restart >= 0 {
		p.discard(frameHeaderSize + restart)
		return frame{}, false, fmt.Errorf("%w: frame interrupted by another frame", ErrWrongSequence)
	}

	if end < 0 {
		if len(p.pending) >= MaxFrameSize {
			p.pending = p.pending[:0]
			return frame{}, false, fmt.Errorf(
				"%w: no terminator within %d bytes",
				ErrWrongSequence,
				MaxFrameSize,
			)
		}
		return frame{}, false, nil
	}

	f := frame{body: bytes.Clone(body[:end])}
	copy(f.seq[:], p.pending[1:frameHeaderSize])
	p.discard(frameHeaderSize + end + 1)

	return f, true, nil
}

func (p *Protocol) discard(n int) {
	p.pending = append(p.pending[:0], p.pending[n:]...)
}

func mapReadError(err error) error {
	var netErr net.Error
	switch {
	case errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, io.ErrClosedPipe),
		errors.Is(err, net.ErrClosed),
		errors.Is(err, syscall.ECONNRESET):
		return fmt.Errorf("%w: %w", ErrDisconnection, err)
	case errors.Is(err, os.ErrDeadlineExceeded),
		errors.As(err, &netErr) && netErr.Timeout():
		return ErrNoFrame
	default:
		return fmt.Errorf("%w: %w", ErrIllFormattedSequenceNumber, err)
	}
}

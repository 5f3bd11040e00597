package logging

import (
	"encoding/binary"
	"io"
	"sync"
)

// Pipe frame layout. Every frame is written with a single Write call so a
// reader sharing the pipe with other processes can reassemble records by pid.
//
//	offset 0  [2]byte  zero
//	offset 2  uint16   payload length
//	offset 4  int32    writer pid
//	offset 8  byte     't' on the final frame of a record, else 'f'
//	offset 9  payload
//
// Frames are PipeChunkSize (PIPE_BUF) bytes at most, so each Write on a
// pipe is atomic.
const (
	PipeChunkSize  = pipeBuf
	pipeHeaderSize = 9
	PipeMaxPayload = PipeChunkSize - pipeHeaderSize
)

// PipeWriter chunks each Write into framed pipe packets.
type PipeWriter struct {
	mu  sync.Mutex
	w   io.Writer
	pid int32
	buf [PipeChunkSize]byte
}

// NewPipeWriter returns a writer that frames records onto w, tagged with pid.
func NewPipeWriter(w io.Writer, pid int) *PipeWriter {
	return &PipeWriter{w: w, pid: int32(pid)}
}

// Write frames p as one record of one or more chunks. Concurrent writes are
// serialised, so frames of different records never interleave.
func (p *PipeWriter) Write(b []byte) (int, error) {
	if len(b) == 0 {
		return 0, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	written := 0
	for written < len(b) {
		n := min(len(b)-written, PipeMaxPayload)
		last := written+n == len(b)

		frame := p.buf[:pipeHeaderSize+n]
		frame[0], frame[1] = 0, 0
		binary.NativeEndian.PutUint16(frame[2:4], uint16(n))
		binary.NativeEndian.PutUint32(frame[4:8], uint32(p.pid))
		frame[8] = 'f'
		if last {
			frame[8] = 't'
		}
		copy(frame[pipeHeaderSize:], b[written:written+n])

		if _, err := p.w.Write(frame); err != nil {
			return written, err
		}
		written += n
	}
	return written, nil
}

// PipeFrame is a decoded frame.
type PipeFrame struct {
	PID     int32
	Last    bool
	Payload []byte
}

// DecodePipeFrames splits a byte stream back into frames. It returns
// io.ErrUnexpectedEOF if the stream ends inside a frame.
func DecodePipeFrames(data []byte) ([]PipeFrame, error) {
	var frames []PipeFrame
	for len(data) > 0 {
		if len(data) < pipeHeaderSize {
			return frames, io.ErrUnexpectedEOF
		}
		n := int(binary.NativeEndian.Uint16(data[2:4]))
		if len(data) < pipeHeaderSize+n {
			return frames, io.ErrUnexpectedEOF
		}
		frames = append(frames, PipeFrame{
			PID:     int32(binary.NativeEndian.Uint32(data[4:8])),
			Last:    data[8] == 't',
			Payload: data[pipeHeaderSize : pipeHeaderSize+n],
		})
		data = data[pipeHeaderSize+n:]
	}
	return frames, nil
}

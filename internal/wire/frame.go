// Package wire implements the binary frame protocol between the capture
// subprocess and the host controller.
//
// Each frame on the stream is laid out as:
//
//	1 byte   channel marker ('M' microphone, 'S' system)
//	4 bytes  unsigned sample count N, little-endian
//	N*4      IEEE-754 float32 PCM samples, mono, little-endian
//
// The encoder never splits or interleaves frames at the byte level, so the
// decoder resumes at the next header boundary after dropping an invalid frame.
package wire

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/tapdeck/tapdeck/internal/types"
)

// Channel identifies the logical audio source of a frame.
type Channel byte

const (
	// ChannelMicrophone is audio captured from the microphone.
	ChannelMicrophone Channel = 'M'
	// ChannelSystem is audio captured from the system output mix.
	ChannelSystem Channel = 'S'
)

// String returns the channel name for logging.
func (c Channel) String() string {
	switch c {
	case ChannelMicrophone:
		return "mic"
	case ChannelSystem:
		return "system"
	}
	return fmt.Sprintf("unknown(0x%02X)", byte(c))
}

const headerSize = 5 // 1 byte marker + 4 bytes sample count

// Sentinel errors for frame decoding. ErrInvalidFrame and ErrUnknownChannel
// are per-frame and recoverable: the offending frame is dropped and decoding
// continues at the next header.
var (
	ErrInvalidFrame   = errors.New("invalid frame sample count")
	ErrUnknownChannel = errors.New("unknown channel marker")
)

// AppendFrame encodes one frame and appends it to dst.
func AppendFrame(dst []byte, ch Channel, samples []float32) []byte {
	dst = append(dst, byte(ch))
	dst = binary.LittleEndian.AppendUint32(dst, uint32(len(samples)))
	for _, s := range samples {
		dst = binary.LittleEndian.AppendUint32(dst, math.Float32bits(s))
	}
	return dst
}

// Writer encodes frames onto a byte stream. It is not safe for concurrent
// use; callers that emit from multiple sources must serialize writes so
// frames are never interleaved on the wire.
type Writer struct {
	w   *bufio.Writer
	buf []byte
}

// NewWriter returns a Writer emitting frames to w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: bufio.NewWriter(w)}
}

// WriteFrame encodes and flushes one frame. Flushing per frame keeps
// end-to-end latency bounded by the source buffer size.
func (w *Writer) WriteFrame(ch Channel, samples []float32) error {
	w.buf = AppendFrame(w.buf[:0], ch, samples)
	if _, err := w.w.Write(w.buf); err != nil {
		return err
	}
	return w.w.Flush()
}

// Reader decodes frames from a byte stream.
type Reader struct {
	r      *bufio.Reader
	header [headerSize]byte
}

// NewReader returns a Reader decoding frames from r.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: bufio.NewReader(r)}
}

// Next reads and decodes the next frame.
//
// It returns io.EOF when the stream ends cleanly at a header boundary, which
// signals normal subprocess termination. A stream that ends mid-frame yields
// a wrapped io.ErrUnexpectedEOF transport error. ErrInvalidFrame and
// ErrUnknownChannel are returned with the stream intact: the bad frame has
// been consumed and the next call starts at the following header.
func (r *Reader) Next() (Channel, []float32, error) {
	if _, err := io.ReadFull(r.r, r.header[:]); err != nil {
		if err == io.EOF {
			return 0, nil, io.EOF
		}
		return 0, nil, fmt.Errorf("read frame header: %w", err)
	}

	marker := Channel(r.header[0])
	count := binary.LittleEndian.Uint32(r.header[1:])

	if count == 0 || count > types.MaxFrameSamples {
		return marker, nil, fmt.Errorf("%w: %d", ErrInvalidFrame, count)
	}

	payload := make([]byte, int(count)*4)
	if _, err := io.ReadFull(r.r, payload); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return marker, nil, fmt.Errorf("read frame payload: %w", err)
	}

	samples := make([]float32, count)
	for i := range samples {
		samples[i] = math.Float32frombits(binary.LittleEndian.Uint32(payload[i*4:]))
	}

	if marker != ChannelMicrophone && marker != ChannelSystem {
		// Payload already consumed, so the stream stays aligned.
		return marker, nil, fmt.Errorf("%w: 0x%02X", ErrUnknownChannel, byte(marker))
	}

	return marker, samples, nil
}

// Recoverable reports whether a decode error is per-frame (drop and
// continue) rather than a transport failure.
func Recoverable(err error) bool {
	return errors.Is(err, ErrInvalidFrame) || errors.Is(err, ErrUnknownChannel)
}

package wire

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// MaxFrameLen is the largest payload a frame can carry.
const MaxFrameLen = 0xFFFF

var (
	// ErrStreamEnded means the stream finished cleanly where a payload was due.
	ErrStreamEnded = errors.New("wire: stream ended")
	// ErrFinishedEarly means the stream finished before or during the length
	// prefix.
	ErrFinishedEarly = errors.New("wire: stream finished before frame length")
)

// LengthMismatchError reports a frame whose payload did not match its prefix.
type LengthMismatchError struct {
	Expected int
	Received int
}

func (e *LengthMismatchError) Error() string {
	return fmt.Sprintf("expected a chunk of JSON length %d but received %d", e.Expected, e.Received)
}

// PayloadError wraps a JSON decode failure of a well-framed payload.
type PayloadError struct {
	Err error
}

func (e *PayloadError) Error() string {
	return fmt.Sprintf("wire: frame payload: %v", e.Err)
}

func (e *PayloadError) Unwrap() error {
	return e.Err
}

// WriteLP prepends a little-endian u16 length to payload. Payloads over
// MaxFrameLen are a caller bug.
func WriteLP(payload []byte) []byte {
	if len(payload) > MaxFrameLen {
		panic(fmt.Sprintf("wire: frame payload of %d bytes exceeds %d", len(payload), MaxFrameLen))
	}
	buf := make([]byte, 2+len(payload))
	binary.LittleEndian.PutUint16(buf, uint16(len(payload)))
	copy(buf[2:], payload)
	return buf
}

// WriteLPJSON frames the JSON serialization of v. The length is backfilled
// after encoding.
func WriteLPJSON(v any) ([]byte, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("wire: encode frame: %w", err)
	}
	if len(payload) > MaxFrameLen {
		return nil, fmt.Errorf("wire: encoded frame of %d bytes exceeds %d", len(payload), MaxFrameLen)
	}
	return WriteLP(payload), nil
}

// ReadLP reads one length-prefixed frame: a little-endian u16 length, then
// exactly that many payload bytes.
func ReadLP(r io.Reader) ([]byte, error) {
	var hdr [2]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, ErrFinishedEarly
		}
		return nil, fmt.Errorf("wire: read frame length: %w", err)
	}

	want := int(binary.LittleEndian.Uint16(hdr[:]))
	payload := make([]byte, want)
	n, err := io.ReadFull(r, payload)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrStreamEnded
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, &LengthMismatchError{Expected: want, Received: n}
		}
		return nil, fmt.Errorf("wire: read frame payload: %w", err)
	}
	return payload, nil
}

// ReadLPJSON reads one frame and JSON-decodes it into v.
func ReadLPJSON(r io.Reader, v any) error {
	payload, err := ReadLP(r)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return &PayloadError{Err: err}
	}
	return nil
}

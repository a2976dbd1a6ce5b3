package wire_test

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/subtlefox/relaycat/wire"
)

func TestFrameRoundTrip(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		payload []byte
	}{
		{"empty", []byte{}},
		{"small", []byte("hello")},
		{"binary", []byte{0x00, 0xFF, 0x1a, 0xcc}},
		{"max", bytes.Repeat([]byte{0xAB}, wire.MaxFrameLen)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			framed := wire.WriteLP(tt.payload)
			if len(framed) != 2+len(tt.payload) {
				t.Fatalf("framed length %d, want %d", len(framed), 2+len(tt.payload))
			}

			got, err := wire.ReadLP(bytes.NewReader(framed))
			if err != nil {
				t.Fatalf("read: %v", err)
			}
			if !bytes.Equal(got, tt.payload) {
				t.Errorf("payload mismatch: got %d bytes, want %d", len(got), len(tt.payload))
			}
		})
	}
}

func TestWriteLPLittleEndianPrefix(t *testing.T) {
	t.Parallel()

	framed := wire.WriteLP(bytes.Repeat([]byte{0}, 0x0102))
	if framed[0] != 0x02 || framed[1] != 0x01 {
		t.Errorf("prefix bytes = %#x %#x, want 0x02 0x01", framed[0], framed[1])
	}
}

func TestWriteLPOversizePanics(t *testing.T) {
	t.Parallel()

	defer func() {
		if recover() == nil {
			t.Error("expected panic for oversize payload")
		}
	}()
	wire.WriteLP(make([]byte, wire.MaxFrameLen+1))
}

func TestReadLPFinishedEarly(t *testing.T) {
	t.Parallel()

	for _, partial := range [][]byte{{}, {0x05}} {
		_, err := wire.ReadLP(bytes.NewReader(partial))
		if !errors.Is(err, wire.ErrFinishedEarly) {
			t.Errorf("ReadLP(%v): got %v, want ErrFinishedEarly", partial, err)
		}
	}
}

func TestReadLPStreamEnded(t *testing.T) {
	t.Parallel()

	// A complete length prefix with no payload bytes at all.
	_, err := wire.ReadLP(bytes.NewReader([]byte{0x04, 0x00}))
	if !errors.Is(err, wire.ErrStreamEnded) {
		t.Errorf("got %v, want ErrStreamEnded", err)
	}
}

func TestReadLPLengthMismatch(t *testing.T) {
	t.Parallel()

	_, err := wire.ReadLP(bytes.NewReader([]byte{0x04, 0x00, 0xAA, 0xBB}))
	var mismatch *wire.LengthMismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("got %v, want LengthMismatchError", err)
	}
	if mismatch.Expected != 4 || mismatch.Received != 2 {
		t.Errorf("got (%d, %d), want (4, 2)", mismatch.Expected, mismatch.Received)
	}
}

func TestReadLPJSON(t *testing.T) {
	t.Parallel()

	framed, err := wire.WriteLPJSON(map[string]int{"n": 3})
	if err != nil {
		t.Fatalf("write: %v", err)
	}

	var out map[string]int
	if err := wire.ReadLPJSON(bytes.NewReader(framed), &out); err != nil {
		t.Fatalf("read: %v", err)
	}
	if out["n"] != 3 {
		t.Errorf("got %v", out)
	}

	var bad struct{}
	err = wire.ReadLPJSON(bytes.NewReader(wire.WriteLP([]byte("{not json"))), &bad)
	var payloadErr *wire.PayloadError
	if !errors.As(err, &payloadErr) {
		t.Errorf("got %v, want PayloadError", err)
	}
}

func TestCodeForReadError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want wire.ErrorCode
	}{
		{"finished early", wire.ErrFinishedEarly, wire.LengthRequired},
		{"stream ended", wire.ErrStreamEnded, wire.ClientClosed},
		{"short payload", &wire.LengthMismatchError{Expected: 4, Received: 2}, wire.PayloadInsufficient},
		{"long payload", &wire.LengthMismatchError{Expected: 2, Received: 4}, wire.PayloadTooLarge},
		{"bad json", &wire.PayloadError{Err: io.EOF}, wire.BadRequest},
		{"transport", io.ErrClosedPipe, wire.ClientClosed},
	}

	for _, tt := range tests {
		if got := wire.CodeForReadError(tt.err); got != tt.want {
			t.Errorf("%s: got %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestErrorCodeFromUint(t *testing.T) {
	t.Parallel()

	if got := wire.ErrorCodeFromUint(402); got != wire.BadHandshake {
		t.Errorf("got %v, want BadHandshake", got)
	}
	if got := wire.ErrorCodeFromUint(1); got != wire.Unknown {
		t.Errorf("got %v, want Unknown", got)
	}
}

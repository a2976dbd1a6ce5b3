package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/subtlefox/relaycat/types"
)

// Version is the current protocol version.
//
//   - 0: invalid
//   - 1: the initial version. Requests are 16-bit length-prefixed JSON
//     arrays of ServerChange; responses are the JSON of ExecResult.
const Version uint16 = 1

// Magic is the byte sequence opening every handshake: 0xF0CACC1A fixed to
// little-endian so heterogeneous hosts interoperate.
var Magic = [4]byte{0x1a, 0xcc, 0xca, 0xf0}

var (
	// ErrInvalidMagic means the handshake did not open with Magic.
	ErrInvalidMagic = errors.New("wire: handshake had an invalid magic number")
	// ErrInvalidResponse means the server's accept byte was neither 0 nor 1.
	ErrInvalidResponse = errors.New("wire: handshake response from peer was invalid")
)

// UnsupportedVersionError reports a version the reader does not speak.
type UnsupportedVersionError struct {
	Ours   uint16
	Theirs uint16
}

func (e *UnsupportedVersionError) Error() string {
	return fmt.Sprintf("our version %d is not supported by the peer %d", e.Ours, e.Theirs)
}

// InsufficientLengthError reports a version-specific payload that was cut
// short.
type InsufficientLengthError struct {
	Length   int
	Expected int
}

func (e *InsufficientLengthError) Error() string {
	return fmt.Sprintf("expected length of %d but only received %d", e.Expected, e.Length)
}

// Version comes right after the magic so a future server can pick the
// payload layout before reading it.
func writeMagicAndVersion(buf []byte, version uint16) {
	copy(buf, Magic[:])
	binary.LittleEndian.PutUint16(buf[4:], version)
}

func readMagicAndVersion(ours uint16, buf []byte) (uint16, []byte, error) {
	if len(buf) < 4 || !bytes.Equal(buf[:4], Magic[:]) {
		return 0, nil, ErrInvalidMagic
	}
	if len(buf) < 6 {
		return 0, nil, &InsufficientLengthError{Length: len(buf) - 4, Expected: 2}
	}
	version := binary.LittleEndian.Uint16(buf[4:6])
	if version != 1 {
		return 0, nil, &UnsupportedVersionError{Ours: ours, Theirs: version}
	}
	return version, buf[6:], nil
}

// ClientHandshake is the V1 request an agent opens its stream with.
type ClientHandshake struct {
	QcmpPort uint16
	Icao     types.IcaoCode
}

// Write lays out magic(4) || version(2 LE) || qcmp_port(2 LE) || icao(4).
func (h ClientHandshake) Write() []byte {
	buf := make([]byte, 12)
	writeMagicAndVersion(buf, 1)
	binary.LittleEndian.PutUint16(buf[6:], h.QcmpPort)
	copy(buf[8:], h.Icao[:])
	return buf
}

// ReadClientHandshake parses a client handshake, returning the negotiated
// version. The ICAO characters are validated even though the length is fixed
// by construction.
func ReadClientHandshake(ours uint16, buf []byte) (uint16, ClientHandshake, error) {
	version, payload, err := readMagicAndVersion(ours, buf)
	if err != nil {
		return 0, ClientHandshake{}, err
	}
	if len(payload) < 6 {
		return 0, ClientHandshake{}, &InsufficientLengthError{Length: len(payload), Expected: 6}
	}

	icao, err := types.IcaoFromBytes(payload[2:6])
	if err != nil {
		return 0, ClientHandshake{}, fmt.Errorf("wire: handshake icao: %w", err)
	}
	return version, ClientHandshake{
		QcmpPort: binary.LittleEndian.Uint16(payload[:2]),
		Icao:     icao,
	}, nil
}

// ServerHandshake is the V1 response.
type ServerHandshake struct {
	Accept bool
}

// Write lays out magic(4) || version(2 LE) || accept(1).
func (h ServerHandshake) Write() []byte {
	buf := make([]byte, 7)
	writeMagicAndVersion(buf, 1)
	if h.Accept {
		buf[6] = 1
	}
	return buf
}

// ReadServerHandshake parses a server handshake response.
func ReadServerHandshake(ours uint16, buf []byte) (ServerHandshake, error) {
	_, payload, err := readMagicAndVersion(ours, buf)
	if err != nil {
		return ServerHandshake{}, err
	}
	if len(payload) < 1 {
		return ServerHandshake{}, &InsufficientLengthError{Length: len(payload), Expected: 1}
	}

	switch payload[0] {
	case 0:
		return ServerHandshake{Accept: false}, nil
	case 1:
		return ServerHandshake{Accept: true}, nil
	}
	return ServerHandshake{}, ErrInvalidResponse
}

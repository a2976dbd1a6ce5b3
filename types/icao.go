package types

import "fmt"

// IcaoCode is a four-letter uppercase ASCII region identifier.
//
// The zero value is not valid; use DefaultIcao for the XXXX placeholder.
type IcaoCode [4]byte

// DefaultIcao returns the placeholder code XXXX.
func DefaultIcao() IcaoCode {
	return IcaoCode{'X', 'X', 'X', 'X'}
}

// IcaoLengthError reports an input that was not exactly four bytes.
type IcaoLengthError struct {
	Len int
}

func (e *IcaoLengthError) Error() string {
	return fmt.Sprintf("expected a length of 4 but got a length of %d", e.Len)
}

// IcaoCharacterError reports the first character outside [A-Z].
type IcaoCharacterError struct {
	Char  byte
	Index int
}

func (e *IcaoCharacterError) Error() string {
	return fmt.Sprintf("invalid character %q was found at index %d", e.Char, e.Index)
}

// ParseIcao parses a four-character uppercase ASCII string.
func ParseIcao(s string) (IcaoCode, error) {
	return IcaoFromBytes([]byte(s))
}

// IcaoFromBytes validates raw bytes, as read from a binary handshake payload.
func IcaoFromBytes(b []byte) (IcaoCode, error) {
	if len(b) != 4 {
		return IcaoCode{}, &IcaoLengthError{Len: len(b)}
	}
	var code IcaoCode
	for i, c := range b {
		if c < 'A' || c > 'Z' {
			return IcaoCode{}, &IcaoCharacterError{Char: c, Index: i}
		}
		code[i] = c
	}
	return code, nil
}

func (c IcaoCode) String() string {
	return string(c[:])
}

func (c IcaoCode) MarshalText() ([]byte, error) {
	return c[:], nil
}

func (c *IcaoCode) UnmarshalText(b []byte) error {
	code, err := IcaoFromBytes(b)
	if err != nil {
		return err
	}
	*c = code
	return nil
}

package types_test

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/subtlefox/relaycat/types"
)

func TestParseIcao(t *testing.T) {
	t.Parallel()

	code, err := types.ParseIcao("HHHH")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if code.String() != "HHHH" {
		t.Errorf("expected HHHH, got %q", code)
	}
}

func TestParseIcaoLength(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input string
		len   int
	}{
		{"", 0},
		{"ABC", 3},
		{"ABCDE", 5},
	}

	for _, tt := range tests {
		_, err := types.ParseIcao(tt.input)
		var lenErr *types.IcaoLengthError
		if !errors.As(err, &lenErr) {
			t.Fatalf("ParseIcao(%q): expected length error, got %v", tt.input, err)
		}
		if lenErr.Len != tt.len {
			t.Errorf("ParseIcao(%q): expected len %d, got %d", tt.input, tt.len, lenErr.Len)
		}
	}
}

func TestParseIcaoCharacter(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input string
		char  byte
		index int
	}{
		{"aBCD", 'a', 0},
		{"AB1D", '1', 2},
		{"ABC ", ' ', 3},
		{"A9C9", '9', 1}, // first violation wins
	}

	for _, tt := range tests {
		_, err := types.ParseIcao(tt.input)
		var charErr *types.IcaoCharacterError
		if !errors.As(err, &charErr) {
			t.Fatalf("ParseIcao(%q): expected character error, got %v", tt.input, err)
		}
		if charErr.Char != tt.char || charErr.Index != tt.index {
			t.Errorf("ParseIcao(%q): got (%q, %d), want (%q, %d)",
				tt.input, charErr.Char, charErr.Index, tt.char, tt.index)
		}
	}
}

func TestDefaultIcao(t *testing.T) {
	t.Parallel()

	if got := types.DefaultIcao().String(); got != "XXXX" {
		t.Errorf("expected XXXX, got %q", got)
	}
}

func TestIcaoJSON(t *testing.T) {
	t.Parallel()

	code, err := types.ParseIcao("BOOP")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	b, err := json.Marshal(code)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(b) != `"BOOP"` {
		t.Errorf("unexpected JSON: %s", b)
	}

	var back types.IcaoCode
	if err := json.Unmarshal(b, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back != code {
		t.Errorf("round trip mismatch: %q != %q", back, code)
	}

	if err := json.Unmarshal([]byte(`"boop"`), &back); err == nil {
		t.Error("expected error for lowercase code")
	}
}

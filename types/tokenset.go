package types

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

// TokenSet is a set of short opaque byte-strings. Order is irrelevant and
// duplicates collapse.
//
// The set is stored in SQL as a single base64 (no padding) text cell of a
// compact binary form keyed on the first byte:
//
//	0x01       single token; the remainder of the blob is the token
//	0x80 | L   n >= 2 tokens of uniform length L; tokens concatenated
//	n (2..127) n tokens of mixed lengths, each prefixed with a length byte
//
// The high bit of the count is reserved for the uniform form, so a set holds
// at most 127 tokens, each at most 255 bytes.
type TokenSet struct {
	m map[string]struct{}
}

const maxTokens = 127

// NewTokenSet builds a set from the given tokens.
func NewTokenSet(tokens ...[]byte) TokenSet {
	var ts TokenSet
	for _, tok := range tokens {
		ts.Insert(tok)
	}
	return ts
}

// Insert adds a token to the set.
func (ts *TokenSet) Insert(tok []byte) {
	if ts.m == nil {
		ts.m = make(map[string]struct{})
	}
	ts.m[string(tok)] = struct{}{}
}

// Len returns the number of distinct tokens.
func (ts TokenSet) Len() int {
	return len(ts.m)
}

// Contains reports whether tok is in the set.
func (ts TokenSet) Contains(tok []byte) bool {
	_, ok := ts.m[string(tok)]
	return ok
}

// Sorted returns the tokens in bytewise ascending order.
func (ts TokenSet) Sorted() [][]byte {
	toks := make([][]byte, 0, len(ts.m))
	for tok := range ts.m {
		toks = append(toks, []byte(tok))
	}
	sort.Slice(toks, func(i, j int) bool { return bytes.Compare(toks[i], toks[j]) < 0 })
	return toks
}

// Equal reports whether both sets hold the same tokens.
func (ts TokenSet) Equal(other TokenSet) bool {
	if len(ts.m) != len(other.m) {
		return false
	}
	for tok := range ts.m {
		if _, ok := other.m[tok]; !ok {
			return false
		}
	}
	return true
}

// Encode returns the base64 text cell, or "" for an empty set (stored as SQL
// NULL). Encoding is deterministic: tokens are sorted bytewise and the most
// compact of the three forms is chosen. A uniform length of zero would make
// the token count unbounded, so that case falls back to the mixed form.
func (ts TokenSet) Encode() (string, error) {
	if len(ts.m) == 0 {
		return "", nil
	}
	if len(ts.m) > maxTokens {
		return "", fmt.Errorf("types: number of tokens (%d) is more than %d", len(ts.m), maxTokens)
	}

	toks := ts.Sorted()

	blob := make([]byte, 0, 64)
	lenPrefix := false
	if len(toks) > 1 {
		sameLen := true
		first := len(toks[0])
		for _, tok := range toks[1:] {
			if len(tok) != first {
				sameLen = false
				break
			}
		}

		if sameLen && first > 0 && first <= maxTokens {
			blob = append(blob, 0x80|byte(first))
		} else {
			blob = append(blob, byte(len(toks)))
			lenPrefix = true
		}
	} else {
		blob = append(blob, 1)
	}

	for _, tok := range toks {
		if len(tok) > 255 {
			return "", fmt.Errorf("types: token length %d is more than 255", len(tok))
		}
		if lenPrefix {
			blob = append(blob, byte(len(tok)))
		}
		blob = append(blob, tok...)
	}

	return base64.RawStdEncoding.EncodeToString(blob), nil
}

// DecodeTokenSet parses the text cell produced by Encode. An empty blob
// decodes to the empty set.
func DecodeTokenSet(s string) (TokenSet, error) {
	blob, err := base64.RawStdEncoding.DecodeString(s)
	if err != nil {
		return TokenSet{}, fmt.Errorf("types: token set base64: %w", err)
	}

	var ts TokenSet
	if len(blob) == 0 {
		return ts, nil
	}

	switch first := blob[0]; {
	case first&0x80 != 0:
		stride := int(first &^ 0x80)
		if stride == 0 {
			return TokenSet{}, errors.New("types: token set has a zero uniform length")
		}
		for rest := blob[1:]; len(rest) >= stride; rest = rest[stride:] {
			ts.Insert(rest[:stride])
		}
	case first > 1:
		rest := blob[1:]
		for range int(first) {
			if len(rest) == 0 {
				return TokenSet{}, errors.New("types: token set ended before its declared count")
			}
			tlen := int(rest[0])
			if tlen > len(rest)-1 {
				return TokenSet{}, fmt.Errorf("types: token length %d is longer than remaining binary slice", tlen)
			}
			ts.Insert(rest[1 : 1+tlen])
			rest = rest[1+tlen:]
		}
	case first == 1:
		ts.Insert(blob[1:])
	default:
		return TokenSet{}, errors.New("types: token set has an invalid leading byte")
	}

	return ts, nil
}

// MarshalJSON writes the encoded text cell, or null for an empty set.
func (ts TokenSet) MarshalJSON() ([]byte, error) {
	if ts.Len() == 0 {
		return []byte("null"), nil
	}
	enc, err := ts.Encode()
	if err != nil {
		return nil, err
	}
	return json.Marshal(enc)
}

func (ts *TokenSet) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*ts = TokenSet{}
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	dec, err := DecodeTokenSet(s)
	if err != nil {
		return err
	}
	*ts = dec
	return nil
}

package wire

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/subtlefox/relaycat/types"
)

// ServerUpsert asserts a server exists with the given ICAO and token set.
type ServerUpsert struct {
	Endpoint types.Endpoint `json:"a"`
	Icao     types.IcaoCode `json:"i"`
	Tokens   types.TokenSet `json:"t"`
}

// ServerUpdate changes one or more columns of an existing server. Nil fields
// are left untouched.
type ServerUpdate struct {
	Endpoint types.Endpoint  `json:"a"`
	Icao     *types.IcaoCode `json:"i"`
	Tokens   *types.TokenSet `json:"t"`
}

// ServerChange is one catalog mutation batch. Exactly one of the three
// slices is set; the wire form is a tagged union with the one-letter keys
// {"ty": "i"|"r"|"u", "a": [...]}.
type ServerChange struct {
	Insert []ServerUpsert
	Remove []types.Endpoint
	Update []ServerUpdate
}

// InsertChange builds an insert batch.
func InsertChange(ups ...ServerUpsert) ServerChange {
	if ups == nil {
		ups = []ServerUpsert{}
	}
	return ServerChange{Insert: ups}
}

// RemoveChange builds a removal batch.
func RemoveChange(eps ...types.Endpoint) ServerChange {
	if eps == nil {
		eps = []types.Endpoint{}
	}
	return ServerChange{Remove: eps}
}

// UpdateChange builds an update batch.
func UpdateChange(ups ...ServerUpdate) ServerChange {
	if ups == nil {
		ups = []ServerUpdate{}
	}
	return ServerChange{Update: ups}
}

type changeEnvelope struct {
	Ty string          `json:"ty"`
	A  json.RawMessage `json:"a"`
}

func (c ServerChange) MarshalJSON() ([]byte, error) {
	var (
		tag     string
		content any
	)
	switch {
	case c.Insert != nil:
		tag, content = "i", c.Insert
	case c.Remove != nil:
		tag, content = "r", c.Remove
	case c.Update != nil:
		tag, content = "u", c.Update
	default:
		return nil, errors.New("wire: server change has no variant set")
	}

	a, err := json.Marshal(content)
	if err != nil {
		return nil, err
	}
	return json.Marshal(changeEnvelope{Ty: tag, A: a})
}

func (c *ServerChange) UnmarshalJSON(b []byte) error {
	var env changeEnvelope
	if err := json.Unmarshal(b, &env); err != nil {
		return err
	}

	*c = ServerChange{}
	switch env.Ty {
	case "i":
		return json.Unmarshal(env.A, &c.Insert)
	case "r":
		return json.Unmarshal(env.A, &c.Remove)
	case "u":
		return json.Unmarshal(env.A, &c.Update)
	}
	return fmt.Errorf("wire: unknown server change tag %q", env.Ty)
}

// ExecResult is the database layer's response envelope. Either the execute
// fields or Error is populated.
type ExecResult struct {
	RowsAffected uint64  `json:"rows_affected"`
	Time         float64 `json:"time"`
	Error        string  `json:"error,omitempty"`
}

// Err surfaces an embedded failure as an error.
func (r ExecResult) Err() error {
	if r.Error != "" {
		return errors.New(r.Error)
	}
	return nil
}

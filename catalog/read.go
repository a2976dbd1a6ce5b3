package catalog

import (
	"encoding/json"
	"fmt"

	"github.com/subtlefox/relaycat/db"
	"github.com/subtlefox/relaycat/types"
)

// ServerRow is the typed form of one servers row as selected by
// "SELECT endpoint,icao,tokens FROM servers".
type ServerRow struct {
	Endpoint types.Endpoint
	Icao     types.IcaoCode
	Tokens   types.TokenSet
}

// ServerRowFromSQL converts raw cells (endpoint, icao, tokens) into a typed
// row. A NULL tokens cell is the empty set.
func ServerRowFromSQL(values []db.Value) (ServerRow, error) {
	if len(values) < 3 {
		return ServerRow{}, fmt.Errorf("catalog: server row has %d columns, want 3", len(values))
	}

	ep, err := types.ParseEndpoint(values[0].Text)
	if err != nil {
		return ServerRow{}, fmt.Errorf("catalog: server row endpoint: %w", err)
	}
	icao, err := types.ParseIcao(values[1].Text)
	if err != nil {
		return ServerRow{}, fmt.Errorf("catalog: server row icao: %w", err)
	}

	var tokens types.TokenSet
	if !values[2].Null {
		tokens, err = types.DecodeTokenSet(values[2].Text)
		if err != nil {
			return ServerRow{}, fmt.Errorf("catalog: server row tokens: %w", err)
		}
	}

	return ServerRow{Endpoint: ep, Icao: icao, Tokens: tokens}, nil
}

// UnmarshalJSON accepts an array [endpoint, icao, tokens, ...]; elements
// past the third are ignored.
func (r *ServerRow) UnmarshalJSON(b []byte) error {
	var cells []json.RawMessage
	if err := json.Unmarshal(b, &cells); err != nil {
		return err
	}
	if len(cells) < 3 {
		return fmt.Errorf("catalog: server row has %d elements, want 3", len(cells))
	}

	var endpoint, icao string
	if err := json.Unmarshal(cells[0], &endpoint); err != nil {
		return fmt.Errorf("catalog: server row endpoint: %w", err)
	}
	if err := json.Unmarshal(cells[1], &icao); err != nil {
		return fmt.Errorf("catalog: server row icao: %w", err)
	}
	var tokens *string
	if err := json.Unmarshal(cells[2], &tokens); err != nil {
		return fmt.Errorf("catalog: server row tokens: %w", err)
	}

	values := []db.Value{
		{Text: endpoint},
		{Text: icao},
		{Null: tokens == nil},
	}
	if tokens != nil {
		values[2].Text = *tokens
	}

	row, err := ServerRowFromSQL(values)
	if err != nil {
		return err
	}
	*r = row
	return nil
}

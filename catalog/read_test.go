package catalog_test

import (
	"encoding/json"
	"testing"

	"github.com/subtlefox/relaycat/catalog"
	"github.com/subtlefox/relaycat/db"
)

func TestServerRowFromSQL(t *testing.T) {
	t.Parallel()

	row, err := catalog.ServerRowFromSQL([]db.Value{
		{Text: "|1.2.3.4:2002"},
		{Text: "BOOP"},
		{Text: "ARQU"},
	})
	if err != nil {
		t.Fatalf("from sql: %v", err)
	}
	if row.Endpoint.String() != "|1.2.3.4:2002" {
		t.Errorf("endpoint = %s", row.Endpoint)
	}
	if row.Icao.String() != "BOOP" {
		t.Errorf("icao = %s", row.Icao)
	}
	if !row.Tokens.Contains([]byte{20, 20}) {
		t.Error("token set lost its token")
	}
}

func TestServerRowFromSQLNullTokens(t *testing.T) {
	t.Parallel()

	row, err := catalog.ServerRowFromSQL([]db.Value{
		{Text: "host:80"},
		{Text: "XXXX"},
		{Null: true},
	})
	if err != nil {
		t.Fatalf("from sql: %v", err)
	}
	if row.Tokens.Len() != 0 {
		t.Errorf("expected empty token set, got %d", row.Tokens.Len())
	}
}

func TestServerRowFromSQLErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		values []db.Value
	}{
		{"too few columns", []db.Value{{Text: "host:80"}, {Text: "XXXX"}}},
		{"bad endpoint", []db.Value{{Text: "no-port"}, {Text: "XXXX"}, {Null: true}}},
		{"bad icao", []db.Value{{Text: "host:80"}, {Text: "xx"}, {Null: true}}},
		{"bad tokens", []db.Value{{Text: "host:80"}, {Text: "XXXX"}, {Text: "!!"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := catalog.ServerRowFromSQL(tt.values); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestServerRowJSON(t *testing.T) {
	t.Parallel()

	var row catalog.ServerRow
	if err := json.Unmarshal([]byte(`["game.boop.com:2005","HHHH","ARQU"]`), &row); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if row.Endpoint.String() != "game.boop.com:2005" || row.Icao.String() != "HHHH" {
		t.Errorf("row = %+v", row)
	}
}

func TestServerRowJSONTrailingIgnored(t *testing.T) {
	t.Parallel()

	var row catalog.ServerRow
	input := `["host:80","XXXX",null,{"extra":true},42]`
	if err := json.Unmarshal([]byte(input), &row); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if row.Tokens.Len() != 0 {
		t.Errorf("expected empty token set, got %d", row.Tokens.Len())
	}
}

func TestServerRowJSONTooShort(t *testing.T) {
	t.Parallel()

	var row catalog.ServerRow
	if err := json.Unmarshal([]byte(`["host:80","XXXX"]`), &row); err == nil {
		t.Error("expected error for a two-element array")
	}
}

// Package catalog translates typed catalog mutations into the exact SQL the
// replicated engine executes, and reads typed rows back out of raw cells.
package catalog

// Schema is the catalog DDL. The engine replicates these tables across the
// relay fleet; this module only has to emit statements compatible with them.
const Schema = `
CREATE TABLE servers (
    -- hostname or IP + port
    endpoint varchar(264) NOT NULL PRIMARY KEY,
    -- icao code
    icao char(4) NOT NULL DEFAULT 'XXXX',
    -- token set, a base64 encoded binary blob since SQLite has no arrays
    tokens text,
    -- the JSONB set of peers that contributed this server
    contributors blob,
    -- the timestamp of the last contributors update, insertion or deletion
    cont_update timestamp
);

CREATE TABLE dc (
    -- the IPv6 (or IPv4 mapped) address
    ip varchar(40) NOT NULL PRIMARY KEY,
    -- the QCMP port used for pinging
    port int NOT NULL DEFAULT 0,
    -- icao code
    icao char(4) NOT NULL DEFAULT 'XXXX',
    -- the JSONB set of servers that this peer contributed
    servers blob
);

CREATE TABLE filter (
    -- no sense making the filter itself the key
    id int NOT NULL PRIMARY KEY,
    -- the filter value; there is only ever one
    filter text
);
`

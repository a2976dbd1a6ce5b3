package types

import (
	"errors"
	"fmt"
	"net/netip"
	"strconv"
	"strings"
)

// AddressKind holds either an IP address or a hostname.
type AddressKind struct {
	ip   netip.Addr
	name string
}

// IPAddress wraps an IP address.
func IPAddress(ip netip.Addr) AddressKind {
	return AddressKind{ip: ip}
}

// NameAddress wraps a hostname.
func NameAddress(name string) AddressKind {
	return AddressKind{name: name}
}

// IsIP reports whether the address is an IP rather than a hostname.
func (a AddressKind) IsIP() bool {
	return a.ip.IsValid()
}

// IP returns the IP address; only meaningful when IsIP is true.
func (a AddressKind) IP() netip.Addr {
	return a.ip
}

// Name returns the hostname; only meaningful when IsIP is false.
func (a AddressKind) Name() string {
	return a.name
}

func (a AddressKind) String() string {
	if a.IsIP() {
		return a.ip.String()
	}
	return a.name
}

// Endpoint is a game-server address and port.
type Endpoint struct {
	Address AddressKind
	Port    uint16
}

// String returns the single-cell text form: "<name>:<port>" for hostnames,
// "|<ip>:<port>" for IPs. The leading '|' appears in neither hostnames nor
// numeric IPs, so parsing can distinguish the two.
func (e Endpoint) String() string {
	var sb strings.Builder
	if e.Address.IsIP() {
		sb.WriteByte('|')
	}
	sb.WriteString(e.Address.String())
	sb.WriteByte(':')
	sb.WriteString(strconv.FormatUint(uint64(e.Port), 10))
	return sb.String()
}

// ParseEndpoint parses the text form produced by String.
func ParseEndpoint(s string) (Endpoint, error) {
	idx := strings.LastIndexByte(s, ':')
	if idx < 0 {
		return Endpoint{}, errors.New("types: endpoint missing ':'")
	}
	addr, portStr := s[:idx], s[idx+1:]

	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return Endpoint{}, fmt.Errorf("types: endpoint port: %w", err)
	}

	if rest, ok := strings.CutPrefix(addr, "|"); ok {
		ip, err := netip.ParseAddr(rest)
		if err != nil {
			return Endpoint{}, fmt.Errorf("types: endpoint ip: %w", err)
		}
		return Endpoint{Address: IPAddress(ip), Port: uint16(port)}, nil
	}
	return Endpoint{Address: NameAddress(addr), Port: uint16(port)}, nil
}

func (e Endpoint) MarshalText() ([]byte, error) {
	return []byte(e.String()), nil
}

func (e *Endpoint) UnmarshalText(b []byte) error {
	ep, err := ParseEndpoint(string(b))
	if err != nil {
		return err
	}
	*e = ep
	return nil
}

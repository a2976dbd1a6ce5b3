package types

import (
	"fmt"
	"net"
	"net/netip"
)

// Peer is the socket address of a connected agent, held in IPv6-mapped form.
// IPv4 peers are mapped into the v6 space on entry; catalog bookkeeping keys
// on the IP alone.
type Peer struct {
	ip   netip.Addr
	port uint16
}

// NewPeer maps ap into the IPv6 space.
func NewPeer(ap netip.AddrPort) Peer {
	addr := ap.Addr()
	if addr.Is4() {
		addr = netip.AddrFrom16(addr.As16())
	}
	return Peer{ip: addr.WithZone(""), port: ap.Port()}
}

// PeerFromAddr converts a transport-level remote address.
func PeerFromAddr(addr net.Addr) (Peer, error) {
	udp, ok := addr.(*net.UDPAddr)
	if !ok {
		return Peer{}, fmt.Errorf("types: peer address %T is not a UDP address", addr)
	}
	return NewPeer(udp.AddrPort()), nil
}

// IP returns the peer's address. Its String form is the dc table key.
func (p Peer) IP() netip.Addr {
	return p.ip
}

// Port returns the peer's source port.
func (p Peer) Port() uint16 {
	return p.port
}

func (p Peer) String() string {
	return netip.AddrPortFrom(p.ip, p.port).String()
}

package types_test

import (
	"net"
	"net/netip"
	"testing"

	"github.com/subtlefox/relaycat/types"
)

func TestPeerMapsV4(t *testing.T) {
	t.Parallel()

	p := types.NewPeer(netip.MustParseAddrPort("1.2.3.4:9000"))
	if got, want := p.IP().String(), "::ffff:1.2.3.4"; got != want {
		t.Errorf("IP() = %q, want %q", got, want)
	}
	if p.Port() != 9000 {
		t.Errorf("Port() = %d, want 9000", p.Port())
	}
}

func TestPeerKeepsV6(t *testing.T) {
	t.Parallel()

	p := types.NewPeer(netip.MustParseAddrPort("[aa::bb]:8999"))
	if got, want := p.IP().String(), "aa::bb"; got != want {
		t.Errorf("IP() = %q, want %q", got, want)
	}
}

func TestPeerFromAddr(t *testing.T) {
	t.Parallel()

	udp := &net.UDPAddr{IP: net.ParseIP("9.9.9.9"), Port: 1234}
	p, err := types.PeerFromAddr(udp)
	if err != nil {
		t.Fatalf("from addr: %v", err)
	}
	if got, want := p.IP().String(), "::ffff:9.9.9.9"; got != want {
		t.Errorf("IP() = %q, want %q", got, want)
	}

	if _, err := types.PeerFromAddr(&net.TCPAddr{}); err == nil {
		t.Error("expected error for non-UDP address")
	}
}

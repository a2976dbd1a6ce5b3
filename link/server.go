package link

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/quic-go/quic-go"
	"github.com/sirupsen/logrus"

	"github.com/subtlefox/relaycat/types"
	"github.com/subtlefox/relaycat/wire"
)

// AgentExecutor receives the lifecycle of every accepted agent connection.
// Implementations must be cheap to share across goroutines. Disconnected is
// called exactly once for every connection that completed its handshake.
type AgentExecutor interface {
	Connected(ctx context.Context, peer types.Peer, icao types.IcaoCode, qcmpPort uint16)
	Execute(ctx context.Context, peer types.Peer, changes []wire.ServerChange) wire.ExecResult
	Disconnected(ctx context.Context, peer types.Peer)
}

// Server accepts agent connections and dispatches their catalog mutations to
// the injected executor.
type Server struct {
	ln   *quic.Listener
	tr   *quic.Transport
	udp  *net.UDPConn
	exec AgentExecutor
	log  *logrus.Logger

	wg sync.WaitGroup

	mu    sync.Mutex
	conns map[*quic.Conn]struct{}
}

// Serve binds addr and starts the accept loop. Source addresses are
// verified (with a transport-level retry) before a connection is accepted.
func Serve(addr string, exec AgentExecutor, log *logrus.Logger) (*Server, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}

	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("link: resolve %s: %w", addr, err)
	}
	udp, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("link: bind %s: %w", addr, err)
	}

	tlsConf, err := serverTLS()
	if err != nil {
		_ = udp.Close()
		return nil, err
	}

	tr := &quic.Transport{
		Conn:                udp,
		VerifySourceAddress: func(net.Addr) bool { return true },
	}
	ln, err := tr.Listen(tlsConf, &quic.Config{})
	if err != nil {
		_ = tr.Close()
		_ = udp.Close()
		return nil, fmt.Errorf("link: listen: %w", err)
	}

	s := &Server{ln: ln, tr: tr, udp: udp, exec: exec, log: log, conns: make(map[*quic.Conn]struct{})}
	s.wg.Add(1)
	go s.acceptLoop()
	return s, nil
}

// Addr returns the bound address.
func (s *Server) Addr() net.Addr {
	return s.udp.LocalAddr()
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept(context.Background())
		if err != nil {
			return
		}
		s.mu.Lock()
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer func() {
				s.mu.Lock()
				delete(s.conns, conn)
				s.mu.Unlock()
			}()
			s.handle(conn)
		}()
	}
}

// handle owns one agent connection: handshake, I/O loop, close.
func (s *Server) handle(conn *quic.Conn) {
	ctx := conn.Context()

	peer, err := types.PeerFromAddr(conn.RemoteAddr())
	if err != nil {
		s.log.WithError(err).Warn("link: rejecting peer with unusable address")
		_ = conn.CloseWithError(quic.ApplicationErrorCode(wire.BadHandshake), "")
		return
	}
	plog := s.log.WithField("peer", peer.String())
	plog.Debug("link: accepting peer connection")

	stream, err := conn.AcceptStream(ctx)
	if err != nil {
		plog.WithError(err).Warn("link: error accepting peer stream")
		return
	}

	hs, ok := s.completeHandshake(peer, stream, plog)
	if !ok {
		return
	}

	s.exec.Connected(ctx, peer, hs.Icao, hs.QcmpPort)

	code := s.ioLoop(ctx, peer, stream)
	if code != wire.Ok {
		plog.WithField("code", code.String()).Warn("link: error handling peer connection")
	}

	// Disconnect bookkeeping must run even when the connection is already
	// torn down.
	s.exec.Disconnected(context.WithoutCancel(ctx), peer)
	s.close(peer, code, stream)
}

// completeHandshake reads and answers the client handshake, closing the
// stream with the appropriate code on failure.
func (s *Server) completeHandshake(peer types.Peer, stream *quic.Stream, plog *logrus.Entry) (wire.ClientHandshake, bool) {
	buf, err := wire.ReadLP(stream)
	if err != nil {
		plog.WithError(err).Warn("link: error reading peer handshake")
		s.close(peer, wire.CodeForReadError(err), stream)
		return wire.ClientHandshake{}, false
	}

	_, hs, err := wire.ReadClientHandshake(wire.Version, buf)
	if err != nil {
		code := wire.BadHandshake
		var verErr *wire.UnsupportedVersionError
		if errors.As(err, &verErr) {
			code = wire.VersionNotSupported
		}
		plog.WithError(err).Warn("link: error handling peer handshake")
		s.close(peer, code, stream)
		return wire.ClientHandshake{}, false
	}

	// Every V1 handshake that parses is accepted; rejection is reserved for
	// future policy.
	res := wire.ServerHandshake{Accept: true}.Write()
	if _, err := stream.Write(wire.WriteLP(res)); err != nil {
		plog.WithError(err).Warn("link: error sending handshake response")
		s.close(peer, wire.ClientClosed, stream)
		return wire.ClientHandshake{}, false
	}
	return hs, true
}

// ioLoop reads change batches and writes execution results until the stream
// errors, returning the code to close with.
func (s *Server) ioLoop(ctx context.Context, peer types.Peer, stream *quic.Stream) wire.ErrorCode {
	for {
		var changes []wire.ServerChange
		if err := wire.ReadLPJSON(stream, &changes); err != nil {
			return wire.CodeForReadError(err)
		}

		res := s.exec.Execute(ctx, peer, changes)
		buf, err := wire.WriteLPJSON(res)
		if err != nil {
			return wire.InternalServerError
		}
		if _, err := stream.Write(buf); err != nil {
			return wire.ClientClosed
		}
	}
}

// close terminates the stream, surfacing code to the peer. A normal close
// finishes the send side; an abnormal one resets it so the code travels.
func (s *Server) close(peer types.Peer, code wire.ErrorCode, stream *quic.Stream) {
	s.log.WithFields(logrus.Fields{"peer": peer.String(), "code": code.String()}).
		Debug("link: closing peer connection")

	if code == wire.Ok {
		_ = stream.Close()
	} else {
		stream.CancelWrite(quic.StreamErrorCode(code))
	}
	stream.CancelRead(quic.StreamErrorCode(0))
}

// Shutdown stops accepting, closes the endpoint, and waits for connection
// goroutines to drain.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.ln.Close()

	s.mu.Lock()
	for conn := range s.conns {
		_ = conn.CloseWithError(0, "shutting down")
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("link: shutdown: %w", ctx.Err())
	}

	_ = s.tr.Close()
	_ = s.udp.Close()
	return err
}

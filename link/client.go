// Package link implements the persistent connection between an agent and its
// relay: a versioned handshake followed by a length-prefixed request/response
// loop over one bidirectional QUIC stream.
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

// ErrTaskShutdown means the connection's I/O goroutine is gone and the
// request was never sent.
var ErrTaskShutdown = errors.New("link: the I/O task for this client was shutdown")

// drainCode is the reset code the client sends when it shuts down cleanly.
const drainCode = quic.StreamErrorCode(1)

type request struct {
	buf   []byte
	reply chan result
}

type result struct {
	res wire.ExecResult
	err error
}

// Client is a persistent connection to a relay. One goroutine owns the
// stream; requests are serialized through it, so responses arrive in
// request order.
type Client struct {
	conn  *quic.Conn
	tr    *quic.Transport
	udp   *net.UDPConn
	local net.Addr
	log   *logrus.Logger

	reqs     chan request
	shutdown chan struct{}
	done     chan struct{}

	once sync.Once

	mu      sync.Mutex
	loopErr error
}

// Connect dials the relay, performs the V1 handshake, and starts the I/O
// goroutine. The session is unencrypted in the identity sense: the TLS layer
// carries no verified identity.
func Connect(ctx context.Context, addr string, qcmpPort uint16, icao types.IcaoCode, log *logrus.Logger) (*Client, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}

	remote, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("link: resolve %s: %w", addr, err)
	}

	udp, err := net.ListenUDP("udp", nil)
	if err != nil {
		return nil, fmt.Errorf("link: bind: %w", err)
	}

	tr := &quic.Transport{Conn: udp}
	conn, err := tr.Dial(ctx, remote, clientTLS(), &quic.Config{})
	if err != nil {
		_ = tr.Close()
		_ = udp.Close()
		return nil, fmt.Errorf("link: dial %s: %w", addr, err)
	}

	c := &Client{
		conn:     conn,
		tr:       tr,
		udp:      udp,
		local:    udp.LocalAddr(),
		log:      log,
		reqs:     make(chan request, 64),
		shutdown: make(chan struct{}),
		done:     make(chan struct{}),
	}

	stream, err := c.handshake(ctx, qcmpPort, icao)
	if err != nil {
		c.teardown()
		return nil, err
	}

	go c.run(stream)
	return c, nil
}

// handshake opens the stream and exchanges V1 handshakes. Sending the
// request is also what fully establishes the connection.
func (c *Client) handshake(ctx context.Context, qcmpPort uint16, icao types.IcaoCode) (*quic.Stream, error) {
	stream, err := c.conn.OpenStreamSync(ctx)
	if err != nil {
		return nil, fmt.Errorf("link: open stream: %w", err)
	}

	req := wire.ClientHandshake{QcmpPort: qcmpPort, Icao: icao}.Write()
	if _, err := stream.Write(wire.WriteLP(req)); err != nil {
		return nil, fmt.Errorf("link: send handshake: %w", err)
	}

	res, err := wire.ReadLP(stream)
	if err != nil {
		return nil, fmt.Errorf("link: read handshake: %w", err)
	}
	shs, err := wire.ReadServerHandshake(wire.Version, res)
	if err != nil {
		return nil, fmt.Errorf("link: handshake: %w", err)
	}
	if !shs.Accept {
		// Acceptance is the only feature V1 negotiates.
		return nil, fmt.Errorf("link: handshake: %w", &wire.UnsupportedVersionError{Ours: wire.Version, Theirs: 1})
	}
	return stream, nil
}

// LocalAddr returns the client's bound UDP address.
func (c *Client) LocalAddr() net.Addr {
	return c.local
}

// RemoteAddr returns the relay's address.
func (c *Client) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// run drives the stream. Requests are taken one at a time; each is written
// and its response read before the next is considered.
func (c *Client) run(stream *quic.Stream) {
	defer close(c.done)

	for {
		select {
		case <-c.shutdown:
			// Draining: reset our send side, stop reading, and let the
			// server observe the reset and finish closing.
			stream.CancelWrite(drainCode)
			stream.CancelRead(quic.StreamErrorCode(0))
			c.log.Debug("link: client finished")
			return

		case <-c.conn.Context().Done():
			c.setLoopErr(fmt.Errorf("link: connection closed: %w", context.Cause(c.conn.Context())))
			return

		case req := <-c.reqs:
			if _, err := stream.Write(req.buf); err != nil {
				err = fmt.Errorf("link: write request: %w", err)
				req.reply <- result{err: err}
				c.setLoopErr(err)
				return
			}

			var res wire.ExecResult
			err := wire.ReadLPJSON(stream, &res)
			if err != nil {
				c.log.WithError(err).Error("link: error occurred reading response to transaction")
			}

			select {
			case req.reply <- result{res: res, err: err}:
			default:
				c.log.Warn("link: transaction response could not be sent to queuer")
			}
		}
	}
}

func (c *Client) setLoopErr(err error) {
	c.mu.Lock()
	c.loopErr = err
	c.mu.Unlock()
}

// Transactions sends the change batch as one frame and waits for the
// relay's ExecResult. Cancelling ctx abandons the wait, not the request:
// the response is still read and discarded by the loop.
func (c *Client) Transactions(ctx context.Context, changes []wire.ServerChange) (wire.ExecResult, error) {
	buf, err := wire.WriteLPJSON(changes)
	if err != nil {
		return wire.ExecResult{}, fmt.Errorf("link: encode transaction: %w", err)
	}

	req := request{buf: buf, reply: make(chan result, 1)}
	select {
	case c.reqs <- req:
	case <-c.done:
		return wire.ExecResult{}, ErrTaskShutdown
	case <-c.shutdown:
		return wire.ExecResult{}, ErrTaskShutdown
	case <-ctx.Done():
		return wire.ExecResult{}, fmt.Errorf("link: transaction: %w", ctx.Err())
	}

	select {
	case r := <-req.reply:
		return r.res, r.err
	case <-c.done:
		// The loop may have delivered the reply just before exiting.
		select {
		case r := <-req.reply:
			return r.res, r.err
		default:
			return wire.ExecResult{}, ErrTaskShutdown
		}
	case <-ctx.Done():
		return wire.ExecResult{}, fmt.Errorf("link: transaction: %w", ctx.Err())
	}
}

// Shutdown drains the connection and waits for the I/O goroutine.
func (c *Client) Shutdown() {
	c.once.Do(func() { close(c.shutdown) })
	<-c.done

	c.mu.Lock()
	err := c.loopErr
	c.mu.Unlock()
	if err != nil {
		c.log.WithError(err).Warn("link: stream exited with error")
	}

	c.teardown()
}

func (c *Client) teardown() {
	_ = c.conn.CloseWithError(0, "")
	_ = c.tr.Close()
	_ = c.udp.Close()
}

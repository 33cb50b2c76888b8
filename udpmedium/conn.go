// Copyright (c) 2025, Grigory Buteyko aka Hrissan
// Licensed under the MIT License. See LICENSE for details.

package udpmedium

import (
	"io"
	"net/netip"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hrissan/sddr/address"
	"github.com/hrissan/sddr/radio"
)

// conn is a byte stream over datagrams. There is no retransmission, a gap
// in sequence numbers breaks the connection, which radios treat as a
// failed handshake.
type conn struct {
	node    *Node
	session uuid.UUID
	remote  address.Address
	peer    netip.AddrPort

	sendSeq uint32 // only the owning goroutine sends

	mu      sync.Mutex
	pending []byte
	recvSeq uint32
	broken  bool
	closed  bool
	notify  chan struct{}
}

var _ radio.Conn = (*conn)(nil)

func (n *Node) newConn(session uuid.UUID, remote address.Address, peer netip.AddrPort) *conn {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.newConnLocked(session, remote, peer)
}

func (n *Node) newConnLocked(session uuid.UUID, remote address.Address, peer netip.AddrPort) *conn {
	c := &conn{node: n, session: session, remote: remote, peer: peer, notify: make(chan struct{}, 1)}
	n.sessions[session] = c
	return c
}

func (c *conn) RemoteAddress() address.Address { return c.remote }

// Send never blocks for long on UDP, so timeout is not used.
func (c *conn) Send(data []byte, timeout time.Duration) error {
	from := c.node.Address()
	for {
		chunk := data[:min(len(data), maxChunk)]
		f := newFrame(kindData, from)
		f.Seq = c.sendSeq
		f.Data = chunk
		if err := c.node.send(f.withSession(c.session), c.peer); err != nil {
			return err
		}
		c.sendSeq++
		data = data[len(chunk):]
		if len(data) == 0 {
			return nil
		}
	}
}

func (c *conn) deliver(seq uint32, data []byte) {
	c.mu.Lock()
	switch {
	case c.broken || c.closed:
	case seq != c.recvSeq || len(c.pending)+len(data) > c.node.opts.MaxConnectionBytes:
		c.broken = true
	default:
		c.pending = append(c.pending, data...)
		c.recvSeq++
	}
	c.mu.Unlock()
	c.signal()
}

func (c *conn) signal() {
	select {
	case c.notify <- struct{}{}:
	default:
	}
}

func (c *conn) markClosed() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.signal()
}

func (c *conn) Recv(buf []byte, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		c.mu.Lock()
		if len(c.pending) >= len(buf) {
			copy(buf, c.pending)
			c.pending = c.pending[len(buf):]
			c.mu.Unlock()
			return nil
		}
		broken, closed := c.broken, c.closed
		c.mu.Unlock()
		if broken {
			return ErrBroken
		}
		if closed {
			return io.ErrUnexpectedEOF
		}
		select {
		case <-c.notify:
		case <-timer.C:
			return ErrTimeout
		}
	}
}

// WaitClose waits until the peer closes or timeout passes.
func (c *conn) WaitClose(timeout time.Duration) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		c.mu.Lock()
		closed := c.closed
		c.mu.Unlock()
		if closed {
			return
		}
		select {
		case <-c.notify:
		case <-timer.C:
			return
		}
	}
}

func (c *conn) Close() error {
	c.node.removeSession(c.session)
	c.mu.Lock()
	wasClosed := c.closed
	c.closed = true
	c.mu.Unlock()
	if !wasClosed {
		f := newFrame(kindClose, c.node.Address())
		_ = c.node.send(f.withSession(c.session), c.peer)
	}
	return nil
}

package medium

import (
	"io"
	"net"
	"time"

	"github.com/hrissan/sddr/address"
	"github.com/hrissan/sddr/radio"
)

// conn deadlines use real time, pipes never depend on the simulated clock.
type conn struct {
	pipe   net.Conn
	remote address.Address
}

var _ radio.Conn = (*conn)(nil)

func newPipe(clientAddr address.Address, serverAddr address.Address) (client *conn, server *conn) {
	a, b := net.Pipe()
	return &conn{pipe: a, remote: serverAddr}, &conn{pipe: b, remote: clientAddr}
}

func (c *conn) RemoteAddress() address.Address { return c.remote }

func (c *conn) Send(data []byte, timeout time.Duration) error {
	if err := c.pipe.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
		return err
	}
	_, err := c.pipe.Write(data)
	return err
}

func (c *conn) Recv(buf []byte, timeout time.Duration) error {
	if err := c.pipe.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return err
	}
	_, err := io.ReadFull(c.pipe, buf)
	return err
}

// WaitClose drains until the peer closes or timeout passes.
func (c *conn) WaitClose(timeout time.Duration) {
	if c.pipe.SetReadDeadline(time.Now().Add(timeout)) != nil {
		return
	}
	var buf [64]byte
	for {
		if _, err := c.pipe.Read(buf[:]); err != nil {
			return
		}
	}
}

func (c *conn) Close() error { return c.pipe.Close() }

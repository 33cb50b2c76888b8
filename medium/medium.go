// Package medium is an in-memory radio medium. Every node sees the adverts
// of every other node the link function lets through, connections are
// synchronous net.Pipe pairs.
package medium

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hrissan/sddr/address"
	"github.com/hrissan/sddr/clock"
	"github.com/hrissan/sddr/radio"
)

// inquiry period of classic radios
const InquiryPeriod = 1280 * time.Millisecond

var (
	ErrNotFound       = errors.New("no device with this address in range")
	ErrNotConnectable = errors.New("device is not accepting connections")
	ErrListening      = errors.New("node is already listening")
	ErrClosed         = errors.New("listener closed")
)

// Link decides whether node to hears node from, and how strong. It runs
// with the medium locked, so it may only use Label of the nodes.
type Link func(from *Node, to *Node) (rssi int8, ok bool)

// FixedLink lets everything through with the same rssi.
func FixedLink(rssi int8) Link {
	return func(*Node, *Node) (int8, bool) { return rssi, true }
}

type Medium struct {
	clock clock.Clock

	mu    sync.Mutex
	link  Link
	nodes []*Node
}

func New(cl clock.Clock) *Medium {
	return &Medium{clock: cl, link: FixedLink(-50)}
}

func (m *Medium) SetLink(link Link) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.link = link
}

// NewNode adds a node without address, it stays invisible until SetAddress.
func (m *Medium) NewNode(label string) *Node {
	n := &Node{medium: m, label: label}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nodes = append(m.nodes, n)
	return n
}

func (m *Medium) RemoveNode(n *Node) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, other := range m.nodes {
		if other == n {
			m.nodes = append(m.nodes[:i], m.nodes[i+1:]...)
			break
		}
	}
	if n.listener != nil {
		n.listener.closeLocked()
		n.listener = nil
	}
}

type heard struct {
	addr         address.Address
	rssi         int8
	advert       []byte
	scanResponse []byte
}

// heardBy snapshots what to can hear right now.
func (m *Medium) heardBy(to *Node) []heard {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []heard
	for _, from := range m.nodes {
		if from == to || !from.hasAddress {
			continue
		}
		rssi, ok := m.link(from, to)
		if !ok {
			continue
		}
		result = append(result, heard{
			addr:         from.address,
			rssi:         rssi,
			advert:       clone(from.advert),
			scanResponse: clone(from.scanResponse),
		})
	}
	return result
}

func (m *Medium) find(to *Node, addr address.Address) (*Node, error) {
	for _, from := range m.nodes {
		if from == to || !from.hasAddress || from.address != addr {
			continue
		}
		if _, ok := m.link(from, to); ok {
			return from, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, addr)
}

func clone(data []byte) []byte {
	if data == nil {
		return nil
	}
	return append([]byte(nil), data...)
}

// Node is one radio adapter attached to the medium.
type Node struct {
	medium *Medium
	label  string

	// guarded by medium.mu
	hasAddress   bool
	address      address.Address
	advert       []byte
	scanResponse []byte
	name         string
	connectable  bool
	listener     *listener
}

var _ radio.Adapter = (*Node)(nil)

func (n *Node) Label() string { return n.label }

// Listening reports whether a listener is accepting connections.
func (n *Node) Listening() bool {
	n.medium.mu.Lock()
	defer n.medium.mu.Unlock()
	return n.listener != nil
}

func (n *Node) Address() address.Address {
	n.medium.mu.Lock()
	defer n.medium.mu.Unlock()
	return n.address
}

func (n *Node) SetAddress(addr address.Address) error {
	n.medium.mu.Lock()
	defer n.medium.mu.Unlock()
	n.address = addr
	n.hasAddress = true
	return nil
}

func (n *Node) SetAdvert(data []byte) error {
	n.medium.mu.Lock()
	defer n.medium.mu.Unlock()
	n.advert = clone(data)
	return nil
}

func (n *Node) SetScanResponse(data []byte) error {
	n.medium.mu.Lock()
	defer n.medium.mu.Unlock()
	n.scanResponse = clone(data)
	return nil
}

func (n *Node) SetName(name string) error {
	n.medium.mu.Lock()
	defer n.medium.mu.Unlock()
	n.name = name
	return nil
}

func (n *Node) SetConnectable(connectable bool) error {
	n.medium.mu.Lock()
	defer n.medium.mu.Unlock()
	n.connectable = connectable
	return nil
}

// Scan reports the advert and then the scan response (if any) of every
// node in range, then lets the window pass.
func (n *Node) Scan(ctx context.Context, window time.Duration, fn func(radio.ScanResult)) error {
	for _, h := range n.medium.heardBy(n) {
		if err := ctx.Err(); err != nil {
			return err
		}
		fn(radio.ScanResult{Address: h.addr, RSSI: h.rssi, Data: h.advert})
		if h.scanResponse != nil {
			fn(radio.ScanResult{Address: h.addr, RSSI: h.rssi, Data: h.scanResponse})
		}
	}
	return n.medium.clock.Sleep(ctx, window)
}

func (n *Node) Inquiry(ctx context.Context, periods int, fn func(radio.ScanResult)) error {
	for _, h := range n.medium.heardBy(n) {
		if err := ctx.Err(); err != nil {
			return err
		}
		fn(radio.ScanResult{Address: h.addr, RSSI: h.rssi, Data: h.advert})
	}
	return n.medium.clock.Sleep(ctx, time.Duration(periods)*InquiryPeriod)
}

func (n *Node) ReadRemoteName(ctx context.Context, addr address.Address, timeout time.Duration) (string, error) {
	n.medium.mu.Lock()
	defer n.medium.mu.Unlock()
	remote, err := n.medium.find(n, addr)
	if err != nil {
		return "", err
	}
	return remote.name, nil
}

func (n *Node) Connect(ctx context.Context, addr address.Address, timeout time.Duration) (radio.Conn, error) {
	n.medium.mu.Lock()
	remote, err := n.medium.find(n, addr)
	if err != nil {
		n.medium.mu.Unlock()
		return nil, err
	}
	if !remote.connectable || remote.listener == nil {
		n.medium.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrNotConnectable, addr)
	}
	l := remote.listener
	local := n.address
	n.medium.mu.Unlock()

	client, server := newPipe(local, addr)
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	select {
	case l.incoming <- server:
		return client, nil
	case <-l.closed:
		return nil, fmt.Errorf("%w: %s", ErrNotConnectable, addr)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (n *Node) Listen(ctx context.Context) (radio.Listener, error) {
	n.medium.mu.Lock()
	defer n.medium.mu.Unlock()
	if n.listener != nil {
		return nil, ErrListening
	}
	n.listener = &listener{
		node:     n,
		incoming: make(chan *conn),
		closed:   make(chan struct{}),
	}
	return n.listener, nil
}

type listener struct {
	node     *Node
	incoming chan *conn
	closed   chan struct{}
	once     sync.Once
}

func (l *listener) Accept(ctx context.Context) (radio.Conn, error) {
	select {
	case c := <-l.incoming:
		return c, nil
	case <-l.closed:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (l *listener) Close() error {
	l.node.medium.mu.Lock()
	defer l.node.medium.mu.Unlock()
	if l.node.listener == l {
		l.node.listener = nil
	}
	l.closeLocked()
	return nil
}

func (l *listener) closeLocked() {
	l.once.Do(func() { close(l.closed) })
}

// Copyright (c) 2025, Grigory Buteyko aka Hrissan
// Licensed under the MIT License. See LICENSE for details.

// Package udpmedium carries radio traffic over UDP datagrams, so nodes in
// separate processes or hosts can discover each other. Every node
// periodically sends its advert and scan response to its peers. Name
// requests and connections are request/reply exchanges correlated by a
// session ID.
package udpmedium

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hrissan/sddr/address"
	"github.com/hrissan/sddr/clock"
	"github.com/hrissan/sddr/radio"
	"github.com/hrissan/sddr/stats"
)

var (
	ErrNotFound       = errors.New("no device with this address heard")
	ErrNotConnectable = errors.New("device refused the connection")
	ErrListening      = errors.New("node is already listening")
	ErrClosed         = errors.New("closed")
	ErrTimeout        = errors.New("timeout")
	ErrBadFrame       = errors.New("malformed frame")
	ErrBroken         = errors.New("datagram lost, connection broken")
)

type Options struct {
	BroadcastInterval time.Duration `yaml:"broadcast_interval"`
	InquiryPeriod     time.Duration `yaml:"inquiry_period"`
	// datagrams carry no signal strength, every node is heard with this rssi
	RSSI               int8          `yaml:"rssi"`
	ReadErrorDelay     time.Duration `yaml:"read_error_delay"`
	MaxPendingAccepts  int           `yaml:"max_pending_accepts"`
	MaxConnectionBytes int           `yaml:"max_connection_bytes"`
}

func DefaultOptions() Options {
	return Options{
		BroadcastInterval:  250 * time.Millisecond,
		InquiryPeriod:      1280 * time.Millisecond,
		RSSI:               -60,
		ReadErrorDelay:     50 * time.Millisecond,
		MaxPendingAccepts:  16,
		MaxConnectionBytes: 4 << 20,
	}
}

// payload of one data frame, well below the loopback and typical LAN limits
const maxChunk = 8 << 10

type Node struct {
	opts   Options
	stats  stats.Stats
	clock  clock.Clock
	socket *net.UDPConn

	mu           sync.Mutex
	addr         address.Address
	hasAddress   bool
	advert       []byte
	scanResponse []byte
	name         string
	connectable  bool
	peers        []netip.AddrPort
	known        map[address.Address]netip.AddrPort
	scans        map[*scan]struct{}
	replies      map[uuid.UUID]chan frame
	sessions     map[uuid.UUID]*conn
	listener     *listener

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

var _ radio.Adapter = (*Node)(nil)

// for tests and tools
func OpenSocket(addressPort string) (*net.UDPConn, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addressPort)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve local udp address %s: %w", addressPort, err)
	}
	socket, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("cannot listen to udp address %s: %w", addressPort, err)
	}
	return socket, nil
}

func Open(addressPort string, opts Options, st stats.Stats, cl clock.Clock) (*Node, error) {
	socket, err := OpenSocket(addressPort)
	if err != nil {
		return nil, err
	}
	return NewNode(socket, opts, st, cl), nil
}

// NewNode owns socket from now on and starts receiving and broadcasting.
func NewNode(socket *net.UDPConn, opts Options, st stats.Stats, cl clock.Clock) *Node {
	n := &Node{
		opts:     opts,
		stats:    st,
		clock:    cl,
		socket:   socket,
		known:    map[address.Address]netip.AddrPort{},
		scans:    map[*scan]struct{}{},
		replies:  map[uuid.UUID]chan frame{},
		sessions: map[uuid.UUID]*conn{},
		done:     make(chan struct{}),
	}
	n.wg.Add(2)
	go n.goReceive()
	go n.goBroadcast()
	return n
}

func (n *Node) LocalAddr() netip.AddrPort {
	return n.socket.LocalAddr().(*net.UDPAddr).AddrPort()
}

// SetPeers replaces the set of nodes adverts are sent to.
func (n *Node) SetPeers(peers []netip.AddrPort) {
	local := n.LocalAddr()
	filtered := make([]netip.AddrPort, 0, len(peers))
	for _, p := range peers {
		if p != local {
			filtered = append(filtered, p)
		}
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.peers = filtered
}

func (n *Node) Close() error {
	var err error
	n.closeOnce.Do(func() {
		close(n.done)
		err = n.socket.Close() // so receiver also exits
		n.mu.Lock()
		if n.listener != nil {
			n.listener.closeLocked()
			n.listener = nil
		}
		for _, c := range n.sessions {
			c.markClosed()
		}
		n.mu.Unlock()
		n.wg.Wait()
	})
	return err
}

func (n *Node) Address() address.Address {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.addr
}

func (n *Node) SetAddress(addr address.Address) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.addr = addr
	n.hasAddress = true
	return nil
}

func (n *Node) SetAdvert(data []byte) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.advert = bytes.Clone(data)
	return nil
}

func (n *Node) SetScanResponse(data []byte) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.scanResponse = bytes.Clone(data)
	return nil
}

func (n *Node) SetName(name string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.name = name
	return nil
}

func (n *Node) SetConnectable(connectable bool) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.connectable = connectable
	return nil
}

func (n *Node) Scan(ctx context.Context, window time.Duration, fn func(radio.ScanResult)) error {
	return n.collect(ctx, window, true, fn)
}

func (n *Node) Inquiry(ctx context.Context, periods int, fn func(radio.ScanResult)) error {
	return n.collect(ctx, time.Duration(periods)*n.opts.InquiryPeriod, false, fn)
}

// scan gathers broadcasts heard during one window, each payload once.
type scan struct {
	withScanResponses bool
	seen              map[string]struct{}
	results           []radio.ScanResult
}

func (s *scan) add(f *frame, rssi int8) {
	if f.Kind == kindScanResponse && !s.withScanResponses {
		return
	}
	key := string(f.From) + string(rune(f.Kind)) + string(f.Data)
	if _, ok := s.seen[key]; ok {
		return
	}
	s.seen[key] = struct{}{}
	s.results = append(s.results, radio.ScanResult{Address: f.from(), RSSI: rssi, Data: bytes.Clone(f.Data)})
}

func (n *Node) collect(ctx context.Context, window time.Duration, withScanResponses bool, fn func(radio.ScanResult)) error {
	s := &scan{withScanResponses: withScanResponses, seen: map[string]struct{}{}}
	n.mu.Lock()
	n.scans[s] = struct{}{}
	n.mu.Unlock()

	err := n.clock.Sleep(ctx, window)

	n.mu.Lock()
	delete(n.scans, s)
	results := s.results
	n.mu.Unlock()
	if err != nil {
		return err
	}
	for _, res := range results {
		fn(res)
	}
	return nil
}

func (n *Node) ReadRemoteName(ctx context.Context, addr address.Address, timeout time.Duration) (string, error) {
	session := uuid.New()
	reply, err := n.request(ctx, addr, kindNameRequest, session, timeout)
	if err != nil {
		return "", err
	}
	return reply.Name, nil
}

func (n *Node) Connect(ctx context.Context, addr address.Address, timeout time.Duration) (radio.Conn, error) {
	session := uuid.New()
	peer, ok := n.peerOf(addr)
	if !ok {
		return nil, ErrNotFound
	}
	// registered before asking, the server may send right after accepting
	c := n.newConn(session, addr, peer)
	reply, err := n.request(ctx, addr, kindConnect, session, timeout)
	if err == nil && reply.Kind != kindAccept {
		err = ErrNotConnectable
	}
	if err != nil {
		n.removeSession(session)
		return nil, err
	}
	return c, nil
}

func (n *Node) Listen(ctx context.Context) (radio.Listener, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.listener != nil {
		return nil, ErrListening
	}
	n.listener = &listener{
		node:     n,
		incoming: make(chan *conn, max(n.opts.MaxPendingAccepts, 1)),
		done:     make(chan struct{}),
	}
	return n.listener, nil
}

func (n *Node) peerOf(addr address.Address) (netip.AddrPort, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	peer, ok := n.known[addr]
	return peer, ok
}

// request sends a frame to addr and waits for the reply with the same session.
func (n *Node) request(ctx context.Context, addr address.Address, k kind, session uuid.UUID, timeout time.Duration) (frame, error) {
	peer, ok := n.peerOf(addr)
	if !ok {
		return frame{}, ErrNotFound
	}
	ch := make(chan frame, 1)
	n.mu.Lock()
	from := n.addr
	n.replies[session] = ch
	n.mu.Unlock()
	defer func() {
		n.mu.Lock()
		delete(n.replies, session)
		n.mu.Unlock()
	}()

	f := newFrame(k, from)
	if err := n.send(f.withTo(addr).withSession(session), peer); err != nil {
		return frame{}, err
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case reply := <-ch:
		return reply, nil
	case <-timer.C:
		return frame{}, ErrTimeout
	case <-ctx.Done():
		return frame{}, ctx.Err()
	case <-n.done:
		return frame{}, ErrClosed
	}
}

func (n *Node) send(f *frame, to netip.AddrPort) error {
	datagram, err := encodeFrame(f)
	if err != nil {
		return err
	}
	if _, err := n.socket.WriteToUDPAddrPort(datagram, to); err != nil {
		if !errors.Is(err, net.ErrClosed) {
			n.stats.MediumError("write", err)
		}
		return err
	}
	return nil
}

func (n *Node) goBroadcast() {
	defer n.wg.Done()
	ticker := time.NewTicker(n.opts.BroadcastInterval)
	defer ticker.Stop()
	for {
		select {
		case <-n.done:
			return
		case <-ticker.C:
		}
		n.mu.Lock()
		hasAddress := n.hasAddress
		advert := newFrame(kindAdvert, n.addr)
		advert.Data = n.advert
		scanResponse := newFrame(kindScanResponse, n.addr)
		scanResponse.Data = n.scanResponse
		peers := n.peers
		n.mu.Unlock()
		if !hasAddress {
			continue
		}
		for _, peer := range peers {
			_ = n.send(&advert, peer)
			if scanResponse.Data != nil {
				_ = n.send(&scanResponse, peer)
			}
		}
	}
}

// blocks until socket is closed
func (n *Node) goReceive() {
	defer n.wg.Done()
	datagram := make([]byte, 65536)
	for {
		size, from, err := n.socket.ReadFromUDPAddrPort(datagram)
		if size != 0 { // do not check for an error here
			n.receivedDatagram(datagram[:size], from)
		}
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			n.stats.MediumError("read", err)
			time.Sleep(n.opts.ReadErrorDelay)
		}
	}
}

func (n *Node) receivedDatagram(datagram []byte, from netip.AddrPort) {
	f, err := decodeFrame(datagram)
	if err != nil {
		n.stats.MediumError("decode", err)
		return
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.known[f.from()] = from
	switch f.Kind {
	case kindAdvert, kindScanResponse:
		for s := range n.scans {
			s.add(&f, n.opts.RSSI)
		}
	case kindNameReply, kindAccept, kindRefuse:
		if ch, ok := n.replies[f.session()]; ok {
			select {
			case ch <- f:
			default:
			}
		}
	case kindNameRequest:
		if n.addressedToMe(&f) {
			reply := newFrame(kindNameReply, n.addr)
			reply.Name = n.name
			n.sendLocked(reply.withSession(f.session()), from)
		}
	case kindConnect:
		if n.addressedToMe(&f) {
			n.acceptLocked(&f, from)
		}
	case kindData:
		if c, ok := n.sessions[f.session()]; ok {
			c.deliver(f.Seq, f.Data)
		}
	case kindClose:
		if c, ok := n.sessions[f.session()]; ok {
			c.markClosed()
		}
	}
}

func (n *Node) addressedToMe(f *frame) bool {
	to, ok := f.to()
	return ok && n.hasAddress && to == n.addr && f.session() != uuid.Nil
}

// sendLocked replies from the receiver goroutine, writes never block on UDP.
func (n *Node) sendLocked(f *frame, to netip.AddrPort) {
	datagram, err := encodeFrame(f)
	if err != nil {
		n.stats.MediumError("encode", err)
		return
	}
	if _, err := n.socket.WriteToUDPAddrPort(datagram, to); err != nil && !errors.Is(err, net.ErrClosed) {
		n.stats.MediumError("write", err)
	}
}

func (n *Node) acceptLocked(f *frame, from netip.AddrPort) {
	session := f.session()
	refuse := newFrame(kindRefuse, n.addr)
	refuse.withSession(session)
	if !n.connectable || n.listener == nil {
		n.sendLocked(&refuse, from)
		return
	}
	if _, ok := n.sessions[session]; ok {
		return // retransmitted request
	}
	c := n.newConnLocked(session, f.from(), from)
	select {
	case n.listener.incoming <- c:
	default:
		delete(n.sessions, session)
		n.sendLocked(&refuse, from)
		return
	}
	accept := newFrame(kindAccept, n.addr)
	n.sendLocked(accept.withSession(session), from)
}

func (n *Node) removeSession(session uuid.UUID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.sessions, session)
}

type listener struct {
	node     *Node
	incoming chan *conn
	done     chan struct{}
	once     sync.Once
}

func (l *listener) Accept(ctx context.Context) (radio.Conn, error) {
	select {
	case c := <-l.incoming:
		return c, nil
	case <-l.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (l *listener) Close() error {
	l.node.mu.Lock()
	defer l.node.mu.Unlock()
	if l.node.listener == l {
		l.node.listener = nil
	}
	l.closeLocked()
	return nil
}

func (l *listener) closeLocked() {
	l.once.Do(func() { close(l.done) })
}

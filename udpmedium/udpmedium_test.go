// Copyright (c) 2025, Grigory Buteyko aka Hrissan
// Licensed under the MIT License. See LICENSE for details.

package udpmedium

import (
	"bytes"
	"context"
	"net/netip"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/hrissan/sddr/address"
	"github.com/hrissan/sddr/clock"
	"github.com/hrissan/sddr/radio"
	"github.com/hrissan/sddr/stats"
)

func testNode(t *testing.T) *Node {
	t.Helper()
	opts := DefaultOptions()
	opts.BroadcastInterval = 10 * time.Millisecond
	opts.InquiryPeriod = 50 * time.Millisecond
	n, err := Open("127.0.0.1:0", opts, stats.NopStats{}, clock.Real())
	require.NoError(t, err)
	t.Cleanup(func() { _ = n.Close() })
	return n
}

func pair(t *testing.T) (*Node, *Node) {
	a, b := testNode(t), testNode(t)
	a.SetPeers([]netip.AddrPort{a.LocalAddr(), b.LocalAddr()})
	b.SetPeers([]netip.AddrPort{a.LocalAddr(), b.LocalAddr()})
	require.NoError(t, a.SetAddress(address.Address{0xA, 1, 2, 3, 4, 5}))
	require.NoError(t, b.SetAddress(address.Address{0xB, 1, 2, 3, 4, 5}))
	return a, b
}

func TestFrameRoundTrip(t *testing.T) {
	session := uuid.New()
	f := newFrame(kindData, address.Address{1, 2, 3, 4, 5, 6})
	f.Seq = 7
	f.Data = []byte("payload")
	datagram, err := encodeFrame(f.withTo(address.Address{6, 5, 4, 3, 2, 1}).withSession(session))
	require.NoError(t, err)

	got, err := decodeFrame(datagram)
	require.NoError(t, err)
	require.Equal(t, kindData, got.Kind)
	require.Equal(t, address.Address{1, 2, 3, 4, 5, 6}, got.from())
	to, ok := got.to()
	require.True(t, ok)
	require.Equal(t, address.Address{6, 5, 4, 3, 2, 1}, to)
	require.Equal(t, session, got.session())
	require.Equal(t, uint32(7), got.Seq)
	require.Equal(t, []byte("payload"), got.Data)

	bad := newFrame(kind(99), address.Address{})
	datagram, err = encodeFrame(&bad)
	require.NoError(t, err)
	_, err = decodeFrame(datagram)
	require.ErrorIs(t, err, ErrBadFrame)
	_, err = decodeFrame([]byte{0xFF})
	require.ErrorIs(t, err, ErrBadFrame)
}

func FuzzDecodeFrame(f *testing.F) {
	advert := newFrame(kindAdvert, address.Address{1, 2, 3, 4, 5, 6})
	advert.Data = []byte{1, 2, 3}
	seed, err := encodeFrame(&advert)
	require.NoError(f, err)
	f.Add(seed)
	f.Fuzz(func(t *testing.T, datagram []byte) {
		got, err := decodeFrame(datagram)
		if err != nil {
			return
		}
		require.Len(t, got.From, address.Size)
		require.NotZero(t, got.Kind)
	})
}

func TestScanHearsPeerOnce(t *testing.T) {
	a, b := pair(t)
	require.NoError(t, b.SetAdvert([]byte{0xAD}))
	require.NoError(t, b.SetScanResponse([]byte{0x5C}))

	var results []radio.ScanResult
	require.NoError(t, a.Scan(context.Background(), 200*time.Millisecond, func(res radio.ScanResult) {
		results = append(results, res)
	}))
	require.ElementsMatch(t, []radio.ScanResult{
		{Address: b.Address(), RSSI: -60, Data: []byte{0xAD}},
		{Address: b.Address(), RSSI: -60, Data: []byte{0x5C}},
	}, results)

	results = nil
	require.NoError(t, a.Inquiry(context.Background(), 4, func(res radio.ScanResult) {
		results = append(results, res)
	}))
	require.Equal(t, []radio.ScanResult{{Address: b.Address(), RSSI: -60, Data: []byte{0xAD}}}, results)
}

func TestReadRemoteName(t *testing.T) {
	a, b := pair(t)
	require.NoError(t, b.SetName("bob"))
	ctx := context.Background()

	_, err := a.ReadRemoteName(ctx, address.Address{9, 9, 9, 9, 9, 9}, time.Second)
	require.ErrorIs(t, err, ErrNotFound)

	require.Eventually(t, func() bool {
		_, ok := a.peerOf(b.Address())
		return ok
	}, 2*time.Second, 10*time.Millisecond)
	name, err := a.ReadRemoteName(ctx, b.Address(), time.Second)
	require.NoError(t, err)
	require.Equal(t, "bob", name)
}

func TestConnectStream(t *testing.T) {
	a, b := pair(t)
	ctx := context.Background()
	require.Eventually(t, func() bool {
		_, ok := a.peerOf(b.Address())
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	_, err := a.Connect(ctx, b.Address(), time.Second)
	require.ErrorIs(t, err, ErrNotConnectable)

	require.NoError(t, b.SetConnectable(true))
	l, err := b.Listen(ctx)
	require.NoError(t, err)
	defer func() { _ = l.Close() }()
	_, err = b.Listen(ctx)
	require.ErrorIs(t, err, ErrListening)

	// larger than one datagram
	payload := bytes.Repeat([]byte("0123456789abcdef"), 2*maxChunk/16+3)
	done := make(chan error, 1)
	go func() {
		c, err := l.Accept(ctx)
		if err != nil {
			done <- err
			return
		}
		defer func() { _ = c.Close() }()
		buf := make([]byte, len(payload))
		if err := c.Recv(buf, 2*time.Second); err != nil {
			done <- err
			return
		}
		done <- c.Send(buf[:4], time.Second)
	}()

	c, err := a.Connect(ctx, b.Address(), time.Second)
	require.NoError(t, err)
	require.Equal(t, b.Address(), c.RemoteAddress())
	require.NoError(t, c.Send(payload, time.Second))
	reply := make([]byte, 4)
	require.NoError(t, c.Recv(reply, 2*time.Second))
	require.Equal(t, payload[:4], reply)
	require.NoError(t, <-done)

	c.WaitClose(2 * time.Second)
	require.Error(t, c.Recv(reply, 100*time.Millisecond))
	require.NoError(t, c.Close())
}

func TestRecvDetectsGap(t *testing.T) {
	n := testNode(t)
	c := n.newConn(uuid.New(), address.Address{1}, n.LocalAddr())
	c.deliver(0, []byte("ab"))
	c.deliver(2, []byte("cd"))
	buf := make([]byte, 2)
	require.NoError(t, c.Recv(buf, time.Second))
	require.ErrorIs(t, c.Recv(buf, time.Second), ErrBroken)
}

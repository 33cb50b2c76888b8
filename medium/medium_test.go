package medium_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hrissan/sddr/address"
	"github.com/hrissan/sddr/clock"
	"github.com/hrissan/sddr/medium"
	"github.com/hrissan/sddr/radio"
)

var start = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func collect(t *testing.T, n *medium.Node, window time.Duration) []radio.ScanResult {
	var results []radio.ScanResult
	require.NoError(t, n.Scan(context.Background(), window, func(res radio.ScanResult) {
		results = append(results, res)
	}))
	return results
}

func TestScanSeesOthersOnly(t *testing.T) {
	cl := clock.NewManual(start)
	m := medium.New(cl)
	a, b, c := m.NewNode("a"), m.NewNode("b"), m.NewNode("c")
	addrA := address.Address{1, 2, 3, 4, 5, 6}
	addrB := address.Address{6, 5, 4, 3, 2, 1}
	require.NoError(t, a.SetAddress(addrA))
	require.NoError(t, b.SetAddress(addrB))
	require.NoError(t, b.SetAdvert([]byte{0xAD}))
	require.NoError(t, b.SetScanResponse([]byte{0x5C}))
	_ = c // no address, invisible

	results := collect(t, a, time.Second)
	require.Equal(t, []radio.ScanResult{
		{Address: addrB, RSSI: -50, Data: []byte{0xAD}},
		{Address: addrB, RSSI: -50, Data: []byte{0x5C}},
	}, results)
	require.Equal(t, start.Add(time.Second), cl.Now())

	var inquiry []radio.ScanResult
	require.NoError(t, b.Inquiry(context.Background(), 2, func(res radio.ScanResult) {
		inquiry = append(inquiry, res)
	}))
	require.Equal(t, []radio.ScanResult{{Address: addrA, RSSI: -50}}, inquiry)
	require.Equal(t, start.Add(time.Second+2*medium.InquiryPeriod), cl.Now())
}

func TestLinkFilters(t *testing.T) {
	m := medium.New(clock.NewManual(start))
	a, b := m.NewNode("a"), m.NewNode("b")
	require.NoError(t, a.SetAddress(address.Address{1}))
	require.NoError(t, b.SetAddress(address.Address{2}))
	require.NoError(t, b.SetName("bob"))
	m.SetLink(func(from *medium.Node, to *medium.Node) (int8, bool) {
		return -70, from.Label() != "b"
	})
	require.Empty(t, collect(t, a, 0))
	require.Len(t, collect(t, b, 0), 1)

	_, err := a.ReadRemoteName(context.Background(), address.Address{2}, time.Second)
	require.ErrorIs(t, err, medium.ErrNotFound)
	m.SetLink(medium.FixedLink(-60))
	name, err := a.ReadRemoteName(context.Background(), address.Address{2}, time.Second)
	require.NoError(t, err)
	require.Equal(t, "bob", name)

	m.RemoveNode(b)
	require.Empty(t, collect(t, a, 0))
}

func TestConnectAccept(t *testing.T) {
	m := medium.New(clock.NewManual(start))
	a, b := m.NewNode("a"), m.NewNode("b")
	addrA, addrB := address.Address{1}, address.Address{2}
	require.NoError(t, a.SetAddress(addrA))
	require.NoError(t, b.SetAddress(addrB))

	ctx := context.Background()
	_, err := a.Connect(ctx, addrB, 100*time.Millisecond)
	require.ErrorIs(t, err, medium.ErrNotConnectable)

	require.NoError(t, b.SetConnectable(true))
	l, err := b.Listen(ctx)
	require.NoError(t, err)
	defer func() { _ = l.Close() }()
	_, err = b.Listen(ctx)
	require.ErrorIs(t, err, medium.ErrListening)

	done := make(chan error, 1)
	go func() {
		c, err := l.Accept(ctx)
		if err != nil {
			done <- err
			return
		}
		defer func() { _ = c.Close() }()
		if c.RemoteAddress() != addrA {
			done <- medium.ErrNotFound
			return
		}
		buf := make([]byte, 3)
		if err := c.Recv(buf, time.Second); err != nil {
			done <- err
			return
		}
		done <- c.Send(append(buf, '!'), time.Second)
	}()

	c, err := a.Connect(ctx, addrB, time.Second)
	require.NoError(t, err)
	require.Equal(t, addrB, c.RemoteAddress())
	require.NoError(t, c.Send([]byte("abc"), time.Second))
	reply := make([]byte, 4)
	require.NoError(t, c.Recv(reply, time.Second))
	require.Equal(t, "abc!", string(reply))
	require.NoError(t, <-done)
	c.WaitClose(time.Second)
	require.NoError(t, c.Close())
}

func TestAcceptAfterClose(t *testing.T) {
	m := medium.New(clock.NewManual(start))
	n := m.NewNode("n")
	l, err := n.Listen(context.Background())
	require.NoError(t, err)
	require.NoError(t, l.Close())
	_, err = l.Accept(context.Background())
	require.ErrorIs(t, err, medium.ErrClosed)

	// closing frees the slot
	l, err = n.Listen(context.Background())
	require.NoError(t, err)
	require.NoError(t, l.Close())
}

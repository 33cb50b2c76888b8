// Copyright (c) 2025, Grigory Buteyko aka Hrissan
// Licensed under the MIT License. See LICENSE for details.

package radio

import (
	"context"
	"time"

	"github.com/hrissan/sddr/address"
)

// ScanResult is one advert, scan response or inquiry response heard.
type ScanResult struct {
	Address address.Address
	RSSI    int8
	Data    []byte
}

// Adapter is the local radio. Any failure is treated by callers as
// "did not happen": logged and skipped.
type Adapter interface {
	Address() address.Address
	SetAddress(addr address.Address) error
	// SetAdvert sets the payload broadcast periodically (BT4 advert, BT2 extended inquiry response).
	SetAdvert(data []byte) error
	SetScanResponse(data []byte) error
	// SetName sets the string returned to remote name requests.
	SetName(name string) error
	SetConnectable(connectable bool) error

	// Scan reports adverts and scan responses heard during window, one call per payload.
	Scan(ctx context.Context, window time.Duration, fn func(ScanResult)) error
	// Inquiry reports extended inquiry responses heard during periods inquiry periods.
	Inquiry(ctx context.Context, periods int, fn func(ScanResult)) error
	ReadRemoteName(ctx context.Context, addr address.Address, timeout time.Duration) (string, error)

	Connect(ctx context.Context, addr address.Address, timeout time.Duration) (Conn, error)
	Listen(ctx context.Context) (Listener, error)
}

type Conn interface {
	RemoteAddress() address.Address
	Send(data []byte, timeout time.Duration) error
	// Recv fills buf completely or fails.
	Recv(buf []byte, timeout time.Duration) error
	// WaitClose waits until the peer closes, used by the side that sends last.
	WaitClose(timeout time.Duration)
	Close() error
}

type Listener interface {
	// Accept blocks until a peer connects, ctx is done or the listener is closed.
	Accept(ctx context.Context) (Conn, error)
	Close() error
}

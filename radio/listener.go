// Copyright (c) 2025, Grigory Buteyko aka Hrissan
// Licensed under the MIT License. See LICENSE for details.

package radio

import (
	"context"
	"errors"
	"time"

	"github.com/hrissan/sddr/address"
	"github.com/hrissan/sddr/clock"
	"github.com/hrissan/sddr/keyexchange"
	"github.com/hrissan/sddr/linkvalue"
	"github.com/hrissan/sddr/stats"
)

const (
	listenRestartDelay = 5 * time.Second
	listenBacklog      = 64
)

var errListenBacklog = errors.New("incoming handshake dropped, backlog full")

// handshakeSnapshot is published by the loop goroutine and read by the
// listener, so the listener never touches loop state.
type handshakeSnapshot struct {
	local   *keyexchange.Exchange
	message []byte
}

// listenResult is a completed incoming handshake, processed later by the loop.
type listenResult struct {
	addr    address.Address
	message []byte
	local   *keyexchange.Exchange
	// set by radios that run private set intersection after the key exchange
	intersection []linkvalue.LinkValue
	psiDone      bool
}

// listenLoop accepts incoming connections one at a time until stopped.
// If the adapter fails to listen, it retries after a delay.
type listenLoop struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func startListener(ctx context.Context, st stats.Stats, adapter Adapter, serve func(ctx context.Context, conn Conn)) *listenLoop {
	ctx, cancel := context.WithCancel(ctx)
	l := &listenLoop{cancel: cancel, done: make(chan struct{})}
	go l.run(ctx, st, adapter, serve)
	return l
}

func (l *listenLoop) run(ctx context.Context, st stats.Stats, adapter Adapter, serve func(ctx context.Context, conn Conn)) {
	defer close(l.done)
	for {
		listener, err := adapter.Listen(ctx)
		if err == nil {
			for {
				conn, err := listener.Accept(ctx)
				if err != nil {
					if ctx.Err() == nil {
						st.MediumError("accept", err)
					}
					break
				}
				serve(ctx, conn)
				_ = conn.Close()
			}
			_ = listener.Close()
		} else if ctx.Err() == nil {
			st.MediumError("listen", err)
		}
		// Manual clock does not block, so the restart delay always uses real time
		if clock.Real().Sleep(ctx, listenRestartDelay) != nil {
			return
		}
	}
}

func (l *listenLoop) stop() {
	if l == nil {
		return
	}
	l.cancel()
	<-l.done
}

func allZero(data []byte) bool {
	for _, b := range data {
		if b != 0 {
			return false
		}
	}
	return true
}

// Package peers finds the other nodes of a UDP medium through etcd. Each
// node keeps its socket address under a leased key, so crashed nodes
// disappear once the lease expires.
package peers

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"slices"
	"strings"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
)

const DefaultPrefix = "/sddr/nodes/"

var ErrEmptyID = errors.New("node id must not be empty")

func NewClient(endpoints []string, dialTimeout time.Duration) (*clientv3.Client, error) {
	return clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: dialTimeout,
	})
}

type Registry struct {
	log     *zap.Logger
	kv      clientv3.KV
	lease   clientv3.Lease
	watcher clientv3.Watcher
	prefix  string
}

func New(log *zap.Logger, cli *clientv3.Client) *Registry {
	return NewWith(log, cli, cli, cli, DefaultPrefix)
}

func NewWith(log *zap.Logger, kv clientv3.KV, lease clientv3.Lease, watcher clientv3.Watcher, prefix string) *Registry {
	return &Registry{log: log.Named("peers"), kv: kv, lease: lease, watcher: watcher, prefix: prefix}
}

func (r *Registry) key(id string) string { return r.prefix + id }

// Register publishes addr under id until ctx is done or the returned
// function is called, which also revokes the lease.
func (r *Registry) Register(ctx context.Context, id string, addr string, ttl int64) (func(context.Context) error, error) {
	if id == "" {
		return nil, ErrEmptyID
	}
	lease, err := r.lease.Grant(ctx, ttl)
	if err != nil {
		return nil, fmt.Errorf("grant lease: %w", err)
	}
	if _, err := r.kv.Put(ctx, r.key(id), addr, clientv3.WithLease(lease.ID)); err != nil {
		return nil, fmt.Errorf("put %s: %w", r.key(id), err)
	}
	keepCtx, cancel := context.WithCancel(ctx)
	responses, err := r.lease.KeepAlive(keepCtx, lease.ID)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("keep alive: %w", err)
	}
	go func() {
		for range responses { // channel closes when keepCtx is done or the lease is lost
		}
		if keepCtx.Err() == nil {
			r.log.Warn("lease lost", zap.String("id", id), zap.Int64("lease", int64(lease.ID)))
		}
	}()
	r.log.Info("registered", zap.String("id", id), zap.String("addr", addr), zap.Int64("ttl", ttl))
	return func(ctx context.Context) error {
		cancel()
		_, err := r.lease.Revoke(ctx, lease.ID)
		return err
	}, nil
}

// Peers returns the registered address of every node, by id.
func (r *Registry) Peers(ctx context.Context) (map[string]string, error) {
	resp, err := r.kv.Get(ctx, r.prefix, clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", r.prefix, err)
	}
	result := make(map[string]string, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		result[strings.TrimPrefix(string(kv.Key), r.prefix)] = string(kv.Value)
	}
	return result, nil
}

// WatchPeers calls fn with the full peer map now and after every change,
// until ctx is done.
func (r *Registry) WatchPeers(ctx context.Context, fn func(map[string]string)) error {
	watch := r.watcher.Watch(ctx, r.prefix, clientv3.WithPrefix())
	current, err := r.Peers(ctx)
	if err != nil {
		return err
	}
	fn(current)
	for resp := range watch {
		if err := resp.Err(); err != nil {
			return fmt.Errorf("watch %s: %w", r.prefix, err)
		}
		if current, err = r.Peers(ctx); err != nil {
			return err
		}
		fn(current)
	}
	return ctx.Err()
}

// Addresses parses peer values into UDP addresses, skipping self and
// anything unparsable. The result is sorted.
func Addresses(peers map[string]string, self string) ([]netip.AddrPort, []error) {
	var result []netip.AddrPort
	var errs []error
	for id, value := range peers {
		if id == self {
			continue
		}
		ap, err := netip.ParseAddrPort(value)
		if err != nil {
			errs = append(errs, fmt.Errorf("peer %s: %w", id, err))
			continue
		}
		result = append(result, ap)
	}
	slices.SortFunc(result, func(a, b netip.AddrPort) int { return a.Compare(b) })
	return result, errs
}

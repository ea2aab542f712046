// Package discovery bootstraps nodes from an etcd registry.
//
// Each node registers its address under '<prefix><node ID>' with a lease that
// is kept alive while the node runs. New nodes list the prefix to find
// existing nodes to join.
package discovery

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/andydunstall/swimrelay/pkg/log"
	"github.com/andydunstall/swimrelay/pkg/swim"
)

type Registry struct {
	conf *Config

	client *clientv3.Client

	leaseID clientv3.LeaseID
	// cancelKeepAlive stops keeping the registration lease alive.
	cancelKeepAlive func()

	// mu protects the above fields.
	mu sync.Mutex

	logger log.Logger
}

func NewRegistry(conf *Config, logger log.Logger) (*Registry, error) {
	client, err := clientv3.New(clientv3.Config{
		Endpoints:   conf.Endpoints,
		DialTimeout: conf.DialTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("etcd client: %w", err)
	}
	return &Registry{
		conf:   conf,
		client: client,
		logger: logger.WithSubsystem("discovery"),
	}, nil
}

// Register registers the address of the local node, and keeps the
// registration alive until Close.
func (r *Registry) Register(ctx context.Context, addr swim.PeerAddress) error {
	lease, err := r.client.Grant(ctx, int64(r.conf.TTL.Seconds()))
	if err != nil {
		return fmt.Errorf("grant lease: %w", err)
	}

	key := nodeKey(r.conf.Prefix, addr.ID)
	if _, err := r.client.Put(ctx, key, addr.String(), clientv3.WithLease(lease.ID)); err != nil {
		return fmt.Errorf("put: %s: %w", key, err)
	}

	keepAliveCtx, cancel := context.WithCancel(context.Background())
	keepAliveCh, err := r.client.KeepAlive(keepAliveCtx, lease.ID)
	if err != nil {
		cancel()
		return fmt.Errorf("keep alive: %w", err)
	}

	r.mu.Lock()
	r.leaseID = lease.ID
	r.cancelKeepAlive = cancel
	r.mu.Unlock()

	go func() {
		// Drain responses until the lease is revoked or expires.
		for range keepAliveCh {
		}
		if keepAliveCtx.Err() == nil {
			r.logger.Warn("registration lease lost", zap.String("key", key))
		}
	}()

	r.logger.Info(
		"registered node",
		zap.String("key", key),
		zap.String("addr", addr.String()),
	)

	return nil
}

// Peers returns the addresses of every registered node. Registrations that
// can't be parsed are skipped.
func (r *Registry) Peers(ctx context.Context) ([]swim.PeerAddress, error) {
	resp, err := r.client.Get(ctx, r.conf.Prefix, clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("get: %s: %w", r.conf.Prefix, err)
	}

	var peers []swim.PeerAddress
	for _, kv := range resp.Kvs {
		addr, err := parsePeer(r.conf.Prefix, string(kv.Key), string(kv.Value))
		if err != nil {
			r.logger.Warn("invalid registration", zap.Error(err))
			continue
		}
		peers = append(peers, addr)
	}
	return peers, nil
}

// Close revokes the registration of the local node and closes the client.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	leaseID := r.leaseID
	cancel := r.cancelKeepAlive
	r.mu.Unlock()

	var err error
	if cancel != nil {
		cancel()
		if _, revokeErr := r.client.Revoke(ctx, leaseID); revokeErr != nil {
			err = multierr.Append(err, fmt.Errorf("revoke: %w", revokeErr))
		}
	}
	if closeErr := r.client.Close(); closeErr != nil {
		err = multierr.Append(err, fmt.Errorf("close: %w", closeErr))
	}
	return err
}

func nodeKey(prefix string, id swim.NodeID) string {
	return prefix + id.String()
}

// parsePeer parses a registration, checking the key matches the ID of the
// registered address.
func parsePeer(prefix string, key string, value string) (swim.PeerAddress, error) {
	idStr, ok := strings.CutPrefix(key, prefix)
	if !ok {
		return swim.PeerAddress{}, fmt.Errorf("key missing prefix: %s", key)
	}
	id, err := strconv.ParseUint(idStr, 10, 64)
	if err != nil {
		return swim.PeerAddress{}, fmt.Errorf("invalid key: %s: %w", key, err)
	}

	addr, err := swim.ParsePeerAddress(value)
	if err != nil {
		return swim.PeerAddress{}, fmt.Errorf("invalid value: %s: %w", key, err)
	}
	if addr.ID != swim.NodeID(id) {
		return swim.PeerAddress{}, fmt.Errorf(
			"key does not match node: %s: %s", key, addr,
		)
	}
	return addr, nil
}

package registry

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.etcd.io/etcd/api/v3/mvccpb"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"

	"github.com/ryandielhenn/ringd/pkg/ring"
)

const DefaultPrefix = "/ringd/nodes/"

func NewClient(endpoints []string) (*clientv3.Client, error) {
	return clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: 5 * time.Second,
	})
}

// EtcdRegistry publishes this node's heartbeat address and resolves peers
// from a prefix-scoped cache kept fresh by a watch.
type EtcdRegistry struct {
	cli         *clientv3.Client
	prefix      string
	defaultPort string
	log         *zap.Logger

	mu    sync.RWMutex
	peers map[ring.NodeID]string
}

func NewEtcdRegistry(cli *clientv3.Client, prefix string, defaultPort int, log *zap.Logger) *EtcdRegistry {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &EtcdRegistry{
		cli:         cli,
		prefix:      prefix,
		defaultPort: strconv.Itoa(defaultPort),
		log:         log,
		peers:       make(map[ring.NodeID]string),
	}
}

func (r *EtcdRegistry) key(id ring.NodeID) string {
	return r.prefix + strconv.FormatUint(uint64(id), 10)
}

func (r *EtcdRegistry) parseKey(key []byte) (ring.NodeID, bool) {
	rest, ok := strings.CutPrefix(string(key), r.prefix)
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseUint(rest, 10, 32)
	if err != nil {
		return 0, false
	}
	return ring.NodeID(n), true
}

// Register puts id -> addr under a lease of ttl seconds and keeps the lease
// alive until the returned cancel func is called.
func (r *EtcdRegistry) Register(ctx context.Context, id ring.NodeID, addr string, ttl int64) (clientv3.LeaseID, context.CancelFunc, error) {
	lease, err := r.cli.Grant(ctx, ttl)
	if err != nil {
		return 0, nil, fmt.Errorf("grant lease: %w", err)
	}
	if _, err := r.cli.Put(ctx, r.key(id), addr, clientv3.WithLease(lease.ID)); err != nil {
		return 0, nil, fmt.Errorf("put %s: %w", r.key(id), err)
	}

	kctx, cancel := context.WithCancel(context.Background())
	acks, err := r.cli.KeepAlive(kctx, lease.ID)
	if err != nil {
		cancel()
		return 0, nil, fmt.Errorf("keep lease alive: %w", err)
	}
	go func() {
		for range acks {
		}
		r.log.Debug("lease keep-alive ended", zap.Int64("lease", int64(lease.ID)))
	}()

	r.store(id, addr)
	r.log.Info("registered node", zap.String("key", r.key(id)), zap.String("addr", addr))
	return lease.ID, cancel, nil
}

// Load fills the cache with everything currently under the prefix.
func (r *EtcdRegistry) Load(ctx context.Context) error {
	resp, err := r.cli.Get(ctx, r.prefix, clientv3.WithPrefix())
	if err != nil {
		return fmt.Errorf("get %s: %w", r.prefix, err)
	}
	for _, kv := range resp.Kvs {
		if id, ok := r.parseKey(kv.Key); ok {
			r.store(id, string(kv.Value))
		}
	}
	return nil
}

// Watch applies changes under the prefix to the cache until ctx ends. It
// returns once the watch channel closes.
func (r *EtcdRegistry) Watch(ctx context.Context) {
	for resp := range r.cli.Watch(ctx, r.prefix, clientv3.WithPrefix()) {
		if err := resp.Err(); err != nil {
			r.log.Warn("peer watch error", zap.Error(err))
			continue
		}
		for _, ev := range resp.Events {
			id, ok := r.parseKey(ev.Kv.Key)
			if !ok {
				continue
			}
			switch ev.Type {
			case mvccpb.PUT:
				r.store(id, string(ev.Kv.Value))
				r.log.Debug("peer address updated", zap.Uint32("peer", uint32(id)), zap.ByteString("addr", ev.Kv.Value))
			case mvccpb.DELETE:
				r.mu.Lock()
				delete(r.peers, id)
				r.mu.Unlock()
				r.log.Debug("peer address removed", zap.Uint32("peer", uint32(id)))
			}
		}
	}
}

func (r *EtcdRegistry) store(id ring.NodeID, addr string) {
	r.mu.Lock()
	r.peers[id] = NormalizeHostPort(addr, r.defaultPort)
	r.mu.Unlock()
}

// Resolve answers from the cache and falls back to a direct read.
func (r *EtcdRegistry) Resolve(ctx context.Context, id ring.NodeID) (string, error) {
	r.mu.RLock()
	addr, ok := r.peers[id]
	r.mu.RUnlock()
	if ok {
		return addr, nil
	}
	resp, err := r.cli.Get(ctx, r.key(id))
	if err != nil {
		return "", fmt.Errorf("get %s: %w", r.key(id), err)
	}
	if len(resp.Kvs) == 0 {
		return "", fmt.Errorf("%w: %d", ErrUnknownNode, id)
	}
	r.store(id, string(resp.Kvs[0].Value))
	return r.Resolve(ctx, id)
}

// Peers returns a copy of the cached address table.
func (r *EtcdRegistry) Peers() map[ring.NodeID]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[ring.NodeID]string, len(r.peers))
	for id, addr := range r.peers {
		out[id] = addr
	}
	return out
}

package rebaser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p"
	dht "github.com/libp2p/go-libp2p-kad-dht"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	drouting "github.com/libp2p/go-libp2p/p2p/discovery/routing"
	dutil "github.com/libp2p/go-libp2p/p2p/discovery/util"
	"github.com/multiformats/go-multiaddr"
)

// GossipOptions configures GossipPubSub.
type GossipOptions struct {
	// ListenAddrs are multiaddrs the host listens on.
	ListenAddrs []string
	// BootstrapPeers are full /p2p multiaddrs dialled at start.
	BootstrapPeers []string
	// EnableDHT turns on kad-dht peer discovery under Rendezvous.
	EnableDHT  bool
	Rendezvous string
}

// DefaultGossipOptions listens on a random TCP port without discovery.
func DefaultGossipOptions() *GossipOptions {
	return &GossipOptions{
		ListenAddrs: []string{"/ip4/0.0.0.0/tcp/0"},
		Rendezvous:  "wsgraph-rebaser",
	}
}

// GossipPubSub carries messages over libp2p GossipSub. Messages published
// by this host are delivered to its own subscribers as well.
type GossipPubSub struct {
	host   host.Host
	ps     *pubsub.PubSub
	dht    *dht.IpfsDHT
	ctx    context.Context
	cancel context.CancelFunc

	mutex         sync.Mutex
	topics        map[string]*pubsub.Topic
	subscriptions map[string]*gossipSubscription
	closed        bool
}

type gossipSubscription struct {
	*subscription
	sub  *pubsub.Subscription
	done chan struct{}
}

var _ PubSub = (*GossipPubSub)(nil)

// NewGossipPubSub starts a libp2p host and joins the gossip mesh.
func NewGossipPubSub(ctx context.Context, opts *GossipOptions) (*GossipPubSub, error) {
	if opts == nil {
		opts = DefaultGossipOptions()
	}
	ctx, cancel := context.WithCancel(ctx)

	h, err := libp2p.New(
		libp2p.ListenAddrStrings(opts.ListenAddrs...),
		libp2p.DisableRelay(),
	)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create libp2p host: %w", err)
	}
	logger.Infof("libp2p host created. ID: %s", h.ID())
	for _, addr := range h.Addrs() {
		logger.Infof("listening on: %s/p2p/%s", addr, h.ID())
	}

	g := &GossipPubSub{
		host:          h,
		ctx:           ctx,
		cancel:        cancel,
		topics:        make(map[string]*pubsub.Topic),
		subscriptions: make(map[string]*gossipSubscription),
	}

	if opts.EnableDHT {
		kdht, err := dht.New(ctx, h, dht.Mode(dht.ModeAuto))
		if err != nil {
			g.Close()
			return nil, fmt.Errorf("failed to create dht: %w", err)
		}
		g.dht = kdht
	}

	g.connectBootstrap(ctx, opts.BootstrapPeers)

	if g.dht != nil {
		if err := g.dht.Bootstrap(ctx); err != nil {
			g.Close()
			return nil, fmt.Errorf("failed to bootstrap dht: %w", err)
		}
		go g.discover(opts.Rendezvous)
	}

	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		g.Close()
		return nil, fmt.Errorf("failed to create pubsub: %w", err)
	}
	g.ps = ps
	return g, nil
}

// ID returns the host's peer id.
func (g *GossipPubSub) ID() peer.ID {
	return g.host.ID()
}

func (g *GossipPubSub) connectBootstrap(ctx context.Context, addrs []string) {
	for _, s := range addrs {
		ma, err := multiaddr.NewMultiaddr(s)
		if err != nil {
			logger.Warnf("invalid bootstrap address %q: %v", s, err)
			continue
		}
		info, err := peer.AddrInfoFromP2pAddr(ma)
		if err != nil {
			logger.Warnf("bootstrap address %q has no peer id: %v", s, err)
			continue
		}
		if err := g.host.Connect(ctx, *info); err != nil {
			logger.Warnf("failed to connect to bootstrap peer %s: %v", info.ID, err)
			continue
		}
		logger.Infof("connected to bootstrap peer %s", info.ID)
	}
}

// discover advertises the rendezvous and dials peers found under it.
func (g *GossipPubSub) discover(rendezvous string) {
	rd := drouting.NewRoutingDiscovery(g.dht)
	dutil.Advertise(g.ctx, rd, rendezvous)

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		peers, err := rd.FindPeers(g.ctx, rendezvous)
		if err != nil {
			logger.Warnf("peer discovery failed: %v", err)
		} else {
			for p := range peers {
				if p.ID == g.host.ID() || len(p.Addrs) == 0 {
					continue
				}
				if err := g.host.Connect(g.ctx, p); err != nil {
					logger.Debugf("failed to connect to discovered peer %s: %v", p.ID, err)
				}
			}
		}

		select {
		case <-g.ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// topic joins name once and returns the shared handle. Callers hold mutex.
func (g *GossipPubSub) topic(name string) (*pubsub.Topic, error) {
	if t, ok := g.topics[name]; ok {
		return t, nil
	}
	t, err := g.ps.Join(name)
	if err != nil {
		return nil, fmt.Errorf("failed to join pubsub topic %s: %w", name, err)
	}
	g.topics[name] = t
	return t, nil
}

// Publish publishes payload on the gossip topic.
func (g *GossipPubSub) Publish(ctx context.Context, topic string, payload []byte) error {
	g.mutex.Lock()
	if g.closed {
		g.mutex.Unlock()
		return ErrClosed
	}
	t, err := g.topic(topic)
	g.mutex.Unlock()
	if err != nil {
		return err
	}
	return t.Publish(ctx, payload)
}

// Subscribe subscribes to the gossip topic.
func (g *GossipPubSub) Subscribe(ctx context.Context, topic string, subscriberID string, handler Handler) error {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	if g.closed {
		return ErrClosed
	}
	key := subKey(topic, subscriberID)
	if _, ok := g.subscriptions[key]; ok {
		return fmt.Errorf("already subscribed to topic %s with subscriber %s", topic, subscriberID)
	}

	t, err := g.topic(topic)
	if err != nil {
		return err
	}
	psub, err := t.Subscribe()
	if err != nil {
		return fmt.Errorf("failed to subscribe to topic %s: %w", topic, err)
	}

	sub := &gossipSubscription{
		subscription: newSubscription(ctx, topic, subscriberID, handler),
		sub:          psub,
		done:         make(chan struct{}),
	}
	g.subscriptions[key] = sub
	go sub.run()
	return nil
}

func (s *gossipSubscription) run() {
	defer close(s.done)
	for {
		msg, err := s.sub.Next(s.ctx)
		if err != nil {
			// unsubscribed or context ended
			return
		}
		s.deliver(Message{Topic: s.topic, Payload: msg.Data})
	}
}

func (s *gossipSubscription) stop() {
	s.cancel()
	s.sub.Cancel()
	<-s.done
}

// Unsubscribe cancels the subscriber's gossip subscription.
func (g *GossipPubSub) Unsubscribe(ctx context.Context, topic string, subscriberID string) error {
	g.mutex.Lock()
	key := subKey(topic, subscriberID)
	sub, ok := g.subscriptions[key]
	delete(g.subscriptions, key)
	g.mutex.Unlock()

	if !ok {
		return fmt.Errorf("subscriber %s not found for topic %s", subscriberID, topic)
	}
	sub.stop()
	return nil
}

// Close leaves every topic and shuts the host down.
func (g *GossipPubSub) Close() error {
	g.mutex.Lock()
	if g.closed {
		g.mutex.Unlock()
		return nil
	}
	g.closed = true
	subs := g.subscriptions
	topics := g.topics
	g.subscriptions = nil
	g.topics = nil
	g.mutex.Unlock()

	for _, sub := range subs {
		sub.stop()
	}
	for name, t := range topics {
		if err := t.Close(); err != nil {
			logger.Warnf("failed to close topic %s: %v", name, err)
		}
	}
	g.cancel()
	if g.dht != nil {
		if err := g.dht.Close(); err != nil {
			logger.Warnf("failed to close dht: %v", err)
		}
	}
	return g.host.Close()
}

// Package gateway is an in-process destination gateway for tests: a JSON-RPC server with the
// checkpoint feed and the redirect service.
package gateway

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/rpc"

	"github.com/neutron-org/deposit-relayer/internal/relay"
)

type RedirectFunc func(req relay.RedirectRequest) (*relay.DeliveryReceipt, error)

type Gateway struct {
	server *rpc.Server

	mu        sync.Mutex
	latest    relay.Checkpoint
	feeds     map[int]chan relay.Checkpoint
	nextFeed  int
	redirect  RedirectFunc
	redirects []relay.RedirectRequest
}

func New() *Gateway {
	g := &Gateway{
		server: rpc.NewServer(),
		feeds:  make(map[int]chan relay.Checkpoint),
		redirect: func(req relay.RedirectRequest) (*relay.DeliveryReceipt, error) {
			return &relay.DeliveryReceipt{DecodedResult: []byte("ok")}, nil
		},
	}
	if err := g.server.RegisterName("gateway", &service{g: g}); err != nil {
		panic(err)
	}
	return g
}

// Client returns a client connected to the gateway in-process.
func (g *Gateway) Client() *rpc.Client {
	return rpc.DialInProc(g.server)
}

// Publish sets the latest checkpoint and pushes it to every subscriber.
func (g *Gateway) Publish(cp relay.Checkpoint) {
	g.mu.Lock()
	g.latest = cp
	feeds := make([]chan relay.Checkpoint, 0, len(g.feeds))
	for _, f := range g.feeds {
		feeds = append(feeds, f)
	}
	g.mu.Unlock()

	for _, f := range feeds {
		f <- cp
	}
}

func (g *Gateway) OnRedirect(fn RedirectFunc) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.redirect = fn
}

func (g *Gateway) Redirects() []relay.RedirectRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]relay.RedirectRequest(nil), g.redirects...)
}

func (g *Gateway) Subscribers() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.feeds)
}

func (g *Gateway) Close() {
	g.server.Stop()
}

type service struct {
	g *Gateway
}

func (s *service) LatestCheckpoint() (relay.Checkpoint, error) {
	s.g.mu.Lock()
	defer s.g.mu.Unlock()
	return s.g.latest, nil
}

func (s *service) Redirect(req relay.RedirectRequest) (*relay.DeliveryReceipt, error) {
	s.g.mu.Lock()
	s.g.redirects = append(s.g.redirects, req)
	fn := s.g.redirect
	s.g.mu.Unlock()

	return fn(req)
}

func (s *service) Checkpoints(ctx context.Context) (*rpc.Subscription, error) {
	notifier, ok := rpc.NotifierFromContext(ctx)
	if !ok {
		return nil, rpc.ErrNotificationsUnsupported
	}
	sub := notifier.CreateSubscription()

	feed := make(chan relay.Checkpoint, 64)
	s.g.mu.Lock()
	id := s.g.nextFeed
	s.g.nextFeed++
	s.g.feeds[id] = feed
	s.g.mu.Unlock()

	go func() {
		defer func() {
			s.g.mu.Lock()
			delete(s.g.feeds, id)
			s.g.mu.Unlock()
		}()
		for {
			select {
			case cp := <-feed:
				if err := notifier.Notify(sub.ID, cp); err != nil {
					return
				}
			case <-sub.Err():
				return
			}
		}
	}()
	return sub, nil
}

package discovery

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/go-logr/logr"
	"golang.org/x/sync/errgroup"
)

var ErrNotStarted = errors.New("discovery service is not started")

// Node is a member address found in an external registry, together with the
// placement metadata the registry knows about it.
type Node struct {
	Address        string
	PrivateAddress string
	Properties     map[string]string
}

func (n Node) String() string {
	return n.Address
}

type Settings struct {
	Logger logr.Logger
	// LocalAddress is the address the local member is reachable on. When no
	// strategy knows the local metadata it is taken from the discovered node
	// with this address.
	LocalAddress string
}

// ServiceProvider is installed into the member configuration and creates the
// discovery service when the member starts joining.
type ServiceProvider interface {
	NewDiscoveryService(settings Settings) (Service, error)
}

type Service interface {
	Start(ctx context.Context) error
	DiscoverNodes(ctx context.Context) ([]Node, error)
	DiscoverLocalMetadata(ctx context.Context) (map[string]string, error)
	Destroy(ctx context.Context) error
}

// Strategy is implemented by a concrete registry.
type Strategy interface {
	Name() string
	DiscoverNodes(ctx context.Context) ([]Node, error)
	LocalMetadata(ctx context.Context) (map[string]string, error)
}

type NodeFilter func(Node) bool

type StrategyProvider struct {
	strategies []Strategy
	filter     NodeFilter
}

func NewStrategyProvider(filter NodeFilter, strategies ...Strategy) *StrategyProvider {
	return &StrategyProvider{strategies: strategies, filter: filter}
}

func (p *StrategyProvider) NewDiscoveryService(settings Settings) (Service, error) {
	if len(p.strategies) == 0 {
		return nil, fmt.Errorf("no discovery strategies configured")
	}
	return &strategyService{
		strategies:   p.strategies,
		filter:       p.filter,
		localAddress: settings.LocalAddress,
		log:          settings.Logger,
	}, nil
}

type strategyService struct {
	sync.Mutex
	strategies []Strategy
	filter     NodeFilter
	// localAddress of this member, empty when unknown
	localAddress string
	log          logr.Logger
	started      bool
}

func (s *strategyService) Start(_ context.Context) error {
	s.Lock()
	defer s.Unlock()
	s.started = true
	for _, st := range s.strategies {
		s.log.V(1).Info("Discovery strategy started", "strategy", st.Name())
	}
	return nil
}

func (s *strategyService) isStarted() bool {
	s.Lock()
	defer s.Unlock()
	return s.started
}

func (s *strategyService) DiscoverNodes(ctx context.Context) ([]Node, error) {
	if !s.isStarted() {
		return nil, ErrNotStarted
	}

	results := make([][]Node, len(s.strategies))
	g, gctx := errgroup.WithContext(ctx)
	for i, st := range s.strategies {
		i, st := i, st
		g.Go(func() error {
			nodes, err := st.DiscoverNodes(gctx)
			if err != nil {
				return fmt.Errorf("discovery strategy %s: %w", st.Name(), err)
			}
			results[i] = nodes
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return s.merge(results), nil
}

// merge keeps the first node seen for an address, so earlier strategies take
// precedence over later ones.
func (s *strategyService) merge(results [][]Node) []Node {
	seen := make(map[string]struct{})
	merged := make([]Node, 0)
	for _, nodes := range results {
		for _, n := range nodes {
			if n.Address == "" {
				s.log.V(1).Info("Skipping discovered node without address", "node", n)
				continue
			}
			if _, ok := seen[n.Address]; ok {
				continue
			}
			if s.filter != nil && !s.filter(n) {
				continue
			}
			seen[n.Address] = struct{}{}
			merged = append(merged, n)
		}
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].Address < merged[j].Address })
	return merged
}

func (s *strategyService) DiscoverLocalMetadata(ctx context.Context) (map[string]string, error) {
	if !s.isStarted() {
		return nil, ErrNotStarted
	}
	md := make(map[string]string)
	for _, st := range s.strategies {
		m, err := st.LocalMetadata(ctx)
		if err != nil {
			return nil, fmt.Errorf("discovery strategy %s: %w", st.Name(), err)
		}
		for k, v := range m {
			if _, ok := md[k]; !ok {
				md[k] = v
			}
		}
	}
	if len(md) > 0 || s.localAddress == "" {
		return md, nil
	}

	nodes, err := s.DiscoverNodes(ctx)
	if err != nil {
		return nil, err
	}
	for _, n := range nodes {
		if n.Address != s.localAddress {
			continue
		}
		for k, v := range n.Properties {
			md[k] = v
		}
		return md, nil
	}
	s.log.V(1).Info("Local member is not among the discovered nodes", "address", s.localAddress)
	return md, nil
}

func (s *strategyService) Destroy(_ context.Context) error {
	s.Lock()
	defer s.Unlock()
	s.started = false
	return nil
}

package client

import (
	"context"
	"sync"

	"github.com/hazelcast/hazelcast-partition-groups/internal/config"
)

type ClientRegistry interface {
	Create(ctx context.Context, hz config.Hazelcast, addresses []string) (Client, error)
	Get(clusterName string) (Client, bool)
	Delete(ctx context.Context, clusterName string)
}

type HazelcastClientRegistry struct {
	clients sync.Map
	// NewClient is replaced in tests.
	NewClient func(ctx context.Context, hz config.Hazelcast, addresses []string) (Client, error)
}

func (cr *HazelcastClientRegistry) Create(ctx context.Context, hz config.Hazelcast, addresses []string) (Client, error) {
	client, ok := cr.Get(hz.ClusterName)
	if ok {
		return client, nil
	}
	newClient := cr.NewClient
	if newClient == nil {
		newClient = func(ctx context.Context, hz config.Hazelcast, addresses []string) (Client, error) {
			return NewClient(ctx, BuildConfig(hz, addresses))
		}
	}
	c, err := newClient(ctx, hz, addresses)
	if err != nil {
		return nil, err
	}
	cr.clients.Store(hz.ClusterName, c)
	return c, nil
}

func (cr *HazelcastClientRegistry) Get(clusterName string) (Client, bool) {
	if v, ok := cr.clients.Load(clusterName); ok {
		return v.(Client), true
	}
	return nil, false
}

func (cr *HazelcastClientRegistry) Delete(ctx context.Context, clusterName string) {
	if c, ok := cr.clients.LoadAndDelete(clusterName); ok {
		c.(Client).Shutdown(ctx) //nolint:errcheck
	}
}

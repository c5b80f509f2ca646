package client

import (
	"context"

	"github.com/hazelcast/hazelcast-go-client"
	"github.com/hazelcast/hazelcast-go-client/cluster"
)

type Client interface {
	Running() bool
	IsClientConnected() bool
	AreAllMembersAccessible() bool

	OrderedMembers() []cluster.MemberInfo

	Shutdown(ctx context.Context) error
}

type HazelcastClient struct {
	client *hazelcast.Client
}

func NewClient(ctx context.Context, config hazelcast.Config) (*HazelcastClient, error) {
	hzClient, err := hazelcast.StartNewClientWithConfig(ctx, config)
	if err != nil {
		return nil, err
	}
	return &HazelcastClient{client: hzClient}, nil
}

func (cl *HazelcastClient) OrderedMembers() []cluster.MemberInfo {
	if cl.client == nil {
		return nil
	}

	icl := hazelcast.NewClientInternal(cl.client)
	return icl.OrderedMembers()
}

func (cl *HazelcastClient) IsClientConnected() bool {
	if cl.client == nil {
		return false
	}

	icl := hazelcast.NewClientInternal(cl.client)
	for _, mem := range icl.OrderedMembers() {
		if icl.ConnectedToMember(mem.UUID) {
			return true
		}
	}
	return false
}

func (cl *HazelcastClient) AreAllMembersAccessible() bool {
	if cl.client == nil {
		return false
	}

	icl := hazelcast.NewClientInternal(cl.client)
	for _, mem := range icl.OrderedMembers() {
		if !icl.ConnectedToMember(mem.UUID) {
			return false
		}
	}
	return true
}

func (cl *HazelcastClient) Running() bool {
	return cl.client != nil && cl.client.Running()
}

func (cl *HazelcastClient) Shutdown(ctx context.Context) error {
	if cl.client == nil {
		return nil
	}
	return cl.client.Shutdown(ctx)
}

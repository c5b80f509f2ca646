package client

import (
	"context"
	"sync"

	"github.com/hazelcast/hazelcast-go-client/cluster"
	hztypes "github.com/hazelcast/hazelcast-go-client/types"

	n "github.com/hazelcast/hazelcast-partition-groups/internal/naming"
)

type fakeHzClient struct {
	sync.Mutex
	tOrderedMembers []cluster.MemberInfo
	tRunning        bool
	shutdowns       int
}

func (cl *fakeHzClient) Running() bool {
	return cl.tRunning
}

func (cl *fakeHzClient) IsClientConnected() bool {
	return cl.tRunning
}

func (cl *fakeHzClient) AreAllMembersAccessible() bool {
	return cl.tRunning
}

func (cl *fakeHzClient) OrderedMembers() []cluster.MemberInfo {
	cl.Lock()
	defer cl.Unlock()
	return cl.tOrderedMembers
}

func (cl *fakeHzClient) Shutdown(_ context.Context) error {
	cl.Lock()
	defer cl.Unlock()
	cl.shutdowns++
	cl.tRunning = false
	return nil
}

func zoneMemberInfo(ip, zone string) cluster.MemberInfo {
	return cluster.MemberInfo{
		Address:    cluster.NewAddress(ip, 5701),
		UUID:       hztypes.NewUUID(),
		Version:    cluster.MemberVersion{Major: 5, Minor: 1, Patch: 0},
		Attributes: map[string]string{n.PartitionGroupZoneAttribute: zone},
	}
}

package client

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/hazelcast/hazelcast-go-client/cluster"
	. "github.com/onsi/gomega"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"

	"github.com/hazelcast/hazelcast-partition-groups/internal/config"
)

func TestStatusServiceUpdateMembers(t *testing.T) {
	g := NewWithT(t)
	cl := &fakeHzClient{tOrderedMembers: []cluster.MemberInfo{
		zoneMemberInfo("10.0.0.1", "us-east-1a"),
		zoneMemberInfo("10.0.0.2", "us-east-1b"),
	}}
	var updates []*Status
	ss := NewStatusService(cl, zoneAware, zap.New(zap.WriteTo(io.Discard)), time.Hour, func(s *Status) {
		updates = append(updates, s)
	})

	ss.UpdateMembers()

	status := ss.GetStatus()
	g.Expect(updates).To(ConsistOf(status))
	g.Expect(status.MemberMap).To(HaveLen(2))
	md := status.MemberMap[cl.tOrderedMembers[1].UUID]
	g.Expect(md.Address).To(Equal("10.0.0.2:5701"))
	g.Expect(md.Group).To(Equal("us-east-1b"))
	g.Expect(md.Version).To(Equal("5.1.0"))
	g.Expect(status.Report.Protected).To(BeTrue())
}

func TestStatusServiceTicks(t *testing.T) {
	g := NewWithT(t)
	cl := &fakeHzClient{tOrderedMembers: []cluster.MemberInfo{zoneMemberInfo("10.0.0.1", "us-east-1a")}}
	var mu sync.Mutex
	updates := 0
	ss := NewStatusService(cl, zoneAware, zap.New(zap.WriteTo(io.Discard)), 20*time.Millisecond, func(*Status) {
		mu.Lock()
		defer mu.Unlock()
		updates++
	})

	count := func() int {
		mu.Lock()
		defer mu.Unlock()
		return updates
	}

	ss.Start()
	g.Eventually(count, time.Second, 10*time.Millisecond).Should(BeNumerically(">=", 2))
	g.Expect(ss.GetStatus().MemberMap).To(HaveLen(1))

	ss.Stop()
	stopped := count()
	g.Consistently(count, 100*time.Millisecond, 10*time.Millisecond).Should(Equal(stopped))

	// stopping twice is a no-op
	ss.Stop()
}

func TestClientRegistry(t *testing.T) {
	g := NewWithT(t)
	created := 0
	fake := &fakeHzClient{tRunning: true}
	cr := &HazelcastClientRegistry{
		NewClient: func(_ context.Context, hz config.Hazelcast, addresses []string) (Client, error) {
			created++
			g.Expect(addresses).To(ConsistOf("10.0.0.1:5701"))
			return fake, nil
		},
	}
	hz := config.NewMemberConfig(nil)

	c1, err := cr.Create(context.Background(), hz, []string{"10.0.0.1:5701"})
	g.Expect(err).NotTo(HaveOccurred())
	c2, err := cr.Create(context.Background(), hz, []string{"10.0.0.1:5701"})
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(c2).To(BeIdenticalTo(c1))
	g.Expect(created).To(Equal(1))

	got, ok := cr.Get(hz.ClusterName)
	g.Expect(ok).To(BeTrue())
	g.Expect(got.Running()).To(BeTrue())

	cr.Delete(context.Background(), hz.ClusterName)
	_, ok = cr.Get(hz.ClusterName)
	g.Expect(ok).To(BeFalse())
	g.Expect(fake.shutdowns).To(Equal(1))
}

func TestBuildConfig(t *testing.T) {
	g := NewWithT(t)
	hz := config.NewMemberConfig(nil)

	c := BuildConfig(hz, []string{"10.0.0.1:5701", "10.0.0.2:5701"})
	g.Expect(c.Cluster.Name).To(Equal(hz.ClusterName))
	g.Expect(c.Cluster.Network.Addresses).To(ConsistOf("10.0.0.1:5701", "10.0.0.2:5701"))
}

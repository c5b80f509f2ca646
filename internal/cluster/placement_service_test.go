package cluster

import (
	"context"
	"errors"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus/testutil"
	logf "sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/hazelcast/hazelcast-partition-groups/internal/config"
	"github.com/hazelcast/hazelcast-partition-groups/internal/discovery"
	"github.com/hazelcast/hazelcast-partition-groups/internal/metrics"
	n "github.com/hazelcast/hazelcast-partition-groups/internal/naming"
	"github.com/hazelcast/hazelcast-partition-groups/internal/partition"
)

// registry is a discovery strategy whose members can be changed between
// refreshes.
type registry struct {
	sync.Mutex
	nodes []discovery.Node
	local map[string]string
	err   error
}

func (r *registry) Name() string { return "registry" }

func (r *registry) DiscoverNodes(context.Context) ([]discovery.Node, error) {
	r.Lock()
	defer r.Unlock()
	return append([]discovery.Node{}, r.nodes...), r.err
}

func (r *registry) LocalMetadata(context.Context) (map[string]string, error) {
	r.Lock()
	defer r.Unlock()
	return r.local, nil
}

func (r *registry) set(err error, nodes ...discovery.Node) {
	r.Lock()
	defer r.Unlock()
	r.nodes = nodes
	r.err = err
}

func zoneNode(address, zone string) discovery.Node {
	return discovery.Node{
		Address:    address,
		Properties: map[string]string{n.PartitionGroupZoneAttribute: zone},
	}
}

var _ = Describe("HzPlacementService", func() {
	var (
		ctx context.Context
		reg *registry
		cfg config.Hazelcast
		ps  *HzPlacementService
	)

	BeforeEach(func() {
		ctx = context.Background()
		reg = &registry{local: map[string]string{n.PartitionGroupZoneAttribute: "us-east-1a"}}
		reg.set(nil,
			zoneNode("10.0.0.1:5701", "us-east-1a"),
			zoneNode("10.0.0.2:5701", "us-east-1b"),
			zoneNode("10.0.0.3:5701", "us-east-1c"),
		)
		cfg = config.NewMemberConfig(discovery.NewStrategyProvider(nil, reg))
	})

	AfterEach(func() {
		if ps != nil {
			Expect(ps.Stop(ctx)).To(Succeed())
			ps = nil
		}
	})

	start := func(opts ...Option) {
		var err error
		ps, err = NewPlacementService(cfg, logf.Log.WithName("placement"), opts...)
		Expect(err).NotTo(HaveOccurred())
		Expect(ps.Start(ctx)).To(Succeed())
	}

	Describe("NewPlacementService", func() {
		It("should reject an invalid configuration", func() {
			cfg.Properties[n.PartitionCountProperty] = "-1"
			_, err := NewPlacementService(cfg, logf.Log)
			Expect(err).To(HaveOccurred())
		})

		It("should require a discovery provider", func() {
			cfg.Network.Join.Discovery.Provider = nil
			delete(cfg.Properties, n.DiscoveryEnabledProperty)
			cfg.PartitionGroup.GroupType = partition.HostAware
			_, err := NewPlacementService(cfg, logf.Log)
			Expect(err).To(MatchError(ContainSubstring("no discovery service provider")))
		})

		It("should reject an invalid schedule", func() {
			_, err := NewPlacementService(cfg, logf.Log, WithSchedule("every now and then"))
			Expect(err).To(MatchError(ContainSubstring("invalid refresh schedule")))
		})
	})

	Describe("Refresh", func() {
		It("should fail before the service is started", func() {
			svc, err := NewPlacementService(cfg, logf.Log)
			Expect(err).NotTo(HaveOccurred())
			Expect(svc.Refresh(ctx)).To(MatchError(discovery.ErrNotStarted))
		})

		It("should arrange the table across zones on start", func() {
			start()

			status := ps.GetStatus()
			Expect(status.Ready()).To(BeTrue())
			Expect(status.ClusterName).To(Equal(n.ClusterName))
			Expect(status.LocalMetadata).To(HaveKeyWithValue(n.PartitionGroupZoneAttribute, "us-east-1a"))
			Expect(status.Groups).To(HaveLen(3))
			Expect(status.Summary.Version).To(Equal(int64(1)))
			Expect(status.Summary.ReplicaCount).To(Equal(2))
			Expect(status.Summary.Degraded).To(BeFalse())
			Expect(status.LastMigrations).To(Equal(n.DefaultPartitionCount * 2))
			for zone, lost := range status.Exposure {
				Expect(lost).To(BeZero(), "zone %s", zone)
			}
			Expect(testutil.ToFloat64(metrics.DiscoveredMembers)).To(Equal(3.0))
			Expect(testutil.ToFloat64(metrics.MemberGroups)).To(Equal(3.0))
		})

		It("should not change the table when members are unchanged", func() {
			start()
			Expect(ps.Refresh(ctx)).To(Succeed())
			Expect(ps.GetStatus().LastMigrations).To(BeZero())
			Expect(ps.GetStatus().Summary.Version).To(Equal(int64(1)))
		})

		It("should notify listeners only when the table changes", func() {
			start()
			var changes []Status
			ps.OnChange(func(s Status) { changes = append(changes, s) })

			Expect(ps.Refresh(ctx)).To(Succeed())
			Expect(changes).To(BeEmpty())

			reg.set(nil,
				zoneNode("10.0.0.1:5701", "us-east-1a"),
				zoneNode("10.0.0.2:5701", "us-east-1b"),
				zoneNode("10.0.0.3:5701", "us-east-1c"),
				zoneNode("10.0.0.4:5701", "us-east-1a"),
			)
			Expect(ps.Refresh(ctx)).To(Succeed())
			Expect(changes).To(HaveLen(1))
			Expect(changes[0].Summary.Version).To(Equal(int64(2)))
			Expect(changes[0].Summary.Members).To(HaveLen(4))
		})

		It("should report a single zone as degraded", func() {
			reg.set(nil,
				zoneNode("10.0.0.1:5701", "us-east-1a"),
				zoneNode("10.0.0.2:5701", "us-east-1a"),
			)
			start()

			status := ps.GetStatus()
			Expect(status.Ready()).To(BeTrue())
			Expect(status.Summary.Degraded).To(BeTrue())
			Expect(status.Exposure).To(HaveKeyWithValue("us-east-1a", n.DefaultPartitionCount))
			Expect(testutil.ToFloat64(metrics.Degraded)).To(Equal(1.0))
		})

		It("should keep the previous table when discovery fails", func() {
			start()
			before := ps.GetStatus().Summary

			reg.set(errors.New("registry unavailable"))
			err := ps.Refresh(ctx)
			Expect(err).To(MatchError(ContainSubstring("discovery: discovery strategy registry: registry unavailable")))

			status := ps.GetStatus()
			Expect(status.Ready()).To(BeFalse())
			Expect(status.LastError).To(ContainSubstring("registry unavailable"))
			Expect(status.Summary).To(Equal(before))
			Expect(testutil.ToFloat64(metrics.RefreshFailuresTotal.WithLabelValues("discovery"))).To(BeNumerically(">=", 1))
		})

		It("should fail grouping when a member has no zone", func() {
			reg.set(nil,
				zoneNode("10.0.0.1:5701", "us-east-1a"),
				discovery.Node{Address: "10.0.0.2:5701"},
			)
			start()

			err := ps.Refresh(ctx)
			Expect(err).To(MatchError(partition.ErrMissingMetadata))
			Expect(ps.GetStatus().Ready()).To(BeFalse())
		})

		It("should fail when no members are discovered", func() {
			reg.set(nil)
			start()
			Expect(ps.Refresh(ctx)).To(MatchError(partition.ErrNoMembers))
		})
	})

	Describe("Start", func() {
		It("should resolve local metadata through the local address", func() {
			reg.local = nil
			start(WithLocalAddress("10.0.0.2:5701"))

			Expect(ps.GetStatus().LocalMetadata).To(HaveKeyWithValue(n.PartitionGroupZoneAttribute, "us-east-1b"))
		})

		It("should refresh on schedule", func() {
			start(WithSchedule("@every 1s"))
			Expect(ps.GetStatus().Summary.Members).To(HaveLen(3))

			reg.set(nil,
				zoneNode("10.0.0.1:5701", "us-east-1a"),
				zoneNode("10.0.0.2:5701", "us-east-1b"),
			)
			Eventually(func() int {
				return len(ps.GetStatus().Summary.Members)
			}, 5*time.Second, 100*time.Millisecond).Should(Equal(2))
		})
	})
})

var _ = Describe("MembersFromNodes", func() {
	It("should derive stable UUIDs from addresses", func() {
		nodes := []discovery.Node{zoneNode("10.0.0.1:5701", "a"), zoneNode("10.0.0.2:5701", "b")}

		first := MembersFromNodes(nodes)
		second := MembersFromNodes(nodes)

		Expect(first).To(HaveLen(2))
		Expect(first[0].UUID).To(Equal(second[0].UUID))
		Expect(first[0].UUID).NotTo(Equal(first[1].UUID))
		Expect(first[0].UUID).To(Equal(MemberUUID("10.0.0.1:5701")))
		Expect(first[1].Attributes).To(HaveKeyWithValue(n.PartitionGroupZoneAttribute, "b"))
	})
})

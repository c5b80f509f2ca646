// Package metrics provides Prometheus metrics for partition placement.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/hazelcast/hazelcast-partition-groups/internal/partition"
)

// Labels are limited to group IDs and member addresses, both bounded by the
// cluster size.
var (
	DiscoveredMembers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hazelcast_partition_groups_discovered_members",
		Help: "Number of members returned by the last discovery.",
	})

	MemberGroups = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hazelcast_partition_groups_member_groups",
		Help: "Number of member groups backups are spread over.",
	})

	ReplicaCount = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hazelcast_partition_groups_replica_count",
		Help: "Replicas placed per partition, primary included.",
	})

	Degraded = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hazelcast_partition_groups_degraded",
		Help: "1 when there are fewer member groups than configured replicas.",
	})

	TableVersion = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hazelcast_partition_groups_table_version",
		Help: "Version of the partition table, incremented on every change.",
	})

	MemberPartitions = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "hazelcast_partition_groups_member_partitions",
		Help: "Partitions owned by a member, by replica role.",
	}, []string{"member", "group", "role"})

	GroupExposure = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "hazelcast_partition_groups_group_exposure",
		Help: "Partitions that lose every replica if the group fails.",
	}, []string{"group"})

	MigrationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hazelcast_partition_groups_migrations_total",
		Help: "Total number of replica migrations planned.",
	})

	RefreshFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hazelcast_partition_groups_refresh_failures_total",
		Help: "Total number of failed refreshes, by stage.",
	}, []string{"stage"})
)

// Record publishes a freshly arranged table.
func Record(s partition.Summary, exposure map[string]int, discovered, groups, migrations int) {
	DiscoveredMembers.Set(float64(discovered))
	MemberGroups.Set(float64(groups))
	ReplicaCount.Set(float64(s.ReplicaCount))
	TableVersion.Set(float64(s.Version))
	if s.Degraded {
		Degraded.Set(1)
	} else {
		Degraded.Set(0)
	}

	MemberPartitions.Reset()
	for _, m := range s.Members {
		MemberPartitions.WithLabelValues(m.Address, m.Group, "primary").Set(float64(m.Primaries))
		MemberPartitions.WithLabelValues(m.Address, m.Group, "backup").Set(float64(m.Backups))
	}
	GroupExposure.Reset()
	for g, v := range exposure {
		GroupExposure.WithLabelValues(g).Set(float64(v))
	}
	MigrationsTotal.Add(float64(migrations))
}

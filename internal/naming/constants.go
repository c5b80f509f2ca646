package naming

// Cluster identity
const (
	// ClusterName name given to the cluster, used for logging and diagnostics
	ClusterName = "eureka-partition-groups"
	// ApplicationName name the members register under in the service registry
	ApplicationName = "MY-HAZELCAST-SERVER"
)

// Hazelcast properties
const (
	// DiscoveryEnabledProperty switches member discovery over to discovery strategies
	DiscoveryEnabledProperty = "hazelcast.discovery.enabled"
	// PartitionCountProperty number of partitions the key space is divided into
	PartitionCountProperty = "hazelcast.partition.count"
	// DefaultMapConfig map configuration applied to maps without their own
	DefaultMapConfig = "default"
)

// Member attributes carrying placement metadata. Discovery strategies fill them,
// the partition group factories read them.
const (
	PartitionGroupZoneAttribute      = "hazelcast.partition.group.zone"
	PartitionGroupNodeAttribute      = "hazelcast.partition.group.node"
	PartitionGroupPlacementAttribute = "hazelcast.partition.group.placement"
)

// Hazelcast default configurations
const (
	// DefaultHzPort Hazelcast default port
	DefaultHzPort = 5701
	// DefaultPartitionCount number of partitions the key space is divided into
	DefaultPartitionCount = 271
	// DefaultBackupCount number of synchronous backups per partition
	DefaultBackupCount = 1
	// MaxBackupCount upper bound on backups, primary plus six backups
	MaxBackupCount = 6
	// DefaultRefreshSchedule cron spec for discovery refreshes
	DefaultRefreshSchedule = "@every 10s"
)

// Eureka
const (
	// EurekaPortMetadata instance metadata key holding the Hazelcast port
	EurekaPortMetadata = "hazelcast.port"
	// EurekaZoneMetadata instance metadata key holding the zone
	EurekaZoneMetadata = "zone"
	// EurekaAvailabilityZone data center metadata key on AWS deployments
	EurekaAvailabilityZone = "availability-zone"
	EurekaStatusUp         = "UP"
)

// Kubernetes topology labels
const (
	TopologyZoneLabel       = "topology.kubernetes.io/zone"
	LegacyTopologyZoneLabel = "failure-domain.beta.kubernetes.io/zone"
	ApplicationNameLabel    = "app.kubernetes.io/name"
)

// Environment variables
const (
	DeveloperModeEnabledEnv = "DEVELOPER_MODE_ENABLED"
	NamespaceEnv            = "NAMESPACE"
	PodNameEnv              = "POD_NAME"
	PodIPEnv                = "POD_IP"
)

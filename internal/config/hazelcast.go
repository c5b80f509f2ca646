package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
	utilerrors "k8s.io/apimachinery/pkg/util/errors"
	"k8s.io/utils/pointer"

	"github.com/hazelcast/hazelcast-partition-groups/internal/discovery"
	n "github.com/hazelcast/hazelcast-partition-groups/internal/naming"
	"github.com/hazelcast/hazelcast-partition-groups/internal/partition"
)

type HazelcastWrapper struct {
	Hazelcast Hazelcast `yaml:"hazelcast"`
}

type Hazelcast struct {
	ClusterName    string            `yaml:"cluster-name,omitempty"`
	Network        Network           `yaml:"network,omitempty"`
	PartitionGroup PartitionGroup    `yaml:"partition-group,omitempty"`
	Map            map[string]Map    `yaml:"map,omitempty"`
	Properties     map[string]string `yaml:"properties,omitempty"`
}

type Network struct {
	Port int32 `yaml:"port,omitempty"`
	Join Join  `yaml:"join,omitempty"`
}

type Join struct {
	Multicast Multicast           `yaml:"multicast,omitempty"`
	TCPIP     TCPIP               `yaml:"tcp-ip,omitempty"`
	Discovery DiscoveryStrategies `yaml:"discovery-strategies,omitempty"`
}

type Multicast struct {
	Enabled *bool `yaml:"enabled,omitempty"`
}

type TCPIP struct {
	Enabled *bool    `yaml:"enabled,omitempty"`
	Members []string `yaml:"member-list,omitempty"`
}

type DiscoveryStrategies struct {
	Strategies []DiscoveryStrategy `yaml:"discovery-strategies,omitempty"`
	// Provider creates the discovery service, it only exists at runtime.
	Provider discovery.ServiceProvider `yaml:"-"`
}

type DiscoveryStrategy struct {
	Enabled    *bool             `yaml:"enabled,omitempty"`
	Class      string            `yaml:"class"`
	Properties map[string]string `yaml:"properties,omitempty"`
}

type PartitionGroup struct {
	Enabled      *bool               `yaml:"enabled,omitempty"`
	GroupType    partition.GroupType `yaml:"group-type,omitempty"`
	MemberGroups [][]string          `yaml:"member-group,omitempty"`
}

// Map is a map configuration. Only the backup count is read, from the
// "default" entry that applies to every map.
type Map struct {
	BackupCount *int32 `yaml:"backup-count,omitempty"`
}

// NewMemberConfig creates the member configuration: a named cluster, multicast
// join switched off in favor of the given discovery provider, and zone aware
// partition groups fed with the metadata the provider supplies.
func NewMemberConfig(provider discovery.ServiceProvider) Hazelcast {
	return Hazelcast{
		// Naming
		ClusterName: n.ClusterName,
		// Discovery
		Properties: map[string]string{
			n.DiscoveryEnabledProperty: strconv.FormatBool(true),
			n.PartitionCountProperty:   strconv.Itoa(n.DefaultPartitionCount),
		},
		Network: Network{
			Port: n.DefaultHzPort,
			Join: Join{
				Multicast: Multicast{Enabled: pointer.BoolPtr(false)},
				TCPIP:     TCPIP{Enabled: pointer.BoolPtr(false)},
				Discovery: DiscoveryStrategies{Provider: provider},
			},
		},
		// Partition Groups
		PartitionGroup: PartitionGroup{
			Enabled:   pointer.BoolPtr(true),
			GroupType: partition.ZoneAware,
		},
		Map: map[string]Map{
			n.DefaultMapConfig: {BackupCount: pointer.Int32Ptr(n.DefaultBackupCount)},
		},
	}
}

func (hz Hazelcast) DiscoveryEnabled() bool {
	v, err := strconv.ParseBool(hz.Properties[n.DiscoveryEnabledProperty])
	return err == nil && v
}

func (hz Hazelcast) MulticastEnabled() bool {
	// multicast is the default join mechanism
	return hz.Network.Join.Multicast.Enabled == nil || *hz.Network.Join.Multicast.Enabled
}

func (hz Hazelcast) TCPIPEnabled() bool {
	return hz.Network.Join.TCPIP.Enabled != nil && *hz.Network.Join.TCPIP.Enabled
}

func (hz Hazelcast) PartitionGroupEnabled() bool {
	return hz.PartitionGroup.Enabled != nil && *hz.PartitionGroup.Enabled
}

// PartitionCount reads the hazelcast.partition.count property, the default
// when it is not set.
func (hz Hazelcast) PartitionCount() (int, error) {
	v, ok := hz.Properties[n.PartitionCountProperty]
	if !ok || v == "" {
		return n.DefaultPartitionCount, nil
	}
	c, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", n.PartitionCountProperty, v, err)
	}
	return c, nil
}

// BackupCount is the backup count of the default map configuration.
func (hz Hazelcast) BackupCount() int {
	if m, ok := hz.Map[n.DefaultMapConfig]; ok && m.BackupCount != nil {
		return int(*m.BackupCount)
	}
	return n.DefaultBackupCount
}

func (hz Hazelcast) Validate() error {
	var errs []error
	discoveryEnabled := hz.DiscoveryEnabled()
	if hz.ClusterName == "" {
		errs = append(errs, errors.New("cluster name must not be empty"))
	}
	if hz.Network.Join.Discovery.Provider != nil && !discoveryEnabled {
		errs = append(errs, fmt.Errorf("discovery service provider is set but %s is not true", n.DiscoveryEnabledProperty))
	}
	if discoveryEnabled && hz.MulticastEnabled() {
		errs = append(errs, errors.New("multicast join must be disabled when discovery is enabled"))
	}
	if discoveryEnabled && hz.TCPIPEnabled() {
		errs = append(errs, errors.New("tcp-ip join must be disabled when discovery is enabled"))
	}
	if hz.PartitionGroupEnabled() && hz.PartitionGroup.GroupType.MetadataAttribute() != "" && !discoveryEnabled {
		errs = append(errs, fmt.Errorf("%s partition groups need member metadata from discovery", hz.PartitionGroup.GroupType))
	}
	if _, err := hz.PartitionCount(); err != nil {
		errs = append(errs, err)
	} else if err := hz.PlacementSettings().Validate(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("invalid member configuration: %w", utilerrors.NewAggregate(errs))
}

// PlacementSettings is the partition section handed to the placement engine.
func (hz Hazelcast) PlacementSettings() partition.Settings {
	// an unparsable count is reported by Validate
	partitions, _ := hz.PartitionCount()
	return partition.Settings{
		Enabled:        hz.PartitionGroupEnabled(),
		GroupType:      hz.PartitionGroup.GroupType,
		MemberGroups:   hz.PartitionGroup.MemberGroups,
		PartitionCount: partitions,
		BackupCount:    hz.BackupCount(),
	}
}

func Marshal(hz Hazelcast) ([]byte, error) {
	return yaml.Marshal(HazelcastWrapper{Hazelcast: hz})
}

// Load reads a hazelcast.yaml file on top of the defaults of NewMemberConfig.
// The discovery provider cannot be expressed in YAML and is passed in.
func Load(path string, provider discovery.ServiceProvider) (Hazelcast, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Hazelcast{}, err
	}
	return Parse(b, provider)
}

func Parse(b []byte, provider discovery.ServiceProvider) (Hazelcast, error) {
	w := HazelcastWrapper{Hazelcast: NewMemberConfig(provider)}
	if err := yaml.Unmarshal(b, &w); err != nil {
		return Hazelcast{}, fmt.Errorf("parsing member configuration: %w", err)
	}
	w.Hazelcast.Network.Join.Discovery.Provider = provider
	return w.Hazelcast, nil
}

package static

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/hazelcast/hazelcast-partition-groups/internal/discovery"
	n "github.com/hazelcast/hazelcast-partition-groups/internal/naming"
)

// Strategy returns a fixed set of nodes.
type Strategy struct {
	nodes []discovery.Node
	local map[string]string
}

func NewStrategy(nodes []discovery.Node, local map[string]string) *Strategy {
	return &Strategy{nodes: nodes, local: local}
}

func (s *Strategy) Name() string {
	return "static"
}

func (s *Strategy) DiscoverNodes(_ context.Context) ([]discovery.Node, error) {
	out := make([]discovery.Node, len(s.nodes))
	copy(out, s.nodes)
	return out, nil
}

func (s *Strategy) LocalMetadata(_ context.Context) (map[string]string, error) {
	return s.local, nil
}

// ParseNodes reads a comma separated list of "host[:port][@zone]" entries.
func ParseNodes(list string) ([]discovery.Node, error) {
	var nodes []discovery.Node
	for _, entry := range strings.Split(list, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		addr, zone := entry, ""
		if i := strings.LastIndex(entry, "@"); i >= 0 {
			addr, zone = entry[:i], entry[i+1:]
		}
		host, port, err := net.SplitHostPort(addr)
		if err != nil {
			host, port = addr, strconv.Itoa(n.DefaultHzPort)
		}
		if host == "" {
			return nil, fmt.Errorf("invalid member entry %q", entry)
		}
		if _, err := strconv.Atoi(port); err != nil {
			return nil, fmt.Errorf("invalid port in member entry %q: %w", entry, err)
		}
		node := discovery.Node{
			Address:    net.JoinHostPort(host, port),
			Properties: map[string]string{},
		}
		if zone != "" {
			node.Properties[n.PartitionGroupZoneAttribute] = zone
		}
		nodes = append(nodes, node)
	}
	return nodes, nil
}

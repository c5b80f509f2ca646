package partition

import (
	"errors"
	"fmt"
	"net"
	"sort"
	"strings"

	n "github.com/hazelcast/hazelcast-partition-groups/internal/naming"
)

var (
	ErrNoMembers       = errors.New("no members to place partitions on")
	ErrMissingMetadata = errors.New("not enough metadata information is provided")
	ErrUnmatchedMember = errors.New("member does not match any configured member group")
)

// GroupType selects how members are grouped for backup placement.
type GroupType string

const (
	PerMember      GroupType = "PER_MEMBER"
	HostAware      GroupType = "HOST_AWARE"
	Custom         GroupType = "CUSTOM"
	ZoneAware      GroupType = "ZONE_AWARE"
	NodeAware      GroupType = "NODE_AWARE"
	PlacementAware GroupType = "PLACEMENT_AWARE"
)

func (t GroupType) Valid() bool {
	switch t {
	case PerMember, HostAware, Custom, ZoneAware, NodeAware, PlacementAware:
		return true
	}
	return false
}

// MetadataAttribute is the member attribute the group type reads, empty for
// types that do not depend on discovery metadata.
func (t GroupType) MetadataAttribute() string {
	switch t {
	case ZoneAware:
		return n.PartitionGroupZoneAttribute
	case NodeAware:
		return n.PartitionGroupNodeAttribute
	case PlacementAware:
		return n.PartitionGroupPlacementAttribute
	}
	return ""
}

type Settings struct {
	Enabled        bool
	GroupType      GroupType
	MemberGroups   [][]string
	PartitionCount int
	BackupCount    int
}

func (s Settings) Validate() error {
	if s.PartitionCount <= 0 {
		return fmt.Errorf("partition count must be positive, got %d", s.PartitionCount)
	}
	if s.BackupCount < 0 || s.BackupCount > n.MaxBackupCount {
		return fmt.Errorf("backup count must be between 0 and %d, got %d", n.MaxBackupCount, s.BackupCount)
	}
	if !s.Enabled {
		return nil
	}
	if !s.GroupType.Valid() {
		return fmt.Errorf("unknown partition group type %q", s.GroupType)
	}
	if s.GroupType == Custom && len(s.MemberGroups) == 0 {
		return errors.New("CUSTOM partition group requires at least one member group")
	}
	for _, g := range s.MemberGroups {
		for _, p := range g {
			if _, err := parseAddressPattern(p); err != nil {
				return err
			}
		}
	}
	return nil
}

type Member struct {
	UUID       string
	Address    string
	Attributes map[string]string
}

func (m Member) Host() string {
	host, _, err := net.SplitHostPort(m.Address)
	if err != nil {
		return m.Address
	}
	return host
}

func (m Member) String() string {
	return fmt.Sprintf("%s:%s", m.Address, m.UUID)
}

type MemberGroup struct {
	ID      string
	Members []Member
}

// CreateMemberGroups splits members into the groups backups must be spread over.
func CreateMemberGroups(s Settings, members []Member) ([]MemberGroup, error) {
	if !s.Enabled {
		return perMemberGroups(members), nil
	}
	switch s.GroupType {
	case PerMember:
		return perMemberGroups(members), nil
	case HostAware:
		return groupBy(members, func(m Member) (string, error) {
			return m.Host(), nil
		})
	case ZoneAware, NodeAware, PlacementAware:
		attr := s.GroupType.MetadataAttribute()
		return groupBy(members, func(m Member) (string, error) {
			v := m.Attributes[attr]
			if v == "" {
				return "", fmt.Errorf("%w: member %s has no %s attribute", ErrMissingMetadata, m, attr)
			}
			return v, nil
		})
	case Custom:
		return customGroups(s.MemberGroups, members)
	}
	return nil, fmt.Errorf("unknown partition group type %q", s.GroupType)
}

func perMemberGroups(members []Member) []MemberGroup {
	groups, _ := groupBy(members, func(m Member) (string, error) {
		return m.Address, nil
	})
	return groups
}

func groupBy(members []Member, key func(Member) (string, error)) ([]MemberGroup, error) {
	byKey := map[string]*MemberGroup{}
	for _, m := range members {
		k, err := key(m)
		if err != nil {
			return nil, err
		}
		g, ok := byKey[k]
		if !ok {
			g = &MemberGroup{ID: k}
			byKey[k] = g
		}
		g.Members = append(g.Members, m)
	}
	groups := make([]MemberGroup, 0, len(byKey))
	for _, g := range byKey {
		groups = append(groups, *g)
	}
	sortGroups(groups)
	return groups, nil
}

func customGroups(configured [][]string, members []Member) ([]MemberGroup, error) {
	patterns := make([][]addressPattern, len(configured))
	for i, g := range configured {
		for _, p := range g {
			ap, err := parseAddressPattern(p)
			if err != nil {
				return nil, err
			}
			patterns[i] = append(patterns[i], ap)
		}
	}

	groups := make([]MemberGroup, len(configured))
	for i, g := range configured {
		groups[i].ID = strings.Join(g, ",")
	}
	for _, m := range members {
		matched := false
		for i := range patterns {
			if matchesAny(patterns[i], m.Host()) {
				groups[i].Members = append(groups[i].Members, m)
				matched = true
				break
			}
		}
		if !matched {
			return nil, fmt.Errorf("%w: %s", ErrUnmatchedMember, m)
		}
	}

	nonEmpty := groups[:0]
	for _, g := range groups {
		if len(g.Members) > 0 {
			nonEmpty = append(nonEmpty, g)
		}
	}
	sortGroups(nonEmpty)
	return nonEmpty, nil
}

func sortGroups(groups []MemberGroup) {
	for _, g := range groups {
		sort.Slice(g.Members, func(i, j int) bool { return g.Members[i].Address < g.Members[j].Address })
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].ID < groups[j].ID })
}

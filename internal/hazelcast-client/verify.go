package client

import (
	"github.com/hazelcast/hazelcast-partition-groups/internal/partition"
)

type Report struct {
	GroupType partition.GroupType
	Members   int
	// Groups maps a member group to the addresses in it.
	Groups map[string][]string
	// Protected is true when backups can be placed outside the primary's group.
	Protected bool
	Error     string
}

// MembersFromCluster maps the live data members to placement members. Lite
// members own no partitions and are skipped.
func MembersFromCluster(cl Client) []partition.Member {
	infos := cl.OrderedMembers()
	members := make([]partition.Member, 0, len(infos))
	for _, mi := range infos {
		if mi.LiteMember {
			continue
		}
		members = append(members, partition.Member{
			UUID:       mi.UUID.String(),
			Address:    mi.Address.String(),
			Attributes: mi.Attributes,
		})
	}
	return members
}

// VerifyZoneAwareness groups the live members the way the configured partition
// group would. A grouping error is returned and also recorded in the report.
func VerifyZoneAwareness(cl Client, s partition.Settings) (*Report, error) {
	members := MembersFromCluster(cl)
	report := &Report{
		GroupType: s.GroupType,
		Members:   len(members),
		Groups:    map[string][]string{},
	}
	groups, err := partition.CreateMemberGroups(s, members)
	if err != nil {
		report.Error = err.Error()
		return report, err
	}
	for _, g := range groups {
		for _, m := range g.Members {
			report.Groups[g.ID] = append(report.Groups[g.ID], m.Address)
		}
	}
	report.Protected = len(groups) >= 2 && s.BackupCount >= 1
	return report, nil
}

package partition

import (
	"fmt"
	"sort"

	"github.com/cespare/xxhash/v2"
)

// Migration moves one replica of a partition. Source is nil when the slot was
// empty, Destination is nil when the slot is emptied.
type Migration struct {
	PartitionID  int
	ReplicaIndex int
	Source       *Member
	Destination  *Member
}

func (m Migration) String() string {
	src, dst := "-", "-"
	if m.Source != nil {
		src = m.Source.Address
	}
	if m.Destination != nil {
		dst = m.Destination.Address
	}
	return fmt.Sprintf("partition %d replica %d: %s -> %s", m.PartitionID, m.ReplicaIndex, src, dst)
}

// Table is the partition table of the cluster. Replica index 0 holds the
// primary, the rest hold backups. A Table is not safe for concurrent use.
type Table struct {
	partitionCount int
	backupCount    int
	replicaCount   int
	version        int64
	// replicas[partition][replica] is a member UUID, "" for an empty slot
	replicas [][]string
	members  map[string]Member
	groupOf  map[string]string
}

func NewTable(s Settings) (*Table, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	replicas := make([][]string, s.PartitionCount)
	for i := range replicas {
		replicas[i] = make([]string, s.BackupCount+1)
	}
	return &Table{
		partitionCount: s.PartitionCount,
		backupCount:    s.BackupCount,
		replicas:       replicas,
		members:        map[string]Member{},
		groupOf:        map[string]string{},
	}, nil
}

func (t *Table) PartitionCount() int { return t.partitionCount }

func (t *Table) BackupCount() int { return t.backupCount }

// ReplicaCount is the number of replicas placed per partition, which is capped
// by the number of member groups.
func (t *Table) ReplicaCount() int { return t.replicaCount }

func (t *Table) Version() int64 { return t.version }

// Degraded reports that there are not enough member groups to place every
// configured backup.
func (t *Table) Degraded() bool {
	return t.replicaCount < t.backupCount+1
}

// Arrange assigns replicas to the given member groups. Replicas of one
// partition are always placed in distinct groups. Owners from the previous
// arrangement are kept where possible; when a primary is gone its first live
// backup is promoted. Groups without members are ignored.
func (t *Table) Arrange(groups []MemberGroup) ([]Migration, error) {
	groups = nonEmptyGroups(groups)
	members := map[string]Member{}
	groupOf := map[string]string{}
	groupIndex := map[string]int{}
	for gi, g := range groups {
		groupIndex[g.ID] = gi
		for _, m := range g.Members {
			members[m.UUID] = m
			groupOf[m.UUID] = g.ID
		}
	}
	if len(members) == 0 {
		return nil, ErrNoMembers
	}

	replicaCount := t.backupCount + 1
	if len(groups) < replicaCount {
		replicaCount = len(groups)
	}

	groupTarget := ceilDiv(t.partitionCount, len(groups))
	memberTarget := func(uuid string) int {
		g := groups[groupIndex[groupOf[uuid]]]
		return ceilDiv(groupTarget, len(g.Members))
	}

	prev := t.promoted(members)
	next := make([][]string, t.partitionCount)
	for p := range next {
		next[p] = make([]string, t.backupCount+1)
	}

	for r := 0; r < replicaCount; r++ {
		groupLoad := make([]int, len(groups))
		memberLoad := map[string]int{}

		// keep previous owners that are still valid
		for p := 0; p < t.partitionCount; p++ {
			owner := prev[p][r]
			if owner == "" {
				continue
			}
			gi := groupIndex[groupOf[owner]]
			if groupUsed(next[p][:r], groupOf, groupOf[owner]) {
				continue
			}
			if groupLoad[gi] >= groupTarget || memberLoad[owner] >= memberTarget(owner) {
				continue
			}
			next[p][r] = owner
			groupLoad[gi]++
			memberLoad[owner]++
		}

		// fill the rest on the least loaded group not yet holding the partition
		for p := 0; p < t.partitionCount; p++ {
			if next[p][r] != "" {
				continue
			}
			gi := -1
			for i, g := range groups {
				if groupUsed(next[p][:r], groupOf, g.ID) {
					continue
				}
				if gi == -1 || groupLoad[i] < groupLoad[gi] {
					gi = i
				}
			}
			owner := ""
			for _, m := range groups[gi].Members {
				if owner == "" || memberLoad[m.UUID] < memberLoad[owner] {
					owner = m.UUID
				}
			}
			next[p][r] = owner
			groupLoad[gi]++
			memberLoad[owner]++
		}
	}

	migrations := t.diff(next, members)
	t.replicas = next
	t.members = members
	t.groupOf = groupOf
	t.replicaCount = replicaCount
	if len(migrations) > 0 {
		t.version++
	}
	return migrations, nil
}

// promoted returns the current replicas with departed members removed and the
// remaining ones shifted towards the primary slot.
func (t *Table) promoted(alive map[string]Member) [][]string {
	out := make([][]string, t.partitionCount)
	for p, replicas := range t.replicas {
		out[p] = make([]string, t.backupCount+1)
		i := 0
		for _, uuid := range replicas {
			if uuid == "" {
				continue
			}
			if _, ok := alive[uuid]; !ok {
				continue
			}
			out[p][i] = uuid
			i++
		}
	}
	return out
}

func (t *Table) diff(next [][]string, members map[string]Member) []Migration {
	var migrations []Migration
	for p := range next {
		for r := range next[p] {
			before, after := t.replicas[p][r], next[p][r]
			if before == after {
				continue
			}
			mig := Migration{PartitionID: p, ReplicaIndex: r}
			if before != "" {
				m := t.members[before]
				mig.Source = &m
			}
			if after != "" {
				m := members[after]
				mig.Destination = &m
			}
			migrations = append(migrations, mig)
		}
	}
	return migrations
}

// nonEmptyGroups drops groups without members, they cannot hold replicas.
func nonEmptyGroups(groups []MemberGroup) []MemberGroup {
	out := make([]MemberGroup, 0, len(groups))
	for _, g := range groups {
		if len(g.Members) > 0 {
			out = append(out, g)
		}
	}
	return out
}

func groupUsed(assigned []string, groupOf map[string]string, group string) bool {
	for _, uuid := range assigned {
		if uuid != "" && groupOf[uuid] == group {
			return true
		}
	}
	return false
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}

// PartitionID maps a key to its partition.
func (t *Table) PartitionID(key []byte) int {
	return int(xxhash.Sum64(key) % uint64(t.partitionCount))
}

func (t *Table) Owner(partitionID int) (Member, bool) {
	if partitionID < 0 || partitionID >= t.partitionCount {
		return Member{}, false
	}
	m, ok := t.members[t.replicas[partitionID][0]]
	return m, ok
}

// Replicas returns the members holding the partition, primary first.
func (t *Table) Replicas(partitionID int) []Member {
	if partitionID < 0 || partitionID >= t.partitionCount {
		return nil
	}
	var out []Member
	for _, uuid := range t.replicas[partitionID] {
		if m, ok := t.members[uuid]; ok {
			out = append(out, m)
		}
	}
	return out
}

func (t *Table) ReplicaAddresses(partitionID int) []string {
	replicas := t.Replicas(partitionID)
	if replicas == nil {
		return nil
	}
	out := make([]string, len(replicas))
	for i, m := range replicas {
		out[i] = m.Address
	}
	return out
}

// Verify checks that every placed replica slot is filled with a member of the
// given groups and that no partition has two replicas in one group.
func (t *Table) Verify(groups []MemberGroup) error {
	groupOf := map[string]string{}
	for _, g := range groups {
		for _, m := range g.Members {
			groupOf[m.UUID] = g.ID
		}
	}
	for p, replicas := range t.replicas {
		seen := map[string]int{}
		for r, uuid := range replicas {
			if r >= t.replicaCount {
				if uuid != "" {
					return fmt.Errorf("partition %d: replica %d is assigned beyond replica count %d", p, r, t.replicaCount)
				}
				continue
			}
			if uuid == "" {
				return fmt.Errorf("partition %d: replica %d is not assigned", p, r)
			}
			g, ok := groupOf[uuid]
			if !ok {
				return fmt.Errorf("partition %d: replica %d is owned by unknown member %s", p, r, uuid)
			}
			if other, ok := seen[g]; ok {
				return fmt.Errorf("partition %d: replicas %d and %d are both in group %s", p, other, r, g)
			}
			seen[g] = r
		}
	}
	return nil
}

type MemberLoad struct {
	UUID      string `json:"uuid"`
	Address   string `json:"address"`
	Group     string `json:"group"`
	Primaries int    `json:"primaries"`
	Backups   int    `json:"backups"`
}

type GroupLoad struct {
	ID        string `json:"id"`
	Members   int    `json:"members"`
	Primaries int    `json:"primaries"`
	Backups   int    `json:"backups"`
}

type Summary struct {
	Version        int64        `json:"version"`
	PartitionCount int          `json:"partitionCount"`
	BackupCount    int          `json:"backupCount"`
	ReplicaCount   int          `json:"replicaCount"`
	Degraded       bool         `json:"degraded"`
	Members        []MemberLoad `json:"members"`
	Groups         []GroupLoad  `json:"groups"`
}

func (t *Table) Summary() Summary {
	loads := map[string]*MemberLoad{}
	for uuid, m := range t.members {
		loads[uuid] = &MemberLoad{UUID: uuid, Address: m.Address, Group: t.groupOf[uuid]}
	}
	for _, replicas := range t.replicas {
		for r, uuid := range replicas {
			l, ok := loads[uuid]
			if !ok {
				continue
			}
			if r == 0 {
				l.Primaries++
			} else {
				l.Backups++
			}
		}
	}

	groups := map[string]*GroupLoad{}
	s := Summary{
		Version:        t.version,
		PartitionCount: t.partitionCount,
		BackupCount:    t.backupCount,
		ReplicaCount:   t.replicaCount,
		Degraded:       t.Degraded(),
	}
	for _, l := range loads {
		s.Members = append(s.Members, *l)
		g, ok := groups[l.Group]
		if !ok {
			g = &GroupLoad{ID: l.Group}
			groups[l.Group] = g
		}
		g.Members++
		g.Primaries += l.Primaries
		g.Backups += l.Backups
	}
	for _, g := range groups {
		s.Groups = append(s.Groups, *g)
	}
	sort.Slice(s.Members, func(i, j int) bool { return s.Members[i].Address < s.Members[j].Address })
	sort.Slice(s.Groups, func(i, j int) bool { return s.Groups[i].ID < s.Groups[j].ID })
	return s
}

// Exposure counts, per group, the partitions that would lose every replica if
// all members of that group failed at once.
func (t *Table) Exposure(groups []MemberGroup) map[string]int {
	groupOf := map[string]string{}
	exposure := make(map[string]int, len(groups))
	for _, g := range groups {
		exposure[g.ID] = 0
		for _, m := range g.Members {
			groupOf[m.UUID] = g.ID
		}
	}
	for _, replicas := range t.replicas {
		only := ""
		spread := false
		for _, uuid := range replicas {
			if uuid == "" {
				continue
			}
			g := groupOf[uuid]
			if only == "" {
				only = g
			} else if only != g {
				spread = true
				break
			}
		}
		if only != "" && !spread {
			exposure[only]++
		}
	}
	return exposure
}

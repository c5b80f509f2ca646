package client

import (
	"fmt"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/hazelcast/hazelcast-go-client/cluster"
	hztypes "github.com/hazelcast/hazelcast-go-client/types"

	"github.com/hazelcast/hazelcast-partition-groups/internal/partition"
)

type StatusService interface {
	Start()
	UpdateMembers()
	GetStatus() *Status
	Stop()
}

// Status is what the live cluster reports about its members and whether
// their attributes allow the configured partition grouping.
type Status struct {
	MemberMap map[hztypes.UUID]*MemberData
	Report    *Report
}

type MemberData struct {
	Address    string
	UUID       string
	Version    string
	LiteMember bool
	Group      string
}

func newMemberData(m cluster.MemberInfo, attribute string) *MemberData {
	md := &MemberData{
		Address:    m.Address.String(),
		UUID:       m.UUID.String(),
		Version:    fmt.Sprintf("%d.%d.%d", m.Version.Major, m.Version.Minor, m.Version.Patch),
		LiteMember: m.LiteMember,
	}
	if attribute != "" {
		md.Group = m.Attributes[attribute]
	}
	return md
}

func (m MemberData) String() string {
	return fmt.Sprintf("%s:%s", m.Address, m.UUID)
}

type HzStatusService struct {
	sync.Mutex
	client       Client
	settings     partition.Settings
	log          logr.Logger
	status       *Status
	statusLock   sync.Mutex
	onUpdate     func(*Status)
	interval     time.Duration
	statusTicker *StatusTicker
}

type StatusTicker struct {
	ticker *time.Ticker
	done   chan bool
}

func (s *StatusTicker) stop() {
	s.ticker.Stop()
	s.done <- true
}

func NewStatusService(cl Client, s partition.Settings, l logr.Logger, interval time.Duration, onUpdate func(*Status)) *HzStatusService {
	return &HzStatusService{
		client:   cl,
		settings: s,
		log:      l,
		status:   &Status{MemberMap: make(map[hztypes.UUID]*MemberData)},
		onUpdate: onUpdate,
		interval: interval,
	}
}

func (ss *HzStatusService) Start() {
	ss.statusTicker = &StatusTicker{
		ticker: time.NewTicker(ss.interval),
		done:   make(chan bool),
	}

	go func(s *StatusTicker) {
		for {
			select {
			case <-s.done:
				return
			case <-s.ticker.C:
				ss.UpdateMembers()
			}
		}
	}(ss.statusTicker)
}

func (ss *HzStatusService) GetStatus() *Status {
	ss.statusLock.Lock()
	defer ss.statusLock.Unlock()
	return ss.status
}

func (ss *HzStatusService) UpdateMembers() {
	if ss.client == nil {
		return
	}
	ss.log.V(2).Info("Updating live member status")

	attribute := ss.settings.GroupType.MetadataAttribute()
	activeMemberList := ss.client.OrderedMembers()
	activeMembers := make(map[hztypes.UUID]*MemberData, len(activeMemberList))
	for _, memberInfo := range activeMemberList {
		activeMembers[memberInfo.UUID] = newMemberData(memberInfo, attribute)
	}

	report, err := VerifyZoneAwareness(ss.client, ss.settings)
	if err != nil {
		ss.log.Error(err, "Live members cannot be grouped")
	} else if !report.Protected {
		ss.log.Info("Backups of the live cluster are not spread over member groups", "groups", len(report.Groups))
	}

	ss.statusLock.Lock()
	ss.status = &Status{MemberMap: activeMembers, Report: report}
	status := ss.status
	ss.statusLock.Unlock()

	if ss.onUpdate != nil {
		ss.onUpdate(status)
	}
}

func (ss *HzStatusService) Stop() {
	ss.Lock()
	defer ss.Unlock()

	if ss.statusTicker != nil {
		ss.statusTicker.stop()
		ss.statusTicker = nil
	}
}

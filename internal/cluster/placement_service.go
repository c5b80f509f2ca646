package cluster

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/hazelcast/hazelcast-partition-groups/internal/config"
	"github.com/hazelcast/hazelcast-partition-groups/internal/discovery"
	"github.com/hazelcast/hazelcast-partition-groups/internal/metrics"
	n "github.com/hazelcast/hazelcast-partition-groups/internal/naming"
	"github.com/hazelcast/hazelcast-partition-groups/internal/partition"
)

type PlacementService interface {
	Start(ctx context.Context) error
	Refresh(ctx context.Context) error
	GetStatus() Status
	OnChange(func(Status))
	Stop(ctx context.Context) error
}

type Status struct {
	ClusterName    string
	Summary        partition.Summary
	Groups         []partition.MemberGroup
	Exposure       map[string]int
	LocalMetadata  map[string]string
	LastMigrations int
	LastRefresh    time.Time
	LastError      string
}

func (s Status) Ready() bool {
	return s.LastError == "" && !s.LastRefresh.IsZero()
}

type Option func(*HzPlacementService)

// WithSchedule sets the cron spec refreshes run on.
func WithSchedule(spec string) Option {
	return func(ss *HzPlacementService) {
		ss.schedule = spec
	}
}

func WithLocalAddress(addr string) Option {
	return func(ss *HzPlacementService) {
		ss.localAddress = addr
	}
}

type HzPlacementService struct {
	sync.Mutex
	config       config.Hazelcast
	log          logr.Logger
	table        *partition.Table
	discovery    discovery.Service
	schedule     string
	localAddress string
	cron         *cron.Cron
	cancel       context.CancelFunc

	status     Status
	statusLock sync.RWMutex
	listeners  []func(Status)
}

func NewPlacementService(cfg config.Hazelcast, l logr.Logger, opts ...Option) (*HzPlacementService, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Network.Join.Discovery.Provider == nil {
		return nil, errors.New("no discovery service provider configured")
	}
	table, err := partition.NewTable(cfg.PlacementSettings())
	if err != nil {
		return nil, err
	}
	ss := &HzPlacementService{
		config:   cfg,
		log:      l.WithValues("cluster", cfg.ClusterName),
		table:    table,
		schedule: n.DefaultRefreshSchedule,
		status:   Status{ClusterName: cfg.ClusterName},
	}
	for _, opt := range opts {
		opt(ss)
	}
	if _, err := cron.ParseStandard(ss.schedule); err != nil {
		return nil, fmt.Errorf("invalid refresh schedule %q: %w", ss.schedule, err)
	}
	return ss, nil
}

func (ss *HzPlacementService) Start(ctx context.Context) error {
	svc, err := ss.config.Network.Join.Discovery.Provider.NewDiscoveryService(discovery.Settings{
		Logger:       ss.log.WithName("discovery"),
		LocalAddress: ss.localAddress,
	})
	if err != nil {
		return err
	}
	if err := svc.Start(ctx); err != nil {
		return err
	}
	ss.discovery = svc

	md, err := svc.DiscoverLocalMetadata(ctx)
	if err != nil {
		ss.log.Error(err, "Could not discover local member metadata")
	} else {
		ss.statusLock.Lock()
		ss.status.LocalMetadata = md
		ss.statusLock.Unlock()
	}

	if err := ss.Refresh(ctx); err != nil {
		ss.log.Error(err, "Initial partition arrangement failed")
	}

	rctx, cancel := context.WithCancel(context.Background())
	ss.cancel = cancel
	ss.cron = cron.New()
	_, err = ss.cron.AddFunc(ss.schedule, func() {
		if err := ss.Refresh(rctx); err != nil {
			ss.log.Error(err, "Partition arrangement failed")
		}
	})
	if err != nil {
		cancel()
		return err
	}
	ss.cron.Start()
	ss.log.Info("Placement service started", "schedule", ss.schedule, "groupType", ss.config.PartitionGroup.GroupType)
	return nil
}

func (ss *HzPlacementService) OnChange(f func(Status)) {
	ss.statusLock.Lock()
	defer ss.statusLock.Unlock()
	ss.listeners = append(ss.listeners, f)
}

func (ss *HzPlacementService) GetStatus() Status {
	ss.statusLock.RLock()
	defer ss.statusLock.RUnlock()
	return ss.status
}

// Refresh discovers the current members and rearranges the partition table.
// On failure the previous table is kept.
func (ss *HzPlacementService) Refresh(ctx context.Context) error {
	ss.Lock()
	defer ss.Unlock()
	if ss.discovery == nil {
		return discovery.ErrNotStarted
	}
	ss.log.V(2).Info("Refreshing partition table")

	nodes, err := ss.discovery.DiscoverNodes(ctx)
	if err != nil {
		return ss.fail("discovery", err)
	}
	members := MembersFromNodes(nodes)

	settings := ss.config.PlacementSettings()
	groups, err := partition.CreateMemberGroups(settings, members)
	if err != nil {
		return ss.fail("grouping", err)
	}
	migrations, err := ss.table.Arrange(groups)
	if err != nil {
		return ss.fail("arrange", err)
	}
	if err := ss.table.Verify(groups); err != nil {
		return ss.fail("verify", err)
	}

	summary := ss.table.Summary()
	exposure := ss.table.Exposure(groups)
	metrics.Record(summary, exposure, len(nodes), len(groups), len(migrations))

	for _, m := range migrations {
		ss.log.V(1).Info("Migration planned", "migration", m.String())
	}
	if summary.Degraded {
		ss.log.Info("Not enough member groups to place all backups",
			"groups", len(groups), "replicas", summary.ReplicaCount, "backupCount", summary.BackupCount)
	}
	if len(migrations) > 0 {
		ss.log.Info("Partition table changed", "version", summary.Version, "members", len(members),
			"groups", len(groups), "migrations", len(migrations))
	}

	ss.statusLock.Lock()
	ss.status.Summary = summary
	ss.status.Groups = groups
	ss.status.Exposure = exposure
	ss.status.LastMigrations = len(migrations)
	ss.status.LastRefresh = time.Now()
	ss.status.LastError = ""
	status := ss.status
	listeners := append([]func(Status){}, ss.listeners...)
	ss.statusLock.Unlock()

	if len(migrations) > 0 {
		for _, f := range listeners {
			f(status)
		}
	}
	return nil
}

func (ss *HzPlacementService) fail(stage string, err error) error {
	metrics.RefreshFailuresTotal.WithLabelValues(stage).Inc()
	ss.statusLock.Lock()
	ss.status.LastError = err.Error()
	ss.statusLock.Unlock()
	return fmt.Errorf("%s: %w", stage, err)
}

func (ss *HzPlacementService) Stop(ctx context.Context) error {
	if ss.cron != nil {
		select {
		case <-ss.cron.Stop().Done():
		case <-ctx.Done():
		}
	}
	if ss.cancel != nil {
		ss.cancel()
	}
	ss.Lock()
	defer ss.Unlock()
	if ss.discovery == nil {
		return nil
	}
	err := ss.discovery.Destroy(ctx)
	ss.discovery = nil
	return err
}

// MembersFromNodes turns discovered nodes into placement members. UUIDs are
// derived from the address so a member keeps its partitions across refreshes.
func MembersFromNodes(nodes []discovery.Node) []partition.Member {
	members := make([]partition.Member, 0, len(nodes))
	for _, node := range nodes {
		members = append(members, partition.Member{
			UUID:       MemberUUID(node.Address),
			Address:    node.Address,
			Attributes: node.Properties,
		})
	}
	return members
}

func MemberUUID(address string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("hazelcast://"+address)).String()
}

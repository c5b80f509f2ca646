package client

import (
	"context"
	"sync"
	"time"

	"github.com/go-logr/logr"

	"github.com/hazelcast/hazelcast-partition-groups/internal/cluster"
	"github.com/hazelcast/hazelcast-partition-groups/internal/config"
)

// LiveVerification connects to the cluster once the placement service has
// arranged a table, and then keeps checking the attributes of the live members.
type LiveVerification struct {
	sync.Mutex
	registry ClientRegistry
	config   config.Hazelcast
	interval time.Duration
	log      logr.Logger
	onUpdate func(*Status)

	statusService StatusService
}

func NewLiveVerification(registry ClientRegistry, cfg config.Hazelcast, interval time.Duration, l logr.Logger, onUpdate func(*Status)) *LiveVerification {
	return &LiveVerification{
		registry: registry,
		config:   cfg,
		interval: interval,
		log:      l,
		onUpdate: onUpdate,
	}
}

// Observe starts verification the first time it is given a ready status. The
// addresses of the arranged members are the ones the client connects to.
func (lv *LiveVerification) Observe(ctx context.Context, s cluster.Status) {
	lv.Lock()
	defer lv.Unlock()
	if lv.statusService != nil || !s.Ready() {
		return
	}
	addresses := make([]string, 0, len(s.Summary.Members))
	for _, m := range s.Summary.Members {
		addresses = append(addresses, m.Address)
	}
	if len(addresses) == 0 {
		return
	}

	cl, err := lv.registry.Create(ctx, lv.config, addresses)
	if err != nil {
		lv.log.Error(err, "Unable to connect to the cluster, retrying on the next change")
		return
	}
	lv.log.Info("Live verification started", "members", len(addresses))
	ss := NewStatusService(cl, lv.config.PlacementSettings(), lv.log, lv.interval, lv.onUpdate)
	ss.Start()
	lv.statusService = ss
}

func (lv *LiveVerification) Started() bool {
	lv.Lock()
	defer lv.Unlock()
	return lv.statusService != nil
}

func (lv *LiveVerification) Stop(ctx context.Context) {
	lv.Lock()
	defer lv.Unlock()
	if lv.statusService != nil {
		lv.statusService.Stop()
		lv.statusService = nil
	}
	lv.registry.Delete(ctx, lv.config.ClusterName)
}

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	// Import all Kubernetes client auth plugins (e.g. Azure, GCP, OIDC, etc.)
	// to ensure that exec-entrypoint and run can make use of them.
	_ "k8s.io/client-go/plugin/pkg/client/auth"

	"github.com/go-logr/logr"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"

	"github.com/hazelcast/hazelcast-partition-groups/internal/cluster"
	"github.com/hazelcast/hazelcast-partition-groups/internal/config"
	"github.com/hazelcast/hazelcast-partition-groups/internal/discovery"
	"github.com/hazelcast/hazelcast-partition-groups/internal/discovery/eureka"
	"github.com/hazelcast/hazelcast-partition-groups/internal/discovery/kubernetes"
	"github.com/hazelcast/hazelcast-partition-groups/internal/discovery/static"
	hzclient "github.com/hazelcast/hazelcast-partition-groups/internal/hazelcast-client"
	n "github.com/hazelcast/hazelcast-partition-groups/internal/naming"
	"github.com/hazelcast/hazelcast-partition-groups/internal/server"
	"github.com/hazelcast/hazelcast-partition-groups/internal/util"
)

var setupLog = ctrl.Log.WithName("setup")

type options struct {
	configFile  string
	strategies  string
	bindAddress string
	schedule    string
	printConfig bool
	verifyLive  time.Duration

	eurekaURL        string
	eurekaApp        string
	eurekaInstanceID string

	namespace string
	podLabels string

	members string
}

func main() {
	var o options
	flag.StringVar(&o.configFile, "config", "", "Optional hazelcast.yaml overriding the built-in member configuration.")
	flag.StringVar(&o.strategies, "discovery", "eureka", "Comma separated discovery strategies: eureka, kubernetes, static.")
	flag.StringVar(&o.bindAddress, "bind-address", ":8080", "The address metrics, probes and the partition table are served on.")
	flag.StringVar(&o.schedule, "refresh-schedule", n.DefaultRefreshSchedule, "Cron spec for discovery refreshes.")
	flag.BoolVar(&o.printConfig, "print-config", false, "Print the member configuration as YAML and exit.")
	flag.DurationVar(&o.verifyLive, "verify-live-interval", 0, "Connect to the cluster and check member attributes at this interval, 0 disables.")
	flag.StringVar(&o.eurekaURL, "eureka-url", "http://localhost:8761/eureka", "Eureka server base URL.")
	flag.StringVar(&o.eurekaApp, "eureka-app", n.ApplicationName, "Application name members register under in Eureka.")
	flag.StringVar(&o.eurekaInstanceID, "eureka-instance-id", "", "Eureka instance id of the local member.")
	flag.StringVar(&o.namespace, "namespace", "default", "Namespace of the member pods.")
	flag.StringVar(&o.podLabels, "pod-labels", n.ApplicationNameLabel+"=hazelcast", "Label selector of the member pods.")
	flag.StringVar(&o.members, "members", "", "Static members as host[:port][@zone], comma separated.")
	opts := zap.Options{
		Development: util.IsDeveloperModeEnabled(),
	}
	opts.BindFlags(flag.CommandLine)
	flag.Parse()

	ctrl.SetLogger(zap.New(zap.UseFlagOptions(&opts)))

	provider, err := newProvider(o, ctrl.Log.WithName("discovery"))
	if err != nil {
		setupLog.Error(err, "unable to create discovery service provider")
		os.Exit(1)
	}

	cfg := config.NewMemberConfig(provider)
	if o.configFile != "" {
		cfg, err = config.Load(o.configFile, provider)
		if err != nil {
			setupLog.Error(err, "unable to load member configuration", "file", o.configFile)
			os.Exit(1)
		}
	}
	if err := cfg.Validate(); err != nil {
		setupLog.Error(err, "invalid member configuration")
		os.Exit(1)
	}

	if o.printConfig {
		b, err := config.Marshal(cfg)
		if err != nil {
			setupLog.Error(err, "unable to render member configuration")
			os.Exit(1)
		}
		fmt.Print(string(b))
		return
	}

	ctx := ctrl.SetupSignalHandler()

	ps, err := cluster.NewPlacementService(cfg, ctrl.Log.WithName("placement"),
		cluster.WithSchedule(o.schedule),
		cluster.WithLocalAddress(util.LocalAddress(int(cfg.Network.Port))),
	)
	if err != nil {
		setupLog.Error(err, "unable to create placement service")
		os.Exit(1)
	}
	if err := ps.Start(ctx); err != nil {
		setupLog.Error(err, "unable to start placement service")
		os.Exit(1)
	}

	if o.verifyLive > 0 {
		lv := newLiveVerification(cfg, o.verifyLive, ctrl.Log.WithName("live"))
		ps.OnChange(func(s cluster.Status) {
			go lv.Observe(ctx, s)
		})
		go lv.Observe(ctx, ps.GetStatus())
		defer lv.Stop(context.Background())
	}

	setupLog.Info("starting server", "cluster", cfg.ClusterName)
	if err := server.Run(ctx, o.bindAddress, server.NewHandler(ps, ctrl.Log.WithName("server")), ctrl.Log.WithName("server")); err != nil {
		setupLog.Error(err, "problem running server")
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := ps.Stop(stopCtx); err != nil {
		setupLog.Error(err, "problem stopping placement service")
	}
}

func newProvider(o options, log logr.Logger) (discovery.ServiceProvider, error) {
	var strategies []discovery.Strategy
	for _, name := range strings.Split(o.strategies, ",") {
		switch strings.TrimSpace(name) {
		case "eureka":
			s, err := eureka.NewStrategy(eureka.Options{
				URL:         o.eurekaURL,
				Application: o.eurekaApp,
				InstanceID:  o.eurekaInstanceID,
			}, log)
			if err != nil {
				return nil, err
			}
			strategies = append(strategies, s)
		case "kubernetes":
			labels, err := util.ParseLabels(o.podLabels)
			if err != nil {
				return nil, err
			}
			c, err := client.New(ctrl.GetConfigOrDie(), client.Options{Scheme: clientgoscheme.Scheme})
			if err != nil {
				return nil, err
			}
			strategies = append(strategies, kubernetes.NewStrategy(c, kubernetes.Options{
				Namespace: util.GetNamespace(o.namespace),
				Labels:    labels,
				PodName:   util.GetPodName(),
			}, log))
		case "static":
			nodes, err := static.ParseNodes(o.members)
			if err != nil {
				return nil, err
			}
			strategies = append(strategies, static.NewStrategy(nodes, nil))
		case "":
		default:
			return nil, fmt.Errorf("unknown discovery strategy %q", name)
		}
	}
	if len(strategies) == 0 {
		return nil, errors.New("no discovery strategy selected")
	}
	return discovery.NewStrategyProvider(nil, strategies...), nil
}

func newLiveVerification(cfg config.Hazelcast, interval time.Duration, log logr.Logger) *hzclient.LiveVerification {
	return hzclient.NewLiveVerification(&hzclient.HazelcastClientRegistry{}, cfg, interval, log, func(s *hzclient.Status) {
		if s.Report != nil {
			log.V(1).Info("Live member groups", "members", s.Report.Members, "groups", len(s.Report.Groups), "protected", s.Report.Protected)
		}
	})
}

package kubernetes

import (
	"context"
	"net"
	"strconv"

	"github.com/go-logr/logr"
	corev1 "k8s.io/api/core/v1"
	kerrors "k8s.io/apimachinery/pkg/api/errors"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/hazelcast/hazelcast-partition-groups/internal/discovery"
	n "github.com/hazelcast/hazelcast-partition-groups/internal/naming"
)

type Options struct {
	Namespace string
	// Labels selecting the member pods.
	Labels map[string]string
	// Port members listen on, defaults to 5701.
	Port int
	// PodName of the local member, used for local metadata.
	PodName string
}

// Strategy discovers members as pods and takes zone labels from the nodes they
// are scheduled on.
type Strategy struct {
	client client.Client
	opts   Options
	log    logr.Logger
}

func NewStrategy(c client.Client, opts Options, logger logr.Logger) *Strategy {
	if opts.Port == 0 {
		opts.Port = n.DefaultHzPort
	}
	return &Strategy{client: c, opts: opts, log: logger.WithName("kubernetes")}
}

func (s *Strategy) Name() string {
	return "kubernetes"
}

func (s *Strategy) DiscoverNodes(ctx context.Context) ([]discovery.Node, error) {
	pods := &corev1.PodList{}
	if err := s.client.List(ctx, pods, client.InNamespace(s.opts.Namespace), client.MatchingLabels(s.opts.Labels)); err != nil {
		return nil, err
	}

	zones := map[string]string{}
	nodes := make([]discovery.Node, 0, len(pods.Items))
	for i := range pods.Items {
		pod := &pods.Items[i]
		if !isPodReady(pod) || pod.Status.PodIP == "" {
			s.log.V(1).Info("Skipping pod", "pod", pod.Name, "phase", pod.Status.Phase)
			continue
		}
		props, err := s.placementMetadata(ctx, pod.Spec.NodeName, zones)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, discovery.Node{
			Address:        net.JoinHostPort(pod.Status.PodIP, strconv.Itoa(s.opts.Port)),
			PrivateAddress: pod.Name,
			Properties:     props,
		})
	}
	return nodes, nil
}

func (s *Strategy) LocalMetadata(ctx context.Context) (map[string]string, error) {
	if s.opts.PodName == "" {
		return map[string]string{}, nil
	}
	pod := &corev1.Pod{}
	if err := s.client.Get(ctx, client.ObjectKey{Namespace: s.opts.Namespace, Name: s.opts.PodName}, pod); err != nil {
		return nil, err
	}
	return s.placementMetadata(ctx, pod.Spec.NodeName, map[string]string{})
}

// placementMetadata caches zones by node name for the duration of one listing.
func (s *Strategy) placementMetadata(ctx context.Context, nodeName string, zones map[string]string) (map[string]string, error) {
	props := map[string]string{}
	if nodeName == "" {
		return props, nil
	}
	props[n.PartitionGroupNodeAttribute] = nodeName

	zone, ok := zones[nodeName]
	if !ok {
		node := &corev1.Node{}
		err := s.client.Get(ctx, client.ObjectKey{Name: nodeName}, node)
		if err != nil && !kerrors.IsNotFound(err) {
			return nil, err
		}
		if err == nil {
			zone = nodeZone(node)
		}
		zones[nodeName] = zone
	}
	if zone != "" {
		props[n.PartitionGroupZoneAttribute] = zone
	}
	return props, nil
}

func nodeZone(node *corev1.Node) string {
	if z, ok := node.Labels[n.TopologyZoneLabel]; ok {
		return z
	}
	return node.Labels[n.LegacyTopologyZoneLabel]
}

func isPodReady(pod *corev1.Pod) bool {
	if pod.Status.Phase != corev1.PodRunning || pod.DeletionTimestamp != nil {
		return false
	}
	for _, c := range pod.Status.Conditions {
		if c.Type == corev1.PodReady {
			return c.Status == corev1.ConditionTrue
		}
	}
	return false
}

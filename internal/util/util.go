package util

import (
	"net"
	"os"
	"strconv"
	"strings"

	"k8s.io/apimachinery/pkg/labels"

	n "github.com/hazelcast/hazelcast-partition-groups/internal/naming"
)

func IsDeveloperModeEnabled() bool {
	value := os.Getenv(n.DeveloperModeEnabledEnv)
	return strings.ToLower(value) == "true"
}

// GetNamespace returns the namespace the member runs in, falling back to def.
func GetNamespace(def string) string {
	if ns, ok := os.LookupEnv(n.NamespaceEnv); ok && ns != "" {
		return ns
	}
	return def
}

func GetPodName() string {
	return os.Getenv(n.PodNameEnv)
}

// LocalAddress is the address the local member is reachable on, empty when
// the pod IP is not exposed to the process.
func LocalAddress(port int) string {
	ip := os.Getenv(n.PodIPEnv)
	if ip == "" {
		return ""
	}
	return net.JoinHostPort(ip, strconv.Itoa(port))
}

// ParseLabels reads a selector of the form "k1=v1,k2=v2".
func ParseLabels(selector string) (map[string]string, error) {
	if strings.TrimSpace(selector) == "" {
		return map[string]string{}, nil
	}
	set, err := labels.ConvertSelectorToLabelsMap(selector)
	if err != nil {
		return nil, err
	}
	return set, nil
}

package eureka

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	. "github.com/onsi/gomega"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"

	"github.com/hazelcast/hazelcast-partition-groups/internal/discovery"
	n "github.com/hazelcast/hazelcast-partition-groups/internal/naming"
)

const threeInstances = `{
  "application": {
    "name": "MY-HAZELCAST-SERVER",
    "instance": [
      {
        "instanceId": "member-1",
        "hostName": "member-1.internal",
        "app": "MY-HAZELCAST-SERVER",
        "ipAddr": "10.0.0.1",
        "status": "UP",
        "port": {"$": 8080, "@enabled": "true"},
        "dataCenterInfo": {"name": "Amazon", "metadata": {"availability-zone": "us-east-1a"}},
        "metadata": {"hazelcast.port": "5702"}
      },
      {
        "instanceId": "member-2",
        "hostName": "member-2.internal",
        "app": "MY-HAZELCAST-SERVER",
        "ipAddr": "10.0.0.2",
        "status": "UP",
        "port": {"$": 8080, "@enabled": "true"},
        "dataCenterInfo": {"name": "MyOwn"},
        "metadata": {"zone": "us-east-1b"}
      },
      {
        "instanceId": "member-3",
        "hostName": "member-3.internal",
        "app": "MY-HAZELCAST-SERVER",
        "ipAddr": "10.0.0.3",
        "status": "STARTING",
        "port": {"$": 8080, "@enabled": "true"},
        "dataCenterInfo": {"name": "MyOwn"},
        "metadata": {"zone": "us-east-1c"}
      }
    ]
  }
}`

const singleInstance = `{
  "application": {
    "name": "MY-HAZELCAST-SERVER",
    "instance": {
      "instanceId": "member-1",
      "hostName": "member-1.internal",
      "ipAddr": "10.0.0.1",
      "status": "UP",
      "dataCenterInfo": {"name": "MyOwn"},
      "metadata": {"zone": "us-east-1a"}
    }
  }
}`

func eurekaServer(t *testing.T, body string, status int) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/eureka/apps/MY-HAZELCAST-SERVER" || r.Header.Get("Accept") != "application/json" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(ts.Close)
	return ts
}

func newTestStrategy(t *testing.T, url, instanceID string) *Strategy {
	t.Helper()
	s, err := NewStrategy(Options{
		URL:         url + "/eureka",
		Application: "my-hazelcast-server",
		InstanceID:  instanceID,
	}, zap.New(zap.WriteTo(io.Discard)))
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestNewStrategyRequiresURL(t *testing.T) {
	if _, err := NewStrategy(Options{}, zap.New(zap.WriteTo(io.Discard))); err == nil {
		t.Error("expected error without URL")
	}
}

func TestDiscoverNodes(t *testing.T) {
	g := NewWithT(t)
	ts := eurekaServer(t, threeInstances, http.StatusOK)
	s := newTestStrategy(t, ts.URL, "")

	nodes, err := s.DiscoverNodes(context.Background())
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(nodes).To(HaveLen(2))

	g.Expect(nodes[0].Address).To(Equal("10.0.0.1:5702"))
	g.Expect(nodes[0].PrivateAddress).To(Equal("member-1.internal"))
	g.Expect(nodes[0].Properties).To(HaveKeyWithValue(n.PartitionGroupZoneAttribute, "us-east-1a"))

	g.Expect(nodes[1].Address).To(Equal("10.0.0.2:5701"))
	g.Expect(nodes[1].Properties).To(HaveKeyWithValue(n.PartitionGroupZoneAttribute, "us-east-1b"))
	g.Expect(nodes[1].Properties).To(HaveKeyWithValue("zone", "us-east-1b"))
}

func TestDiscoverNodesSingleInstance(t *testing.T) {
	g := NewWithT(t)
	ts := eurekaServer(t, singleInstance, http.StatusOK)
	s := newTestStrategy(t, ts.URL, "")

	nodes, err := s.DiscoverNodes(context.Background())
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(nodes).To(HaveLen(1))
	g.Expect(nodes[0].Address).To(Equal("10.0.0.1:5701"))
}

func TestDiscoverNodesUnknownApplication(t *testing.T) {
	g := NewWithT(t)
	ts := eurekaServer(t, "", http.StatusNotFound)
	s := newTestStrategy(t, ts.URL, "")

	nodes, err := s.DiscoverNodes(context.Background())
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(nodes).To(BeEmpty())
}

func TestDiscoverNodesServerError(t *testing.T) {
	g := NewWithT(t)
	ts := eurekaServer(t, "", http.StatusInternalServerError)
	svc, err := discovery.NewStrategyProvider(nil, newTestStrategy(t, ts.URL, "")).
		NewDiscoveryService(discovery.Settings{Logger: zap.New(zap.WriteTo(io.Discard))})
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(svc.Start(context.Background())).To(Succeed())

	_, err = svc.DiscoverNodes(context.Background())
	g.Expect(err).To(MatchError(ContainSubstring("discovery strategy eureka")))

	var errResp *ErrorResponse
	g.Expect(errors.As(err, &errResp)).To(BeTrue())
	g.Expect(errResp.Response.StatusCode).To(Equal(http.StatusInternalServerError))
	g.Expect(errResp.Error()).To(ContainSubstring("GET"))
	g.Expect(errResp.Error()).To(ContainSubstring("/eureka/apps/MY-HAZELCAST-SERVER: 500"))
}

func TestDiscoverNodesMalformedResponse(t *testing.T) {
	g := NewWithT(t)
	ts := eurekaServer(t, `{"application": [`, http.StatusOK)

	_, err := newTestStrategy(t, ts.URL, "").DiscoverNodes(context.Background())
	g.Expect(err).To(MatchError(ContainSubstring("decoding")))
}

func TestLocalMetadata(t *testing.T) {
	g := NewWithT(t)
	ts := eurekaServer(t, threeInstances, http.StatusOK)

	md, err := newTestStrategy(t, ts.URL, "member-2").LocalMetadata(context.Background())
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(md).To(Equal(map[string]string{n.PartitionGroupZoneAttribute: "us-east-1b"}))

	md, err = newTestStrategy(t, ts.URL, "").LocalMetadata(context.Background())
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(md).To(BeEmpty())

	_, err = newTestStrategy(t, ts.URL, "member-9").LocalMetadata(context.Background())
	g.Expect(err).To(MatchError(ContainSubstring("member-9 is not registered")))
}

func TestInstanceZone(t *testing.T) {
	i := Instance{
		Metadata:       map[string]string{n.EurekaZoneMetadata: "explicit"},
		DataCenterInfo: DataCenterInfo{Metadata: map[string]string{n.EurekaAvailabilityZone: "aws"}},
	}
	if got := i.Zone(); got != "explicit" {
		t.Errorf("Zone() = %s, want explicit", got)
	}
	i.Metadata = nil
	if got := i.Zone(); got != "aws" {
		t.Errorf("Zone() = %s, want aws", got)
	}
}

func TestInvalidPortMetadataSkipsInstance(t *testing.T) {
	g := NewWithT(t)
	ts := eurekaServer(t, `{"application":{"instance":[
		{"instanceId":"a","ipAddr":"10.0.0.1","status":"UP","metadata":{"hazelcast.port":"x"}},
		{"instanceId":"b","ipAddr":"10.0.0.2","status":"UP"}
	]}}`, http.StatusOK)

	nodes, err := newTestStrategy(t, ts.URL, "").DiscoverNodes(context.Background())
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(nodes).To(HaveLen(1))
	g.Expect(nodes[0].Address).To(Equal("10.0.0.2:5701"))
}

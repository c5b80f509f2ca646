package eureka

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-logr/logr"

	"github.com/hazelcast/hazelcast-partition-groups/internal/discovery"
	n "github.com/hazelcast/hazelcast-partition-groups/internal/naming"
)

type ApplicationResponse struct {
	Application Application `json:"application"`
}

type Application struct {
	Name      string    `json:"name"`
	Instances Instances `json:"instance"`
}

// Instances accepts both a list and a single object, Eureka serializes an
// application with one instance without the surrounding array.
type Instances []Instance

func (in *Instances) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*in = nil
		return nil
	}
	if b[0] == '{' {
		var i Instance
		if err := json.Unmarshal(b, &i); err != nil {
			return err
		}
		*in = Instances{i}
		return nil
	}
	var list []Instance
	if err := json.Unmarshal(b, &list); err != nil {
		return err
	}
	*in = list
	return nil
}

type Instance struct {
	InstanceID     string            `json:"instanceId"`
	HostName       string            `json:"hostName"`
	App            string            `json:"app"`
	IPAddr         string            `json:"ipAddr"`
	Status         string            `json:"status"`
	Port           Port              `json:"port"`
	DataCenterInfo DataCenterInfo    `json:"dataCenterInfo"`
	Metadata       map[string]string `json:"metadata"`
}

type Port struct {
	Number  json.Number `json:"$"`
	Enabled string      `json:"@enabled"`
}

type DataCenterInfo struct {
	Name     string            `json:"name"`
	Metadata map[string]string `json:"metadata"`
}

// Zone is the zone the instance advertises, the explicit metadata entry wins
// over the AWS availability zone.
func (i Instance) Zone() string {
	if z := i.Metadata[n.EurekaZoneMetadata]; z != "" {
		return z
	}
	return i.DataCenterInfo.Metadata[n.EurekaAvailabilityZone]
}

func (i Instance) hazelcastPort() (int, error) {
	p, ok := i.Metadata[n.EurekaPortMetadata]
	if !ok || p == "" {
		return n.DefaultHzPort, nil
	}
	port, err := strconv.Atoi(p)
	if err != nil {
		return 0, fmt.Errorf("instance %s: invalid %s metadata %q", i.InstanceID, n.EurekaPortMetadata, p)
	}
	return port, nil
}

type Options struct {
	// URL of the Eureka server, e.g. http://eureka:8761/eureka
	URL string
	// Application the members are registered under.
	Application string
	// InstanceID of the local member, used to answer local metadata lookups.
	InstanceID string
	HTTPClient *http.Client
}

type Strategy struct {
	client      *Client
	application string
	instanceID  string
	log         logr.Logger
}

func NewStrategy(opts Options, logger logr.Logger) (*Strategy, error) {
	if opts.URL == "" {
		return nil, errors.New("eureka URL is required")
	}
	app := opts.Application
	if app == "" {
		app = n.ApplicationName
	}
	c, err := NewClient(opts.URL, opts.HTTPClient)
	if err != nil {
		return nil, err
	}
	return &Strategy{
		client:      c,
		application: strings.ToUpper(app),
		instanceID:  opts.InstanceID,
		log:         logger.WithName("eureka"),
	}, nil
}

func (s *Strategy) Name() string {
	return "eureka"
}

func (s *Strategy) GetApplication(ctx context.Context) (*Application, error) {
	resp := new(ApplicationResponse)
	if err := s.client.Get(ctx, "apps/"+s.application, resp); err != nil {
		return nil, err
	}
	return &resp.Application, nil
}

func (s *Strategy) DiscoverNodes(ctx context.Context) ([]discovery.Node, error) {
	app, err := s.GetApplication(ctx)
	if err != nil {
		var errResp *ErrorResponse
		if errors.As(err, &errResp) && errResp.Response.StatusCode == http.StatusNotFound {
			// nothing registered yet
			s.log.V(1).Info("Application is not registered", "application", s.application)
			return nil, nil
		}
		return nil, err
	}

	nodes := make([]discovery.Node, 0, len(app.Instances))
	for _, i := range app.Instances {
		if i.Status != n.EurekaStatusUp {
			s.log.V(1).Info("Skipping instance", "instance", i.InstanceID, "status", i.Status)
			continue
		}
		if i.IPAddr == "" {
			continue
		}
		port, err := i.hazelcastPort()
		if err != nil {
			s.log.Error(err, "Skipping instance")
			continue
		}
		props := make(map[string]string, len(i.Metadata)+1)
		for k, v := range i.Metadata {
			props[k] = v
		}
		if zone := i.Zone(); zone != "" {
			props[n.PartitionGroupZoneAttribute] = zone
		}
		nodes = append(nodes, discovery.Node{
			Address:        net.JoinHostPort(i.IPAddr, strconv.Itoa(port)),
			PrivateAddress: i.HostName,
			Properties:     props,
		})
	}
	return nodes, nil
}

func (s *Strategy) LocalMetadata(ctx context.Context) (map[string]string, error) {
	if s.instanceID == "" {
		return map[string]string{}, nil
	}
	app, err := s.GetApplication(ctx)
	if err != nil {
		return nil, err
	}
	for _, i := range app.Instances {
		if i.InstanceID != s.instanceID {
			continue
		}
		md := map[string]string{}
		if zone := i.Zone(); zone != "" {
			md[n.PartitionGroupZoneAttribute] = zone
		}
		return md, nil
	}
	return nil, fmt.Errorf("instance %s is not registered under %s", s.instanceID, s.application)
}

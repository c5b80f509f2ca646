package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hazelcast/hazelcast-partition-groups/internal/cluster"
	"github.com/hazelcast/hazelcast-partition-groups/internal/partition"
)

type StatusSource interface {
	GetStatus() cluster.Status
}

type PartitionsResponse struct {
	ClusterName    string              `json:"clusterName"`
	Ready          bool                `json:"ready"`
	LastRefresh    time.Time           `json:"lastRefresh"`
	LastError      string              `json:"lastError,omitempty"`
	LastMigrations int                 `json:"lastMigrations"`
	LocalMetadata  map[string]string   `json:"localMetadata,omitempty"`
	Exposure       map[string]int      `json:"exposure"`
	Groups         map[string][]string `json:"groups"`
	Summary        partition.Summary   `json:"summary"`
}

// NewHandler serves metrics, probes and the current partition arrangement.
func NewHandler(src StatusSource, log logr.Logger) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		s := src.GetStatus()
		if !s.Ready() {
			http.Error(w, "partition table not arranged: "+s.LastError, http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/partitions", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		writeJSON(w, log, partitionsResponse(src.GetStatus()))
	})
	return mux
}

func partitionsResponse(s cluster.Status) PartitionsResponse {
	groups := make(map[string][]string, len(s.Groups))
	for _, g := range s.Groups {
		for _, m := range g.Members {
			groups[g.ID] = append(groups[g.ID], m.Address)
		}
	}
	return PartitionsResponse{
		ClusterName:    s.ClusterName,
		Ready:          s.Ready(),
		LastRefresh:    s.LastRefresh,
		LastError:      s.LastError,
		LastMigrations: s.LastMigrations,
		LocalMetadata:  s.LocalMetadata,
		Exposure:       s.Exposure,
		Groups:         groups,
		Summary:        s.Summary,
	}
}

func writeJSON(w http.ResponseWriter, log logr.Logger, v interface{}) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error(err, "Could not encode response")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Length", strconv.Itoa(len(b)))
	_, _ = w.Write(b)
}

// Run serves h on addr until ctx is done.
func Run(ctx context.Context, addr string, h http.Handler, log logr.Logger) error {
	srv := &http.Server{Addr: addr, Handler: h, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		log.Info("Serving", "address", addr)
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

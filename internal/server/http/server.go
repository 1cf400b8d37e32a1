package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/davidrhodus/solana-node/internal/engine"
	"github.com/davidrhodus/solana-node/internal/txstore"
)

type Server struct {
	eng *engine.Engine
	srv *http.Server
	lis net.Listener
}

// New builds the status API server. gatherer serves /metrics; pass
// prometheus.DefaultGatherer in production.
func New(eng *engine.Engine, gatherer prometheus.Gatherer) *Server {
	mux := http.NewServeMux()
	s := &Server{eng: eng, srv: &http.Server{Handler: cors(mux)}}
	mux.HandleFunc("/v1/healthz", s.handleHealth)
	mux.HandleFunc("/v1/stats", s.handleStats)
	mux.HandleFunc("/v1/tx/", s.handleGetTransaction)
	mux.HandleFunc("/v1/slots", s.handleScanSlots)
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	return s
}

func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.lis = l
	errCh := make(chan error, 1)
	go func() { errCh <- s.srv.Serve(l) }()
	select {
	case <-ctx.Done():
		cctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.srv.Shutdown(cctx)
		return nil
	case err := <-errCh:
		return err
	}
}

// Addr returns the bound listen address, useful when addr was ":0".
func (s *Server) Addr() string {
	if s.lis == nil {
		return ""
	}
	return s.lis.Addr().String()
}

func (s *Server) Close() {
	if s.lis != nil {
		_ = s.lis.Close()
	}
}

func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.eng.CheckHealth(r.Context()); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "not_serving"})
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

type statsResp struct {
	Transactions      uint64            `json:"transactions"`
	StorageBytes      uint64            `json:"storage_bytes"`
	DedupTracked      int               `json:"dedup_tracked"`
	Streams           map[string]string `json:"streams"`
	GossipEntrypoints []string          `json:"gossip_entrypoints,omitempty"`
	UptimeSecs        int64             `json:"uptime_secs"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	st, err := s.eng.Stats()
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	_ = json.NewEncoder(w).Encode(statsResp{
		Transactions:      st.TransactionCount,
		StorageBytes:      st.ApproxSizeBytes,
		DedupTracked:      st.DedupTracked,
		Streams:           st.Streams,
		GossipEntrypoints: st.GossipEntrypoints,
		UptimeSecs:        int64(time.Since(st.StartedAt).Seconds()),
	})
}

type txResp struct {
	Signature string `json:"signature"`
	Slot      uint64 `json:"slot"`
	BlockTime int64  `json:"block_time,omitempty"`
	FetchedAt int64  `json:"fetched_at"`
	Payload   []byte `json:"payload"`
}

func toTxResp(rec txstore.Record) txResp {
	return txResp{
		Signature: rec.Signature,
		Slot:      rec.Slot,
		BlockTime: rec.BlockTime,
		FetchedAt: rec.FetchedAt.UnixMilli(),
		Payload:   rec.Payload,
	}
}

func (s *Server) handleGetTransaction(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	sig := strings.TrimPrefix(r.URL.Path, "/v1/tx/")
	if sig == "" || strings.Contains(sig, "/") {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	rec, err := s.eng.GetTransaction(sig)
	if err != nil {
		if errors.Is(err, txstore.ErrNotFound) {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	_ = json.NewEncoder(w).Encode(toTxResp(rec))
}

func (s *Server) handleScanSlots(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()
	start, err := strconv.ParseUint(q.Get("start"), 10, 64)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	end, err := strconv.ParseUint(q.Get("end"), 10, 64)
	if err != nil || end < start {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	limit := 100
	if v := q.Get("limit"); v != "" {
		limit, err = strconv.Atoi(v)
		if err != nil || limit <= 0 || limit > 10000 {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
	}
	recs, err := s.eng.ScanSlotRange(start, end, limit)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	out := make([]txResp, 0, len(recs))
	for _, rec := range recs {
		out = append(out, toTxResp(rec))
	}
	_ = json.NewEncoder(w).Encode(out)
}

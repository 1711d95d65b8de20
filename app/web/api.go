package web

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	log "github.com/go-pkgz/lgr"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"

	"github.com/mlevkov/offsite/app/web/persistence"
)

// APIStatusResponse is the JSON response for /api/v1/status
type APIStatusResponse struct {
	Cache     APICache  `json:"cache"`
	Host      APIHost   `json:"host"`
	Version   string    `json:"version"`
	Timestamp time.Time `json:"timestamp"`
}

// APICache represents worker state in JSON API response
type APICache struct {
	State          string   `json:"state"`
	Version        string   `json:"version,omitempty"`
	PendingVersion string   `json:"pending_version,omitempty"`
	Entries        int      `json:"entries"`
	Buckets        []string `json:"buckets"`
}

// APIHost represents host metrics in JSON API response
type APIHost struct {
	Hostname    string  `json:"hostname"`
	LoadAvg1    float64 `json:"load_avg_1"`
	MemoryUsed  float64 `json:"memory_used_percent"`
	MemoryTotal uint64  `json:"memory_total"`
}

// APIEvent represents a lifecycle event in JSON API response
type APIEvent struct {
	ID        int64     `json:"id"`
	Type      string    `json:"type"`
	Version   string    `json:"version,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"created_at,omitzero"`
}

// toAPIEvent converts persistence.EventInfo to APIEvent
func toAPIEvent(ev persistence.EventInfo) APIEvent {
	return APIEvent{
		ID:        ev.ID,
		Type:      ev.Type.String(),
		Version:   ev.Version,
		Detail:    ev.Detail,
		CreatedAt: ev.CreatedAt,
	}
}

// handleAPIStatus returns JSON status of the worker and the host - designed for CLI/jq consumption
func (s *Server) handleAPIStatus(w http.ResponseWriter, _ *http.Request) {
	resp := APIStatusResponse{
		Version:   s.version,
		Timestamp: time.Now(),
		Host:      s.hostMetrics(),
	}

	resp.Cache = APICache{State: "disabled", Buckets: []string{}}
	if s.cache != nil {
		buckets, err := s.cache.BucketNames()
		if err != nil {
			log.Printf("[WARN] failed to list buckets: %v", err)
			buckets = []string{}
		}
		resp.Cache = APICache{
			State:          s.cache.State().String(),
			Version:        s.cache.Version(),
			PendingVersion: s.cache.PendingVersion(),
			Entries:        s.cache.Entries(),
			Buckets:        buckets,
		}
	}

	s.writeJSON(w, http.StatusOK, resp)
}

// handleAPIBuckets returns the bucket inventory as JSON
func (s *Server) handleAPIBuckets(w http.ResponseWriter, _ *http.Request) {
	if s.cache == nil {
		s.writeJSON(w, http.StatusOK, []string{})
		return
	}
	buckets, err := s.cache.BucketNames()
	if err != nil {
		log.Printf("[ERROR] failed to list buckets: %v", err)
		http.Error(w, "Failed to list buckets", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusOK, buckets)
}

// handleAPIEvents returns the lifecycle event history as JSON
func (s *Server) handleAPIEvents(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.FormValue("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	events, err := s.store.ListEvents(limit)
	if err != nil {
		log.Printf("[ERROR] failed to load events: %v", err)
		http.Error(w, "Failed to load events", http.StatusInternalServerError)
		return
	}

	resp := make([]APIEvent, 0, len(events))
	for _, ev := range events {
		resp = append(resp, toAPIEvent(ev))
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// hostMetrics collects best-effort host metrics, zero values on errors
func (s *Server) hostMetrics() APIHost {
	res := APIHost{Hostname: s.hostname}
	if avg, err := load.Avg(); err == nil {
		res.LoadAvg1 = avg.Load1
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		res.MemoryUsed = vm.UsedPercent
		res.MemoryTotal = vm.Total
	}
	return res
}

// writeJSON writes a JSON response with the given status
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[WARN] failed to encode JSON response: %v", err)
	}
}

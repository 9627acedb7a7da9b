// Package adminapi implements the local supervision HTTP server run by
// cmd/adminapi (spec.md §4.6): service identity, sibling listing,
// and tailed log access, bearer-token authenticated.
package adminapi

import (
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"

	"github.com/appfoundry/buildfleet/pkg/broker"
	"github.com/appfoundry/buildfleet/pkg/types"
	"github.com/appfoundry/buildfleet/pkg/utils"
)

// Addr is the fixed port the Admin API listens on (spec.md §4.6).
const Addr = ":55555"

// ServiceInfo describes one supervised sibling service (spec.md §4.6).
type ServiceInfo struct {
	Name    string `json:"name"`
	Started string `json:"started,omitempty"`
	Working bool   `json:"working"`
	CPU     string `json:"cpu,omitempty"`
	Memory  string `json:"memory,omitempty"`
	Version string `json:"version"`
}

// Service is a single supervised sibling the Admin API reports on: its
// ID (for lockfile/log lookups) and its recorded OS PID (for /proc
// introspection).
type Service struct {
	ID      types.ServiceID
	Version string
	PID     int
	LogPath string
}

// Server is the Admin API HTTP server, reporting on the sibling
// services listed in Services (spec.md §4.6).
type Server struct {
	Log      *log.Logger
	Paths    types.Paths
	Token    string
	Self     types.ServiceID
	Services []Service
	Broker   *broker.Broker
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/", s.auth(s.handleIdentity))
	mux.HandleFunc("/api/services", s.auth(s.handleServices))
	mux.HandleFunc("/api/services/", s.auth(s.handleService))
	return mux
}

func (s *Server) auth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if subtle.ConstantTimeCompare([]byte(token), []byte(s.Token)) != 1 {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

func (s *Server) handleIdentity(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/api/" {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, map[string]string{"service": string(s.Self)})
}

func (s *Server) handleServices(w http.ResponseWriter, r *http.Request) {
	infos := make([]ServiceInfo, 0, len(s.Services))
	for _, svc := range s.Services {
		infos = append(infos, s.describe(svc))
	}
	writeJSON(w, infos)
}

// handleService routes /api/services/{id}, /api/services/{id}/log and
// /api/services/{id}/log/stream.
func (s *Server) handleService(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/services/")
	parts := strings.SplitN(rest, "/", 2)
	id := types.ServiceID(parts[0])

	svc, ok := s.find(id)
	if !ok {
		http.NotFound(w, r)
		return
	}

	switch {
	case len(parts) == 1:
		writeJSON(w, s.describe(svc))
	case parts[1] == "log":
		s.handleLog(w, r, svc)
	case parts[1] == "log/stream":
		s.handleLogStream(w, r, svc)
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) handleLog(w http.ResponseWriter, r *http.Request, svc Service) {
	lines, err := utils.TailLines(svc.LogPath, 100)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	for _, l := range lines {
		fmt.Fprintln(w, l)
	}
}

// handleLogStream emits Server-Sent Events of new log lines as they're
// written, via pkg/broker's per-ServiceID pub/sub dispatcher (supplemented
// beyond spec.md's literal §4.6 text).
func (s *Server) handleLogStream(w http.ResponseWriter, r *http.Request, svc Service) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	client := &broker.Client{Data: make(chan []byte), ID: svc.ID, Extra: svc.LogPath}
	s.Broker.NewClients <- client
	defer func() { s.Broker.ClosingClients <- client }()

	for {
		select {
		case <-r.Context().Done():
			return
		case msg, open := <-client.Data:
			if !open {
				return
			}
			fmt.Fprintf(w, "data: %s\n\n", msg)
			flusher.Flush()
		}
	}
}

func (s *Server) find(id types.ServiceID) (Service, bool) {
	for _, svc := range s.Services {
		if svc.ID == id {
			return svc, true
		}
	}
	return Service{}, false
}

// describe assembles a ServiceInfo, deriving Working from the working
// lockfile and Started/CPU/Memory from /proc/{pid} (spec.md §4.6; the
// external process supervisor that spec.md assumes for Started/CPU/Memory
// is out of scope, so /proc introspection is the concrete source this
// repo uses).
func (s *Server) describe(svc Service) ServiceInfo {
	info := ServiceInfo{Name: string(svc.ID), Version: svc.Version}
	if _, err := os.Stat(s.Paths.WorkingLock(svc.ID)); err == nil {
		info.Working = true
	}
	if svc.PID > 0 {
		info.Started, info.CPU, info.Memory = procStats(svc.PID)
	}
	return info
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

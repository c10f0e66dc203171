package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// buildRouter creates the HTTP router with all routes.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/status", s.handleStatus)
		r.Get("/hosts", s.handleHosts)

		r.Route("/devices", func(r chi.Router) {
			r.Get("/", s.handleListDevices)
			r.Get("/{deviceNo}", s.handleGetDevice)
		})
		r.Route("/scenes", func(r chi.Router) {
			r.Get("/", s.handleListScenes)
			r.Get("/{sceneNo}", s.handleGetScene)
		})
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "version": s.version})
}

// hostEntry pairs a host sequence with its LAN liveness.
type hostEntry struct {
	Sequence string `json:"sequence"`
	Online   bool   `json:"online"`
}

func (s *Server) hostEntries() []hostEntry {
	sequences := s.registry.Hosts()
	entries := make([]hostEntry, 0, len(sequences))
	for _, seq := range sequences {
		online := false
		if s.hosts != nil {
			online = s.hosts.IsOnline(seq)
		}
		entries = append(entries, hostEntry{Sequence: seq, Online: online})
	}
	return entries
}

// handleStatus reports the bridge's transport mode and object counts.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	mode := "lan"
	if s.registry.Connected() {
		mode = "cloud"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"mode":    mode,
		"devices": len(s.registry.Devices()),
		"scenes":  len(s.registry.Scenes()),
		"hosts":   s.hostEntries(),
		"uptime":  time.Since(s.started).Round(time.Second).String(),
		"version": s.version,
	})
}

func (s *Server) handleHosts(w http.ResponseWriter, r *http.Request) {
	entries := s.hostEntries()
	writeJSON(w, http.StatusOK, map[string]any{"hosts": entries, "count": len(entries)})
}

func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	devices := s.registry.Devices()
	writeJSON(w, http.StatusOK, map[string]any{"devices": devices, "count": len(devices)})
}

func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	device, ok := s.registry.Device(chi.URLParam(r, "deviceNo"))
	if !ok {
		writeNotFound(w, "device not found")
		return
	}
	writeJSON(w, http.StatusOK, device)
}

func (s *Server) handleListScenes(w http.ResponseWriter, r *http.Request) {
	scenes := s.registry.Scenes()
	writeJSON(w, http.StatusOK, map[string]any{"scenes": scenes, "count": len(scenes)})
}

func (s *Server) handleGetScene(w http.ResponseWriter, r *http.Request) {
	scene, ok := s.registry.Scene(chi.URLParam(r, "sceneNo"))
	if !ok {
		writeNotFound(w, "scene not found")
		return
	}
	writeJSON(w, http.StatusOK, scene)
}

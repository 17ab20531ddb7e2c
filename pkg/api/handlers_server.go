package api

import (
	"net/http"
	"net/url"

	"github.com/droverhq/drover/pkg/registry"
	"github.com/droverhq/drover/pkg/types"
)

type registerResult struct {
	ServerID string `json:"serverId"`
	Message  string `json:"message"`
}

func (s *Server) handleRegisterServer(w http.ResponseWriter, r *http.Request) {
	var cfg types.ServerConfig
	if !decodeBody(w, r, &cfg) {
		return
	}
	if cfg.Name == "" {
		writeError(w, http.StatusBadRequest, "validation failed", "name is required")
		return
	}
	if !absoluteURL(cfg.Endpoints.Predict) || !absoluteURL(cfg.Endpoints.Health) {
		writeError(w, http.StatusBadRequest, "validation failed",
			"endpoints.predict and endpoints.health must be absolute URLs")
		return
	}
	if cfg.MaxConcurrent < 0 {
		writeError(w, http.StatusBadRequest, "validation failed", "maxConcurrent must not be negative")
		return
	}
	if cfg.Priority < 0 || cfg.Priority > 10 {
		writeError(w, http.StatusBadRequest, "validation failed", "priority must be within [0,10]")
		return
	}

	id, err := s.gw.Registry.RegisterServer(cfg)
	if err != nil {
		writeError(w, http.StatusBadRequest, "registration failed", err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, registerResult{ServerID: id, Message: "server registered"})
}

func absoluteURL(raw string) bool {
	u, err := url.Parse(raw)
	return err == nil && u.Scheme != "" && u.Host != ""
}

func (s *Server) handleListServers(w http.ResponseWriter, r *http.Request) {
	filter := registry.Filter{
		Status: types.ServerStatus(r.URL.Query().Get("status")),
		Group:  r.URL.Query().Get("group"),
	}
	servers := s.gw.Registry.GetAvailableServers(filter)
	if servers == nil {
		servers = []types.ServerInfo{}
	}
	writeJSON(w, http.StatusOK, map[string][]types.ServerInfo{"servers": servers})
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	if err := s.gw.Registry.UpdateHeartbeat(r.PathValue("id")); err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, actionResult{Success: true})
}

func (s *Server) handleUnregisterServer(w http.ResponseWriter, r *http.Request) {
	if err := s.gw.Registry.UnregisterServer(r.PathValue("id")); err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, actionResult{Success: true})
}

func (s *Server) handleMaintenance(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Enabled *bool `json:"enabled"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if body.Enabled == nil {
		writeError(w, http.StatusBadRequest, "validation failed", "enabled is required")
		return
	}

	id := r.PathValue("id")
	inst, ok := s.gw.Fleet.Lookup(id)
	if !ok {
		respondError(w, registry.ErrNotRegistered)
		return
	}
	inst.SetMaintenanceMode(*body.Enabled)

	status := types.ServerOnline
	if *body.Enabled {
		status = types.ServerMaintenance
	}
	if err := s.gw.Registry.SetStatus(id, status); err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, actionResult{Success: true})
}

func (s *Server) handleServerMetrics(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	inst, ok := s.gw.Fleet.Lookup(id)
	if !ok {
		respondError(w, registry.ErrNotRegistered)
		return
	}
	writeJSON(w, http.StatusOK, inst.GetMetrics())
}

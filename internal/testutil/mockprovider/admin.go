package mockprovider

import (
	"encoding/json"
	"net/http"
	"sort"
)

// CreateZoneRequest is the request body for POST /admin/zones
type CreateZoneRequest struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// StateResponse is the response for GET /admin/state
type StateResponse struct {
	Zones    []Zone `json:"zones"`
	APICalls int    `json:"apiCalls"`
}

// handleAdminCreateZone handles POST /admin/zones
// Creates a new zone, with the given id when one is provided.
func (s *Server) handleAdminCreateZone(w http.ResponseWriter, r *http.Request) {
	var req CreateZoneRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "Invalid request body")
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, codeBadRequest, "name is required")
		return
	}

	id := req.ID
	if id == "" {
		id = s.AddZone(req.Name)
	} else {
		s.AddZoneWithID(id, req.Name)
	}

	writeJSON(w, http.StatusCreated, Zone{ID: id, Name: req.Name, Records: []*Record{}})
}

// handleAdminReset handles DELETE /admin/reset
// Clears all zones and records, denied zones and failure injection state.
func (s *Server) handleAdminReset(w http.ResponseWriter, r *http.Request) {
	s.state.mu.Lock()
	defer s.state.mu.Unlock()
	s.state.zones = make(map[string]*Zone)
	s.state.deniedZones = make(map[string]bool)
	s.state.failures = failureInjection{}
	s.state.rejectProxiedPrivate = true
	s.state.apiCalls = 0
	w.WriteHeader(http.StatusNoContent)
}

// handleAdminState handles GET /admin/state
// Returns the full server state for debugging
func (s *Server) handleAdminState(w http.ResponseWriter, r *http.Request) {
	s.state.mu.RLock()
	zones := make([]Zone, 0, len(s.state.zones))
	for _, z := range s.state.zones {
		records := make([]*Record, 0, len(z.Records))
		for _, rec := range z.Records {
			c := rec.clone()
			records = append(records, &c)
		}
		zones = append(zones, Zone{ID: z.ID, Name: z.Name, Records: records})
	}
	calls := s.state.apiCalls
	s.state.mu.RUnlock()

	sort.Slice(zones, func(i, j int) bool { return zones[i].Name < zones[j].Name })

	writeJSON(w, http.StatusOK, StateResponse{Zones: zones, APICalls: calls})
}

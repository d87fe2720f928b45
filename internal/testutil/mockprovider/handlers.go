package mockprovider

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/netip"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go4.org/netipx"
)

// Provider error codes reproduced by the mock.
const (
	codeAuth            = 10000
	codeBadRequest      = 1004
	codeZoneNotFound    = 7003
	codeProxyRejected   = 9003
	codeNotProxiable    = 9004
	codeInvalidTTL      = 9021
	codeRecordNotFound  = 81044
	codeCNAMEConflict   = 81053
	codeIdenticalRecord = 81058
)

// nonRoutable is wider than what clients usually check, so that clients
// exercise their downgrade path.
var nonRoutable = func() *netipx.IPSet {
	var b netipx.IPSetBuilder
	for _, p := range []string{
		"0.0.0.0/8", "10.0.0.0/8", "100.64.0.0/10", "127.0.0.0/8",
		"169.254.0.0/16", "172.16.0.0/12", "192.0.0.0/24", "192.168.0.0/16",
		"198.18.0.0/15", "224.0.0.0/4", "240.0.0.0/4",
		"::1/128", "fc00::/7", "fe80::/10", "2001:db8::/32",
	} {
		b.AddPrefix(netip.MustParsePrefix(p))
	}
	set, _ := b.IPSet()
	return set
}()

func proxiable(recordType string) bool {
	switch recordType {
	case "A", "AAAA", "CNAME":
		return true
	}
	return false
}

// authenticate checks the bearer token when one is configured.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.state.mu.Lock()
		s.state.apiCalls++
		s.state.mu.Unlock()

		if s.token != "" && r.Header.Get("Authorization") != "Bearer "+s.token {
			writeError(w, http.StatusUnauthorized, codeAuth, "Authentication error")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// injectFailures applies latency and scheduled errors.
func (s *Server) injectFailures(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.state.mu.Lock()
		f := s.state.failures
		if s.state.failures.remaining > 0 {
			s.state.failures.remaining--
		}
		s.state.mu.Unlock()

		if f.latency > 0 {
			select {
			case <-time.After(f.latency):
			case <-r.Context().Done():
				return
			}
		}
		if f.remaining > 0 {
			writeError(w, f.status, f.code, f.message)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// authorizeZone rejects unknown and denied zones.
func (s *Server) authorizeZone(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		zoneID := chi.URLParam(r, "zoneID")

		s.state.mu.RLock()
		_, exists := s.state.zones[zoneID]
		denied := s.state.deniedZones[zoneID]
		s.state.mu.RUnlock()

		if denied {
			writeError(w, http.StatusForbidden, codeAuth, "Authentication error")
			return
		}
		if !exists {
			writeError(w, http.StatusNotFound, codeZoneNotFound,
				fmt.Sprintf("Could not route to /zones/%s/dns_records, perhaps your object identifier is invalid?", zoneID))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// handleVerifyToken handles GET /user/tokens/verify
func (s *Server) handleVerifyToken(w http.ResponseWriter, r *http.Request) {
	writeResult(w, map[string]string{
		"id":     "mock-token",
		"status": "active",
	}, nil)
}

// handleListRecords handles GET /zones/{zoneID}/dns_records
// Supports name and type filters and page/per_page pagination.
func (s *Server) handleListRecords(w http.ResponseWriter, r *http.Request) {
	zoneID := chi.URLParam(r, "zoneID")
	q := r.URL.Query()

	page := 1
	perPage := 100
	if p, err := strconv.Atoi(q.Get("page")); err == nil && p > 0 {
		page = p
	}
	if pp, err := strconv.Atoi(q.Get("per_page")); err == nil && pp >= 1 && pp <= 5000 {
		perPage = pp
	}
	name := strings.ToLower(q.Get("name"))
	recordType := strings.ToUpper(q.Get("type"))

	s.state.mu.RLock()
	var matched []Record
	for _, rec := range s.state.zones[zoneID].records() {
		if name != "" && rec.Name != name {
			continue
		}
		if recordType != "" && rec.Type != recordType {
			continue
		}
		matched = append(matched, rec.clone())
	}
	s.state.mu.RUnlock()

	// Sort by name then id for consistent paging
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].Name != matched[j].Name {
			return matched[i].Name < matched[j].Name
		}
		return matched[i].ID < matched[j].ID
	})

	total := len(matched)
	totalPages := (total + perPage - 1) / perPage
	start := (page - 1) * perPage
	end := min(start+perPage, total)

	items := []Record{}
	if start < total {
		items = matched[start:end]
	}

	writeResult(w, items, &resultInfo{
		Page:       page,
		PerPage:    perPage,
		Count:      len(items),
		TotalCount: total,
		TotalPages: totalPages,
	})
}

// handleCreateRecord handles POST /zones/{zoneID}/dns_records
func (s *Server) handleCreateRecord(w http.ResponseWriter, r *http.Request) {
	zoneID := chi.URLParam(r, "zoneID")

	var req Record
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "Invalid request body")
		return
	}

	s.state.mu.Lock()
	defer s.state.mu.Unlock()

	zone, ok := s.state.zones[zoneID]
	if !ok {
		writeError(w, http.StatusNotFound, codeZoneNotFound, "Zone not found")
		return
	}
	if status, code, msg := s.checkRecord(zone, &req, ""); status != 0 {
		writeError(w, status, code, msg)
		return
	}

	now := time.Now().UTC()
	rec := req.clone()
	rec.ID = newID()
	rec.ZoneID = zone.ID
	rec.ZoneName = zone.Name
	rec.Proxiable = proxiable(rec.Type)
	rec.CreatedOn = now
	rec.ModifiedOn = now
	zone.Records = append(zone.Records, &rec)

	writeResult(w, rec.clone(), nil)
}

// handleUpdateRecord handles PUT /zones/{zoneID}/dns_records/{recordID}
func (s *Server) handleUpdateRecord(w http.ResponseWriter, r *http.Request) {
	zoneID := chi.URLParam(r, "zoneID")
	recordID := chi.URLParam(r, "recordID")

	var req Record
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "Invalid request body")
		return
	}

	s.state.mu.Lock()
	defer s.state.mu.Unlock()

	existing := s.state.findRecord(zoneID, recordID)
	if existing == nil {
		writeError(w, http.StatusNotFound, codeRecordNotFound, "Record does not exist.")
		return
	}

	zone := s.state.zones[zoneID]
	if status, code, msg := s.checkRecord(zone, &req, recordID); status != 0 {
		writeError(w, status, code, msg)
		return
	}

	existing.Type = req.Type
	existing.Name = req.Name
	existing.Content = req.Content
	existing.TTL = req.TTL
	existing.Proxied = req.Proxied
	existing.Proxiable = proxiable(req.Type)
	existing.Priority = req.Priority
	existing.Data = req.Data
	existing.Comment = req.Comment
	existing.ModifiedOn = time.Now().UTC()

	writeResult(w, existing.clone(), nil)
}

// handleDeleteRecord handles DELETE /zones/{zoneID}/dns_records/{recordID}
func (s *Server) handleDeleteRecord(w http.ResponseWriter, r *http.Request) {
	zoneID := chi.URLParam(r, "zoneID")
	recordID := chi.URLParam(r, "recordID")

	s.state.mu.Lock()
	removed := s.state.removeRecord(zoneID, recordID)
	s.state.mu.Unlock()

	if !removed {
		writeError(w, http.StatusNotFound, codeRecordNotFound, "Record does not exist.")
		return
	}
	writeResult(w, map[string]string{"id": recordID}, nil)
}

// checkRecord validates a create or update payload the way the provider
// does. It normalises req in place. Must be called with the lock held.
func (s *Server) checkRecord(zone *Zone, req *Record, selfID string) (int, int, string) {
	req.Type = strings.ToUpper(req.Type)
	req.Name = strings.ToLower(strings.TrimSuffix(req.Name, "."))

	if req.Type == "" || req.Name == "" || req.Content == "" {
		return http.StatusBadRequest, codeBadRequest, "DNS Validation Error: type, name and content are required"
	}
	if req.Name != zone.Name && !strings.HasSuffix(req.Name, "."+zone.Name) {
		return http.StatusBadRequest, codeBadRequest, fmt.Sprintf("DNS Validation Error: %s is not in zone %s", req.Name, zone.Name)
	}
	if req.TTL == 0 {
		req.TTL = 1
	}
	if req.TTL != 1 && (req.TTL < 30 || req.TTL > 86400) {
		return http.StatusBadRequest, codeInvalidTTL, "Invalid TTL. Must be between 30 and 86400 seconds, or 1 for Automatic."
	}
	if req.Proxied && !proxiable(req.Type) {
		return http.StatusBadRequest, codeNotProxiable, "This record type cannot be proxied."
	}
	if req.Proxied && s.state.rejectProxiedPrivate && (req.Type == "A" || req.Type == "AAAA") {
		if addr, err := netip.ParseAddr(req.Content); err == nil && nonRoutable.Contains(addr.Unmap()) {
			return http.StatusBadRequest, codeProxyRejected,
				fmt.Sprintf("Invalid 'proxied' value: %s is not a publicly routable address and cannot be proxied", req.Content)
		}
	}

	for _, other := range zone.Records {
		if other.ID == selfID || other.Name != req.Name {
			continue
		}
		if req.Type == "CNAME" || other.Type == "CNAME" {
			return http.StatusBadRequest, codeCNAMEConflict, "An A, AAAA, or CNAME record with that host already exists."
		}
		if other.Type == req.Type && other.Content == req.Content {
			return http.StatusBadRequest, codeIdenticalRecord, "An identical record already exists."
		}
	}
	return 0, 0, ""
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	//nolint:errcheck
	w.Write(data)
}

func writeResult(w http.ResponseWriter, result any, info *resultInfo) {
	writeJSON(w, http.StatusOK, envelope{
		Success:    true,
		Errors:     []apiMessage{},
		Messages:   []apiMessage{},
		Result:     result,
		ResultInfo: info,
	})
}

// writeError writes an error response in the provider envelope format.
func writeError(w http.ResponseWriter, status, code int, message string) {
	writeJSON(w, status, envelope{
		Success:  false,
		Errors:   []apiMessage{{Code: code, Message: message}},
		Messages: []apiMessage{},
	})
}

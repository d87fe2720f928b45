package mockprovider

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// Server is a fake DNS provider API.
type Server struct {
	server  *httptest.Server
	handler http.Handler
	state   *State
	token   string
	logger  *slog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithToken makes the server reject requests without "Bearer <token>".
func WithToken(token string) Option {
	return func(s *Server) {
		s.token = token
	}
}

// WithLogger logs every request and response.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// NewHandler creates a Server without starting a listener. Serve it with
// Handler.
func NewHandler(opts ...Option) *Server {
	s := &Server{state: NewState()}
	for _, opt := range opts {
		opt(s)
	}

	r := chi.NewRouter()
	r.Use(LoggingMiddleware(s.logger))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	r.Route("/admin", func(r chi.Router) {
		r.Get("/state", s.handleAdminState)
		r.Delete("/reset", s.handleAdminReset)
		r.Post("/zones", s.handleAdminCreateZone)
	})

	r.Group(func(r chi.Router) {
		r.Use(s.authenticate)
		r.Use(s.injectFailures)

		r.Get("/user/tokens/verify", s.handleVerifyToken)
		r.Route("/zones/{zoneID}/dns_records", func(r chi.Router) {
			r.Use(s.authorizeZone)
			r.Get("/", s.handleListRecords)
			r.Post("/", s.handleCreateRecord)
			r.Put("/{recordID}", s.handleUpdateRecord)
			r.Delete("/{recordID}", s.handleDeleteRecord)
		})
	})

	s.handler = r
	return s
}

// New creates and starts a mock provider server.
func New(opts ...Option) *Server {
	s := NewHandler(opts...)
	s.server = httptest.NewServer(s.handler)
	return s
}

// Handler returns the HTTP handler of the server.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// URL returns the base URL of a started server.
func (s *Server) URL() string {
	if s.server == nil {
		return ""
	}
	return s.server.URL
}

// Close shuts down a started server.
func (s *Server) Close() {
	if s.server != nil {
		s.server.Close()
	}
}

func newID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// AddZone creates a zone for name and returns its id.
func (s *Server) AddZone(name string) string {
	return s.AddZoneWithID(newID(), name)
}

// AddZoneWithID creates a zone with a fixed id.
func (s *Server) AddZoneWithID(id, name string) string {
	s.state.mu.Lock()
	defer s.state.mu.Unlock()
	s.state.zones[id] = &Zone{ID: id, Name: strings.ToLower(name)}
	return id
}

// AddRecord inserts a record directly, bypassing validation, and returns its
// id.
func (s *Server) AddRecord(zoneID string, rec Record) string {
	s.state.mu.Lock()
	defer s.state.mu.Unlock()

	zone, ok := s.state.zones[zoneID]
	if !ok {
		return ""
	}
	now := time.Now().UTC()
	if rec.ID == "" {
		rec.ID = newID()
	}
	rec.ZoneID = zone.ID
	rec.ZoneName = zone.Name
	rec.Proxiable = proxiable(rec.Type)
	rec.CreatedOn = now
	rec.ModifiedOn = now
	stored := rec.clone()
	zone.Records = append(zone.Records, &stored)
	return rec.ID
}

// Records returns copies of every record in the zone.
func (s *Server) Records(zoneID string) []Record {
	s.state.mu.RLock()
	defer s.state.mu.RUnlock()

	zone, ok := s.state.zones[zoneID]
	if !ok {
		return nil
	}
	out := make([]Record, 0, len(zone.Records))
	for _, r := range zone.Records {
		out = append(out, r.clone())
	}
	return out
}

// Record returns a copy of one record.
func (s *Server) Record(zoneID, id string) (Record, bool) {
	s.state.mu.RLock()
	defer s.state.mu.RUnlock()

	if r := s.state.findRecord(zoneID, id); r != nil {
		return r.clone(), true
	}
	return Record{}, false
}

// SetRecordContent changes a record behind the client's back, simulating a
// manual edit in the provider dashboard.
func (s *Server) SetRecordContent(zoneID, id, content string) bool {
	s.state.mu.Lock()
	defer s.state.mu.Unlock()

	r := s.state.findRecord(zoneID, id)
	if r == nil {
		return false
	}
	r.Content = content
	r.ModifiedOn = time.Now().UTC()
	return true
}

// RemoveRecord deletes a record behind the client's back.
func (s *Server) RemoveRecord(zoneID, id string) bool {
	s.state.mu.Lock()
	defer s.state.mu.Unlock()
	return s.state.removeRecord(zoneID, id)
}

// RejectProxiedPrivate toggles refusal of proxied records that point at
// private or otherwise non-routable addresses. Enabled by default.
func (s *Server) RejectProxiedPrivate(enabled bool) {
	s.state.mu.Lock()
	defer s.state.mu.Unlock()
	s.state.rejectProxiedPrivate = enabled
}

// DenyZone makes every request for the zone fail with 403.
func (s *Server) DenyZone(zoneID string) {
	s.state.mu.Lock()
	defer s.state.mu.Unlock()
	s.state.deniedZones[zoneID] = true
}

// SetNextError makes the next count API requests fail with the given
// status and provider error code.
func (s *Server) SetNextError(status, code int, message string, count int) {
	s.state.mu.Lock()
	defer s.state.mu.Unlock()
	s.state.failures.status = status
	s.state.failures.code = code
	s.state.failures.message = message
	s.state.failures.remaining = count
}

// SetLatency delays every API response by d.
func (s *Server) SetLatency(d time.Duration) {
	s.state.mu.Lock()
	defer s.state.mu.Unlock()
	s.state.failures.latency = d
}

// APICalls returns the number of API requests received, excluding admin
// and health endpoints.
func (s *Server) APICalls() int {
	s.state.mu.RLock()
	defer s.state.mu.RUnlock()
	return s.state.apiCalls
}

func (st *State) findRecord(zoneID, id string) *Record {
	zone, ok := st.zones[zoneID]
	if !ok {
		return nil
	}
	for _, r := range zone.Records {
		if r.ID == id {
			return r
		}
	}
	return nil
}

func (st *State) removeRecord(zoneID, id string) bool {
	zone, ok := st.zones[zoneID]
	if !ok {
		return false
	}
	for i, r := range zone.Records {
		if r.ID == id {
			zone.Records = slices.Delete(zone.Records, i, i+1)
			return true
		}
	}
	return false
}

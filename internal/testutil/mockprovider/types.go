// Package mockprovider provides an in-process fake of the DNS provider API
// for tests and local end-to-end runs.
package mockprovider

import (
	"sync"
	"time"
)

// Record represents a DNS record within a zone.
type Record struct {
	ID         string    `json:"id"`
	ZoneID     string    `json:"zone_id"`
	ZoneName   string    `json:"zone_name"`
	Name       string    `json:"name"`
	Type       string    `json:"type"`
	Content    string    `json:"content"`
	Proxiable  bool      `json:"proxiable"`
	Proxied    bool      `json:"proxied"`
	TTL        int       `json:"ttl"`
	Priority   *int      `json:"priority,omitempty"`
	Data       *SRVData  `json:"data,omitempty"`
	Comment    string    `json:"comment,omitempty"`
	CreatedOn  time.Time `json:"created_on"`
	ModifiedOn time.Time `json:"modified_on"`
}

// SRVData is the structured part of an SRV record.
type SRVData struct {
	Priority int    `json:"priority"`
	Weight   int    `json:"weight"`
	Port     int    `json:"port"`
	Target   string `json:"target"`
}

// Zone represents a DNS zone.
type Zone struct {
	ID      string    `json:"id"`
	Name    string    `json:"name"`
	Records []*Record `json:"records"`
}

type apiMessage struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type resultInfo struct {
	Page       int `json:"page"`
	PerPage    int `json:"per_page"`
	Count      int `json:"count"`
	TotalCount int `json:"total_count"`
	TotalPages int `json:"total_pages"`
}

type envelope struct {
	Success    bool         `json:"success"`
	Errors     []apiMessage `json:"errors"`
	Messages   []apiMessage `json:"messages"`
	Result     any          `json:"result"`
	ResultInfo *resultInfo  `json:"result_info,omitempty"`
}

// failureInjection holds a scheduled error response.
type failureInjection struct {
	status    int
	code      int
	message   string
	remaining int
	latency   time.Duration
}

// State holds the internal mock server state.
type State struct {
	mu                   sync.RWMutex
	zones                map[string]*Zone
	deniedZones          map[string]bool
	rejectProxiedPrivate bool
	failures             failureInjection
	apiCalls             int
}

// NewState creates a new State instance for the mock server.
func NewState() *State {
	return &State{
		zones:                make(map[string]*Zone),
		deniedZones:          make(map[string]bool),
		rejectProxiedPrivate: true,
	}
}

func (r *Record) clone() Record {
	c := *r
	if r.Priority != nil {
		p := *r.Priority
		c.Priority = &p
	}
	if r.Data != nil {
		d := *r.Data
		c.Data = &d
	}
	return c
}

func (z *Zone) records() []*Record {
	if z == nil {
		return nil
	}
	return z.Records
}

package provider

import (
	"encoding/json"
	"time"
)

// Record is a DNS record as the provider stores it.
type Record struct {
	ID         string     `json:"id,omitempty"`
	ZoneID     string     `json:"zone_id,omitempty"`
	Type       string     `json:"type"`
	Name       string     `json:"name"`
	Content    string     `json:"content"`
	TTL        int        `json:"ttl"`
	Proxied    bool       `json:"proxied"`
	Priority   *int       `json:"priority,omitempty"`
	Data       *SRVData   `json:"data,omitempty"`
	Comment    string     `json:"comment,omitempty"`
	CreatedOn  *time.Time `json:"created_on,omitempty"`
	ModifiedOn *time.Time `json:"modified_on,omitempty"`
}

// SRVData is the structured form of an SRV record.
type SRVData struct {
	Priority int    `json:"priority"`
	Weight   int    `json:"weight"`
	Port     int    `json:"port"`
	Target   string `json:"target"`
}

// Message is an entry of the errors or messages array of a response.
type Message struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// ResultInfo carries pagination details of list responses.
type ResultInfo struct {
	Page       int `json:"page"`
	PerPage    int `json:"per_page"`
	Count      int `json:"count"`
	TotalCount int `json:"total_count"`
	TotalPages int `json:"total_pages"`
}

// Envelope is the wrapper around every API response.
type Envelope struct {
	Success    bool            `json:"success"`
	Errors     []Message       `json:"errors"`
	Messages   []Message       `json:"messages"`
	Result     json.RawMessage `json:"result"`
	ResultInfo *ResultInfo     `json:"result_info,omitempty"`
}

// ListOptions filters ListRecords.
type ListOptions struct {
	Name    string
	Type    string
	PerPage int
}

// Result is the outcome of a create or update.
type Result struct {
	Record *Record
	// Retried is set when the provider refused to proxy the record and it
	// was deployed with proxying disabled.
	Retried bool
	Warning string
}

// TokenStatus is the result of VerifyToken.
type TokenStatus struct {
	ID        string     `json:"id"`
	Status    string     `json:"status"`
	ExpiresOn *time.Time `json:"expires_on,omitempty"`
}

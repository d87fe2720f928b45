package mockprovider

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
)

func do(t *testing.T, method, url, token, body string) (*http.Response, envelope) {
	t.Helper()
	var reader *bytes.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()

	var env envelope
	if resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
			t.Fatalf("decode envelope: %v", err)
		}
	}
	return resp, env
}

func TestCreateListDelete(t *testing.T) {
	t.Parallel()
	s := New()
	defer s.Close()
	zoneID := s.AddZone("ciao.su")
	base := s.URL() + "/zones/" + zoneID + "/dns_records"

	resp, env := do(t, http.MethodPost, base, "", `{"type":"A","name":"blog.ciao.su","content":"1.2.3.4","ttl":3600}`)
	if resp.StatusCode != http.StatusOK || !env.Success {
		t.Fatalf("create failed: %d %+v", resp.StatusCode, env.Errors)
	}
	records := s.Records(zoneID)
	if len(records) != 1 || records[0].Content != "1.2.3.4" {
		t.Fatalf("unexpected records: %+v", records)
	}

	_, env = do(t, http.MethodGet, base+"?name=blog.ciao.su", "", "")
	if items, ok := env.Result.([]any); !ok || len(items) != 1 {
		t.Errorf("list result = %v", env.Result)
	}

	resp, _ = do(t, http.MethodDelete, base+"/"+records[0].ID, "", "")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("delete status = %d", resp.StatusCode)
	}
	resp, env = do(t, http.MethodDelete, base+"/"+records[0].ID, "", "")
	if resp.StatusCode != http.StatusNotFound || env.Errors[0].Code != codeRecordNotFound {
		t.Errorf("second delete = %d %+v", resp.StatusCode, env.Errors)
	}
}

func TestProxiedPrivateRejected(t *testing.T) {
	t.Parallel()
	s := New()
	defer s.Close()
	zoneID := s.AddZone("ciao.su")
	base := s.URL() + "/zones/" + zoneID + "/dns_records"

	resp, env := do(t, http.MethodPost, base, "", `{"type":"A","name":"x.ciao.su","content":"100.64.1.1","proxied":true}`)
	if resp.StatusCode != http.StatusBadRequest || env.Errors[0].Code != codeProxyRejected {
		t.Fatalf("expected 9003 rejection, got %d %+v", resp.StatusCode, env.Errors)
	}

	s.RejectProxiedPrivate(false)
	resp, _ = do(t, http.MethodPost, base, "", `{"type":"A","name":"x.ciao.su","content":"100.64.1.1","proxied":true}`)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected acceptance with rejection disabled, got %d", resp.StatusCode)
	}
}

func TestCNAMEConflict(t *testing.T) {
	t.Parallel()
	s := New()
	defer s.Close()
	zoneID := s.AddZone("ciao.su")
	s.AddRecord(zoneID, Record{Type: "A", Name: "x.ciao.su", Content: "1.2.3.4", TTL: 1})

	resp, env := do(t, http.MethodPost, s.URL()+"/zones/"+zoneID+"/dns_records", "",
		`{"type":"CNAME","name":"x.ciao.su","content":"alice.github.io"}`)
	if resp.StatusCode != http.StatusBadRequest || env.Errors[0].Code != codeCNAMEConflict {
		t.Errorf("expected CNAME conflict, got %d %+v", resp.StatusCode, env.Errors)
	}
}

func TestAuthAndPermissions(t *testing.T) {
	t.Parallel()
	s := New(WithToken("good-token"))
	defer s.Close()
	zoneID := s.AddZone("ciao.su")
	base := s.URL() + "/zones/" + zoneID + "/dns_records"

	if resp, _ := do(t, http.MethodGet, base, "bad-token", ""); resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("bad token status = %d", resp.StatusCode)
	}
	if resp, _ := do(t, http.MethodGet, base, "good-token", ""); resp.StatusCode != http.StatusOK {
		t.Errorf("good token status = %d", resp.StatusCode)
	}

	s.DenyZone(zoneID)
	if resp, _ := do(t, http.MethodGet, base, "good-token", ""); resp.StatusCode != http.StatusForbidden {
		t.Errorf("denied zone status = %d", resp.StatusCode)
	}

	if resp, _ := do(t, http.MethodGet, s.URL()+"/zones/unknown/dns_records", "good-token", ""); resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown zone status = %d", resp.StatusCode)
	}
}

func TestSetNextError(t *testing.T) {
	t.Parallel()
	s := New()
	defer s.Close()
	zoneID := s.AddZone("ciao.su")
	base := s.URL() + "/zones/" + zoneID + "/dns_records"

	s.SetNextError(http.StatusTooManyRequests, 971, "Please wait and consider throttling your request speed", 2)
	for i := 0; i < 2; i++ {
		if resp, _ := do(t, http.MethodGet, base, "", ""); resp.StatusCode != http.StatusTooManyRequests {
			t.Errorf("request %d status = %d", i, resp.StatusCode)
		}
	}
	if resp, _ := do(t, http.MethodGet, base, "", ""); resp.StatusCode != http.StatusOK {
		t.Errorf("third request status = %d", resp.StatusCode)
	}
	if s.APICalls() != 3 {
		t.Errorf("APICalls = %d, want 3", s.APICalls())
	}
}

func TestPagination(t *testing.T) {
	t.Parallel()
	s := New()
	defer s.Close()
	zoneID := s.AddZone("ciao.su")
	for _, label := range []string{"a", "b", "c", "d", "e"} {
		s.AddRecord(zoneID, Record{Type: "TXT", Name: label + ".ciao.su", Content: "x", TTL: 1})
	}

	_, env := do(t, http.MethodGet, s.URL()+"/zones/"+zoneID+"/dns_records?per_page=2&page=3", "", "")
	if env.ResultInfo == nil || env.ResultInfo.TotalPages != 3 || env.ResultInfo.Count != 1 {
		t.Errorf("result_info = %+v", env.ResultInfo)
	}
}

func TestAdminEndpoints(t *testing.T) {
	t.Parallel()
	s := New()
	defer s.Close()

	resp, err := http.Post(s.URL()+"/admin/zones", "application/json", strings.NewReader(`{"id":"zone-1","name":"ciao.su"}`))
	if err != nil {
		t.Fatalf("create zone: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create zone status = %d", resp.StatusCode)
	}
	s.AddRecord("zone-1", Record{Type: "A", Name: "x.ciao.su", Content: "1.2.3.4", TTL: 1})

	resp, err = http.Get(s.URL() + "/admin/state")
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	var state StateResponse
	if err := json.NewDecoder(resp.Body).Decode(&state); err != nil {
		t.Fatalf("decode state: %v", err)
	}
	resp.Body.Close()
	if len(state.Zones) != 1 || len(state.Zones[0].Records) != 1 {
		t.Errorf("state = %+v", state)
	}

	req, _ := http.NewRequest(http.MethodDelete, s.URL()+"/admin/reset", nil)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("reset: %v", err)
	}
	resp.Body.Close()
	if got := s.Records("zone-1"); got != nil {
		t.Errorf("records after reset = %+v", got)
	}
}

package client

import (
	"testing"
	"time"
)

func TestNewClientHasNoFixedHTTPTimeout(t *testing.T) {
	c := New("http://localhost:8080/")
	if c.httpClient == nil {
		t.Fatal("http client should be initialized")
	}
	if c.httpClient.Timeout != 0 {
		t.Fatalf("default http client timeout = %v, want 0", c.httpClient.Timeout)
	}
	if c.serverURL != "http://localhost:8080" {
		t.Fatalf("serverURL = %q, want trailing slash trimmed", c.serverURL)
	}
}

func TestReportOptionsQuery(t *testing.T) {
	if q := (ReportOptions{}).query(); q != "" {
		t.Fatalf("empty query = %q", q)
	}
	if q := (ReportOptions{Window: 250 * time.Millisecond}).query(); q != "?window=250ms" {
		t.Fatalf("query = %q", q)
	}
}

func TestAPIErrorMessage(t *testing.T) {
	err := &APIError{StatusCode: 422, Message: "line 5: missing field", Code: "MISSING_FIELD"}
	if got := err.Error(); got != "server returned 422 [MISSING_FIELD]: line 5: missing field" {
		t.Fatalf("Error() = %q", got)
	}
}

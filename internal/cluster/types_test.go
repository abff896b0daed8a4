package cluster

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestDescriptorJSONRoundTrip(t *testing.T) {
	d := Descriptor{
		ID:       "node-1",
		SQLAddr:  "10.0.0.1:5432",
		GRPCAddr: "10.0.0.1:9090",
		DataDir:  "/var/lib/torua-sql",
		Region:   "eu",
	}

	data, err := json.Marshal(d)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var decoded Descriptor
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded != d {
		t.Errorf("round trip mismatch: got %+v, want %+v", decoded, d)
	}
}

func TestDescriptorSatisfies(t *testing.T) {
	eu := Descriptor{ID: "a", Region: "eu"}
	us := Descriptor{ID: "b", Region: "us"}

	if !eu.Satisfies(map[string]string{"region": "eu"}) {
		t.Error("expected eu descriptor to satisfy region=eu")
	}
	if us.Satisfies(map[string]string{"region": "eu"}) {
		t.Error("expected us descriptor not to satisfy region=eu")
	}
	if !eu.Satisfies(nil) {
		t.Error("expected empty constraint set to always be satisfied")
	}
	if eu.Satisfies(map[string]string{"zone": "a"}) {
		t.Error("expected unrecognised constraint keys to never match")
	}
}

func TestPostJSON(t *testing.T) {
	tests := []struct {
		name           string
		serverResponse int
		serverBody     string
		requestBody    interface{}
		responseBody   interface{}
		expectError    bool
		contextTimeout bool
	}{
		{
			name:           "successful POST with response",
			serverResponse: http.StatusOK,
			serverBody:     `{"status":"ok"}`,
			requestBody:    map[string]string{"test": "data"},
			responseBody:   &map[string]string{},
			expectError:    false,
		},
		{
			name:           "successful POST without response body",
			serverResponse: http.StatusNoContent,
			requestBody:    map[string]string{"test": "data"},
			responseBody:   nil,
			expectError:    false,
		},
		{
			name:           "server error response",
			serverResponse: http.StatusInternalServerError,
			serverBody:     `{"error":"internal error"}`,
			requestBody:    map[string]string{"test": "data"},
			expectError:    true,
		},
		{
			name:           "context timeout",
			serverResponse: http.StatusOK,
			serverBody:     `{"status":"ok"}`,
			requestBody:    map[string]string{"test": "data"},
			expectError:    true,
			contextTimeout: true,
		},
		{
			name:        "unmarshalable request body",
			requestBody: make(chan int),
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodPost {
					t.Errorf("expected POST, got %s", r.Method)
				}
				if ct := r.Header.Get("Content-Type"); ct != "application/json" {
					t.Errorf("expected Content-Type application/json, got %s", ct)
				}
				if tt.contextTimeout {
					time.Sleep(100 * time.Millisecond)
				}
				w.WriteHeader(tt.serverResponse)
				if tt.serverBody != "" {
					w.Write([]byte(tt.serverBody))
				}
			}))
			defer server.Close()

			ctx := context.Background()
			if tt.contextTimeout {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, 1*time.Millisecond)
				defer cancel()
			}

			err := PostJSON(ctx, server.URL, tt.requestBody, tt.responseBody)
			if tt.expectError && err == nil {
				t.Error("expected error but got none")
			}
			if !tt.expectError && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestPostJSONInvalidURL(t *testing.T) {
	ctx := context.Background()

	if err := PostJSON(ctx, "://invalid-url", map[string]string{"test": "data"}, nil); err == nil {
		t.Error("expected error for invalid URL, got none")
	}
}

func TestHTTPClientTimeout(t *testing.T) {
	if httpClient.Timeout != 5*time.Second {
		t.Errorf("expected HTTP client timeout of 5s, got %v", httpClient.Timeout)
	}
}

package httpclient

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestGetEnvDuration(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  time.Duration
	}{
		{"unset", "", 7 * time.Second},
		{"integer seconds", "12", 12 * time.Second},
		{"duration string", "1m30s", 90 * time.Second},
		{"invalid", "soon", 7 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("APIDIRECTORY_TEST_DURATION", tt.value)
			if got := getEnvDuration("APIDIRECTORY_TEST_DURATION", 7*time.Second); got != tt.want {
				t.Errorf("getEnvDuration() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestWithTimeout(t *testing.T) {
	t.Setenv("HTTP_TIMEOUT", "")
	t.Setenv("HTTP_RESPONSE_HEADER_TIMEOUT", "")

	cfg := WithTimeout(5 * time.Second)
	if cfg.Timeout != 5*time.Second {
		t.Errorf("Timeout = %v, want 5s", cfg.Timeout)
	}
	if cfg.ResponseHeaderTimeout != 5*time.Second {
		t.Errorf("ResponseHeaderTimeout = %v, want 5s", cfg.ResponseHeaderTimeout)
	}

	def := WithTimeout(0)
	if def.Timeout != 30*time.Second {
		t.Errorf("Timeout = %v, want default 30s", def.Timeout)
	}
}

func TestNewHTTPClient(t *testing.T) {
	cfg := WithTimeout(3 * time.Second)
	client := NewHTTPClient(&cfg)
	if client.Timeout != 3*time.Second {
		t.Errorf("client.Timeout = %v, want 3s", client.Timeout)
	}
	if NewDefaultHTTPClient().Transport == nil {
		t.Error("default client should have a transport")
	}
}

func TestNewHTTPClient_UserAgent(t *testing.T) {
	var got atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.Store(r.UserAgent())
	}))
	defer server.Close()

	client := NewDefaultHTTPClient()
	resp, err := client.Get(server.URL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_ = resp.Body.Close()
	if ua, _ := got.Load().(string); !strings.HasPrefix(ua, "apidirectory/") {
		t.Errorf("User-Agent = %q, want apidirectory/<version>", ua)
	}

	req, _ := http.NewRequest(http.MethodGet, server.URL, nil)
	req.Header.Set("User-Agent", "custom/1.0")
	resp, err = client.Do(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_ = resp.Body.Close()
	if ua := got.Load(); ua != "custom/1.0" {
		t.Errorf("User-Agent = %v, want the caller's value", ua)
	}
}

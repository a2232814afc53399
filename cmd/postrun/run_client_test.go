package main

import (
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func TestBuildHTTPClientInsecureTLS(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client, err := buildHTTPClient(true, "", false, false)
	if err != nil {
		t.Fatalf("client: %v", err)
	}

	resp, err := client.Get(srv.URL)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
}

func TestBuildHTTPClientCustomCA(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	caPath := filepath.Join(t.TempDir(), "ca.pem")
	block := &pem.Block{Type: "CERTIFICATE", Bytes: srv.Certificate().Raw}
	if err := os.WriteFile(caPath, pem.EncodeToMemory(block), 0o644); err != nil {
		t.Fatalf("write ca: %v", err)
	}

	client, err := buildHTTPClient(false, caPath, true, false)
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	resp, err := client.Get(srv.URL)
	if err != nil {
		t.Fatalf("get with custom CA: %v", err)
	}
	resp.Body.Close()

	if _, err := buildHTTPClient(false, filepath.Join(t.TempDir(), "missing.pem"), false, false); err == nil {
		t.Fatalf("expected error for missing cacert")
	}
}

func TestBuildHTTPClientProxyBypass(t *testing.T) {
	t.Setenv("HTTP_PROXY", "http://127.0.0.1:9")
	t.Setenv("HTTPS_PROXY", "http://127.0.0.1:9")

	client, err := buildHTTPClient(false, "", false, false)
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	if client.Transport.(*http.Transport).Proxy == nil {
		t.Fatalf("expected proxy function when noproxy=false")
	}

	client, err = buildHTTPClient(false, "", true, false)
	if err != nil {
		t.Fatalf("client noproxy: %v", err)
	}
	if client.Transport.(*http.Transport).Proxy != nil {
		t.Fatalf("expected proxy disabled when noproxy=true")
	}
}

func TestBuildHTTPClientDisableCookies(t *testing.T) {
	client, err := buildHTTPClient(false, "", false, false)
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	if client.Jar == nil {
		t.Fatalf("expected a cookie jar by default")
	}
	client, err = buildHTTPClient(false, "", false, true)
	if err != nil {
		t.Fatalf("client disable: %v", err)
	}
	if client.Jar != nil {
		t.Fatalf("expected no cookie jar when cookies are disabled")
	}
}

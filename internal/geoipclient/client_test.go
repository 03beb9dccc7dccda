package geoipclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestFetch_ReturnsCIDRs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"cidrs":["10.0.0.0/8","192.168.0.0/16"]}`))
	}))
	defer srv.Close()

	c := New(srv.URL, false)
	cidrs, err := c.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(cidrs) != 2 || cidrs[0] != "10.0.0.0/8" {
		t.Errorf("cidrs = %v", cidrs)
	}
}

func TestFetch_SkipReturnsNothing(t *testing.T) {
	c := New("http://example.invalid", true)
	cidrs, err := c.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if cidrs != nil {
		t.Errorf("cidrs = %v, want nil in skip mode", cidrs)
	}
}

func TestFetch_NonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	if _, err := New(srv.URL, false).Fetch(context.Background()); err == nil {
		t.Error("Fetch should fail on a non-200 response")
	}
}

func TestFetch_MalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json"))
	}))
	defer srv.Close()

	if _, err := New(srv.URL, false).Fetch(context.Background()); err == nil {
		t.Error("Fetch should fail on a malformed body")
	}
}

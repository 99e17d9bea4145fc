package zendesk

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestPush(t *testing.T) {
	var got pushRequest
	var auth, path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		path = r.URL.Path
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode push body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(time.Second, time.Second, WithBaseURL(srv.URL))
	err := c.Push(context.Background(), "acme", "push-1", "tok", []ExternalResource{{ExternalID: "1", Message: "hi"}})
	if err != nil {
		t.Fatalf("Push failed: %v", err)
	}

	if path != "/api/v2/any_channel/push" {
		t.Errorf("unexpected path %q", path)
	}
	if auth != "Bearer tok" {
		t.Errorf("unexpected auth header %q", auth)
	}
	if got.InstancePushID != "push-1" || len(got.ExternalResources) != 1 || got.ExternalResources[0].ExternalID != "1" {
		t.Errorf("unexpected push body %+v", got)
	}
}

func TestPushErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewClient(time.Second, time.Second, WithBaseURL(srv.URL))
	err := c.Push(context.Background(), "acme", "push-1", "tok", nil)
	if err == nil || !strings.Contains(err.Error(), "401") {
		t.Fatalf("expected status error, got %v", err)
	}
}

func TestValidateToken(t *testing.T) {
	status := http.StatusOK
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v2/any_channel/validate_token" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		w.WriteHeader(status)
	}))
	defer srv.Close()

	c := NewClient(time.Second, time.Second, WithBaseURL(srv.URL))

	ok, err := c.ValidateToken(context.Background(), "acme", "push-1", "tok")
	if err != nil || !ok {
		t.Errorf("expected valid token, got ok=%v err=%v", ok, err)
	}

	status = http.StatusForbidden
	ok, err = c.ValidateToken(context.Background(), "acme", "push-1", "tok")
	if err != nil || ok {
		t.Errorf("expected invalid token without error, got ok=%v err=%v", ok, err)
	}
}

func TestFetchAttachment(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte("file-bytes"))
	}))
	defer srv.Close()

	c := NewClient(time.Second, time.Second)

	data, err := c.FetchAttachment(context.Background(), srv.URL+"/files/report.pdf", "tok")
	if err != nil {
		t.Fatalf("FetchAttachment failed: %v", err)
	}
	if string(data) != "file-bytes" {
		t.Errorf("unexpected data %q", data)
	}

	if _, err := c.FetchAttachment(context.Background(), srv.URL+"/files/report.pdf", ""); err == nil {
		t.Error("expected error without token")
	}
}

func TestFetchAttachmentTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	c := NewClient(time.Second, 50*time.Millisecond)
	if _, err := c.FetchAttachment(context.Background(), srv.URL, "tok"); err == nil {
		t.Fatal("expected timeout error")
	}
}

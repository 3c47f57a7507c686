package assistant

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestClient_Ask(t *testing.T) {
	var gotReq askRequest
	var gotAuth string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		w.Write([]byte("hi there"))
	}))
	defer srv.Close()

	c := New(srv.URL, "s3cret", srv.Client())
	reply, err := c.Ask(context.Background(), "hello", "+15550001")
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if reply != "hi there" {
		t.Errorf("reply = %q, want %q", reply, "hi there")
	}

	wantAuth := "Basic " + base64.StdEncoding.EncodeToString([]byte("s3cret"))
	if gotAuth != wantAuth {
		t.Errorf("Authorization = %q, want %q", gotAuth, wantAuth)
	}
	if gotReq.ChatInput != "hello" || gotReq.Action != "sendMessage" || gotReq.SessionID != "intelligence-+15550001" {
		t.Errorf("request body = %+v", gotReq)
	}
}

func TestClient_Ask_NonTwoXX(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("assistant error"))
	}))
	defer srv.Close()

	c := New(srv.URL, "s3cret", srv.Client())
	if _, err := c.Ask(context.Background(), "hello", "+15550001"); err == nil {
		t.Fatal("Ask: expected error on 500 response")
	}
}

func TestClient_Ask_EmptyReply(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(""))
	}))
	defer srv.Close()

	c := New(srv.URL, "s3cret", srv.Client())
	reply, err := c.Ask(context.Background(), "hello", "+15550001")
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if reply != "" {
		t.Errorf("reply = %q, want empty", reply)
	}
}

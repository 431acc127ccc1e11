package verifyapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"go.uber.org/zap"
)

func TestAuthenticateSendsCredentials(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/auth_smile" {
			t.Errorf("Expected path /v1/auth_smile, got %s", r.URL.Path)
		}
		var req AuthenticationRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.PartnerID != "partner-1" || req.AuthToken != "token" {
			t.Errorf("expected partner credentials, got %+v", req)
		}
		if req.JobType != SmartSelfieEnrollment || !req.Enrollment || req.UserID != "user-1" {
			t.Errorf("unexpected job fields: %+v", req)
		}
		json.NewEncoder(w).Encode(AuthenticationResponse{
			Success:       true,
			Signature:     "sig",
			Timestamp:     "2024-01-01T00:00:00Z",
			PartnerParams: PartnerParams{JobID: "job-1", UserID: "user-1", JobType: SmartSelfieEnrollment},
		})
	}))
	defer server.Close()

	client := NewClient(server.URL+"/v1/", "partner-1", "token", nil, zap.NewNop())
	resp, err := client.Authenticate(context.Background(), AuthenticationRequest{
		JobType:    JobTypeFor(true),
		Enrollment: true,
		UserID:     "user-1",
	})
	if err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}
	if resp.Signature != "sig" || resp.PartnerParams.JobID != "job-1" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestAuthenticateUnsuccessfulIsServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]bool{"success": false})
	}))
	defer server.Close()

	client := NewClient(server.URL, "p", "t", nil, zap.NewNop())
	_, err := client.Authenticate(context.Background(), AuthenticationRequest{})
	if !IsServerError(err) {
		t.Fatalf("expected ServerError, got %v", err)
	}
}

func TestPrepUploadPropagatesServerMessage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"signature expired"}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "p", "t", nil, zap.NewNop())
	_, err := client.PrepUpload(context.Background(), PrepUploadRequest{FileName: "selfie.zip"})

	var serverErr *ServerError
	if !errors.As(err, &serverErr) {
		t.Fatalf("expected ServerError, got %v", err)
	}
	if serverErr.StatusCode != http.StatusBadRequest || serverErr.Message != "signature expired" {
		t.Fatalf("unexpected server error: %+v", serverErr)
	}
}

func TestPrepUploadRequiresUploadURL(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(PrepUploadResponse{Code: "2202"})
	}))
	defer server.Close()

	client := NewClient(server.URL, "p", "t", nil, zap.NewNop())
	if _, err := client.PrepUpload(context.Background(), PrepUploadRequest{}); !IsServerError(err) {
		t.Fatalf("expected ServerError for missing upload url, got %v", err)
	}
}

func TestUploadVariants(t *testing.T) {
	var mu sync.Mutex
	status := http.StatusOK
	var received []byte
	setStatus := func(code int) {
		mu.Lock()
		status = code
		mu.Unlock()
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		if r.Method != http.MethodPut {
			t.Errorf("Expected PUT, got %s", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/zip" {
			t.Errorf("Expected application/zip, got %s", ct)
		}
		received, _ = io.ReadAll(r.Body)
		w.WriteHeader(status)
	}))
	defer server.Close()

	client := NewClient("http://unused", "p", "t", nil, zap.NewNop())

	resp, err := client.Upload(context.Background(), []byte("zip-bytes"), server.URL+"/bucket/key")
	if err != nil {
		t.Fatalf("Upload failed: %v", err)
	}
	mu.Lock()
	body := string(received)
	mu.Unlock()
	if resp.Kind != UploadCompleted || body != "zip-bytes" {
		t.Fatalf("unexpected upload result %+v, body %q", resp, body)
	}

	setStatus(http.StatusAccepted)
	resp, err = client.Upload(context.Background(), []byte("zip-bytes"), server.URL)
	if err != nil || resp.Kind != UploadAccepted {
		t.Fatalf("expected accepted variant, got %+v, %v", resp, err)
	}

	setStatus(http.StatusForbidden)
	if _, err := client.Upload(context.Background(), []byte("zip-bytes"), server.URL); !IsServerError(err) {
		t.Fatalf("expected ServerError, got %v", err)
	}
}

func TestTransportFailureIsNotServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	client := NewClient(url, "p", "t", nil, zap.NewNop())
	_, err := client.Authenticate(context.Background(), AuthenticationRequest{})
	if err == nil || IsServerError(err) {
		t.Fatalf("expected transport error, got %v", err)
	}
}

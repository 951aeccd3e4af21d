package tiktok

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"tikrelay/internal/testsupport/tiktokstub"
)

var testCreds = Credentials{CSRFToken: "csrf-token-1", SessionToken: "sid-guard-1"}

func testFile() File {
	return File{
		Data:        []byte("not-really-a-png"),
		Filename:    "photo.png",
		ContentType: "image/png",
	}
}

func TestUploadSendsCredentialHeadersAndMultipartBody(t *testing.T) {
	stub := tiktokstub.Start(tiktokstub.Options{StatusCode: 0, URI: "abc"})
	defer stub.Close()

	client := NewClient(Config{Endpoint: stub.URL()})
	result, err := client.Upload(context.Background(), testCreds, testFile())
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if !result.Succeeded() {
		t.Fatalf("expected success, got %+v", result)
	}
	if result.URI != "abc" {
		t.Fatalf("uri = %q", result.URI)
	}

	received := stub.Received()
	if len(received) != 1 {
		t.Fatalf("expected 1 upload, got %d", len(received))
	}
	got := received[0]
	if got.CSRFToken != "csrf-token-1" {
		t.Fatalf("X-Csrftoken = %q", got.CSRFToken)
	}
	if got.Cookie != "tt_csrf_token=csrf-token-1; sid_guard=sid-guard-1" {
		t.Fatalf("Cookie = %q", got.Cookie)
	}
	if !strings.HasPrefix(got.UserAgent, "Mozilla/5.0") {
		t.Fatalf("User-Agent = %q", got.UserAgent)
	}
	if got.Host != "www.tiktok.com" {
		t.Fatalf("Host = %q", got.Host)
	}
	if got.Filename != "photo.png" || got.ContentType != "image/png" {
		t.Fatalf("file part = %q %q", got.Filename, got.ContentType)
	}
	if got.Source != "0" {
		t.Fatalf("source field = %q", got.Source)
	}
	if got.FileBytes != len("not-really-a-png") {
		t.Fatalf("file bytes = %d", got.FileBytes)
	}
}

func TestUploadTraceIncludesCredentialHeaders(t *testing.T) {
	stub := tiktokstub.Start(tiktokstub.Options{StatusCode: 0, URI: "abc"})
	defer stub.Close()

	client := NewClient(Config{Endpoint: stub.URL()})
	result, err := client.Upload(context.Background(), testCreds, testFile())
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	trace := result.Trace
	if trace.Method != http.MethodPost {
		t.Fatalf("trace method = %q", trace.Method)
	}
	if trace.URL != stub.URL() {
		t.Fatalf("trace url = %q", trace.URL)
	}
	if trace.Headers["X-Csrftoken"] != "csrf-token-1" {
		t.Fatalf("trace csrf header = %q", trace.Headers["X-Csrftoken"])
	}
	if trace.Headers["Cookie"] != "tt_csrf_token=csrf-token-1; sid_guard=sid-guard-1" {
		t.Fatalf("trace cookie header = %q", trace.Headers["Cookie"])
	}
	if trace.Headers["Host"] != "www.tiktok.com" {
		t.Fatalf("trace host header = %q", trace.Headers["Host"])
	}
}

func TestUploadParsesLogicalFailure(t *testing.T) {
	stub := tiktokstub.Start(tiktokstub.Options{StatusCode: 7, Message: "image audit failed"})
	defer stub.Close()

	client := NewClient(Config{Endpoint: stub.URL()})
	result, err := client.Upload(context.Background(), testCreds, testFile())
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if result.Succeeded() {
		t.Fatal("expected logical failure")
	}
	if result.PlatformStatus != 7 {
		t.Fatalf("platform status = %d", result.PlatformStatus)
	}
	if result.Message != "image audit failed" {
		t.Fatalf("message = %q", result.Message)
	}
}

func TestUploadFallsBackToTextBody(t *testing.T) {
	stub := tiktokstub.Start(tiktokstub.Options{HTTPStatus: http.StatusForbidden, RawBody: "Access Denied"})
	defer stub.Close()

	client := NewClient(Config{Endpoint: stub.URL()})
	result, err := client.Upload(context.Background(), testCreds, testFile())
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if result.HTTPStatus != http.StatusForbidden {
		t.Fatalf("http status = %d", result.HTTPStatus)
	}
	if result.HTTPStatusText != "Forbidden" {
		t.Fatalf("http status text = %q", result.HTTPStatusText)
	}
	if body, ok := result.Body.(string); !ok || body != "Access Denied" {
		t.Fatalf("body = %#v", result.Body)
	}
	if result.PlatformStatus != -1 {
		t.Fatalf("platform status = %d", result.PlatformStatus)
	}
}

func TestUploadMarksUnparseableBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte{0xff, 0xfe, 0x00})
	}))
	defer server.Close()

	client := NewClient(Config{Endpoint: server.URL})
	result, err := client.Upload(context.Background(), testCreds, testFile())
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if result.Body != UnparseableBody {
		t.Fatalf("body = %#v", result.Body)
	}
}

func TestUploadTransportError(t *testing.T) {
	stub := tiktokstub.Start(tiktokstub.Options{})
	url := stub.URL()
	stub.Close()

	client := NewClient(Config{Endpoint: url})
	_, err := client.Upload(context.Background(), testCreds, testFile())
	if err == nil {
		t.Fatal("expected transport error")
	}
}

func TestAssetURL(t *testing.T) {
	if got := AssetURL("abc"); got != "https://p16-sg.tiktokcdn.com/obj/abc" {
		t.Fatalf("AssetURL = %q", got)
	}
	if got := AssetURL("/abc"); got != "https://p16-sg.tiktokcdn.com/obj/abc" {
		t.Fatalf("AssetURL with slash = %q", got)
	}
}

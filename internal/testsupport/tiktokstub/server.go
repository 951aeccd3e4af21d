// Package tiktokstub hosts a scripted stand-in for the TikTok upload API so
// tests can exercise the relay against success, rejection, and garbage-body
// behaviors without touching the network.
package tiktokstub

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
)

// Options describes how the fake upstream should respond.
type Options struct {
	// HTTPStatus is the transport status to return; defaults to 200.
	HTTPStatus int
	// StatusCode is the platform-level status_code in the JSON body.
	StatusCode int
	// URI is returned under data.uri when non-empty.
	URI string
	// Message populates the body's message field.
	Message string
	// RawBody, when non-empty, is written verbatim instead of a JSON body.
	RawBody string
}

// ReceivedUpload records one inbound upload for assertions.
type ReceivedUpload struct {
	CSRFToken   string
	Cookie      string
	UserAgent   string
	Host        string
	Filename    string
	ContentType string
	Source      string
	FileBytes   int
}

// Server wraps an httptest.Server that serves the upload endpoint.
type Server struct {
	server *httptest.Server
	opts   Options

	mu       sync.Mutex
	received []ReceivedUpload
}

// Start spins up the stub with the provided options.
func Start(opts Options) *Server {
	s := &Server{opts: opts}
	s.server = httptest.NewServer(http.HandlerFunc(s.handle))
	return s
}

// URL returns the stub's upload endpoint.
func (s *Server) URL() string {
	return s.server.URL
}

// Close shuts down the underlying HTTP server.
func (s *Server) Close() {
	if s.server != nil {
		s.server.Close()
	}
}

// Received returns a copy of the recorded uploads.
func (s *Server) Received() []ReceivedUpload {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ReceivedUpload(nil), s.received...)
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	record := ReceivedUpload{
		CSRFToken: r.Header.Get("X-Csrftoken"),
		Cookie:    r.Header.Get("Cookie"),
		UserAgent: r.Header.Get("User-Agent"),
		Host:      r.Host,
	}
	if err := r.ParseMultipartForm(32 << 20); err == nil {
		record.Source = r.FormValue("source")
		if file, header, err := r.FormFile("file"); err == nil {
			data, _ := io.ReadAll(file)
			file.Close()
			record.Filename = header.Filename
			record.ContentType = header.Header.Get("Content-Type")
			record.FileBytes = len(data)
		}
	}
	s.mu.Lock()
	s.received = append(s.received, record)
	s.mu.Unlock()

	status := s.opts.HTTPStatus
	if status == 0 {
		status = http.StatusOK
	}
	if s.opts.RawBody != "" {
		w.WriteHeader(status)
		_, _ = io.WriteString(w, s.opts.RawBody)
		return
	}
	body := map[string]interface{}{
		"status_code": s.opts.StatusCode,
	}
	if s.opts.Message != "" {
		body["message"] = s.opts.Message
	}
	if s.opts.URI != "" {
		body["data"] = map[string]interface{}{
			"uri":        s.opts.URI,
			"url_list":   []string{},
			"url_prefix": "https://p16-sg.tiktokcdn.com/obj/",
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

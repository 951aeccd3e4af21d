package tiktok

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	// UploadEndpoint is the fixed upstream image upload API.
	UploadEndpoint = "https://www.tiktok.com/api/upload/image/"
	// CDNPrefix is prepended to the returned URI to form the canonical
	// asset URL.
	CDNPrefix = "https://p16-sg.tiktokcdn.com/obj/"

	targetHost = "www.tiktok.com"
	userAgent  = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

	// UnparseableBody marks a response body that was neither JSON nor text.
	UnparseableBody = "unparseable response"
)

// Credentials carries the two opaque session tokens an account needs to
// authenticate an upload. Any deviation in how they are placed on the request
// is expected to cause upstream rejection.
type Credentials struct {
	CSRFToken    string
	SessionToken string
}

// File is the image payload forwarded upstream.
type File struct {
	Data        []byte
	Filename    string
	ContentType string
}

// RequestTrace captures the outbound request for diagnostic replay. Credential
// header values are included deliberately; failure payloads echo them so
// callers can debug without server-side log access.
type RequestTrace struct {
	Method  string            `json:"method"`
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers"`
}

// Result is the interpreted upstream response. HTTPStatus reflects the
// transport outcome; PlatformStatus and URI reflect the body's own success
// indicator (status_code == 0 with data.uri present).
type Result struct {
	HTTPStatus     int
	HTTPStatusText string
	// Body is the parsed response: a JSON object when structured parsing
	// succeeds, the raw text otherwise, or UnparseableBody. Preserved
	// verbatim for failure diagnostics.
	Body           interface{}
	PlatformStatus int
	Message        string
	URI            string
	Trace          RequestTrace
}

// Succeeded reports whether the body indicates the platform accepted the
// upload.
func (r Result) Succeeded() bool {
	return r.PlatformStatus == 0 && r.URI != ""
}

// Config configures the upstream client.
type Config struct {
	// Endpoint overrides UploadEndpoint; used by tests to target a stub.
	Endpoint string
	// HTTPClient overrides the default client. The upstream imposes no
	// explicit timeout; a bounded default is applied defensively.
	HTTPClient *http.Client
}

// Client sends image uploads to the TikTok upload API.
type Client struct {
	endpoint   string
	httpClient *http.Client
}

// NewClient builds a Client, applying the fixed endpoint and a 60 second
// transport timeout unless overridden.
func NewClient(cfg Config) *Client {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		endpoint = UploadEndpoint
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	return &Client{endpoint: endpoint, httpClient: client}
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

// Upload forwards the file with the account's credentials and interprets the
// response. A non-nil error means the request never produced a response
// (build or transport failure); upstream rejections are reported via Result.
func (c *Client) Upload(ctx context.Context, creds Credentials, file File) (Result, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	partHeader := make(textproto.MIMEHeader)
	partHeader.Set("Content-Disposition",
		fmt.Sprintf(`form-data; name="file"; filename="%s"`, quoteEscaper.Replace(file.Filename)))
	contentType := file.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	partHeader.Set("Content-Type", contentType)
	part, err := writer.CreatePart(partHeader)
	if err != nil {
		return Result{}, fmt.Errorf("build multipart body: %w", err)
	}
	if _, err := part.Write(file.Data); err != nil {
		return Result{}, fmt.Errorf("build multipart body: %w", err)
	}
	if err := writer.WriteField("source", "0"); err != nil {
		return Result{}, fmt.Errorf("build multipart body: %w", err)
	}
	if err := writer.Close(); err != nil {
		return Result{}, fmt.Errorf("build multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body.Bytes()))
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("X-Csrftoken", creds.CSRFToken)
	req.Header.Set("Cookie", fmt.Sprintf("tt_csrf_token=%s; sid_guard=%s", creds.CSRFToken, creds.SessionToken))
	req.Header.Set("User-Agent", userAgent)
	req.Host = targetHost

	trace := traceRequest(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Result{Trace: trace}, fmt.Errorf("upload request: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{Trace: trace}, fmt.Errorf("read upload response: %w", err)
	}

	result := Result{
		HTTPStatus:     resp.StatusCode,
		HTTPStatusText: statusText(resp),
		Trace:          trace,
		PlatformStatus: -1,
	}
	result.Body = parseBody(raw)
	if parsed, ok := result.Body.(map[string]interface{}); ok {
		interpret(parsed, &result)
	}
	return result, nil
}

func traceRequest(req *http.Request) RequestTrace {
	headers := map[string]string{
		"Host": req.Host,
	}
	for name := range req.Header {
		headers[name] = req.Header.Get(name)
	}
	return RequestTrace{
		Method:  req.Method,
		URL:     req.URL.String(),
		Headers: headers,
	}
}

// parseBody attempts structured parsing first, then plain text, then falls
// back to an opaque marker.
func parseBody(raw []byte) interface{} {
	var parsed map[string]interface{}
	if err := json.Unmarshal(raw, &parsed); err == nil {
		return parsed
	}
	if text := strings.TrimSpace(string(raw)); text != "" && utf8.ValidString(text) {
		return text
	}
	return UnparseableBody
}

func interpret(body map[string]interface{}, result *Result) {
	if code, ok := body["status_code"].(float64); ok {
		result.PlatformStatus = int(code)
	}
	if msg, ok := body["message"].(string); ok && msg != "" {
		result.Message = msg
	} else if msg, ok := body["status_msg"].(string); ok && msg != "" {
		result.Message = msg
	}
	if data, ok := body["data"].(map[string]interface{}); ok {
		if uri, ok := data["uri"].(string); ok {
			result.URI = uri
		}
	}
}

func statusText(resp *http.Response) string {
	if text := http.StatusText(resp.StatusCode); text != "" {
		return text
	}
	return resp.Status
}

// AssetURL composes the canonical CDN URL for a returned URI.
func AssetURL(uri string) string {
	return CDNPrefix + strings.TrimPrefix(uri, "/")
}

package api

import (
	"errors"
	"io"
	"net/http"

	"tikrelay/internal/relay"
)

// multipartOverheadBytes allows for field boundaries and headers on top of the
// file size ceiling before the body reader cuts the request off.
const multipartOverheadBytes = 1 << 20

// UploadTikTok handles POST /api/upload/tiktok: it parses the multipart body,
// rejects oversize or non-image payloads before any account is selected, and
// hands the file to the orchestrator. All failures on this route use the
// structured error shape.
func (h *Handler) UploadTikTok(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		writeOutcome(w, relay.NewFailure(http.StatusMethodNotAllowed, "method not allowed"))
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, relay.MaxUploadBytes+multipartOverheadBytes)
	if err := r.ParseMultipartForm(relay.MaxUploadBytes + multipartOverheadBytes); err != nil {
		writeOutcome(w, multipartFailure(err))
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	file, header, err := r.FormFile("file")
	if errors.Is(err, http.ErrMissingFile) {
		// The orchestrator owns the missing-file rejection so the message
		// stays in one place.
		writeOutcome(w, h.Relay.Upload(r.Context(), relay.Request{}))
		return
	}
	if err != nil {
		writeOutcome(w, relay.NewFailure(http.StatusBadRequest, "invalid multipart payload"))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeOutcome(w, multipartFailure(err))
		return
	}

	outcome := h.Relay.Upload(r.Context(), relay.Request{
		Data:        data,
		ContentType: header.Header.Get("Content-Type"),
		Filename:    header.Filename,
		Size:        header.Size,
	})
	writeOutcome(w, outcome)
}

func multipartFailure(err error) relay.Outcome {
	var maxBytes *http.MaxBytesError
	if errors.As(err, &maxBytes) {
		return relay.NewFailure(http.StatusBadRequest, relay.MsgFileTooLarge)
	}
	return relay.NewFailure(http.StatusBadRequest, "invalid multipart payload")
}

func writeOutcome(w http.ResponseWriter, outcome relay.Outcome) {
	writeJSON(w, outcome.Status, outcome.Body())
}

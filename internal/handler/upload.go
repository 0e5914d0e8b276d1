package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/sakif/student-crm/internal/apperror"
	"github.com/sakif/student-crm/internal/service"
)

const (
	// maxUploadBody leaves room for the multipart envelope and the "type"
	// field around a file of service.MaxUploadSize.
	maxUploadBody = service.MaxUploadSize + 1<<20
	// maxUploadMemory is how much of the form is buffered in memory; the
	// rest spills to temporary files.
	maxUploadMemory = 4 << 20
)

// UploadHandler stores application documents before the form is submitted.
type UploadHandler struct {
	svc    *service.UploadService
	logger *slog.Logger
}

func NewUploadHandler(svc *service.UploadService, logger *slog.Logger) *UploadHandler {
	return &UploadHandler{svc: svc, logger: logger}
}

// HandleUpload accepts one file.
//
// HTTP: POST /api/upload (multipart/form-data: file, type)
// RESPONSE: {"success": true, "fileUrl", "fileName", "fileSize", "mimeType", "s3Key", "storagePath"}
func (h *UploadHandler) HandleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBody)
	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeError(w, apperror.ValidationFailed("file", "File size exceeds 10MB limit"))
			return
		}
		writeError(w, apperror.ValidationFailed("file", "No file provided"))
		return
	}
	defer r.MultipartForm.RemoveAll()

	in := service.UploadInput{Type: r.FormValue("type")}
	file, header, err := r.FormFile("file")
	if err == nil {
		defer file.Close()
		in.File = file
		in.FileName = header.Filename
		in.Size = header.Size
		in.MimeType = header.Header.Get("Content-Type")
	}

	res, err := h.svc.Upload(r.Context(), in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Success bool `json:"success"`
		*service.UploadResult
	}{Success: true, UploadResult: res})
}

// HandleDelete removes a file uploaded earlier.
//
// HTTP: DELETE /api/upload?key=passport/xxx.pdf
func (h *UploadHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Delete(r.Context(), r.URL.Query().Get("key")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Success bool   `json:"success"`
		Message string `json:"message"`
	}{Success: true, Message: "File deleted successfully"})
}

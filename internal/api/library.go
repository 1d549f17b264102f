package api

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

const (
	maxImageUpload = 20 << 20
	// Voice samples are capped at 10MB by the analyzer; the slack covers
	// multipart framing.
	maxSampleUpload = 11 << 20
)

// ListVoices handles GET /v1/voices
func (h *Handler) ListVoices(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.pipeline.Voices())
}

// CloneVoice handles POST /v1/voices/clone
// Multipart form: sample (file), display_name, base_voice (both optional).
func (h *Handler) CloneVoice(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxSampleUpload)
	data, mimeType, filename, err := readUpload(r, "sample")
	if err != nil {
		h.respondUploadErr(w, err, "sample")
		return
	}

	voice, err := h.pipeline.CloneVoice(r.Context(), data, mimeType, filename,
		r.FormValue("display_name"), r.FormValue("base_voice"))
	if err != nil {
		h.respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, voice)
}

// ListImages handles GET /v1/images
func (h *Handler) ListImages(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.gallery.Images())
}

// UploadImage handles POST /v1/images
// Multipart form: file. The upload becomes the selected image.
func (h *Handler) UploadImage(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxImageUpload)
	data, mimeType, _, err := readUpload(r, "file")
	if err != nil {
		h.respondUploadErr(w, err, "file")
		return
	}

	asset, err := h.pipeline.UploadImage(r.Context(), data, mimeType)
	if err != nil {
		h.respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, asset)
}

// SelectImage handles POST /v1/images/{id}/select
func (h *Handler) SelectImage(w http.ResponseWriter, r *http.Request) {
	if err := h.pipeline.SelectImage(chi.URLParam(r, "id")); err != nil {
		h.respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, h.gallery.Images())
}

// DeleteImage handles DELETE /v1/images/{id}
func (h *Handler) DeleteImage(w http.ResponseWriter, r *http.Request) {
	if err := h.gallery.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.respondErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ClearImages handles DELETE /v1/images
func (h *Handler) ClearImages(w http.ResponseWriter, r *http.Request) {
	if err := h.gallery.RemoveAll(r.Context()); err != nil {
		h.respondErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListVideos handles GET /v1/videos
func (h *Handler) ListVideos(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.history.Items())
}

// SelectVideo handles POST /v1/videos/{id}/select
func (h *Handler) SelectVideo(w http.ResponseWriter, r *http.Request) {
	if err := h.history.Select(chi.URLParam(r, "id")); err != nil {
		h.respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, h.history.Items())
}

// DeleteVideo handles DELETE /v1/videos/{id}
func (h *Handler) DeleteVideo(w http.ResponseWriter, r *http.Request) {
	if err := h.history.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.respondErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ClearVideos handles DELETE /v1/videos
func (h *Handler) ClearVideos(w http.ResponseWriter, r *http.Request) {
	if err := h.history.Clear(r.Context()); err != nil {
		h.respondErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetBlob handles GET /v1/blobs/{id}
// Serves the bytes behind a live display handle, with range support so
// players can seek.
func (h *Handler) GetBlob(w http.ResponseWriter, r *http.Request) {
	data, mimeType, err := h.handles.Open(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusNotFound, "Blob not found")
		return
	}
	w.Header().Set("Content-Type", mimeType)
	w.Header().Set("Cache-Control", "private, max-age=3600")
	http.ServeContent(w, r, "", time.Time{}, bytes.NewReader(data))
}

// readUpload returns the bytes, MIME type and file name of one multipart file.
// The MIME type falls back to content sniffing when the part has none.
func readUpload(r *http.Request, field string) ([]byte, string, string, error) {
	file, header, err := r.FormFile(field)
	if err != nil {
		return nil, "", "", err
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, "", "", err
	}
	mimeType := header.Header.Get("Content-Type")
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = http.DetectContentType(data)
	}
	return data, mimeType, header.Filename, nil
}

func (h *Handler) respondUploadErr(w http.ResponseWriter, err error, field string) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		respondError(w, http.StatusRequestEntityTooLarge, "Upload is too large")
		return
	}
	respondError(w, http.StatusBadRequest, "A multipart file field named "+field+" is required")
}

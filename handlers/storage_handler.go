package handlers

import (
	"errors"
	"net/http"

	"github.com/Dosada05/tournament-chat/services"
	"github.com/go-chi/chi/v5"
)

type StorageHandler struct {
	attachmentService services.AttachmentService
	maxBytes          int64
}

func NewStorageHandler(as services.AttachmentService, maxBytes int64) *StorageHandler {
	return &StorageHandler{attachmentService: as, maxBytes: maxBytes}
}

// UploadHandler обрабатывает PUT /storage/buckets/{bucket}/objects/*
// Тело запроса: содержимое файла, Content-Type: его MIME-тип.
func (h *StorageHandler) UploadHandler(w http.ResponseWriter, r *http.Request) {
	identity, ok := currentIdentity(w, r)
	if !ok {
		return
	}
	if r.ContentLength > h.maxBytes {
		mapServiceErrorToHTTP(w, r, services.ErrFileTooLarge)
		return
	}
	// +1, чтобы сервис сам распознал превышение лимита.
	body := http.MaxBytesReader(w, r.Body, h.maxBytes+1)
	defer body.Close()

	obj, err := h.attachmentService.Upload(r.Context(), identity, services.UploadInput{
		Bucket:      chi.URLParam(r, "bucket"),
		Key:         chi.URLParam(r, "*"),
		ContentType: r.Header.Get("Content-Type"),
		Size:        r.ContentLength,
		Reader:      body,
	})
	if err != nil {
		var maxBytesError *http.MaxBytesError
		if errors.As(err, &maxBytesError) {
			mapServiceErrorToHTTP(w, r, services.ErrFileTooLarge)
			return
		}
		mapServiceErrorToHTTP(w, r, err)
		return
	}

	if err := writeJSON(w, http.StatusCreated, jsonResponse{"object": obj}, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

// PublicURLHandler обрабатывает GET /storage/buckets/{bucket}/public-url?key=
func (h *StorageHandler) PublicURLHandler(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("key")
	if key == "" {
		badRequestResponse(w, r, errors.New("key parameter is required"))
		return
	}
	u, err := h.attachmentService.PublicURL(chi.URLParam(r, "bucket"), key)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	if err := writeJSON(w, http.StatusOK, jsonResponse{"url": u}, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

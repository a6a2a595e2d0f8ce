// handlers_files.go - Uploaded document handlers
package api

import (
	"errors"
	"net/http"
	"net/url"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/doc-extract/backend/internal/storage"
)

const (
	defaultRecentFiles = 20
	maxRecentFiles     = 200
)

// FileHandlerImpl implements the FileHandler interface
type FileHandlerImpl struct {
	store storage.Store
}

// NewFileHandler creates a new file handler instance
func NewFileHandler(store storage.Store) FileHandler {
	return &FileHandlerImpl{store: store}
}

// HandleUploadFile accepts a multipart form document in field "file"
func (h *FileHandlerImpl) HandleUploadFile(c echo.Context) error {
	file, err := c.FormFile("file")
	if err != nil {
		return NewBadRequestError("no file provided", err)
	}

	src, err := file.Open()
	if err != nil {
		return NewInternalError("failed to open uploaded file", err)
	}
	defer src.Close()

	info, err := h.store.Save(file.Filename, src)
	if err != nil {
		return NewInternalError("failed to save file", err)
	}

	return c.JSON(http.StatusCreated, info)
}

// HandleGetRecentFiles returns the most recently uploaded documents
func (h *FileHandlerImpl) HandleGetRecentFiles(c echo.Context) error {
	limit := defaultRecentFiles
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return NewValidationError("limit")
		}
		limit = min(n, maxRecentFiles)
	}

	files, err := h.store.List(limit)
	if err != nil {
		return NewInternalError("failed to list files", err)
	}

	return c.JSON(http.StatusOK, files)
}

// HandleGetFile returns metadata for a specific document
func (h *FileHandlerImpl) HandleGetFile(c echo.Context) error {
	id, err := pathParam(c, "id")
	if err != nil {
		return err
	}

	info, err := h.store.Get(id)
	if err != nil {
		if errors.Is(err, storage.ErrFileNotFound) {
			return NewNotFoundError("file", id)
		}
		return NewInternalError("failed to read file", err)
	}

	return c.JSON(http.StatusOK, info)
}

// HandleDeleteFile deletes a document
func (h *FileHandlerImpl) HandleDeleteFile(c echo.Context) error {
	id, err := pathParam(c, "id")
	if err != nil {
		return err
	}

	if err := h.store.Delete(id); err != nil {
		if errors.Is(err, storage.ErrFileNotFound) {
			return NewNotFoundError("file", id)
		}
		return NewInternalError("failed to delete file", err)
	}

	return c.NoContent(http.StatusNoContent)
}

// pathParam returns the unescaped path parameter or a validation error when
// it is empty.
func pathParam(c echo.Context, name string) (string, error) {
	raw := c.Param(name)
	if raw == "" {
		return "", NewValidationError(name)
	}
	v, err := url.PathUnescape(raw)
	if err != nil {
		return "", NewBadRequestError("invalid "+name, err)
	}
	return v, nil
}

// handlers_reviews.go - Review session handlers
package api

import (
	"fmt"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/doc-extract/backend/internal/models"
	"github.com/doc-extract/backend/internal/review"
)

const msgpackContentType = "application/msgpack"

// ReviewHandlerImpl implements the ReviewHandler interface
type ReviewHandlerImpl struct {
	runs RunManager
	log  *zap.Logger
}

// NewReviewHandler creates a new review handler instance
func NewReviewHandler(runs RunManager, logger *zap.Logger) ReviewHandler {
	return &ReviewHandlerImpl{runs: runs, log: logger}
}

// HandleListReviews lists live and persisted review sessions
func (h *ReviewHandlerImpl) HandleListReviews(c echo.Context) error {
	list, err := h.runs.ListReviews(c.Request().Context())
	if err != nil {
		return mapError(err, "review session", "")
	}
	return c.JSON(http.StatusOK, list)
}

// HandleGetReview returns one review session
func (h *ReviewHandlerImpl) HandleGetReview(c echo.Context) error {
	id, err := pathParam(c, "sessionId")
	if err != nil {
		return err
	}

	sess, err := h.runs.Review(c.Request().Context(), id)
	if err != nil {
		return mapError(err, "review session", id)
	}
	return c.JSON(http.StatusOK, sess)
}

// HandleUpdateFields stores field edits of one file and returns the
// validated edits
func (h *ReviewHandlerImpl) HandleUpdateFields(c echo.Context) error {
	id, fileID, err := reviewParams(c)
	if err != nil {
		return err
	}

	var req updateFieldsRequest
	if err := c.Bind(&req); err != nil {
		return NewBadRequestError("invalid request body", err)
	}
	if len(req.Edits) == 0 {
		return NewValidationError("edits")
	}

	edits, err := h.runs.UpdateFields(c.Request().Context(), id, fileID, req.Edits)
	if err != nil {
		return mapError(err, "review session", id)
	}
	return c.JSON(http.StatusOK, updateFieldsResponse{FileID: fileID, Edits: edits})
}

// HandleApproveFile approves one file
func (h *ReviewHandlerImpl) HandleApproveFile(c echo.Context) error {
	id, fileID, err := reviewParams(c)
	if err != nil {
		return err
	}

	var req review.Approval
	if err := bindOptional(c, &req); err != nil {
		return err
	}

	status, err := h.runs.Approve(c.Request().Context(), id, fileID, req)
	if err != nil {
		return mapError(err, "review session", id)
	}
	if status.Approval != nil {
		h.log.Info("file approved", zap.String("session", id), zap.String("file", fileID), zap.String("by", status.Approval.ApprovedBy))
	}
	return c.JSON(http.StatusOK, status)
}

// HandleRejectFile rejects one file; a reason is required
func (h *ReviewHandlerImpl) HandleRejectFile(c echo.Context) error {
	id, fileID, err := reviewParams(c)
	if err != nil {
		return err
	}

	var req review.Rejection
	if err := c.Bind(&req); err != nil {
		return NewBadRequestError("invalid request body", err)
	}

	status, err := h.runs.Reject(c.Request().Context(), id, fileID, req)
	if err != nil {
		return mapError(err, "review session", id)
	}
	h.log.Info("file rejected", zap.String("session", id), zap.String("file", fileID))
	return c.JSON(http.StatusOK, status)
}

// HandleReopenFile moves a decided file back to review
func (h *ReviewHandlerImpl) HandleReopenFile(c echo.Context) error {
	id, fileID, err := reviewParams(c)
	if err != nil {
		return err
	}

	status, err := h.runs.Reopen(c.Request().Context(), id, fileID)
	if err != nil {
		return mapError(err, "review session", id)
	}
	return c.JSON(http.StatusOK, status)
}

// HandleExportReview downloads a review session as a msgpack snapshot
func (h *ReviewHandlerImpl) HandleExportReview(c echo.Context) error {
	id, err := pathParam(c, "sessionId")
	if err != nil {
		return err
	}

	data, err := h.runs.Export(c.Request().Context(), id)
	if err != nil {
		return mapError(err, "review session", id)
	}

	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf(`attachment; filename="review-%s.msgpack"`, id))
	return c.Blob(http.StatusOK, msgpackContentType, data)
}

// HandleImportReview registers a review session from a msgpack snapshot body
func (h *ReviewHandlerImpl) HandleImportReview(c echo.Context) error {
	data, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return NewBadRequestError("failed to read snapshot", err)
	}
	if len(data) == 0 {
		return NewValidationError("body")
	}

	sess, err := h.runs.Import(c.Request().Context(), data)
	if err != nil {
		return mapError(err, "review session", "")
	}
	return c.JSON(http.StatusCreated, sess.Summary())
}

// Request/Response types

type updateFieldsRequest struct {
	Edits []review.Edit `json:"edits"`
}

type updateFieldsResponse struct {
	FileID string             `json:"file_id"`
	Edits  []models.FieldEdit `json:"edits"`
}

func reviewParams(c echo.Context) (string, string, error) {
	id, err := pathParam(c, "sessionId")
	if err != nil {
		return "", "", err
	}
	fileID, err := pathParam(c, "fileId")
	if err != nil {
		return "", "", err
	}
	return id, fileID, nil
}

// bindOptional binds the request body when there is one.
func bindOptional(c echo.Context, v any) error {
	if c.Request().ContentLength == 0 {
		return nil
	}
	if err := c.Bind(v); err != nil {
		return NewBadRequestError("invalid request body", err)
	}
	return nil
}

// interfaces.go - Handler interface definitions for clean separation of concerns
package api

import (
	"context"

	"github.com/labstack/echo/v4"

	"github.com/doc-extract/backend/internal/models"
	"github.com/doc-extract/backend/internal/review"
	"github.com/doc-extract/backend/internal/session"
	"github.com/doc-extract/backend/internal/sorting"
)

// FileHandler handles uploaded document operations
type FileHandler interface {
	HandleUploadFile(c echo.Context) error
	HandleGetRecentFiles(c echo.Context) error
	HandleGetFile(c echo.Context) error
	HandleDeleteFile(c echo.Context) error
}

// RunHandler handles extraction run operations
type RunHandler interface {
	HandleStartRun(c echo.Context) error
	HandleRunStatus(c echo.Context) error
	HandleRunView(c echo.Context) error
	HandleRunSort(c echo.Context) error
	HandleRunSchema(c echo.Context) error
	HandleRunProgressStream(c echo.Context) error
	HandleRunKeepAlive(c echo.Context) error
	HandleCancelRun(c echo.Context) error
}

// ReviewHandler handles review session operations
type ReviewHandler interface {
	HandleListReviews(c echo.Context) error
	HandleGetReview(c echo.Context) error
	HandleUpdateFields(c echo.Context) error
	HandleApproveFile(c echo.Context) error
	HandleRejectFile(c echo.Context) error
	HandleReopenFile(c echo.Context) error
	HandleExportReview(c echo.Context) error
	HandleImportReview(c echo.Context) error
}

// HealthHandler handles health check operations
type HealthHandler interface {
	HandleHealth(c echo.Context) error
}

// RunManager is the part of session.Manager the handlers use.
// This allows mocking in tests
type RunManager interface {
	StartRun(fileIDs []string, modelKey, aiModel string) (models.RunInfo, error)
	Status(ctx context.Context, id string) (models.RunInfo, error)
	Cancel(id string) error
	Touch(id string) bool
	Subscribe(id string) (<-chan session.Message, func(), error)
	View(ctx context.Context, id, column string, dir sorting.Direction) (session.View, error)
	Click(ctx context.Context, id, column string) (session.View, error)
	Schema(ctx context.Context, id string) (models.SchemaComplexity, error)

	Review(ctx context.Context, id string) (*models.ReviewSession, error)
	ListReviews(ctx context.Context) ([]models.ReviewSummary, error)
	UpdateFields(ctx context.Context, id, fileID string, edits []review.Edit) ([]models.FieldEdit, error)
	Approve(ctx context.Context, id, fileID string, a review.Approval) (models.FileReviewStatus, error)
	Reject(ctx context.Context, id, fileID string, r review.Rejection) (models.FileReviewStatus, error)
	Reopen(ctx context.Context, id, fileID string) (models.FileReviewStatus, error)
	Export(ctx context.Context, id string) ([]byte, error)
	Import(ctx context.Context, data []byte) (*models.ReviewSession, error)
}

var _ RunManager = (*session.Manager)(nil)

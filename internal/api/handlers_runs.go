// handlers_runs.go - Extraction run handlers
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/doc-extract/backend/internal/sorting"
)

const (
	progressInterval = 100 * time.Millisecond
	progressTimeout  = 30 * time.Minute
)

// RunHandlerImpl implements the RunHandler interface
type RunHandlerImpl struct {
	runs     RunManager
	interval time.Duration
	timeout  time.Duration
}

// NewRunHandler creates a new run handler instance
func NewRunHandler(runs RunManager) RunHandler {
	return &RunHandlerImpl{
		runs:     runs,
		interval: progressInterval,
		timeout:  progressTimeout,
	}
}

// HandleStartRun starts extraction of one or more uploaded documents
func (h *RunHandlerImpl) HandleStartRun(c echo.Context) error {
	var req startRunRequest
	if err := c.Bind(&req); err != nil {
		return NewBadRequestError("invalid request body", err)
	}

	fileIDs := req.normalizeFileIDs()
	if len(fileIDs) == 0 {
		return NewValidationError("fileId or fileIds")
	}

	info, err := h.runs.StartRun(fileIDs, req.ModelKey, req.AIModel)
	if err != nil {
		return mapError(err, "file", "")
	}

	return c.JSON(http.StatusAccepted, info)
}

// HandleRunStatus returns the current state of a run
func (h *RunHandlerImpl) HandleRunStatus(c echo.Context) error {
	id, err := pathParam(c, "runId")
	if err != nil {
		return err
	}

	info, err := h.runs.Status(c.Request().Context(), id)
	if err != nil {
		return mapError(err, "run", id)
	}

	// Touch run to prevent cleanup while being viewed
	h.runs.Touch(id)

	return c.JSON(http.StatusOK, info)
}

// HandleRunView returns the run's rows, optionally sorted by ?sort=&direction=
func (h *RunHandlerImpl) HandleRunView(c echo.Context) error {
	id, err := pathParam(c, "runId")
	if err != nil {
		return err
	}

	view, err := h.runs.View(c.Request().Context(), id, c.QueryParam("sort"), sorting.ParseDirection(c.QueryParam("direction")))
	if err != nil {
		return mapError(err, "run", id)
	}
	h.runs.Touch(id)

	return c.JSON(http.StatusOK, view)
}

// HandleRunSort applies a header click on a column and returns the new view
func (h *RunHandlerImpl) HandleRunSort(c echo.Context) error {
	id, err := pathParam(c, "runId")
	if err != nil {
		return err
	}

	var req sortRequest
	if err := c.Bind(&req); err != nil {
		return NewBadRequestError("invalid request body", err)
	}
	if req.Column == "" {
		return NewValidationError("column")
	}

	view, err := h.runs.Click(c.Request().Context(), id, req.Column)
	if err != nil {
		return mapError(err, "run", id)
	}

	return c.JSON(http.StatusOK, view)
}

// HandleRunSchema returns the schema analysis of a run
func (h *RunHandlerImpl) HandleRunSchema(c echo.Context) error {
	id, err := pathParam(c, "runId")
	if err != nil {
		return err
	}

	sc, err := h.runs.Schema(c.Request().Context(), id)
	if err != nil {
		return mapError(err, "run", id)
	}

	return c.JSON(http.StatusOK, sc)
}

// HandleRunKeepAlive extends run lifetime for active viewing
func (h *RunHandlerImpl) HandleRunKeepAlive(c echo.Context) error {
	id, err := pathParam(c, "runId")
	if err != nil {
		return err
	}

	if ok := h.runs.Touch(id); !ok {
		return NewNotFoundError("run", id)
	}

	return c.NoContent(http.StatusNoContent)
}

// HandleCancelRun stops a streaming run; results received so far are kept
func (h *RunHandlerImpl) HandleCancelRun(c echo.Context) error {
	id, err := pathParam(c, "runId")
	if err != nil {
		return err
	}

	if err := h.runs.Cancel(id); err != nil {
		return mapError(err, "run", id)
	}

	return c.NoContent(http.StatusAccepted)
}

// HandleRunProgressStream streams run status via SSE until the run ends
func (h *RunHandlerImpl) HandleRunProgressStream(c echo.Context) error {
	id, err := pathParam(c, "runId")
	if err != nil {
		return err
	}
	ctx := c.Request().Context()

	c.Response().Header().Set("Content-Type", "text/event-stream")
	c.Response().Header().Set("Cache-Control", "no-cache")
	c.Response().Header().Set("Connection", "keep-alive")
	c.Response().Header().Set("X-Accel-Buffering", "no")
	c.Response().WriteHeader(http.StatusOK)

	info, err := h.runs.Status(ctx, id)
	if err != nil {
		sendSSEError(c, "run not found")
		return nil
	}
	sendSSEData(c, info)
	if info.Status.Terminal() {
		return nil
	}

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	timeout := time.NewTimer(h.timeout)
	defer timeout.Stop()

	for {
		select {
		case <-ticker.C:
			info, err := h.runs.Status(ctx, id)
			if err != nil {
				sendSSEError(c, "run not found")
				return nil
			}

			sendSSEData(c, info)

			if info.Status.Terminal() {
				return nil
			}

		case <-timeout.C:
			sendSSEError(c, "stream timeout")
			return nil

		case <-ctx.Done():
			return nil
		}
	}
}

// Request/Response types

type startRunRequest struct {
	FileID   string   `json:"fileId"`
	FileIDs  []string `json:"fileIds"`
	ModelKey string   `json:"modelKey"`
	AIModel  string   `json:"aiModel"`
}

func (r *startRunRequest) normalizeFileIDs() []string {
	if len(r.FileIDs) > 0 {
		return r.FileIDs
	}
	if r.FileID != "" {
		return []string{r.FileID}
	}
	return nil
}

type sortRequest struct {
	Column string `json:"column"`
}

func sendSSEData(c echo.Context, data any) {
	jsonData, _ := json.Marshal(data)
	fmt.Fprintf(c.Response(), "data: %s\n\n", jsonData)
	c.Response().Flush()
}

func sendSSEError(c echo.Context, message string) {
	sendSSEData(c, map[string]string{"error": message})
}

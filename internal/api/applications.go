package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"formation-review/internal/application"
	apperrors "formation-review/internal/common/errors"
	"formation-review/internal/common/logger"
	"formation-review/internal/common/validation"
	"formation-review/internal/models"

	"github.com/gin-gonic/gin"
)

var submitSchema = validation.MustCompile("application", `{
	"type": "object",
	"required": ["formation_id"],
	"properties": {
		"formation_id":    {"type": "string", "pattern": "^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$"},
		"message":         {"type": "string", "maxLength": 5000},
		"quiz_attempt_id": {"type": ["string", "null"], "pattern": "^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$"},
		"quiz_score":      {"type": ["integer", "null"], "minimum": 0, "maximum": 100}
	}
}`)

type submitRequest struct {
	FormationID   string  `json:"formation_id"`
	Message       string  `json:"message"`
	QuizAttemptID *string `json:"quiz_attempt_id"`
	QuizScore     *int    `json:"quiz_score"`
}

type reviewRequest struct {
	Notes string `json:"notes"`
}

const multipartOverhead = 1 << 20

type applicationHandler struct {
	apps     ApplicationService
	search   ApplicationSearcher
	analyzer Analyzer
	scoring  ProcessStarter
	cvs      *application.CVStore
	logger   logger.Logger
}

// Submit accepts a JSON body or a multipart form carrying the CV as "cv".
func (h *applicationHandler) Submit(c *gin.Context) {
	var (
		req    submitRequest
		cvPath string
		err    error
	)
	if c.ContentType() == "multipart/form-data" {
		req, cvPath, err = h.readMultipart(c)
	} else {
		req, err = readSubmitJSON(c)
	}
	if err != nil {
		respondError(c, err)
		return
	}

	app, err := h.apps.Submit(c.Request.Context(), identity(c), application.SubmitInput{
		FormationID:   req.FormationID,
		Message:       req.Message,
		QuizAttemptID: req.QuizAttemptID,
		QuizScore:     req.QuizScore,
		CVPath:        cvPath,
	})
	if err != nil {
		if cvPath != "" {
			if rmErr := h.cvs.Remove(cvPath); rmErr != nil {
				h.logger.Warn("orphan cv not removed", map[string]interface{}{"path": cvPath, "error": rmErr})
			}
		}
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, app)
}

func readSubmitJSON(c *gin.Context) (submitRequest, error) {
	var req submitRequest
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, multipartOverhead))
	if err != nil {
		return req, apperrors.NewValidationError("Unreadable request body", err.Error())
	}

	var doc interface{}
	if err := json.Unmarshal(body, &doc); err != nil {
		return req, apperrors.NewValidationError("Invalid JSON format", err.Error())
	}
	if err := submitSchema.Check(doc); err != nil {
		return req, err
	}
	if err := json.Unmarshal(body, &req); err != nil {
		return req, apperrors.NewValidationError("Invalid JSON format", err.Error())
	}
	return req, nil
}

func (h *applicationHandler) readMultipart(c *gin.Context) (submitRequest, string, error) {
	var req submitRequest
	if h.cvs == nil {
		return req, "", apperrors.NewValidationError("CV uploads are not enabled", "")
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.cvs.MaxBytes()+multipartOverhead)

	doc := map[string]interface{}{"formation_id": c.PostForm("formation_id")}
	req.FormationID = c.PostForm("formation_id")
	req.Message = c.PostForm("message")
	if req.Message != "" {
		doc["message"] = req.Message
	}
	if v := strings.TrimSpace(c.PostForm("quiz_attempt_id")); v != "" {
		req.QuizAttemptID = &v
		doc["quiz_attempt_id"] = v
	}
	if v := strings.TrimSpace(c.PostForm("quiz_score")); v != "" {
		score, err := strconv.Atoi(v)
		if err != nil {
			return req, "", apperrors.NewValidationError("quiz_score must be an integer", v)
		}
		req.QuizScore = &score
		doc["quiz_score"] = score
	}
	if err := submitSchema.Check(doc); err != nil {
		return req, "", err
	}

	header, err := c.FormFile("cv")
	if errors.Is(err, http.ErrMissingFile) {
		return req, "", nil
	}
	if err != nil {
		return req, "", apperrors.NewValidationError("Invalid multipart upload", err.Error())
	}
	file, err := header.Open()
	if err != nil {
		return req, "", apperrors.NewValidationError("Invalid multipart upload", err.Error())
	}
	defer file.Close()

	path, err := h.cvs.Save(header.Filename, file)
	switch {
	case errors.Is(err, application.ErrFileTooLarge):
		return req, "", apperrors.NewValidationError("CV file is too large", fmt.Sprintf("limit is %d bytes", h.cvs.MaxBytes()))
	case err != nil:
		return req, "", apperrors.NewValidationError("CV file rejected", err.Error())
	}
	return req, path, nil
}

func (h *applicationHandler) Get(c *gin.Context) {
	app, err := h.apps.Get(c.Request.Context(), identity(c), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, app)
}

func (h *applicationHandler) Approve(c *gin.Context) {
	notes, ok := readNotes(c)
	if !ok {
		return
	}
	app, err := h.apps.Approve(c.Request.Context(), identity(c), c.Param("id"), notes)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, app)
}

func (h *applicationHandler) Reject(c *gin.Context) {
	notes, ok := readNotes(c)
	if !ok {
		return
	}
	app, err := h.apps.Reject(c.Request.Context(), identity(c), c.Param("id"), notes)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, app)
}

// readNotes accepts an empty body or {"notes": "..."}.
func readNotes(c *gin.Context) (string, bool) {
	if c.Request.ContentLength == 0 {
		return "", true
	}
	var req reviewRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		respondError(c, apperrors.NewValidationError("Invalid JSON format", err.Error()))
		return "", false
	}
	return req.Notes, true
}

func (h *applicationHandler) Withdraw(c *gin.Context) {
	app, err := h.apps.Withdraw(c.Request.Context(), identity(c), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, app)
}

func (h *applicationHandler) ListMine(c *gin.Context) {
	limit, offset := page(c)
	list, err := h.apps.ListMine(c.Request.Context(), identity(c), limit, offset)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"applications": nonNilApps(list)})
}

func (h *applicationHandler) ListPending(c *gin.Context) {
	limit, offset := page(c)
	list, err := h.apps.ListPending(c.Request.Context(), identity(c), limit, offset)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"applications": nonNilApps(list)})
}

func (h *applicationHandler) Search(c *gin.Context) {
	limit, offset := page(c)
	status := models.ApplicationStatus(c.Query("status"))
	if status != "" && !status.Valid() {
		respondError(c, apperrors.NewValidationError("Unknown status filter", string(status)))
		return
	}
	if h.search == nil {
		respondError(c, apperrors.NewSearchQueryFailedError(errors.New("search index is disabled")))
		return
	}

	result, err := h.search.Search(c.Request.Context(), identity(c), application.SearchQuery{
		Text:   c.Query("q"),
		Status: status,
		From:   offset,
		Size:   limit,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// Analyze scores the CV inline, or starts the scoring process when a
// workflow engine is configured.
func (h *applicationHandler) Analyze(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")
	if _, err := h.apps.AuthorizeReview(ctx, identity(c), id); err != nil {
		respondError(c, err)
		return
	}

	if h.scoring != nil {
		key, err := h.scoring.Start(ctx, map[string]interface{}{"applicationId": id})
		if err != nil {
			respondError(c, apperrors.NewProviderError("camunda", err))
			return
		}
		c.JSON(http.StatusAccepted, gin.H{
			"application_id":       id,
			"process_instance_key": key,
		})
		return
	}

	if h.analyzer == nil {
		respondError(c, apperrors.NewPreconditionFailedError("CV scoring is not configured", ""))
		return
	}
	app, err := h.analyzer.Annotate(ctx, id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, app)
}

// Export streams the ranked candidates workbook of one formation.
func (h *applicationHandler) Export(c *gin.Context) {
	formation, apps, err := h.apps.ListForFormation(c.Request.Context(), identity(c), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	now := time.Now().UTC()
	data, err := application.ExportWorkbook(formation, apps, now)
	if err != nil {
		respondError(c, apperrors.NewInternalError(err))
		return
	}

	filename := fmt.Sprintf("applications-%s-%s.xlsx", formation.ID, now.Format("20060102"))
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
	c.Data(http.StatusOK, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", data)
}

// page reads limit and offset; normalization happens in the services.
func page(c *gin.Context) (int, int) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	offset, _ := strconv.Atoi(c.Query("offset"))
	return limit, offset
}

func nonNilApps(list []models.Application) []models.Application {
	if list == nil {
		return []models.Application{}
	}
	return list
}

package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"compliance-gate/internal/app"
	"compliance-gate/internal/core"
	"compliance-gate/internal/policies"
	"compliance-gate/internal/shared"
	"compliance-gate/internal/types"
)

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// artifactRequest addresses an artifact either as "repo/path" or as
// separate repo and path fields.
type artifactRequest struct {
	Artifact string `json:"artifact"`
	Repo     string `json:"repo"`
	Path     string `json:"path"`
}

func (r artifactRequest) ref() (types.ArtifactRef, error) {
	if strings.TrimSpace(r.Artifact) != "" {
		return types.ParseArtifactRef(r.Artifact)
	}
	if strings.TrimSpace(r.Repo) == "" {
		return types.ArtifactRef{}, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("artifact or repo is required")
	}
	return types.ParseArtifactRef(r.Repo + "/" + r.Path)
}

type decideResponse struct {
	Artifact string `json:"artifact"`
	types.Decision
	Message string `json:"message,omitempty"`
}

type inspectArtifactRequest struct {
	artifactRequest
	Force bool `json:"force"`
}

type inspectArtifactResponse struct {
	Artifact string `json:"artifact"`
	Status   string `json:"status"`
}

type summaryResponse struct {
	Succeeded int `json:"succeeded"`
	Pending   int `json:"pending"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
	Errors    int `json:"errors"`
}

type repositoryInspectionResponse struct {
	Repo       string          `json:"repo"`
	Delta      summaryResponse `json:"delta"`
	Populate   summaryResponse `json:"populate"`
	Reinspects int             `json:"reinspects"`
	Error      string          `json:"error,omitempty"`
}

type reconciliationResponse struct {
	Repo        string `json:"repo"`
	Status      string `json:"status,omitempty"`
	WindowStart string `json:"window_start,omitempty"`
	WindowEnd   string `json:"window_end,omitempty"`
	Updated     int    `json:"updated"`
	Skipped     bool   `json:"skipped"`
	Error       string `json:"error,omitempty"`
}

type clearResponse struct {
	Repositories []string `json:"repositories"`
	Items        int      `json:"items"`
}

type storageEventRequest struct {
	Kind   string          `json:"kind"`
	Target artifactRequest `json:"target"`
	Source artifactRequest `json:"source"`
}

type storageEventResponse struct {
	Inspected bool   `json:"inspected"`
	Status    string `json:"status,omitempty"`
}

func (s *Server) handleDecide(c *gin.Context) {
	var req artifactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_JSON", "invalid json")
		return
	}
	ref, err := req.ref()
	if err != nil {
		writeError(c, err)
		return
	}
	scanner := strings.EqualFold(strings.TrimSpace(c.GetHeader(policies.ScannerRequestHeader)), "true")
	decision, err := s.service.Decide(c.Request.Context(), app.DecideRequest{Ref: ref, ScannerRequest: scanner})
	if err != nil {
		writeError(c, err)
		return
	}
	resp := decideResponse{Artifact: ref.String(), Decision: decision}
	if decision.Cancel {
		resp.Message = fmt.Sprintf(policies.DownloadBlockedMessage, ref, decision.Reason)
		c.JSON(http.StatusForbidden, resp)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleInspectArtifact(c *gin.Context) {
	var req inspectArtifactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_JSON", "invalid json")
		return
	}
	ref, err := req.ref()
	if err != nil {
		writeError(c, err)
		return
	}
	result, err := s.service.InspectArtifact(c.Request.Context(), app.InspectArtifactRequest{Ref: ref, Force: req.Force})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, inspectArtifactResponse{Artifact: result.Ref.String(), Status: string(result.Status)})
}

func (s *Server) handleInspectRepository(c *gin.Context) {
	repo := c.Param("repo")
	result, err := s.service.InspectRepositories(c.Request.Context(), app.InspectRepositoriesRequest{
		RepoKeys:          []string{repo},
		ReinspectFailures: queryBool(c, "failures"),
	})
	if len(result.Repositories) == 0 {
		if err == nil {
			err = errbuilder.New().WithCode(errbuilder.CodeInvalidArgument).WithMsg("repository key is required")
		}
		writeError(c, err)
		return
	}
	entry := result.Repositories[0]
	resp := repositoryInspectionResponse{
		Repo:       entry.RepoKey,
		Delta:      toSummary(entry.Delta),
		Populate:   toSummary(entry.Populate),
		Reinspects: entry.Reinspects,
	}
	if entry.Err != nil {
		resp.Error = errorMessage(entry.Err)
		c.JSON(statusForError(entry.Err), resp)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleReconcileRepository(c *gin.Context) {
	start, err := queryTime(c, "start")
	if err != nil {
		writeError(c, err)
		return
	}
	end, err := queryTime(c, "end")
	if err != nil {
		writeError(c, err)
		return
	}
	result, err := s.service.ReconcileRepositories(c.Request.Context(), app.ReconcileRequest{
		RepoKeys: []string{c.Param("repo")},
		Start:    start,
		End:      end,
	})
	if len(result.Repositories) == 0 {
		if err == nil {
			err = errbuilder.New().WithCode(errbuilder.CodeInternal).WithMsg("reconciliation produced no result")
		}
		writeError(c, err)
		return
	}
	resp := toReconciliation(result.Repositories[0])
	if result.Repositories[0].Err != nil {
		c.JSON(statusForError(result.Repositories[0].Err), resp)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleClearProperties(c *gin.Context) {
	keep := shared.SplitList(c.Query("keep"))
	result, err := s.service.ClearProperties(c.Request.Context(), app.ClearRequest{
		RepoKeys:      []string{c.Param("repo")},
		Keep:          keep,
		OutOfDateOnly: queryBool(c, "out_of_date"),
	})
	if err != nil {
		writeError(c, err)
		return
	}
	repos := result.Repositories
	if repos == nil {
		repos = []string{}
	}
	c.JSON(http.StatusOK, clearResponse{Repositories: repos, Items: result.Items})
}

func (s *Server) handleStorageEvent(c *gin.Context) {
	var req storageEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_JSON", "invalid json")
		return
	}
	target, err := req.Target.ref()
	if err != nil {
		writeError(c, err)
		return
	}
	event := types.StorageEvent{Kind: types.StorageEventKind(strings.ToLower(strings.TrimSpace(req.Kind))), Ref: target}
	if req.Source.Artifact != "" || req.Source.Repo != "" {
		source, err := req.Source.ref()
		if err != nil {
			writeError(c, err)
			return
		}
		event.Source = source
	}
	result, err := s.service.HandleStorageEvent(c.Request.Context(), event)
	if err != nil {
		writeError(c, err)
		return
	}
	resp := storageEventResponse{Inspected: result.Inspected}
	if result.Inspected {
		resp.Status = string(result.Status)
	}
	c.JSON(http.StatusOK, resp)
}

func toSummary(summary core.InspectionSummary) summaryResponse {
	return summaryResponse{
		Succeeded: summary.Succeeded,
		Pending:   summary.Pending,
		Failed:    summary.Failed,
		Skipped:   summary.Skipped,
		Errors:    summary.Errors,
	}
}

func toReconciliation(result core.RepositoryReconciliation) reconciliationResponse {
	resp := reconciliationResponse{
		Repo:    result.RepoKey,
		Status:  string(result.Status),
		Updated: result.Updated,
		Skipped: result.Skipped,
	}
	if !result.WindowStart.IsZero() {
		resp.WindowStart = result.WindowStart.UTC().Format(time.RFC3339)
	}
	if !result.WindowEnd.IsZero() {
		resp.WindowEnd = result.WindowEnd.UTC().Format(time.RFC3339)
	}
	if result.Err != nil {
		resp.Error = errorMessage(result.Err)
	}
	return resp
}

func queryBool(c *gin.Context, name string) bool {
	value := strings.ToLower(strings.TrimSpace(c.Query(name)))
	return value == "true" || value == "1" || value == "yes"
}

func queryTime(c *gin.Context, name string) (time.Time, error) {
	value := strings.TrimSpace(c.Query(name))
	if value == "" {
		return time.Time{}, nil
	}
	parsed, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg(name + " must be an RFC 3339 timestamp").
			WithCause(err)
	}
	return parsed, nil
}

func statusForError(err error) int {
	switch errbuilder.CodeOf(err) {
	case errbuilder.CodeInvalidArgument:
		return http.StatusBadRequest
	case errbuilder.CodeNotFound:
		return http.StatusNotFound
	case errbuilder.CodeAlreadyExists:
		return http.StatusConflict
	case errbuilder.CodeFailedPrecondition:
		return http.StatusPreconditionFailed
	case errbuilder.CodePermissionDenied:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

func codeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "INVALID_ARGUMENT"
	case http.StatusNotFound:
		return "NOT_FOUND"
	case http.StatusConflict:
		return "ALREADY_EXISTS"
	case http.StatusPreconditionFailed:
		return "FAILED_PRECONDITION"
	case http.StatusForbidden:
		return "PERMISSION_DENIED"
	default:
		return "INTERNAL"
	}
}

func writeError(c *gin.Context, err error) {
	status := statusForError(err)
	if status == http.StatusInternalServerError {
		log.Ctx(c.Request.Context()).Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
	}
	writeErrorCode(c, status, codeForStatus(status), errorMessage(err))
}

func writeErrorCode(c *gin.Context, status int, code, message string) {
	c.JSON(status, errorResponse{
		Code:    code,
		Message: message,
	})
}

func errorMessage(err error) string {
	var builder *errbuilder.ErrBuilder
	if errors.As(err, &builder) && strings.TrimSpace(builder.Msg) != "" {
		return builder.Msg
	}
	return err.Error()
}

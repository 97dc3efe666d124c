package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	v1 "tasklink/contracts/realtime/v1"
)

// CommentsRoute is the ServeMux pattern for HandleComments.
const CommentsRoute = "GET /api/tasks/{taskId}/comments"

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error apiError `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorResponse{Error: apiError{Code: code, Message: msg}})
}

// HandleComments serves the latest comments of a task as a v1.CommentsPage.
// It requires a bearer token and, like join_task, task access.
func (g *WSGateway) HandleComments(w http.ResponseWriter, r *http.Request) {
	status := g.serveComments(w, r)
	g.metrics.restRequest(strconv.Itoa(status/100) + "xx")
}

func (g *WSGateway) serveComments(w http.ResponseWriter, r *http.Request) int {
	taskID := strings.TrimSpace(r.PathValue("taskId"))
	if taskID == "" {
		writeError(w, http.StatusBadRequest, "missing_task", "task id is required")
		return http.StatusBadRequest
	}

	who, err := g.identity.Resolve(bearerToken(r))
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", "a valid bearer token is required")
		return http.StatusUnauthorized
	}

	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "bad_limit", "limit must be a non-negative integer")
			return http.StatusBadRequest
		}
		limit = n
	}

	if err := g.authorize(r.Context(), who, taskID); err != nil {
		var fe *frameError
		if errors.As(err, &fe) && fe.Code == "forbidden" {
			writeError(w, http.StatusForbidden, fe.Code, fe.Message)
			return http.StatusForbidden
		}
		writeError(w, http.StatusServiceUnavailable, "unavailable", "authorization unavailable")
		return http.StatusServiceUnavailable
	}

	out, err := g.store.ListComments(r.Context(), ListCommentsInput{TaskID: taskID, Limit: limit})
	if err != nil {
		g.log.Error("http.comments.list.fail", "task_id", taskID, "err", err)
		writeError(w, http.StatusInternalServerError, "internal", "could not load comments")
		return http.StatusInternalServerError
	}

	page := v1.CommentsPage{Comments: out.Comments, HasMore: out.HasMore}
	if page.Comments == nil {
		page.Comments = []v1.Comment{}
	}
	writeJSON(w, http.StatusOK, page)
	return http.StatusOK
}

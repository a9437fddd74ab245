package queue

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/noah-isme/solpay-gateway/internal/common"
)

// Inspector is the subset of *asynq.Inspector used by the admin endpoints.
type Inspector interface {
	GetQueueInfo(queue string) (*asynq.QueueInfo, error)
	ListArchivedTasks(queue string, opts ...asynq.ListOption) ([]*asynq.TaskInfo, error)
	RunTask(queue, id string) error
	RunAllArchivedTasks(queue string) (int, error)
}

// AdminHandler exposes fulfillment queue management: archived (dead-letter)
// tasks can be listed and replayed, and queue stats feed the gauges.
type AdminHandler struct {
	Inspector Inspector
	Queue     string
	PageSize  int
	Logger    zerolog.Logger
}

// ListDLQ returns archived tasks with pagination.
func (h *AdminHandler) ListDLQ(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Inspector == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "queue inspector unavailable", nil)
		return
	}
	page, size := parsePagination(r, h.pageSize())
	tasks, err := h.Inspector.ListArchivedTasks(h.queue(), asynq.Page(page), asynq.PageSize(size))
	if err != nil && !errors.Is(err, asynq.ErrQueueNotFound) {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", err.Error(), nil)
		return
	}

	items := make([]dlqItem, 0, len(tasks))
	for _, t := range tasks {
		item := dlqItem{
			ID:       t.ID,
			Type:     t.Type,
			Retried:  t.Retried,
			MaxRetry: t.MaxRetry,
			Payload:  json.RawMessage(t.Payload),
		}
		if !json.Valid(t.Payload) {
			item.Payload = nil
		}
		if t.LastErr != "" {
			lastErr := t.LastErr
			item.LastError = &lastErr
		}
		if !t.LastFailedAt.IsZero() {
			failedAt := t.LastFailedAt
			item.LastFailedAt = &failedAt
		}
		items = append(items, item)
	}
	common.JSON(w, http.StatusOK, map[string]any{
		"queue": h.queue(),
		"page":  page,
		"data":  items,
	})
}

// ReplayDLQ moves archived tasks back to pending, either by ID or all at once.
func (h *AdminHandler) ReplayDLQ(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Inspector == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "queue inspector unavailable", nil)
		return
	}
	var req replayRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
		return
	}
	ids := uniqueStrings(req.IDs)
	if len(ids) == 0 && !req.All {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "ids or all required", nil)
		return
	}

	if req.All {
		n, err := h.Inspector.RunAllArchivedTasks(h.queue())
		if err != nil && !errors.Is(err, asynq.ErrQueueNotFound) {
			common.JSONError(w, http.StatusInternalServerError, "INTERNAL", err.Error(), nil)
			return
		}
		h.Logger.Info().Str("queue", h.queue()).Int("count", n).Msg("queue_dlq_replayed")
		h.refreshMetrics()
		common.JSON(w, http.StatusOK, map[string]any{"replayedCount": n})
		return
	}

	replayed := make([]string, 0, len(ids))
	failed := make(map[string]string)
	for _, id := range ids {
		if err := h.Inspector.RunTask(h.queue(), id); err != nil {
			failed[id] = err.Error()
			continue
		}
		replayed = append(replayed, id)
	}
	h.Logger.Info().Str("queue", h.queue()).Int("count", len(replayed)).Int("failed", len(failed)).Msg("queue_dlq_replayed")
	h.refreshMetrics()

	resp := map[string]any{"replayed": replayed}
	if len(failed) > 0 {
		resp["failed"] = failed
	}
	common.JSON(w, http.StatusOK, resp)
}

// Stats reports queue sizes and latency, refreshing the queue gauges.
func (h *AdminHandler) Stats(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Inspector == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "queue inspector unavailable", nil)
		return
	}
	info, err := h.Inspector.GetQueueInfo(h.queue())
	if errors.Is(err, asynq.ErrQueueNotFound) {
		common.JSON(w, http.StatusOK, map[string]any{"queue": h.queue(), "pending": 0, "active": 0, "retry": 0, "archived": 0})
		return
	}
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", err.Error(), nil)
		return
	}
	recordQueueInfo(info)
	common.JSON(w, http.StatusOK, map[string]any{
		"queue":      info.Queue,
		"pending":    info.Pending,
		"active":     info.Active,
		"scheduled":  info.Scheduled,
		"retry":      info.Retry,
		"archived":   info.Archived,
		"processed":  info.ProcessedTotal,
		"failed":     info.FailedTotal,
		"paused":     info.Paused,
		"latency_ms": info.Latency.Milliseconds(),
	})
}

func (h *AdminHandler) refreshMetrics() {
	info, err := h.Inspector.GetQueueInfo(h.queue())
	if err != nil {
		h.Logger.Debug().Err(err).Msg("queue_stats_unavailable")
		return
	}
	recordQueueInfo(info)
}

func (h *AdminHandler) queue() string {
	if h.Queue == "" {
		return DefaultQueue
	}
	return h.Queue
}

func (h *AdminHandler) pageSize() int {
	if h.PageSize <= 0 {
		return 50
	}
	return h.PageSize
}

// parsePagination reads a 1-based page and a page size capped at 200.
func parsePagination(r *http.Request, defaultSize int) (page, size int) {
	page, size = 1, defaultSize
	if v := strings.TrimSpace(r.URL.Query().Get("limit")); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 && parsed <= 200 {
			size = parsed
		}
	}
	if v := strings.TrimSpace(r.URL.Query().Get("page")); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			page = parsed
		}
	}
	return page, size
}

func uniqueStrings(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))
	for _, v := range values {
		trimmed := strings.TrimSpace(v)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		result = append(result, trimmed)
	}
	return result
}

type dlqItem struct {
	ID           string          `json:"id"`
	Type         string          `json:"type"`
	Retried      int             `json:"retried"`
	MaxRetry     int             `json:"maxRetry"`
	LastError    *string         `json:"lastError,omitempty"`
	LastFailedAt *time.Time      `json:"lastFailedAt,omitempty"`
	Payload      json.RawMessage `json:"payload,omitempty"`
}

type replayRequest struct {
	IDs []string `json:"ids"`
	All bool     `json:"all"`
}

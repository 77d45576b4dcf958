package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/lysyi3m/rss-sentry/app/database"
	"github.com/lysyi3m/rss-sentry/app/feed"
)

const maxLogLimit = 200

func NewHandler(deps Deps) *Handler {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	return &Handler{
		sources:    deps.Sources,
		keywords:   deps.Keywords,
		items:      deps.Items,
		tasks:      deps.Tasks,
		logs:       deps.Logs,
		operator:   deps.Operator,
		controller: deps.Controller,
		cache:      deps.Cache,
		generator:  feed.NewGenerator(),
		logger:     deps.Logger,
		version:    deps.Version,
		now:        time.Now,
	}
}

func (h *Handler) GetItemsFeed(c *gin.Context) {
	filter, ok := h.itemFilter(c)
	if !ok {
		c.Status(http.StatusBadRequest)
		return
	}

	items, err := h.items.ListItems(c.Request.Context(), filter)
	if err != nil {
		h.logger.Error("Database error", "operation", "list_items", "error", err)
		c.Status(http.StatusInternalServerError)
		return
	}

	scheme := "http"
	if c.Request.TLS != nil {
		scheme = "https"
	}
	base := scheme + "://" + c.Request.Host

	rss := h.generator.Run(feed.Channel{
		Title:    "RSS Sentry matched items",
		Link:     base + "/",
		SelfLink: base + c.Request.URL.RequestURI(),
		Version:  h.version,
	}, items)

	c.Header("Content-Type", "application/xml; charset=utf-8")
	c.Header("X-Feed-Items", strconv.Itoa(len(items)))
	c.String(http.StatusOK, rss)
}

func (h *Handler) GetHealth(c *gin.Context) {
	ctx := c.Request.Context()

	health := map[string]any{
		"status":    "healthy",
		"timestamp": h.now().Format(time.RFC3339),
		"version":   h.version,
	}

	if count, err := h.items.CountItems(ctx); err != nil {
		health["status"] = "unhealthy"
		health["database"] = err.Error()
	} else {
		health["items"] = count
	}

	if h.controller != nil {
		health["scheduler_running"] = h.controller.Status().Running
	}

	if h.cache != nil {
		health["cache"] = h.cache.Health(ctx)
	}

	code := http.StatusOK
	if health["status"] != "healthy" {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, health)
}

func (h *Handler) GetStats(c *gin.Context) {
	stats, err := h.stats(c.Request.Context())
	if err != nil {
		h.dbError(c, "stats", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"total_items":     stats.TotalItems,
		"items_today":     stats.ItemsToday,
		"active_sources":  stats.ActiveSources,
		"active_keywords": stats.ActiveKeywords,
		"active_tasks":    stats.ActiveTasks,
	})
}

func (h *Handler) ListItems(c *gin.Context) {
	filter, ok := h.itemFilter(c)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "source, keyword and limit must be positive integers"})
		return
	}

	items, err := h.items.ListItems(c.Request.Context(), filter)
	if err != nil {
		h.dbError(c, "list_items", err)
		return
	}

	resp := make([]itemResponse, 0, len(items))
	for _, item := range items {
		resp = append(resp, newItemResponse(item, false))
	}

	c.JSON(http.StatusOK, gin.H{"items": resp, "total": len(resp)})
}

func (h *Handler) GetItem(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	item, err := h.items.GetItem(c.Request.Context(), id)
	if err != nil {
		h.lookupError(c, "get_item", err)
		return
	}

	c.JSON(http.StatusOK, newItemResponse(*item, true))
}

func (h *Handler) ListSources(c *gin.Context) {
	sources, err := h.sources.ListSources(c.Request.Context())
	if err != nil {
		h.dbError(c, "list_sources", err)
		return
	}

	resp := make([]sourceResponse, 0, len(sources))
	for _, s := range sources {
		resp = append(resp, sourceResponse{
			ID:          s.ID,
			Name:        s.Name,
			EndpointURL: s.EndpointURL,
			Kind:        string(s.Kind),
			Active:      s.Active,
			CreatedAt:   s.CreatedAt,
		})
	}

	c.JSON(http.StatusOK, gin.H{"sources": resp, "total": len(resp)})
}

func (h *Handler) ListKeywords(c *gin.Context) {
	keywords, err := h.keywords.ListKeywords(c.Request.Context())
	if err != nil {
		h.dbError(c, "list_keywords", err)
		return
	}

	resp := make([]keywordResponse, 0, len(keywords))
	for _, k := range keywords {
		resp = append(resp, keywordResponse{ID: k.ID, Term: k.Term, Pattern: k.Pattern, Language: k.Language, Active: k.Active})
	}

	c.JSON(http.StatusOK, gin.H{"keywords": resp, "total": len(resp)})
}

func (h *Handler) ListTasks(c *gin.Context) {
	tasks, err := h.tasks.ListTasks(c.Request.Context())
	if err != nil {
		h.dbError(c, "list_tasks", err)
		return
	}

	resp := make([]taskResponse, 0, len(tasks))
	for _, t := range tasks {
		resp = append(resp, newTaskResponse(t))
	}

	c.JSON(http.StatusOK, gin.H{"tasks": resp, "total": len(resp)})
}

func (h *Handler) GetTask(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	task, err := h.tasks.GetTask(c.Request.Context(), id)
	if err != nil {
		h.lookupError(c, "get_task", err)
		return
	}

	c.JSON(http.StatusOK, newTaskResponse(*task))
}

func (h *Handler) ListTaskLogs(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	if _, err := h.tasks.GetTask(c.Request.Context(), id); err != nil {
		h.lookupError(c, "get_task", err)
		return
	}

	h.writeLogs(c, id)
}

func (h *Handler) ListLogs(c *gin.Context) {
	h.writeLogs(c, 0)
}

func (h *Handler) RunTask(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	result, err := h.operator.RunNow(c.Request.Context(), id)
	if err != nil {
		h.lookupError(c, "run_task", err)
		return
	}

	resp := runResponse{
		TaskID:       id,
		Status:       string(result.Status()),
		ItemsCreated: result.ItemsCreated,
		ItemsSkipped: result.ItemsSkipped,
		ItemsFailed:  result.ItemsFailed,
		Error:        result.Message(),
	}

	c.JSON(http.StatusOK, resp)
}

func (h *Handler) ToggleTask(c *gin.Context) {
	h.taskAction(c, "toggle_task", h.operator.Toggle)
}

func (h *Handler) ResetTask(c *gin.Context) {
	h.taskAction(c, "reset_task", h.operator.Reset)
}

func (h *Handler) RescheduleTask(c *gin.Context) {
	h.taskAction(c, "reschedule_task", h.operator.Reschedule)
}

func (h *Handler) StartAllTasks(c *gin.Context) {
	h.setAllActive(c, true)
}

func (h *Handler) StopAllTasks(c *gin.Context) {
	h.setAllActive(c, false)
}

func (h *Handler) CancelRunning(c *gin.Context) {
	result, err := h.operator.CancelRunning(c.Request.Context())
	if err != nil {
		h.dbError(c, "cancel_running", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":         true,
		"tasks_cancelled": result.Tasks,
		"logs_closed":     result.Logs,
	})
}

func (h *Handler) GetSchedulerStatus(c *gin.Context) {
	c.JSON(http.StatusOK, newSchedulerResponse(h.controller.Status()))
}

func (h *Handler) StartScheduler(c *gin.Context) {
	h.controller.Start()
	c.JSON(http.StatusOK, newSchedulerResponse(h.controller.Status()))
}

func (h *Handler) StopScheduler(c *gin.Context) {
	h.controller.Stop()
	c.JSON(http.StatusOK, newSchedulerResponse(h.controller.Status()))
}

func (h *Handler) taskAction(c *gin.Context, operation string, action func(ctx context.Context, id int64) (*database.CrawlTask, error)) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	task, err := action(c.Request.Context(), id)
	if err != nil {
		h.lookupError(c, operation, err)
		return
	}

	c.JSON(http.StatusOK, newTaskResponse(*task))
}

func (h *Handler) setAllActive(c *gin.Context, active bool) {
	changed, err := h.operator.SetAllActive(c.Request.Context(), active)
	if err != nil {
		h.dbError(c, "set_all_active", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "active": active, "changed": changed})
}

func (h *Handler) writeLogs(c *gin.Context, taskID int64) {
	limit, err := queryInt(c, "limit")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
		return
	}

	logs, err := h.logs.ListLogs(c.Request.Context(), taskID, min(int(limit), maxLogLimit))
	if err != nil {
		h.dbError(c, "list_logs", err)
		return
	}

	resp := make([]logResponse, 0, len(logs))
	for _, l := range logs {
		resp = append(resp, newLogResponse(l))
	}

	c.JSON(http.StatusOK, gin.H{"logs": resp, "total": len(resp)})
}

func (h *Handler) stats(ctx context.Context) (database.Stats, error) {
	var (
		stats database.Stats
		err   error
	)

	if stats.TotalItems, err = h.items.CountItems(ctx); err != nil {
		return stats, err
	}

	now := h.now().UTC()
	startOfDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	if stats.ItemsToday, err = h.items.CountItemsSince(ctx, startOfDay); err != nil {
		return stats, err
	}
	if stats.ActiveSources, err = h.sources.CountActiveSources(ctx); err != nil {
		return stats, err
	}
	if stats.ActiveKeywords, err = h.keywords.CountActiveKeywords(ctx); err != nil {
		return stats, err
	}
	if stats.ActiveTasks, err = h.tasks.CountActiveTasks(ctx); err != nil {
		return stats, err
	}

	return stats, nil
}

func (h *Handler) itemFilter(c *gin.Context) (database.ItemFilter, bool) {
	source, err := queryInt(c, "source")
	if err != nil {
		return database.ItemFilter{}, false
	}
	keyword, err := queryInt(c, "keyword")
	if err != nil {
		return database.ItemFilter{}, false
	}
	limit, err := queryInt(c, "limit")
	if err != nil {
		return database.ItemFilter{}, false
	}

	return database.ItemFilter{SourceID: source, KeywordID: keyword, Limit: int(limit)}, true
}

func (h *Handler) lookupError(c *gin.Context, operation string, err error) {
	if errors.Is(err, database.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
		return
	}
	h.dbError(c, operation, err)
}

func (h *Handler) dbError(c *gin.Context, operation string, err error) {
	h.logger.Error("Database error", "operation", operation, "error", err)
	_ = c.Error(err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
}

func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid id parameter"})
		return 0, false
	}
	return id, true
}

// queryInt reads an optional positive integer query parameter; absent means zero.
func queryInt(c *gin.Context, name string) (int64, error) {
	raw := c.Query(name)
	if raw == "" {
		return 0, nil
	}

	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, errors.New(name + " must be positive")
	}
	return n, nil
}

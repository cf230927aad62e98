package main

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"keeper/config"
	"keeper/external"
	"keeper/persistence"
	"keeper/rpc"
	"keeper/session"
)

type mutateRequest struct {
	Add map[string]int64 `json:"add"`
	Set map[string]int64 `json:"set"`
}

func setupRoutes(r *gin.Engine) {
	r.GET("/health", GetHealth)

	apiGroup := r.Group("/api", AuthRequired())
	apiGroup.GET("/stats", GetStats)
	apiGroup.POST("/session/:owner", BeginSession)
	apiGroup.DELETE("/session/:owner", EndSession)
	apiGroup.GET("/session/:owner/:entity", GetEntity)
	apiGroup.POST("/session/:owner/:entity", MutateEntity)
}

func AuthRequired() gin.HandlerFunc {
	return func(context *gin.Context) {
		if config.Config.ApiSecret != "" {
			authHeader := context.Request.Header.Get("X-Keeper-Secret")
			if authHeader != config.Config.ApiSecret {
				log.Errorf("Incorrect authorisation received (%s)", context.Request.URL.Path)
				statsCollector.IncApiRequests("auth", "unauthorised")
				context.String(http.StatusUnauthorized, "Unauthorised")
				context.Abort()
				return
			}
		}
		context.Next()
	}
}

func GetHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func GetStats(c *gin.Context) {
	stats := persistenceManager.GetStats()
	statsCollector.IncApiRequests("stats", "ok")
	c.JSON(http.StatusOK, gin.H{
		"queue_depth":      stats.QueueDepth,
		"available_tokens": stats.AvailableTokens,
		"capacity":         stats.Capacity,
		"active_sessions":  sessionManager.ActiveCount(),
	})
}

func BeginSession(c *gin.Context) {
	owner := c.Param("owner")

	err := sessionManager.Begin(c.Request.Context(), owner)
	switch {
	case err == nil:
		statsCollector.IncApiRequests("session_begin", "ok")
		c.JSON(http.StatusOK, gin.H{"status": "ok", "owner": owner, "entities": sessionManager.EntityTypes()})
	case errors.Is(err, session.ErrSessionExists):
		statsCollector.IncApiRequests("session_begin", "exists")
		c.JSON(http.StatusConflict, gin.H{"status": "error", "error": err.Error()})
	case errors.Is(err, persistence.ErrLoadFailed):
		log.Warnf("POST /api/session/%s load failed: %s", owner, err)
		external.ReportError("session_begin", err)
		statsCollector.IncApiRequests("session_begin", "load_failed")
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error", "error": err.Error()})
	default:
		statsCollector.IncApiRequests("session_begin", "error")
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "error": err.Error()})
	}
}

func EndSession(c *gin.Context) {
	owner := c.Param("owner")

	summary, err := sessionManager.End(c.Request.Context(), owner)
	if err != nil {
		statsCollector.IncApiRequests("session_end", "not_found")
		c.JSON(http.StatusNotFound, gin.H{"status": "error", "error": err.Error()})
		return
	}

	status := "ok"
	if flushErr := summary.Err(); flushErr != nil {
		status = "incomplete"
		external.ReportError("session_end", flushErr)
	}
	statsCollector.IncApiRequests("session_end", status)

	body := gin.H{"status": status, "owner": owner}
	for k, v := range rpc.SummaryMap(summary) {
		body[k] = v
	}
	c.JSON(http.StatusOK, body)
}

func GetEntity(c *gin.Context) {
	data, err := sessionManager.Get(c.Param("owner"), c.Param("entity"))
	if err != nil {
		entityError(c, "entity_get", err)
		return
	}
	statsCollector.IncApiRequests("entity_get", "ok")
	c.JSON(http.StatusOK, data)
}

func MutateEntity(c *gin.Context) {
	var request mutateRequest
	if err := c.BindJSON(&request); err != nil {
		log.Warnf("POST /api/session/%s/%s invalid body: %v", c.Param("owner"), c.Param("entity"), err)
		statsCollector.IncApiRequests("entity_mutate", "invalid")
		return
	}

	owner, entityType := c.Param("owner"), c.Param("entity")
	if err := sessionManager.Mutate(owner, entityType, session.AdjustCounters(request.Add, request.Set)); err != nil {
		entityError(c, "entity_mutate", err)
		return
	}

	data, err := sessionManager.Get(owner, entityType)
	if err != nil {
		entityError(c, "entity_mutate", err)
		return
	}
	statsCollector.IncApiRequests("entity_mutate", "ok")
	c.JSON(http.StatusOK, data)
}

func entityError(c *gin.Context, api string, err error) {
	switch {
	case errors.Is(err, session.ErrNoSession), errors.Is(err, session.ErrUnknownEntityType):
		statsCollector.IncApiRequests(api, "not_found")
		c.JSON(http.StatusNotFound, gin.H{"status": "error", "error": err.Error()})
	default:
		statsCollector.IncApiRequests(api, "error")
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "error": err.Error()})
	}
}

// Package server exposes the reference remote tables over a PostgREST style
// HTTP API.
package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/proclean/internal/inventory"
)

const (
	workstationContextKey = "proclean_workstation"
	maxBodyBytes          = 1 << 20
	preferMinimal         = "return=minimal"
)

var (
	errMissingTokenValidator = errors.New("token validator dependency required")
	errMissingInventory      = errors.New("inventory service dependency required")
	errInvalidAuthorization  = errors.New("authorization header missing or invalid")
)

var apiRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "proclean_api_requests_total",
	Help: "The total number of table requests served by method, table and status",
}, []string{"method", "table", "status"})

type TokenValidator interface {
	ValidateToken(token string) (string, error)
}

type InventoryService interface {
	Insert(ctx context.Context, table string, payload []byte) (any, error)
	Update(ctx context.Context, table string, filters []inventory.Filter, payload []byte) (int64, error)
	Delete(ctx context.Context, table string, filters []inventory.Filter) (int64, error)
	Select(ctx context.Context, table string, query inventory.SelectQuery) ([]map[string]any, error)
}

type Dependencies struct {
	Tokens    TokenValidator
	Inventory InventoryService
	Logger    *zap.Logger
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Tokens == nil {
		return nil, errMissingTokenValidator
	}
	if deps.Inventory == nil {
		return nil, errMissingInventory
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	handler := &httpHandler{
		tokens:    deps.Tokens,
		inventory: deps.Inventory,
		logger:    logger,
	}

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	tables := router.Group("/rest/v1")
	tables.Use(handler.authorizeRequest)
	tables.GET("/:table", handler.handleSelect)
	tables.POST("/:table", handler.handleInsert)
	tables.PATCH("/:table", handler.handleUpdate)
	tables.DELETE("/:table", handler.handleDelete)

	return router, nil
}

func corsMiddleware() gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{"Authorization", "Content-Type", "Apikey", "Prefer"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	})
}

type httpHandler struct {
	tokens    TokenValidator
	inventory InventoryService
	logger    *zap.Logger
}

func (h *httpHandler) handleSelect(c *gin.Context) {
	table := c.Param("table")
	query, err := parseSelectQuery(c.Request.URL.Query())
	if err != nil {
		h.respondError(c, table, http.StatusBadRequest, "invalid_query")
		return
	}
	rows, err := h.inventory.Select(c.Request.Context(), table, query)
	if err != nil {
		h.respondServiceError(c, table, err)
		return
	}
	h.observe(c, table, http.StatusOK)
	c.JSON(http.StatusOK, rows)
}

func (h *httpHandler) handleInsert(c *gin.Context) {
	table := c.Param("table")
	payload, err := readBody(c)
	if err != nil {
		h.respondError(c, table, http.StatusBadRequest, "invalid_request")
		return
	}
	row, err := h.inventory.Insert(c.Request.Context(), table, payload)
	if err != nil {
		h.respondServiceError(c, table, err)
		return
	}
	h.observe(c, table, http.StatusCreated)
	if wantsMinimal(c) {
		c.Status(http.StatusCreated)
		return
	}
	c.JSON(http.StatusCreated, []any{row})
}

func (h *httpHandler) handleUpdate(c *gin.Context) {
	table := c.Param("table")
	filters, err := parseFilters(c.Request.URL.Query())
	if err != nil {
		h.respondError(c, table, http.StatusBadRequest, "invalid_filter")
		return
	}
	payload, err := readBody(c)
	if err != nil {
		h.respondError(c, table, http.StatusBadRequest, "invalid_request")
		return
	}
	affected, err := h.inventory.Update(c.Request.Context(), table, filters, payload)
	if err != nil {
		h.respondServiceError(c, table, err)
		return
	}
	h.respondAffected(c, table, affected)
}

func (h *httpHandler) handleDelete(c *gin.Context) {
	table := c.Param("table")
	filters, err := parseFilters(c.Request.URL.Query())
	if err != nil {
		h.respondError(c, table, http.StatusBadRequest, "invalid_filter")
		return
	}
	affected, err := h.inventory.Delete(c.Request.Context(), table, filters)
	if err != nil {
		h.respondServiceError(c, table, err)
		return
	}
	h.respondAffected(c, table, affected)
}

func (h *httpHandler) respondAffected(c *gin.Context, table string, affected int64) {
	if wantsMinimal(c) {
		h.observe(c, table, http.StatusNoContent)
		c.Status(http.StatusNoContent)
		return
	}
	h.observe(c, table, http.StatusOK)
	c.JSON(http.StatusOK, gin.H{"count": affected})
}

func (h *httpHandler) respondServiceError(c *gin.Context, table string, err error) {
	switch {
	case errors.Is(err, inventory.ErrUnknownTable):
		h.respondError(c, table, http.StatusNotFound, "unknown_table")
	case errors.Is(err, inventory.ErrInvalidPayload), errors.Is(err, inventory.ErrMissingFilter):
		h.logger.Info("table request rejected", zap.String("table", table), zap.Error(err))
		h.respondError(c, table, http.StatusBadRequest, "invalid_request")
	case errors.Is(err, inventory.ErrConflict):
		h.respondError(c, table, http.StatusConflict, "conflict")
	default:
		h.logger.Error("table request failed", zap.String("table", table), zap.Error(err))
		h.respondError(c, table, http.StatusInternalServerError, "internal_error")
	}
}

func (h *httpHandler) respondError(c *gin.Context, table string, status int, code string) {
	h.observe(c, table, status)
	c.JSON(status, gin.H{"error": code})
}

func (h *httpHandler) observe(c *gin.Context, table string, status int) {
	apiRequests.WithLabelValues(c.Request.Method, table, strconv.Itoa(status)).Inc()
}

// authorizeRequest accepts the workstation token as a bearer token or in the
// apikey header.
func (h *httpHandler) authorizeRequest(c *gin.Context) {
	token := ""
	if header := c.GetHeader("Authorization"); header != "" {
		if !strings.HasPrefix(header, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
			return
		}
		token = strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	}
	if token == "" {
		token = strings.TrimSpace(c.GetHeader("apikey"))
	}
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	workstation, err := h.tokens.ValidateToken(token)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			h.logger.Info("token validation failed", zap.Error(err))
		} else {
			h.logger.Warn("token validation failed", zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(workstationContextKey, workstation)
	c.Next()
}

func readBody(c *gin.Context) ([]byte, error) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes))
	if err != nil {
		return nil, err
	}
	if len(payload) == 0 {
		return nil, errors.New("empty body")
	}
	return payload, nil
}

func wantsMinimal(c *gin.Context) bool {
	return strings.Contains(c.GetHeader("Prefer"), preferMinimal)
}

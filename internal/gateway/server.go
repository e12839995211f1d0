// Package gateway serves the contract dispatcher over HTTP with bearer-token callers.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/coins/internal/contract"
	"github.com/MarkoPoloResearchLab/coins/internal/identity"
	"github.com/MarkoPoloResearchLab/coins/internal/observability"
	"github.com/MarkoPoloResearchLab/coins/pkg/ledger"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const (
	errorCodeUnauthorized   = "unauthorized"
	errorCodeInvalidPayload = "invalid_payload"
	routeUnmatched          = "unmatched"
)

// Dispatcher runs named contract functions. *contract.Dispatcher implements it.
type Dispatcher interface {
	Invoke(ctx context.Context, function string, args []string) (any, error)
	Query(ctx context.Context, function string, args []string) (any, error)
}

// TokenVerifier turns a bearer token into a caller id. *identity.TokenVerifier implements it.
type TokenVerifier interface {
	Verify(rawToken string) (string, error)
}

// Dependencies are the collaborators the router needs.
type Dependencies struct {
	Dispatcher Dispatcher
	Verifier   TokenVerifier
	Metrics    *observability.Metrics
	Logger     *zap.Logger
}

// Run serves handler on cfg.ListenAddr until ctx is cancelled, then shuts down gracefully.
func Run(ctx context.Context, cfg Config, handler http.Handler, logger *zap.Logger) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: cfg.RequestTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("gateway listening", zap.String("addr", cfg.ListenAddr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
			logger.Warn("gateway shutdown error", zap.Error(shutdownErr))
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// NewRouter builds the gin engine with health, metrics and the /api routes.
func NewRouter(cfg Config, deps Dependencies) (*gin.Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Dispatcher == nil {
		return nil, fmt.Errorf("%w: dispatcher dependency is nil", ledger.ErrInvalidServiceConfig)
	}
	if deps.Verifier == nil {
		return nil, fmt.Errorf("%w: token verifier dependency is nil", ledger.ErrInvalidServiceConfig)
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	handler := &httpHandler{dispatcher: deps.Dispatcher, logger: deps.Logger, timeout: cfg.RequestTimeout}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(observeRequests(deps.Metrics, deps.Logger))
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "Origin", "Accept"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api")
	api.Use(requireCaller(deps.Verifier))
	api.POST("/invoke", handler.handleInvoke)
	api.POST("/query", handler.handleQuery)

	return router, nil
}

type httpHandler struct {
	dispatcher Dispatcher
	logger     *zap.Logger
	timeout    time.Duration
}

type callRequest struct {
	Fcn  string   `json:"fcn" binding:"required"`
	Args []string `json:"args"`
}

func (handler *httpHandler) handleInvoke(ctx *gin.Context) {
	handler.handleCall(ctx, handler.dispatcher.Invoke)
}

func (handler *httpHandler) handleQuery(ctx *gin.Context) {
	handler.handleCall(ctx, handler.dispatcher.Query)
}

func (handler *httpHandler) handleCall(ctx *gin.Context, call func(context.Context, string, []string) (any, error)) {
	var request callRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse(errorCodeInvalidPayload, "expected JSON body with fcn and args"))
		return
	}
	if request.Args == nil {
		request.Args = []string{}
	}

	requestCtx, cancel := context.WithTimeout(ctx.Request.Context(), handler.timeout)
	defer cancel()

	result, err := call(requestCtx, request.Fcn, request.Args)
	if err != nil {
		code := ledger.ErrorCode(err)
		if code == ledger.CodeInternal {
			handler.logger.Error("contract call failed", zap.String("function", request.Fcn), zap.Error(err))
		}
		ctx.JSON(statusForCode(code), errorResponse(code, err.Error()))
		return
	}
	payload, err := contract.Marshal(result)
	if err != nil {
		handler.logger.Error("encode result failed", zap.String("function", request.Fcn), zap.Error(err))
		ctx.JSON(http.StatusInternalServerError, errorResponse(ledger.CodeInternal, "result encoding failed"))
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"success":       true,
		"transactionID": uuid.NewString(),
		"payload":       json.RawMessage(payload),
	})
}

func requireCaller(verifier TokenVerifier) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		header := strings.TrimSpace(ctx.GetHeader("Authorization"))
		if header == "" {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse(errorCodeUnauthorized, "missing bearer token"))
			return
		}
		callerID, err := verifier.Verify(header)
		if err != nil {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse(errorCodeUnauthorized, err.Error()))
			return
		}
		ctx.Request = ctx.Request.WithContext(identity.WithCaller(ctx.Request.Context(), callerID))
		ctx.Next()
	}
}

func observeRequests(metrics *observability.Metrics, logger *zap.Logger) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		started := time.Now()
		ctx.Next()
		route := ctx.FullPath()
		if route == "" {
			route = routeUnmatched
		}
		elapsed := time.Since(started)
		metrics.ObserveRequest(ctx.Request.Method, route, ctx.Writer.Status(), elapsed)
		logger.Debug("http request",
			zap.String("method", ctx.Request.Method),
			zap.String("route", route),
			zap.Int("status", ctx.Writer.Status()),
			zap.Duration("elapsed", elapsed),
		)
	}
}

func statusForCode(code string) int {
	switch code {
	case ledger.CodeInvalidAmount, ledger.CodeMalformedRequest:
		return http.StatusBadRequest
	case ledger.CodeInsufficientFunds, ledger.CodeNotInitialized, ledger.CodeStateConflict:
		return http.StatusConflict
	case ledger.CodePermissionDenied:
		return http.StatusForbidden
	case ledger.CodeIdentity:
		return http.StatusUnauthorized
	}
	return http.StatusInternalServerError
}

func errorResponse(code string, message string) gin.H {
	return gin.H{
		"success": false,
		"code":    code,
		"message": message,
	}
}

package web

import (
	"context"
	"encoding/json"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/agentfi/ace/internal/logger"
	"github.com/agentfi/ace/internal/state"
	"github.com/agentfi/ace/internal/types"
	"github.com/agentfi/ace/internal/utils"
)

var webLogger = logger.GetForComponent("web_server")

// StatusProvider is the read surface the server exposes. Reads here never
// onboard or otherwise mutate accounts.
type StatusProvider interface {
	PeekStatus(ctx context.Context, id types.AgentID) (types.AgentStatus, error)
	PoolStatus(ctx context.Context) (types.PoolState, error)
}

// WebServer handles HTTP requests for clearing engine visibility
type WebServer struct {
	router   *mux.Router
	port     string
	provider StatusProvider
	server   *http.Server
}

// NewWebServer creates a new web server instance
func NewWebServer(port string, provider StatusProvider) *WebServer {
	if port == "" {
		port = "8080"
	}

	server := &WebServer{
		router:   mux.NewRouter(),
		port:     port,
		provider: provider,
	}

	server.setupRoutes()
	return server
}

// setupRoutes configures all HTTP routes
func (ws *WebServer) setupRoutes() {
	// Health endpoint (direct route)
	ws.router.HandleFunc("/health", ws.handleHealth).Methods("GET")

	// API endpoints
	api := ws.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/health", ws.handleHealth).Methods("GET")
	api.HandleFunc("/pool", ws.handleGetPool).Methods("GET")
	api.HandleFunc("/agents/{id}", ws.handleGetAgent).Methods("GET")
	api.HandleFunc("/agents/{id}/operations", ws.handleGetAgentOperations).Methods("GET")
	api.HandleFunc("/operations", ws.handleGetOperations).Methods("GET")
	api.HandleFunc("/operations/summary", ws.handleGetOperationSummaries).Methods("GET")
	api.HandleFunc("/clearing-parameters", ws.handleGetClearingParameters).Methods("GET")

	// Add CORS middleware
	ws.router.Use(ws.corsMiddleware)
	ws.router.Use(ws.loggingMiddleware)
}

// Start starts the web server
func (ws *WebServer) Start() error {
	webLogger.Info().Str("port", ws.port).Msg("Starting web server")

	ws.server = &http.Server{
		Addr:         ":" + ws.port,
		Handler:      ws.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return ws.server.ListenAndServe()
}

// Shutdown drains in-flight requests and stops the server.
func (ws *WebServer) Shutdown(ctx context.Context) error {
	if ws.server == nil {
		return nil
	}
	webLogger.Info().Msg("Shutting down web server")
	return ws.server.Shutdown(ctx)
}

// handleHealth returns comprehensive server health status
func (ws *WebServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	// Get runtime memory stats
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	hasErrors := false

	// Get database connection status
	dbHealthy := true
	if err := state.TestDBConnection(); err != nil {
		dbHealthy = false
		hasErrors = true
	}

	// Get pool reachability
	poolHealthy := true
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	pool, poolErr := ws.provider.PoolStatus(ctx)
	if poolErr != nil {
		poolHealthy = false
		hasErrors = true
	}

	// Determine overall status
	overallStatus := "OK"
	if hasErrors {
		overallStatus = "DEGRADED"
	}

	response := map[string]interface{}{
		"status":    overallStatus,
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		"system": map[string]interface{}{
			"version":            runtime.Version(),
			"goroutines_count":   runtime.NumGoroutine(),
			"total_alloc_bytes":  memStats.TotalAlloc,
			"heap_objects_count": memStats.HeapObjects,
			"alloc_bytes":        memStats.Alloc,
			"sys_bytes":          memStats.Sys,
			"gc_cycles":          memStats.NumGC,
		},
		"component": map[string]interface{}{
			"name":    "ace-agent-clearing-engine",
			"version": "1.0.0",
		},
		"ace_status": map[string]interface{}{
			"database_healthy": dbHealthy,
			"backend_healthy":  poolHealthy,
		},
	}
	if poolErr == nil {
		response["pool"] = poolResponse(pool)
	}

	// Set appropriate HTTP status code
	statusCode := http.StatusOK
	if hasErrors {
		statusCode = http.StatusServiceUnavailable
	}

	ws.writeJSONResponse(w, statusCode, response)
}

// handleGetPool returns vault-wide totals
func (ws *WebServer) handleGetPool(w http.ResponseWriter, r *http.Request) {
	pool, err := ws.provider.PoolStatus(r.Context())
	if err != nil {
		webLogger.Error().Err(err).Msg("Failed to get pool state")
		ws.writeErrorResponse(w, http.StatusInternalServerError, "Failed to retrieve pool state")
		return
	}

	ws.writeJSONResponse(w, http.StatusOK, poolResponse(pool))
}

// handleGetAgent returns the current position of one agent
func (ws *WebServer) handleGetAgent(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id := vars["id"]
	if id == "" {
		ws.writeErrorResponse(w, http.StatusBadRequest, "Agent identity is required")
		return
	}

	status, err := ws.provider.PeekStatus(r.Context(), types.AgentID(id))
	if err != nil {
		webLogger.Error().Err(err).Str("identity", id).Msg("Failed to get agent status")

		// Fall back to the last cached snapshot so the surface stays useful
		// while the backend is unreachable.
		if snapshot, snapErr := state.GetLatestAccountSnapshot(id); snapErr == nil && snapshot != nil {
			ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
				"identity":     snapshot.Identity,
				"principal":    snapshot.Principal,
				"debt":         snapshot.Debt,
				"credit_limit": snapshot.CreditLimit,
				"available":    snapshot.Available,
				"frozen":       snapshot.Frozen,
				"active":       snapshot.Active,
				"stale":        true,
				"as_of":        snapshot.CapturedAt,
			})
			return
		}

		ws.writeErrorResponse(w, http.StatusInternalServerError, "Failed to retrieve agent status")
		return
	}

	ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"identity":     status.Identity,
		"principal":    status.Principal.String(),
		"debt":         status.Debt.String(),
		"credit_limit": status.CreditLimit.String(),
		"available":    status.Available.String(),
		"frozen":       status.Frozen,
		"active":       status.Active,
		"stale":        false,
		"as_of":        status.AsOf,
	})
}

// handleGetAgentOperations returns an agent's journal entries
func (ws *WebServer) handleGetAgentOperations(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id := vars["id"]

	records, err := state.GetOperationsForIdentity(id, parseLimit(r, 50))
	if err != nil {
		webLogger.Error().Err(err).Str("identity", id).Msg("Failed to get agent operations")
		ws.writeErrorResponse(w, http.StatusInternalServerError, "Failed to retrieve operations")
		return
	}

	ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"identity":   id,
		"operations": records,
		"count":      len(records),
	})
}

// handleGetOperations returns recent journal entries
func (ws *WebServer) handleGetOperations(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r, 50)
	records, err := state.GetRecentOperations(limit)
	if err != nil {
		webLogger.Error().Err(err).Msg("Failed to get recent operations")
		ws.writeErrorResponse(w, http.StatusInternalServerError, "Failed to retrieve operations")
		return
	}

	ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"operations": records,
		"count":      len(records),
		"limit":      limit,
	})
}

// handleGetOperationSummaries returns journal aggregates per operation kind
func (ws *WebServer) handleGetOperationSummaries(w http.ResponseWriter, r *http.Request) {
	summaries, err := state.GetOperationSummaries()
	if err != nil {
		webLogger.Error().Err(err).Msg("Failed to get operation summaries")
		ws.writeErrorResponse(w, http.StatusInternalServerError, "Failed to retrieve operation summaries")
		return
	}

	ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"summaries": summaries,
		"timestamp": time.Now().UTC(),
	})
}

// handleGetClearingParameters returns current clearing parameters
func (ws *WebServer) handleGetClearingParameters(w http.ResponseWriter, r *http.Request) {
	params, err := state.LoadActiveClearingParameters("default")
	if err != nil {
		webLogger.Error().Err(err).Msg("Failed to get clearing parameters")
		ws.writeErrorResponse(w, http.StatusInternalServerError, "Failed to retrieve clearing parameters")
		return
	}

	response := map[string]interface{}{
		"parameters": map[string]interface{}{
			"base_limit":            params.BaseLimit.String(),
			"max_limit":             params.MaxLimit.String(),
			"growth_factor_bp":      params.GrowthFactorBP,
			"interest_rate_bp":      params.InterestRateBP,
			"accrual_interval":      params.AccrualInterval.String(),
			"rep_factor_min":        params.RepFactorMin,
			"rep_factor_max":        params.RepFactorMax,
			"rep_lookback_blocks":   params.RepLookbackBlocks,
			"onboard_poll_interval": params.OnboardPollInterval.String(),
			"onboard_timeout":       params.OnboardTimeout.String(),
		},
		"timestamp": time.Now().UTC(),
	}

	ws.writeJSONResponse(w, http.StatusOK, response)
}

func poolResponse(pool types.PoolState) map[string]interface{} {
	// Display conversions are reporting sugar; a conversion error just leaves
	// the float at zero.
	liquidityDisplay, _ := utils.USDCToDisplay(pool.TotalLiquidity)
	debtDisplay, _ := utils.USDCToDisplay(pool.TotalDebt)
	return map[string]interface{}{
		"total_shares":         pool.TotalShares.String(),
		"total_liquidity":      pool.TotalLiquidity.String(),
		"total_debt":           pool.TotalDebt.String(),
		"total_assets":         pool.TotalAssets().String(),
		"total_liquidity_usdc": liquidityDisplay,
		"total_debt_usdc":      debtDisplay,
	}
}

func parseLimit(r *http.Request, fallback int) int {
	limit := fallback
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if parsedLimit, err := strconv.Atoi(limitStr); err == nil && parsedLimit > 0 && parsedLimit <= 500 {
			limit = parsedLimit
		}
	}
	return limit
}

// writeJSONResponse writes a JSON response
func (ws *WebServer) writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		webLogger.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeErrorResponse writes an error response
func (ws *WebServer) writeErrorResponse(w http.ResponseWriter, statusCode int, message string) {
	response := map[string]interface{}{
		"error":     true,
		"message":   message,
		"timestamp": time.Now().UTC(),
	}

	ws.writeJSONResponse(w, statusCode, response)
}

// corsMiddleware adds CORS headers
func (ws *WebServer) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware logs HTTP requests
func (ws *WebServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Create a response writer wrapper to capture status code
		wrapper := &responseWriterWrapper{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapper, r)

		duration := time.Since(start)

		webLogger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("remote_addr", r.RemoteAddr).
			Int("status", wrapper.statusCode).
			Dur("duration", duration).
			Msg("HTTP request")
	})
}

// responseWriterWrapper wraps http.ResponseWriter to capture status code
type responseWriterWrapper struct {
	http.ResponseWriter
	statusCode int
}

func (w *responseWriterWrapper) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

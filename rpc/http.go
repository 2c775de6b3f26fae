package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"stakeledger/native/bank"
	"stakeledger/native/staking"
	"stakeledger/observability"
	"stakeledger/observability/metrics"
	"stakeledger/storage/eventlog"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeUnauthorized   = -32001
	codeServerError    = -32000
	codeNotOwner       = -32003
	codeTransferFailed = -32004
	codeRateLimited    = -32020
)

// EventQuery serves historical ledger events.
type EventQuery interface {
	List(ctx context.Context, filter eventlog.Filter) ([]eventlog.Record, error)
}

// ServerConfig carries the policy knobs of the RPC server.
type ServerConfig struct {
	Auth      AuthConfig
	RateLimit RateLimit
	// DevMint exposes bank_mint. Never enable outside development.
	DevMint bool
}

type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      interface{}       `json:"id"`
}

type RPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
	status  int
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

func newError(status, code int, message string, data interface{}) *RPCError {
	return &RPCError{Code: code, Message: message, Data: data, status: status}
}

func invalidParams(message string, data interface{}) *RPCError {
	return newError(http.StatusBadRequest, codeInvalidParams, message, data)
}

// call is the per-request context handed to method handlers.
type call struct {
	ctx     context.Context
	req     *RPCRequest
	subject string
}

type handlerFunc func(c *call) (interface{}, *RPCError)

type method struct {
	module   string
	mutating bool
	handler  handlerFunc
}

// Server exposes the staking ledger and its token ledger over JSON-RPC 2.0.
// Ledger calls are serialised because the engine is single-writer.
type Server struct {
	engine  *staking.Engine
	bank    *bank.Ledger
	events  EventQuery
	auth    *Authenticator
	limiter *RateLimiter
	logger  *slog.Logger
	methods map[string]method

	mu sync.Mutex
}

// NewServer wires the handlers. events may be nil when the event index is
// disabled.
func NewServer(engine *staking.Engine, ledger *bank.Ledger, events EventQuery, cfg ServerConfig, logger *slog.Logger) (*Server, error) {
	if engine == nil || ledger == nil {
		return nil, errors.New("rpc: engine and bank ledger are required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	auth, err := NewAuthenticator(cfg.Auth)
	if err != nil {
		return nil, err
	}
	s := &Server{
		engine:  engine,
		bank:    ledger,
		events:  events,
		auth:    auth,
		limiter: NewRateLimiter(cfg.RateLimit),
		logger:  logger,
	}
	s.methods = map[string]method{
		"staking_stake":               {module: "staking", mutating: true, handler: s.handleStake},
		"staking_unstake":             {module: "staking", mutating: true, handler: s.handleUnstake},
		"staking_claimReward":         {module: "staking", mutating: true, handler: s.handleClaimReward},
		"staking_replaceRewardConfig": {module: "staking", mutating: true, handler: s.handleReplaceRewardConfig},
		"staking_updateRatePerPeriod": {module: "staking", mutating: true, handler: s.handleUpdateRatePerPeriod},
		"staking_setFee":              {module: "staking", mutating: true, handler: s.handleSetFee},
		"staking_setTreasury":         {module: "staking", mutating: true, handler: s.handleSetTreasury},
		"staking_transferOwnership":   {module: "staking", mutating: true, handler: s.handleTransferOwnership},
		"staking_totalStaked":         {module: "staking", handler: s.handleTotalStaked},
		"staking_getPosition":         {module: "staking", handler: s.handleGetPosition},
		"staking_previewClaim":        {module: "staking", handler: s.handlePreviewClaim},
		"staking_rewardTokens":        {module: "staking", handler: s.handleRewardTokens},
		"staking_getConfig":           {module: "staking", handler: s.handleGetConfig},
		"staking_listEvents":          {module: "staking", handler: s.handleListEvents},
		"bank_balanceOf":              {module: "bank", handler: s.handleBalanceOf},
	}
	if cfg.DevMint {
		s.methods["bank_mint"] = method{module: "bank", mutating: true, handler: s.handleMint}
	}
	return s, nil
}

func writeError(w http.ResponseWriter, status int, id interface{}, code int, message string, data interface{}) {
	if status <= 0 {
		status = http.StatusBadRequest
	}
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	errObj := &RPCError{Code: code, Message: message}
	if data != nil {
		errObj.Data = data
	}
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Error: errObj}
	_ = json.NewEncoder(w).Encode(resp)
}

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result}
	_ = json.NewEncoder(w).Encode(resp)
}

// ServeHTTP is the main request handler that routes to specific handlers.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, nil, codeInvalidRequest, "POST required", nil)
		return
	}
	if !s.limiter.Allow(r) {
		observability.ModuleMetrics().RecordThrottle("rpc", "rate_limit")
		writeError(w, http.StatusTooManyRequests, nil, codeRateLimited, "rate limit exceeded", nil)
		return
	}

	reader := http.MaxBytesReader(w, r.Body, maxRequestBytes)
	defer func() {
		_ = reader.Close()
	}()
	body, err := io.ReadAll(reader)
	if err != nil {
		status := http.StatusBadRequest
		message := "failed to read request body"
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			status = http.StatusRequestEntityTooLarge
			message = fmt.Sprintf("request body exceeds %d bytes", maxRequestBytes)
		}
		writeError(w, status, nil, codeInvalidRequest, message, err.Error())
		return
	}
	if len(bytes.TrimSpace(body)) == 0 {
		writeError(w, http.StatusBadRequest, nil, codeInvalidRequest, "request body required", nil)
		return
	}

	req := &RPCRequest{}
	if err := json.Unmarshal(body, req); err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "invalid JSON payload", err.Error())
		return
	}
	if req.JSONRPC != "" && req.JSONRPC != jsonRPCVersion {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "unsupported jsonrpc version", req.JSONRPC)
		return
	}
	if req.Method == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "method required", nil)
		return
	}
	m, ok := s.methods[req.Method]
	if !ok {
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, "method not found", req.Method)
		return
	}

	c := &call{ctx: r.Context(), req: req}
	if m.mutating && s.auth.Enabled() {
		subject, authErr := s.auth.Authenticate(r)
		if authErr != nil {
			observability.ModuleMetrics().RecordThrottle(m.module, "unauthorized")
			writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
			return
		}
		c.subject = subject
	}

	start := time.Now()
	result, rpcErr := s.dispatch(m, c)
	code := 0
	if rpcErr != nil {
		code = rpcErr.Code
	}
	observability.ModuleMetrics().Observe(m.module, req.Method, code, time.Since(start))
	if rpcErr != nil {
		if rpcErr.status >= http.StatusInternalServerError {
			s.logger.Error("rpc call failed",
				slog.String("method", req.Method),
				slog.Int("code", rpcErr.Code),
				slog.Any("error", rpcErr.Data))
		}
		writeError(w, rpcErr.status, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	writeResult(w, req.ID, result)
}

func (s *Server) dispatch(m method, c *call) (interface{}, *RPCError) {
	s.mu.Lock()
	defer s.mu.Unlock()
	result, rpcErr := m.handler(c)
	if m.mutating && m.module == "staking" {
		if rpcErr == nil {
			s.recordLedger()
		} else if rpcErr.Code == codeTransferFailed {
			metrics.Staking().RecordRollback(c.req.Method)
		}
	}
	return result, rpcErr
}

// recordLedger refreshes the ledger gauges. Callers must hold s.mu.
func (s *Server) recordLedger() {
	total, err := s.engine.TotalStaked()
	if err != nil {
		return
	}
	fee, err := s.engine.FeeBps()
	if err != nil {
		return
	}
	tokens, err := s.engine.RewardTokens()
	if err != nil {
		return
	}
	samples := make([]metrics.RateSample, 0, len(tokens))
	for _, t := range tokens {
		samples = append(samples, metrics.RateSample{Token: t.Token.Hex(), Rate: t.RatePerPeriod})
	}
	metrics.Staking().RecordLedger(total, fee, samples)
}

// ledgerError maps engine and bank errors onto JSON-RPC errors.
func ledgerError(err error) *RPCError {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, staking.ErrNotOwner):
		return newError(http.StatusForbidden, codeNotOwner, "caller is not the owner", nil)
	case errors.Is(err, staking.ErrTransferFailed):
		return newError(http.StatusConflict, codeTransferFailed, "token transfer failed", err.Error())
	case errors.Is(err, staking.ErrReentrantCall):
		return newError(http.StatusConflict, codeServerError, "reentrant call rejected", nil)
	case errors.Is(err, staking.ErrNotInitialized):
		return newError(http.StatusServiceUnavailable, codeServerError, "ledger not initialised", nil)
	case staking.IsDomainError(err),
		errors.Is(err, bank.ErrInvalidAmount),
		errors.Is(err, bank.ErrInvalidAddress),
		errors.Is(err, bank.ErrInsufficientFunds):
		return invalidParams(err.Error(), nil)
	default:
		return newError(http.StatusInternalServerError, codeServerError, "internal error", err.Error())
	}
}

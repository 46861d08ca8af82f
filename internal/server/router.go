package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/scarvalhojr/dlunch/internal/decisions"
	"github.com/scarvalhojr/dlunch/internal/eaters"
	"github.com/scarvalhojr/dlunch/internal/eateries"
	"github.com/scarvalhojr/dlunch/internal/events"
)

const callerContextKey = "dlunch_caller"

var (
	errMissingTokenManager    = errors.New("token manager dependency required")
	errMissingEaterRegistry   = errors.New("eater registry dependency required")
	errMissingEateryCatalog   = errors.New("eatery catalog dependency required")
	errMissingDecisionEngine  = errors.New("decision engine dependency required")
	errInvalidAuthorization   = errors.New("authorization header missing or invalid")
	errMissingBootstrapSecret = errors.New("bootstrap secret required")
)

// TokenManager mints and validates the bearer tokens carrying eater identity.
type TokenManager interface {
	IssueToken(ctx context.Context, subject string) (string, int64, error)
	ValidateToken(token string) (string, error)
}

// Dependencies wires the HTTP layer to the engine and its registries.
type Dependencies struct {
	TokenManager TokenManager
	Eaters       *eaters.Service
	Eateries     *eateries.Service
	Decisions    *decisions.Service
	Dispatcher   *events.Dispatcher
	// BootstrapSecret authorizes token issuance. The host environment, not
	// this service, owns identity: whoever holds the secret is the host.
	BootstrapSecret string
	Clock           func() time.Time
	Logger          *zap.Logger
}

// NewHTTPHandler builds the gin handler exposing the decision engine.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.TokenManager == nil {
		return nil, errMissingTokenManager
	}
	if deps.Eaters == nil {
		return nil, errMissingEaterRegistry
	}
	if deps.Eateries == nil {
		return nil, errMissingEateryCatalog
	}
	if deps.Decisions == nil {
		return nil, errMissingDecisionEngine
	}
	if strings.TrimSpace(deps.BootstrapSecret) == "" {
		return nil, errMissingBootstrapSecret
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		tokens:          deps.TokenManager,
		eaters:          deps.Eaters,
		eateries:        deps.Eateries,
		decisions:       deps.Decisions,
		dispatcher:      deps.Dispatcher,
		bootstrapSecret: deps.BootstrapSecret,
		clock:           clock,
		logger:          logger,
	}

	router.POST("/auth/token", handler.handleIssueToken)
	router.GET("/healthz", handler.handleHealth)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.POST("/eaters/:address/register", handler.handleRegisterEater)
	protected.POST("/eaters/:address/suspend", handler.handleSuspendEater)
	protected.POST("/eaters/:address/unsuspend", handler.handleUnsuspendEater)
	protected.GET("/eaters/:address", handler.handleGetEater)
	protected.POST("/eateries", handler.handleAddEatery)
	protected.GET("/eateries", handler.handleListEateries)
	protected.GET("/eateries/:id", handler.handleGetEatery)
	protected.POST("/proposals", handler.handlePropose)
	protected.GET("/proposals/:time", handler.handleGetProposal)
	protected.POST("/proposals/:time/join", handler.handleJoin)
	protected.POST("/proposals/:time/vote", handler.handleFreeVote)
	protected.POST("/proposals/:time/decide", handler.handleDecide)
	protected.GET("/balances/:address", handler.handleGetBalance)
	protected.GET("/events", handler.handleEventStream)

	return router, nil
}

type httpHandler struct {
	tokens          TokenManager
	eaters          *eaters.Service
	eateries        *eateries.Service
	decisions       *decisions.Service
	dispatcher      *events.Dispatcher
	bootstrapSecret string
	clock           func() time.Time
	logger          *zap.Logger
}

type issueTokenPayload struct {
	Subject string `json:"subject"`
	Secret  string `json:"secret"`
}

type tokenResponsePayload struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

func (h *httpHandler) handleIssueToken(c *gin.Context) {
	var request issueTokenPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.Subject) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	if request.Secret != h.bootstrapSecret {
		h.logger.Warn("token bootstrap rejected", zap.String("subject", request.Subject))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	token, expiresIn, err := h.tokens.IssueToken(c.Request.Context(), request.Subject)
	if err != nil {
		h.logger.Error("failed to issue token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token_issue_failed"})
		return
	}

	c.JSON(http.StatusOK, tokenResponsePayload{
		AccessToken: token,
		ExpiresIn:   expiresIn,
		TokenType:   "Bearer",
	})
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "group": h.decisions.GroupName()})
}

type eaterStatePayload struct {
	Address string `json:"address"`
	State   string `json:"state"`
}

func (h *httpHandler) handleRegisterEater(c *gin.Context) {
	h.handleEaterTransition(c, h.eaters.Register)
}

func (h *httpHandler) handleSuspendEater(c *gin.Context) {
	h.handleEaterTransition(c, h.eaters.Suspend)
}

func (h *httpHandler) handleUnsuspendEater(c *gin.Context) {
	h.handleEaterTransition(c, h.eaters.Unsuspend)
}

func (h *httpHandler) handleEaterTransition(c *gin.Context, transition func(context.Context, string, string) (eaters.State, error)) {
	caller := c.GetString(callerContextKey)
	address := c.Param("address")
	state, err := transition(c.Request.Context(), caller, address)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, eaterStatePayload{Address: strings.TrimSpace(address), State: string(state)})
}

func (h *httpHandler) handleGetEater(c *gin.Context) {
	address := c.Param("address")
	state, err := h.eaters.State(c.Request.Context(), address)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, eaterStatePayload{Address: strings.TrimSpace(address), State: string(state)})
}

type addEateryPayload struct {
	Name     string `json:"name"`
	Distance int64  `json:"distance"`
}

type eateryPayload struct {
	ID       uint64 `json:"id"`
	Name     string `json:"name"`
	Distance int64  `json:"distance"`
}

func (h *httpHandler) handleAddEatery(c *gin.Context) {
	caller := c.GetString(callerContextKey)
	var request addEateryPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	id, err := h.eateries.Add(c.Request.Context(), caller, request.Name, request.Distance)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": id})
}

func (h *httpHandler) handleListEateries(c *gin.Context) {
	records, err := h.eateries.List(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	payload := make([]eateryPayload, 0, len(records))
	for _, record := range records {
		payload = append(payload, eateryPayload{ID: record.ID, Name: record.Name, Distance: record.Distance})
	}
	c.JSON(http.StatusOK, gin.H{"eateries": payload, "count": len(payload)})
}

func (h *httpHandler) handleGetEatery(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_eatery_id"})
		return
	}
	details, err := h.eateries.Details(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, eateryPayload{ID: details.ID, Name: details.Name, Distance: details.Distance})
}

type proposePayload struct {
	DecisionTimeSeconds int64 `json:"decision_time_s"`
	ClosingTimeSeconds  int64 `json:"closing_time_s"`
}

func (h *httpHandler) handlePropose(c *gin.Context) {
	caller := c.GetString(callerContextKey)
	var request proposePayload
	if err := c.ShouldBindJSON(&request); err != nil || request.DecisionTimeSeconds == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	if err := h.decisions.Propose(c.Request.Context(), caller, request.DecisionTimeSeconds, request.ClosingTimeSeconds); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"decision_time_s": request.DecisionTimeSeconds,
		"closing_time_s":  request.ClosingTimeSeconds,
	})
}

type votePayload struct {
	EateryID *uint64 `json:"eatery_id"`
}

func (h *httpHandler) handleJoin(c *gin.Context) {
	h.handleVote(c, h.decisions.Join)
}

func (h *httpHandler) handleFreeVote(c *gin.Context) {
	h.handleVote(c, h.decisions.FreeVote)
}

func (h *httpHandler) handleVote(c *gin.Context, cast func(context.Context, string, int64, uint64) error) {
	caller := c.GetString(callerContextKey)
	decisionTime, ok := h.decisionTimeParam(c)
	if !ok {
		return
	}
	var request votePayload
	if err := c.ShouldBindJSON(&request); err != nil || request.EateryID == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	if err := cast(c.Request.Context(), caller, decisionTime, *request.EateryID); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"decision_time_s": decisionTime,
		"eatery_id":       *request.EateryID,
	})
}

type proposalPayload struct {
	DecisionTimeSeconds int64   `json:"decision_time_s"`
	ClosingTimeSeconds  int64   `json:"closing_time_s"`
	Decided             bool    `json:"decided"`
	NumEaters           int     `json:"num_eaters"`
	LeaderEateryID      *uint64 `json:"leader_eatery_id,omitempty"`
	LeaderDistance      *int64  `json:"leader_distance,omitempty"`
	Winner              string  `json:"winner,omitempty"`
}

func (h *httpHandler) handleGetProposal(c *gin.Context) {
	decisionTime, ok := h.decisionTimeParam(c)
	if !ok {
		return
	}
	projection, err := h.decisions.GetProposal(c.Request.Context(), decisionTime)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newProposalPayload(projection))
}

func (h *httpHandler) handleDecide(c *gin.Context) {
	decisionTime, ok := h.decisionTimeParam(c)
	if !ok {
		return
	}
	if err := h.decisions.Decide(c.Request.Context(), decisionTime); err != nil {
		h.respondError(c, err)
		return
	}
	projection, err := h.decisions.GetProposal(c.Request.Context(), decisionTime)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newProposalPayload(projection))
}

func newProposalPayload(projection decisions.Projection) proposalPayload {
	payload := proposalPayload{
		DecisionTimeSeconds: projection.DecisionTimeSeconds,
		ClosingTimeSeconds:  projection.ClosingTimeSeconds,
		Decided:             projection.Decided,
		NumEaters:           projection.NumEaters,
		Winner:              projection.WinnerAddress,
	}
	if projection.Leader != nil {
		payload.LeaderEateryID = &projection.Leader.EateryID
		payload.LeaderDistance = &projection.Leader.Distance
	}
	return payload
}

func (h *httpHandler) handleGetBalance(c *gin.Context) {
	address := strings.TrimSpace(c.Param("address"))
	balance, err := h.decisions.Balance(c.Request.Context(), address)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"address": address, "balance": balance})
}

func (h *httpHandler) decisionTimeParam(c *gin.Context) (int64, bool) {
	decisionTime, err := strconv.ParseInt(c.Param("time"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_decision_time"})
		return 0, false
	}
	return decisionTime, true
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	subject, err := h.tokens.ValidateToken(token)
	if err != nil {
		// Expired tokens are routine; anything else deserves attention.
		if errors.Is(err, jwt.ErrTokenExpired) {
			h.logger.Info("token validation failed", zap.Error(err))
		} else {
			h.logger.Warn("token validation failed", zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(callerContextKey, subject)
	c.Next()
}

// respondError maps domain sentinels to stable HTTP codes. Anything not in
// the taxonomy is an infrastructure failure and surfaces as a 500.
func (h *httpHandler) respondError(c *gin.Context, err error) {
	type mapping struct {
		sentinel error
		status   int
		code     string
	}
	mappings := []mapping{
		{eaters.ErrNotOwner, http.StatusForbidden, "not_owner"},
		{eateries.ErrNotOwner, http.StatusForbidden, "not_owner"},
		{eaters.ErrInvalidAddress, http.StatusBadRequest, "invalid_address"},
		{eateries.ErrInvalidName, http.StatusBadRequest, "invalid_name"},
		{eateries.ErrInvalidDistance, http.StatusBadRequest, "invalid_distance"},
		{eateries.ErrNotFound, http.StatusNotFound, "eatery_not_found"},
		{decisions.ErrNotRegistered, http.StatusForbidden, "not_registered"},
		{decisions.ErrTooSoon, http.StatusUnprocessableEntity, "too_soon"},
		{decisions.ErrRateLimited, http.StatusTooManyRequests, "rate_limited"},
		{decisions.ErrProposalExists, http.StatusConflict, "proposal_exists"},
		{decisions.ErrProposalNotFound, http.StatusNotFound, "proposal_not_found"},
		{decisions.ErrAlreadyDecided, http.StatusConflict, "already_decided"},
		{decisions.ErrUnknownEatery, http.StatusUnprocessableEntity, "unknown_eatery"},
		{decisions.ErrAlreadyJoined, http.StatusConflict, "already_joined"},
		{decisions.ErrNotJoined, http.StatusConflict, "not_joined"},
		{decisions.ErrSameEatery, http.StatusConflict, "same_eatery"},
		{decisions.ErrNotClosedYet, http.StatusUnprocessableEntity, "not_closed_yet"},
		{decisions.ErrNotEnoughEaters, http.StatusUnprocessableEntity, "not_enough_eaters"},
	}
	for _, m := range mappings {
		if errors.Is(err, m.sentinel) {
			c.JSON(m.status, gin.H{"error": m.code})
			return
		}
	}
	h.logger.Error("request failed", zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
}

package tempaccess

import (
	"errors"
	"strings"
	"time"

	"github.com/gofiber/adaptor/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

var (
	grantOpsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tempaccess_grant_operations_total",
			Help: "Administrative grant operations by operation and outcome",
		},
		[]string{"operation", "outcome"},
	)

	authFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tempaccess_authority_failures_total",
			Help: "Rejected root-authority checks",
		},
	)

	sweepExpiredTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tempaccess_sweep_expired_total",
			Help: "Grants for which the sweep emitted an expiry event",
		},
	)
)

// APIConfig configures the admin surface.
type APIConfig struct {
	Grants   *Lifecycle
	Sessions *SessionRecorder
	Store    Store
	Gate     *Gate
	Log      *zap.SugaredLogger

	// OpenReads exposes ListGrants/GetGrantDetail without a root
	// authority token. Deployment policy, default closed.
	OpenReads bool

	Clock func() time.Time
}

// API is the HTTP admin surface composing the gate, lifecycle manager,
// store and session recorder.
type API struct {
	grants    *Lifecycle
	sessions  *SessionRecorder
	store     Store
	gate      *Gate
	log       *zap.SugaredLogger
	openReads bool
	now       func() time.Time
}

// NewAPI builds the admin surface.
func NewAPI(cfg APIConfig) *API {
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Log == nil {
		cfg.Log = zap.NewNop().Sugar()
	}
	return &API{
		grants:    cfg.Grants,
		sessions:  cfg.Sessions,
		store:     cfg.Store,
		gate:      cfg.Gate,
		log:       cfg.Log,
		openReads: cfg.OpenReads,
		now:       cfg.Clock,
	}
}

// Register mounts all routes on a Fiber app.
func (a *API) Register(app *fiber.App) {
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	app.Post("/authority/token", a.handleAuthorize)
	app.Post("/grants/login", a.handleLogin)
	app.Post("/sessions/:id/close", a.handleCloseSession)

	reads := a.requireAuthority
	if a.openReads {
		reads = func(c *fiber.Ctx) error { return c.Next() }
	}
	app.Get("/grants", reads, a.handleList)
	app.Get("/grants/:id", reads, a.handleDetail)
	app.Get("/audit", reads, a.handleAudit)

	app.Post("/grants", a.requireAuthority, a.handleCreate)
	app.Post("/grants/:id/sessions", a.requireAuthority, a.handleOpenSession)
	app.Post("/grants/:id/revoke", a.requireAuthority, a.handleRevoke)
	app.Post("/grants/:id/reactivate", a.requireAuthority, a.handleReactivate)
	app.Post("/grants/:id/extend", a.requireAuthority, a.handleExtend)
	app.Delete("/grants/:id", a.requireAuthority, a.handleDelete)
}

// requireAuthority demands a valid bearer authority token and stashes the
// operator it belongs to.
func (a *API) requireAuthority(c *fiber.Ctx) error {
	header := c.Get(fiber.HeaderAuthorization)
	token := strings.TrimPrefix(header, "Bearer ")
	if token == "" || token == header {
		authFailuresTotal.Inc()
		return a.errorResponse(c, ErrUnauthorized)
	}

	operator, err := a.gate.Verify(token)
	if err != nil {
		authFailuresTotal.Inc()
		return a.errorResponse(c, err)
	}

	c.Locals("operator", operator)
	return c.Next()
}

func (a *API) operator(c *fiber.Ctx) string {
	if op, ok := c.Locals("operator").(string); ok {
		return op
	}
	return ""
}

// grantView is the wire shape of a grant: the stored record plus the
// derived status and expiry horizon, so clients never do their own clock
// arithmetic.
type grantView struct {
	*AccessGrant
	Status         GrantStatus `json:"status"`
	ExpiresInHours float64     `json:"expiresInHours"`
}

func (a *API) view(g *AccessGrant) grantView {
	now := a.now()
	return grantView{
		AccessGrant:    g,
		Status:         g.Status(now),
		ExpiresInHours: g.ExpiresAt.Sub(now).Hours(),
	}
}

func (a *API) handleAuthorize(c *fiber.Ctx) error {
	var body struct {
		Operator string `json:"operator"`
		Secret   string `json:"secret"`
	}
	if err := c.BodyParser(&body); err != nil {
		return a.errorResponse(c, ErrInvalidInput)
	}

	token, err := a.gate.Authorize(body.Operator, body.Secret)
	if err != nil {
		authFailuresTotal.Inc()
		return a.errorResponse(c, err)
	}
	return c.JSON(token)
}

func (a *API) handleCreate(c *fiber.Ctx) error {
	var spec GrantSpec
	if err := c.BodyParser(&spec); err != nil {
		return a.errorResponse(c, ErrInvalidInput)
	}

	grant, credential, err := a.grants.Create(c.Context(), a.operator(c), spec)
	if err != nil {
		grantOpsTotal.WithLabelValues("create", "error").Inc()
		return a.errorResponse(c, err)
	}

	grantOpsTotal.WithLabelValues("create", "ok").Inc()
	// The plaintext credential appears here and nowhere else.
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"grant":      a.view(grant),
		"credential": credential,
	})
}

func (a *API) handleRevoke(c *fiber.Ctx) error {
	grant, err := a.grants.Revoke(c.Context(), a.operator(c), c.Params("id"))
	if err != nil {
		grantOpsTotal.WithLabelValues("revoke", "error").Inc()
		return a.errorResponse(c, err)
	}

	grantOpsTotal.WithLabelValues("revoke", "ok").Inc()
	return c.JSON(fiber.Map{"grant": a.view(grant)})
}

func (a *API) handleReactivate(c *fiber.Ctx) error {
	grant, err := a.grants.Reactivate(c.Context(), a.operator(c), c.Params("id"))
	if err != nil {
		grantOpsTotal.WithLabelValues("reactivate", "error").Inc()
		return a.errorResponse(c, err)
	}

	grantOpsTotal.WithLabelValues("reactivate", "ok").Inc()
	return c.JSON(fiber.Map{"grant": a.view(grant)})
}

func (a *API) handleExtend(c *fiber.Ctx) error {
	var body struct {
		Days int `json:"days"`
	}
	if err := c.BodyParser(&body); err != nil {
		return a.errorResponse(c, ErrInvalidInput)
	}

	grant, err := a.grants.Extend(c.Context(), a.operator(c), c.Params("id"), body.Days)
	if err != nil {
		grantOpsTotal.WithLabelValues("extend", "error").Inc()
		return a.errorResponse(c, err)
	}

	grantOpsTotal.WithLabelValues("extend", "ok").Inc()
	return c.JSON(fiber.Map{"grant": a.view(grant)})
}

func (a *API) handleDelete(c *fiber.Ctx) error {
	if err := a.grants.Delete(c.Context(), a.operator(c), c.Params("id")); err != nil {
		grantOpsTotal.WithLabelValues("delete", "error").Inc()
		return a.errorResponse(c, err)
	}

	grantOpsTotal.WithLabelValues("delete", "ok").Inc()
	return c.SendStatus(fiber.StatusNoContent)
}

func (a *API) handleList(c *fiber.Ctx) error {
	filter := GrantFilter{
		Search: c.Query("q"),
	}
	if role := c.Query("role"); role != "" {
		filter.Role = Role(role)
		if !filter.Role.Valid() {
			return a.errorResponse(c, ErrInvalidInput)
		}
	}
	if status := c.Query("status"); status != "" {
		filter.Status = GrantStatus(strings.ToUpper(status))
		switch filter.Status {
		case StatusActive, StatusExpired, StatusRevoked:
		default:
			return a.errorResponse(c, ErrInvalidInput)
		}
	}

	grants, err := a.store.List(c.Context(), filter)
	if err != nil {
		return a.errorResponse(c, err)
	}

	views := make([]grantView, 0, len(grants))
	for i := range grants {
		views = append(views, a.view(&grants[i]))
	}
	return c.JSON(views)
}

func (a *API) handleDetail(c *fiber.Ctx) error {
	grant, err := a.store.Get(c.Context(), c.Params("id"))
	if err != nil {
		return a.errorResponse(c, err)
	}

	history, err := a.sessions.History(c.Context(), grant.ID)
	if err != nil {
		return a.errorResponse(c, err)
	}

	return c.JSON(fiber.Map{
		"grant":          a.view(grant),
		"sessionHistory": history,
		"permissions":    grant.Permissions,
	})
}

func (a *API) handleAudit(c *fiber.Ctx) error {
	entries, err := a.store.ListAudit(c.Context(), c.Query("actor"), c.Query("grant"))
	if err != nil {
		return a.errorResponse(c, err)
	}
	return c.JSON(entries)
}

// handleLogin is the grantee-side login: it verifies the credential,
// counts failures toward lockout, and opens a session on success.
func (a *API) handleLogin(c *fiber.Ctx) error {
	var body struct {
		Username   string `json:"username"`
		Credential string `json:"credential"`
		ClientID   string `json:"clientId"`
	}
	if err := c.BodyParser(&body); err != nil {
		return a.errorResponse(c, ErrInvalidInput)
	}

	grant, err := a.grants.Authenticate(c.Context(), body.Username, body.Credential)
	if err != nil {
		return a.errorResponse(c, err)
	}

	clientID := body.ClientID
	if clientID == "" {
		clientID = c.Get(fiber.HeaderUserAgent)
	}
	session, err := a.sessions.Open(c.Context(), grant.ID, c.IP(), clientID)
	if err != nil {
		return a.errorResponse(c, err)
	}

	return c.JSON(fiber.Map{
		"grant":   a.view(grant),
		"session": session,
	})
}

// handleOpenSession records a session that was established outside the
// login endpoint, e.g. by a portal that authenticated the grantee itself.
func (a *API) handleOpenSession(c *fiber.Ctx) error {
	var body struct {
		SourceAddr string `json:"sourceAddr"`
		ClientID   string `json:"clientId"`
	}
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&body); err != nil {
			return a.errorResponse(c, ErrInvalidInput)
		}
	}
	if body.SourceAddr == "" {
		body.SourceAddr = c.IP()
	}

	session, err := a.sessions.Open(c.Context(), c.Params("id"), body.SourceAddr, body.ClientID)
	if err != nil {
		return a.errorResponse(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(session)
}

func (a *API) handleCloseSession(c *fiber.Ctx) error {
	record, err := a.sessions.Close(c.Context(), c.Params("id"))
	if err != nil {
		return a.errorResponse(c, err)
	}
	return c.JSON(record)
}

// errorResponse maps the error taxonomy onto HTTP statuses. Domain guard
// rejections are 409s; only 5xx responses are safe for callers to retry.
func (a *API) errorResponse(c *fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError
	switch {
	case errors.Is(err, ErrInvalidInput):
		status = fiber.StatusBadRequest
	case errors.Is(err, ErrUnauthorized):
		status = fiber.StatusUnauthorized
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrSessionNotFound):
		status = fiber.StatusNotFound
	case errors.Is(err, ErrUsernameTaken),
		errors.Is(err, ErrVersionConflict),
		errors.Is(err, ErrGrantExpired),
		errors.Is(err, ErrLockedOut),
		errors.Is(err, ErrGrantNotUsable),
		errors.Is(err, ErrSessionClosed):
		status = fiber.StatusConflict
	}

	if status == fiber.StatusInternalServerError {
		a.log.Errorw("request failed", "path", c.Path(), "error", err)
		return c.Status(status).JSON(fiber.Map{"error": "internal error"})
	}
	return c.Status(status).JSON(fiber.Map{"error": err.Error()})
}

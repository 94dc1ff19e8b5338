package handler

import (
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/martiola68/studio-manager-pro-sub002/internal/config"
	domainm365 "github.com/martiola68/studio-manager-pro-sub002/internal/domain/m365"
	"github.com/martiola68/studio-manager-pro-sub002/internal/graph"
	"github.com/martiola68/studio-manager-pro-sub002/internal/http/middleware"
	m365svc "github.com/martiola68/studio-manager-pro-sub002/internal/service/m365"
)

// M365Handler exposes the Microsoft 365 connection endpoints.
type M365Handler struct {
	Service *m365svc.Service
	Graph   *graph.Client
	Cfg     config.Config
}

// NewM365Handler creates the handler set.
func NewM365Handler(service *m365svc.Service, graphClient *graph.Client, cfg config.Config) *M365Handler {
	return &M365Handler{Service: service, Graph: graphClient, Cfg: cfg}
}

// Connect starts the authorization flow for the calling user and returns
// the provider URL the frontend must redirect to.
func (h *M365Handler) Connect(c *gin.Context) {
	tenantID, userID, ok := sessionIdentity(c)
	if !ok {
		return
	}

	out, err := h.Service.StartConnect(c.Request.Context(), tenantID, userID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"authorization_url": out.AuthorizationURL,
		"state":             out.State,
	})
}

// Callback resumes the flow when the provider redirects back. It always
// answers with a redirect to the studio's status page; outcomes travel as
// query parameters because the browser arrives here unauthenticated.
func (h *M365Handler) Callback(c *gin.Context) {
	in := m365svc.CallbackInput{
		State:                    c.Query("state"),
		Code:                     c.Query("code"),
		ProviderError:            c.Query("error"),
		ProviderErrorDescription: c.Query("error_description"),
	}

	result, err := h.Service.HandleCallback(c.Request.Context(), in)

	target := h.Cfg.DefaultStatusRedirectURL
	if result != nil && result.RedirectStatusURL != "" {
		target = result.RedirectStatusURL
	}

	if err != nil {
		zap.L().Warn("m365 callback failed",
			zap.String("error_code", errorCode(err)),
			zap.Error(err))
		c.Redirect(http.StatusFound, appendQuery(target, "m365_error", errorCode(err)))
		return
	}
	c.Redirect(http.StatusFound, appendQuery(target, "m365", "connected"))
}

// Status reports the connection state of the calling user.
func (h *M365Handler) Status(c *gin.Context) {
	tenantID, userID, ok := sessionIdentity(c)
	if !ok {
		return
	}

	out, err := h.Service.Status(c.Request.Context(), tenantID, userID)
	if err != nil {
		respondError(c, err)
		return
	}

	body := gin.H{"connected": out.Connected}
	if out.ConnectedAt != nil {
		body["connected_at"] = out.ConnectedAt.Format(time.RFC3339)
	}
	if out.ExpiresAt != nil {
		body["expires_at"] = out.ExpiresAt.Format(time.RFC3339)
	}
	if len(out.Scopes) > 0 {
		body["scopes"] = out.Scopes
	}
	c.JSON(http.StatusOK, body)
}

// Disconnect revokes the stored tokens; ?purge=true removes the record
// entirely. Either way the operation is idempotent.
func (h *M365Handler) Disconnect(c *gin.Context) {
	tenantID, userID, ok := sessionIdentity(c)
	if !ok {
		return
	}

	purge, _ := strconv.ParseBool(c.Query("purge"))
	if err := h.Service.Disconnect(c.Request.Context(), tenantID, userID, purge); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"disconnected": true})
}

type configRequest struct {
	ProviderTenantID  string `json:"provider_tenant_id" binding:"required"`
	ClientID          string `json:"client_id" binding:"required"`
	ClientSecret      string `json:"client_secret"`
	ClearSecret       bool   `json:"clear_secret"`
	Enabled           bool   `json:"enabled"`
	OrganizerEmail    string `json:"organizer_email"`
	TeamsTeamID       string `json:"teams_team_id"`
	TeamsChannelID    string `json:"teams_channel_id"`
	RedirectStatusURL string `json:"redirect_status_url"`
}

// SaveConfig upserts the studio's Microsoft 365 configuration. Admin only.
func (h *M365Handler) SaveConfig(c *gin.Context) {
	tenantID, _, ok := sessionIdentity(c)
	if !ok {
		return
	}

	var req configRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": err.Error()})
		return
	}

	saved, err := h.Service.SaveConfig(c.Request.Context(), tenantID, m365svc.ConfigInput{
		ProviderTenantID:  req.ProviderTenantID,
		ClientID:          req.ClientID,
		ClientSecret:      req.ClientSecret,
		ClearSecret:       req.ClearSecret,
		Enabled:           req.Enabled,
		OrganizerEmail:    req.OrganizerEmail,
		TeamsTeamID:       req.TeamsTeamID,
		TeamsChannelID:    req.TeamsChannelID,
		RedirectStatusURL: req.RedirectStatusURL,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, configResponse(saved))
}

// GetConfig returns the configuration without the secret; only its
// presence is exposed.
func (h *M365Handler) GetConfig(c *gin.Context) {
	tenantID, _, ok := sessionIdentity(c)
	if !ok {
		return
	}

	cfg, err := h.Service.GetConfig(c.Request.Context(), tenantID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, configResponse(cfg))
}

// TestConnection acquires an application token to prove the stored
// credentials reach the identity provider. Admin only.
func (h *M365Handler) TestConnection(c *gin.Context) {
	tenantID, _, ok := sessionIdentity(c)
	if !ok {
		return
	}

	if _, err := h.Service.EnsureAppOnly(c.Request.Context(), tenantID); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// ListCalendarEvents proxies the calling user's calendar through Graph.
// Pass ?next=<link> to continue a previous page.
func (h *M365Handler) ListCalendarEvents(c *gin.Context) {
	tenantID, userID, ok := sessionIdentity(c)
	if !ok {
		return
	}

	var (
		resp *graph.Response
		err  error
	)
	if next := c.Query("next"); next != "" {
		resp, err = h.Graph.Next(c.Request.Context(), tenantID, userID, next)
	} else {
		query := url.Values{}
		for _, key := range []string{"$top", "$filter", "$orderby", "$select", "startDateTime", "endDateTime"} {
			if v := c.Query(key); v != "" {
				query.Set(key, v)
			}
		}
		resp, err = h.Graph.Do(c.Request.Context(), tenantID, userID, graph.Request{
			Method: http.MethodGet,
			Path:   "/me/calendar/events",
			Query:  query,
		})
	}
	if err != nil {
		respondError(c, err)
		return
	}
	c.Data(http.StatusOK, "application/json", resp.Body)
}

// CreateCalendarEvent creates an event on the calling user's calendar.
func (h *M365Handler) CreateCalendarEvent(c *gin.Context) {
	tenantID, userID, ok := sessionIdentity(c)
	if !ok {
		return
	}

	var body map[string]any
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": err.Error()})
		return
	}

	resp, err := h.Graph.Do(c.Request.Context(), tenantID, userID, graph.Request{
		Method: http.MethodPost,
		Path:   "/me/calendar/events",
		Body:   body,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.Data(resp.StatusCode, "application/json", resp.Body)
}

func configResponse(cfg domainm365.TenantConfig) gin.H {
	return gin.H{
		"provider_tenant_id":  cfg.ProviderTenantID,
		"client_id":           cfg.ClientID,
		"has_client_secret":   cfg.ClientSecretEnc != "",
		"enabled":             cfg.Enabled,
		"organizer_email":     cfg.OrganizerEmail,
		"teams_team_id":       cfg.TeamsTeamID,
		"teams_channel_id":    cfg.TeamsChannelID,
		"redirect_status_url": cfg.RedirectStatusURL,
	}
}

// sessionIdentity resolves the (tenant, user) pair for the request, writing
// the error response itself when either is missing.
func sessionIdentity(c *gin.Context) (tenantID, userID int64, ok bool) {
	tenantCtx, found := middleware.GetTenantContext(c)
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "invalid_tenant", "error_description": "Tenant not resolved."})
		return 0, 0, false
	}
	claims, found := middleware.GetSessionClaims(c)
	if !found {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_token", "error_description": "Session missing."})
		return 0, 0, false
	}
	return tenantCtx.Tenant.ID, claims.UserID, true
}

func appendQuery(target, key, value string) string {
	u, err := url.Parse(target)
	if err != nil {
		return target
	}
	q := u.Query()
	q.Set(key, value)
	u.RawQuery = q.Encode()
	return u.String()
}

// respondError maps lifecycle errors onto stable machine-readable codes.
func respondError(c *gin.Context, err error) {
	var exchange *domainm365.TokenExchangeError
	var graphErr *graph.Error

	switch {
	case errors.Is(err, domainm365.ErrConfigMissing):
		c.JSON(http.StatusNotFound, gin.H{"error": "config_missing", "error_description": "Microsoft 365 is not configured for this studio."})
	case errors.Is(err, domainm365.ErrConfigDisabled):
		c.JSON(http.StatusConflict, gin.H{"error": "config_disabled", "error_description": "Microsoft 365 integration is disabled."})
	case errors.Is(err, domainm365.ErrInvalidState):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_state", "error_description": "Authorization state is invalid or expired."})
	case errors.Is(err, domainm365.ErrProviderDenied):
		c.JSON(http.StatusBadRequest, gin.H{"error": "provider_denied", "error_description": "The identity provider denied the authorization."})
	case errors.Is(err, domainm365.ErrNotConnected):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_connected", "error_description": "No Microsoft 365 account is connected."})
	case errors.Is(err, domainm365.ErrReauthorizationRequired):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "reauthorization_required", "error_description": "The connection expired; reconnect the account."})
	case errors.As(err, &exchange):
		c.JSON(http.StatusBadGateway, gin.H{"error": exchange.Code(), "error_description": "The identity provider rejected the token request."})
	case errors.Is(err, graph.ErrAuthorizationFailed):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "graph_authorization_failed", "error_description": "Microsoft Graph rejected the credentials."})
	case errors.As(err, &graphErr):
		c.JSON(http.StatusBadGateway, gin.H{"error": "graph_error", "error_description": graphErr.Message})
	default:
		zap.L().Error("unhandled request error", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "server_error", "error_description": "Unexpected error."})
	}
}

// errorCode is the redirect-safe variant of respondError.
func errorCode(err error) string {
	var exchange *domainm365.TokenExchangeError
	switch {
	case errors.Is(err, domainm365.ErrConfigMissing):
		return "config_missing"
	case errors.Is(err, domainm365.ErrConfigDisabled):
		return "config_disabled"
	case errors.Is(err, domainm365.ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, domainm365.ErrProviderDenied):
		return "provider_denied"
	case errors.As(err, &exchange):
		return exchange.Code()
	default:
		return "server_error"
	}
}

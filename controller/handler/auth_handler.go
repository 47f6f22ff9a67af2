package handler

import (
	"strings"

	"snapshot-service/controller/respond"
	"snapshot-service/service/auth_service"

	"github.com/gin-gonic/gin"
)

// ownerKey gin context key holding the authenticated owner
const ownerKey = "owner_id"

// AuthHandler credential endpoints and middleware
type AuthHandler struct {
	authService *auth_service.AuthService
}

// NewAuthHandler create auth handler instance
func NewAuthHandler(authService *auth_service.AuthService) *AuthHandler {
	return &AuthHandler{
		authService: authService,
	}
}

// TokenRequest api key exchange request
type TokenRequest struct {
	APIKey string `json:"api_key"`
}

// IssueToken exchange an api key for an access token
// @Summary Issue access token
// @Description Exchange an api key (body or X-API-Key header) for a short-lived bearer token
// @Tags Auth
// @Accept json
// @Produce json
// @Param request body TokenRequest false "api key"
// @Success 200 {object} respond.Response{data=respond.TokenResponse}
// @Failure 401 {object} respond.Response
// @Router /api/v1/auth/token [post]
func (h *AuthHandler) IssueToken(c *gin.Context) {
	apiKey := c.GetHeader("X-API-Key")
	if apiKey == "" {
		var req TokenRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respond.InvalidParam(c, "api_key is required")
			return
		}
		apiKey = req.APIKey
	}

	token, expiresAt, err := h.authService.IssueToken(apiKey)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	respond.Success(c, respond.TokenResponse{Token: token, ExpiresAt: expiresAt})
}

// RequireBearer reject requests without a valid access token
func (h *AuthHandler) RequireBearer() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			respond.Unauthorized(c, "bearer token required")
			return
		}
		owner, err := h.authService.OwnerFromToken(token)
		if err != nil {
			writeServiceError(c, err)
			return
		}
		c.Set(ownerKey, owner)
		c.Next()
	}
}

func currentOwner(c *gin.Context) string {
	return c.GetString(ownerKey)
}

package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"anchor-backend/internal/store"
)

// Handler handles authentication endpoints.
type Handler struct {
	store     *store.Store
	jwtSecret string
}

func NewHandler(s *store.Store, jwtSecret string) *Handler {
	return &Handler{store: s, jwtSecret: jwtSecret}
}

// Login handles POST /api/auth/login.
func (h *Handler) Login(c *fiber.Ctx) error {
	var body struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := c.BodyParser(&body); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
	}
	if body.Username == "" || body.Password == "" {
		return fiber.NewError(fiber.StatusUnauthorized, "Username and password are required")
	}

	ctx := c.Context()

	user, err := store.QueryRow(ctx, h.store.DB,
		fmt.Sprintf("SELECT id, username, password_hash, roles FROM _users WHERE username = %s",
			h.store.Dialect.Placeholder(1)),
		body.Username)
	if err != nil {
		return fiber.NewError(fiber.StatusUnauthorized, "Invalid username or password")
	}

	passwordHash, _ := user["password_hash"].(string)
	if !CheckPassword(body.Password, passwordHash) {
		return fiber.NewError(fiber.StatusUnauthorized, "Invalid username or password")
	}

	userID := fmt.Sprint(user["id"])
	pair, err := h.issueTokens(ctx, userID, body.Username, extractRoles(user["roles"]))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": pair})
}

// Refresh handles POST /api/auth/refresh. Refresh tokens are single use and
// rotated on every exchange.
func (h *Handler) Refresh(c *fiber.Ctx) error {
	var body struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := c.BodyParser(&body); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
	}
	if body.RefreshToken == "" {
		return fiber.NewError(fiber.StatusUnauthorized, "Refresh token is required")
	}

	ctx := c.Context()

	row, err := store.QueryRow(ctx, h.store.DB,
		fmt.Sprintf(`SELECT rt.id, rt.user_id, rt.expires_at, u.username, u.roles
 FROM _refresh_tokens rt
 JOIN _users u ON u.id = rt.user_id
 WHERE rt.token = %s`, h.store.Dialect.Placeholder(1)),
		body.RefreshToken)
	if err != nil {
		return fiber.NewError(fiber.StatusUnauthorized, "Invalid refresh token")
	}

	if expiresAt, ok := parseTime(row["expires_at"]); !ok || time.Now().After(expiresAt) {
		_, _ = store.Exec(ctx, h.store.DB,
			fmt.Sprintf("DELETE FROM _refresh_tokens WHERE token = %s", h.store.Dialect.Placeholder(1)),
			body.RefreshToken)
		return fiber.NewError(fiber.StatusUnauthorized, "Refresh token expired")
	}

	tokenID := fmt.Sprint(row["id"])
	_, _ = store.Exec(ctx, h.store.DB,
		fmt.Sprintf("DELETE FROM _refresh_tokens WHERE id = %s", h.store.Dialect.Placeholder(1)),
		tokenID)

	userID := fmt.Sprint(row["user_id"])
	username, _ := row["username"].(string)
	pair, err := h.issueTokens(ctx, userID, username, extractRoles(row["roles"]))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": pair})
}

// Logout handles POST /api/auth/logout.
func (h *Handler) Logout(c *fiber.Ctx) error {
	var body struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := c.BodyParser(&body); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
	}
	if body.RefreshToken == "" {
		return fiber.NewError(fiber.StatusUnauthorized, "Refresh token is required")
	}

	_, _ = store.Exec(c.Context(), h.store.DB,
		fmt.Sprintf("DELETE FROM _refresh_tokens WHERE token = %s", h.store.Dialect.Placeholder(1)),
		body.RefreshToken)

	return c.JSON(fiber.Map{"message": "Logged out"})
}

// RegisterRoutes registers auth routes on the given Fiber app.
func RegisterRoutes(app *fiber.App, h *Handler) {
	grp := app.Group("/api/auth")
	grp.Post("/login", h.Login)
	grp.Post("/refresh", h.Refresh)
	grp.Post("/logout", h.Logout)
}

// --- helpers ---

func (h *Handler) issueTokens(ctx context.Context, userID, username string, roles []string) (*TokenPair, error) {
	accessToken, err := GenerateAccessToken(userID, username, roles, h.jwtSecret)
	if err != nil {
		return nil, fiber.NewError(fiber.StatusInternalServerError, "Failed to generate access token")
	}

	refreshToken := GenerateRefreshToken()
	expiresAt := time.Now().Add(RefreshTokenTTL).UTC().Format(time.RFC3339)

	pb := h.store.Dialect.NewParamBuilder()
	sqlStr := fmt.Sprintf(
		"INSERT INTO _refresh_tokens (id, user_id, token, expires_at) VALUES (%s, %s, %s, %s)",
		pb.Add(uuid.New().String()), pb.Add(userID), pb.Add(refreshToken), pb.Add(expiresAt))
	if _, err := store.Exec(ctx, h.store.DB, sqlStr, pb.Params()...); err != nil {
		return nil, fiber.NewError(fiber.StatusInternalServerError, "Failed to store refresh token")
	}

	return &TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
	}, nil
}

// extractRoles decodes the roles column, stored as a JSON array of strings.
func extractRoles(v any) []string {
	switch roles := v.(type) {
	case []string:
		return roles
	case string:
		var out []string
		if err := json.Unmarshal([]byte(roles), &out); err == nil {
			return out
		}
	case []any:
		out := make([]string, 0, len(roles))
		for _, r := range roles {
			if s, ok := r.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return []string{}
}

func parseTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05"} {
			if parsed, err := time.Parse(layout, t); err == nil {
				return parsed, true
			}
		}
	}
	return time.Time{}, false
}

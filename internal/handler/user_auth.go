package handler

import (
	"errors"
	"net/http"

	"gowa-relay/internal/service"

	"github.com/labstack/echo/v4"
)

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// POST /auth/login
func Login(c echo.Context) error {
	var req LoginRequest
	if err := c.Bind(&req); err != nil {
		return ErrorResponse(c, http.StatusBadRequest,
			"Invalid request body", "INVALID_REQUEST", err.Error())
	}

	if req.Username == "" || req.Password == "" {
		return ErrorResponse(c, http.StatusBadRequest,
			"Username and password are required", "VALIDATION_ERROR", "")
	}

	if err := service.AuthenticateAdmin(req.Username, req.Password); err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			return ErrorResponse(c, http.StatusUnauthorized,
				"Invalid username or password", "INVALID_CREDENTIALS", "")
		}
		return ErrorResponse(c, http.StatusInternalServerError,
			"Login failed", "LOGIN_FAILED", err.Error())
	}

	token, err := service.GenerateAccessToken(req.Username)
	if err != nil {
		return ErrorResponse(c, http.StatusInternalServerError,
			"Failed to generate token", "TOKEN_GENERATION_FAILED", err.Error())
	}

	return SuccessResponse(c, http.StatusOK, "Login successful", map[string]interface{}{
		"accessToken": token,
		"tokenType":   "Bearer",
	})
}

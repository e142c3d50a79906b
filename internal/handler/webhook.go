package handler

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"gowa-relay/internal/service"

	"github.com/labstack/echo/v4"
)

type WebhookRequest struct {
	URL string `json:"url"`
}

// GET /webhooks
func ListWebhooks(registry *service.Registry) echo.HandlerFunc {
	return func(c echo.Context) error {
		urls := registry.List()

		entries := make([]map[string]interface{}, len(urls))
		for i, url := range urls {
			entries[i] = map[string]interface{}{
				"id":  i + 1,
				"url": url,
			}
		}

		return SuccessResponse(c, http.StatusOK, "Webhook list retrieved", map[string]interface{}{
			"total":    len(entries),
			"webhooks": entries,
		})
	}
}

// POST /webhooks
func AddWebhook(registry *service.Registry) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req WebhookRequest
		if err := c.Bind(&req); err != nil {
			return ErrorResponse(c, http.StatusBadRequest,
				"Invalid request body", "INVALID_REQUEST", err.Error())
		}

		url := strings.TrimSpace(req.URL)
		if url == "" {
			return ErrorResponse(c, http.StatusBadRequest,
				"Field 'url' is required", "VALIDATION_ERROR", "")
		}
		if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
			return ErrorResponse(c, http.StatusBadRequest,
				"webhook url must start with http:// or https://", "INVALID_URL", "")
		}

		added, err := registry.Insert(url)
		if err != nil {
			return ErrorResponse(c, http.StatusInternalServerError,
				"Failed to persist webhook", "WEBHOOK_SAVE_FAILED", err.Error())
		}

		return SuccessResponse(c, http.StatusOK, "Webhook registered", map[string]interface{}{
			"url":   url,
			"added": added, // false when it was already registered
		})
	}
}

// DELETE /webhooks/:id (1-based position as shown by the list endpoint)
func RemoveWebhook(registry *service.Registry) echo.HandlerFunc {
	return func(c echo.Context) error {
		id, err := strconv.Atoi(c.Param("id"))
		if err != nil || id < 1 {
			return ErrorResponse(c, http.StatusBadRequest,
				"Webhook id must be a positive number", "VALIDATION_ERROR", "")
		}

		if err := registry.Delete(id - 1); err != nil {
			if errors.Is(err, service.ErrSubscriberNotFound) {
				return ErrorResponse(c, http.StatusNotFound,
					"Webhook not found", "WEBHOOK_NOT_FOUND", "")
			}
			return ErrorResponse(c, http.StatusInternalServerError,
				"Failed to remove webhook", "WEBHOOK_DELETE_FAILED", err.Error())
		}

		return SuccessResponse(c, http.StatusOK, "Webhook removed", map[string]interface{}{
			"id": id,
		})
	}
}

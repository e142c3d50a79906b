package handler

import (
	"context"
	"net/http"
	"strings"

	"gowa-relay/internal/helper"
	"gowa-relay/internal/service"

	"github.com/labstack/echo/v4"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/types"
)

// POST /messages
func SendMessage(m *service.SessionManager) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req service.SendMessageRequest
		if err := c.Bind(&req); err != nil {
			return ErrorResponse(c, http.StatusBadRequest,
				"Invalid request body", "INVALID_REQUEST", err.Error())
		}

		if strings.TrimSpace(req.To) == "" {
			return ErrorResponse(c, http.StatusBadRequest,
				"Field 'to' is required", "VALIDATION_ERROR", "")
		}
		if req.Media == nil && req.Location == nil && req.Poll == nil &&
			req.Contact == nil && strings.TrimSpace(req.Message) == "" {
			return ErrorResponse(c, http.StatusBadRequest,
				"Message content is required", "VALIDATION_ERROR", "")
		}

		result, err := m.Send(c.Request().Context(), &req)
		if err != nil {
			return ErrorResponse(c, http.StatusBadRequest,
				"Invalid recipient", "INVALID_RECIPIENT", err.Error())
		}

		return SuccessResponse(c, http.StatusOK, "Message processed", result)
	}
}

type PresenceRequest struct {
	To    string `json:"to"`
	State string `json:"state"` // composing or paused
}

// POST /messages/presence
func SendPresence(m *service.SessionManager) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req PresenceRequest
		if err := c.Bind(&req); err != nil {
			return ErrorResponse(c, http.StatusBadRequest,
				"Invalid request body", "INVALID_REQUEST", err.Error())
		}

		var state types.ChatPresence
		switch req.State {
		case "composing":
			state = types.ChatPresenceComposing
		case "paused":
			state = types.ChatPresencePaused
		default:
			return ErrorResponse(c, http.StatusBadRequest,
				"State must be 'composing' or 'paused'", "VALIDATION_ERROR", "")
		}

		jid, err := helper.NormalizeChatJID(req.To)
		if err != nil {
			return ErrorResponse(c, http.StatusBadRequest,
				"Invalid recipient", "INVALID_RECIPIENT", err.Error())
		}

		client := m.Client()
		if client == nil || !client.IsConnected() {
			return ErrorResponse(c, http.StatusBadRequest,
				"Session is not connected", "NOT_CONNECTED", "")
		}

		if err := client.SendChatPresence(c.Request().Context(), jid, state, types.ChatPresenceMediaText); err != nil {
			return ErrorResponse(c, http.StatusInternalServerError,
				"Failed to send presence", "PRESENCE_FAILED", err.Error())
		}

		return SuccessResponse(c, http.StatusOK, "Presence sent", map[string]interface{}{
			"to":    jid.String(),
			"state": req.State,
		})
	}
}

type MarkReadRequest struct {
	Chat       string   `json:"chat"`
	Sender     string   `json:"sender,omitempty"`
	MessageIDs []string `json:"messageIds"`
	Presence   bool     `json:"presence,omitempty"` // pulse composing/paused around the receipt
}

// POST /messages/read
func MarkRead(m *service.SessionManager) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req MarkReadRequest
		if err := c.Bind(&req); err != nil {
			return ErrorResponse(c, http.StatusBadRequest,
				"Invalid request body", "INVALID_REQUEST", err.Error())
		}
		if len(req.MessageIDs) == 0 {
			return ErrorResponse(c, http.StatusBadRequest,
				"Field 'messageIds' is required", "VALIDATION_ERROR", "")
		}

		chat, err := helper.NormalizeChatJID(req.Chat)
		if err != nil {
			return ErrorResponse(c, http.StatusBadRequest,
				"Invalid chat", "INVALID_CHAT", err.Error())
		}

		sender := chat
		if req.Sender != "" {
			if sender, err = helper.NormalizeChatJID(req.Sender); err != nil {
				return ErrorResponse(c, http.StatusBadRequest,
					"Invalid sender", "INVALID_SENDER", err.Error())
			}
		}

		client := m.Client()
		if client == nil || !client.IsConnected() {
			return ErrorResponse(c, http.StatusBadRequest,
				"Session is not connected", "NOT_CONNECTED", "")
		}

		ids := make([]types.MessageID, len(req.MessageIDs))
		for i, id := range req.MessageIDs {
			ids[i] = types.MessageID(id)
		}

		if err := service.MarkReadWithPresence(c.Request().Context(), client, chat, sender, ids, req.Presence); err != nil {
			return ErrorResponse(c, http.StatusInternalServerError,
				"Failed to mark as read", "MARK_READ_FAILED", err.Error())
		}

		return SuccessResponse(c, http.StatusOK, "Marked as read", map[string]interface{}{
			"chat":     chat.String(),
			"count":    len(ids),
			"presence": req.Presence,
		})
	}
}

type CheckNumberRequest struct {
	Phone string `json:"phone"`
}

// POST /numbers/check
func CheckNumber(m *service.SessionManager) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req CheckNumberRequest
		if err := c.Bind(&req); err != nil {
			return ErrorResponse(c, http.StatusBadRequest,
				"Invalid request body", "INVALID_REQUEST", err.Error())
		}

		recipient, err := helper.FormatPhoneNumber(req.Phone)
		if err != nil {
			return ErrorResponse(c, http.StatusBadRequest,
				"Invalid phone number", "INVALID_PHONE", err.Error())
		}

		client := m.Client()
		if client == nil || !client.IsConnected() {
			return ErrorResponse(c, http.StatusBadRequest,
				"Session is not connected", "NOT_CONNECTED", "")
		}

		registered, err := client.IsOnWhatsApp(c.Request().Context(), []string{recipient.User})
		if err != nil {
			return ErrorResponse(c, http.StatusInternalServerError,
				"Failed to check phone number", "CHECK_FAILED", err.Error())
		}
		if len(registered) == 0 {
			return ErrorResponse(c, http.StatusBadRequest,
				"Unable to verify number", "VERIFICATION_ERROR", "")
		}

		return SuccessResponse(c, http.StatusOK, "Phone number checked", map[string]interface{}{
			"phone":        req.Phone,
			"isRegistered": registered[0].IsIn,
			"jid":          registered[0].JID.String(),
		})
	}
}

// GET /profile/:jid
func GetProfile(m *service.SessionManager) echo.HandlerFunc {
	return func(c echo.Context) error {
		jid, err := types.ParseJID(c.Param("jid"))
		if err != nil {
			return ErrorResponse(c, http.StatusBadRequest,
				"Invalid JID format", "INVALID_JID", err.Error())
		}

		client := m.Client()
		if client == nil || !client.IsConnected() {
			return ErrorResponse(c, http.StatusBadRequest,
				"Session is not connected", "NOT_CONNECTED", "")
		}

		profile := map[string]interface{}{
			"jid":            jid.String(),
			"phoneNumber":    jid.User,
			"profilePicture": "",
			"about":          "",
		}

		pic, err := client.GetProfilePictureInfo(context.Background(), jid, &whatsmeow.GetProfilePictureParams{Preview: false})
		if err == nil && pic != nil {
			profile["profilePicture"] = pic.URL
		}

		if jid.Server != types.GroupServer {
			if userInfo, err := client.GetUserInfo(context.Background(), []types.JID{jid}); err == nil {
				if info, ok := userInfo[jid]; ok && info.Status != "" {
					profile["about"] = info.Status
				}
			}
		}

		return SuccessResponse(c, http.StatusOK, "Profile retrieved", profile)
	}
}

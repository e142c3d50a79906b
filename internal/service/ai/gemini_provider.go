package ai

import (
	"context"
	"fmt"
	"strings"

	"gowa-relay/config"

	"google.golang.org/genai"
)

const defaultSystemPrompt = "You are a helpful assistant replying inside a chat conversation. Be friendly and concise."

// GenerateReply asks Gemini for a reply to one inbound message. Used as a
// fallback when no webhook subscriber returned a reply of its own.
func GenerateReply(ctx context.Context, message string) (string, error) {
	if config.GeminiAPIKey == "" {
		return "", fmt.Errorf("Gemini API key not configured")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  config.GeminiAPIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return "", fmt.Errorf("failed to create Gemini client: %w", err)
	}

	temp := float32(0.7)
	modelName := strings.TrimPrefix(config.GeminiDefaultModel, "models/")

	result, err := client.Models.GenerateContent(
		ctx,
		modelName,
		genai.Text(message),
		&genai.GenerateContentConfig{
			SystemInstruction: &genai.Content{
				Parts: []*genai.Part{
					{Text: defaultSystemPrompt},
				},
			},
			Temperature:     &temp,
			MaxOutputTokens: 1024,
		},
	)
	if err != nil {
		return "", fmt.Errorf("Gemini SDK Error: %w", err)
	}

	if result == nil || len(result.Candidates) == 0 {
		return "", fmt.Errorf("no candidates in Gemini response")
	}
	candidate := result.Candidates[0]
	if candidate.Content == nil {
		return "", fmt.Errorf("nil content in candidate")
	}

	var textParts []string
	for _, part := range candidate.Content.Parts {
		if part.Text != "" {
			textParts = append(textParts, part.Text)
		}
	}

	responseText := strings.TrimSpace(strings.Join(textParts, " "))
	if responseText == "" {
		return "", fmt.Errorf("empty response from Gemini")
	}
	return responseText, nil
}

package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pdfrag/internal/domain"
)

func TestChat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		var req struct {
			Model    string `json:"model"`
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "local-model", req.Model)
		require.Len(t, req.Messages, 2)
		assert.Equal(t, "system", req.Messages[0].Role)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "cmpl-1",
			"object":  "chat.completion",
			"choices": []map[string]any{{"index": 0, "message": map[string]string{"role": "assistant", "content": "Berlin."}, "finish_reason": "stop"}},
		})
	}))
	defer srv.Close()

	t.Setenv("PDFRAG_TEST_KEY", "sk-test")
	c, err := NewChat(Config{BaseURL: srv.URL, APIKeyEnv: "PDFRAG_TEST_KEY", Model: "local-model"})
	require.NoError(t, err)
	out, err := c.Chat(context.Background(), []domain.Message{
		{Role: domain.RoleSystem, Content: "be brief"},
		{Role: domain.RoleUser, Content: "capital of Germany?"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Berlin.", out)
	assert.Equal(t, "openai:local-model", c.Name())
}

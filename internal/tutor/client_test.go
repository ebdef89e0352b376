package tutor

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateUsesOutputText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "tiny", body["model"])
		assert.Equal(t, "hello", body["input"])
		_, _ = w.Write([]byte(`{"output_text":"  Hi Ava and Ben!  "}`))
	}))
	defer srv.Close()

	client := NewClient(Config{ResponsesURL: srv.URL, APIKey: "sk-test", Model: "tiny"})
	text, err := client.Generate(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, "Hi Ava and Ben!", text)
}

func TestGenerateFallsBackToOutputContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"output":[{"content":[{"type":"output_text","text":""},{"type":"output_text","text":"Second"}]}]}`))
	}))
	defer srv.Close()

	client := NewClient(Config{ResponsesURL: srv.URL, APIKey: "k", Model: "m"})
	text, err := client.Generate(context.Background(), "p")
	require.NoError(t, err)
	assert.Equal(t, "Second", text)
}

func TestGenerateErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client := NewClient(Config{ResponsesURL: srv.URL, APIKey: "k", Model: "m"})
	_, err := client.Generate(context.Background(), "p")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")

	_, err = NewClient(Config{ResponsesURL: srv.URL, Model: "m"}).Generate(context.Background(), "p")
	assert.True(t, errors.Is(err, ErrNotConfigured))

	_, err = client.Generate(context.Background(), "   ")
	require.Error(t, err)
}

func TestPrompts(t *testing.T) {
	opening := OpeningPrompt("Photosynthesis", []string{"Ava", "Ben"})
	assert.Contains(t, opening, "Topic: Photosynthesis")
	assert.Contains(t, opening, "Ava and Ben")
	assert.Contains(t, opening, "addressed to Ava")

	reply := ReplyPrompt("Photosynthesis", []Line{{Speaker: "Ava", Text: "Plants eat light"}}, "Ben")
	assert.True(t, strings.Contains(reply, "Ava: Plants eat light"))
	assert.Contains(t, reply, "invite Ben")

	assert.Equal(t, "A, B and C", joinNames([]string{"A", "B", "C"}))
	assert.Equal(t, "unknown", joinNames(nil))
}

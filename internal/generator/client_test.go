package generator

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/contentloop/publishd/internal/pipeline"
)

func TestGenerateSuccess(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req generateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "Best running shoes 2024", req.Topic)
		require.Equal(t, "keep it short", req.Instructions)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(pipeline.GeneratedArticle{
			Title:       "Best Running Shoes of 2024",
			HTMLContent: "<p>Our picks.</p>",
		})
	}))
	defer srv.Close()

	client := New(Config{Endpoint: srv.URL, APIKey: "test-key", Timeout: 5 * time.Second})
	article, err := client.Generate(context.Background(), "Best running shoes 2024", "keep it short")
	require.NoError(t, err)
	require.Equal(t, "Best Running Shoes of 2024", article.Title)
	require.Equal(t, "<p>Our picks.</p>", article.HTMLContent)
}

func TestGenerateNon2xxClassified(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := New(Config{Endpoint: srv.URL})
	_, err := client.Generate(context.Background(), "topic", "")
	require.Error(t, err)
	require.Equal(t, pipeline.ErrKindContentGeneration, pipeline.KindOf(err))
	require.Contains(t, err.Error(), "503")
}

func TestGenerateEmptyOutputClassified(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(pipeline.GeneratedArticle{Title: "no body"})
	}))
	defer srv.Close()

	client := New(Config{Endpoint: srv.URL})
	_, err := client.Generate(context.Background(), "topic", "")
	require.Error(t, err)
	require.Equal(t, pipeline.ErrKindContentGeneration, pipeline.KindOf(err))
}

func TestGenerateConnectionErrorClassified(t *testing.T) {
	t.Parallel()

	client := New(Config{Endpoint: "http://127.0.0.1:1", Timeout: time.Second})
	_, err := client.Generate(context.Background(), "topic", "")
	require.Error(t, err)
	require.Equal(t, pipeline.ErrKindContentGeneration, pipeline.KindOf(err))
	require.True(t, pipeline.IsRetryable(err))
}

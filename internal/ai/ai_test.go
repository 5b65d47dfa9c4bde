package ai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChatClientComplete(t *testing.T) {
	var got map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"hi there"}}],"usage":{"prompt_tokens":5,"completion_tokens":2,"total_tokens":7}}`))
	}))
	defer srv.Close()

	client := NewChatClient(srv.URL+"/", "key", 0)
	res, err := client.Complete(context.Background(), ChatRequest{
		Model:       "m",
		Messages:    []ChatMessage{{Role: "user", Content: "hello"}},
		Temperature: 0.3,
		MaxTokens:   1024,
	})
	require.NoError(t, err)
	assert.Equal(t, "hi there", res.Content)
	assert.Equal(t, 7, res.Usage.TotalTokens)
	assert.Equal(t, 0.3, got["temperature"])
	assert.EqualValues(t, 1024, got["max_tokens"])
}

func TestChatClientStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`rate limited`))
	}))
	defer srv.Close()

	_, err := NewChatClient(srv.URL, "", 0).Complete(context.Background(), ChatRequest{Model: "m"})
	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusTooManyRequests, statusErr.StatusCode)
}

func TestStatusErrorBodyKeepsWholeRunes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("x" + strings.Repeat("é", 600)))
	}))
	defer srv.Close()

	_, err := NewChatClient(srv.URL, "", 0).Complete(context.Background(), ChatRequest{Model: "m"})
	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.True(t, utf8.ValidString(statusErr.Body))
	assert.Equal(t, 512, utf8.RuneCountInString(statusErr.Body))
}

func TestEmbeddingClientOrdersByIndex(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embeddings", r.URL.Path)
		_, _ = w.Write([]byte(`{"data":[{"index":1,"embedding":[0,1]},{"index":0,"embedding":[1,0]}]}`))
	}))
	defer srv.Close()

	client := NewEmbeddingClient(srv.URL, "key", "mini", 0)
	vecs, err := client.EmbedBatch(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1, 0}, {0, 1}}, vecs)
	assert.Equal(t, "mini", client.Model())
}

func TestEmbeddingClientEmptyInput(t *testing.T) {
	vecs, err := NewEmbeddingClient("http://unused", "", "m", 1).EmbedBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, vecs)
}

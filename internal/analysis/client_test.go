package analysis

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Simplici0/quickbuild/internal/logger"
)

func responseBody(text string) string {
	b, _ := json.Marshal(map[string]any{
		"output": []map[string]any{{
			"type": "message",
			"role": "assistant",
			"content": []map[string]any{{
				"type": "output_text",
				"text": text,
			}},
		}},
	})
	return string(b)
}

func newTestClient(t *testing.T, srv *httptest.Server, retries int) *Client {
	t.Helper()
	c, err := NewClient(ClientConfig{
		APIKey:            "sk-test",
		BaseURL:           srv.URL + "/",
		Model:             "test-model",
		MaxRetries:        retries,
		RequestsPerSecond: 1000,
	}, logger.Nop())
	require.NoError(t, err)
	c.backoff = time.Millisecond
	return c
}

func TestNewClient_RequiresKey(t *testing.T) {
	_, err := NewClient(ClientConfig{}, nil)
	require.Error(t, err)
}

func TestGenerateJSON_SendsSchemaAndFiles(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/responses", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		raw, _ := io.ReadAll(r.Body)
		assert.NoError(t, json.Unmarshal(raw, &got))
		io.WriteString(w, responseBody(`{"areas":[{"room":"Kitchen","category":"Interior","area_ft2":120}]}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv, 0)
	var out struct {
		Areas []struct {
			Room    string  `json:"room"`
			AreaFt2 float64 `json:"area_ft2"`
		} `json:"areas"`
	}
	err := c.GenerateJSON(context.Background(), "sys", "user", "blueprint_areas", areasSchema,
		[]FileInput{{Filename: "plan.pdf", MimeType: "application/pdf", Data: []byte("%PDF")}}, &out)
	require.NoError(t, err)
	require.Len(t, out.Areas, 1)
	assert.Equal(t, 120.0, out.Areas[0].AreaFt2)

	assert.Equal(t, "test-model", got["model"])
	format := got["text"].(map[string]any)["format"].(map[string]any)
	assert.Equal(t, "json_schema", format["type"])
	assert.Equal(t, true, format["strict"])

	input := got["input"].([]any)
	user := input[1].(map[string]any)["content"].([]any)
	file := user[1].(map[string]any)
	assert.Equal(t, "input_file", file["type"])
	assert.True(t, strings.HasPrefix(file["file_data"].(string), "data:application/pdf;base64,"))
}

func TestDo_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		io.WriteString(w, responseBody("hello"))
	}))
	defer srv.Close()

	c := newTestClient(t, srv, 3)
	text, err := c.GenerateText(context.Background(), "sys", "user", 10)
	require.NoError(t, err)
	assert.Equal(t, "hello", text)
	assert.Equal(t, int32(3), calls.Load())
}

func TestDo_DoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, `{"error":"bad"}`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv, 3)
	_, err := c.GenerateText(context.Background(), "sys", "user", 10)
	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusBadRequest, httpErr.StatusCode)
	assert.Equal(t, int32(1), calls.Load())
}

func TestGenerateText_Refusal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"output":[{"type":"message","role":"assistant","content":[{"type":"refusal","refusal":"no"}]}]}`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv, 0)
	_, err := c.GenerateText(context.Background(), "sys", "user", 10)
	require.ErrorContains(t, err, "model refused")
}

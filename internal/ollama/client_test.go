package ollama

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feichai0017/knowledge-pipeline/internal/models"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient(Config{BaseURL: srv.URL + "/", EmbeddingModel: "nomic-embed-text", Temperature: 0.7, TopP: 0.9})
}

func decodeBody(t *testing.T, r *http.Request) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
	return body
}

func TestEmbed(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/embeddings", r.URL.Path)
		body := decodeBody(t, r)
		assert.Equal(t, "nomic-embed-text", body["model"])
		assert.Equal(t, "hello", body["prompt"])
		_, _ = w.Write([]byte(`{"embedding":[0.25,-1.5,3]}`))
	})

	v, err := c.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.25, -1.5, 3}, v)
}

func TestGenerateSendsOptions(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/generate", r.URL.Path)
		body := decodeBody(t, r)
		assert.Equal(t, "llama3.2:3b", body["model"])
		assert.Equal(t, false, body["stream"])
		opts := body["options"].(map[string]interface{})
		assert.Equal(t, 0.7, opts["temperature"])
		assert.Equal(t, 0.9, opts["top_p"])
		_, _ = w.Write([]byte(`{"model":"llama3.2:3b","response":"Paris.","done":true}`))
	})

	out, err := c.Generate(context.Background(), "llama3.2:3b", "Capital of France?")
	require.NoError(t, err)
	assert.Equal(t, "Paris.", out)
}

func TestGenerateStream(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		body := decodeBody(t, r)
		assert.Equal(t, true, body["stream"])
		for _, frag := range []string{"Hel", "lo", " world"} {
			fmt.Fprintf(w, `{"response":%q,"done":false}`+"\n", frag)
		}
		fmt.Fprintln(w, `{"response":"","done":true}`)
		// anything after done is ignored
		fmt.Fprintln(w, `{"response":"extra","done":false}`)
	})

	var got []string
	for frag, err := range c.GenerateStream(context.Background(), "m", "p") {
		require.NoError(t, err)
		got = append(got, frag)
	}
	assert.Equal(t, []string{"Hel", "lo", " world"}, got)
}

func TestGenerateStreamEarlyStop(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		for i := 0; i < 100; i++ {
			fmt.Fprintf(w, `{"response":"t%d","done":false}`+"\n", i)
		}
		fmt.Fprintln(w, `{"done":true}`)
	})

	var got []string
	for frag, err := range c.GenerateStream(context.Background(), "m", "p") {
		require.NoError(t, err)
		got = append(got, frag)
		if len(got) == 2 {
			break
		}
	}
	assert.Equal(t, []string{"t0", "t1"}, got)
}

func TestGenerateStreamTruncated(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"response":"partial","done":false}`)
	})

	var errs []error
	for _, err := range c.GenerateStream(context.Background(), "m", "p") {
		if err != nil {
			errs = append(errs, err)
		}
	}
	require.Len(t, errs, 1)
}

func TestChat(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		body := decodeBody(t, r)
		msgs := body["messages"].([]interface{})
		require.Len(t, msgs, 2)
		assert.Equal(t, "system", msgs[0].(map[string]interface{})["role"])
		_, _ = w.Write([]byte(`{"message":{"role":"assistant","content":"Hi there"},"done":true}`))
	})

	out, err := c.Chat(context.Background(), "m", []models.ChatMessage{
		{Role: models.RoleSystem, Content: "be nice"},
		{Role: models.RoleUser, Content: "hello"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Hi there", out)
}

func TestAnalyzeImageSendsBase64(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		body := decodeBody(t, r)
		images := body["images"].([]interface{})
		require.Len(t, images, 1)
		assert.Equal(t, "AQID", images[0])
		_, _ = w.Write([]byte(`{"response":"invoice text","done":true}`))
	})

	out, err := c.AnalyzeImage(context.Background(), "llava", []byte{1, 2, 3}, "transcribe")
	require.NoError(t, err)
	assert.Equal(t, "invoice text", out)
}

func TestListModels(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		_, _ = w.Write([]byte(`{"models":[{"name":"llama3.2:3b","size":2019393189},{"name":"nomic-embed-text","size":274302450}]}`))
	})

	ms, err := c.ListModels(context.Background())
	require.NoError(t, err)
	require.Len(t, ms, 2)
	assert.Equal(t, "llama3.2:3b", ms[0].Name)
	assert.NoError(t, c.Ping(context.Background()))
}

func TestPull(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/pull", r.URL.Path)
		body := decodeBody(t, r)
		assert.Equal(t, "qwen2.5:7b", body["model"])
		assert.Equal(t, false, body["stream"])
		_, _ = w.Write([]byte(`{"status":"success"}`))
	})
	require.NoError(t, c.Pull(context.Background(), "qwen2.5:7b"))
}

func TestPullReportsError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"pull model manifest: file does not exist"}`))
	})
	err := c.Pull(context.Background(), "nope")
	var be *models.BackendError
	require.ErrorAs(t, err, &be)
	assert.Contains(t, be.Message, "manifest")
}

func TestDelete(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, "/api/delete", r.URL.Path)
		if decodeBody(t, r)["model"] != "llama3.2:3b" {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":"model not found"}`))
			return
		}
	})
	require.NoError(t, c.Delete(context.Background(), "llama3.2:3b"))
	assert.ErrorIs(t, c.Delete(context.Background(), "gone"), models.ErrNotFound)
}

func TestBackendReportedError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"model 'nope' not found"}`))
	})

	_, err := c.Generate(context.Background(), "nope", "hi")
	require.Error(t, err)

	var be *models.BackendError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, http.StatusNotFound, be.StatusCode)
	assert.Contains(t, be.Message, "not found")
	assert.False(t, models.IsTransient(err))
}

func TestConnectivityErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	c := NewClient(Config{BaseURL: base})
	_, err := c.Embed(context.Background(), "x")
	require.Error(t, err)
	assert.True(t, models.IsTransient(err))
}

func TestTimeoutIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, Timeout: 20 * time.Millisecond})
	_, err := c.Generate(context.Background(), "m", "p")
	require.Error(t, err)
	assert.True(t, models.IsTransient(err))
	assert.True(t, strings.Contains(err.Error(), "generate"))
}

package httpclient

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientGet(t *testing.T) {
	t.Run("InjectsUserAgent", func(t *testing.T) {
		var gotUA string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotUA = r.Header.Get("User-Agent")
			_, _ = w.Write([]byte("ok"))
		}))
		defer srv.Close()

		c := New(nil)
		resp, err := c.Get(context.Background(), srv.URL)
		require.NoError(t, err)
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		assert.Equal(t, "ok", string(body))
		assert.Equal(t, defaultUserAgent, gotUA)
	})

	t.Run("CustomUserAgent", func(t *testing.T) {
		var gotUA string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotUA = r.Header.Get("User-Agent")
		}))
		defer srv.Close()

		c := New(&Config{UserAgent: "pixelset-test/1.0"})
		resp, err := c.Get(context.Background(), srv.URL)
		require.NoError(t, err)
		resp.Body.Close()

		assert.Equal(t, "pixelset-test/1.0", gotUA)
	})

	t.Run("ContextCancellation", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			time.Sleep(5 * time.Second)
		}))
		defer srv.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()

		c := New(nil)
		_, err := c.Get(ctx, srv.URL) //nolint:bodyclose // response is nil on error
		assert.Error(t, err)
	})

	t.Run("NilRequest", func(t *testing.T) {
		c := New(nil)
		_, err := c.Do(context.Background(), nil) //nolint:bodyclose // response is nil on error
		assert.Error(t, err)
	})
}

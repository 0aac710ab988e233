package httpclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"go-procurement-client/pkg/apierror"
)

type stubCredentials struct {
	mu    sync.Mutex
	token string
}

func (s *stubCredentials) Credential() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

func (s *stubCredentials) set(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
}

func newTestClient(t *testing.T, handler http.Handler, creds CredentialSource, opts ...Option) *Client {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return New(server.URL, 5*time.Second, creds, opts...)
}

func TestCredentialInjection(t *testing.T) {
	t.Parallel()

	t.Run("reads the credential fresh on every call", func(t *testing.T) {
		var seen []string
		var mu sync.Mutex

		router := chi.NewRouter()
		router.Get("/ping", func(w http.ResponseWriter, r *http.Request) {
			mu.Lock()
			seen = append(seen, r.Header.Get("Authorization"))
			mu.Unlock()
			w.Write([]byte(`{}`))
		})

		creds := &stubCredentials{token: "first"}
		client := newTestClient(t, router, creds)

		require.NoError(t, client.GetJSON(context.Background(), "/ping", nil))
		creds.set("second")
		require.NoError(t, client.GetJSON(context.Background(), "/ping", nil))
		creds.set("")
		require.NoError(t, client.GetJSON(context.Background(), "/ping", nil))

		require.Equal(t, []string{"Bearer first", "Bearer second", ""}, seen)
	})
}

func TestFailureClassification(t *testing.T) {
	t.Parallel()

	t.Run("server error carries the structured detail", func(t *testing.T) {
		router := chi.NewRouter()
		router.Get("/boom", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte(`{"detail":"tender already awarded"}`))
		})

		client := newTestClient(t, router, &stubCredentials{token: "tok"})
		err := client.GetJSON(context.Background(), "/boom", nil)

		require.True(t, apierror.IsKind(err, apierror.KindServer))
		classified := err.(*apierror.Error)
		require.Equal(t, http.StatusInternalServerError, classified.Status)
		require.Equal(t, "tender already awarded", classified.Message)
	})

	t.Run("server error without a readable body gets the generic message", func(t *testing.T) {
		router := chi.NewRouter()
		router.Get("/boom", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
			w.Write([]byte("<html>oops</html>"))
		})

		client := newTestClient(t, router, &stubCredentials{})
		err := client.GetJSON(context.Background(), "/boom", nil)

		require.True(t, apierror.IsKind(err, apierror.KindServer))
		require.Equal(t, "An error occurred", err.(*apierror.Error).Message)
	})

	t.Run("no response at all is a network failure with status zero", func(t *testing.T) {
		server := httptest.NewServer(http.NotFoundHandler())
		server.Close() // nothing is listening anymore

		client := New(server.URL, time.Second, &stubCredentials{})
		err := client.GetJSON(context.Background(), "/anything", nil)

		require.True(t, apierror.IsKind(err, apierror.KindNetwork))
		classified := err.(*apierror.Error)
		require.Zero(t, classified.Status)
		require.Contains(t, classified.Message, "connection")
	})

	t.Run("unparsable success body is a parse failure", func(t *testing.T) {
		router := chi.NewRouter()
		router.Get("/bad", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("not json"))
		})

		client := newTestClient(t, router, &stubCredentials{})
		var out map[string]any
		err := client.GetJSON(context.Background(), "/bad", &out)

		require.True(t, apierror.IsKind(err, apierror.KindParse))
	})

	t.Run("forbidden is classified like unauthorized", func(t *testing.T) {
		router := chi.NewRouter()
		router.Get("/denied", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusForbidden)
			w.Write([]byte(`{"detail":"not your tenant"}`))
		})

		client := newTestClient(t, router, &stubCredentials{token: "tok"})
		err := client.GetJSON(context.Background(), "/denied", nil)

		require.True(t, apierror.IsKind(err, apierror.KindUnauthorized))
		require.Equal(t, "not your tenant", err.(*apierror.Error).Message)
	})
}

func TestUnauthorizedTeardownCollapses(t *testing.T) {
	t.Parallel()

	router := chi.NewRouter()
	router.Get("/protected", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"detail":"token expired"}`))
	})

	var teardowns atomic.Int32
	client := newTestClient(t, router, &stubCredentials{token: "stale"},
		WithUnauthorizedHook(func() { teardowns.Add(1) }))

	const concurrent = 16
	var wg sync.WaitGroup
	errs := make([]error, concurrent)
	for i := 0; i < concurrent; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = client.GetJSON(context.Background(), "/protected", nil)
		}(i)
	}
	wg.Wait()

	require.EqualValues(t, 1, teardowns.Load(), "concurrent auth failures must collapse into one teardown")
	for _, err := range errs {
		require.True(t, apierror.IsKind(err, apierror.KindUnauthorized))
	}

	t.Run("latch re-arms for the next session epoch", func(t *testing.T) {
		client.ResetTeardownLatch()
		_ = client.GetJSON(context.Background(), "/protected", nil)
		require.EqualValues(t, 2, teardowns.Load())
	})
}

func TestPostFormEncoding(t *testing.T) {
	t.Parallel()

	var gotContentType, gotUsername, gotPassword string
	router := chi.NewRouter()
	router.Post("/login", func(w http.ResponseWriter, r *http.Request) {
		gotContentType = r.Header.Get("Content-Type")
		_ = r.ParseForm()
		gotUsername = r.PostFormValue("username")
		gotPassword = r.PostFormValue("password")
		w.Write([]byte(`{"access_token":"tok","token_type":"bearer"}`))
	})

	client := newTestClient(t, router, &stubCredentials{})

	form := url.Values{}
	form.Set("username", "alice")
	form.Set("password", "s3cret")

	var out struct {
		AccessToken string `json:"access_token"`
	}
	require.NoError(t, client.PostForm(context.Background(), "/login", form, &out))

	require.Equal(t, "application/x-www-form-urlencoded", gotContentType)
	require.Equal(t, "alice", gotUsername)
	require.Equal(t, "s3cret", gotPassword)
	require.Equal(t, "tok", out.AccessToken)
}

func TestRateLimitPacing(t *testing.T) {
	t.Parallel()

	router := chi.NewRouter()
	router.Get("/ping", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	})

	// 1 rps with burst 1: the second call must wait roughly a second.
	client := newTestClient(t, router, &stubCredentials{}, WithRateLimit(1))

	start := time.Now()
	require.NoError(t, client.GetJSON(context.Background(), "/ping", nil))
	require.NoError(t, client.GetJSON(context.Background(), "/ping", nil))
	require.GreaterOrEqual(t, time.Since(start), 900*time.Millisecond)
}

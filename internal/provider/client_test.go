package provider

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/smmsync/internal/domain"
)

func remoteOrder(id string) domain.Order {
	return domain.Order{ID: "local-" + id, ProviderOrderID: &id}
}

func TestSessionFetchStatus(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "k-1", r.PostForm.Get("key"))
		assert.Equal(t, "555", r.PostForm.Get("order"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"Completed","start_count":"10","remains":"0","charge":"0.5"}`))
	}))
	defer srv.Close()

	p := domain.Provider{ID: "p1", APIURL: srv.URL, APIKey: "k-1", Status: domain.ProviderStatusActive}
	session := NewClient(nil).NewSession()

	res, err := session.FetchStatus(context.Background(), p, remoteOrder("555"))
	require.NoError(t, err)
	assert.Equal(t, "Completed", res.RawStatus)
	assert.EqualValues(t, 1, hits.Load())
}

func TestSessionFetchStatusNonSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream down"))
	}))
	defer srv.Close()

	p := domain.Provider{ID: "p1", APIURL: srv.URL}
	res, err := NewClient(nil).NewSession().FetchStatus(context.Background(), p, remoteOrder("1"))
	require.Error(t, err)

	fe, ok := IsFetchError(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusBadGateway, fe.StatusCode)
	assert.Equal(t, "upstream down", fe.Body)
	assert.Equal(t, "upstream down", res.Raw)
}

func TestSessionFetchStatusTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	p := domain.Provider{ID: "p1", APIURL: srv.URL, TimeoutSeconds: 1}
	start := time.Now()
	_, err := NewClient(nil).NewSession().FetchStatus(context.Background(), p, remoteOrder("1"))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestSessionFetchStatusMissingRemoteID(t *testing.T) {
	_, err := NewClient(nil).NewSession().FetchStatus(context.Background(), domain.Provider{ID: "p1"}, domain.Order{ID: "o1"})
	require.ErrorIs(t, err, domain.ErrInvalidProviderOrderID)
}

func TestSessionCachesSpecAndLimiter(t *testing.T) {
	catalog, err := ParseCatalog([]byte("providers:\n  p1:\n    rate_limit:\n      per_second: 100\n      burst: 1\n"))
	require.NoError(t, err)

	session := NewClient(catalog).NewSession()
	spec1, lim1 := session.resolve("p1")
	spec2, lim2 := session.resolve("p1")
	require.NotNil(t, lim1)
	assert.Same(t, lim1, lim2)
	assert.Equal(t, spec1, spec2)

	_, noLimiter := session.resolve("p2")
	assert.Nil(t, noLimiter)

	// новая сессия получает свой лимитер
	_, lim3 := NewClient(catalog).NewSession().resolve("p1")
	assert.NotSame(t, lim1, lim3)
}

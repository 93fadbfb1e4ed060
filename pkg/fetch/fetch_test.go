package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/vloop/pkg/fault"
)

type product struct {
	ID string `json:"id"`
}

func TestGetJSON_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/products/1", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"1"}`))
	}))
	defer srv.Close()

	var p product
	err := NewClient(srv.URL).GetJSON(context.Background(), "/api/products/1", &p)
	require.NoError(t, err)
	assert.Equal(t, "1", p.ID)
}

func TestGetJSON_ServerErrorRaises(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "database down", http.StatusInternalServerError)
	}))
	defer srv.Close()

	var p *product
	err := NewClient(srv.URL).GetJSON(context.Background(), "api/products", &p)
	require.Error(t, err, "a 500 must raise, not return an empty value")
	assert.Nil(t, p)

	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusInternalServerError, se.StatusCode)
	assert.Contains(t, se.Error(), "database down")
	assert.Equal(t, 500, StatusCode(err))
}

func TestGetJSON_NotFoundRaises(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	err := NewClient(srv.URL).GetJSON(context.Background(), "/missing", &product{})
	assert.Equal(t, http.StatusNotFound, StatusCode(err))
}

func TestGetJSON_NoContentIsNotAFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	p := product{ID: "unchanged"}
	err := NewClient(srv.URL).GetJSON(context.Background(), "/empty", &p)
	require.NoError(t, err)
	assert.Equal(t, "unchanged", p.ID)
}

func TestGetJSON_MalformedBodyRaisesDecode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":`))
	}))
	defer srv.Close()

	err := NewClient(srv.URL).GetJSON(context.Background(), "/bad", &product{})
	assert.Equal(t, fault.EDecode, fault.CodeOf(err))
}

func TestGet_TransportErrorRaises(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewClient(url).Get(context.Background(), "/anything")
	require.Error(t, err)
	assert.Equal(t, 0, StatusCode(err))
}

func TestPostJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "secret", r.Header.Get("X-API-Key"))
		_, _ = w.Write([]byte(`{"id":"new"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	c.Header.Set("X-API-Key", "secret")

	var out product
	require.NoError(t, c.PostJSON(context.Background(), "/api/products", product{ID: "in"}, &out))
	assert.Equal(t, "new", out.ID)
}

func TestResolve_RelativePathNeedsBase(t *testing.T) {
	_, err := (&Client{}).Get(context.Background(), "/x")
	assert.Equal(t, fault.EUsage, fault.CodeOf(err))
}

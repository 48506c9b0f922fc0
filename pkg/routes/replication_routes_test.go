package routes

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jgirmay/pulse/pkg/replication"
)

func newShapeRouter(t *testing.T, upstream string) *gin.Engine {
	proxy, err := replication.NewProxy(replication.ProxyConfig{
		UpstreamURL:   upstream,
		Secret:        "s3cret",
		AllowedTables: []string{"attendance_entries"},
	}, nil, nil, nil)
	require.NoError(t, err)

	router := gin.New()
	router.Use(withUser("u1"))
	RegisterReplicationRoutes(router, proxy)
	return router
}

func TestShapeRouteForwards(t *testing.T) {
	var gotQuery string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		w.Header().Set("Electric-Offset", "0_0")
		_, _ = io.WriteString(w, `[]`)
	}))
	t.Cleanup(upstream.Close)

	rec := doJSON(t, newShapeRouter(t, upstream.URL+"/v1/shape"), http.MethodGet,
		"/v1/shape?table=attendance_entries&offset=-1&access_token=abc", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "0_0", rec.Header().Get("Electric-Offset"))
	assert.Equal(t, `[]`, rec.Body.String())
	assert.Contains(t, gotQuery, "secret=s3cret")
	assert.NotContains(t, gotQuery, "access_token")
}

func TestShapeRouteErrors(t *testing.T) {
	rec := doJSON(t, newShapeRouter(t, "http://127.0.0.1:1/v1/shape"), http.MethodGet, "/v1/shape?table=users", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, newShapeRouter(t, "http://127.0.0.1:1/v1/shape"), http.MethodGet, "/v1/shape?table=attendance_entries", nil)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

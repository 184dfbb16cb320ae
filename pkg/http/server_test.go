package http

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
)

type routes struct{}

func (routes) RegisterRoutes(e *echo.Echo) {
	e.GET("/boom", func(echo.Context) error { panic("kaboom") })
	e.GET("/jobs/:job", func(c echo.Context) error { return SuccessResponse(c, c.Param("job")) })
	e.GET("/missing", func(c echo.Context) error { return AppErrorResponse(c, BadRequestError("nope")) })
}

func serve(s *Server, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestServer_Routes(t *testing.T) {
	s := NewServer(routes{}, WithCORS(true))

	assert.Equal(t, http.StatusOK, serve(s, "/healthz").Code)

	rec := serve(s, "/jobs/ingest")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":200,"message":"OK","data":"ingest"}`, rec.Body.String())

	rec = serve(s, "/missing")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), `"code":"ERR_BAD_REQUEST"`)

	// recovered panics become 500s
	assert.Equal(t, http.StatusInternalServerError, serve(s, "/boom").Code)

	rec = serve(s, "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `signalforge_http_requests_total{class="2xx",method="GET",route="/jobs/:job"}`), "route template label")
}

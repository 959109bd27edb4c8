package requestid

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serve(t *testing.T, header string) (string, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(Middleware())
	var seen string
	router.GET("/", func(c *gin.Context) {
		seen = Value(c)
		c.Status(http.StatusOK)
	})
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if header != "" {
		req.Header.Set(headerKey, header)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return seen, w.Header().Get(headerKey)
}

func TestMiddlewareReusesInboundID(t *testing.T) {
	seen, echoed := serve(t, "req-123")
	assert.Equal(t, "req-123", seen)
	assert.Equal(t, "req-123", echoed)
}

func TestMiddlewareReplacesMalformedID(t *testing.T) {
	seen, echoed := serve(t, "bad id\r\n"+strings.Repeat("x", 80))
	_, err := uuid.Parse(seen)
	require.NoError(t, err)
	assert.Equal(t, seen, echoed)
}

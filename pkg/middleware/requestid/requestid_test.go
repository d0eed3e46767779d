package requestid

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMiddlewarePropagatesID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	var fromCtx, fromGin string
	router := gin.New()
	router.Use(Middleware())
	router.GET("/", func(c *gin.Context) {
		fromCtx = FromContext(c.Request.Context())
		fromGin = Value(c)
	})

	tests := []struct {
		name     string
		incoming string
		reuse    bool
	}{
		{name: "reuses sane id", incoming: "abc-12345678", reuse: true},
		{name: "replaces missing id"},
		{name: "replaces hostile id", incoming: "x\r\nSet-Cookie: a=b"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.incoming != "" {
				req.Header[Header] = []string{tc.incoming}
			}
			router.ServeHTTP(w, req)

			got := w.Header().Get(Header)
			require.NotEmpty(t, got)
			assert.Equal(t, got, fromCtx)
			assert.Equal(t, got, fromGin)
			if tc.reuse {
				assert.Equal(t, tc.incoming, got)
			} else {
				assert.NotEqual(t, tc.incoming, got)
				assert.Len(t, got, 36)
			}
		})
	}
}

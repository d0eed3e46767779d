package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/erp-registration-api/internal/service"
	"github.com/noah-isme/erp-registration-api/pkg/middleware/requestid"
)

func TestResponseMetaCarriesRequestIDAndCacheHit(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(requestid.Middleware(), WithResponseMeta())
	router.GET("/catalog", func(c *gin.Context) {
		SetCacheHit(c, true)
		c.JSON(http.StatusOK, ExtractMeta(c))
	})

	recorder := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/catalog", nil)
	req.Header.Set(requestid.Header, "mobile-retry-0001")
	router.ServeHTTP(recorder, req)

	var meta map[string]interface{}
	if err := json.Unmarshal(recorder.Body.Bytes(), &meta); err != nil {
		t.Fatalf("decode meta: %v", err)
	}
	if meta["request_id"] != "mobile-retry-0001" {
		t.Fatalf("unexpected request id: %v", meta["request_id"])
	}
	if meta["cache_hit"] != true {
		t.Fatalf("expected cache_hit to be true, got %v", meta["cache_hit"])
	}
}

func TestSetCacheHitWithoutMetaMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())

	SetCacheHit(c, false)
	if got := ExtractMeta(c)[cacheHitKey]; got != false {
		t.Fatalf("expected cache_hit false, got %v", got)
	}
}

func TestMetricsSkipsProbesAndCollapsesUnmatchedRoutes(t *testing.T) {
	gin.SetMode(gin.TestMode)
	metrics := service.NewMetricsService()
	router := gin.New()
	router.Use(Metrics(metrics, "/health"))
	router.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })
	router.GET("/registrations/:id", func(c *gin.Context) { c.Status(http.StatusOK) })

	for _, path := range []string{"/health", "/registrations/a", "/registrations/b", "/nope"} {
		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	if got := metrics.Snapshot().RequestsTotal; got != 3 {
		t.Fatalf("expected 3 observed requests, got %d", got)
	}
}

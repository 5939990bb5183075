package health

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

func serve(h *Handler, path string) *httptest.ResponseRecorder {
	gin.SetMode(gin.TestMode)
	engine := gin.New()
	h.RegisterRoutes(engine)

	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func TestLiveness(t *testing.T) {
	h := NewHandler(map[string]Pinger{"database": pinger{err: errors.New("down")}})

	w := serve(h, "/health/live")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"UP"}`, w.Body.String())
}

func TestReadiness(t *testing.T) {
	h := NewHandler(map[string]Pinger{"database": pinger{}, "redis": nil})
	assert.Equal(t, http.StatusOK, serve(h, "/health/ready").Code)

	h = NewHandler(map[string]Pinger{"database": pinger{}, "redis": pinger{err: errors.New("connection refused")}})
	w := serve(h, "/health/ready")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.JSONEq(t, `{"status":"DOWN","checks":{"redis":"connection refused"}}`, w.Body.String())
}

package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"policy-rag-go/pkg/token"
)

func newProtectedRouter(m *token.JWTManager, enabled bool) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/private", AuthMiddleware(m, enabled), func(c *gin.Context) {
		user := ""
		if v, ok := c.Get("claims"); ok {
			user = v.(*token.OperatorClaims).Username
		}
		c.String(http.StatusOK, user)
	})
	return r
}

func TestAuthMiddleware(t *testing.T) {
	m := token.NewJWTManager("test-secret", 1)
	tok, _, err := m.GenerateToken("operator")
	require.NoError(t, err)
	other, _, err := token.NewJWTManager("another-secret", 1).GenerateToken("operator")
	require.NoError(t, err)

	cases := []struct {
		name   string
		path   string
		header string
		want   int
		body   string
	}{
		{"bearer header", "/private", "Bearer " + tok, http.StatusOK, "operator"},
		{"query token", "/private?token=" + tok, "", http.StatusOK, "operator"},
		{"missing token", "/private", "", http.StatusUnauthorized, ""},
		{"wrong scheme", "/private", "Basic abc", http.StatusUnauthorized, ""},
		{"foreign signature", "/private", "Bearer " + other, http.StatusUnauthorized, ""},
	}
	r := newProtectedRouter(m, true)
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tc.path, nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tc.want, w.Code)
			if tc.body != "" {
				assert.Equal(t, tc.body, w.Body.String())
			}
		})
	}

	w := httptest.NewRecorder()
	newProtectedRouter(m, false).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/private", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

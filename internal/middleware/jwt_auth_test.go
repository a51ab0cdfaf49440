package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestGenerateAndParseToken(t *testing.T) {
	token, err := GenerateAccessToken(7, "ops-admin")
	if err != nil {
		t.Fatalf("GenerateAccessToken() error = %v", err)
	}

	claims, err := ParseToken(token)
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}
	assert.Equal(t, int64(7), claims.OperatorID)
	assert.Equal(t, "ops-admin", claims.Name)
	assert.Equal(t, "access", claims.Subject)
}

func TestParseToken_Invalid(t *testing.T) {
	if _, err := ParseToken("not-a-token"); err == nil {
		t.Fatal("垃圾 token 应解析失败")
	}
}

func TestParseToken_Expired(t *testing.T) {
	old := jwtConfig
	defer SetJWTConfig(old)

	SetJWTConfig(&JWTConfig{
		SecretKey:      old.SecretKey,
		AccessTokenTTL: -time.Minute, // 签出即过期
		Issuer:         old.Issuer,
	})

	token, err := GenerateAccessToken(1, "x")
	if err != nil {
		t.Fatalf("GenerateAccessToken() error = %v", err)
	}
	if _, err := ParseToken(token); err == nil {
		t.Fatal("过期 token 应解析失败")
	}
}

func newAuthRouter() *gin.Engine {
	r := gin.New()
	r.GET("/protected", JWTAuth(), func(c *gin.Context) {
		claims := c.MustGet(ContextKeyOperator).(*OperatorClaims)
		c.JSON(200, gin.H{"operator_id": claims.OperatorID})
	})
	return r
}

func TestJWTAuth_MissingHeader(t *testing.T) {
	r := newAuthRouter()

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/protected", nil)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestJWTAuth_BadFormat(t *testing.T) {
	r := newAuthRouter()

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/protected", nil)
	req.Header.Set("Authorization", "Basic abc123")
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestJWTAuth_ValidToken(t *testing.T) {
	r := newAuthRouter()

	token, err := GenerateAccessToken(9, "ops")
	if err != nil {
		t.Fatalf("GenerateAccessToken() error = %v", err)
	}

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"operator_id":9`)
}

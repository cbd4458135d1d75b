package validation

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestIsValidUID(t *testing.T) {
	tests := []struct {
		uid   string
		valid bool
	}{
		{"3", true},
		{"0", true},
		{"255", true},
		{"12345", true},
		{"123456", false},
		{"", false},
		{"-1", false},
		{"3a", false},
		{" 3", false},
		{"../3", false},
	}

	for _, tc := range tests {
		if got := IsValidUID(tc.uid); got != tc.valid {
			t.Errorf("IsValidUID(%q) = %v, want %v", tc.uid, got, tc.valid)
		}
	}
}

func TestUIDParamMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.GET("/validators/:uid", UIDParamMiddleware(), func(c *gin.Context) {
		c.String(200, c.Param("uid"))
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/validators/3", nil))
	if w.Code != http.StatusOK {
		t.Errorf("valid uid status = %d", w.Code)
	}

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/validators/abc", nil))
	if w.Code != http.StatusBadRequest {
		t.Errorf("invalid uid status = %d, want 400", w.Code)
	}
	if !strings.Contains(w.Body.String(), "invalid_uid") {
		t.Errorf("unexpected body %s", w.Body.String())
	}
}

func TestRequestSizeMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.Use(RequestSizeMiddleware(8))
	router.POST("/", func(c *gin.Context) {
		if err := c.Request.ParseForm(); err != nil {
			c.String(http.StatusRequestEntityTooLarge, "too large")
			return
		}
		c.String(200, "ok")
	})

	req := httptest.NewRequest("POST", "/", strings.NewReader("validator=123456789"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("oversized body status = %d", w.Code)
	}
}

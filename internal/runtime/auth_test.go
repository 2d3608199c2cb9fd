package runtime

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
)

func TestEchoAuthMiddlewareBearer(t *testing.T) {
	secret := []byte("test-secret")
	signed, err := SignJWT("user-1", secret, time.Hour)
	if err != nil {
		t.Fatalf("SignJWT: %v", err)
	}

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+signed)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	called := false
	handler := EchoAuthMiddleware(secret)(func(c echo.Context) error {
		called = true
		if got := c.Get("user_id"); got != "user-1" {
			t.Fatalf("user_id = %v", got)
		}
		if sub, ok := SubjectFromContext(c.Request().Context()); !ok || sub != "user-1" {
			t.Fatalf("subject = %q ok=%t", sub, ok)
		}
		return nil
	})
	if err := handler(c); err != nil {
		t.Fatalf("handler: %v", err)
	}
	if !called {
		t.Fatal("next handler not called")
	}
}

func TestEchoAuthMiddlewareRejects(t *testing.T) {
	secret := []byte("test-secret")
	e := echo.New()

	for name, header := range map[string]string{
		"missing": "",
		"garbage": "Bearer not-a-token",
	} {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if header != "" {
				req.Header.Set("Authorization", header)
			}
			c := e.NewContext(req, httptest.NewRecorder())
			err := EchoAuthMiddleware(secret)(func(echo.Context) error { return nil })(c)
			he, ok := err.(*echo.HTTPError)
			if !ok || he.Code != http.StatusUnauthorized {
				t.Fatalf("err = %v, want 401", err)
			}
		})
	}
}

func TestEchoAuthMiddlewareWrongSecret(t *testing.T) {
	signed, err := SignJWT("user-1", []byte("secret-a"), time.Hour)
	if err != nil {
		t.Fatalf("SignJWT: %v", err)
	}
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+signed)
	c := e.NewContext(req, httptest.NewRecorder())

	err = EchoAuthMiddleware([]byte("secret-b"))(func(echo.Context) error { return nil })(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusUnauthorized {
		t.Fatalf("err = %v, want 401", err)
	}
}

package pagination

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func paramsFor(t *testing.T, query string) Params {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/?"+query, nil)
	rec := httptest.NewRecorder()
	return FromContext(e.NewContext(req, rec))
}

func TestFromContext_Defaults(t *testing.T) {
	p := paramsFor(t, "")
	if p.First != 0 {
		t.Errorf("expected first 0, got %d", p.First)
	}
	if p.Max != DefaultMax {
		t.Errorf("expected max %d, got %d", DefaultMax, p.Max)
	}
}

func TestFromContext_Explicit(t *testing.T) {
	p := paramsFor(t, "first=20&max=10")
	if p.First != 20 || p.Max != 10 {
		t.Errorf("expected {20 10}, got %+v", p)
	}
}

func TestFromContext_ClampsMax(t *testing.T) {
	p := paramsFor(t, "max=100000")
	if p.Max != MaxMax {
		t.Errorf("expected max clamped to %d, got %d", MaxMax, p.Max)
	}
}

func TestFromContext_NegativeFirst(t *testing.T) {
	p := paramsFor(t, "first=-5")
	if p.First != 0 {
		t.Errorf("expected negative first reset to 0, got %d", p.First)
	}
}

func TestFromContext_GarbageValues(t *testing.T) {
	p := paramsFor(t, "first=abc&max=xyz")
	if p.First != 0 || p.Max != DefaultMax {
		t.Errorf("expected defaults for garbage values, got %+v", p)
	}
}

func TestNext(t *testing.T) {
	p := Params{First: 0, Max: 100}
	n := p.Next()
	if n.First != 100 || n.Max != 100 {
		t.Errorf("expected {100 100}, got %+v", n)
	}
}

func TestHasMore(t *testing.T) {
	p := Params{First: 0, Max: 100}
	if !p.HasMore(100) {
		t.Error("full page should report more")
	}
	if p.HasMore(99) {
		t.Error("short page should not report more")
	}
}

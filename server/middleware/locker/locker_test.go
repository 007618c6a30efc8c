package locker

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi"
	"github.com/spieswl/webrtc-perception/generichttp"
)

type table generichttp.RouteTable

func (t table) RT() generichttp.RouteTable { return generichttp.RouteTable(t) }

func serve(l *Locker) http.Handler {
	rt := table{
		{Method: http.MethodPost, Path: "/pattern"}: func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		},
	}
	Inject(rt, l)
	r := chi.NewRouter()
	r.Use(l.Check)
	rt.RT().Bind(r)
	return r
}

func do(h http.Handler, method, path, body string) int {
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(method, path, strings.NewReader(body)))
	return w.Code
}

func TestLockOverHTTP(t *testing.T) {
	l := New()
	h := serve(l)
	if code := do(h, http.MethodPost, "/pattern", ""); code != http.StatusOK {
		t.Fatalf("expected 200 unlocked, got %d", code)
	}
	if code := do(h, http.MethodPost, "/lock", `{"bool":true}`); code != http.StatusOK {
		t.Fatalf("expected lock to succeed, got %d", code)
	}
	if code := do(h, http.MethodPost, "/pattern", ""); code != http.StatusLocked {
		t.Errorf("expected 423 while locked, got %d", code)
	}
	if code := do(h, http.MethodPost, "/lock", `{"bool":false}`); code != http.StatusOK {
		t.Fatalf("expected unlock through the lock route, got %d", code)
	}
	if code := do(h, http.MethodPost, "/pattern", ""); code != http.StatusOK {
		t.Errorf("expected 200 after unlock, got %d", code)
	}
}

func TestBusyLocks(t *testing.T) {
	busy := true
	l := NewBusy(func() bool { return busy }, "stop")
	h := serve(l)
	if code := do(h, http.MethodPost, "/pattern", ""); code != http.StatusLocked {
		t.Errorf("expected 423 while busy, got %d", code)
	}
	busy = false
	if code := do(h, http.MethodPost, "/pattern", ""); code != http.StatusOK {
		t.Errorf("expected 200 when no longer busy, got %d", code)
	}
	if !strings.Contains(strings.Join(l.DoNotProtect, ","), "stop") {
		t.Error("extra unprotected paths were dropped")
	}
}

package identity_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmerrifield20/filewarden/internal/identity"
)

func newTestSessions(t *testing.T, ttl time.Duration) *identity.SessionIssuer {
	t.Helper()
	s, err := identity.NewSessionIssuer([]byte("test-secret"), "wardend", ttl)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestNewSessionIssuer_emptySecret(t *testing.T) {
	if _, err := identity.NewSessionIssuer(nil, "wardend", time.Minute); err == nil {
		t.Error("expected error for empty secret")
	}
}

func TestSessionIssuer_roundTrip(t *testing.T) {
	s := newTestSessions(t, time.Hour)

	ticket, expires, err := s.Issue("sess-1", "notes.txt", "addr")
	if err != nil {
		t.Fatalf("Issue() error: %v", err)
	}
	if len(strings.Split(ticket, ".")) != 3 {
		t.Errorf("expected 3-part JWT")
	}
	if time.Until(expires) < 59*time.Minute {
		t.Errorf("unexpected expiry %v", expires)
	}

	claims, err := s.Verify(ticket)
	if err != nil {
		t.Fatalf("Verify() error: %v", err)
	}
	if claims.ID != "sess-1" || claims.Path != "notes.txt" || claims.Address != "addr" {
		t.Errorf("unexpected claims %+v", claims)
	}
}

func TestSessionIssuer_expired(t *testing.T) {
	s := newTestSessions(t, time.Nanosecond)
	ticket, _, _ := s.Issue("", "a", "b")
	time.Sleep(2 * time.Millisecond)
	if _, err := s.Verify(ticket); err == nil {
		t.Error("expected error for expired ticket")
	}
}

func TestSessionIssuer_wrongSecret(t *testing.T) {
	s1 := newTestSessions(t, time.Hour)
	s2, _ := identity.NewSessionIssuer([]byte("other"), "wardend", time.Hour)
	ticket, _, _ := s1.Issue("", "a", "b")
	if _, err := s2.Verify(ticket); err == nil {
		t.Error("expected error for ticket signed with another secret")
	}
}

func TestRequireTicket(t *testing.T) {
	gin.SetMode(gin.TestMode)
	s := newTestSessions(t, time.Hour)

	r := gin.New()
	r.POST("/done", identity.RequireTicket(s), func(c *gin.Context) {
		c.String(http.StatusOK, identity.SessionClaimsFromCtx(c).Path)
	})

	ticket, _, _ := s.Issue("", "notes.txt", "addr")
	cases := []struct {
		name   string
		header string
		want   int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"garbage", "Bearer nope", http.StatusUnauthorized},
		{"valid", "Bearer " + ticket, http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/done", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			if w.Code != tc.want {
				t.Errorf("status: got %d, want %d (%s)", w.Code, tc.want, w.Body.String())
			}
			if tc.want == http.StatusOK && w.Body.String() != "notes.txt" {
				t.Errorf("claims not injected: %q", w.Body.String())
			}
		})
	}
}

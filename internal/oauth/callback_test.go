package oauth

import (
	"context"
	"net/url"
	"testing"
	"time"
)

func TestParseCallback(t *testing.T) {
	cases := []struct {
		name  string
		query url.Values
		want  Outcome
	}{
		{
			"provider error",
			url.Values{"error": {"access_denied"}},
			Outcome{Type: OutcomeError, Err: "access_denied"},
		},
		{
			"error wins over success",
			url.Values{"error": {"boom"}, "success": {"true"}},
			Outcome{Type: OutcomeError, Err: "boom"},
		},
		{
			"success",
			url.Values{"success": {"true"}},
			Outcome{Type: OutcomeSuccess},
		},
		{
			"requires verification",
			url.Values{"requiresVerification": {"true"}, "email": {"a@b.es"}},
			Outcome{Type: OutcomeRequiresVerification, Email: "a@b.es"},
		},
		{
			"requires registration",
			url.Values{"requiresRegistration": {"true"}, "email": {"a@b.es"}},
			Outcome{Type: OutcomeRequiresRegistration, Email: "a@b.es"},
		},
		{
			"bare email legacy fallback",
			url.Values{"email": {"a@b.es"}},
			Outcome{Type: OutcomeRequiresRegistration, Email: "a@b.es"},
		},
		{
			"verification flag without email is not verification",
			url.Values{"requiresVerification": {"true"}},
			Outcome{Type: OutcomeError, Err: "unknown authentication outcome"},
		},
		{
			"empty query",
			url.Values{},
			Outcome{Type: OutcomeError, Err: "unknown authentication outcome"},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ParseCallback(tc.query); got != tc.want {
				t.Fatalf("ParseCallback = %+v; want %+v", got, tc.want)
			}
		})
	}
}

func TestNextStepFor(t *testing.T) {
	t.Run("success goes to the requested page", func(t *testing.T) {
		s := NextStepFor(Outcome{Type: OutcomeSuccess}, "/chat")
		if s.Route != "/chat" || len(s.Query) != 0 {
			t.Fatalf("step = %+v", s)
		}
	})
	t.Run("success defaults to root", func(t *testing.T) {
		s := NextStepFor(Outcome{Type: OutcomeSuccess}, "")
		if s.Route != "/" {
			t.Fatalf("step = %+v", s)
		}
	})
	t.Run("registration preserves email and redirect", func(t *testing.T) {
		s := NextStepFor(Outcome{Type: OutcomeRequiresRegistration, Email: "a@b.es"}, "/chat")
		if s.Route != "/register" {
			t.Fatalf("route = %q", s.Route)
		}
		if s.Query.Get("google") != "1" || s.Query.Get("email") != "a@b.es" || s.Query.Get("redirect") != "/chat" {
			t.Fatalf("query = %v", s.Query)
		}
	})
	t.Run("verification drops default redirect", func(t *testing.T) {
		s := NextStepFor(Outcome{Type: OutcomeRequiresVerification, Email: "a@b.es"}, "/")
		if s.Route != "/verification" {
			t.Fatalf("route = %q", s.Route)
		}
		if s.Query.Has("redirect") {
			t.Fatalf("default redirect should be omitted: %v", s.Query)
		}
	})
	t.Run("error returns to login with the reason", func(t *testing.T) {
		s := NextStepFor(Outcome{Type: OutcomeError, Err: "denied"}, "/chat")
		if s.Route != "/login" || s.Query.Get("error") != "denied" {
			t.Fatalf("step = %+v", s)
		}
	})
}

func TestRegistry_DispatchByState(t *testing.T) {
	reg := NewRegistry()
	h1 := NewHandshake()
	h2 := NewHandshake()
	reg.Register(h1)
	reg.Register(h2)

	if reg.Dispatch(url.Values{"state": {"unknown"}, "success": {"true"}}) {
		t.Fatalf("unknown state accepted")
	}

	if !reg.Dispatch(url.Values{"state": {h2.State()}, "success": {"true"}}) {
		t.Fatalf("matching state rejected")
	}
	out := h2.Await(context.Background(), time.Second, 0, nil)
	if out.Type != OutcomeSuccess {
		t.Fatalf("h2 outcome = %+v", out)
	}

	// h1 is untouched and can still settle independently.
	reg.Unregister(h1)
	if reg.Dispatch(url.Values{"state": {h1.State()}, "success": {"true"}}) {
		t.Fatalf("unregistered attempt still dispatchable")
	}
}

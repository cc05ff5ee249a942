package client

import "testing"

func TestCommandAllowedExactStateVerbs(t *testing.T) {
	if !commandAllowed("STARTTLS", StateConnected) {
		t.Fatalf("STARTTLS should be legal when Connected")
	}
	if commandAllowed("STARTTLS", StateAuthenticated) {
		t.Fatalf("STARTTLS should not be legal once Authenticated")
	}
	if !commandAllowed("ENABLE", StateAuthenticated) {
		t.Fatalf("ENABLE should be legal when Authenticated")
	}
	if commandAllowed("ENABLE", StateSelected) {
		t.Fatalf("ENABLE should not be legal once Selected")
	}
	if !commandAllowed("COMPRESS", StateConnected) || !commandAllowed("COMPRESS", StateAuthenticated) {
		t.Fatalf("COMPRESS should be legal both Connected and Authenticated")
	}
	if commandAllowed("COMPRESS", StateSelected) {
		t.Fatalf("COMPRESS should not be legal once Selected")
	}
}

func TestCommandAllowedFloorVerbs(t *testing.T) {
	if commandAllowed("SELECT", StateConnected) {
		t.Fatalf("SELECT requires at least Authenticated")
	}
	if !commandAllowed("SELECT", StateAuthenticated) {
		t.Fatalf("SELECT should be legal when Authenticated")
	}
	if !commandAllowed("SELECT", StateSelected) {
		t.Fatalf("SELECT should still be legal when already Selected (re-select)")
	}
}

func TestCommandAllowedSelectedOnlyVerbs(t *testing.T) {
	if commandAllowed("FETCH", StateAuthenticated) {
		t.Fatalf("FETCH requires Selected")
	}
	if !commandAllowed("FETCH", StateSelected) {
		t.Fatalf("FETCH should be legal when Selected")
	}
}

func TestCommandAllowedAlwaysLegalVerbs(t *testing.T) {
	for _, s := range []State{StateConnected, StateAuthenticated, StateSelected} {
		if !commandAllowed("LOGOUT", s) {
			t.Fatalf("LOGOUT should be legal in state %v", s)
		}
		if !commandAllowed("NOOP", s) {
			t.Fatalf("NOOP should be legal in state %v", s)
		}
	}
}

func TestStateString(t *testing.T) {
	cases := map[State]string{
		StateDisconnected:  "Disconnected",
		StateConnected:     "Connected",
		StateAuthenticated: "Authenticated",
		StateSelected:      "Selected",
		StateIdle:          "Idle",
	}
	for s, want := range cases {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", s, got, want)
		}
	}
}

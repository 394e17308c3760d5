package ledger

import "testing"

func TestTerminalStatus(t *testing.T) {
	terminal := []string{StatusRejected, StatusSettled, StatusFailed}
	for _, s := range terminal {
		if !TerminalStatus(s) {
			t.Fatalf("expected %s to be terminal", s)
		}
	}
	live := []string{StatusInitiated, StatusAuthorized, StatusSettlementPending, ""}
	for _, s := range live {
		if TerminalStatus(s) {
			t.Fatalf("expected %q not to be terminal", s)
		}
	}
}

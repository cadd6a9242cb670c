package domain

import (
	"errors"
	"testing"
	"time"
)

func signer(account string, order int, status SignerStatus) SigningSession {
	return SigningSession{SignerAccount: account, SignOrder: order, SignerStatus: status}
}

func TestDeriveStatusAllSigned(t *testing.T) {
	got := DeriveStatus([]SigningSession{
		signer("a", 1, SignerSigned),
		signer("b", 2, SignerSigned),
	}, StatusSubmitted)
	if got != StatusFullySigned {
		t.Fatalf("expected FULLY_SIGNED, got %s", got)
	}
}

func TestDeriveStatusDeclineWinsRegardlessOfOrder(t *testing.T) {
	variants := [][]SigningSession{
		{signer("a", 1, SignerDeclined), signer("b", 2, SignerPending)},
		{signer("a", 1, SignerPending), signer("b", 2, SignerDeclined)},
		{signer("a", 1, SignerSigned), signer("b", 2, SignerDeclined)},
	}
	for _, v := range variants {
		if got := DeriveStatus(v, StatusSubmitted); got != StatusRejected {
			t.Fatalf("expected REJECTED, got %s", got)
		}
	}
}

func TestDeriveStatusPartialAndFallback(t *testing.T) {
	if got := DeriveStatus([]SigningSession{
		signer("a", 1, SignerSigned),
		signer("b", 2, SignerPending),
	}, StatusSubmitted); got != StatusPartiallySigned {
		t.Fatalf("expected PARTIALLY_SIGNED, got %s", got)
	}
	if got := DeriveStatus([]SigningSession{
		signer("a", 1, SignerPending),
	}, StatusSubmitted); got != StatusSubmitted {
		t.Fatalf("expected fallback SUBMITTED, got %s", got)
	}
	if got := DeriveStatus(nil, StatusDraft); got != StatusDraft {
		t.Fatalf("expected fallback DRAFT for no signers, got %s", got)
	}
}

func TestIsTerminal(t *testing.T) {
	terminal := []ContractStatus{StatusFullySigned, StatusRejected, StatusExpired, StatusVoid}
	for _, s := range terminal {
		if !IsTerminal(s) {
			t.Fatalf("expected %s to be terminal", s)
		}
	}
	open := []ContractStatus{StatusDraft, StatusSubmitted, StatusPartiallySigned}
	for _, s := range open {
		if IsTerminal(s) {
			t.Fatalf("expected %s to be open", s)
		}
	}
}

func TestHasLiveSignURL(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)
	url := "https://sign.example/s/abc"

	var s SigningSession
	if s.HasLiveSignURL(now) {
		t.Fatalf("empty session should not have a live url")
	}
	s = SigningSession{SignURL: &url, SignURLExpires: &past}
	if s.HasLiveSignURL(now) {
		t.Fatalf("expired url should not be live")
	}
	s = SigningSession{SignURL: &url, SignURLExpires: &future}
	if !s.HasLiveSignURL(now) {
		t.Fatalf("unexpired url should be live")
	}
	s = SigningSession{SignURL: &url}
	if !s.HasLiveSignURL(now) {
		t.Fatalf("url without expiry should be treated as live")
	}
}

func TestPredecessorsSigned(t *testing.T) {
	signers := []SigningSession{
		signer("first", 1, SignerPending),
		signer("second", 2, SignerPending),
	}
	if PredecessorsSigned(signers, "second") {
		t.Fatalf("second should be blocked while first is pending")
	}
	signers[0].SignerStatus = SignerSigned
	if !PredecessorsSigned(signers, "second") {
		t.Fatalf("second should be allowed once first signed")
	}
	if !PredecessorsSigned(signers, "first") {
		t.Fatalf("first has no predecessors")
	}
	if !PredecessorsSigned(signers, "unknown") {
		t.Fatalf("unknown accounts are not blocked here")
	}
}

func TestCheckStatusTransition(t *testing.T) {
	open := Contract{ContractNumber: "CON12345678901", Status: StatusSubmitted, LastProviderRev: 3}

	if err := CheckStatusTransition(open, 4); err != nil {
		t.Fatalf("newer revision must pass: %v", err)
	}
	if err := CheckStatusTransition(open, 3); !errors.Is(err, ErrStaleRevision) {
		t.Fatalf("equal revision: expected ErrStaleRevision, got %v", err)
	}
	if err := CheckStatusTransition(open, 2); !errors.Is(err, ErrStaleRevision) {
		t.Fatalf("older revision: expected ErrStaleRevision, got %v", err)
	}

	for _, s := range []ContractStatus{StatusFullySigned, StatusRejected, StatusExpired, StatusVoid} {
		terminal := Contract{ContractNumber: "CON12345678901", Status: s}
		if err := CheckStatusTransition(terminal, 10); !errors.Is(err, ErrTerminalState) {
			t.Fatalf("%s: expected ErrTerminalState, got %v", s, err)
		}
	}
}

func TestCheckSupersessionAcceptsUnsignedContract(t *testing.T) {
	oldC := Contract{ContractNumber: "CON12345678001", Status: StatusSubmitted}
	newC := Contract{ContractNumber: "CON12345678002", Status: StatusDraft}
	signers := []SigningSession{
		signer("a", 1, SignerPending),
		signer("b", 2, SignerDeclined),
	}
	if err := CheckSupersession(oldC, signers, newC); err != nil {
		t.Fatalf("no SIGNED signer, supersession must be allowed: %v", err)
	}
}

func TestCheckSupersessionRejectsSignedSigner(t *testing.T) {
	oldC := Contract{ContractNumber: "CON12345678001", Status: StatusPartiallySigned}
	newC := Contract{ContractNumber: "CON12345678002", Status: StatusDraft}
	signers := []SigningSession{
		signer("a", 1, SignerSigned),
		signer("b", 2, SignerPending),
	}
	if err := CheckSupersession(oldC, signers, newC); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict for signed signer, got %v", err)
	}
}

func TestCheckSupersessionRejectsRelink(t *testing.T) {
	prev := "CON12345678000"
	oldC := Contract{ContractNumber: "CON12345678001", Status: StatusSubmitted}
	newC := Contract{ContractNumber: "CON12345678002", ReplacesContractID: &prev}
	if err := CheckSupersession(oldC, nil, newC); !errors.Is(err, ErrAlreadySuperseded) {
		t.Fatalf("expected ErrAlreadySuperseded, got %v", err)
	}
}

func TestCheckSupersessionRejectsTerminalOld(t *testing.T) {
	newC := Contract{ContractNumber: "CON12345678002"}
	for _, s := range []ContractStatus{StatusFullySigned, StatusRejected, StatusExpired} {
		oldC := Contract{ContractNumber: "CON12345678001", Status: s}
		if err := CheckSupersession(oldC, nil, newC); !errors.Is(err, ErrConflict) {
			t.Fatalf("%s: expected ErrConflict, got %v", s, err)
		}
	}
	// VOID old contracts may still be relinked; voiding is what
	// supersession itself does.
	oldVoid := Contract{ContractNumber: "CON12345678001", Status: StatusVoid}
	if err := CheckSupersession(oldVoid, nil, newC); err != nil {
		t.Fatalf("VOID old contract must be linkable: %v", err)
	}
}

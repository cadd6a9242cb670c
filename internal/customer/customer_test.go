package customer

import (
	"context"
	"testing"
)

func TestCheckPhoneUniqueRequiresPhone(t *testing.T) {
	s := New(nil)
	if err := s.CheckPhoneUnique(context.Background(), "   ", ""); err == nil {
		t.Fatalf("expected error for blank phone")
	}
}

func TestCheckIDNumberUniqueSkipsEmpty(t *testing.T) {
	s := New(nil)
	if err := s.CheckIDNumberUnique(context.Background(), "", "cust-1"); err != nil {
		t.Fatalf("empty id number must pass: %v", err)
	}
	if err := s.CheckIDNumberUnique(context.Background(), "  ", "cust-1"); err != nil {
		t.Fatalf("blank id number must pass: %v", err)
	}
}

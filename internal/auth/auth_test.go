package auth

import (
	"errors"
	"testing"

	"github.com/danmuck/wirectl/internal/testutil/testlog"
)

func TestStaticTokenValidate(t *testing.T) {
	testlog.Start(t)
	tests := []struct {
		name    string
		stored  string
		input   string
		wantErr error
	}{
		{name: "empty token denied", stored: "", input: "abc", wantErr: ErrUnauthorized},
		{name: "mismatched token denied", stored: "abc", input: "xyz", wantErr: ErrUnauthorized},
		{name: "matching token accepted", stored: "abc", input: "abc", wantErr: nil},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := (StaticToken{Token: tc.stored}).Validate(tc.input)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected err %v, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestAnyPrincipal(t *testing.T) {
	testlog.Start(t)
	a := AnyPrincipal{Validator: FuncValidator(func(token string) error {
		if token != "ok" {
			return ErrUnauthorized
		}
		return nil
	})}
	if err := a.Authenticate("anyone", "ok"); err != nil {
		t.Fatalf("expected accepted token, got %v", err)
	}
	if err := a.Authenticate("anyone", "bad"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if err := (AnyPrincipal{}).Authenticate("anyone", "ok"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected nil validator to deny, got %v", err)
	}
}

func TestUserTable(t *testing.T) {
	testlog.Start(t)
	table := NewUserTable(map[string]string{" alice ": "s3cret", "bob": ""})

	if err := table.Authenticate("alice", "s3cret"); err != nil {
		t.Fatalf("expected alice accepted, got %v", err)
	}
	for _, tc := range []struct{ user, token string }{
		{"alice", "wrong"},
		{"bob", ""},
		{"mallory", ""},
		{"mallory", "s3cret"},
	} {
		if err := table.Authenticate(tc.user, tc.token); !errors.Is(err, ErrUnauthorized) {
			t.Fatalf("%s/%q: expected ErrUnauthorized, got %v", tc.user, tc.token, err)
		}
	}

	table.Replace(map[string]string{"carol": "t"})
	if table.Len() != 1 {
		t.Fatalf("expected 1 user after replace, got %d", table.Len())
	}
	if err := table.Authenticate("alice", "s3cret"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected alice removed, got %v", err)
	}
}

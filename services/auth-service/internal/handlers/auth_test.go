package handlers

import "testing"

func TestPasswordHashing(t *testing.T) {
	password := "pass123"
	hash, err := hashPassword(password)
	if err != nil {
		t.Fatalf("hashPassword failed: %v", err)
	}
	if hash == "" {
		t.Fatal("expected non-empty hash")
	}
	if err := verifyPassword(hash, password); err != nil {
		t.Fatalf("verifyPassword should succeed: %v", err)
	}
	if err := verifyPassword(hash, "wrong-pass"); err == nil {
		t.Fatal("verifyPassword should fail for wrong password")
	}
}

func TestNormalizeRole(t *testing.T) {
	tests := []struct {
		in     string
		want   string
		wantOK bool
	}{
		{in: "", want: "customer", wantOK: true},
		{in: "customer", want: "customer", wantOK: true},
		{in: "Provider", want: "provider", wantOK: true},
		{in: " provider ", want: "provider", wantOK: true},
		{in: "admin", wantOK: false},
		{in: "owner", wantOK: false},
	}
	for _, tc := range tests {
		got, ok := normalizeRole(tc.in)
		if ok != tc.wantOK || (ok && got != tc.want) {
			t.Errorf("normalizeRole(%q) = %q, %v; want %q, %v", tc.in, got, ok, tc.want, tc.wantOK)
		}
	}
}

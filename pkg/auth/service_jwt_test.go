package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestExtractToken(t *testing.T) {
	tests := []struct {
		header  string
		want    string
		wantErr bool
	}{
		{"Bearer abc.def", "abc.def", false},
		{"bearer   abc ", "abc", false},
		{"", "", true},
		{"Basic abc", "", true},
		{"Bearer ", "", true},
	}

	for _, tt := range tests {
		got, err := ExtractToken(tt.header)
		if (err != nil) != tt.wantErr {
			t.Errorf("ExtractToken(%q) error = %v, wantErr %v", tt.header, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ExtractToken(%q) = %q, want %q", tt.header, got, tt.want)
		}
	}
}

func TestServiceToken_RoundTrip(t *testing.T) {
	a, err := NewServiceTokenAuth("secret", time.Minute)
	if err != nil {
		t.Fatal(err)
	}

	token, err := a.IssueToken("summarizer")
	if err != nil {
		t.Fatalf("IssueToken failed: %v", err)
	}

	claims, err := a.VerifyToken(token)
	if err != nil {
		t.Fatalf("VerifyToken failed: %v", err)
	}
	if claims.Service != "summarizer" {
		t.Errorf("Expected service summarizer, got %q", claims.Service)
	}
}

func TestServiceToken_Rejects(t *testing.T) {
	a, _ := NewServiceTokenAuth("secret", time.Minute)
	other, _ := NewServiceTokenAuth("other-secret", time.Minute)

	foreign, _ := other.IssueToken("svc")
	if _, err := a.VerifyToken(foreign); err == nil {
		t.Error("Token signed with another secret must be rejected")
	}

	expired, _ := NewServiceTokenAuth("secret", -time.Minute)
	old, _ := expired.IssueToken("svc")
	if _, err := a.VerifyToken(old); err == nil {
		t.Error("Expired token must be rejected")
	}

	wrongIssuer := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Issuer:    "someone-else",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
	})
	signed, _ := wrongIssuer.SignedString([]byte("secret"))
	if _, err := a.VerifyToken(signed); err == nil {
		t.Error("Token from another issuer must be rejected")
	}

	if _, err := NewServiceTokenAuth("", 0); err == nil {
		t.Error("Empty secret must be rejected")
	}
}

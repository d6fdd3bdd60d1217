package auth

import (
	"errors"
	"testing"
	"time"
)

func TestAuthenticator(t *testing.T) {
	hash, err := HashPassword("s3cret")
	if err != nil {
		t.Fatalf("HashPassword() error = %v", err)
	}
	a := NewAuthenticator(hash, testSecret, time.Minute)

	t.Run("login", func(t *testing.T) {
		token, expires, err := a.Login("s3cret")
		if err != nil {
			t.Fatalf("Login() error = %v", err)
		}
		if time.Until(expires) > time.Minute {
			t.Errorf("expires = %v, want within a minute", expires)
		}
		claims, err := a.Validate(token)
		if err != nil {
			t.Fatalf("Validate() error = %v", err)
		}
		if claims.Subject != AdminSubject || claims.Role != RoleAdmin {
			t.Errorf("claims = %s/%s, want admin/admin", claims.Subject, claims.Role)
		}
	})

	t.Run("wrong password", func(t *testing.T) {
		if _, _, err := a.Login("guess"); !errors.Is(err, ErrInvalidCredentials) {
			t.Errorf("Login() error = %v, want ErrInvalidCredentials", err)
		}
	})

	t.Run("issue viewer", func(t *testing.T) {
		token, _, err := a.Issue("dashboard", RoleViewer)
		if err != nil {
			t.Fatalf("Issue() error = %v", err)
		}
		claims, err := a.Validate(token)
		if err != nil {
			t.Fatalf("Validate() error = %v", err)
		}
		if claims.Subject != "dashboard" || claims.Role != RoleViewer {
			t.Errorf("claims = %s/%s, want dashboard/viewer", claims.Subject, claims.Role)
		}
	})
}

func TestAuthenticator_LoginDisabled(t *testing.T) {
	a := NewAuthenticator("", testSecret, time.Minute)
	if _, _, err := a.Login("anything"); !errors.Is(err, ErrLoginDisabled) {
		t.Errorf("Login() error = %v, want ErrLoginDisabled", err)
	}
}

package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "test-secret-key-for-jwt-signing-0123"

func TestGenerateAndParseAccessToken(t *testing.T) {
	token, expires, err := GenerateAccessToken(AdminSubject, RoleAdmin, testSecret, 15*time.Minute)
	if err != nil {
		t.Fatalf("GenerateAccessToken() error = %v", err)
	}
	if token == "" {
		t.Fatal("GenerateAccessToken() returned empty token")
	}

	claims, err := ParseToken(token, testSecret)
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}
	if claims.Subject != AdminSubject {
		t.Errorf("Subject = %q, want %q", claims.Subject, AdminSubject)
	}
	if claims.Role != RoleAdmin {
		t.Errorf("Role = %q, want %q", claims.Role, RoleAdmin)
	}
	if claims.ID == "" {
		t.Error("JTI (ID) should not be empty")
	}
	if !claims.ExpiresAt.Time.Equal(expires.Truncate(time.Second)) {
		t.Errorf("ExpiresAt = %v, want %v", claims.ExpiresAt.Time, expires)
	}
}

func TestGenerateAccessToken_DefaultTTL(t *testing.T) {
	_, expires, err := GenerateAccessToken(AdminSubject, RoleViewer, testSecret, 0)
	if err != nil {
		t.Fatalf("GenerateAccessToken() error = %v", err)
	}

	diff := time.Until(expires) - 15*time.Minute
	if diff < -time.Minute || diff > time.Minute {
		t.Errorf("default TTL should be ~15 minutes, got expiry diff of %v", diff)
	}
}

func TestParseToken_Rejected(t *testing.T) {
	valid, _, err := GenerateAccessToken(AdminSubject, RoleAdmin, testSecret, time.Minute)
	if err != nil {
		t.Fatalf("GenerateAccessToken() error = %v", err)
	}

	sign := func(claims Claims, method jwt.SigningMethod, key any) string {
		t.Helper()
		s, err := jwt.NewWithClaims(method, claims).SignedString(key)
		if err != nil {
			t.Fatalf("signing: %v", err)
		}
		return s
	}
	base := func() Claims {
		return Claims{
			RegisteredClaims: jwt.RegisteredClaims{
				Subject:   AdminSubject,
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
			},
			Role: RoleAdmin,
		}
	}

	expired := base()
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))
	noExpiry := base()
	noExpiry.ExpiresAt = nil
	noSubject := base()
	noSubject.Subject = ""
	badRole := base()
	badRole.Role = "owner"

	tests := []struct {
		name   string
		token  string
		secret string
	}{
		{"empty", "", testSecret},
		{"garbage", "not-a-valid-jwt", testSecret},
		{"malformed", "abc.def", testSecret},
		{"wrong secret", valid, "another-secret-key-that-is-long-enough"},
		{"expired", sign(expired, jwt.SigningMethodHS256, []byte(testSecret)), testSecret},
		{"no expiry", sign(noExpiry, jwt.SigningMethodHS256, []byte(testSecret)), testSecret},
		{"no subject", sign(noSubject, jwt.SigningMethodHS256, []byte(testSecret)), testSecret},
		{"unknown role", sign(badRole, jwt.SigningMethodHS256, []byte(testSecret)), testSecret},
		{"HS512", sign(base(), jwt.SigningMethodHS512, []byte(testSecret)), testSecret},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseToken(tt.token, tt.secret)
			if !errors.Is(err, ErrTokenInvalid) {
				t.Errorf("ParseToken() error = %v, want ErrTokenInvalid", err)
			}
		})
	}
}

func TestParseRole(t *testing.T) {
	for _, r := range ValidRoles {
		got, err := ParseRole(string(r))
		if err != nil || got != r {
			t.Errorf("ParseRole(%q) = %q, %v", r, got, err)
		}
	}
	if _, err := ParseRole("owner"); !errors.Is(err, ErrUnknownRole) {
		t.Errorf("ParseRole(owner) error = %v, want ErrUnknownRole", err)
	}
}

func TestHasPermission(t *testing.T) {
	tests := []struct {
		role Role
		perm Permission
		want bool
	}{
		{RoleAdmin, PermDeviceRead, true},
		{RoleAdmin, PermDeviceCommand, true},
		{RoleAdmin, PermBridgeRefresh, true},
		{RoleViewer, PermDeviceRead, true},
		{RoleViewer, PermDeviceCommand, false},
		{RoleViewer, PermBridgeRefresh, false},
		{Role("unknown"), PermDeviceRead, false},
	}

	for _, tt := range tests {
		if got := HasPermission(tt.role, tt.perm); got != tt.want {
			t.Errorf("HasPermission(%s, %s) = %v, want %v", tt.role, tt.perm, got, tt.want)
		}
	}
}

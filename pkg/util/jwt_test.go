package util

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestJWTRoundTrip(t *testing.T) {
	tok, err := GenerateJWT("ui-shell", "operator", "secret", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	claims, err := ParseJWT(tok, "secret")
	if err != nil {
		t.Fatal(err)
	}
	if claims.Subject != "ui-shell" || claims.Role != "operator" {
		t.Fatalf("claims = %+v", claims)
	}
	if _, err := ParseJWT(tok, "other"); err == nil {
		t.Fatal("wrong secret accepted")
	}
}

func TestParseJWTRejectsExpiredAndForeignAlg(t *testing.T) {
	expired, _ := GenerateJWT("ui-shell", "", "secret", -time.Minute)
	if _, err := ParseJWT(expired, "secret"); err == nil {
		t.Fatal("expired token accepted")
	}

	claims := jwt.RegisteredClaims{Subject: "x", ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))}
	hs512, _ := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString([]byte("secret"))
	if _, err := ParseJWT(hs512, "secret"); err == nil {
		t.Fatal("HS512 token accepted")
	}

	noSubject, _ := GenerateJWT("", "", "secret", time.Hour)
	if _, err := ParseJWT(noSubject, "secret"); err == nil {
		t.Fatal("token without subject accepted")
	}
}

func TestExtractToken(t *testing.T) {
	cases := map[string]string{
		"":           "",
		"Bearer abc": "abc",
		"bearer abc": "abc",
		"Basic abc":  "",
		"Bearer a b": "",
	}
	for header, want := range cases {
		r := httptest.NewRequest("GET", "/", nil)
		if header != "" {
			r.Header.Set("Authorization", header)
		}
		if got := ExtractToken(r); got != want {
			t.Errorf("ExtractToken(%q) = %q, want %q", header, got, want)
		}
	}
}

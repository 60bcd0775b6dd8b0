package utils

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

func TestTokenRoundTrip(t *testing.T) {
	identity := Identity{UserID: uuid.New(), Role: "admin"}

	token, err := GenerateToken("secret", identity, time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	got, err := ParseToken("secret", token)
	if err != nil {
		t.Fatalf("ParseToken: %v", err)
	}
	if got != identity {
		t.Fatalf("identity = %+v, want %+v", got, identity)
	}
}

func TestParseTokenRejectsWrongSecret(t *testing.T) {
	token, _ := GenerateToken("secret", Identity{UserID: uuid.New(), Role: "client"}, time.Hour)
	if _, err := ParseToken("other", token); err == nil {
		t.Fatalf("token accepted with the wrong secret")
	}
}

func TestParseTokenRejectsExpired(t *testing.T) {
	token, _ := GenerateToken("secret", Identity{UserID: uuid.New(), Role: "client"}, -time.Minute)
	if _, err := ParseToken("secret", token); err == nil {
		t.Fatalf("expired token accepted")
	}
}

func TestParseTokenRejectsOtherAlgorithms(t *testing.T) {
	claims := jwt.MapClaims{"user_id": uuid.NewString(), "role": "admin"}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString([]byte("secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := ParseToken("secret", token); err == nil {
		t.Fatalf("HS512 token accepted")
	}
}

func TestPasswordHash(t *testing.T) {
	hash, err := HashPassword("s3cret")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if !CheckPassword(hash, "s3cret") || CheckPassword(hash, "wrong") {
		t.Fatalf("CheckPassword mismatch")
	}
	if CheckPassword("", "") {
		t.Fatalf("empty hash matched")
	}
}

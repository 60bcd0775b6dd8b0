package handlers_test

import (
	"net/http"
	"testing"

	"github.com/gofiber/fiber/v2"

	"github.com/example/gymledger/internal/models"
	"github.com/example/gymledger/internal/utils"
)

func TestLogin(t *testing.T) {
	env := newTestEnv(t)
	hash, err := utils.HashPassword("s3cret")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if err := env.db.Model(&models.User{}).Where("id = ?", env.staff.ID).Update("password_hash", hash).Error; err != nil {
		t.Fatalf("set password: %v", err)
	}

	resp := env.do(t, jsonRequest(http.MethodPost, "/api/auth/login", map[string]string{"email": " Carla@Example.com ", "password": "s3cret"}), nil)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	out := decode[struct {
		Token string `json:"token"`
	}](t, resp)

	identity, err := utils.ParseToken(testSecret, out.Token)
	if err != nil {
		t.Fatalf("ParseToken: %v", err)
	}
	if identity.UserID != env.staff.ID || identity.Role != models.RoleAdmin {
		t.Fatalf("identity = %+v", identity)
	}

	resp = env.do(t, jsonRequest(http.MethodPost, "/api/auth/login", map[string]string{"email": "carla@example.com", "password": "nope"}), nil)
	if resp.StatusCode != fiber.StatusUnauthorized {
		t.Fatalf("wrong password status = %d, want 401", resp.StatusCode)
	}
}

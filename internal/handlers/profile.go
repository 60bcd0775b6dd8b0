package handlers

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/example/gymledger/internal/middleware"
	"github.com/example/gymledger/internal/models"
	"github.com/example/gymledger/internal/services"
	"github.com/example/gymledger/internal/utils"
)

// ProfileHandler serves the signed-in member's payer details and payment
// history.
type ProfileHandler struct {
	db         *gorm.DB
	settlement *services.SettlementService
}

// NewProfileHandler constructs ProfileHandler.
func NewProfileHandler(db *gorm.DB, settlement *services.SettlementService) *ProfileHandler {
	return &ProfileHandler{db: db, settlement: settlement}
}

// GetProfile returns the payer details ledger entries are written with.
func (h *ProfileHandler) GetProfile(c *fiber.Ctx) error {
	identity, ok := middleware.GetIdentity(c)
	if !ok {
		return fiber.NewError(fiber.StatusUnauthorized, "unauthorized")
	}

	var user models.User
	if err := h.db.WithContext(c.UserContext()).First(&user, "id = ?", identity.UserID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fiber.NewError(fiber.StatusNotFound, "user not found")
		}
		return err
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data": fiber.Map{
			"id":             user.ID,
			"name":           user.Name,
			"email":          user.Email,
			"identification": user.Identification,
			"role":           user.Role,
			"created_at":     user.CreatedAt,
		},
	})
}

// ListPayments returns the caller's own ledger entries, newest first.
func (h *ProfileHandler) ListPayments(c *fiber.Ctx) error {
	identity, ok := middleware.GetIdentity(c)
	if !ok {
		return fiber.NewError(fiber.StatusUnauthorized, "unauthorized")
	}

	pg := utils.ParsePagination(c)
	filter := services.LedgerFilter{
		Status:  strings.TrimSpace(c.Query("status")),
		Method:  strings.TrimSpace(c.Query("method")),
		PayerID: identity.UserID,
	}

	items, err := h.settlement.ListPayments(c.UserContext(), filter, pg.Page, pg.Limit)
	if err != nil {
		return writeSettlementError(c, err)
	}
	total, err := h.settlement.CountPayments(c.UserContext(), filter)
	if err != nil {
		return writeSettlementError(c, err)
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    items,
		"pagination": fiber.Map{
			"current_page":   pg.Page,
			"items_per_page": pg.Limit,
			"total_items":    total,
			"has_next":       int64(pg.Page*pg.Limit) < total,
		},
	})
}

package controllers

import (
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/artspark/artspark/app/models"
	"github.com/artspark/artspark/internal/pkg/credits"
	"github.com/artspark/artspark/internal/pkg/database"
	"github.com/artspark/artspark/internal/pkg/env"
	"github.com/artspark/artspark/internal/pkg/mail"
	"github.com/artspark/artspark/internal/pkg/session"
)

const (
	AUTH_KEY       string = "authenticated"
	USER_ID        string = "user_id"
	USER_NAME      string = "username"
	USER_IS_ADMIN  string = "isAdmin"
	FROM_PROTECTED string = "from_protected"
)

type registerRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// HandleAuthRegister creates an inactive account and mails an activation
// magic link.
func HandleAuthRegister(c *fiber.Ctx) error {
	var req registerRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request"})
	}

	user, err := models.CreateUser(req.Name, strings.ToLower(strings.TrimSpace(req.Email)), req.Password)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "validation_failed", "message": err.Error()})
	}

	db := database.GetDB()
	var existing models.User
	if db.Where("email = ?", user.Email).First(&existing).Error == nil {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "email_taken"})
	}

	if err := user.GenerateMagicLinkToken(); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "registration_failed"})
	}
	if err := db.Create(user).Error; err != nil {
		log.Errorf("[Auth] failed to create user %s: %v", user.Email, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "registration_failed"})
	}

	// New accounts start with the free-plan credit allowance.
	if _, err := credits.NewService(db).EnsureInitialized(c.UserContext(), user.ID); err != nil {
		log.Warnf("[Auth] credit init for user %d failed: %v", user.ID, err)
	}

	sendMagicLink(user, "Activate your ArtSpark account")

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"ok":      true,
		"message": "check your inbox for the activation link",
	})
}

// HandleAuthLogin authenticates with email and password.
func HandleAuthLogin(c *fiber.Ctx) error {
	var req loginRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request"})
	}

	// Login failures are reported uniformly so the endpoint does not leak
	// which emails exist.
	var user models.User
	result := database.GetDB().Where("email = ?", strings.ToLower(strings.TrimSpace(req.Email))).First(&user)
	if result.Error != nil || !user.CheckPassword(req.Password) {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid_credentials"})
	}
	if !user.IsActive() {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "account_not_activated"})
	}

	if err := establishSession(c, &user); err != nil {
		log.Errorf("[Auth] session for user %d failed: %v", user.ID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "login_failed"})
	}

	database.GetDB().Model(&user).Update("last_login_at", time.Now())

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"ok":   true,
		"user": fiber.Map{"id": user.ID, "name": user.Name, "email": user.Email},
	})
}

// HandleAuthLogout destroys the session.
func HandleAuthLogout(c *fiber.Ctx) error {
	sess, err := session.GetSessionStore().Get(c)
	if err == nil {
		if derr := sess.Destroy(); derr != nil {
			log.Warnf("[Auth] session destroy failed: %v", derr)
		}
	}
	c.Locals(FROM_PROTECTED, false)
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true})
}

// HandleMagicLinkRequest mails a fresh login link. Responds identically
// whether or not the email exists.
func HandleMagicLinkRequest(c *fiber.Ctx) error {
	var req struct {
		Email string `json:"email"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request"})
	}

	resp := fiber.Map{"ok": true, "message": "if the address exists, a login link is on its way"}

	var user models.User
	if err := database.GetDB().Where("email = ?", strings.ToLower(strings.TrimSpace(req.Email))).First(&user).Error; err != nil {
		return c.Status(fiber.StatusOK).JSON(resp)
	}

	if err := user.GenerateMagicLinkToken(); err != nil {
		return c.Status(fiber.StatusOK).JSON(resp)
	}
	if err := database.GetDB().Save(&user).Error; err != nil {
		log.Errorf("[Auth] saving magic link token for user %d failed: %v", user.ID, err)
		return c.Status(fiber.StatusOK).JSON(resp)
	}

	sendMagicLink(&user, "Your ArtSpark login link")
	return c.Status(fiber.StatusOK).JSON(resp)
}

// HandleMagicLinkVerify consumes a magic link token, activating the account
// on first use.
func HandleMagicLinkVerify(c *fiber.Ctx) error {
	token := strings.TrimSpace(c.Params("token"))
	if token == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "missing_token"})
	}

	var user models.User
	if err := database.GetDB().Where("magic_link_token = ?", token).First(&user).Error; err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid_token"})
	}
	if !user.IsMagicLinkTokenValid(token) {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "token_expired"})
	}

	updates := map[string]interface{}{
		"magic_link_token": "",
		"last_login_at":    time.Now(),
	}
	if !user.IsActive() {
		updates["status"] = models.STATUS_ACTIVE
		user.Status = models.STATUS_ACTIVE
	}
	if err := database.GetDB().Model(&user).Updates(updates).Error; err != nil {
		log.Errorf("[Auth] activating user %d failed: %v", user.ID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "activation_failed"})
	}

	if err := establishSession(c, &user); err != nil {
		log.Errorf("[Auth] session for user %d failed: %v", user.ID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "login_failed"})
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"ok":   true,
		"user": fiber.Map{"id": user.ID, "name": user.Name, "email": user.Email},
	})
}

func establishSession(c *fiber.Ctx, user *models.User) error {
	sess, err := session.GetSessionStore().Get(c)
	if err != nil {
		return err
	}
	sess.Set(AUTH_KEY, true)
	sess.Set(USER_ID, user.ID)
	sess.Set(USER_NAME, user.Name)
	sess.Set(USER_IS_ADMIN, user.Role == models.ROLE_ADMIN)
	return sess.Save()
}

func sendMagicLink(user *models.User, subject string) {
	base := strings.TrimRight(env.GetEnv("PUBLIC_DOMAIN", "http://localhost:4000"), "/")
	link := fmt.Sprintf("%s/auth/magic/%s", base, user.MagicLinkToken)

	body := fmt.Sprintf(
		"<p>Hi %s,</p><p>Click the link below to sign in to ArtSpark:</p><p><a href=%q>%s</a></p><p>The link is valid for 24 hours.</p>",
		user.Name, link, link,
	)
	if err := mail.SendMail(user.Email, subject, body); err != nil {
		log.Errorf("[Auth] sending magic link to %s failed: %v", user.Email, err)
	}
}

package controllers

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sujit-baniya/flash"

	"github.com/growthdeskhq/GrowthDesk/app/models"
	"github.com/growthdeskhq/GrowthDesk/internal/pkg/database"
	"github.com/growthdeskhq/GrowthDesk/internal/pkg/session"
	"github.com/growthdeskhq/GrowthDesk/internal/pkg/usercontext"
)

func HandleLoginPage(c *fiber.Ctx) error {
	if isLoggedIn(c) {
		return c.Redirect("/dashboard", fiber.StatusSeeOther)
	}
	return c.Render("login", fiber.Map{
		"Title": "Login",
		"Flash": flash.Get(c),
		"CSRF":  csrfToken(c),
	})
}

func HandleLogin(c *fiber.Ctx) error {
	email := strings.TrimSpace(strings.ToLower(c.FormValue("email")))
	password := c.FormValue("password")
	if email == "" || password == "" {
		return flash.WithError(c, fiber.Map{"type": "error", "message": "Email and password are required"}).Redirect("/login")
	}

	db := database.GetDB()
	var user models.User
	if err := db.Where("email = ?", email).First(&user).Error; err != nil {
		return flash.WithError(c, fiber.Map{"type": "error", "message": "Invalid credentials"}).Redirect("/login")
	}
	if !user.CheckPassword(password) || !user.IsActive() {
		return flash.WithError(c, fiber.Map{"type": "error", "message": "Invalid credentials"}).Redirect("/login")
	}

	if err := createLoginSession(c, &user); err != nil {
		return flash.WithError(c, fiber.Map{"type": "error", "message": "Session could not be created"}).Redirect("/login")
	}

	_ = db.Model(&user).UpdateColumn("last_login_at", time.Now()).Error

	return c.Redirect("/dashboard", fiber.StatusSeeOther)
}

func HandleRegisterPage(c *fiber.Ctx) error {
	if isLoggedIn(c) {
		return c.Redirect("/dashboard", fiber.StatusSeeOther)
	}
	return c.Render("register", fiber.Map{
		"Title": "Register",
		"Flash": flash.Get(c),
		"CSRF":  csrfToken(c),
	})
}

func HandleRegister(c *fiber.Ctx) error {
	name := strings.TrimSpace(c.FormValue("name"))
	email := strings.TrimSpace(strings.ToLower(c.FormValue("email")))
	password := c.FormValue("password")

	user, err := models.CreateUser(name, email, password)
	if err != nil {
		return flash.WithError(c, fiber.Map{"type": "error", "message": "Please check your details and try again"}).Redirect("/register")
	}

	db := database.GetDB()
	if err := db.Create(user).Error; err != nil {
		return flash.WithError(c, fiber.Map{"type": "error", "message": "An account with this email already exists"}).Redirect("/register")
	}

	if err := createLoginSession(c, user); err != nil {
		return flash.WithError(c, fiber.Map{"type": "error", "message": "Session could not be created"}).Redirect("/login")
	}

	return c.Redirect("/dashboard", fiber.StatusSeeOther)
}

func HandleLogout(c *fiber.Ctx) error {
	sess, err := session.GetSessionStore().Get(c)
	if err == nil {
		_ = sess.Destroy()
	}
	return c.Redirect("/", fiber.StatusSeeOther)
}

// createLoginSession writes the authenticated session, including the cached
// tier the user context middleware reads on subsequent requests.
func createLoginSession(c *fiber.Ctx, user *models.User) error {
	sess, err := session.GetSessionStore().Get(c)
	if err != nil {
		return err
	}
	sess.Set(usercontext.KeyUserID, user.ID)
	sess.Set(usercontext.KeyUserName, user.Name)
	sess.Set(usercontext.KeyIsAdmin, user.Role == models.ROLE_ADMIN)
	tier := user.SubscriptionTier
	if tier == "" {
		tier = models.TierFree
	}
	sess.Set("user_tier", tier)
	return sess.Save()
}

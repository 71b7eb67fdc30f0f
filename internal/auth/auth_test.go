package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/sitesafe/ptwcore/internal/db"
	"github.com/sitesafe/ptwcore/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupAuthDB(t *testing.T) *gorm.DB {
	t.Helper()
	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		t.Fatalf("failed to get database instance: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	if err := db.Migrate(gdb); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return gdb
}

func seedIdentity(t *testing.T, gdb *gorm.DB, username, password string, active bool) *models.Identity {
	t.Helper()
	hash, err := HashPassword(password)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	identity := models.Identity{
		ID:           uuid.New(),
		TenantID:     uuid.New(),
		Username:     username,
		PasswordHash: hash,
		Role:         models.RoleSafetyOfficer,
		Active:       active,
	}
	if err := gdb.Create(&identity).Error; err != nil {
		t.Fatalf("seed identity: %v", err)
	}
	return &identity
}

func TestHashAndVerifyPassword(t *testing.T) {
	hash, err := HashPassword("hunter2")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if hash == "hunter2" {
		t.Fatal("password stored in the clear")
	}
	if !VerifyPassword(hash, "hunter2") {
		t.Error("correct password rejected")
	}
	if VerifyPassword(hash, "hunter3") {
		t.Error("wrong password accepted")
	}
}

func TestLogin(t *testing.T) {
	gdb := setupAuthDB(t)
	a := New(gdb, "test-jwt-secret")
	identity := seedIdentity(t, gdb, "safety.officer", "hunter2", true)

	resp, err := a.Login("safety.officer", "hunter2")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if resp.Token == "" {
		t.Error("empty token")
	}
	if resp.Identity.ID != identity.ID {
		t.Errorf("identity = %s, want %s", resp.Identity.ID, identity.ID)
	}

	if _, err := a.Login("safety.officer", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("wrong password = %v", err)
	}
	if _, err := a.Login("nobody", "hunter2"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("unknown user = %v", err)
	}
}

func authTestRouter(a *Authenticator) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/whoami", a.Middleware(), func(c *gin.Context) {
		identity, err := IdentityFromContext(c)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"username": identity.Username})
	})
	return r
}

func TestMiddleware(t *testing.T) {
	gdb := setupAuthDB(t)
	a := New(gdb, "test-jwt-secret")
	seedIdentity(t, gdb, "safety.officer", "hunter2", true)

	resp, err := a.Login("safety.officer", "hunter2")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	router := authTestRouter(a)

	cases := []struct {
		name   string
		header string
		query  string
		want   int
	}{
		{"bearer token", "Bearer " + resp.Token, "", http.StatusOK},
		{"query token", "", resp.Token, http.StatusOK},
		{"missing token", "", "", http.StatusUnauthorized},
		{"malformed header", "Token " + resp.Token, "", http.StatusUnauthorized},
		{"garbage token", "Bearer not-a-jwt", "", http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			target := "/whoami"
			if tc.query != "" {
				target += "?token=" + tc.query
			}
			req := httptest.NewRequest(http.MethodGet, target, nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)
			if w.Code != tc.want {
				t.Errorf("status = %d, want %d (body %s)", w.Code, tc.want, w.Body.String())
			}
		})
	}
}

func TestMiddlewareRejectsDeactivatedIdentity(t *testing.T) {
	gdb := setupAuthDB(t)
	a := New(gdb, "test-jwt-secret")
	identity := seedIdentity(t, gdb, "safety.officer", "hunter2", true)

	resp, err := a.Login("safety.officer", "hunter2")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	// Deactivation revokes outstanding tokens on the next request.
	if err := gdb.Model(identity).Update("active", false).Error; err != nil {
		t.Fatalf("deactivate: %v", err)
	}

	router := authTestRouter(a)
	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer "+resp.Token)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func TestTokenSignedWithOtherSecretRejected(t *testing.T) {
	gdb := setupAuthDB(t)
	seedIdentity(t, gdb, "safety.officer", "hunter2", true)

	issuer := New(gdb, "secret-a")
	verifier := New(gdb, "secret-b")

	resp, err := issuer.Login("safety.officer", "hunter2")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	router := authTestRouter(verifier)
	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer "+resp.Token)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

// Package auth authenticates identities with username/password login and
// HMAC-signed JWT bearer tokens.
package auth

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/sitesafe/ptwcore/internal/models"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUnauthorized       = errors.New("unauthorized")
)

const (
	// IdentityContextKey is the key used to store the identity in the Gin context
	IdentityContextKey = "identity"
	// TokenDuration is the validity period for JWT tokens
	TokenDuration = 24 * time.Hour
)

// LoginRequest represents a login request
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// LoginResponse represents a login response
type LoginResponse struct {
	Token    string           `json:"token"`
	Identity *models.Identity `json:"identity"`
}

// Authenticator issues and validates bearer tokens for identities.
type Authenticator struct {
	db        *gorm.DB
	jwtSecret []byte
}

// New creates an authenticator.
func New(db *gorm.DB, jwtSecret string) *Authenticator {
	return &Authenticator{db: db, jwtSecret: []byte(jwtSecret)}
}

// HashPassword hashes a password using bcrypt
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// VerifyPassword checks if a password matches the hash
func VerifyPassword(hash, password string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	return err == nil
}

// Claims represents JWT claims. Tenant and role ride in the token so audit
// context survives even when the identity row changes later; the middleware
// still reloads the identity to pick up revocations.
type Claims struct {
	IdentityID string `json:"identity_id"`
	TenantID   string `json:"tenant_id"`
	Role       string `json:"role"`
	jwt.RegisteredClaims
}

// Login authenticates an identity and returns a JWT token
func (a *Authenticator) Login(username, password string) (*LoginResponse, error) {
	var identity models.Identity
	result := a.db.Where("username = ?", username).First(&identity)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			slog.Warn("Login attempt with non-existent username", "username", username)
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("database error: %w", result.Error)
	}

	if !VerifyPassword(identity.PasswordHash, password) {
		slog.Warn("Login attempt with incorrect password", "username", username)
		return nil, ErrInvalidCredentials
	}

	token, err := a.generateToken(&identity)
	if err != nil {
		return nil, fmt.Errorf("failed to generate token: %w", err)
	}

	slog.Info("Identity logged in", "identity_id", identity.ID, "username", identity.Username)
	return &LoginResponse{Token: token, Identity: &identity}, nil
}

func (a *Authenticator) generateToken(identity *models.Identity) (string, error) {
	claims := Claims{
		IdentityID: identity.ID.String(),
		TenantID:   identity.TenantID.String(),
		Role:       identity.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(TokenDuration)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    "ptwcore",
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(a.jwtSecret)
	if err != nil {
		return "", err
	}
	return tokenString, nil
}

func (a *Authenticator) validateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.jwtSecret, nil
	})
	if err != nil {
		return nil, err
	}
	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}
	return nil, ErrUnauthorized
}

// Middleware returns a Gin middleware for authentication. It accepts a Bearer
// header or, for EventSource compatibility, a ?token= query parameter.
func (a *Authenticator) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		var tokenString string

		authHeader := c.GetHeader("Authorization")
		if authHeader != "" {
			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || parts[0] != "Bearer" {
				c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization header format"})
				c.Abort()
				return
			}
			tokenString = parts[1]
		} else {
			tokenString = c.Query("token")
		}

		if tokenString == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing authorization"})
			c.Abort()
			return
		}

		identity, err := a.validateAndLoadIdentity(tokenString)
		if err != nil {
			slog.Warn("Invalid token", "error", err)
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token"})
			c.Abort()
			return
		}
		c.Set(IdentityContextKey, identity)
		c.Next()
	}
}

// validateAndLoadIdentity validates a JWT and reloads the identity so
// deactivated accounts lose access immediately.
func (a *Authenticator) validateAndLoadIdentity(tokenString string) (*models.Identity, error) {
	claims, err := a.validateToken(tokenString)
	if err != nil {
		return nil, err
	}

	identityID, err := uuid.Parse(claims.IdentityID)
	if err != nil {
		return nil, fmt.Errorf("invalid identity ID in token: %w", err)
	}

	var identity models.Identity
	if result := a.db.First(&identity, "id = ?", identityID); result.Error != nil {
		return nil, fmt.Errorf("identity not found: %w", result.Error)
	}
	if !identity.Active {
		return nil, ErrUnauthorized
	}
	return &identity, nil
}

// IdentityFromContext extracts the authenticated identity from the Gin context
func IdentityFromContext(c *gin.Context) (*models.Identity, error) {
	value, exists := c.Get(IdentityContextKey)
	if !exists {
		return nil, ErrUnauthorized
	}
	identity, ok := value.(*models.Identity)
	if !ok {
		return nil, errors.New("invalid identity in context")
	}
	return identity, nil
}

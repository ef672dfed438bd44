package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/arnavshah/relief-dispatch-go/pkg/database"
	"github.com/arnavshah/relief-dispatch-go/pkg/logger"
	"github.com/arnavshah/relief-dispatch-go/pkg/models"
)

// HashCost is the bcrypt work factor for new password hashes.
var HashCost = 14

var jwtAlgorithm = jwt.SigningMethodHS256

// ErrInvalidToken is returned for tokens that fail signature or claim checks.
var ErrInvalidToken = errors.New("invalid token")

// Claims represents the JWT claims
type Claims struct {
	UserID   uint   `json:"uid"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// HashPassword hashes a password using bcrypt
func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), HashCost)
	return string(bytes), err
}

// CheckPasswordHash compares a password with its hash
func CheckPasswordHash(password, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	return err == nil
}

// TokenIssuer signs and verifies operator tokens with one shared secret.
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenIssuer creates an issuer; ttl defaults to 24 hours.
func NewTokenIssuer(secret string, ttl time.Duration) *TokenIssuer {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &TokenIssuer{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// CreateToken creates a new JWT token for an account
func (i *TokenIssuer) CreateToken(op models.Operator) (string, error) {
	now := i.now()
	claims := &Claims{
		UserID:   op.ID,
		Username: op.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   op.Username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
	}

	token := jwt.NewWithClaims(jwtAlgorithm, claims)
	return token.SignedString(i.secret)
}

// VerifyToken verifies a JWT token
func (i *TokenIssuer) VerifyToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwtAlgorithm {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return i.secret, nil
	})

	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if !token.Valid || claims.UserID == 0 {
		return nil, ErrInvalidToken
	}

	return claims, nil
}

// Authenticate checks a username and password against the accounts table.
// Inactive accounts may log in; privileges are checked per route.
func Authenticate(ctx context.Context, accounts *database.AccountStore, username, password string) (*database.Account, error) {
	acc, err := accounts.FindByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, database.ErrRecordNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if !CheckPasswordHash(password, acc.PasswordHash) {
		return nil, ErrInvalidCredentials
	}
	return acc, nil
}

// ErrInvalidCredentials is returned for an unknown user or wrong password.
var ErrInvalidCredentials = errors.New("invalid username or password")

// EnsureAdminExists creates the superuser account when no superuser exists yet.
// Without a configured password nothing is created.
func EnsureAdminExists(ctx context.Context, db *gorm.DB, username, password string, log logger.Logger) error {
	if log == nil {
		log = logger.NopLogger{}
	}

	var count int64
	if err := db.WithContext(ctx).Model(&database.Account{}).Where("is_superuser = ?", true).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	if password == "" {
		log.Warnf("no superuser exists and no admin password is configured; skipping bootstrap")
		return nil
	}
	if username == "" {
		username = "admin"
	}

	hash, err := HashPassword(password)
	if err != nil {
		return err
	}

	user := database.Account{
		Username:     username,
		PasswordHash: hash,
		Role:         models.RoleVolunteer,
		FullName:     "Administrator",
	}
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&user).Error; err != nil {
			return err
		}
		return tx.Model(&user).Updates(map[string]interface{}{
			"is_active": true, "is_staff": true, "is_superuser": true,
		}).Error
	})
	if err == nil {
		log.Infof("default admin user created: %s", username)
	}
	return err
}

package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/viper"
	"github.com/walletpay/backend/internal/models"
)

// SQLUserVerifier answers user existence from the local users table.
type SQLUserVerifier struct {
	db *sql.DB
}

func NewSQLUserVerifier(db *sql.DB) *SQLUserVerifier {
	return &SQLUserVerifier{db: db}
}

func (v *SQLUserVerifier) Exists(ctx context.Context, userID string) (bool, error) {
	var exists bool
	err := v.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM users WHERE id = $1)`, userID).Scan(&exists)
	if err != nil {
		return false, &models.CollaboratorUnavailableError{Cause: err}
	}
	return exists, nil
}

// HTTPUserVerifier answers user existence from a remote users service via
// GET /users/{id}/exists, authenticated with a short-lived internal service
// token. A 404 is a definitive "no"; any other failure is transient and must
// not be read as "user does not exist".
type HTTPUserVerifier struct {
	baseURL string
	client  *http.Client
}

func NewHTTPUserVerifier(baseURL string) *HTTPUserVerifier {
	return &HTTPUserVerifier{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 5 * time.Second},
	}
}

type userExistsResponse struct {
	Exists bool `json:"exists"`
}

func (v *HTTPUserVerifier) Exists(ctx context.Context, userID string) (bool, error) {
	token, err := v.serviceToken()
	if err != nil {
		return false, &models.CollaboratorUnavailableError{Cause: err}
	}

	url := fmt.Sprintf("%s/users/%s/exists", v.baseURL, userID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false, &models.CollaboratorUnavailableError{Cause: err}
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := v.client.Do(req)
	if err != nil {
		return false, &models.CollaboratorUnavailableError{Cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return false, nil
	}
	if resp.StatusCode != http.StatusOK {
		return false, &models.CollaboratorUnavailableError{
			Cause: fmt.Errorf("users service returned status %d", resp.StatusCode),
		}
	}

	var body userExistsResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return false, &models.CollaboratorUnavailableError{Cause: err}
	}
	return body.Exists, nil
}

func (v *HTTPUserVerifier) serviceToken() (string, error) {
	secret := viper.GetString("jwt.internal_secret")
	if secret == "" {
		return "", fmt.Errorf("jwt.internal_secret is not configured")
	}

	claims := jwt.MapClaims{
		"sub":     "ledger-service",
		"service": "ledger",
		"exp":     time.Now().Add(5 * time.Minute).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// CachedUserVerifier caches positive existence answers in Redis in front of
// another verifier. Negative answers and transient failures are never
// cached, so a freshly registered user becomes visible immediately.
type CachedUserVerifier struct {
	next  UserVerifier
	redis *redis.Client
	ttl   time.Duration
}

func NewCachedUserVerifier(next UserVerifier, redisClient *redis.Client) *CachedUserVerifier {
	viper.SetDefault("users.exists_cache_ttl", time.Minute*10)
	return &CachedUserVerifier{
		next:  next,
		redis: redisClient,
		ttl:   viper.GetDuration("users.exists_cache_ttl"),
	}
}

func (v *CachedUserVerifier) Exists(ctx context.Context, userID string) (bool, error) {
	key := "user_exists:" + userID

	if v.redis != nil {
		if cached, err := v.redis.Get(ctx, key).Result(); err == nil && cached == "1" {
			return true, nil
		}
	}

	exists, err := v.next.Exists(ctx, userID)
	if err != nil {
		return false, err
	}

	if exists && v.redis != nil {
		if err := v.redis.Set(ctx, key, "1", v.ttl).Err(); err != nil {
			log.Printf("[USERS] Failed to cache existence for %s: %v", userID, err)
		}
	}
	return exists, nil
}

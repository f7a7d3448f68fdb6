package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-redis/redis/v8"
	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/viper"
)

var blacklist *redis.Client

// InitAuthMiddleware wires the Redis client used for the token blacklist.
// A nil client disables blacklist checks.
func InitAuthMiddleware(redisClient *redis.Client) {
	blacklist = redisClient
}

func AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			http.Error(w, "Authorization header required", http.StatusUnauthorized)
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			http.Error(w, "Invalid authorization header format", http.StatusUnauthorized)
			return
		}

		token := parts[1]

		// Reject tokens blacklisted by logout
		if blacklist != nil {
			key := fmt.Sprintf("blacklist:%s", token)
			if exists, err := blacklist.Exists(r.Context(), key).Result(); err == nil && exists > 0 {
				http.Error(w, "Token has been revoked", http.StatusUnauthorized)
				return
			}
		}

		userID, err := validateToken(token, viper.GetString("jwt.secret_key"))
		if err != nil {
			http.Error(w, "Invalid token", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), "userID", userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// InternalAuthMiddleware guards service-to-service endpoints. Peer services
// sign short-lived tokens with the shared internal secret.
func InternalAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			http.Error(w, "Invalid authorization header format", http.StatusUnauthorized)
			return
		}

		if _, err := validateToken(parts[1], viper.GetString("jwt.internal_secret")); err != nil {
			http.Error(w, "Invalid service token", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func validateToken(tokenString, secret string) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil || !token.Valid {
		return "", fmt.Errorf("invalid token: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", fmt.Errorf("invalid claims")
	}

	return fmt.Sprintf("%v", claims["user_id"]), nil
}

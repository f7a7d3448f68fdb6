package services

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-redis/redismock/v8"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPasswordHashing(t *testing.T) {
	hash, err := hashPassword("password123")
	require.NoError(t, err)
	assert.NotEqual(t, "password123", hash)
	assert.Contains(t, hash, "$")

	assert.True(t, verifyPassword("password123", hash))
	assert.False(t, verifyPassword("wrong-password", hash))
	assert.False(t, verifyPassword("password123", "not-a-valid-hash"))

	// Same password hashes differently thanks to the random salt.
	hash2, err := hashPassword("password123")
	require.NoError(t, err)
	assert.NotEqual(t, hash, hash2)
}

func TestAuthService_Register(t *testing.T) {
	viper.Set("jwt.secret_key", "test-secret")

	t.Run("successful registration", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		service := NewAuthService(db, nil)

		mock.ExpectExec("INSERT INTO users").
			WithArgs(sqlmock.AnyArg(), "john@example.com", "John", "Doe", sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))

		body := `{"email": "John@example.com", "password": "password123", "first_name": "John", "last_name": "Doe"}`
		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/register", strings.NewReader(body))
		w := httptest.NewRecorder()

		service.Register(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		var resp AuthResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.NotEmpty(t, resp.Token)
		assert.Equal(t, "john@example.com", resp.User.Email)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("duplicate email", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		service := NewAuthService(db, nil)

		mock.ExpectExec("INSERT INTO users").
			WillReturnError(assert.AnError)

		body := `{"email": "john@example.com", "password": "password123", "first_name": "John", "last_name": "Doe"}`
		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/register", strings.NewReader(body))
		w := httptest.NewRecorder()

		service.Register(w, req)

		assert.Equal(t, http.StatusConflict, w.Code)
	})

	t.Run("validation failure", func(t *testing.T) {
		db, _, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		service := NewAuthService(db, nil)

		body := `{"email": "not-an-email", "password": "short", "first_name": "J", "last_name": "D"}`
		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/register", strings.NewReader(body))
		w := httptest.NewRecorder()

		service.Register(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestAuthService_Login(t *testing.T) {
	viper.Set("jwt.secret_key", "test-secret")

	t.Run("successful login", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		service := NewAuthService(db, nil)

		hash, err := hashPassword("password123")
		require.NoError(t, err)

		mock.ExpectQuery("SELECT id, email, first_name, last_name, password_hash, created_at FROM users").
			WithArgs("john@example.com").
			WillReturnRows(sqlmock.NewRows([]string{"id", "email", "first_name", "last_name", "password_hash", "created_at"}).
				AddRow(testUserID, "john@example.com", "John", "Doe", hash, time.Now().UTC()))

		body := `{"email": "john@example.com", "password": "password123"}`
		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", strings.NewReader(body))
		w := httptest.NewRecorder()

		service.Login(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		var resp AuthResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.NotEmpty(t, resp.Token)
		assert.Equal(t, testUserID, resp.User.ID)
	})

	t.Run("wrong password", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		service := NewAuthService(db, nil)

		hash, err := hashPassword("password123")
		require.NoError(t, err)

		mock.ExpectQuery("SELECT id, email, first_name, last_name, password_hash, created_at FROM users").
			WithArgs("john@example.com").
			WillReturnRows(sqlmock.NewRows([]string{"id", "email", "first_name", "last_name", "password_hash", "created_at"}).
				AddRow(testUserID, "john@example.com", "John", "Doe", hash, time.Now().UTC()))

		body := `{"email": "john@example.com", "password": "wrong-password"}`
		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", strings.NewReader(body))
		w := httptest.NewRecorder()

		service.Login(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("unknown email", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		service := NewAuthService(db, nil)

		mock.ExpectQuery("SELECT id, email, first_name, last_name, password_hash, created_at FROM users").
			WithArgs("ghost@example.com").
			WillReturnRows(sqlmock.NewRows([]string{"id", "email", "first_name", "last_name", "password_hash", "created_at"}))

		body := `{"email": "ghost@example.com", "password": "password123"}`
		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", strings.NewReader(body))
		w := httptest.NewRecorder()

		service.Login(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestAuthService_Logout(t *testing.T) {
	viper.Set("jwt.expiry_hours", 24)

	redisClient, redisMock := redismock.NewClientMock()
	service := NewAuthService(nil, redisClient)

	redisMock.ExpectSet("blacklist:some-token", "1", 24*time.Hour).SetVal("OK")

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/logout", nil)
	req.Header.Set("Authorization", "Bearer some-token")
	w := httptest.NewRecorder()

	service.Logout(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.NoError(t, redisMock.ExpectationsWereMet())
}

func TestAuthService_UserExists(t *testing.T) {
	t.Run("invalid uuid", func(t *testing.T) {
		db, _, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		service := NewAuthService(db, nil)

		req := httptest.NewRequest(http.MethodGet, "/api/v1/users/not-a-uuid/exists", nil)
		w := httptest.NewRecorder()

		service.UserExists(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

package services

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// anyContext matches any context argument in expectations; the sqlmock
// handle shadows the testify mock package inside tests.
var anyContext = mock.Anything

type MockUserVerifier struct {
	mock.Mock
}

func (m *MockUserVerifier) Exists(ctx context.Context, userID string) (bool, error) {
	args := m.Called(ctx, userID)
	return args.Bool(0), args.Error(1)
}

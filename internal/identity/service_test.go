package identity

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/jsverre/stevedore/internal/model"
)

func TestCreateUserHashesPassword(t *testing.T) {
	db := new(mockDB)
	db.On("Exec", mock.Anything, mock.Anything, mock.Anything).Return(pgconn.CommandTag{}, nil)

	svc := NewService(db, time.Hour)
	user, err := svc.CreateUser(context.Background(), "alice", "s3cret", model.UserRoleAdmin)
	require.NoError(t, err)

	assert.NotEmpty(t, user.ID)
	assert.Equal(t, "alice", user.Username)
	assert.NotEqual(t, "s3cret", user.PasswordHash)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte("s3cret")))
	db.AssertExpectations(t)
}

func userRow(passwordHash string) *mockRow {
	return &mockRow{scanFunc: func(dest ...any) error {
		*(dest[0].(*string)) = "u1"
		*(dest[1].(*string)) = "alice"
		*(dest[2].(*string)) = passwordHash
		*(dest[3].(*string)) = model.UserRoleAdmin
		*(dest[4].(*time.Time)) = time.Now()
		return nil
	}}
}

func TestAuthenticateSuccess(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)

	db := new(mockDB)
	db.On("QueryRow", mock.Anything, mock.Anything, mock.Anything).Return(userRow(string(hash)))

	var sessionArgs []any
	db.On("Exec", mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { sessionArgs = args.Get(2).([]any) }).
		Return(pgconn.CommandTag{}, nil)

	svc := NewService(db, time.Hour)
	user, token, err := svc.Authenticate(context.Background(), "alice", "s3cret")
	require.NoError(t, err)

	assert.Equal(t, "u1", user.ID)
	assert.NotEmpty(t, token)

	// Only the hash of the token is persisted.
	require.NotEmpty(t, sessionArgs)
	assert.Equal(t, hashToken(token), sessionArgs[0])
	assert.NotEqual(t, token, sessionArgs[0])
}

func TestAuthenticateWrongPassword(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)

	db := new(mockDB)
	db.On("QueryRow", mock.Anything, mock.Anything, mock.Anything).Return(userRow(string(hash)))

	svc := NewService(db, time.Hour)
	_, _, err = svc.Authenticate(context.Background(), "alice", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestAuthenticateUnknownUser(t *testing.T) {
	db := new(mockDB)
	db.On("QueryRow", mock.Anything, mock.Anything, mock.Anything).Return(&mockRow{
		scanFunc: func(...any) error { return errors.New("no rows in result set") },
	})

	svc := NewService(db, time.Hour)
	_, _, err := svc.Authenticate(context.Background(), "nobody", "s3cret")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestResolveSessionExpired(t *testing.T) {
	db := new(mockDB)
	db.On("QueryRow", mock.Anything, mock.Anything, mock.Anything).Return(&mockRow{
		scanFunc: func(...any) error { return errors.New("no rows in result set") },
	})

	svc := NewService(db, time.Hour)
	_, err := svc.ResolveSession(context.Background(), "stale-token")
	assert.ErrorIs(t, err, ErrSessionExpired)
}

func TestResolveSessionSuccess(t *testing.T) {
	db := new(mockDB)
	db.On("QueryRow", mock.Anything, mock.Anything, mock.Anything).Return(userRow("irrelevant"))

	svc := NewService(db, time.Hour)
	user, err := svc.ResolveSession(context.Background(), "good-token")
	require.NoError(t, err)
	assert.Equal(t, "alice", user.Username)
}

func TestLogoutDeletesSession(t *testing.T) {
	db := new(mockDB)
	db.On("Exec", mock.Anything, mock.Anything, mock.Anything).Return(pgconn.CommandTag{}, nil)

	svc := NewService(db, time.Hour)
	require.NoError(t, svc.Logout(context.Background(), "some-token"))
	db.AssertExpectations(t)
}

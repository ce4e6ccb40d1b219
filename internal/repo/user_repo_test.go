package repo

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestUserRepo_Timezone(t *testing.T) {
	ctx := context.Background()
	userID := uuid.New()
	tz := "Europe/Berlin"

	db := new(mockDBTX)
	db.On("QueryRow", ctx, mock.AnythingOfType("string"), []any{userID}).Return(&mockRow{values: []any{&tz}}).Once()
	db.On("QueryRow", ctx, mock.AnythingOfType("string"), []any{userID}).Return(&mockRow{values: []any{nil}}).Once()

	r := NewUserRepo(db)

	got, err := r.Timezone(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, "Europe/Berlin", got)

	got, err = r.Timezone(ctx, userID)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestUserRepo_Timezone_NotFound(t *testing.T) {
	ctx := context.Background()
	userID := uuid.New()
	db := new(mockDBTX)
	db.On("QueryRow", ctx, mock.AnythingOfType("string"), []any{userID}).Return(&mockRow{scanErr: pgx.ErrNoRows})

	_, err := NewUserRepo(db).Timezone(ctx, userID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUserRepo_IncrementPostCount(t *testing.T) {
	ctx := context.Background()
	userID := uuid.New()
	db := new(mockDBTX)
	db.On("Exec", ctx, mock.AnythingOfType("string"), []any{userID}).Return(tag("UPDATE 1"), nil)

	require.NoError(t, NewUserRepo(db).IncrementPostCount(ctx, userID))
	db.AssertExpectations(t)
}

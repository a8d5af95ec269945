package service

import (
	"context"
	"strings"
	"testing"

	"estate-smart-go/internal/repository"
	"estate-smart-go/pkg/token"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAccountService(t *testing.T, allowPlain bool) (AccountService, repository.AccountRepository, *token.JWTManager) {
	t.Helper()
	accounts := repository.NewAccountRepository(openTestDB(t))
	jwtManager := token.NewJWTManager("test-secret", 1, 30)
	svc := NewAccountService(accounts, jwtManager, NewKeyedMutex(), AccountOptions{
		DefaultCredits:     200,
		ReferralBonus:      25,
		AllowPlainReferral: allowPlain,
		BotUsername:        "beda_top_bot",
	})
	return svc, accounts, jwtManager
}

func TestRegisterCreatesAccountOnce(t *testing.T) {
	svc, _, _ := newAccountService(t, false)
	ctx := context.Background()

	w, err := svc.Register(ctx, 10, "")
	require.NoError(t, err)
	assert.True(t, w.Created)
	assert.Equal(t, 200, w.Credits)
	assert.True(t, strings.HasPrefix(w.ReferralLink, "https://t.me/beda_top_bot?start="))

	w, err = svc.Register(ctx, 10, "")
	require.NoError(t, err)
	assert.False(t, w.Created)
}

func TestReferralBonusIsGrantedOnce(t *testing.T) {
	svc, accounts, jwtManager := newAccountService(t, false)
	ctx := context.Background()
	_, err := svc.Register(ctx, 100, "")
	require.NoError(t, err)

	code, err := jwtManager.GenerateReferralCode(100)
	require.NoError(t, err)

	w, err := svc.Register(ctx, 200, code)
	require.NoError(t, err)
	assert.True(t, w.Referred)
	assert.NoError(t, w.ReferralErr)

	w, err = svc.Register(ctx, 200, code)
	require.NoError(t, err)
	assert.False(t, w.Referred)

	ref, err := accounts.FindByID(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, 225, ref.Credits)
}

func TestSelfReferralIsRejected(t *testing.T) {
	svc, accounts, jwtManager := newAccountService(t, false)
	ctx := context.Background()
	code, err := jwtManager.GenerateReferralCode(300)
	require.NoError(t, err)

	w, err := svc.Register(ctx, 300, code)
	require.NoError(t, err)
	assert.ErrorIs(t, w.ReferralErr, ErrSelfReferral)

	acc, err := accounts.FindByID(ctx, 300)
	require.NoError(t, err)
	assert.Equal(t, 200, acc.Credits)
	assert.Nil(t, acc.ReferrerID)
}

func TestUnknownReferrerIsRejected(t *testing.T) {
	svc, _, jwtManager := newAccountService(t, true)
	ctx := context.Background()

	code, err := jwtManager.GenerateReferralCode(999)
	require.NoError(t, err)
	w, err := svc.Register(ctx, 400, code)
	require.NoError(t, err)
	assert.ErrorIs(t, w.ReferralErr, ErrUnknownReferrer)

	w, err = svc.Register(ctx, 401, "not-a-code")
	require.NoError(t, err)
	assert.ErrorIs(t, w.ReferralErr, ErrUnknownReferrer)
}

func TestPlainNumericReferral(t *testing.T) {
	ctx := context.Background()

	svc, accounts, _ := newAccountService(t, true)
	_, err := svc.Register(ctx, 500, "")
	require.NoError(t, err)
	w, err := svc.Register(ctx, 501, "500")
	require.NoError(t, err)
	assert.True(t, w.Referred)
	ref, err := accounts.FindByID(ctx, 500)
	require.NoError(t, err)
	assert.Equal(t, 225, ref.Credits)
}

func TestPlainReferralDisabled(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newAccountService(t, false)
	_, err := svc.Register(ctx, 600, "")
	require.NoError(t, err)
	w, err := svc.Register(ctx, 601, "600")
	require.NoError(t, err)
	assert.ErrorIs(t, w.ReferralErr, ErrUnknownReferrer)
}

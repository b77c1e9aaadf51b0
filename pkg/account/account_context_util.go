package account

import (
	"context"
	"errors"

	log "github.com/sirupsen/logrus"
)

type contextKey string

const AccountKey contextKey = "account"

var ErrNoAccount = errors.New("account not found")

// Current retrieves the account resolved for the request. Returns ErrNoAccount if none is present.
func Current(ctx context.Context) (Account, error) {
	a, ok := ctx.Value(AccountKey).(Account)
	if !ok {
		log.Trace("account not found in context")
		return Account{}, ErrNoAccount
	}
	return a, nil
}

func WithAccount(ctx context.Context, a Account) context.Context {
	return context.WithValue(ctx, AccountKey, a)
}

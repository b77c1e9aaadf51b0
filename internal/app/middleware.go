package app

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/klokku/calsync/pkg/account"
	log "github.com/sirupsen/logrus"
)

const headerAccountId = "X-Account-Id"

// SetupMiddleware wires all HTTP middlewares for the application.
func SetupMiddleware(r *mux.Router, deps *Dependencies) {
	r.Use(accountMiddleware(deps.AccountRepo))
}

// accountMiddleware resolves the X-Account-Id header into the request context.
// Requests without the header pass through and fail in the handlers.
func accountMiddleware(accounts account.Repository) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			header := req.Header.Get(headerAccountId)
			if header == "" {
				next.ServeHTTP(w, req)
				return
			}
			accountId, err := strconv.Atoi(header)
			if err != nil {
				http.Error(w, "invalid account id", http.StatusBadRequest)
				return
			}

			ctx := req.Context()
			a, err := accounts.GetAccount(ctx, accountId)
			if err != nil {
				if errors.Is(err, account.ErrNoAccount) {
					log.Debugf("account not found: %d", accountId)
					http.Error(w, "account not found", http.StatusForbidden)
					return
				}
				log.Errorf("failed to get account: %v", err)
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			log.Tracef("account found: %d", a.Id)
			next.ServeHTTP(w, req.WithContext(account.WithAccount(ctx, a)))
		})
	}
}

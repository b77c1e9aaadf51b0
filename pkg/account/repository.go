package account

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	log "github.com/sirupsen/logrus"
)

type Repository interface {
	CreateAccount(ctx context.Context, a Account) (Account, error)
	GetAccount(ctx context.Context, id int) (Account, error)
}

type RepositoryImpl struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) *RepositoryImpl {
	return &RepositoryImpl{db: db}
}

func (r *RepositoryImpl) CreateAccount(ctx context.Context, a Account) (Account, error) {
	query := `INSERT INTO account (namespace_id, email_address, name, provider, emailed_events_calendar_id)
				VALUES ($1, $2, $3, $4, $5) RETURNING id`
	err := r.db.QueryRow(ctx, query,
		a.NamespaceId,
		a.EmailAddress,
		a.Name,
		string(a.Provider),
		a.EmailedEventsCalendarId,
	).Scan(&a.Id)
	if err != nil {
		log.Errorf("failed to create account: %v", err)
		return Account{}, fmt.Errorf("failed to create account: %w", err)
	}
	return a, nil
}

func (r *RepositoryImpl) GetAccount(ctx context.Context, id int) (Account, error) {
	query := `SELECT id, namespace_id, email_address, name, provider, emailed_events_calendar_id
				FROM account WHERE id = $1`
	var a Account
	err := r.db.QueryRow(ctx, query, id).Scan(
		&a.Id,
		&a.NamespaceId,
		&a.EmailAddress,
		&a.Name,
		&a.Provider,
		&a.EmailedEventsCalendarId,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Account{}, ErrNoAccount
	} else if err != nil {
		log.Errorf("failed to get account: %v", err)
		return Account{}, fmt.Errorf("failed to get account: %w", err)
	}
	return a, nil
}

package account

import (
	"context"
	"sync"
)

type RepositoryStub struct {
	mu       sync.RWMutex
	nextId   int
	accounts map[int]Account
}

func NewRepositoryStub() *RepositoryStub {
	return &RepositoryStub{nextId: 1, accounts: map[int]Account{}}
}

func (s *RepositoryStub) CreateAccount(ctx context.Context, a Account) (Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a.Id = s.nextId
	s.nextId++
	s.accounts[a.Id] = a
	return a, nil
}

func (s *RepositoryStub) GetAccount(ctx context.Context, id int) (Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.accounts[id]
	if !ok {
		return Account{}, ErrNoAccount
	}
	return a, nil
}

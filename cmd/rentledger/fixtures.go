package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/shopspring/decimal"

	"rentledger/internal/domain/rental"
	"rentledger/internal/domain/shared/money"
	"rentledger/internal/domain/user"
	"rentledger/internal/infra/storage/memory"
)

// ledgerFixtures seeds the in-memory store with the users and rentals that the marketplace
// would otherwise own.
type ledgerFixtures struct {
	Users   []userFixture   `json:"users"`
	Rentals []rentalFixture `json:"rentals"`
}

type userFixture struct {
	ID              string          `json:"id"`
	Email           string          `json:"email"`
	PayoutAccountID string          `json:"payoutAccountId"`
	Balance         decimal.Decimal `json:"accountBalance"`
}

type rentalFixture struct {
	ID      string `json:"id"`
	OwnerID string `json:"ownerId"`
}

func loadFixtures(store *memory.Store, path, currency string, logger *slog.Logger) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logger.Info("ledger fixtures file not found, skipping", "path", path)
			return nil
		}
		return fmt.Errorf("read fixtures: %w", err)
	}
	if len(data) == 0 {
		logger.Warn("ledger fixtures file empty", "path", path)
		return nil
	}

	var fixtures ledgerFixtures
	if err := json.Unmarshal(data, &fixtures); err != nil {
		return fmt.Errorf("decode fixtures: %w", err)
	}
	for _, fx := range fixtures.Users {
		if fx.ID == "" {
			logger.Error("fixture user without id skipped")
			continue
		}
		balance, err := money.FromMajorExact(fx.Balance, currency)
		if err != nil {
			logger.Error("fixture invalid", "user_id", fx.ID, "error", err)
			continue
		}
		store.PutUser(user.User{ID: user.ID(fx.ID), Email: fx.Email, PayoutAccountID: fx.PayoutAccountID, Balance: balance})
	}
	for _, fx := range fixtures.Rentals {
		if fx.ID == "" {
			logger.Error("fixture rental without id skipped")
			continue
		}
		store.PutRental(rental.Rental{ID: rental.ID(fx.ID), OwnerID: fx.OwnerID})
	}
	logger.Info("ledger fixtures imported", "users", len(fixtures.Users), "rentals", len(fixtures.Rentals))
	return nil
}

func defaultFixturesPath() string {
	candidates := []string{
		filepath.Join("data", "ledger.json"),
		filepath.Join("..", "..", "data", "ledger.json"),
	}
	for _, candidate := range candidates {
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return candidates[0]
}

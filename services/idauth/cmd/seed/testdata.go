package main

import (
	"context"
	"fmt"
	"time"

	"github.com/AROSTA-MOSTER/datakomeza/services/idauth/internal/storage"
)

// seedTestData adds the edge cases the integration suite expects: a
// suspended partner, a fully locked resident and an already expired token.
func seedTestData(ctx context.Context, store *storage.Store, env string) error {
	if _, err := seedPartners(ctx, store, env, []seedPartner{
		{id: "suspended-partner", name: "Suspended Partner", status: storage.PartnerStatusSuspended},
	}); err != nil {
		return err
	}

	locked := storage.DemographicRecord{UserID: "resident-locked", FirstName: "Neema", LastName: "Ally", DateOfBirth: "2000-01-01", Phone: "+255700000009"}
	if err := store.UpsertDemographic(ctx, locked); err != nil {
		return err
	}
	now := time.Now().UTC()
	for _, t := range []storage.AuthType{storage.AuthTypeOTP, storage.AuthTypeDemographic, storage.AuthTypeEKYC} {
		if _, err := store.SetLock(ctx, locked.UserID, t, storage.ModalityNone, true, now); err != nil {
			return err
		}
	}

	expired := storage.PartnerToken{
		Token:     "psut_expired_testdata",
		UserID:    "resident-0001",
		PartnerID: "demo-bank",
		Status:    storage.TokenStatusActive,
		ExpiresAt: now.Add(-time.Hour),
		CreatedAt: now.AddDate(0, 0, -31),
	}
	if _, err := store.InsertToken(ctx, expired); err != nil {
		return fmt.Errorf("insert expired token: %w", err)
	}
	return nil
}

package service

import "github.com/dreamdiary/coin-market/internal/models"

// ResolveStatus returns the listing's lifecycle state. Rows written before
// the status column existed are sold exactly when they carry a buyer.
// Once every row has an explicit status this fallback can be removed.
func ResolveStatus(l *models.Listing) models.ListingStatus {
	if l.Status != nil && *l.Status != "" {
		return *l.Status
	}
	if l.BuyerUID != nil && *l.BuyerUID != "" {
		return models.StatusSold
	}
	return models.StatusListed
}

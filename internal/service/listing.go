package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dreamdiary/coin-market/internal/models"
	"github.com/dreamdiary/coin-market/internal/repository"
)

// maxListingIDAttempts bounds how many later millisecond ids are tried when
// the same diary is listed more than once within a millisecond
const maxListingIDAttempts = 8

// dateLayouts are the accepted forms of a listing's client-supplied date
var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// CreateMarketItem publishes a diary entry as a listing owned by sellerUID
func (s *DefaultService) CreateMarketItem(ctx context.Context, sellerUID string, req models.CreateListingRequest) (*models.CreateListingResponse, error) {
	if sellerUID == "" {
		return nil, ErrUnauthenticated
	}
	diaryID := strings.TrimSpace(req.DiaryID)
	if diaryID == "" {
		return nil, ErrDiaryIDRequired
	}
	if req.Price < 0 {
		return nil, ErrNegativePrice
	}

	now := s.now()
	price := req.Price
	status := models.StatusListed
	listing := &models.Listing{
		DiaryID:        diaryID,
		SellerUID:      sellerUID,
		OwnerName:      strings.TrimSpace(req.OwnerName),
		Price:          &price,
		Status:         &status,
		IsSold:         false,
		Content:        strings.TrimSpace(req.Content),
		Summary:        optional(req.Summary),
		Interpretation: optional(req.Interpretation),
		ImageURL:       optional(req.ImageURL),
		Date:           parseDate(req.Date, now),
		CreatedAt:      now,
	}

	var err error
	for attempt := 0; attempt < maxListingIDAttempts; attempt++ {
		listing.ID = listingID(diaryID, now.UnixMilli()+int64(attempt))
		if err = s.repo.CreateListing(ctx, listing); !errors.Is(err, repository.ErrDuplicate) {
			break
		}
	}
	if errors.Is(err, repository.ErrDuplicate) {
		s.log.WithField("diaryId", diaryID).Warn("Create listing failed: id collision")
		return nil, ErrListingIDTaken
	}
	if err != nil {
		s.log.WithError(err).WithField("diaryId", diaryID).Error("Create listing failed")
		return nil, Internal("Create listing failed: ", err)
	}

	s.log.WithFields(logrus.Fields{
		"itemId":    listing.ID,
		"sellerUid": sellerUID,
		"price":     price,
	}).Info("Market item listed")
	return &models.CreateListingResponse{ID: listing.ID}, nil
}

// GetMarketItem returns a listing together with its effective status
func (s *DefaultService) GetMarketItem(ctx context.Context, itemID string) (*models.ListingResponse, error) {
	itemID = strings.TrimSpace(itemID)
	if itemID == "" {
		return nil, ErrItemIDRequired
	}

	listing, err := s.repo.GetListing(ctx, itemID)
	if err != nil {
		return nil, Internal("error loading market item: ", err)
	}
	if listing == nil {
		return nil, ErrItemNotFound
	}
	return &models.ListingResponse{Listing: *listing, ResolvedStatus: ResolveStatus(listing)}, nil
}

func optional(v string) *string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	return &v
}

func parseDate(raw string, fallback time.Time) time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC()
		}
	}
	return fallback
}

func listingID(diaryID string, millis int64) string {
	return fmt.Sprintf("%s_%d", diaryID, millis)
}

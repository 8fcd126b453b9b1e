package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/sirupsen/logrus"

	"github.com/dreamdiary/coin-market/internal/metrics"
	"github.com/dreamdiary/coin-market/internal/models"
	"github.com/dreamdiary/coin-market/internal/repository"
)

// maxIdempotencyKeyLen is the width of purchases.idempotency_key
const maxIdempotencyKeyLen = 128

// PurchaseMarketItem moves a listed item from its seller to buyerUID in one
// atomic transaction: the listing is marked sold, coins move between both
// accounts and a ledger entry plus a purchase or sale record is written for
// each party. Either every write lands or none does.
func (s *DefaultService) PurchaseMarketItem(ctx context.Context, buyerUID string, req models.PurchaseRequest) (*models.PurchaseResponse, error) {
	if buyerUID == "" {
		return nil, ErrUnauthenticated
	}
	itemID := strings.TrimSpace(req.ItemID)
	if itemID == "" {
		return nil, ErrItemIDRequired
	}
	key := strings.TrimSpace(req.IdempotencyKey)
	if utf8.RuneCountInString(key) > maxIdempotencyKeyLen {
		return nil, ErrIdempotencyKeyLen
	}

	log := s.log.WithFields(logrus.Fields{
		"buyerUid": buyerUID,
		"itemId":   itemID,
	})

	var result *models.PurchaseResponse
	err := s.repo.RunInTx(ctx, func(tx repository.Tx) error {
		res, err := s.purchaseInTx(ctx, tx, buyerUID, itemID, key)
		if err != nil {
			return err
		}
		result = res
		return nil
	})
	if err != nil {
		var svcErr *Error
		if errors.As(err, &svcErr) {
			metrics.Purchases.WithLabelValues(string(svcErr.Code)).Inc()
			log.WithField("reason", svcErr.Message).Info("Market purchase rejected")
			return nil, svcErr
		}
		metrics.Purchases.WithLabelValues(string(CodeInternal)).Inc()
		log.WithError(err).Error("Market purchase failed")
		return nil, Internal("Purchase failed: ", err)
	}

	metrics.Purchases.WithLabelValues("ok").Inc()
	log.WithFields(logrus.Fields{
		"sellerUid":    result.SellerUID,
		"price":        result.Price,
		"purchaseTxId": result.PurchaseTxID,
	}).Info("Market purchase success")
	return result, nil
}

// purchaseInTx runs once per attempt. Every read happens before the first write.
func (s *DefaultService) purchaseInTx(ctx context.Context, tx repository.Tx, buyerUID, itemID, key string) (*models.PurchaseResponse, error) {
	if key != "" {
		prior, err := tx.GetPurchaseByKey(ctx, buyerUID, key)
		if err != nil {
			return nil, fmt.Errorf("load purchase by key: %w", err)
		}
		if prior != nil {
			if prior.ItemID != itemID {
				return nil, ErrIdempotencyReused
			}
			return &models.PurchaseResponse{
				PurchaseTxID: prior.PurchaseTxID,
				SellerUID:    prior.SellerUID,
				DiaryID:      prior.DiaryID,
				Price:        prior.Price,
			}, nil
		}
	}

	item, err := tx.GetListing(ctx, itemID)
	if err != nil {
		return nil, fmt.Errorf("load listing: %w", err)
	}
	if item == nil {
		return nil, ErrItemNotFound
	}
	if item.SellerUID == "" || item.DiaryID == "" || item.Price == nil || *item.Price < 0 {
		return nil, ErrInvalidItemData
	}
	price := *item.Price
	if item.SellerUID == buyerUID {
		return nil, ErrOwnItem
	}
	if ResolveStatus(item) != models.StatusListed {
		return nil, ErrItemNotAvailable
	}

	buyer, err := tx.GetAccount(ctx, buyerUID)
	if err != nil {
		return nil, fmt.Errorf("load buyer: %w", err)
	}
	if buyer == nil {
		return nil, ErrBuyerNotFound
	}
	if buyer.Coins < price {
		return nil, ErrInsufficientCoins
	}

	txID := s.newID()
	sellerUID := item.SellerUID

	if err := tx.MarkListingSold(ctx, itemID, buyerUID, txID); err != nil {
		return nil, fmt.Errorf("mark listing sold: %w", err)
	}
	if err := tx.PutLedgerEntry(ctx, &models.LedgerEntry{
		UID:             buyerUID,
		ID:              txID,
		Amount:          -price,
		Type:            models.LedgerPurchaseSpend,
		RefType:         models.RefTypeMarketItem,
		RefID:           itemID,
		CounterpartyUID: &sellerUID,
	}); err != nil {
		return nil, fmt.Errorf("write buyer ledger: %w", err)
	}
	if err := tx.PutLedgerEntry(ctx, &models.LedgerEntry{
		UID:             sellerUID,
		ID:              txID,
		Amount:          price,
		Type:            models.LedgerSaleEarn,
		RefType:         models.RefTypeMarketItem,
		RefID:           itemID,
		CounterpartyUID: &buyerUID,
	}); err != nil {
		return nil, fmt.Errorf("write seller ledger: %w", err)
	}
	if err := tx.IncrementCoins(ctx, buyerUID, -price); err != nil {
		return nil, fmt.Errorf("debit buyer: %w", err)
	}
	if err := tx.IncrementCoins(ctx, sellerUID, price); err != nil {
		return nil, fmt.Errorf("credit seller: %w", err)
	}

	purchase := &models.PurchaseRecord{
		BuyerUID:     buyerUID,
		PurchaseTxID: txID,
		ItemID:       itemID,
		DiaryID:      item.DiaryID,
		SellerUID:    sellerUID,
		Price:        price,
	}
	if key != "" {
		purchase.IdempotencyKey = &key
	}
	if err := tx.CreatePurchase(ctx, purchase); err != nil {
		return nil, fmt.Errorf("write purchase record: %w", err)
	}
	if err := tx.CreateSale(ctx, &models.SaleRecord{
		SellerUID:    sellerUID,
		PurchaseTxID: txID,
		ItemID:       itemID,
		DiaryID:      item.DiaryID,
		BuyerUID:     buyerUID,
		Price:        price,
	}); err != nil {
		return nil, fmt.Errorf("write sale record: %w", err)
	}

	return &models.PurchaseResponse{
		PurchaseTxID: txID,
		SellerUID:    sellerUID,
		DiaryID:      item.DiaryID,
		Price:        price,
	}, nil
}

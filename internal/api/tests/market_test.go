package api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamdiary/coin-market/internal/api/testutils"
	"github.com/dreamdiary/coin-market/internal/models"
)

func createItem(t *testing.T, testCtx *testutils.TestContext, token, diaryID string, price int64) string {
	t.Helper()

	w := testutils.PerformRequest(
		testCtx.Router,
		http.MethodPost,
		"/api/createMarketItem",
		models.CreateListingRequest{
			DiaryID:   diaryID,
			Price:     price,
			OwnerName: "Dreamer",
			Content:   "I was flying over the sea.",
			Summary:   "Flying dream",
			Date:      "2024-03-01",
		},
		testutils.AuthHeaders(token),
	)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp models.CreateListingResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.ID)
	return resp.ID
}

func decodeError(t *testing.T, body []byte) models.ErrorResponse {
	t.Helper()

	var resp models.ErrorResponse
	require.NoError(t, json.Unmarshal(body, &resp))
	assert.Equal(t, "error", resp.Status)
	return resp
}

func accountCoins(t *testing.T, testCtx *testutils.TestContext, token string) int64 {
	t.Helper()

	w := testutils.PerformRequest(testCtx.Router, http.MethodGet, "/api/account", nil, testutils.AuthHeaders(token))
	require.Equal(t, http.StatusOK, w.Code)

	var account models.Account
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &account))
	return account.Coins
}

func TestCreateAndPurchaseMarketItem(t *testing.T) {
	testCtx := testutils.SetupTestContext(t)
	sellerUID, sellerJWT := testCtx.TestUserID, testCtx.TestUserJWT
	buyerUID, buyerJWT := testCtx.CreateUser(t, true)

	itemID := createItem(t, testCtx, sellerJWT, "diary-1", 300)
	assert.Contains(t, itemID, "diary-1_")

	w := testutils.PerformRequest(
		testCtx.Router,
		http.MethodPost,
		"/api/purchaseMarketItem",
		models.PurchaseRequest{ItemID: itemID},
		testutils.AuthHeaders(buyerJWT),
	)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var purchase models.PurchaseResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &purchase))
	assert.NotEmpty(t, purchase.PurchaseTxID)
	assert.Equal(t, sellerUID, purchase.SellerUID)
	assert.Equal(t, "diary-1", purchase.DiaryID)
	assert.Equal(t, int64(300), purchase.Price)

	assert.Equal(t, int64(700), accountCoins(t, testCtx, buyerJWT))
	assert.Equal(t, int64(1300), accountCoins(t, testCtx, sellerJWT))

	// The listing now reports its buyer
	w = testutils.PerformRequest(testCtx.Router, http.MethodGet, "/api/market/items/"+itemID, nil, testutils.AuthHeaders(buyerJWT))
	require.Equal(t, http.StatusOK, w.Code)
	var item models.ListingResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &item))
	assert.Equal(t, models.StatusSold, item.ResolvedStatus)
	assert.True(t, item.IsSold)
	require.NotNil(t, item.BuyerUID)
	assert.Equal(t, buyerUID, *item.BuyerUID)

	// Buyer and seller each see their record
	w = testutils.PerformRequest(testCtx.Router, http.MethodGet, "/api/account/purchases", nil, testutils.AuthHeaders(buyerJWT))
	require.Equal(t, http.StatusOK, w.Code)
	var purchases models.PurchasesResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &purchases))
	require.Len(t, purchases.Purchases, 1)
	assert.Equal(t, purchase.PurchaseTxID, purchases.Purchases[0].PurchaseTxID)

	w = testutils.PerformRequest(testCtx.Router, http.MethodGet, "/api/account/sales", nil, testutils.AuthHeaders(sellerJWT))
	require.Equal(t, http.StatusOK, w.Code)
	var sales models.SalesResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &sales))
	require.Len(t, sales.Sales, 1)
	assert.Equal(t, buyerUID, sales.Sales[0].BuyerUID)

	// A second purchase of the same item is refused
	otherUID, otherJWT := testCtx.CreateUser(t, true)
	w = testutils.PerformRequest(
		testCtx.Router,
		http.MethodPost,
		"/api/purchaseMarketItem",
		models.PurchaseRequest{ItemID: itemID},
		testutils.AuthHeaders(otherJWT),
	)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	errResp := decodeError(t, w.Body.Bytes())
	assert.Equal(t, "failed-precondition", errResp.Code)
	assert.Equal(t, "Item is not available.", errResp.Message)
	assert.Equal(t, int64(1000), accountCoins(t, testCtx, otherJWT), "refused buyer %s must keep their coins", otherUID)
}

func TestPurchaseMarketItemErrors(t *testing.T) {
	testCtx := testutils.SetupTestContext(t)
	sellerJWT := testCtx.TestUserJWT
	_, buyerJWT := testCtx.CreateUser(t, true)

	cheap := createItem(t, testCtx, sellerJWT, "diary-cheap", 10)
	pricey := createItem(t, testCtx, sellerJWT, "diary-pricey", 5000)

	tests := []struct {
		name    string
		itemID  string
		headers map[string]string
		status  int
		code    string
		message string
	}{
		{"no token", cheap, nil, http.StatusUnauthorized, "unauthenticated", "Login required."},
		{"missing item id", "  ", testutils.AuthHeaders(buyerJWT), http.StatusBadRequest, "invalid-argument", "itemId is required."},
		{"unknown item", "nope", testutils.AuthHeaders(buyerJWT), http.StatusNotFound, "not-found", "Market item not found."},
		{"own item", cheap, testutils.AuthHeaders(sellerJWT), http.StatusBadRequest, "failed-precondition", "You cannot buy your own item."},
		{"insufficient coins", pricey, testutils.AuthHeaders(buyerJWT), http.StatusBadRequest, "failed-precondition", "Insufficient coins."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := testutils.PerformRequest(
				testCtx.Router,
				http.MethodPost,
				"/api/purchaseMarketItem",
				models.PurchaseRequest{ItemID: tt.itemID},
				tt.headers,
			)
			assert.Equal(t, tt.status, w.Code)
			errResp := decodeError(t, w.Body.Bytes())
			assert.Equal(t, tt.code, errResp.Code)
			assert.Equal(t, tt.message, errResp.Message)
		})
	}

	// A caller whose account was never created cannot buy
	_, ghostJWT := testCtx.CreateUser(t, false)
	w := testutils.PerformRequest(
		testCtx.Router,
		http.MethodPost,
		"/api/purchaseMarketItem",
		models.PurchaseRequest{ItemID: cheap},
		testutils.AuthHeaders(ghostJWT),
	)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Buyer profile not found.", decodeError(t, w.Body.Bytes()).Message)

	// Nothing above changed any balance
	assert.Equal(t, int64(1000), accountCoins(t, testCtx, buyerJWT))
	assert.Equal(t, int64(1000), accountCoins(t, testCtx, sellerJWT))
}

func TestPurchaseWithIdempotencyKey(t *testing.T) {
	testCtx := testutils.SetupTestContext(t)
	_, buyerJWT := testCtx.CreateUser(t, true)

	first := createItem(t, testCtx, testCtx.TestUserJWT, "diary-a", 100)
	second := createItem(t, testCtx, testCtx.TestUserJWT, "diary-b", 100)

	purchase := func(itemID string) (int, []byte) {
		w := testutils.PerformRequest(
			testCtx.Router,
			http.MethodPost,
			"/api/purchaseMarketItem",
			models.PurchaseRequest{ItemID: itemID, IdempotencyKey: "tap-1"},
			testutils.AuthHeaders(buyerJWT),
		)
		return w.Code, w.Body.Bytes()
	}

	code, body := purchase(first)
	require.Equal(t, http.StatusOK, code, string(body))
	var original models.PurchaseResponse
	require.NoError(t, json.Unmarshal(body, &original))

	// Retrying the same request returns the original result
	code, body = purchase(first)
	require.Equal(t, http.StatusOK, code, string(body))
	var replay models.PurchaseResponse
	require.NoError(t, json.Unmarshal(body, &replay))
	assert.Equal(t, original, replay)
	assert.Equal(t, int64(900), accountCoins(t, testCtx, buyerJWT))

	// The key cannot be reused for another item
	code, body = purchase(second)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "invalid-argument", decodeError(t, body).Code)
}

func TestConcurrentPurchasesSellOnce(t *testing.T) {
	testCtx := testutils.SetupTestContext(t)
	itemID := createItem(t, testCtx, testCtx.TestUserJWT, "diary-hot", 250)

	const numBuyers = 10
	tokens := make([]string, numBuyers)
	for i := range tokens {
		_, tokens[i] = testCtx.CreateUser(t, true)
	}

	codes := make(chan int, numBuyers)
	var wg sync.WaitGroup
	for _, token := range tokens {
		wg.Add(1)
		go func(token string) {
			defer wg.Done()
			w := testutils.PerformRequest(
				testCtx.Router,
				http.MethodPost,
				"/api/purchaseMarketItem",
				models.PurchaseRequest{ItemID: itemID},
				testutils.AuthHeaders(token),
			)
			codes <- w.Code
		}(token)
	}
	wg.Wait()
	close(codes)

	succeeded, refused := 0, 0
	for code := range codes {
		switch code {
		case http.StatusOK:
			succeeded++
		case http.StatusBadRequest:
			refused++
		default:
			t.Errorf("unexpected status %d", code)
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, numBuyers-1, refused)

	// Exactly one buyer paid; every balance still matches its ledger
	var total int64
	for _, token := range tokens {
		total += accountCoins(t, testCtx, token)
	}
	assert.Equal(t, int64(numBuyers*1000-250), total)
	assert.Equal(t, int64(1250), accountCoins(t, testCtx, testCtx.TestUserJWT))

	discrepancies, err := testCtx.Service.Reconcile(context.Background())
	require.NoError(t, err)
	assert.Empty(t, discrepancies)
}

func TestCreateMarketItemValidation(t *testing.T) {
	testCtx := testutils.SetupTestContext(t)

	w := testutils.PerformRequest(
		testCtx.Router,
		http.MethodPost,
		"/api/createMarketItem",
		models.CreateListingRequest{Price: 10},
		testutils.AuthHeaders(testCtx.TestUserJWT),
	)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Missing diaryId", decodeError(t, w.Body.Bytes()).Message)

	w = testutils.PerformRequest(
		testCtx.Router,
		http.MethodPost,
		"/api/createMarketItem",
		models.CreateListingRequest{DiaryID: "d", Price: 10},
		nil,
	)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = testutils.PerformRequest(
		testCtx.Router,
		http.MethodPost,
		"/api/createMarketItem",
		"not an object",
		testutils.AuthHeaders(testCtx.TestUserJWT),
	)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid-argument", decodeError(t, w.Body.Bytes()).Code)
}

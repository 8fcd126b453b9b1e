package service_test

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dreamdiary/coin-market/internal/blobstore"
	"github.com/dreamdiary/coin-market/internal/models"
	"github.com/dreamdiary/coin-market/internal/repository"
	"github.com/dreamdiary/coin-market/internal/service"
	"github.com/dreamdiary/coin-market/internal/utils"
)

var fixedNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type stubImages struct {
	data    []byte
	err     error
	prompts []string
}

func (s *stubImages) Generate(_ context.Context, prompt string) ([]byte, error) {
	s.prompts = append(s.prompts, prompt)
	if s.err != nil {
		return nil, s.err
	}
	return s.data, nil
}

type fixture struct {
	repo   *repository.MemoryRepository
	images *stubImages
	blobs  *blobstore.LocalStore
	svc    *service.DefaultService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	blobs, err := blobstore.NewLocalStore(t.TempDir(), "bucket")
	require.NoError(t, err)

	var seq atomic.Int64
	f := &fixture{
		repo:   repository.NewMemoryRepository(),
		images: &stubImages{data: []byte("png-bytes")},
		blobs:  blobs,
	}
	f.svc = service.NewDefaultService(f.repo, f.images, f.blobs, service.Options{
		BlobBaseURL: "https://storage.example/v0/b",
		Logger:      utils.NewDiscardLogger(),
		Now:         func() time.Time { return fixedNow },
		NewID:       func() string { return fmt.Sprintf("id-%d", seq.Add(1)) },
	})
	return f
}

// fund creates uid with the signup bonus
func (f *fixture) fund(t *testing.T, uid string) {
	t.Helper()
	granted, err := f.svc.GrantSignupBonus(context.Background(), uid)
	require.NoError(t, err)
	require.True(t, granted)
}

func (f *fixture) coins(t *testing.T, uid string) int64 {
	t.Helper()
	account, err := f.repo.GetAccount(context.Background(), uid)
	require.NoError(t, err)
	require.NotNil(t, account, "account %s", uid)
	return account.Coins
}

func listing(id, seller string, price int64) models.Listing {
	status := models.StatusListed
	return models.Listing{
		ID:        id,
		DiaryID:   "diary-" + id,
		SellerUID: seller,
		Price:     &price,
		Status:    &status,
	}
}

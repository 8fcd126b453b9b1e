package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/dreamdiary/coin-market/internal/blobstore"
	"github.com/dreamdiary/coin-market/internal/models"
	"github.com/dreamdiary/coin-market/internal/repository"
)

// DefaultSignupBonus is the one-time credit granted to every new account
const DefaultSignupBonus int64 = 1000

// Service defines all the business logic operations
type Service interface {
	// Marketplace
	PurchaseMarketItem(ctx context.Context, buyerUID string, req models.PurchaseRequest) (*models.PurchaseResponse, error)
	CreateMarketItem(ctx context.Context, sellerUID string, req models.CreateListingRequest) (*models.CreateListingResponse, error)
	GetMarketItem(ctx context.Context, itemID string) (*models.ListingResponse, error)

	// Accounts
	GrantSignupBonus(ctx context.Context, uid string) (bool, error)
	GetAccount(ctx context.Context, uid string) (*models.Account, error)
	GetLedger(ctx context.Context, uid string) (*models.LedgerResponse, error)
	GetPurchases(ctx context.Context, uid string) (*models.PurchasesResponse, error)
	GetSales(ctx context.Context, uid string) (*models.SalesResponse, error)

	// Images
	GenerateImage(ctx context.Context, req models.GenerateImageRequest) (*models.GenerateImageResponse, error)
	OpenBlob(ctx context.Context, bucket, path, token string) (*blobstore.Object, error)

	// Audit
	Reconcile(ctx context.Context) ([]models.Discrepancy, error)
}

// ImageGenerator produces image bytes from a text prompt
type ImageGenerator interface {
	Generate(ctx context.Context, prompt string) ([]byte, error)
}

// Options holds the tunables of DefaultService
type Options struct {
	SignupBonus int64
	BlobBaseURL string
	Logger      *logrus.Logger
	Now         func() time.Time
	NewID       func() string
}

// DefaultService implements the Service interface
type DefaultService struct {
	repo        repository.Repository
	images      ImageGenerator
	blobs       blobstore.Store
	signupBonus int64
	blobBaseURL string
	log         *logrus.Logger
	now         func() time.Time
	newID       func() string
}

var _ Service = (*DefaultService)(nil)

// NewDefaultService creates a new DefaultService
func NewDefaultService(repo repository.Repository, images ImageGenerator, blobs blobstore.Store, opts Options) *DefaultService {
	s := &DefaultService{
		repo:        repo,
		images:      images,
		blobs:       blobs,
		signupBonus: opts.SignupBonus,
		blobBaseURL: opts.BlobBaseURL,
		log:         opts.Logger,
		now:         opts.Now,
		newID:       opts.NewID,
	}
	if s.signupBonus <= 0 {
		s.signupBonus = DefaultSignupBonus
	}
	if s.log == nil {
		s.log = logrus.StandardLogger()
	}
	if s.now == nil {
		s.now = func() time.Time { return time.Now().UTC() }
	}
	if s.newID == nil {
		s.newID = uuid.NewString
	}
	return s
}

// Account operations
func (s *DefaultService) GetAccount(ctx context.Context, uid string) (*models.Account, error) {
	if uid == "" {
		return nil, ErrUnauthenticated
	}

	// first query creates the account with zero coins; a later signup bonus
	// still applies because the flag stays false
	account, err := s.repo.EnsureAccount(ctx, uid)
	if err != nil {
		return nil, Internal("error loading account: ", err)
	}
	return account, nil
}

func (s *DefaultService) GetLedger(ctx context.Context, uid string) (*models.LedgerResponse, error) {
	if uid == "" {
		return nil, ErrUnauthenticated
	}

	entries, err := s.repo.ListLedgerEntries(ctx, uid)
	if err != nil {
		return nil, Internal("error loading ledger: ", err)
	}

	return &models.LedgerResponse{
		Status:  "success",
		UID:     uid,
		Entries: entries,
	}, nil
}

func (s *DefaultService) GetPurchases(ctx context.Context, uid string) (*models.PurchasesResponse, error) {
	if uid == "" {
		return nil, ErrUnauthenticated
	}

	records, err := s.repo.ListPurchases(ctx, uid)
	if err != nil {
		return nil, Internal("error loading purchases: ", err)
	}
	return &models.PurchasesResponse{Status: "success", Purchases: records}, nil
}

func (s *DefaultService) GetSales(ctx context.Context, uid string) (*models.SalesResponse, error) {
	if uid == "" {
		return nil, ErrUnauthenticated
	}

	records, err := s.repo.ListSales(ctx, uid)
	if err != nil {
		return nil, Internal("error loading sales: ", err)
	}
	return &models.SalesResponse{Status: "success", Sales: records}, nil
}

// OpenBlob returns a stored object if token matches its download token
func (s *DefaultService) OpenBlob(ctx context.Context, bucket, path, token string) (*blobstore.Object, error) {
	if s.blobs == nil || bucket != s.blobs.Bucket() {
		return nil, ErrObjectNotFound
	}

	obj, err := s.blobs.Open(ctx, path)
	if err != nil {
		if errors.Is(err, blobstore.ErrNotFound) || errors.Is(err, blobstore.ErrInvalidPath) {
			return nil, ErrObjectNotFound
		}
		// filesystem detail stays in the log
		s.log.WithError(err).WithField("path", path).Error("Reading object failed")
		return nil, &Error{Code: CodeInternal, Message: "error reading object", Err: err}
	}
	// a wrong token is indistinguishable from a missing object
	if err := obj.Authorize(token); err != nil {
		return nil, ErrObjectNotFound
	}
	return obj, nil
}

package cli

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/dreamdiary/coin-market/internal/blobstore"
	"github.com/dreamdiary/coin-market/internal/config"
	"github.com/dreamdiary/coin-market/internal/imagegen"
	"github.com/dreamdiary/coin-market/internal/repository"
	"github.com/dreamdiary/coin-market/internal/service"
	"github.com/dreamdiary/coin-market/internal/utils"
)

// app bundles the dependencies shared by every command
type app struct {
	cfg     *config.Config
	log     *logrus.Logger
	repo    repository.Repository
	service *service.DefaultService
	closeFn func() error
}

func (a *app) Close() error {
	if a.closeFn == nil {
		return nil
	}
	return a.closeFn()
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if storeOverride != "" {
		cfg.Store.Driver = storeOverride
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// newApp loads configuration and builds the repository and service layers
func newApp() (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	log := utils.NewLogger(cfg.Log.Level, cfg.Log.JSON)

	a := &app{cfg: cfg, log: log}

	opts := []repository.Option{
		repository.WithMaxAttempts(cfg.Store.MaxTxAttempts),
		repository.WithBackoff(cfg.Store.TxBackoff),
	}
	switch cfg.Store.Driver {
	case config.StoreMemory:
		log.Warn("Using in-memory store, data is lost on exit")
		a.repo = repository.NewMemoryRepository(opts...)
	case config.StorePostgres:
		db, err := config.SetupDatabase(cfg)
		if err != nil {
			return nil, err
		}
		a.repo = repository.NewPostgresRepository(db, opts...)
		a.closeFn = db.Close
	}

	blobs, err := blobstore.NewLocalStore(cfg.Blob.Root, cfg.Blob.Bucket)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to open blob store: %w", err)
	}
	images := imagegen.NewClient(imagegen.Config{
		Endpoint: cfg.ImageGen.Endpoint,
		Timeout:  cfg.ImageGen.Timeout,
	})

	a.service = service.NewDefaultService(a.repo, images, blobs, service.Options{
		SignupBonus: cfg.Bonus.Amount,
		BlobBaseURL: cfg.Blob.BaseURL,
		Logger:      log,
	})
	return a, nil
}

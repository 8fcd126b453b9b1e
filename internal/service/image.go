package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/dreamdiary/coin-market/internal/blobstore"
	"github.com/dreamdiary/coin-market/internal/metrics"
	"github.com/dreamdiary/coin-market/internal/models"
)

const imageContentType = "image/png"

// GenerateImage fetches an image for the prompt, stores it under a fresh
// object path and returns a token-protected download URL.
func (s *DefaultService) GenerateImage(ctx context.Context, req models.GenerateImageRequest) (*models.GenerateImageResponse, error) {
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return nil, ErrPromptEmpty
	}

	data, err := s.images.Generate(ctx, prompt)
	if err != nil {
		return nil, s.imageFailed(prompt, err)
	}

	path := fmt.Sprintf("pollinations/%s.png", s.newID())
	token := s.newID()
	if err := s.blobs.Save(ctx, path, data, imageContentType, token); err != nil {
		return nil, s.imageFailed(prompt, err)
	}

	metrics.ImageGenerations.WithLabelValues("ok").Inc()
	s.log.WithFields(logrus.Fields{
		"path":  path,
		"bytes": len(data),
	}).Info("Image generated")

	return &models.GenerateImageResponse{
		Prompt:   prompt,
		Path:     path,
		ImageURL: blobstore.PublicURL(s.blobBaseURL, s.blobs.Bucket(), path, token),
	}, nil
}

func (s *DefaultService) imageFailed(prompt string, err error) error {
	metrics.ImageGenerations.WithLabelValues("error").Inc()
	s.log.WithError(err).WithField("prompt", prompt).Error("Image generation failed")
	return Internal("failed to generate image: ", err)
}

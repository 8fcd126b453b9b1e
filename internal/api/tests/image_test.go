package api_test

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamdiary/coin-market/internal/api"
	"github.com/dreamdiary/coin-market/internal/api/testutils"
	"github.com/dreamdiary/coin-market/internal/models"
	"github.com/dreamdiary/coin-market/internal/utils"
)

func TestGenerateImage(t *testing.T) {
	testCtx := testutils.SetupTestContext(t)

	w := testutils.PerformRequest(
		testCtx.Router,
		http.MethodPost,
		"/api/generateImage",
		models.GenerateImageRequest{Prompt: "  a whale in the clouds "},
		nil,
	)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp models.GenerateImageResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "a whale in the clouds", resp.Prompt)
	assert.True(t, strings.HasPrefix(resp.Path, "pollinations/"))
	assert.True(t, strings.HasSuffix(resp.Path, ".png"))
	assert.True(t, strings.HasPrefix(resp.ImageURL, "http://localhost/v0/b/test-bucket/o/pollinations%2F"), resp.ImageURL)
	assert.Contains(t, resp.ImageURL, "?alt=media&token=")

	// The issued URL serves the stored bytes
	download := strings.TrimPrefix(resp.ImageURL, "http://localhost")
	w = testutils.PerformRequest(testCtx.Router, http.MethodGet, download, nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
	assert.Equal(t, testCtx.Images.Data, w.Body.Bytes())

	// A wrong token looks like a missing object
	tampered := download[:strings.Index(download, "token=")] + "token=wrong"
	w = testutils.PerformRequest(testCtx.Router, http.MethodGet, tampered, nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	// Metadata sidecars and directories are not objects
	query := strings.Index(download, "?")
	for _, path := range []string{
		download[:query] + ".meta.json" + download[query:],
		"/v0/b/test-bucket/o/pollinations?alt=media&token=x",
	} {
		w = testutils.PerformRequest(testCtx.Router, http.MethodGet, path, nil, nil)
		assert.Equal(t, http.StatusNotFound, w.Code, path)
		errResp := decodeError(t, w.Body.Bytes())
		assert.Equal(t, "not-found", errResp.Code)
		assert.NotContains(t, errResp.Message, "/tmp")
	}
}

func TestGenerateImageErrors(t *testing.T) {
	testCtx := testutils.SetupTestContext(t)

	w := testutils.PerformRequest(
		testCtx.Router,
		http.MethodPost,
		"/api/generateImage",
		models.GenerateImageRequest{Prompt: "   "},
		nil,
	)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	errResp := decodeError(t, w.Body.Bytes())
	assert.Equal(t, "invalid-argument", errResp.Code)
	assert.Equal(t, "prompt is empty", errResp.Message)

	testCtx.Images.Err = errors.New("pollinations status: 503")
	w = testutils.PerformRequest(
		testCtx.Router,
		http.MethodPost,
		"/api/generateImage",
		models.GenerateImageRequest{Prompt: "storm"},
		testutils.AuthHeaders(testCtx.TestUserJWT),
	)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	errResp = decodeError(t, w.Body.Bytes())
	assert.Equal(t, "internal", errResp.Code)
	assert.Equal(t, "failed to generate image: pollinations status: 503", errResp.Message)
}

func TestGenerateImageRateLimit(t *testing.T) {
	limiter := api.NewRateLimiter(0.001, 1, utils.NewDiscardLogger())
	testCtx := testutils.SetupTestContextWithLimiter(t, limiter)
	_, otherJWT := testCtx.CreateUser(t, false)

	request := func(headers map[string]string) int {
		w := testutils.PerformRequest(
			testCtx.Router,
			http.MethodPost,
			"/api/generateImage",
			models.GenerateImageRequest{Prompt: "moon"},
			headers,
		)
		return w.Code
	}

	assert.Equal(t, http.StatusOK, request(testutils.AuthHeaders(testCtx.TestUserJWT)))
	assert.Equal(t, http.StatusTooManyRequests, request(testutils.AuthHeaders(testCtx.TestUserJWT)))

	// Limits are tracked per caller
	assert.Equal(t, http.StatusOK, request(testutils.AuthHeaders(otherJWT)))
}

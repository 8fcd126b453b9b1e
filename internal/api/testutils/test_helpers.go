package testutils

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/dreamdiary/coin-market/internal/api"
	"github.com/dreamdiary/coin-market/internal/blobstore"
	"github.com/dreamdiary/coin-market/internal/repository"
	"github.com/dreamdiary/coin-market/internal/service"
	"github.com/dreamdiary/coin-market/internal/utils"
)

const (
	testJWTSecret = "test-secret-key"
	testBucket    = "test-bucket"
	testBaseURL   = "http://localhost/v0/b"
)

// StubImages returns fixed bytes, or Err when set
type StubImages struct {
	Data []byte
	Err  error
}

func (s *StubImages) Generate(_ context.Context, _ string) ([]byte, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	return s.Data, nil
}

// TestContext holds all dependencies for tests
type TestContext struct {
	Router      *gin.Engine
	Repository  *repository.MemoryRepository
	Service     *service.DefaultService
	Images      *StubImages
	JWTSecret   []byte
	TestUserID  string
	TestUserJWT string
}

// SetupTestContext creates a test context over the in-memory store. The test
// user has already received the signup bonus.
func SetupTestContext(t *testing.T) *TestContext {
	return SetupTestContextWithLimiter(t, nil)
}

// SetupTestContextWithLimiter is SetupTestContext with a custom rate limiter
func SetupTestContextWithLimiter(t *testing.T, limiter *api.RateLimiter) *TestContext {
	t.Helper()

	repo := repository.NewMemoryRepository()
	images := &StubImages{Data: []byte("\x89PNG fake image")}

	blobs, err := blobstore.NewLocalStore(t.TempDir(), testBucket)
	require.NoError(t, err, "Failed to create blob store")

	log := utils.NewDiscardLogger()
	svc := service.NewDefaultService(repo, images, blobs, service.Options{
		BlobBaseURL: testBaseURL,
		Logger:      log,
	})

	// Set up Gin router
	gin.SetMode(gin.TestMode)
	handler := api.NewHandler(svc, limiter, log)
	router := api.NewRouter(handler, []byte(testJWTSecret))

	testCtx := &TestContext{
		Router:     router,
		Repository: repo,
		Service:    svc,
		Images:     images,
		JWTSecret:  []byte(testJWTSecret),
	}
	testCtx.TestUserID, testCtx.TestUserJWT = testCtx.CreateUser(t, true)
	return testCtx
}

// CreateUser makes a new uid with a signed token, optionally granting the signup bonus
func (tc *TestContext) CreateUser(t *testing.T, withBonus bool) (string, string) {
	t.Helper()

	uid := uuid.New().String()
	if withBonus {
		granted, err := tc.Service.GrantSignupBonus(context.Background(), uid)
		require.NoError(t, err, "Failed to grant signup bonus")
		require.True(t, granted)
	}
	return uid, SignToken(t, tc.JWTSecret, uid)
}

// SignToken issues an HS256 token for uid
func SignToken(t *testing.T, secret []byte, uid string) string {
	t.Helper()

	// Generate JWT token with the provided secret key
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": uid,
		"exp": time.Now().Add(24 * time.Hour).Unix(),
		"iat": time.Now().Unix(),
	})

	tokenString, err := token.SignedString(secret)
	require.NoError(t, err, "Failed to generate JWT token")
	return tokenString
}

// PerformRequest executes an HTTP request against the router
func PerformRequest(r http.Handler, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	var reqBody *bytes.Buffer

	if body != nil {
		jsonBody, _ := json.Marshal(body)
		reqBody = bytes.NewBuffer(jsonBody)
	} else {
		reqBody = bytes.NewBuffer(nil)
	}

	req, _ := http.NewRequest(method, path, reqBody)
	req.Header.Set("Content-Type", "application/json")

	for k, v := range headers {
		req.Header.Set(k, v)
	}

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

// AuthHeaders returns headers with Authorization token
func AuthHeaders(token string) map[string]string {
	return map[string]string{
		"Authorization": fmt.Sprintf("Bearer %s", token),
	}
}

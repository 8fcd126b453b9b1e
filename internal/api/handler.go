package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/dreamdiary/coin-market/internal/metrics"
	"github.com/dreamdiary/coin-market/internal/models"
	"github.com/dreamdiary/coin-market/internal/service"
)

// Handler holds the HTTP handlers
type Handler struct {
	service service.Service
	limiter *RateLimiter
	log     *logrus.Logger
}

// NewHandler creates a new Handler. A nil limiter disables rate limiting.
func NewHandler(svc service.Service, limiter *RateLimiter, log *logrus.Logger) *Handler {
	if limiter == nil {
		limiter = NewRateLimiter(0, 1, log)
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Handler{
		service: svc,
		limiter: limiter,
		log:     log,
	}
}

// NewRouter builds the gin engine with every route registered
func NewRouter(h *Handler, jwtSecret []byte) *gin.Engine {
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery(), metrics.GinMiddleware())

	// Add middleware for JWT secret
	router.Use(func(c *gin.Context) {
		c.Set("jwtSecret", jwtSecret)
		c.Next()
	})

	h.SetupRoutes(router)
	return router
}

// SetupRoutes registers all routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.GET("/healthz", h.Health)
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	// Object downloads are authorized by the token in the URL
	router.GET("/v0/b/:bucket/o/*object", h.DownloadObject)

	api := router.Group("/api")
	api.POST("/generateImage", OptionalAuthMiddleware(), h.limiter.Middleware(), h.GenerateImage)

	authorized := api.Group("")
	authorized.Use(AuthMiddleware())
	{
		authorized.POST("/purchaseMarketItem", h.PurchaseMarketItem)
		authorized.POST("/createMarketItem", h.CreateMarketItem)
		authorized.GET("/market/items/:id", h.GetMarketItem)

		authorized.GET("/account", h.GetAccount)
		authorized.GET("/account/ledger", h.GetLedger)
		authorized.GET("/account/purchases", h.GetPurchases)
		authorized.GET("/account/sales", h.GetSales)
	}
}

// Health reports liveness
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Image handlers
func (h *Handler) GenerateImage(c *gin.Context) {
	var req models.GenerateImageRequest
	if !h.bind(c, &req) {
		return
	}

	resp, err := h.service.GenerateImage(c.Request.Context(), req)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) DownloadObject(c *gin.Context) {
	path := strings.TrimPrefix(c.Param("object"), "/")

	obj, err := h.service.OpenBlob(c.Request.Context(), c.Param("bucket"), path, c.Query("token"))
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.Data(http.StatusOK, obj.ContentType, obj.Data)
}

// Marketplace handlers
func (h *Handler) PurchaseMarketItem(c *gin.Context) {
	var req models.PurchaseRequest
	if !h.bind(c, &req) {
		return
	}

	resp, err := h.service.PurchaseMarketItem(c.Request.Context(), currentUserID(c), req)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) CreateMarketItem(c *gin.Context) {
	var req models.CreateListingRequest
	if !h.bind(c, &req) {
		return
	}

	resp, err := h.service.CreateMarketItem(c.Request.Context(), currentUserID(c), req)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) GetMarketItem(c *gin.Context) {
	resp, err := h.service.GetMarketItem(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Account handlers
func (h *Handler) GetAccount(c *gin.Context) {
	account, err := h.service.GetAccount(c.Request.Context(), currentUserID(c))
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, account)
}

func (h *Handler) GetLedger(c *gin.Context) {
	resp, err := h.service.GetLedger(c.Request.Context(), currentUserID(c))
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) GetPurchases(c *gin.Context) {
	resp, err := h.service.GetPurchases(c.Request.Context(), currentUserID(c))
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) GetSales(c *gin.Context) {
	resp, err := h.service.GetSales(c.Request.Context(), currentUserID(c))
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// bind decodes the JSON body, writing a 400 response on failure
func (h *Handler) bind(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Status:  "error",
			Code:    string(service.CodeInvalidArgument),
			Message: "Invalid request body: " + err.Error(),
		})
		return false
	}
	return true
}

// handleError writes err as an ErrorResponse with the matching HTTP status
func (h *Handler) handleError(c *gin.Context, err error) {
	svcErr := service.AsError(err)
	if svcErr.Code == service.CodeInternal {
		h.log.WithError(err).WithField("path", c.FullPath()).Error("Request failed")
	}
	c.JSON(StatusFor(svcErr.Code), models.ErrorResponse{
		Status:  "error",
		Code:    string(svcErr.Code),
		Message: svcErr.Message,
	})
}

// StatusFor maps an error category to its HTTP status
func StatusFor(code service.Code) int {
	switch code {
	case service.CodeInvalidArgument, service.CodeFailedPrecondition:
		return http.StatusBadRequest
	case service.CodeUnauthenticated:
		return http.StatusUnauthorized
	case service.CodeNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

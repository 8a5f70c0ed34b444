package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"gym-checkin-backend/internal/checkin"
	"gym-checkin-backend/internal/codes"
	"gym-checkin-backend/internal/mw"
	"gym-checkin-backend/internal/store"
)

// Deps are the collaborators and limits the HTTP layer is built from.
type Deps struct {
	Store   store.Store
	Engine  *checkin.Service
	Issuer  *codes.Issuer
	WebPush *webpush.Options
	Log     *zap.Logger

	JWTSecret []byte
	JWTIssuer string

	RateLimitPerSec     float64
	RateLimitBurst      int
	ScanRateLimitPerSec float64
	CacheTTL            time.Duration
	RequestTimeout      time.Duration

	// Reports caches the report endpoints. Writers outside the HTTP layer,
	// such as the directory sync, flush it when they change members. A nil
	// value gets a private cache.
	Reports *mw.ResponseCache
}

// Handler holds shared dependencies for API handlers.
type Handler struct {
	store       store.Store
	engine      *checkin.Service
	issuer      *codes.Issuer
	webpush     *webpush.Options
	log         *zap.Logger
	scanLimiter *mw.KeyedRateLimiter
	reports     *mw.ResponseCache
	timeout     time.Duration
}

// NewHandler creates a new API handler.
func NewHandler(d Deps) *Handler {
	log := d.Log
	if log == nil {
		log = zap.NewNop()
	}
	issuer := d.Issuer
	if issuer == nil {
		issuer = codes.NewIssuer("")
	}
	scanRate := d.ScanRateLimitPerSec
	if scanRate <= 0 {
		scanRate = 2
	}
	// Leave room for a few rapid rescans so the engine's debounce answers them.
	burst := int(2 * scanRate)
	if burst < 5 {
		burst = 5
	}
	reports := d.Reports
	if reports == nil {
		reports = mw.NewResponseCache(d.CacheTTL)
	}
	timeout := d.RequestTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Handler{
		store:       d.Store,
		engine:      d.Engine,
		issuer:      issuer,
		webpush:     d.WebPush,
		log:         log.Named("api"),
		scanLimiter: mw.NewKeyedRateLimiter(rate.Limit(scanRate), burst),
		reports:     reports,
		timeout:     timeout,
	}
}

func errorJSON(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"error": msg})
}

// storeError maps store sentinels onto HTTP statuses.
func (h *Handler) storeError(c *gin.Context, op string, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		errorJSON(c, http.StatusNotFound, "not found")
	case errors.Is(err, store.ErrCodeTaken):
		errorJSON(c, http.StatusConflict, "member code already in use")
	default:
		h.log.Error(op, zap.Error(err))
		errorJSON(c, http.StatusInternalServerError, "internal server error")
	}
}

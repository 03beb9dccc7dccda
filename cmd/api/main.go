package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"presence/internal/auth"
	"presence/internal/config"
	"presence/internal/geofence"
	"presence/internal/geoipclient"
	"presence/internal/httpmiddleware"
	"presence/internal/joinlink"
	"presence/internal/presence"
	"presence/internal/queue"
	"presence/internal/store"
	"presence/internal/token"
)

func main() {
	cfg := config.Load()

	if cfg.Env == "production" || cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg); err != nil {
		log.Fatalf("http server failed: %v", err)
	}
}

func runHTTP(cfg config.App) error {
	db, err := store.NewDB(cfg.DatabaseURL, cfg.DBMaxConns)
	if err != nil {
		log.Printf("warning: db not reachable, using in-memory storage: %v", err)
		db = nil
	}
	defer func() {
		if db != nil {
			_ = db.Close()
		}
	}()

	redisClient := store.NewRedis(cfg.RedisAddr)

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, "presence:redemptions")
	}

	tokens := buildTokenStore(cfg.TokenBackend, cfg.TokenTTL, db, redisClient)

	var ledger presence.Ledger
	var roster presence.Roster
	if db != nil {
		repo := presence.NewRepository(db.Client)
		ledger, roster = repo, repo
	} else {
		ledger = presence.NewMemoryLedger()
		roster = presence.NewMemoryRoster()
	}

	fence, err := buildFence(cfg)
	if err != nil {
		return err
	}

	signer := joinlink.NewSigner([]byte(cfg.JoinSigningKey))
	svc := presence.NewService(roster, ledger, tokens, signer, fence, q, presence.Policy{
		CenterLat:     optFloat(cfg.CenterLat),
		CenterLon:     optFloat(cfg.CenterLon),
		RadiusM:       cfg.GeoRadiusM,
		EnforceRadius: cfg.GeoEnforce,
		JoinBaseURL:   cfg.JoinBaseURL,
	})

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(corsMiddleware())
	r.Use(securityHeaders())
	r.Use(httpmiddleware.NewSimpleTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin).GinMiddleware())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/healthz", func(c *gin.Context) {
		redisHealthy := redisClient.Healthy(c.Request.Context())
		dbHealthy := db.Healthy(c.Request.Context())
		status := http.StatusOK
		if !redisHealthy && !dbHealthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"status": "ok", "redis": redisHealthy, "db": dbHealthy})
	})

	// Dev-only token mint; real deployments front this API with the
	// university SSO, which issues the same claims.
	if cfg.Env != "production" && cfg.Env != "prod" {
		r.POST("/v1/auth/token", func(c *gin.Context) {
			var req struct {
				UserID string `json:"user_id" binding:"required"`
				Role   string `json:"role" binding:"required"`
			}
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			signed, exp, err := auth.Issue(req.UserID, req.Role, cfg.JWTIssuer, cfg.JWTSigningKey, cfg.AccessTTL)
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
				return
			}
			c.JSON(http.StatusCreated, gin.H{"access_token": signed, "expires_at": exp.Unix()})
		})
	}

	authGroup := r.Group("/v1", auth.UserAuth(cfg.JWTSigningKey, cfg.JWTIssuer))

	authGroup.GET("/lectures/:id/active", func(c *gin.Context) {
		sess, err := svc.ActiveSession(c.Request.Context(), actor(c), c.Param("id"))
		if err != nil {
			abortWith(c, err)
			return
		}
		c.JSON(http.StatusOK, sess)
	})

	authGroup.POST("/attendance/:id/qr/rotate", func(c *gin.Context) {
		rot, err := svc.Rotate(c.Request.Context(), actor(c), c.Param("id"))
		if err != nil {
			abortWith(c, err)
			return
		}
		c.JSON(http.StatusCreated, rot)
	})

	authGroup.PATCH("/attendance/:id/redeem", func(c *gin.Context) {
		var req struct {
			StudentID   string   `json:"student_id"`
			Token       string   `json:"token"`
			Lat         *float64 `json:"lat"`
			Lon         *float64 `json:"lon"`
			Fingerprint string   `json:"fingerprint"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		act := actor(c)
		studentID := req.StudentID
		if studentID == "" {
			studentID = act.UserID
		}
		result, err := svc.RedeemToken(c.Request.Context(), presence.RedeemRequest{
			Actor:       act,
			SessionID:   c.Param("id"),
			StudentID:   studentID,
			Token:       req.Token,
			IP:          c.ClientIP(),
			Lat:         req.Lat,
			Lon:         req.Lon,
			Fingerprint: req.Fingerprint,
			UserAgent:   c.Request.UserAgent(),
		})
		if err != nil {
			abortWith(c, err)
			return
		}
		c.JSON(http.StatusOK, result)
	})

	authGroup.POST("/attendance/join", func(c *gin.Context) {
		var req struct {
			AttendanceID string   `json:"attendance_id" binding:"required"`
			Credential   string   `json:"credential" binding:"required"`
			Lat          *float64 `json:"lat"`
			Lon          *float64 `json:"lon"`
			Fingerprint  string   `json:"fingerprint"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		result, err := svc.RedeemJoinLink(c.Request.Context(), presence.JoinRequest{
			Actor:       actor(c),
			SessionID:   req.AttendanceID,
			Credential:  req.Credential,
			IP:          c.ClientIP(),
			Lat:         req.Lat,
			Lon:         req.Lon,
			Fingerprint: req.Fingerprint,
			UserAgent:   c.Request.UserAgent(),
		})
		if err != nil {
			abortWith(c, err)
			return
		}
		c.JSON(http.StatusOK, result)
	})

	authGroup.POST("/attendance/:id/override/:studentID", func(c *gin.Context) {
		var req struct {
			Present *bool `json:"present" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		rec, err := svc.Override(c.Request.Context(), actor(c), c.Param("id"), c.Param("studentID"), *req.Present)
		if err != nil {
			abortWith(c, err)
			return
		}
		c.JSON(http.StatusOK, rec)
	})

	authGroup.GET("/attendance/:id/students/me", func(c *gin.Context) {
		rec, err := svc.MyRecord(c.Request.Context(), actor(c), c.Param("id"))
		if err != nil {
			abortWith(c, err)
			return
		}
		c.JSON(http.StatusOK, rec)
	})

	authGroup.GET("/attendance/:id/students", func(c *gin.Context) {
		recs, err := svc.SessionRecords(c.Request.Context(), actor(c), c.Param("id"))
		if err != nil {
			abortWith(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"records": recs})
	})

	// Graceful shutdown
	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("starting server on :%s", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("server forced shutdown: %v", err)
	}

	log.Println("server exited")
	return nil
}

// buildTokenStore picks the token backend. An explicitly configured backend
// is honored as-is; only the postgres default degrades to memory when the
// database is unreachable.
func buildTokenStore(backend string, ttl time.Duration, db *store.DB, redisClient *store.Redis) token.Store {
	switch backend {
	case "memory":
		return token.NewMemoryStore(ttl)
	case "redis":
		return token.NewRedisStore(redisClient.Client, "presence:qr", ttl)
	default:
		if db == nil {
			log.Printf("warning: token backend %q needs the database, falling back to memory", backend)
			return token.NewMemoryStore(ttl)
		}
		return token.NewPostgresStore(db.Client, ttl)
	}
}

// buildFence assembles the IP geofence, preferring a freshly fetched CIDR
// list over the static configuration when a refresh endpoint is set.
func buildFence(cfg config.App) (*geofence.Validator, error) {
	cidrs := cfg.AllowedCIDRs
	geoip := geoipclient.New(cfg.GeoIPRefreshURL, cfg.GeoIPSkip)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if fetched, err := geoip.Fetch(ctx); err != nil {
		log.Printf("warning: cidr refresh failed, using static list: %v", err)
	} else if len(fetched) > 0 {
		log.Printf("cidr allow-list refreshed: %d ranges", len(fetched))
		cidrs = fetched
	}
	return geofence.New(cidrs, cfg.TestMode)
}

func actor(c *gin.Context) presence.Actor {
	claims, _ := auth.FromContext(c)
	return presence.Actor{
		UserID: claims.Subject,
		Admin:  claims.Role == auth.RoleAdmin,
	}
}

func abortWith(c *gin.Context, err error) {
	switch {
	case errors.Is(err, presence.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, presence.ErrUnauthorized):
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
	case errors.Is(err, presence.ErrInvalidToken):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid or expired token"})
	case errors.Is(err, presence.ErrOriginDenied):
		c.JSON(http.StatusForbidden, gin.H{"error": "origin not permitted"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func optFloat(v float64) *float64 {
	if v == 0 {
		return nil
	}
	return &v
}

// CORS middleware for browser requests
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}

		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		c.Header("Access-Control-Allow-Credentials", "true")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// Security headers middleware
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-XSS-Protection", "1; mode=block")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")

		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		c.Next()
	}
}

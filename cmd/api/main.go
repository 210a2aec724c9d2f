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

	"presenzo/internal/account"
	"presenzo/internal/attendance"
	"presenzo/internal/auth"
	"presenzo/internal/classroom"
	"presenzo/internal/codes"
	"presenzo/internal/config"
	"presenzo/internal/httpmiddleware"
	"presenzo/internal/queue"
	"presenzo/internal/store"
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
	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	redisClient := store.NewRedis(cfg.RedisAddr)

	var q queue.Queue
	var throttle attendance.Throttle
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, "")
	}
	if cfg.ThrottleBackend == "memory" {
		throttle = attendance.NewMemoryThrottle()
	} else {
		throttle = attendance.NewRedisThrottle(redisClient.Client, "")
	}

	exportLoc, err := time.LoadLocation(cfg.ExportTimezone)
	if err != nil {
		log.Printf("invalid EXPORT_TIMEZONE %q, using UTC: %v", cfg.ExportTimezone, err)
		exportLoc = time.UTC
	}

	gen := codes.NewGenerator(cfg.EnrollmentCodeLen, cfg.AttendanceCodeLen)
	accountRepo := account.NewRepository(db.Client)
	classRepo := classroom.NewRepository(db.Client)
	recordRepo := attendance.NewRepository(db.Client)

	accounts := account.NewService(accountRepo, account.TokenConfig{
		Issuer:      cfg.JWTIssuer,
		SigningKey:  cfg.JWTSigningKey,
		AccessTTL:   cfg.AccessTTL,
		RefreshTTL:  cfg.RefreshTTL,
		RememberTTL: cfg.RememberTTL,
	})
	classes := classroom.NewService(classRepo, gen)
	checkins := attendance.NewService(classRepo, recordRepo, throttle, cfg.AttendanceCodeTTL, cfg.CheckinThrottle)
	sessions := attendance.NewManager(classRepo, gen, q, cfg.AttendanceCodeTTL)
	defer sessions.Close()

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
		dbHealthy := db.Client.PingContext(c.Request.Context()) == nil
		status := http.StatusOK
		if !redisHealthy || !dbHealthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"status": "ok", "redis": redisHealthy, "db": dbHealthy})
	})

	// Instructor accounts.

	r.POST("/v1/auth/signup", func(c *gin.Context) {
		var req struct {
			Email    string `json:"email" binding:"required"`
			Password string `json:"password" binding:"required"`
			Remember bool   `json:"remember"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		ins, tokens, err := accounts.SignUp(c.Request.Context(), req.Email, req.Password, req.Remember)
		if err != nil {
			status := http.StatusBadRequest
			if errors.Is(err, account.ErrEmailTaken) {
				status = http.StatusConflict
			}
			c.JSON(status, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, tokenResponse(ins, tokens))
	})

	r.POST("/v1/auth/login", func(c *gin.Context) {
		var req struct {
			Email    string `json:"email" binding:"required"`
			Password string `json:"password" binding:"required"`
			Remember bool   `json:"remember"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		ins, tokens, err := accounts.Login(c.Request.Context(), req.Email, req.Password, req.Remember)
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, account.ErrInvalidCredentials) {
				status = http.StatusUnauthorized
			}
			c.JSON(status, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, tokenResponse(ins, tokens))
	})

	r.POST("/v1/auth/refresh", func(c *gin.Context) {
		var req struct {
			RefreshToken string `json:"refresh_token" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		tokens, err := accounts.Refresh(c.Request.Context(), req.RefreshToken)
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, account.ErrInvalidRefreshToken) {
				status = http.StatusUnauthorized
			}
			c.JSON(status, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"access_token":  tokens.AccessToken,
			"refresh_token": tokens.RefreshToken,
			"expires_at":    tokens.AccessExp.Unix(),
		})
	})

	r.POST("/v1/auth/logout", func(c *gin.Context) {
		var req struct {
			RefreshToken string `json:"refresh_token" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := accounts.Logout(c.Request.Context(), req.RefreshToken); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.Status(http.StatusNoContent)
	})

	// Student flow: enrollment-code lookup, then check-in.

	r.GET("/v1/join", func(c *gin.Context) {
		cls, err := classes.Join(c.Request.Context(), c.Query("code"))
		if err != nil {
			if errors.Is(err, classroom.ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "class not found, check the enrollment code"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"class_id":          cls.ID,
			"name":              cls.Name,
			"schedule":          cls.Schedule,
			"identifier_mode":   cls.IdentifierMode,
			"identifier_hint":   cls.IdentifierHint,
			"attendance_active": cls.CodeActive(time.Now()),
		})
	})

	r.POST("/v1/checkins", func(c *gin.Context) {
		var req struct {
			ClassID        string `json:"class_id"`
			StudentCode    string `json:"student_code"`
			AttendanceCode string `json:"attendance_code"`
			ClientID       string `json:"client_id"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		clientKey := req.ClientID
		if clientKey == "" {
			clientKey = c.ClientIP()
		}
		rec, err := checkins.CheckIn(c.Request.Context(), req.ClassID, req.StudentCode, req.AttendanceCode, clientKey)
		if err != nil {
			writeCheckinError(c, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"record_id": rec.ID, "occurred_at": rec.OccurredAt})
	})

	// Instructor classroom management.

	authGroup := r.Group("/v1", auth.InstructorAuth(cfg.JWTSigningKey, cfg.JWTIssuer))

	authGroup.POST("/classes", func(c *gin.Context) {
		var req struct {
			Name           string `json:"name" binding:"required"`
			Schedule       string `json:"schedule"`
			Capacity       int    `json:"capacity" binding:"required"`
			IdentifierMode string `json:"identifier_mode"`
			IdentifierHint string `json:"identifier_hint"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		cls, err := classes.Create(c.Request.Context(), auth.InstructorID(c),
			req.Name, req.Schedule, req.Capacity, req.IdentifierMode, req.IdentifierHint)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, cls)
	})

	authGroup.GET("/classes", func(c *gin.Context) {
		list, err := classes.List(c.Request.Context(), auth.InstructorID(c))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"classes": list})
	})

	authGroup.DELETE("/classes/:id", func(c *gin.Context) {
		id := c.Param("id")
		if err := classes.Delete(c.Request.Context(), id, auth.InstructorID(c)); err != nil {
			if errors.Is(err, classroom.ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "class not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		sessions.Stop(id)
		c.Status(http.StatusNoContent)
	})

	authGroup.POST("/classes/:id/attendance", func(c *gin.Context) {
		cls, err := ownedClass(c, classes)
		if err != nil {
			return
		}
		sess, err := sessions.Start(c.Request.Context(), cls.ID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, sess)
	})

	authGroup.GET("/classes/:id/attendance", func(c *gin.Context) {
		cls, err := ownedClass(c, classes)
		if err != nil {
			return
		}
		if sess, left, ok := sessions.Remaining(cls.ID); ok {
			c.JSON(http.StatusOK, gin.H{"session": sess, "remaining_seconds": int(left.Seconds())})
			return
		}
		// Fall back to the stored row so a restarted api still reports an
		// active code armed by a previous process.
		if now := time.Now(); cls.CodeActive(now) {
			c.JSON(http.StatusOK, gin.H{
				"session": attendance.Session{
					ClassID:     cls.ID,
					Code:        *cls.AttendanceCode,
					GeneratedAt: *cls.CodeGeneratedAt,
					ExpiresAt:   *cls.CodeExpiresAt,
				},
				"remaining_seconds": int(cls.CodeExpiresAt.Sub(now).Seconds()),
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{"session": nil, "remaining_seconds": 0})
	})

	authGroup.GET("/classes/:id/records", func(c *gin.Context) {
		cls, err := ownedClass(c, classes)
		if err != nil {
			return
		}
		filter, err := parseFilter(c)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		recs, err := checkins.Records(c.Request.Context(), cls.ID, filter)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"records": recs})
	})

	authGroup.GET("/classes/:id/records/export", func(c *gin.Context) {
		cls, err := ownedClass(c, classes)
		if err != nil {
			return
		}
		recs, err := checkins.Records(c.Request.Context(), cls.ID, attendance.Filter{})
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		matrix, err := attendance.BuildMatrix(recs, exportLoc)
		if err != nil {
			if errors.Is(err, attendance.ErrNoRecords) {
				c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.Header("Content-Type", "text/csv")
		c.Header("Content-Disposition", `attachment; filename="`+attendance.ExportFilename+`"`)
		if err := matrix.WriteCSV(c.Writer); err != nil {
			log.Printf("csv export for class %s failed: %v", cls.ID, err)
		}
	})

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Starting server on :%s", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced shutdown: %v", err)
	}

	log.Println("Server exited")
	return nil
}

func tokenResponse(ins account.Instructor, tokens auth.TokenPair) gin.H {
	return gin.H{
		"instructor": gin.H{
			"id":    ins.ID,
			"email": ins.Email,
		},
		"access_token":  tokens.AccessToken,
		"refresh_token": tokens.RefreshToken,
		"expires_at":    tokens.AccessExp.Unix(),
	}
}

// ownedClass resolves :id to a class the caller owns, writing the error
// response itself when the lookup fails.
func ownedClass(c *gin.Context, classes *classroom.Service) (*classroom.Class, error) {
	cls, err := classes.Get(c.Request.Context(), c.Param("id"), auth.InstructorID(c))
	if err != nil {
		if errors.Is(err, classroom.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "class not found"})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return nil, err
	}
	return cls, nil
}

// parseFilter reads the from/to (YYYY-MM-DD) and student query params.
func parseFilter(c *gin.Context) (attendance.Filter, error) {
	var f attendance.Filter
	if v := c.Query("from"); v != "" {
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			return f, errors.New("from must be YYYY-MM-DD")
		}
		f.From = t
	}
	if v := c.Query("to"); v != "" {
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			return f, errors.New("to must be YYYY-MM-DD")
		}
		f.To = t.Add(24*time.Hour - time.Second) // end of day
	}
	f.Student = c.Query("student")
	return f, nil
}

// writeCheckinError maps the validator's taxonomy to HTTP statuses. None of
// these are fatal; the student corrects the condition and retries.
func writeCheckinError(c *gin.Context, err error) {
	var throttled *attendance.ThrottledError
	switch {
	case errors.As(err, &throttled):
		c.JSON(http.StatusTooManyRequests, gin.H{
			"error":        throttled.Error(),
			"wait_seconds": int(throttled.Wait.Seconds() + 0.999),
		})
	case errors.Is(err, attendance.ErrClassNotJoined):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, attendance.ErrEmptyIdentifier):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, attendance.ErrInvalidCode):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, attendance.ErrExpiredCode):
		c.JSON(http.StatusGone, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

// CORS middleware for browser requests
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}

		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
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

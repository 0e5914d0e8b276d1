// Package server wires configuration, storage, services and handlers into
// one chi router and runs it with graceful shutdown.
//
// DEPENDENCY INJECTION FLOW:
// main.go loads config.Config and a logger, then
//
//	Server.New() creates: bundb.DB → repositories
//	                      email.Sender, storage.ObjectStore, ratelimit.Limiter
//	                      services → handlers → routes
//
// This is the "composition root": every concrete type is chosen here and
// every other package only sees interfaces.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/sakif/student-crm/internal/auth"
	"github.com/sakif/student-crm/internal/config"
	"github.com/sakif/student-crm/internal/email"
	"github.com/sakif/student-crm/internal/handler"
	"github.com/sakif/student-crm/internal/middleware"
	"github.com/sakif/student-crm/internal/ratelimit"
	"github.com/sakif/student-crm/internal/repository/bundb"
	"github.com/sakif/student-crm/internal/service"
	"github.com/sakif/student-crm/internal/storage"
)

// Server represents the HTTP server and all its dependencies.
//
// RESOURCE MANAGEMENT:
// The Server owns the database, the optional Redis client and the optional
// Kafka writer. They are closed, in reverse order of creation, after the
// HTTP server has drained.
type Server struct {
	router  *chi.Mux
	config  *config.Config
	logger  *slog.Logger
	db      *bundb.DB
	closers []io.Closer

	tokens *auth.TokenService
	files  *storage.LocalStore // nil unless STORAGE_DRIVER=local

	auth        *handler.AuthHandler
	password    *handler.PasswordHandler
	application *handler.ApplicationHandler
	admin       *handler.AdminHandler
	upload      *handler.UploadHandler
}

// New builds every dependency from cfg. On error, whatever was already
// opened is closed again.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *Server, err error) {
	s := &Server{
		router: chi.NewRouter(),
		config: cfg,
		logger: logger,
	}
	defer func() {
		if err != nil {
			s.close()
		}
	}()

	// === DATABASE ===
	s.db, err = bundb.Open(ctx, cfg.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	s.closers = append(s.closers, s.db)

	// === AUTH PRIMITIVES ===
	s.tokens, err = auth.NewTokenService(cfg.Auth.JWTSecret)
	if err != nil {
		return nil, fmt.Errorf("creating token service: %w", err)
	}
	passwords := auth.NewPasswordServiceWithCost(cfg.Auth.BcryptCost)

	var google *auth.GoogleProvider
	if cfg.Auth.GoogleEnabled() {
		google, err = auth.NewGoogleProvider(ctx, cfg.Auth.GoogleClientID, cfg.Auth.GoogleClientSecret, cfg.Auth.GoogleRedirectURL)
		if err != nil {
			return nil, fmt.Errorf("creating google provider: %w", err)
		}
	} else {
		logger.Warn("GOOGLE_CLIENT_ID not set: Google sign-in is disabled")
	}

	// === OUTBOUND INFRASTRUCTURE ===
	sender := s.newSender()
	store, err := s.newStore()
	if err != nil {
		return nil, err
	}
	limiter, err := s.newLimiter(ctx)
	if err != nil {
		return nil, err
	}

	// === SERVICES AND HANDLERS ===
	mail := service.Mailer{Composer: email.NewComposer(cfg.Server.AppURL), Sender: sender}
	users := s.db.Users()
	apps := s.db.Applications()
	secure := cfg.Server.IsProduction()

	authDeps := service.AuthDeps{
		Users:     users,
		Tokens:    s.tokens,
		Passwords: passwords,
		Mail:      mail,
		Limiter:   limiter,
		Cooldown:  cfg.Redis.EmailCooldown,
		Logger:    logger,
	}
	var redirect handler.GoogleRedirect
	if google != nil {
		// Assigned only when non-nil so the interfaces stay truly nil
		// when Google is disabled.
		authDeps.Google = google
		redirect = google
	}

	s.auth = handler.NewAuthHandler(service.NewAuthService(authDeps), redirect, cfg.Server.AppURL, secure, logger)
	s.password = handler.NewPasswordHandler(
		service.NewPasswordResetService(users, passwords, mail, limiter, cfg.Redis.EmailCooldown, logger), logger)
	s.application = handler.NewApplicationHandler(service.NewApplicationService(apps, mail, logger), logger)
	s.admin = handler.NewAdminHandler(service.NewAdminService(apps, mail, logger), logger)
	s.upload = handler.NewUploadHandler(service.NewUploadService(store, logger), logger)

	s.setupRoutes()
	return s, nil
}

func (s *Server) newSender() email.Sender {
	cfg := s.config.Email
	from := email.Address{Name: cfg.FromName, Email: cfg.FromEmail}

	switch {
	case cfg.Transport == "kafka":
		s.logger.Info("email transport: kafka", slog.String("topic", cfg.KafkaTopic))
		sender := email.NewKafkaSender(cfg.KafkaBrokers, cfg.KafkaTopic, from)
		s.closers = append(s.closers, sender)
		return sender
	case cfg.SMTPEnabled():
		s.logger.Info("email transport: smtp", slog.String("host", cfg.SMTPHost))
		return email.NewSMTPSender(email.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUser,
			Password: cfg.SMTPPassword,
			From:     from,
		})
	default:
		s.logger.Warn("SMTP credentials not set: emails will be logged, not sent")
		return email.NewLogSender(s.logger)
	}
}

func (s *Server) newStore() (storage.ObjectStore, error) {
	cfg := s.config.Storage
	if cfg.Driver == "cloudinary" {
		store, err := storage.NewCloudinaryStore(cfg.CloudinaryURL, cfg.Bucket)
		if err != nil {
			return nil, fmt.Errorf("creating cloudinary store: %w", err)
		}
		return store, nil
	}

	store, err := storage.NewLocalStore(cfg.LocalDir, cfg.Bucket, cfg.PublicBaseURL)
	if err != nil {
		return nil, fmt.Errorf("creating local store: %w", err)
	}
	s.files = store
	return store, nil
}

func (s *Server) newLimiter(ctx context.Context) (ratelimit.Limiter, error) {
	if s.config.Redis.URL == "" {
		s.logger.Warn("REDIS_URL not set: email cooldowns and OTP lockout are disabled")
		return ratelimit.Nop{}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	client, err := ratelimit.NewRedisClient(ctx, s.config.Redis.URL)
	if err != nil {
		return nil, err
	}
	s.closers = append(s.closers, client)
	return ratelimit.NewRedisLimiter(client), nil
}

// setupRoutes configures all middleware and route handlers.
//
// MIDDLEWARE ORDER MATTERS:
// 1. RequestID: assigns a unique id to each request (logged by Logger)
// 2. RealIP: extracts the client IP from proxy headers
// 3. Recoverer: turns panics into 500s instead of crashing
// 4. Logger: one line per request
// 5. CORS: the web client runs on another origin and sends the cookie
func (s *Server) setupRoutes() {
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(chimiddleware.Recoverer)
	s.router.Use(middleware.Logger(s.logger))
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.config.Server.TrustedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	s.router.Get("/health", s.handleHealth)

	// Locally stored documents are served back at PUBLIC_BASE_URL (/files),
	// by exact key only.
	if s.files != nil {
		files := fileOnlyFS{http.Dir(s.files.Dir())}
		s.router.Handle("/files/*", http.StripPrefix("/files/", http.FileServer(files)))
	}

	requireAuth := auth.RequireAuth(s.tokens)
	requireAdmin := auth.RequireAdmin(s.tokens)

	s.router.Route("/api", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Post("/register", s.auth.HandleRegister)
			r.Post("/login", s.auth.HandleLogin)
			r.Post("/logout", s.auth.HandleLogout)
			r.Post("/google", s.auth.HandleGoogle)
			r.Get("/google/login", s.auth.HandleGoogleLogin)
			r.Get("/google/callback", s.auth.HandleGoogleCallback)
			r.Get("/verify-email", s.auth.HandleVerifyEmail)
			r.Post("/verify-email", s.auth.HandleVerifyEmail)
			r.Post("/resend-verification", s.auth.HandleResendVerification)

			r.Post("/forgot-password", s.password.HandleForgotPassword)
			r.Post("/verify-otp", s.password.HandleVerifyOTP)
			r.Post("/reset-password", s.password.HandleResetPassword)

			r.Group(func(r chi.Router) {
				r.Use(requireAuth)
				r.Get("/me", s.auth.HandleMe)
				r.Get("/oauth-users", s.auth.HandleOAuthUsers)
			})
		})

		r.Route("/applications", func(r chi.Router) {
			r.Post("/", s.application.HandleSubmit)
			r.Get("/", s.application.HandleGet)
			r.Post("/progress", s.application.HandleProgress)

			r.Route("/admin", func(r chi.Router) {
				r.Use(requireAdmin)
				r.Get("/", s.admin.HandleList)
				r.Post("/action", s.admin.HandleAction)
				r.Post("/review", s.admin.HandleReview)
			})
		})

		r.Post("/upload", s.upload.HandleUpload)
		r.Delete("/upload", s.upload.HandleDelete)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	w.Header().Set("Content-Type", "application/json")
	if err := s.db.Ping(ctx); err != nil {
		s.logger.Error("health check failed", slog.String("error", err.Error()))
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"status":"unavailable"}`))
		return
	}
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// fileOnlyFS reports directories as missing so http.FileServer never
// renders a listing of stored keys.
type fileOnlyFS struct {
	fs http.FileSystem
}

func (f fileOnlyFS) Open(name string) (http.File, error) {
	file, err := f.fs.Open(name)
	if err != nil {
		return nil, err
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, err
	}
	if info.IsDir() {
		file.Close()
		return nil, fs.ErrNotExist
	}
	return file, nil
}

// Handler exposes the router, e.g. for httptest.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server and handles graceful shutdown.
//
// GRACEFUL SHUTDOWN:
// 1. Stop accepting new HTTP connections
// 2. Wait for in-flight requests to finish (SERVER_SHUTDOWN_TIMEOUT)
// 3. Close the database, Redis and Kafka
func (s *Server) Start() error {
	defer s.close()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Server.Port),
		Handler:      s.router,
		ReadTimeout:  s.config.Server.ReadTimeout,
		WriteTimeout: s.config.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("server starting",
			slog.Int("port", s.config.Server.Port),
			slog.String("env", s.config.Server.Env),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-quit:
		s.logger.Info("shutdown signal received", slog.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), s.config.Server.ShutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}

	return nil
}

// close releases owned resources, newest first.
func (s *Server) close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i].Close(); err != nil {
			s.logger.Warn("closing resource", slog.String("error", err.Error()))
		}
	}
	s.closers = nil
}

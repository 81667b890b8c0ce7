package main

import (
	"context"
	"net/http"
	"time"

	"elibrary/internal/access"
	"elibrary/internal/auth"
	"elibrary/internal/config"
	"elibrary/internal/ebook"
	"elibrary/internal/fine"
	"elibrary/internal/httpx"
	"elibrary/internal/request"
	"elibrary/internal/user"

	"go.uber.org/zap"
)

// app is the wired service graph behind the router.
type app struct {
	engine  *ebook.Engine
	handler http.Handler
	limiter *httpx.RateLimiter
}

func newApp(cfg *config.Config, st *stores, logger *zap.Logger, now func() time.Time) *app {
	requests := request.NewService(st.requests, now)
	ledger := fine.NewService(st.fines, ebook.LoanSource(st.ebooks),
		fine.WithClock(now),
		fine.WithOutstandingDedupe(cfg.FineDedupeOutstanding),
		fine.WithLogger(logger.Named("fines")),
	)
	engine := ebook.NewEngine(st.ebooks, requests, ledger,
		ebook.WithClock(now),
		ebook.WithLogger(logger.Named("lending")),
	)
	users := user.NewService(st.users)

	ebookHandler := ebook.NewHTTPHandler(engine, ebook.NewService(st.ebooks), logger)
	fineHandler := fine.NewHTTPHandler(ledger, logger)
	requestHandler := request.NewHTTPHandler(requests, logger)
	userHandler := user.NewHTTPHandler(users)
	authHandler := auth.NewHTTPHandler(auth.NewService(cfg.JWTSecret, cfg.AccessTokenTTL, users, st.blacklist))

	authenticated := httpx.AuthMiddleware(cfg.JWTSecret, st.blacklist)
	protect := func(h http.HandlerFunc) http.Handler {
		return httpx.Chain(h, authenticated)
	}
	librarian := func(h http.HandlerFunc) http.Handler {
		return httpx.Chain(h, authenticated, httpx.RequireRole(access.RoleLibrarian))
	}
	reader := func(h http.HandlerFunc) http.Handler {
		return httpx.Chain(h, authenticated, httpx.RequireRole(access.RoleUser))
	}

	router := http.NewServeMux()
	router.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	router.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 500*time.Millisecond)
		defer cancel()
		if err := st.ping(ctx); err != nil {
			http.Error(w, "db not ready", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	// Public
	router.HandleFunc("POST /v1/users/register", userHandler.RegisterUser)
	router.HandleFunc("POST /v1/users/login", authHandler.Login)

	// Account
	router.Handle("POST /v1/auth/logout", protect(authHandler.Logout))
	router.Handle("GET /v1/me", protect(userHandler.GetCurrentUser))
	router.Handle("GET /v1/me/issued-books", reader(ebookHandler.IssuedBooks))
	router.Handle("GET /v1/me/requests", reader(requestHandler.ListMine))

	// Catalogue
	router.Handle("GET /v1/ebooks", protect(ebookHandler.List))
	router.Handle("GET /v1/ebooks/{id}", protect(ebookHandler.Get))
	router.Handle("POST /v1/ebooks", librarian(ebookHandler.Create))
	router.Handle("PUT /v1/ebooks/{id}", librarian(ebookHandler.Update))
	router.Handle("DELETE /v1/ebooks/{id}", librarian(ebookHandler.Delete))

	// Lending
	router.Handle("POST /v1/ebooks/{id}/request", reader(ebookHandler.RequestBook))
	router.Handle("PUT /v1/ebooks/{id}/return", reader(ebookHandler.ReturnBook))
	router.Handle("POST /v1/notify-admin-return", reader(ebookHandler.NotifyReturn))
	router.Handle("GET /v1/requests", librarian(requestHandler.ListPending))
	router.Handle("PUT /v1/requests/{id}", librarian(ebookHandler.DecideRequest))
	router.Handle("PUT /v1/requests/approve-return/{id}", librarian(ebookHandler.ApproveReturn))
	router.Handle("POST /v1/ebooks/{id}/revoke", librarian(ebookHandler.Revoke))

	// Fines
	router.Handle("GET /v1/fines/{userId}", protect(fineHandler.ListFines))
	router.Handle("GET /v1/fines/payment-history/{userId}", protect(fineHandler.PaymentHistory))
	router.Handle("PUT /v1/fines/pay/{fineId}", protect(ebookHandler.PayFine))
	router.Handle("POST /v1/pay-fine", protect(ebookHandler.ConfirmPayment))

	limiter := httpx.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	handler := httpx.Chain(router,
		httpx.RecoveryMiddleware(logger),
		httpx.RequestIDMiddleware,
		httpx.AccessLogMiddleware(logger),
		httpx.CORSMiddleware(cfg.CORSAllowedOrigins),
		httpx.SecurityHeadersMiddleware(cfg.EnableHSTS),
		httpx.RequestSizeLimitMiddleware(cfg.MaxBodyBytes),
		limiter.Middleware,
	)

	return &app{engine: engine, handler: handler, limiter: limiter}
}

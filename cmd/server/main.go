package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"

	"go-messenger/internal/chat"
	"go-messenger/internal/config"
	"go-messenger/internal/db"
	myMiddleware "go-messenger/internal/middleware"
	"go-messenger/internal/presence"
	"go-messenger/internal/user"
)

func main() {
	// 1. Config
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("❌ Config error: %v", err)
	}

	logger := newLogger(cfg.LogLevel)

	// 2. Connect to Postgres (Platform Layer)
	database, err := db.NewDatabase(cfg.DBDSN)
	if err != nil {
		log.Fatalf("❌ Failed to connect to DB: %v", err)
	}
	defer database.Close()
	logger.Info("✅ Connected to PostgreSQL")

	if err := database.AutoMigrate(); err != nil {
		log.Fatalf("❌ Migration failed: %v", err)
	}
	logger.Info("✅ Database schema initialized")

	// 3. Connect to Redis (optional: empty addr = process-local bus)
	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if _, err := redisClient.Ping(context.Background()).Result(); err != nil {
			log.Fatalf("❌ Failed to connect to Redis: %v", err)
		}
		logger.Info("✅ Connected to Redis")
	} else {
		logger.Warn("REDIS_ADDR empty, running without cross-instance fan-out")
	}

	// 4. Identity feature
	userRepo := user.NewRepository(database.Conn)
	userService := user.NewService(userRepo, cfg.JWTSecret, cfg.TokenTTL)
	userHandler := user.NewHandler(userService)

	// 5. Messaging core. Registries and bus are built once here and
	// injected everywhere; nothing reaches them through globals.
	chatRepo := chat.NewRepository(database.Conn)
	rooms := chat.NewRoomRegistry(chatRepo, logger)
	bus := chat.NewBus(rooms, redisClient, logger)
	presenceRegistry := presence.NewRegistry()
	presenceRepo := presence.NewRepository(database.Conn)

	chatService := chat.NewService(chatRepo, rooms, bus, presenceRegistry, presenceRepo, logger)
	chatHandler := chat.NewHandler(chatService, logger, cfg.SendQueueSize, cfg.HistoryPageSize)

	// Out-of-room notifications ride the same bus as everything else.
	bus.AddSink(chat.NewUserNotifier(bus, rooms, logger))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go bus.Subscribe(ctx)

	authMiddleware := myMiddleware.NewAuth(userService)

	// 6. Routes
	r := chi.NewRouter()
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)

	// Public
	r.Post("/register", userHandler.Register)
	r.Post("/login", userHandler.Login)

	// Protected (require JWT)
	r.Group(func(r chi.Router) {
		r.Use(authMiddleware.Handle)
		r.Get("/api/users/search", userHandler.SearchUsers)
		chatHandler.Routes(r)
	})

	srv := &http.Server{Addr: cfg.Addr, Handler: r}
	go func() {
		<-ctx.Done()
		logger.Info("shutting down")
		srv.Shutdown(context.Background())
	}()

	logger.Info("🚀 Server starting", "addr", cfg.Addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal(err)
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

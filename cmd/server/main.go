package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	jww "github.com/spf13/jwalterweatherman"
	"github.com/spf13/viper"

	"petconnect/internal/auth"
	"petconnect/internal/chat"
	"petconnect/internal/config"
	"petconnect/internal/db"
	"petconnect/internal/message"
	myMiddleware "petconnect/internal/middleware"
	"petconnect/internal/user"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "petconnect",
	Short: "Runs the PetConnect messaging API and realtime relay",
	Long: `Runs the PetConnect messaging API and realtime relay.

Conversation events (join, send, typing, read) are only accepted from the
two users named in the conversation id. Pass --enforce-participants=false
or set chat.enforce_participants to false to accept them from any
authenticated user. Personal user: channels can never be joined.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(viper.GetViper(), cfgFile)
		if err != nil {
			return err
		}
		initLog(cfg.Log.Level, cfg.Log.Path)
		return run(cfg)
	},
}

func init() {
	config.SetDefaults(viper.GetViper())

	rootCmd.Flags().StringVarP(&cfgFile, "config", "c", "", "Path to a config file (yaml, json or toml)")

	rootCmd.Flags().String("addr", ":8080", "http service address")
	_ = viper.BindPFlag("http.addr", rootCmd.Flags().Lookup("addr"))

	rootCmd.Flags().String("db-driver", config.DriverPostgres, "Storage driver: postgres or sqlite")
	_ = viper.BindPFlag("db.driver", rootCmd.Flags().Lookup("db-driver"))

	rootCmd.Flags().Bool("enforce-participants", true, "Only conversation participants may join or emit to it")
	_ = viper.BindPFlag("chat.enforce_participants", rootCmd.Flags().Lookup("enforce-participants"))

	rootCmd.Flags().UintP("logLevel", "v", 0, "Verbosity: 0 info, 1 debug, 2 trace")
	_ = viper.BindPFlag("log.level", rootCmd.Flags().Lookup("logLevel"))

	rootCmd.Flags().String("log", "", "Log file path; stdout when empty")
	_ = viper.BindPFlag("log.path", rootCmd.Flags().Lookup("log"))
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func initLog(threshold uint, logPath string) {
	if logPath != "" && logPath != "-" {
		logOutput, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			jww.FATAL.Fatalf("Failed to open log file %s: %v", logPath, err)
		}
		jww.SetStdoutOutput(io.Discard)
		jww.SetLogOutput(logOutput)
	}

	switch {
	case threshold > 1:
		jww.SetStdoutThreshold(jww.LevelTrace)
		jww.SetLogThreshold(jww.LevelTrace)
		jww.SetFlags(log.LstdFlags | log.Lmicroseconds)
	case threshold == 1:
		jww.SetStdoutThreshold(jww.LevelDebug)
		jww.SetLogThreshold(jww.LevelDebug)
		jww.SetFlags(log.LstdFlags | log.Lmicroseconds)
	default:
		jww.SetStdoutThreshold(jww.LevelInfo)
		jww.SetLogThreshold(jww.LevelInfo)
	}
	jww.INFO.Printf("log level set to %d", threshold)
}

type migrator interface {
	Migrate() error
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 1. Storage
	var (
		userRepo    user.Repository
		messageRepo message.Repository
	)
	switch cfg.DB.Driver {
	case config.DriverSQLite:
		gdb, err := db.NewSQLite(cfg.DB.DSN)
		if err != nil {
			return err
		}
		ur, mr := user.NewGormRepository(gdb), message.NewGormRepository(gdb)
		for _, m := range []migrator{ur, mr} {
			if err := m.Migrate(); err != nil {
				return err
			}
		}
		userRepo, messageRepo = ur, mr
		jww.INFO.Printf("Using SQLite store at %s", cfg.DB.DSN)

	default:
		database, err := db.NewDatabase(cfg.DB.DSN)
		if err != nil {
			return err
		}
		defer database.Close()
		jww.INFO.Println("Connected to PostgreSQL")

		if err := database.AutoMigrate(ctx); err != nil {
			return err
		}
		jww.INFO.Println("Database schema initialized")
		userRepo, messageRepo = user.NewRepository(database.Conn), message.NewRepository(database.Conn)
	}

	// 2. Relay broker
	var broker chat.Broker
	if cfg.Redis.Addr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if _, err := redisClient.Ping(ctx).Result(); err != nil {
			return errors.Wrap(err, "connect to redis")
		}
		jww.INFO.Printf("Connected to Redis at %s", cfg.Redis.Addr)
		broker = chat.NewRedisBroker(redisClient, cfg.Redis.Channel)
	} else {
		jww.INFO.Println("No Redis configured, relaying within this process")
		broker = chat.NewLocalBroker(0)
	}
	defer broker.Close()

	// 3. Features
	tokens := auth.NewTokens(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	userService := user.NewService(userRepo, tokens)
	userHandler := user.NewHandler(userService)

	hub := chat.NewHub(broker, chat.NewRegistry(), chat.Options{
		SendBuffer:      cfg.Chat.SendBuffer,
		MaxMessageSize:  cfg.Chat.MaxMessageSize,
		EventsPerSecond: cfg.Chat.EventsPerSecond,
	})
	go hub.Run(ctx)
	go hub.SubscribeToBroker(ctx)
	chatHandler := chat.NewHandler(hub, chat.NewRouter(hub, cfg.Chat.EnforceParticipants))

	var relay message.Relay
	if cfg.Chat.RelayOnCommit {
		relay = hub
	}
	messageHandler := message.NewHandler(message.NewService(messageRepo, userService, relay))

	authMiddleware := myMiddleware.NewAuthMiddleware(tokens)

	// 4. Routes
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Post("/register", userHandler.Register)
	r.Post("/login", userHandler.Login)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	r.Group(func(r chi.Router) {
		r.Use(authMiddleware.Handle)
		r.Get("/ws", chatHandler.ServeWs)
		r.Get("/api/users/search", userHandler.SearchUsers)
		r.Get("/api/users/{id}", userHandler.Get)
		messageHandler.Routes(r)
	})

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		jww.INFO.Printf("Server starting on %s", cfg.HTTP.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		jww.INFO.Println("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
	}
	return nil
}

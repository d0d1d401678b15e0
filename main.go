package main

import (
	"context"
	"errors"
	"flag"
	"log"
	oshttp "net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/ltmoamin/RentalCar/internal/auth"
	"github.com/ltmoamin/RentalCar/internal/chat"
	"github.com/ltmoamin/RentalCar/internal/commands"
	"github.com/ltmoamin/RentalCar/internal/config"
	"github.com/ltmoamin/RentalCar/internal/mediastore"
	"github.com/ltmoamin/RentalCar/internal/http"
	"github.com/ltmoamin/RentalCar/internal/push"
	"github.com/ltmoamin/RentalCar/internal/storage"
	"github.com/ltmoamin/RentalCar/internal/ws"
)

func run(ctx context.Context) error {
	addUser := flag.String("add-user", "", "Email of a user to create through a running server's admin API")
	userName := flag.String("name", "", "Display name for --add-user")
	userPassword := flag.String("password", "", "Password for --add-user")
	userRole := flag.String("role", "USER", "Role for --add-user (USER or ADMIN)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	if *addUser != "" {
		return commands.AddUser(*addUser, *userName, *userPassword, *userRole, cfg)
	}

	bbStorage, err := storage.NewBboltStorage(cfg.DBFile)
	if err != nil {
		return err
	}
	defer func() { _ = bbStorage.Close() }()

	authService, err := auth.NewAuthService(ctx, auth.Config{TokenExpiry: cfg.TokenExpiry}, bbStorage)
	if err != nil {
		return err
	}

	files, err := mediastore.NewDiskStore(cfg.UploadsPath)
	if err != nil {
		return err
	}

	hub := ws.NewHub()
	pushSender := push.NewSender(push.Config{
		VAPIDPublicKey:  cfg.VAPIDPublicKey,
		VAPIDPrivateKey: cfg.VAPIDPrivateKey,
		Subscriber:      cfg.PushSubscriber,
	})
	chatService := chat.NewService(bbStorage, hub, pushSender)

	adminServer := http.NewAdminServer(authService, cfg.AdminAddr)
	apiServer := http.NewAPIServer(authService, chatService, hub, files, bbStorage, cfg.APIAddr, cfg.BaseURL, cfg.AllowedOrigins)

	g, gCtx := errgroup.WithContext(ctx)

	// Start Admin Server
	g.Go(func() error {
		err := adminServer.Start()
		if err != nil && err != oshttp.ErrServerClosed {
			return err
		}
		return nil
	})

	// Start API Server
	g.Go(func() error {
		err := apiServer.Start()
		if err != nil && err != oshttp.ErrServerClosed {
			return err
		}
		return nil
	})

	// Wait for context cancellation (signal)
	g.Go(func() error {
		<-gCtx.Done()
		log.Println("Shutting down servers...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := adminServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("Admin server shutdown error: %v", err)
		}
		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("API server shutdown error: %v", err)
		}
		return nil
	})

	return g.Wait()
}

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("Failed to load .env: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("Application error: %v", err)
	}
}

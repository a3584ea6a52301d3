package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/joho/godotenv"

	"github.com/drivebox/backend/internal/config"
	"github.com/drivebox/backend/internal/database"
	"github.com/drivebox/backend/internal/handlers"
	"github.com/drivebox/backend/internal/middleware"
	"github.com/drivebox/backend/internal/services"
	"github.com/drivebox/backend/internal/storage"
	"github.com/drivebox/backend/pkg/logger"
	"github.com/drivebox/backend/pkg/utils"
)

func main() {
	_ = godotenv.Load()
	logger.Init()

	cfg := config.Load()
	utils.ConfigureJWT(cfg.JWT.Secret, cfg.JWT.ExpirationHours)

	db, err := database.Connect(cfg.DB)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}

	storageClient, err := storage.NewMinIOClient(cfg.MinIO)
	if err != nil {
		log.Fatalf("minio initialization failed: %v", err)
	}
	if err := storageClient.EnsureBucket(context.Background()); err != nil {
		log.Fatalf("failed ensuring minio bucket: %v", err)
	}

	treeService := services.NewTreeService(db)
	grantService := services.NewGrantService(db)
	accessService := services.NewAccessService(db, grantService)
	fileService := services.NewFileService(db, storageClient, grantService)
	auditService := services.NewAuditService(db, storageClient, cfg.Audit.QueueSize)
	auditService.StartExporter(cfg.Audit.ExportInterval)

	authHandler := handlers.NewAuthHandler(db, auditService)
	usersHandler := handlers.NewUsersHandler(db)
	foldersHandler := handlers.NewFoldersHandler(db, treeService, accessService, fileService, grantService, auditService)
	filesHandler := handlers.NewFilesHandler(db, treeService, accessService, fileService, auditService)
	grantsHandler := handlers.NewGrantsHandler(db, treeService, fileService, accessService, grantService, auditService)
	activitiesHandler := handlers.NewActivitiesHandler(db)

	authMiddleware := middleware.NewAuthMiddleware(db)

	app := fiber.New(fiber.Config{BodyLimit: cfg.Server.BodyLimit})
	app.Use(recover.New(recover.Config{EnableStackTrace: true}))
	app.Use(middleware.CORS())
	app.Use(middleware.RequestLogger())

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"status": "ok"})
	})

	api := app.Group("/api")

	authRoutes := api.Group("/auth")
	authRoutes.Post("/register", authHandler.Register)
	authRoutes.Post("/login", authHandler.Login)
	authRoutes.Get("/me", authMiddleware.RequireAuth, authHandler.Me)

	api.Get("/users/search", authMiddleware.RequireAuth, usersHandler.Search)
	api.Get("/users", authMiddleware.RequireAuth, middleware.AdminOnly, usersHandler.List)

	folderRoutes := api.Group("/folders")
	folderRoutes.Get("/home", authMiddleware.RequireAuth, foldersHandler.Home)
	folderRoutes.Get("/choices", authMiddleware.RequireAuth, foldersHandler.Choices)
	folderRoutes.Post("/", authMiddleware.RequireAuth, foldersHandler.Create)
	folderRoutes.Get("/:slug", authMiddleware.OptionalAuth, foldersHandler.Get)
	folderRoutes.Get("/:slug/path", authMiddleware.OptionalAuth, foldersHandler.Path)
	folderRoutes.Put("/:slug", authMiddleware.RequireAuth, foldersHandler.Update)
	folderRoutes.Delete("/:slug", authMiddleware.RequireAuth, foldersHandler.Delete)
	folderRoutes.Post("/:slug/share", authMiddleware.RequireAuth, grantsHandler.ShareFolder)
	folderRoutes.Get("/:slug/shares", authMiddleware.RequireAuth, grantsHandler.ListFolderGrants)

	fileRoutes := api.Group("/files")
	fileRoutes.Post("/upload", authMiddleware.RequireAuth, filesHandler.Upload)
	fileRoutes.Get("/:slug", authMiddleware.OptionalAuth, filesHandler.Get)
	fileRoutes.Get("/:slug/download", authMiddleware.OptionalAuth, filesHandler.Download)
	fileRoutes.Get("/:slug/download-url", authMiddleware.OptionalAuth, filesHandler.DownloadURL)
	fileRoutes.Put("/:slug", authMiddleware.RequireAuth, filesHandler.Update)
	fileRoutes.Delete("/:slug", authMiddleware.RequireAuth, filesHandler.Delete)
	fileRoutes.Post("/:slug/share", authMiddleware.RequireAuth, grantsHandler.ShareFile)
	fileRoutes.Get("/:slug/shares", authMiddleware.RequireAuth, grantsHandler.ListFileGrants)

	api.Delete("/shares/:id", authMiddleware.RequireAuth, grantsHandler.Revoke)

	activityRoutes := api.Group("/activities")
	activityRoutes.Get("/", authMiddleware.RequireAuth, activitiesHandler.List)
	activityRoutes.Get("/unread-count", authMiddleware.RequireAuth, activitiesHandler.UnreadCount)
	activityRoutes.Put("/read-all", authMiddleware.RequireAuth, activitiesHandler.MarkAllRead)
	activityRoutes.Put("/:id/read", authMiddleware.RequireAuth, activitiesHandler.MarkRead)

	listenAddr := fmt.Sprintf(":%s", cfg.Server.Port)

	logger.Info("server_starting", map[string]interface{}{
		"port":    cfg.Server.Port,
		"address": listenAddr,
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- app.Listen(listenAddr)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		log.Printf("shutting down server due to signal: %s", sig)
		shutdownDone := make(chan struct{})
		go func() {
			_ = app.Shutdown()
			close(shutdownDone)
		}()
		select {
		case <-shutdownDone:
		case <-time.After(10 * time.Second):
			log.Print("forced shutdown timeout reached")
		}
	case err := <-errCh:
		if err != nil {
			log.Fatalf("server error: %v", err)
		}
	}
}

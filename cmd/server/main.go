package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/subosito/gotenv"
	"go.uber.org/zap"

	"github.com/hojokin-tools/subsidy-docgen/internal/ai"
	"github.com/hojokin-tools/subsidy-docgen/internal/assembler"
	"github.com/hojokin-tools/subsidy-docgen/internal/config"
	"github.com/hojokin-tools/subsidy-docgen/internal/export"
	httpiface "github.com/hojokin-tools/subsidy-docgen/internal/interfaces/http"
	"github.com/hojokin-tools/subsidy-docgen/internal/preview"
	"github.com/hojokin-tools/subsidy-docgen/internal/registry"
	"github.com/hojokin-tools/subsidy-docgen/internal/renderer"
	"github.com/hojokin-tools/subsidy-docgen/internal/storage"
	"github.com/hojokin-tools/subsidy-docgen/pkg/database"
	"github.com/hojokin-tools/subsidy-docgen/pkg/utils"
)

func main() {
	// Load .env before config so secrets can live outside the YAML file
	_ = gotenv.Load()

	cfg, err := config.Load("configs/config.yaml")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := utils.NewLogger(utils.LoggerConfig{
		Level:      cfg.Logger.Level,
		OutputPath: cfg.Logger.OutputPath,
		Format:     cfg.Logger.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting subsidy document generation service",
		zap.String("version", "1.0.0"),
		zap.Int("port", cfg.Server.Port))

	db, err := database.New(database.Config{
		Path:            cfg.Database.Path,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer db.Close()

	migrator := database.NewMigrator(db, logger)
	if err := migrator.RunMigrations(); err != nil {
		logger.Fatal("Failed to run database migrations", zap.Error(err))
	}

	store, err := storage.NewLocalTemplateStore(cfg.Templates.Dir, logger)
	if err != nil {
		logger.Fatal("Failed to initialize template storage", zap.Error(err))
	}

	templateRepo := registry.NewTemplateRepository(db.DB, logger)
	templateRegistry := registry.NewRegistry(templateRepo, logger)

	docAssembler := assembler.NewAssembler(logger)
	pdfRenderer := renderer.NewRenderer(renderer.Config{
		FontPath:        cfg.Renderer.FontPath,
		DefaultFontSize: cfg.Renderer.DefaultFontSize,
	}, logger)
	pagePreview := preview.NewPageRenderer(logger)
	reviewSheets := export.NewReviewSheetWriter(logger)

	// Draft generation is optional: without an API key the endpoint answers 503
	var drafter ai.DraftGenerator
	if cfg.Gemini.APIKey != "" {
		gemini, err := ai.NewGeminiDrafter(
			context.Background(),
			cfg.Gemini.APIKey,
			cfg.Gemini.Model,
			cfg.Gemini.Temperature,
			logger,
		)
		if err != nil {
			logger.Fatal("Failed to initialize Gemini drafter", zap.Error(err))
		}
		drafter = gemini
	} else {
		logger.Warn("GEMINI_API_KEY not set, draft generation disabled")
	}

	if cfg.Logger.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	handlers := httpiface.NewHandlers(
		templateRegistry,
		store,
		docAssembler,
		pdfRenderer,
		pagePreview,
		reviewSheets,
		drafter,
		cfg.Server.MaxUploadMB*1024*1024,
		logger,
	)

	server := httpiface.NewServer(httpiface.ServerConfig{
		Host:         cfg.Server.Host,
		Port:         cfg.Server.Port,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}, handlers, logger)

	go func() {
		if err := server.Start(); err != nil {
			logger.Fatal("Failed to start HTTP server", zap.Error(err))
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited successfully")
}

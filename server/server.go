package server

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"

	"TuneSweep/cache"
	"TuneSweep/config"
	"TuneSweep/core/catalog"
	"TuneSweep/core/dedup"
	"TuneSweep/core/progress"
	"TuneSweep/db"
	"TuneSweep/logger"
	"TuneSweep/repository"
	"TuneSweep/storage"
)

// Start initializes and starts the HTTP server.
func Start() {
	cfg := config.Load()

	// 设置服务器超时
	server := &http.Server{
		Addr:         cfg.ServerAddr,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Connect to the database
	if err := db.ConnectDB(cfg); err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.CloseDB()

	if err := db.ConnectGormDB(cfg); err != nil {
		log.Fatalf("Failed to connect to database with GORM: %v", err)
	}
	defer db.CloseGormDB()

	// Initialize database schema
	if err := db.InitDB(); err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	if err := db.MigrateAnalysisModels(); err != nil {
		log.Fatalf("Failed to migrate analysis models: %v", err)
	}

	// Connect to Redis. The progress mirror degrades without it, so a
	// failure is not fatal.
	var mirror progress.Mirror
	var progressCache dedup.ProgressCache
	if err := cache.ConnectRedis(cfg); err != nil {
		logger.Warn("Redis unavailable, progress mirror disabled", logger.ErrorField(err))
	} else {
		defer cache.CloseRedis()
		pm := cache.NewProgressMirror(cache.RedisClient, cfg.Analyzer.ProgressTTL)
		mirror = pm
		progressCache = pm
		log.Println("Successfully connected to Redis")
	}

	// 初始化 MinIO 导出归档（可选）
	var archive dedup.Archiver
	if cfg.MinioEnabled {
		a, err := storage.NewExportArchive(cfg)
		if err != nil {
			logger.Warn("MinIO unavailable, export archival disabled", logger.ErrorField(err))
		} else {
			archive = a
		}
	}

	trackRepo := repository.NewMySQLTrackRepository(db.DB)
	auditRepo := repository.NewMySQLAuditRepository(db.DB)
	analysisStore := repository.NewGormAnalysisStore(db.GormDB)

	library := catalog.NewXMLLibrary(cfg.CatalogPath)
	watchCtx, stopWatch := context.WithCancel(context.Background())
	defer stopWatch()
	go func() {
		if err := library.Watch(watchCtx); err != nil && err != context.Canceled {
			logger.Warn("catalog watcher stopped", logger.ErrorField(err))
		}
	}()

	finder := dedup.NewFinder(trackRepo, cfg.Analyzer.GroupingThreshold)
	crossref := dedup.NewCrossReferencer(library, cfg.Analyzer.CatalogMatchThreshold, cfg.Analyzer.CatalogLookupTimeout)
	resolver := dedup.NewResolver(db.GormDB, auditRepo)
	tracker := progress.NewTracker(cfg.Analyzer.ProgressTTL, mirror)
	analyzer := dedup.NewAnalyzer(cfg.Analyzer, trackRepo, analysisStore, finder, crossref, resolver, tracker, auditRepo, archive, progressCache)

	// 初始化处理器
	apiHandler := NewAPIHandler(analyzer, trackRepo, auditRepo, cfg)

	// 使用 gorilla/mux 创建路由器
	router := mux.NewRouter()

	// 添加 CORS 中间件
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS, HEAD")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			w.Header().Set("Access-Control-Max-Age", "86400") // 24 hours

			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, r)
		})
	})

	// 用户认证相关的API端点
	router.HandleFunc("/api/auth/login", apiHandler.LoginHandler).Methods(http.MethodPost)

	// 分析相关的API端点
	router.HandleFunc("/api/analysis", apiHandler.AuthMiddleware(apiHandler.StartAnalysisHandler)).Methods(http.MethodPost)
	router.HandleFunc("/api/analysis/latest", apiHandler.AuthMiddleware(apiHandler.LatestHandler)).Methods(http.MethodGet)
	router.HandleFunc("/api/analysis/history", apiHandler.AuthMiddleware(apiHandler.HistoryHandler)).Methods(http.MethodGet)
	// 固定路径要注册在 {run_id} 之前
	router.HandleFunc("/api/analysis/cleanup", apiHandler.RequireAuth(apiHandler.CleanupHandler)).Methods(http.MethodPost)
	router.HandleFunc("/api/analysis/{run_id}", apiHandler.ResultHandler).Methods(http.MethodGet)
	router.HandleFunc("/api/analysis/{run_id}/progress", apiHandler.ProgressHandler).Methods(http.MethodGet)
	router.HandleFunc("/api/analysis/{run_id}/cancel", apiHandler.CancelAnalysisHandler).Methods(http.MethodPost)
	router.HandleFunc("/api/analysis/{run_id}/export", apiHandler.ExportHandler).Methods(http.MethodGet)

	// 删除相关的API端点，必须登录
	router.HandleFunc("/api/tracks/bulk-delete", apiHandler.RequireAuth(apiHandler.BulkDeleteHandler)).Methods(http.MethodPost)
	router.HandleFunc("/api/tracks/smart-delete", apiHandler.RequireAuth(apiHandler.SmartDeleteHandler)).Methods(http.MethodPost)
	router.HandleFunc("/api/tracks/{track_id}", apiHandler.RequireAuth(apiHandler.DeleteTrackHandler)).Methods(http.MethodDelete)

	// 审计日志
	router.HandleFunc("/api/audit", apiHandler.RequireAuth(apiHandler.AuditLogHandler)).Methods(http.MethodGet)

	server.Handler = router

	// 创建一个通道来接收操作系统信号
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	// 在goroutine中启动服务器
	go func() {
		log.Printf("Server starting on %s...", cfg.ServerAddr)
		log.Println("Start an analysis via POST to /api/analysis")
		log.Println("Poll progress via GET from /api/analysis/{run_id}/progress")
		log.Println("Resolve duplicates via /api/tracks/smart-delete")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// 等待中断信号
	<-stop
	log.Println("Shutting down server...")
	if active := analyzer.ActiveRuns(); active > 0 {
		logger.Info("waiting for in-flight analyses", logger.Int("active", active))
	}

	// 创建一个5秒超时的上下文
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// 优雅关闭服务器
	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	analyzer.Wait()
	log.Println("Server stopped")
}

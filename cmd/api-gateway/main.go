package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"

	_ "github.com/noah-isme/unisubmit-api/api/swagger"
	"github.com/noah-isme/unisubmit-api/internal/handler"
	internalmiddleware "github.com/noah-isme/unisubmit-api/internal/middleware"
	"github.com/noah-isme/unisubmit-api/internal/models"
	"github.com/noah-isme/unisubmit-api/internal/repository"
	"github.com/noah-isme/unisubmit-api/internal/service"
	"github.com/noah-isme/unisubmit-api/pkg/cache"
	"github.com/noah-isme/unisubmit-api/pkg/config"
	"github.com/noah-isme/unisubmit-api/pkg/database"
	"github.com/noah-isme/unisubmit-api/pkg/logger"
	"github.com/noah-isme/unisubmit-api/pkg/mail"
	corsmiddleware "github.com/noah-isme/unisubmit-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/unisubmit-api/pkg/middleware/requestid"
	"github.com/noah-isme/unisubmit-api/pkg/storage"
)

// @title UniSubmit API
// @version 1.0.0
// @description Assignment submission and departmental review workflow
// @BasePath /api
// @schemes http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

const shutdownTimeout = 15 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect postgres", "error", err)
	}
	defer db.Close() //nolint:errcheck

	checks := []handler.ReadinessCheck{{Name: "postgres", Check: db.PingContext}}

	var redisClient *redis.Client
	if cfg.Cache.Enabled {
		redisClient, err = cache.NewRedis(ctx, cfg.Redis)
		if err != nil {
			logr.Sugar().Warnw("redis unavailable, cache disabled", "error", err)
			redisClient = nil
		} else {
			defer redisClient.Close() //nolint:errcheck
			checks = append(checks, handler.ReadinessCheck{Name: "redis", Check: func(ctx context.Context) error {
				return redisClient.Ping(ctx).Err()
			}})
		}
	}

	content, mongoClient, err := buildContentStore(ctx, cfg)
	if err != nil {
		logr.Sugar().Fatalw("failed to init content store", "backend", cfg.Storage.Backend, "error", err)
	}
	if mongoClient != nil {
		defer mongoClient.Disconnect(context.Background()) //nolint:errcheck
		checks = append(checks, handler.ReadinessCheck{Name: "mongo", Check: func(ctx context.Context) error {
			return mongoClient.Ping(ctx, readpref.Primary())
		}})
	}

	sender, err := mail.NewSender(cfg.Mail, logr)
	if err != nil {
		logr.Sugar().Fatalw("failed to init mail sender", "provider", cfg.Mail.Provider, "error", err)
	}

	validate := validator.New()
	metricsSvc := service.NewMetricsService()

	userRepo := repository.NewUserRepository(db)
	pendingRepo := repository.NewPendingUserRepository(db)
	departmentRepo := repository.NewDepartmentRepository(db)
	assignmentRepo := repository.NewAssignmentRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, "unisubmit", logr)

	cacheSvc := service.NewCacheService(cacheRepo, metricsSvc, cfg.Cache.DepartmentTTL, logr, cfg.Cache.Enabled && redisClient != nil)
	notificationSvc := service.NewNotificationService(sender, metricsSvc, logr, service.NotificationConfig{
		Workers:    cfg.Notify.Workers,
		MaxRetries: cfg.Notify.MaxRetries,
		RetryDelay: cfg.Notify.RetryDelay,
	})
	notificationSvc.Start(ctx)

	departmentSvc := service.NewDepartmentService(departmentRepo, cacheSvc, logr)
	authSvc := service.NewAuthService(userRepo, pendingRepo, departmentSvc, validate, logr, service.AuthConfig{
		AccessTokenSecret: cfg.JWT.Secret,
		AccessTokenExpiry: cfg.JWT.Expiration,
		Issuer:            cfg.JWT.Issuer,
	})
	accountSvc := service.NewAccountService(userRepo, pendingRepo, departmentRepo, assignmentRepo, content, notificationSvc, validate, logr, service.AccountConfig{
		OTPTTL: cfg.Accounts.OTPTTL,
	})
	if created, err := accountSvc.EnsureAdmin(ctx, cfg.Accounts.AdminName, cfg.Accounts.AdminEmail, cfg.Accounts.AdminPassword); err != nil {
		logr.Sugar().Fatalw("failed to bootstrap admin", "error", err)
	} else if created {
		logr.Sugar().Infow("bootstrap admin ready", "email", cfg.Accounts.AdminEmail)
	}
	signer := storage.NewSignedURLSigner(cfg.JWT.Secret, cfg.Storage.SignedURLTTL)
	assignmentSvc := service.NewAssignmentService(assignmentRepo, userRepo, content, signer, metricsSvc, logr, service.AssignmentServiceConfig{
		MaxFileSize: cfg.Storage.MaxFileSizeBytes,
		APIPrefix:   cfg.APIPrefix,
	})
	reviewSvc := service.NewReviewService(assignmentRepo, notificationSvc, metricsSvc, logr)
	reportSvc := service.NewReportService(assignmentSvc, departmentSvc, logr)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(internalmiddleware.Metrics(metricsSvc, "/health", "/ready", "/metrics"))

	metricsHandler := handler.NewMetricsHandler(metricsSvc, checks...)
	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	registerRoutes(r.Group(cfg.APIPrefix), routeDeps{
		auth:        handler.NewAuthHandler(authSvc, accountSvc),
		departments: handler.NewDepartmentHandler(departmentSvc),
		admin:       handler.NewAdminHandler(accountSvc),
		student:     handler.NewStudentHandler(assignmentSvc, cfg.Storage.MaxFileSizeBytes),
		professor:   handler.NewProfessorHandler(assignmentSvc, reviewSvc),
		hod:         handler.NewHODHandler(assignmentSvc, reviewSvc, reportSvc),
		files:       handler.NewFileHandler(assignmentSvc),
		jwt:         internalmiddleware.JWT(authSvc),
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env, "content_store", cfg.Storage.Backend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Warn("graceful shutdown failed", zap.Error(err))
	}
	notificationSvc.Stop()
}

type routeDeps struct {
	auth        *handler.AuthHandler
	departments *handler.DepartmentHandler
	admin       *handler.AdminHandler
	student     *handler.StudentHandler
	professor   *handler.ProfessorHandler
	hod         *handler.HODHandler
	files       *handler.FileHandler
	jwt         gin.HandlerFunc
}

func registerRoutes(api *gin.RouterGroup, d routeDeps) {
	auth := api.Group("/auth")
	auth.POST("/signup", d.auth.Signup)
	auth.POST("/verify-otp", d.auth.VerifyOTP)
	auth.POST("/login", d.auth.Login)

	api.GET("/department", d.departments.List)
	api.GET("/files/:token", d.files.Download)

	secured := api.Group("")
	secured.Use(d.jwt)

	admin := internalmiddleware.RequireRoles(models.RoleAdmin)
	secured.POST("/department", admin, d.departments.Create)
	secured.DELETE("/department/:id", admin, d.departments.Delete)

	adminGroup := secured.Group("/admin", admin)
	adminGroup.GET("/users", d.admin.Users)
	adminGroup.GET("/pending", d.admin.Pending)
	adminGroup.POST("/approve/:id", d.admin.Approve)
	adminGroup.DELETE("/reject/:id", d.admin.Reject)
	adminGroup.DELETE("/delete/:id", d.admin.Delete)

	student := secured.Group("/student", internalmiddleware.RequireRoles(models.RoleStudent))
	student.POST("/upload", d.student.Upload)
	student.GET("/all/:email", d.student.Submissions)
	student.GET("/file/:id", d.student.File)

	professor := secured.Group("/professor", internalmiddleware.RequireRoles(models.RoleProfessor))
	professor.GET("/assignments-counts", d.professor.Counts)
	professor.GET("/assignments/:tab", d.professor.List)
	professor.PATCH("/assignments/:id/:action", d.professor.Review)
	professor.GET("/assignment/file/:id", d.professor.File)

	hod := secured.Group("/hod", internalmiddleware.RequireRoles(models.RoleHOD))
	hod.GET("/counts", d.hod.Counts)
	hod.GET("/assignments/:tab", d.hod.List)
	hod.PATCH("/assignments/:id/submit", d.hod.Submit)
	hod.PATCH("/assignments/:id/recheck", d.hod.Recheck)
	hod.GET("/students", d.hod.Students)
	hod.GET("/students/export", d.hod.Export)
	hod.GET("/student/:id/assignments", d.hod.StudentAssignments)
	hod.GET("/assignment/file/:id", d.hod.File)

	secured.GET("/files/link/:id", d.files.Link)
}

func buildContentStore(ctx context.Context, cfg *config.Config) (storage.ContentStore, *mongo.Client, error) {
	switch cfg.Storage.Backend {
	case config.ContentStoreGridFS:
		client, db, err := database.NewMongo(ctx, cfg.Mongo)
		if err != nil {
			return nil, nil, err
		}
		store, err := storage.NewGridFSStore(db, cfg.Mongo.Bucket)
		if err != nil {
			_ = client.Disconnect(context.Background())
			return nil, nil, err
		}
		return store, client, nil
	case config.ContentStoreFilesystem, "":
		store, err := storage.NewLocalStorage(cfg.Storage.Dir)
		if err != nil {
			return nil, nil, err
		}
		return store, nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown content store %q", cfg.Storage.Backend)
	}
}

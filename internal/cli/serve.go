package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ai-tutor-go/internal/apperr"
	"ai-tutor-go/internal/config"
	"ai-tutor-go/internal/handler"
	"ai-tutor-go/internal/repository"
	"ai-tutor-go/internal/service"
	"ai-tutor-go/internal/tutor"
	"ai-tutor-go/pkg/credentials"
	"ai-tutor-go/pkg/database"
	"ai-tutor-go/pkg/kafka"
	"ai-tutor-go/pkg/llm"
	"ai-tutor-go/pkg/log"
	"ai-tutor-go/pkg/speech"
	"ai-tutor-go/pkg/storage"
	"ai-tutor-go/pkg/token"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP and WebSocket server",
	RunE:  runServe,
}

// app 持有服务运行期间需要关闭的资源。
type app struct {
	router  *gin.Engine
	closers []func() error
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			log.Warnf("关闭资源失败: %v", err)
		}
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	defer log.Sync()
	log.Info("日志记录器初始化成功")

	if cfg.JWT.Secret == "" {
		return apperr.Configuration("jwt.secret is required")
	}

	a, err := buildApp(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer a.close()

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: a.router,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infof("服务启动于 %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// 等待中断信号以实现优雅停机
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return fmt.Errorf("HTTP 服务监听失败: %w", err)
	case <-quit:
	}
	log.Info("接收到停机信号，正在关闭服务...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("HTTP 服务器关闭失败: %w", err)
	}
	log.Info("服务已优雅关闭")
	return nil
}

// loadCredentials 解析外部服务凭证；缺少补全服务密钥且处于终端时提示输入。
func loadCredentials(cfg *config.Config) (*credentials.Store, error) {
	store, err := credentials.Load(cfg, credentials.Overrides{})
	if err == nil || !errors.Is(err, apperr.ErrConfiguration) || !isInteractive() {
		return store, err
	}
	key, perr := readSecret("Chat-completion API key: ")
	if perr != nil {
		return nil, err
	}
	return credentials.Load(cfg, credentials.Overrides{LLMKey: key})
}

// buildApp 按依赖顺序创建存储、外部客户端、服务和路由。
func buildApp(ctx context.Context, cfg *config.Config) (*app, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	a := &app{}
	fail := func(err error) (*app, error) {
		a.close()
		return nil, err
	}

	// 1. 凭证
	creds, err := loadCredentials(cfg)
	if err != nil {
		return fail(err)
	}

	// 2. 用户存储
	userRepo, db, err := openUserRepository(cfg, true)
	if err != nil {
		return fail(err)
	}
	if db != nil {
		if sqlDB, err := db.DB(); err == nil {
			a.closers = append(a.closers, sqlDB.Close)
		}
	}

	// 3. Redis：会话、令牌黑名单、限流
	var rdb *redis.Client
	if cfg.Database.Redis.Enabled {
		rdb, err = database.OpenRedis(cfg.Database.Redis.Addr, cfg.Database.Redis.Password, cfg.Database.Redis.DB)
		if err != nil {
			return fail(err)
		}
		a.closers = append(a.closers, rdb.Close)
	}

	var sessions repository.SessionRepository
	switch cfg.Session.Store {
	case "redis":
		if rdb == nil {
			return fail(apperr.Configuration("session.store=redis requires database.redis.enabled"))
		}
		sessions = repository.NewRedisSessionRepository(rdb, time.Duration(cfg.Session.TTLHours)*time.Hour)
	case "", "memory":
		sessions = repository.NewMemorySessionRepository()
	default:
		return fail(apperr.Configuration("unsupported session.store %q", cfg.Session.Store))
	}

	blacklist := repository.NewMemoryTokenBlacklist()
	if rdb != nil {
		blacklist = repository.NewRedisTokenBlacklist(rdb)
	}

	// 4. 语音缓存与审计事件
	var cache storage.AudioCache
	if cfg.MinIO.Enabled {
		cache, err = storage.NewMinIOAudioCache(ctx, cfg.MinIO)
		if err != nil {
			log.Warnf("MinIO 语音缓存不可用，已关闭: %v", err)
			cache = nil
		}
	}
	events := kafka.NewPublisher(cfg.Kafka)
	a.closers = append(a.closers, events.Close)

	// 5. 外部客户端
	speechClient := speech.Disabled()
	if creds.HasSpeech() {
		speechClient, err = speech.NewClient(ctx, cfg.Speech, creds.SpeechAccount.Value)
		if err != nil {
			return fail(err)
		}
	}
	a.closers = append(a.closers, speechClient.Close)

	llmCfg := cfg.LLM
	llmCfg.APIKey = creds.LLMKey.Value
	llmClient := llm.NewClient(llmCfg)
	completer := tutor.NewCompleter(llmClient, llm.DefaultGenerationParams(cfg.LLM.Generation), cfg.LLM.HistoryWindow)

	// 6. 服务
	jwtManager := token.NewJWTManager(cfg.JWT.Secret, cfg.JWT.AccessTokenExpireHours, cfg.JWT.RefreshTokenExpireDays)
	userService := service.NewUserService(userRepo, blacklist, jwtManager, events)
	adminService := service.NewAdminService(userRepo, cfg.Auth.PrimaryAdmin, events)
	tutorService := service.NewTutorService(sessions, completer, speechClient, cache, cfg.Speech.DefaultVoice)

	// 7. 路由
	gin.SetMode(cfg.Server.Mode)
	a.router = handler.NewRouter(handler.RouterConfig{
		UserService:       userService,
		AdminService:      adminService,
		TutorService:      tutorService,
		JWTManager:        jwtManager,
		Redis:             rdb,
		RateLimitQPS:      cfg.RateLimit.QPS,
		CORSOrigins:       cfg.Server.CORSOrigins,
		AllowRegistration: cfg.Auth.AllowRegistration,
		Version:           version,
	})
	return a, nil
}

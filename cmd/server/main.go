// Package main 是应用程序的入口点。
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"estate-smart-go/internal/config"
	"estate-smart-go/internal/handler"
	"estate-smart-go/internal/middleware"
	"estate-smart-go/internal/model"
	"estate-smart-go/internal/pipeline"
	"estate-smart-go/internal/repository"
	"estate-smart-go/internal/service"
	"estate-smart-go/pkg/database"
	"estate-smart-go/pkg/embedding"
	"estate-smart-go/pkg/es"
	"estate-smart-go/pkg/kafka"
	"estate-smart-go/pkg/llm"
	"estate-smart-go/pkg/log"
	"estate-smart-go/pkg/qdrant"
	"estate-smart-go/pkg/retry"
	"estate-smart-go/pkg/storage"
	"estate-smart-go/pkg/tasks"
	"estate-smart-go/pkg/token"
	"estate-smart-go/pkg/vectorstore"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
)

// casAttempts 会话状态比较并交换的最大尝试次数。
const casAttempts = 5

func main() {
	// 0. 加载 .env（不存在时忽略）
	_ = godotenv.Load()

	// 1. 初始化配置
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./configs/config.yaml"
	}
	config.Init(configPath)
	cfg := config.Conf

	// 2. 初始化日志记录器，配置文件中的日志级别支持热更新
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync()
	log.Info("日志记录器初始化成功")
	config.Watch(func(level string) {
		log.SetLevel(level)
		log.Infof("日志级别已更新为 %s", level)
	})

	// 3. 初始化数据库和 Redis
	database.InitDB(cfg.Database.Driver, cfg.Database.DSN)
	if err := database.DB.AutoMigrate(
		&model.Listing{}, &model.ListingPhoto{}, &model.Account{},
		&model.Property{}, &model.Client{}, &model.AgentMessage{},
	); err != nil {
		log.Fatal("数据库迁移失败", err)
	}
	database.InitRedis(cfg.Database.Redis.Addr, cfg.Database.Redis.Password, cfg.Database.Redis.DB)

	// 4. 初始化 Repository
	listingRepo := repository.NewListingRepository(database.DB)
	accountRepo := repository.NewAccountRepository(database.DB)
	agentRepo := repository.NewAgentRepository(database.DB)
	var states repository.StateStore
	if database.RDB != nil {
		states = repository.NewRedisStateStore(database.RDB, cfg.History.TTL)
	} else {
		states = repository.NewMemoryStateStore()
	}

	// 5. 初始化外部客户端
	embeddingClient, err := embedding.NewClient(cfg.Embedding)
	if err != nil {
		log.Fatal("embedding 客户端初始化失败", err)
	}
	index, err := newListingIndex(cfg, embeddingClient)
	if err != nil {
		log.Fatal("向量索引初始化失败", err)
	}
	llmClient := llm.NewClient(cfg.LLM)
	jwtManager := token.NewJWTManager(cfg.JWT.Secret, cfg.JWT.AccessTokenExpireHours, cfg.JWT.ReferralExpireDays)
	retryPolicy := retry.Policy{
		MaxAttempts:    cfg.Retry.MaxAttempts,
		InitialBackoff: cfg.Retry.InitialBackoff,
		MaxBackoff:     cfg.Retry.MaxBackoff,
	}

	// 6. 初始化 Service (依赖注入)
	locks := service.NewKeyedMutex()
	prompts := cfg.LLM.Prompt
	gate := service.NewRelevanceGate(llmClient, prompts.Gate, cfg.Timeouts.LLM)
	refiner := service.NewQueryRefiner(llmClient, prompts.Refine, prompts.HistoryCap, cfg.Timeouts.LLM)
	retriever := service.NewRetriever(embeddingClient, index, service.RetrieverOptions{
		Collection:       cfg.VectorIndex.Collection,
		DefaultTopK:      cfg.Retrieval.ListingTopK,
		EmbeddingTimeout: cfg.Timeouts.Embedding,
		SearchTimeout:    cfg.Timeouts.Search,
		Retry:            retryPolicy,
	})
	synthesizer := service.NewSynthesizer(llmClient, prompts.Describe, cfg.Timeouts.LLM, cfg.Synthesis.Concurrency)
	surfaces := service.NewSurfaces(cfg,
		service.NewListingComposer(synthesizer, cfg.Synthesis.MaxPhotos),
		service.NewDigestComposer(llmClient, prompts.Digest, cfg.Timeouts.LLM),
		service.NewAgentComposer(llmClient, agentRepo, prompts.Agent, cfg.Timeouts.LLM),
	)
	chatService := service.NewChatService(accountRepo, states, gate, refiner, retriever, locks, service.ChatOptions{
		DefaultCredits: cfg.Credits.Default,
		HistoryMax:     cfg.History.MaxEntries,
		StateTimeout:   cfg.Timeouts.State,
		NoResultsText:  cfg.Messages.NoResults,
		CASAttempts:    casAttempts,
	})
	accountService := service.NewAccountService(accountRepo, jwtManager, locks, service.AccountOptions{
		DefaultCredits:     cfg.Credits.Default,
		ReferralBonus:      cfg.Credits.ReferralBonus,
		AllowPlainReferral: cfg.Credits.AllowPlainReferral,
		BotUsername:        cfg.Bot.Username,
	})
	agentService := service.NewAgentService(agentRepo, states, chatService, surfaces.Agent, locks, service.AgentOptions{
		PropertyAdded: cfg.Messages.PropertyAdded,
		ClientAdded:   cfg.Messages.ClientAdded,
		CASAttempts:   casAttempts,
	})

	// 7. 启动前建索引：集合已存在时跳过
	bootstrapOpts := service.BootstrapOptions{
		Collection:       cfg.VectorIndex.Collection,
		EmbedBatchSize:   cfg.Embedding.BatchSize,
		UpsertBatch:      cfg.VectorIndex.UpsertBatch,
		EmbeddingTimeout: cfg.Timeouts.Embedding,
		UpsertTimeout:    cfg.Timeouts.Upsert,
		Retry:            retryPolicy,
	}
	bootstrapper := service.NewBootstrapper(listingRepo, index, embeddingClient, bootstrapOpts)
	bootCtx, cancelBoot := context.WithTimeout(context.Background(), cfg.Timeouts.Bootstrap)
	report, err := bootstrapper.Bootstrap(bootCtx)
	cancelBoot()
	if err != nil {
		log.Fatal("启动建索引失败", err)
	}
	log.Infof("索引就绪, skipped: %t, listings: %d, upserts: %d, elapsed: %s", report.Skipped, report.Listings, report.Upserts, report.Elapsed)

	// 8. 房源同步：MinIO 快照 + Kafka 任务，未配置 Kafka 时管理接口直接同步处理
	consumerCtx, stopConsumer := context.WithCancel(context.Background())
	defer stopConsumer()
	publish := newSyncPublisher(consumerCtx, cfg, listingRepo, index, embeddingClient, bootstrapOpts)

	// 9. 设置 Gin 模式并创建路由引擎
	gin.SetMode(cfg.Server.Mode)
	r := gin.New()
	r.Use(middleware.RequestLogger(), gin.Recovery())

	chatHandler := handler.NewChatHandler(chatService, surfaces, jwtManager, cfg.Messages)
	conversationHandler := handler.NewConversationHandler(chatService, cfg.Messages)
	userHandler := handler.NewUserHandler(accountService, cfg.Messages)
	agentHandler := handler.NewAgentHandler(agentService, cfg.Messages)
	adminHandler := handler.NewAdminHandler(publish, bootstrapper, accountService, cfg.Messages)
	searchHandler := handler.NewSearchHandler(retriever, cfg.Messages)
	authMiddleware := middleware.AuthMiddleware(jwtManager)

	// 10. 注册路由
	apiV1 := r.Group("/api/v1")
	{
		apiV1.POST("/auth/refreshToken", authMiddleware, handler.NewAuthHandler(jwtManager).RefreshToken)

		users := apiV1.Group("/users")
		users.Use(authMiddleware)
		{
			users.POST("/start", userHandler.Start)
			users.GET("/me", userHandler.GetProfile)
		}

		chat := apiV1.Group("/chat")
		chat.Use(authMiddleware)
		{
			chat.POST("/listings", chatHandler.AskListings)
			chat.POST("/generic", chatHandler.AskGeneric)
			chat.GET("/history", conversationHandler.GetConversation)
		}
		// WebSocket 无法携带授权头，token 放在路径中
		apiV1.GET("/chat/stream/:token", chatHandler.Stream)

		agent := apiV1.Group("/agent")
		agent.Use(authMiddleware)
		{
			agent.POST("/mode", agentHandler.SetMode)
			agent.POST("/messages", agentHandler.HandleMessage)
			agent.GET("/messages", agentHandler.ListMessages)
			agent.GET("/properties", agentHandler.ListProperties)
			agent.POST("/properties", agentHandler.CreateProperty)
			agent.GET("/clients", agentHandler.ListClients)
			agent.POST("/clients", agentHandler.CreateClient)
		}

		admin := apiV1.Group("/admin")
		// 管理员路由组，需要同时通过认证和管理员授权两个中间件
		admin.Use(authMiddleware, middleware.AdminAuthMiddleware())
		{
			admin.POST("/listings/sync", adminHandler.SyncListings)
			admin.POST("/index/bootstrap", adminHandler.BootstrapIndex)
			admin.GET("/search", searchHandler.SearchListings)
			admin.GET("/users/:userId", adminHandler.GetUserProfile)
			admin.GET("/users/:userId/conversation", conversationHandler.GetUserConversation)
		}
	}

	// 启动 HTTP 服务器并实现优雅停机
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: r,
	}

	go func() {
		log.Infof("服务启动于 %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP 服务监听失败: %s\n", err)
		}
	}()

	// 等待中断信号以实现优雅停机
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("接收到停机信号，正在关闭服务...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("HTTP 服务器关闭失败: %v", err)
	}
	stopConsumer()
	if err := kafka.CloseProducer(); err != nil {
		log.Errorf("关闭 Kafka 生产者失败: %v", err)
	}
	log.Info("服务已优雅关闭")
}

// newListingIndex 按 vector_index.backend 选择向量索引实现。
func newListingIndex(cfg config.Config, embedder embedding.Client) (repository.ListingIndex, error) {
	switch cfg.VectorIndex.Backend {
	case "elasticsearch", "":
		if err := es.InitES(cfg.Elasticsearch); err != nil {
			return nil, err
		}
		return es.NewListingIndex(es.ESClient, embedder.ModelVersion()), nil
	case "qdrant":
		return qdrant.NewListingIndex(cfg.Qdrant), nil
	case "memory":
		log.Warnf("使用进程内向量索引，重启后会重新建索引")
		return vectorstore.NewMemoryIndex(), nil
	default:
		return nil, fmt.Errorf("unknown vector index backend: %s", cfg.VectorIndex.Backend)
	}
}

// newSyncPublisher 组装房源同步流程，返回管理接口投递任务用的函数。
func newSyncPublisher(
	ctx context.Context,
	cfg config.Config,
	listings repository.ListingRepository,
	index repository.ListingIndex,
	embedder embedding.Client,
	opts service.BootstrapOptions,
) handler.TaskPublisher {
	if cfg.MinIO.Endpoint == "" {
		log.Warnf("未配置 MinIO，房源同步不可用")
		return func(context.Context, tasks.ListingSyncTask) error {
			return errors.New("listing sync is disabled: minio endpoint is not configured")
		}
	}
	if err := storage.InitMinIO(cfg.MinIO); err != nil {
		log.Fatal("MinIO 初始化失败", err)
	}
	processor := pipeline.NewProcessor(storage.NewBucketSource(storage.MinioClient, cfg.MinIO.BucketName), listings, index, embedder, opts)

	if cfg.Kafka.Brokers == "" {
		log.Warnf("未配置 Kafka，房源同步任务将在请求中直接处理")
		return processor.Process
	}
	kafka.InitProducer(cfg.Kafka)
	go kafka.StartConsumer(ctx, cfg.Kafka, processor, database.RDB)
	return kafka.ProduceListingSyncTask
}

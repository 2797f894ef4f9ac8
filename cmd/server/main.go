package main

import (
	"context"
	"log"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/survey-participation/internal/config"
	"github.com/iliyamo/survey-participation/internal/database"
	"github.com/iliyamo/survey-participation/internal/eligibility"
	"github.com/iliyamo/survey-participation/internal/handler"
	"github.com/iliyamo/survey-participation/internal/hold"
	"github.com/iliyamo/survey-participation/internal/lifecycle"
	appmw "github.com/iliyamo/survey-participation/internal/middleware"
	"github.com/iliyamo/survey-participation/internal/queue"
	"github.com/iliyamo/survey-participation/internal/repository"
	"github.com/iliyamo/survey-participation/internal/router"
	"github.com/iliyamo/survey-participation/internal/service"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()
	cfg := config.Load()

	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer db.Close()

	// Repositories.
	users := repository.NewUserRepo(db)
	tokens := repository.NewTokenRepo(db)
	groups := repository.NewGroupRepo(db)
	documents := repository.NewDocumentRepo(db)
	releases := repository.NewReleaseRepo(db)
	options := repository.NewOptionRepo(db)
	capacities := repository.NewCapacityRepo(db)
	quotas := repository.NewQuotaRepo(db)
	holds := repository.NewHoldRepo(db)
	participations := repository.NewParticipationRepo(db)
	approvals := repository.NewApprovalRepo(db)

	// Event publishing is fire-and-forget over RabbitMQ.
	publisher := service.NewRabbitPublisher(cfg.RabbitURL)

	// Hold manager and its background sweep.
	runner := &database.Runner{DB: db}
	manager := hold.NewManager(capacities, quotas, holds, runner, publisher, publisher, cfg.HoldTTL)

	// Eligibility engine.
	contexts := service.NewContextBuilder(users, groups, participations, documents, quotas)
	engine := eligibility.NewEngine(releases, contexts, nil)

	// Lifecycle machine with the default transition table.
	machine, err := lifecycle.New(participations, publisher, lifecycle.DefaultTransitions(lifecycle.Deps{
		Holds:          manager,
		Participations: participations,
		Releases:       releases,
		Approvals:      approvals,
	}))
	if err != nil {
		log.Fatalf("lifecycle: %v", err)
	}

	svc := service.NewParticipationService(runner, engine, machine, manager, releases, participations, approvals)

	// Background workers.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hold.NewSweeper(manager, cfg.SweepInterval).Run(ctx)
	go func() {
		if err := queue.StartAuditConsumer(cfg.RabbitURL); err != nil {
			log.Printf("audit-consumer: %v", err)
		}
	}()

	// HTTP surface.
	e := echo.New()
	if rdb := config.NewRedisClient(); rdb != nil {
		e.Use(appmw.NewTokenBucket(config.LoadRateLimitConfig(), rdb))
		e.Use(appmw.NewRedisCache(config.LoadCacheConfig(), rdb))
	} else {
		log.Println("redis unavailable; rate limiting and caching disabled")
	}

	router.RegisterRoutes(e)
	router.RegisterAuth(e, handler.NewAuthHandler(cfg, users, tokens), cfg.JWTSecret)
	router.RegisterPublic(e, handler.NewPublicHandler(releases, options, quotas))
	router.RegisterStudent(e,
		handler.NewParticipationHandler(svc),
		handler.NewDocumentHandler(documents),
		cfg.JWTSecret)
	router.RegisterAdmin(e,
		handler.NewAdminHandler(releases, options, quotas, approvals, groups, documents, engine, svc),
		handler.NewApprovalHandler(svc, approvals, participations),
		cfg.JWTSecret)

	addr := ":" + cfg.Port
	log.Printf("listening on %s (env=%s)", addr, cfg.Env)
	if err := e.Start(addr); err != nil {
		log.Fatal(err)
	}
}

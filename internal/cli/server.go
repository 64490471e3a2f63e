package cli

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	"omr-scan-service/internal/app"
	"omr-scan-service/internal/config"
	"omr-scan-service/internal/domain"
	"omr-scan-service/internal/infra/memory"
	"omr-scan-service/internal/infra/postgres"
	redisinfra "omr-scan-service/internal/infra/redis"
	"omr-scan-service/internal/ingest"
	"omr-scan-service/internal/report"
	transport "omr-scan-service/internal/transport/http"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the scan service",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg); err != nil {
			return err
		}
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}

	var pool *pgxpool.Pool
	var bunDB *bun.DB
	if cfg.Postgres.URL != "" {
		pool, err = pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		defer pool.Close()
		sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(cfg.Postgres.URL)))
		bunDB = bun.NewDB(sqldb, pgdialect.New())
		defer bunDB.Close()
	}

	memRepo := memory.NewScanRepository()
	var scans app.ScanRepository = memRepo
	var scored report.ScanSource = memRepo
	if bunDB != nil {
		pgRepo := postgres.NewScanRepository(bunDB)
		scans = pgRepo
		scored = pgRepo
	}

	var keys app.AnswerKeySource
	var dir report.Directory
	if pool != nil {
		keys = postgres.NewAnswerKeyLoader(pool)
		dir = postgres.NewDirectory(pool)
	} else {
		log.Println("postgres not configured, serving seeded demo data from memory")
		keys = memory.NewAnswerKeyStore(sampleAnswerKeys())
		dir = sampleDirectory()
	}
	if redisClient != nil {
		keyTTL := config.Duration(cfg.Redis.KeyTTL, 10*time.Minute)
		keys = redisinfra.NewAnswerKeyCache(redisClient, keys, keyTTL)
	}

	var jobs app.JobQueue = memory.NewQueue(64)
	if redisClient != nil {
		jobs = redisinfra.NewJobQueue(redisClient, cfg.Redis.JobQueue)
	}

	service := app.NewScanService(scans, jobs, keys)
	engine := report.NewEngine(dir, keys, scored, cfg.Report.SectionWorkers)

	var consumer *ingest.Consumer
	if redisClient != nil {
		popTimeout := config.Duration(cfg.Redis.PopTimeout, 5*time.Second)
		results := redisinfra.NewResultQueue(redisClient, cfg.Redis.ResultQueue)
		consumer = ingest.NewConsumer(results, service, popTimeout, 0)
		consumer.Start()
	} else {
		log.Println("redis not configured, detection result consumer disabled")
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	transport.NewHandler(service, engine).Register(mux)
	mux.HandleFunc("/ws/scans", transport.NewWSHandler(service).ServeWS)

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.Printf("starting scan service on :%s", finalPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("failed to start server: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		log.Println("shutting down server...")
	case <-ctx.Done():
		log.Println("context canceled, shutting down server...")
	}

	if consumer != nil {
		consumer.Stop()
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// sampleAnswerKeys provides a minimal key set for running without Postgres;
// production deployments read collaborator-owned tables instead.
func sampleAnswerKeys() map[string]domain.AnswerKey {
	return map[string]domain.AnswerKey{
		"exam-demo": {
			ExamID: "exam-demo",
			Answers: []domain.Answer{
				{QuestionID: 1, Correct: "A", Points: 1},
				{QuestionID: 2, Correct: "C", Points: 1},
				{QuestionID: 3, Correct: "B", Points: 2},
			},
			Policy: domain.GradingPolicy{RequireManualReviewOnAmbiguity: true},
		},
	}
}

func sampleDirectory() *memory.Directory {
	return memory.NewDirectory(
		map[string]domain.Class{
			"class-demo": {ID: "class-demo", Name: "Mathematics 6", GradeID: "grade-6"},
		},
		map[string]domain.Exam{
			"exam-demo": {ID: "exam-demo", Name: "Unit Test 1", ClassID: "class-demo", TemplateID: "form_A"},
		},
		[]domain.Section{
			{ID: "sec-demo-a", Name: "Section A", ClassID: "class-demo"},
			{ID: "sec-demo-b", Name: "Section B", ClassID: "class-demo"},
		},
		[]domain.Student{
			{ID: "stu-demo-1", Name: "Demo Student 1", ClassID: "class-demo", SectionID: "sec-demo-a", Active: true},
			{ID: "stu-demo-2", Name: "Demo Student 2", ClassID: "class-demo", SectionID: "sec-demo-b", Active: true},
		},
	)
}

package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/simpix/formalization/config"
	"github.com/simpix/formalization/internal/controller/restapi"
	"github.com/simpix/formalization/internal/controller/worker/jobrunner"
	"github.com/simpix/formalization/internal/controller/worker/outbox"
	reconcileworker "github.com/simpix/formalization/internal/controller/worker/reconcile"
	"github.com/simpix/formalization/internal/entity"
	"github.com/simpix/formalization/internal/infrastructure/clicksign"
	"github.com/simpix/formalization/internal/infrastructure/inter"
	infrakafka "github.com/simpix/formalization/internal/infrastructure/kafka"
	"github.com/simpix/formalization/internal/infrastructure/pdf"
	"github.com/simpix/formalization/internal/repo/persistent"
	"github.com/simpix/formalization/internal/usecase/collection"
	"github.com/simpix/formalization/internal/usecase/document"
	"github.com/simpix/formalization/internal/usecase/jobs"
	"github.com/simpix/formalization/internal/usecase/proposal"
	"github.com/simpix/formalization/internal/usecase/reconcile"
	"github.com/simpix/formalization/pkg/httpserver"
	"github.com/simpix/formalization/pkg/kafka/producer"
	"github.com/simpix/formalization/pkg/logger"
	"github.com/simpix/formalization/pkg/postgres"
	"github.com/simpix/formalization/pkg/s3client"
)

func Run(cfg *config.Config) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Logger
	l := logger.New(cfg.Log.Level)

	// Repository

	// s3
	s3Ctx, s3Cancel := context.WithTimeout(ctx, cfg.S3.CfgLoadTimeout)
	defer s3Cancel()
	s3c, err := s3client.New(s3Ctx, cfg.S3.Endpoint, cfg.S3.AccessKey, cfg.S3.SecretKey)
	if err != nil {
		l.Fatal(fmt.Errorf("app - Run - s3client.New: %w", err))
	}

	// postgres
	pg, err := postgres.New(cfg.PG.URL, postgres.MaxPoolSize(cfg.PG.PoolMax))
	if err != nil {
		l.Fatal(fmt.Errorf("app - Run - postgres.New: %w", err))
	}
	defer pg.Close()

	proposalRepo := persistent.NewProposalRepo(pg)
	installmentRepo := persistent.NewInstallmentRepo(pg)
	eventRepo := persistent.NewEventRepo(pg)
	jobRepo := persistent.NewJobRepo(pg)
	auditRepo := persistent.NewAuditRepo(pg)
	outboxRepo := persistent.NewOutboxRepo(pg)
	documentRepo := persistent.NewDocumentRepo(s3c, cfg.S3.Bucket)

	// Providers
	signatureProvider := clicksign.New(
		cfg.ClickSign.BaseURL,
		cfg.ClickSign.AccessToken,
		clicksign.MaxElapsedTime(cfg.ClickSign.MaxElapsedTime),
	)
	bankingProvider := inter.New(
		cfg.Inter.BaseURL,
		cfg.Inter.ClientID,
		cfg.Inter.ClientSecret,
		inter.MaxElapsedTime(cfg.Inter.MaxElapsedTime),
	)

	// Use-Case

	// jobs use-case
	jobsUseCase := jobs.New(jobRepo, l, cfg.Jobs.MaxAttempts, cfg.Jobs.BackoffBase)

	// proposal use-case
	proposalUseCase := proposal.New(
		proposalRepo,
		installmentRepo,
		eventRepo,
		jobsUseCase,
		auditRepo,
		outboxRepo,
		documentRepo,
		pg,
		l,
		cfg.Kafka.Topic,
	)

	// document pipeline use-case
	documentUseCase := document.New(proposalRepo, documentRepo, auditRepo, signatureProvider, proposalUseCase, l)

	// collections use-case
	collectionUseCase := collection.New(
		proposalRepo,
		installmentRepo,
		documentRepo,
		bankingProvider,
		pdf.NewMerger(),
		proposalUseCase,
		l,
	)

	// reconciliation use-case
	reconcileUseCase := reconcile.New(
		proposalRepo,
		installmentRepo,
		eventRepo,
		signatureProvider,
		bankingProvider,
		proposalUseCase,
		l,
		cfg.Reconcile.BatchSize,
		cfg.Reconcile.AlertThreshold,
	)

	// Kafka Producer
	kafkaProducer, err := producer.New(ctx, cfg.Kafka.Brokers)
	if err != nil {
		l.Fatal(fmt.Errorf("app - Run - producer.New: %w", err))
	}

	// Outbox Relay Worker
	outboxRelayWorker := outbox.New(
		outboxRepo,
		infrakafka.NewEventProducer(kafkaProducer, cfg.OutboxRelay.MaxRetries, cfg.Kafka.Topic),
		l,
		cfg.OutboxRelay.PollInterval,
		cfg.OutboxRelay.CleanupInterval,
		cfg.OutboxRelay.MarkFailedInterval,
		cfg.OutboxRelay.ProcessBatchTimeout,
		cfg.OutboxRelay.BatchSize,
		cfg.OutboxRelay.MaxRetries,
	)

	// Job Runner Worker
	jobRunner := jobrunner.New(
		jobsUseCase,
		l,
		cfg.Jobs.PollInterval,
		cfg.Jobs.JobTimeout,
		cfg.Jobs.StuckInterval,
		cfg.Jobs.StuckAfter,
		cfg.Jobs.Workers,
		cfg.Jobs.BatchSize,
	)
	jobRunner.Register(entity.JobDispatchSignature, jobrunner.HandlerFunc(documentUseCase.DispatchSignature))
	jobRunner.Register(entity.JobDownloadSignedDocument, jobrunner.HandlerFunc(documentUseCase.DownloadSignedDocument))
	jobRunner.Register(entity.JobIssueCollections, jobrunner.HandlerFunc(collectionUseCase.IssueCollections))
	jobRunner.Register(entity.JobGenerateBooklet, jobrunner.HandlerFunc(collectionUseCase.GenerateBooklet))

	// Reconcile Poller Worker
	reconcilePoller := reconcileworker.New(reconcileUseCase, l, cfg.Reconcile.Interval, cfg.Reconcile.MinAge)

	// HTTP Server
	httpServer := httpserver.New(l, httpserver.Port(cfg.HTTP.Port), httpserver.Prefork(cfg.HTTP.UsePreforkMode))
	restapi.NewRouter(httpServer.App, cfg, proposalUseCase, jobsUseCase, l)

	// Start Components
	err = outboxRelayWorker.Start(ctx)
	if err != nil {
		l.Fatal(fmt.Errorf("app - Run - outboxRelayWorker.Start: %w", err))
	}
	err = jobRunner.Start(ctx)
	if err != nil {
		l.Fatal(fmt.Errorf("app - Run - jobRunner.Start: %w", err))
	}
	err = reconcilePoller.Start(ctx)
	if err != nil {
		l.Fatal(fmt.Errorf("app - Run - reconcilePoller.Start: %w", err))
	}
	httpServer.Start()

	// Waiting Signal
	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)

	select {
	case s := <-interrupt:
		l.Info("app - Run - signal: %s", s.String())
	case err = <-httpServer.Notify():
		l.Error(fmt.Errorf("app - Run - httpServer.Notify: %w", err))
	}

	// Shutdown
	err = httpServer.Shutdown()
	if err != nil {
		l.Error(fmt.Errorf("app - Run - httpServer.Shutdown: %w", err))
	}

	rpShutdownCtx, rpShutdownCancel := context.WithTimeout(ctx, cfg.Reconcile.ShutdownTimeout)
	defer rpShutdownCancel()
	err = reconcilePoller.Shutdown(rpShutdownCtx)
	if err != nil {
		l.Error(fmt.Errorf("app - Run - reconcilePoller.Shutdown: %w", err))
	}

	jrShutdownCtx, jrShutdownCancel := context.WithTimeout(ctx, cfg.Jobs.ShutdownTimeout)
	defer jrShutdownCancel()
	err = jobRunner.Shutdown(jrShutdownCtx)
	if err != nil {
		l.Error(fmt.Errorf("app - Run - jobRunner.Shutdown: %w", err))
	}

	orlShutdownCtx, orlShutdownCancel := context.WithTimeout(ctx, cfg.OutboxRelay.ShutdownTimeout)
	defer orlShutdownCancel()
	err = outboxRelayWorker.Shutdown(orlShutdownCtx)
	if err != nil {
		l.Error(fmt.Errorf("app - Run - outboxRelayWorker.Shutdown: %w", err))
	}
}

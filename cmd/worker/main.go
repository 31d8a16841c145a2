package main

import (
    "context"
    "log"
    "os"
    "os/signal"
    "syscall"

    "github.com/joho/godotenv"

    "github.com/sendwave/sendwave-backend/internal/config"
    "github.com/sendwave/sendwave-backend/internal/db"
    "github.com/sendwave/sendwave-backend/internal/events"
    "github.com/sendwave/sendwave-backend/internal/provider"
    "github.com/sendwave/sendwave-backend/internal/queue"
    "github.com/sendwave/sendwave-backend/internal/ratelimit"
    "github.com/sendwave/sendwave-backend/internal/repository"
    "github.com/sendwave/sendwave-backend/internal/service"
)

func main() {
    if err := godotenv.Load(); err != nil {
        log.Println("⚠️ No .env file found, relying on OS environment variables")
    }
    cfg := config.Load()

    conn, err := db.Connect()
    if err != nil {
        log.Fatal("failed to connect to DB:", err)
    }

    q, err := queue.DialAMQP(cfg.AMQPURL)
    if err != nil {
        log.Fatal("failed to connect to RabbitMQ:", err)
    }
    defer q.Close()

    campaignRepo := &repository.CampaignRepository{DB: conn}
    recipientRepo := &repository.RecipientRepository{DB: conn}
    contactRepo := &repository.ContactRepository{DB: conn}

    broadcaster := events.NewChanBroadcaster(256)
    go logEvents(broadcaster.Subscribe())

    var gateway provider.Gateway
    if cfg.ProviderSim {
        gateway = provider.NewSimGateway()
        log.Println("📡 Using simulated provider gateway")
    } else {
        gateway = provider.NewHTTPGateway(cfg.ProviderURL, cfg.ProviderToken, cfg.SendTimeout)
        log.Println("📡 Using provider gateway at", cfg.ProviderURL)
    }

    campaignService := &service.CampaignService{
        CampaignRepo:  campaignRepo,
        RecipientRepo: recipientRepo,
        ContactRepo:   contactRepo,
        Queue:         q,
        Broadcaster:   broadcaster,
    }

    dispatcher := &service.Dispatcher{
        RecipientRepo: recipientRepo,
        CampaignRepo:  campaignRepo,
        Gateway:       gateway,
        Limiter:       ratelimit.New(cfg.RatePerSec, cfg.RateBurst),
        Queue:         q,
        Controller:    campaignService,
        Broadcaster:   broadcaster,
        Progress:      events.NewProgressTracker(),
        Workers:       cfg.Workers,
        MaxAttempts:   cfg.MaxAttempts,
        SendTimeout:   cfg.SendTimeout,
        BaseBackoff:   cfg.RetryBackoff,
    }

    correlator := &service.Correlator{
        RecipientRepo: recipientRepo,
        CampaignRepo:  campaignRepo,
        Queue:         q,
        Broadcaster:   broadcaster,
    }

    ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
    defer stop()

    // Restart recovery: the durable recipient rows are the source of truth
    if n, err := dispatcher.RecoverInFlight(); err != nil {
        log.Println("⚠️ restart recovery failed:", err)
    } else if n > 0 {
        log.Println("♻️ Requeued", n, "recipients from a previous run")
    }

    go func() {
        if err := correlator.Run(ctx); err != nil {
            log.Println("⚠️ correlator stopped:", err)
        }
    }()

    log.Println("👷 Worker running with", cfg.Workers, "workers, waiting for jobs...")
    if err := dispatcher.Run(ctx); err != nil {
        log.Println("⚠️ dispatcher stopped:", err)
    }
    log.Println("👋 Worker shut down")
}

func logEvents(ch <-chan events.Event) {
    for ev := range ch {
        log.Printf("📣 %s: %+v\n", ev.EventType(), ev)
    }
}

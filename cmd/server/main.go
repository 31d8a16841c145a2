// cmd/server/main.go
package main

import (
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"

	"github.com/sendwave/sendwave-backend/internal/config"
	"github.com/sendwave/sendwave-backend/internal/controller"
	"github.com/sendwave/sendwave-backend/internal/db"
	"github.com/sendwave/sendwave-backend/internal/events"
	"github.com/sendwave/sendwave-backend/internal/handler"
	"github.com/sendwave/sendwave-backend/internal/queue"
	"github.com/sendwave/sendwave-backend/internal/repository"
	"github.com/sendwave/sendwave-backend/internal/service"
)

func main() {
	// Load .env
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

	campaignService := &service.CampaignService{
		CampaignRepo:  campaignRepo,
		RecipientRepo: recipientRepo,
		ContactRepo:   contactRepo,
		Queue:         q,
		Broadcaster:   broadcaster,
	}

	campaignController := &controller.CampaignController{
		CampaignService: campaignService,
	}

	deliveryHandler := &handler.DeliveryWebhookHandler{Queue: q}

	r := chi.NewRouter()

	// Campaign routes
	r.Post("/campaigns", campaignController.CreateCampaign)
	r.Get("/campaigns", campaignController.ListCampaigns)
	r.Get("/campaigns/{id}", campaignController.GetCampaign)
	r.Post("/campaigns/{id}/personalized-preview", campaignController.PersonalizedPreview)

	// Control surface
	r.Post("/campaigns/{id}/start", campaignController.StartCampaign)
	r.Post("/campaigns/{id}/pause", campaignController.PauseCampaign)
	r.Post("/campaigns/{id}/resume", campaignController.ResumeCampaign)
	r.Post("/campaigns/{id}/cancel", campaignController.CancelCampaign)

	// Normalized delivery events from the webhook layer
	r.Post("/webhooks/delivery", deliveryHandler.HandleDeliveryEvent)

	log.Println("🚀 Server running on", cfg.HTTPAddr)
	log.Fatal(http.ListenAndServe(cfg.HTTPAddr, r))
}

func logEvents(ch <-chan events.Event) {
	for ev := range ch {
		log.Printf("📣 %s: %+v\n", ev.EventType(), ev)
	}
}

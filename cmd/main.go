package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/robfig/cron/v3"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"
	httpSwagger "github.com/swaggo/http-swagger"

	"zapdesk/config"
	"zapdesk/internal/handlers"
	"zapdesk/internal/services"
	"zapdesk/internal/utils"
	"zapdesk/internal/wsnotify"
)

// @title ZapDesk API
// @version 1.0
// @description WhatsApp helpdesk routing service: inbound message pipeline, chatbot dialog engine and ticket lifecycle
// @BasePath /api/v1
func main() {
	utils.InitLogger()
	cfg := config.Load()

	db, err := config.ConnectDatabase()
	if err != nil {
		log.Fatal().Err(err).Msg("Database connection failed")
	}
	defer db.Close()

	var media services.MediaStore
	if s3, err := services.NewS3Service(cfg.S3Config); err != nil {
		log.Warn().Err(err).Msg("Attachment store unavailable, media will not be persisted")
	} else {
		media = s3
	}

	webhook := services.NewWebhookService(cfg.WebhookURL, cfg.RabbitMQURL, cfg.RabbitMQQueue)

	sweeps := cron.New()
	manager := services.NewConnectionManager(db, cfg, wsnotify.Manager, webhook, media, sweeps)
	sweeps.Start()

	httpHandler := handlers.NewHTTPHandler(manager, media)
	router := mux.NewRouter().PathPrefix("/api/v1").Subrouter()

	router.HandleFunc("/send-message", httpHandler.SendMessage).Methods("POST", "OPTIONS")
	router.HandleFunc("/send-media", httpHandler.SendMedia).Methods("POST", "OPTIONS")
	router.HandleFunc("/send-typing", httpHandler.SendTyping).Methods("POST", "OPTIONS")

	router.HandleFunc("/qrcode", httpHandler.GetQRCode).Methods("GET", "OPTIONS")
	router.HandleFunc("/status", httpHandler.GetStatus).Methods("GET", "OPTIONS")
	router.HandleFunc("/disconnect", httpHandler.Disconnect).Methods("POST", "OPTIONS")
	router.HandleFunc("/logout", httpHandler.Logout).Methods("POST", "OPTIONS")
	router.HandleFunc("/sync", httpHandler.RunSync).Methods("POST", "OPTIONS")

	router.HandleFunc("/tickets", httpHandler.ListTickets).Methods("GET", "OPTIONS")
	router.HandleFunc("/tickets/{id}/messages", httpHandler.ListTicketMessages).Methods("GET", "OPTIONS")

	router.HandleFunc("/ws", handlers.WebSocketHandler)

	fs := http.FileServer(http.Dir("./docs"))
	router.PathPrefix("/swagger/").Handler(http.StripPrefix("/api/v1/swagger/", fs))
	router.PathPrefix("/swagger-ui/").Handler(httpSwagger.Handler(
		httpSwagger.URL("/api/v1/swagger/swagger.json"),
		httpSwagger.DeepLinking(true),
	))

	mainRouter := mux.NewRouter()
	mainRouter.PathPrefix("/api/v1").Handler(router)

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	})

	server := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: c.Handler(mainRouter),
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	go func() {
		log.Info().Str("port", cfg.Port).Msg("Server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	<-stop
	log.Info().Msg("Shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server shutdown failed")
	}
	sweeps.Stop()
	manager.CloseAll()

	log.Info().Msg("Server stopped")
}

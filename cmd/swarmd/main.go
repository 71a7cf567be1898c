// swarmd runs the swarm consensus service: the consensus engine and its job
// queue, the event bus, and the websocket gateway, behind one HTTP listener.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"dev.swarm.consensus/internal/config"
	"dev.swarm.consensus/internal/embedding"
	"dev.swarm.consensus/internal/engine"
	"dev.swarm.consensus/internal/events"
	"dev.swarm.consensus/internal/gateway"
	"dev.swarm.consensus/internal/queue"
	"dev.swarm.consensus/internal/service"
	"dev.swarm.consensus/internal/store"
)

func main() {
	cfg := config.Load()
	log := newLogger(cfg.Logging)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := newStore(ctx, cfg, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize store")
	}
	defer st.Close()

	bus, err := newBus(ctx, cfg, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize event bus")
	}
	defer bus.Close()

	embedder := embedding.NewOpenAIEmbedder(cfg.Embedding)
	eng := engine.New(st, embedder, bus, nil, cfg.Engine, cfg.Embedding, log)

	q := queue.New(cfg.Queue, eng, log)
	if cfg.Queue.Enabled {
		if err := q.Start(ctx); err != nil {
			log.WithError(err).Fatal("Failed to start job queue")
		}
		defer q.Stop()
	}

	svc := service.New(st, q, bus, log)

	hub := gateway.NewHub(cfg.Gateway, cfg.Security, bus, func(ctx context.Context, req gateway.SubmitAnswerRequest) error {
		_, err := svc.SubmitAnswer(ctx, service.SubmitAnswerParams{
			QuestionID: req.QuestionID,
			AgentID:    req.AgentID,
			Content:    req.Content,
			Reasoning:  req.Reasoning,
			Confidence: req.Confidence,
		})
		return err
	}, log)
	if err := hub.Start(ctx); err != nil {
		log.WithError(err).Fatal("Failed to start websocket gateway")
	}

	router := newRouter(cfg, hub)
	server := &http.Server{
		Addr:    cfg.Server.Addr(),
		Handler: router,
	}

	go func() {
		log.WithField("addr", server.Addr).Info("Swarm consensus service listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("HTTP server failed")
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down")

	hub.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("HTTP shutdown did not complete cleanly")
	}
}

func newLogger(cfg config.LoggingConfig) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(os.Stdout)
	if level, err := logrus.ParseLevel(cfg.Level); err == nil {
		log.SetLevel(level)
	}
	if cfg.Format == "json" {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return log
}

// newStore connects to PostgreSQL when configured and reachable, falling
// back to the in-memory store for local development.
func newStore(ctx context.Context, cfg *config.Config, log *logrus.Logger) (store.Store, error) {
	pg, err := store.NewPostgresStore(ctx, cfg.Database, log)
	if err != nil {
		log.WithError(err).Warn("PostgreSQL unavailable, using in-memory store")
		return store.NewMemoryStore(), nil
	}
	if err := pg.CreateSchema(ctx); err != nil {
		pg.Close()
		return nil, err
	}
	return pg, nil
}

func newBus(ctx context.Context, cfg *config.Config, log *logrus.Logger) (events.Bus, error) {
	if cfg.Redis.Enabled {
		bus, err := events.NewRedisBus(ctx, cfg.Redis, log)
		if err == nil {
			return bus, nil
		}
		log.WithError(err).Warn("Redis unavailable, using in-process event bus")
	}
	return events.NewMemoryBus(nil), nil
}

func newRouter(cfg *config.Config, hub *gateway.Hub) *gin.Engine {
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "time": time.Now().UTC()})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/ws", hub.Handler())
	router.GET("/ws/stats", hub.StatsHandler())

	return router
}

package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"time"

	"github.com/emrgen/storysync/internal/app"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// Server exposes the app over HTTP.
type Server struct {
	app      *app.App
	httpPort string
}

// NewServer creates a new server
func NewServer(a *app.App, httpPort string) *Server {
	return &Server{
		app:      a,
		httpPort: httpPort,
	}
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	h := &handlers{app: s.app}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(RequestTimeMiddleware)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/status", h.status)
		r.Get("/status/stream", h.statusStream)

		r.Post("/session", h.switchUser)

		r.Route("/stories", func(r chi.Router) {
			r.Get("/", h.listStories)
			r.Post("/", h.createStory)
			r.Post("/close", h.closeStory)
			r.Post("/reorder", h.reorderStories)
			r.Get("/{id}", h.openStory)
			r.Put("/{id}", h.updateStory)
			r.Delete("/{id}", h.deleteStory)
		})

		r.Route("/sync", func(r chi.Router) {
			r.Post("/connect", h.connect)
			r.Post("/disconnect", h.disconnect)
			r.Post("/pause", h.pause)
			r.Post("/resume", h.resume)
			r.Post("/push", h.push)
			r.Post("/pull", h.pull)
		})

		r.Post("/index/rebuild", h.rebuildIndex)
		r.Get("/audit", h.auditLog)
	})

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "PUT"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
	})

	return c.Handler(r)
}

// Start serves until SIGTERM or SIGINT, then shuts down gracefully.
func (s *Server) Start() error {
	httpPort := ":" + s.httpPort

	rl, err := net.Listen("tcp", httpPort)
	if err != nil {
		return err
	}

	restServer := &http.Server{
		Addr:              httpPort,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		logrus.Info("starting http server on: ", httpPort)
		if err := restServer.Serve(rl); err != nil {
			if !errors.Is(err, http.ErrServerClosed) {
				logrus.Errorf("error starting http server: %v", err)
			}
		}
		logrus.Infof("http server stopped")
	}()

	logrus.Infof("Press Ctrl+C to stop the server")

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, unix.SIGTERM, unix.SIGINT)
	<-sigs
	// clean Ctrl+C output
	fmt.Println()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := restServer.Shutdown(ctx); err != nil {
		logrus.Errorf("error stopping http server: %v", err)
	}

	wg.Wait()

	return nil
}

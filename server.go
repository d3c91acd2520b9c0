package main

import (
	"context"
	"crypto/rand"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/asdine/storm/v3"
	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"go.uber.org/zap"

	"github.com/CodedInternet/gogarden/onboard"
	"github.com/CodedInternet/gogarden/onboard/queue"
)

// Device is the part of the robot the API talks to directly. Everything that
// moves goes through the queue.
type Device interface {
	ToggleLed(ctx context.Context) (uint8, error)
	Refresh(ctx context.Context) error
	State() onboard.RobotState
}

type Server struct {
	env     *EnvConfig
	db      *storm.DB
	queue   *queue.Queue
	journal *queue.StormJournal
	device  Device
	secret  []byte
	log     *zap.Logger
}

func NewServer(env *EnvConfig, db *storm.DB, q *queue.Queue, journal *queue.StormJournal, device Device, log *zap.Logger) (*Server, error) {
	if err := db.Init(&User{}); err != nil {
		return nil, err
	}

	secret := []byte(env.JWT_SECRET)
	if len(secret) == 0 {
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return nil, err
		}
		log.Warn("no JWT secret configured, tokens will not survive a restart")
	}

	return &Server{
		env:     env,
		db:      db,
		queue:   q,
		journal: journal,
		device:  device,
		secret:  secret,
		log:     log,
	}, nil
}

func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.StripSlashes)
	r.Use(middleware.Recoverer) // make sure this is last

	r.Route("/api", func(r chi.Router) {
		r.Post("/login", s.Login)

		r.Group(func(r chi.Router) {
			r.Use(s.ValidateJWT)

			r.Get("/refresh_token", s.JWTRefresh)

			r.Route("/queue", func(r chi.Router) {
				r.Get("/", s.GetQueue)
				r.Post("/actions", s.AddActions)
				r.Post("/pause", s.Pause)
				r.Post("/unpause", s.Unpause)
				r.Post("/clear", s.Clear)
				r.Post("/emergency", s.Emergency)
				r.Delete("/running/{id}", s.KillRunning)
			})

			r.Get("/state", s.GetState)
			r.Post("/led/toggle", s.ToggleLed)

			r.Get("/history", s.History)
			r.Get("/history/{ref}", s.HistoryEntry)
		})
	})

	r.Route("/ws", func(r chi.Router) {
		if !s.env.DEBUG {
			r.Use(s.ValidateJWT)
		} else {
			s.log.Warn("running in debug mode, websocket authentication disabled")
		}

		r.Get("/state", s.StateFeed)
	})

	if s.env.HTMLDIR != "" {
		if _, err := os.Stat(s.env.HTMLDIR); err == nil {
			FileServer(r, "/", http.Dir(s.env.HTMLDIR))
		}
	}

	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		s.log.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("took", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

// FileServer conveniently sets up a http.FileServer handler to serve
// static files from a http.FileSystem.
func FileServer(r chi.Router, path string, root http.FileSystem) {
	if strings.ContainsAny(path, "{}*") {
		panic("FileServer does not permit URL parameters.")
	}

	fs := http.StripPrefix(path, http.FileServer(root))

	if path != "/" && path[len(path)-1] != '/' {
		r.Get(path, http.RedirectHandler(path+"/", http.StatusMovedPermanently).ServeHTTP)
		path += "/"
	}
	path += "*"

	r.Get(path, func(w http.ResponseWriter, r *http.Request) {
		fs.ServeHTTP(w, r)
	})
}

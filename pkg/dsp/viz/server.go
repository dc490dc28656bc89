package viz

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const defaultUpdateInterval = 500 * time.Millisecond

type ImageContainer struct {
	name string
	data []byte
}

func (i *ImageContainer) Name() string { return i.name }
func (i *ImageContainer) Data() []byte { return i.data }

type Producer interface {
	Name() string
	GetImage() (*ImageContainer, error)
	AddPlotOption(opt PlotOptions)
}

type ServerOption func(s *Server)

// WithStatus publishes the value returned by fn as JSON on /api/status.
func WithStatus(fn func() interface{}) ServerOption {
	return func(s *Server) {
		s.status = fn
	}
}

func WithLogger(logger zerolog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

// Server re-renders every registered producer on an interval and serves the
// last good image of each.
type Server struct {
	mu             sync.RWMutex
	producers      map[string]Producer
	images         map[string]*ImageContainer
	srv            *http.Server
	updateInterval time.Duration
	status         func() interface{}
	logger         zerolog.Logger
}

func NewServer(port int, updateInterval time.Duration, opts ...ServerOption) *Server {
	s := &Server{
		producers:      make(map[string]Producer),
		images:         make(map[string]*ImageContainer),
		srv:            &http.Server{Addr: fmt.Sprintf(":%d", port)},
		updateInterval: updateInterval,
		logger:         log.Logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.updateInterval <= 0 {
		s.updateInterval = defaultUpdateInterval
	}
	s.srv.Handler = s.Handler()
	return s
}

func (s *Server) Register(p Producer) {
	s.mu.Lock()
	s.producers[p.Name()] = p
	s.mu.Unlock()
}

// Refresh renders every producer once. A failing producer keeps its previous
// image.
func (s *Server) Refresh() {
	s.mu.RLock()
	producers := make([]Producer, 0, len(s.producers))
	for _, p := range s.producers {
		producers = append(producers, p)
	}
	s.mu.RUnlock()

	for _, p := range producers {
		img, err := p.GetImage()
		if err != nil {
			s.logger.Warn().Err(err).Str("producer", p.Name()).Msg("error rendering plot")
			continue
		}
		if img == nil {
			continue
		}
		s.mu.Lock()
		s.images[img.name] = img
		s.mu.Unlock()
	}
}

func (s *Server) imageNames() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.producers))
	for name := range s.producers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (s *Server) Handler() http.Handler {
	handler := httprouter.New()

	handler.GET("/", func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		http.Redirect(w, r, "/view", http.StatusFound)
	})

	handler.GET("/view", func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html><head><title>usdr</title></head><body style='background-color: black'>`)
		for idx, name := range s.imageNames() {
			fmt.Fprintf(w, `<div><img id="graph-%d" src="/img/%s" /></div>`, idx, name)
		}
		fmt.Fprintf(w, `<script type="text/javascript">
			setInterval(function() {
				for (const img of document.images) {
					img.src = img.src.split("?")[0] + "?" + new Date().getTime();
				}
			}, %d);
		</script></body></html>`, s.updateInterval.Milliseconds())
	})

	handler.GET("/img/:name", func(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
		s.mu.RLock()
		img, ok := s.images[params.ByName("name")]
		s.mu.RUnlock()
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Write(img.data)
	})

	handler.GET("/api/status", func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		if s.status == nil {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(s.status()); err != nil {
			s.logger.Warn().Err(err).Msg("error encoding status")
		}
	})

	return handler
}

func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// Run serves until ctx is done or the server is stopped.
func (s *Server) Run(ctx context.Context) error {
	go func() {
		tick := time.NewTicker(s.updateInterval)
		defer tick.Stop()
		for {
			select {
			case <-ctx.Done():
				shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
				s.srv.Shutdown(shutdownCtx)
				cancel()
				return
			case <-tick.C:
				s.Refresh()
			}
		}
	}()

	s.logger.Info().Str("addr", s.srv.Addr).Msg("viz server starting")
	err := s.srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	log "github.com/sirupsen/logrus"

	"github.com/ziadkadry99/swcache/internal/clients"
	"github.com/ziadkadry99/swcache/internal/network"
	"github.com/ziadkadry99/swcache/internal/proxy"
	"github.com/ziadkadry99/swcache/internal/syncmgr"
)

// SourceHeader names the response header that tells where an intercepted
// response came from.
const SourceHeader = "X-Swcache-Source"

const maxMessageSize = 64 << 10

// Config holds server configuration.
type Config struct {
	Port     int
	AllowAll bool // allow all CORS origins (dev mode)
}

// Server is the HTTP front end of the offline cache proxy.
type Server struct {
	cfg        Config
	reg        *proxy.Registration
	hub        *clients.Hub
	syncs      *syncmgr.Manager
	router     chi.Router
	httpServer *http.Server
}

// New creates a server in front of reg. hub and syncs may be nil, in which
// case the websocket and sync routes answer 503.
func New(cfg Config, reg *proxy.Registration, hub *clients.Hub, syncs *syncmgr.Manager) *Server {
	s := &Server{
		cfg:   cfg,
		reg:   reg,
		hub:   hub,
		syncs: syncs,
	}

	s.router = s.buildRouter()
	return s
}

// buildRouter creates and configures the chi router with all routes.
func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// CORS
	corsOpts := cors.Options{
		AllowedOrigins:   []string{"http://localhost:*", "http://127.0.0.1:*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{SourceHeader},
		AllowCredentials: true,
		MaxAge:           300,
	}
	if s.cfg.AllowAll {
		// Any origin may call in, but never with the caller's credentials.
		corsOpts.AllowedOrigins = []string{"*"}
		corsOpts.AllowCredentials = false
	}
	r.Use(cors.Handler(corsOpts))

	// Health check
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})

	// Websocket connections live longer than any request timeout.
	r.Get("/_swcache/ws", s.handleWebsocket)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))

		r.Get("/_swcache/status", s.handleStatus)
		r.Post("/_swcache/message", s.handleMessage)
		r.Post("/_swcache/sync/{tag}", s.handleSync)

		r.HandleFunc("/*", s.handleFetch)
	})

	return r
}

// Router returns the chi router.
func (s *Server) Router() chi.Router { return s.router }

// Registration returns the registration the server fronts.
func (s *Server) Registration() *proxy.Registration { return s.reg }

// statusResponse is the body of GET /_swcache/status.
type statusResponse struct {
	*proxy.Status
	EntryCount int            `json:"entry_count"`
	Clients    []clients.Info `json:"clients"`
	Waiting    string         `json:"waiting,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctrl := s.reg.Controller()
	if ctrl == nil {
		writeError(w, http.StatusServiceUnavailable, "no active worker")
		return
	}
	st, err := ctrl.Status(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	resp := statusResponse{Status: st, EntryCount: len(st.Entries), Clients: []clients.Info{}}
	if s.hub != nil {
		resp.Clients = s.hub.List()
	}
	if waiting := s.reg.Waiting(); waiting != nil {
		resp.Waiting = waiting.Generation()
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleMessage delivers the request body to the active worker. The reply
// is written in the response unless broadcast=true is given, in which case
// every connected client receives it instead.
func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	ctrl := s.reg.Controller()
	if ctrl == nil {
		writeError(w, http.StatusServiceUnavailable, "no active worker")
		return
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, maxMessageSize))
	if err != nil {
		writeError(w, http.StatusBadRequest, "reading message: "+err.Error())
		return
	}

	broadcast, _ := strconv.ParseBool(r.URL.Query().Get("broadcast"))
	if broadcast {
		reply, _ := ctrl.HandleMessage(r.Context(), data, nil)
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "broadcast", "type": reply.Type})
		return
	}

	port := proxy.PortFunc(func(msg any) error {
		writeJSON(w, http.StatusOK, msg)
		return nil
	})
	if _, err := ctrl.HandleMessage(r.Context(), data, port); err != nil {
		log.WithError(err).Warn("server: message reply")
	}
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	if s.syncs == nil {
		writeError(w, http.StatusServiceUnavailable, "background sync disabled")
		return
	}
	tag := chi.URLParam(r, "tag")
	scheduled := s.syncs.Register(tag)
	writeJSON(w, http.StatusAccepted, map[string]any{"tag": tag, "scheduled": scheduled})
}

func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	if s.hub == nil {
		writeError(w, http.StatusServiceUnavailable, "client connections disabled")
		return
	}
	s.hub.Handler(s.dispatchClientMessage).ServeHTTP(w, r)
}

// dispatchClientMessage routes a websocket message to the active worker.
func (s *Server) dispatchClientMessage(ctx context.Context, data []byte, reply clients.ReplyFunc) {
	ctrl := s.reg.Controller()
	if ctrl == nil {
		if reply != nil {
			_ = reply(proxy.Reply{Type: proxy.MessageForceRefreshFailed, Error: "no active worker"})
		}
		return
	}
	var port proxy.Port
	if reply != nil {
		port = proxy.PortFunc(reply)
	}
	if _, err := ctrl.HandleMessage(ctx, data, port); err != nil {
		log.WithError(err).Warn("server: client message reply")
	}
}

// handleFetch intercepts every other request. Without an active worker the
// request passes straight through to the origin.
func (s *Server) handleFetch(w http.ResponseWriter, r *http.Request) {
	var (
		resp   *network.Response
		source proxy.Source
		err    error
	)
	if ctrl := s.reg.Controller(); ctrl != nil {
		var res *proxy.Result
		res, err = ctrl.HandleFetch(r.Context(), r)
		if err == nil {
			resp, source = res.Response, res.Source
		}
	} else {
		resp, err = s.reg.Fetcher().Fetch(r.Context(), r, network.FetchOptions{})
		source = proxy.SourcePassthrough
	}
	if err != nil {
		status := http.StatusBadGateway
		if !errors.Is(err, network.ErrNetwork) {
			status = http.StatusInternalServerError
		}
		log.WithField("path", r.URL.Path).WithError(err).Warn("server: request failed")
		http.Error(w, http.StatusText(status), status)
		return
	}

	h := w.Header()
	for k, vs := range resp.Header {
		for _, v := range vs {
			h.Add(k, v)
		}
	}
	h.Set("Content-Length", strconv.Itoa(len(resp.Body)))
	h.Set(SourceHeader, string(source))
	w.WriteHeader(resp.Status)
	if r.Method != http.MethodHead {
		w.Write(resp.Body)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// Start begins listening on the configured port.
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.cfg.Port)
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      120 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Infof("swcache listening on %s", addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

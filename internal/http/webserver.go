package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	nlogger "github.com/neutron-org/neutron-logger"
	"go.uber.org/zap"

	"github.com/neutron-org/deposit-relayer/internal/relay"
)

const (
	ServerContext     = "http"
	StatusResource    = "/status"
	MessagesResource  = "/messages"
	RequeueSuffix     = "/requeue"
	PrometheusMetrics = "/metrics"

	stateParam = "state"
)

// Service is what the API exposes of the relay service.
type Service interface {
	Status() (relay.ServiceStatus, error)
	ListMessages(state relay.State) ([]*relay.RelayMessage, error)
	GetMessage(id string) (*relay.RelayMessage, error)
	Requeue(id string) (*relay.RelayMessage, error)
}

type errorResponse struct {
	Error string `json:"error"`
}

func Run(ctx context.Context, logRegistry *nlogger.Registry, service Service, listenAddr string) error {
	server := &http.Server{
		Addr:              listenAddr,
		Handler:           Router(logRegistry, service),
		ReadHeaderTimeout: 10 * time.Second,
	}
	logger := logRegistry.Get(ServerContext)
	errch := make(chan error, 1)

	go func() {
		if err := server.ListenAndServe(); err != nil {
			if err != http.ErrServerClosed {
				logger.Error("failed to serve http", zap.Error(err))
				errch <- err
			}
		}
	}()

	select {
	case err := <-errch:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down the api http")
	webserverCtx, cancelWebserverCtx := context.WithTimeout(context.Background(), time.Second*5)
	defer cancelWebserverCtx()
	if err := server.Shutdown(webserverCtx); err != nil {
		logger.Error("failed to shutdown api http gracefully", zap.Error(err))
		return nil
	}

	logger.Info("api http shut down successfully")
	return nil
}

// Router serves the relayer API. Message ids contain slashes, so the id patterns match the rest
// of the path.
func Router(logRegistry *nlogger.Registry, service Service) *mux.Router {
	logger := logRegistry.Get(ServerContext)
	promHandler := NewPromWrapper(logRegistry, service)

	router := mux.NewRouter().StrictSlash(true)
	router.HandleFunc(StatusResource, status(logger, service)).Methods(http.MethodGet)
	router.HandleFunc(MessagesResource, listMessages(logger, service)).Methods(http.MethodGet)
	router.HandleFunc(MessagesResource+"/{id:.+}"+RequeueSuffix, requeue(logger, service)).Methods(http.MethodPost)
	router.HandleFunc(MessagesResource+"/{id:.+}", getMessage(logger, service)).Methods(http.MethodGet)
	router.Handle(PrometheusMetrics, promHandler)
	return router
}

func status(logger *zap.Logger, service Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := service.Status()
		if err != nil {
			logger.Error("failed to get service status", zap.Error(err))
			writeError(logger, w, http.StatusInternalServerError, "Error processing request")
			return
		}
		writeJSON(logger, w, http.StatusOK, res)
	}
}

func listMessages(logger *zap.Logger, service Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		state := relay.StateFailed
		if s := r.URL.Query().Get(stateParam); s != "" {
			parsed, err := relay.ParseState(s)
			if err != nil {
				writeError(logger, w, http.StatusBadRequest, err.Error())
				return
			}
			state = parsed
		}

		res, err := service.ListMessages(state)
		if err != nil {
			logger.Error("failed to list messages", zap.String("state", string(state)), zap.Error(err))
			writeError(logger, w, http.StatusInternalServerError, "Error processing request")
			return
		}
		if res == nil {
			res = []*relay.RelayMessage{}
		}
		writeJSON(logger, w, http.StatusOK, res)
	}
}

func getMessage(logger *zap.Logger, service Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		res, err := service.GetMessage(id)
		if err != nil {
			writeServiceError(logger, w, id, err)
			return
		}
		writeJSON(logger, w, http.StatusOK, res)
	}
}

func requeue(logger *zap.Logger, service Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		res, err := service.Requeue(id)
		if err != nil {
			writeServiceError(logger, w, id, err)
			return
		}
		logger.Info("message requeued", zap.String("id", id), zap.String("remote_addr", r.RemoteAddr))
		writeJSON(logger, w, http.StatusOK, res)
	}
}

func writeServiceError(logger *zap.Logger, w http.ResponseWriter, id string, err error) {
	switch {
	case errors.Is(err, relay.ErrMessageNotFound):
		writeError(logger, w, http.StatusNotFound, err.Error())
	case errors.Is(err, relay.ErrInvalidTransition):
		writeError(logger, w, http.StatusConflict, err.Error())
	default:
		logger.Error("failed to process message request", zap.String("id", id), zap.Error(err))
		writeError(logger, w, http.StatusInternalServerError, "Error processing request")
	}
}

func writeError(logger *zap.Logger, w http.ResponseWriter, code int, msg string) {
	writeJSON(logger, w, code, errorResponse{Error: msg})
}

func writeJSON(logger *zap.Logger, w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(v); err != nil {
		logger.Error("failed to encode response", zap.Error(err))
	}
}

package http

import (
	"net/http"

	nlogger "github.com/neutron-org/neutron-logger"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/neutron-org/deposit-relayer/internal/metrics"
	"github.com/neutron-org/deposit-relayer/internal/relay"
)

const MonitoringLoggerContext = "monitoring"

// PromWrapper refreshes the per-state message gauges before every scrape.
type PromWrapper struct {
	promHandler http.Handler
	service     Service
	logger      *zap.Logger
}

func NewPromWrapper(logRegistry *nlogger.Registry, service Service) PromWrapper {
	return PromWrapper{
		promHandler: promhttp.Handler(),
		service:     service,
		logger:      logRegistry.Get(MonitoringLoggerContext),
	}
}

func (p PromWrapper) fillMessagesByStateMetric() {
	status, err := p.service.Status()
	if err != nil {
		p.logger.Error("failed to get message counts", zap.Error(err))
		return
	}
	for _, state := range relay.AllStates {
		metrics.SetMessagesByState(string(state), status.Counts[state])
	}
}

func (p PromWrapper) ServeHTTP(res http.ResponseWriter, req *http.Request) {
	p.fillMessagesByStateMetric()
	p.promHandler.ServeHTTP(res, req)
}

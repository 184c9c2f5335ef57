package metrics

import (
	"net/http"
	"time"

	"github.com/nspcc-dev/nexa-sim/pkg/config"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const readHeaderTimeout = 5 * time.Second

// NewPrometheusService creates a new service for gathering prometheus metrics.
func NewPrometheusService(cfg config.BasicService, log *zap.Logger) *Service {
	if log == nil {
		return nil
	}

	srvs := make([]*http.Server, len(cfg.Addresses))
	for i, addr := range cfg.Addresses {
		srvs[i] = &http.Server{
			Addr:              addr,
			Handler:           promhttp.Handler(), // share metrics between multiple prometheus handlers
			ReadHeaderTimeout: readHeaderTimeout,
		}
	}
	return NewService("Prometheus", srvs, cfg, log)
}

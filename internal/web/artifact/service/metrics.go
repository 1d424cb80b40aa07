package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricNamespace = "artifact_gateway"

var (
	downloadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricNamespace,
		Name:      "downloads_total",
		Help:      "artifact downloads by mode (direct, secure) and source (local, backend)",
	}, []string{"mode", "source"})
	tokensIssuedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: metricNamespace,
		Name:      "tokens_issued_total",
		Help:      "download tokens issued",
	})
	tokenRejectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricNamespace,
		Name:      "token_rejections_total",
		Help:      "secure download attempts rejected, by reason",
	}, []string{"reason"})
	uploadsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: metricNamespace,
		Name:      "uploads_total",
		Help:      "artifacts stored",
	})
)

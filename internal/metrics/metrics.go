package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	UpdatesTotal       prometheus.Counter
	MessagesLogged     prometheus.Counter
	SummariesGenerated prometheus.Counter
	SummariesFailed    prometheus.Counter
	AIRequests         prometheus.Counter
	AIFailures         prometheus.Counter
	FilesCleaned       prometheus.Counter
	HotspotPushes      prometheus.Counter
}

var (
	once   sync.Once
	global *Metrics
)

func Global() *Metrics {
	once.Do(func() {
		global = &Metrics{
			UpdatesTotal: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "snailbot",
				Name:      "telegram_updates_total",
				Help:      "Total telegram updates received",
			}),
			MessagesLogged: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "snailbot",
				Name:      "messages_logged_total",
				Help:      "Total group messages recorded in the message store",
			}),
			SummariesGenerated: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "snailbot",
				Name:      "summaries_generated_total",
				Help:      "Total chat summaries generated successfully",
			}),
			SummariesFailed: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "snailbot",
				Name:      "summaries_failed_total",
				Help:      "Total chat summaries that failed",
			}),
			AIRequests: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "snailbot",
				Name:      "ai_requests_total",
				Help:      "Total LLM API calls issued",
			}),
			AIFailures: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "snailbot",
				Name:      "ai_failures_total",
				Help:      "Total LLM API calls that failed",
			}),
			FilesCleaned: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "snailbot",
				Name:      "files_cleaned_total",
				Help:      "Total expired history files deleted by the retention sweep",
			}),
			HotspotPushes: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "snailbot",
				Name:      "hotspot_pushes_total",
				Help:      "Total hot-topic digests pushed to the configured chat",
			}),
		}
		prometheus.MustRegister(
			global.UpdatesTotal,
			global.MessagesLogged,
			global.SummariesGenerated,
			global.SummariesFailed,
			global.AIRequests,
			global.AIFailures,
			global.FilesCleaned,
			global.HotspotPushes,
		)
	})
	return global
}

package handlers

import (
	"bytes"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"github.com/valyala/fasthttp"
)

var (
	heartbeatsTotal     *prometheus.CounterVec
	eventsInsertedTotal *prometheus.CounterVec
)

func InitPrometheusMetrics() {
	heartbeatsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pulsetrack",
			Name:      "heartbeats_total",
			Help:      "Total heartbeats processed, by bucket and outcome (merged or inserted).",
		},
		[]string{"bucket", "result"},
	)
	eventsInsertedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pulsetrack",
			Name:      "events_inserted_total",
			Help:      "Total events stored through bulk insert, by bucket.",
		},
		[]string{"bucket"},
	)
	prometheus.MustRegister(heartbeatsTotal, eventsInsertedTotal)
}

// MetricsHandler serves the Prometheus text exposition. An optional
// ?bucket= filter narrows metric families carrying a bucket label to
// that bucket's series; families without the label pass through.
func MetricsHandler() fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		bucketFilter := string(ctx.QueryArgs().Peek("bucket"))

		metricFamilies, err := prometheus.DefaultGatherer.Gather()
		if err != nil {
			ctx.SetStatusCode(fasthttp.StatusInternalServerError)
			ctx.SetBodyString("failed to gather metrics")
			return
		}

		filtered := make([]*dto.MetricFamily, 0, len(metricFamilies))
		for _, mf := range metricFamilies {
			if bucketFilter == "" {
				filtered = append(filtered, mf)
				continue
			}

			hasBucketLabel := false
			for _, m := range mf.GetMetric() {
				for _, l := range m.GetLabel() {
					if l.GetName() == "bucket" {
						hasBucketLabel = true
						break
					}
				}
				if hasBucketLabel {
					break
				}
			}

			if !hasBucketLabel {
				filtered = append(filtered, mf)
				continue
			}

			var kept []*dto.Metric
			for _, m := range mf.GetMetric() {
				for _, l := range m.GetLabel() {
					if l.GetName() == "bucket" && l.GetValue() == bucketFilter {
						kept = append(kept, m)
						break
					}
				}
			}
			if len(kept) == 0 {
				continue
			}

			filtered = append(filtered, &dto.MetricFamily{
				Name:   mf.Name,
				Help:   mf.Help,
				Type:   mf.Type,
				Metric: kept,
			})
		}

		var buf bytes.Buffer
		encoder := expfmt.NewEncoder(&buf, expfmt.FmtText)
		for _, mf := range filtered {
			if err := encoder.Encode(mf); err != nil {
				ctx.SetStatusCode(fasthttp.StatusInternalServerError)
				ctx.SetBodyString("failed to encode metrics")
				return
			}
		}

		ctx.SetContentType(string(expfmt.FmtText))
		ctx.Response.Header.Set("Cache-Control", "no-store")
		ctx.SetBody(buf.Bytes())
	}
}

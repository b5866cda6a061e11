package main

import (
	"github.com/gin-gonic/gin"
	"github.com/judgekit/go-executor/envexec"
	"github.com/judgekit/go-executor/worker"
	"github.com/prometheus/client_golang/prometheus"
	ginprometheus "github.com/zsais/go-gin-prometheus"
)

const (
	metricsNamespace = "go_executor"
)

var (
	// 1ms -> 20s
	timeBuckets = []float64{
		0.001, 0.002, 0.005, 0.008, 0.010, 0.025, 0.050, 0.075, 0.1, 0.2,
		0.4, 0.6, 0.8, 1.0, 1.5, 2, 5, 10, 20,
	}

	// 4k (1<<12) -> 4g (1<<32)
	memoryBucket = prometheus.ExponentialBuckets(1<<12, 2, 21)

	metricsSummaryQuantile = map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001}

	execLabels = []string{"language", "step", "status"}

	execErrorCount = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "error",
		Help:      "Number of steps finished with an internal error",
	}, []string{"language", "step"})

	execTimeHist = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: metricsNamespace,
		Name:      "time_seconds",
		Help:      "Histogram for the cpu time",
		Buckets:   timeBuckets,
	}, execLabels)

	execTimeSummary = prometheus.NewSummaryVec(prometheus.SummaryOpts{
		Namespace:  metricsNamespace,
		Name:       "time",
		Help:       "Summary for the cpu time",
		Objectives: metricsSummaryQuantile,
	}, execLabels)

	execRunTimeHist = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: metricsNamespace,
		Name:      "run_time_seconds",
		Help:      "Histogram for the wall clock time",
		Buckets:   timeBuckets,
	}, execLabels)

	execMemHist = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: metricsNamespace,
		Name:      "memory_bytes",
		Help:      "Histgram for the memory",
		Buckets:   memoryBucket,
	}, execLabels)

	execMemSummary = prometheus.NewSummaryVec(prometheus.SummaryOpts{
		Namespace:  metricsNamespace,
		Name:       "memory",
		Help:       "Summary for the memory",
		Objectives: metricsSummaryQuantile,
	}, execLabels)

	workerRunning = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Name:      "worker_running",
		Help:      "Number of jobs holding an execution slot",
	})

	workerQueued = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Name:      "worker_queued",
		Help:      "Number of jobs waiting for an execution slot",
	})

	workspaceActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Name:      "workspace_active",
		Help:      "Number of workspaces not yet destroyed",
	})
)

func init() {
	prometheus.MustRegister(execErrorCount)
	prometheus.MustRegister(execTimeHist, execTimeSummary, execRunTimeHist)
	prometheus.MustRegister(execMemHist, execMemSummary)
	prometheus.MustRegister(workerRunning, workerQueued, workspaceActive)
}

func execObserve(lang, step string, r envexec.Result) {
	if r.Status == envexec.StatusInternalError {
		execErrorCount.WithLabelValues(lang, step).Inc()
		return
	}
	status := r.Status.String()
	ob := r.Time.Seconds()
	mob := float64(r.Memory)
	execTimeHist.WithLabelValues(lang, step, status).Observe(ob)
	execTimeSummary.WithLabelValues(lang, step, status).Observe(ob)
	execRunTimeHist.WithLabelValues(lang, step, status).Observe(r.RunTime.Seconds())
	execMemHist.WithLabelValues(lang, step, status).Observe(mob)
	execMemSummary.WithLabelValues(lang, step, status).Observe(mob)
}

func workerObserve(s worker.Stats) {
	workerRunning.Set(float64(s.Running))
	workerQueued.Set(float64(s.Queued))
}

func workspaceObserve(active int) {
	workspaceActive.Set(float64(active))
}

func initGinMetrics(r *gin.Engine) {
	p := ginprometheus.NewWithConfig(ginprometheus.Config{
		Subsystem:          "gin",
		DisableBodyReading: true,
	})
	p.ReqCntURLLabelMappingFn = func(c *gin.Context) string {
		return c.FullPath()
	}
	r.Use(p.HandlerFunc())
}

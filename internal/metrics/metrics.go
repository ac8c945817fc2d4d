package metrics

import (
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/kstaniek/battleship-server/internal/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus counters and gauges.
var (
	FramesRx = promauto.NewCounter(prometheus.CounterOpts{
		Name: "frames_rx_total",
		Help: "Total inbound DATA frames delivered to dispatch (after reordering and rate limiting).",
	})
	FramesTx = promauto.NewCounter(prometheus.CounterOpts{
		Name: "frames_tx_total",
		Help: "Total frames written to client connections.",
	})
	ChecksumErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "checksum_errors_total",
		Help: "Total frames rejected for a CRC mismatch.",
	})
	MalformedFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "malformed_frames_total",
		Help: "Total frames rejected as structurally invalid.",
	})
	NacksSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nack_sent_total",
		Help: "Total NACK control frames sent.",
	})
	AcksSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ack_sent_total",
		Help: "Total ACK control frames sent.",
	})
	Retransmits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "retransmits_total",
		Help: "Total DATA frames retransmitted (NACK-driven or timer-driven).",
	})
	DuplicateFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "duplicate_frames_total",
		Help: "Total inbound DATA frames discarded as duplicates.",
	})
	RateLimited = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rate_limited_frames_total",
		Help: "Total inbound frames dropped by the per-peer rate limiter.",
	})
	SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sessions_active",
		Help: "Current number of connected client sessions.",
	})
	SessionsRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sessions_rejected_total",
		Help: "Total connection attempts rejected (registry full).",
	})
	Reconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reconnects_total",
		Help: "Total successful username-matched reconnects.",
	})
	Disconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "disconnects_total",
		Help: "Total client disconnects (voluntary or transport failure).",
	})
	IdleTimeouts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "idle_timeouts_total",
		Help: "Total per-player idle timeout expirations.",
	})
	GraceExpirations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "grace_expirations_total",
		Help: "Total disconnect grace windows that expired without reconnect.",
	})
	GamesCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "games_completed_total",
		Help: "Total matches that reached END.",
	})
	TurnsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "turns_total",
		Help: "Total completed firing turns across all matches.",
	})
	BuildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "build_info",
		Help: "Build metadata (value is always 1).",
	}, []string{"version", "commit", "date"})
	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "errors_total",
		Help: "Error counters by subsystem.",
	}, []string{"where"})

	readinessMu sync.RWMutex
	readinessFn func() bool
)

// Error label constants (stable label values to bound cardinality).
const (
	ErrConnRead  = "conn_read"
	ErrConnWrite = "conn_write"
	ErrDispatch  = "dispatch"
	ErrGame      = "game"
	ErrRegistry  = "registry"
	ErrListen    = "listen"
	ErrAccept    = "accept"
)

// StartHTTP serves Prometheus metrics at /metrics and a readiness probe at
// /ready on addr.
func StartHTTP(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if IsReady() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready\n"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready\n"))
	})

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		logging.L().Info("metrics_listen", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.L().Error("metrics_http_error", "error", err)
		}
	}()
	return srv
}

// Local mirrored counters for cheap in-process logging without scraping.
var (
	localFramesRx       uint64
	localFramesTx       uint64
	localChecksumErrors uint64
	localMalformed      uint64
	localNacks          uint64
	localAcks           uint64
	localRetransmits    uint64
	localDuplicates     uint64
	localRateLimited    uint64
	localSessions       uint64
	localReconnects     uint64
	localDisconnects    uint64
	localErrors         uint64
)

// Snapshot is a cheap copy of the local counters.
type Snapshot struct {
	FramesRx       uint64
	FramesTx       uint64
	ChecksumErrors uint64
	Malformed      uint64
	Nacks          uint64
	Acks           uint64
	Retransmits    uint64
	Duplicates     uint64
	RateLimited    uint64
	Sessions       uint64
	Reconnects     uint64
	Disconnects    uint64
	Errors         uint64
}

func Snap() Snapshot {
	return Snapshot{
		FramesRx:       atomic.LoadUint64(&localFramesRx),
		FramesTx:       atomic.LoadUint64(&localFramesTx),
		ChecksumErrors: atomic.LoadUint64(&localChecksumErrors),
		Malformed:      atomic.LoadUint64(&localMalformed),
		Nacks:          atomic.LoadUint64(&localNacks),
		Acks:           atomic.LoadUint64(&localAcks),
		Retransmits:    atomic.LoadUint64(&localRetransmits),
		Duplicates:     atomic.LoadUint64(&localDuplicates),
		RateLimited:    atomic.LoadUint64(&localRateLimited),
		Sessions:       atomic.LoadUint64(&localSessions),
		Reconnects:     atomic.LoadUint64(&localReconnects),
		Disconnects:    atomic.LoadUint64(&localDisconnects),
		Errors:         atomic.LoadUint64(&localErrors),
	}
}

func IncFramesRx() { FramesRx.Inc(); atomic.AddUint64(&localFramesRx, 1) }
func AddFramesTx(n int) {
	FramesTx.Add(float64(n))
	atomic.AddUint64(&localFramesTx, uint64(n))
}
func IncChecksumError() {
	ChecksumErrors.Inc()
	atomic.AddUint64(&localChecksumErrors, 1)
}
func IncMalformed() { MalformedFrames.Inc(); atomic.AddUint64(&localMalformed, 1) }
func IncNackSent()  { NacksSent.Inc(); atomic.AddUint64(&localNacks, 1) }
func IncAckSent()   { AcksSent.Inc(); atomic.AddUint64(&localAcks, 1) }
func IncRetransmit() {
	Retransmits.Inc()
	atomic.AddUint64(&localRetransmits, 1)
}
func IncDuplicate() {
	DuplicateFrames.Inc()
	atomic.AddUint64(&localDuplicates, 1)
}
func IncRateLimited() {
	RateLimited.Inc()
	atomic.AddUint64(&localRateLimited, 1)
}
func SetSessionsActive(n int) {
	SessionsActive.Set(float64(n))
	atomic.StoreUint64(&localSessions, uint64(n))
}
func IncSessionRejected() { SessionsRejected.Inc() }
func IncReconnect()       { Reconnects.Inc(); atomic.AddUint64(&localReconnects, 1) }
func IncDisconnect() {
	Disconnects.Inc()
	atomic.AddUint64(&localDisconnects, 1)
}
func IncIdleTimeout()    { IdleTimeouts.Inc() }
func IncGraceExpiration() { GraceExpirations.Inc() }
func IncGameCompleted()   { GamesCompleted.Inc() }
func IncTurn()            { TurnsTotal.Inc() }

func IncError(label string) {
	Errors.WithLabelValues(label).Inc()
	atomic.AddUint64(&localErrors, 1)
}

// InitBuildInfo sets the build info gauge and pre-registers error label
// series so the first error of each kind doesn't pay registration latency.
func InitBuildInfo(version, commit, date string) {
	BuildInfo.WithLabelValues(version, commit, date).Set(1)
	for _, lbl := range []string{ErrConnRead, ErrConnWrite, ErrDispatch, ErrGame, ErrRegistry, ErrListen, ErrAccept} {
		Errors.WithLabelValues(lbl).Add(0)
	}
}

// SetReadinessFunc registers a function used by /ready and IsReady.
func SetReadinessFunc(fn func() bool) { readinessMu.Lock(); readinessFn = fn; readinessMu.Unlock() }

// IsReady invokes the registered readiness function if present.
func IsReady() bool {
	readinessMu.RLock()
	fn := readinessFn
	readinessMu.RUnlock()
	if fn == nil {
		return true
	}
	return fn()
}

// Ready is a concise alias used at call sites.
func Ready() bool { return IsReady() }

package health

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"prop_terminal/internal/modules/config"
	gatewayservice "prop_terminal/internal/modules/gateway/service"
	"prop_terminal/internal/modules/health/service"
)

type Config struct {
	Addr string // host:port
}

func NewConfig(cfg *config.Config) Config {
	return Config{Addr: fmt.Sprintf("%s:%d", cfg.Service.Host, cfg.Service.AdminPort)}
}

type healthz struct {
	Ready        bool   `json:"ready"`
	WSConnected  bool   `json:"wsConnected"`
	Breaker      string `json:"breaker,omitempty"`
	UptimeSec    int64  `json:"uptimeSec"`
	LastTickUnix int64  `json:"lastTickUnix"`
}

// NewMux serves liveness, readiness, a JSON status and prometheus metrics.
// breaker may be nil.
func NewMux(state *service.State, gatherer prometheus.Gatherer, breaker func() string) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/livez", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if !state.Ready() {
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		resp := healthz{
			Ready:       state.Ready(),
			WSConnected: state.WSConnected(),
			UptimeSec:   int64(state.Uptime().Seconds()),
		}
		if t := state.LastTick(); !t.IsZero() {
			resp.LastTickUnix = t.Unix()
		}
		if breaker != nil {
			resp.Breaker = breaker()
		}
		b, err := sonic.Marshal(resp)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(b)
	})

	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	return mux
}

func newMux(state *service.State, gatherer prometheus.Gatherer, client *gatewayservice.Client) *http.ServeMux {
	return NewMux(state, gatherer, func() string { return client.BreakerState().String() })
}

func RunHTTP(lc fx.Lifecycle, cfg Config, mux *http.ServeMux, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			ln, err := net.Listen("tcp", cfg.Addr)
			if err != nil {
				return err
			}
			log.Info("admin http listening", zap.String("addr", ln.Addr().String()))
			go func() {
				if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("admin http", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
}

func Module() fx.Option {
	return fx.Module("health",
		fx.Provide(
			service.NewState,
			NewConfig,
			newMux,
		),
		fx.Invoke(RunHTTP),
	)
}

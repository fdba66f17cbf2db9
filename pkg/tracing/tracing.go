package tracing

import (
	"context"
	"fmt"
	"time"

	"github.com/opentracing/opentracing-go"
	"github.com/opentracing/opentracing-go/ext"
	"github.com/uber/jaeger-client-go"
	jCfg "github.com/uber/jaeger-client-go/config"
	"github.com/uber/jaeger-lib/metrics"

	"prop_terminal/pkg/logger"
)

var (
	serviceName = "default"
)

func SetServiceName(newName string) string {
	oldName := serviceName
	serviceName = newName

	return oldName
}

type Config struct {
	Enabled    bool
	Host       string
	Port       int
	// SampleRate in (0,1) samples probabilistically; anything else samples every trace.
	SampleRate float64
}

func sampler(rate float64) *jCfg.SamplerConfig {
	if rate > 0 && rate < 1 {
		return &jCfg.SamplerConfig{Type: jaeger.SamplerTypeProbabilistic, Param: rate}
	}
	return &jCfg.SamplerConfig{Type: jaeger.SamplerTypeConst, Param: 1}
}

// InitTracer installs a Jaeger tracer as the global tracer. With tracing
// disabled the global no-op tracer stays in place.
func InitTracer(conf Config) (opentracing.Tracer, func(), error) {
	if !conf.Enabled {
		return opentracing.GlobalTracer(), func() {}, nil
	}
	cfg := &jCfg.Configuration{
		ServiceName: serviceName,
		Sampler:     sampler(conf.SampleRate),
		Reporter: &jCfg.ReporterConfig{
			LocalAgentHostPort:  fmt.Sprintf("%s:%d", conf.Host, conf.Port),
			BufferFlushInterval: time.Second,
		},
	}

	tracer, closer, err := cfg.NewTracer(jCfg.Metrics(metrics.NullFactory))
	if err != nil {
		return nil, nil, fmt.Errorf("jaeger tracer: %w", err)
	}

	opentracing.SetGlobalTracer(tracer)
	return tracer, func() {
		if err := closer.Close(); err != nil {
			logger.Error("close jaeger tracer: %v", err)
		}
	}, nil
}

// Start opens a child span of whatever span ctx carries.
func Start(ctx context.Context, op string) (opentracing.Span, context.Context) {
	return opentracing.StartSpanFromContext(ctx, op)
}

// Finish records err on span (if any) and finishes it.
func Finish(span opentracing.Span, err error) {
	if err != nil {
		ext.Error.Set(span, true)
		span.SetTag("error.message", err.Error())
	}
	span.Finish()
}

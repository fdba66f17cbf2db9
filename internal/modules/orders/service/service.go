package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"prop_terminal/internal/models"
	gatewayservice "prop_terminal/internal/modules/gateway/service"
	"prop_terminal/internal/modules/metrics"
	"prop_terminal/pkg/tracing"
)

type Submitter interface {
	CreateOrder(ctx context.Context, payload models.OrderPayload) (models.Position, error)
}

type QuoteProvider interface {
	GetQuote(symbol string) (models.Quote, bool)
}

type Instruments interface {
	Get(symbol string) (models.Instrument, bool)
}

type Service struct {
	instruments Instruments
	quotes      QuoteProvider
	sub         Submitter
	log         *zap.Logger
	now         func() time.Time
}

func NewService(instruments Instruments, quotes QuoteProvider, sub Submitter, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		instruments: instruments,
		quotes:      quotes,
		sub:         sub,
		log:         log,
		now:         time.Now,
	}
}

func (s *Service) Instrument(symbol string) (models.Instrument, error) {
	inst, ok := s.instruments.Get(symbol)
	if !ok {
		return models.Instrument{}, errors.Join(ErrUnknownInstrument, errors.New(symbol))
	}
	return inst, nil
}

// Quote is the feed's latest quote for symbol, nil when none is known.
func (s *Service) Quote(symbol string) *models.Quote {
	q, ok := s.quotes.GetQuote(symbol)
	if !ok {
		return nil
	}
	return &q
}

// BuildDraft resolves input against the catalog and the live quote.
func (s *Service) BuildDraft(in DraftInput) (models.DraftOrder, error) {
	inst, err := s.Instrument(in.Symbol)
	if err != nil {
		return models.DraftOrder{}, err
	}
	return BuildDraft(in, inst, s.Quote(inst.Symbol))
}

func (s *Service) Validate(d models.DraftOrder) ValidationResult {
	res := Validate(d, s.Quote(d.Symbol))
	if !res.Valid {
		metrics.ValidationFailures.WithLabelValues(res.Err.Field).Inc()
	}
	return res
}

// Submit validates d once more and posts it. A server rejection comes back
// as *gatewayservice.RejectionError, untouched.
func (s *Service) Submit(ctx context.Context, d models.DraftOrder) (pos models.Position, err error) {
	span, ctx := tracing.Start(ctx, "orders.Submit")
	span.SetTag("symbol", d.Symbol)
	span.SetTag("side", string(d.Side))
	defer func() { tracing.Finish(span, err) }()

	inst, err := s.Instrument(d.Symbol)
	if err != nil {
		return models.Position{}, err
	}
	res := s.Validate(d)
	if !res.Valid {
		return models.Position{}, res.Err
	}

	payload := Payload(d, inst, s.now())
	span.SetTag("client_order_id", payload.ClientOrderID)

	pos, err = s.sub.CreateOrder(ctx, payload)
	if err != nil {
		var rej *gatewayservice.RejectionError
		if errors.As(err, &rej) {
			metrics.OrdersSubmitted.WithLabelValues("rejected").Inc()
			s.log.Info("order rejected",
				zap.String("symbol", d.Symbol), zap.String("reason", rej.Reason), zap.String("code", rej.Code))
		} else {
			metrics.OrdersSubmitted.WithLabelValues("error").Inc()
			s.log.Warn("order submission failed", zap.String("symbol", d.Symbol), zap.Error(err))
		}
		return models.Position{}, err
	}

	metrics.OrdersSubmitted.WithLabelValues("confirmed").Inc()
	s.log.Info("order confirmed",
		zap.String("symbol", d.Symbol),
		zap.String("side", string(d.Side)),
		zap.String("position_id", pos.ID),
		zap.String("client_order_id", payload.ClientOrderID))
	return pos, nil
}

// Package coordinator drives lifecycle requests end to end: it validates or
// authorizes against a fresh ledger read, submits, awaits finality and then
// re-reads the gig, because ledger state may change between authorization and
// inclusion.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"rozgar/core/events"
	"rozgar/ledger"
	"rozgar/native/gig"
	"rozgar/observability"
	"rozgar/observability/logging"
)

var errNoSigner = errors.New("coordinator: signer required")

// Outcome is the confirmed result of a request. Gig is read after finality.
type Outcome struct {
	Gig      gig.Gig
	Status   gig.Status
	Receipt  ledger.Receipt
	Finality ledger.Finality
	// AlreadyApplied is set by Retry when the gig had already reached the
	// action's target, so nothing was submitted.
	AlreadyApplied bool
}

// Coordinator sequences lifecycle requests against a ledger client.
type Coordinator struct {
	client  ledger.Client
	emitter events.Emitter
	logger  *slog.Logger
	tracer  trace.Tracer
	metrics *observability.LifecycleMetrics
	nowFn   func() time.Time
}

// New constructs a coordinator over client.
func New(client ledger.Client) *Coordinator {
	return &Coordinator{
		client:  client,
		emitter: events.NoopEmitter{},
		logger:  slog.Default(),
		tracer:  otel.Tracer("rozgar/coordinator"),
		metrics: observability.Lifecycle(),
		nowFn:   time.Now,
	}
}

// SetEmitter configures the lifecycle event sink. Nil discards events.
func (c *Coordinator) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		c.emitter = events.NoopEmitter{}
		return
	}
	c.emitter = emitter
}

// SetLogger overrides the logger.
func (c *Coordinator) SetLogger(logger *slog.Logger) {
	if logger != nil {
		c.logger = logger
	}
}

// SetNowFunc overrides the time source. Primarily intended for tests.
func (c *Coordinator) SetNowFunc(now func() time.Time) {
	if now == nil {
		c.nowFn = time.Now
		return
	}
	c.nowFn = now
}

// Reader exposes the underlying ledger reads.
func (c *Coordinator) Reader() ledger.Reader { return c.client }

func (c *Coordinator) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return c.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// Create validates draft, deposits its payment through createGig and returns
// the created record once final.
func (c *Coordinator) Create(ctx context.Context, draft gig.Draft, signer ledger.Signer) (out Outcome, err error) {
	ctx, span := c.startSpan(ctx, "coordinator.create")
	defer func() {
		c.metrics.RecordRequest("create", err)
		endSpan(span, err)
	}()
	if signer == nil {
		return Outcome{}, errNoSigner
	}
	creator := signer.Address()
	if err := gig.ValidateCreation(draft, creator); err != nil {
		var verr *gig.ValidationError
		if errors.As(err, &verr) {
			for _, f := range verr.Fields {
				c.metrics.RecordValidationFailure(string(f.Reason))
			}
		}
		return Outcome{}, err
	}

	receipt, err := c.client.SubmitCreation(ctx, draft, signer)
	if err != nil {
		c.logger.Warn("gig creation not submitted", logging.Address("client", creator), slog.Any("error", err))
		return Outcome{}, err
	}
	c.emit(events.Lifecycle{
		Type:     gig.EventTypeGigCreated,
		Stage:    events.StageSubmitted,
		Creation: true,
		TxHash:   receipt.TxHash.Hex(),
		Actor:    creator,
		// The title lets a later process resolve the id this creation produced.
		Detail: receipt.Title,
	})
	c.logger.Info("gig creation submitted",
		logging.Address("client", creator),
		slog.String("tx", receipt.TxHash.Hex()),
		slog.String("payment", gig.FormatEther(receipt.Payment)))
	return c.await(ctx, receipt)
}

// Transition submits action on gig id and waits for the confirmed record.
func (c *Coordinator) Transition(ctx context.Context, id uint64, action gig.Action, signer ledger.Signer) (out Outcome, err error) {
	ctx, span := c.startSpan(ctx, "coordinator.transition",
		attribute.Int64("gig.id", int64(id)), attribute.String("gig.action", action.String()))
	defer func() {
		c.metrics.RecordRequest(action.String(), err)
		endSpan(span, err)
	}()
	receipt, err := c.submit(ctx, id, action, signer)
	if err != nil {
		return Outcome{}, err
	}
	return c.await(ctx, receipt)
}

// Submit authorizes action against a fresh read of gig id and submits it
// without waiting. Callers pass the receipt to Await.
func (c *Coordinator) Submit(ctx context.Context, id uint64, action gig.Action, signer ledger.Signer) (ledger.Receipt, error) {
	ctx, span := c.startSpan(ctx, "coordinator.submit",
		attribute.Int64("gig.id", int64(id)), attribute.String("gig.action", action.String()))
	receipt, err := c.submit(ctx, id, action, signer)
	endSpan(span, err)
	return receipt, err
}

// Await waits for receipt to become final and re-reads the affected gig.
func (c *Coordinator) Await(ctx context.Context, receipt ledger.Receipt) (Outcome, error) {
	ctx, span := c.startSpan(ctx, "coordinator.await", attribute.String("tx.hash", receipt.TxHash.Hex()))
	out, err := c.await(ctx, receipt)
	endSpan(span, err)
	return out, err
}

func (c *Coordinator) submit(ctx context.Context, id uint64, action gig.Action, signer ledger.Signer) (ledger.Receipt, error) {
	if signer == nil {
		return ledger.Receipt{}, errNoSigner
	}
	caller := signer.Address()
	current, err := c.client.FetchGig(ctx, ledger.Latest, id)
	if err != nil {
		return ledger.Receipt{}, fmt.Errorf("coordinator: read gig %d: %w", id, err)
	}
	decision := gig.Authorize(current, caller, action)
	if !decision.Allowed {
		c.metrics.RecordDenial(action.String(), string(decision.Reason))
		c.logger.Info("transition denied",
			slog.Uint64("gig", id),
			slog.String("action", action.String()),
			slog.String("reason", string(decision.Reason)),
			logging.Address("caller", caller))
		return ledger.Receipt{}, decision.Err()
	}

	receipt, err := c.client.SubmitTransition(ctx, id, action, signer)
	if err != nil {
		c.logger.Warn("transition not submitted",
			slog.Uint64("gig", id),
			slog.String("action", action.String()),
			slog.Any("error", err))
		return ledger.Receipt{}, err
	}
	c.emit(events.Lifecycle{
		Type:   action.EventType(),
		Stage:  events.StageSubmitted,
		GigID:  id,
		Action: action,
		TxHash: receipt.TxHash.Hex(),
		Actor:  caller,
	})
	c.logger.Info("transition submitted",
		slog.Uint64("gig", id),
		slog.String("action", action.String()),
		slog.String("tx", receipt.TxHash.Hex()))
	return receipt, nil
}

func (c *Coordinator) await(ctx context.Context, receipt ledger.Receipt) (Outcome, error) {
	eventType := receipt.Action.EventType()
	if receipt.Creation {
		eventType = gig.EventTypeGigCreated
	}
	start := c.nowFn()
	fin, err := c.client.AwaitFinality(ctx, receipt)
	observability.Ledger().ObserveFinality(actionLabel(receipt), err, c.nowFn().Sub(start))
	if err != nil {
		c.logger.Warn("request not confirmed",
			slog.String("tx", receipt.TxHash.Hex()),
			slog.String("action", actionLabel(receipt)),
			slog.Any("error", err))
		// A timeout is not final: the journal keeps the request pending so it
		// can be awaited again later.
		if !ledger.IsKind(err, ledger.KindTimeout) && !errors.Is(err, context.Canceled) {
			c.emit(events.Lifecycle{
				Type:     eventType,
				Stage:    events.StageFailed,
				GigID:    receipt.GigID,
				Action:   receipt.Action,
				Creation: receipt.Creation,
				TxHash:   receipt.TxHash.Hex(),
				Actor:    receipt.Submitter,
				Detail:   Describe(err),
			})
		}
		return Outcome{Receipt: receipt}, err
	}
	c.emit(events.Lifecycle{
		Type:        eventType,
		Stage:       events.StageConfirmed,
		GigID:       fin.GigID,
		Action:      receipt.Action,
		Creation:    receipt.Creation,
		TxHash:      receipt.TxHash.Hex(),
		Actor:       receipt.Submitter,
		BlockNumber: fin.BlockNumber,
	})

	// Never trust the pre-submission view: re-derive status from the ledger.
	record, err := c.client.FetchGig(ctx, ledger.Latest, fin.GigID)
	if err != nil {
		return Outcome{Receipt: receipt, Finality: fin}, fmt.Errorf("coordinator: re-read gig %d after finality: %w", fin.GigID, err)
	}
	for _, anomaly := range record.CheckConsistency() {
		c.logger.Error("ledger record inconsistent",
			slog.Uint64("gig", record.ID),
			slog.String("detail", anomaly.Detail),
			slog.Bool("fatal", anomaly.Fatal))
	}
	c.logger.Info("request confirmed",
		slog.Uint64("gig", record.ID),
		slog.String("action", actionLabel(receipt)),
		slog.String("status", record.Status().String()),
		slog.Uint64("block", fin.BlockNumber))
	return Outcome{
		Gig:      record,
		Status:   record.Status(),
		Receipt:  receipt,
		Finality: fin,
	}, nil
}

// Retry re-reads gig id before resubmitting action. The caller must hold the
// action's role. When the gig has already reached the action's target status
// the request is reported as already applied and nothing is sent; otherwise
// authorization runs again from the fresh read.
func (c *Coordinator) Retry(ctx context.Context, id uint64, action gig.Action, signer ledger.Signer) (out Outcome, err error) {
	ctx, span := c.startSpan(ctx, "coordinator.retry",
		attribute.Int64("gig.id", int64(id)), attribute.String("gig.action", action.String()))
	defer func() { endSpan(span, err) }()

	target, ok := action.Target()
	if !ok {
		return Outcome{}, gig.Authorize(gig.Gig{}, gig.Address{}, action).Err()
	}
	if signer == nil {
		return Outcome{}, errNoSigner
	}
	current, err := c.client.FetchGig(ctx, ledger.Latest, id)
	if err != nil {
		return Outcome{}, fmt.Errorf("coordinator: read gig %d: %w", id, err)
	}
	if decision := gig.AuthorizeRole(current, signer.Address(), action); !decision.Allowed {
		c.metrics.RecordDenial(action.String(), string(decision.Reason))
		c.logger.Info("retry denied",
			slog.Uint64("gig", id),
			slog.String("action", action.String()),
			slog.String("reason", string(decision.Reason)),
			logging.Address("caller", signer.Address()))
		return Outcome{}, decision.Err()
	}
	if current.Status() >= target {
		c.metrics.RecordRetry(action.String(), "already_applied")
		c.logger.Info("retry skipped; transition already applied",
			slog.Uint64("gig", id),
			slog.String("action", action.String()),
			slog.String("status", current.Status().String()))
		return Outcome{Gig: current, Status: current.Status(), AlreadyApplied: true}, nil
	}
	c.metrics.RecordRetry(action.String(), "resubmitted")
	return c.Transition(ctx, id, action, signer)
}

func (c *Coordinator) emit(evt events.Lifecycle) {
	evt.At = c.nowFn()
	c.emitter.Emit(evt)
}

func actionLabel(r ledger.Receipt) string {
	if r.Creation {
		return "create"
	}
	return r.Action.String()
}

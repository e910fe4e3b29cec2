// Package runtime wires the per-request pipeline: consult the oracle,
// validate the plan, check the snippet, execute it against the tenant's
// collection, and normalize whatever happens into an HTTP-shaped outcome.
package runtime

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jkaninda/lars/internal/harness"
	"github.com/jkaninda/lars/internal/observability"
	"github.com/jkaninda/lars/internal/oracle"
	"github.com/jkaninda/lars/internal/plan"
	"github.com/jkaninda/lars/internal/safety"
	"github.com/jkaninda/lars/internal/store"
)

// Outcome is the normalized result handed to the transport layer. Body is
// a JSON-compatible value when IsJSON is set, raw bytes or nil otherwise.
type Outcome struct {
	Status  int
	Headers map[string]string
	Body    any
	IsJSON  bool
}

// Pipeline runs one request end to end. All collaborators are fixed at
// construction; per-request state lives on the stack.
type Pipeline struct {
	provider oracle.Provider
	store    *store.Store
	harness  *harness.Harness
	metrics  *observability.MetricsCollector
	logger   *slog.Logger
}

func New(provider oracle.Provider, st *store.Store, h *harness.Harness, metrics *observability.MetricsCollector, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		provider: provider,
		store:    st,
		harness:  h,
		metrics:  metrics,
		logger:   logger,
	}
}

// Handle services one dynamic request. It never returns an error: every
// failure mode is mapped to an Outcome with a machine-readable reason code,
// and the request id travels through the logs, not the body.
func (p *Pipeline) Handle(ctx context.Context, sessionID, requestID string, reqctx map[string]any) *Outcome {
	log := p.logger.With(
		slog.String("request_id", requestID),
		slog.String("session_id", sessionID),
	)

	tenant, err := p.store.Tenant(sessionID)
	if err != nil {
		log.ErrorContext(ctx, "tenant resolution failed", slog.String("error", err.Error()))
		return failure(400, "invalid_session")
	}

	schemas, err := tenant.Schemas()
	if err != nil {
		log.WarnContext(ctx, "schema snapshot read failed", slog.String("error", err.Error()))
		schemas = nil
	}

	raw, err := p.consult(ctx, reqctx, schemas)
	if err != nil {
		log.ErrorContext(ctx, "oracle consultation failed", slog.String("error", err.Error()))
		return failure(502, "oracle_unavailable")
	}

	pl, err := plan.Parse(raw)
	if err != nil {
		p.countPlan("rejected")
		log.WarnContext(ctx, "plan rejected", slog.String("error", err.Error()))
		return failure(422, "malformed_plan")
	}
	p.countPlan("accepted")

	if err := safety.Check(pl.Code); err != nil {
		p.countSafety("rejected")
		var unsafe *safety.UnsafeCodeError
		if errors.As(err, &unsafe) {
			log.WarnContext(ctx, "unsafe code rejected",
				slog.String("construct", unsafe.Construct),
				slog.Int("line", int(unsafe.Line)),
			)
		} else {
			log.WarnContext(ctx, "unsafe code rejected", slog.String("error", err.Error()))
		}
		return failure(422, "unsafe_code")
	}
	p.countSafety("accepted")

	col, err := tenant.Collection(pl.Resource)
	if err != nil {
		log.WarnContext(ctx, "invalid resource name",
			slog.String("resource", pl.Resource),
			slog.String("error", err.Error()),
		)
		return failure(422, "malformed_plan")
	}

	return p.execute(ctx, log, pl, col, reqctx)
}

// consult builds the prompt and asks the provider, recording timing.
func (p *Pipeline) consult(ctx context.Context, reqctx map[string]any, schemas map[string]*store.Snapshot) (string, error) {
	prompt, err := oracle.BuildPrompt(reqctx, schemas)
	if err != nil {
		return "", err
	}
	start := time.Now()
	raw, err := p.provider.Complete(ctx, prompt)
	if p.metrics != nil {
		status := "ok"
		if err != nil {
			status = "error"
		}
		p.metrics.OracleRequestsTotal.WithLabelValues(p.provider.Name(), status).Inc()
		p.metrics.OracleRequestDuration.WithLabelValues(p.provider.Name()).Observe(time.Since(start).Seconds())
	}
	return raw, err
}

func (p *Pipeline) execute(ctx context.Context, log *slog.Logger, pl *plan.Plan, col *store.Collection, reqctx map[string]any) *Outcome {
	start := time.Now()
	res, err := p.harness.Run(ctx, pl, col, reqctx)
	action := string(pl.Action)
	if p.metrics != nil {
		status := "ok"
		if err != nil {
			status = "error"
		}
		p.metrics.ExecutionsTotal.WithLabelValues(action, status).Inc()
		p.metrics.ExecutionDuration.WithLabelValues(action).Observe(time.Since(start).Seconds())
	}

	if res != nil && res.Output != "" {
		log.DebugContext(ctx, "snippet output",
			slog.String("output", res.Output),
			slog.Bool("truncated", res.OutputTruncated),
		)
	}

	if err != nil {
		return p.classify(ctx, log, err)
	}

	reply := res.Reply
	log.InfoContext(ctx, "request served",
		slog.String("action", action),
		slog.String("resource", pl.Resource),
		slog.Int("status", reply.Status),
		slog.Duration("exec_duration", time.Since(start)),
	)
	return &Outcome{
		Status:  reply.Status,
		Headers: reply.Headers,
		Body:    reply.Body,
		IsJSON:  reply.IsJSON,
	}
}

// classify maps an execution failure to its outward status and reason.
// Client-attributable store validation failures become 400; everything the
// tenant cannot fix stays 5xx.
func (p *Pipeline) classify(ctx context.Context, log *slog.Logger, err error) *Outcome {
	var (
		timeout    *harness.TimeoutError
		tooLarge   *harness.ResultTooLargeError
		missing    *harness.MissingReplyError
		execFail   *harness.ExecError
		validation *store.ValidationError
		ioErr      *store.IOError
	)
	switch {
	case errors.As(err, &timeout):
		log.ErrorContext(ctx, "execution timed out", slog.Duration("timeout", timeout.Timeout))
		return failure(504, "execution_timeout")
	case errors.As(err, &tooLarge):
		log.ErrorContext(ctx, "reply body over size cap",
			slog.Int("size", tooLarge.Size),
			slog.Int("limit", tooLarge.Limit),
		)
		return failure(500, "result_too_large")
	case errors.As(err, &validation):
		log.WarnContext(ctx, "store validation failed", slog.String("reason", validation.Reason))
		return failure(400, "validation")
	case errors.As(err, &ioErr):
		log.ErrorContext(ctx, "storage failure",
			slog.String("op", ioErr.Op),
			slog.String("error", ioErr.Error()),
		)
		return failure(500, "storage_io")
	case errors.As(err, &missing):
		log.ErrorContext(ctx, "snippet produced no usable reply", slog.String("reason", missing.Reason))
		return failure(500, "missing_reply")
	case errors.As(err, &execFail):
		log.ErrorContext(ctx, "snippet execution failed", slog.String("error", execFail.Msg))
		return failure(500, "execution_failed")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return failure(499, "client_closed_request")
	default:
		log.ErrorContext(ctx, "unclassified execution failure", slog.String("error", err.Error()))
		return failure(500, "internal")
	}
}

func (p *Pipeline) countPlan(result string) {
	if p.metrics != nil {
		p.metrics.PlanValidationsTotal.WithLabelValues(result).Inc()
	}
}

func (p *Pipeline) countSafety(result string) {
	if p.metrics != nil {
		p.metrics.SafetyChecksTotal.WithLabelValues(result).Inc()
	}
}

func failure(status int, reason string) *Outcome {
	return &Outcome{
		Status: status,
		Body:   map[string]any{"error": reasonText(reason), "reason": reason},
		IsJSON: true,
	}
}

func reasonText(reason string) string {
	switch reason {
	case "invalid_session":
		return "session identifier is not usable"
	case "oracle_unavailable":
		return "planning backend unavailable"
	case "malformed_plan":
		return "planner produced an unusable plan"
	case "unsafe_code":
		return "planner produced code outside the allowed subset"
	case "execution_timeout":
		return "request execution timed out"
	case "result_too_large":
		return "response body exceeds the configured limit"
	case "validation":
		return "request payload failed validation"
	case "storage_io":
		return "storage failure"
	case "missing_reply":
		return "execution produced no response"
	case "execution_failed":
		return "request execution failed"
	case "client_closed_request":
		return "client closed the request"
	default:
		return "internal error"
	}
}

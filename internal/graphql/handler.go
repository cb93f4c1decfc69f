package graphql

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/vektah/gqlparser/v2"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/gqlerror"
	"github.com/vektah/gqlparser/v2/validator"

	"github.com/Adithya-Monish-Kumar-K/genomics-graphql-api/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/genomics-graphql-api/internal/ratelimit"
	apperrors "github.com/Adithya-Monish-Kumar-K/genomics-graphql-api/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/genomics-graphql-api/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/genomics-graphql-api/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/genomics-graphql-api/pkg/middleware"
	"github.com/Adithya-Monish-Kumar-K/genomics-graphql-api/pkg/tracing"
)

const maxBodyBytes = 1 << 20

// Request is a GraphQL request as sent over HTTP.
type Request struct {
	Query         string         `json:"query"`
	OperationName string         `json:"operationName,omitempty"`
	Variables     map[string]any `json:"variables,omitempty"`
}

// Response is the GraphQL response envelope. Data is omitted for requests
// rejected before execution and is null when execution nulled the root.
type Response struct {
	Data   any           `json:"data,omitempty"`
	Errors gqlerror.List `json:"errors,omitempty"`
}

// CostLimiter charges a client's query-cost window.
type CostLimiter interface {
	AllowCost(ctx context.Context, client string, cost int) ratelimit.Decision
}

// QueryRecorder receives one event per handled request.
type QueryRecorder interface {
	RecordQuery(ev analytics.QueryEvent)
}

type Handler struct {
	schema        *ast.Schema
	executor      *Executor
	maxCost       int
	costLimiter   CostLimiter
	recorder      QueryRecorder
	metrics       *metrics.Metrics
	slowThreshold time.Duration
	clientID      func(*http.Request) string
	now           func() time.Time
	logger        *slog.Logger
}

type HandlerOption func(*Handler)

func WithCostLimiter(l CostLimiter) HandlerOption {
	return func(h *Handler) { h.costLimiter = l }
}

func WithRecorder(r QueryRecorder) HandlerOption {
	return func(h *Handler) { h.recorder = r }
}

func WithMetrics(m *metrics.Metrics) HandlerOption {
	return func(h *Handler) { h.metrics = m }
}

// WithSlowQueryThreshold logs the span tree of requests slower than d.
func WithSlowQueryThreshold(d time.Duration) HandlerOption {
	return func(h *Handler) { h.slowThreshold = d }
}

// WithClientID overrides how the rate-limit client key is derived.
func WithClientID(fn func(*http.Request) string) HandlerOption {
	return func(h *Handler) { h.clientID = fn }
}

// NewHandler serves GraphQL over HTTP. maxCost is the per-query cost ceiling.
func NewHandler(schema *ast.Schema, resolvers Resolvers, maxCost int, opts ...HandlerOption) *Handler {
	h := &Handler{
		schema:   schema,
		executor: NewExecutor(schema, resolvers),
		maxCost:  maxCost,
		clientID: middleware.GetClientIP,
		now:      time.Now,
		logger:   slog.Default().With("component", "graphql-handler"),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.metrics == nil {
		h.metrics = metrics.NewUnregistered()
	}
	return h
}

// outcome collects what a request did for metrics and analytics.
type outcome struct {
	result        string
	status        int
	operationName string
	rootFields    []string
	cost          int
	errs          gqlerror.List
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := h.now()
	out := h.serve(w, r)

	h.metrics.GraphQLRequestsTotal.WithLabelValues(out.result).Inc()
	h.recordQuery(r.Context(), out, h.now().Sub(start))
}

func (h *Handler) serve(w http.ResponseWriter, r *http.Request) outcome {
	req, err := decodeRequest(r)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, errMethodNotAllowed) {
			w.Header().Set("Allow", "GET, POST")
			status = http.StatusMethodNotAllowed
		}
		return h.reject(w, status, "invalid", gqlerror.List{requestError(CodeBadRequest, err.Error())})
	}

	doc, errs := gqlparser.LoadQuery(h.schema, req.Query)
	if len(errs) > 0 {
		return h.reject(w, http.StatusBadRequest, "invalid", withCode(errs, CodeValidationFailed))
	}

	op := doc.Operations.ForName(req.OperationName)
	if op == nil {
		msg := "operation not found"
		if req.OperationName == "" {
			msg = "operationName is required when the document has several operations"
		}
		return h.reject(w, http.StatusBadRequest, "invalid", gqlerror.List{requestError(CodeBadRequest, msg)})
	}
	if op.Operation != ast.Query {
		return h.reject(w, http.StatusBadRequest, "invalid",
			gqlerror.List{requestError(CodeBadRequest, fmt.Sprintf("%s operations are not supported", op.Operation))})
	}

	vars, err := validator.VariableValues(h.schema, op, req.Variables)
	if err != nil {
		return h.reject(w, http.StatusBadRequest, "invalid", withCode(gqlerror.List{variableError(err)}, CodeValidationFailed))
	}

	out := outcome{operationName: op.Name, rootFields: rootFields(op)}
	out.cost = QueryCost(doc, op)
	if out.cost > h.maxCost {
		err := apperrors.Newf(apperrors.ErrQueryTooExpensive, http.StatusBadRequest,
			"Query cost %d exceeds the maximum of %d", out.cost, h.maxCost)
		return h.rejectWith(w, out, http.StatusBadRequest, "too_expensive", gqlerror.List{ToGQLError(err, nil, nil)})
	}
	h.metrics.GraphQLQueryCost.Observe(float64(out.cost))

	if h.costLimiter != nil {
		d := h.costLimiter.AllowCost(r.Context(), h.clientID(r), out.cost)
		if !d.Allowed {
			w.Header().Set("Retry-After", strconv.Itoa(d.RetryAfter(h.now())))
			return h.rejectWith(w, out, http.StatusTooManyRequests, "rate_limited", gqlerror.List{ToGQLError(d.Err(), nil, nil)})
		}
	}

	name := op.Name
	if name == "" {
		name = "anonymous"
	}
	ctx, span := tracing.StartSpan(r.Context(), "query "+name, logger.RequestID(r.Context()))
	span.SetAttr("cost", out.cost)
	data, errs := h.executor.Execute(ctx, doc, op, vars)
	span.End()
	if h.slowThreshold > 0 {
		span.LogIfSlow(logger.FromContext(r.Context()), h.slowThreshold)
	}

	out.status = http.StatusOK
	out.errs = errs
	out.result = "ok"
	if len(errs) > 0 {
		out.result = "partial"
		h.logFieldErrors(r.Context(), errs)
	}
	h.write(w, out.status, Response{Data: data, Errors: errs})
	return out
}

func (h *Handler) reject(w http.ResponseWriter, status int, result string, errs gqlerror.List) outcome {
	return h.rejectWith(w, outcome{}, status, result, errs)
}

func (h *Handler) rejectWith(w http.ResponseWriter, out outcome, status int, result string, errs gqlerror.List) outcome {
	out.status = status
	out.result = result
	out.errs = errs
	h.write(w, status, Response{Errors: errs})
	return out
}

func (h *Handler) write(w http.ResponseWriter, status int, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.logger.Error("failed to write graphql response", "error", err)
	}
}

// logFieldErrors logs the underlying cause of errors whose public message
// hides it.
func (h *Handler) logFieldErrors(ctx context.Context, errs gqlerror.List) {
	l := logger.FromContext(ctx)
	for _, e := range errs {
		if e.Err == nil {
			continue
		}
		code, _ := e.Extensions["code"].(string)
		if code == "NOT_FOUND" || code == "BAD_USER_INPUT" {
			continue
		}
		l.Warn("graphql field error", "path", e.Path.String(), "code", code, "error", e.Err)
	}
}

func (h *Handler) recordQuery(ctx context.Context, out outcome, latency time.Duration) {
	if h.recorder == nil {
		return
	}
	var codes []string
	for _, e := range out.errs {
		if code, ok := e.Extensions["code"].(string); ok {
			codes = append(codes, code)
		}
	}
	h.recorder.RecordQuery(analytics.QueryEvent{
		OperationName: out.operationName,
		RootFields:    out.rootFields,
		Cost:          out.cost,
		LatencyMs:     latency.Milliseconds(),
		Status:        out.status,
		ErrorCodes:    codes,
		RequestID:     logger.RequestID(ctx),
	})
}

var errMethodNotAllowed = errors.New("method not allowed")

func decodeRequest(r *http.Request) (Request, error) {
	var req Request
	switch r.Method {
	case http.MethodGet:
		q := r.URL.Query()
		req.Query = q.Get("query")
		req.OperationName = q.Get("operationName")
		if v := q.Get("variables"); v != "" {
			if err := decodeJSON(strings.NewReader(v), &req.Variables); err != nil {
				return req, fmt.Errorf("variables must be a JSON object: %w", err)
			}
		}
	case http.MethodPost:
		if err := decodeJSON(io.LimitReader(r.Body, maxBodyBytes), &req); err != nil {
			return req, fmt.Errorf("request body must be a JSON GraphQL request: %w", err)
		}
	default:
		return req, errMethodNotAllowed
	}
	if strings.TrimSpace(req.Query) == "" {
		return req, errors.New("query is required")
	}
	return req, nil
}

// decodeJSON keeps numbers as json.Number so Int variables survive exactly.
func decodeJSON(r io.Reader, v any) error {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	return dec.Decode(v)
}

func variableError(err error) *gqlerror.Error {
	var gerr *gqlerror.Error
	if errors.As(err, &gerr) {
		return gerr
	}
	return &gqlerror.Error{Message: err.Error()}
}

// rootFields lists the top-level field names an operation selects, inline
// fragments included.
func rootFields(op *ast.OperationDefinition) []string {
	var names []string
	seen := make(map[string]bool)
	var walk func(ast.SelectionSet)
	walk = func(set ast.SelectionSet) {
		for _, sel := range set {
			switch s := sel.(type) {
			case *ast.Field:
				if !seen[s.Name] && s.Name != "__typename" {
					seen[s.Name] = true
					names = append(names, s.Name)
				}
			case *ast.InlineFragment:
				walk(s.SelectionSet)
			case *ast.FragmentSpread:
				if s.Definition != nil {
					walk(s.Definition.SelectionSet)
				}
			}
		}
	}
	walk(op.SelectionSet)
	return names
}

package inbound

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/tidwall/gjson"

	"github.com/goliatone/go-oracle/core"
	"github.com/goliatone/go-oracle/signing"
	"github.com/goliatone/go-oracle/webhooks"
)

const (
	PathOracleWebhook = "/oracle-webhook"
	PathCVATWebhook   = "/cvat-webhook"
	PathAssignment    = "/assignment"
	PathHealth        = "/health"
	PathMetrics       = "/metrics"

	DefaultSignatureHeader = "human-signature"
	CVATSignatureHeader    = "X-Signature-256"
	DefaultMaxBodyBytes    = 1 << 20
)

type Service interface {
	RegisterWebhook(ctx context.Context, req webhooks.InboundRequest) (core.Webhook, bool, error)
	CreateAssignment(ctx context.Context, wallet string, projectID string) (core.Assignment, bool, error)
	CompleteAssignment(ctx context.Context, externalJobID int64, wallet string) (bool, error)
	ListAssignments(ctx context.Context, filter core.AssignmentFilter) ([]core.Assignment, int, error)
}

type Router struct {
	service         Service
	chain           core.ChainConfig
	signatureHeader string
	cvatSecret      string
	metrics         http.Handler
	observer        *core.Observer
	maxBodyBytes    int64
}

type Option func(*Router)

// WithChainConfig restricts accepted messages to the configured chains.
func WithChainConfig(cfg core.ChainConfig) Option {
	return func(r *Router) { r.chain = cfg }
}

func WithSignatureHeader(header string) Option {
	return func(r *Router) {
		if strings.TrimSpace(header) != "" {
			r.signatureHeader = strings.TrimSpace(header)
		}
	}
}

// WithCVATSecret enables HMAC verification of CVAT webhooks.
func WithCVATSecret(secret string) Option {
	return func(r *Router) { r.cvatSecret = secret }
}

func WithMetricsHandler(handler http.Handler) Option {
	return func(r *Router) { r.metrics = handler }
}

func WithObserver(observer *core.Observer) Option {
	return func(r *Router) { r.observer = observer }
}

func WithMaxBodyBytes(limit int64) Option {
	return func(r *Router) {
		if limit > 0 {
			r.maxBodyBytes = limit
		}
	}
}

func NewRouter(service Service, opts ...Option) *Router {
	r := &Router{
		service:         service,
		signatureHeader: DefaultSignatureHeader,
		maxBodyBytes:    DefaultMaxBodyBytes,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Handler mounts every route on a fresh chi mux.
func (r *Router) Handler() http.Handler {
	mux := chi.NewRouter()
	mux.Use(middleware.RequestID)
	mux.Use(middleware.Recoverer)

	mux.Get(PathHealth, r.health)
	if r.metrics != nil {
		mux.Method(http.MethodGet, PathMetrics, r.metrics)
	}
	mux.Post(PathOracleWebhook, r.oracleWebhook)
	mux.Post(PathCVATWebhook, r.cvatWebhook)
	mux.Post(PathAssignment, r.createAssignment)
	mux.Get(PathAssignment, r.listAssignments)
	return mux
}

func (r *Router) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (r *Router) oracleWebhook(w http.ResponseWriter, req *http.Request) {
	startedAt := time.Now()
	ctx := req.Context()
	fields := map[string]any{"direction": core.DirectionInbound}

	webhook, created, err := r.registerWebhook(w, req, fields)
	if err != nil {
		fields["status_code"] = writeError(w, err)
		r.observer.ObserveOperation(ctx, startedAt, "inbound.oracle_webhook", err, fields)
		return
	}
	fields["webhook_id"] = webhook.ID
	fields["created"] = created
	r.observer.ObserveOperation(ctx, startedAt, "inbound.oracle_webhook", nil, fields)
	writeJSON(w, http.StatusOK, map[string]string{"id": webhook.ID})
}

func (r *Router) registerWebhook(w http.ResponseWriter, req *http.Request, fields map[string]any) (core.Webhook, bool, error) {
	if r.service == nil {
		return core.Webhook{}, false, core.NewInternalError("inbound: service is not configured", nil)
	}
	body, err := r.readBody(w, req)
	if err != nil {
		return core.Webhook{}, false, err
	}
	var msg core.OracleMessage
	if err := decodeStrict(body, &msg); err != nil {
		return core.Webhook{}, false, err
	}
	fields["event_type"] = msg.EventType
	fields["escrow_address"] = msg.EscrowAddress
	fields["chain_id"] = msg.ChainID
	if !signing.IsChecksumAddress(msg.EscrowAddress) {
		return core.Webhook{}, false, badRequest("escrow_address", "must be a checksummed 0x address")
	}
	if !r.chain.ChainAllowed(msg.ChainID) {
		return core.Webhook{}, false, badRequest("chain_id", fmt.Sprintf("chain %d is not supported", msg.ChainID))
	}
	return r.service.RegisterWebhook(req.Context(), webhooks.InboundRequest{
		RawBody:   body,
		Signature: req.Header.Get(r.signatureHeader),
		Message:   msg,
	})
}

// cvatWebhook completes assignments on "update:job" events that move a job
// to the completed state. Every other event is acknowledged and ignored.
func (r *Router) cvatWebhook(w http.ResponseWriter, req *http.Request) {
	startedAt := time.Now()
	ctx := req.Context()
	body, err := r.readBody(w, req)
	if err == nil {
		err = r.verifyCVAT(req, body)
	}
	if err != nil {
		writeError(w, err)
		r.observer.ObserveOperation(ctx, startedAt, "inbound.cvat_webhook", err, nil)
		return
	}
	if !gjson.ValidBytes(body) {
		err = badRequest("body", "must be valid JSON")
		writeError(w, err)
		r.observer.ObserveOperation(ctx, startedAt, "inbound.cvat_webhook", err, nil)
		return
	}

	event := gjson.GetBytes(body, "event").String()
	fields := map[string]any{"event_type": event}
	if event != "update:job" ||
		!gjson.GetBytes(body, "before_update.state").Exists() ||
		gjson.GetBytes(body, "job.state").String() != "completed" {
		fields["ignored"] = true
		r.observer.ObserveOperation(ctx, startedAt, "inbound.cvat_webhook", nil, fields)
		w.WriteHeader(http.StatusOK)
		return
	}

	jobID := gjson.GetBytes(body, "job.id").Int()
	wallet := gjson.GetBytes(body, "job.assignee.username").String()
	fields["external_job_id"] = jobID
	completed, err := r.service.CompleteAssignment(ctx, jobID, wallet)
	fields["completed"] = completed
	r.observer.ObserveOperation(ctx, startedAt, "inbound.cvat_webhook", err, fields)
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (r *Router) verifyCVAT(req *http.Request, body []byte) error {
	if r.cvatSecret == "" {
		return nil
	}
	signature := strings.TrimPrefix(req.Header.Get(CVATSignatureHeader), "sha256=")
	mac := hmac.New(sha256.New, []byte(r.cvatSecret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(signature), []byte(expected)) {
		return core.NewAuthenticationError("")
	}
	return nil
}

type assignmentRequest struct {
	WalletAddress string `json:"wallet_address"`
	ProjectID     string `json:"project_id,omitempty"`
}

type assignmentResponse struct {
	ID                  string     `json:"id"`
	JobID               string     `json:"job_id"`
	WorkerWalletAddress string     `json:"wallet_address"`
	Status              string     `json:"status"`
	CreatedAt           time.Time  `json:"created_at"`
	ExpiresAt           time.Time  `json:"expires_at"`
	CompletedAt         *time.Time `json:"completed_at,omitempty"`
}

func (r *Router) createAssignment(w http.ResponseWriter, req *http.Request) {
	body, err := r.readBody(w, req)
	if err != nil {
		writeError(w, err)
		return
	}
	var in assignmentRequest
	if err := decodeStrict(body, &in); err != nil {
		writeError(w, err)
		return
	}
	if strings.TrimSpace(in.WalletAddress) == "" {
		writeError(w, badRequest("wallet_address", "is required"))
		return
	}
	assignment, found, err := r.service.CreateAssignment(req.Context(), in.WalletAddress, in.ProjectID)
	if err != nil {
		writeError(w, err)
		return
	}
	if !found {
		writeError(w, core.NewNotFoundError("no job is available for assignment"))
		return
	}
	writeJSON(w, http.StatusOK, toAssignmentResponse(assignment))
}

func (r *Router) listAssignments(w http.ResponseWriter, req *http.Request) {
	wallet := strings.TrimSpace(req.URL.Query().Get("wallet_address"))
	if wallet == "" {
		writeError(w, badRequest("wallet_address", "is required"))
		return
	}
	items, total, err := r.service.ListAssignments(req.Context(), core.AssignmentFilter{
		WorkerWalletAddress: wallet,
		ProjectID:           req.URL.Query().Get("project_id"),
		Status:              core.AssignmentStatus(req.URL.Query().Get("status")),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]assignmentResponse, 0, len(items))
	for _, item := range items {
		out = append(out, toAssignmentResponse(item))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": out, "total": total})
}

func toAssignmentResponse(a core.Assignment) assignmentResponse {
	return assignmentResponse{
		ID:                  a.ID,
		JobID:               a.JobID,
		WorkerWalletAddress: a.WorkerWalletAddress,
		Status:              string(a.Status),
		CreatedAt:           a.CreatedAt,
		ExpiresAt:           a.ExpiresAt,
		CompletedAt:         a.CompletedAt,
	}
}

func (r *Router) readBody(w http.ResponseWriter, req *http.Request) ([]byte, error) {
	defer func() { _ = req.Body.Close() }()
	body, err := io.ReadAll(http.MaxBytesReader(w, req.Body, r.maxBodyBytes))
	if err != nil {
		return nil, badRequest("body", err.Error())
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, badRequest("body", "is required")
	}
	return body, nil
}

func decodeStrict(body []byte, dst any) error {
	decoder := json.NewDecoder(bytes.NewReader(body))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return badRequest("body", err.Error())
	}
	if decoder.More() {
		return badRequest("body", "must contain a single JSON object")
	}
	return nil
}

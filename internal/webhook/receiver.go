// Package webhook receives inbound repository events, verifies their HMAC
// signatures, records every delivery durably, and routes the ones that
// trigger work: pushes enqueue from-remote syncs for auto-sync modules, and
// published releases update the module's recorded version.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"
	"go.uber.org/zap"

	"github.com/modsync/modsync/internal/store"
	"github.com/modsync/modsync/internal/telemetry"
)

// Event types the receiver understands. Anything else is recorded and
// ignored.
const (
	EventPush             = "push"
	EventReleasePublished = "release.published"
)

// ErrWebhookInactive is returned for deliveries to a module whose webhook
// has been disabled.
var ErrWebhookInactive = errors.New("webhook inactive")

// ErrMalformedPayload is returned for a body that is not valid JSON. Such
// deliveries are never recorded.
var ErrMalformedPayload = errors.New("malformed payload")

// Enqueuer is the slice of the job queue the receiver needs.
type Enqueuer interface {
	Enqueue(ctx context.Context, moduleID string, direction store.Direction, priority int) (string, error)
}

// Delivery is one parsed inbound request.
type Delivery struct {
	Module    string // module name from the URL
	EventType string // X-Event-Type header
	Signature string // X-Signature header
	Payload   []byte
}

// Disposition reports what the receiver did with a delivery.
type Disposition struct {
	EventID int64
	Action  string // "enqueued", "version_updated", "ignored"
	JobID   string
	Version string
	Ignored string // reason, when Action == "ignored"
}

// pushPayload is the subset of a push event body the receiver reads.
type pushPayload struct {
	Ref   string `json:"ref"`
	After string `json:"after"`
}

// releasePayload is the subset of a release event body the receiver reads.
type releasePayload struct {
	Release struct {
		TagName string `json:"tag_name"`
	} `json:"release"`
}

// Receiver verifies and routes inbound webhook deliveries.
type Receiver struct {
	store   *store.Store
	queue   Enqueuer
	emitter *telemetry.Emitter
	log     *zap.Logger
}

// NewReceiver wires a Receiver. The emitter may be nil.
func NewReceiver(st *store.Store, queue Enqueuer, emitter *telemetry.Emitter, log *zap.Logger) *Receiver {
	return &Receiver{store: st, queue: queue, emitter: emitter, log: log}
}

// Handle processes one delivery. The event row is written before any routing
// so the delivery survives downstream failures; routing errors are stamped
// onto the row rather than surfaced as a transport error. Verification and
// payload-syntax failures are surfaced (and never recorded as events) so the
// server can answer 401/400 without persisting junk deliveries.
func (r *Receiver) Handle(ctx context.Context, d Delivery) (*Disposition, error) {
	mod, err := r.store.ModuleByName(ctx, d.Module)
	if err != nil {
		return nil, err
	}
	hook, err := r.store.WebhookForModule(ctx, mod.ID)
	if err != nil {
		return nil, err
	}
	if !hook.Active {
		return nil, fmt.Errorf("%w: module %q", ErrWebhookInactive, d.Module)
	}

	if err := Verify(hook.Secret, d.Signature, d.Payload); err != nil {
		r.log.Warn("webhook signature rejected", zap.String("module", d.Module), zap.String("event", d.EventType))
		_ = r.emitter.Emit(telemetry.Event{Kind: telemetry.KindWebhookRejected, ModuleID: mod.ID,
			Data: map[string]string{"event": d.EventType}})
		return nil, err
	}

	// Syntax is checked up front; only semantic processing failures (a bad
	// release tag, a failed enqueue) are stored on the event row.
	if !json.Valid(d.Payload) {
		return nil, fmt.Errorf("%w: body is not valid JSON", ErrMalformedPayload)
	}

	eventID, err := r.store.RecordWebhookEvent(ctx, hook.ID, d.EventType, d.Payload)
	if err != nil {
		return nil, err
	}
	_ = r.emitter.Emit(telemetry.Event{Kind: telemetry.KindWebhookReceived, ModuleID: mod.ID,
		Data: map[string]any{"event": d.EventType, "delivery": eventID}})

	disp := &Disposition{EventID: eventID}
	routeErr := r.route(ctx, mod, hook, d, disp)

	errMsg := ""
	if routeErr != nil {
		errMsg = routeErr.Error()
		disp.Action = "ignored"
		disp.Ignored = errMsg
		r.log.Warn("webhook routing failed",
			zap.String("module", d.Module), zap.String("event", d.EventType), zap.Error(routeErr))
	}
	if err := r.store.MarkEventProcessed(ctx, eventID, errMsg); err != nil {
		return nil, err
	}
	return disp, nil
}

// route dispatches one verified, recorded delivery.
func (r *Receiver) route(ctx context.Context, mod *store.Module, hook *store.Webhook, d Delivery, disp *Disposition) error {
	if !hook.Subscribed(d.EventType) {
		disp.Action = "ignored"
		disp.Ignored = "event type not subscribed"
		return nil
	}

	switch d.EventType {
	case EventPush:
		return r.routePush(ctx, mod, d, disp)
	case EventReleasePublished:
		return r.routeRelease(ctx, mod, d, disp)
	default:
		disp.Action = "ignored"
		disp.Ignored = "unhandled event type"
		return nil
	}
}

// routePush enqueues a from-remote sync when the push lands on the module's
// tracked branch and the module has auto-sync enabled.
func (r *Receiver) routePush(ctx context.Context, mod *store.Module, d Delivery, disp *Disposition) error {
	var p pushPayload
	if err := json.Unmarshal(d.Payload, &p); err != nil {
		return fmt.Errorf("webhook: decode push payload: %w", err)
	}
	if p.Ref != "" && p.Ref != "refs/heads/"+mod.Branch {
		disp.Action = "ignored"
		disp.Ignored = fmt.Sprintf("push to %s, tracking %s", p.Ref, mod.Branch)
		return nil
	}
	if !mod.AutoSync {
		disp.Action = "ignored"
		disp.Ignored = "auto-sync disabled"
		return nil
	}

	jobID, err := r.queue.Enqueue(ctx, mod.ID, store.FromRemote, 0)
	if err != nil {
		return fmt.Errorf("webhook: enqueue sync for %q: %w", mod.Name, err)
	}
	disp.Action = "enqueued"
	disp.JobID = jobID
	return nil
}

// routeRelease records the remote release's version on the module. The tag
// must carry a strict semantic version once the "v" prefix and any
// "<module>/" namespace are stripped.
func (r *Receiver) routeRelease(ctx context.Context, mod *store.Module, d Delivery, disp *Disposition) error {
	var p releasePayload
	if err := json.Unmarshal(d.Payload, &p); err != nil {
		return fmt.Errorf("webhook: decode release payload: %w", err)
	}
	raw := strings.TrimPrefix(p.Release.TagName, mod.Name+"/")
	raw = strings.TrimPrefix(raw, "v")
	v, err := semver.StrictNewVersion(raw)
	if err != nil {
		return fmt.Errorf("webhook: release tag %q is not a semantic version: %w", p.Release.TagName, err)
	}

	if err := r.store.SetModuleVersion(ctx, mod.ID, v.String()); err != nil {
		return err
	}
	disp.Action = "version_updated"
	disp.Version = v.String()
	r.log.Info("module version updated from release webhook",
		zap.String("module", mod.Name), zap.String("version", v.String()))
	return nil
}

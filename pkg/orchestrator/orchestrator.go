// Package orchestrator implements the Intent Router / Orchestrator (C7):
// the single entry point an inbound channel message passes through
// before it reaches a Flow Run (spec §4.7). It owns dedup, session
// lookup, system commands, cross-channel auth preheat, active-run
// resume, NLU-based intent classification, trigger matching, keyword
// fallback, and LLM-based clarification.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/flowtalk/engine/pkg/auth"
	"github.com/flowtalk/engine/pkg/engine"
	"github.com/flowtalk/engine/pkg/executor"
	"github.com/flowtalk/engine/pkg/flowdef"
	"github.com/flowtalk/engine/pkg/flowrun"
	"github.com/flowtalk/engine/pkg/session"
)

// defaultDedupWindow is the duplicate-send tolerance window (spec §4.7
// step 1: "Cache entries expire 5 s after insertion").
const defaultDedupWindow = 5 * time.Second

// defaultLockWait bounds how long a second inbound message for the same
// session waits for the first to finish before being rejected (spec §5:
// "single in-flight turn per session").
const defaultLockWait = 10 * time.Second

// defaultTauStart is the minimum NLU confidence to start a matched flow
// without falling back to keywords (spec §4.7 step 7: "τ_start (default
// 0.6)").
const defaultTauStart = 0.6

// defaultKeywords maps well-known fallback keywords to the flow trigger
// intent they stand in for when NLU confidence is too low (spec §4.7
// step 8).
var defaultKeywords = map[string]string{
	"parcel": "send_parcel",
	"food":   "order_food",
	"shop":   "shop_order",
	"track":  "track_order",
}

// resetPattern recognizes the reset/clear system command (spec §4.7 step
// 3). Flow authors never see this text; it is intercepted before intent
// classification.
var resetPattern = regexp.MustCompile(`(?i)^\s*(reset|cancel|start over|clear)\s*$`)

// Inbound is one normalized message from any channel gateway (spec §4.7
// "(sessionId, identifier, text, channel, meta)").
type Inbound struct {
	SessionID  string
	Identifier string
	Text       string
	Channel    string
	Meta       map[string]any
}

// Reply is the orchestrator's single outbound payload per inbound
// message (spec §4.7: "the orchestrator never emits more than one reply
// per inbound message").
type Reply struct {
	Message string
	Cards   []executor.Card
	Buttons []executor.Button
}

// Router implements the per-message routing algorithm.
type Router struct {
	Sessions session.Store
	Auth     *auth.Service
	Runtime  *engine.Runtime

	NLU NLUClassifier
	LLM Clarifier

	// Keywords maps fallback keywords to trigger intents; defaults to
	// defaultKeywords when left nil.
	Keywords map[string]string
	// TauStart is the minimum NLU confidence to start a matched flow.
	TauStart float64
	// DedupWindow is the duplicate-send tolerance window.
	DedupWindow time.Duration
	// LockWait bounds how long a second message for the same session
	// waits for the first to finish.
	LockWait time.Duration

	dedupMu sync.Mutex
	dedup   map[string]time.Time

	locksMu sync.Mutex
	locks   map[string]chan struct{}
}

// NLUClassifier is the narrow intent-classification contract the
// orchestrator calls directly rather than through the engine (spec §4.7
// step 6).
type NLUClassifier interface {
	Classify(ctx context.Context, text string) (Intent, error)
}

// Intent is the outcome of NLU classification.
type Intent struct {
	Name       string
	Confidence float64
	Entities   map[string]any
}

// Clarifier generates a bounded-option clarification prompt when nothing
// matched (spec §4.7 step 9).
type Clarifier interface {
	Clarify(ctx context.Context, options []string) (string, error)
}

// New constructs a Router with spec-default thresholds.
func New(sessions session.Store, authSvc *auth.Service, runtime *engine.Runtime, nlu NLUClassifier, llm Clarifier) *Router {
	return &Router{
		Sessions:    sessions,
		Auth:        authSvc,
		Runtime:     runtime,
		NLU:         nlu,
		LLM:         llm,
		Keywords:    defaultKeywords,
		TauStart:    defaultTauStart,
		DedupWindow: defaultDedupWindow,
		LockWait:    defaultLockWait,
		dedup:       make(map[string]time.Time),
		locks:       make(map[string]chan struct{}),
	}
}

// Route runs the full step algorithm against in (spec §4.7 steps 1-9).
// A nil, nil return means the message was silently dropped as a
// duplicate; any other non-error return is the single reply to deliver.
func (r *Router) Route(ctx context.Context, in Inbound) (*Reply, error) {
	if r.isDuplicate(in) {
		slog.Debug("dropped duplicate inbound message", "sessionId", in.SessionID)
		return nil, nil
	}

	release, err := r.acquireSessionLock(ctx, in.SessionID)
	if err != nil {
		return &Reply{Message: "Please wait a moment, still processing your last message."}, nil
	}
	defer release()

	sess, err := r.Sessions.GetOrCreate(ctx, in.SessionID, in.Identifier, in.Channel)
	if err != nil {
		return nil, fmt.Errorf("route: session lookup: %w", err)
	}

	if resetPattern.MatchString(in.Text) {
		return r.handleReset(ctx, sess)
	}

	// Auth preheat (step 4), the active-run lookup (step 5's
	// precondition), and NLU classification (step 6) read independent
	// state, so they run concurrently rather than one-at-a-time; the
	// classification result is discarded if an active run turns out to
	// exist, trading a wasted NLU call for lower latency on the common
	// no-active-run path (spec §4.7, §5 fan-out where no ordering
	// dependency exists).
	var active *flowrun.FlowRun
	var intent Intent
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		r.preheatAuth(gctx, sess)
		return nil
	})
	g.Go(func() error {
		run, err := r.Runtime.GetActiveFlow(gctx, in.SessionID)
		active = run
		return err
	})
	g.Go(func() error {
		result, err := r.classify(gctx, in.Text)
		if err != nil {
			slog.Warn("nlu classification failed, falling back to keywords", "error", err)
			return nil
		}
		intent = result
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("route: %w", err)
	}

	// preheatAuth may have updated the session concurrently above; re-read
	// it so the snapshot merged into context below reflects that, not the
	// copy fetched before the auth preheat ran (spec §3.1 "session.{...}
	// — snapshot of relevant session data at turn start").
	if refreshed, err := r.Sessions.Get(ctx, in.SessionID); err == nil && refreshed != nil {
		sess = refreshed
	}

	if active != nil {
		turnReply, _, err := r.Runtime.ResumeFlow(ctx, in.SessionID, in.Text, map[string]any{"session": sess.Snapshot()})
		if err != nil {
			return nil, fmt.Errorf("route: resume flow: %w", err)
		}
		return &Reply{Message: turnReply.Message, Cards: turnReply.Cards, Buttons: turnReply.Buttons}, nil
	}

	if flowID, ok := r.triggerMatch(ctx, intent); ok {
		return r.startOrAuthenticate(ctx, sess, in.SessionID, flowID, intent.Name)
	}

	if flowID, ok := r.keywordMatch(ctx, in.Text); ok {
		return r.startOrAuthenticate(ctx, sess, in.SessionID, flowID, flowID)
	}

	return r.clarify(ctx)
}

// RouteLocation delivers a location-share event for sessionID's active
// run, if any. It merges the shared coordinates into turn context under
// "_shared_location" so executors like pkg/executor/address can resolve
// an address from a location share the same way they resolve one from
// free text (spec §4.3 address: "Multi-turn: may pause awaiting location
// share or text"). A session with no active run has nothing to resume;
// callers get a nil reply rather than an error in that case, since a
// stray location update outside a flow is not a failure.
func (r *Router) RouteLocation(ctx context.Context, sessionID string, lat, lng float64) (*Reply, error) {
	active, err := r.Runtime.GetActiveFlow(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("route location: %w", err)
	}
	if active == nil {
		return nil, nil
	}

	sess, err := r.Sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("route location: session lookup: %w", err)
	}

	extra := map[string]any{
		"_shared_location": map[string]any{"lat": lat, "lng": lng},
	}
	if sess != nil {
		extra["session"] = sess.Snapshot()
	}

	turnReply, _, err := r.Runtime.ResumeFlow(ctx, sessionID, "", extra)
	if err != nil {
		return nil, fmt.Errorf("route location: resume flow: %w", err)
	}
	return &Reply{Message: turnReply.Message, Cards: turnReply.Cards, Buttons: turnReply.Buttons}, nil
}

func (r *Router) isDuplicate(in Inbound) bool {
	window := r.DedupWindow
	if window <= 0 {
		window = defaultDedupWindow
	}
	key := fmt.Sprintf("%s:%s", in.SessionID, in.Text)

	r.dedupMu.Lock()
	defer r.dedupMu.Unlock()
	now := time.Now()
	for k, seen := range r.dedup {
		if now.Sub(seen) > window {
			delete(r.dedup, k)
		}
	}
	if last, ok := r.dedup[key]; ok && now.Sub(last) <= window {
		return true
	}
	r.dedup[key] = now
	return false
}

// acquireSessionLock enforces at most one in-flight turn per session
// (spec §5), bounded by LockWait; the returned release func must always
// be called.
func (r *Router) acquireSessionLock(ctx context.Context, sessionID string) (func(), error) {
	wait := r.LockWait
	if wait <= 0 {
		wait = defaultLockWait
	}

	r.locksMu.Lock()
	ch, ok := r.locks[sessionID]
	if !ok {
		ch = make(chan struct{}, 1)
		r.locks[sessionID] = ch
	}
	r.locksMu.Unlock()

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case ch <- struct{}{}:
		return func() { <-ch }, nil
	case <-timer.C:
		return nil, fmt.Errorf("session %s busy: %w", sessionID, context.DeadlineExceeded)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// handleReset cancels the session's active run and clears scratch state
// while preserving identity (spec §4.7 step 3).
func (r *Router) handleReset(ctx context.Context, sess *session.Session) (*Reply, error) {
	if run, err := r.Runtime.GetActiveFlow(ctx, sess.SessionID); err == nil && run != nil {
		run.Status = flowrun.StatusCancelled
		if err := r.Runtime.Runs.Update(ctx, run); err != nil {
			slog.Warn("reset: failed to cancel active run", "sessionId", sess.SessionID, "error", err)
		}
	}
	if _, err := r.Sessions.Update(ctx, sess.SessionID, func(s *session.Session) error {
		s.ClearScratch()
		return nil
	}); err != nil {
		return nil, fmt.Errorf("reset session: %w", err)
	}
	return &Reply{Message: "Okay, starting fresh. What would you like to do?"}, nil
}

// preheatAuth copies a fresher centralized-auth token into the session
// when the session's phone has one (spec §4.7 step 4). Failures are
// logged, never surfaced: preheat is best-effort.
func (r *Router) preheatAuth(ctx context.Context, sess *session.Session) {
	if sess.Data.Phone == "" || r.Auth == nil {
		return
	}
	user, err := r.Auth.GetByPhone(ctx, sess.Data.Phone)
	if err != nil {
		return
	}
	if sess.Data.Authenticated && sess.Data.AuthToken == user.Token {
		return
	}
	if _, err := r.Sessions.Update(ctx, sess.SessionID, func(s *session.Session) error {
		s.Data.UserID = user.UserID
		s.Data.AuthToken = user.Token
		s.Data.Authenticated = true
		return nil
	}); err != nil {
		slog.Warn("auth preheat failed to persist", "sessionId", sess.SessionID, "error", err)
	}
}

// classify runs NLU classification, short-circuiting on blank text
// rather than spending an RPC on an empty string.
func (r *Router) classify(ctx context.Context, text string) (Intent, error) {
	if r.NLU == nil || strings.TrimSpace(text) == "" {
		return Intent{}, nil
	}
	return r.NLU.Classify(ctx, text)
}

func (r *Router) triggerMatch(ctx context.Context, intent Intent) (string, bool) {
	if intent.Name == "" || intent.Confidence < r.tauStart() {
		return "", false
	}
	if f, ok := r.Runtime.Flows.GetByTrigger(ctx, intent.Name); ok {
		return f.ID, true
	}
	return "", false
}

func (r *Router) tauStart() float64 {
	if r.TauStart <= 0 {
		return defaultTauStart
	}
	return r.TauStart
}

func (r *Router) keywordMatch(ctx context.Context, text string) (string, bool) {
	lower := strings.ToLower(text)
	keywords := r.Keywords
	if keywords == nil {
		keywords = defaultKeywords
	}
	for kw, flowID := range keywords {
		if strings.Contains(lower, kw) {
			if _, ok := r.Runtime.Flows.GetByTrigger(ctx, flowID); ok {
				return flowID, true
			}
		}
	}
	return "", false
}

// startOrAuthenticate starts flowID, or stashes pending_intent and starts
// the auth flow first if flowID requires authentication and the session
// is not yet authenticated (spec §4.7 step 7).
func (r *Router) startOrAuthenticate(ctx context.Context, sess *session.Session, sessionID, flowID, intentName string) (*Reply, error) {
	flow, err := r.Runtime.Flows.Get(ctx, flowID)
	if err != nil {
		return nil, fmt.Errorf("start or authenticate: %w", err)
	}

	if flow.RequiresAuth && !sess.Data.Authenticated {
		if _, err := r.Sessions.Update(ctx, sessionID, func(s *session.Session) error {
			s.Data.PendingIntent = intentName
			return nil
		}); err != nil {
			return nil, fmt.Errorf("stash pending intent: %w", err)
		}
		authFlow, ok := r.Runtime.Flows.GetByTrigger(ctx, "authenticate")
		if !ok {
			return &Reply{Message: "Please log in before I can continue with that."}, nil
		}
		reply, run, err := r.Runtime.StartFlow(ctx, authFlow.ID, sessionID, map[string]any{"session": sess.Snapshot()})
		if err != nil {
			return nil, fmt.Errorf("start auth flow: %w", err)
		}
		r.recordActiveRun(ctx, sessionID, run.RunID, authFlow.Module)
		return &Reply{Message: reply.Message, Cards: reply.Cards, Buttons: reply.Buttons}, nil
	}

	reply, run, err := r.Runtime.StartFlow(ctx, flowID, sessionID, map[string]any{"session": sess.Snapshot()})
	if err != nil {
		return nil, fmt.Errorf("start flow %s: %w", flowID, err)
	}
	r.recordActiveRun(ctx, sessionID, run.RunID, flow.Module)
	return &Reply{Message: reply.Message, Cards: reply.Cards, Buttons: reply.Buttons}, nil
}

// recordActiveRun mirrors the newly-started run onto the session record
// so the session itself reflects which module/run is in progress; the
// flowrun store remains the authoritative source for resume (spec §4.5
// getActiveFlow), this is a read convenience for the session's own
// consumers. Failures are logged, not surfaced.
func (r *Router) recordActiveRun(ctx context.Context, sessionID, runID string, module flowdef.Module) {
	if _, err := r.Sessions.Update(ctx, sessionID, func(s *session.Session) error {
		s.Data.ActiveRunID = runID
		s.Data.ModuleName = string(module)
		return nil
	}); err != nil {
		slog.Warn("failed to record active run on session", "sessionId", sessionID, "runId", runID, "error", err)
	}
}

// clarify generates a short clarification prompt bounded to the
// configured keyword options (spec §4.7 step 9).
func (r *Router) clarify(ctx context.Context) (*Reply, error) {
	options := make([]string, 0, len(r.Keywords))
	keywords := r.Keywords
	if keywords == nil {
		keywords = defaultKeywords
	}
	for kw := range keywords {
		options = append(options, kw)
	}
	if r.LLM == nil {
		return &Reply{Message: "I didn't catch that — do you want to order food, send a parcel, or track an order?"}, nil
	}
	msg, err := r.LLM.Clarify(ctx, options)
	if err != nil {
		slog.Warn("clarification LLM call failed, using static prompt", "error", err)
		return &Reply{Message: "I didn't catch that — do you want to order food, send a parcel, or track an order?"}, nil
	}
	return &Reply{Message: msg}, nil
}

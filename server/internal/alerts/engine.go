package alerts

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shoplens/shoplens/pkg/ingest"
	"github.com/shoplens/shoplens/server/internal/config"
	"github.com/shoplens/shoplens/server/internal/metrics"
)

const (
	defaultCooldown   = 15 * time.Minute
	defaultInterval   = 10 * time.Second
	maxHistoryLen     = 200
	recentWindowHours = 1

	StateFiring   = "firing"
	StateResolved = "resolved"

	// FrameType is the type of the frame pushed to dashboards on a transition.
	FrameType = "alert"
)

// Alert represents a single alert event produced by the rule engine.
type Alert struct {
	ID         string     `json:"id"`
	RuleName   string     `json:"rule_name"`
	OrgID      string     `json:"org_id"`
	Severity   string     `json:"severity"`
	Message    string     `json:"message"`
	Value      float64    `json:"value"`
	FiredAt    time.Time  `json:"fired_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
	State      string     `json:"state"` // "firing" | "resolved"
}

// Frame is broadcast to the org channel whenever an alert fires or resolves.
type Frame struct {
	Type  string `json:"type"`
	Alert *Alert `json:"alert"`
}

// Broadcaster is the part of the socket hub the engine pushes alert frames into.
type Broadcaster interface {
	BroadcastToChannels(payload any, channels []string) int
}

type rule struct {
	config.AlertRule
	cond condition
}

// Engine evaluates alert rules against each org's rolling event rates. It
// broadcasts transitions to the org's dashboards and delivers webhook
// notifications.
//
// Engine is safe for concurrent use.
type Engine struct {
	hub      Broadcaster
	metrics  *metrics.Metrics
	client   *http.Client
	interval time.Duration
	now      func() time.Time // injectable for deterministic tests

	mu       sync.Mutex
	rules    []rule
	webhooks []config.WebhookConfig
	windows  map[string]*orgWindow // key: orgID
	active   map[string]*Alert     // key: "ruleName:orgID"
	lastFire map[string]time.Time  // last fire time per key (for cooldown)
	history  []*Alert              // recently resolved alerts
	closed   bool                  // set when Run stops; no new deliveries start
	wg       sync.WaitGroup        // in-flight webhook deliveries
}

// New creates an Engine from the server alert configuration. hub and m may be
// nil. An Engine with no rules records nothing.
func New(cfg config.AlertsConfig, hub Broadcaster, m *metrics.Metrics) *Engine {
	e := &Engine{
		hub:      hub,
		metrics:  m,
		client:   &http.Client{Timeout: 10 * time.Second},
		interval: defaultInterval,
		now:      time.Now,
		windows:  make(map[string]*orgWindow),
		active:   make(map[string]*Alert),
		lastFire: make(map[string]time.Time),
	}
	e.SetRules(cfg)
	return e
}

// SetRules replaces the rule set and webhook targets. Rules whose condition
// does not parse are skipped with a warning. Active alerts of rules that no
// longer exist are discarded without a resolve notification. An empty rule
// set also discards every rate window.
func (e *Engine) SetRules(cfg config.AlertsConfig) {
	rules := make([]rule, 0, len(cfg.Rules))
	names := make(map[string]struct{}, len(cfg.Rules))
	for _, r := range cfg.Rules {
		c, err := parseCondition(r.Condition)
		if err != nil {
			slog.Warn("alerts: skipping rule", "rule", r.Name, "err", err)
			continue
		}
		rules = append(rules, rule{AlertRule: r, cond: c})
		names[r.Name] = struct{}{}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules = rules
	e.webhooks = cfg.Webhooks
	if len(rules) == 0 {
		e.windows = make(map[string]*orgWindow)
	}
	for key, a := range e.active {
		if _, ok := names[a.RuleName]; !ok {
			delete(e.active, key)
			delete(e.lastFire, key)
		}
	}
}

// Observe records ev in its org's rate window and evaluates the rules for
// that org. Without rules the event is not recorded.
func (e *Engine) Observe(ev *ingest.Event) {
	if ev == nil || ev.OrgID == "" {
		return
	}
	now := e.now()

	e.mu.Lock()
	if len(e.rules) == 0 {
		e.mu.Unlock()
		return
	}
	w, ok := e.windows[ev.OrgID]
	if !ok {
		w = &orgWindow{}
		e.windows[ev.OrgID] = w
	}
	w.prune(now)
	w.add(now, ev.Table)
	e.mu.Unlock()

	e.evaluate(ev.OrgID, now)
}

// Tick trims every known org's window and evaluates it at now. Rules such as
// "purchases_per_min < 1" can only fire here, when nothing arrives.
func (e *Engine) Tick(now time.Time) {
	e.mu.Lock()
	orgs := make([]string, 0, len(e.windows))
	for org, w := range e.windows {
		w.prune(now)
		orgs = append(orgs, org)
	}
	e.mu.Unlock()

	for _, org := range orgs {
		e.evaluate(org, now)
	}
}

// Run evaluates all orgs periodically until ctx is cancelled, then waits for
// in-flight webhook deliveries.
func (e *Engine) Run(ctx context.Context) {
	t := time.NewTicker(e.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			e.mu.Lock()
			e.closed = true
			e.mu.Unlock()
			e.wg.Wait()
			return
		case now := <-t.C:
			e.Tick(now)
		}
	}
}

// evaluate tests all configured rules against orgID's current rates.
// Alerts that fire are stored; fire and resolve transitions are broadcast and
// webhook delivery is triggered asynchronously.
func (e *Engine) evaluate(orgID string, now time.Time) {
	var transitions []*Alert

	e.mu.Lock()
	w, ok := e.windows[orgID]
	if !ok || len(e.rules) == 0 {
		e.mu.Unlock()
		return
	}
	w.prune(now)
	r := w.rates()

	for _, rl := range e.rules {
		key := rl.Name + ":" + orgID
		fires, value := rl.cond.eval(r)

		if fires {
			if _, firing := e.active[key]; firing {
				continue
			}
			cooldown := rl.Cooldown
			if cooldown <= 0 {
				cooldown = defaultCooldown
			}
			if last, ok := e.lastFire[key]; ok && now.Sub(last) <= cooldown {
				continue
			}
			sev := rl.Severity
			if sev == "" {
				sev = "warning"
			}
			a := &Alert{
				ID:       uuid.NewString(),
				RuleName: rl.Name,
				OrgID:    orgID,
				Severity: sev,
				Value:    value,
				Message: fmt.Sprintf("[%s] %s fired for org %s: %s (value %.0f)",
					sev, rl.Name, orgID, rl.Condition, value),
				FiredAt: now,
				State:   StateFiring,
			}
			e.active[key] = a
			e.lastFire[key] = now
			cp := *a
			transitions = append(transitions, &cp)
			continue
		}

		if a, ok := e.active[key]; ok {
			resolved := now
			a.State = StateResolved
			a.ResolvedAt = &resolved
			a.Value = value
			delete(e.active, key)

			e.history = append(e.history, a)
			if len(e.history) > maxHistoryLen {
				e.history = e.history[len(e.history)-maxHistoryLen:]
			}
			cp := *a
			transitions = append(transitions, &cp)
		}
	}
	webhooks := e.webhooks
	e.mu.Unlock()

	for _, a := range transitions {
		e.notify(a, webhooks)
	}
}

// notify logs, counts, broadcasts and delivers one transition.
func (e *Engine) notify(a *Alert, webhooks []config.WebhookConfig) {
	if a.State == StateFiring {
		slog.Warn("alert fired",
			"rule", a.RuleName,
			"org_id", a.OrgID,
			"value", a.Value,
			"severity", a.Severity,
		)
	} else {
		slog.Info("alert resolved",
			"rule", a.RuleName,
			"org_id", a.OrgID,
		)
	}
	e.metrics.AlertTransition(a.RuleName, a.State)

	if e.hub != nil {
		e.hub.BroadcastToChannels(Frame{Type: FrameType, Alert: a}, []string{ingest.OrgChannel(a.OrgID)})
	}

	if len(webhooks) == 0 {
		return
	}
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		slog.Warn("alerts: engine stopped, webhook delivery skipped", "rule", a.RuleName, "org_id", a.OrgID)
		return
	}
	e.wg.Add(1)
	e.mu.Unlock()
	go func() {
		defer e.wg.Done()
		e.deliver(a, webhooks)
	}()
}

// Active returns copies of all currently firing alerts plus any alerts
// resolved within the past hour, sorted newest first.
func (e *Engine) Active() []*Alert {
	e.mu.Lock()
	defer e.mu.Unlock()

	cutoff := e.now().Add(-recentWindowHours * time.Hour)
	out := make([]*Alert, 0, len(e.active))

	for _, a := range e.active {
		cp := *a
		out = append(out, &cp)
	}
	for _, a := range e.history {
		if a.ResolvedAt != nil && a.ResolvedAt.After(cutoff) {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FiredAt.After(out[j].FiredAt) })
	return out
}

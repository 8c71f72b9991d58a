package alerts

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/drowseguard/drowseguard/internal/config"
	"github.com/drowseguard/drowseguard/internal/engine"
	"github.com/drowseguard/drowseguard/internal/session"
)

const (
	defaultCooldown = 30 * time.Second
	maxHistoryLen   = 200
	recentWindow    = time.Hour
)

// Alert states.
const (
	StateFiring   = "firing"
	StateResolved = "resolved"
)

// Alert is one alert episode of one rule on one stream.
type Alert struct {
	ID         string     `json:"id"`
	RuleName   string     `json:"rule_name"`
	StreamID   string     `json:"stream_id"`
	SessionID  string     `json:"session_id,omitempty"`
	Severity   string     `json:"severity"`
	Message    string     `json:"message"`
	Value      float64    `json:"value"`
	FiredAt    time.Time  `json:"fired_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
	State      string     `json:"state"`
}

// DefaultRules is used when no rules are configured: notify whenever a
// stream raises the drowsiness alert.
func DefaultRules() []config.AlertRule {
	return []config.AlertRule{{
		Name:      "drowsiness",
		Condition: "alert == true",
		Severity:  "critical",
		Cooldown:  defaultCooldown,
	}}
}

// Validate checks every rule condition in cfg.
func Validate(cfg config.AlertsConfig) error {
	var errs []error
	for _, r := range cfg.Rules {
		if _, err := parseCondition(r.Condition); err != nil {
			errs = append(errs, fmt.Errorf("rule %q: %w", r.Name, err))
		}
	}
	return errors.Join(errs...)
}

type rule struct {
	config.AlertRule
	cond condition
}

// Notifier evaluates alert rules against frame results and delivers webhook
// notifications when rules fire or resolve.
//
// Notifier is safe for concurrent use.
type Notifier struct {
	rules    []rule
	webhooks []config.WebhookConfig
	client   *http.Client
	now      func() time.Time

	mu         sync.Mutex
	active     map[string]*Alert    // key: "rule:stream"
	lastNotify map[string]time.Time // cooldown per key
	history    []*Alert             // recently resolved alerts

	inflight sync.WaitGroup
}

// New creates a Notifier. An empty rule list selects DefaultRules. Rules
// with invalid conditions are logged and skipped.
func New(cfg config.AlertsConfig) *Notifier {
	src := cfg.Rules
	if len(src) == 0 {
		src = DefaultRules()
	}
	n := &Notifier{
		webhooks:   cfg.Webhooks,
		client:     &http.Client{Timeout: 10 * time.Second},
		now:        time.Now,
		active:     make(map[string]*Alert),
		lastNotify: make(map[string]time.Time),
	}
	for _, r := range src {
		c, err := parseCondition(r.Condition)
		if err != nil {
			slog.Warn("alerts: skipping rule", "rule", r.Name, "err", err)
			continue
		}
		if r.Severity == "" {
			r.Severity = "warning"
		}
		if r.Cooldown <= 0 {
			r.Cooldown = defaultCooldown
		}
		n.rules = append(n.rules, rule{AlertRule: r, cond: c})
	}
	return n
}

// FrameProcessed evaluates every rule against res.
func (n *Notifier) FrameProcessed(streamID string, res engine.FrameResult) {
	n.Evaluate(streamID, res)
}

// SessionStopped resolves every alert still firing on the stream.
func (n *Notifier) SessionStopped(streamID string, _ session.Stats) {
	n.ResolveStream(streamID)
}

// Evaluate tests all rules against res. Alerts that fire are stored and
// delivered asynchronously; alerts whose condition no longer holds are
// resolved.
func (n *Notifier) Evaluate(streamID string, res engine.FrameResult) {
	now := n.now()
	for _, r := range n.rules {
		key := r.Name + ":" + streamID
		fires, value := r.cond.eval(res)

		n.mu.Lock()
		if fires {
			if now.Sub(n.lastNotify[key]) <= r.Cooldown {
				n.mu.Unlock()
				continue
			}
			a, ok := n.active[key]
			if !ok {
				a = &Alert{
					ID:        fmt.Sprintf("%s:%s:%d", r.Name, streamID, now.UnixNano()),
					RuleName:  r.Name,
					StreamID:  streamID,
					SessionID: res.Stats.SessionID,
					Severity:  r.Severity,
					FiredAt:   now,
					State:     StateFiring,
				}
				n.active[key] = a
			}
			a.Value = value
			a.Message = fmt.Sprintf("[%s] %s firing on %s: %s (value %.2f)",
				r.Severity, r.Name, streamID, r.Condition, value)
			n.lastNotify[key] = now
			cp := *a
			n.mu.Unlock()

			slog.Warn("alerts: alert fired",
				"rule", r.Name,
				"stream", streamID,
				"value", value,
				"severity", r.Severity)
			n.dispatch(&cp)
			continue
		}

		a, ok := n.active[key]
		if !ok {
			n.mu.Unlock()
			continue
		}
		cp := n.resolveLocked(key, a, now)
		n.mu.Unlock()

		slog.Info("alerts: alert resolved", "rule", r.Name, "stream", streamID)
		n.dispatch(cp)
	}
}

// ResolveStream resolves every firing alert of streamID.
func (n *Notifier) ResolveStream(streamID string) {
	now := n.now()
	var resolved []*Alert

	n.mu.Lock()
	for key, a := range n.active {
		if a.StreamID == streamID {
			resolved = append(resolved, n.resolveLocked(key, a, now))
		}
	}
	n.mu.Unlock()

	for _, a := range resolved {
		slog.Info("alerts: alert resolved by session stop", "rule", a.RuleName, "stream", streamID)
		n.dispatch(a)
	}
}

// resolveLocked moves a from active to history and returns a copy.
// n.mu must be held.
func (n *Notifier) resolveLocked(key string, a *Alert, now time.Time) *Alert {
	resolved := now
	a.State = StateResolved
	a.ResolvedAt = &resolved
	delete(n.active, key)
	delete(n.lastNotify, key)

	n.history = append(n.history, a)
	if len(n.history) > maxHistoryLen {
		n.history = n.history[len(n.history)-maxHistoryLen:]
	}
	cp := *a
	return &cp
}

// Active returns copies of all firing alerts plus alerts resolved within the
// past hour, newest first.
func (n *Notifier) Active() []*Alert {
	n.mu.Lock()
	defer n.mu.Unlock()

	cutoff := n.now().Add(-recentWindow)
	out := make([]*Alert, 0, len(n.active))
	for _, a := range n.active {
		cp := *a
		out = append(out, &cp)
	}
	for _, a := range n.history {
		if a.ResolvedAt != nil && a.ResolvedAt.After(cutoff) {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FiredAt.After(out[j].FiredAt) })
	return out
}

// Wait blocks until in-flight webhook deliveries have finished.
func (n *Notifier) Wait() { n.inflight.Wait() }

func (n *Notifier) dispatch(a *Alert) {
	if len(n.webhooks) == 0 {
		return
	}
	n.inflight.Add(1)
	go func() {
		defer n.inflight.Done()
		n.deliver(a)
	}()
}

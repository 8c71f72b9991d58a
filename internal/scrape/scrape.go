package scrape

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
)

const defaultTimeout = 10 * time.Second

// Metric family names exported by the server.
const (
	familyFrames          = "drowseguard_frames_total"
	familyAlerts          = "drowseguard_alert_transitions_total"
	familyStreams         = "drowseguard_streams"
	familyActive          = "drowseguard_active_sessions"
	familyAlerting        = "drowseguard_alerting_streams"
	familyHistoryDropped  = "drowseguard_history_dropped_total"
	familySessionDuration = "drowseguard_session_duration_seconds"
	familyOpenness        = "drowseguard_eye_openness"
)

// Summary is the condensed view of one scrape.
type Summary struct {
	ScrapedAt       time.Time
	Streams         float64
	ActiveSessions  float64
	AlertingStreams float64

	// Frames holds processed frame totals keyed by confidence.
	Frames map[string]float64

	// AlertTransitions holds alert starts keyed by stream id.
	AlertTransitions map[string]float64

	HistoryDropped float64

	// SessionsEnded and MeanSessionSeconds come from the session duration
	// histogram.
	SessionsEnded      uint64
	MeanSessionSeconds float64

	// MeanOpenness is the mean of every observed openness value.
	MeanOpenness float64
}

// TotalFrames sums Frames over all confidence levels.
func (s *Summary) TotalFrames() float64 {
	var total float64
	for _, v := range s.Frames {
		total += v
	}
	return total
}

// TopStreams returns up to n stream ids ordered by alert transitions, most
// first. Ties sort by id.
func (s *Summary) TopStreams(n int) []string {
	ids := make([]string, 0, len(s.AlertTransitions))
	for id := range s.AlertTransitions {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, b := s.AlertTransitions[ids[i]], s.AlertTransitions[ids[j]]
		if a != b {
			return a > b
		}
		return ids[i] < ids[j]
	})
	if n > 0 && len(ids) > n {
		ids = ids[:n]
	}
	return ids
}

// Client polls one server.
type Client struct {
	url    string
	client *http.Client
}

// New returns a Client for the server at baseURL. When key is non-empty it is
// sent in header on every request.
func New(baseURL, header, key string) *Client {
	var rt http.RoundTripper = http.DefaultTransport
	if key != "" {
		rt = &authRoundTripper{base: rt, header: header, key: key}
	}
	return &Client{
		url:    strings.TrimRight(baseURL, "/") + "/metrics",
		client: &http.Client{Transport: rt, Timeout: defaultTimeout},
	}
}

// authRoundTripper injects the API key header into every outgoing request.
type authRoundTripper struct {
	base   http.RoundTripper
	header string
	key    string
}

func (t *authRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set(t.header, t.key)
	return t.base.RoundTrip(req)
}

// Fetch scrapes the server once.
func (c *Client) Fetch(ctx context.Context) (*Summary, error) {
	mfs, err := fetchMetrics(ctx, c.client, c.url)
	if err != nil {
		return nil, fmt.Errorf("scrape %s: %w", c.url, err)
	}
	return Summarize(mfs), nil
}

// Summarize folds metric families into a Summary. Missing families read as
// zero.
func Summarize(mfs map[string]*dto.MetricFamily) *Summary {
	s := &Summary{
		ScrapedAt:        time.Now().UTC(),
		Streams:          sumFamily(mfs[familyStreams]),
		ActiveSessions:   sumFamily(mfs[familyActive]),
		AlertingStreams:  sumFamily(mfs[familyAlerting]),
		Frames:           byLabel(mfs[familyFrames], "confidence"),
		AlertTransitions: byLabel(mfs[familyAlerts], "stream"),
		HistoryDropped:   sumFamily(mfs[familyHistoryDropped]),
	}
	if count, sum := histogram(mfs[familySessionDuration]); count > 0 {
		s.SessionsEnded = count
		s.MeanSessionSeconds = sum / float64(count)
	}
	if count, sum := histogram(mfs[familyOpenness]); count > 0 {
		s.MeanOpenness = sum / float64(count)
	}
	return s
}

// fetchMetrics performs an HTTP GET to url and returns parsed metric families.
func fetchMetrics(ctx context.Context, client *http.Client, url string) (map[string]*dto.MetricFamily, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", string(expfmt.NewFormat(expfmt.TypeTextPlain)))

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return parseMetrics(resp.Body)
}

// parseMetrics decodes a Prometheus text exposition from r into metric
// families. A partial result with a parse error is still returned.
func parseMetrics(r io.Reader) (map[string]*dto.MetricFamily, error) {
	var parser expfmt.TextParser
	mfs, err := parser.TextToMetricFamilies(r)
	if err != nil && len(mfs) == 0 {
		return nil, fmt.Errorf("parse prometheus text: %w", err)
	}
	return mfs, nil
}

// sumFamily adds up all counter, gauge, or untyped values in a MetricFamily.
// Returns 0 if mf is nil.
func sumFamily(mf *dto.MetricFamily) float64 {
	if mf == nil {
		return 0
	}
	var total float64
	for _, m := range mf.GetMetric() {
		total += value(m)
	}
	return total
}

// byLabel sums values grouped by the named label.
func byLabel(mf *dto.MetricFamily, label string) map[string]float64 {
	out := make(map[string]float64)
	if mf == nil {
		return out
	}
	for _, m := range mf.GetMetric() {
		key := ""
		for _, lp := range m.GetLabel() {
			if lp.GetName() == label {
				key = lp.GetValue()
				break
			}
		}
		out[key] += value(m)
	}
	return out
}

// histogram returns the total sample count and sum over all series of mf.
func histogram(mf *dto.MetricFamily) (count uint64, sum float64) {
	if mf == nil {
		return 0, 0
	}
	for _, m := range mf.GetMetric() {
		if h := m.GetHistogram(); h != nil {
			count += h.GetSampleCount()
			sum += h.GetSampleSum()
		}
	}
	return count, sum
}

func value(m *dto.Metric) float64 {
	switch {
	case m.Counter != nil:
		return m.Counter.GetValue()
	case m.Gauge != nil:
		return m.Gauge.GetValue()
	case m.Untyped != nil:
		return m.Untyped.GetValue()
	}
	return 0
}

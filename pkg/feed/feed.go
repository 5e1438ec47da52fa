// Package feed publishes the intelligence signal catalogue onto the event
// bus.
package feed

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/justKMM/supply-chainer/pkg/events"
	"github.com/justKMM/supply-chainer/pkg/registry"
)

//go:embed signals.yaml
var defaultCatalogue []byte

var ErrInvalidSignal = errors.New("invalid signal")

// Signal is an event template.
type Signal struct {
	Category           events.Category `yaml:"category" json:"category"`
	Severity           events.Severity `yaml:"severity" json:"severity"`
	Title              string          `yaml:"title" json:"title"`
	Description        string          `yaml:"description" json:"description"`
	Source             string          `yaml:"source" json:"source"`
	AffectedRegions    []string        `yaml:"affected_regions" json:"affected_regions"`
	AffectedCategories []string        `yaml:"affected_categories" json:"affected_categories"`
	RecommendedActions []string        `yaml:"recommended_actions" json:"recommended_actions"`
	Data               map[string]any  `yaml:"data,omitempty" json:"data,omitempty"`
}

type catalogue struct {
	Signals []Signal `yaml:"signals"`
}

// Event builds a fresh bus event from the template.
func (s Signal) Event() *events.Event {
	e := &events.Event{
		Category:           s.Category,
		Severity:           s.Severity,
		Title:              s.Title,
		Description:        s.Description,
		Source:             s.Source,
		AffectedRegions:    s.AffectedRegions,
		AffectedCategories: s.AffectedCategories,
		RecommendedActions: s.RecommendedActions,
		Data:               s.Data,
	}
	return e.Clone()
}

func (s Signal) validate() error {
	if _, err := events.ParseCategory(string(s.Category)); err != nil {
		return err
	}
	if _, err := events.ParseSeverity(string(s.Severity)); err != nil {
		return err
	}
	if strings.TrimSpace(s.Title) == "" {
		return errors.New("title is required")
	}
	return nil
}

// LoadSignals parses a YAML catalogue. A missing severity defaults to
// medium.
func LoadSignals(r io.Reader) ([]Signal, error) {
	var c catalogue
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse signal catalogue: %w", err)
	}
	for i := range c.Signals {
		if c.Signals[i].Severity == "" {
			c.Signals[i].Severity = events.SeverityMedium
		}
		if err := c.Signals[i].validate(); err != nil {
			return nil, fmt.Errorf("%w: signal %d: %v", ErrInvalidSignal, i, err)
		}
	}
	return c.Signals, nil
}

// LoadSignalsFile reads a catalogue from disk.
func LoadSignalsFile(path string) ([]Signal, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load signals %q: %w", path, err)
	}
	return LoadSignals(bytes.NewReader(data))
}

var loadDefault = sync.OnceValues(func() ([]Signal, error) {
	return LoadSignals(bytes.NewReader(defaultCatalogue))
})

// DefaultSignals returns the embedded catalogue.
func DefaultSignals() []Signal {
	signals, err := loadDefault()
	if err != nil {
		panic(fmt.Sprintf("feed: embedded catalogue: %v", err))
	}
	return append([]Signal(nil), signals...)
}

// MessageLog receives one live message per published signal.
type MessageLog interface {
	LogMessage(msg registry.LiveMessage) registry.LiveMessage
}

// Result is the outcome of publishing one signal.
type Result struct {
	Event          *events.Event `json:"event"`
	Recipients     []string      `json:"recipients"`
	RecipientCount int           `json:"recipient_count"`
}

var severityColors = map[events.Severity]string{
	events.SeverityLow:      "#4CAF50",
	events.SeverityMedium:   "#FF9800",
	events.SeverityHigh:     "#F44336",
	events.SeverityCritical: "#D32F2F",
}

// Publisher walks the catalogue round-robin.
type Publisher struct {
	mu      sync.Mutex
	bus     *events.Bus
	signals []Signal
	next    int
	log     MessageLog
	logger  *slog.Logger
}

// NewPublisher creates a publisher over signals. log may be nil.
func NewPublisher(bus *events.Bus, signals []Signal, log MessageLog) *Publisher {
	return &Publisher{
		bus:     bus,
		signals: append([]Signal(nil), signals...),
		log:     log,
		logger:  slog.Default().With("component", "intelligence_feed"),
	}
}

// Len is the catalogue size.
func (p *Publisher) Len() int { return len(p.signals) }

// Publish publishes the next count signals. count is capped at the
// catalogue size so a call never repeats a signal.
func (p *Publisher) Publish(count int) []Result {
	p.mu.Lock()
	if count > len(p.signals) {
		count = len(p.signals)
	}
	batch := make([]Signal, 0, max(count, 0))
	for i := 0; i < count; i++ {
		batch = append(batch, p.signals[p.next])
		p.next = (p.next + 1) % len(p.signals)
	}
	p.mu.Unlock()

	results := make([]Result, 0, len(batch))
	for _, s := range batch {
		evt := s.Event()
		recipients := p.bus.Publish(evt)
		p.logger.Debug("signal published", "event_id", evt.EventID, "category", evt.Category, "recipients", len(recipients))
		if p.log != nil {
			p.log.LogMessage(registry.LiveMessage{
				FromID:    "intelligence-feed",
				FromLabel: evt.Source,
				ToID:      "network",
				ToLabel:   "Agent Network",
				Type:      "intel_" + string(evt.Category),
				Summary:   "INTEL: " + evt.Title,
				Detail: fmt.Sprintf("Severity: %s | Delivered to %d agents",
					strings.ToUpper(string(evt.Severity)), len(recipients)),
				Color: severityColors[evt.Severity],
				Icon:  "satellite",
			})
		}
		results = append(results, Result{Event: evt, Recipients: recipients, RecipientCount: len(recipients)})
	}
	return results
}

// Reset rewinds the catalogue cursor.
func (p *Publisher) Reset() {
	p.mu.Lock()
	p.next = 0
	p.mu.Unlock()
}

package feed

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/justKMM/supply-chainer/pkg/events"
	"github.com/justKMM/supply-chainer/pkg/registry"
)

func TestDefaultSignals(t *testing.T) {
	signals := DefaultSignals()
	require.Len(t, signals, 8)

	seen := map[events.Category]bool{}
	for _, s := range signals {
		assert.NotEmpty(t, s.Title)
		assert.NotEmpty(t, s.AffectedRegions)
		seen[s.Category] = true
	}
	assert.True(t, seen[events.CategoryWeatherDisruption])
	assert.True(t, seen[events.CategoryQualityRecall])

	signals[0].Title = "mutated"
	assert.NotEqual(t, "mutated", DefaultSignals()[0].Title)
}

func TestLoadSignals(t *testing.T) {
	doc := `
signals:
  - category: cyber_incident
    title: Ransomware at a logistics broker
    affected_regions: [EU]
`
	signals, err := LoadSignals(strings.NewReader(doc))
	require.NoError(t, err)
	require.Len(t, signals, 1)
	assert.Equal(t, events.SeverityMedium, signals[0].Severity)

	empty, err := LoadSignals(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestLoadSignals_Rejects(t *testing.T) {
	tests := map[string]string{
		"unknown category": "signals:\n  - category: alien_invasion\n    title: x\n",
		"unknown severity": "signals:\n  - category: geopolitical\n    severity: apocalyptic\n    title: x\n",
		"missing title":    "signals:\n  - category: geopolitical\n",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := LoadSignals(strings.NewReader(doc))
			assert.ErrorIs(t, err, ErrInvalidSignal)
		})
	}

	_, err := LoadSignals(strings.NewReader("signals:\n  - category: geopolitical\n    colour: red\n"))
	assert.Error(t, err)

	_, err = LoadSignalsFile("does-not-exist.yaml")
	assert.Error(t, err)
}

type captureLog struct{ msgs []registry.LiveMessage }

func (c *captureLog) LogMessage(m registry.LiveMessage) registry.LiveMessage {
	c.msgs = append(c.msgs, m)
	return m
}

func TestPublisher_RoundRobin(t *testing.T) {
	bus := events.NewBus()
	bus.Subscribe("dhl-01", "DHL", events.RoleLogisticsProvider, []string{"IT"}, nil)

	log := &captureLog{}
	p := NewPublisher(bus, DefaultSignals(), log)
	require.Equal(t, 8, p.Len())

	first := p.Publish(3)
	require.Len(t, first, 3)
	assert.Equal(t, events.CategoryWeatherDisruption, first[0].Event.Category)
	assert.NotEmpty(t, first[0].Event.EventID)
	assert.Equal(t, []string{"dhl-01"}, first[0].Recipients)
	assert.Equal(t, 1, first[0].RecipientCount)
	assert.Equal(t, 0, first[1].RecipientCount)

	second := p.Publish(6)
	require.Len(t, second, 6)
	assert.Equal(t, events.CategoryQualityRecall, second[1].Event.Category)
	assert.Equal(t, events.CategoryWeatherDisruption, second[5].Event.Category)

	capped := p.Publish(100)
	assert.Len(t, capped, 8)
	assert.Empty(t, p.Publish(0))
	assert.Empty(t, p.Publish(-2))

	assert.Len(t, bus.Events(events.Filter{}), 17)
	require.Len(t, log.msgs, 17)
	assert.Equal(t, "satellite", log.msgs[0].Icon)
	assert.Equal(t, "#F44336", log.msgs[0].Color)
	assert.Equal(t, "intel_weather_disruption", log.msgs[0].Type)
	assert.Contains(t, log.msgs[0].Detail, "Delivered to 1 agents")

	p.Reset()
	again := p.Publish(1)
	assert.Equal(t, events.CategoryWeatherDisruption, again[0].Event.Category)
}

func TestPublisher_EventsAreIndependent(t *testing.T) {
	bus := events.NewBus()
	p := NewPublisher(bus, DefaultSignals()[:1], nil)

	a := p.Publish(1)[0].Event
	b := p.Publish(1)[0].Event
	assert.NotEqual(t, a.EventID, b.EventID)

	a.AffectedRegions[0] = "XX"
	assert.Equal(t, "IT", b.AffectedRegions[0])
}

func TestPublisher_EmptyCatalogue(t *testing.T) {
	p := NewPublisher(events.NewBus(), nil, nil)
	assert.Empty(t, p.Publish(5))
}

package core

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"logrelay/internal/models"
)

type recordingPublisher struct{ events []Event }

func (p *recordingPublisher) Publish(ev Event) { p.events = append(p.events, ev) }

func TestChannelRegistryStartsWithDefault(t *testing.T) {
	r := NewChannelRegistry(nil)
	assert.Equal(t, []string{models.DefaultChannel}, r.List())
	assert.True(t, r.Has(models.DefaultChannel))
}

func TestChannelRegistryEnsureOncePerName(t *testing.T) {
	pub := &recordingPublisher{}
	r := NewChannelRegistry(pub)

	assert.True(t, r.Ensure("app-2"))
	assert.False(t, r.Ensure("app-2"))
	assert.True(t, r.Ensure("app-1"))
	assert.False(t, r.Ensure(models.DefaultChannel))

	assert.Equal(t, []Event{ChannelAdded{Channel: "app-2"}, ChannelAdded{Channel: "app-1"}}, pub.events)
	assert.Equal(t, []string{"app-1", "app-2", models.DefaultChannel}, r.List())

	g1, _ := r.KnownSince("app-2")
	g2, _ := r.KnownSince("app-1")
	assert.Less(t, g1, g2)
}

func TestChannelRegistryReset(t *testing.T) {
	pub := &recordingPublisher{}
	r := NewChannelRegistry(pub)
	r.Ensure("app-1")

	r.Reset()

	assert.Equal(t, []string{models.DefaultChannel}, r.List())
	assert.False(t, r.Has("app-1"))
	assert.Equal(t, Cleared{}, pub.events[len(pub.events)-1])

	// Names are announced again after a reset.
	assert.True(t, r.Ensure("app-1"))
	assert.Equal(t, ChannelAdded{Channel: "app-1"}, pub.events[len(pub.events)-1])
}

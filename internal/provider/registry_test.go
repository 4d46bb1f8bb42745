package provider

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubProvider struct{}

func (stubProvider) Request(ctx context.Context, method string, params ...any) (json.RawMessage, error) {
	return json.RawMessage(`null`), nil
}

func (stubProvider) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event)
	return ch, func() {}
}

func waitForProviders(t *testing.T, r *Registry, n int) []Descriptor {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		if ps := r.Providers(); len(ps) >= n {
			return ps
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for %d providers", n)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestRegistryCollectsAnnouncements(t *testing.T) {
	bus := NewBus()
	r := NewRegistry(bus, nil)
	defer r.Close()

	bus.Announce(Descriptor{UUID: "a", Name: "Alpha", Provider: stubProvider{}})
	bus.Announce(Descriptor{UUID: "b", Name: "Beta", Provider: stubProvider{}})

	ps := waitForProviders(t, r, 2)
	assert.Equal(t, "a", ps[0].UUID)
	assert.Equal(t, "b", ps[1].UUID)
}

func TestRegistryReannouncementIsIdempotent(t *testing.T) {
	bus := NewBus()
	r := NewRegistry(bus, nil)
	defer r.Close()

	d := Descriptor{UUID: "a", Name: "Alpha", Provider: stubProvider{}}
	bus.Announce(d)
	bus.Announce(d)
	bus.Announce(d)

	waitForProviders(t, r, 1)
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, r.Providers(), 1)
}

func TestRegistryUpsertReplacesByUUID(t *testing.T) {
	bus := NewBus()
	r := NewRegistry(bus, nil)
	defer r.Close()

	bus.Announce(Descriptor{UUID: "a", Name: "Alpha", Provider: stubProvider{}})
	waitForProviders(t, r, 1)

	bus.Announce(Descriptor{UUID: "a", Name: "Alpha v2", Provider: stubProvider{}})

	deadline := time.After(2 * time.Second)
	for {
		ps := r.Providers()
		if len(ps) == 1 && ps[0].Name == "Alpha v2" {
			break
		}
		select {
		case <-deadline:
			t.Fatal("upsert never applied")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestRegistryIgnoresInvalidDescriptors(t *testing.T) {
	bus := NewBus()
	r := NewRegistry(bus, nil)
	defer r.Close()

	bus.Announce(Descriptor{UUID: "", Name: "NoUUID", Provider: stubProvider{}})
	bus.Announce(Descriptor{UUID: "x", Name: "NoHandle"})

	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, r.Providers())
}

func TestRegistryRequestsReannouncementOnStart(t *testing.T) {
	bus := NewBus()

	requests := bus.OnRequest()
	d := Descriptor{UUID: "late", Name: "Late", Provider: stubProvider{}}
	go func() {
		for range requests {
			bus.Announce(d)
		}
	}()

	r := NewRegistry(bus, nil)
	defer r.Close()

	ps := waitForProviders(t, r, 1)
	require.Equal(t, "late", ps[0].UUID)
}

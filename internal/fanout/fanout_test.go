package fanout

import (
	"testing"

	"github.com/nvarga/daq-gateway/internal/daqproto"
	"github.com/nvarga/daq-gateway/internal/sample"
)

func TestSubscriptionsApplyLatterWins(t *testing.T) {
	s := DefaultSubscriptions()
	s.Apply([]string{"continuous_only", "trigger_only"})
	if s.ContinuousOnly || !s.TriggerOnly {
		t.Fatalf("expected trigger_only to win, got %+v", s)
	}

	s2 := DefaultSubscriptions()
	s2.Apply([]string{"trigger_only", "continuous_only"})
	if s2.TriggerOnly || !s2.ContinuousOnly {
		t.Fatalf("expected continuous_only to win, got %+v", s2)
	}
}

func TestSubscriptionsWantsData(t *testing.T) {
	base := DefaultSubscriptions()
	if !base.wantsData(daqproto.SourceContinuous) || !base.wantsData(daqproto.SourceTrigger) {
		t.Fatal("default subscriptions should accept both sources")
	}

	continuousOnly := base
	continuousOnly.Apply([]string{"continuous_only"})
	if !continuousOnly.wantsData(daqproto.SourceContinuous) {
		t.Fatal("continuous_only should accept Continuous")
	}
	if continuousOnly.wantsData(daqproto.SourceTrigger) {
		t.Fatal("continuous_only should reject Trigger")
	}

	noData := Subscriptions{}
	if noData.wantsData(daqproto.SourceContinuous) {
		t.Fatal("unsubscribed client should receive nothing")
	}
}

func TestHubBroadcastDataRespectsFilterAndBackpressure(t *testing.T) {
	h := New()

	triggerOnlyClient := newClient("a")
	triggerOnlyClient.subs.Apply([]string{"trigger_only"})
	h.register(triggerOnlyClient)

	full := newClient("b")
	full.send = make(chan []byte) // unbuffered: every send drops
	h.register(full)

	pd := sample.ProcessedData{DataType: sample.DataType{Source: daqproto.SourceContinuous}}
	h.BroadcastData(pd)

	select {
	case <-triggerOnlyClient.send:
		t.Fatal("trigger_only client should not receive Continuous data")
	default:
	}
	select {
	case <-full.send:
		t.Fatal("unbuffered client queue should have dropped, not delivered")
	default:
	}

	triggerPd := sample.ProcessedData{DataType: sample.DataType{Source: daqproto.SourceTrigger}}
	h.BroadcastData(triggerPd)
	select {
	case raw := <-triggerOnlyClient.send:
		if len(raw) == 0 {
			t.Fatal("expected non-empty payload")
		}
	default:
		t.Fatal("trigger_only client should have received Trigger data")
	}
}

func TestHubRegisterUnregisterUpdatesCount(t *testing.T) {
	h := New()
	c := newClient("x")
	h.register(c)
	if h.Count() != 1 {
		t.Fatalf("count = %d, want 1", h.Count())
	}
	h.unregister(c)
	if h.Count() != 0 {
		t.Fatalf("count = %d, want 0", h.Count())
	}
}

package otel

import (
	"context"
	"testing"
)

func TestNewMetrics_AllInstrumentsCreated(t *testing.T) {
	p, err := Init(context.Background(), Config{
		Enabled:  true,
		Exporter: "none",
	})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer p.Shutdown(context.Background())

	m, err := NewMetrics(p.Meter)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	if m.StageDuration == nil {
		t.Error("StageDuration is nil")
	}
	if m.AccountsDiscovered == nil {
		t.Error("AccountsDiscovered is nil")
	}
	if m.AccountsObserved == nil {
		t.Error("AccountsObserved is nil")
	}
	if m.PolicyDecisions == nil {
		t.Error("PolicyDecisions is nil")
	}
	if m.AccountsReclaimed == nil {
		t.Error("AccountsReclaimed is nil")
	}
	if m.AccountsFailed == nil {
		t.Error("AccountsFailed is nil")
	}
	if m.LamportsReclaimed == nil {
		t.Error("LamportsReclaimed is nil")
	}
	if m.RPCErrors == nil {
		t.Error("RPCErrors is nil")
	}
	if m.FetchAndLockContention == nil {
		t.Error("FetchAndLockContention is nil")
	}
}

func TestNewMetrics_NoopMeter(t *testing.T) {
	// Disabled OTel returns noop meter — metrics should still create without error.
	p, err := Init(context.Background(), Config{Enabled: false})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer p.Shutdown(context.Background())

	m, err := NewMetrics(p.Meter)
	if err != nil {
		t.Fatalf("NewMetrics with noop: %v", err)
	}
	if m == nil {
		t.Fatal("expected non-nil Metrics")
	}
}

package otel

import "go.opentelemetry.io/otel/metric"

// Metrics holds all kora-rent metrics instruments, one counter/histogram
// per pipeline-stage outcome named in spec.md §4.
type Metrics struct {
	StageDuration          metric.Float64Histogram
	AccountsDiscovered     metric.Int64Counter
	AccountsObserved       metric.Int64Counter
	PolicyDecisions        metric.Int64Counter
	AccountsReclaimed      metric.Int64Counter
	AccountsFailed         metric.Int64Counter
	LamportsReclaimed      metric.Int64Counter
	RPCErrors              metric.Int64Counter
	FetchAndLockContention metric.Int64Counter
}

// NewMetrics creates all metric instruments from the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.StageDuration, err = meter.Float64Histogram("kora_rent.stage.duration",
		metric.WithDescription("Pipeline stage run duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.AccountsDiscovered, err = meter.Int64Counter("kora_rent.accounts.discovered",
		metric.WithDescription("Sponsored accounts newly discovered by the Indexer"),
	)
	if err != nil {
		return nil, err
	}

	m.AccountsObserved, err = meter.Int64Counter("kora_rent.accounts.observed",
		metric.WithDescription("Accounts re-observed by the Lifecycle Engine"),
	)
	if err != nil {
		return nil, err
	}

	m.PolicyDecisions, err = meter.Int64Counter("kora_rent.policy.decisions",
		metric.WithDescription("Policy Engine rule-table decisions, by outcome"),
	)
	if err != nil {
		return nil, err
	}

	m.AccountsReclaimed, err = meter.Int64Counter("kora_rent.accounts.reclaimed",
		metric.WithDescription("Accounts successfully reclaimed"),
	)
	if err != nil {
		return nil, err
	}

	m.AccountsFailed, err = meter.Int64Counter("kora_rent.accounts.failed",
		metric.WithDescription("Accounts that failed reclamation"),
	)
	if err != nil {
		return nil, err
	}

	m.LamportsReclaimed, err = meter.Int64Counter("kora_rent.lamports.reclaimed",
		metric.WithDescription("Total lamports reclaimed across all runs"),
	)
	if err != nil {
		return nil, err
	}

	m.RPCErrors, err = meter.Int64Counter("kora_rent.rpc.errors",
		metric.WithDescription("Chain RPC errors encountered"),
	)
	if err != nil {
		return nil, err
	}

	m.FetchAndLockContention, err = meter.Int64Counter("kora_rent.reclaimer.lock_contention",
		metric.WithDescription("Fetch-and-Lock attempts that raced another worker"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}

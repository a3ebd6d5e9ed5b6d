// Package metrics exports an audit report as a Prometheus node-exporter textfile.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"predeploy/internal/model"
)

const namespace = "predeploy"

// Registry builds a registry holding one gauge family per report aspect. Severities are
// encoded as 0 (PASS), 1 (WARN) and 2 (FAIL).
func Registry(rep model.Report) (*prometheus.Registry, error) {
	findings := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "findings",
		Help:      "Findings of the last audit by severity.",
	}, []string{"severity"})
	ruleResult := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "rule_result",
		Help:      "Worst severity reported by each rule (0 PASS, 1 WARN, 2 FAIL).",
	}, []string{"rule", "section"})
	verdict := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "verdict",
		Help:      "Overall verdict of the last audit (0 PASS, 1 WARN, 2 FAIL).",
	})
	duration := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "audit_duration_seconds",
		Help:      "Wall time of the last audit.",
	})
	lastRun := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "last_run_timestamp_seconds",
		Help:      "Unix time the last audit completed.",
	})

	reg := prometheus.NewRegistry()
	for _, c := range []prometheus.Collector{findings, ruleResult, verdict, duration, lastRun} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register metric: %w", err)
		}
	}

	for _, s := range model.AllSeverities {
		findings.WithLabelValues(s.String()).Set(float64(rep.Counts.Of(s)))
	}
	worst := make(map[[2]string]model.Severity)
	var order [][2]string
	for _, f := range rep.Findings {
		key := [2]string{f.Rule, f.Section}
		prev, seen := worst[key]
		if !seen {
			order = append(order, key)
		}
		worst[key] = prev.Max(f.Severity)
	}
	for _, key := range order {
		ruleResult.WithLabelValues(key[0], key[1]).Set(float64(worst[key]))
	}
	verdict.Set(float64(rep.Verdict))
	duration.Set(float64(rep.DurationMS) / 1000)
	if !rep.CompletedAt.IsZero() {
		lastRun.Set(float64(rep.CompletedAt.Unix()))
	}
	return reg, nil
}

// WriteTextfile stores the report metrics at path for the node exporter textfile collector.
func WriteTextfile(path string, rep model.Report) error {
	reg, err := Registry(rep)
	if err != nil {
		return err
	}
	if err := prometheus.WriteToTextfile(path, reg); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}

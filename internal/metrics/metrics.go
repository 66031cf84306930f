package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// 充电日志相关指标
var (
	ChargeCyclesAppended = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "chargekeeper",
		Name:      "charge_cycles_appended_total",
		Help:      "Charge cycles written to the charge log.",
	})

	ChargeLogErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chargekeeper",
		Name:      "charge_log_errors_total",
		Help:      "Charge log failures by stage (append, open, read, malformed).",
	}, []string{"stage"})

	Submissions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chargekeeper",
		Name:      "anonymous_submissions_total",
		Help:      "Anonymous charge data submissions by result.",
	}, []string{"result"})

	Exports = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chargekeeper",
		Name:      "exports_total",
		Help:      "Charge data exports by format and result.",
	}, []string{"format", "result"})
)

// Register 注册全部指标
func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		ChargeCyclesAppended,
		ChargeLogErrors,
		Submissions,
		Exports,
	)
}

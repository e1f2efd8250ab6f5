package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Métricas de firma y del ciclo de vida del par de claves. Viven en un paquete
// aparte para que keys, signing, ledger y export las compartan sin ciclos.

var (
	SignaturesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "signroll_signatures_total",
		Help: "Firmas calculadas por tipo de payload y resultado (ok|error)",
	}, []string{"kind", "result"})

	KeyGenerationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "signroll_keypair_generations_total",
		Help: "Intentos de generación del par de firma (created|discarded|error)",
	}, []string{"result"})

	UnsignedRecordsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "signroll_unsigned_records_total",
		Help: "Registros persistidos sin firma por fail-open",
	}, []string{"kind"})

	SignLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "signroll_sign_latency_ms",
		Help:    "Latencia de Sign en milisegundos",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
	})
)

// Register registra las métricas en reg (o en el default si es nil).
// Registrar dos veces no es error.
func Register(reg prometheus.Registerer) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	for _, c := range []prometheus.Collector{SignaturesTotal, KeyGenerationsTotal, UnsignedRecordsTotal, SignLatency} {
		if err := reg.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return err
			}
		}
	}
	return nil
}

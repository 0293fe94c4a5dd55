// Package metrics provides observability for the certificate module.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks issuance volume, daily reuse, downloads, and validations.
type Metrics struct {
	Issued      *prometheus.CounterVec
	Reused      *prometheus.CounterVec
	Downloads   prometheus.Counter
	Validations *prometheus.CounterVec
}

// New registers all certificate module metrics on the default registry.
func New() *Metrics {
	return &Metrics{
		Issued: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "cabildo_certificates_issued_total",
			Help: "Certificates issued, by kind and channel",
		}, []string{"kind", "channel"}),
		Reused: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "cabildo_certificates_reused_total",
			Help: "Issuance requests answered with the certificate of the day",
		}, []string{"channel"}),
		Downloads: promauto.NewCounter(prometheus.CounterOpts{
			Name: "cabildo_certificate_downloads_total",
			Help: "Certificate download registrations",
		}),
		Validations: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "cabildo_certificate_validations_total",
			Help: "Public code validations, by result",
		}, []string{"result"}),
	}
}

// IncrementIssued records a newly issued certificate.
func (m *Metrics) IncrementIssued(kind, channel string) {
	m.Issued.WithLabelValues(kind, channel).Inc()
}

// IncrementReused records an issuance request served by reuse.
func (m *Metrics) IncrementReused(channel string) {
	m.Reused.WithLabelValues(channel).Inc()
}

// IncrementDownloads records a download registration.
func (m *Metrics) IncrementDownloads() {
	m.Downloads.Inc()
}

// IncrementValidations records a code validation outcome.
func (m *Metrics) IncrementValidations(result string) {
	m.Validations.WithLabelValues(result).Inc()
}

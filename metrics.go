package sntray

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus collectors of the tray subsystem. A nil *Metrics
// is valid and records nothing.
type Metrics struct {
	// Watcher metrics
	WatcherItems    prometheus.Gauge
	WatcherHosts    prometheus.Gauge
	Registrations   *prometheus.CounterVec
	Unregistrations *prometheus.CounterVec

	// Host metrics
	TrayItems    prometheus.Gauge
	MenuRebuilds prometheus.Counter
}

// NewMetrics creates collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		WatcherItems: factory.NewGauge(prometheus.GaugeOpts{
			Name: "sntray_watcher_items",
			Help: "Number of items registered in the watcher",
		}),
		WatcherHosts: factory.NewGauge(prometheus.GaugeOpts{
			Name: "sntray_watcher_hosts",
			Help: "Number of hosts registered in the watcher",
		}),
		Registrations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sntray_watcher_registrations_total",
				Help: "Registration calls by kind and result",
			},
			[]string{"kind", "result"},
		),
		Unregistrations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sntray_watcher_unregistrations_total",
				Help: "Services removed after losing their bus connection",
			},
			[]string{"kind"},
		),
		TrayItems: factory.NewGauge(prometheus.GaugeOpts{
			Name: "sntray_tray_items",
			Help: "Number of items held by the tray",
		}),
		MenuRebuilds: factory.NewCounter(prometheus.CounterOpts{
			Name: "sntray_menu_rebuilds_total",
			Help: "Number of menu model rebuilds",
		}),
	}
}

func (m *Metrics) watcherSize(items, hosts int) {
	if m == nil {
		return
	}

	m.WatcherItems.Set(float64(items))
	m.WatcherHosts.Set(float64(hosts))
}

func (m *Metrics) registration(kind, result string) {
	if m == nil {
		return
	}

	m.Registrations.WithLabelValues(kind, result).Inc()
}

func (m *Metrics) unregistration(kind string) {
	if m == nil {
		return
	}

	m.Unregistrations.WithLabelValues(kind).Inc()
}

func (m *Metrics) traySize(n int) {
	if m == nil {
		return
	}

	m.TrayItems.Set(float64(n))
}

func (m *Metrics) menuRebuild() {
	if m == nil {
		return
	}

	m.MenuRebuilds.Inc()
}

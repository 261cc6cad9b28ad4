// Package metrics exports stream counters to Prometheus.
//
// Components report live values through [Source] functions, which are read
// at scrape time, so the streaming path never touches a Prometheus type:
//
//	reg := metrics.NewRegistry()
//	metrics.Register(reg, "isostream", "ring", ring.Metrics()...)
//	go metrics.Serve(ctx, ":9100", reg)
package metrics

// Package metricstore keeps resource-sample history (CPU, memory) per
// service in an embedded bbolt database. The monitor appends two
// samples per service each sweep; the dashboard reads time ranges back
// for its history charts. A daily sweep prunes samples past the
// retention horizon.
package metricstore

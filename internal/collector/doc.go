// Package collector implements a Prometheus collector for the synced state.
//
// The collector periodically reads counts from the durable store and exposes
// them as gauges, so scrapes never hit the database. It also records the
// outcome of every scheduler job it is told about.
//
// The collector exposes the following metrics:
//   - oci_cost_sync_up: Health of the last state refresh (1 = success, 0 = failure)
//   - oci_cost_sync_resources: Inventory rows by user, family and state (active or deleted)
//   - oci_cost_sync_periods: (user, period) units by rollover state
//   - oci_cost_sync_metric_samples: Utilization samples currently retained
//   - oci_cost_sync_state_refresh_duration_seconds: Duration of the last refresh
//   - oci_cost_sync_state_last_refresh_timestamp_seconds: Unix timestamp of the last refresh
//   - oci_cost_sync_state_refresh_errors_total: Failed refreshes since startup
//   - oci_cost_sync_job_last_run_timestamp_seconds: Last finished run per job and status
//   - oci_cost_sync_job_last_success_timestamp_seconds: Last successful run per job
//   - oci_cost_sync_job_last_duration_seconds: Duration of the last run per job
//   - oci_cost_sync_job_runs_total: Executions per job and status
//   - oci_cost_sync_build_info: Build version information
//
// Example usage:
//
//	c := collector.NewStateCollector(st, time.Minute, log)
//	prometheus.MustRegister(c)
//	sched.OnFinish(c.Observe)
//	c.StartBackgroundRefresh(ctx)
package collector

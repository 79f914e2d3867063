// Package utilization pulls daily utilization samples for running compute
// instances and active load balancers, and purges samples past retention.
package utilization

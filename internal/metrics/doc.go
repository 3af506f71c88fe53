/*
Package metrics exposes VFS activity to Prometheus.

The collector owns a private registry, so several VFS instances in one
process do not collide on metric names.

	peppy_vfs_operations_total{scheme,operation,status}
	peppy_vfs_operation_duration_seconds{scheme,operation}
	peppy_vfs_cache_requests_total{cache,result}
	peppy_vfs_auth_prompts_total{scheme}

status is "success" or the lowercased error code of the failure
("not_found", "network_error", ...).
*/
package metrics

/*
Package config provides configuration management for the virtual file system.

Sources, lowest priority first:

	┌─────────────────────────────────────────────┐
	│           Default Values                    │  NewDefault
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│         Configuration File (YAML)           │  LoadFromFile
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│        Environment Variables                │  LoadFromEnv
	│           (PEPPYVFS_*)                      │
	└─────────────────────────────────────────────┘

Example file:

	global:
	  log_level: DEBUG
	  log_format: console
	cache:
	  metadata_ttl: 10s
	  redirect_max_entries: 200
	  connection_ttl: 10s
	network:
	  request_timeout: 30s
	  retry:
	    max_attempts: 3
	sftp:
	  known_hosts_file: /home/me/.ssh/known_hosts
	s3:
	  enabled: true
	  region: eu-west-1

The configuration is read once at startup; handlers copy the values they
need at construction time.
*/
package config

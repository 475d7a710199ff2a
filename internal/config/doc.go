// Package config loads client configuration.
//
// Sources, later ones winning:
//
//	defaults           timeout 3s, connect_timeout 250ms, preferred_ip_timeout 100ms
//	YAML file          -config flag, or $MOGILE_CONFIG
//	environment        MOGILE_TRACKERS (comma list), MOGILE_DOMAIN,
//	                   MOGILE_TIMEOUT, MOGILE_LOG_LEVEL
//	command-line flags applied by the caller
//
// Example file:
//
//	trackers:
//	  - 10.0.0.1:7001
//	  - 10.0.0.2:7001
//	domain: photos
//	timeout: 3s
//	preferred_ips:
//	  10.0.0.2: 10.2.0.2
package config

// Package config provides configuration loading for the license server and the device client.
//
// # Configuration Sources
//
// Values are resolved in order of increasing precedence:
//
//	1. Default() / DefaultClient()
//	2. A YAML file named by LICENSEGATE_CONFIG_FILE, or ./config.yaml
//	3. Environment variables
//
// # Environment Variables
//
// Server variables use the LICENSEGATE prefix and the nested section name:
//
//	LICENSEGATE_SERVER_PORT=8080
//	LICENSEGATE_STORE_PATH=/var/lib/licensegate/licenses.db
//	LICENSEGATE_SIGNING_SECRET=...
//	LICENSEGATE_SIGNING_SNAPSHOT_KEY_FILE=/etc/licensegate/snapshot.pem
//	LICENSEGATE_POLICY_LAST_SEEN_THROTTLE=1h
//	LICENSEGATE_REDIS_ENABLED=true
//
// Client variables use LICENSEGATE_CLIENT:
//
//	LICENSEGATE_CLIENT_SERVER_URL=https://licenses.example.com
//	LICENSEGATE_CLIENT_GRACE_PERIOD=168h
//	LICENSEGATE_CLIENT_SNAPSHOT_PUBLIC_KEY_FILE=/opt/app/snapshot.pub.pem
//
// Outside development, Validate refuses to start without a signing secret and a JWT secret
// of at least 32 bytes.
package config

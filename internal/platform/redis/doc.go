// Package redis opens the shared go-redis client and provides the small
// key/value Store behind the /redis-test endpoints and the Redis health
// check.
package redis

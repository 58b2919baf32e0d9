// Package redis provides a Redis-backed checkpoint saver for state
// persistence and recovery across process restarts.
package redis

import "time"

const defaultTTL = time.Hour * 24 * 7 // 7 days

var defaultOptions = Options{
	ttl: defaultTTL,
}

// Options is the options for the redis checkpoint saver.
type Options struct {
	url string
	ttl time.Duration
}

// Option configures the redis checkpoint saver.
type Option func(*Options)

// WithClientURL creates a redis client from the URL.
func WithClientURL(url string) Option {
	return func(opts *Options) {
		opts.url = url
	}
}

// WithTTL sets the expiry applied to stored checkpoints. Zero disables
// expiry.
func WithTTL(ttl time.Duration) Option {
	return func(opts *Options) {
		opts.ttl = ttl
	}
}

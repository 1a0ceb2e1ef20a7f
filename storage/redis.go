package storage

import (
	"crypto/tls"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"
)

// RedisOptions accepts a redis:// URL or the "host:port,password=...,ssl=true"
// connection string form. In the latter, defaultDatabase selects the DB and
// unknown settings are ignored.
func RedisOptions(conn string) *redis.Options {
	if opts, err := redis.ParseURL(conn); err == nil {
		return opts
	}
	addr, settings, _ := strings.Cut(conn, ",")
	opts := &redis.Options{Addr: strings.TrimSpace(addr)}
	for _, setting := range strings.Split(settings, ",") {
		key, value, ok := strings.Cut(setting, "=")
		if !ok {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(key)) {
		case "password":
			opts.Password = value
		case "ssl":
			if on, _ := strconv.ParseBool(strings.TrimSpace(value)); on {
				opts.TLSConfig = &tls.Config{}
			}
		case "defaultdatabase":
			if db, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
				opts.DB = db
			}
		}
	}
	return opts
}

// NewRedisClient returns nil for an empty connection string.
func NewRedisClient(conn string) *redis.Client {
	if strings.TrimSpace(conn) == "" {
		return nil
	}
	return redis.NewClient(RedisOptions(conn))
}

// Package config loads component configuration from the environment.
//
// Every package that needs settings declares its own Config struct with
// caarlos0/env tags and the binary loads it on demand:
//
//	var cfg route53.Config
//	if err := config.Load(&cfg); err != nil {
//		return err
//	}
//
// A .env file in the working directory is read once, before the first
// parse; variables already set in the environment win. Each struct type is
// parsed once and cached, so components loading the same type see the same
// values. Reset clears the cache for tests.
package config

package main

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/turtacn/ChargeAssign/internal/config"
)

func TestCORSConfig(t *testing.T) {
	assert.Nil(t, corsConfig(nil))

	c := corsConfig([]string{"https://app.example.com"})
	if assert.NotNil(t, c) {
		assert.Equal(t, []string{"https://app.example.com"}, c.AllowedOrigins)
		assert.Contains(t, c.AllowedMethods, "POST")
	}
}

func TestRateLimit(t *testing.T) {
	limiter, _ := rateLimit(config.ServerConfig{})
	assert.Nil(t, limiter)

	limiter, rl := rateLimit(config.ServerConfig{RateLimitRPS: 5, RateLimitBurst: 7})
	if assert.NotNil(t, limiter) {
		defer limiter.Stop()
	}
	assert.Equal(t, 5.0, rl.RequestsPerSecond)
	assert.Equal(t, 7, rl.BurstSize)
}

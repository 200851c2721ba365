package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConfig_Bypassed_MatchesHostAndPort(t *testing.T) {
	conf := &Config{
		BypassRules: []BypassRule{
			{Host: "metadata.internal", Port: 80},
			{Port: 9090},
			{Host: "example.com"},
		},
	}

	assert.True(t, conf.Bypassed("metadata.internal", 80))
	assert.False(t, conf.Bypassed("metadata.internal", 443))
	assert.True(t, conf.Bypassed("anything.example", 9090))
	assert.True(t, conf.Bypassed("example.com", 1))
	assert.False(t, conf.Bypassed("other.example", 1))
}

func TestConfig_Bypassed_NoRulesNeverBypasses(t *testing.T) {
	conf := &Config{}
	assert.False(t, conf.Bypassed("example.com", 443))
}

package utils

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGenerateIDPrefix(t *testing.T) {
	id := GeneratePeerID()
	assert.True(t, strings.HasPrefix(id, "peer_"))

	assert.True(t, strings.HasPrefix(GenerateTransportID(), "transport_"))
	assert.True(t, strings.HasPrefix(GenerateProducerID(), "producer_"))
	assert.True(t, strings.HasPrefix(GenerateConsumerID(), "consumer_"))
}

func TestGenerateIDUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := GeneratePeerID()
		assert.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
}

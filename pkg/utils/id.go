package utils

import (
	"fmt"

	"github.com/google/uuid"
)

// GenerateID generates a prefixed unique identifier.
func GenerateID(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, uuid.NewString())
}

// GeneratePeerID generates a unique, unguessable peer ID. Peer ids double as
// the only handle other clients ever see, so they must not be predictable.
func GeneratePeerID() string {
	return GenerateID("peer")
}

// GenerateTransportID generates a unique transport ID
func GenerateTransportID() string {
	return GenerateID("transport")
}

// GenerateProducerID generates a unique producer ID
func GenerateProducerID() string {
	return GenerateID("producer")
}

// GenerateConsumerID generates a unique consumer ID
func GenerateConsumerID() string {
	return GenerateID("consumer")
}

// GenerateInstanceID generates an id for this server instance, used to tag
// events published on the distributed event bus.
func GenerateInstanceID() string {
	return GenerateID("instance")
}

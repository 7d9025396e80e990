// Package gochannel provides the in-process event bus transport used by single-node
// deployments and tests.
package gochannel

import (
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

// Options tune the in-process pub/sub.
type Options struct {
	// Buffer is the per-subscriber output buffer.
	Buffer int64
	// Persistent replays earlier messages to late subscribers.
	Persistent bool
}

// DefaultOptions suit a long-running single-node engine.
func DefaultOptions() Options {
	return Options{Buffer: 1000}
}

// CreateChannel returns one GoChannel acting as both publisher and subscriber.
func CreateChannel(logger watermill.LoggerAdapter) (*gochannel.GoChannel, *gochannel.GoChannel, error) {
	return CreateChannelWithOptions(logger, DefaultOptions())
}

// CreateChannelWithOptions is CreateChannel with explicit tuning.
func CreateChannelWithOptions(logger watermill.LoggerAdapter, opts Options) (*gochannel.GoChannel, *gochannel.GoChannel, error) {
	pubSub := gochannel.NewGoChannel(
		gochannel.Config{
			OutputChannelBuffer:            opts.Buffer,
			Persistent:                     opts.Persistent,
			BlockPublishUntilSubscriberAck: false,
		},
		logger,
	)

	return pubSub, pubSub, nil
}

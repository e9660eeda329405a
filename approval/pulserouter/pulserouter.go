// Package pulserouter routes approval proposals to an attention channel over
// a Pulse stream. Each routed proposal is published as one stream event whose
// payload is the proposal document; downstream consumers (notification
// surfaces, review UIs) subscribe through their own sinks.
package pulserouter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"goa.design/pulse/streaming"
	streamopts "goa.design/pulse/streaming/options"

	"goa.design/sor/approval"
)

// EventProposal is the stream event name carrying a routed proposal.
const EventProposal = "approval_proposal"

const defaultStreamName = "sor:approval:proposals"

type (
	// Options configures the router.
	Options struct {
		// Redis is the connection backing the Pulse stream. Required.
		Redis *redis.Client
		// StreamName overrides the proposal stream name.
		StreamName string
		// StreamMaxLen bounds the number of retained entries. Zero uses
		// Pulse defaults.
		StreamMaxLen int
		// OperationTimeout bounds each publish. Zero means no timeout.
		OperationTimeout time.Duration
	}

	// Router implements approval.Router on a Pulse stream.
	Router struct {
		stream  *streaming.Stream
		timeout time.Duration
	}
)

// New builds a Pulse-backed proposal router.
func New(opts Options) (*Router, error) {
	if opts.Redis == nil {
		return nil, errors.New("redis client is required")
	}
	name := opts.StreamName
	if name == "" {
		name = defaultStreamName
	}
	var streamOptions []streamopts.Stream
	if opts.StreamMaxLen > 0 {
		streamOptions = append(streamOptions, streamopts.WithStreamMaxLen(opts.StreamMaxLen))
	}
	stream, err := streaming.NewStream(name, opts.Redis, streamOptions...)
	if err != nil {
		return nil, fmt.Errorf("create proposal stream: %w", err)
	}
	return &Router{stream: stream, timeout: opts.OperationTimeout}, nil
}

// Route implements approval.Router by publishing the proposal document.
func (r *Router) Route(ctx context.Context, p *approval.Proposal) error {
	if p == nil {
		return errors.New("proposal is required")
	}
	payload, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode proposal %s: %w", p.ProposalID, err)
	}
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	if _, err := r.stream.Add(ctx, EventProposal, payload); err != nil {
		return fmt.Errorf("route proposal %s: %w", p.ProposalID, err)
	}
	return nil
}

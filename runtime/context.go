package runtime

import (
	"github.com/google/uuid"

	"goa.design/sor/registry"
)

type (
	// Context is the per-invocation request context: the caller's capability
	// grants, identity, autonomy ceiling and correlation ids. The grant set
	// is fixed at construction; child contexts narrow it and inherit
	// everything else. The runtime never mutates a caller's Context.
	Context struct {
		allowed map[registry.CapabilityID]bool

		// Actor and Channel identify the requesting principal and the
		// delivery channel; either may be empty.
		Actor   string
		Channel string

		// MaxAutonomy caps the autonomy level of entries this context may
		// execute. Nil means no ceiling.
		MaxAutonomy *registry.AutonomyLevel

		// Confirmed records an out-of-band operator confirmation.
		Confirmed bool

		// ApprovalToken unlocks the proposal this request hashes to. Because
		// proposal ids cover the trace and invocation ids, callers resubmit
		// an approved request by setting the token on the same Context that
		// produced the proposal.
		ApprovalToken string

		TraceID            string
		InvocationID       string
		ParentInvocationID string
	}

	// ContextOption configures a new root Context.
	ContextOption func(*Context)
)

// WithCapabilities grants the listed capabilities.
func WithCapabilities(caps ...registry.CapabilityID) ContextOption {
	return func(c *Context) {
		for _, cap := range caps {
			c.allowed[cap] = true
		}
	}
}

// WithActor sets the requesting actor.
func WithActor(actor string) ContextOption {
	return func(c *Context) { c.Actor = actor }
}

// WithChannel sets the delivery channel.
func WithChannel(channel string) ContextOption {
	return func(c *Context) { c.Channel = channel }
}

// WithMaxAutonomy caps the autonomy level of executable entries.
func WithMaxAutonomy(level registry.AutonomyLevel) ContextOption {
	return func(c *Context) { c.MaxAutonomy = &level }
}

// WithConfirmed marks the request as operator-confirmed.
func WithConfirmed(confirmed bool) ContextOption {
	return func(c *Context) { c.Confirmed = confirmed }
}

// WithApprovalToken attaches an approval token to the request.
func WithApprovalToken(token string) ContextOption {
	return func(c *Context) { c.ApprovalToken = token }
}

// WithTraceID sets the trace id. A fresh one is generated when unset.
func WithTraceID(id string) ContextOption {
	return func(c *Context) { c.TraceID = id }
}

// NewContext builds a root invocation context. Trace and invocation ids are
// generated when not supplied.
func NewContext(opts ...ContextOption) *Context {
	c := &Context{allowed: make(map[registry.CapabilityID]bool)}
	for _, o := range opts {
		if o != nil {
			o(c)
		}
	}
	if c.TraceID == "" {
		c.TraceID = uuid.NewString()
	}
	if c.InvocationID == "" {
		c.InvocationID = uuid.NewString()
	}
	return c
}

// Allows reports whether the capability is granted.
func (c *Context) Allows(cap registry.CapabilityID) bool { return c.allowed[cap] }

// AllowedCapabilities returns a copy of the grant set.
func (c *Context) AllowedCapabilities() map[registry.CapabilityID]bool {
	out := make(map[registry.CapabilityID]bool, len(c.allowed))
	for cap := range c.allowed {
		out[cap] = true
	}
	return out
}

// Child derives the context a child invocation runs under: grants narrowed to
// the intersection with the child's declared capabilities, a fresh invocation
// id, and this invocation recorded as the parent. Everything else is
// inherited.
func (c *Context) Child(childCaps []registry.CapabilityID) *Context {
	narrowed := make(map[registry.CapabilityID]bool)
	for _, cap := range childCaps {
		if c.allowed[cap] {
			narrowed[cap] = true
		}
	}
	return &Context{
		allowed:            narrowed,
		Actor:              c.Actor,
		Channel:            c.Channel,
		MaxAutonomy:        c.MaxAutonomy,
		Confirmed:          c.Confirmed,
		ApprovalToken:      c.ApprovalToken,
		TraceID:            c.TraceID,
		InvocationID:       uuid.NewString(),
		ParentInvocationID: c.InvocationID,
	}
}

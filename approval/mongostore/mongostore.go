// Package mongostore persists approval proposals and decisions in MongoDB.
// Both collections are append-only; documents are never updated or deleted.
package mongostore

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"goa.design/sor/approval"
)

type (
	// Options configures the Mongo-backed recorder.
	Options struct {
		Client              *mongodriver.Client
		Database            string
		ProposalsCollection string
		DecisionsCollection string
		Timeout             time.Duration
	}

	// Recorder implements approval.Recorder on MongoDB.
	Recorder struct {
		client    *mongodriver.Client
		proposals *mongodriver.Collection
		decisions *mongodriver.Collection
		timeout   time.Duration
	}

	proposalDocument struct {
		ID         bson.ObjectID      `bson:"_id,omitempty"`
		ProposalID string             `bson:"proposal_id"`
		Document   *approval.Proposal `bson:"document"`
		RecordedAt time.Time          `bson:"recorded_at"`
	}

	decisionDocument struct {
		ID         bson.ObjectID      `bson:"_id,omitempty"`
		ProposalID string             `bson:"proposal_id"`
		Document   *approval.Decision `bson:"document"`
		RecordedAt time.Time          `bson:"recorded_at"`
	}
)

const (
	defaultProposalsCollection = "approval_proposals"
	defaultDecisionsCollection = "approval_decisions"
	defaultTimeout             = 5 * time.Second
	recorderName               = "approval-mongo"
)

// New returns a Recorder backed by the provided MongoDB client.
func New(opts Options) (*Recorder, error) {
	if opts.Client == nil {
		return nil, errors.New("mongo client is required")
	}
	if opts.Database == "" {
		return nil, errors.New("database name is required")
	}
	proposals := opts.ProposalsCollection
	if proposals == "" {
		proposals = defaultProposalsCollection
	}
	decisions := opts.DecisionsCollection
	if decisions == "" {
		decisions = defaultDecisionsCollection
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	db := opts.Client.Database(opts.Database)
	r := &Recorder{
		client:    opts.Client,
		proposals: db.Collection(proposals),
		decisions: db.Collection(decisions),
		timeout:   timeout,
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := r.ensureIndexes(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

// Name identifies the recorder for health reporting.
func (r *Recorder) Name() string { return recorderName }

// Ping reports whether the backing deployment is reachable.
func (r *Recorder) Ping(ctx context.Context) error {
	return r.client.Ping(ctx, readpref.Primary())
}

// RecordProposal implements approval.Recorder.
func (r *Recorder) RecordProposal(ctx context.Context, p *approval.Proposal) error {
	if p == nil {
		return errors.New("proposal is required")
	}
	if p.ProposalID == "" {
		return errors.New("proposal id is required")
	}
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	_, err := r.proposals.InsertOne(ctx, proposalDocument{
		ProposalID: p.ProposalID,
		Document:   p,
		RecordedAt: time.Now().UTC(),
	})
	return err
}

// RecordDecision implements approval.Recorder.
func (r *Recorder) RecordDecision(ctx context.Context, d *approval.Decision) error {
	if d == nil {
		return errors.New("decision is required")
	}
	if d.ProposalID == "" {
		return errors.New("proposal id is required")
	}
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	_, err := r.decisions.InsertOne(ctx, decisionDocument{
		ProposalID: d.ProposalID,
		Document:   d,
		RecordedAt: time.Now().UTC(),
	})
	return err
}

func (r *Recorder) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, r.timeout)
}

func (r *Recorder) ensureIndexes(ctx context.Context) error {
	model := mongodriver.IndexModel{Keys: bson.D{{Key: "proposal_id", Value: 1}}}
	if _, err := r.proposals.Indexes().CreateOne(ctx, model); err != nil {
		return err
	}
	_, err := r.decisions.Indexes().CreateOne(ctx, model)
	return err
}

package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"

	"go.uber.org/zap"

	"github.com/ravi-parthasarathy/pipedash/pkg/client"
	"github.com/ravi-parthasarathy/pipedash/pkg/pipeline"
)

// UpdateSource opens the cluster updates stream.
type UpdateSource interface {
	SubscribeToClusterUpdates(ctx context.Context, fn func([]byte)) client.Response[*client.Subscription]
}

// Stores is the shared state of one dashboard session: the live network
// snapshot and the last reported error.
type Stores struct {
	network *Cell[pipeline.ClusterState]
	errs    *Cell[*pipeline.ResponseError]
	sub     *client.Subscription
	logger  *zap.Logger
}

// New returns stores holding no data yet.
func New() *Stores {
	return &Stores{
		network: NewCell[pipeline.ClusterState](nil),
		errs:    NewCell[*pipeline.ResponseError](nil),
		logger:  zap.NewNop(),
	}
}

// Populate resets the network cell to "no data yet" and starts feeding it
// from the cluster updates stream. Each decoded snapshot replaces the cell
// value whole. It must not run concurrently with itself or Close.
func (s *Stores) Populate(ctx context.Context, src UpdateSource, logger *zap.Logger) error {
	if logger != nil {
		s.logger = logger
	}
	if s.sub != nil {
		_ = s.sub.Close()
		s.sub = nil
	}
	s.network.Set(nil)

	r := src.SubscribeToClusterUpdates(ctx, s.receive)
	sub, ok := r.Value()
	if !ok {
		e, _ := r.Error()
		s.Report(e)
		return e
	}
	s.sub = sub
	return nil
}

func (s *Stores) receive(frame []byte) {
	if !json.Valid(frame) {
		s.logger.Warn("dropping undecodable cluster snapshot", zap.Int("bytes", len(frame)))
		return
	}
	// A null snapshot means the server has nothing to report yet.
	if bytes.Equal(bytes.TrimSpace(frame), []byte("null")) {
		s.network.Set(nil)
		return
	}
	var state pipeline.ClusterState
	if err := state.UnmarshalJSON(frame); err != nil {
		s.logger.Warn("dropping cluster snapshot", zap.Error(err))
		return
	}
	s.network.Set(state)
}

// Network is the live cluster snapshot; nil until the first one arrives.
func (s *Stores) Network() *Cell[pipeline.ClusterState] { return s.network }

// Errors holds the most recently reported error.
func (s *Stores) Errors() *Cell[*pipeline.ResponseError] { return s.errs }

// Report publishes err to the error cell. Errors that are not a
// ResponseError are wrapped as one with code 0.
func (s *Stores) Report(err error) {
	if err == nil {
		return
	}
	var re pipeline.ResponseError
	if !errors.As(err, &re) {
		re = pipeline.ResponseError{Message: err.Error()}
	}
	s.errs.Set(&re)
}

// Close ends the cluster updates stream.
func (s *Stores) Close() error {
	if s.sub == nil {
		return nil
	}
	err := s.sub.Close()
	s.sub = nil
	return err
}

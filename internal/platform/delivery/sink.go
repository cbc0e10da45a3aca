// Package delivery hands rendered resources and bundles to their destination:
// standard output, or a FHIR endpoint.
package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/rs/zerolog"

	"github.com/ehr/hcafhir/internal/platform/fhir"
)

// Sink receives delivery units. A run uses either DeliverResource or
// DeliverBundle, never both.
type Sink interface {
	DeliverResource(ctx context.Context, r fhir.Resource) error
	DeliverBundle(ctx context.Context, b *fhir.SealedBundle) error
}

// StdoutSink writes each unit as an indented JSON document followed by a
// newline.
type StdoutSink struct {
	w io.Writer
}

func NewStdoutSink(w io.Writer) *StdoutSink {
	return &StdoutSink{w: w}
}

func (s *StdoutSink) DeliverResource(_ context.Context, r fhir.Resource) error {
	return s.write(r.Body)
}

func (s *StdoutSink) DeliverBundle(_ context.Context, b *fhir.SealedBundle) error {
	return s.write(b.Body)
}

func (s *StdoutSink) write(body []byte) error {
	var buf bytes.Buffer
	if err := json.Indent(&buf, body, "", "  "); err != nil {
		return fmt.Errorf("indent payload: %w", err)
	}
	buf.WriteByte('\n')
	if _, err := s.w.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("write payload: %w", err)
	}
	return nil
}

// Endpoint is the subset of *fhir.Client the remote sink uses.
type Endpoint interface {
	Update(ctx context.Context, r fhir.Resource) error
	PostBundle(ctx context.Context, b *fhir.SealedBundle) error
}

// RemoteSink pushes units to a FHIR endpoint. On failure it logs the full
// payload and returns the error unchanged; there is no retry.
type RemoteSink struct {
	endpoint Endpoint
	logger   zerolog.Logger
}

func NewRemoteSink(endpoint Endpoint, logger zerolog.Logger) *RemoteSink {
	return &RemoteSink{endpoint: endpoint, logger: logger}
}

func (s *RemoteSink) DeliverResource(ctx context.Context, r fhir.Resource) error {
	if err := s.endpoint.Update(ctx, r); err != nil {
		s.logger.Error().Err(err).
			Str("resource_type", r.Type).
			Str("resource_id", r.ID).
			RawJSON("payload", r.Body).
			Msg("resource delivery failed")
		return err
	}
	s.logger.Debug().Str("resource_type", r.Type).Str("resource_id", r.ID).Msg("resource delivered")
	return nil
}

func (s *RemoteSink) DeliverBundle(ctx context.Context, b *fhir.SealedBundle) error {
	if err := s.endpoint.PostBundle(ctx, b); err != nil {
		s.logger.Error().Err(err).
			Int("entries", len(b.Resources)).
			RawJSON("payload", b.Body).
			Msg("bundle delivery failed")
		return err
	}
	s.logger.Debug().Int("entries", len(b.Resources)).Msg("bundle delivered")
	return nil
}

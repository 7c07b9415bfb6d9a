package session

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/openkql/kqlgate/pkg/backends"
	"github.com/openkql/kqlgate/pkg/config"
	"github.com/openkql/kqlgate/pkg/engine"
	"github.com/openkql/kqlgate/pkg/response"
)

// validationQuery is a backend-neutral probe whose single-cell result is
// known in advance.
const validationQuery = "range c from 1 to 10 step 1 | count"

const validationExpected = 10

// RunOptions controls a single dispatch through Run.
type RunOptions struct {
	// AcceptPartial returns partial results instead of an error when the
	// backend reports exceptions alongside data.
	AcceptPartial bool

	// Timeout bounds the backend call. Zero falls back to the configured
	// query timeout, if any.
	Timeout time.Duration

	// SkipValidation suppresses the first-use validation probe regardless
	// of configuration.
	SkipValidation bool
}

// Run resolves the descriptor to an engine, validates it on first use, and
// executes the query. An empty query establishes the connection only and
// returns a nil result.
func (s *Session) Run(ctx context.Context, descriptor, query string, opts RunOptions) (*response.Unified, error) {
	eng, err := s.GetOrCreate(ctx, descriptor)
	if err != nil {
		return nil, err
	}

	// A failed probe does not condemn the handle: it stays registered and the
	// next dispatch probes again.
	if s.shouldValidate(opts) && eng.Validated() != engine.ValidationPassed {
		eng, err = s.validate(ctx, eng, opts)
		if err != nil {
			return nil, err
		}
	}

	if strings.TrimSpace(query) == "" {
		return nil, nil
	}

	return eng.Execute(ctx, query, engine.ExecOptions{
		AcceptPartial: opts.AcceptPartial,
		Timeout:       s.timeout(opts),
	})
}

func (s *Session) shouldValidate(opts RunOptions) bool {
	if opts.SkipValidation {
		return false
	}
	return s.cfg.GetBool(config.KeyValidateOnConnect)
}

func (s *Session) timeout(opts RunOptions) time.Duration {
	if opts.Timeout > 0 {
		return opts.Timeout
	}
	if raw := s.cfg.Get(config.KeyQueryTimeout); raw != "" {
		if secs, err := strconv.Atoi(raw); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return 0
}

// validate runs the probe against a never-validated engine. A probe failure
// caused by a pending multi-factor challenge triggers a one-shot rebind
// through device-code authentication on backends that support it; any other
// failure marks the engine invalid but keeps it registered so a later
// attempt can retry.
func (s *Session) validate(ctx context.Context, eng engine.Engine, opts RunOptions) (engine.Engine, error) {
	err := s.probe(ctx, eng, opts)
	if err == nil {
		eng.SetValidated(true)
		return eng, nil
	}

	if engine.IsAuthFactorError(err) && supportsDeviceCode(eng.Kind()) {
		s.log.Warnf("connection %s requires an additional authentication factor, retrying with device code", eng.Name())
		return s.rebindWithDeviceCode(ctx, eng, opts)
	}

	eng.SetValidated(false)
	return nil, &engine.ProbeError{Connection: eng.Name(), Cause: err}
}

func (s *Session) probe(ctx context.Context, eng engine.Engine, opts RunOptions) error {
	resp, err := eng.Execute(ctx, validationQuery, engine.ExecOptions{Timeout: s.timeout(opts)})
	if err != nil {
		return err
	}
	primaries := resp.PrimaryResults()
	if len(primaries) == 0 {
		return fmt.Errorf("%w: probe returned no result table", engine.ErrValidationProbe)
	}
	table := primaries[0]
	if table.RowCount() != 1 || table.ColCount() != 1 {
		return fmt.Errorf("%w: probe returned a %dx%d result", engine.ErrValidationProbe, table.RowCount(), table.ColCount())
	}
	row, err := table.Row(0)
	if err != nil {
		return fmt.Errorf("%w: %v", engine.ErrValidationProbe, err)
	}
	if !probeValueMatches(row[0]) {
		return fmt.Errorf("%w: probe returned %v, want %d", engine.ErrValidationProbe, row[0], validationExpected)
	}
	return nil
}

func probeValueMatches(v any) bool {
	switch n := v.(type) {
	case float64:
		return n == validationExpected
	case int64:
		return n == validationExpected
	case int:
		return n == validationExpected
	case string:
		return n == strconv.Itoa(validationExpected)
	default:
		return false
	}
}

// rebindWithDeviceCode builds a replacement connection that authenticates
// through a device code, probes it, and returns it. The database and cluster
// of the failing engine carry over; everything else starts fresh.
func (s *Session) rebindWithDeviceCode(ctx context.Context, failed engine.Engine, opts RunOptions) (engine.Engine, error) {
	raw := fmt.Sprintf("%s://code().cluster('%s').database('%s')",
		failed.Kind(), failed.Cluster(), failed.Spec().MandatoryValue())

	eng, err := s.GetOrCreate(ctx, raw)
	if err != nil {
		return nil, err
	}
	if eng.Validated() == engine.ValidationPassed {
		return eng, nil
	}
	if err := s.probe(ctx, eng, opts); err != nil {
		eng.SetValidated(false)
		return nil, &engine.ProbeError{Connection: eng.Name(), Cause: err}
	}
	eng.SetValidated(true)
	return eng, nil
}

func supportsDeviceCode(kind backends.BackendType) bool {
	cap, ok := backends.Get(kind)
	return ok && cap.SupportsDeviceCode
}

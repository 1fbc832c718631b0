package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"factory_device/internal/logger"
	"factory_device/internal/models"
	"factory_device/internal/property"
	"factory_device/internal/transport"
)

// ErrMalformedDesiredProperty marks a desired field that cannot be applied.
var ErrMalformedDesiredProperty = errors.New("malformed desired property")

// DesiredSource is the part of the connection reconciliation depends on.
type DesiredSource interface {
	GetDesired(ctx context.Context) (models.DesiredDocument, error)
	OnDesiredChanged(handler transport.DesiredHandler) error
}

// ReconcileResult lists what a reconciliation applied and rejected.
type ReconcileResult struct {
	Version int64            `json:"version"`
	Applied []string         `json:"applied"`
	Failed  map[string]error `json:"-"`
	// Stale is set when the document was older than the mirrored version and was skipped.
	Stale bool `json:"stale"`
}

// Err joins the per-property failures, sorted by name.
func (r ReconcileResult) Err() error {
	if len(r.Failed) == 0 {
		return nil
	}
	names := make([]string, 0, len(r.Failed))
	for name := range r.Failed {
		names = append(names, name)
	}
	sort.Strings(names)
	errs := make([]error, 0, len(names))
	for _, name := range names {
		errs = append(errs, r.Failed[name])
	}
	return errors.Join(errs...)
}

// ReconcileService applies desired-property documents to the store.
type ReconcileService struct {
	store  *property.Store
	source DesiredSource
	events EventRecorder
	log    *logger.Logger
}

func NewReconcileService(store *property.Store, source DesiredSource, events EventRecorder, log *logger.Logger) *ReconcileService {
	if events == nil {
		events = nopRecorder{}
	}
	if log == nil {
		log = logger.Nop()
	}
	return &ReconcileService{store: store, source: source, events: events, log: log}
}

// Reconcile applies every recognized property present in doc as an
// acknowledged value and pushes the reported document exactly once.
// Bad fields are rejected one by one; nothing is returned as an error.
func (s *ReconcileService) Reconcile(ctx context.Context, doc models.DesiredDocument) ReconcileResult {
	version := s.store.Version()
	if doc.HasVersion {
		if doc.Version < version {
			return s.skipStale(doc.Version, version)
		}
		version = doc.Version
	}

	res := ReconcileResult{Version: version, Failed: map[string]error{}}
	var entries []property.Entry
	for _, name := range s.store.RecognizedNames() {
		raw, ok := doc.Lookup(name)
		if !ok {
			continue
		}
		v, err := decodeDesired(name, raw, s.store.Kind(name))
		if err != nil {
			res.Failed[name] = err
			continue
		}
		entries = append(entries, property.Entry{Name: name, Property: models.NewAcknowledged(v, version)})
		res.Applied = append(res.Applied, name)
	}

	var changed int
	var err error
	if doc.HasVersion {
		changed, err = s.store.SetManyAt(version, entries)
	} else {
		changed, err = s.store.SetMany(entries)
	}
	if errors.Is(err, property.ErrStaleVersion) {
		// a newer document won the race for the store lock
		return s.skipStale(version, s.store.Version())
	}
	if err != nil {
		s.log.Errorw("desired_store_failed", "err", err)
	}
	if changed == 0 {
		s.store.Report()
	}

	for name, ferr := range res.Failed {
		s.log.Warnw("desired_property_rejected", "property", name, "version", version, "err", ferr)
		s.events.Record(ctx, models.EventDesiredRejected, "Desired property rejected", map[string]any{
			"property": name,
			"version":  version,
			"error":    ferr.Error(),
		})
	}
	if len(res.Applied) > 0 {
		s.log.Infow("desired_applied", "version", version, "properties", res.Applied, "changed", changed)
		s.events.Record(ctx, models.EventDesiredApplied, "Desired properties applied", map[string]any{
			"version":    version,
			"properties": res.Applied,
			"changed":    changed,
		})
	}
	return res
}

func (s *ReconcileService) skipStale(version, current int64) ReconcileResult {
	s.log.Infow("desired_stale_skipped", "version", version, "current_version", current)
	return ReconcileResult{Version: current, Failed: map[string]error{}, Stale: true}
}

// Sync fetches the full desired document and reconciles it. When the fetch
// fails the current properties are reported as they are.
func (s *ReconcileService) Sync(ctx context.Context) (ReconcileResult, error) {
	doc, err := s.source.GetDesired(ctx)
	if err != nil {
		s.log.Warnw("desired_fetch_failed", "err", err)
		s.store.Report()
		return ReconcileResult{}, fmt.Errorf("sync desired properties: %w", err)
	}
	return s.Reconcile(ctx, doc), nil
}

// Listen registers Reconcile for desired-property patches.
func (s *ReconcileService) Listen(ctx context.Context) error {
	return s.source.OnDesiredChanged(func(doc models.DesiredDocument) {
		if ctx.Err() != nil {
			return
		}
		s.Reconcile(ctx, doc)
	})
}

// decodeDesired extracts the "value" member of a desired field and converts
// it to the property's kind.
func decodeDesired(name string, raw json.RawMessage, kind models.Kind) (models.Value, error) {
	var field map[string]json.RawMessage
	if err := json.Unmarshal(raw, &field); err != nil || field == nil {
		return models.Value{}, fmt.Errorf("%w: %s: not an object", ErrMalformedDesiredProperty, name)
	}
	val, ok := field["value"]
	if !ok || string(val) == "null" {
		return models.Value{}, fmt.Errorf("%w: %s: missing value", ErrMalformedDesiredProperty, name)
	}

	var v models.Value
	if err := v.UnmarshalJSON(val); err != nil {
		return models.Value{}, fmt.Errorf("%w: %s: %v", ErrMalformedDesiredProperty, name, err)
	}
	conv, err := v.Convert(kind)
	if err != nil {
		return models.Value{}, fmt.Errorf("%w: %s: %w: %v", ErrMalformedDesiredProperty, name, property.ErrTypeMismatch, err)
	}
	if isInterval(name) {
		if ms, _ := conv.AsInt(); ms <= 0 {
			return models.Value{}, fmt.Errorf("%w: %s: interval must be positive, got %d", ErrMalformedDesiredProperty, name, ms)
		}
	}
	return conv, nil
}

func isInterval(name string) bool {
	return name == property.SendIntervalInMs || name == property.ReadIntervalInMs
}

// Package service implements identity resolution over the contact store.
//
// Resolve consolidates every contact that transitively shares an email or
// phone number with the request into a single cluster anchored by its
// oldest primary, demoting contending primaries and recording genuinely
// new field values as linked secondaries.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"unify/internal/audit"
	"unify/internal/contact/metrics"
	"unify/internal/contact/models"
	"unify/internal/contact/store"
	dErrors "unify/pkg/domain-errors"
	"unify/pkg/platform/sentinel"
	"unify/pkg/requestcontext"
)

// Resolution outcomes, used for metrics and tracing attributes.
const (
	outcomeCreated = "created"
	outcomeLinked  = "linked"
	outcomeMerged  = "merged"
	outcomeNoop    = "noop"
)

// Recorder receives audit events for cluster mutations. Emission is
// fail-open: implementations must not fail the resolution.
type Recorder interface {
	Record(ctx context.Context, event audit.Event)
}

type Service struct {
	store   store.Store
	logger  *slog.Logger
	metrics *metrics.Metrics
	audit   Recorder
	tracer  trace.Tracer
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithAuditRecorder(r Recorder) Option {
	return func(s *Service) {
		s.audit = r
	}
}

func New(st store.Store, opts ...Option) (*Service, error) {
	if st == nil {
		return nil, fmt.Errorf("contact store is required")
	}

	svc := &Service{
		store:  st,
		logger: slog.Default(),
		tracer: otel.Tracer("unify/contact"),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// Resolve returns the consolidated identity cluster for the given fields,
// creating or relinking contacts as needed. At least one field must be
// non-empty; the transport layer validates this first and Resolve re-checks
// as defense in depth.
//
// Writes are ordered so any abandoned call leaves a state the next read
// self-heals from: demotions first, then relinks, then at most one insert.
// Store failures abort the call unchanged; there are no retries here.
func (s *Service) Resolve(ctx context.Context, email, phoneNumber string) (*models.ClusterView, error) {
	ctx, span := s.tracer.Start(ctx, "contact.resolve", trace.WithAttributes(
		attribute.Bool("contact.email_present", email != ""),
		attribute.Bool("contact.phone_present", phoneNumber != ""),
	))
	defer span.End()

	if email == "" && phoneNumber == "" {
		return nil, dErrors.New(dErrors.CodeBadRequest, "at least one of email or phoneNumber is required")
	}

	seeds, err := s.store.FindByFields(ctx, email, phoneNumber)
	if err != nil {
		return nil, err
	}

	if len(seeds) == 0 {
		return s.createPrimary(ctx, span, email, phoneNumber)
	}

	cluster, err := s.expandCluster(ctx, seeds)
	if err != nil {
		return nil, err
	}

	canonical, contenders, err := s.resolveCanonicalPrimary(cluster)
	if err != nil {
		return nil, err
	}

	merged := len(contenders) > 0
	if merged {
		if err := s.demoteContenders(ctx, canonical, contenders); err != nil {
			return nil, err
		}
	}

	inserted, err := s.recordNewInformation(ctx, canonical, cluster, email, phoneNumber)
	if err != nil {
		return nil, err
	}

	view, err := s.readCluster(ctx, canonical.ID)
	if err != nil {
		return nil, err
	}

	outcome := outcomeNoop
	switch {
	case merged:
		outcome = outcomeMerged
	case inserted:
		outcome = outcomeLinked
	}
	span.SetAttributes(attribute.String("contact.outcome", outcome))
	s.observe(outcome)

	s.logger.InfoContext(ctx, "identity resolved",
		"request_id", requestcontext.RequestID(ctx),
		"primary_id", view.PrimaryContactID,
		"secondaries", len(view.SecondaryContactIDs),
		"outcome", outcome,
	)
	return view, nil
}

// createPrimary handles the empty-seed case: the identity is brand new.
func (s *Service) createPrimary(ctx context.Context, span trace.Span, email, phoneNumber string) (*models.ClusterView, error) {
	created, err := s.store.Insert(ctx, store.InsertParams{
		Email:          optional(email),
		PhoneNumber:    optional(phoneNumber),
		LinkPrecedence: models.LinkPrecedencePrimary,
	})
	if err != nil {
		return nil, err
	}

	span.SetAttributes(attribute.String("contact.outcome", outcomeCreated))
	s.observe(outcomeCreated)
	s.record(ctx, audit.Event{
		Action:      audit.ActionPrimaryCreated,
		ContactID:   created.ID,
		CanonicalID: created.ID,
	})
	s.logger.InfoContext(ctx, "new primary contact created",
		"request_id", requestcontext.RequestID(ctx),
		"primary_id", created.ID,
	)

	view := &models.ClusterView{PrimaryContactID: created.ID}
	if created.Email != nil {
		view.Emails = []string{*created.Email}
	}
	if created.PhoneNumber != nil {
		view.PhoneNumbers = []string{*created.PhoneNumber}
	}
	return view, nil
}

// expandCluster widens the seed set to the full cluster in one extra
// round-trip: seeds plus, for each secondary seed, its owning primary, plus
// every contact linked to any primary candidate. One hop suffices because
// secondaries never chain.
func (s *Service) expandCluster(ctx context.Context, seeds []*models.Contact) ([]*models.Contact, error) {
	idSet := make(map[int64]bool)
	var ids []int64
	var primaryCandidates []int64

	add := func(id int64) {
		if !idSet[id] {
			idSet[id] = true
			ids = append(ids, id)
		}
	}

	for _, seed := range seeds {
		add(seed.ID)
		if seed.IsPrimary() {
			primaryCandidates = append(primaryCandidates, seed.ID)
		} else if seed.LinkedID != nil {
			add(*seed.LinkedID)
			primaryCandidates = append(primaryCandidates, *seed.LinkedID)
		}
	}

	cluster, err := s.store.FindByIDsOrLinkedIDs(ctx, ids, primaryCandidates)
	if err != nil {
		return nil, err
	}
	return cluster, nil
}

// resolveCanonicalPrimary picks the oldest primary (lower id on equal
// createdAt; the store's ordering guarantees the first primary wins) and
// returns the remaining primaries as contenders to demote.
func (s *Service) resolveCanonicalPrimary(cluster []*models.Contact) (*models.Contact, []*models.Contact, error) {
	var canonical *models.Contact
	var contenders []*models.Contact
	for _, c := range cluster {
		if !c.IsPrimary() {
			continue
		}
		if canonical == nil {
			canonical = c
		} else {
			contenders = append(contenders, c)
		}
	}
	if canonical == nil {
		// Integrity fault: a cluster without a primary cannot be repaired
		// here, only surfaced.
		return nil, nil, dErrors.New(dErrors.CodeInternal, "identity cluster has no primary contact")
	}
	return canonical, contenders, nil
}

// demoteContenders flips every contending primary to secondary under the
// canonical primary, then re-points their former secondaries so no contact
// is left linked to a now-secondary row. The demotion batch is issued and
// awaited before the relink batch.
func (s *Service) demoteContenders(ctx context.Context, canonical *models.Contact, contenders []*models.Contact) error {
	demoteIDs := make([]int64, 0, len(contenders))
	for _, c := range contenders {
		demoteIDs = append(demoteIDs, c.ID)
	}

	demoted, err := s.store.UpdateManyPrecedenceAndLink(ctx, demoteIDs, models.LinkPrecedenceSecondary, &canonical.ID)
	if err != nil {
		return err
	}
	if _, err := s.store.UpdateManyLinkedID(ctx, demoteIDs, canonical.ID); err != nil {
		return err
	}

	if s.metrics != nil {
		s.metrics.PrimariesDemoted.Add(float64(demoted))
	}
	for _, c := range contenders {
		s.record(ctx, audit.Event{
			Action:      audit.ActionClusterMerged,
			ContactID:   c.ID,
			CanonicalID: canonical.ID,
		})
	}
	s.logger.InfoContext(ctx, "contending primaries demoted",
		"request_id", requestcontext.RequestID(ctx),
		"canonical_id", canonical.ID,
		"demoted", demoted,
	)
	return nil
}

// recordNewInformation inserts one secondary carrying exactly the field(s)
// the cluster has not seen before. Known values stay null on the new row.
// Returns whether an insert happened.
func (s *Service) recordNewInformation(ctx context.Context, canonical *models.Contact, cluster []*models.Contact, email, phoneNumber string) (bool, error) {
	knownEmails := make(map[string]bool)
	knownPhones := make(map[string]bool)
	for _, c := range cluster {
		if c.Email != nil {
			knownEmails[*c.Email] = true
		}
		if c.PhoneNumber != nil {
			knownPhones[*c.PhoneNumber] = true
		}
	}

	newEmail := email != "" && !knownEmails[email]
	newPhone := phoneNumber != "" && !knownPhones[phoneNumber]
	if !newEmail && !newPhone {
		return false, nil
	}

	params := store.InsertParams{
		LinkedID:       &canonical.ID,
		LinkPrecedence: models.LinkPrecedenceSecondary,
	}
	if newEmail {
		params.Email = optional(email)
	}
	if newPhone {
		params.PhoneNumber = optional(phoneNumber)
	}

	created, err := s.store.Insert(ctx, params)
	if err != nil {
		return false, err
	}

	if s.metrics != nil {
		s.metrics.SecondariesCreated.Inc()
	}
	s.record(ctx, audit.Event{
		Action:      audit.ActionSecondaryCreated,
		ContactID:   created.ID,
		CanonicalID: canonical.ID,
	})
	return true, nil
}

// readCluster re-reads the final cluster and formats the deterministic
// view: primary's own values first, then secondaries' in ascending creation
// order, deduplicated.
func (s *Service) readCluster(ctx context.Context, canonicalID int64) (*models.ClusterView, error) {
	cluster, err := s.store.FindByIDsOrLinkedIDs(ctx, []int64{canonicalID}, []int64{canonicalID})
	if err != nil {
		return nil, err
	}

	var primary *models.Contact
	for _, c := range cluster {
		if c.ID == canonicalID {
			primary = c
			break
		}
	}
	if primary == nil {
		return nil, dErrors.New(dErrors.CodeInternal, "identity cluster has no primary contact")
	}

	view := &models.ClusterView{PrimaryContactID: primary.ID}
	seenEmails := make(map[string]bool)
	seenPhones := make(map[string]bool)

	appendValues := func(c *models.Contact) {
		if c.Email != nil && !seenEmails[*c.Email] {
			seenEmails[*c.Email] = true
			view.Emails = append(view.Emails, *c.Email)
		}
		if c.PhoneNumber != nil && !seenPhones[*c.PhoneNumber] {
			seenPhones[*c.PhoneNumber] = true
			view.PhoneNumbers = append(view.PhoneNumbers, *c.PhoneNumber)
		}
	}

	appendValues(primary)
	for _, c := range cluster {
		if c.ID == primary.ID {
			continue
		}
		appendValues(c)
		view.SecondaryContactIDs = append(view.SecondaryContactIDs, c.ID)
	}
	return view, nil
}

// ListClusters groups every non-deleted contact under its primary, for the
// operator listing endpoint.
func (s *Service) ListClusters(ctx context.Context) ([]models.ClusterGroup, error) {
	contacts, err := s.store.ListAll(ctx)
	if err != nil {
		return nil, err
	}

	groups := make(map[int64]*models.ClusterGroup)
	var order []int64
	for _, c := range contacts {
		if !c.IsPrimary() {
			continue
		}
		groups[c.ID] = &models.ClusterGroup{Primary: toSummary(c), Total: 1}
		order = append(order, c.ID)
	}
	for _, c := range contacts {
		if c.IsPrimary() || c.LinkedID == nil {
			continue
		}
		group, ok := groups[*c.LinkedID]
		if !ok {
			// Orphaned secondary: surfaced in logs, excluded from listing.
			s.logger.WarnContext(ctx, "secondary contact with no primary",
				"contact_id", c.ID,
				"linked_id", *c.LinkedID,
			)
			continue
		}
		group.Secondaries = append(group.Secondaries, toSummary(c))
		group.Total++
	}

	out := make([]models.ClusterGroup, 0, len(order))
	for _, id := range order {
		g := groups[id]
		if g.Secondaries == nil {
			g.Secondaries = []models.ContactSummary{}
		}
		out = append(out, *g)
	}
	return out, nil
}

// Health reports whether the backing store is reachable.
func (s *Service) Health(ctx context.Context) error {
	if err := s.store.Ping(ctx); err != nil {
		if errors.Is(err, sentinel.ErrUnavailable) {
			return dErrors.Wrap(err, dErrors.CodeUnavailable, "contact store unreachable")
		}
		return err
	}
	return nil
}

func (s *Service) observe(outcome string) {
	if s.metrics != nil {
		s.metrics.Resolutions.WithLabelValues(outcome).Inc()
	}
}

func (s *Service) record(ctx context.Context, event audit.Event) {
	if s.audit == nil {
		return
	}
	event.RequestID = requestcontext.RequestID(ctx)
	s.audit.Record(ctx, event)
}

func toSummary(c *models.Contact) models.ContactSummary {
	const layout = "2006-01-02T15:04:05.000Z07:00"
	return models.ContactSummary{
		ID:             c.ID,
		Email:          c.Email,
		PhoneNumber:    c.PhoneNumber,
		LinkPrecedence: c.LinkPrecedence,
		LinkedID:       c.LinkedID,
		CreatedAt:      c.CreatedAt.UTC().Format(layout),
		UpdatedAt:      c.UpdatedAt.UTC().Format(layout),
	}
}

func optional(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

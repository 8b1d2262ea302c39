package service

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"unify/internal/audit"
	"unify/internal/contact/models"
	"unify/internal/contact/store"
	"unify/internal/contact/store/memory"
	dErrors "unify/pkg/domain-errors"
	"unify/pkg/requestcontext"
)

// syncRecorder appends audit events synchronously for assertions.
type syncRecorder struct {
	sink *audit.MemorySink
}

func (r *syncRecorder) Record(ctx context.Context, event audit.Event) {
	_ = r.sink.Append(ctx, event)
}

// ResolverSuite exercises the reconciliation algorithm against the
// in-memory store. Creation times are pinned through the request context
// so ordering and tie-breaks are deterministic.
type ResolverSuite struct {
	suite.Suite
	store   *memory.InMemory
	sink    *audit.MemorySink
	service *Service
	base    time.Time
}

func TestResolverSuite(t *testing.T) {
	suite.Run(t, new(ResolverSuite))
}

func (s *ResolverSuite) SetupTest() {
	s.store = memory.New()
	s.sink = audit.NewMemorySink()
	s.base = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	svc, err := New(s.store,
		WithLogger(logger),
		WithAuditRecorder(&syncRecorder{sink: s.sink}),
	)
	s.Require().NoError(err)
	s.service = svc
}

func (s *ResolverSuite) ctxAt(offset time.Duration) context.Context {
	return requestcontext.WithTime(context.Background(), s.base.Add(offset))
}

func strPtr(v string) *string { return &v }

// seed inserts a contact directly through the store, bypassing the
// resolver, to set up pre-existing state including invariant violations
// (e.g. two primaries sharing a field, as left by a write race).
func (s *ResolverSuite) seed(offset time.Duration, email, phone string, precedence models.LinkPrecedence, linkedID *int64) *models.Contact {
	params := store.InsertParams{LinkPrecedence: precedence, LinkedID: linkedID}
	if email != "" {
		params.Email = strPtr(email)
	}
	if phone != "" {
		params.PhoneNumber = strPtr(phone)
	}
	c, err := s.store.Insert(s.ctxAt(offset), params)
	s.Require().NoError(err)
	return c
}

func (s *ResolverSuite) TestNewPrimaryCreation() {
	view, err := s.service.Resolve(s.ctxAt(0), "a@x.com", "")
	s.Require().NoError(err)

	s.Equal([]string{"a@x.com"}, view.Emails)
	s.Empty(view.PhoneNumbers)
	s.Empty(view.SecondaryContactIDs)

	rows := s.store.Snapshot()
	s.Require().Len(rows, 1)
	s.Equal(models.LinkPrecedencePrimary, rows[0].LinkPrecedence)
	s.Nil(rows[0].LinkedID)
	s.Equal(view.PrimaryContactID, rows[0].ID)

	events := s.sink.Events()
	s.Require().Len(events, 1)
	s.Equal(audit.ActionPrimaryCreated, events[0].Action)
}

func (s *ResolverSuite) TestInvalidInput() {
	_, err := s.service.Resolve(context.Background(), "", "")
	s.Require().Error(err)
	s.True(dErrors.Is(err, dErrors.CodeBadRequest))
}

func (s *ResolverSuite) TestNewInformationLinking() {
	a := s.seed(0, "a@x.com", "p1", models.LinkPrecedencePrimary, nil)

	view, err := s.service.Resolve(s.ctxAt(time.Minute), "a@x.com", "p2")
	s.Require().NoError(err)

	s.Equal(a.ID, view.PrimaryContactID)
	s.Equal([]string{"a@x.com"}, view.Emails)
	s.Equal([]string{"p1", "p2"}, view.PhoneNumbers)
	s.Require().Len(view.SecondaryContactIDs, 1)

	rows := s.store.Snapshot()
	s.Require().Len(rows, 2)
	created := rows[1]
	s.Equal(models.LinkPrecedenceSecondary, created.LinkPrecedence)
	s.Require().NotNil(created.LinkedID)
	s.Equal(a.ID, *created.LinkedID)
	// Only the new field is recorded; the known email stays null.
	s.Nil(created.Email)
	s.Require().NotNil(created.PhoneNumber)
	s.Equal("p2", *created.PhoneNumber)
}

func (s *ResolverSuite) TestNoopOnFullyKnownInfo() {
	a := s.seed(0, "a@x.com", "p1", models.LinkPrecedencePrimary, nil)
	sec := s.seed(time.Minute, "", "p2", models.LinkPrecedenceSecondary, &a.ID)

	before := s.store.Snapshot()
	view, err := s.service.Resolve(s.ctxAt(2*time.Minute), "a@x.com", "p2")
	s.Require().NoError(err)

	s.Equal(a.ID, view.PrimaryContactID)
	s.Equal([]int64{sec.ID}, view.SecondaryContactIDs)
	// Zero writes: every row is byte-identical to before the call.
	s.Equal(before, s.store.Snapshot())
	s.Empty(s.sink.Events())
}

func (s *ResolverSuite) TestIdempotentReResolution() {
	first, err := s.service.Resolve(s.ctxAt(0), "a@x.com", "p1")
	s.Require().NoError(err)

	second, err := s.service.Resolve(s.ctxAt(time.Minute), "a@x.com", "p1")
	s.Require().NoError(err)

	s.Equal(first.PrimaryContactID, second.PrimaryContactID)
	s.Len(second.SecondaryContactIDs, len(first.SecondaryContactIDs))
	s.Require().Len(s.store.Snapshot(), 1)
}

func (s *ResolverSuite) TestMergeBySharedField() {
	a := s.seed(0, "a@x.com", "p1", models.LinkPrecedencePrimary, nil)
	b := s.seed(time.Minute, "b@x.com", "p1", models.LinkPrecedencePrimary, nil)

	view, err := s.service.Resolve(s.ctxAt(2*time.Minute), "b@x.com", "p1")
	s.Require().NoError(err)

	s.Equal(a.ID, view.PrimaryContactID)
	s.Equal([]int64{b.ID}, view.SecondaryContactIDs)
	s.Equal([]string{"a@x.com", "b@x.com"}, view.Emails)
	s.Equal([]string{"p1"}, view.PhoneNumbers)

	rows := s.store.Snapshot()
	s.Require().Len(rows, 2, "no new row: the request carried no new information")
	demoted := rows[1]
	s.Equal(models.LinkPrecedenceSecondary, demoted.LinkPrecedence)
	s.Require().NotNil(demoted.LinkedID)
	s.Equal(a.ID, *demoted.LinkedID)

	events := s.sink.Events()
	s.Require().Len(events, 1)
	s.Equal(audit.ActionClusterMerged, events[0].Action)
	s.Equal(b.ID, events[0].ContactID)
	s.Equal(a.ID, events[0].CanonicalID)
}

func (s *ResolverSuite) TestOldestWinsAcrossTransitiveChain() {
	// A-B share an email, B-C share a phone; one call touching all three
	// must leave A primary and B, C linked directly to A.
	a := s.seed(0, "a@x.com", "p1", models.LinkPrecedencePrimary, nil)
	b := s.seed(time.Minute, "a@x.com", "p2", models.LinkPrecedencePrimary, nil)
	c := s.seed(2*time.Minute, "c@x.com", "p2", models.LinkPrecedencePrimary, nil)

	view, err := s.service.Resolve(s.ctxAt(3*time.Minute), "a@x.com", "p2")
	s.Require().NoError(err)

	s.Equal(a.ID, view.PrimaryContactID)
	s.Equal([]int64{b.ID, c.ID}, view.SecondaryContactIDs)

	rows := s.store.Snapshot()
	s.Require().Len(rows, 3)
	for _, row := range rows[1:] {
		s.Equal(models.LinkPrecedenceSecondary, row.LinkPrecedence)
		s.Require().NotNil(row.LinkedID)
		s.Equal(a.ID, *row.LinkedID, "secondaries must link directly to the canonical primary, never chain")
	}
}

func (s *ResolverSuite) TestDemotionRelinksExistingSecondaries() {
	a := s.seed(0, "a@x.com", "p1", models.LinkPrecedencePrimary, nil)
	b := s.seed(time.Minute, "b@x.com", "p2", models.LinkPrecedencePrimary, nil)
	sec := s.seed(2*time.Minute, "", "p3", models.LinkPrecedenceSecondary, &b.ID)

	view, err := s.service.Resolve(s.ctxAt(3*time.Minute), "a@x.com", "p2")
	s.Require().NoError(err)

	s.Equal(a.ID, view.PrimaryContactID)
	s.ElementsMatch([]int64{b.ID, sec.ID}, view.SecondaryContactIDs)

	rows := s.store.Snapshot()
	for _, row := range rows {
		if row.ID == a.ID {
			continue
		}
		s.Require().NotNil(row.LinkedID)
		s.Equal(a.ID, *row.LinkedID)
	}
	// The sibling's phone joins the cluster view through the closure.
	s.Equal([]string{"p1", "p2", "p3"}, view.PhoneNumbers)
}

func (s *ResolverSuite) TestTieBreakOnIdenticalCreatedAt() {
	// Two primaries with the same createdAt, as left by a duplicate-primary
	// race: the lower id must win.
	a := s.seed(0, "a@x.com", "p1", models.LinkPrecedencePrimary, nil)
	b := s.seed(0, "a@x.com", "p2", models.LinkPrecedencePrimary, nil)

	view, err := s.service.Resolve(s.ctxAt(time.Minute), "a@x.com", "")
	s.Require().NoError(err)

	s.Equal(a.ID, view.PrimaryContactID)
	s.Equal([]int64{b.ID}, view.SecondaryContactIDs)
}

func (s *ResolverSuite) TestSoftDeletedContactsExcluded() {
	a := s.seed(0, "a@x.com", "p1", models.LinkPrecedencePrimary, nil)
	gone := s.seed(time.Minute, "", "p2", models.LinkPrecedenceSecondary, &a.ID)
	s.store.SoftDelete(s.ctxAt(2*time.Minute), gone.ID)

	view, err := s.service.Resolve(s.ctxAt(3*time.Minute), "a@x.com", "")
	s.Require().NoError(err)

	s.Equal(a.ID, view.PrimaryContactID)
	s.Empty(view.SecondaryContactIDs)
	s.Equal([]string{"p1"}, view.PhoneNumbers)
}

func (s *ResolverSuite) TestNoCanonicalPrimaryIsIntegrityFault() {
	// An orphaned secondary whose primary row is soft-deleted leaves a
	// cluster with no primary; the resolver must surface, not patch.
	a := s.seed(0, "a@x.com", "p1", models.LinkPrecedencePrimary, nil)
	s.seed(time.Minute, "", "p2", models.LinkPrecedenceSecondary, &a.ID)
	s.store.SoftDelete(s.ctxAt(2*time.Minute), a.ID)

	_, err := s.service.Resolve(s.ctxAt(3*time.Minute), "", "p2")
	s.Require().Error(err)
	s.True(dErrors.Is(err, dErrors.CodeInternal))
}

func (s *ResolverSuite) TestMergeAndNewInformationTogether() {
	// One call can both consolidate primaries and record a new field.
	a := s.seed(0, "a@x.com", "", models.LinkPrecedencePrimary, nil)
	b := s.seed(time.Minute, "a@x.com", "p1", models.LinkPrecedencePrimary, nil)

	view, err := s.service.Resolve(s.ctxAt(2*time.Minute), "a@x.com", "p9")
	s.Require().NoError(err)

	s.Equal(a.ID, view.PrimaryContactID)
	s.Require().Len(view.SecondaryContactIDs, 2)
	s.Equal([]string{"a@x.com"}, view.Emails)
	s.Equal([]string{"p1", "p9"}, view.PhoneNumbers)

	rows := s.store.Snapshot()
	s.Require().Len(rows, 3)
	s.Equal(models.LinkPrecedenceSecondary, rows[1].LinkPrecedence)
	s.Require().NotNil(rows[2].LinkedID)
	s.Equal(a.ID, *rows[2].LinkedID, "new secondary links to the already-canonical primary")
	_ = b
}

func (s *ResolverSuite) TestListClusters() {
	a := s.seed(0, "a@x.com", "p1", models.LinkPrecedencePrimary, nil)
	s.seed(time.Minute, "", "p2", models.LinkPrecedenceSecondary, &a.ID)
	s.seed(2*time.Minute, "z@x.com", "", models.LinkPrecedencePrimary, nil)

	groups, err := s.service.ListClusters(context.Background())
	s.Require().NoError(err)
	s.Require().Len(groups, 2)
	s.Equal(a.ID, groups[0].Primary.ID)
	s.Equal(2, groups[0].Total)
	s.Len(groups[0].Secondaries, 1)
	s.Equal(1, groups[1].Total)
	s.Empty(groups[1].Secondaries)
}

func (s *ResolverSuite) TestNilStoreRejected() {
	_, err := New(nil)
	s.Require().Error(err)
	s.Contains(err.Error(), "contact store is required")
}

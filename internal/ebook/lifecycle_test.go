package ebook_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"elibrary/internal/access"
	"elibrary/internal/apperr"
	"elibrary/internal/ebook"
	"elibrary/internal/fine"
	"elibrary/internal/request"
	"elibrary/internal/storage/memory"
	"elibrary/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var start = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type harness struct {
	clock    *testutil.Clock
	ebooks   *memory.EbookRepo
	fines    *memory.FineRepo
	requests *request.Service
	ledger   *fine.Service
	engine   *ebook.Engine
}

func newHarness(t *testing.T, fineOpts ...fine.Option) *harness {
	t.Helper()
	h := &harness{
		clock:  testutil.NewClock(start),
		ebooks: memory.NewEbookRepo(),
		fines:  memory.NewFineRepo(),
	}
	h.requests = request.NewService(memory.NewRequestRepo(), h.clock.Now)
	opts := append([]fine.Option{fine.WithClock(h.clock.Now)}, fineOpts...)
	h.ledger = fine.NewService(h.fines, ebook.LoanSource(h.ebooks), opts...)
	h.engine = ebook.NewEngine(h.ebooks, h.requests, h.ledger, ebook.WithClock(h.clock.Now))
	return h
}

func (h *harness) addEbook(t *testing.T, id string) {
	t.Helper()
	require.NoError(t, h.ebooks.Create(context.Background(), &ebook.Ebook{
		ID:        id,
		Title:     "Title " + id,
		Authors:   []string{"Author"},
		Status:    ebook.StatusAvailable,
		CreatedAt: start,
		UpdatedAt: start,
	}))
}

// issue walks id through request and grant for actor.
func (h *harness) issue(t *testing.T, id string, actor access.Actor) ebook.Ebook {
	t.Helper()
	ctx := context.Background()
	req, err := h.engine.RequestBook(ctx, actor, id)
	require.NoError(t, err)
	d, err := h.engine.DecideRequest(ctx, testutil.Librarian, req.ID, request.StatusGranted)
	require.NoError(t, err)
	require.NotNil(t, d.Ebook)
	return *d.Ebook
}

func (h *harness) stored(t *testing.T, id string) ebook.Ebook {
	t.Helper()
	b, err := h.ebooks.GetByID(context.Background(), id)
	require.NoError(t, err)
	require.NoError(t, b.CheckInvariants())
	return b
}

func assertKind(t *testing.T, err error, kind apperr.Kind) {
	t.Helper()
	require.Error(t, err)
	assert.Equal(t, kind, apperr.KindOf(err), "error: %v", err)
}

func TestRequestAndGrant(t *testing.T) {
	h := newHarness(t)
	h.addEbook(t, "e1")
	ctx := context.Background()

	req, err := h.engine.RequestBook(ctx, testutil.Reader, "e1")
	require.NoError(t, err)
	assert.Equal(t, request.StatusPending, req.Status)
	assert.Equal(t, ebook.StatusAvailable, h.stored(t, "e1").Status, "requesting does not touch the ebook")

	d, err := h.engine.DecideRequest(ctx, testutil.Librarian, req.ID, request.StatusGranted)
	require.NoError(t, err)
	assert.Equal(t, request.StatusGranted, d.Request.Status)

	b := h.stored(t, "e1")
	assert.Equal(t, ebook.StatusIssued, b.Status)
	require.NotNil(t, b.IssuedTo)
	assert.Equal(t, testutil.Reader.UserID, *b.IssuedTo)
	assert.Equal(t, start, *b.DateIssued)
	assert.Equal(t, start.Add(fine.LoanPeriod), *b.ReturnDate)
	assert.Equal(t, int64(1), b.Version)

	stored, err := h.requests.Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, request.StatusGranted, stored.Status)
}

func TestRequestBook_Rules(t *testing.T) {
	h := newHarness(t)
	h.addEbook(t, "e1")
	ctx := context.Background()

	_, err := h.engine.RequestBook(ctx, testutil.Librarian, "e1")
	assertKind(t, err, apperr.KindForbidden)

	_, err = h.engine.RequestBook(ctx, testutil.Reader, "missing")
	assertKind(t, err, apperr.KindNotFound)

	_, err = h.engine.RequestBook(ctx, testutil.Reader, "e1")
	require.NoError(t, err)
	_, err = h.engine.RequestBook(ctx, testutil.Reader, "e1")
	assertKind(t, err, apperr.KindConflict)

	// Another reader may queue for the same title.
	_, err = h.engine.RequestBook(ctx, testutil.OtherUser, "e1")
	require.NoError(t, err)
}

func TestRequestBook_HolderCannotRequestAgain(t *testing.T) {
	h := newHarness(t)
	h.addEbook(t, "e1")
	h.issue(t, "e1", testutil.Reader)

	_, err := h.engine.RequestBook(context.Background(), testutil.Reader, "e1")
	assertKind(t, err, apperr.KindConflict)
}

func TestDecideRequest_Reject(t *testing.T) {
	h := newHarness(t)
	h.addEbook(t, "e1")
	ctx := context.Background()

	req, err := h.engine.RequestBook(ctx, testutil.Reader, "e1")
	require.NoError(t, err)

	d, err := h.engine.DecideRequest(ctx, testutil.Librarian, req.ID, request.StatusRejected)
	require.NoError(t, err)
	assert.Equal(t, request.StatusRejected, d.Request.Status)
	assert.Nil(t, d.Ebook)
	assert.Equal(t, ebook.StatusAvailable, h.stored(t, "e1").Status)

	_, err = h.engine.DecideRequest(ctx, testutil.Librarian, req.ID, request.StatusGranted)
	assertKind(t, err, apperr.KindConflict)

	// A rejected request no longer blocks a new one.
	_, err = h.engine.RequestBook(ctx, testutil.Reader, "e1")
	require.NoError(t, err)
}

func TestDecideRequest_Rules(t *testing.T) {
	h := newHarness(t)
	h.addEbook(t, "e1")
	ctx := context.Background()

	req, err := h.engine.RequestBook(ctx, testutil.Reader, "e1")
	require.NoError(t, err)

	_, err = h.engine.DecideRequest(ctx, testutil.Reader, req.ID, request.StatusGranted)
	assertKind(t, err, apperr.KindForbidden)

	_, err = h.engine.DecideRequest(ctx, testutil.Librarian, req.ID, request.StatusPending)
	assertKind(t, err, apperr.KindValidation)

	_, err = h.engine.DecideRequest(ctx, testutil.Librarian, "missing", request.StatusGranted)
	assertKind(t, err, apperr.KindNotFound)
}

func TestDecideRequest_DoubleGrantConflicts(t *testing.T) {
	h := newHarness(t)
	h.addEbook(t, "e1")
	ctx := context.Background()

	first, err := h.engine.RequestBook(ctx, testutil.Reader, "e1")
	require.NoError(t, err)
	second, err := h.engine.RequestBook(ctx, testutil.OtherUser, "e1")
	require.NoError(t, err)

	_, err = h.engine.DecideRequest(ctx, testutil.Librarian, first.ID, request.StatusGranted)
	require.NoError(t, err)

	_, err = h.engine.DecideRequest(ctx, testutil.Librarian, second.ID, request.StatusGranted)
	assertKind(t, err, apperr.KindConflict)

	b := h.stored(t, "e1")
	assert.Equal(t, testutil.Reader.UserID, *b.IssuedTo)

	pending, err := h.requests.Get(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, request.StatusPending, pending.Status, "refused grant leaves the request pending")
}

func TestDecideRequest_ConcurrentGrantsIssueOnce(t *testing.T) {
	h := newHarness(t)
	h.addEbook(t, "e1")
	ctx := context.Background()

	readers := []access.Actor{
		testutil.Reader,
		testutil.OtherUser,
		{UserID: "00000000-0000-0000-0000-0000000000a3", Role: access.RoleUser},
		{UserID: "00000000-0000-0000-0000-0000000000a4", Role: access.RoleUser},
	}
	ids := make([]string, 0, len(readers))
	for _, r := range readers {
		req, err := h.engine.RequestBook(ctx, r, "e1")
		require.NoError(t, err)
		ids = append(ids, req.ID)
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		granted   int
		conflicts int
	)
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := h.engine.DecideRequest(ctx, testutil.Librarian, id, request.StatusGranted)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				granted++
			case apperr.KindOf(err) == apperr.KindConflict:
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(id)
	}
	wg.Wait()

	assert.Equal(t, 1, granted)
	assert.Equal(t, len(ids)-1, conflicts)
	assert.Equal(t, int64(1), h.stored(t, "e1").Version)
}

// Scenario: due in the future, return succeeds with no fine.
func TestReturnBook_OnTime(t *testing.T) {
	h := newHarness(t)
	h.addEbook(t, "e1")
	h.issue(t, "e1", testutil.Reader)
	h.clock.Advance(3 * 24 * time.Hour)

	b, err := h.engine.ReturnBook(context.Background(), testutil.Reader, "e1")
	require.NoError(t, err)
	assert.Equal(t, ebook.StatusAvailable, b.Status)
	assert.Nil(t, b.IssuedTo)
	assert.Nil(t, b.ReturnDate)
	assert.Zero(t, b.FineAmount)
	require.NotNil(t, b.ActualReturnDate)
	assert.Equal(t, h.clock.Now(), *b.ActualReturnDate)
	require.NoError(t, b.CheckInvariants())

	fines, err := h.ledger.ListFines(context.Background(), testutil.Reader.UserID)
	require.NoError(t, err)
	assert.Empty(t, fines)
}

func TestReturnBook_ExactlyOnDueDateIsFree(t *testing.T) {
	h := newHarness(t)
	h.addEbook(t, "e1")
	h.issue(t, "e1", testutil.Reader)
	h.clock.Advance(fine.LoanPeriod)

	_, err := h.engine.ReturnBook(context.Background(), testutil.Reader, "e1")
	require.NoError(t, err)
}

// Scenario: overdue by 3 days 2 hours, return refused with 40 owed.
func TestReturnBook_BlockedByFine(t *testing.T) {
	h := newHarness(t)
	h.addEbook(t, "e1")
	issued := h.issue(t, "e1", testutil.Reader)
	h.clock.Advance(fine.LoanPeriod + 3*24*time.Hour + 2*time.Hour)
	ctx := context.Background()

	_, err := h.engine.ReturnBook(ctx, testutil.Reader, "e1")
	assertKind(t, err, apperr.KindBlocked)
	e, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, int64(40), e.Amount)

	b := h.stored(t, "e1")
	assert.Equal(t, ebook.StatusIssued, b.Status)
	assert.Equal(t, issued.Version, b.Version, "blocked return writes nothing to the ebook")

	fines, err := h.ledger.ListFines(ctx, testutil.Reader.UserID)
	require.NoError(t, err)
	require.Len(t, fines, 1)
	assert.Equal(t, int64(40), fines[0].FineAmount)
	assert.Equal(t, "e1", fines[0].EbookID)
	assert.False(t, fines[0].Paid)
}

func TestReturnBook_RepeatedAttemptsAppendFines(t *testing.T) {
	h := newHarness(t)
	h.addEbook(t, "e1")
	h.issue(t, "e1", testutil.Reader)
	h.clock.Advance(fine.LoanPeriod + time.Hour)
	ctx := context.Background()

	_, err := h.engine.ReturnBook(ctx, testutil.Reader, "e1")
	assertKind(t, err, apperr.KindBlocked)
	_, err = h.engine.ReturnBook(ctx, testutil.Reader, "e1")
	assertKind(t, err, apperr.KindBlocked)

	fines, err := h.ledger.ListFines(ctx, testutil.Reader.UserID)
	require.NoError(t, err)
	assert.Len(t, fines, 2)
}

func TestReturnBook_DedupeKeepsOneOutstandingFine(t *testing.T) {
	h := newHarness(t, fine.WithOutstandingDedupe(true))
	h.addEbook(t, "e1")
	h.issue(t, "e1", testutil.Reader)
	h.clock.Advance(fine.LoanPeriod + time.Hour)
	ctx := context.Background()

	_, err := h.engine.ReturnBook(ctx, testutil.Reader, "e1")
	assertKind(t, err, apperr.KindBlocked)
	h.clock.Advance(24 * time.Hour)
	_, err = h.engine.ReturnBook(ctx, testutil.Reader, "e1")
	assertKind(t, err, apperr.KindBlocked)

	fines, err := h.ledger.ListFines(ctx, testutil.Reader.UserID)
	require.NoError(t, err)
	require.Len(t, fines, 1)
	assert.Equal(t, int64(20), fines[0].FineAmount)
}

func TestReturnBook_Rules(t *testing.T) {
	h := newHarness(t)
	h.addEbook(t, "e1")
	ctx := context.Background()

	_, err := h.engine.ReturnBook(ctx, testutil.Reader, "e1")
	assertKind(t, err, apperr.KindConflict)

	h.issue(t, "e1", testutil.Reader)

	_, err = h.engine.ReturnBook(ctx, testutil.OtherUser, "e1")
	assertKind(t, err, apperr.KindForbidden)

	_, err = h.engine.ReturnBook(ctx, testutil.Librarian, "e1")
	assertKind(t, err, apperr.KindForbidden)

	_, err = h.engine.ReturnBook(ctx, testutil.Reader, "missing")
	assertKind(t, err, apperr.KindNotFound)
}

func TestNotifyAndApproveReturn(t *testing.T) {
	h := newHarness(t)
	h.addEbook(t, "e1")
	h.issue(t, "e1", testutil.Reader)
	// Overdue loans may still be handed back through the librarian.
	h.clock.Advance(fine.LoanPeriod + 48*time.Hour)
	ctx := context.Background()

	_, err := h.engine.NotifyReturn(ctx, testutil.OtherUser, "e1")
	assertKind(t, err, apperr.KindForbidden)

	_, err = h.engine.ApproveReturn(ctx, testutil.Librarian, "e1")
	assertKind(t, err, apperr.KindConflict)

	b, err := h.engine.NotifyReturn(ctx, testutil.Reader, "e1")
	require.NoError(t, err)
	assert.Equal(t, ebook.StatusPendingReturn, b.Status)
	assert.Equal(t, testutil.Reader.UserID, *b.IssuedTo)
	require.NoError(t, b.CheckInvariants())

	_, err = h.engine.NotifyReturn(ctx, testutil.Reader, "e1")
	assertKind(t, err, apperr.KindForbidden)

	_, err = h.engine.ApproveReturn(ctx, testutil.Reader, "e1")
	assertKind(t, err, apperr.KindForbidden)

	b, err = h.engine.ApproveReturn(ctx, testutil.Librarian, "e1")
	require.NoError(t, err)
	assert.Equal(t, ebook.StatusAvailable, b.Status)
	assert.Nil(t, b.IssuedTo)
	require.NotNil(t, b.ActualReturnDate)
	require.NoError(t, b.CheckInvariants())

	// The ebook can circulate again.
	h.issue(t, "e1", testutil.OtherUser)
}

// Scenario: revoke an overdue loan; the ledger is untouched.
func TestRevoke(t *testing.T) {
	h := newHarness(t)
	h.addEbook(t, "e1")
	h.issue(t, "e1", testutil.Reader)
	h.clock.Advance(fine.LoanPeriod + 3*24*time.Hour + 2*time.Hour)
	ctx := context.Background()

	_, err := h.engine.ReturnBook(ctx, testutil.Reader, "e1")
	assertKind(t, err, apperr.KindBlocked)
	before, err := h.ledger.ListFines(ctx, testutil.Reader.UserID)
	require.NoError(t, err)

	_, err = h.engine.Revoke(ctx, testutil.Reader, "e1")
	assertKind(t, err, apperr.KindForbidden)

	b, err := h.engine.Revoke(ctx, testutil.Librarian, "e1")
	require.NoError(t, err)
	assert.Equal(t, ebook.StatusAvailable, b.Status)
	assert.Nil(t, b.IssuedTo)
	assert.Nil(t, b.ActualReturnDate)
	require.NoError(t, b.CheckInvariants())

	after, err := h.ledger.ListFines(ctx, testutil.Reader.UserID)
	require.NoError(t, err)
	assert.Equal(t, before, after)

	_, err = h.engine.Revoke(ctx, testutil.Librarian, "e1")
	assertKind(t, err, apperr.KindConflict)
}

func TestRevoke_PendingReturn(t *testing.T) {
	h := newHarness(t)
	h.addEbook(t, "e1")
	h.issue(t, "e1", testutil.Reader)
	ctx := context.Background()

	_, err := h.engine.NotifyReturn(ctx, testutil.Reader, "e1")
	require.NoError(t, err)
	b, err := h.engine.Revoke(ctx, testutil.Librarian, "e1")
	require.NoError(t, err)
	assert.Equal(t, ebook.StatusAvailable, b.Status)
}

func TestPayFineThenReturn(t *testing.T) {
	h := newHarness(t)
	h.addEbook(t, "e1")
	h.issue(t, "e1", testutil.Reader)
	h.clock.Advance(fine.LoanPeriod + time.Hour)
	ctx := context.Background()

	_, err := h.engine.ReturnBook(ctx, testutil.Reader, "e1")
	assertKind(t, err, apperr.KindBlocked)
	fines, err := h.ledger.ListFines(ctx, testutil.Reader.UserID)
	require.NoError(t, err)
	require.Len(t, fines, 1)
	f := fines[0]

	_, err = h.engine.ConfirmFinePayment(ctx, testutil.OtherUser, ebook.PaymentConfirmation{FineID: f.ID, Amount: 10, PaymentID: "pay_1"})
	assertKind(t, err, apperr.KindForbidden)

	_, err = h.engine.ConfirmFinePayment(ctx, testutil.Reader, ebook.PaymentConfirmation{FineID: f.ID, Amount: 5, PaymentID: "pay_1"})
	assertKind(t, err, apperr.KindValidation)

	paid, err := h.engine.ConfirmFinePayment(ctx, testutil.Reader, ebook.PaymentConfirmation{FineID: f.ID, Amount: 10, PaymentID: "pay_1"})
	require.NoError(t, err)
	assert.True(t, paid.Paid)
	assert.Equal(t, "pay_1", paid.PaymentRef)
	require.NotNil(t, paid.PaymentDate)

	total, err := h.ledger.OutstandingTotal(ctx, testutil.Reader.UserID)
	require.NoError(t, err)
	assert.Zero(t, total)

	// Paying settles the ledger; the loan itself is still overdue.
	_, err = h.engine.ReturnBook(ctx, testutil.Reader, "e1")
	assertKind(t, err, apperr.KindBlocked)
}

func TestConfirmFinePayment_Validation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	cases := []struct {
		name  string
		pc    ebook.PaymentConfirmation
		field string
	}{
		{"missing fine", ebook.PaymentConfirmation{Amount: 10, PaymentID: "p"}, "fineId"},
		{"missing payment", ebook.PaymentConfirmation{FineID: "f", Amount: 10}, "paymentId"},
		{"zero amount", ebook.PaymentConfirmation{FineID: "f", PaymentID: "p"}, "fineAmount"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := h.engine.ConfirmFinePayment(ctx, testutil.Reader, tc.pc)
			assertKind(t, err, apperr.KindValidation)
			e, _ := apperr.As(err)
			assert.Equal(t, tc.field, e.Field)
		})
	}

	_, err := h.engine.ConfirmFinePayment(ctx, testutil.Reader, ebook.PaymentConfirmation{FineID: "nope", Amount: 10, PaymentID: "p"})
	assertKind(t, err, apperr.KindNotFound)
}

func TestPayFine_LibrarianMayPayForReader(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.fines.Create(ctx, &fine.Fine{ID: "f1", UserID: testutil.Reader.UserID, EbookID: "e1", FineAmount: 30}))

	paid, err := h.engine.PayFine(ctx, testutil.Librarian, "f1")
	require.NoError(t, err)
	assert.True(t, paid.Paid)

	again, err := h.engine.PayFine(ctx, testutil.Reader, "f1")
	require.NoError(t, err)
	assert.Equal(t, paid.PaymentDate, again.PaymentDate)
}

func TestRefreshFine(t *testing.T) {
	h := newHarness(t)
	h.addEbook(t, "e1")
	h.addEbook(t, "e2")
	h.issue(t, "e1", testutil.Reader)
	ctx := context.Background()

	b, err := h.engine.RefreshFine(ctx, "e1")
	require.NoError(t, err)
	assert.Zero(t, b.FineAmount)
	assert.Equal(t, int64(1), b.Version, "unchanged fine is not written")

	h.clock.Advance(fine.LoanPeriod + 25*time.Hour)
	b, err = h.engine.RefreshFine(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, int64(20), b.FineAmount)
	assert.Equal(t, ebook.StatusIssued, b.Status)

	other, err := h.engine.RefreshFine(ctx, "e2")
	require.NoError(t, err)
	assert.Equal(t, ebook.StatusAvailable, other.Status)
	assert.Zero(t, other.FineAmount)

	fines, err := h.ledger.ListFines(ctx, testutil.Reader.UserID)
	require.NoError(t, err)
	assert.Empty(t, fines, "refreshing never writes to the ledger")
}

func TestIssuedTo(t *testing.T) {
	h := newHarness(t)
	h.addEbook(t, "e1")
	h.addEbook(t, "e2")
	h.addEbook(t, "e3")
	h.issue(t, "e1", testutil.Reader)
	h.issue(t, "e2", testutil.OtherUser)
	ctx := context.Background()
	require.NoError(t, h.fines.Create(ctx, &fine.Fine{ID: "old", UserID: testutil.Reader.UserID, EbookID: "e3", FineAmount: 30}))

	h.clock.Advance(fine.LoanPeriod + time.Hour)
	books, outstanding, err := h.engine.IssuedTo(ctx, testutil.Reader)
	require.NoError(t, err)
	require.Len(t, books, 1)
	assert.Equal(t, "e1", books[0].ID)
	assert.Equal(t, int64(10), books[0].CurrentFine)
	assert.Equal(t, int64(30), outstanding)

	_, _, err = h.engine.IssuedTo(ctx, access.Actor{})
	assertKind(t, err, apperr.KindForbidden)
}

func TestHeldEbooks(t *testing.T) {
	h := newHarness(t)
	h.addEbook(t, "e1")
	h.addEbook(t, "e2")
	h.issue(t, "e1", testutil.Reader)

	held, err := h.engine.HeldEbooks(context.Background())
	require.NoError(t, err)
	require.Len(t, held, 1)
	assert.Equal(t, "e1", held[0].ID)
}

func TestStorageFailureIsInfra(t *testing.T) {
	h := newHarness(t)
	h.addEbook(t, "e1")
	h.ebooks.FailNext = errors.New("connection refused")

	_, err := h.engine.RequestBook(context.Background(), testutil.Reader, "e1")
	assertKind(t, err, apperr.KindInfra)
}

// staleRepo serves a fixed snapshot to simulate a writer that raced ahead.
type staleRepo struct {
	*memory.EbookRepo
	snapshot ebook.Ebook
}

func (r staleRepo) GetByID(context.Context, string) (ebook.Ebook, error) {
	return r.snapshot, nil
}

func TestSave_VersionConflictIsConflict(t *testing.T) {
	h := newHarness(t)
	h.addEbook(t, "e1")
	ctx := context.Background()
	snapshot := h.stored(t, "e1")

	h.issue(t, "e1", testutil.Reader)
	h.clock.Advance(time.Hour)

	repo := staleRepo{EbookRepo: h.ebooks, snapshot: snapshot}
	engine := ebook.NewEngine(repo, h.requests, h.ledger, ebook.WithClock(h.clock.Now))

	req, err := h.requests.AddOrReplaceRequest(ctx, testutil.OtherUser.UserID, "e1")
	require.NoError(t, err)
	_, err = engine.DecideRequest(ctx, testutil.Librarian, req.ID, request.StatusGranted)
	assertKind(t, err, apperr.KindConflict)
	assert.Equal(t, testutil.Reader.UserID, *h.stored(t, "e1").IssuedTo)
}

// flakyQueue fails the next grant it is asked to record.
type flakyQueue struct {
	*request.Service
	failGrant bool
}

func (q *flakyQueue) SetStatus(ctx context.Context, id string, status request.Status) error {
	if status == request.StatusGranted && q.failGrant {
		q.failGrant = false
		return apperr.Infra("update request", errors.New("connection reset"))
	}
	return q.Service.SetStatus(ctx, id, status)
}

func TestDecideRequest_InterruptedGrant(t *testing.T) {
	h := newHarness(t)
	h.addEbook(t, "e1")
	queue := &flakyQueue{Service: h.requests, failGrant: true}
	engine := ebook.NewEngine(h.ebooks, queue, h.ledger, ebook.WithClock(h.clock.Now))
	ctx := context.Background()

	req, err := engine.RequestBook(ctx, testutil.Reader, "e1")
	require.NoError(t, err)

	_, err = engine.DecideRequest(ctx, testutil.Librarian, req.ID, request.StatusGranted)
	assertKind(t, err, apperr.KindInfra)
	b := h.stored(t, "e1")
	require.Equal(t, ebook.StatusIssued, b.Status)
	pending, err := h.requests.Get(ctx, req.ID)
	require.NoError(t, err)
	require.Equal(t, request.StatusPending, pending.Status)

	// Rejecting would leave the loan without a granted request.
	_, err = engine.DecideRequest(ctx, testutil.Librarian, req.ID, request.StatusRejected)
	assertKind(t, err, apperr.KindConflict)

	d, err := engine.DecideRequest(ctx, testutil.Librarian, req.ID, request.StatusGranted)
	require.NoError(t, err)
	assert.Equal(t, request.StatusGranted, d.Request.Status)
	require.NotNil(t, d.Ebook)
	assert.Equal(t, b.Version, d.Ebook.Version, "retry does not issue twice")
	assert.Equal(t, *b.ReturnDate, *d.Ebook.ReturnDate)

	granted, err := h.requests.Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, request.StatusGranted, granted.Status)
}

package dispatch

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/deadlock-vault/internal/application/mutate"
	"github.com/deadlock-vault/internal/domain"
	"github.com/deadlock-vault/internal/infrastructure/memstore"
	"github.com/deadlock-vault/internal/pkg/keylock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockSink struct{ mock.Mock }

func (m *mockSink) Notify(ctx context.Context, n domain.NomineeNotice) error {
	return m.Called(ctx, n).Error(0)
}

// plainRevealer treats "sealed:<x>" as the ciphertext of x.
type plainRevealer struct{}

func (plainRevealer) Reveal(sealed string) (string, error) {
	s, ok := strings.CutPrefix(sealed, "sealed:")
	if !ok {
		return "", domain.ErrEscrow
	}
	return s, nil
}

var now = time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)

func notifiedVault() *domain.Vault {
	v := &domain.Vault{
		VaultID:   "v1",
		OwnerID:   "o1",
		VaultName: "family",
		Status:    domain.StatusNomineesNotified,
		Nominees: []domain.Nominee{
			{ID: 1, Email: "a@example.com", Status: domain.NomineePending},
			{ID: 2, Email: "b@example.com", Status: domain.NomineePending},
			{ID: 3, Email: "c@example.com", Status: domain.NomineePending},
		},
		Shares: domain.ShareSet{Threshold: 3, TotalShares: 3, Fragments: []domain.ShareFragment{
			{ShareID: 1, EncryptedShare: "sealed:s1"},
			{ShareID: 2, EncryptedShare: "sealed:s2"},
			{ShareID: 3, EncryptedShare: "sealed:s3"},
		}},
		ShareCheckpoint: domain.NewShareCheckpoint(),
		UnlockRequest:   &domain.UnlockRequest{Reason: "grace period elapsed"},
	}
	return v
}

func newDispatcher(t *testing.T, v *domain.Vault, sink domain.NotificationSink) (*Dispatcher, *memstore.VaultRepo) {
	t.Helper()
	repo := memstore.NewVaultRepo()
	require.NoError(t, repo.Insert(context.Background(), v))
	locks := keylock.New()
	clock := func() time.Time { return now }
	return New(Deps{
		Store:   repo,
		Mutator: mutate.New(repo, locks, clock),
		Escrow:  plainRevealer{},
		Sink:    sink,
		Locks:   locks,
		Now:     clock,
	}), repo
}

func TestDispatch_NotifiesEachNomineeWithOwnShare(t *testing.T) {
	sink := &mockSink{}
	for i, email := range []string{"a@example.com", "b@example.com", "c@example.com"} {
		share := []string{"s1", "s2", "s3"}[i]
		sink.On("Notify", mock.Anything, mock.MatchedBy(func(n domain.NomineeNotice) bool {
			return n.NomineeEmail == email && n.RevealedShare == share && n.Reason == "grace period elapsed"
		})).Return(nil).Once()
	}

	d, repo := newDispatcher(t, notifiedVault(), sink)
	rep, err := d.Dispatch(context.Background(), "v1")
	require.NoError(t, err)
	assert.Equal(t, Report{VaultID: "v1", Sent: 3}, rep)
	sink.AssertExpectations(t)

	v, err := repo.GetByID(context.Background(), "v1")
	require.NoError(t, err)
	for _, n := range v.Nominees {
		require.NotNil(t, n.NotifiedAt)
		assert.Equal(t, now, *n.NotifiedAt)
	}
}

func TestDispatch_SecondRunSendsNothing(t *testing.T) {
	sink := &mockSink{}
	sink.On("Notify", mock.Anything, mock.Anything).Return(nil).Times(3)

	d, _ := newDispatcher(t, notifiedVault(), sink)
	_, err := d.Dispatch(context.Background(), "v1")
	require.NoError(t, err)

	rep, err := d.Dispatch(context.Background(), "v1")
	require.NoError(t, err)
	assert.Equal(t, 0, rep.Sent)
	assert.Equal(t, 3, rep.Skipped)
	sink.AssertNumberOfCalls(t, "Notify", 3)
}

func TestDispatch_FailedDeliveryStaysPending(t *testing.T) {
	sink := &mockSink{}
	sink.On("Notify", mock.Anything, mock.MatchedBy(func(n domain.NomineeNotice) bool {
		return n.NomineeID == 2
	})).Return(errors.New("smtp down"))
	sink.On("Notify", mock.Anything, mock.Anything).Return(nil)

	d, repo := newDispatcher(t, notifiedVault(), sink)
	rep, err := d.Dispatch(context.Background(), "v1")
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Sent)
	assert.Equal(t, 1, rep.Failed)

	v, _ := repo.GetByID(context.Background(), "v1")
	assert.NotNil(t, v.Nominees[0].NotifiedAt)
	assert.Nil(t, v.Nominees[1].NotifiedAt)
	assert.NotNil(t, v.Nominees[2].NotifiedAt)
	assert.Equal(t, domain.StatusNomineesNotified, v.Status)
}

func TestDispatch_RevealFailureSkipsNominee(t *testing.T) {
	v := notifiedVault()
	v.Shares.Fragments[0].EncryptedShare = "garbage"
	sink := &mockSink{}
	sink.On("Notify", mock.Anything, mock.Anything).Return(nil)

	d, _ := newDispatcher(t, v, sink)
	rep, err := d.Dispatch(context.Background(), "v1")
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Sent)
	assert.Equal(t, 1, rep.Failed)
	sink.AssertNumberOfCalls(t, "Notify", 2)
}

func TestDispatch_NoSharesStillNotifies(t *testing.T) {
	v := notifiedVault()
	v.Shares = domain.ShareSet{}
	sink := &mockSink{}
	sink.On("Notify", mock.Anything, mock.MatchedBy(func(n domain.NomineeNotice) bool {
		return n.RevealedShare == ""
	})).Return(nil)

	d, _ := newDispatcher(t, v, sink)
	rep, err := d.Dispatch(context.Background(), "v1")
	require.NoError(t, err)
	assert.Equal(t, 3, rep.Sent)
}

func TestDispatch_IgnoresVaultNotYetNotified(t *testing.T) {
	v := notifiedVault()
	v.Status = domain.StatusGracePeriod
	sink := &mockSink{}

	d, _ := newDispatcher(t, v, sink)
	rep, err := d.Dispatch(context.Background(), "v1")
	require.NoError(t, err)
	assert.Equal(t, Report{VaultID: "v1"}, rep)
	sink.AssertNotCalled(t, "Notify", mock.Anything, mock.Anything)
}

package nominee

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"testing"
	"time"

	"github.com/deadlock-vault/internal/application/mutate"
	"github.com/deadlock-vault/internal/domain"
	"github.com/deadlock-vault/internal/infrastructure/escrow"
	"github.com/deadlock-vault/internal/infrastructure/memstore"
	"github.com/deadlock-vault/internal/pkg/keylock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	now    = time.Date(2026, 7, 1, 10, 0, 0, 0, time.UTC)
	emails = []string{"ann@example.com", "bob@example.com", "cat@example.com"}
	shares = []string{"share-one", "share-two", "share-three"}
)

type fixture struct {
	svc   Service
	repo  *memstore.VaultRepo
	blobs *memstore.Blobs
	esc   *escrow.Escrow
}

func newEscrow(t *testing.T) *escrow.Escrow {
	t.Helper()
	key := make([]byte, 32)
	_, err := rand.Read(key)
	require.NoError(t, err)
	e, err := escrow.New(base64.StdEncoding.EncodeToString(key))
	require.NoError(t, err)
	return e
}

func setup(t *testing.T, status domain.VaultStatus) *fixture {
	t.Helper()
	esc := newEscrow(t)
	set, err := esc.SealSet(shares, now)
	require.NoError(t, err)

	v := &domain.Vault{
		VaultID:         "v1",
		OwnerID:         "o1",
		VaultName:       "estate",
		Status:          status,
		Shares:          set,
		ShareCheckpoint: domain.NewShareCheckpoint(),
		UnlockRequest:   &domain.UnlockRequest{RequestedAt: now, Reason: "owner requested unlock", ApprovalsRequired: 3},
	}
	for i, e := range emails {
		v.Nominees = append(v.Nominees, domain.Nominee{ID: i + 1, Email: e, Status: domain.NomineePending})
	}

	repo := memstore.NewVaultRepo()
	require.NoError(t, repo.Insert(context.Background(), v))
	blobs := memstore.NewBlobs()
	clock := func() time.Time { return now }

	svc := NewService(ServiceDeps{
		Store:   repo,
		Mutator: mutate.New(repo, keylock.New(), clock),
		Escrow:  esc,
		Blobs:   blobs,
		Now:     clock,
	})
	return &fixture{svc: svc, repo: repo, blobs: blobs, esc: esc}
}

func submit(f *fixture, i int) (*domain.CheckpointResult, error) {
	return f.svc.SubmitShare(context.Background(), "v1", domain.SubmitShareInput{Nominee: emails[i], Share: shares[i]})
}

func TestSubmitShare_UnlocksExactlyOnThird(t *testing.T) {
	f := setup(t, domain.StatusNomineesNotified)

	for i := 0; i < 3; i++ {
		res, err := submit(f, i)
		require.NoError(t, err)
		assert.Equal(t, i+1, res.SubmittedCount)
		assert.Equal(t, 3, res.Required)
		if i < 2 {
			assert.Equal(t, domain.StatusNomineesNotified, res.Status)
			assert.False(t, res.CanAccess)
		} else {
			assert.Equal(t, domain.StatusUnlocked, res.Status)
			assert.True(t, res.CanAccess)
		}
	}

	v, err := f.repo.GetByID(context.Background(), "v1")
	require.NoError(t, err)
	require.NotNil(t, v.UnlockRequest.CompletedAt)
	assert.Equal(t, 3, v.UnlockRequest.ApprovedCount)
	for _, n := range v.Nominees {
		assert.Equal(t, domain.NomineeApproved, n.Status)
		assert.NotNil(t, n.ShareSubmittedAt)
	}
}

func TestSubmitShare_SameNomineeTwiceCountsOnce(t *testing.T) {
	f := setup(t, domain.StatusNomineesNotified)

	_, err := submit(f, 0)
	require.NoError(t, err)
	res, err := f.svc.SubmitShare(context.Background(), "v1",
		domain.SubmitShareInput{Nominee: "  ANN@Example.com ", Share: " share-one\n"})
	require.NoError(t, err)
	assert.Equal(t, 1, res.SubmittedCount)
}

func TestSubmitShare_WrongShareLeavesCheckpointUnchanged(t *testing.T) {
	f := setup(t, domain.StatusNomineesNotified)
	_, err := submit(f, 0)
	require.NoError(t, err)

	_, err = f.svc.SubmitShare(context.Background(), "v1",
		domain.SubmitShareInput{Nominee: emails[1], Share: shares[2]})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrForbidden))

	v, _ := f.repo.GetByID(context.Background(), "v1")
	assert.Equal(t, 1, v.ShareCheckpoint.SubmittedCount)
	assert.Len(t, v.ShareCheckpoint.SubmittedByNominee, 1)
	assert.Equal(t, domain.NomineePending, v.Nominees[1].Status)
}

func TestSubmitShare_BeforeNotificationDenied(t *testing.T) {
	for _, st := range []domain.VaultStatus{domain.StatusActive, domain.StatusMissedCheckIn, domain.StatusGracePeriod} {
		f := setup(t, st)
		_, err := submit(f, 0)
		assert.True(t, errors.Is(err, domain.ErrForbidden), st)
	}
}

func TestSubmitShare_RejectsMalformedInput(t *testing.T) {
	f := setup(t, domain.StatusNomineesNotified)
	for name, in := range map[string]domain.SubmitShareInput{
		"not an email": {Nominee: "ann", Share: shares[0]},
		"no share":     {Nominee: emails[0]},
		"no nominee":   {Share: shares[0]},
	} {
		_, err := f.svc.SubmitShare(context.Background(), "v1", in)
		assert.True(t, errors.Is(err, domain.ErrBadRequest), name)
	}

	v, _ := f.repo.GetByID(context.Background(), "v1")
	assert.Equal(t, 0, v.ShareCheckpoint.SubmittedCount)
}

func TestSubmitShare_UnknownNominee(t *testing.T) {
	f := setup(t, domain.StatusNomineesNotified)
	_, err := f.svc.SubmitShare(context.Background(), "v1",
		domain.SubmitShareInput{Nominee: "eve@example.com", Share: shares[0]})
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestSubmitShare_IncompleteEscrow(t *testing.T) {
	f := setup(t, domain.StatusNomineesNotified)
	ctx := context.Background()
	v, _ := f.repo.GetByID(ctx, "v1")
	v.Shares.Fragments = v.Shares.Fragments[:2]
	require.NoError(t, f.repo.Update(ctx, v))

	_, err := submit(f, 0)
	assert.True(t, errors.Is(err, domain.ErrConflict))
}

func TestSubmitShare_EscrowFailureIsNotAccessDenied(t *testing.T) {
	f := setup(t, domain.StatusNomineesNotified)
	ctx := context.Background()
	v, _ := f.repo.GetByID(ctx, "v1")
	v.Shares.Fragments[0].EncryptedShare = "v1.AAAA"
	require.NoError(t, f.repo.Update(ctx, v))

	_, err := submit(f, 0)
	assert.True(t, errors.Is(err, domain.ErrEscrow))
	assert.False(t, errors.Is(err, domain.ErrForbidden))
}

func TestSubmitShare_ThresholdWithoutUnlockRequest(t *testing.T) {
	f := setup(t, domain.StatusNomineesNotified)
	ctx := context.Background()
	v, _ := f.repo.GetByID(ctx, "v1")
	v.UnlockRequest = nil
	require.NoError(t, f.repo.Update(ctx, v))

	for i := 0; i < 3; i++ {
		_, err := submit(f, i)
		require.NoError(t, err)
	}
	v, _ = f.repo.GetByID(ctx, "v1")
	require.NotNil(t, v.UnlockRequest)
	assert.Equal(t, domain.StatusUnlocked, v.Status)
	assert.NotNil(t, v.UnlockRequest.CompletedAt)
}

func TestFiles_RequireFullUnlock(t *testing.T) {
	f := setup(t, domain.StatusNomineesNotified)
	ctx := context.Background()

	v, _ := f.repo.GetByID(ctx, "v1")
	v.Files = []domain.VaultFile{{FileID: "f1", Name: "will.pdf", Bucket: "bkt", StorageKey: "vaults/v1/files/f1-will.pdf"}}
	require.NoError(t, f.repo.Update(ctx, v))
	require.NoError(t, f.blobs.EnsureBucket(ctx, "bkt"))
	require.NoError(t, f.blobs.Put(ctx, "bkt", "vaults/v1/files/f1-will.pdf", []byte("cipher"), "application/pdf"))

	_, err := submit(f, 0)
	require.NoError(t, err)
	_, err = f.svc.ListFiles(ctx, "v1", emails[0], shares[0])
	assert.True(t, errors.Is(err, domain.ErrForbidden), "own correct share is not enough")

	_, err = submit(f, 1)
	require.NoError(t, err)
	_, err = submit(f, 2)
	require.NoError(t, err)

	files, err := f.svc.ListFiles(ctx, "v1", emails[1], shares[1])
	require.NoError(t, err)
	require.Len(t, files, 1)

	file, data, err := f.svc.DownloadFile(ctx, "v1", "f1", emails[2], shares[2])
	require.NoError(t, err)
	assert.Equal(t, "will.pdf", file.Name)
	assert.Equal(t, []byte("cipher"), data)

	_, _, err = f.svc.DownloadFile(ctx, "v1", "nope", emails[2], shares[2])
	assert.True(t, errors.Is(err, domain.ErrNotFound))

	_, err = f.svc.ListFiles(ctx, "v1", emails[0], "wrong")
	assert.True(t, errors.Is(err, domain.ErrForbidden))
}

func TestCheckpointAndApprovals(t *testing.T) {
	f := setup(t, domain.StatusNomineesNotified)
	ctx := context.Background()
	_, err := submit(f, 1)
	require.NoError(t, err)

	cp, err := f.svc.Checkpoint(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, 1, cp.SubmittedCount)
	assert.False(t, cp.CanAccess)

	ap, err := f.svc.Approvals(ctx, "v1")
	require.NoError(t, err)
	require.Len(t, ap.Nominees, 3)
	assert.Equal(t, "b***@example.com", ap.Nominees[1].Email)
	assert.Equal(t, domain.NomineeApproved, ap.Nominees[1].Status)
	assert.Equal(t, domain.NomineePending, ap.Nominees[0].Status)

	_, err = f.svc.Checkpoint(ctx, "missing")
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestAuthenticate_Steps(t *testing.T) {
	f := setup(t, domain.StatusNomineesNotified)
	v, _ := f.repo.GetByID(context.Background(), "v1")

	n, err := Authenticate(v, f.esc, "CAT@example.com", "share-three", false)
	require.NoError(t, err)
	assert.Equal(t, 3, n.ID)

	_, err = Authenticate(v, f.esc, "cat@example.com", "share-three", true)
	assert.True(t, errors.Is(err, domain.ErrForbidden))

	_, err = Authenticate(v, f.esc, "cat@example.com", "share-one", false)
	assert.True(t, errors.Is(err, domain.ErrForbidden))
}

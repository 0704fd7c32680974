package services

import (
	"context"
	"encoding/base64"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frfusch21/digital-signer-app/internal/db/models"
)

// signingFixture is a document with one signature box assigned to its
// owner, ready for initiate/complete.
type signingFixture struct {
	env      *testEnv
	owner    *models.User
	ownerKey *UserKeyMaterial
	docID    string
	box      models.SignatureBox
	raw      []byte
}

func newSigningFixture(t *testing.T) *signingFixture {
	t.Helper()
	env := newTestEnv(t)
	ctx := context.Background()

	owner, ownerKey := env.createUser(t, "alice", "alice-pw-123")
	raw := []byte("agreement to be signed")
	result, err := env.encryption.UploadDocument(ctx, owner.ID, "deal.pdf", "application/pdf", raw)
	require.NoError(t, err)

	require.NoError(t, env.signing.SaveDraftBoxes(ctx, result.DocumentID, owner.ID, []BoxDraft{
		{UserID: owner.ID, Page: 1, RelX: 0.1, RelY: 0.2, RelWidth: 0.3, RelHeight: 0.1, Type: models.BoxTyped},
	}))

	boxes, err := env.signing.ListBoxes(ctx, result.DocumentID, owner.ID)
	require.NoError(t, err)
	require.Len(t, boxes, 1)

	return &signingFixture{
		env:      env,
		owner:    owner,
		ownerKey: ownerKey,
		docID:    result.DocumentID,
		box:      boxes[0],
		raw:      raw,
	}
}

func (f *signingFixture) initiate(t *testing.T) *InitiateResult {
	t.Helper()
	result, err := f.env.signing.Initiate(context.Background(), f.docID, f.owner.ID, "10.0.0.1", []BoxSpec{
		{BoxID: "box-1", DBID: f.box.ID, Page: f.box.Page, Content: "Alice A."},
	})
	require.NoError(t, err)
	return result
}

func (f *signingFixture) completeParams(t *testing.T, initiated *InitiateResult) CompleteParams {
	t.Helper()
	return CompleteParams{
		DocumentID:    f.docID,
		UserID:        f.owner.ID,
		Nonce:         initiated.Nonce,
		Signature:     signHash(t, f.ownerKey.PrivateKeyPEM, initiated.Hash),
		Boxes:         []BoxUpdate{{DBID: f.box.ID, Content: "Alice A."}},
		DocumentData:  base64.StdEncoding.EncodeToString(f.raw),
		PrivateKeyPEM: f.ownerKey.PrivateKeyPEM,
	}
}

func TestSigningHashDeterministic(t *testing.T) {
	boxes := []BoxSpec{{BoxID: "b1", DBID: 7, Page: 2, Content: "X"}}

	h1, err := SigningHash("doc-1", "nonce-1", boxes)
	require.NoError(t, err)
	h2, err := SigningHash("doc-1", "nonce-1", boxes)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 64)

	h3, err := SigningHash("doc-1", "nonce-2", boxes)
	require.NoError(t, err)
	assert.NotEqual(t, h1, h3)

	h4, err := SigningHash("doc-2", "nonce-1", boxes)
	require.NoError(t, err)
	assert.NotEqual(t, h1, h4)
}

func TestInitiateIssuesBoundNonce(t *testing.T) {
	f := newSigningFixture(t)
	initiated := f.initiate(t)

	assert.Len(t, initiated.Nonce, 32)
	assert.True(t, initiated.ExpiresAt.After(time.Now()))

	var row models.SignatureNonce
	require.NoError(t, f.env.db.Where("nonce = ?", initiated.Nonce).First(&row).Error)
	assert.Equal(t, f.docID, row.DocumentID)
	assert.Equal(t, f.owner.ID, row.UserID)
	assert.Equal(t, initiated.Hash, row.Hash)
	assert.Contains(t, row.Boxes, `"content":"Alice A."`)
	assert.False(t, row.Used)
	assert.Equal(t, models.NoncePending, row.Status)
	assert.Equal(t, "10.0.0.1", row.IPAddress)
}

func TestInitiateRejectsForeignBox(t *testing.T) {
	f := newSigningFixture(t)
	ctx := context.Background()

	bob, _ := f.env.createUser(t, "bob", "bob-pw-12345")
	require.NoError(t, f.env.encryption.AddCollaborator(ctx, f.docID, f.owner.ID, f.ownerKey.PrivateKeyPEM, bob.ID))

	// Bob holds his own box, so he is a legitimate participant.
	require.NoError(t, f.env.signing.SaveDraftBoxes(ctx, f.docID, f.owner.ID, []BoxDraft{
		{ID: f.box.ID, UserID: f.owner.ID, Page: 1, RelX: 0.1, RelY: 0.2, RelWidth: 0.3, RelHeight: 0.1, Type: models.BoxTyped},
		{UserID: bob.ID, Page: 1, RelX: 0.6, RelY: 0.2, RelWidth: 0.3, RelHeight: 0.1, Type: models.BoxTyped},
	}))

	// The referenced box belongs to alice; bob naming it must be
	// rejected outright, not filtered.
	_, err := f.env.signing.Initiate(ctx, f.docID, bob.ID, "10.0.0.2", []BoxSpec{
		{BoxID: "box-1", DBID: f.box.ID, Page: f.box.Page, Content: "Bob B."},
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotYourBox))

	// No nonce row may survive a failed initiate.
	var count int64
	require.NoError(t, f.env.db.Model(&models.SignatureNonce{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestInitiateRejectsNonParticipant(t *testing.T) {
	f := newSigningFixture(t)
	mallory, _ := f.env.createUser(t, "mallory", "mallory-pw-1")

	_, err := f.env.signing.Initiate(context.Background(), f.docID, mallory.ID, "10.0.0.3", []BoxSpec{
		{BoxID: "box-1", DBID: f.box.ID, Page: f.box.Page, Content: "M"},
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNoSigningPermission))
}

func TestInitiateRejectsUnknownBox(t *testing.T) {
	f := newSigningFixture(t)

	_, err := f.env.signing.Initiate(context.Background(), f.docID, f.owner.ID, "10.0.0.1", []BoxSpec{
		{BoxID: "box-1", DBID: f.box.ID + 100, Page: 1, Content: "A"},
	})
	assert.True(t, errors.Is(err, ErrBoxNotFound))

	_, err = f.env.signing.Initiate(context.Background(), f.docID, f.owner.ID, "10.0.0.1", nil)
	require.Error(t, err)
}

func TestCompleteAppliesSignatureAtomically(t *testing.T) {
	f := newSigningFixture(t)
	ctx := context.Background()

	doc, err := f.env.encryption.GetDocument(ctx, f.docID)
	require.NoError(t, err)
	envBefore := doc.EncryptedFileData

	initiated := f.initiate(t)
	require.NoError(t, f.env.signing.Complete(ctx, f.completeParams(t, initiated)))
	assert.Equal(t, 1, f.env.renderer.calls)

	// Envelope now holds the rendered output under the original DEK/IV.
	after, err := f.env.encryption.GetDocument(ctx, f.docID)
	require.NoError(t, err)
	assert.NotEqual(t, envBefore, after.EncryptedFileData)
	assert.Equal(t, doc.IV, after.IV)
	assert.Equal(t, models.StatusFinalized, after.Status)

	back, err := f.env.encryption.ReadDocument(ctx, f.docID, f.owner.ID, f.ownerKey.PrivateKeyPEM)
	require.NoError(t, err)
	assert.Equal(t, append(append([]byte{}, f.raw...), []byte("::signed")...), back)

	var box models.SignatureBox
	require.NoError(t, f.env.db.First(&box, f.box.ID).Error)
	assert.Equal(t, models.BoxActive, box.Status)
	assert.Equal(t, "Alice A.", box.Content)

	var nonceRow models.SignatureNonce
	require.NoError(t, f.env.db.Where("nonce = ?", initiated.Nonce).First(&nonceRow).Error)
	assert.True(t, nonceRow.Used)
	assert.Equal(t, models.NonceUsed, nonceRow.Status)
	require.NotNil(t, nonceRow.SignedAt)
}

func TestCompleteRejectsSecondAttempt(t *testing.T) {
	f := newSigningFixture(t)
	ctx := context.Background()

	initiated := f.initiate(t)
	params := f.completeParams(t, initiated)

	require.NoError(t, f.env.signing.Complete(ctx, params))

	err := f.env.signing.Complete(ctx, params)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidOrExpiredNonce))
	assert.Equal(t, 1, f.env.renderer.calls)
}

func TestCompleteRejectsExpiredNonce(t *testing.T) {
	f := newSigningFixture(t)
	ctx := context.Background()

	initiated := f.initiate(t)
	require.NoError(t, f.env.db.Model(&models.SignatureNonce{}).
		Where("nonce = ?", initiated.Nonce).
		Update("expires_at", time.Now().Add(-time.Minute)).Error)

	err := f.env.signing.Complete(ctx, f.completeParams(t, initiated))
	assert.True(t, errors.Is(err, ErrInvalidOrExpiredNonce))
	assert.Zero(t, f.env.renderer.calls)
}

func TestCompleteRejectsForeignNonce(t *testing.T) {
	f := newSigningFixture(t)
	ctx := context.Background()

	initiated := f.initiate(t)
	params := f.completeParams(t, initiated)
	params.Nonce = "0000000000000000000000000000000a"

	err := f.env.signing.Complete(ctx, params)
	assert.True(t, errors.Is(err, ErrInvalidOrExpiredNonce))
}

func TestCompleteRejectsMutatedBoxContent(t *testing.T) {
	f := newSigningFixture(t)
	ctx := context.Background()

	initiated := f.initiate(t)
	params := f.completeParams(t, initiated)
	// The signature covers the content hashed at initiate; swapping in
	// different content must not be applied.
	params.Boxes = []BoxUpdate{{DBID: f.box.ID, Content: "Someone Else"}}

	err := f.env.signing.Complete(ctx, params)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrBoxSnapshotMismatch))
	assert.Zero(t, f.env.renderer.calls)

	var box models.SignatureBox
	require.NoError(t, f.env.db.First(&box, f.box.ID).Error)
	assert.Equal(t, models.BoxPending, box.Status)
	assert.Empty(t, box.Content)

	// The untampered snapshot still completes.
	require.NoError(t, f.env.signing.Complete(ctx, f.completeParams(t, initiated)))
}

func TestCompleteRejectsExtraBox(t *testing.T) {
	f := newSigningFixture(t)
	ctx := context.Background()

	initiated := f.initiate(t)
	params := f.completeParams(t, initiated)
	params.Boxes = append(params.Boxes, BoxUpdate{DBID: f.box.ID + 1, Content: "sneaked in"})

	err := f.env.signing.Complete(ctx, params)
	assert.True(t, errors.Is(err, ErrBoxSnapshotMismatch))
}

func TestCompleteStorageFailureIsNotNonceRejection(t *testing.T) {
	f := newSigningFixture(t)
	ctx := context.Background()

	initiated := f.initiate(t)
	params := f.completeParams(t, initiated)

	sqlDB, err := f.env.db.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())

	err = f.env.signing.Complete(ctx, params)
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrInvalidOrExpiredNonce))
}

func TestCompleteRejectsBadSignature(t *testing.T) {
	f := newSigningFixture(t)
	ctx := context.Background()

	initiated := f.initiate(t)
	params := f.completeParams(t, initiated)
	// Sign the wrong hash; verification against the stored hash fails.
	params.Signature = signHash(t, f.ownerKey.PrivateKeyPEM, initiated.Hash[1:]+"a")

	require.Error(t, f.env.signing.Complete(ctx, params))
	assert.Zero(t, f.env.renderer.calls)

	// The nonce was not consumed, a correct retry still works.
	params.Signature = signHash(t, f.ownerKey.PrivateKeyPEM, initiated.Hash)
	require.NoError(t, f.env.signing.Complete(ctx, params))
}

func TestCompleteRenderFailureLeavesNonceLive(t *testing.T) {
	f := newSigningFixture(t)
	ctx := context.Background()

	initiated := f.initiate(t)
	params := f.completeParams(t, initiated)

	f.env.renderer.fail = true
	err := f.env.signing.Complete(ctx, params)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRenderingFailed))

	var nonceRow models.SignatureNonce
	require.NoError(t, f.env.db.Where("nonce = ?", initiated.Nonce).First(&nonceRow).Error)
	assert.False(t, nonceRow.Used)

	f.env.renderer.fail = false
	require.NoError(t, f.env.signing.Complete(ctx, params))
}

func TestSaveDraftBoxesValidation(t *testing.T) {
	f := newSigningFixture(t)
	ctx := context.Background()

	err := f.env.signing.SaveDraftBoxes(ctx, f.docID, f.owner.ID, []BoxDraft{
		{UserID: f.owner.ID, Page: 0, RelX: 0.1, RelY: 0.1, RelWidth: 0.1, RelHeight: 0.1, Type: models.BoxTyped},
	})
	require.Error(t, err)

	err = f.env.signing.SaveDraftBoxes(ctx, f.docID, f.owner.ID, []BoxDraft{
		{UserID: f.owner.ID, Page: 1, RelX: 1.5, RelY: 0.1, RelWidth: 0.1, RelHeight: 0.1, Type: models.BoxTyped},
	})
	require.Error(t, err)

	bob, _ := f.env.createUser(t, "bob", "bob-pw-12345")
	err = f.env.signing.SaveDraftBoxes(ctx, f.docID, bob.ID, []BoxDraft{
		{UserID: bob.ID, Page: 1, RelX: 0.1, RelY: 0.1, RelWidth: 0.1, RelHeight: 0.1, Type: models.BoxTyped},
	})
	require.Error(t, err)
}

func TestSaveDraftBoxesReplacesLayout(t *testing.T) {
	f := newSigningFixture(t)
	ctx := context.Background()

	// Reposition the existing box and add a second one.
	require.NoError(t, f.env.signing.SaveDraftBoxes(ctx, f.docID, f.owner.ID, []BoxDraft{
		{ID: f.box.ID, UserID: f.owner.ID, Page: 2, RelX: 0.5, RelY: 0.5, RelWidth: 0.2, RelHeight: 0.1, Type: models.BoxTyped},
		{UserID: f.owner.ID, Page: 1, RelX: 0.1, RelY: 0.1, RelWidth: 0.2, RelHeight: 0.1, Type: models.BoxDrawn},
	}))

	boxes, err := f.env.signing.ListBoxes(ctx, f.docID, f.owner.ID)
	require.NoError(t, err)
	require.Len(t, boxes, 2)

	// Submitting a layout without the second box drops it.
	require.NoError(t, f.env.signing.SaveDraftBoxes(ctx, f.docID, f.owner.ID, []BoxDraft{
		{ID: f.box.ID, UserID: f.owner.ID, Page: 2, RelX: 0.5, RelY: 0.5, RelWidth: 0.2, RelHeight: 0.1, Type: models.BoxTyped},
	}))
	boxes, err = f.env.signing.ListBoxes(ctx, f.docID, f.owner.ID)
	require.NoError(t, err)
	require.Len(t, boxes, 1)
	assert.Equal(t, 2, boxes[0].Page)
}

func TestDeleteBoxOwnerAndDraftOnly(t *testing.T) {
	f := newSigningFixture(t)
	ctx := context.Background()

	bob, _ := f.env.createUser(t, "bob", "bob-pw-12345")
	require.Error(t, f.env.signing.DeleteBox(ctx, f.docID, f.box.ID, bob.ID))

	require.NoError(t, f.env.encryption.SendForSigning(ctx, f.docID, f.owner.ID))
	require.Error(t, f.env.signing.DeleteBox(ctx, f.docID, f.box.ID, f.owner.ID))
}

package mongo

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/integration/mtest"

	"github.com/latchauth/latch"
	"github.com/latchauth/latch/secretbox"
)

// The mock deployment answers commands with canned server replies, so
// these tests pin the command shapes and error mappings the engine
// relies on without a running mongod.

func newMock(t *testing.T) *mtest.T {
	t.Helper()
	return mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))
}

func testBox(t *testing.T) *secretbox.Box {
	t.Helper()

	box, err := secretbox.New(strings.Repeat("k", 32))
	require.NoError(t, err)
	return box
}

func duplicateKeyResponse() bson.D {
	return mtest.CreateWriteErrorsResponse(mtest.WriteError{
		Index:   0,
		Code:    11000,
		Message: "E11000 duplicate key error",
	})
}

func TestSwapRefreshTokenHashSendsConditionalFilter(t *testing.T) {
	mt := newMock(t)

	mt.Run("winner", func(mt *mtest.T) {
		provider := New(mt.Coll, nil)
		mt.AddMockResponses(mtest.CreateSuccessResponse(
			bson.E{Key: "n", Value: 1},
			bson.E{Key: "nModified", Value: 1},
		))

		err := provider.SwapRefreshTokenHash(context.Background(), "acc-1", "old-hash", "new-hash")
		require.NoError(t, err)

		// The update must be conditional on the expected hash, not a
		// blind overwrite.
		evt := mt.GetStartedEvent()
		require.NotNil(t, evt)
		assert.Equal(t, "update", evt.CommandName)

		update := evt.Command.Lookup("updates").Array().Index(0).Value().Document()
		filter := update.Lookup("q").Document()
		assert.Equal(t, "acc-1", filter.Lookup("_id").StringValue())
		assert.Equal(t, "old-hash", filter.Lookup("refresh_token_hash").StringValue())

		set := update.Lookup("u").Document().Lookup("$set").Document()
		assert.Equal(t, "new-hash", set.Lookup("refresh_token_hash").StringValue())
	})

	mt.Run("stale", func(mt *mtest.T) {
		provider := New(mt.Coll, nil)
		mt.AddMockResponses(mtest.CreateSuccessResponse(
			bson.E{Key: "n", Value: 0},
			bson.E{Key: "nModified", Value: 0},
		))

		err := provider.SwapRefreshTokenHash(context.Background(), "acc-1", "stale-hash", "new-hash")
		assert.ErrorIs(t, err, latch.ErrRefreshStale)
	})
}

func TestCreateMapsDuplicateEmail(t *testing.T) {
	mt := newMock(t)

	mt.Run("duplicate", func(mt *mtest.T) {
		provider := New(mt.Coll, nil)
		mt.AddMockResponses(duplicateKeyResponse())

		_, err := provider.Create(context.Background(), latch.CreateAccountInput{
			ID:    "acc-1",
			Email: "taken@example.com",
			Role:  latch.RoleRegular,
		})
		assert.ErrorIs(t, err, latch.ErrEmailTaken)
	})

	mt.Run("inserted", func(mt *mtest.T) {
		provider := New(mt.Coll, nil)
		mt.AddMockResponses(mtest.CreateSuccessResponse())

		account, err := provider.Create(context.Background(), latch.CreateAccountInput{
			ID:           "acc-1",
			Email:        "new@example.com",
			PasswordHash: "phc-hash",
			Role:         latch.RoleRegular,
		})
		require.NoError(t, err)
		assert.Equal(t, "new@example.com", account.Email)
		assert.Equal(t, latch.RoleRegular, account.Role)
		assert.False(t, account.EmailVerified)
	})
}

func TestCreateOAuthUserMapsDuplicateBinding(t *testing.T) {
	mt := newMock(t)

	mt.Run("duplicate", func(mt *mtest.T) {
		provider := New(mt.Coll, testBox(t))
		mt.AddMockResponses(duplicateKeyResponse())

		_, err := provider.CreateOAuthUser(context.Background(), latch.CreateOAuthAccountInput{
			ID:    "acc-1",
			Email: "bound@example.com",
			Role:  latch.RoleRegular,
			Link: latch.OAuthLink{
				Provider:    "google",
				ProviderID:  "gid-1",
				AccessToken: "provider-access",
			},
		})
		assert.ErrorIs(t, err, latch.ErrProviderTaken)
	})

	mt.Run("born verified", func(mt *mtest.T) {
		provider := New(mt.Coll, testBox(t))
		mt.AddMockResponses(mtest.CreateSuccessResponse())

		account, err := provider.CreateOAuthUser(context.Background(), latch.CreateOAuthAccountInput{
			ID:    "acc-1",
			Email: "oauth@example.com",
			Role:  latch.RoleRegular,
			Link: latch.OAuthLink{
				Provider:    "google",
				ProviderID:  "gid-1",
				AccessToken: "provider-access",
			},
		})
		require.NoError(t, err)
		assert.True(t, account.EmailVerified)
		// Round trip through the box: the caller sees plaintext.
		assert.Equal(t, "provider-access", account.ProviderAccessToken)
	})
}

func TestFindByEmailMapsNoDocuments(t *testing.T) {
	mt := newMock(t)

	mt.Run("missing", func(mt *mtest.T) {
		provider := New(mt.Coll, nil)
		ns := mt.DB.Name() + "." + mt.Coll.Name()
		mt.AddMockResponses(mtest.CreateCursorResponse(0, ns, mtest.FirstBatch))

		_, err := provider.FindByEmail(context.Background(), "nobody@example.com")
		assert.ErrorIs(t, err, latch.ErrAccountNotFound)
	})
}

func TestFindByEmailDecryptsProviderTokens(t *testing.T) {
	mt := newMock(t)

	mt.Run("decrypt", func(mt *mtest.T) {
		box := testBox(t)
		provider := New(mt.Coll, box)

		sealed, err := box.Encrypt("provider-access")
		require.NoError(t, err)

		ns := mt.DB.Name() + "." + mt.Coll.Name()
		mt.AddMockResponses(mtest.CreateCursorResponse(0, ns, mtest.FirstBatch, bson.D{
			{Key: "_id", Value: "acc-1"},
			{Key: "email", Value: "alice@example.com"},
			{Key: "role", Value: string(latch.RoleRegular)},
			{Key: "email_verified", Value: true},
			{Key: "provider", Value: "google"},
			{Key: "provider_id", Value: "gid-1"},
			{Key: "provider_access_token", Value: sealed},
		}))

		account, err := provider.FindByEmail(context.Background(), "alice@example.com")
		require.NoError(t, err)
		assert.Equal(t, "acc-1", account.ID)
		assert.Equal(t, latch.RoleRegular, account.Role)
		assert.Equal(t, "provider-access", account.ProviderAccessToken)
	})
}

func TestLinkOAuthAccountErrorMapping(t *testing.T) {
	mt := newMock(t)

	link := latch.OAuthLink{Provider: "google", ProviderID: "gid-1"}

	mt.Run("missing account", func(mt *mtest.T) {
		provider := New(mt.Coll, testBox(t))
		mt.AddMockResponses(mtest.CreateSuccessResponse(bson.E{Key: "value", Value: nil}))

		_, err := provider.LinkOAuthAccount(context.Background(), "ghost", link)
		assert.ErrorIs(t, err, latch.ErrAccountNotFound)
	})

	mt.Run("binding taken", func(mt *mtest.T) {
		provider := New(mt.Coll, testBox(t))
		mt.AddMockResponses(mtest.CreateCommandErrorResponse(mtest.CommandError{
			Code:    11000,
			Name:    "DuplicateKey",
			Message: "E11000 duplicate key error",
		}))

		_, err := provider.LinkOAuthAccount(context.Background(), "acc-1", link)
		assert.ErrorIs(t, err, latch.ErrProviderTaken)
	})
}

func TestUpdateOneMapsMissingAccount(t *testing.T) {
	mt := newMock(t)

	mt.Run("missing", func(mt *mtest.T) {
		provider := New(mt.Coll, nil)
		mt.AddMockResponses(mtest.CreateSuccessResponse(
			bson.E{Key: "n", Value: 0},
			bson.E{Key: "nModified", Value: 0},
		))

		err := provider.SetEmailVerified(context.Background(), "ghost")
		assert.ErrorIs(t, err, latch.ErrAccountNotFound)
	})
}

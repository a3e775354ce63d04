// Package mongo implements latch.UserProvider on a MongoDB collection.
// OAuth provider tokens are encrypted at rest with a secretbox; engine
// code only ever sees plaintext.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/latchauth/latch"
	"github.com/latchauth/latch/secretbox"
)

// Provider stores accounts in a single MongoDB collection.
type Provider struct {
	collection *mongo.Collection
	box        *secretbox.Box
}

// accountDoc is the persisted shape. Refresh and password hashes are
// stored as-is (they are already hashes); OAuth provider tokens are
// secretbox ciphertext.
type accountDoc struct {
	ID            string `bson:"_id"`
	Email         string `bson:"email"`
	DisplayName   string `bson:"display_name,omitempty"`
	PasswordHash  string `bson:"password_hash,omitempty"`
	Role          string `bson:"role"`
	MasterAdmin   bool   `bson:"is_master_admin,omitempty"`
	EmailVerified bool   `bson:"email_verified"`

	RefreshTokenHash string `bson:"refresh_token_hash,omitempty"`

	Provider             string    `bson:"provider,omitempty"`
	ProviderID           string    `bson:"provider_id,omitempty"`
	ProviderAccessToken  string    `bson:"provider_access_token,omitempty"`
	ProviderRefreshToken string    `bson:"provider_refresh_token,omitempty"`
	ProviderTokenExpiry  time.Time `bson:"provider_token_expiry,omitempty"`

	CreatedAt time.Time `bson:"created_at"`
	UpdatedAt time.Time `bson:"updated_at"`
}

// New wraps a collection. The encryption key sizing was already checked
// by secretbox.New; pass a nil box only if no OAuth flow will run.
func New(collection *mongo.Collection, box *secretbox.Box) *Provider {
	return &Provider{collection: collection, box: box}
}

// EnsureIndexes creates the unique email index and the unique sparse
// (provider, provider_id) index. Call once at startup.
func (p *Provider) EnsureIndexes(ctx context.Context) error {
	_, err := p.collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "email", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{
				{Key: "provider", Value: 1},
				{Key: "provider_id", Value: 1},
			},
			Options: options.Index().SetUnique(true).SetSparse(true),
		},
	})
	return err
}

func (p *Provider) sealLink(link latch.OAuthLink) (access, refresh string, err error) {
	if p.box == nil {
		return "", "", errors.New("mongo provider: oauth requires an encryption box")
	}
	if link.AccessToken != "" {
		if access, err = p.box.Encrypt(link.AccessToken); err != nil {
			return "", "", fmt.Errorf("encrypt access token: %w", err)
		}
	}
	if link.RefreshToken != "" {
		if refresh, err = p.box.Encrypt(link.RefreshToken); err != nil {
			return "", "", fmt.Errorf("encrypt refresh token: %w", err)
		}
	}
	return access, refresh, nil
}

func (p *Provider) toAccount(doc accountDoc) (latch.Account, error) {
	account := latch.Account{
		ID:                  doc.ID,
		Email:               doc.Email,
		DisplayName:         doc.DisplayName,
		PasswordHash:        doc.PasswordHash,
		Role:                latch.Role(doc.Role),
		MasterAdmin:         doc.MasterAdmin,
		EmailVerified:       doc.EmailVerified,
		RefreshTokenHash:    doc.RefreshTokenHash,
		Provider:            doc.Provider,
		ProviderID:          doc.ProviderID,
		ProviderTokenExpiry: doc.ProviderTokenExpiry,
		CreatedAt:           doc.CreatedAt,
		UpdatedAt:           doc.UpdatedAt,
	}

	if doc.ProviderAccessToken != "" {
		if p.box == nil {
			return latch.Account{}, errors.New("mongo provider: stored oauth tokens but no encryption box")
		}
		plain, err := p.box.Decrypt(doc.ProviderAccessToken)
		if err != nil {
			return latch.Account{}, fmt.Errorf("decrypt access token: %w", err)
		}
		account.ProviderAccessToken = plain
	}
	if doc.ProviderRefreshToken != "" {
		plain, err := p.box.Decrypt(doc.ProviderRefreshToken)
		if err != nil {
			return latch.Account{}, fmt.Errorf("decrypt refresh token: %w", err)
		}
		account.ProviderRefreshToken = plain
	}

	return account, nil
}

func (p *Provider) findOne(ctx context.Context, filter bson.M) (latch.Account, error) {
	var doc accountDoc
	err := p.collection.FindOne(ctx, filter).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return latch.Account{}, latch.ErrAccountNotFound
		}
		return latch.Account{}, err
	}
	return p.toAccount(doc)
}

// FindByEmail looks an account up by email.
func (p *Provider) FindByEmail(ctx context.Context, email string) (latch.Account, error) {
	return p.findOne(ctx, bson.M{"email": email})
}

// FindByID looks an account up by id.
func (p *Provider) FindByID(ctx context.Context, id string) (latch.Account, error) {
	return p.findOne(ctx, bson.M{"_id": id})
}

// FindByProvider looks an account up by its OAuth binding.
func (p *Provider) FindByProvider(ctx context.Context, provider, providerID string) (latch.Account, error) {
	return p.findOne(ctx, bson.M{"provider": provider, "provider_id": providerID})
}

// Create inserts a password account. A duplicate email surfaces as
// latch.ErrEmailTaken via the unique index.
func (p *Provider) Create(ctx context.Context, input latch.CreateAccountInput) (latch.Account, error) {
	now := time.Now()
	doc := accountDoc{
		ID:           input.ID,
		Email:        input.Email,
		DisplayName:  input.DisplayName,
		PasswordHash: input.PasswordHash,
		Role:         string(input.Role),
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if _, err := p.collection.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return latch.Account{}, latch.ErrEmailTaken
		}
		return latch.Account{}, err
	}

	return p.toAccount(doc)
}

// CreateOAuthUser inserts an OAuth-only account, born email-verified.
func (p *Provider) CreateOAuthUser(ctx context.Context, input latch.CreateOAuthAccountInput) (latch.Account, error) {
	access, refresh, err := p.sealLink(input.Link)
	if err != nil {
		return latch.Account{}, err
	}

	now := time.Now()
	doc := accountDoc{
		ID:                   input.ID,
		Email:                input.Email,
		DisplayName:          input.DisplayName,
		Role:                 string(input.Role),
		EmailVerified:        true,
		Provider:             input.Link.Provider,
		ProviderID:           input.Link.ProviderID,
		ProviderAccessToken:  access,
		ProviderRefreshToken: refresh,
		ProviderTokenExpiry:  input.Link.TokenExpiry,
		CreatedAt:            now,
		UpdatedAt:            now,
	}

	if _, err := p.collection.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			// Either unique index can fire; email is checked first by the
			// engine, so a collision here is almost always the binding.
			return latch.Account{}, latch.ErrProviderTaken
		}
		return latch.Account{}, err
	}

	return p.toAccount(doc)
}

// LinkOAuthAccount binds an OAuth identity to an existing account.
func (p *Provider) LinkOAuthAccount(ctx context.Context, accountID string, link latch.OAuthLink) (latch.Account, error) {
	access, refresh, err := p.sealLink(link)
	if err != nil {
		return latch.Account{}, err
	}

	update := bson.M{"$set": bson.M{
		"provider":               link.Provider,
		"provider_id":            link.ProviderID,
		"provider_access_token":  access,
		"provider_refresh_token": refresh,
		"provider_token_expiry":  link.TokenExpiry,
		"updated_at":             time.Now(),
	}}

	var doc accountDoc
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	err = p.collection.FindOneAndUpdate(ctx, bson.M{"_id": accountID}, update, opts).Decode(&doc)
	if err != nil {
		switch {
		case errors.Is(err, mongo.ErrNoDocuments):
			return latch.Account{}, latch.ErrAccountNotFound
		case mongo.IsDuplicateKeyError(err):
			return latch.Account{}, latch.ErrProviderTaken
		default:
			return latch.Account{}, err
		}
	}

	return p.toAccount(doc)
}

// UpdateProviderTokens refreshes the stored (encrypted) OAuth tokens.
func (p *Provider) UpdateProviderTokens(ctx context.Context, accountID string, link latch.OAuthLink) error {
	access, refresh, err := p.sealLink(link)
	if err != nil {
		return err
	}

	return p.updateOne(ctx, accountID, bson.M{
		"provider_access_token":  access,
		"provider_refresh_token": refresh,
		"provider_token_expiry":  link.TokenExpiry,
	})
}

// UpdatePasswordHash replaces the stored password hash.
func (p *Provider) UpdatePasswordHash(ctx context.Context, accountID, newHash string) error {
	return p.updateOne(ctx, accountID, bson.M{"password_hash": newHash})
}

// SetEmailVerified marks the account's email confirmed.
func (p *Provider) SetEmailVerified(ctx context.Context, accountID string) error {
	return p.updateOne(ctx, accountID, bson.M{"email_verified": true})
}

// SetRefreshTokenHash overwrites the refresh hash; empty clears it.
func (p *Provider) SetRefreshTokenHash(ctx context.Context, accountID, hash string) error {
	return p.updateOne(ctx, accountID, bson.M{"refresh_token_hash": hash})
}

// SwapRefreshTokenHash is a conditional update: the filter matches only
// while the stored hash still equals expected, so concurrent rotations
// resolve to exactly one winner server-side.
func (p *Provider) SwapRefreshTokenHash(ctx context.Context, accountID, expected, next string) error {
	filter := bson.M{"_id": accountID, "refresh_token_hash": expected}
	update := bson.M{"$set": bson.M{
		"refresh_token_hash": next,
		"updated_at":         time.Now(),
	}}

	result, err := p.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return err
	}
	if result.MatchedCount == 0 {
		// Missing account and changed hash are indistinguishable here;
		// both mean the presented token must not be honored.
		return latch.ErrRefreshStale
	}
	return nil
}

func (p *Provider) updateOne(ctx context.Context, accountID string, fields bson.M) error {
	fields["updated_at"] = time.Now()

	result, err := p.collection.UpdateOne(ctx, bson.M{"_id": accountID}, bson.M{"$set": fields})
	if err != nil {
		return err
	}
	if result.MatchedCount == 0 {
		return latch.ErrAccountNotFound
	}
	return nil
}

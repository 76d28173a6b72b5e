package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
)

const usersCollection = "users"

type userDoc struct {
	ID             bson.ObjectID `bson:"_id,omitempty"`
	Email          string        `bson:"email"`
	FirstName      string        `bson:"first_name"`
	LastName       string        `bson:"last_name"`
	ProfilePicture string        `bson:"profile_picture,omitempty"`
	PasswordHash   string        `bson:"password_hash,omitempty"`
	GoogleID       string        `bson:"google_id,omitempty"`
	AuthMethod     string        `bson:"auth_method"`
	CreatedAt      time.Time     `bson:"created_at"`
}

func (d userDoc) user() User {
	return User{
		ID:             d.ID.Hex(),
		Email:          d.Email,
		FirstName:      d.FirstName,
		LastName:       d.LastName,
		ProfilePicture: d.ProfilePicture,
		PasswordHash:   d.PasswordHash,
		GoogleID:       d.GoogleID,
		AuthMethod:     AuthMethod(d.AuthMethod),
		CreatedAt:      d.CreatedAt,
	}
}

// MongoStore implements the Store interface on top of a MongoDB collection.
type MongoStore struct {
	users   *mongo.Collection
	timeout time.Duration
	now     func() time.Time
}

// NewMongoClient connects to MongoDB and verifies the connection.
func NewMongoClient(ctx context.Context, uri string) (*mongo.Client, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect to mongo: %w", err)
	}

	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	return client, nil
}

// NewMongoStore creates a store over the users collection of db. Every operation is bounded by timeout when it
// is positive.
func NewMongoStore(db *mongo.Database, timeout time.Duration) *MongoStore {
	return &MongoStore{
		users:   db.Collection(usersCollection),
		timeout: timeout,
		now:     time.Now,
	}
}

// EnsureIndexes creates the unique indexes on email and google_id. Users without a google id are left out of
// the google_id index.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	_, err := s.users.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "email", Value: 1}},
			Options: options.Index().SetName("email_unique").SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "google_id", Value: 1}},
			Options: options.Index().
				SetName("google_id_unique").
				SetUnique(true).
				SetPartialFilterExpression(bson.D{{Key: "google_id", Value: bson.D{{Key: "$type", Value: "string"}}}}),
		},
	})
	if err != nil {
		return fmt.Errorf("create indexes: %w", err)
	}

	return nil
}

func (s *MongoStore) FindByID(ctx context.Context, id string) (User, error) {
	oid, err := bson.ObjectIDFromHex(id)
	if err != nil {
		return User{}, ErrNotFound
	}

	return s.findOne(ctx, bson.D{{Key: "_id", Value: oid}})
}

func (s *MongoStore) FindByEmail(ctx context.Context, email string) (User, error) {
	return s.findOne(ctx, bson.D{{Key: "email", Value: NormalizeEmail(email)}})
}

func (s *MongoStore) FindByGoogleID(ctx context.Context, googleID string) (User, error) {
	if googleID == "" {
		return User{}, ErrNotFound
	}

	return s.findOne(ctx, bson.D{{Key: "google_id", Value: googleID}})
}

// Insert stores a new user and returns it with the assigned ID and creation time.
func (s *MongoStore) Insert(ctx context.Context, u User) (User, error) {
	u.Email = NormalizeEmail(u.Email)
	if err := u.Validate(); err != nil {
		return User{}, err
	}

	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	doc := userDoc{
		ID:             bson.NewObjectID(),
		Email:          u.Email,
		FirstName:      u.FirstName,
		LastName:       u.LastName,
		ProfilePicture: u.ProfilePicture,
		PasswordHash:   u.PasswordHash,
		GoogleID:       u.GoogleID,
		AuthMethod:     string(u.AuthMethod),
		CreatedAt:      s.now().UTC().Truncate(time.Millisecond),
	}

	if _, err := s.users.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return User{}, fmt.Errorf("insert user: %w", ErrExists)
		}

		return User{}, fmt.Errorf("insert user: %w", err)
	}

	return doc.user(), nil
}

// LinkGoogle attaches a Google identity to a user that has none. It returns ErrExists when the user is already
// linked or the google id belongs to someone else.
func (s *MongoStore) LinkGoogle(ctx context.Context, r LinkGoogleRequest) (User, error) {
	oid, err := bson.ObjectIDFromHex(r.UserID)
	if err != nil {
		return User{}, ErrNotFound
	}

	set := bson.D{
		{Key: "google_id", Value: r.GoogleID},
		{Key: "auth_method", Value: string(AuthMethodGoogle)},
	}
	if r.Picture != "" {
		set = append(set, bson.E{Key: "profile_picture", Value: r.Picture})
	}

	filter := bson.D{
		{Key: "_id", Value: oid},
		{Key: "google_id", Value: bson.D{{Key: "$exists", Value: false}}},
	}

	qctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	var doc userDoc
	err = s.users.FindOneAndUpdate(qctx, filter, bson.D{{Key: "$set", Value: set}},
		options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(&doc)
	if err == nil {
		return doc.user(), nil
	}

	if mongo.IsDuplicateKeyError(err) {
		return User{}, fmt.Errorf("link google: %w", ErrExists)
	}

	if !errors.Is(err, mongo.ErrNoDocuments) {
		return User{}, fmt.Errorf("link google: %w", err)
	}

	if _, err := s.FindByID(ctx, r.UserID); err != nil {
		return User{}, err
	}

	return User{}, fmt.Errorf("link google: user already linked: %w", ErrExists)
}

func (s *MongoStore) Ping(ctx context.Context) error {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	return s.users.Database().Client().Ping(ctx, readpref.Primary())
}

func (s *MongoStore) findOne(ctx context.Context, filter bson.D) (User, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	var doc userDoc
	if err := s.users.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return User{}, ErrNotFound
		}

		return User{}, fmt.Errorf("find user: %w", err)
	}

	return doc.user(), nil
}

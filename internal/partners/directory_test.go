package partners

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/ukydev/urban-services/internal/db"
	"github.com/ukydev/urban-services/internal/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

type fixture struct {
	users    *db.MemoryUsers
	partners *db.MemoryPartners
	dir      *Directory
}

func newFixture() *fixture {
	users := db.NewMemoryUsers()
	partners := db.NewMemoryPartners()
	return &fixture{users: users, partners: partners, dir: NewDirectory(users, partners, quietLogger())}
}

func (f *fixture) user(t *testing.T, email, phone string) *models.User {
	t.Helper()
	u, err := f.users.InsertUser(context.Background(), models.User{Email: email, Phone: phone, Role: models.RolePartner})
	require.NoError(t, err)
	return u
}

func (f *fixture) partner(t *testing.T, u *models.User, name string) *models.Partner {
	t.Helper()
	p, err := f.partners.InsertPartner(context.Background(), models.Partner{UserID: u.ID, BusinessName: name})
	require.NoError(t, err)
	return p
}

func TestDirectory_Resolve_Direct(t *testing.T) {
	f := newFixture()
	u := f.user(t, "a@x.io", "+919800000001")
	p := f.partner(t, u, "Sparkle Cleaners")

	got, err := f.dir.Resolve(context.Background(), u.ID.Hex())
	require.NoError(t, err)
	assert.Equal(t, p.ID, got.ID)
}

func TestDirectory_Resolve_PhoneFallback(t *testing.T) {
	f := newFixture()
	original := f.user(t, "old@x.io", "+919800000002")
	p := f.partner(t, original, "Fixit")
	duplicate := f.user(t, "new@x.io", "+919800000002")

	got, err := f.dir.Resolve(context.Background(), duplicate.ID.Hex())
	require.NoError(t, err)
	assert.Equal(t, p.ID, got.ID)
}

func TestDirectory_Resolve_FirstDuplicateWins(t *testing.T) {
	f := newFixture()
	first := f.user(t, "1@x.io", "+919800000003")
	second := f.user(t, "2@x.io", "+919800000003")
	caller := f.user(t, "3@x.io", "+919800000003")
	p1 := f.partner(t, first, "First")
	f.partner(t, second, "Second")

	for i := 0; i < 5; i++ {
		got, err := f.dir.Resolve(context.Background(), caller.ID.Hex())
		require.NoError(t, err)
		assert.Equal(t, p1.ID, got.ID, "resolution must be deterministic")
	}
}

func TestDirectory_Resolve_NotFound(t *testing.T) {
	f := newFixture()
	lonely := f.user(t, "lonely@x.io", "+919800000004")
	noPhone := f.user(t, "nophone@x.io", "")

	_, err := f.dir.Resolve(context.Background(), lonely.ID.Hex())
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.dir.Resolve(context.Background(), noPhone.ID.Hex())
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.dir.Resolve(context.Background(), primitive.NewObjectID().Hex())
	assert.ErrorIs(t, err, ErrNotFound, "unknown user")

	_, err = f.dir.Resolve(context.Background(), "not-hex")
	assert.ErrorIs(t, err, ErrNotFound)
}

// failingPartners surfaces storage errors from the partner lookup.
type failingPartners struct {
	mock.Mock
	db.PartnerCollection
}

func (m *failingPartners) FindPartnerByUserID(ctx context.Context, userID primitive.ObjectID) (*models.Partner, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Partner), args.Error(1)
}

func TestDirectory_Resolve_StorageError(t *testing.T) {
	partners := new(failingPartners)
	partners.On("FindPartnerByUserID", mock.Anything, mock.Anything).Return(nil, errors.New("connection reset"))
	dir := NewDirectory(db.NewMemoryUsers(), partners, quietLogger())

	_, err := dir.Resolve(context.Background(), primitive.NewObjectID().Hex())
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
	partners.AssertExpectations(t)
}

func TestDirectory_SetAvailability(t *testing.T) {
	f := newFixture()
	u := f.user(t, "avail@x.io", "+919800000005")
	p := f.partner(t, u, "Avail")

	got, err := f.dir.SetAvailability(context.Background(), u.ID.Hex(), true)
	require.NoError(t, err)
	assert.True(t, got.Available)

	stored, err := f.dir.Get(context.Background(), p.ID)
	require.NoError(t, err)
	assert.True(t, stored.Available)

	_, err = f.dir.Get(context.Background(), primitive.NewObjectID())
	assert.ErrorIs(t, err, ErrNotFound)
}

package main

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ukydev/urban-services/internal/auth"
	"github.com/ukydev/urban-services/internal/booking"
	"github.com/ukydev/urban-services/internal/config"
	"github.com/ukydev/urban-services/internal/db"
	"github.com/ukydev/urban-services/internal/events"
	"github.com/ukydev/urban-services/internal/handlers"
	"github.com/ukydev/urban-services/internal/hub"
	"github.com/ukydev/urban-services/internal/middleware"
	"github.com/ukydev/urban-services/internal/models"
	"github.com/ukydev/urban-services/internal/partners"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// stack is the real API and partner socket over an in-memory store.
type stack struct {
	t        *testing.T
	srv      *httptest.Server
	store    *db.Store
	auth     *auth.Service
	bookings *booking.Service
	category models.Category
	service  models.Service
	customer *models.User
}

func newStack(t *testing.T) *stack {
	t.Helper()
	log := quietLogger()
	store := db.NewMemoryStore()
	catalog := store.Catalog.(*db.MemoryCatalog)
	category := catalog.AddCategory(models.Category{Name: "Plumbing"})
	service := catalog.AddService(models.Service{CategoryID: category.ID, Name: "Leak repair", BasePrice: 399, Duration: 45})

	authService, err := auth.NewService(config.AuthConfig{JWTSecret: "simulator-test", JWTExpiry: time.Hour})
	require.NoError(t, err)

	bus := events.NewBus(log)
	bookings := booking.NewService(store, bus, log)
	directory := partners.NewDirectory(store.Users, store.Partners, log)
	socket := hub.New(config.WebSocketConfig{SendBuffer: 16, WriteTimeout: time.Second}, authService, directory, bookings, log)
	bus.Subscribe("websocket", socket)

	mux := http.NewServeMux()
	handlers.Routes{
		Auth:     handlers.NewAuthHandler(authService, store.Users, store.Partners, directory, log),
		Bookings: handlers.NewBookingHandler(bookings, directory, log),
		Partners: handlers.NewPartnerHandler(directory, log),
		Socket:   socket,
	}.Register(mux)
	srv := httptest.NewServer(middleware.NewAuthMiddleware(authService).Authenticate(mux))
	t.Cleanup(func() {
		socket.Close()
		srv.Close()
	})

	customer, err := store.Users.InsertUser(context.Background(), models.User{Name: "Asha", Email: "asha@example.com", Role: models.RoleCustomer})
	require.NoError(t, err)

	return &stack{
		t:        t,
		srv:      srv,
		store:    store,
		auth:     authService,
		bookings: bookings,
		category: category,
		service:  service,
		customer: customer,
	}
}

func (s *stack) socketURL() string {
	return "ws" + strings.TrimPrefix(s.srv.URL, "http") + "/ws"
}

// partner creates a partner account with password "plumb-it-right".
func (s *stack) partner(name string, categories ...primitive.ObjectID) (*models.User, *models.Partner) {
	s.t.Helper()
	ctx := context.Background()
	hash, err := s.auth.HashPassword("plumb-it-right")
	require.NoError(s.t, err)
	user, err := s.store.Users.InsertUser(ctx, models.User{
		Name:         name,
		Email:        name + "@example.com",
		Role:         models.RolePartner,
		PasswordHash: hash,
	})
	require.NoError(s.t, err)
	partner, err := s.store.Partners.InsertPartner(ctx, models.Partner{UserID: user.ID, BusinessName: name + " Plumbing", Categories: categories})
	require.NoError(s.t, err)
	return user, partner
}

func (s *stack) bot(name string, categories ...primitive.ObjectID) *bot {
	s.t.Helper()
	user, partner := s.partner(name, categories...)
	token, err := s.auth.GenerateToken(user, partner)
	require.NoError(s.t, err)
	return newBot(newAPIClient(s.srv.URL, token), partner, models.Coordinates{Lat: 18.52, Lng: 73.85}, 5*time.Millisecond, 2, quietLogger())
}

func (s *stack) book() *models.BookingDetails {
	s.t.Helper()
	created, err := s.bookings.Create(context.Background(), booking.Actor{UserID: s.customer.ID.Hex(), Role: models.RoleCustomer}, models.CreateBookingRequest{
		CategoryID:    s.category.ID.Hex(),
		ServiceID:     s.service.ID.Hex(),
		ScheduledDate: time.Now().Add(2 * time.Hour),
		ScheduledTime: "11:00",
		CustomAddress: &models.CustomAddress{
			Line1:       "21 FC Road",
			City:        "Pune",
			Coordinates: &models.Coordinates{Lat: 18.53, Lng: 73.84},
		},
	})
	require.NoError(s.t, err)
	return created
}

func (s *stack) status(id primitive.ObjectID) models.BookingStatus {
	b, err := s.store.Bookings.FindBookingByID(context.Background(), id)
	require.NoError(s.t, err)
	return b.Status
}

// runBot runs b until the test ends.
func runBot(t *testing.T, b *bot, url string) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.run(ctx, url) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Error("bot did not stop")
		}
		b.wait()
	})
}

func TestBot_WorksNewBookingToCompletion(t *testing.T) {
	s := newStack(t)
	b := s.bot("ravi")
	runBot(t, b, s.socketURL())

	// Give the socket time to register before the booking is published.
	time.Sleep(50 * time.Millisecond)
	created := s.book()

	require.Eventually(t, func() bool {
		return s.status(created.ID) == models.StatusCompleted
	}, 5*time.Second, 10*time.Millisecond)

	final, err := s.store.Bookings.FindBookingByID(context.Background(), created.ID)
	require.NoError(t, err)
	var statuses []models.BookingStatus
	for _, e := range final.Timeline {
		statuses = append(statuses, e.Status)
	}
	assert.Equal(t, workflow, statuses)
	assert.Equal(t, b.partner.ID, *final.PartnerID)
	require.NotNil(t, final.Tracking.PartnerLocation)
	assert.InDelta(t, 18.53, final.Tracking.PartnerLocation.Lat, 1e-9)
	assert.InDelta(t, 73.84, final.Tracking.PartnerLocation.Lng, 1e-9)
	assert.Len(t, final.BeforeImages, 1)
	assert.Len(t, final.AfterImages, 1)
}

func TestBot_ClaimsBacklogFromInitialData(t *testing.T) {
	s := newStack(t)
	first := s.book()
	second := s.book()

	b := s.bot("ravi", s.category.ID)
	runBot(t, b, s.socketURL())

	require.Eventually(t, func() bool {
		return s.status(first.ID) == models.StatusCompleted && s.status(second.ID) == models.StatusCompleted
	}, 5*time.Second, 10*time.Millisecond)
}

func TestBot_ResumesAssignedWork(t *testing.T) {
	s := newStack(t)
	b := s.bot("ravi")
	created := s.book()

	partnerActor := booking.Actor{UserID: b.partner.UserID.Hex(), Role: models.RolePartner, PartnerID: &b.partner.ID}
	_, err := s.bookings.UpdateStatus(context.Background(), partnerActor, created.ID.Hex(), models.StatusUpdateRequest{Status: models.StatusAccepted})
	require.NoError(t, err)

	runBot(t, b, s.socketURL())
	require.Eventually(t, func() bool {
		return s.status(created.ID) == models.StatusCompleted
	}, 5*time.Second, 10*time.Millisecond)
}

func TestBot_SkipsCategoriesItDoesNotServe(t *testing.T) {
	s := newStack(t)
	created := s.book()

	b := s.bot("ravi", primitive.NewObjectID())
	runBot(t, b, s.socketURL())

	assert.Never(t, func() bool {
		return s.status(created.ID) != models.StatusPending
	}, 200*time.Millisecond, 20*time.Millisecond)
}

func TestBot_OnlyOnePartnerWinsTheClaim(t *testing.T) {
	s := newStack(t)
	alpha := s.bot("alpha")
	beta := s.bot("beta")
	runBot(t, alpha, s.socketURL())
	runBot(t, beta, s.socketURL())
	time.Sleep(50 * time.Millisecond)

	created := s.book()
	require.Eventually(t, func() bool {
		return s.status(created.ID) == models.StatusCompleted
	}, 5*time.Second, 10*time.Millisecond)

	final, err := s.store.Bookings.FindBookingByID(context.Background(), created.ID)
	require.NoError(t, err)
	accepted := 0
	for _, e := range final.Timeline {
		if e.Status == models.StatusAccepted {
			accepted++
		}
	}
	assert.Equal(t, 1, accepted)
}

func TestBot_StopsWorkingCancelledBooking(t *testing.T) {
	s := newStack(t)
	b := s.bot("ravi")
	b.tick = 30 * time.Millisecond
	b.steps = 100
	created := s.book()
	runBot(t, b, s.socketURL())

	require.Eventually(t, func() bool {
		return s.status(created.ID) == models.StatusOnTheWay
	}, 5*time.Second, 10*time.Millisecond)

	admin := booking.Actor{UserID: primitive.NewObjectID().Hex(), Role: models.RoleAdmin}
	_, err := s.bookings.UpdateStatus(context.Background(), admin, created.ID.Hex(), models.StatusUpdateRequest{Status: models.StatusCancelled})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return !b.tracking(created.ID.Hex())
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, models.StatusCancelled, s.status(created.ID))
}

func TestBot_RejectedSocket(t *testing.T) {
	s := newStack(t)
	b := newBot(newAPIClient(s.srv.URL, "forged"), nil, models.Coordinates{}, time.Millisecond, 1, quietLogger())

	err := b.run(context.Background(), s.socketURL())
	assert.ErrorContains(t, err, "read socket")
}

func TestRemaining(t *testing.T) {
	tests := []struct {
		current models.BookingStatus
		want    []models.BookingStatus
	}{
		{models.StatusPending, []models.BookingStatus{models.StatusAccepted, models.StatusOnTheWay, models.StatusInProgress, models.StatusCompleted}},
		{models.StatusAccepted, []models.BookingStatus{models.StatusOnTheWay, models.StatusInProgress, models.StatusCompleted}},
		{models.StatusInProgress, []models.BookingStatus{models.StatusCompleted}},
		{models.StatusCompleted, []models.BookingStatus{}},
		{models.StatusCancelled, nil},
	}
	for _, tt := range tests {
		t.Run(string(tt.current), func(t *testing.T) {
			assert.Equal(t, tt.want, remaining(tt.current))
		})
	}
}

func TestJitterLocation(t *testing.T) {
	base := models.Coordinates{Lat: 12.9716, Lng: 77.5946}
	for i := 0; i < 100; i++ {
		loc := jitterLocation(base, 500)
		assert.LessOrEqual(t, haversineKm(base, loc), 0.75)
	}
}

func TestLerp(t *testing.T) {
	a := models.Coordinates{Lat: 10, Lng: 20}
	b := models.Coordinates{Lat: 20, Lng: 40}
	assert.Equal(t, a, lerp(a, b, 0))
	assert.Equal(t, b, lerp(a, b, 1))
	assert.Equal(t, models.Coordinates{Lat: 15, Lng: 30}, lerp(a, b, 0.5))
}

func TestAPIClient_ErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":"not authorized"}`))
	}))
	defer srv.Close()

	_, err := newAPIClient(srv.URL, "tok").updateStatus(context.Background(), "abc", models.StatusUpdateRequest{Status: models.StatusAccepted})
	var apiErr *apiError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusForbidden, apiErr.Status)
	assert.Equal(t, "not authorized", apiErr.Message)
}

func TestLoadSettings(t *testing.T) {
	env := func(values map[string]string) func(string) string {
		return func(k string) string { return values[k] }
	}

	s, err := loadSettings(env(map[string]string{
		"API_BASE_URL":     "https://api.example.com/",
		"SIM_AUTH_TOKEN":   "tok",
		"SIM_TICK_SECONDS": "3",
		"SIM_ACCOUNTS":     "a@example.com:pw1, b@example.com:pw2",
	}))
	require.NoError(t, err)
	assert.Equal(t, "https://api.example.com", s.APIURL)
	assert.Equal(t, "wss://api.example.com/ws", s.SocketURL)
	assert.Equal(t, 3*time.Second, s.Tick)
	assert.Equal(t, 5, s.Steps)
	assert.Equal(t, []account{{"a@example.com", "pw1"}, {"b@example.com", "pw2"}}, s.Accounts)

	s, err = loadSettings(env(map[string]string{"SIM_AUTH_TOKEN": "tok", "SIM_TICK_SECONDS": "zero"}))
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080", s.APIURL)
	assert.Equal(t, "ws://localhost:8080/ws", s.SocketURL)
	assert.Equal(t, 2*time.Second, s.Tick)

	_, err = loadSettings(env(map[string]string{}))
	assert.Error(t, err)

	_, err = loadSettings(env(map[string]string{"SIM_ACCOUNTS": "missing-password"}))
	assert.ErrorContains(t, err, "missing-password")
}

func TestStartBots_LogsInPartners(t *testing.T) {
	s := newStack(t)
	_, partner := s.partner("ravi")

	bots, err := startBots(context.Background(), settings{
		APIURL:   s.srv.URL,
		Accounts: []account{{Email: "ravi@example.com", Password: "plumb-it-right"}},
		Tick:     time.Millisecond,
		Steps:    1,
	}, quietLogger())
	require.NoError(t, err)
	require.Len(t, bots, 1)
	require.NotNil(t, bots[0].partner)
	assert.Equal(t, partner.ID, bots[0].partner.ID)
	assert.NotEmpty(t, bots[0].api.token)

	_, err = startBots(context.Background(), settings{
		APIURL:   s.srv.URL,
		Accounts: []account{{Email: "ravi@example.com", Password: "wrong-password"}},
	}, quietLogger())
	assert.ErrorContains(t, err, "ravi@example.com")
}

func TestBot_StartForgetsFinishedJobs(t *testing.T) {
	b := newBot(newAPIClient("http://unused", ""), nil, models.Coordinates{}, time.Hour, 1, quietLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	d := models.BookingDetails{Booking: models.Booking{ID: primitive.NewObjectID(), Status: models.StatusCompleted}}
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.start(ctx, d)
		}()
	}
	wg.Wait()
	b.wait()
	assert.False(t, b.tracking(d.ID.Hex()))
}

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ukydev/urban-services/internal/config"
	"github.com/ukydev/urban-services/internal/db"
	"github.com/ukydev/urban-services/internal/events"
	"github.com/ukydev/urban-services/internal/hub"
	"github.com/ukydev/urban-services/internal/middleware"
	"github.com/ukydev/urban-services/internal/models"
)

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Storage.Driver = "memory"
	cfg.Auth.JWTSecret = "test-secret"
	cfg.Server.RateLimit = config.RateLimitConfig{RPS: 1000, Burst: 1000}
	return cfg
}

type testServer struct {
	t        *testing.T
	srv      *httptest.Server
	services []models.Service
}

func startServer(t *testing.T, cfg *config.Config) *testServer {
	t.Helper()
	store := db.NewMemoryStore()
	services := seedCatalog(store.Catalog.(*db.MemoryCatalog))

	a, err := newApp(context.Background(), cfg, store, quietLogger())
	require.NoError(t, err)
	srv := httptest.NewServer(a.handler)
	t.Cleanup(func() {
		a.Close()
		srv.Close()
	})
	return &testServer{t: t, srv: srv, services: services}
}

func (s *testServer) do(method, path, token string, body interface{}) *http.Response {
	s.t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(s.t, err)
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, s.srv.URL+path, reader)
	require.NoError(s.t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(s.t, err)
	s.t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (s *testServer) register(req models.RegisterRequest) models.LoginResponse {
	s.t.Helper()
	resp := s.do("POST", "/api/auth/register", "", req)
	require.Equal(s.t, http.StatusCreated, resp.StatusCode)
	var login models.LoginResponse
	require.NoError(s.t, json.NewDecoder(resp.Body).Decode(&login))
	return login
}

func (s *testServer) createBooking(token string) models.BookingDetails {
	s.t.Helper()
	service := s.services[0]
	resp := s.do("POST", "/api/bookings", token, models.CreateBookingRequest{
		CategoryID:    service.CategoryID.Hex(),
		ServiceID:     service.ID.Hex(),
		ScheduledDate: time.Now().Add(24 * time.Hour),
		ScheduledTime: "10:30",
		CustomAddress: &models.CustomAddress{Line1: "12 MG Road", City: "Bengaluru"},
	})
	require.Equal(s.t, http.StatusCreated, resp.StatusCode)
	var created models.BookingDetails
	require.NoError(s.t, json.NewDecoder(resp.Body).Decode(&created))
	return created
}

func readMessage(t *testing.T, conn *websocket.Conn) hub.Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg hub.Message
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestOpenStore_UnknownDriver(t *testing.T) {
	_, _, err := openStore(context.Background(), config.StorageConfig{Driver: "sqlite"}, quietLogger())
	assert.ErrorContains(t, err, "sqlite")
}

func TestOpenStore_MemorySeedsCatalog(t *testing.T) {
	store, closeStore, err := openStore(context.Background(), config.StorageConfig{Driver: "memory"}, quietLogger())
	require.NoError(t, err)
	defer closeStore()
	assert.NotNil(t, store.Bookings)
}

func TestSeedCatalog(t *testing.T) {
	catalog := db.NewMemoryCatalog()
	services := seedCatalog(catalog)
	require.Len(t, services, 4)

	ctx := context.Background()
	for _, s := range services {
		found, err := catalog.FindServiceByID(ctx, s.ID)
		require.NoError(t, err)
		assert.Equal(t, s.Name, found.Name)
		assert.Positive(t, found.BasePrice)

		_, err = catalog.FindCategoryByID(ctx, s.CategoryID)
		assert.NoError(t, err)
	}
}

func TestServer_PublicAndProtectedRoutes(t *testing.T) {
	s := startServer(t, testConfig())

	resp := s.do("GET", "/health", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get(middleware.RequestIDHeader))

	resp = s.do("GET", "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = s.do("GET", "/api/bookings/mine", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = s.do("GET", "/api/bookings/mine", "not-a-jwt", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestServer_RateLimited(t *testing.T) {
	cfg := testConfig()
	cfg.Server.RateLimit = config.RateLimitConfig{RPS: 0.001, Burst: 1}
	s := startServer(t, cfg)

	assert.Equal(t, http.StatusOK, s.do("GET", "/health", "", nil).StatusCode)
	assert.Equal(t, http.StatusTooManyRequests, s.do("GET", "/health", "", nil).StatusCode)
}

func TestNewApp_PrunesIdleRateLimitBuckets(t *testing.T) {
	cfg := testConfig()
	cfg.Server.RateLimit.Idle = 20 * time.Millisecond
	a, err := newApp(context.Background(), cfg, db.NewMemoryStore(), quietLogger())
	require.NoError(t, err)
	defer a.Close()

	req := httptest.NewRequest("GET", "/health", nil)
	req.RemoteAddr = "198.51.100.4:5000"
	a.handler.ServeHTTP(httptest.NewRecorder(), req)
	require.Equal(t, 1, a.limiter.Clients())

	assert.Eventually(t, func() bool { return a.limiter.Clients() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestServer_PartnerSocketReceivesNewBooking(t *testing.T) {
	s := startServer(t, testConfig())

	partner := s.register(models.RegisterRequest{
		Name:         "Ravi",
		Email:        "ravi@example.com",
		Phone:        "+919800000001",
		Password:     "sparkling-clean",
		Role:         models.RolePartner,
		BusinessName: "Ravi Cleaners",
		Categories:   []string{s.services[0].CategoryID.Hex()},
	})
	require.NotNil(t, partner.Partner)
	customer := s.register(models.RegisterRequest{
		Name:     "Asha",
		Email:    "asha@example.com",
		Phone:    "+919800000002",
		Password: "correct-horse",
	})

	url := "ws" + strings.TrimPrefix(s.srv.URL, "http") + "/ws?token=" + partner.Token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	initial := readMessage(t, conn)
	assert.Equal(t, hub.TypeInitialData, initial.Type)

	created := s.createBooking(customer.Token)

	msg := readMessage(t, conn)
	assert.Equal(t, events.TypeNewBooking, msg.Type)
	data, err := json.Marshal(msg.Data)
	require.NoError(t, err)
	var pushed models.BookingDetails
	require.NoError(t, json.Unmarshal(data, &pushed))
	assert.Equal(t, created.ID, pushed.ID)
	assert.Equal(t, models.StatusPending, pushed.Status)
}

func TestServer_RejectsSocketWithoutToken(t *testing.T) {
	s := startServer(t, testConfig())

	url := "ws" + strings.TrimPrefix(s.srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.ClosePolicyViolation), "got %v", err)
}

func TestServer_PublishesEventsToRedis(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	cfg := testConfig()
	cfg.Redis.Enabled = true
	cfg.Redis.Address = mr.Addr()
	s := startServer(t, cfg)

	client := events.NewRedisClient(cfg.Redis)
	defer client.Close()
	ctx := context.Background()
	sub := client.Subscribe(ctx, cfg.Redis.Channel)
	defer sub.Close()
	_, err = sub.Receive(ctx)
	require.NoError(t, err)

	customer := s.register(models.RegisterRequest{
		Name:     "Asha",
		Email:    "asha@example.com",
		Phone:    "+919800000002",
		Password: "correct-horse",
	})
	created := s.createBooking(customer.Token)

	select {
	case msg := <-sub.Channel():
		var event events.Event
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &event))
		assert.Equal(t, events.TypeNewBooking, event.Type)
		assert.Equal(t, created.ID, event.Booking.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("no event published to redis")
	}
}

func TestNewApp_SkipsUnreachableRedis(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	addr := mr.Addr()
	mr.Close()

	cfg := testConfig()
	cfg.Redis.Enabled = true
	cfg.Redis.Address = addr

	a, err := newApp(context.Background(), cfg, db.NewMemoryStore(), quietLogger())
	require.NoError(t, err)
	defer a.Close()
	assert.Empty(t, a.closers)
}

func TestNewApp_RejectsEmptySecret(t *testing.T) {
	cfg := testConfig()
	cfg.Auth.JWTSecret = ""
	_, err := newApp(context.Background(), cfg, db.NewMemoryStore(), quietLogger())
	assert.Error(t, err)
}

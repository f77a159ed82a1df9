package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/ukydev/urban-services/internal/events"
	"github.com/ukydev/urban-services/internal/hub"
	"github.com/ukydev/urban-services/internal/models"
)

// workflow is the order a partner walks a job through.
var workflow = []models.BookingStatus{
	models.StatusPending,
	models.StatusAccepted,
	models.StatusOnTheWay,
	models.StatusInProgress,
	models.StatusCompleted,
}

// inbound is a hub frame with its payload left raw.
type inbound struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// bot claims bookings pushed over the partner socket and works them to
// completion through the REST API.
type bot struct {
	api     *apiClient
	partner *models.Partner // nil claims every category
	log     logrus.FieldLogger
	tick    time.Duration
	steps   int
	home    models.Coordinates

	mu   sync.Mutex
	jobs map[string]context.CancelFunc
	wg   sync.WaitGroup
}

func newBot(api *apiClient, partner *models.Partner, home models.Coordinates, tick time.Duration, steps int, log logrus.FieldLogger) *bot {
	return &bot{
		api:     api,
		partner: partner,
		log:     log,
		tick:    tick,
		steps:   steps,
		home:    home,
		jobs:    make(map[string]context.CancelFunc),
	}
}

// run holds the socket open until ctx ends or the server closes it.
func (b *bot) run(ctx context.Context, socketURL string) error {
	u, err := url.Parse(socketURL)
	if err != nil {
		return fmt.Errorf("parse socket url: %w", err)
	}
	q := u.Query()
	q.Set("token", b.api.token)
	u.RawQuery = q.Encode()

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil && resp.StatusCode != http.StatusSwitchingProtocols {
			return fmt.Errorf("dial %s: status %d: %w", socketURL, resp.StatusCode, err)
		}
		return fmt.Errorf("dial %s: %w", socketURL, err)
	}
	defer conn.Close()
	b.log.WithField("url", socketURL).Info("Partner socket connected")

	stop := make(chan struct{})
	defer close(stop)
	go b.keepAlive(conn, stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-stop:
		}
	}()

	for {
		var msg inbound
		if err := conn.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read socket: %w", err)
		}
		b.handle(ctx, msg)
	}
}

// keepAlive is the only writer on conn.
func (b *bot) keepAlive(conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(25 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := conn.WriteJSON(hub.Message{Type: hub.TypePing, Timestamp: time.Now()}); err != nil {
				b.log.WithError(err).Debug("Ping failed")
				return
			}
		}
	}
}

func (b *bot) handle(ctx context.Context, msg inbound) {
	switch msg.Type {
	case hub.TypeInitialData:
		var data models.InitialData
		if err := json.Unmarshal(msg.Data, &data); err != nil {
			b.log.WithError(err).Warn("Bad INITIAL_DATA payload")
			return
		}
		for _, status := range models.ActiveStatuses {
			for _, d := range data.Bookings[status] {
				b.start(ctx, d)
			}
		}
		for _, d := range data.Available {
			b.claim(ctx, d)
		}
	case events.TypeNewBooking:
		var d models.BookingDetails
		if err := json.Unmarshal(msg.Data, &d); err != nil {
			b.log.WithError(err).Warn("Bad NEW_BOOKING payload")
			return
		}
		if d.Status == models.StatusPending && !d.IsAssigned() {
			b.claim(ctx, d)
		}
	case events.TypeBookingCancelled:
		var d models.BookingDetails
		if err := json.Unmarshal(msg.Data, &d); err != nil {
			return
		}
		b.mu.Lock()
		cancel, ok := b.jobs[d.ID.Hex()]
		b.mu.Unlock()
		if ok {
			b.log.WithField("booking_number", d.BookingNumber).Info("Booking cancelled by customer")
			cancel()
		}
	case hub.TypePong, events.TypeBookingUpdated:
	default:
		b.log.WithField("type", msg.Type).Debug("Ignoring socket message")
	}
}

// claim accepts an open booking. Losing the race to another partner is
// expected and only logged.
func (b *bot) claim(ctx context.Context, d models.BookingDetails) {
	id := d.ID.Hex()
	if b.tracking(id) {
		return
	}
	if b.partner != nil && !b.partner.Serves(d.CategoryID) {
		return
	}
	updated, err := b.api.updateStatus(ctx, id, models.StatusUpdateRequest{Status: models.StatusAccepted, Notes: "Claimed by simulator"})
	if err != nil {
		var apiErr *apiError
		if errors.As(err, &apiErr) && (apiErr.Status == http.StatusForbidden || apiErr.Status == http.StatusBadRequest || apiErr.Status == http.StatusConflict) {
			b.log.WithField("booking_number", d.BookingNumber).Info("Booking already taken")
			return
		}
		b.log.WithError(err).WithField("booking_id", id).Error("Failed to claim booking")
		return
	}
	b.log.WithFields(logrus.Fields{"booking_number": updated.BookingNumber, "service": serviceName(updated)}).Info("Claimed booking")
	b.start(ctx, *updated)
}

// start works d from its current status unless it is already being worked.
func (b *bot) start(ctx context.Context, d models.BookingDetails) {
	id := d.ID.Hex()
	jobCtx, cancel := context.WithCancel(ctx)

	b.mu.Lock()
	if _, ok := b.jobs[id]; ok {
		b.mu.Unlock()
		cancel()
		return
	}
	b.jobs[id] = cancel
	b.mu.Unlock()

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer b.forget(id)
		if err := b.work(jobCtx, d); err != nil && jobCtx.Err() == nil {
			b.log.WithError(err).WithField("booking_id", id).Warn("Abandoned booking")
		}
	}()
}

func (b *bot) tracking(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.jobs[id]
	return ok
}

func (b *bot) forget(id string) {
	b.mu.Lock()
	cancel, ok := b.jobs[id]
	delete(b.jobs, id)
	b.mu.Unlock()
	if ok {
		cancel()
	}
}

// wait blocks until every job goroutine has returned.
func (b *bot) wait() {
	b.wg.Wait()
}

// work drives one booking through the remaining workflow steps, reporting
// location while travelling.
func (b *bot) work(ctx context.Context, d models.BookingDetails) error {
	id := d.ID.Hex()
	dest := destination(d, b.home)
	pos := b.home

	for _, next := range remaining(d.Status) {
		if !b.pause(ctx) {
			return ctx.Err()
		}

		req := models.StatusUpdateRequest{Status: next}
		switch next {
		case models.StatusOnTheWay:
			req.Coordinates = &pos
		case models.StatusInProgress:
			if err := b.travel(ctx, id, &pos, dest); err != nil {
				return err
			}
			if err := b.api.addImages(ctx, id, models.ImagesBefore, []string{photoURL(id, "before")}); err != nil {
				b.log.WithError(err).Debug("Failed to upload before photo")
			}
		case models.StatusCompleted:
			if err := b.api.addImages(ctx, id, models.ImagesAfter, []string{photoURL(id, "after")}); err != nil {
				b.log.WithError(err).Debug("Failed to upload after photo")
			}
		}

		updated, err := b.api.updateStatus(ctx, id, req)
		if err != nil {
			return fmt.Errorf("move to %s: %w", next, err)
		}
		b.log.WithFields(logrus.Fields{"booking_number": updated.BookingNumber, "status": updated.Status}).Info("Booking progressed")
	}
	return nil
}

// travel moves pos toward dest in equal steps, reporting each position.
func (b *bot) travel(ctx context.Context, id string, pos *models.Coordinates, dest models.Coordinates) error {
	start := *pos
	b.log.WithFields(logrus.Fields{
		"booking_id":  id,
		"distance_km": math.Round(haversineKm(start, dest)*100) / 100,
	}).Debug("Travelling to customer")
	for i := 1; i <= b.steps; i++ {
		if !b.pause(ctx) {
			return ctx.Err()
		}
		*pos = lerp(start, dest, float64(i)/float64(b.steps))
		if err := b.api.updateLocation(ctx, id, *pos); err != nil {
			return fmt.Errorf("report location: %w", err)
		}
	}
	return nil
}

func (b *bot) pause(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(b.tick):
		return true
	}
}

// remaining lists the workflow steps after current.
func remaining(current models.BookingStatus) []models.BookingStatus {
	for i, s := range workflow {
		if s == current {
			return workflow[i+1:]
		}
	}
	return nil
}

func destination(d models.BookingDetails, home models.Coordinates) models.Coordinates {
	if c := d.Address.Custom; c != nil && c.Coordinates != nil {
		return *c.Coordinates
	}
	return jitterLocation(home, 3000)
}

func serviceName(d *models.BookingDetails) string {
	if d.Service == nil {
		return ""
	}
	return d.Service.Name
}

func photoURL(bookingID, kind string) string {
	return fmt.Sprintf("https://photos.example.com/%s/%s-%d.jpg", bookingID, kind, time.Now().Unix())
}

// Cities the bot can be based in.
var cities = []models.Coordinates{
	{Lat: 12.9716, Lng: 77.5946}, // Bengaluru
	{Lat: 18.5204, Lng: 73.8567}, // Pune
	{Lat: 19.0760, Lng: 72.8777}, // Mumbai
	{Lat: 28.6139, Lng: 77.2090}, // Delhi
	{Lat: 17.3850, Lng: 78.4867}, // Hyderabad
	{Lat: 13.0827, Lng: 80.2707}, // Chennai
}

func randomHome() models.Coordinates {
	return jitterLocation(cities[rand.IntN(len(cities))], 2000)
}

func jitterLocation(base models.Coordinates, meters float64) models.Coordinates {
	latMetersPerDeg := 111320.0
	lngMetersPerDeg := 111320.0 * math.Cos(base.Lat*math.Pi/180)
	dLat := (rand.Float64()*2 - 1) * (meters / latMetersPerDeg)
	dLng := (rand.Float64()*2 - 1) * (meters / lngMetersPerDeg)
	return models.Coordinates{Lat: base.Lat + dLat, Lng: base.Lng + dLng}
}

func haversineKm(a, b models.Coordinates) float64 {
	const r = 6371.0
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLng := (b.Lng - a.Lng) * math.Pi / 180
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	s := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return r * 2 * math.Atan2(math.Sqrt(s), math.Sqrt(1-s))
}

func lerp(a, b models.Coordinates, t float64) models.Coordinates {
	return models.Coordinates{Lat: a.Lat + (b.Lat-a.Lat)*t, Lng: a.Lng + (b.Lng-a.Lng)*t}
}

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cast"
)

// settings configures a simulator run from the environment.
type settings struct {
	APIURL    string
	SocketURL string
	Token     string
	Accounts  []account
	Tick      time.Duration
	Steps     int
}

type account struct {
	Email    string
	Password string
}

func loadSettings(getenv func(string) string) (settings, error) {
	s := settings{
		APIURL: strings.TrimRight(getenv("API_BASE_URL"), "/"),
		Token:  getenv("SIM_AUTH_TOKEN"),
		Tick:   2 * time.Second,
		Steps:  5,
	}
	if s.APIURL == "" {
		s.APIURL = "http://localhost:8080"
	}
	s.SocketURL = getenv("SIM_SOCKET_URL")
	if s.SocketURL == "" {
		s.SocketURL = "ws" + strings.TrimPrefix(s.APIURL, "http") + "/ws"
	}
	if n := cast.ToInt(getenv("SIM_TICK_SECONDS")); n >= 1 {
		s.Tick = time.Duration(n) * time.Second
	}
	if n := cast.ToInt(getenv("SIM_ROUTE_STEPS")); n >= 1 {
		s.Steps = n
	}

	// SIM_ACCOUNTS is a comma separated list of email:password pairs.
	for _, pair := range strings.Split(getenv("SIM_ACCOUNTS"), ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		email, password, ok := strings.Cut(pair, ":")
		if !ok || email == "" || password == "" {
			return settings{}, fmt.Errorf("invalid SIM_ACCOUNTS entry %q", pair)
		}
		s.Accounts = append(s.Accounts, account{Email: email, Password: password})
	}
	if s.Token == "" && len(s.Accounts) == 0 {
		return settings{}, fmt.Errorf("set SIM_AUTH_TOKEN or SIM_ACCOUNTS")
	}
	return s, nil
}

// startBots logs in each configured partner and returns one bot per identity.
func startBots(ctx context.Context, s settings, logger log.FieldLogger) ([]*bot, error) {
	var bots []*bot
	if s.Token != "" {
		bots = append(bots, newBot(newAPIClient(s.APIURL, s.Token), nil, randomHome(), s.Tick, s.Steps, logger.WithField("partner", "token")))
	}
	for _, acc := range s.Accounts {
		client := newAPIClient(s.APIURL, "")
		resp, err := client.login(ctx, acc.Email, acc.Password)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", acc.Email, err)
		}
		if resp.Partner == nil {
			return nil, fmt.Errorf("%s is not a service partner", acc.Email)
		}
		bots = append(bots, newBot(client, resp.Partner, randomHome(), s.Tick, s.Steps, logger.WithField("partner", resp.Partner.BusinessName)))
	}
	return bots, nil
}

func main() {
	s, err := loadSettings(os.Getenv)
	if err != nil {
		log.WithError(err).Fatal("Invalid simulator settings")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bots, err := startBots(ctx, s, log.StandardLogger())
	if err != nil {
		log.WithError(err).Fatal("Failed to sign in partners")
	}

	log.WithFields(log.Fields{
		"partners": len(bots),
		"api_url":  s.APIURL,
		"interval": s.Tick,
	}).Info("Starting partner simulation")

	var wg sync.WaitGroup
	for _, b := range bots {
		wg.Add(1)
		go func(b *bot) {
			defer wg.Done()
			defer b.wait()
			for ctx.Err() == nil {
				if err := b.run(ctx, s.SocketURL); err != nil {
					b.log.WithError(err).Warn("Socket closed, reconnecting")
				}
				select {
				case <-ctx.Done():
				case <-time.After(5 * time.Second):
				}
			}
		}(b)
	}
	wg.Wait()
	log.Info("Partner simulation stopped")
}

// Package routeros manages hotspot logins on a MikroTik router through the
// RouterOS API.
package routeros

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-routeros/routeros/v3"
	"github.com/rs/zerolog/log"
)

// Config holds router API settings.
type Config struct {
	Address  string // host:port, the API listens on 8728
	Username string
	Password string
	Timeout  time.Duration
}

// ErrNotConfigured is returned when no router address is set.
var ErrNotConfigured = errors.New("routeros: router address is not configured")

// conn is the subset of *routeros.Client in use.
type conn interface {
	RunArgs(sentence []string) (*routeros.Reply, error)
	Close() error
}

type dialFunc func(cfg Config) (conn, error)

func dialRouter(cfg Config) (conn, error) {
	return routeros.DialTimeout(cfg.Address, cfg.Username, cfg.Password, cfg.Timeout)
}

// Client holds one lazily dialed API session shared by all callers.
// A failed command drops the session so the next call redials.
type Client struct {
	cfg  Config
	dial dialFunc

	mu   sync.Mutex
	conn conn
}

// NewClient creates a router client. No connection is made until the
// first command.
func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Address != "" && !strings.Contains(cfg.Address, ":") {
		cfg.Address += ":8728"
	}
	return &Client{cfg: cfg, dial: dialRouter}
}

// Close ends the API session.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

// run executes one command. The API session is not safe for interleaved
// commands, so calls are serialized.
func (c *Client) run(ctx context.Context, sentence ...string) (*routeros.Reply, error) {
	if c.cfg.Address == "" {
		return nil, ErrNotConfigured
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		cn, err := c.dial(c.cfg)
		if err != nil {
			return nil, fmt.Errorf("routeros dial %s: %w", c.cfg.Address, err)
		}
		c.conn = cn
		log.Debug().Str("router", c.cfg.Address).Msg("RouterOS session opened")
	}

	reply, err := c.conn.RunArgs(sentence)
	if err != nil {
		var devErr *routeros.DeviceError
		if !errors.As(err, &devErr) {
			// transport failure: the session is unusable
			_ = c.conn.Close()
			c.conn = nil
		}
		return nil, fmt.Errorf("routeros %s: %w", sentence[0], err)
	}
	return reply, nil
}

// CreateLogin adds a hotspot user bound to profile. An already existing
// user counts as success so retries are harmless.
func (c *Client) CreateLogin(ctx context.Context, username, password, profile string) error {
	_, err := c.run(ctx,
		"/ip/hotspot/user/add",
		"=name="+username,
		"=password="+password,
		"=profile="+profile,
		"=comment=voucher",
	)
	if err != nil && isAlreadyExists(err) {
		log.Info().Str("username", username).Msg("Hotspot user already exists")
		return nil
	}
	return err
}

// RemoveLogin deletes the hotspot user. A missing user is not an error.
func (c *Client) RemoveLogin(ctx context.Context, username string) error {
	ids, err := c.findIDs(ctx, "/ip/hotspot/user/print", "?name="+username)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if _, err := c.run(ctx, "/ip/hotspot/user/remove", "=.id="+id); err != nil {
			return err
		}
	}
	return nil
}

// DisconnectSession kicks any active hotspot session of username.
func (c *Client) DisconnectSession(ctx context.Context, username string) error {
	ids, err := c.findIDs(ctx, "/ip/hotspot/active/print", "?user="+username)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if _, err := c.run(ctx, "/ip/hotspot/active/remove", "=.id="+id); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) findIDs(ctx context.Context, cmd, query string) ([]string, error) {
	reply, err := c.run(ctx, cmd, query, "=.proplist=.id")
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(reply.Re))
	for _, re := range reply.Re {
		if id := re.Map[".id"]; id != "" {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func isAlreadyExists(err error) bool {
	var devErr *routeros.DeviceError
	if !errors.As(err, &devErr) {
		return false
	}
	return strings.Contains(devErr.Error(), "already have")
}

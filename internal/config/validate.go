// Callstream - Radio Scanner Live Feed Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/callstream

package config

import (
	"fmt"
	"net/url"

	"github.com/tomtom215/callstream/internal/validation"
)

// Validate checks struct tags first, then the rules that span fields.
func (c *Config) Validate() error {
	if err := validation.ValidateStruct(c); err != nil {
		return err
	}
	if err := c.validateFeed(); err != nil {
		return err
	}
	if err := c.validateTransport(); err != nil {
		return err
	}
	return c.validateSubscriptions()
}

func (c *Config) validateFeed() error {
	u, err := url.Parse(c.Feed.URL)
	if err != nil {
		return fmt.Errorf("feed.url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("feed.url must use http or https, got %q", u.Scheme)
	}
	if c.Feed.Transport == TransportNATS && c.Feed.NATSURL == "" {
		return fmt.Errorf("feed.nats_url is required when feed.transport=nats")
	}
	return nil
}

func (c *Config) validateTransport() error {
	if c.Transport.ReconnectMin > c.Transport.ReconnectMax {
		return fmt.Errorf("transport.reconnect_min (%v) must not exceed transport.reconnect_max (%v)",
			c.Transport.ReconnectMin, c.Transport.ReconnectMax)
	}
	return nil
}

func (c *Config) validateSubscriptions() error {
	if c.Subscriptions.Store == StoreBadger && c.Subscriptions.Path == "" {
		return fmt.Errorf("subscriptions.path is required when subscriptions.store=badger")
	}
	return nil
}

// Copyright 2026 The Conflux Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"context"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/conflux-foundation/conflux/lib/codec"
	"github.com/conflux-foundation/conflux/lib/event"
)

// dialTimeout covers only the connect phase; the server's own
// timeouts govern the rest.
const dialTimeout = 5 * time.Second

// responseReadTimeout is how long a one-shot call waits for its
// response, sized to the server's read plus write timeouts with
// handler time in between.
const responseReadTimeout = 45 * time.Second

// ServiceError is returned by Call when the server answers ok=false.
// When the server's message carries a known sentinel, Unwrap exposes
// it, so errors.Is(err, fragment.ErrNotFound) works across the
// socket.
type ServiceError struct {
	Action   string
	Message  string
	sentinel error
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("service error on %q: %s", e.Action, e.Message)
}

func (e *ServiceError) Unwrap() error { return e.sentinel }

// Client talks to a hub's control socket. Each Call opens its own
// connection, matching the server's one-request-per-connection model.
// The zero value is not usable; construct with NewClient.
type Client struct {
	socketPath string
}

// NewClient creates a client for the socket at socketPath.
func NewClient(socketPath string) *Client {
	return &Client{socketPath: socketPath}
}

// Call sends one request and decodes the response. args is marshaled
// as the request's args field (nil omits it); on success, response
// data is decoded into result when result is non-nil.
//
// Server-side failures come back as *ServiceError. Connection and
// encoding trouble comes back as plain errors.
func (c *Client) Call(ctx context.Context, action string, args any, result any) error {
	request, err := buildRequest(action, args)
	if err != nil {
		return err
	}

	conn, err := c.dial(ctx)
	if err != nil {
		return fmt.Errorf("calling %q on %s: %w", action, c.socketPath, err)
	}
	defer conn.Close()

	if err := codec.NewEncoder(conn).Encode(request); err != nil {
		return fmt.Errorf("calling %q: writing request: %w", action, err)
	}
	// Half-close so the server's read side sees a clean EOF.
	if unixConn, ok := conn.(*net.UnixConn); ok {
		unixConn.CloseWrite()
	}

	conn.SetReadDeadline(time.Now().Add(responseReadTimeout))
	var response Response
	if err := codec.NewDecoder(io.LimitReader(conn, maxMessageSize)).Decode(&response); err != nil {
		return fmt.Errorf("calling %q: reading response: %w", action, err)
	}

	if !response.OK {
		return &ServiceError{
			Action:   action,
			Message:  response.Error,
			sentinel: sentinelFor(response.Error),
		}
	}
	if result != nil && len(response.Data) > 0 {
		if err := codec.Unmarshal(response.Data, result); err != nil {
			return fmt.Errorf("decoding response data for %q: %w", action, err)
		}
	}
	return nil
}

// Watch subscribes to the hub's event stream. The returned stream
// delivers events until Close is called or the server goes away.
func (c *Client) Watch(ctx context.Context) (*WatchStream, error) {
	request, err := buildRequest(ActionWatch, nil)
	if err != nil {
		return nil, err
	}

	conn, err := c.dial(ctx)
	if err != nil {
		return nil, fmt.Errorf("watching %s: %w", c.socketPath, err)
	}

	// The write side stays open: the server reads it to detect
	// disconnection.
	if err := codec.NewEncoder(conn).Encode(request); err != nil {
		conn.Close()
		return nil, fmt.Errorf("watching: writing request: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(responseReadTimeout))
	decoder := codec.NewDecoder(conn)
	var header Response
	if err := decoder.Decode(&header); err != nil {
		conn.Close()
		return nil, fmt.Errorf("watching: reading header: %w", err)
	}
	if !header.OK {
		conn.Close()
		return nil, &ServiceError{
			Action:   ActionWatch,
			Message:  header.Error,
			sentinel: sentinelFor(header.Error),
		}
	}
	conn.SetReadDeadline(time.Time{})

	return &WatchStream{conn: conn, decoder: decoder}, nil
}

func (c *Client) dial(ctx context.Context) (net.Conn, error) {
	dialer := net.Dialer{Timeout: dialTimeout}
	return dialer.DialContext(ctx, "unix", c.socketPath)
}

// buildRequest marshals args into a Request.
func buildRequest(action string, args any) (Request, error) {
	request := Request{Action: action}
	if args != nil {
		data, err := codec.Marshal(args)
		if err != nil {
			return Request{}, fmt.Errorf("marshaling args for %q: %w", action, err)
		}
		request.Args = data
	}
	return request, nil
}

// WatchStream is a live event subscription. Next blocks until a frame
// arrives; there is no deadline, so interrupt a pending Next by
// calling Close.
type WatchStream struct {
	conn    net.Conn
	decoder *codec.Decoder
}

// Next returns the next event. io.EOF means the server closed the
// stream; after Close, Next fails with net.ErrClosed.
func (w *WatchStream) Next() (event.Event, error) {
	var ev event.Event
	if err := w.decoder.Decode(&ev); err != nil {
		return event.Event{}, err
	}
	return ev, nil
}

// Close terminates the subscription.
func (w *WatchStream) Close() error {
	return w.conn.Close()
}

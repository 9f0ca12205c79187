package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/loykin/respawn/internal/config"
	"github.com/loykin/respawn/pkg/client"
)

// command binds operator commands to the control socket of a running
// supervisor.
type command struct {
	global *GlobalFlags
}

// socketPath resolves --socket, then the config's socket, then the default.
func (c *command) socketPath() (string, error) {
	if c.global.Socket != "" {
		return c.global.Socket, nil
	}
	if c.global.ConfigPath != "" {
		cfg, err := config.Load(c.global.ConfigPath)
		if err != nil {
			return "", fmt.Errorf("error loading config: %w", err)
		}
		return cfg.Socket, nil
	}
	return config.DefaultSocketPath(), nil
}

func (c *command) client(ctx context.Context) (*client.Client, error) {
	sock, err := c.socketPath()
	if err != nil {
		return nil, err
	}
	cl := client.New(client.Config{
		SocketPath: sock,
		Timeout:    c.global.Timeout,
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if !cl.IsReachable(ctx) {
		return nil, fmt.Errorf("supervisor not reachable at %s - start it first with 'respawn serve'", sock)
	}
	return cl, nil
}

func (c *command) Start(ctx context.Context, w io.Writer, name string) error {
	cl, err := c.client(ctx)
	if err != nil {
		return err
	}
	if err := cl.Start(ctx, name); err != nil {
		return describe(name, err)
	}
	return c.printOne(ctx, w, cl, name)
}

func (c *command) Restart(ctx context.Context, w io.Writer, name string) error {
	cl, err := c.client(ctx)
	if err != nil {
		return err
	}
	if err := cl.Restart(ctx, name); err != nil {
		return describe(name, err)
	}
	return c.printOne(ctx, w, cl, name)
}

func (c *command) Stop(ctx context.Context, w io.Writer, f StopFlags) error {
	cl, err := c.client(ctx)
	if err != nil {
		return err
	}
	if err := cl.Stop(ctx, client.StopRequest{Name: f.Name, Wildcard: f.Wildcard, Wait: f.Wait}); err != nil {
		return describe(f.Name, err)
	}
	sts, err := cl.Status(ctx, client.StatusQuery{Name: f.Name, Wildcard: f.Wildcard})
	if err != nil {
		return err
	}
	return printStatusTable(w, sts)
}

func (c *command) Status(ctx context.Context, w io.Writer, f StatusFlags) error {
	cl, err := c.client(ctx)
	if err != nil {
		return err
	}
	sts, err := cl.Status(ctx, client.StatusQuery{Name: f.Name, Wildcard: f.Wildcard})
	if err != nil {
		return describe(f.Name, err)
	}
	if f.JSON {
		return printJSON(w, sts)
	}
	return printStatusTable(w, sts)
}

func (c *command) Logs(ctx context.Context, w io.Writer, f LogsFlags) error {
	if f.Lines < 0 {
		return fmt.Errorf("--lines must not be negative")
	}
	cl, err := c.client(ctx)
	if err != nil {
		return err
	}
	res, err := cl.Logs(ctx, client.LogsQuery{Name: f.Name, Lines: f.Lines, Stderr: f.Stderr})
	if err != nil {
		return describe(f.Name, err)
	}
	for _, l := range res.Lines {
		if _, err := fmt.Fprintln(w, l); err != nil {
			return err
		}
	}
	return nil
}

func (c *command) printOne(ctx context.Context, w io.Writer, cl *client.Client, name string) error {
	sts, err := cl.Status(ctx, client.StatusQuery{Name: name})
	if err != nil {
		return err
	}
	return printStatusTable(w, sts)
}

// describe turns API errors into operator-facing messages.
func describe(name string, err error) error {
	var apiErr *client.APIError
	if !errors.As(err, &apiErr) {
		return err
	}
	switch {
	case apiErr.NotFound():
		if name == "" {
			return errors.New(apiErr.Message)
		}
		return fmt.Errorf("unknown process %q", name)
	case apiErr.LaunchFailed():
		return fmt.Errorf("failed to launch %q (%s): %s", name, apiErr.Reason, apiErr.Message)
	}
	return err
}

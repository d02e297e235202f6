package main

import (
	"context"
	"time"

	"github.com/loykin/streamgate/internal/config"
	"github.com/loykin/streamgate/internal/intake"
)

const defaultHookTimeout = 5 * time.Second

func knownEvents() []string { return intake.KnownEvents() }

// runHook validates the relay environment for event and sends it to the
// control plane. Validation happens before any connection is made.
func runHook(ctx context.Context, g *GlobalFlags, f *HookFlags, event string, lookup func(string) (string, bool)) error {
	fields, err := intake.FieldsFromEnv(event, lookup)
	if err != nil {
		return err
	}
	socket := f.Socket
	if socket == "" {
		cfg, err := config.Load(g.ConfigPath)
		if err != nil {
			return err
		}
		socket = cfg.Intake.Socket
	}
	client := intake.Client{Address: socket, Timeout: f.Timeout}
	return client.Send(ctx, event, fields)
}

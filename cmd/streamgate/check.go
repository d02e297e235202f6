package main

import (
	"fmt"
	"io"

	"github.com/loykin/streamgate/internal/config"
)

func runCheckConfig(w io.Writer, path string) error {
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	d := cfg.Orchestration()
	catalogSource := "static"
	if cfg.Catalog.DSN != "" {
		catalogSource = "dsn"
	}
	sweep := d.PersistSpec()
	if sweep == "" {
		sweep = "off"
	}
	_, err = fmt.Fprintf(w, "config ok: socket=%s worker=%s grace=%s restart_ceiling=%d sweep=%q catalog=%s (%d static paths)\n",
		cfg.Intake.Socket, d.Worker.Command, d.GracePeriod, d.RestartCeiling, sweep, catalogSource, len(cfg.Catalog.Paths))
	return err
}

package main

import (
	"time"

	"github.com/spf13/cobra"
)

// GlobalFlags holds minimal global/persistent flags for CLI commands
type GlobalFlags struct {
	ConfigPath string
}

// ServeFlags holds flags for the serve command
type ServeFlags struct {
	Daemonize bool
	PidFile   string
	LogFile   string
}

// HookFlags holds flags for the hook command
type HookFlags struct {
	Socket  string
	Timeout time.Duration
}

// QueryFlags holds flags for commands that read the status API
type QueryFlags struct {
	Name       string
	APIUrl     string
	APITimeout time.Duration
	Insecure   bool
}

func addQueryFlags(cmd *cobra.Command, flags *QueryFlags, nameHelp string) {
	cmd.Flags().StringVar(&flags.Name, "name", "", nameHelp+" (optional, all when empty)")
	cmd.Flags().StringVar(&flags.APIUrl, "api-url", "", "status API URL (default from config, e.g. http://127.0.0.1:62005/api)")
	cmd.Flags().DurationVar(&flags.APITimeout, "api-timeout", 10*time.Second, "request timeout")
	cmd.Flags().BoolVar(&flags.Insecure, "insecure", false, "skip TLS certificate verification")
}

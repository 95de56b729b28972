/**
 * Copyright 2022 kmeaw
 *
 * Licensed under the GNU Affero General Public License (AGPL).
 *
 * This program is free software: you can redistribute it and/or modify it
 * under the terms of the GNU Affero General Public License as published by the
 * Free Software Foundation, version 3 of the License.
 *
 * This program is distributed in the hope that it will be useful, but WITHOUT
 * ANY WARRANTY; without even the implied warranty of MERCHANTABILITY or
 * FITNESS FOR A PARTICULAR PURPOSE.  See the GNU Affero General Public License
 * for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 */
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// set at build time
var (
	version = "dev"
	commit  = "none"
)

type rootOptions struct {
	address   string
	configDir string
}

// loadConfig reads the saved config and applies command line overrides.
func (o *rootOptions) loadConfig() (*Config, error) {
	config := &Config{}

	var err error
	if o.configDir != "" {
		err = config.InitDir(o.configDir)
	} else {
		err = config.Init()
	}
	if err != nil {
		return nil, fmt.Errorf("cannot init config system: %w", err)
	}

	if err := config.Load(); err != nil {
		return nil, fmt.Errorf("error loading config file: %w", err)
	}

	if o.address != "" {
		config.Address = o.address
	}

	return config, nil
}

func rootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "oobclient",
		Short: "Talk to id Tech 3 game servers out of band",
		Long: `oobclient performs the connectionless part of the game protocol:
challenge/connect handshakes with a Huffman-compressed userinfo, server
status queries and rcon. The serve command adds a web UI, a scripted IRC
bridge and a remote control relay.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.address, "address", "a", "", "server address (host:port)")
	cmd.PersistentFlags().StringVar(&opts.configDir, "config", "", "config directory (default: user config dir)")

	cmd.AddCommand(
		connectCmd(opts),
		statusCmd(opts),
		rconCmd(opts),
		serveCmd(opts),
		compressCmd(),
		decompressCmd(),
		versionCmd(),
	)

	return cmd
}

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %s\n", err)
		os.Exit(1)
	}
}

// vim: ai:ts=8:sw=8:noet:syntax=go

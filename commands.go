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
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"os/exec"
	"os/signal"
	"runtime"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/kmeaw/oobclient/huffman"
)

// input returns the joined args, or stdin when there are none.
func input(cmd *cobra.Command, args []string) ([]byte, error) {
	if len(args) > 0 {
		return []byte(strings.Join(args, " ")), nil
	}
	return io.ReadAll(cmd.InOrStdin())
}

func connectCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "connect",
		Short: "Run the challenge/connect handshake",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			config, err := opts.loadConfig()
			if err != nil {
				return err
			}

			client := NewClientFromConfig(config, nil)
			defer client.Close()

			if err := client.Connect(cmd.Context()); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s (challenge %d)\n", client.Address, client.State(), client.Challenge())
			return nil
		},
	}
}

func statusCmd(opts *rootOptions) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Query server info and players",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			config, err := opts.loadConfig()
			if err != nil {
				return err
			}

			client := NewClientFromConfig(config, nil)
			defer client.Close()

			status, err := client.Status(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(status)
			}

			for _, k := range status.Info.Keys() {
				fmt.Fprintf(out, "%-24s %s\n", k, status.Info[k])
			}
			fmt.Fprintf(out, "\n%d players\n", len(status.Players))
			for _, p := range status.Players {
				fmt.Fprintf(out, "%6d %4d %s\n", p.Score, p.Ping, p.Name)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")

	return cmd
}

func rconCmd(opts *rootOptions) *cobra.Command {
	var password string

	cmd := &cobra.Command{
		Use:   "rcon <command...>",
		Short: "Send a remote console command",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			config, err := opts.loadConfig()
			if err != nil {
				return err
			}
			if password != "" {
				config.RconPassword = password
			}

			rcon := NewRconClient(config.Timeout())
			if err := rcon.Connect(cmd.Context(), config.Address, config.RconPassword); err != nil {
				return err
			}
			defer rcon.Close()

			out, err := rcon.Command(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				return err
			}

			fmt.Fprint(cmd.OutOrStdout(), out)
			return nil
		},
	}

	cmd.Flags().StringVarP(&password, "password", "p", "", "rcon password (default: from config)")

	return cmd
}

func openBrowser(url string) {
	switch runtime.GOOS {
	case "linux":
		exec.Command("xdg-open", url).Start()
	case "windows":
		exec.Command(
			"rundll32",
			"url.dll,FileProtocolHandler",
			url,
		).Start()
	case "darwin":
		exec.Command("open", url).Start()
	}
}

func serveCmd(opts *rootOptions) *cobra.Command {
	var listen string
	var browser bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the web UI, IRC bridge and remote relay",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			config, err := opts.loadConfig()
			if err != nil {
				return err
			}
			if listen != "" {
				config.Listen = listen
			}

			app, err := NewApp(config)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			if config.IRCServer != "" {
				if err := app.IRCBot.Start(); err != nil {
					log.Printf("irc: cannot start: %s", err)
				}
				defer app.IRCBot.Stop()
			}

			if remote, err := NewRemote(config, app.Script, app.Events); err == nil {
				go remote.Run(ctx)
			} else if !errors.Is(err, ErrNoRemote) {
				return err
			}

			gin.SetMode(gin.ReleaseMode)
			r, err := app.Router()
			if err != nil {
				return err
			}

			l, err := net.Listen("tcp", config.Listen)
			if err != nil {
				return err
			}

			url := "http://" + l.Addr().String() + "/"
			log.Printf("Starting up a server on %s", url)
			if browser {
				go openBrowser(url)
			}

			context.AfterFunc(ctx, func() {
				l.Close()
			})
			err = r.RunListener(l)
			if ctx.Err() != nil {
				return nil
			}
			return err
		},
	}

	cmd.Flags().StringVarP(&listen, "listen", "l", "", "web UI address (default: from config)")
	cmd.Flags().BoolVar(&browser, "browser", true, "open the web UI in a browser")

	return cmd
}

func compressCmd() *cobra.Command {
	var offset int

	cmd := &cobra.Command{
		Use:   "compress [text]",
		Short: "Huffman-compress text (or stdin) and print it as hex",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := input(cmd, args)
			if err != nil {
				return err
			}

			out, err := huffman.CompressOffset(data, offset)
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), hex.EncodeToString(out))
			return nil
		},
	}

	cmd.Flags().IntVar(&offset, "offset", 0, "leave the first N bytes uncompressed")

	return cmd
}

func decompressCmd() *cobra.Command {
	var offset int

	cmd := &cobra.Command{
		Use:   "decompress [hex]",
		Short: "Decode a hex Huffman stream (or stdin) and print the bytes",
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := input(cmd, args)
			if err != nil {
				return err
			}

			data, err := hex.DecodeString(strings.Join(strings.Fields(string(text)), ""))
			if err != nil {
				return err
			}

			out, err := huffman.DecompressOffset(data, offset)
			if err != nil {
				return err
			}

			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}

	cmd.Flags().IntVar(&offset, "offset", 0, "the first N bytes are not compressed")

	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "oobclient %s (%s) %s %s/%s\n", version, commit, runtime.Version(), runtime.GOOS, runtime.GOARCH)
		},
	}
}

// vim: ai:ts=8:sw=8:noet:syntax=go

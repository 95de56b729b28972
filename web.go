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
	"crypto/rand"
	"embed"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"html/template"
	"io/fs"
	"log"
	"net/http"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/contrib/renders/multitemplate"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/net/websocket"

	"github.com/kmeaw/oobclient/huffman"
)

//go:embed templates/*.html
var templatesFS embed.FS

const REQUEST_TIMEOUT = 10 * time.Second

// App ties together everything the web UI and the CLI drive.
type App struct {
	Config *Config
	Client *Client
	Rcon   *RconClient
	Script *Script
	IRCBot *IRCBot
	Events *Broadcaster
	CSRF   string

	// mu guards Config
	mu sync.Mutex
}

func NewApp(config *Config) (*App, error) {
	events := NewBroadcaster()
	client := NewClientFromConfig(config, events)
	rcon := NewRconClient(config.Timeout())
	script := NewScript(client, rcon, events)

	csrf_buf := make([]byte, 16)
	_, err := rand.Read(csrf_buf)
	if err != nil {
		return nil, fmt.Errorf("cannot read random bytes: %w", err)
	}

	app := &App{
		Config: config,
		Client: client,
		Rcon:   rcon,
		Script: script,
		IRCBot: NewIRCBot(config, script, events),
		Events: events,
		CSRF:   base64.RawURLEncoding.EncodeToString(csrf_buf),
	}

	if config.Script != "" {
		if err := script.Load(config.Script); err != nil {
			log.Printf("cannot load saved script: %s", err)
		}
	}

	return app, nil
}

func initTemplates(r *gin.Engine, fsys fs.FS) error {
	var names, pnames []string

	entries, err := fs.ReadDir(fsys, "templates")
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		if strings.HasPrefix(entry.Name(), "_") {
			pnames = append(pnames, entry.Name())
		} else {
			names = append(names, entry.Name())
		}
	}

	funcs := template.FuncMap{
		"join": strings.Join,
	}

	render := multitemplate.New()
	ptmpls := make(map[string]*template.Template)
	for _, pname := range pnames {
		data, err := fs.ReadFile(fsys, path.Join("templates", pname))
		if err != nil {
			return fmt.Errorf("cannot open %q: %w", pname, err)
		}
		pname = strings.TrimSuffix(pname, ".html")
		tmpl, err := template.New(pname).Funcs(funcs).Parse(string(data))
		if err != nil {
			return fmt.Errorf("cannot parse template %q: %w", pname, err)
		}
		ptmpls[pname] = tmpl
	}
	for _, name := range names {
		data, err := fs.ReadFile(fsys, path.Join("templates", name))
		if err != nil {
			return fmt.Errorf("cannot open %q: %w", name, err)
		}
		tmpl, err := template.New(name).Funcs(funcs).Parse(string(data))
		if err != nil {
			return fmt.Errorf("cannot parse template %q: %w", name, err)
		}
		for pname, ptmpl := range ptmpls {
			tmpl.AddParseTree(pname, ptmpl.Tree)
		}
		render.Add(name, tmpl)
	}
	r.HTMLRender = render

	return nil
}

func (app *App) checkCSRF(c *gin.Context) bool {
	if c.PostForm("csrf") != app.CSRF {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
			"error": "bad_csrf",
		})
		return false
	}
	return true
}

// config returns a snapshot of the current configuration.
func (app *App) config() Config {
	app.mu.Lock()
	defer app.mu.Unlock()
	return *app.Config
}

// updateConfig applies fn to the configuration and persists it.
func (app *App) updateConfig(fn func(c *Config)) {
	app.mu.Lock()
	defer app.mu.Unlock()

	fn(app.Config)
	if app.Config.configDir == "" {
		return
	}
	if err := app.Config.Save(); err != nil {
		log.Printf("cannot save config: %s", err)
	}
}

func (app *App) loadScript(c *gin.Context) error {
	var p struct {
		Script string `form:"script"`
	}

	if err := c.ShouldBind(&p); err != nil {
		c.AbortWithError(http.StatusBadRequest, err)
		return err
	}

	script := strings.TrimSpace(p.Script)
	if script == "" {
		script = app.config().Script
	}

	err := app.Script.Load(script)
	if err != nil {
		c.HTML(http.StatusOK, "error.html", gin.H{"Error": err.Error()})
		return err
	}

	app.updateConfig(func(c *Config) {
		c.Script = script
	})

	return nil
}

func (app *App) stateJSON() gin.H {
	return gin.H{
		"address":   app.config().Address,
		"state":     app.Client.State().String(),
		"challenge": app.Client.Challenge(),
		"rcon":      app.Rcon.IsOnline(),
		"irc":       app.IRCBot.IsOnline(),
		"commands":  app.Script.Commands(),
	}
}

func (app *App) streamEvents(c *gin.Context) {
	handler := websocket.Handler(func(ws *websocket.Conn) {
		defer ws.Close()

		ctx, cancel := context.WithCancel(c.Request.Context())
		defer cancel()

		// the browser never writes, so a failed read means it went away
		go func() {
			var discard [64]byte
			for {
				if _, err := ws.Read(discard[:]); err != nil {
					cancel()
					return
				}
			}
		}()

		for event := range app.Events.Subscribe(ctx) {
			if err := websocket.JSON.Send(ws, event); err != nil {
				log.Printf("ws: cannot send event: %s", err)
				return
			}
		}
	})
	handler.ServeHTTP(c.Writer, c.Request)
}

// Router builds the web UI.
func (app *App) Router() (*gin.Engine, error) {
	r := gin.New()
	r.Use(gin.Recovery())
	if gin.Mode() != gin.TestMode {
		r.Use(gin.Logger())
	}

	if err := initTemplates(r, templatesFS); err != nil {
		return nil, fmt.Errorf("cannot init templates: %w", err)
	}

	r.GET("/", func(c *gin.Context) {
		tab := c.Query("tab")
		if tab == "" {
			tab = "client"
		}
		c.HTML(http.StatusOK, "index.html", gin.H{
			"CSRF":       app.CSRF,
			"Tab":        tab,
			"Config":     app.config(),
			"State":      app.Client.State().String(),
			"Challenge":  app.Client.Challenge(),
			"RconOnline": app.Rcon.IsOnline(),
			"IRCOnline":  app.IRCBot.IsOnline(),
			"Commands":   app.Script.Commands(),
			"Events":     app.Events.Recent(EVENT_BACKLOG),
		})
	})

	r.POST("/connect", func(c *gin.Context) {
		if !app.checkCSRF(c) {
			return
		}

		if addr := strings.TrimSpace(c.PostForm("address")); addr != "" {
			app.updateConfig(func(cfg *Config) {
				if cfg.Address == addr {
					return
				}
				app.Client.SetAddress(addr)
				cfg.Address = addr
			})
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), REQUEST_TIMEOUT)
		defer cancel()

		if err := app.Client.Connect(ctx); err != nil {
			c.HTML(http.StatusOK, "error.html", gin.H{"Error": err.Error()})
			return
		}

		c.Redirect(http.StatusFound, "/?tab=client")
	})

	r.POST("/rcon/config", func(c *gin.Context) {
		if !app.checkCSRF(c) {
			return
		}

		var p struct {
			Addr     string `form:"addr"`
			Password string `form:"password"`
		}

		if err := c.ShouldBind(&p); err != nil {
			c.AbortWithError(http.StatusBadRequest, err)
			return
		}

		app.Rcon.Close()

		err := app.Rcon.Connect(c.Request.Context(), p.Addr, p.Password)
		if err != nil {
			c.HTML(http.StatusOK, "error.html", gin.H{"Error": err.Error()})
			return
		}

		app.updateConfig(func(cfg *Config) {
			cfg.RconPassword = p.Password
		})

		c.Redirect(http.StatusFound, "/?tab=rcon")
	})

	r.POST("/rcon", func(c *gin.Context) {
		if !app.checkCSRF(c) {
			return
		}

		var p struct {
			Command string `form:"command"`
		}

		if err := c.ShouldBind(&p); err != nil {
			c.AbortWithError(http.StatusBadRequest, err)
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), REQUEST_TIMEOUT)
		defer cancel()

		out, err := app.Rcon.Command(ctx, p.Command)
		if err != nil {
			c.HTML(http.StatusOK, "error.html", gin.H{"Error": err.Error()})
			return
		}
		app.Events.Publish(Event{Kind: "rcon", Text: out})

		c.Redirect(http.StatusFound, "/?tab=rcon")
	})

	r.POST("/loadscript", func(c *gin.Context) {
		if !app.checkCSRF(c) {
			return
		}
		if err := app.loadScript(c); err != nil {
			return
		}
		c.Redirect(http.StatusFound, "/?tab=script")
	})

	r.POST("/startbot", func(c *gin.Context) {
		if !app.checkCSRF(c) {
			return
		}
		if err := app.loadScript(c); err != nil {
			return
		}

		if err := app.IRCBot.Start(); err != nil {
			c.HTML(http.StatusOK, "error.html", gin.H{"Error": err.Error()})
			return
		}
		c.Redirect(http.StatusFound, "/?tab=script")
	})

	r.GET("/state.json", func(c *gin.Context) {
		c.JSON(http.StatusOK, app.stateJSON())
	})

	r.GET("/status.json", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), REQUEST_TIMEOUT)
		defer cancel()

		status, err := app.Client.Status(ctx)
		if err != nil {
			c.JSON(http.StatusBadGateway, gin.H{
				"error":       "status_error",
				"description": err.Error(),
			})
			return
		}
		c.JSON(http.StatusOK, status)
	})

	r.GET("/compress", func(c *gin.Context) {
		enc := huffman.NewEncoder()
		out, err := enc.Compress([]byte(c.Query("text")))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":       "compress_error",
				"description": err.Error(),
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"hex":         hex.EncodeToString(out),
			"fingerprint": fmt.Sprintf("%016x", enc.Tree().Fingerprint()),
		})
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/events/ws", app.streamEvents)

	return r, nil
}

// vim: ai:ts=8:sw=8:noet:syntax=go

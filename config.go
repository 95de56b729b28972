package main

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

type Config struct {
	Address      string            `json:"address"`
	RconPassword string            `json:"rcon_password,omitempty"`
	Name         string            `json:"name"`
	Protocol     int               `json:"protocol"`
	QPort        int               `json:"qport,omitempty"`
	Rate         int               `json:"rate"`
	Snaps        int               `json:"snaps"`
	Userinfo     map[string]string `json:"userinfo,omitempty"`
	TimeoutMs    int               `json:"timeout_ms"`
	Retries      int               `json:"retries"`
	Listen       string            `json:"listen"`

	IRCServer   string `json:"irc_server,omitempty"`
	IRCTLS      bool   `json:"irc_tls,omitempty"`
	IRCNick     string `json:"irc_nick,omitempty"`
	IRCPassword string `json:"irc_password,omitempty"`
	IRCChannel  string `json:"irc_channel,omitempty"`

	RemoteURL   string `json:"remote_url,omitempty"`
	RemoteToken string `json:"remote_token,omitempty"`

	Script string `json:"-"`

	configDir string
}

func (c *Config) SetDefaultScript() {
	c.Script = `
cmd_echo = func(flds...) {
  reply("echo for %s: %s", from(), join(flds, " "))
}

cmd_rcon = func(flds...) {
  out = rcon(join(flds, " "))
  if out != "" {
    reply("%s", out)
  }
}

cmd_status = func() {
  s = status()
  if s == nil {
    reply("server does not answer")
  } else {
    reply("%s on %s, %d players", s.Info["sv_hostname"], s.Info["mapname"], len(s.Players))
  }
}

cmd_chain = func(tokens...) {
  return forth(tokens...)
}

cmd_help = func() {
  reply("commands: %s", join(commands(), ", "))
}
`
}

func (c *Config) SetDefaults() {
	c.Address = "127.0.0.1:27960"
	c.RconPassword = ""

	c.Name = "^7999zero"
	c.Protocol = 84
	c.QPort = 0
	c.Rate = 25000
	c.Snaps = 20
	c.Userinfo = map[string]string{
		"cl_anonymous":   "0",
		"cl_wwwDownload": "1",
		"g_password":     "none",
	}

	c.TimeoutMs = 1000
	c.Retries = 3
	c.Listen = "localhost:8666"
}

func (c *Config) Timeout() time.Duration {
	if c.TimeoutMs <= 0 {
		return time.Second
	}
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

// Init selects the per-user config directory.
func (c *Config) Init() error {
	cfgdir, err := os.UserConfigDir()
	if err != nil {
		return err
	}

	return c.InitDir(filepath.Join(cfgdir, "oobclient"))
}

func (c *Config) InitDir(dir string) error {
	c.configDir = dir

	err := os.MkdirAll(c.configDir, 0777)
	if err != nil && !errors.Is(err, fs.ErrExist) {
		return err
	}

	return nil
}

func (c *Config) Load() error {
	for _, fn := range []func() error{c.LoadConfig, c.LoadScript} {
		err := fn()
		if err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) LoadConfig() error {
	c.SetDefaults()

	f, err := os.Open(filepath.Join(c.configDir, "config.json"))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}

		return err
	}
	defer f.Close()

	dec := json.NewDecoder(f)
	err = dec.Decode(c)
	if err != nil {
		return err
	}

	return nil
}

func (c *Config) LoadScript() error {
	b, err := os.ReadFile(filepath.Join(c.configDir, "script.anko"))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			c.SetDefaultScript()
			return nil
		}

		return err
	}

	c.Script = string(b)
	return nil
}

func (c Config) Save() error {
	for _, fn := range []func() error{c.SaveConfig, c.SaveScript} {
		err := fn()
		if err != nil {
			return err
		}
	}
	return nil
}

func (c Config) SaveConfig() error {
	f, err := os.OpenFile(filepath.Join(c.configDir, "config.json"), os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0600)
	if err != nil {
		return err
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "    ")
	err = enc.Encode(c)
	if err != nil {
		return err
	}

	return nil
}

func (c Config) SaveScript() error {
	return os.WriteFile(filepath.Join(c.configDir, "script.anko"), []byte(c.Script), 0666)
}

// vim: ai:ts=8:sw=8:noet:syntax=go

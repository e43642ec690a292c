package config

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Dot-path access for the `config get`/`config set` subcommands. The config
// is round-tripped through its JSON form, so paths use the json tag names:
// "provider.model", "channels.telegram.token", "memory.window".

// GetByPath looks up a single value by its dot path.
func GetByPath(cfg *Config, path string) (any, error) {
	root, err := asTree(cfg)
	if err != nil {
		return nil, err
	}

	var node any = root
	for _, seg := range strings.Split(path, ".") {
		obj, ok := node.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("config path %q: %q is not a section", path, seg)
		}
		if node, ok = obj[seg]; !ok {
			return nil, fmt.Errorf("unknown config key: %s", path)
		}
	}
	return node, nil
}

// SetByPath assigns a value by its dot path and writes the result back into
// cfg. The raw string is coerced to bool or number when it parses as one,
// so "memory.window 8" stores an integer and not "8".
func SetByPath(cfg *Config, path, raw string) error {
	root, err := asTree(cfg)
	if err != nil {
		return err
	}

	segs := strings.Split(path, ".")
	node := root
	for _, seg := range segs[:len(segs)-1] {
		child, ok := node[seg].(map[string]any)
		if !ok {
			if _, exists := node[seg]; exists {
				return fmt.Errorf("config path %q: %q is not a section", path, seg)
			}
			child = make(map[string]any)
			node[seg] = child
		}
		node = child
	}
	node[segs[len(segs)-1]] = coerce(raw)

	data, err := json.Marshal(root)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("config path %q: value does not fit: %w", path, err)
	}
	return nil
}

func asTree(cfg *Config) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var root map[string]any
	if err := json.Unmarshal(data, &root); err != nil {
		return nil, err
	}
	return root, nil
}

func coerce(raw string) any {
	switch raw {
	case "true":
		return true
	case "false":
		return false
	}
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return f
	}
	return raw
}

// Sanitize returns a deep copy of cfg with every secret masked, for display
// by `config list`.
func Sanitize(cfg *Config) *Config {
	data, err := json.Marshal(cfg)
	if err != nil {
		return cfg
	}
	out := &Config{}
	if err := json.Unmarshal(data, out); err != nil {
		return cfg
	}

	secrets := []*string{
		&out.Provider.APIKey,
		&out.Channels.Telegram.Token,
		&out.Channels.Discord.Token,
		&out.Channels.Slack.BotToken,
		&out.Channels.Slack.AppToken,
		&out.Tools.Web.SearchAPIKey,
	}
	for _, s := range secrets {
		*s = mask(*s)
	}
	return out
}

// mask keeps enough of a token to recognize it without exposing it.
func mask(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return "***"
	}
	return s[:4] + "****" + s[len(s)-4:]
}

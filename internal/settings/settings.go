package settings

import (
	"context"
	"encoding/json"
	"sort"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// KeyPrefix namespaces every stored key.
const KeyPrefix = "outreach:"

// Setting names.
const (
	NameWebhookURL = "webhook_url"
	NameEnabled    = "enabled"
	NameDisplay    = "display"
)

// Display holds presentation customizations.
type Display struct {
	Theme          string `json:"theme" yaml:"theme"`
	Position       string `json:"position" yaml:"position"`
	WelcomeMessage string `json:"welcomeMessage" yaml:"welcome_message"`
	Language       string `json:"language" yaml:"language"`
}

// DefaultDisplay returns the built-in display settings.
func DefaultDisplay() Display {
	return Display{
		Theme:          "light",
		Position:       "bottom-right",
		WelcomeMessage: "Hi! How can we help you today?",
		Language:       "English",
	}
}

// Settings is the complete configuration surface.
type Settings struct {
	WebhookURL string  `json:"webhookUrl"`
	Enabled    bool    `json:"enabled"`
	Display    Display `json:"display"`
}

// Defaults returns the settings used when nothing has been stored.
func Defaults() Settings {
	return Settings{Enabled: true, Display: DefaultDisplay()}
}

// Store reads and writes typed settings on top of a Backend. Values are
// stored as JSON; malformed values are ignored in favour of defaults.
type Store struct {
	backend Backend
	log     *zap.Logger
}

// New creates a Store over backend.
func New(backend Backend) *Store {
	return &Store{backend: backend, log: zap.L().With(zap.String("component", "settings"))}
}

// Key returns the namespaced storage key for a setting name.
func Key(name string) string {
	return KeyPrefix + name
}

// load decodes the named setting into dst. It reports false when the key is
// missing or its content is malformed.
func (s *Store) load(ctx context.Context, name string, dst any) (bool, error) {
	raw, ok, err := s.backend.Get(ctx, Key(name))
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		s.log.Debug("ignoring malformed setting", zap.String("key", Key(name)), zap.Error(err))
		return false, nil
	}
	return true, nil
}

func (s *Store) save(ctx context.Context, name string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return eris.Wrapf(err, "settings: encode %s", name)
	}
	return s.backend.Set(ctx, Key(name), raw)
}

// WebhookURL returns the stored endpoint, or "" when unset.
func (s *Store) WebhookURL(ctx context.Context) (string, error) {
	var url string
	if _, err := s.load(ctx, NameWebhookURL, &url); err != nil {
		return "", err
	}
	return strings.TrimSpace(url), nil
}

// SetWebhookURL stores the endpoint.
func (s *Store) SetWebhookURL(ctx context.Context, url string) error {
	return s.save(ctx, NameWebhookURL, strings.TrimSpace(url))
}

// Enabled reports whether the integration is switched on. Defaults to true.
func (s *Store) Enabled(ctx context.Context) (bool, error) {
	enabled := true
	var stored bool
	ok, err := s.load(ctx, NameEnabled, &stored)
	if err != nil {
		return false, err
	}
	if ok {
		enabled = stored
	}
	return enabled, nil
}

// SetEnabled stores the enable flag.
func (s *Store) SetEnabled(ctx context.Context, enabled bool) error {
	return s.save(ctx, NameEnabled, enabled)
}

// Display returns the display customizations. Missing fields of a stored
// value keep their defaults.
func (s *Store) Display(ctx context.Context) (Display, error) {
	d := DefaultDisplay()
	stored := d
	ok, err := s.load(ctx, NameDisplay, &stored)
	if err != nil {
		return d, err
	}
	if ok {
		d = stored
	}
	return d, nil
}

// SetDisplay stores the display customizations.
func (s *Store) SetDisplay(ctx context.Context, d Display) error {
	return s.save(ctx, NameDisplay, d)
}

// All returns every setting, with defaults applied.
func (s *Store) All(ctx context.Context) (Settings, error) {
	var out Settings
	var err error
	if out.WebhookURL, err = s.WebhookURL(ctx); err != nil {
		return out, err
	}
	if out.Enabled, err = s.Enabled(ctx); err != nil {
		return out, err
	}
	if out.Display, err = s.Display(ctx); err != nil {
		return out, err
	}
	return out, nil
}

// Update stores every setting in v.
func (s *Store) Update(ctx context.Context, v Settings) error {
	if err := s.SetWebhookURL(ctx, v.WebhookURL); err != nil {
		return err
	}
	if err := s.SetEnabled(ctx, v.Enabled); err != nil {
		return err
	}
	return s.SetDisplay(ctx, v.Display)
}

// fields maps the dotted names accepted by Get and Set.
var fields = map[string]struct {
	get func(Settings) string
	set func(*Settings, string) error
}{
	NameWebhookURL: {
		get: func(v Settings) string { return v.WebhookURL },
		set: func(v *Settings, s string) error { v.WebhookURL = s; return nil },
	},
	NameEnabled: {
		get: func(v Settings) string { return strconv.FormatBool(v.Enabled) },
		set: func(v *Settings, s string) error {
			b, err := strconv.ParseBool(s)
			if err != nil {
				return eris.Wrapf(err, "settings: %s must be true or false", NameEnabled)
			}
			v.Enabled = b
			return nil
		},
	},
	"display.theme": {
		get: func(v Settings) string { return v.Display.Theme },
		set: func(v *Settings, s string) error { v.Display.Theme = s; return nil },
	},
	"display.position": {
		get: func(v Settings) string { return v.Display.Position },
		set: func(v *Settings, s string) error { v.Display.Position = s; return nil },
	},
	"display.welcome_message": {
		get: func(v Settings) string { return v.Display.WelcomeMessage },
		set: func(v *Settings, s string) error { v.Display.WelcomeMessage = s; return nil },
	},
	"display.language": {
		get: func(v Settings) string { return v.Display.Language },
		set: func(v *Settings, s string) error { v.Display.Language = s; return nil },
	},
}

// Names lists the names accepted by Get and Set, sorted.
func Names() []string {
	out := make([]string, 0, len(fields))
	for k := range fields {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Get returns a single setting rendered as text.
func (s *Store) Get(ctx context.Context, name string) (string, error) {
	f, ok := fields[name]
	if !ok {
		return "", eris.Errorf("settings: unknown setting %q (valid: %s)", name, strings.Join(Names(), ", "))
	}
	all, err := s.All(ctx)
	if err != nil {
		return "", err
	}
	return f.get(all), nil
}

// Set parses value and stores it under name.
func (s *Store) Set(ctx context.Context, name, value string) error {
	f, ok := fields[name]
	if !ok {
		return eris.Errorf("settings: unknown setting %q (valid: %s)", name, strings.Join(Names(), ", "))
	}
	all, err := s.All(ctx)
	if err != nil {
		return err
	}
	if err := f.set(&all, strings.TrimSpace(value)); err != nil {
		return err
	}
	return s.Update(ctx, all)
}

// ResolveEndpoint picks the webhook endpoint for a run: explicit when set,
// else the stored webhook URL, else fallback. A nil Store or a backend
// failure skips the stored value.
func (s *Store) ResolveEndpoint(ctx context.Context, explicit, fallback string) string {
	if ep := strings.TrimSpace(explicit); ep != "" {
		return ep
	}
	if s != nil {
		stored, err := s.WebhookURL(ctx)
		if err != nil {
			s.log.Warn("settings: read webhook url", zap.Error(err))
		} else if stored = strings.TrimSpace(stored); stored != "" {
			return stored
		}
	}
	return strings.TrimSpace(fallback)
}

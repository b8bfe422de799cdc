package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/alfredjeanlab/tablequeue/internal/model"
)

// Profile is the guest device configuration, stored as TOML in the state
// directory. Identity is explicit here rather than looked up ambiently.
type Profile struct {
	UserID     string `toml:"user_id"`
	LeaderName string `toml:"leader_name,omitempty"`
	ServerURL  string `toml:"server_url"`
	Token      string `toml:"token,omitempty"`
	NATSURL    string `toml:"nats_url,omitempty"`

	// StateDir holds the event log and session pointer when RedisURL is empty.
	StateDir string `toml:"state_dir,omitempty"`
	// RedisURL moves device state into Redis (shared kiosks).
	RedisURL string `toml:"redis_url,omitempty"`

	Policy Policy `toml:"policy"`
}

// Policy holds the tunable constants of the guest engine.
type Policy struct {
	ResyncInterval     Duration `toml:"resync_interval"`
	SeatedReturnDelay  Duration `toml:"seated_return_delay"`
	ClosingSoonMinutes int      `toml:"closing_soon_minutes"`
	OpeningSoonMinutes int      `toml:"opening_soon_minutes"`

	NearbyMaxRadiusMiles     float64 `toml:"nearby_max_radius_miles"`
	NearbyClusterRadiusMiles float64 `toml:"nearby_cluster_radius_miles"`
	NearbyMaxClusters        int     `toml:"nearby_max_clusters"`
}

// HoursPolicy converts the minute thresholds into a model.HoursPolicy.
func (p Policy) HoursPolicy() model.HoursPolicy {
	return model.HoursPolicy{
		ClosingSoon: time.Duration(p.ClosingSoonMinutes) * time.Minute,
		OpeningSoon: time.Duration(p.OpeningSoonMinutes) * time.Minute,
	}
}

// Duration wraps time.Duration so it reads and writes as "60s" in TOML.
type Duration struct {
	time.Duration
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// DefaultProfile returns a profile pointing at a local server.
func DefaultProfile() Profile {
	return Profile{
		ServerURL: "http://localhost:8080",
		Policy: Policy{
			ResyncInterval:           Duration{60 * time.Second},
			SeatedReturnDelay:        Duration{4 * time.Second},
			ClosingSoonMinutes:       30,
			OpeningSoonMinutes:       60,
			NearbyMaxRadiusMiles:     15,
			NearbyClusterRadiusMiles: 3,
			NearbyMaxClusters:        4,
		},
	}
}

// ProfilePath returns TQ_PROFILE or ~/.local/state/tablequeue/profile.toml.
func ProfilePath() (string, error) {
	if p := os.Getenv("TQ_PROFILE"); p != "" {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".local", "state", "tablequeue", "profile.toml"), nil
}

// LoadProfile reads the profile at path. A missing file yields the defaults.
// Unset policy fields keep their default values.
func LoadProfile(path string) (Profile, error) {
	p := DefaultProfile()
	if _, err := toml.DecodeFile(path, &p); err != nil && !os.IsNotExist(err) {
		return Profile{}, fmt.Errorf("read profile %s: %w", path, err)
	}
	if p.StateDir == "" {
		p.StateDir = filepath.Join(filepath.Dir(path), "state")
	}
	return p, nil
}

// SaveProfile writes p to path with owner-only permissions.
func SaveProfile(path string, p Profile) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()
	return toml.NewEncoder(f).Encode(p)
}

// ApplyEnv overrides profile fields from TQ_SERVER, TQ_USER, TQ_TOKEN and
// TQ_NATS_URL.
func (p *Profile) ApplyEnv() {
	p.ServerURL = envOrDefault("TQ_SERVER", p.ServerURL)
	p.UserID = envOrDefault("TQ_USER", p.UserID)
	p.Token = envOrDefault("TQ_TOKEN", p.Token)
	p.NATSURL = envOrDefault("TQ_NATS_URL", p.NATSURL)
}

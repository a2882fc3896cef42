package nbtls

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Defaults holds process-wide option defaults loadable from a TOML file, so
// a deployment need not repeat identical Options on every checkout/enable
// call. Each field mirrors a recognized option key from spec.md §6.
type Defaults struct {
	// Pool defaults.
	HostConnectionLimit int    `toml:"host_connection_limit"`
	IdleTimeoutMS       int    `toml:"idle_timeout_ms"`
	ConnectTimeoutMS    int    `toml:"connect_timeout_ms"`
	Bindto              string `toml:"bindto"`

	// Encryptor defaults.
	CAFile             string `toml:"ca_file"`
	Ciphers            string `toml:"ciphers"`
	CryptoMethod       string `toml:"crypto_method"`
	HandshakeTimeoutMS int    `toml:"handshake_timeout_ms"`
}

// DefaultDefaults returns the hard-coded fallback values from spec.md §4.1
// and §6, used whenever no config file is loaded.
func DefaultDefaults() Defaults {
	return Defaults{
		HostConnectionLimit: 8,
		IdleTimeoutMS:       10_000,
		ConnectTimeoutMS:    10_000,
		HandshakeTimeoutMS:  10_000,
	}
}

// LoadDefaults reads a TOML file at path and overlays it onto
// DefaultDefaults, the same BurntSushi/toml library the teacher's Caddyfile
// tooling uses for structured config.
func LoadDefaults(path string) (Defaults, error) {
	d := DefaultDefaults()
	data, err := os.ReadFile(path)
	if err != nil {
		return d, fmt.Errorf("reading config %s: %w", path, err)
	}
	if _, err := toml.Decode(string(data), &d); err != nil {
		return d, fmt.Errorf("decoding config %s: %w", path, err)
	}
	return d, nil
}

// PoolOptions renders the pool-relevant fields of d as an Options map.
func (d Defaults) PoolOptions() Options {
	return Options{
		"host_connection_limit": d.HostConnectionLimit,
		"idle_timeout":           d.IdleTimeoutMS,
		"connect_timeout":        d.ConnectTimeoutMS,
		"bindto":                 d.Bindto,
	}
}

// EncryptorOptions renders the encryptor-relevant fields of d as an Options
// map.
func (d Defaults) EncryptorOptions() Options {
	o := Options{}
	if d.CAFile != "" {
		o["cafile"] = d.CAFile
	}
	if d.Ciphers != "" {
		o["ciphers"] = d.Ciphers
	}
	if d.CryptoMethod != "" {
		o["crypto_method"] = d.CryptoMethod
	}
	if d.HandshakeTimeoutMS > 0 {
		o["handshake_timeout"] = d.HandshakeTimeoutMS
	}
	return o
}

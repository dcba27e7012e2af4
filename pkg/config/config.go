// Package config handles loading, validating and saving the persisted
// topology document: connections, slaves, register groups and registers.
// Register values are never persisted, only topology.
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/mouliraj56/webSerial-modbus/pkg/logger"
	"github.com/mouliraj56/webSerial-modbus/pkg/modbus"
	"github.com/mouliraj56/webSerial-modbus/pkg/transport/serial"
)

// CurrentVersion is the document schema version written by Save.
const CurrentVersion = 1

// Default config file locations.
var configPaths = []string{
	"./config.yaml",
	"./config.yml",
	"./wsmb.yaml",
	"./wsmb.yml",
	"~/.config/wsmb/config.yaml",
	"/etc/wsmb/config.yaml",
}

// Document is the versioned topology document.
type Document struct {
	Version     int           `yaml:"version" validate:"gte=1"`
	Connections []Connection  `yaml:"connections" validate:"dive"`
	Logging     logger.Config `yaml:"logging"`
	Traffic     TrafficConfig `yaml:"traffic"`
	API         APIConfig     `yaml:"api"`
}

// Connection describes one serial bus and the devices on it.
type Connection struct {
	Name   string        `yaml:"name" validate:"required"`
	Serial serial.Config `yaml:"serial"`

	// Timeout is the per-transaction response timeout, fixed at connect
	// time for the whole connection.
	Timeout time.Duration `yaml:"timeout"`

	// QuietPeriod is the inter-byte silence that delimits response frames.
	QuietPeriod time.Duration `yaml:"quiet_period"`

	Slaves []Slave `yaml:"slaves" validate:"dive"`
}

// Slave is one addressed device on the bus.
type Slave struct {
	UnitID byte    `yaml:"unit_id" validate:"min=1,max=247"`
	Alias  string  `yaml:"alias"`
	Groups []Group `yaml:"groups" validate:"dive"`
}

// Group is an ordered set of registers polled together.
type Group struct {
	ID        string        `yaml:"id" validate:"required"`
	Name      string        `yaml:"name"`
	Period    time.Duration `yaml:"period"`
	Registers []Register    `yaml:"registers" validate:"dive"`
}

// Register is one point of interest.
type Register struct {
	Space   string `yaml:"space" validate:"oneof=coil discrete_input input_register holding_register"`
	Address uint32 `yaml:"address"`
	Alias   string `yaml:"alias"`
	Comment string `yaml:"comment,omitempty"`
}

// ProtocolAddress resolves the register's space and zero-based offset,
// applying the user-facing decimal notation conversion.
func (r Register) ProtocolAddress() (modbus.Address, error) {
	space, err := modbus.ParseSpace(r.Space)
	if err != nil {
		return modbus.Address{}, err
	}
	return modbus.Address{
		Space:  space,
		Offset: modbus.ConvertAddress(space, r.Address),
	}, nil
}

// TrafficConfig configures the traffic log.
type TrafficConfig struct {
	// Capacity bounds the in-memory log.
	Capacity int `yaml:"capacity"`

	// Archive, if set, is the path of a SQLite database that exported
	// documents are archived into.
	Archive string `yaml:"archive"`
}

// APIConfig configures the HTTP API server.
type APIConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load loads configuration from file, falling back to the default probe
// paths and finally to a default document.
func Load(path string) (*Document, error) {
	if path != "" {
		return loadFile(path)
	}

	for _, p := range configPaths {
		if p[0] == '~' {
			home, err := os.UserHomeDir()
			if err == nil {
				p = filepath.Join(home, p[2:])
			}
		}
		if _, err := os.Stat(p); err == nil {
			return loadFile(p)
		}
	}

	return DefaultDocument(), nil
}

// loadFile loads configuration from a specific file.
func loadFile(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}

	if err := Validate(&doc); err != nil {
		return nil, err
	}

	return &doc, nil
}

// Validate validates the document.
func Validate(doc *Document) error {
	validate := validator.New()
	return validate.Struct(doc)
}

// Save saves the document to file.
func Save(path string, doc *Document) error {
	data, err := yaml.Marshal(doc)
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// DefaultDocument returns an empty document with sensible defaults.
func DefaultDocument() *Document {
	return &Document{
		Version: CurrentVersion,
		Logging: logger.Config{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
		Traffic: TrafficConfig{
			Capacity: 1000,
		},
		API: APIConfig{
			Enabled: false,
			Port:    8080,
		},
	}
}

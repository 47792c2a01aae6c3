package util

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

var validate = validator.New()

// SendJSON marshals data and writes it to the websocket connection as a
// single text frame.
func SendJSON(conn *websocket.Conn, data interface{}) error {
	msg, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("error marshaling JSON: %w", err)
	}
	log.Debugf("-> Sending: %s", string(msg))
	if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
		return fmt.Errorf("error writing message: %w", err)
	}
	return nil
}

// LoadConfig reads a YAML file, unmarshals it into a struct of type T and
// validates the result against its `validate` struct tags.
func LoadConfig[T any](filepath string) (*T, error) {
	// 1. Read the file
	data, err := os.ReadFile(filepath)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	// 2. Initialize an empty instance of T
	var config T

	// 3. Unmarshal the YAML data into the struct
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal yaml: %w", err)
	}

	// 4. Validate
	if err := validate.Struct(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", filepath, err)
	}

	return &config, nil
}

// Validate checks a struct built in code against its `validate` tags.
func Validate(v interface{}) error {
	return validate.Struct(v)
}

// InitLogging configures the package level logrus logger. format is either
// "text" or "json".
func InitLogging(level, format string) error {
	lvl, err := log.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	log.SetLevel(lvl)
	log.SetOutput(os.Stdout)

	switch strings.ToLower(format) {
	case "json":
		log.SetFormatter(&log.JSONFormatter{})
	case "", "text":
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	default:
		return fmt.Errorf("unknown log format %q", format)
	}
	return nil
}

// LogWithLabel logs an info line tagged with label, typically a navigation
// session or websocket client id.
func LogWithLabel(label string, format string, args ...interface{}) {
	log.WithField("label", label).Infof(format, args...)
}

// WarnWithLabel is LogWithLabel at warn level.
func WarnWithLabel(label string, format string, args ...interface{}) {
	log.WithField("label", label).Warnf(format, args...)
}

// EnvOrDefault returns the value of the named environment variable, or def
// when it is unset or empty.
func EnvOrDefault(name, def string) string {
	if v := strings.TrimSpace(os.Getenv(name)); v != "" {
		return v
	}
	return def
}

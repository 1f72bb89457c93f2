package config

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
)

// RunSetupWizard walks an operator through the settings that usually need
// changing and saves the result. Empty answers keep the current value.
func RunSetupWizard(cfg *Config, in io.Reader, out io.Writer) error {
	w := &wizard{reader: bufio.NewReader(in), out: out}

	for {
		w.run(cfg)

		result := Validate(cfg)
		if result.IsValid() {
			for _, warn := range result.Warnings {
				log.Warn().Str("field", warn.Field).Msg(warn.Message)
			}
			break
		}

		fmt.Fprintln(out, "\nConfiguration has errors:")
		for _, e := range result.Errors {
			fmt.Fprintf(out, "  - [%s] %s\n", e.Field, e.Message)
		}
		if w.eof || !w.promptBool("Try again", true) {
			return fmt.Errorf("configuration validation failed")
		}
	}

	if err := cfg.Save(); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}

	fmt.Fprintf(out, "\nConfiguration saved to %s\n", cfg.Path())
	return nil
}

type wizard struct {
	reader *bufio.Reader
	out    io.Writer
	eof    bool
}

func (w *wizard) run(cfg *Config) {
	cfg.mu.Lock()
	defer cfg.mu.Unlock()

	fmt.Fprintln(w.out, "Matchmaker setup")
	fmt.Fprintln(w.out)

	fmt.Fprintln(w.out, "-- Matchmaker endpoint --")
	cfg.Server.Host = w.promptString("Bind address", cfg.Server.Host)
	cfg.Server.Port = w.promptInt("UDP port", cfg.Server.Port)
	if !IsUDPPortAvailable(cfg.Server.Host, cfg.Server.Port) {
		fmt.Fprintf(w.out, "    note: UDP port %d is in use right now\n", cfg.Server.Port)
	}

	fmt.Fprintln(w.out)
	fmt.Fprintln(w.out, "-- Game build --")
	cfg.Game.Secret = uint32(w.promptInt("Protocol secret", int(cfg.Game.Secret)))

	fmt.Fprintln(w.out)
	fmt.Fprintln(w.out, "-- Address store --")
	cfg.Database.Path = w.promptString("Database file", cfg.Database.Path)
	cfg.Database.ExpireAfterSec = w.promptInt("Forget servers silent for (seconds)", cfg.Database.ExpireAfterSec)

	fmt.Fprintln(w.out)
	fmt.Fprintln(w.out, "-- Admin API --")
	cfg.API.Enabled = w.promptBool("Enable admin API", cfg.API.Enabled)
	if cfg.API.Enabled {
		cfg.API.Host = w.promptString("API bind address", cfg.API.Host)
		cfg.API.Port = w.promptInt("API port", cfg.API.Port)
		cfg.API.AdminToken = w.promptString("Admin token (blank for none)", cfg.API.AdminToken)
	}

	fmt.Fprintln(w.out)
	fmt.Fprintln(w.out, "-- MQTT telemetry --")
	cfg.MQTT.Enabled = w.promptBool("Enable MQTT telemetry", cfg.MQTT.Enabled)
	if cfg.MQTT.Enabled {
		cfg.MQTT.BrokerURL = w.promptString("Broker host", cfg.MQTT.BrokerURL)
		cfg.MQTT.Port = w.promptInt("Broker port", cfg.MQTT.Port)
	}
}

func (w *wizard) readLine() string {
	input, err := w.reader.ReadString('\n')
	if err != nil {
		w.eof = true
	}
	return strings.TrimSpace(input)
}

func (w *wizard) promptString(prompt string, defaultVal string) string {
	if defaultVal != "" {
		fmt.Fprintf(w.out, "  %s [%s]: ", prompt, defaultVal)
	} else {
		fmt.Fprintf(w.out, "  %s: ", prompt)
	}

	if input := w.readLine(); input != "" {
		return input
	}
	return defaultVal
}

func (w *wizard) promptInt(prompt string, defaultVal int) int {
	fmt.Fprintf(w.out, "  %s [%d]: ", prompt, defaultVal)

	input := w.readLine()
	if input == "" {
		return defaultVal
	}

	val, err := strconv.Atoi(input)
	if err != nil {
		fmt.Fprintf(w.out, "    Invalid number, using default: %d\n", defaultVal)
		return defaultVal
	}
	return val
}

func (w *wizard) promptBool(prompt string, defaultVal bool) bool {
	defaultStr := "no"
	if defaultVal {
		defaultStr = "yes"
	}

	fmt.Fprintf(w.out, "  %s [%s]: ", prompt, defaultStr)

	input := strings.ToLower(w.readLine())
	if input == "" {
		return defaultVal
	}
	return input == "yes" || input == "y" || input == "true" || input == "1"
}

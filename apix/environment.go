package apix

import (
	"fmt"
	"strings"
)

type Environment int

const (
	Test Environment = iota
	Production
)

// terminalCommands lists the commands served by the terminal host rather
// than the general API host.
var terminalCommands = map[string]bool{
	"list":     true,
	"list2":    true,
	"receive":  true,
	"download": true,
	"metadata": true,
}

func (e Environment) APIBaseURL() string {
	switch e {
	case Production:
		return "https://api.apix.fi/"
	case Test:
		return "https://test-api.apix.fi/"
	}
	panic("Invalid environment")
}

func (e Environment) TerminalBaseURL() string {
	switch e {
	case Production:
		return "https://terminal.apix.fi/"
	case Test:
		return "https://test-terminal.apix.fi/"
	}
	panic("Invalid environment")
}

func (e Environment) Name() string {
	switch e {
	case Production:
		return "production"
	case Test:
		return "test"
	}
	panic("Invalid environment")
}

func (e *Environment) UnmarshalText(text []byte) error {
	val := strings.ToLower(strings.TrimSpace(string(text)))

	switch val {
	case "production":
		*e = Production
	case "test":
		*e = Test
	default:
		return fmt.Errorf("invalid APIX environment: %q (allowed: production, test)", val)
	}
	return nil
}

// URL builds the full request URL for a command. Parameters are appended
// exactly in the order given: the server validates the digest against the
// value sequence, so reordering or deduplicating here would break
// authentication. Values are treated as opaque and not URL-encoded.
func (e Environment) URL(command string, params Params) string {
	var sb strings.Builder

	if terminalCommands[command] {
		sb.WriteString(e.TerminalBaseURL())
	} else {
		sb.WriteString(e.APIBaseURL())
	}

	sb.WriteString(command)
	sb.WriteString("?")

	for _, p := range params {
		sb.WriteString(p.Key)
		sb.WriteString("=")
		sb.WriteString(p.Value)
		sb.WriteString("&")
	}

	return strings.TrimRight(sb.String(), "&")
}

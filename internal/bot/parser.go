package bot

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode"

	"github.com/rs/zerolog/log"
)

const (
	COMMAND_HELP = iota
	COMMAND_MODS
	COMMAND_TOOLS
	COMMAND_PLUGINS
	COMMAND_STATUS
	COMMAND_SPAWN
	COMMAND_KILL
	COMMAND_CONFIG
)

const (
	PARSEID_OK = iota
	PARSEID_NO_BOT_PREFIX
	PARSEID_NO_COMMAND
	PARSEID_COMMAND_NOT_RECOGNISED
	PARSEID_NO_INPUT
	PARSEID_NOT_JSON
	PARSEID_NO_VALUE
)

var errorMessages map[int]string = map[int]string{
	PARSEID_NO_COMMAND:             "No command provided",
	PARSEID_COMMAND_NOT_RECOGNISED: "Command `%s` not recognised",
	PARSEID_NO_INPUT:               "Command `%s` requires an argument",
	PARSEID_NOT_JSON:               "Input `%s` is not a JSON object",
	PARSEID_NO_VALUE:               "Setting `%s` requires a value",
}

type ParseResult struct {
	command      int
	parseid      int
	errorMessage string
	arguments    interface{}
}

// Arguments of the config command
type Setting struct {
	Key   string
	Value any
}

func Parse(prefix string, message string) ParseResult {

	noInput := func(command int, commandString string) ParseResult {
		parseid := PARSEID_NO_INPUT
		return ParseResult{command: command, parseid: parseid, errorMessage: fmt.Sprintf(errorMessages[parseid], commandString)}
	}

	// The message has to start with the bot prefix
	if prefix == "" || !strings.HasPrefix(message, prefix) {
		log.Debug().Msg("Reject message not intended for the bot")
		return ParseResult{parseid: PARSEID_NO_BOT_PREFIX}
	}

	// Get the command if valid
	rest := strings.TrimSpace(message[len(prefix):])
	if rest == "" {
		parseid := PARSEID_NO_COMMAND
		return ParseResult{parseid: parseid, errorMessage: errorMessages[parseid]}
	}
	commandString, input := rest, ""
	if i := strings.IndexFunc(rest, unicode.IsSpace); i >= 0 {
		commandString, input = rest[:i], strings.TrimSpace(rest[i:])
	}

	// Match the command
	switch commandString {
	case "help":
		return ParseResult{command: COMMAND_HELP, parseid: PARSEID_OK}
	case "mods":
		return ParseResult{command: COMMAND_MODS, parseid: PARSEID_OK}
	case "tools":
		return ParseResult{command: COMMAND_TOOLS, parseid: PARSEID_OK}
	case "plugins":
		// <prefix> plugins [search]
		return ParseResult{command: COMMAND_PLUGINS, parseid: PARSEID_OK, arguments: input}
	case "status":
		return ParseResult{command: COMMAND_STATUS, parseid: PARSEID_OK}
	case "spawn":
		// <prefix> spawn <json>
		command := COMMAND_SPAWN
		if input == "" {
			return noInput(command, commandString)
		}
		return parseEntityData(command, input)
	case "kill":
		// <prefix> kill <id>
		command := COMMAND_KILL
		if input == "" {
			return noInput(command, commandString)
		}
		return ParseResult{command: command, parseid: PARSEID_OK, arguments: input}
	case "config":
		// <prefix> config <key> <value>
		command := COMMAND_CONFIG
		if input == "" {
			return noInput(command, commandString)
		}
		return parseSetting(command, input)
	default:
		parseid := PARSEID_COMMAND_NOT_RECOGNISED
		return ParseResult{parseid: parseid, errorMessage: fmt.Sprintf(errorMessages[parseid], commandString)}
	}
}

func parseEntityData(command int, input string) ParseResult {
	input = strings.TrimSuffix(strings.TrimPrefix(input, "```json"), "```")
	input = strings.Trim(strings.TrimSpace(input), "`")
	var object map[string]json.RawMessage
	if err := json.Unmarshal([]byte(input), &object); err != nil {
		parseid := PARSEID_NOT_JSON
		return ParseResult{command: command, parseid: parseid, errorMessage: fmt.Sprintf(errorMessages[parseid], input)}
	}
	return ParseResult{command: command, parseid: PARSEID_OK, arguments: json.RawMessage(input)}
}

// Values that look like JSON are stored decoded, anything else as a string
func parseSetting(command int, input string) ParseResult {
	key, value := input, ""
	if i := strings.IndexFunc(input, unicode.IsSpace); i >= 0 {
		key, value = input[:i], strings.TrimSpace(input[i:])
	}
	if value == "" {
		parseid := PARSEID_NO_VALUE
		return ParseResult{command: command, parseid: parseid, errorMessage: fmt.Sprintf(errorMessages[parseid], key)}
	}
	setting := Setting{Key: key, Value: value}
	if strings.ContainsAny(value[:1], `[{"`) {
		var decoded any
		if err := json.Unmarshal([]byte(value), &decoded); err != nil {
			parseid := PARSEID_NOT_JSON
			return ParseResult{command: command, parseid: parseid, errorMessage: fmt.Sprintf(errorMessages[parseid], value)}
		}
		setting.Value = decoded
	}
	return ParseResult{command: command, parseid: PARSEID_OK, arguments: setting}
}

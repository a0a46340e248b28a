package bot

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	const prefix = ".cc"
	for _, test := range []struct {
		message   string
		parseid   int
		command   int
		arguments interface{}
		errorMsg  string
	}{
		{message: "hello there", parseid: PARSEID_NO_BOT_PREFIX},
		{message: ".cc", parseid: PARSEID_NO_COMMAND, errorMsg: "No command provided"},
		{message: ".cc   ", parseid: PARSEID_NO_COMMAND, errorMsg: "No command provided"},
		{message: ".cc dance", parseid: PARSEID_COMMAND_NOT_RECOGNISED, errorMsg: "Command `dance` not recognised"},
		{message: ".cc help", parseid: PARSEID_OK, command: COMMAND_HELP},
		{message: ".cc mods", parseid: PARSEID_OK, command: COMMAND_MODS},
		{message: ".cc tools", parseid: PARSEID_OK, command: COMMAND_TOOLS},
		{message: ".cc status", parseid: PARSEID_OK, command: COMMAND_STATUS},
		{message: ".cc plugins", parseid: PARSEID_OK, command: COMMAND_PLUGINS, arguments: ""},
		{message: ".cc plugins  message logger ", parseid: PARSEID_OK, command: COMMAND_PLUGINS, arguments: "message logger"},
		{message: ".cc kill", parseid: PARSEID_NO_INPUT, command: COMMAND_KILL, errorMsg: "Command `kill` requires an argument"},
		{message: ".cc kill aoc-viewer", parseid: PARSEID_OK, command: COMMAND_KILL, arguments: "aoc-viewer"},
		{message: ".cc spawn", parseid: PARSEID_NO_INPUT, command: COMMAND_SPAWN, errorMsg: "Command `spawn` requires an argument"},
		{message: ".cc spawn [1]", parseid: PARSEID_NOT_JSON, command: COMMAND_SPAWN, errorMsg: "Input `[1]` is not a JSON object"},
		{message: ".cc config starboard-channel", parseid: PARSEID_NO_VALUE, command: COMMAND_CONFIG, errorMsg: "Setting `starboard-channel` requires a value"},
		{message: ".cc config starboard-channel 123", parseid: PARSEID_OK, command: COMMAND_CONFIG, arguments: Setting{Key: "starboard-channel", Value: "123"}},
		{message: `.cc config quicklinks-blacklist ["1", "2"]`, parseid: PARSEID_OK, command: COMMAND_CONFIG, arguments: Setting{Key: "quicklinks-blacklist", Value: []any{"1", "2"}}},
		{message: `.cc config quicklinks-blacklist [1,`, parseid: PARSEID_NOT_JSON, command: COMMAND_CONFIG, errorMsg: "Input `[1,` is not a JSON object"},
	} {
		result := Parse(prefix, test.message)
		require.Equal(t, test.parseid, result.parseid, test.message)
		require.Equal(t, test.command, result.command, test.message)
		require.Equal(t, test.arguments, result.arguments, test.message)
		require.Equal(t, test.errorMsg, result.errorMessage, test.message)
	}
}

func TestParseSpawnAcceptsCodeBlocks(t *testing.T) {
	for _, message := range []string{
		`.cc spawn {"type": "mnt-tracker", "refreshMs": 1000}`,
		".cc spawn\n```json\n{\"type\": \"mnt-tracker\", \"refreshMs\": 1000}\n```",
		".cc spawn `{\"type\": \"mnt-tracker\", \"refreshMs\": 1000}`",
	} {
		result := Parse(".cc", message)
		require.Equal(t, PARSEID_OK, result.parseid, message)
		require.Equal(t, COMMAND_SPAWN, result.command)
		data, ok := result.arguments.(json.RawMessage)
		require.True(t, ok)
		var object map[string]any
		require.NoError(t, json.Unmarshal(data, &object))
		require.Equal(t, "mnt-tracker", object["type"])
	}
}

package bot

import (
	"fmt"
	"strings"

	"keeper/internal/client"
	"keeper/internal/common"
	"keeper/internal/entity"

	"github.com/bwmarrin/discordgo"
)

// Use "teal" color for the bot
const color int = 0x008080

// Discord refuses longer messages
const messageLimit = 2000

func InputNotValid(errorMessage string) []client.Response {
	return []client.Response{client.NewResponseString(fmt.Sprintf("Input not valid: \n> %s", errorMessage))}
}

func HelpMessage(prefix string) []client.Response {
	embed := discordgo.MessageEmbed{Title: "Commands available", Color: color}
	for _, command := range []struct{ usage, description string }{
		{"mods", "List the mods available in CCModDB"},
		{"tools", "List the tools available in CCModDB"},
		{"plugins [search]", "List the plugins available, optionally filtered"},
		{"status", "Print the entities currently alive"},
		{"spawn <json>", "Create an entity from its data (owners only)"},
		{"kill <id>", "Kill an entity and forget its data (owners only)"},
		{"config <key> <value>", "Change a setting of this server (owners only)"},
		{"help", "Print the usage of the different commands"},
	} {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:   fmt.Sprintf("`%s %s`", prefix, command.usage),
			Value:  command.description,
			Inline: false,
		})
	}
	return []client.Response{client.ResponseEmbed{MessageEmbed: embed}}
}

func OwnersOnly() []client.Response {
	return []client.Response{client.NewResponseString("Only the owners of the bot can do that")}
}

func EntityMissing(id string) []client.Response {
	return []client.Response{client.NewResponseString(fmt.Sprintf("ooo! you haven't added the initial entities! (no %s)", id))}
}

// The database entity exists but has nothing to show yet
func DatabaseUnavailable(what string, fallback string, lastError string) []client.Response {
	content := fmt.Sprintf("%s information isn't available (has the bot just started up? is the updater dead?).\nPlease see %s for more information.", what, fallback)
	if lastError != "" {
		content += fmt.Sprintf("\n```%s```", lastError)
	}
	return []client.Response{client.NewResponseString(content)}
}

// Split a listing into messages Discord accepts.
// The footer goes to the last message, or its own if it does not fit
func Listing(elements []string, footer string) []client.Response {
	if len(elements) == 0 {
		return []client.Response{client.NewResponseString("Nothing to list")}
	}
	chunks := common.ChunkElements(elements, "\n", messageLimit)
	if footer != "" {
		last := len(chunks) - 1
		if len(chunks[last])+1+len(footer) <= messageLimit {
			chunks[last] += "\n" + footer
		} else {
			chunks = append(chunks, footer)
		}
	}
	responses := make([]client.Response, 0, len(chunks))
	for _, chunk := range chunks {
		responses = append(responses, client.NewResponseString(chunk))
	}
	return responses
}

// State of a live entity for the status command
type EntityStatus struct {
	entity.Summary
	LastError error
}

func StatusMessage(statuses []EntityStatus) []client.Response {
	if len(statuses) == 0 {
		return []client.Response{client.NewResponseString("No entity is alive")}
	}
	rows := [][]string{{"ID", "TYPE", "STATE"}}
	for _, status := range statuses {
		state := "ok"
		if status.LastError != nil {
			state = "failing"
		}
		rows = append(rows, []string{status.ID, status.Type, state})
	}
	lines := strings.Split(strings.TrimSuffix(common.FormatTable(rows), "\n"), "\n")
	// Leave room for the code block markers
	chunks := common.ChunkElements(lines, "\n", messageLimit-8)
	responses := make([]client.Response, 0, len(chunks))
	for _, chunk := range chunks {
		responses = append(responses, client.NewResponseString("```\n"+chunk+"\n```"))
	}
	return responses
}

func EntitySpawned(id string) []client.Response {
	return []client.Response{client.NewResponseString(fmt.Sprintf("Entity `%s` is alive", id))}
}

func EntityNotSpawned(err error) []client.Response {
	return []client.Response{client.NewResponseString(fmt.Sprintf("Could not create the entity: %s", err))}
}

func EntityKilled(id string) []client.Response {
	return []client.Response{client.NewResponseString(fmt.Sprintf("Entity `%s` has been killed", id))}
}

func EntityNotAlive(id string) []client.Response {
	return []client.Response{client.NewResponseString(fmt.Sprintf("Entity `%s` is not alive", id))}
}

func SettingChanged(key string) []client.Response {
	return []client.Response{client.NewResponseString(fmt.Sprintf("Setting `%s` changed", key))}
}

func SettingNotChanged(key string, err error) []client.Response {
	return []client.Response{client.NewResponseString(fmt.Sprintf("Could not change setting `%s`: %s", key, err))}
}

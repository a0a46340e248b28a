package client

import (
	"github.com/bwmarrin/discordgo"
)

type ResponseString struct {
	string
}
type ResponseEmbed struct {
	discordgo.MessageEmbed
}
type ResponseEmbeds []*discordgo.MessageEmbed
type ResponseComplex struct {
	discordgo.MessageSend
}

type Response interface {
	Send(channelid string, session Session) (*discordgo.Message, error)
}

func NewResponseString(content string) ResponseString {
	return ResponseString{content}
}

func (response ResponseString) Content() string {
	return response.string
}

func (response ResponseString) Send(channelid string, session Session) (*discordgo.Message, error) {
	return session.ChannelMessageSend(channelid, response.string)
}

func (response ResponseEmbed) Send(channelid string, session Session) (*discordgo.Message, error) {
	return session.ChannelMessageSendEmbeds(channelid, []*discordgo.MessageEmbed{&response.MessageEmbed})
}

func (response ResponseEmbeds) Send(channelid string, session Session) (*discordgo.Message, error) {
	return session.ChannelMessageSendEmbeds(channelid, response)
}

func (response ResponseComplex) Send(channelid string, session Session) (*discordgo.Message, error) {
	return session.ChannelMessageSendComplex(channelid, &response.MessageSend)
}

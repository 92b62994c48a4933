package service

import (
	"chatgenius-backend/internal/model"
	"chatgenius-backend/internal/service/servicetest"
)

type fixture struct {
	channels  *servicetest.Channels
	messages  *servicetest.Messages
	reactions *servicetest.Reactions
	pub       *servicetest.Publisher
	svc       *MessageService
}

func newFixture() *fixture {
	channels := servicetest.NewChannels()
	messages := servicetest.NewMessages(channels)
	f := &fixture{
		channels:  channels,
		messages:  messages,
		reactions: &servicetest.Reactions{Messages: messages},
		pub:       servicetest.NewPublisher(),
	}
	f.svc = NewMessageService(messages, f.reactions, channels)
	f.svc.SetPublisher(f.pub)
	f.channels.Add(&model.Channel{ID: "general", Name: "general", OwnerID: "alice"})
	f.channels.Add(&model.Channel{ID: "secret", Name: "secret", OwnerID: "alice", IsPrivate: true}, "bob")
	return f
}

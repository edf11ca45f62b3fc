package transcribe

import (
	"log/slog"

	api "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
)

// Handler receives transcription events converted from the provider stream.
type Handler interface {
	OnTranscript(ev Event) error
}

// Callback adapts a Handler to Deepgram's live message callback.
type Callback struct {
	Handler Handler
	Logger  *slog.Logger
}

var _ api.LiveMessageCallback = Callback{}

// EventFromMessage extracts the top alternative from a Deepgram result.
// It reports false when the message carries no alternatives.
func EventFromMessage(mr *api.MessageResponse) (Event, bool) {
	if mr == nil || len(mr.Channel.Alternatives) == 0 {
		return Event{}, false
	}
	return Event{
		IsFinal: mr.IsFinal,
		Text:    mr.Channel.Alternatives[0].Transcript,
	}, true
}

func (c Callback) Message(mr *api.MessageResponse) error {
	if c.Handler == nil {
		return nil
	}
	ev, ok := EventFromMessage(mr)
	if !ok {
		return nil
	}
	if err := c.Handler.OnTranscript(ev); err != nil {
		c.logger().Error("transcript handler failed", "err", err)
		return err
	}
	return nil
}

func (c Callback) Open(*api.OpenResponse) error {
	c.logger().Info("connected to Deepgram")
	return nil
}

func (c Callback) Metadata(*api.MetadataResponse) error { return nil }

func (c Callback) SpeechStarted(*api.SpeechStartedResponse) error { return nil }

func (c Callback) UtteranceEnd(*api.UtteranceEndResponse) error { return nil }

func (c Callback) Close(*api.CloseResponse) error {
	c.logger().Info("disconnected from Deepgram")
	return nil
}

func (c Callback) Error(er *api.ErrorResponse) error {
	c.logger().Error("deepgram error", "code", er.ErrCode, "description", er.Description)
	return nil
}

func (c Callback) UnhandledEvent([]byte) error { return nil }

func (c Callback) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

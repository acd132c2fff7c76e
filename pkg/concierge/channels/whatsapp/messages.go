// messages.go builds outgoing waE2E protobuf messages: plain text, replies,
// and uploaded media (voice notes, images, documents).
package whatsapp

import (
	"context"
	"fmt"

	"github.com/conciergehq/concierge/pkg/concierge/channels"

	"go.mau.fi/whatsmeow"
	waE2E "go.mau.fi/whatsmeow/proto/waE2E"
	"google.golang.org/protobuf/proto"
)

// buildTextMessage constructs a text message, as an extended text message
// with quote context when replying.
func buildTextMessage(content, replyTo string) *waE2E.Message {
	if replyTo == "" {
		return &waE2E.Message{
			Conversation: proto.String(content),
		}
	}

	return &waE2E.Message{
		ExtendedTextMessage: &waE2E.ExtendedTextMessage{
			Text: proto.String(content),
			ContextInfo: &waE2E.ContextInfo{
				StanzaID: proto.String(replyTo),
			},
		},
	}
}

// buildMediaMessage uploads the media bytes and constructs the matching
// protobuf message. Voice notes are sent as push-to-talk audio.
func (w *WhatsApp) buildMediaMessage(ctx context.Context, media *channels.MediaMessage) (*waE2E.Message, error) {
	if len(media.Data) == 0 {
		return nil, fmt.Errorf("no media data")
	}

	switch media.Type {
	case channels.MessageAudio:
		uploaded, err := w.client.Upload(ctx, media.Data, whatsmeow.MediaAudio)
		if err != nil {
			return nil, fmt.Errorf("uploading audio: %w", err)
		}
		mime := media.MimeType
		if mime == "" {
			mime = "audio/ogg; codecs=opus"
		}
		return &waE2E.Message{
			AudioMessage: &waE2E.AudioMessage{
				URL:           proto.String(uploaded.URL),
				DirectPath:    proto.String(uploaded.DirectPath),
				MediaKey:      uploaded.MediaKey,
				FileSHA256:    uploaded.FileSHA256,
				FileEncSHA256: uploaded.FileEncSHA256,
				FileLength:    proto.Uint64(uploaded.FileLength),
				Mimetype:      proto.String(mime),
				PTT:           proto.Bool(media.VoiceNote),
			},
		}, nil

	case channels.MessageImage:
		uploaded, err := w.client.Upload(ctx, media.Data, whatsmeow.MediaImage)
		if err != nil {
			return nil, fmt.Errorf("uploading image: %w", err)
		}
		mime := media.MimeType
		if mime == "" {
			mime = "image/jpeg"
		}
		return &waE2E.Message{
			ImageMessage: &waE2E.ImageMessage{
				URL:           proto.String(uploaded.URL),
				DirectPath:    proto.String(uploaded.DirectPath),
				MediaKey:      uploaded.MediaKey,
				FileSHA256:    uploaded.FileSHA256,
				FileEncSHA256: uploaded.FileEncSHA256,
				FileLength:    proto.Uint64(uploaded.FileLength),
				Mimetype:      proto.String(mime),
				Caption:       proto.String(media.Caption),
			},
		}, nil

	case channels.MessageDocument:
		uploaded, err := w.client.Upload(ctx, media.Data, whatsmeow.MediaDocument)
		if err != nil {
			return nil, fmt.Errorf("uploading document: %w", err)
		}
		mime := media.MimeType
		if mime == "" {
			mime = "application/octet-stream"
		}
		filename := media.Filename
		if filename == "" {
			filename = "file"
		}
		return &waE2E.Message{
			DocumentMessage: &waE2E.DocumentMessage{
				URL:           proto.String(uploaded.URL),
				DirectPath:    proto.String(uploaded.DirectPath),
				MediaKey:      uploaded.MediaKey,
				FileSHA256:    uploaded.FileSHA256,
				FileEncSHA256: uploaded.FileEncSHA256,
				FileLength:    proto.Uint64(uploaded.FileLength),
				Mimetype:      proto.String(mime),
				FileName:      proto.String(filename),
				Caption:       proto.String(media.Caption),
			},
		}, nil

	default:
		return nil, fmt.Errorf("unsupported media type %q", media.Type)
	}
}

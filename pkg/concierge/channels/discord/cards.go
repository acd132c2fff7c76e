// cards.go renders confirmation cards as Discord messages with Confirm and
// Cancel buttons. Cards are edited in place for countdown refreshes and have
// their buttons stripped once the operation resolves.
package discord

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"
	"github.com/conciergehq/concierge/pkg/concierge/channels"
)

// buttonPrefix namespaces card button custom IDs so unrelated components are
// ignored by the interaction handler.
const buttonPrefix = "pend"

// buttonID builds the custom ID for a card button: "pend|confirm|<op-id>".
// Operation IDs contain colons-free segments joined by dashes, so "|" is a
// safe separator.
func buttonID(action, opID string) string {
	return buttonPrefix + "|" + action + "|" + opID
}

// parseButtonID extracts the operation ID and action from a button custom ID.
func parseButtonID(customID string) (opID, action string, ok bool) {
	parts := strings.SplitN(customID, "|", 3)
	if len(parts) != 3 || parts[0] != buttonPrefix {
		return "", "", false
	}
	if parts[1] != "confirm" && parts[1] != "cancel" {
		return "", "", false
	}
	return parts[2], parts[1], true
}

// cardRef builds the opaque card reference stored on the pending operation.
func cardRef(channelID, messageID string) string {
	return "discord:" + channelID + ":" + messageID
}

// parseCardRef splits a card reference back into channel and message IDs.
func parseCardRef(ref string) (channelID, messageID string, err error) {
	parts := strings.Split(ref, ":")
	if len(parts) != 3 || parts[0] != "discord" {
		return "", "", fmt.Errorf("discord: invalid card reference %q", ref)
	}
	return parts[1], parts[2], nil
}

// cardButtons builds the Confirm/Cancel button row for an operation.
func cardButtons(card *channels.Card) []discordgo.MessageComponent {
	confirmLabel := card.ConfirmLabel
	if confirmLabel == "" {
		confirmLabel = "Confirm"
	}
	cancelLabel := card.CancelLabel
	if cancelLabel == "" {
		cancelLabel = "Cancel"
	}
	confirmStyle := discordgo.SuccessButton
	if card.Danger {
		confirmStyle = discordgo.DangerButton
	}

	return []discordgo.MessageComponent{
		discordgo.ActionsRow{
			Components: []discordgo.MessageComponent{
				discordgo.Button{
					CustomID: buttonID("confirm", card.OperationID),
					Label:    confirmLabel,
					Style:    confirmStyle,
				},
				discordgo.Button{
					CustomID: buttonID("cancel", card.OperationID),
					Label:    cancelLabel,
					Style:    discordgo.SecondaryButton,
				},
			},
		},
	}
}

// cardContent renders the card title and body as message content.
func cardContent(card *channels.Card) string {
	if card.Title == "" {
		return card.Body
	}
	return "**" + card.Title + "**\n" + card.Body
}

// SendCard posts a confirmation card and returns its reference.
func (d *Discord) SendCard(ctx context.Context, to string, card *channels.Card) (string, error) {
	if d.session == nil {
		return "", channels.ErrChannelDisconnected
	}

	msg, err := d.session.ChannelMessageSendComplex(to, &discordgo.MessageSend{
		Content:    cardContent(card),
		Components: cardButtons(card),
	})
	if err != nil {
		return "", fmt.Errorf("discord: sending card: %w", err)
	}

	return cardRef(to, msg.ID), nil
}

// UpdateCard edits a card in place, keeping its buttons.
func (d *Discord) UpdateCard(ctx context.Context, ref string, card *channels.Card) error {
	if d.session == nil {
		return channels.ErrChannelDisconnected
	}

	channelID, messageID, err := parseCardRef(ref)
	if err != nil {
		return err
	}

	content := cardContent(card)
	components := cardButtons(card)
	_, err = d.session.ChannelMessageEditComplex(&discordgo.MessageEdit{
		Channel:    channelID,
		ID:         messageID,
		Content:    &content,
		Components: &components,
	})
	if err != nil {
		return fmt.Errorf("discord: editing card: %w", err)
	}
	return nil
}

// DisableCard strips the buttons and replaces the card body with the outcome.
func (d *Discord) DisableCard(ctx context.Context, ref string, outcome string) error {
	if d.session == nil {
		return channels.ErrChannelDisconnected
	}

	channelID, messageID, err := parseCardRef(ref)
	if err != nil {
		return err
	}

	empty := []discordgo.MessageComponent{}
	_, err = d.session.ChannelMessageEditComplex(&discordgo.MessageEdit{
		Channel:    channelID,
		ID:         messageID,
		Content:    &outcome,
		Components: &empty,
	})
	if err != nil {
		return fmt.Errorf("discord: disabling card: %w", err)
	}
	return nil
}

// Package telegram adapts a Telegram bot into the ports.Channel the
// pipeline posts through. Error classification lives here: flood waits map
// to the upstream rate-limit sentinel, 4xx rejections to the permanent
// one, everything else to unavailable.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"github.com/AetherSilva/G3r4kiHub/internal/domain"
	"github.com/AetherSilva/G3r4kiHub/pkg/logx"
)

type Config struct {
	Token     string
	ChannelID int64
	GroupID   int64
	// APIURL overrides the Bot API endpoint; empty uses api.telegram.org.
	APIURL string
}

type Channel struct {
	bot       *tele.Bot
	channelID int64
	groupID   int64
	log       logx.Logger
}

// New builds a send-only bot client. No poller is attached; this process
// never consumes updates.
func New(cfg Config, log logx.Logger) (*Channel, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.ChannelID == 0 {
		return nil, errors.New("telegram channel id is empty")
	}
	b, err := tele.NewBot(tele.Settings{
		Token:   cfg.Token,
		URL:     cfg.APIURL,
		Offline: false,
	})
	if err != nil {
		return nil, err
	}
	return &Channel{bot: b, channelID: cfg.ChannelID, groupID: cfg.GroupID, log: log}, nil
}

// Post sends one deal message to the channel. With an image URL the text
// rides as the photo caption; otherwise it goes out as plain text with the
// link preview suppressed (the button carries the link).
func (c *Channel) Post(ctx context.Context, p domain.Payload) (domain.MessageHandle, error) {
	if err := ctx.Err(); err != nil {
		return domain.MessageHandle{}, err
	}

	opts := &tele.SendOptions{DisableWebPagePreview: true}
	if p.ButtonText != "" && p.ButtonURL != "" {
		markup := &tele.ReplyMarkup{}
		markup.Inline(markup.Row(markup.URL(p.ButtonText, p.ButtonURL)))
		opts.ReplyMarkup = markup
	}

	var what any = p.Text
	if p.ImageURL != "" {
		what = &tele.Photo{File: tele.FromURL(p.ImageURL), Caption: p.Text}
	}

	msg, err := c.bot.Send(tele.ChatID(c.channelID), what, opts)
	if err != nil {
		return domain.MessageHandle{}, classify(err)
	}
	return domain.MessageHandle{ChatID: c.channelID, MessageID: msg.ID}, nil
}

// Engagement reports view/click counters for a posted message. The bot API
// does not expose these to bots, so the Telegram adapter always answers
// not-found and the reconciler leaves the stored record alone; counter-
// capable channel implementations fill this in for real.
func (c *Channel) Engagement(ctx context.Context, h domain.MessageHandle) (domain.Counters, error) {
	if err := ctx.Err(); err != nil {
		return domain.Counters{}, err
	}
	return domain.Counters{}, fmt.Errorf("engagement %d/%d: %w", h.ChatID, h.MessageID, domain.ErrNotFound)
}

// SendReport delivers an admin text (daily analytics summary) to the
// configured group. A zero group id disables reports silently.
func (c *Channel) SendReport(ctx context.Context, text string) error {
	if c.groupID == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := c.bot.Send(tele.ChatID(c.groupID), text, &tele.SendOptions{DisableWebPagePreview: true})
	if err != nil {
		return classify(err)
	}
	return nil
}

// Pin pins a posted message in the channel without notifying members.
func (c *Channel) Pin(ctx context.Context, h domain.MessageHandle) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := stored(h)
	if err := c.bot.Pin(msg, tele.Silent); err != nil {
		return classify(err)
	}
	return nil
}

// EditCaption replaces the text of an already-posted message, used when a
// deal's price drops further after publication.
func (c *Channel) EditCaption(ctx context.Context, h domain.MessageHandle, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := stored(h)
	if _, err := c.bot.EditCaption(msg, text); err != nil {
		return classify(err)
	}
	return nil
}

func stored(h domain.MessageHandle) tele.StoredMessage {
	return tele.StoredMessage{
		MessageID: strconv.Itoa(h.MessageID),
		ChatID:    h.ChatID,
	}
}

// classify maps telebot errors onto the pipeline's error taxonomy.
func classify(err error) error {
	var flood tele.FloodError
	if errors.As(err, &flood) {
		return fmt.Errorf("flood wait %s: %w", (time.Duration(flood.RetryAfter) * time.Second), domain.ErrUpstreamRateLimited)
	}
	var apiErr *tele.Error
	if errors.As(err, &apiErr) {
		if apiErr.Code >= 400 && apiErr.Code < 500 && apiErr.Code != 429 {
			return fmt.Errorf("telegram rejected (%d %s): %w", apiErr.Code, apiErr.Description, domain.ErrPermanentPublish)
		}
		if apiErr.Code == 429 {
			return fmt.Errorf("telegram throttled: %w", domain.ErrUpstreamRateLimited)
		}
	}
	return fmt.Errorf("telegram send: %v: %w", err, domain.ErrUpstreamUnavailable)
}

package notify

import (
	"context"
	"time"

	"offlinesync/internal/config"
	"offlinesync/internal/domain"
	"offlinesync/internal/models"

	"github.com/rs/zerolog"
)

const presentTimeout = 10 * time.Second

// MessageFunc turns an error category into short user-facing text.
type MessageFunc func(kind domain.Kind) string

// Presenter shows a message to the user or operator.
type Presenter interface {
	Present(ctx context.Context, msg Message) error
}

// Message is what a presenter receives for one exhausted failure.
type Message struct {
	Text    string
	Kind    domain.Kind
	Label   string
	Attempt int
}

var defaultMessages = map[domain.Kind]string{
	domain.KindNetwork:    "Connection problem. Your changes are saved and will sync when you are back online.",
	domain.KindTimeout:    "Connection problem. Your changes are saved and will sync when you are back online.",
	domain.KindStorage:    "Could not save your changes on this device.",
	domain.KindAuth:       "Your session has expired. Please sign in again.",
	domain.KindPermission: "You do not have permission to make this change.",
}

const defaultGeneric = "Something went wrong while syncing your changes."

// DefaultMessages returns the built-in text with any non-empty overrides from cfg applied.
func DefaultMessages(cfg config.MessagesConfig) MessageFunc {
	table := make(map[domain.Kind]string, len(defaultMessages))
	for k, v := range defaultMessages {
		table[k] = v
	}
	generic := defaultGeneric

	if cfg.Network != "" {
		table[domain.KindNetwork] = cfg.Network
		table[domain.KindTimeout] = cfg.Network
	}
	if cfg.Storage != "" {
		table[domain.KindStorage] = cfg.Storage
	}
	if cfg.Auth != "" {
		table[domain.KindAuth] = cfg.Auth
	}
	if cfg.Permission != "" {
		table[domain.KindPermission] = cfg.Permission
	}
	if cfg.Generic != "" {
		generic = cfg.Generic
	}

	return func(kind domain.Kind) string {
		if msg, ok := table[kind]; ok {
			return msg
		}
		return generic
	}
}

// Notifier forwards exhausted failures to presenters, once each.
// Intermediate retry attempts are ignored.
type Notifier struct {
	messages   MessageFunc
	presenters []Presenter
	logger     *zerolog.Logger
}

func NewNotifier(messages MessageFunc, logger *zerolog.Logger, presenters ...Presenter) *Notifier {
	if messages == nil {
		messages = DefaultMessages(config.MessagesConfig{})
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Notifier{messages: messages, presenters: presenters, logger: logger}
}

// Handle is a failure listener; register it with OnError.
func (n *Notifier) Handle(f models.Failure) {
	if !f.Context.Final {
		return
	}

	kind := domain.KindOf(f.Err)
	msg := Message{
		Text:    n.messages(kind),
		Kind:    kind,
		Label:   f.Context.Label,
		Attempt: f.Context.Attempt,
	}

	ctx, cancel := context.WithTimeout(context.Background(), presentTimeout)
	defer cancel()

	for _, p := range n.presenters {
		if err := p.Present(ctx, msg); err != nil {
			n.logger.Error().Err(err).Str("label", msg.Label).Msg("Failed to present failure")
		}
	}
}

// LogPresenter writes messages to the log.
type LogPresenter struct {
	logger *zerolog.Logger
}

func NewLogPresenter(logger *zerolog.Logger) *LogPresenter {
	return &LogPresenter{logger: logger}
}

func (p *LogPresenter) Present(_ context.Context, msg Message) error {
	p.logger.Warn().
		Str("kind", msg.Kind.String()).
		Str("label", msg.Label).
		Int("attempt", msg.Attempt).
		Msg(msg.Text)
	return nil
}

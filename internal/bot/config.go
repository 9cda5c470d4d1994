package bot

import "github.com/example/hanzibot/pkg/models"

// BotConfig represents the configuration for the bot
type BotConfig struct {
	// Kind reviewed by /review when the command has no argument
	DefaultKind models.ItemKind
	// Long polling timeout for updates, in seconds
	UpdateTimeout int
	// Log every request made to the Telegram API
	Debug bool
}

// DefaultConfig returns the default bot configuration
func DefaultConfig() *BotConfig {
	return &BotConfig{
		DefaultKind:   models.KindCharacter,
		UpdateTimeout: 60,
	}
}

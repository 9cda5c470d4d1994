package bot

import (
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/example/hanzibot/pkg/models"
)

// Callback actions
const (
	actionShow  = "show"
	actionGrade = "grade"
)

// callback is the decoded data of an inline button. Version is the item
// version the card was shown at, so a repeated press is rejected.
type callback struct {
	Action  string
	Kind    models.ItemKind
	ItemID  int64
	Quality int
	Version int64
}

// String encodes the callback as show:<kind>:<itemID>:<version> or
// grade:<kind>:<itemID>:<quality>:<version>
func (c callback) String() string {
	if c.Action == actionGrade {
		return fmt.Sprintf("%s:%s:%d:%d:%d", c.Action, c.Kind, c.ItemID, c.Quality, c.Version)
	}
	return fmt.Sprintf("%s:%s:%d:%d", c.Action, c.Kind, c.ItemID, c.Version)
}

func parseCallback(data string) (callback, error) {
	parts := strings.Split(data, ":")
	if len(parts) < 3 {
		return callback{}, fmt.Errorf("malformed callback %q", data)
	}

	kind, err := models.ParseKind(parts[1])
	if err != nil {
		return callback{}, err
	}
	id, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil || id <= 0 {
		return callback{}, fmt.Errorf("invalid item id in callback %q", data)
	}
	cb := callback{Action: parts[0], Kind: kind, ItemID: id}

	var version string
	switch cb.Action {
	case actionShow:
		if len(parts) != 4 {
			return callback{}, fmt.Errorf("malformed callback %q", data)
		}
		version = parts[3]
	case actionGrade:
		if len(parts) != 5 {
			return callback{}, fmt.Errorf("malformed callback %q", data)
		}
		// range is checked by the review service
		if cb.Quality, err = strconv.Atoi(parts[3]); err != nil {
			return callback{}, fmt.Errorf("invalid quality in callback %q", data)
		}
		version = parts[4]
	default:
		return callback{}, fmt.Errorf("unknown callback action %q", cb.Action)
	}
	cb.Version, err = strconv.ParseInt(version, 10, 64)
	if err != nil || cb.Version <= 0 {
		return callback{}, fmt.Errorf("invalid version in callback %q", data)
	}
	return cb, nil
}

// MenuButton represents a button in an inline keyboard
type MenuButton struct {
	Text         string
	CallbackData string
}

// createKeyboard creates a keyboard from menu buttons
func createKeyboard(buttons [][]MenuButton) tgbotapi.InlineKeyboardMarkup {
	var keyboard [][]tgbotapi.InlineKeyboardButton
	for _, row := range buttons {
		var keyboardRow []tgbotapi.InlineKeyboardButton
		for _, button := range row {
			keyboardRow = append(keyboardRow, tgbotapi.NewInlineKeyboardButtonData(button.Text, button.CallbackData))
		}
		keyboard = append(keyboard, keyboardRow)
	}
	return tgbotapi.NewInlineKeyboardMarkup(keyboard...)
}

func showAnswerKeyboard(kind models.ItemKind, itemID, version int64) tgbotapi.InlineKeyboardMarkup {
	cb := callback{Action: actionShow, Kind: kind, ItemID: itemID, Version: version}
	return createKeyboard([][]MenuButton{{
		{Text: "Show answer", CallbackData: cb.String()},
	}})
}

var gradeLabels = []string{"0 blackout", "1 wrong", "2 almost", "3 hard", "4 good", "5 easy"}

// gradeKeyboard has one button per SM-2 quality, three per row
func gradeKeyboard(kind models.ItemKind, itemID, version int64) tgbotapi.InlineKeyboardMarkup {
	rows := make([][]MenuButton, 0, 2)
	for start := 0; start < len(gradeLabels); start += 3 {
		row := make([]MenuButton, 0, 3)
		for q := start; q < start+3; q++ {
			row = append(row, MenuButton{
				Text:         gradeLabels[q],
				CallbackData: callback{Action: actionGrade, Kind: kind, ItemID: itemID, Quality: q, Version: version}.String(),
			})
		}
		rows = append(rows, row)
	}
	return createKeyboard(rows)
}

package tracker

import (
	"fmt"
	"strings"
	"time"

	"ctfcal/internal/model"
	"ctfcal/internal/reminder"
)

const (
	newEventHeader = "📣 **Mới có event:**\n"
	changedHeader  = "# 🔁 **Event đã thay đổi thời gian:**\n"
	listingHeader  = "# 📅 Các sự kiện CTF sắp tới:\n\n"
	listingEmpty   = "❌ Không có sự kiện sắp tới."
)

// FormatBlock renders the shared event block:
//
//	**Title**
//	🗓️ dd-mm-YYYY HH:MM [ - dd-mm-YYYY HH:MM]
//	🔗 url
func FormatBlock(ev model.Event) string {
	timeRange := ev.StartLocal.Format(model.DisplayLayout)
	if ev.HasEnd() {
		timeRange += " - " + ev.EndLocal.Format(model.DisplayLayout)
	}
	return fmt.Sprintf("**%s**\n🗓️ %s\n🔗 %s", ev.Summary, timeRange, ev.URL)
}

func NewEventMessage(ev model.Event) string {
	return newEventHeader + FormatBlock(ev)
}

// ChangedMessage announces a moved start; oldStart is rendered in loc.
func ChangedMessage(ev model.Event, oldStart time.Time, loc *time.Location) string {
	return fmt.Sprintf("%s**%s**\n🕒 Cũ: %s\n🗓️ Mới: %s\n🔗 %s",
		changedHeader,
		ev.Summary,
		oldStart.In(loc).Format(model.DisplayLayout),
		ev.StartLocal.Format(model.DisplayLayout),
		ev.URL,
	)
}

// ReminderPrefix is the lead-time line of a reminder.
func ReminderPrefix(k reminder.Kind) string {
	if k.Unit == reminder.UnitHour {
		return fmt.Sprintf("⏰ Còn %d tiếng nữa!", k.N)
	}
	return fmt.Sprintf("🔔 Còn %d ngày nữa!", k.N)
}

func ReminderMessage(ev model.Event, k reminder.Kind) string {
	return fmt.Sprintf("%s\n**%s**\n🗓️ Bắt đầu: %s\n🔗 %s",
		ReminderPrefix(k),
		ev.Summary,
		ev.StartLocal.Format(model.DisplayLayout),
		ev.URL,
	)
}

// ListingMessage renders the on-demand listing of already-limited events.
func ListingMessage(events []model.Event) string {
	if len(events) == 0 {
		return listingEmpty
	}
	blocks := make([]string, 0, len(events))
	for _, ev := range events {
		blocks = append(blocks, FormatBlock(ev))
	}
	return listingHeader + strings.Join(blocks, "\n\n")
}

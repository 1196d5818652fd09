package delivery

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"echopush/internal/domain"
)

// NotificationTitle heads every echo push.
const NotificationTitle = "Echo Reminder"

// RenderBody turns an echo's parts into the one-line notification body.
// Parts render in ascending OrderIndex regardless of input order; text
// passes through, media parts become bracketed placeholders carrying their
// content. The function is pure: same parts, same bytes.
func RenderBody(parts []domain.EchoPart) string {
	sorted := make([]domain.EchoPart, len(parts))
	copy(sorted, parts)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].OrderIndex < sorted[j].OrderIndex
	})

	fragments := make([]string, 0, len(sorted))
	for _, p := range sorted {
		fragments = append(fragments, renderFragment(p))
	}
	return strings.Join(fragments, " ")
}

func renderFragment(p domain.EchoPart) string {
	switch p.Type {
	case domain.PartText:
		return p.Content
	case domain.PartImage:
		return "[Image: " + p.Content + "]"
	case domain.PartAudio:
		return "[Audio: " + p.Content + "]"
	case domain.PartLink:
		return "[Link: " + p.Content + "]"
	default:
		return p.Content
	}
}

// notificationData builds the data payload the mobile client uses to open
// the echo from the notification.
func notificationData(echo domain.Echo, now time.Time) map[string]string {
	return map[string]string{
		"echoId":     echo.ID,
		"type":       "echo_reminder",
		"partsCount": strconv.Itoa(len(echo.Parts)),
		"timestamp":  now.UTC().Format(time.RFC3339),
	}
}

package notification

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ovaphlow/pitchfork/service-library-go/internal/notification/entity"
)

var subjects = map[entity.Type]string{
	entity.TypeWelcome:             "Welcome to the library",
	entity.TypeBorrowConfirmation:  "Borrowed: %s",
	entity.TypeReturnConfirmation:  "Returned: %s",
	entity.TypeRenewalConfirmation: "Renewed: %s",
	entity.TypePreDueReminder:      "Due soon: %s",
	entity.TypeOverdueNotice:       "Overdue: %s",
	entity.TypeLostNotice:          "Marked lost: %s",
	entity.TypeCreditScoreUpdate:   "Your credit score changed",
	entity.TypeCreditWarning:       "Your credit score is at risk",
	entity.TypeAccountSuspended:    "Your borrowing privileges are restricted",
	entity.TypeLowInventory:        "Low inventory: %s",
	entity.TypeNewsletter:          "Library newsletter",
}

// Render builds the subject and plain-text body for an item. Subjects that
// name a book take it from the book_title payload field.
func Render(it *entity.Item) (subject, body string) {
	subject = string(it.Type)
	if tmpl, ok := subjects[it.Type]; ok {
		subject = tmpl
		if strings.Contains(tmpl, "%s") {
			subject = fmt.Sprintf(tmpl, payloadString(it, "book_title"))
		}
	}
	keys := make([]string, 0, len(it.Payload))
	for k := range it.Payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "%s: %v\n", strings.ReplaceAll(k, "_", " "), it.Payload[k])
	}
	return subject, b.String()
}

func payloadString(it *entity.Item, key string) string {
	if v, ok := it.Payload[key]; ok {
		return fmt.Sprint(v)
	}
	return ""
}

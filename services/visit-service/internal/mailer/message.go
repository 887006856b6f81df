package mailer

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/md-rashed-zaman/visitwindow/services/visit-service/internal/outbox"
	"github.com/md-rashed-zaman/visitwindow/services/visit-service/internal/timeofday"
)

// Message is a rendered owner notification.
type Message struct {
	To      string
	Subject string
	Body    string
}

type visitView struct {
	Guest    string
	Date     string
	From     string
	Until    string
	PageLink string
}

var (
	bookedTmpl = template.Must(template.New("booked").Parse(`{{.Guest}} would like to visit on {{.Date}} from {{.From}} until {{.Until}}.

You can see every planned visit on your page:
{{.PageLink}}
`))
	cancelledTmpl = template.Must(template.New("cancelled").Parse(`{{.Guest}} cancelled the visit on {{.Date}} from {{.From}} until {{.Until}}.

Your page: {{.PageLink}}
`))
)

// Render builds the owner mail for a visit event. ok is false when the event
// needs no mail: unknown type, no owner address, or a slot without a guest.
func Render(eventType string, p outbox.SlotPayload, baseURL string) (msg Message, ok bool, err error) {
	var (
		tmpl    *template.Template
		subject string
	)
	switch eventType {
	case outbox.TypeVisitBooked:
		tmpl, subject = bookedTmpl, "%s would like to visit"
	case outbox.TypeVisitCancelled:
		tmpl, subject = cancelledTmpl, "Visit by %s cancelled"
	default:
		return Message{}, false, nil
	}
	if strings.TrimSpace(p.OwnerEmail) == "" || strings.TrimSpace(p.Name) == "" {
		return Message{}, false, nil
	}
	from, err := timeofday.Parse(p.Time)
	if err != nil {
		return Message{}, false, err
	}

	view := visitView{
		Guest:    p.Name,
		Date:     longDate(p.Date),
		From:     from.String(),
		Until:    from.Add(p.Duration).String(),
		PageLink: pageLink(baseURL, p.Reference),
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, view); err != nil {
		return Message{}, false, err
	}
	return Message{To: p.OwnerEmail, Subject: fmt.Sprintf(subject, p.Name), Body: buf.String()}, true, nil
}

// longDate renders "2025-03-01" as "Saturday 1 March 2025"; other input is
// returned unchanged.
func longDate(s string) string {
	d, err := timeofday.ParseDate(s)
	if err != nil {
		return s
	}
	t, _ := time.Parse("2006-01-02", string(d))
	return t.Format("Monday 2 January 2006")
}

func pageLink(baseURL, reference string) string {
	return strings.TrimRight(baseURL, "/") + "/page/" + reference
}

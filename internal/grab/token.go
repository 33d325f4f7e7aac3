// Package grab turns handoff tokens from the companion application into button
// records.
package grab

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/srg/buttond/internal/button"
)

// DefaultCompanion is the scheme of the companion application that owns
// button pairing.
const DefaultCompanion = "flic"

var colorPattern = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)

// ParseToken parses a handoff token of the form
//
//	<scheme>://grab?button=<uuid>&key=<publicKey>&name=<deviceName>[&user_name=..][&color=#RRGGBB][&addr=..]
//
// A companion reported failure arrives as error=<code> and is returned as the
// matching error kind. Anything else malformed is HandoffRejected.
func ParseToken(raw string) (button.Button, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return button.Button{}, reject("unparseable token: %v", err)
	}
	if u.Scheme == "" {
		return button.Button{}, reject("token has no scheme")
	}
	if action := grabAction(u); action != "grab" {
		return button.Button{}, reject("unexpected token action %q", action)
	}

	q := u.Query()
	if code := q.Get("error"); code != "" {
		n, err := strconv.Atoi(code)
		if err != nil {
			return button.Button{}, reject("invalid error code %q", code)
		}
		return button.Button{}, button.NewError(button.KindForCode(n), n, "companion reported error %d", n)
	}

	id, err := button.ParseID(q.Get("button"))
	if err != nil {
		return button.Button{}, reject("%v", err)
	}
	key := q.Get("key")
	if key == "" {
		return button.Button{}, reject("token for %s carries no public key", id)
	}

	color := q.Get("color")
	switch {
	case color == "":
		color = button.DefaultColor
	case !colorPattern.MatchString(color):
		return button.Button{}, reject("invalid color %q", color)
	default:
		color = strings.ToLower(color)
	}

	return button.Button{
		ID:               id,
		PublicKey:        key,
		Address:          q.Get("addr"),
		DeviceName:       q.Get("name"),
		UserAssignedName: q.Get("user_name"),
		Color:            color,
		TriggerBehavior:  button.ClickAndHold,
	}, nil
}

// RequestURL builds the outbound request asking the companion to hand a button
// over. The companion answers by opening callbackScheme://grab?... .
func RequestURL(companion, callbackScheme string) string {
	if companion == "" {
		companion = DefaultCompanion
	}
	u := url.URL{
		Scheme:   companion,
		Host:     "request-grab",
		RawQuery: url.Values{"callback": {callbackScheme + "://grab"}}.Encode(),
	}
	return u.String()
}

// grabAction accepts both scheme://grab?.. and scheme:grab?.. forms.
func grabAction(u *url.URL) string {
	if u.Host != "" {
		return u.Host
	}
	if u.Opaque != "" {
		return u.Opaque
	}
	return strings.Trim(u.Path, "/")
}

func reject(format string, args ...any) error {
	return button.NewError(button.HandoffRejected, button.CodeMissingData, format, args...)
}

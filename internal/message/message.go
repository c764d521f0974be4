// Package message holds the structured form of one conversation entry and
// the parser that produces it.
package message

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// DefaultTimeLayouts are tried by Message.Time when no layout is given.
var DefaultTimeLayouts = []string{
	"15:04, 2/1/2006",
	"3:04 PM, 1/2/2006",
	"15:04, 1/2/2006",
}

// Message is one parsed conversation entry. Values are never mutated after
// Parse returns them.
type Message struct {
	Sender    string
	Content   Content
	Timestamp string
}

// Content is the body of a message.
type Content struct {
	Text string
	// ReactionTarget is the text of the message this one reacts to, nil when
	// the message is not a reaction.
	ReactionTarget *string
	// Images is never nil for parsed messages.
	Images []ImageRef
}

// Reaction returns the reaction target and whether the message is a reaction.
func (c Content) Reaction() (string, bool) {
	if c.ReactionTarget == nil {
		return "", false
	}
	return *c.ReactionTarget, true
}

// Time parses the timestamp label with the given layouts, or
// DefaultTimeLayouts when none are given.
func (m Message) Time(layouts ...string) (time.Time, error) {
	if len(layouts) == 0 {
		layouts = DefaultTimeLayouts
	}
	ts := strings.TrimSpace(m.Timestamp)
	for _, layout := range layouts {
		if t, err := time.ParseInLocation(layout, ts, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("timestamp %q matches none of %d layouts", m.Timestamp, len(layouts))
}

// ImageRef is one image embedded inline in a message.
type ImageRef struct {
	// Source is the data: URI of the image.
	Source string
}

var errNotDataURI = errors.New("image source is not a data URI")

// MediaType returns the declared media type of the data URI.
func (i ImageRef) MediaType() (string, error) {
	meta, _, err := i.split()
	if err != nil {
		return "", err
	}
	mt, _, _ := strings.Cut(meta, ";")
	if mt == "" {
		mt = "text/plain"
	}
	return mt, nil
}

// Data decodes the payload of the data URI.
func (i ImageRef) Data() ([]byte, error) {
	meta, payload, err := i.split()
	if err != nil {
		return nil, err
	}
	if strings.HasSuffix(meta, ";base64") {
		data, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			return nil, fmt.Errorf("decode image payload: %w", err)
		}
		return data, nil
	}
	unescaped, err := url.PathUnescape(payload)
	if err != nil {
		return nil, fmt.Errorf("unescape image payload: %w", err)
	}
	return []byte(unescaped), nil
}

func (i ImageRef) split() (meta, payload string, err error) {
	rest, ok := strings.CutPrefix(i.Source, "data:")
	if !ok {
		return "", "", errNotDataURI
	}
	meta, payload, ok = strings.Cut(rest, ",")
	if !ok {
		return "", "", errNotDataURI
	}
	return meta, payload, nil
}

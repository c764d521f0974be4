package message

import (
	"errors"
	"fmt"
	"regexp"
)

// ErrNotParseable marks an entry that cannot be turned into a Message.
var ErrNotParseable = errors.New("entry not parseable")

// ParsableEntry is the part of a conversation entry the parser reads.
type ParsableEntry interface {
	// Label returns the metadata marker's label, formatted
	// "[<timestamp>] <sender>:". ok is false when the marker is missing.
	Label() (label string, ok bool)
	// Text returns the message body.
	Text() (string, error)
	// ReactionTarget returns the text of the quoted message. An error means
	// the entry is not a reaction or the substructure is malformed.
	ReactionTarget() (string, error)
	// Images returns the inline-encoded images, possibly none.
	Images() []ImageRef
}

var (
	timestampPattern = regexp.MustCompile(`\[(.*)\]`)
	senderPattern    = regexp.MustCompile(`\] (.*):`)
)

// Parse converts an entry into a Message. Missing or malformed required
// parts yield an error wrapping ErrNotParseable; a missing reaction
// substructure only clears ReactionTarget.
func Parse(e ParsableEntry) (Message, error) {
	label, ok := e.Label()
	if !ok {
		return Message{}, fmt.Errorf("%w: no metadata marker", ErrNotParseable)
	}

	ts := timestampPattern.FindStringSubmatch(label)
	if ts == nil {
		return Message{}, fmt.Errorf("%w: no timestamp in label %q", ErrNotParseable, label)
	}
	sender := senderPattern.FindStringSubmatch(label)
	if sender == nil {
		return Message{}, fmt.Errorf("%w: no sender in label %q", ErrNotParseable, label)
	}

	text, err := e.Text()
	if err != nil {
		return Message{}, fmt.Errorf("%w: content: %v", ErrNotParseable, err)
	}

	var reaction *string
	if r, err := e.ReactionTarget(); err == nil {
		reaction = &r
	}

	images := append([]ImageRef{}, e.Images()...)

	return Message{
		Sender: sender[1],
		Content: Content{
			Text:           text,
			ReactionTarget: reaction,
			Images:         images,
		},
		Timestamp: ts[1],
	}, nil
}

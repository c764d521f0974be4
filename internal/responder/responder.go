// Package responder turns configured {name, reply} pairs into command
// handlers that answer with a rendered text/template.
package responder

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"text/template"

	"go.uber.org/zap"

	"whatt/internal/command"
	"whatt/internal/config"
	"whatt/internal/message"
)

// Sender submits a reply into the open conversation.
type Sender interface {
	SendMessage(ctx context.Context, text string) error
}

// Registrar accepts command handlers.
type Registrar interface {
	RegisterCommand(name string, h command.Handler)
}

// Data is the template context of a reply.
type Data struct {
	Sender    string
	Args      []string
	Text      string
	Timestamp string
}

var funcs = template.FuncMap{
	"join":  strings.Join,
	"upper": strings.ToUpper,
	"lower": strings.ToLower,
	"arg": func(args []string, i int) string {
		if i < 0 || i >= len(args) {
			return ""
		}
		return args[i]
	},
}

// Responder answers one command.
type Responder struct {
	name string
	tmpl *template.Template
	send Sender
	log  *zap.Logger
}

// New parses reply. Unknown fields fail at render time.
func New(name, reply string, send Sender, logger *zap.Logger) (*Responder, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	tmpl, err := template.New(name).Funcs(funcs).Option("missingkey=error").Parse(reply)
	if err != nil {
		return nil, fmt.Errorf("parse reply for %q: %w", name, err)
	}
	return &Responder{name: name, tmpl: tmpl, send: send, log: logger}, nil
}

// Name returns the command name.
func (r *Responder) Name() string { return r.name }

// Render executes the template for msg.
func (r *Responder) Render(msg message.Message, args []string) (string, error) {
	if args == nil {
		args = []string{}
	}
	var buf bytes.Buffer
	err := r.tmpl.Execute(&buf, Data{
		Sender:    msg.Sender,
		Args:      args,
		Text:      msg.Content.Text,
		Timestamp: msg.Timestamp,
	})
	if err != nil {
		return "", fmt.Errorf("render reply for %q: %w", r.name, err)
	}
	return buf.String(), nil
}

// Handle is a command.Handler. Empty replies are not sent.
func (r *Responder) Handle(ctx context.Context, msg message.Message, args []string) {
	reply, err := r.Render(msg, args)
	if err != nil {
		r.log.Warn("reply not rendered", zap.String("command", r.name), zap.Error(err))
		return
	}
	if strings.TrimSpace(reply) == "" {
		return
	}
	if err := r.send.SendMessage(ctx, reply); err != nil {
		r.log.Warn("reply not sent", zap.String("command", r.name), zap.Error(err))
	}
}

// RegisterAll builds a responder for every command and registers it on reg.
// Nothing is registered when any template fails to parse.
func RegisterAll(reg Registrar, send Sender, cmds []config.CommandConfig, logger *zap.Logger) ([]*Responder, error) {
	out := make([]*Responder, 0, len(cmds))
	for _, c := range cmds {
		r, err := New(c.Name, c.Reply, send, logger)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	for _, r := range out {
		reg.RegisterCommand(r.name, r.Handle)
	}
	return out, nil
}

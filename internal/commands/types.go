package commands

import (
	"context"
	"errors"

	"joinme/internal/transport"
	"joinme/internal/trigger"
	logx "joinme/pkg/logx"
)

var errNoGuild = errors.New("command must be run from within a server")

// Responder answers interactions. The Discord adapter implements it.
type Responder interface {
	Respond(ctx context.Context, in *transport.Interaction, resp transport.Response) error
}

// AutocompleteFunc returns choices for the focused option.
type AutocompleteFunc func(ctx context.Context, req *Request, query string) ([]transport.Choice, error)

type Command struct {
	Spec         transport.CommandSpec
	Handle       HandlerFunc
	Autocomplete map[string]AutocompleteFunc // by option name
}

// Request is one interaction resolved to its scope.
type Request struct {
	Interaction *transport.Interaction
	Scope       trigger.Scope
	ReqID       string
	Log         logx.Logger
}

func (r *Request) Option(name string) (string, bool) { return r.Interaction.Option(name) }

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
	"strings"

	"github.com/xconnio/wampble/pkg/peer"
	"github.com/xconnio/wampble/pkg/session"
	"github.com/xconnio/wampble/pkg/wamp"
)

var (
	ErrCommandLineArgs = errors.New("invalid command line arguments")
	ErrUnknownCommand  = errors.New("unrecognized command")

	errLeft = errors.New("left the realm")
)

type Argument struct {
	name string
	help string
}

// client is what command handlers operate on.
type client struct {
	session *session.Session
	peer    *peer.Peer
	out     io.Writer
}

type Handler func(ctx context.Context, c *client, args map[string]string) error

type Command struct {
	help     string
	args     []Argument
	optional []Argument
	handler  Handler
}

// parseList decodes a JSON array typed on the command line. Whole numbers become int64 so that
// binary serializers encode them as integers.
func parseList(text string) ([]any, error) {
	decoder := json.NewDecoder(strings.NewReader(text))
	decoder.UseNumber()
	var fields []any
	if err := decoder.Decode(&fields); err != nil {
		return nil, fmt.Errorf("%w: message must be a JSON array: %s", ErrCommandLineArgs, err)
	}
	if decoder.More() {
		return nil, fmt.Errorf("%w: trailing data after message", ErrCommandLineArgs)
	}
	fields = convertNumbers(fields).([]any)
	if _, ok := wamp.TypeOf(fields); !ok {
		return nil, fmt.Errorf("%w: first element must be a message type code", ErrCommandLineArgs)
	}
	return fields, nil
}

func convertNumbers(v any) any {
	switch value := v.(type) {
	case json.Number:
		if i, err := value.Int64(); err == nil {
			return i
		}
		f, _ := value.Float64()
		return f
	case []any:
		for i := range value {
			value[i] = convertNumbers(value[i])
		}
	case map[string]any:
		for k := range value {
			value[k] = convertNumbers(value[k])
		}
	}
	return v
}

// formatList renders a decoded message for display. Integral floats (JSON and protobuf carry all
// numbers as doubles) are printed without a fraction.
func formatList(fields []any) string {
	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	encoder.SetEscapeHTML(false)
	if err := encoder.Encode(displayable(fields)); err != nil {
		return fmt.Sprintf("%v", fields)
	}
	t, _ := wamp.TypeOf(fields)
	return fmt.Sprintf("%s %s", t, strings.TrimSpace(buf.String()))
}

func displayable(v any) any {
	switch value := v.(type) {
	case float64:
		if value == math.Trunc(value) && math.Abs(value) < 1<<53 {
			return int64(value)
		}
	case []byte:
		return fmt.Sprintf("%02x", value)
	case []any:
		out := make([]any, len(value))
		for i := range value {
			out[i] = displayable(value[i])
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(value))
		for k := range value {
			out[k] = displayable(value[k])
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(value))
		for k := range value {
			out[fmt.Sprint(k)] = displayable(value[k])
		}
		return out
	}
	return v
}

func execute(ctx context.Context, c *client, args []string) error {
	if len(args) == 0 {
		return errors.New("missing COMMAND")
	}

	info, ok := commands[args[0]]
	if !ok {
		return ErrUnknownCommand
	}

	var err error
	if len(args)-1 < len(info.args) || len(args)-1 > len(info.args)+len(info.optional) {
		writeErr("Invalid number of command line arguments: %d (%d required, %d optional).", len(args)-1, len(info.args), len(info.optional))
		err = ErrCommandLineArgs
	} else {
		keywords := make(map[string]string)
		for i, argInfo := range info.args {
			keywords[argInfo.name] = args[i+1]
		}
		index := len(info.args) + 1
		for _, argInfo := range info.optional {
			if index >= len(args) {
				break
			}
			keywords[argInfo.name] = args[index]
			index++
		}
		err = info.handler(ctx, c, keywords)
	}

	// Print command-specific help
	if errors.Is(err, ErrCommandLineArgs) {
		info.Usage(args[0])
	}
	return err
}

func (c *Command) Usage(name string) {
	fmt.Printf("Usage: %s", name)
	maxLength := 0
	for _, arg := range c.args {
		fmt.Printf(" %s", arg.name)
		maxLength = max(maxLength, len(arg.name))
	}
	if len(c.optional) > 0 {
		fmt.Printf(" [")
	}
	for _, arg := range c.optional {
		fmt.Printf(" %s", arg.name)
		maxLength = max(maxLength, len(arg.name))
	}
	if len(c.optional) > 0 {
		fmt.Printf(" ]")
	}
	fmt.Printf("\n%s\n", c.help)
	maxLength++
	for _, arg := range append(c.args, c.optional...) {
		fmt.Printf("    %s:%s%s\n", arg.name, strings.Repeat(" ", maxLength-len(arg.name)), arg.help)
	}
}

var commands = map[string]*Command{
	"info": &Command{
		help: "Show the session details returned by the router",
		handler: func(ctx context.Context, c *client, args map[string]string) error {
			details := c.session.Details()
			fmt.Fprintf(c.out, "session:    %d\n", details.ID)
			fmt.Fprintf(c.out, "realm:      %s\n", details.Realm)
			fmt.Fprintf(c.out, "authid:     %s\n", details.AuthID)
			fmt.Fprintf(c.out, "authrole:   %s\n", details.AuthRole)
			fmt.Fprintf(c.out, "authmethod: %s\n", details.AuthMethod)
			fmt.Fprintf(c.out, "serializer: %s\n", c.session.Serializer().Name())
			var roles []string
			for role := range details.Roles {
				roles = append(roles, role)
			}
			sort.Strings(roles)
			fmt.Fprintf(c.out, "roles:      %s\n", strings.Join(roles, ","))
			return nil
		},
	},
	"send": &Command{
		help: "Send a WAMP message",
		args: []Argument{
			Argument{name: "MESSAGE", help: "JSON array, e.g. '[16, 1, {}, \"com.example.topic\", [42]]'"},
		},
		handler: func(ctx context.Context, c *client, args map[string]string) error {
			fields, err := parseList(args["MESSAGE"])
			if err != nil {
				return err
			}
			payload, err := c.session.Serializer().Encode(fields)
			if err != nil {
				return fmt.Errorf("could not encode message: %w", err)
			}
			return c.session.Send(ctx, payload)
		},
	},
	"recv": &Command{
		help: "Wait for the next WAMP message and print it",
		handler: func(ctx context.Context, c *client, args map[string]string) error {
			payload, err := c.session.Receive(ctx)
			if err != nil {
				return err
			}
			fields, err := c.session.Serializer().Decode(payload)
			if err != nil {
				fmt.Fprintf(c.out, "undecodable message: %02x\n", payload)
				return nil
			}
			fmt.Fprintln(c.out, formatList(fields))
			return nil
		},
	},
	"stats": &Command{
		help: "Show link traffic counters",
		handler: func(ctx context.Context, c *client, args map[string]string) error {
			if c.peer == nil {
				return errors.New("link statistics are unavailable")
			}
			stats := c.peer.Stats()
			fmt.Fprintf(c.out, "link:      %s (%d-byte fragment payloads)\n", c.peer.Name(), c.peer.PayloadSize())
			fmt.Fprintf(c.out, "sent:      %d messages, %d fragments\n", stats.MessagesSent, stats.FragmentsSent)
			fmt.Fprintf(c.out, "received:  %d messages, %d fragments\n", stats.MessagesReceived, stats.FragmentsReceived)
			fmt.Fprintf(c.out, "failures:  %d writes, %d malformed fragments\n", stats.WriteFailures, stats.MalformedDropped)
			return nil
		},
	},
	"leave": &Command{
		help: "Send GOODBYE and wait for the router to answer",
		optional: []Argument{
			Argument{name: "REASON", help: "Reason URI. Defaults to " + wamp.ReasonCloseRealm + "."},
		},
		handler: func(ctx context.Context, c *client, args map[string]string) error {
			if err := c.session.Leave(ctx, args["REASON"]); err != nil {
				return err
			}
			return errLeft
		},
	},
}

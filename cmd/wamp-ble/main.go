package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/google/shlex"

	"github.com/xconnio/wampble/internal/log"
	"github.com/xconnio/wampble/pkg/cli"
	"github.com/xconnio/wampble/pkg/connector/ble"
	"github.com/xconnio/wampble/pkg/connector/ble/goble"
	"github.com/xconnio/wampble/pkg/peer"
	"github.com/xconnio/wampble/pkg/protocol"
	"github.com/xconnio/wampble/pkg/session"
	"github.com/xconnio/wampble/pkg/wamp"
)

func writeErr(format string, a ...interface{}) {
	fmt.Fprintf(os.Stderr, format, a...)
	fmt.Fprintf(os.Stderr, "\n")
}

const usage = `
 * Without a COMMAND, an interactive shell is started. Type exit to quit.
 * Use -loopback to try commands against an in-process echo router instead of a BLE device.
 * Use "secret save" or "secret delete" with -secret-name to manage credentials in the system keyring.`

func Usage() {
	fmt.Printf("Usage: %s [OPTION...] [COMMAND [ARG...]]\n", os.Args[0])
	fmt.Printf("\nRun %s help COMMAND for more information. Valid COMMANDs are listed below.", os.Args[0])
	fmt.Println("")
	fmt.Println(usage)
	fmt.Println("")

	fmt.Printf("Available OPTIONs:\n")
	flag.PrintDefaults()
	fmt.Println("")
	fmt.Printf("Available COMMANDs:\n")
	maxLength := 0
	var labels []string
	for command := range commands {
		labels = append(labels, command)
		maxLength = max(maxLength, len(command))
	}
	sort.Strings(labels)
	for _, command := range labels {
		info := commands[command]
		fmt.Printf("  %s%s %s\n", command, strings.Repeat(" ", maxLength-len(command)), info.help)
	}
}

func runCommand(c *client, args []string, timeout time.Duration) (int, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	err := execute(ctx, c, args)
	switch {
	case err == nil:
		return 0, false
	case errors.Is(err, errLeft):
		return 0, true
	case protocol.MayHaveSucceeded(err):
		writeErr("Couldn't verify delivery: %s", err)
	case errors.Is(err, protocol.ErrDisconnected):
		writeErr("Link lost: %s", err)
		return 1, true
	default:
		writeErr("Failed to execute command: %s", err)
	}
	return 1, false
}

func runInteractiveShell(c *client, timeout time.Duration) int {
	scanner := bufio.NewScanner(os.Stdin)
	for fmt.Printf("> "); scanner.Scan(); fmt.Printf("> ") {
		args, err := shlex.Split(scanner.Text())
		if len(args) == 0 {
			continue
		}
		if args[0] == "exit" {
			return 0
		}
		if err != nil {
			writeErr("Invalid command: %s", err)
			continue
		}
		if args[0] == "help" {
			if len(args) > 1 {
				if info, ok := commands[args[1]]; ok {
					info.Usage(args[1])
					continue
				}
			}
			Usage()
			continue
		}
		if status, done := runCommand(c, args, timeout); done {
			return status
		}
	}
	if err := scanner.Err(); err != nil {
		writeErr("Error reading command: %s", err)
		return 1
	}
	return 0
}

func connect(ctx context.Context, config *cli.Config, loopback bool, auth wamp.Authenticator, serializer wamp.Serializer) (*peer.Peer, func(), error) {
	if loopback {
		var secret string
		if auth.Method() != wamp.MethodAnonymous {
			var err error
			if secret, err = config.Secret(); err != nil {
				return nil, nil, err
			}
		}
		verifier, err := loopbackVerifier(auth, secret)
		if err != nil {
			return nil, nil, err
		}
		routerCtx, stopRouter := context.WithCancel(context.Background())
		p := startLoopback(routerCtx, config.Realm, serializer, verifier)
		return p, stopRouter, nil
	}

	bleConfig, err := config.BLEConfig()
	if err != nil {
		return nil, nil, err
	}
	adapter, err := goble.NewAdapter(config.BtAdapterID)
	if err != nil {
		return nil, nil, err
	}
	manager, err := ble.NewManager(adapter, bleConfig)
	if err != nil {
		adapter.Close()
		return nil, nil, err
	}
	p, err := manager.Connect(ctx)
	if err != nil {
		manager.Close()
		return nil, nil, err
	}
	return p, func() {
		if err := manager.Close(); err != nil {
			log.Warning("Error releasing BLE adapter: %s", err)
		}
	}, nil
}

// manageSecret stores or removes the secret named by -secret-name (or written to -secret-file)
// without connecting to a device.
func manageSecret(config *cli.Config, args []string) int {
	if len(args) != 1 || (args[0] != "save" && args[0] != "delete") {
		writeErr("Usage: %s [OPTION...] secret save|delete", os.Args[0])
		return 1
	}
	if args[0] == "delete" {
		if config.KeyringSecretName == "" {
			writeErr("Deleting a secret requires -secret-name")
			return 1
		}
		if err := config.DeleteSecret(); err != nil {
			writeErr("Failed to delete secret: %s", err)
			return 1
		}
		return 0
	}
	secret, err := config.PromptSecret()
	if err != nil {
		writeErr("Failed to read secret: %s", err)
		return 1
	}
	if err := config.SaveSecret(secret); err != nil {
		writeErr("Failed to save secret: %s", err)
		return 1
	}
	return 0
}

func main() {
	status := 1
	defer func() {
		os.Exit(status)
	}()

	var (
		debug          bool
		loopback       bool
		commandTimeout time.Duration
		connTimeout    time.Duration
	)
	config, err := cli.NewConfig(cli.FlagAll)
	if err != nil {
		writeErr("Failed to load configuration: %s", err)
		return
	}
	flag.Usage = Usage
	flag.BoolVar(&debug, "debug", false, "Enable verbose debugging messages")
	flag.BoolVar(&loopback, "loopback", false, "Join an in-process echo router instead of a BLE device")
	flag.DurationVar(&commandTimeout, "command-timeout", 10*time.Second, "Set timeout for each command.")
	flag.DurationVar(&connTimeout, "connect-timeout", 30*time.Second, "Set timeout for scanning, connecting and joining.")

	config.RegisterCommandLineFlags()
	flag.Parse()
	if !debug {
		if debugEnv, ok := os.LookupEnv("WAMPBLE_VERBOSE"); ok {
			debug = debugEnv != "false" && debugEnv != "0"
		}
	}
	if debug {
		log.SetLevel(log.LevelDebug)
	}
	config.ReadFromEnvironment()
	if err := config.ReadFromFile(); err != nil {
		writeErr("Error: %s", err)
		return
	}
	config.ApplyDefaults()

	args := flag.Args()
	if len(args) > 0 {
		if args[0] == "help" {
			if len(args) == 1 {
				Usage()
				status = 0
				return
			}
			info, ok := commands[args[1]]
			if !ok {
				writeErr("Unrecognized command: %s", args[1])
				return
			}
			info.Usage(args[1])
			status = 0
			return
		}
		if args[0] == "secret" {
			status = manageSecret(config, args[1:])
			return
		}
		if _, ok := commands[args[0]]; !ok {
			writeErr("Unrecognized command: %s", args[0])
			return
		}
	}

	serializer, err := config.Serializer()
	if err != nil {
		writeErr("Error: %s", err)
		return
	}
	auth, err := config.Authenticator()
	if err != nil {
		writeErr("Error loading credentials: %s", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), connTimeout)
	defer cancel()

	p, release, err := connect(ctx, config, loopback, auth, serializer)
	if err != nil {
		writeErr("Error: %s", err)
		// Error isn't wrapped so we have to check for a substring explicitly.
		if strings.Contains(err.Error(), "operation not permitted") {
			// The underlying BLE package calls HCIDEVDOWN on the BLE device, presumably as a
			// heavy-handed way of dealing with devices that are in a bad state.
			writeErr("\nTry again after granting this application CAP_NET_ADMIN:\n\n\tsudo setcap 'cap_net_admin=eip' \"$(which %s)\"\n", os.Args[0])
		}
		return
	}
	defer release()

	s, err := session.Join(ctx, p, config.Realm, serializer, session.WithAuthenticator(auth))
	if err != nil {
		var abort *protocol.AbortError
		if errors.As(err, &abort) {
			writeErr("Router refused to join %s: %s", config.Realm, abort.Reason)
		} else {
			writeErr("Failed to join %s: %s", config.Realm, err)
		}
		return
	}
	defer s.Close()
	log.Info("Joined %s as %s (%s), session %d", s.Realm(), s.AuthID(), s.AuthRole(), s.ID())

	c := &client{session: s, peer: p, out: os.Stdout}
	if len(args) > 0 {
		status, _ = runCommand(c, args, commandTimeout)
	} else {
		status = runInteractiveShell(c, commandTimeout)
	}
}

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"

	"github.com/coder/websocket"
	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"
	"golang.org/x/term"

	"github.com/ehrlich-b/gangway/internal/gateway"
	"github.com/ehrlich-b/gangway/internal/hosts"
	"github.com/ehrlich-b/gangway/internal/protocol"
)

func attachCmd() *cobra.Command {
	var gatewayFlag string

	cmd := &cobra.Command{
		Use:   "attach [host]",
		Short: "Open an interactive terminal session through the gateway",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			host := hosts.Local
			if len(args) == 1 {
				host = args[0]
			}
			return runAttach(cmd.Context(), gatewayFlag, host)
		},
	}

	cmd.Flags().StringVar(&gatewayFlag, "gateway", "ws://127.0.0.1:8022", "gateway base URL")
	return cmd
}

func runAttach(ctx context.Context, base, host string) error {
	stdinFd := int(os.Stdin.Fd())
	cols, rows := 80, 24
	if term.IsTerminal(stdinFd) {
		if c, r, err := term.GetSize(stdinFd); err == nil {
			cols, rows = c, r
		}
	}

	conn, _, err := websocket.Dial(ctx, gateway.SessionURL(base, host, uint16(cols), uint16(rows)), nil)
	if err != nil {
		return fmt.Errorf("dial gateway: %w", err)
	}
	defer conn.CloseNow()
	conn.SetReadLimit(512 * 1024)

	var writeMu sync.Mutex
	send := func(typ websocket.MessageType, data []byte) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.Write(ctx, typ, data)
	}
	sendJSON := func(v any) error {
		data, err := json.Marshal(v)
		if err != nil {
			return err
		}
		return send(websocket.MessageText, data)
	}

	var rawState *term.State
	restore := func() {
		if rawState != nil {
			term.Restore(stdinFd, rawState)
			rawState = nil
		}
	}
	defer restore()

	pumpCtx, stopPumps := context.WithCancel(ctx)
	defer stopPumps()

	// The password dialogue happens in cooked mode; raw mode and the
	// stdin pump start only once the session is ready.
	startPumps := func() error {
		if term.IsTerminal(stdinFd) {
			st, err := term.MakeRaw(stdinFd)
			if err != nil {
				return fmt.Errorf("raw mode: %w", err)
			}
			rawState = st
		}

		go func() {
			buf := make([]byte, 4096)
			for {
				n, err := os.Stdin.Read(buf)
				if n > 0 {
					if err := send(websocket.MessageBinary, buf[:n]); err != nil {
						return
					}
				}
				if err != nil {
					return
				}
			}
		}()

		winch := make(chan os.Signal, 1)
		signal.Notify(winch, unix.SIGWINCH)
		go func() {
			defer signal.Stop(winch)
			for {
				select {
				case <-pumpCtx.Done():
					return
				case <-winch:
					if c, r, err := term.GetSize(stdinFd); err == nil {
						sendJSON(protocol.Resize{Type: protocol.TypeResize, Cols: c, Rows: r})
					}
				}
			}
		}()
		return nil
	}

	for {
		typ, frame, err := conn.Read(ctx)
		if err != nil {
			// Normal closure follows an exit frame; anything else is
			// the connection dropping.
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				return nil
			}
			return err
		}
		if typ == websocket.MessageBinary {
			os.Stdout.Write(frame)
			continue
		}

		env, ok := protocol.DecodeControl(frame)
		if !ok {
			continue
		}
		switch env.Type {
		case protocol.TypePasswordRequired:
			var req protocol.PasswordRequired
			if err := json.Unmarshal(frame, &req); err != nil {
				continue
			}
			answers, err := promptPasswords(stdinFd, req.Prompts)
			if err != nil {
				return err
			}
			if err := sendJSON(protocol.Password{
				Type:      protocol.TypePassword,
				Password:  answers[0],
				Responses: answers,
			}); err != nil {
				return err
			}

		case protocol.TypeReady:
			if err := startPumps(); err != nil {
				return err
			}

		case protocol.TypeExit:
			var msg protocol.Exit
			json.Unmarshal(frame, &msg)
			restore()
			fmt.Printf("\nsession ended (exit %d)\n", msg.Code)
			return nil

		case protocol.TypeError:
			var msg protocol.ErrorMsg
			json.Unmarshal(frame, &msg)
			restore()
			return errors.New(msg.Message)
		}
	}
}

func promptPasswords(fd int, prompts []protocol.Prompt) ([]string, error) {
	if len(prompts) == 0 {
		prompts = []protocol.Prompt{{Prompt: "Password:"}}
	}
	answers := make([]string, 0, len(prompts))
	for _, p := range prompts {
		fmt.Fprint(os.Stderr, p.Prompt+" ")
		if p.Echo {
			var line string
			if _, err := fmt.Scanln(&line); err != nil {
				return nil, err
			}
			answers = append(answers, line)
			continue
		}
		secret, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return nil, err
		}
		answers = append(answers, string(secret))
	}
	return answers, nil
}

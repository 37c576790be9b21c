package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/coder/websocket"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/ehrlich-b/shellgate/internal/gateway"
)

func attachCmd() *cobra.Command {
	var (
		shell string
		cwd   string
		id    string
	)

	cmd := &cobra.Command{
		Use:   "attach",
		Short: "Create (or reattach to) a session and stream an interactive terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, _ := cmd.Flags().GetString("addr")
			token, _ := cmd.Flags().GetString("token")

			sessionID := id
			if sessionID == "" {
				cols, rows := termSize()
				created, err := createSession(addr, token, shell, cwd, cols, rows)
				if err != nil {
					return fmt.Errorf("create session: %w", err)
				}
				sessionID = created
			}

			return runAttach(cmd.Context(), addr, token, sessionID)
		},
	}

	cmd.Flags().StringVar(&shell, "shell", "", "shell to run (new session only)")
	cmd.Flags().StringVar(&cwd, "cwd", "", "working directory (new session only)")
	cmd.Flags().StringVar(&id, "id", "", "attach to an existing session instead of creating one")

	return cmd
}

func termSize() (cols, rows uint16) {
	cols, rows = 80, 24
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		if w, h, err := term.GetSize(fd); err == nil {
			cols, rows = uint16(w), uint16(h)
		}
	}
	return
}

func createSession(addr, token, shell, cwd string, cols, rows uint16) (string, error) {
	req := gateway.CreateSessionRequest{Shell: shell, Cwd: cwd, Cols: cols, Rows: rows}
	data, _ := json.Marshal(req)

	httpReq, err := http.NewRequest(http.MethodPost, addr+"/api/v1/sessions", strings.NewReader(string(data)))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var out struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	if out.ID == "" {
		return "", fmt.Errorf("gateway did not return a session id (status %d)", resp.StatusCode)
	}
	return out.ID, nil
}

func runAttach(ctx context.Context, addr, token, sessionID string) error {
	wsURL := strings.Replace(addr, "http://", "ws://", 1)
	wsURL = strings.Replace(wsURL, "https://", "wss://", 1)
	wsURL += "/api/v1/sessions/" + sessionID + "/ws"

	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{HTTPHeader: header})
	if err != nil {
		return fmt.Errorf("dial %s: %w", wsURL, err)
	}
	defer conn.CloseNow()

	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		oldState, err := term.MakeRaw(fd)
		if err == nil {
			defer term.Restore(fd, oldState)
		}
	}

	winchCh := make(chan os.Signal, 1)
	signal.Notify(winchCh, syscall.SIGWINCH)
	defer signal.Stop(winchCh)
	go func() {
		for range winchCh {
			cols, rows := termSize()
			msg, _ := json.Marshal(gateway.ResizeMsg{Type: gateway.TypeResize, Cols: cols, Rows: rows})
			conn.Write(ctx, websocket.MessageText, msg)
		}
	}()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				return
			}
			var env gateway.Envelope
			if json.Unmarshal(data, &env) != nil {
				continue
			}
			switch env.Type {
			case gateway.TypeOutput:
				var out gateway.OutputMsg
				if json.Unmarshal(data, &out) == nil {
					os.Stdout.WriteString(out.Text)
				}
			case gateway.TypeExit:
				return
			}
		}
	}()

	go func() {
		buf := make([]byte, 4096)
		for {
			n, err := os.Stdin.Read(buf)
			if n > 0 {
				msg, _ := json.Marshal(gateway.InputMsg{Type: gateway.TypeInput, Data: string(buf[:n])})
				if werr := conn.Write(ctx, websocket.MessageText, msg); werr != nil {
					return
				}
			}
			if err != nil {
				return
			}
		}
	}()

	<-done
	return nil
}

package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

type sessionStatus struct {
	ID          string    `json:"id"`
	Shell       string    `json:"shell"`
	State       string    `json:"state"`
	CreatedAt   time.Time `json:"created_at"`
	Cwd         string    `json:"cwd"`
	LastCommand string    `json:"last_command"`
	Idle        bool      `json:"idle"`
	Subscribers int       `json:"subscribers"`
}

func listCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ps"},
		Short:   "List live sessions on the gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, _ := cmd.Flags().GetString("addr")
			token, _ := cmd.Flags().GetString("token")

			req, err := http.NewRequest(http.MethodGet, addr+"/api/v1/sessions", nil)
			if err != nil {
				return err
			}
			if token != "" {
				req.Header.Set("Authorization", "Bearer "+token)
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()

			var sessions []sessionStatus
			if err := json.NewDecoder(resp.Body).Decode(&sessions); err != nil {
				return fmt.Errorf("decode response: %w", err)
			}
			if len(sessions) == 0 {
				fmt.Println("no active sessions")
				return nil
			}
			for _, s := range sessions {
				idleFlag := ""
				if s.Idle {
					idleFlag = " idle"
				}
				fmt.Printf("%s  %-10s %-8s age=%s%s  subscribers=%d  cwd=%s\n",
					s.ID, s.Shell, s.State,
					humanize.Time(s.CreatedAt), idleFlag, s.Subscribers, s.Cwd)
			}
			return nil
		},
	}
}

func deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "kill <session-id>",
		Short: "Terminate a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, _ := cmd.Flags().GetString("addr")
			token, _ := cmd.Flags().GetString("token")

			req, err := http.NewRequest(http.MethodDelete, addr+"/api/v1/sessions/"+args[0], nil)
			if err != nil {
				return err
			}
			if token != "" {
				req.Header.Set("Authorization", "Bearer "+token)
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			if resp.StatusCode >= 400 {
				return fmt.Errorf("gateway returned %d", resp.StatusCode)
			}
			fmt.Printf("%s terminated\n", args[0])
			return nil
		},
	}
}

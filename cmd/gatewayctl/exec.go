package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

type execRequest struct {
	Shell      string `json:"shell,omitempty"`
	Cwd        string `json:"cwd,omitempty"`
	Command    string `json:"command"`
	TimeoutSec int    `json:"timeout_sec,omitempty"`
	Sandboxed  bool   `json:"sandboxed,omitempty"`
}

type execResponse struct {
	Success    bool   `json:"success"`
	Output     string `json:"output"`
	ExitCode   *int32 `json:"exit_code"`
	Cwd        string `json:"cwd"`
	TimedOut   bool   `json:"timed_out"`
	DurationMs int64  `json:"duration_ms"`
	Error      string `json:"error"`
}

func execCmd() *cobra.Command {
	var (
		shell     string
		cwd       string
		timeout   int
		sandboxed bool
	)

	cmd := &cobra.Command{
		Use:   "exec <command>",
		Short: "Run a single command in a throwaway session and print its output",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, _ := cmd.Flags().GetString("addr")
			token, _ := cmd.Flags().GetString("token")

			req := execRequest{
				Shell:      shell,
				Cwd:        cwd,
				Command:    strings.Join(args, " "),
				TimeoutSec: timeout,
				Sandboxed:  sandboxed,
			}
			resp, err := postJSON(addr, token, "/api/v1/execute", req)
			if err != nil {
				return err
			}
			fmt.Print(resp.Output)
			if resp.Error != "" {
				fmt.Fprintln(os.Stderr, resp.Error)
			}
			if resp.TimedOut {
				fmt.Fprintln(os.Stderr, "(command timed out)")
			}
			if resp.ExitCode != nil {
				os.Exit(int(*resp.ExitCode))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&shell, "shell", "", "shell to run (default: host default)")
	cmd.Flags().StringVar(&cwd, "cwd", "", "working directory")
	cmd.Flags().IntVar(&timeout, "timeout", 30, "command timeout in seconds")
	cmd.Flags().BoolVar(&sandboxed, "sandboxed", false, "reject path-traversal outside cwd")

	return cmd
}

func postJSON(addr, token, path string, body any) (execResponse, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return execResponse{}, err
	}
	req, err := http.NewRequest(http.MethodPost, addr+path, bytes.NewReader(data))
	if err != nil {
		return execResponse{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	client := &http.Client{Timeout: 2 * time.Minute}
	httpResp, err := client.Do(req)
	if err != nil {
		return execResponse{}, err
	}
	defer httpResp.Body.Close()

	var resp execResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return execResponse{}, fmt.Errorf("decode response: %w", err)
	}
	if httpResp.StatusCode >= 400 && resp.Error == "" {
		resp.Error = fmt.Sprintf("gateway returned %d", httpResp.StatusCode)
	}
	return resp, nil
}

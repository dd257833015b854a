package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

type client struct {
	BaseURL   string
	APIKey    string
	OutFormat string // "json" | "text"
	HTTP      *http.Client
}

func (c *client) do(method, path string, body []byte) (int, []byte, error) {
	url := strings.TrimRight(c.BaseURL, "/") + path
	req, err := http.NewRequest(method, url, bytes.NewReader(body))
	if err != nil {
		return 0, nil, err
	}
	if c.APIKey != "" {
		req.Header.Set("X-Admin-API-Key", c.APIKey)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, b, nil
}

func (c *client) print(status int, body []byte) {
	if c.OutFormat == "json" {
		var v any
		if json.Unmarshal(body, &v) == nil {
			p, _ := json.MarshalIndent(v, "", "  ")
			fmt.Println(string(p))
			return
		}
	}
	if len(body) > 0 {
		fmt.Println(string(body))
	} else {
		fmt.Printf("status=%d\n", status)
	}
}

func (c *client) call(method, path string, body []byte) error {
	status, b, err := c.do(method, path, body)
	if err != nil {
		return err
	}
	c.print(status, b)
	if status/100 != 2 {
		return fmt.Errorf("status=%d", status)
	}
	return nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func main() {
	var (
		baseURL = envOr("APPROVALD_ADMIN_URL", "http://localhost:8080")
		apiKey  = envOr("APPROVALD_ADMIN_KEY", "")
		out     = envOr("APPROVALD_OUT", "text")
	)

	root := &cobra.Command{
		Use:          "approvalctl",
		Short:        "Admin CLI for the approval service",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&baseURL, "url", baseURL, "admin API base URL (env APPROVALD_ADMIN_URL)")
	root.PersistentFlags().StringVar(&apiKey, "api-key", apiKey, "admin API key (env APPROVALD_ADMIN_KEY)")
	root.PersistentFlags().StringVar(&out, "out", out, "output format: json|text")

	cl := &client{HTTP: &http.Client{Timeout: 30 * time.Second}}
	root.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		cl.BaseURL, cl.APIKey, cl.OutFormat = baseURL, apiKey, out
	}

	root.AddCommand(
		pingCmd(cl),
		settingsCmd(cl),
		requestsCmd(cl),
		sweepCmd(cl),
		statsCmd(cl),
	)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func pingCmd(cl *client) *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Check service health",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cl.call("GET", "/healthz", nil)
		},
	}
}

func settingsCmd(cl *client) *cobra.Command {
	settings := &cobra.Command{
		Use:   "settings",
		Short: "Manage auto-approval settings",
	}

	settings.AddCommand(&cobra.Command{
		Use:   "get",
		Short: "Show the current settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cl.call("GET", "/v1/settings", nil)
		},
	})

	var file string
	setCmd := &cobra.Command{
		Use:   "set",
		Short: "Replace the settings from a JSON file (or stdin with -)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if file == "" {
				return fmt.Errorf("--file is required")
			}
			var b []byte
			var err error
			if file == "-" {
				b, err = io.ReadAll(os.Stdin)
			} else {
				b, err = os.ReadFile(file)
			}
			if err != nil {
				return err
			}
			return cl.call("PUT", "/v1/settings", b)
		},
	}
	setCmd.Flags().StringVarP(&file, "file", "f", "", "path to the settings JSON")
	settings.AddCommand(setCmd)

	for _, mode := range []struct {
		use, short string
		enabled    bool
	}{
		{"enable", "Turn auto-approval on", true},
		{"disable", "Turn auto-approval off", false},
	} {
		mode := mode
		settings.AddCommand(&cobra.Command{
			Use:   mode.use,
			Short: mode.short,
			RunE: func(cmd *cobra.Command, args []string) error {
				status, b, err := cl.do("GET", "/v1/settings", nil)
				if err != nil {
					return err
				}
				if status/100 != 2 {
					return fmt.Errorf("load settings: status=%d", status)
				}
				var v map[string]any
				if err := json.Unmarshal(b, &v); err != nil {
					return err
				}
				v["enabled"] = mode.enabled
				body, err := json.Marshal(v)
				if err != nil {
					return err
				}
				return cl.call("PUT", "/v1/settings", body)
			},
		})
	}

	return settings
}

func requestsCmd(cl *client) *cobra.Command {
	requests := &cobra.Command{
		Use:   "requests",
		Short: "Inspect and decide login requests",
	}

	var recent bool
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List pending requests",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/v1/requests"
			if recent {
				path = "/v1/requests/recent"
			}
			return cl.call("GET", path, nil)
		},
	}
	listCmd.Flags().BoolVar(&recent, "recent", false, "newest-first, created in the last 5m")
	requests.AddCommand(listCmd)

	requests.AddCommand(&cobra.Command{
		Use:   "get <request-id>",
		Short: "Show one request with its audit log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cl.call("GET", "/v1/requests/"+args[0], nil)
		},
	})

	for _, action := range []struct{ use, short string }{
		{"approve", "Approve a pending request"},
		{"reject", "Reject a pending request"},
	} {
		action := action
		var approverID, approverName, note string
		cmd := &cobra.Command{
			Use:   action.use + " <request-id>",
			Short: action.short,
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				if approverID == "" || approverName == "" {
					return fmt.Errorf("--approver-id and --approver-name are required")
				}
				body, err := json.Marshal(map[string]string{
					"approverId":   approverID,
					"approverName": approverName,
					"note":         note,
				})
				if err != nil {
					return err
				}
				return cl.call("POST", "/v1/requests/"+args[0]+"/"+action.use, body)
			},
		}
		cmd.Flags().StringVar(&approverID, "approver-id", "", "operator user ID")
		cmd.Flags().StringVar(&approverName, "approver-name", "", "operator display name")
		cmd.Flags().StringVar(&note, "note", "", "decision note")
		requests.AddCommand(cmd)
	}

	return requests
}

func sweepCmd(cl *client) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Trigger one approval sweep",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cl.call("POST", "/v1/sweep", []byte("{}"))
		},
	}
}

func statsCmd(cl *client) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show approval and scheduler statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cl.call("GET", "/v1/stats", nil)
		},
	}
}

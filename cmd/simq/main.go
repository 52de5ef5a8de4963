package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"
)

type client struct {
	baseURL    string
	httpClient *http.Client
}

type submitResp struct {
	TaskID  string `json:"task_id"`
	Message string `json:"message"`
}

type statusResp struct {
	Status  string         `json:"status"`
	Message string         `json:"message"`
	Result  map[string]int `json:"result"`
}

type profile struct {
	BaseURL string `yaml:"baseUrl"`
}

type ui struct {
	title func(a ...any) string
	ok    func(a ...any) string
	warn  func(a ...any) string
	err   func(a ...any) string
	dim   func(a ...any) string
}

func newUI() *ui {
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		color.NoColor = true
	}
	return &ui{
		title: color.New(color.FgHiCyan, color.Bold).SprintFunc(),
		ok:    color.New(color.FgGreen, color.Bold).SprintFunc(),
		warn:  color.New(color.FgYellow).SprintFunc(),
		err:   color.New(color.FgRed, color.Bold).SprintFunc(),
		dim:   color.New(color.FgHiBlack).SprintFunc(),
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func loadProfile() profile {
	home, err := os.UserHomeDir()
	if err != nil {
		return profile{}
	}
	data, err := os.ReadFile(filepath.Join(home, ".simq.yaml"))
	if err != nil {
		return profile{}
	}
	var p profile
	_ = yaml.Unmarshal(data, &p)
	return p
}

func (c *client) request(method, path string, body any, out any) (int, error) {
	var buf *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, err
		}
		buf = bytes.NewReader(b)
	} else {
		buf = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, c.baseURL+path, buf)
	if err != nil {
		return 0, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode response: %s", strings.TrimSpace(string(raw)))
		}
	}
	return resp.StatusCode, nil
}

func (c *client) status(id string) (int, statusResp, error) {
	var sr statusResp
	code, err := c.request(http.MethodGet, "/tasks/"+id, nil, &sr)
	return code, sr, err
}

func readCircuit(args []string) (string, error) {
	if len(args) == 0 || args[0] == "-" {
		b, err := io.ReadAll(os.Stdin)
		return string(b), err
	}
	b, err := os.ReadFile(args[0])
	return string(b), err
}

func printCounts(u *ui, counts map[string]int) {
	labels := make([]string, 0, len(counts))
	for k := range counts {
		labels = append(labels, k)
	}
	sort.Strings(labels)
	for _, label := range labels {
		fmt.Printf("  %s  %d\n", u.title(label), counts[label])
	}
}

func waitTerminal(c *client, u *ui, id string, timeout time.Duration) (statusResp, error) {
	s := spinner.New(spinner.CharSets[14], 120*time.Millisecond)
	s.Suffix = " waiting for result..."
	if term.IsTerminal(int(os.Stdout.Fd())) {
		s.Start()
		defer s.Stop()
	}
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		code, sr, err := c.status(id)
		if err != nil {
			return sr, err
		}
		if code == http.StatusNotFound {
			return sr, errors.New("task not found")
		}
		if sr.Status != "pending" {
			return sr, nil
		}
		time.Sleep(500 * time.Millisecond)
	}
	return statusResp{}, errors.New("timed out waiting for terminal state")
}

func main() {
	prof := loadProfile()
	defaultBase := getenv("SIMQ_BASE_URL", prof.BaseURL)
	if defaultBase == "" {
		defaultBase = "http://localhost:8080"
	}
	baseURL := defaultBase
	u := newUI()

	c := &client{httpClient: &http.Client{Timeout: 30 * time.Second}}

	root := &cobra.Command{
		Use:   "simq",
		Short: "simq CLI",
		Long:  "simq CLI for submitting circuits and polling execution results.",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			c.baseURL = strings.TrimSuffix(baseURL, "/")
		},
	}
	root.SilenceUsage = true
	root.PersistentFlags().StringVar(&baseURL, "base-url", baseURL, "Base URL of the simq API")

	var shots int
	var wait bool
	var waitTimeout time.Duration
	submitCmd := &cobra.Command{
		Use:   "submit [file|-]",
		Short: "Submit a QASM3 circuit for asynchronous execution",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			qc, err := readCircuit(args)
			if err != nil {
				return err
			}
			var sr submitResp
			code, err := c.request(http.MethodPost, "/tasks", map[string]any{"qc": qc, "shots": shots}, &sr)
			if err != nil {
				return err
			}
			if code != http.StatusAccepted {
				return fmt.Errorf("submission rejected (%d)", code)
			}
			fmt.Println(u.ok("submitted"), u.dim(sr.TaskID))
			if !wait {
				return nil
			}
			res, err := waitTerminal(c, u, sr.TaskID, waitTimeout)
			if err != nil {
				return err
			}
			if res.Status == "completed" {
				fmt.Println(u.ok("completed"))
				printCounts(u, res.Result)
				return nil
			}
			return fmt.Errorf("%s: %s", u.err("failed"), res.Message)
		},
	}
	submitCmd.Flags().IntVar(&shots, "shots", 0, "Shot count override (0 = server default)")
	submitCmd.Flags().BoolVar(&wait, "wait", false, "Poll until the task reaches a terminal state")
	submitCmd.Flags().DurationVar(&waitTimeout, "timeout", 5*time.Minute, "Maximum time to wait with --wait")

	statusCmd := &cobra.Command{
		Use:   "status <task-id>",
		Short: "Show the current state of a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			code, sr, err := c.status(args[0])
			if err != nil {
				return err
			}
			switch {
			case code == http.StatusNotFound:
				return errors.New("task not found")
			case sr.Status == "completed":
				fmt.Println(u.ok("completed"))
				printCounts(u, sr.Result)
			case sr.Status == "error":
				fmt.Println(u.err("error"), sr.Message)
			default:
				fmt.Println(u.warn("pending"), u.dim(sr.Message))
			}
			return nil
		},
	}

	var watchTimeout time.Duration
	watchCmd := &cobra.Command{
		Use:   "watch <task-id>...",
		Short: "Watch a set of tasks until all reach a terminal state",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			bar := progressbar.NewOptions(len(args),
				progressbar.OptionSetDescription("tasks"),
				progressbar.OptionClearOnFinish(),
			)
			done := make(map[string]bool, len(args))
			deadline := time.Now().Add(watchTimeout)
			for len(done) < len(args) && time.Now().Before(deadline) {
				for _, id := range args {
					if done[id] {
						continue
					}
					code, sr, err := c.status(id)
					if err != nil {
						return err
					}
					if code == http.StatusNotFound || sr.Status != "pending" {
						done[id] = true
						_ = bar.Add(1)
						status := sr.Status
						if code == http.StatusNotFound {
							status = "not-found"
						}
						fmt.Println(u.dim(id), status)
					}
				}
				time.Sleep(500 * time.Millisecond)
			}
			if len(done) < len(args) {
				return errors.New("timed out; some tasks still pending")
			}
			return nil
		},
	}
	watchCmd.Flags().DurationVar(&watchTimeout, "timeout", 10*time.Minute, "Maximum time to watch")

	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Show queue depth and task status counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			var out map[string]any
			code, err := c.request(http.MethodGet, "/admin/queue", nil, &out)
			if err != nil {
				return err
			}
			if code != http.StatusOK {
				return fmt.Errorf("queue stats failed (%d)", code)
			}
			b, _ := json.MarshalIndent(out, "", "  ")
			fmt.Println(string(b))
			return nil
		},
	}

	reconcileCmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Requeue orphaned PENDING tasks now",
		RunE: func(cmd *cobra.Command, args []string) error {
			var out map[string]any
			code, err := c.request(http.MethodPost, "/admin/reconcile", nil, &out)
			if err != nil {
				return err
			}
			if code != http.StatusOK {
				return fmt.Errorf("reconcile failed (%d)", code)
			}
			fmt.Println(u.ok("requeued"), out["requeued"])
			return nil
		},
	}

	root.AddCommand(submitCmd, statusCmd, watchCmd, queueCmd, reconcileCmd)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, u.err("error:"), err)
		os.Exit(1)
	}
}

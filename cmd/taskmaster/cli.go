package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"taskmaster/assistant"
	"taskmaster/board"
	"taskmaster/client"
	"taskmaster/domain"
)

const cliTimeout = 90 * time.Second

var askCmd = &cobra.Command{
	Use:   "ask [message]",
	Short: "Send a chat message to the assistant",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runAsk,
}

var boardCmd = &cobra.Command{
	Use:   "board",
	Short: "Show the board",
	RunE:  runBoard,
}

var moveCmd = &cobra.Command{
	Use:   "move [task-id] [status]",
	Short: "Move a task to another column",
	Args:  cobra.ExactArgs(2),
	RunE:  runMove,
}

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "List tasks straight from the task store",
	RunE:  runTasks,
}

var idempotencyKey string

func init() {
	askCmd.Flags().StringVar(&idempotencyKey, "idempotency-key", "", "Idempotency key (default: random)")
}

func runAsk(cmd *cobra.Command, args []string) error {
	key := idempotencyKey
	if key == "" {
		key = uuid.NewString()
	}
	body, err := sonic.Marshal(map[string]string{"message": strings.Join(args, " ")})
	if err != nil {
		return err
	}
	var reply assistant.Reply
	if err := callAPI(cmd.Context(), http.MethodPost, "/api/chat", body, map[string]string{"Idempotency-Key": key}, &reply); err != nil {
		return err
	}
	fmt.Println(reply.Text)
	if len(reply.FailedIDs) > 0 {
		fmt.Fprintf(os.Stderr, "failed: %s\n", strings.Join(reply.FailedIDs, ", "))
	}
	return nil
}

func runBoard(cmd *cobra.Command, args []string) error {
	var view board.View
	if err := callAPI(cmd.Context(), http.MethodGet, "/api/board", nil, nil, &view); err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "STATUS\tID\tTITLE\tPRIORITY\tDUE")
	for _, col := range view.Columns {
		for _, t := range col.Tasks {
			due := "-"
			if t.DueDate != nil {
				due = *t.DueDate
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", col.Status, t.ID, t.Title, t.Priority, due)
		}
	}
	w.Flush()
	fmt.Printf("revision %d\n", view.Revision)
	return nil
}

func runMove(cmd *cobra.Command, args []string) error {
	status, ok := domain.ParseStatus(args[1])
	if !ok {
		return fmt.Errorf("unknown status %q", args[1])
	}
	body, err := sonic.Marshal(map[string]string{"id": args[0], "status": string(status)})
	if err != nil {
		return err
	}
	var resp struct {
		Success  bool   `json:"success"`
		Revision uint64 `json:"revision"`
	}
	if err := callAPI(cmd.Context(), http.MethodPost, "/api/board/move", body, nil, &resp); err != nil {
		return err
	}
	fmt.Printf("moved %s to %s (revision %d)\n", args[0], status, resp.Revision)
	return nil
}

func runTasks(cmd *cobra.Command, args []string) error {
	store := client.New(apiAddr, apiToken, cliTimeout)
	tasks, err := store.List(cmd.Context())
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTITLE\tSTATUS\tPRIORITY\tCATEGORY")
	for _, t := range tasks {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", t.ID, t.Title, t.Status, t.Priority, t.Category)
	}
	return w.Flush()
}

func callAPI(ctx context.Context, method, path string, body []byte, headers map[string]string, out any) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, cliTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(apiAddr, "/")+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if apiToken != "" {
		req.Header.Set("Authorization", "Bearer "+apiToken)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to API: %w", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("API error (%d): %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	return sonic.Unmarshal(data, out)
}
